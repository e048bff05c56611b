package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var psCmd = &cobra.Command{
	Use:   "ps",
	Short: "Show the stack's containers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, projectDir, err := loadStack()
		if err != nil {
			return err
		}

		_, docker, err := newOrchestrator(st, "", projectDir)
		if err != nil {
			return err
		}
		defer docker.Close()

		containers, err := docker.ListContainers(cmd.Context())
		if err != nil {
			return err
		}
		if len(containers) == 0 {
			fmt.Printf("[berth] no containers for stack %q\n", st.Name)
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SERVICE\tINSTANCE\tCONTAINER\tSTATE\tSTATUS\tPORTS")
		for _, c := range containers {
			id := c.ID
			if len(id) > 12 {
				id = id[:12]
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				c.Service, c.Instance, id, c.State, c.Status, strings.Join(c.Ports, ", "))
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(psCmd)
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mostlydev/berth/internal/engine"
)

var (
	logsFollow bool
	logsTail   int
)

var logsCmd = &cobra.Command{
	Use:   "logs [service...]",
	Short: "Show container output for the stack or selected services",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, projectDir, err := loadStack()
		if err != nil {
			return err
		}
		for _, name := range args {
			if _, ok := st.Services[name]; !ok {
				return fmt.Errorf("unknown service %q", name)
			}
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

		var selected []engine.ContainerSummary
		for _, c := range containers {
			if len(args) == 0 || containsString(args, c.Service) {
				selected = append(selected, c)
			}
		}
		if len(selected) == 0 {
			return fmt.Errorf("no containers found for stack %q", st.Name)
		}

		opts := engine.LogOptions{
			Follow: logsFollow,
			Tail:   logsTail,
			Stdout: os.Stdout,
			Stderr: os.Stderr,
		}

		if !logsFollow {
			for _, c := range selected {
				if err := docker.Logs(cmd.Context(), c.ID, opts); err != nil {
					return err
				}
			}
			return nil
		}

		eg, ctx := errgroup.WithContext(cmd.Context())
		for _, c := range selected {
			c := c
			eg.Go(func() error {
				return docker.Logs(ctx, c.ID, opts)
			})
		}
		return eg.Wait()
	},
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func init() {
	logsCmd.Flags().BoolVar(&logsFollow, "follow", false, "Follow log output")
	logsCmd.Flags().IntVar(&logsTail, "tail", 0, "Show only the last N lines per container (0 = all)")
	rootCmd.AddCommand(logsCmd)
}

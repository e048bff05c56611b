package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mostlydev/berth/internal/runstate"
)

var downVolumes bool

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Stop and remove the stack's containers and networks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, projectDir, err := loadStack()
		if err != nil {
			return err
		}

		orch, docker, err := newOrchestrator(st, "", projectDir)
		if err != nil {
			return err
		}
		defer docker.Close()

		ctx := cmd.Context()
		if err := orch.Adopt(ctx); err != nil {
			return err
		}
		fmt.Printf("[berth] taking down stack %q\n", st.Name)
		if err := orch.Down(ctx, downVolumes); err != nil {
			return err
		}
		return runstate.Clear(projectDir)
	},
}

func init() {
	downCmd.Flags().BoolVar(&downVolumes, "volumes", false, "Also remove named volumes (external volumes are kept)")
	rootCmd.AddCommand(downCmd)
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop <service>",
	Short: "Stop one service and everything that depends on it",
	Args:  cobra.ExactArgs(1),
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
		fmt.Printf("[berth] stopping %s and its dependents\n", args[0])
		return orch.Stop(ctx, args[0])
	},
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

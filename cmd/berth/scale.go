package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mostlydev/berth/internal/runstate"
)

var scaleCmd = &cobra.Command{
	Use:   "scale <service>=<count> [service=count...]",
	Short: "Adjust the number of instances per service",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		targets := make(map[string]int, len(args))
		for _, arg := range args {
			name, countStr, ok := strings.Cut(arg, "=")
			if !ok {
				return fmt.Errorf("expected service=count, got %q", arg)
			}
			count, err := strconv.Atoi(countStr)
			if err != nil || count < 1 {
				return fmt.Errorf("bad count %q for service %q", countStr, name)
			}
			targets[name] = count
		}

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

		for _, name := range st.ServiceNames() {
			count, ok := targets[name]
			if !ok {
				continue
			}
			fmt.Printf("[berth] scaling %s to %d\n", name, count)
			if err := orch.Scale(ctx, name, count); err != nil {
				return err
			}
		}

		return runstate.Update(projectDir, st.Name, func(run *runstate.Run) error {
			for name, instances := range orch.Instances() {
				svc := runstate.Service{Scale: len(instances)}
				for _, inst := range instances {
					svc.Instances = append(svc.Instances, runstate.Instance{Name: inst.Name, ContainerID: inst.ContainerID})
				}
				run.Services[name] = svc
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(scaleCmd)
}

package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
)

var execCmd = &cobra.Command{
	Use:   "exec <service> <command> [args...]",
	Short: "Run a command inside a service's container",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, projectDir, err := loadStack()
		if err != nil {
			return err
		}
		service := args[0]
		if _, ok := st.Services[service]; !ok {
			return fmt.Errorf("unknown service %q", service)
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

		target := ""
		for _, c := range containers {
			if c.Service == service && c.State == "running" {
				target = c.ID
				break
			}
		}
		if target == "" {
			return fmt.Errorf("service %q has no running container", service)
		}

		// Interactive sessions are delegated to the docker CLI, which
		// handles TTY allocation and resize.
		dockerArgs := append([]string{"exec", "-it", target}, args[1:]...)
		dockerCmd := exec.CommandContext(cmd.Context(), "docker", dockerArgs...)
		dockerCmd.Stdin = os.Stdin
		dockerCmd.Stdout = os.Stdout
		dockerCmd.Stderr = os.Stderr
		return dockerCmd.Run()
	},
}

func init() {
	rootCmd.AddCommand(execCmd)
}

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mostlydev/berth/internal/engine"
	"github.com/mostlydev/berth/internal/orchestrator"
	"github.com/mostlydev/berth/internal/stack"
)

var (
	version = "dev"
	commit  = "none"
)

var stackFile string
var verbose bool

var rootCmd = &cobra.Command{
	Use:          "berth",
	Short:        "Bring up multi-service container stacks with health-gated ordering",
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogger(verbose)
	},
}

func init() {
	rootCmd.Version = fmt.Sprintf("%s (%s)", version, commit)
	rootCmd.PersistentFlags().StringVarP(&stackFile, "file", "f", "", "Path to berth.yml (default: ./berth.yml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

// loadStack parses the stack file and returns it with the absolute
// project directory it lives in.
func loadStack() (*stack.Stack, string, error) {
	path := stackFile
	if path == "" {
		path = "berth.yml"
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("open stack file: %w", err)
	}
	defer f.Close()

	st, err := stack.Parse(f)
	if err != nil {
		return nil, "", err
	}
	if st.Name == "" {
		abs, absErr := filepath.Abs(path)
		if absErr != nil {
			return nil, "", fmt.Errorf("resolve stack file path: %w", absErr)
		}
		st.Name = filepath.Base(filepath.Dir(abs))
	}

	projectDir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, "", fmt.Errorf("resolve project directory: %w", err)
	}
	return st, projectDir, nil
}

// newOrchestrator wires a stack to the local docker daemon.
func newOrchestrator(st *stack.Stack, runID, projectDir string) (*orchestrator.Orchestrator, *engine.Docker, error) {
	docker, err := engine.NewDocker(st, runID, projectDir)
	if err != nil {
		return nil, nil, err
	}
	orch, err := orchestrator.New(st, docker, log.Logger)
	if err != nil {
		docker.Close()
		return nil, nil, err
	}
	return orch, docker, nil
}

func isPortConflict(err error) bool {
	var portErr *stack.PortConflictError
	return errors.As(err, &portErr) || engine.IsPortConflict(err)
}

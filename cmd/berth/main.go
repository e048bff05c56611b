package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mostlydev/berth/internal/build"
	"github.com/mostlydev/berth/internal/graph"
	"github.com/mostlydev/berth/internal/orchestrator"
)

// Exit codes scripts can rely on.
const (
	exitCycle        = 2
	exitHealth       = 3
	exitBuild        = 4
	exitPortConflict = 5
)

func setupLogger(verbose bool) {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(level)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	rootCmd.SetContext(ctx)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var cycErr *graph.CyclicDependencyError
	if errors.As(err, &cycErr) {
		return exitCycle
	}
	var hcErr *orchestrator.HealthCheckTimeoutError
	if errors.As(err, &hcErr) {
		return exitHealth
	}
	var buildErr *build.BuildError
	if errors.As(err, &buildErr) {
		return exitBuild
	}
	if isPortConflict(err) {
		return exitPortConflict
	}
	return 1
}

// berthd is a small status sidecar: run it next to a stack and it serves
// a JSON view of every service's containers, aggregated the way berth
// sees them.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
)

func main() {
	cfg := loadConfig()

	if len(os.Args) > 1 && strings.TrimSpace(os.Args[1]) == "-healthcheck" {
		if err := runHealthcheck(cfg); err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(1)
		}
		return
	}

	if err := run(cfg); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

type config struct {
	Addr  string
	Stack string
}

func loadConfig() config {
	return config{
		Addr:  envOr("BERTHD_ADDR", ":8085"),
		Stack: envOr("BERTHD_STACK", ""),
	}
}

func run(cfg config) error {
	if cfg.Stack == "" {
		return fmt.Errorf("berthd: BERTHD_STACK is not set")
	}

	source, err := newDockerStatusSource(cfg.Stack)
	if err != nil {
		return fmt.Errorf("berthd: docker client: %w", err)
	}
	defer source.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newHandler(cfg.Stack, source),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "berthd listening on %s\n", cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func runHealthcheck(cfg config) error {
	if cfg.Stack == "" {
		return fmt.Errorf("berthd healthcheck: BERTHD_STACK is not set")
	}
	source, err := newDockerStatusSource(cfg.Stack)
	if err != nil {
		return fmt.Errorf("berthd healthcheck: docker client: %w", err)
	}
	defer source.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := source.Ping(ctx); err != nil {
		return fmt.Errorf("berthd healthcheck: docker ping failed: %w", err)
	}
	return nil
}

func envOr(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mostlydev/berth/internal/build"
	"github.com/mostlydev/berth/internal/runstate"
	"github.com/mostlydev/berth/internal/stack"
)

var (
	upDetach bool
	upBuild  bool
)

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Create and start the stack in dependency order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runUp(cmd.Context())
	},
}

func init() {
	upCmd.Flags().BoolVarP(&upDetach, "detach", "d", false, "Start the stack and return; restart policies are not supervised")
	upCmd.Flags().BoolVar(&upBuild, "build", false, "Build images for services with a build section before starting")
	rootCmd.AddCommand(upCmd)
}

func runUp(ctx context.Context) error {
	st, projectDir, err := loadStack()
	if err != nil {
		return err
	}

	if upBuild || anyMissingImage(st) {
		if err := buildServices(ctx, st, projectDir); err != nil {
			return err
		}
	}

	run := runstate.New(st.Name)
	orch, docker, err := newOrchestrator(st, run.RunID, projectDir)
	if err != nil {
		return err
	}
	defer docker.Close()

	fmt.Printf("[berth] bringing up stack %q\n", st.Name)
	if err := orch.Up(ctx); err != nil {
		return err
	}

	for name, instances := range orch.Instances() {
		svc := runstate.Service{Scale: len(instances)}
		for _, inst := range instances {
			svc.Instances = append(svc.Instances, runstate.Instance{Name: inst.Name, ContainerID: inst.ContainerID})
		}
		run.Services[name] = svc
	}
	if err := runstate.Save(projectDir, run); err != nil {
		return err
	}

	if upDetach {
		if names := restartPolicyServices(st); len(names) > 0 {
			fmt.Printf("[berth] warning: restart policies on %s are only enforced while berth runs in the foreground\n", strings.Join(names, ", "))
		}
		fmt.Printf("[berth] stack %q is up\n", st.Name)
		return nil
	}

	fmt.Printf("[berth] stack %q is up, press Ctrl-C to stop\n", st.Name)
	<-ctx.Done()

	// The signal context is done; tear down on a fresh one.
	downCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := orch.Down(downCtx, false); err != nil {
		return err
	}
	orch.Drain()
	return runstate.Clear(projectDir)
}

// buildServices builds every service that declares a build section and
// points it at the resulting tag. Dockerfile EXPOSE and HEALTHCHECK
// lines become defaults the stack file did not override.
func buildServices(ctx context.Context, st *stack.Stack, projectDir string) error {
	for _, name := range st.ServiceNames() {
		svc := st.Services[name]
		if svc.Build == nil {
			continue
		}
		log.Info().Str("service", name).Msg("building image")
		info, err := build.Run(ctx, st.Name, svc, projectDir)
		if err != nil {
			return err
		}
		svc.Image = build.ImageTag(st.Name, name)
		if svc.HealthCheck == nil && info.HealthCheck != nil {
			svc.HealthCheck = info.HealthCheck
		}
		if len(svc.Expose) == 0 {
			svc.Expose = append(svc.Expose, info.Expose...)
		}
	}
	return nil
}

// restartPolicyServices names the services whose restart policy needs a
// supervising process.
func restartPolicyServices(st *stack.Stack) []string {
	var names []string
	for _, name := range st.ServiceNames() {
		if st.Services[name].Restart != stack.RestartNo {
			names = append(names, name)
		}
	}
	return names
}

func anyMissingImage(st *stack.Stack) bool {
	for _, svc := range st.Services {
		if svc.Image == "" && svc.Build != nil {
			return true
		}
	}
	return false
}

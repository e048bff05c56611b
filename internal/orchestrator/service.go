package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mostlydev/berth/internal/stack"
	"github.com/mostlydev/berth/internal/state"
)

// serviceRun tracks the live instances of one service.
type serviceRun struct {
	svc *stack.Service
	hc  *stack.HealthCheck

	mu        sync.Mutex
	instances []*instanceRun
	healthy   map[string]bool
}

// instanceRun is one container of a service. stopping marks an instance
// being removed on purpose, so its supervisor does not treat the exit as
// a crash.
type instanceRun struct {
	name     string
	id       string
	stopping bool
}

func instanceName(service string, index int) string {
	return fmt.Sprintf("%s-%d", service, index)
}

func (o *Orchestrator) runFor(svc *stack.Service, hc *stack.HealthCheck) *serviceRun {
	o.mu.Lock()
	defer o.mu.Unlock()
	run, ok := o.runs[svc.Name]
	if !ok {
		run = &serviceRun{svc: svc, hc: hc, healthy: make(map[string]bool)}
		o.runs[svc.Name] = run
	}
	return run
}

// startService creates and starts every instance of a service and hands
// each one to a supervisor. It does not wait for health.
func (o *Orchestrator) startService(ctx context.Context, svc *stack.Service) error {
	hc, err := o.resolveHealthCheck(ctx, svc)
	if err != nil {
		o.transition(svc.Name, state.StatusFailed, err.Error())
		o.setFailure(svc.Name, err)
		return err
	}

	run := o.runFor(svc, hc)
	o.transition(svc.Name, state.StatusStarting, "")
	o.log.Info().Str("service", svc.Name).Msg("starting")

	if _, err := o.startInstance(ctx, run, instanceName(svc.Name, 0)); err != nil {
		o.transition(svc.Name, state.StatusFailed, err.Error())
		o.setFailure(svc.Name, err)
		return err
	}

	if run.hc == nil {
		o.transition(svc.Name, state.StatusRunning, "")
	}
	return nil
}

// resolveHealthCheck prefers the stack file's healthcheck, falling back
// to the one baked into the image.
func (o *Orchestrator) resolveHealthCheck(ctx context.Context, svc *stack.Service) (*stack.HealthCheck, error) {
	if svc.HealthCheck != nil {
		if len(svc.HealthCheck.Test) == 0 {
			// test: NONE disables the image's check too.
			return nil, nil
		}
		return svc.HealthCheck, nil
	}
	if svc.Image == "" {
		return nil, nil
	}
	hc, err := o.rt.ImageHealthCheck(ctx, svc.Image)
	if err != nil {
		return nil, fmt.Errorf("service %q: %w", svc.Name, err)
	}
	return hc, nil
}

// startInstance creates and starts one container and spawns its
// supervisor goroutine.
func (o *Orchestrator) startInstance(ctx context.Context, run *serviceRun, inst string) (*instanceRun, error) {
	id, err := o.rt.CreateContainer(ctx, run.svc, inst)
	if err != nil {
		return nil, err
	}
	if err := o.rt.StartContainer(ctx, id); err != nil {
		if removeErr := o.rt.RemoveContainer(ctx, id); removeErr != nil {
			o.log.Warn().Str("instance", inst).Err(removeErr).Msg("cleanup after failed start")
		}
		return nil, err
	}
	o.log.Info().Str("service", run.svc.Name).Str("instance", inst).Str("container", shortID(id)).Msg("started")

	ir := &instanceRun{name: inst, id: id}
	run.mu.Lock()
	run.instances = append(run.instances, ir)
	run.mu.Unlock()

	o.wg.Add(1)
	go o.superviseInstance(ctx, run, ir)
	return ir, nil
}

// superviseInstance watches one container for the life of the stack. Each
// pass waits for the container to exit, then applies the service's
// restart policy. Health monitoring runs alongside the wait and is torn
// down with it.
func (o *Orchestrator) superviseInstance(ctx context.Context, run *serviceRun, ir *instanceRun) {
	defer o.wg.Done()
	svc := run.svc

	for {
		hcCtx, cancelHC := context.WithCancel(ctx)
		hcDone := make(chan struct{})
		if run.hc != nil {
			go func() {
				defer close(hcDone)
				o.monitorHealth(hcCtx, run, ir)
			}()
		} else {
			close(hcDone)
		}

		code, err := o.rt.WaitExit(ctx, ir.id)
		cancelHC()
		<-hcDone
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			o.log.Warn().Str("instance", ir.name).Err(err).Msg("exit wait failed")
			return
		}

		o.noteInstanceDown(run, ir)

		if o.instanceStopping(run, ir) {
			return
		}
		if rec, _ := o.store.Get(svc.Name); rec.OperatorStopped {
			o.transition(svc.Name, state.StatusStopped, "")
			return
		}

		if !shouldRestart(svc.Restart, code) {
			if code == 0 {
				o.log.Info().Str("service", svc.Name).Str("instance", ir.name).Msg("exited")
				o.transition(svc.Name, state.StatusStopped, "")
			} else {
				detail := fmt.Sprintf("exited with code %d", code)
				o.log.Warn().Str("service", svc.Name).Str("instance", ir.name).Int("code", code).Msg("exited")
				o.store.Transition(svc.Name, state.StatusFailed, func(r *state.Record) {
					r.ExitCode = code
					r.Detail = detail
				})
			}
			return
		}

		o.log.Info().Str("service", svc.Name).Str("instance", ir.name).Int("code", code).Msg("restarting")
		o.transition(svc.Name, state.StatusStarting, fmt.Sprintf("restarting after exit %d", code))

		select {
		case <-ctx.Done():
			return
		case <-time.After(o.RestartDelay):
		}

		if err := o.rt.StartContainer(ctx, ir.id); err != nil {
			o.transition(svc.Name, state.StatusFailed, err.Error())
			o.setFailure(svc.Name, err)
			return
		}
		if run.hc == nil {
			o.transition(svc.Name, state.StatusRunning, "")
		}
	}
}

// shouldRestart applies the restart policy to an observed exit.
func shouldRestart(policy stack.RestartPolicy, code int) bool {
	switch policy {
	case stack.RestartAlways, stack.RestartUnlessStopped:
		return true
	case stack.RestartOnFailure:
		return code != 0
	default:
		return false
	}
}

func (o *Orchestrator) instanceStopping(run *serviceRun, ir *instanceRun) bool {
	run.mu.Lock()
	defer run.mu.Unlock()
	return ir.stopping
}

// noteInstanceHealthy records a passing probe. The service turns healthy
// once every instance has a passing probe.
func (o *Orchestrator) noteInstanceHealthy(run *serviceRun, ir *instanceRun) {
	run.mu.Lock()
	run.healthy[ir.name] = true
	all := len(run.healthy) == len(run.instances)
	run.mu.Unlock()

	if all {
		if rec, _ := o.store.Get(run.svc.Name); rec.Status != state.StatusHealthy {
			o.log.Info().Str("service", run.svc.Name).Msg("healthy")
			o.transition(run.svc.Name, state.StatusHealthy, "")
		}
	}
}

// noteInstanceUnhealthy records an exhausted retry budget. gateErr is
// non-nil only when the instance never passed a probe.
func (o *Orchestrator) noteInstanceUnhealthy(run *serviceRun, ir *instanceRun, gateErr error) {
	run.mu.Lock()
	delete(run.healthy, ir.name)
	run.mu.Unlock()

	if gateErr != nil {
		o.setFailure(run.svc.Name, gateErr)
	}
	o.log.Warn().Str("service", run.svc.Name).Str("instance", ir.name).Msg("unhealthy")
	o.transition(run.svc.Name, state.StatusUnhealthy, fmt.Sprintf("instance %s failed health check", ir.name))
}

// noteInstanceDown clears health bookkeeping when a container exits.
func (o *Orchestrator) noteInstanceDown(run *serviceRun, ir *instanceRun) {
	run.mu.Lock()
	delete(run.healthy, ir.name)
	run.mu.Unlock()
}

// Scale adjusts a running service to n instances. Services publishing
// fixed host ports cannot scale past one instance, the extra copies
// would collide on the port.
func (o *Orchestrator) Scale(ctx context.Context, name string, n int) error {
	svc, ok := o.st.Services[name]
	if !ok {
		return fmt.Errorf("unknown service %q", name)
	}
	if n < 1 {
		return fmt.Errorf("service %q: scale must be at least 1", name)
	}
	if n > 1 && svc.HasFixedPorts() {
		return fmt.Errorf("service %q: cannot scale beyond 1, it publishes fixed host ports", name)
	}

	o.mu.Lock()
	run := o.runs[name]
	o.mu.Unlock()
	if run == nil {
		return fmt.Errorf("service %q is not running", name)
	}

	run.mu.Lock()
	cur := len(run.instances)
	run.mu.Unlock()

	for i := cur; i < n; i++ {
		if _, err := o.startInstance(ctx, run, instanceName(name, i)); err != nil {
			return err
		}
	}

	for i := cur - 1; i >= n; i-- {
		run.mu.Lock()
		ir := run.instances[i]
		ir.stopping = true
		run.instances = run.instances[:i]
		delete(run.healthy, ir.name)
		run.mu.Unlock()

		o.log.Info().Str("service", name).Str("instance", ir.name).Msg("scaling down")
		if err := o.rt.StopContainer(ctx, ir.id, svc.StopGracePeriod); err != nil {
			return err
		}
		if err := o.rt.RemoveContainer(ctx, ir.id); err != nil {
			return err
		}
	}
	return nil
}

func shortID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12]
}

// Package orchestrator brings a stack up and keeps it there: it launches
// services in dependency order, gates dependents on started/healthy
// conditions, supervises restarts, and tears everything down in reverse.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mostlydev/berth/internal/engine"
	"github.com/mostlydev/berth/internal/graph"
	"github.com/mostlydev/berth/internal/stack"
	"github.com/mostlydev/berth/internal/state"
)

// defaultRestartDelay is the pause between a supervised exit and the
// relaunch attempt.
const defaultRestartDelay = time.Second

// Orchestrator drives one stack against a container runtime.
type Orchestrator struct {
	st    *stack.Stack
	rt    engine.Runtime
	store *state.Store
	g     *graph.Graph
	log   zerolog.Logger

	// RestartDelay is how long a supervised service waits before a
	// relaunch. Exposed so tests can shrink it.
	RestartDelay time.Duration

	mu       sync.Mutex
	runs     map[string]*serviceRun
	failures map[string]error

	wg sync.WaitGroup
}

// New validates the stack's dependency graph and returns an orchestrator.
// A dependency cycle is reported here, before anything touches the
// runtime, as a *graph.CyclicDependencyError.
func New(st *stack.Stack, rt engine.Runtime, log zerolog.Logger) (*Orchestrator, error) {
	g := graph.New()
	for name := range st.Services {
		g.AddNode(name)
	}
	for name, svc := range st.Services {
		for dep := range svc.DependsOn {
			g.AddEdge(name, dep)
		}
	}
	if _, err := g.StartOrder(); err != nil {
		return nil, err
	}

	return &Orchestrator{
		st:           st,
		rt:           rt,
		store:        state.NewStore(st.ServiceNames()),
		g:            g,
		log:          log,
		RestartDelay: defaultRestartDelay,
		runs:         make(map[string]*serviceRun),
		failures:     make(map[string]error),
	}, nil
}

// Instance identifies one live container of a service.
type Instance struct {
	Name        string
	ContainerID string
}

// Instances reports the containers currently tracked per service.
func (o *Orchestrator) Instances() map[string][]Instance {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string][]Instance, len(o.runs))
	for name, run := range o.runs {
		run.mu.Lock()
		for _, ir := range run.instances {
			out[name] = append(out[name], Instance{Name: ir.name, ContainerID: ir.id})
		}
		run.mu.Unlock()
	}
	return out
}

// Store exposes the service state store, mainly for status reporting.
func (o *Orchestrator) Store() *state.Store { return o.store }

// Graph exposes the dependency graph.
func (o *Orchestrator) Graph() *graph.Graph { return o.g }

// Up creates networks and volumes, then launches every service. Services
// with no unmet dependencies start in parallel; the rest block until
// their depends_on conditions hold. Up returns once every service has
// settled (running or healthy), or with the first launch failure.
//
// Supervision goroutines started by Up stay alive until ctx is canceled;
// callers running in the foreground should cancel ctx and then call
// Drain before exiting.
func (o *Orchestrator) Up(ctx context.Context) error {
	for _, name := range o.st.SortedNetworkNames() {
		if err := o.rt.EnsureNetwork(ctx, o.st.Networks[name]); err != nil {
			return err
		}
		o.log.Debug().Str("network", name).Msg("network ready")
	}
	for _, name := range o.st.SortedVolumeNames() {
		if err := o.rt.EnsureVolume(ctx, o.st.Volumes[name]); err != nil {
			return err
		}
		o.log.Debug().Str("volume", name).Msg("volume ready")
	}

	eg, egctx := errgroup.WithContext(ctx)
	for _, name := range o.st.ServiceNames() {
		name := name
		eg.Go(func() error {
			// Supervisors outlive the launch phase, so they run on the
			// outer ctx; only the dependency wait is tied to egctx.
			return o.launch(ctx, egctx, name)
		})
	}
	return eg.Wait()
}

// Drain blocks until every supervision goroutine has returned.
func (o *Orchestrator) Drain() { o.wg.Wait() }

// launch waits for the service's dependency conditions, then starts it
// and waits for it to settle.
func (o *Orchestrator) launch(ctx, waitCtx context.Context, name string) error {
	svc := o.st.Services[name]

	if len(svc.DependsOn) > 0 {
		o.log.Info().Str("service", name).Msg("waiting on dependencies")
		if err := o.store.Wait(waitCtx, o.dependenciesReady(name, svc.DependsOn)); err != nil {
			// The service never started, so it stays pending.
			return o.abortedWait(name, svc.DependsOn, err)
		}
	}

	if err := o.startService(ctx, svc); err != nil {
		return err
	}
	return o.awaitSettled(waitCtx, name)
}

// dependenciesReady builds the wait predicate for one service. Every
// condition is re-evaluated on each state change, so the order in which
// dependencies become ready never matters. A stopped or failed
// dependency aborts the wait.
func (o *Orchestrator) dependenciesReady(name string, deps map[string]stack.Condition) func(state.Snapshot) (bool, error) {
	return func(snap state.Snapshot) (bool, error) {
		for dep, cond := range deps {
			rec := snap[dep]
			if rec.Status == state.StatusStopped || rec.Status == state.StatusFailed {
				return false, &DependencyError{Service: name, Dependency: dep, Reason: string(rec.Status)}
			}
			switch cond {
			case stack.ConditionHealthy:
				if rec.Status != state.StatusHealthy {
					return false, nil
				}
			default:
				if !rec.Status.Started() {
					return false, nil
				}
			}
		}
		return true, nil
	}
}

// abortedWait names the dependencies that kept a pending service from
// starting. A DependencyError from the predicate already carries the
// cause; a cancellation (another service failed the bring-up) does not,
// so the unmet dependencies are read from a snapshot.
func (o *Orchestrator) abortedWait(name string, deps map[string]stack.Condition, err error) error {
	var depErr *DependencyError
	if errors.As(err, &depErr) {
		o.log.Warn().Str("service", name).Str("dependency", depErr.Dependency).Str("reason", depErr.Reason).Msg("never started")
		return depErr
	}

	snap := o.store.Snapshot()
	var unmet []string
	for dep, cond := range deps {
		rec := snap[dep]
		if cond == stack.ConditionHealthy {
			if rec.Status != state.StatusHealthy {
				unmet = append(unmet, dep)
			}
		} else if !rec.Status.Started() {
			unmet = append(unmet, dep)
		}
	}
	sort.Strings(unmet)
	if len(unmet) == 0 {
		return err
	}
	o.log.Warn().Str("service", name).Strs("waiting_on", unmet).Msg("never started, dependencies not ready")
	return fmt.Errorf("service %q never started, waiting on %s: %w", name, strings.Join(unmet, ", "), err)
}

// awaitSettled blocks until the named service reaches running or healthy,
// or returns the recorded failure.
func (o *Orchestrator) awaitSettled(ctx context.Context, name string) error {
	return o.store.Wait(ctx, func(snap state.Snapshot) (bool, error) {
		switch snap[name].Status {
		case state.StatusRunning, state.StatusHealthy:
			return true, nil
		case state.StatusUnhealthy, state.StatusStopped, state.StatusFailed:
			return false, o.failureOf(name)
		}
		return false, nil
	})
}

// Down stops every service in reverse dependency order, removes the
// containers and networks, and removes named volumes when asked.
// External volumes are never touched.
func (o *Orchestrator) Down(ctx context.Context, removeVolumes bool) error {
	for _, name := range o.st.ServiceNames() {
		o.store.MarkOperatorStopped(name)
	}

	order, err := o.g.StopOrder()
	if err != nil {
		return err
	}
	for _, name := range order {
		if err := o.stopService(ctx, name); err != nil {
			return err
		}
	}

	for _, name := range o.st.SortedNetworkNames() {
		if err := o.rt.RemoveNetwork(ctx, name); err != nil {
			return err
		}
	}
	if removeVolumes {
		for _, name := range o.st.SortedVolumeNames() {
			if err := o.rt.RemoveVolume(ctx, name); err != nil {
				return err
			}
		}
	}
	return nil
}

// Stop stops one service and, first, every service that transitively
// depends on it. Dependents blocked waiting on the service abort their
// wait.
func (o *Orchestrator) Stop(ctx context.Context, name string) error {
	if _, ok := o.st.Services[name]; !ok {
		return fmt.Errorf("unknown service %q", name)
	}

	targets := map[string]struct{}{name: {}}
	for _, dep := range o.g.TransitiveDependents(name) {
		targets[dep] = struct{}{}
	}
	for t := range targets {
		o.store.MarkOperatorStopped(t)
	}

	order, err := o.g.StopOrder()
	if err != nil {
		return err
	}
	for _, t := range order {
		if _, ok := targets[t]; !ok {
			continue
		}
		if err := o.stopService(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// stopService stops and removes every instance of one service, newest
// instance first.
func (o *Orchestrator) stopService(ctx context.Context, name string) error {
	o.mu.Lock()
	run := o.runs[name]
	o.mu.Unlock()
	if run == nil {
		return nil
	}
	svc := run.svc

	run.mu.Lock()
	instances := make([]*instanceRun, len(run.instances))
	copy(instances, run.instances)
	for _, ir := range instances {
		ir.stopping = true
	}
	run.mu.Unlock()

	for i := len(instances) - 1; i >= 0; i-- {
		ir := instances[i]
		o.log.Info().Str("service", name).Str("instance", ir.name).Msg("stopping")
		if err := o.rt.StopContainer(ctx, ir.id, svc.StopGracePeriod); err != nil {
			return err
		}
		if err := o.rt.RemoveContainer(ctx, ir.id); err != nil {
			return err
		}
	}

	if rec, ok := o.store.Get(name); ok && rec.Status != state.StatusStopped {
		o.transition(name, state.StatusStopped, "")
	}

	o.mu.Lock()
	delete(o.runs, name)
	o.mu.Unlock()
	return nil
}

// Adopt discovers stack containers left behind by a previous process and
// registers them, so Down and Stop can operate on a stack this process
// did not start.
func (o *Orchestrator) Adopt(ctx context.Context) error {
	sums, err := o.rt.ListContainers(ctx)
	if err != nil {
		return err
	}
	for _, c := range sums {
		svc, ok := o.st.Services[c.Service]
		if !ok {
			o.log.Warn().Str("service", c.Service).Msg("container for unknown service, skipping")
			continue
		}
		run := o.runFor(svc, nil)
		run.mu.Lock()
		run.instances = append(run.instances, &instanceRun{name: c.Instance, id: c.ID})
		run.mu.Unlock()

		if c.State == "running" {
			if rec, _ := o.store.Get(c.Service); rec.Status == state.StatusPending {
				o.transition(c.Service, state.StatusStarting, "")
				o.transition(c.Service, state.StatusRunning, "")
			}
		}
	}
	return nil
}

// transition applies a state change, logging rather than failing when the
// service already moved on.
func (o *Orchestrator) transition(name string, to state.Status, detail string) {
	err := o.store.Transition(name, to, func(r *state.Record) {
		if detail != "" {
			r.Detail = detail
		}
	})
	if err != nil {
		o.log.Debug().Str("service", name).Str("to", string(to)).Err(err).Msg("state transition skipped")
	}
}

func (o *Orchestrator) setFailure(name string, err error) {
	o.mu.Lock()
	if _, dup := o.failures[name]; !dup {
		o.failures[name] = err
	}
	o.mu.Unlock()
}

func (o *Orchestrator) failureOf(name string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err, ok := o.failures[name]; ok {
		return err
	}
	rec, _ := o.store.Get(name)
	return fmt.Errorf("service %q %s", name, rec.Status)
}

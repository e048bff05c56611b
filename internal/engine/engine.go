// Package engine abstracts the container runtime behind a small interface so
// the orchestrator can be driven against a fake in tests and against the
// Docker Engine API in production.
package engine

import (
	"context"
	"io"
	"time"

	"github.com/mostlydev/berth/internal/stack"
)

// Runtime is the container-runtime surface the orchestrator consumes.
type Runtime interface {
	// EnsureNetwork creates the stack-scoped network if it does not exist.
	EnsureNetwork(ctx context.Context, nw *stack.Network) error

	// RemoveNetwork removes a stack-scoped network.
	RemoveNetwork(ctx context.Context, name string) error

	// EnsureVolume creates a named volume if it does not exist. Volumes
	// outlive runs; Ensure is idempotent.
	EnsureVolume(ctx context.Context, vol *stack.Volume) error

	// RemoveVolume removes a named volume.
	RemoveVolume(ctx context.Context, name string) error

	// CreateContainer creates (but does not start) a container for one
	// instance of a service. instance is the expanded name, e.g. "web-1".
	CreateContainer(ctx context.Context, svc *stack.Service, instance string) (string, error)

	// StartContainer starts a created container.
	StartContainer(ctx context.Context, id string) error

	// StopContainer stops a running container within the grace period.
	StopContainer(ctx context.Context, id string, grace time.Duration) error

	// RemoveContainer force-removes a container.
	RemoveContainer(ctx context.Context, id string) error

	// Probe execs a health command inside a running container and returns
	// its exit code and combined output. A non-nil error means the probe
	// could not run at all, not that the service is unhealthy.
	Probe(ctx context.Context, id string, cmd []string) (ProbeResult, error)

	// WaitExit blocks until the container stops and returns its exit code.
	WaitExit(ctx context.Context, id string) (int, error)

	// ListContainers returns every container belonging to the stack,
	// running or not.
	ListContainers(ctx context.Context) ([]ContainerSummary, error)

	// Logs streams container output to the given writers.
	Logs(ctx context.Context, id string, opts LogOptions) error

	// ImageHealthCheck returns the HEALTHCHECK baked into an image, or nil
	// when the image declares none. Used as a fallback when the stack file
	// omits a healthcheck.
	ImageHealthCheck(ctx context.Context, imageRef string) (*stack.HealthCheck, error)

	// Close releases the runtime connection.
	Close() error
}

// ProbeResult is the outcome of one health probe execution.
type ProbeResult struct {
	ExitCode int
	Output   string
}

// OK reports whether the probe succeeded.
func (r ProbeResult) OK() bool { return r.ExitCode == 0 }

// ContainerSummary identifies one stack container found on the runtime.
type ContainerSummary struct {
	ID       string
	Service  string
	Instance string
	State    string // running, exited, created, ...
	Status   string // human text, e.g. "Up 3 minutes"
	Ports    []string
}

// LogOptions configures log streaming.
type LogOptions struct {
	Follow bool
	Tail   int // 0 = all
	Stdout io.Writer
	Stderr io.Writer
}

package stack

import "time"

// Stack represents a parsed berth.yml.
type Stack struct {
	Name     string
	Services map[string]*Service
	Networks map[string]*Network
	Volumes  map[string]*Volume
}

// Service represents a single service in a berth.yml.
type Service struct {
	Name            string
	Image           string
	Build           *Build
	Command         []string
	Environment     map[string]string
	Ports           []Port
	Expose          []string
	Mounts          []Mount
	Networks        []string
	DependsOn       map[string]Condition
	HealthCheck     *HealthCheck
	Restart         RestartPolicy
	StopGracePeriod time.Duration
}

// HasFixedPorts reports whether any port binding pins a host port.
// Services with fixed host ports cannot be scaled beyond one instance.
func (s *Service) HasFixedPorts() bool {
	for _, p := range s.Ports {
		if p.HostPort != 0 {
			return true
		}
	}
	return false
}

// Build describes how to build a service image from source.
type Build struct {
	Context    string
	Dockerfile string
	Args       map[string]string
}

// Port is a single host/container port binding.
type Port struct {
	HostIP        string
	HostPort      int // 0 = not published to a fixed host port
	ContainerPort int
	Protocol      string // "tcp" or "udp"
}

// Mount is a volume or bind mount on a service.
type Mount struct {
	Source   string // named volume or host path
	Target   string // container path
	ReadOnly bool
	Bind     bool // true = host bind path, false = named volume
}

// Condition gates a dependent's launch on a dependency's runtime state.
type Condition string

const (
	// ConditionStarted requires the dependency to have left pending.
	ConditionStarted Condition = "service_started"
	// ConditionHealthy requires the dependency's health check to have passed.
	ConditionHealthy Condition = "service_healthy"
)

// HealthCheck declares the probe run against a starting service.
type HealthCheck struct {
	Test        []string // exec-form command, run inside the container
	Interval    time.Duration
	Timeout     time.Duration
	Retries     int
	StartPeriod time.Duration
}

// RestartPolicy governs automatic relaunch after a service exits.
type RestartPolicy string

const (
	RestartNo            RestartPolicy = "no"
	RestartOnFailure     RestartPolicy = "on-failure"
	RestartUnlessStopped RestartPolicy = "unless-stopped"
	RestartAlways        RestartPolicy = "always"
)

// Network represents a stack-scoped network.
type Network struct {
	Name     string
	Driver   string // "bridge" or "host"
	Internal bool   // true = no external egress
}

// Volume represents a named volume whose lifecycle outlives a single run.
type Volume struct {
	Name     string
	External bool // managed outside berth, never removed by down
}

// DefaultNetwork is the network every service joins unless it lists others.
const DefaultNetwork = "default"

// Health check defaults, applied when the stack file omits them.
const (
	DefaultHealthInterval = 30 * time.Second
	DefaultHealthTimeout  = 30 * time.Second
	DefaultHealthRetries  = 3
)

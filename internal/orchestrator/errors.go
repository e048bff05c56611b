package orchestrator

import "fmt"

// HealthCheckTimeoutError means a service exhausted its health-check retry
// budget without ever reporting healthy. Dependents gated on
// service_healthy never start when this is returned.
type HealthCheckTimeoutError struct {
	Service    string
	Retries    int
	LastOutput string
}

func (e *HealthCheckTimeoutError) Error() string {
	if e.LastOutput == "" {
		return fmt.Sprintf("service %q failed health check after %d retries", e.Service, e.Retries)
	}
	return fmt.Sprintf("service %q failed health check after %d retries: %s", e.Service, e.Retries, e.LastOutput)
}

// DependencyError means a service could not start because one of its
// dependencies stopped or failed while the service was waiting on it.
type DependencyError struct {
	Service    string
	Dependency string
	Reason     string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("service %q: dependency %q %s", e.Service, e.Dependency, e.Reason)
}

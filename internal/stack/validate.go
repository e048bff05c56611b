package stack

import (
	"fmt"
	"sort"
)

// PortConflictError reports two services claiming the same fixed host port.
type PortConflictError struct {
	Service string
	Other   string
	Port    int
}

func (e *PortConflictError) Error() string {
	return fmt.Sprintf("service %q: host port %d already claimed by service %q", e.Service, e.Port, e.Other)
}

// validate checks cross-service invariants after parsing: dependency targets
// exist, network and named-volume references resolve, and no two services
// claim the same fixed host port.
func validate(st *Stack) error {
	names := st.ServiceNames()

	for _, name := range names {
		svc := st.Services[name]
		for dep := range svc.DependsOn {
			if dep == name {
				return fmt.Errorf("service %q: depends on itself", name)
			}
			if _, ok := st.Services[dep]; !ok {
				return fmt.Errorf("service %q: depends on unknown service %q", name, dep)
			}
		}
		for _, nw := range svc.Networks {
			if _, ok := st.Networks[nw]; !ok {
				return fmt.Errorf("service %q: references unknown network %q", name, nw)
			}
		}
		for _, mount := range svc.Mounts {
			if mount.Bind {
				continue
			}
			if _, ok := st.Volumes[mount.Source]; !ok {
				return fmt.Errorf("service %q: references undeclared volume %q", name, mount.Source)
			}
		}
	}

	for name, nw := range st.Networks {
		if nw.Driver != "bridge" && nw.Driver != "host" {
			return fmt.Errorf("network %q: unknown driver %q", name, nw.Driver)
		}
	}

	return checkHostPorts(st, names)
}

func checkHostPorts(st *Stack, names []string) error {
	type claim struct {
		service string
		port    int
		proto   string
	}
	claimed := make(map[string]claim)

	for _, name := range names {
		svc := st.Services[name]
		for _, p := range svc.Ports {
			if p.HostPort == 0 {
				continue
			}
			// An unspecified host IP binds all interfaces.
			ip := p.HostIP
			if ip == "" {
				ip = "0.0.0.0"
			}
			key := fmt.Sprintf("%s/%d/%s", ip, p.HostPort, p.Protocol)
			if prev, ok := claimed[key]; ok {
				return &PortConflictError{Service: name, Other: prev.service, Port: p.HostPort}
			}
			claimed[key] = claim{service: name, port: p.HostPort, proto: p.Protocol}
		}
	}
	return nil
}

// SortedNetworkNames returns network names in deterministic order.
func (s *Stack) SortedNetworkNames() []string {
	names := make([]string, 0, len(s.Networks))
	for name := range s.Networks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SortedVolumeNames returns volume names in deterministic order.
func (s *Stack) SortedVolumeNames() []string {
	names := make([]string, 0, len(s.Volumes))
	for name := range s.Volumes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

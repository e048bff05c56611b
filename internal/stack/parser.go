package stack

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// rawStack is the YAML deserialization target.
type rawStack struct {
	Name     string                 `yaml:"name"`
	Services map[string]rawService  `yaml:"services"`
	Networks map[string]*rawNetwork `yaml:"networks"`
	Volumes  map[string]*rawVolume  `yaml:"volumes"`
}

type rawService struct {
	Image           string            `yaml:"image"`
	Build           interface{}       `yaml:"build"`
	Command         interface{}       `yaml:"command"`
	Environment     interface{}       `yaml:"environment"`
	Ports           []interface{}     `yaml:"ports"`
	Expose          []interface{}     `yaml:"expose"`
	Volumes         []string          `yaml:"volumes"`
	Networks        []string          `yaml:"networks"`
	DependsOn       interface{}       `yaml:"depends_on"`
	HealthCheck     *rawHealthCheck   `yaml:"healthcheck"`
	Restart         string            `yaml:"restart"`
	StopGracePeriod string            `yaml:"stop_grace_period"`
	Labels          map[string]string `yaml:"labels"`
}

type rawBuild struct {
	Context    string            `yaml:"context"`
	Dockerfile string            `yaml:"dockerfile"`
	Args       map[string]string `yaml:"args"`
}

type rawHealthCheck struct {
	Test        interface{} `yaml:"test"`
	Interval    string      `yaml:"interval"`
	Timeout     string      `yaml:"timeout"`
	Retries     int         `yaml:"retries"`
	StartPeriod string      `yaml:"start_period"`
	Disable     bool        `yaml:"disable"`
}

type rawDependsOn struct {
	Condition string `yaml:"condition"`
}

type rawNetwork struct {
	Driver   string `yaml:"driver"`
	Internal bool   `yaml:"internal"`
}

type rawVolume struct {
	External bool `yaml:"external"`
}

// Parse reads a berth.yml from the given reader.
func Parse(r io.Reader) (*Stack, error) {
	var raw rawStack
	decoder := yaml.NewDecoder(r)
	if err := decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse berth.yml: %w", err)
	}

	if len(raw.Services) == 0 {
		return nil, fmt.Errorf("berth.yml declares no services")
	}

	st := &Stack{
		Name:     raw.Name,
		Services: make(map[string]*Service, len(raw.Services)),
		Networks: make(map[string]*Network),
		Volumes:  make(map[string]*Volume),
	}

	for name, svc := range raw.Services {
		service, err := parseService(name, svc)
		if err != nil {
			return nil, fmt.Errorf("service %q: %w", name, err)
		}
		st.Services[name] = service
	}

	for name, nw := range raw.Networks {
		driver := "bridge"
		internal := false
		if nw != nil {
			if nw.Driver != "" {
				driver = nw.Driver
			}
			internal = nw.Internal
		}
		st.Networks[name] = &Network{Name: name, Driver: driver, Internal: internal}
	}

	for name, vol := range raw.Volumes {
		external := false
		if vol != nil {
			external = vol.External
		}
		st.Volumes[name] = &Volume{Name: name, External: external}
	}

	applyDefaultNetwork(st)

	if err := validate(st); err != nil {
		return nil, err
	}

	return st, nil
}

func parseService(name string, raw rawService) (*Service, error) {
	service := &Service{
		Name:    name,
		Image:   raw.Image,
		Restart: RestartNo,
	}

	build, err := parseBuild(raw.Build)
	if err != nil {
		return nil, err
	}
	service.Build = build

	if service.Image == "" && service.Build == nil {
		return nil, fmt.Errorf("needs either image: or build:")
	}

	cmd, err := parseCommand(raw.Command)
	if err != nil {
		return nil, err
	}
	service.Command = cmd

	env, err := parseEnvironment(raw.Environment)
	if err != nil {
		return nil, err
	}
	service.Environment = env

	ports, err := parsePorts(raw.Ports)
	if err != nil {
		return nil, err
	}
	service.Ports = ports

	expose, err := parseExpose(raw.Expose)
	if err != nil {
		return nil, err
	}
	service.Expose = expose

	mounts, err := parseMounts(raw.Volumes)
	if err != nil {
		return nil, err
	}
	service.Mounts = mounts

	deps, err := parseDependsOn(raw.DependsOn)
	if err != nil {
		return nil, err
	}
	service.DependsOn = deps

	hc, err := parseHealthCheck(raw.HealthCheck)
	if err != nil {
		return nil, err
	}
	service.HealthCheck = hc

	if raw.Restart != "" {
		policy := RestartPolicy(raw.Restart)
		switch policy {
		case RestartNo, RestartOnFailure, RestartUnlessStopped, RestartAlways:
			service.Restart = policy
		default:
			return nil, fmt.Errorf("unknown restart policy %q", raw.Restart)
		}
	}

	if raw.StopGracePeriod != "" {
		d, err := time.ParseDuration(raw.StopGracePeriod)
		if err != nil {
			return nil, fmt.Errorf("parse stop_grace_period: %w", err)
		}
		service.StopGracePeriod = d
	}

	if raw.Networks != nil {
		service.Networks = raw.Networks
	}

	return service, nil
}

func parseBuild(raw interface{}) (*Build, error) {
	if raw == nil {
		return nil, nil
	}
	switch v := raw.(type) {
	case string:
		return &Build{Context: v, Dockerfile: "Dockerfile"}, nil
	case map[string]interface{}:
		// Round-trip through yaml to reuse struct tags for the map form.
		encoded, err := yaml.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("parse build: %w", err)
		}
		var rb rawBuild
		if err := yaml.Unmarshal(encoded, &rb); err != nil {
			return nil, fmt.Errorf("parse build: %w", err)
		}
		if rb.Context == "" {
			rb.Context = "."
		}
		if rb.Dockerfile == "" {
			rb.Dockerfile = "Dockerfile"
		}
		return &Build{Context: rb.Context, Dockerfile: rb.Dockerfile, Args: rb.Args}, nil
	default:
		return nil, fmt.Errorf("unsupported build value type %T", raw)
	}
}

func parseCommand(raw interface{}) ([]string, error) {
	if raw == nil {
		return nil, nil
	}
	switch v := raw.(type) {
	case string:
		return []string{"/bin/sh", "-c", v}, nil
	case []interface{}:
		out := make([]string, 0, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("command entry %d: expected string, got %T", i, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported command value type %T", raw)
	}
}

// parseEnvironment accepts both the map form and the "KEY=value" list form.
func parseEnvironment(raw interface{}) (map[string]string, error) {
	if raw == nil {
		return nil, nil
	}
	out := make(map[string]string)
	switch v := raw.(type) {
	case map[string]interface{}:
		for key, val := range v {
			out[key] = scalarString(val)
		}
	case []interface{}:
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("environment entry %d: expected string, got %T", i, item)
			}
			key, value, _ := strings.Cut(s, "=")
			if key == "" {
				return nil, fmt.Errorf("environment entry %d: empty key", i)
			}
			out[key] = value
		}
	default:
		return nil, fmt.Errorf("unsupported environment value type %T", raw)
	}
	return out, nil
}

// parsePorts accepts "8080:80", "127.0.0.1:8080:80", "80", and "80/udp"
// forms, plus bare integers.
func parsePorts(raw []interface{}) ([]Port, error) {
	if raw == nil {
		return nil, nil
	}
	out := make([]Port, 0, len(raw))
	for i, entry := range raw {
		spec := scalarString(entry)
		if spec == "" {
			return nil, fmt.Errorf("ports entry %d: empty", i)
		}
		port, err := parsePortSpec(spec)
		if err != nil {
			return nil, fmt.Errorf("ports entry %d: %w", i, err)
		}
		out = append(out, port)
	}
	return out, nil
}

func parsePortSpec(spec string) (Port, error) {
	port := Port{Protocol: "tcp"}

	if base, proto, ok := strings.Cut(spec, "/"); ok {
		if proto != "tcp" && proto != "udp" {
			return Port{}, fmt.Errorf("unknown protocol %q", proto)
		}
		port.Protocol = proto
		spec = base
	}

	parts := strings.Split(spec, ":")
	switch len(parts) {
	case 1:
		n, err := parsePortNumber(parts[0])
		if err != nil {
			return Port{}, err
		}
		port.ContainerPort = n
	case 2:
		host, err := parsePortNumber(parts[0])
		if err != nil {
			return Port{}, err
		}
		cont, err := parsePortNumber(parts[1])
		if err != nil {
			return Port{}, err
		}
		port.HostPort = host
		port.ContainerPort = cont
	case 3:
		port.HostIP = parts[0]
		host, err := parsePortNumber(parts[1])
		if err != nil {
			return Port{}, err
		}
		cont, err := parsePortNumber(parts[2])
		if err != nil {
			return Port{}, err
		}
		port.HostPort = host
		port.ContainerPort = cont
	default:
		return Port{}, fmt.Errorf("malformed port spec %q", spec)
	}

	return port, nil
}

func parsePortNumber(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("port %q is not a number", s)
	}
	if n < 1 || n > 65535 {
		return 0, fmt.Errorf("port %d out of range", n)
	}
	return n, nil
}

func parseExpose(raw []interface{}) ([]string, error) {
	if raw == nil {
		return nil, nil
	}
	out := make([]string, 0, len(raw))
	for i, port := range raw {
		s := scalarString(port)
		if s == "" {
			return nil, fmt.Errorf("expose entry %d: unsupported value type %T", i, port)
		}
		out = append(out, s)
	}
	return out, nil
}

// parseMounts accepts "name:/path", "./host:/path", and "src:/path:ro" forms.
// A source beginning with "/", "./", "../", or "~" is a bind mount; anything
// else is a named volume.
func parseMounts(raw []string) ([]Mount, error) {
	if raw == nil {
		return nil, nil
	}
	out := make([]Mount, 0, len(raw))
	for i, spec := range raw {
		parts := strings.Split(spec, ":")
		if len(parts) < 2 || len(parts) > 3 {
			return nil, fmt.Errorf("volumes entry %d: malformed mount %q", i, spec)
		}
		mount := Mount{Source: parts[0], Target: parts[1]}
		if len(parts) == 3 {
			switch parts[2] {
			case "ro":
				mount.ReadOnly = true
			case "rw":
			default:
				return nil, fmt.Errorf("volumes entry %d: unknown mount option %q", i, parts[2])
			}
		}
		if mount.Source == "" || !strings.HasPrefix(mount.Target, "/") {
			return nil, fmt.Errorf("volumes entry %d: malformed mount %q", i, spec)
		}
		mount.Bind = isBindSource(mount.Source)
		out = append(out, mount)
	}
	return out, nil
}

func isBindSource(source string) bool {
	return strings.HasPrefix(source, "/") ||
		strings.HasPrefix(source, "./") ||
		strings.HasPrefix(source, "../") ||
		strings.HasPrefix(source, "~")
}

// parseDependsOn accepts the list shorthand (condition defaults to
// service_started) and the map form with explicit conditions.
func parseDependsOn(raw interface{}) (map[string]Condition, error) {
	if raw == nil {
		return nil, nil
	}
	out := make(map[string]Condition)
	switch v := raw.(type) {
	case []interface{}:
		for i, item := range v {
			name, ok := item.(string)
			if !ok || name == "" {
				return nil, fmt.Errorf("depends_on entry %d: expected service name", i)
			}
			out[name] = ConditionStarted
		}
	case map[string]interface{}:
		for name, entry := range v {
			cond, err := parseDependsEntry(entry)
			if err != nil {
				return nil, fmt.Errorf("depends_on %q: %w", name, err)
			}
			out[name] = cond
		}
	default:
		return nil, fmt.Errorf("unsupported depends_on value type %T", raw)
	}
	return out, nil
}

func parseDependsEntry(entry interface{}) (Condition, error) {
	if entry == nil {
		return ConditionStarted, nil
	}
	m, ok := entry.(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("expected condition map, got %T", entry)
	}
	raw, ok := m["condition"]
	if !ok {
		return ConditionStarted, nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("condition must be a string")
	}
	switch Condition(s) {
	case ConditionStarted, ConditionHealthy:
		return Condition(s), nil
	default:
		return "", fmt.Errorf("unknown condition %q", s)
	}
}

func parseHealthCheck(raw *rawHealthCheck) (*HealthCheck, error) {
	if raw == nil {
		return nil, nil
	}
	if raw.Disable {
		// Empty Test also suppresses the image's baked-in check.
		return &HealthCheck{}, nil
	}

	test, err := parseHealthTest(raw.Test)
	if err != nil {
		return nil, err
	}
	if test == nil {
		if raw.Test != nil {
			// test: NONE
			return &HealthCheck{}, nil
		}
		return nil, nil
	}

	hc := &HealthCheck{
		Test:     test,
		Interval: DefaultHealthInterval,
		Timeout:  DefaultHealthTimeout,
		Retries:  DefaultHealthRetries,
	}
	if raw.Interval != "" {
		if hc.Interval, err = time.ParseDuration(raw.Interval); err != nil {
			return nil, fmt.Errorf("parse healthcheck interval: %w", err)
		}
	}
	if raw.Timeout != "" {
		if hc.Timeout, err = time.ParseDuration(raw.Timeout); err != nil {
			return nil, fmt.Errorf("parse healthcheck timeout: %w", err)
		}
	}
	if raw.StartPeriod != "" {
		if hc.StartPeriod, err = time.ParseDuration(raw.StartPeriod); err != nil {
			return nil, fmt.Errorf("parse healthcheck start_period: %w", err)
		}
	}
	if raw.Retries > 0 {
		hc.Retries = raw.Retries
	}
	return hc, nil
}

// parseHealthTest accepts ["CMD", ...], ["CMD-SHELL", "..."], ["NONE"], and
// the bare string shorthand (treated as CMD-SHELL).
func parseHealthTest(raw interface{}) ([]string, error) {
	if raw == nil {
		return nil, nil
	}
	switch v := raw.(type) {
	case string:
		return []string{"/bin/sh", "-c", v}, nil
	case []interface{}:
		if len(v) == 0 {
			return nil, fmt.Errorf("healthcheck test is empty")
		}
		parts := make([]string, 0, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("healthcheck test entry %d: expected string, got %T", i, item)
			}
			parts = append(parts, s)
		}
		switch parts[0] {
		case "NONE":
			return nil, nil
		case "CMD":
			if len(parts) < 2 {
				return nil, fmt.Errorf("healthcheck CMD requires a command")
			}
			return parts[1:], nil
		case "CMD-SHELL":
			if len(parts) != 2 {
				return nil, fmt.Errorf("healthcheck CMD-SHELL requires exactly one command string")
			}
			return []string{"/bin/sh", "-c", parts[1]}, nil
		default:
			return nil, fmt.Errorf("healthcheck test must start with CMD, CMD-SHELL, or NONE")
		}
	default:
		return nil, fmt.Errorf("unsupported healthcheck test value type %T", raw)
	}
}

// applyDefaultNetwork joins every service without explicit networks to the
// default network, creating it if the file does not declare one.
func applyDefaultNetwork(st *Stack) {
	needsDefault := false
	for _, svc := range st.Services {
		if len(svc.Networks) == 0 {
			svc.Networks = []string{DefaultNetwork}
			needsDefault = true
		}
	}
	if needsDefault {
		if _, ok := st.Networks[DefaultNetwork]; !ok {
			st.Networks[DefaultNetwork] = &Network{Name: DefaultNetwork, Driver: "bridge"}
		}
	}
}

func scalarString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	case uint64:
		return strconv.FormatUint(s, 10)
	case bool:
		return strconv.FormatBool(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return ""
	}
}

// ServiceNames returns service names in deterministic order.
func (s *Stack) ServiceNames() []string {
	names := make([]string, 0, len(s.Services))
	for name := range s.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	"github.com/mostlydev/berth/internal/stack"
)

// Labels attached to every resource berth creates.
const (
	LabelStack    = "berth.stack"
	LabelService  = "berth.service"
	LabelInstance = "berth.instance"
	LabelRun      = "berth.run"
)

// Docker drives the Docker Engine API for one stack.
type Docker struct {
	cli        *client.Client
	st         *stack.Stack
	runID      string
	projectDir string // relative bind mount sources resolve against this
}

// NewDocker connects to the local Docker daemon using the standard
// environment (DOCKER_HOST etc.).
func NewDocker(st *stack.Stack, runID, projectDir string) (*Docker, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Docker{cli: cli, st: st, runID: runID, projectDir: projectDir}, nil
}

func (d *Docker) Close() error {
	return d.cli.Close()
}

// resourceName namespaces a network/volume/container name under the stack.
func (d *Docker) resourceName(name string) string {
	return fmt.Sprintf("berth_%s_%s", d.st.Name, name)
}

func (d *Docker) EnsureNetwork(ctx context.Context, nw *stack.Network) error {
	if nw.Driver == "host" {
		// The host network is the daemon's own; nothing to create.
		return nil
	}
	name := d.resourceName(nw.Name)

	if _, err := d.cli.NetworkInspect(ctx, name, types.NetworkInspectOptions{}); err == nil {
		return nil
	}

	_, err := d.cli.NetworkCreate(ctx, name, types.NetworkCreate{
		Driver:   nw.Driver,
		Internal: nw.Internal,
		Labels: map[string]string{
			LabelStack: d.st.Name,
			LabelRun:   d.runID,
		},
	})
	if err != nil {
		return fmt.Errorf("create network %q: %w", nw.Name, err)
	}
	return nil
}

func (d *Docker) RemoveNetwork(ctx context.Context, name string) error {
	if nw, ok := d.st.Networks[name]; ok && nw.Driver == "host" {
		return nil
	}
	if err := d.cli.NetworkRemove(ctx, d.resourceName(name)); err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("remove network %q: %w", name, err)
	}
	return nil
}

func (d *Docker) EnsureVolume(ctx context.Context, vol *stack.Volume) error {
	name := vol.Name
	if !vol.External {
		name = d.resourceName(vol.Name)
	}
	// VolumeCreate is idempotent for an existing name.
	_, err := d.cli.VolumeCreate(ctx, volume.CreateOptions{
		Name: name,
		Labels: map[string]string{
			LabelStack: d.st.Name,
		},
	})
	if err != nil {
		return fmt.Errorf("create volume %q: %w", vol.Name, err)
	}
	return nil
}

func (d *Docker) RemoveVolume(ctx context.Context, name string) error {
	if vol, ok := d.st.Volumes[name]; ok && vol.External {
		return nil
	}
	if err := d.cli.VolumeRemove(ctx, d.resourceName(name), false); err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("remove volume %q: %w", name, err)
	}
	return nil
}

func (d *Docker) CreateContainer(ctx context.Context, svc *stack.Service, instance string) (string, error) {
	name := d.resourceName(instance)

	// Replace leftovers from a previous run under the same name.
	if prev, err := d.cli.ContainerInspect(ctx, name); err == nil {
		if err := d.cli.ContainerRemove(ctx, prev.ID, container.RemoveOptions{Force: true}); err != nil {
			return "", fmt.Errorf("remove stale container %q: %w", name, err)
		}
	}

	exposed, bindings, err := portMaps(svc)
	if err != nil {
		return "", err
	}

	cfg := &container.Config{
		Image:        svc.Image,
		Cmd:          svc.Command,
		Env:          envList(svc.Environment),
		ExposedPorts: exposed,
		Labels: map[string]string{
			LabelStack:    d.st.Name,
			LabelService:  svc.Name,
			LabelInstance: instance,
			LabelRun:      d.runID,
		},
	}

	hostCfg := &container.HostConfig{
		Binds:        d.binds(svc),
		PortBindings: bindings,
		// Restart policies are enforced by the orchestrator, never by the
		// daemon, so exits are always observed and classified here.
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyDisabled},
	}

	var netCfg *network.NetworkingConfig
	if d.usesHostNetwork(svc) {
		hostCfg.NetworkMode = container.NetworkMode("host")
		cfg.ExposedPorts = nil
		hostCfg.PortBindings = nil
	} else {
		endpoints := make(map[string]*network.EndpointSettings, len(svc.Networks))
		for _, nwName := range svc.Networks {
			endpoints[d.resourceName(nwName)] = &network.EndpointSettings{
				Aliases: []string{svc.Name, instance},
			}
		}
		netCfg = &network.NetworkingConfig{EndpointsConfig: endpoints}
	}

	resp, err := d.cli.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, name)
	if err != nil {
		return "", fmt.Errorf("create container %q: %w", instance, err)
	}
	return resp.ID, nil
}

func (d *Docker) StartContainer(ctx context.Context, id string) error {
	if err := d.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("start container %s: %w", shortID(id), err)
	}
	return nil
}

func (d *Docker) StopContainer(ctx context.Context, id string, grace time.Duration) error {
	opts := container.StopOptions{}
	if grace > 0 {
		secs := int(grace.Seconds())
		opts.Timeout = &secs
	}
	if err := d.cli.ContainerStop(ctx, id, opts); err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("stop container %s: %w", shortID(id), err)
	}
	return nil
}

func (d *Docker) RemoveContainer(ctx context.Context, id string) error {
	if err := d.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("remove container %s: %w", shortID(id), err)
	}
	return nil
}

// Probe runs a health command inside the container and reports its exit
// code. Output is demultiplexed and combined, stdout first.
func (d *Docker) Probe(ctx context.Context, id string, cmd []string) (ProbeResult, error) {
	execID, err := d.cli.ContainerExecCreate(ctx, id, types.ExecConfig{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return ProbeResult{}, fmt.Errorf("exec create: %w", err)
	}

	resp, err := d.cli.ContainerExecAttach(ctx, execID.ID, types.ExecStartCheck{})
	if err != nil {
		return ProbeResult{}, fmt.Errorf("exec attach: %w", err)
	}
	defer resp.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	copyDone := make(chan error, 1)
	go func() {
		_, copyErr := stdcopy.StdCopy(&stdoutBuf, &stderrBuf, resp.Reader)
		copyDone <- copyErr
	}()

	select {
	case copyErr := <-copyDone:
		if copyErr != nil {
			return ProbeResult{}, fmt.Errorf("exec read: %w", copyErr)
		}
	case <-ctx.Done():
		resp.Close()
		return ProbeResult{}, ctx.Err()
	}

	inspect, err := d.cli.ContainerExecInspect(ctx, execID.ID)
	if err != nil {
		return ProbeResult{}, fmt.Errorf("exec inspect: %w", err)
	}

	output := strings.TrimSpace(stdoutBuf.String())
	if stderr := strings.TrimSpace(stderrBuf.String()); stderr != "" {
		if output != "" {
			output += "\n"
		}
		output += stderr
	}
	return ProbeResult{ExitCode: inspect.ExitCode, Output: output}, nil
}

func (d *Docker) WaitExit(ctx context.Context, id string) (int, error) {
	waitCh, errCh := d.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case resp := <-waitCh:
		if resp.Error != nil {
			return int(resp.StatusCode), fmt.Errorf("wait for container %s: %s", shortID(id), resp.Error.Message)
		}
		return int(resp.StatusCode), nil
	case err := <-errCh:
		return 0, fmt.Errorf("wait for container %s: %w", shortID(id), err)
	}
}

// ListContainers finds every container labeled for this stack, in any
// state, sorted by instance name.
func (d *Docker) ListContainers(ctx context.Context) ([]ContainerSummary, error) {
	args := filters.NewArgs(filters.Arg("label", LabelStack+"="+d.st.Name))
	list, err := d.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	out := make([]ContainerSummary, 0, len(list))
	for _, c := range list {
		summary := ContainerSummary{
			ID:       c.ID,
			Service:  c.Labels[LabelService],
			Instance: c.Labels[LabelInstance],
			State:    c.State,
			Status:   c.Status,
		}
		for _, p := range c.Ports {
			if p.PublicPort == 0 {
				summary.Ports = append(summary.Ports, fmt.Sprintf("%d/%s", p.PrivatePort, p.Type))
				continue
			}
			ip := p.IP
			if ip == "" {
				ip = "0.0.0.0"
			}
			summary.Ports = append(summary.Ports, fmt.Sprintf("%s:%d->%d/%s", ip, p.PublicPort, p.PrivatePort, p.Type))
		}
		out = append(out, summary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instance < out[j].Instance })
	return out, nil
}

func (d *Docker) Logs(ctx context.Context, id string, opts LogOptions) error {
	logOpts := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     opts.Follow,
	}
	if opts.Tail > 0 {
		logOpts.Tail = strconv.Itoa(opts.Tail)
	}

	reader, err := d.cli.ContainerLogs(ctx, id, logOpts)
	if err != nil {
		return fmt.Errorf("container logs %s: %w", shortID(id), err)
	}
	defer reader.Close()

	info, err := d.cli.ContainerInspect(ctx, id)
	if err == nil && info.Config != nil && info.Config.Tty {
		_, err = io.Copy(opts.Stdout, reader)
		return err
	}

	_, err = stdcopy.StdCopy(opts.Stdout, opts.Stderr, reader)
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

// ImageHealthCheck converts an image's baked-in HEALTHCHECK to the stack
// form. Returns nil when the image declares none or disables it.
func (d *Docker) ImageHealthCheck(ctx context.Context, imageRef string) (*stack.HealthCheck, error) {
	inspect, _, err := d.cli.ImageInspectWithRaw(ctx, imageRef)
	if err != nil {
		return nil, fmt.Errorf("inspect image %q: %w", imageRef, err)
	}
	if inspect.Config == nil || inspect.Config.Healthcheck == nil {
		return nil, nil
	}

	raw := inspect.Config.Healthcheck
	if len(raw.Test) == 0 || raw.Test[0] == "NONE" {
		return nil, nil
	}

	hc := &stack.HealthCheck{
		Interval: stack.DefaultHealthInterval,
		Timeout:  stack.DefaultHealthTimeout,
		Retries:  stack.DefaultHealthRetries,
	}
	switch raw.Test[0] {
	case "CMD":
		hc.Test = raw.Test[1:]
	case "CMD-SHELL":
		if len(raw.Test) < 2 {
			return nil, nil
		}
		hc.Test = []string{"/bin/sh", "-c", raw.Test[1]}
	default:
		return nil, nil
	}
	if len(hc.Test) == 0 {
		return nil, nil
	}
	if raw.Interval > 0 {
		hc.Interval = raw.Interval
	}
	if raw.Timeout > 0 {
		hc.Timeout = raw.Timeout
	}
	if raw.Retries > 0 {
		hc.Retries = raw.Retries
	}
	if raw.StartPeriod > 0 {
		hc.StartPeriod = raw.StartPeriod
	}
	return hc, nil
}

// IsPortConflict reports whether a container start failed because a host
// port was taken.
func IsPortConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "port is already allocated") ||
		strings.Contains(msg, "address already in use")
}

func (d *Docker) usesHostNetwork(svc *stack.Service) bool {
	for _, name := range svc.Networks {
		if nw, ok := d.st.Networks[name]; ok && nw.Driver == "host" {
			return true
		}
	}
	return false
}

func (d *Docker) binds(svc *stack.Service) []string {
	out := make([]string, 0, len(svc.Mounts))
	for _, m := range svc.Mounts {
		source := m.Source
		if m.Bind {
			if !filepath.IsAbs(source) {
				source = filepath.Join(d.projectDir, source)
			}
		} else {
			vol, ok := d.st.Volumes[m.Source]
			if !ok || !vol.External {
				source = d.resourceName(m.Source)
			}
		}
		bind := source + ":" + m.Target
		if m.ReadOnly {
			bind += ":ro"
		}
		out = append(out, bind)
	}
	return out
}

func portMaps(svc *stack.Service) (nat.PortSet, nat.PortMap, error) {
	exposed := nat.PortSet{}
	bindings := nat.PortMap{}

	for _, p := range svc.Ports {
		port, err := nat.NewPort(p.Protocol, strconv.Itoa(p.ContainerPort))
		if err != nil {
			return nil, nil, fmt.Errorf("service %q: port %d: %w", svc.Name, p.ContainerPort, err)
		}
		exposed[port] = struct{}{}
		if p.HostPort != 0 {
			bindings[port] = append(bindings[port], nat.PortBinding{
				HostIP:   p.HostIP,
				HostPort: strconv.Itoa(p.HostPort),
			})
		}
	}

	for _, e := range svc.Expose {
		proto := "tcp"
		spec := e
		if base, p, ok := strings.Cut(e, "/"); ok {
			spec, proto = base, p
		}
		port, err := nat.NewPort(proto, spec)
		if err != nil {
			return nil, nil, fmt.Errorf("service %q: expose %q: %w", svc.Name, e, err)
		}
		exposed[port] = struct{}{}
	}

	if len(exposed) == 0 {
		exposed = nil
	}
	if len(bindings) == 0 {
		bindings = nil
	}
	return exposed, bindings, nil
}

func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

func shortID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12]
}

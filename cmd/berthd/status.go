package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
)

type serviceStatus struct {
	Service     string `json:"service"`
	Status      string `json:"status"`
	State       string `json:"state"`
	Health      string `json:"health,omitempty"`
	Uptime      string `json:"uptime"`
	ContainerID string `json:"containerId,omitempty"`
	Instances   int    `json:"instances"`
	Running     int    `json:"running"`
}

type dockerStatusSource struct {
	stack string
	cli   *client.Client
	now   func() time.Time
}

type instance struct {
	id        string
	status    string
	state     string
	health    string
	startedAt time.Time
	running   bool
}

func newDockerStatusSource(stack string) (*dockerStatusSource, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	return &dockerStatusSource{
		stack: stack,
		cli:   cli,
		now:   time.Now,
	}, nil
}

func (d *dockerStatusSource) Close() error {
	return d.cli.Close()
}

func (d *dockerStatusSource) Ping(ctx context.Context) error {
	_, err := d.cli.Ping(ctx)
	return err
}

// Snapshot groups the stack's containers by service and aggregates each
// group, worst status first.
func (d *dockerStatusSource) Snapshot(ctx context.Context) (map[string]serviceStatus, error) {
	args := filters.NewArgs(filters.Arg("label", "berth.stack="+d.stack))
	containers, err := d.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: args,
	})
	if err != nil {
		return nil, err
	}

	buckets := make(map[string][]instance)
	for _, c := range containers {
		serviceName := strings.TrimSpace(c.Labels["berth.service"])
		if serviceName == "" {
			continue
		}
		inspect, err := d.cli.ContainerInspect(ctx, c.ID)
		if err != nil {
			continue
		}
		buckets[serviceName] = append(buckets[serviceName], containerToInstance(inspect))
	}

	now := d.now()
	out := make(map[string]serviceStatus, len(buckets))
	for serviceName, instances := range buckets {
		out[serviceName] = aggregateInstances(serviceName, instances, now)
	}
	return out, nil
}

func containerToInstance(info types.ContainerJSON) instance {
	state := "unknown"
	health := ""
	running := false
	startedAt := time.Time{}

	if info.ContainerJSONBase != nil && info.State != nil {
		state = strings.ToLower(strings.TrimSpace(info.State.Status))
		running = info.State.Running
		if info.State.Health != nil {
			health = strings.ToLower(strings.TrimSpace(info.State.Health.Status))
		}
		if started := strings.TrimSpace(info.State.StartedAt); started != "" {
			if ts, err := time.Parse(time.RFC3339Nano, started); err == nil {
				startedAt = ts
			}
		}
	}

	return instance{
		id:        info.ID,
		status:    normalizeStatus(state, running, health),
		state:     state,
		health:    health,
		startedAt: startedAt,
		running:   running,
	}
}

func aggregateInstances(service string, instances []instance, now time.Time) serviceStatus {
	sort.Slice(instances, func(i, j int) bool {
		return statusSeverity(instances[i].status) > statusSeverity(instances[j].status)
	})
	worst := instances[0]

	running := 0
	longest := time.Duration(0)
	for _, inst := range instances {
		if inst.running {
			running++
			if !inst.startedAt.IsZero() {
				if dur := now.Sub(inst.startedAt); dur > longest {
					longest = dur
				}
			}
		}
	}

	uptime := "-"
	if longest > 0 {
		uptime = formatDuration(longest)
	}

	return serviceStatus{
		Service:     service,
		Status:      worst.status,
		State:       worst.state,
		Health:      worst.health,
		Uptime:      uptime,
		ContainerID: shortID(worst.id),
		Instances:   len(instances),
		Running:     running,
	}
}

func normalizeStatus(state string, running bool, health string) string {
	if running {
		if health == "healthy" || health == "unhealthy" || health == "starting" {
			return health
		}
		return "running"
	}

	switch state {
	case "restarting", "created", "paused":
		return "starting"
	case "dead", "exited", "removing", "":
		return "stopped"
	default:
		return state
	}
}

func statusSeverity(status string) int {
	switch status {
	case "healthy":
		return 0
	case "running":
		return 1
	case "starting", "unknown":
		return 2
	case "stopped":
		return 4
	default:
		return 3
	}
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	h := int(d / time.Hour)
	d -= time.Duration(h) * time.Hour
	m := int(d / time.Minute)
	d -= time.Duration(m) * time.Minute
	s := int(d / time.Second)

	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

func shortID(id string) string {
	id = strings.TrimSpace(id)
	if len(id) <= 12 {
		return id
	}
	return id[:12]
}

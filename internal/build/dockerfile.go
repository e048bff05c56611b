package build

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/moby/buildkit/frontend/dockerfile/parser"

	"github.com/mostlydev/berth/internal/stack"
)

// DockerfileInfo is what the preflight parse extracts from a Dockerfile.
type DockerfileInfo struct {
	BaseImages  []string
	Expose      []string
	HealthCheck *stack.HealthCheck
}

// InspectDockerfile parses a Dockerfile and pulls out the pieces berth
// cares about. A later HEALTHCHECK wins over an earlier one, matching
// docker's behavior.
func InspectDockerfile(r io.Reader) (*DockerfileInfo, error) {
	parsed, err := parser.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse dockerfile: %w", err)
	}

	info := &DockerfileInfo{}
	sawFrom := false

	for _, node := range parsed.AST.Children {
		command := strings.ToLower(strings.TrimSpace(node.Value))
		switch command {
		case "from":
			sawFrom = true
			if node.Next != nil {
				info.BaseImages = append(info.BaseImages, node.Next.Value)
			}
		case "expose":
			for n := node.Next; n != nil; n = n.Next {
				info.Expose = append(info.Expose, n.Value)
			}
		case "healthcheck":
			hc, err := parseHealthCheckNode(node)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", node.StartLine, err)
			}
			info.HealthCheck = hc
		}
	}

	if !sawFrom {
		return nil, fmt.Errorf("dockerfile has no FROM instruction")
	}
	return info, nil
}

// parseHealthCheckNode handles HEALTHCHECK [flags] CMD ... and
// HEALTHCHECK NONE. NONE returns nil.
func parseHealthCheckNode(node *parser.Node) (*stack.HealthCheck, error) {
	hc := &stack.HealthCheck{
		Interval: stack.DefaultHealthInterval,
		Timeout:  stack.DefaultHealthTimeout,
		Retries:  stack.DefaultHealthRetries,
	}

	for _, flag := range node.Flags {
		name, value, ok := strings.Cut(strings.TrimPrefix(flag, "--"), "=")
		if !ok {
			return nil, fmt.Errorf("malformed HEALTHCHECK flag %q", flag)
		}
		switch name {
		case "interval", "timeout", "start-period":
			d, err := time.ParseDuration(value)
			if err != nil {
				return nil, fmt.Errorf("HEALTHCHECK --%s: %w", name, err)
			}
			switch name {
			case "interval":
				hc.Interval = d
			case "timeout":
				hc.Timeout = d
			case "start-period":
				hc.StartPeriod = d
			}
		case "retries":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("HEALTHCHECK --retries: %w", err)
			}
			hc.Retries = n
		default:
			return nil, fmt.Errorf("unknown HEALTHCHECK flag --%s", name)
		}
	}

	cmdNode := node.Next
	if cmdNode == nil {
		return nil, fmt.Errorf("HEALTHCHECK requires CMD or NONE")
	}
	switch strings.ToUpper(cmdNode.Value) {
	case "NONE":
		return nil, nil
	case "CMD":
	default:
		return nil, fmt.Errorf("HEALTHCHECK requires CMD or NONE, got %q", cmdNode.Value)
	}

	var words []string
	for n := cmdNode.Next; n != nil; n = n.Next {
		words = append(words, n.Value)
	}
	if len(words) == 0 {
		return nil, fmt.Errorf("HEALTHCHECK CMD is empty")
	}

	// The json attribute sits on the instruction node, not the CMD word.
	if node.Attributes["json"] {
		hc.Test = words
	} else {
		hc.Test = []string{"/bin/sh", "-c", strings.Join(words, " ")}
	}
	return hc, nil
}

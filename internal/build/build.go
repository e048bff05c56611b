// Package build turns a service's build section into a tagged local
// image. The Dockerfile is parsed up front so syntax problems surface
// before docker does any work, and its EXPOSE and HEALTHCHECK lines feed
// defaults back into the service definition.
package build

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"github.com/mostlydev/berth/internal/stack"
)

// BuildError means an image build failed, either at Dockerfile parse time
// or inside docker build itself.
type BuildError struct {
	Service string
	Err     error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build failed for service %q: %v", e.Service, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// ImageTag is the local tag a built service image gets.
func ImageTag(stackName, service string) string {
	return fmt.Sprintf("berth_%s_%s:latest", stackName, service)
}

// Run builds the image for one service and returns the Dockerfile info
// gathered during preflight. projectDir anchors relative build contexts.
func Run(ctx context.Context, stackName string, svc *stack.Service, projectDir string) (*DockerfileInfo, error) {
	if svc.Build == nil {
		return nil, &BuildError{Service: svc.Name, Err: fmt.Errorf("service has no build section")}
	}

	buildContext := svc.Build.Context
	if !filepath.IsAbs(buildContext) {
		buildContext = filepath.Join(projectDir, buildContext)
	}
	dockerfile := svc.Build.Dockerfile
	if dockerfile == "" {
		dockerfile = "Dockerfile"
	}
	dockerfilePath := dockerfile
	if !filepath.IsAbs(dockerfilePath) {
		dockerfilePath = filepath.Join(buildContext, dockerfile)
	}

	file, err := os.Open(dockerfilePath)
	if err != nil {
		return nil, &BuildError{Service: svc.Name, Err: err}
	}
	info, err := InspectDockerfile(file)
	file.Close()
	if err != nil {
		return nil, &BuildError{Service: svc.Name, Err: err}
	}

	tag := ImageTag(stackName, svc.Name)
	args := []string{"build", "-f", dockerfilePath, "-t", tag}
	for _, k := range sortedArgKeys(svc.Build.Args) {
		args = append(args, "--build-arg", k+"="+svc.Build.Args[k])
	}
	args = append(args, buildContext)

	cmd := exec.CommandContext(ctx, "docker", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return nil, &BuildError{Service: svc.Name, Err: fmt.Errorf("docker build: %w", err)}
	}

	return info, nil
}

func sortedArgKeys(args map[string]string) []string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

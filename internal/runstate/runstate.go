// Package runstate persists what berth last did to a project: the run ID,
// the stack name, and the containers it created. The file lives under the
// project's .berth directory and is what lets a later invocation find and
// tear down a stack it did not start.
package runstate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

const (
	stateDir    = ".berth"
	stateFile   = "state.json"
	lockTimeout = 30 * time.Second
)

// Run is the persisted record of one up invocation.
type Run struct {
	Version   int                `json:"version"`
	RunID     string             `json:"run_id"`
	Stack     string             `json:"stack"`
	StartedAt time.Time          `json:"started_at"`
	Services  map[string]Service `json:"services"`
}

// Service records the instances launched for one service.
type Service struct {
	Scale     int        `json:"scale"`
	Instances []Instance `json:"instances"`
}

// Instance is one container of a service.
type Instance struct {
	Name        string `json:"name"`
	ContainerID string `json:"container_id"`
}

// New returns a fresh run record with a generated run ID.
func New(stackName string) *Run {
	return &Run{
		Version:   1,
		RunID:     uuid.NewString(),
		Stack:     stackName,
		StartedAt: time.Now().UTC(),
		Services:  make(map[string]Service),
	}
}

// Path returns the state file location for a project directory.
func Path(projectDir string) string {
	return filepath.Join(projectDir, stateDir, stateFile)
}

// Load reads the run record. A missing file returns os.ErrNotExist.
func Load(projectDir string) (*Run, error) {
	data, err := os.ReadFile(Path(projectDir))
	if err != nil {
		return nil, err
	}
	var run Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("parse run state: %w", err)
	}
	if run.Services == nil {
		run.Services = make(map[string]Service)
	}
	return &run, nil
}

// Save writes the run record atomically while holding the project lock.
func Save(projectDir string, run *Run) error {
	return withLock(projectDir, func() error {
		return atomicWrite(Path(projectDir), run)
	})
}

// Update loads the record, applies fn, and writes it back, all under the
// project lock. fn receives a fresh record when none exists yet.
func Update(projectDir, stackName string, fn func(*Run) error) error {
	return withLock(projectDir, func() error {
		run, err := Load(projectDir)
		if err != nil {
			if !os.IsNotExist(err) {
				return err
			}
			run = New(stackName)
		}
		if err := fn(run); err != nil {
			return err
		}
		return atomicWrite(Path(projectDir), run)
	})
}

// Clear removes the run record, for down.
func Clear(projectDir string) error {
	return withLock(projectDir, func() error {
		if err := os.Remove(Path(projectDir)); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	})
}

func withLock(projectDir string, fn func() error) error {
	path := Path(projectDir)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	fileLock := flock.New(path + ".lock")
	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()

	locked, err := fileLock.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		return fmt.Errorf("acquire state lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("state lock timeout after %v", lockTimeout)
	}
	defer fileLock.Unlock()

	return fn()
}

// atomicWrite writes via a temp file in the same directory and renames it
// over the target.
func atomicWrite(path string, run *Run) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".state-*.json.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpPath := tmp.Name()

	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close state file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename state file: %w", err)
	}
	return nil
}

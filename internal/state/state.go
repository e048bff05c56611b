// Package state holds the per-run runtime state of every service in a
// stack. The orchestrator owns one Store per run; goroutines gating on
// dependency conditions block in Wait instead of polling shared memory.
package state

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Status is the runtime state of a single service instance.
type Status string

const (
	StatusPending   Status = "pending"
	StatusStarting  Status = "starting"
	StatusRunning   Status = "running" // started, no health check declared
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusStopped   Status = "stopped"
	StatusFailed    Status = "failed"
)

// Started reports whether the service has left pending.
func (s Status) Started() bool {
	return s != "" && s != StatusPending
}

// Terminal reports whether no further transition will happen without an
// operator action or a restart-policy relaunch.
func (s Status) Terminal() bool {
	return s == StatusUnhealthy || s == StatusStopped || s == StatusFailed
}

// Record is the state of one service instance.
type Record struct {
	Status          Status
	ContainerID     string
	ExitCode        int
	Detail          string // human-readable cause for unhealthy/failed
	OperatorStopped bool   // explicit stop request, consulted by unless-stopped
	UpdatedAt       time.Time
}

// Snapshot is a point-in-time copy of all records, keyed by service name.
type Snapshot map[string]Record

// Store is a synchronized state store. Every mutation wakes all waiters,
// which re-evaluate their full predicate, so the arrival order of state
// signals cannot change the outcome of multi-condition gates.
type Store struct {
	mu      sync.Mutex
	records map[string]Record
	changed chan struct{}
}

// legal transitions; absence means the jump is a bug in the caller.
var transitions = map[Status][]Status{
	StatusPending:   {StatusStarting, StatusStopped, StatusFailed},
	StatusStarting:  {StatusRunning, StatusHealthy, StatusUnhealthy, StatusStopped, StatusFailed},
	StatusRunning:   {StatusStarting, StatusStopped, StatusFailed},
	StatusHealthy:   {StatusStarting, StatusUnhealthy, StatusStopped, StatusFailed},
	StatusUnhealthy: {StatusStarting, StatusHealthy, StatusStopped, StatusFailed},
	StatusStopped:   {StatusStarting},
	StatusFailed:    {StatusStarting},
}

// NewStore creates a store with every named service pending.
func NewStore(services []string) *Store {
	s := &Store{
		records: make(map[string]Record, len(services)),
		changed: make(chan struct{}),
	}
	for _, name := range services {
		s.records[name] = Record{Status: StatusPending, UpdatedAt: time.Now()}
	}
	return s
}

// Get returns the record for a service.
func (s *Store) Get(service string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[service]
	return rec, ok
}

// Transition moves a service to a new status, validating the edge. mutate,
// when non-nil, adjusts the record (container ID, exit code, detail) under
// the same lock.
func (s *Store) Transition(service string, to Status, mutate func(*Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[service]
	if !ok {
		return fmt.Errorf("unknown service %q", service)
	}
	if rec.Status != to && !legalTransition(rec.Status, to) {
		return fmt.Errorf("service %q: illegal transition %s -> %s", service, rec.Status, to)
	}

	rec.Status = to
	rec.UpdatedAt = time.Now()
	if mutate != nil {
		mutate(&rec)
	}
	s.records[service] = rec

	s.broadcastLocked()
	return nil
}

// MarkOperatorStopped flags an explicit stop request without changing
// status. Consulted by unless-stopped restart handling and stop
// propagation.
func (s *Store) MarkOperatorStopped(service string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[service]
	if !ok {
		return
	}
	rec.OperatorStopped = true
	s.records[service] = rec
	s.broadcastLocked()
}

// Snapshot copies all records.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(Snapshot, len(s.records))
	for name, rec := range s.records {
		out[name] = rec
	}
	return out
}

// Services returns all service names, sorted.
func (s *Store) Services() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.records))
	for name := range s.records {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Wait blocks until pred returns done=true or a non-nil error, re-running
// pred against a fresh snapshot after every store mutation. Returns
// ctx.Err() on cancellation.
func (s *Store) Wait(ctx context.Context, pred func(Snapshot) (bool, error)) error {
	for {
		s.mu.Lock()
		snap := make(Snapshot, len(s.records))
		for name, rec := range s.records {
			snap[name] = rec
		}
		ch := s.changed
		s.mu.Unlock()

		done, err := pred(snap)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// broadcastLocked wakes every waiter by closing the current change channel
// and installing a fresh one. Callers must hold mu.
func (s *Store) broadcastLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func legalTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

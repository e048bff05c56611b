package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fakeStatusSource struct {
	statuses map[string]serviceStatus
	err      error
}

func (f fakeStatusSource) Snapshot(_ context.Context) (map[string]serviceStatus, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.statuses, nil
}

func testStatuses() map[string]serviceStatus {
	return map[string]serviceStatus{
		"web": {
			Service:   "web",
			Status:    "running",
			State:     "running",
			Uptime:    "8m 10s",
			Instances: 2,
			Running:   2,
		},
		"db": {
			Service:   "db",
			Status:    "healthy",
			State:     "running",
			Health:    "healthy",
			Uptime:    "9m 1s",
			Instances: 1,
			Running:   1,
		},
	}
}

func TestStatusEndpointReturnsSortedServices(t *testing.T) {
	h := newHandler("shop", fakeStatusSource{statuses: testStatuses()})
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Stack != "shop" {
		t.Errorf("stack = %q, want shop", resp.Stack)
	}
	if len(resp.Services) != 2 {
		t.Fatalf("services = %d, want 2", len(resp.Services))
	}
	if resp.Services[0].Service != "db" || resp.Services[1].Service != "web" {
		t.Errorf("services not sorted: %+v", resp.Services)
	}
}

func TestStatusEndpointReportsSourceErrors(t *testing.T) {
	h := newHandler("shop", fakeStatusSource{err: errors.New("daemon unreachable")})
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	h := newHandler("shop", fakeStatusSource{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestUnknownPathIs404(t *testing.T) {
	h := newHandler("shop", fakeStatusSource{})
	req := httptest.NewRequest(http.MethodPost, "/status", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestNormalizeStatus(t *testing.T) {
	cases := []struct {
		state   string
		running bool
		health  string
		want    string
	}{
		{"running", true, "", "running"},
		{"running", true, "healthy", "healthy"},
		{"running", true, "starting", "starting"},
		{"running", true, "unhealthy", "unhealthy"},
		{"exited", false, "", "stopped"},
		{"created", false, "", "starting"},
		{"restarting", false, "", "starting"},
	}
	for _, c := range cases {
		if got := normalizeStatus(c.state, c.running, c.health); got != c.want {
			t.Errorf("normalizeStatus(%q, %v, %q) = %q, want %q", c.state, c.running, c.health, got, c.want)
		}
	}
}

func TestAggregateInstancesWorstFirst(t *testing.T) {
	now := time.Now()
	status := aggregateInstances("web", []instance{
		{id: "aaa111222333444", status: "healthy", state: "running", running: true, startedAt: now.Add(-3 * time.Minute)},
		{id: "bbb111222333444", status: "unhealthy", state: "running", health: "unhealthy", running: true, startedAt: now.Add(-1 * time.Minute)},
	}, now)

	if status.Status != "unhealthy" {
		t.Errorf("status = %q, want the worst instance to win", status.Status)
	}
	if status.Instances != 2 || status.Running != 2 {
		t.Errorf("counts = %d/%d, want 2/2", status.Running, status.Instances)
	}
	if status.ContainerID != "bbb111222333" {
		t.Errorf("containerId = %q, want the worst instance's short id", status.ContainerID)
	}
	if status.Uptime != "3m 0s" {
		t.Errorf("uptime = %q, want the longest-running instance's", status.Uptime)
	}
}

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"
)

type statusSource interface {
	Snapshot(ctx context.Context) (map[string]serviceStatus, error)
}

type handler struct {
	stack  string
	source statusSource
}

func newHandler(stack string, source statusSource) http.Handler {
	return &handler{stack: stack, source: source}
}

type statusResponse struct {
	Stack    string          `json:"stack"`
	Services []serviceStatus `json:"services"`
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/status":
		h.serveStatus(w, r)
	case r.Method == http.MethodGet && r.URL.Path == "/healthz":
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	default:
		http.NotFound(w, r)
	}
}

func (h *handler) serveStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	snapshot, err := h.source.Snapshot(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	resp := statusResponse{Stack: h.stack}
	for _, status := range snapshot {
		resp.Services = append(resp.Services, status)
	}
	sort.Slice(resp.Services, func(i, j int) bool {
		return resp.Services[i].Service < resp.Services[j].Service
	})

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

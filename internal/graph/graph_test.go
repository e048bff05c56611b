package graph

import (
	"errors"
	"testing"
)

func buildGraph(edges map[string][]string, extra ...string) *Graph {
	g := New()
	for _, name := range extra {
		g.AddNode(name)
	}
	for from, deps := range edges {
		g.AddNode(from)
		for _, to := range deps {
			g.AddEdge(from, to)
		}
	}
	return g
}

func indexOf(order []string, name string) int {
	for i, s := range order {
		if s == name {
			return i
		}
	}
	return -1
}

func TestStartOrderDependenciesPrecedeDependents(t *testing.T) {
	g := buildGraph(map[string][]string{
		"web":    {"postgres", "redis"},
		"worker": {"postgres"},
	})
	order, err := g.StartOrder()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(order) != 4 {
		t.Fatalf("expected 4 services, got %v", order)
	}
	if indexOf(order, "postgres") > indexOf(order, "web") {
		t.Errorf("postgres must precede web in %v", order)
	}
	if indexOf(order, "redis") > indexOf(order, "web") {
		t.Errorf("redis must precede web in %v", order)
	}
	if indexOf(order, "postgres") > indexOf(order, "worker") {
		t.Errorf("postgres must precede worker in %v", order)
	}
}

func TestLayersGroupIndependentServices(t *testing.T) {
	g := buildGraph(map[string][]string{
		"web": {"postgres", "redis"},
	})
	layers, err := g.Layers()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(layers) != 2 {
		t.Fatalf("expected 2 layers, got %v", layers)
	}
	if len(layers[0]) != 2 {
		t.Errorf("postgres and redis should share the first layer: %v", layers)
	}
	if len(layers[1]) != 1 || layers[1][0] != "web" {
		t.Errorf("web should be alone in the second layer: %v", layers)
	}
}

func TestStopOrderIsReversed(t *testing.T) {
	g := buildGraph(map[string][]string{
		"web": {"postgres"},
	})
	stop, err := g.StopOrder()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if indexOf(stop, "web") > indexOf(stop, "postgres") {
		t.Errorf("web must stop before postgres in %v", stop)
	}
}

func TestCycleIsRejected(t *testing.T) {
	g := buildGraph(map[string][]string{
		"a": {"b"},
		"b": {"a"},
	})
	_, err := g.Layers()
	if err == nil {
		t.Fatal("expected cycle error")
	}
	var cyc *CyclicDependencyError
	if !errors.As(err, &cyc) {
		t.Fatalf("expected *CyclicDependencyError, got %T", err)
	}
	if len(cyc.Cycle) < 3 {
		t.Errorf("cycle path should contain the loop, got %v", cyc.Cycle)
	}
	if cyc.Cycle[0] != cyc.Cycle[len(cyc.Cycle)-1] {
		t.Errorf("cycle path should close on itself, got %v", cyc.Cycle)
	}
}

func TestLongerCycleIsRejected(t *testing.T) {
	g := buildGraph(map[string][]string{
		"a": {"b"},
		"b": {"c"},
		"c": {"a"},
		"d": {},
	})
	if _, err := g.Layers(); err == nil {
		t.Fatal("expected cycle error")
	}
}

func TestIsolatedNodesAppear(t *testing.T) {
	g := buildGraph(nil, "solo")
	order, err := g.StartOrder()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(order) != 1 || order[0] != "solo" {
		t.Errorf("expected [solo], got %v", order)
	}
}

func TestTransitiveDependents(t *testing.T) {
	g := buildGraph(map[string][]string{
		"api":    {"db"},
		"web":    {"api"},
		"worker": {"db"},
	})
	got := g.TransitiveDependents("db")
	want := []string{"api", "web", "worker"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

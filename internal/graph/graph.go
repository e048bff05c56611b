package graph

import (
	"fmt"
	"sort"
	"strings"
)

// Graph is a directed dependency graph over service names. An edge from A to
// B means A depends on B: B must be handled before A on the way up, and after
// A on the way down.
type Graph struct {
	nodes map[string]struct{}
	// edges[a] = set of services a depends on
	edges map[string]map[string]struct{}
	// reverse[b] = set of services depending on b
	reverse map[string]map[string]struct{}
}

// CyclicDependencyError reports a dependency cycle, with the cycle path in
// order (first node repeated at the end).
type CyclicDependencyError struct {
	Cycle []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Cycle, " -> "))
}

// New builds an empty graph.
func New() *Graph {
	return &Graph{
		nodes:   make(map[string]struct{}),
		edges:   make(map[string]map[string]struct{}),
		reverse: make(map[string]map[string]struct{}),
	}
}

// AddNode registers a service with no edges.
func (g *Graph) AddNode(name string) {
	g.nodes[name] = struct{}{}
}

// AddEdge records that from depends on to. Both nodes are registered.
func (g *Graph) AddEdge(from, to string) {
	g.AddNode(from)
	g.AddNode(to)
	if g.edges[from] == nil {
		g.edges[from] = make(map[string]struct{})
	}
	g.edges[from][to] = struct{}{}
	if g.reverse[to] == nil {
		g.reverse[to] = make(map[string]struct{})
	}
	g.reverse[to][from] = struct{}{}
}

// Dependencies returns the services name depends on, sorted.
func (g *Graph) Dependencies(name string) []string {
	return sortedKeys(g.edges[name])
}

// Dependents returns the services that depend on name, sorted.
func (g *Graph) Dependents(name string) []string {
	return sortedKeys(g.reverse[name])
}

// TransitiveDependents returns every service reachable through reverse
// edges from name, sorted. Used to propagate a stop to blocked dependents.
func (g *Graph) TransitiveDependents(name string) []string {
	seen := make(map[string]struct{})
	queue := []string{name}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for dep := range g.reverse[current] {
			if _, ok := seen[dep]; ok {
				continue
			}
			seen[dep] = struct{}{}
			queue = append(queue, dep)
		}
	}
	return sortedKeys(seen)
}

// Layers computes a topological ordering grouped into layers: every service
// in a layer depends only on services in earlier layers, so services within
// one layer may start concurrently. Fails with *CyclicDependencyError when
// the graph has a cycle.
func (g *Graph) Layers() ([][]string, error) {
	indegree := make(map[string]int, len(g.nodes))
	for name := range g.nodes {
		indegree[name] = len(g.edges[name])
	}

	var layers [][]string
	remaining := len(g.nodes)

	current := make([]string, 0)
	for name, deg := range indegree {
		if deg == 0 {
			current = append(current, name)
		}
	}

	for len(current) > 0 {
		sort.Strings(current)
		layers = append(layers, current)
		remaining -= len(current)

		next := make([]string, 0)
		for _, done := range current {
			for dependent := range g.reverse[done] {
				indegree[dependent]--
				if indegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		current = next
	}

	if remaining > 0 {
		return nil, &CyclicDependencyError{Cycle: g.findCycle()}
	}
	return layers, nil
}

// StartOrder flattens Layers into a single topological order.
func (g *Graph) StartOrder() ([]string, error) {
	layers, err := g.Layers()
	if err != nil {
		return nil, err
	}
	order := make([]string, 0, len(g.nodes))
	for _, layer := range layers {
		order = append(order, layer...)
	}
	return order, nil
}

// StopOrder is StartOrder reversed: dependents stop before dependencies.
func (g *Graph) StopOrder() ([]string, error) {
	order, err := g.StartOrder()
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order, nil
}

// findCycle walks the graph depth-first and returns one cycle path. Only
// called after Layers detected that a cycle exists.
func (g *Graph) findCycle() []string {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int, len(g.nodes))
	var stack []string
	var cycle []string

	var visit func(name string) bool
	visit = func(name string) bool {
		state[name] = inStack
		stack = append(stack, name)
		for _, dep := range sortedKeys(g.edges[name]) {
			switch state[dep] {
			case inStack:
				start := 0
				for i, s := range stack {
					if s == dep {
						start = i
						break
					}
				}
				cycle = append(append(cycle, stack[start:]...), dep)
				return true
			case unvisited:
				if visit(dep) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[name] = done
		return false
	}

	for _, name := range sortedKeys(g.nodes) {
		if state[name] == unvisited && visit(name) {
			break
		}
	}
	return cycle
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

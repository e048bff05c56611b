package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mostlydev/berth/internal/graph"
	"github.com/mostlydev/berth/internal/stack"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Show the dependency graph and launch order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, _, err := loadStack()
		if err != nil {
			return err
		}

		g := buildServiceGraph(st)
		layers, err := g.Layers()
		if err != nil {
			return err
		}

		for i, layer := range layers {
			fmt.Printf("%d: %s\n", i+1, strings.Join(layer, ", "))
		}
		for _, name := range st.ServiceNames() {
			for _, dep := range g.Dependencies(name) {
				cond := st.Services[name].DependsOn[dep]
				fmt.Printf("  %s -> %s (%s)\n", name, dep, cond)
			}
		}
		return nil
	},
}

func buildServiceGraph(st *stack.Stack) *graph.Graph {
	g := graph.New()
	for name := range st.Services {
		g.AddNode(name)
	}
	for name, svc := range st.Services {
		for dep := range svc.DependsOn {
			g.AddEdge(name, dep)
		}
	}
	return g
}

func init() {
	rootCmd.AddCommand(graphCmd)
}

package graph

import (
	"fmt"
	"sort"
	"strings"
)

// CycleError reports a dependency cycle, naming the full node sequence.
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %s -> %s", strings.Join(e.Cycle, " -> "), e.Cycle[0])
}

// detectCycles runs a depth-first search over the dependency edges and, on
// finding a back edge, reconstructs the complete cycle from the stack.
func (g *Graph) detectCycles() error {
	const (
		unvisited = iota
		visiting
		visited
	)
	state := make(map[string]int, len(g.nodes))
	var stack []*Node

	var visit func(n *Node) error
	visit = func(n *Node) error {
		state[n.ID()] = visiting
		stack = append(stack, n)

		// Deterministic traversal so the reported cycle is stable.
		for _, depID := range n.Dependencies() {
			dep := n.deps[depID]
			switch state[dep.ID()] {
			case visiting:
				// Slice the stack from the first occurrence of dep.
				start := 0
				for i, s := range stack {
					if s == dep {
						start = i
						break
					}
				}
				cycle := make([]string, 0, len(stack)-start)
				for _, s := range stack[start:] {
					cycle = append(cycle, s.ID())
				}
				return &CycleError{Cycle: cycle}
			case unvisited:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}

		stack = stack[:len(stack)-1]
		state[n.ID()] = visited
		return nil
	}

	for _, n := range g.order {
		if state[n.ID()] == unvisited {
			if err := visit(n); err != nil {
				return err
			}
		}
	}
	return nil
}

// TopologicalOrder returns a valid topological sort of the graph:
// dependencies before dependents, ties broken by declaration order. The
// result is identical across repeated calls on the same graph.
func (g *Graph) TopologicalOrder() []string {
	unmet := make(map[string]int, len(g.nodes))
	var ready []*Node
	for _, n := range g.order {
		unmet[n.ID()] = len(n.deps)
		if len(n.deps) == 0 {
			ready = append(ready, n)
		}
	}

	order := make([]string, 0, len(g.order))
	for len(ready) > 0 {
		// Declaration order decides between simultaneously ready nodes.
		sort.Slice(ready, func(i, j int) bool { return ready[i].seq < ready[j].seq })
		next := ready[0]
		ready = ready[1:]
		order = append(order, next.ID())

		for _, depID := range next.Dependents() {
			dependent := next.dependents[depID]
			unmet[dependent.ID()]--
			if unmet[dependent.ID()] == 0 {
				ready = append(ready, dependent)
			}
		}
	}
	return order
}

// UnresolvedLayoutDependencyError is recorded during the implicit-edge scan
// when a layout references a unit that does not exist. It is fatal for the
// owning distribution only, so it surfaces when that node is built.
type UnresolvedLayoutDependencyError struct {
	Distribution string
	Reference    string
}

func (e *UnresolvedLayoutDependencyError) Error() string {
	return fmt.Sprintf("distribution %q: layout references unknown unit %q", e.Distribution, e.Reference)
}

// Package graph merges every dependency definition of a resolved suite
// closure into one directed graph and derives the deterministic build order.
// Implicit edges contributed by distribution layouts are added in a static
// pass here, never inferred later during assembly.
package graph

import (
	"context"
	"fmt"
	"sort"

	"suitebuild/internal/ctxlog"
	"suitebuild/internal/descriptor"
	"suitebuild/internal/suite"
)

// Node is one build unit in the merged graph.
type Node struct {
	Def descriptor.Def

	// seq is the global declaration index: suites in resolution order,
	// definitions in declaration order within each suite. It breaks
	// ordering ties everywhere a deterministic sequence is needed.
	seq int

	deps       map[string]*Node
	dependents map[string]*Node

	// layoutIssue defers an unresolvable layout dependency reference to
	// build time, where it fails only the owning distribution.
	layoutIssue error
}

// ID returns the qualified name of the underlying definition.
func (n *Node) ID() string { return n.Def.QualifiedName() }

// Seq returns the node's global declaration index.
func (n *Node) Seq() int { return n.seq }

// LayoutIssue returns the deferred layout error, or nil.
func (n *Node) LayoutIssue() error { return n.layoutIssue }

// Dependencies returns the IDs of the node's direct prerequisites, explicit
// and implicit, in declaration order.
func (n *Node) Dependencies() []string { return sortedIDs(n.deps) }

// Dependents returns the IDs of the nodes that directly depend on this one,
// in declaration order.
func (n *Node) Dependents() []string { return sortedIDs(n.dependents) }

func sortedIDs(m map[string]*Node) []string {
	nodes := make([]*Node, 0, len(m))
	for _, n := range m {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].seq < nodes[j].seq })
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID()
	}
	return ids
}

// Graph is the merged dependency graph. After construction only
// AddDependency mutates it, and only before scheduling starts.
type Graph struct {
	nodes map[string]*Node
	order []*Node
}

// Node returns the node with the given qualified name.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.order) }

// Nodes returns every node in declaration order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, len(g.order))
	copy(out, g.order)
	return out
}

// Build merges the dependency definitions of every resolved suite, adds the
// implicit edges found in distribution layouts, and verifies acyclicity.
func Build(ctx context.Context, suites []*suite.Resolved) (*Graph, error) {
	logger := ctxlog.FromContext(ctx)
	g := &Graph{nodes: make(map[string]*Node)}

	// First pass: one node per definition, keyed by qualified name.
	seq := 0
	for _, s := range suites {
		for _, def := range s.Defs() {
			id := def.QualifiedName()
			if prev, exists := g.nodes[id]; exists {
				return nil, fmt.Errorf(
					"duplicate definition %q: declared by suites %q and %q",
					id, prev.Def.OwningSuite(), def.OwningSuite())
			}
			node := &Node{
				Def:        def,
				seq:        seq,
				deps:       make(map[string]*Node),
				dependents: make(map[string]*Node),
			}
			g.nodes[id] = node
			g.order = append(g.order, node)
			seq++
		}
	}
	logger.Debug("Graph nodes created.", "count", len(g.order))

	// Second pass: explicit edges from declared dependencies.
	for _, node := range g.order {
		for _, depID := range node.Def.DeclaredDeps() {
			dep, ok := g.nodes[depID]
			if !ok {
				return nil, fmt.Errorf("%q depends on unknown unit %q", node.ID(), depID)
			}
			g.link(node, dep)
		}
	}

	// Third pass: implicit edges from distribution layout sources. An
	// unknown reference is not fatal here: it is recorded on the owning
	// distribution and fails only that node when it builds.
	for _, node := range g.order {
		dist, ok := node.Def.(*descriptor.Distribution)
		if !ok || !dist.IsLayout() {
			continue
		}
		for _, entry := range dist.Layout {
			for _, src := range entry.Sources {
				if src.Kind != descriptor.SourceDependency && src.Kind != descriptor.SourceExtracted {
					continue
				}
				ref, _ := src.DependencyRef()
				dep, ok := g.nodes[ref]
				if !ok {
					if node.layoutIssue == nil {
						node.layoutIssue = &UnresolvedLayoutDependencyError{
							Distribution: node.ID(),
							Reference:    ref,
						}
					}
					continue
				}
				if dep != node {
					logger.Debug("Implicit layout edge.", "from", node.ID(), "to", ref)
					g.link(node, dep)
				}
			}
		}
	}

	if err := g.detectCycles(); err != nil {
		return nil, err
	}
	logger.Debug("Graph construction successful.", "nodes", len(g.order))
	return g, nil
}

func (g *Graph) link(node, dep *Node) {
	if _, exists := node.deps[dep.ID()]; exists {
		return
	}
	node.deps[dep.ID()] = dep
	dep.dependents[node.ID()] = node
}

// AddDependency inserts an edge making from depend on to. It exists for
// edges only known after target matching, such as a project's toolchain
// provider distribution, and must be called before the graph is scheduled.
// An insertion that would close a cycle is rejected.
func (g *Graph) AddDependency(fromID, toID string) error {
	from, ok := g.nodes[fromID]
	if !ok {
		return fmt.Errorf("unknown build unit %q", fromID)
	}
	to, ok := g.nodes[toID]
	if !ok {
		return fmt.Errorf("unknown build unit %q", toID)
	}
	if from == to || reaches(to, from) {
		return fmt.Errorf("dependency %q -> %q would create a cycle", fromID, toID)
	}
	g.link(from, to)
	return nil
}

// reaches reports whether target is in the transitive dependency closure
// of n.
func reaches(n, target *Node) bool {
	for _, dep := range n.deps {
		if dep == target || reaches(dep, target) {
			return true
		}
	}
	return false
}

// Restrict returns the subgraph spanned by the given roots and everything
// they transitively depend on. Node sequence numbers are preserved.
func (g *Graph) Restrict(roots []string) (*Graph, error) {
	keep := make(map[string]bool)
	var mark func(n *Node)
	mark = func(n *Node) {
		if keep[n.ID()] {
			return
		}
		keep[n.ID()] = true
		for _, dep := range n.deps {
			mark(dep)
		}
	}
	for _, id := range roots {
		n, ok := g.nodes[id]
		if !ok {
			return nil, fmt.Errorf("unknown build unit %q", id)
		}
		mark(n)
	}

	sub := &Graph{nodes: make(map[string]*Node)}
	for _, n := range g.order {
		if !keep[n.ID()] {
			continue
		}
		clone := &Node{
			Def:         n.Def,
			seq:         n.seq,
			deps:        make(map[string]*Node),
			dependents:  make(map[string]*Node),
			layoutIssue: n.layoutIssue,
		}
		sub.nodes[clone.ID()] = clone
		sub.order = append(sub.order, clone)
	}
	for _, n := range sub.order {
		for depID := range g.nodes[n.ID()].deps {
			if dep, ok := sub.nodes[depID]; ok {
				sub.link(n, dep)
			}
		}
	}
	return sub, nil
}

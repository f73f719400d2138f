package builder

import (
	"context"
	"fmt"
	"os"

	"suitebuild/internal/ctxlog"
	"suitebuild/internal/descriptor"
	"suitebuild/internal/fingerprint"
	"suitebuild/internal/graph"
)

// InputHash computes the fingerprint of a node's own inputs. Dependency
// fingerprints are folded in by the scheduler, so changes propagate down
// the graph without the builder walking it.
func (r *Runner) InputHash(ctx context.Context, node *graph.Node) (string, error) {
	var h fingerprint.Hasher
	h.Add("unit", node.ID())

	switch def := node.Def.(type) {
	case *descriptor.Project:
		root, ok := r.SuiteRoot(def.OwningSuite())
		if !ok {
			return "", fmt.Errorf("project %q: unknown suite %q", node.ID(), def.OwningSuite())
		}
		for _, dir := range def.SourceDirs {
			if err := h.AddTree(suitePath(root, dir)); err != nil {
				return "", fmt.Errorf("hashing sources of %q: %w", node.ID(), err)
			}
		}
		for _, m := range r.Matches[node.ID()] {
			h.Add("target:"+m.Target.Name(), m.Toolchain.Compiler+"/"+m.Toolchain.Provider)
		}
	case *descriptor.Library:
		for i, u := range def.URLs {
			h.Add(fmt.Sprintf("url:%d", i), u)
		}
		h.Add("sha256", def.SHA256)
	case *descriptor.Distribution:
		h.Add("format", def.Format)
		h.Add("output", def.Output)
		for _, entry := range def.Layout {
			for i, src := range entry.Sources {
				h.Add(fmt.Sprintf("layout:%s:%d", entry.Dest, i), fmt.Sprintf("%s:%s", src.Kind, src.Value))
			}
			for i, ex := range entry.Excludes {
				h.Add(fmt.Sprintf("exclude:%s:%d", entry.Dest, i), ex)
			}
		}
	}
	return h.Sum(), nil
}

// OutputsExist reports whether the node's registered outputs are still on
// disk; a matching stored fingerprint with missing outputs is stale.
func (r *Runner) OutputsExist(node *graph.Node) bool {
	if p, ok := node.Def.(*descriptor.Project); ok {
		// Zero matched targets require zero outputs.
		for _, m := range r.Matches[node.ID()] {
			if _, err := os.Stat(r.projectOutputDir(p, m.Target)); err != nil {
				return false
			}
		}
		return true
	}
	out, err := r.primaryOutput(node)
	if err != nil {
		return false
	}
	_, statErr := os.Stat(out)
	return statErr == nil
}

// Register records the node's primary output so downstream layout sources
// can resolve it. Called for built and clean nodes alike. A project with no
// matched targets produced nothing and registers nothing; a distribution
// referencing it will then fail its own build with a missing source.
func (r *Runner) Register(node *graph.Node) error {
	if _, ok := node.Def.(*descriptor.Project); ok && len(r.Matches[node.ID()]) == 0 {
		return nil
	}
	out, err := r.primaryOutput(node)
	if err != nil {
		return err
	}
	r.Workspace.setOutput(node.ID(), out)
	return nil
}

// Build produces the node's outputs.
func (r *Runner) Build(ctx context.Context, node *graph.Node) error {
	logger := ctxlog.FromContext(ctx)
	logger.Info("Building unit", "unit", node.ID(), "kind", node.Def.DefKind().String())

	var err error
	switch def := node.Def.(type) {
	case *descriptor.Project:
		err = r.buildProject(ctx, node, def)
	case *descriptor.Library:
		err = r.fetchLibrary(ctx, node, def)
	case *descriptor.Distribution:
		err = r.buildDistribution(ctx, node, def)
	default:
		err = fmt.Errorf("unhandled definition kind %s", node.Def.DefKind())
	}
	if err != nil {
		return err
	}
	return r.Register(node)
}

package builder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"suitebuild/internal/ctxlog"
	"suitebuild/internal/descriptor"
	"suitebuild/internal/graph"
	"suitebuild/internal/layout"
)

// buildDistribution stages and archives a distribution. A layout problem
// deferred at graph construction surfaces here, failing only this unit.
func (r *Runner) buildDistribution(ctx context.Context, node *graph.Node, dist *descriptor.Distribution) error {
	logger := ctxlog.FromContext(ctx)

	if issue := node.LayoutIssue(); issue != nil {
		return issue
	}
	root, ok := r.SuiteRoot(dist.OwningSuite())
	if !ok {
		return fmt.Errorf("distribution %q: unknown suite %q", node.ID(), dist.OwningSuite())
	}

	stageDir := filepath.Join(r.Workspace.BuildDir, "stage", unitDirName(node.ID()))
	if err := os.RemoveAll(stageDir); err != nil {
		return fmt.Errorf("clearing staging dir: %w", err)
	}

	if dist.IsLayout() {
		asm := &layout.Assembler{
			SuiteRoot: root,
			Outputs:   r.Workspace.Output,
			WorkDir:   filepath.Join(r.Workspace.BuildDir, "work", unitDirName(node.ID())),
		}
		if err := os.RemoveAll(asm.WorkDir); err != nil {
			return fmt.Errorf("clearing extraction dir: %w", err)
		}
		if err := asm.Assemble(ctx, dist, stageDir); err != nil {
			return err
		}
	} else {
		if err := r.stageAggregate(node, dist, stageDir); err != nil {
			return err
		}
	}

	out := r.distOutputPath(dist)
	if err := layout.Archive(ctx, stageDir, out, dist.Format); err != nil {
		return fmt.Errorf("distribution %q: %w", node.ID(), err)
	}
	logger.Info("Packaged distribution", "distribution", node.ID(), "archive", out)
	return nil
}

// stageAggregate stages a dependency-aggregating distribution: each
// declared dependency's primary output lands under its unit name.
func (r *Runner) stageAggregate(node *graph.Node, dist *descriptor.Distribution, stageDir string) error {
	if err := os.MkdirAll(stageDir, 0o755); err != nil {
		return err
	}
	for _, ref := range dist.DeclaredDeps() {
		out, ok := r.Workspace.Output(ref)
		if !ok {
			return fmt.Errorf("distribution %q: dependency %q has no built output", node.ID(), ref)
		}
		dest := filepath.Join(stageDir, unitDirName(ref))
		info, err := os.Lstat(out)
		if err != nil {
			return fmt.Errorf("distribution %q: output of %q: %w", node.ID(), ref, err)
		}
		if !info.IsDir() {
			dest = filepath.Join(dest, filepath.Base(out))
		}
		if err := layout.CopyPath(out, dest); err != nil {
			return fmt.Errorf("distribution %q: staging %q: %w", node.ID(), ref, err)
		}
	}
	return nil
}

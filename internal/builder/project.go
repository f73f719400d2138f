package builder

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"suitebuild/internal/ctxlog"
	"suitebuild/internal/descriptor"
	"suitebuild/internal/graph"
	"suitebuild/internal/target"
)

// CompilerService invokes the external compiler over its command line.
// Argv is the service command prefix; each compilation appends the unit's
// sources, output directory, target and compiler.
type CompilerService struct {
	Argv []string
	// Timeout bounds a single compiler invocation. Zero means no bound.
	Timeout time.Duration
}

// CompileError carries the compiler service's diagnostics for one failed
// invocation.
type CompileError struct {
	Unit   string
	Target target.Target
	Output string
	Err    error
}

func (e *CompileError) Error() string {
	msg := fmt.Sprintf("compiling %q for %s: %v", e.Unit, e.Target.Name(), e.Err)
	if e.Output != "" {
		msg += "\n" + e.Output
	}
	return msg
}

func (e *CompileError) Unwrap() error { return e.Err }

// Compile runs one compiler service invocation. toolchainPath is the built
// artifact of the toolchain's provider distribution, empty for the implicit
// host toolchain.
func (c *CompilerService) Compile(ctx context.Context, unit string, sourceDirs []string, outDir string, m target.Match, toolchainPath string) error {
	logger := ctxlog.FromContext(ctx)

	if len(c.Argv) == 0 {
		return fmt.Errorf("compiler service command not configured")
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	args := slices.Clone(c.Argv[1:])
	args = append(args, "--output", outDir, "--target", m.Target.Name(), "--compiler", m.Toolchain.Compiler)
	if toolchainPath != "" {
		args = append(args, "--toolchain", toolchainPath)
	}
	for _, dir := range sourceDirs {
		args = append(args, "--source", dir)
	}
	logger.Debug("Invoking compiler service", "unit", unit, "target", m.Target.Name(), "argv", append([]string{c.Argv[0]}, args...))

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Argv[0], args...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return &CompileError{Unit: unit, Target: m.Target, Output: strings.TrimSpace(out.String()), Err: err}
	}
	return nil
}

// buildProject compiles the project once per matched target, each into
// its own target-scoped output directory. A project whose selected targets
// were all skipped for lack of a toolchain has nothing to compile and
// succeeds without producing output.
func (r *Runner) buildProject(ctx context.Context, node *graph.Node, p *descriptor.Project) error {
	matches := r.Matches[node.ID()]
	if len(matches) == 0 {
		ctxlog.FromContext(ctx).Info("No matched targets, nothing to compile.", "unit", node.ID())
		return nil
	}
	root, ok := r.SuiteRoot(p.OwningSuite())
	if !ok {
		return fmt.Errorf("project %q: unknown suite %q", node.ID(), p.OwningSuite())
	}
	sourceDirs := make([]string, len(p.SourceDirs))
	for i, dir := range p.SourceDirs {
		sourceDirs[i] = suitePath(root, dir)
	}

	for _, m := range matches {
		var toolchainPath string
		if m.Toolchain.Provider != "" {
			toolchainPath, ok = r.Workspace.Output(m.Toolchain.Provider)
			if !ok {
				return fmt.Errorf("project %q: toolchain provider %q has no output yet", node.ID(), m.Toolchain.Provider)
			}
		}
		outDir := r.projectOutputDir(p, m.Target)
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return err
		}
		if err := r.Compiler.Compile(ctx, node.ID(), sourceDirs, outDir, m, toolchainPath); err != nil {
			return err
		}
	}
	return nil
}

func suitePath(root, rel string) string {
	return filepath.Join(root, filepath.FromSlash(rel))
}

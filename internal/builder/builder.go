// Package builder turns dependency graph nodes into on-disk outputs:
// projects are compiled through the external compiler service, libraries
// are fetched and verified, distributions are assembled and archived.
package builder

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"sync"

	"suitebuild/internal/descriptor"
	"suitebuild/internal/graph"
	"suitebuild/internal/layout"
	"suitebuild/internal/target"
	"suitebuild/internal/urlrewrite"
)

// Workspace is the shared on-disk build area plus the registry of outputs
// produced (or found clean) so far. The registry is written concurrently
// by scheduler workers.
type Workspace struct {
	// BuildDir is the root for generated artifacts, typically
	// <primary suite>/build.
	BuildDir string

	mu      sync.RWMutex
	outputs map[string]string
}

func NewWorkspace(buildDir string) *Workspace {
	return &Workspace{BuildDir: buildDir, outputs: make(map[string]string)}
}

// Output returns the primary output path registered for a unit.
func (w *Workspace) Output(ref string) (string, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	p, ok := w.outputs[ref]
	return p, ok
}

func (w *Workspace) setOutput(ref, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.outputs[ref] = path
}

// Runner builds individual graph nodes. It satisfies the scheduler's
// UnitBuilder contract.
type Runner struct {
	Workspace *Workspace
	Compiler  *CompilerService
	Rewrites  *urlrewrite.Rules
	Client    *http.Client
	// Matches holds the matched build targets per project qualified name,
	// computed before scheduling.
	Matches map[string][]target.Match
	// SuiteRoot resolves a suite name to its checkout directory.
	SuiteRoot func(name string) (string, bool)
}

// primaryOutput is the path a dependency reference to this node resolves
// to: the first matched target's output tree for projects, the verified
// artifact for libraries, the archive for distributions.
func (r *Runner) primaryOutput(node *graph.Node) (string, error) {
	switch def := node.Def.(type) {
	case *descriptor.Project:
		matches := r.Matches[node.ID()]
		if len(matches) == 0 {
			return "", fmt.Errorf("project %q has no matched targets", node.ID())
		}
		return r.projectOutputDir(def, matches[0].Target), nil
	case *descriptor.Library:
		root, ok := r.SuiteRoot(def.OwningSuite())
		if !ok {
			return "", fmt.Errorf("library %q: unknown suite %q", node.ID(), def.OwningSuite())
		}
		return filepath.Join(root, filepath.FromSlash(def.Path)), nil
	case *descriptor.Distribution:
		return r.distOutputPath(def), nil
	default:
		return "", fmt.Errorf("unhandled definition kind %s", node.Def.DefKind())
	}
}

func (r *Runner) projectOutputDir(p *descriptor.Project, t target.Target) string {
	return filepath.Join(r.Workspace.BuildDir, filepath.FromSlash(t.Subdir()), unitDirName(p.QualifiedName()))
}

func (r *Runner) distOutputPath(d *descriptor.Distribution) string {
	output := d.Output
	if output == "" {
		output = unitDirName(d.QualifiedName())
	}
	return filepath.Join(r.Workspace.BuildDir, "dists", layout.OutputName(output, d.Format))
}

func unitDirName(qualified string) string {
	return strings.ReplaceAll(qualified, ":", "_")
}

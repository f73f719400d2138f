// Package layout assembles distribution archives from declarative layout
// entries. Sources are resolved into items, items are staged into a
// directory tree and the tree is packed into a deterministic archive.
package layout

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"

	"suitebuild/internal/ctxlog"
	"suitebuild/internal/descriptor"
)

// Assembler stages and packs layout distributions. Outputs resolves a
// qualified unit name to its built artifact on disk; the scheduler
// guarantees every referenced unit was built first.
type Assembler struct {
	// SuiteRoot anchors file: sources of the owning suite.
	SuiteRoot string
	Outputs   func(ref string) (string, bool)
	// WorkDir holds scratch checkouts of extracted archives.
	WorkDir string
}

// item is one resolved unit of layout content: a path to copy, a symlink
// to create, or literal file content.
type item struct {
	name    string
	srcPath string
	linkTo  string
	literal *string
}

// Assemble resolves every layout entry of the distribution into stageDir.
func (a *Assembler) Assemble(ctx context.Context, dist *descriptor.Distribution, stageDir string) error {
	logger := ctxlog.FromContext(ctx)

	if err := os.MkdirAll(stageDir, 0o755); err != nil {
		return fmt.Errorf("creating staging dir: %w", err)
	}
	for _, entry := range dist.Layout {
		items, err := a.resolveSources(ctx, dist, entry)
		if err != nil {
			return err
		}
		excludes, err := compileExcludes(entry.Excludes)
		if err != nil {
			return fmt.Errorf("distribution %q: layout %q: %w", dist.QualifiedName(), entry.Dest, err)
		}
		logger.Debug("Staging layout entry",
			"distribution", dist.QualifiedName(), "dest", entry.Dest, "items", len(items))

		if strings.HasSuffix(entry.Dest, "/") {
			dir := filepath.Join(stageDir, filepath.FromSlash(strings.TrimSuffix(entry.Dest, "/")))
			for _, it := range items {
				if err := a.place(it, filepath.Join(dir, it.name), it.name, excludes); err != nil {
					return fmt.Errorf("distribution %q: layout %q: %w", dist.QualifiedName(), entry.Dest, err)
				}
			}
			continue
		}
		if len(items) != 1 {
			names := make([]string, len(items))
			for i, it := range items {
				names[i] = it.name
			}
			return &AmbiguousDestinationError{Distribution: dist.QualifiedName(), Dest: entry.Dest, Items: names}
		}
		if err := a.place(items[0], filepath.Join(stageDir, filepath.FromSlash(entry.Dest)), items[0].name, excludes); err != nil {
			return fmt.Errorf("distribution %q: layout %q: %w", dist.QualifiedName(), entry.Dest, err)
		}
	}
	return nil
}

func (a *Assembler) resolveSources(ctx context.Context, dist *descriptor.Distribution, entry *descriptor.LayoutEntry) ([]item, error) {
	var items []item
	for _, src := range entry.Sources {
		resolved, err := a.resolveSource(ctx, src, entry.Dest)
		if err != nil {
			return nil, fmt.Errorf("distribution %q: layout %q: %w", dist.QualifiedName(), entry.Dest, err)
		}
		if len(resolved) == 0 {
			return nil, &MissingSourceMatchError{
				Distribution: dist.QualifiedName(),
				Dest:         entry.Dest,
				Source:       fmt.Sprintf("%s:%s", src.Kind, src.Value),
			}
		}
		items = append(items, resolved...)
	}
	return items, nil
}

func (a *Assembler) resolveSource(ctx context.Context, src descriptor.Source, dest string) ([]item, error) {
	switch src.Kind {
	case descriptor.SourceFile:
		return a.resolveFiles(src.Value)
	case descriptor.SourceDependency:
		return a.resolveDependency(src)
	case descriptor.SourceExtracted:
		return a.resolveExtracted(ctx, src)
	case descriptor.SourceLink:
		return []item{{name: path.Base(src.Value), linkTo: src.Value}}, nil
	case descriptor.SourceString:
		if strings.HasSuffix(dest, "/") {
			return nil, fmt.Errorf("string source needs a file destination, not a directory")
		}
		literal := src.Value
		return []item{{name: path.Base(dest), literal: &literal}}, nil
	default:
		return nil, fmt.Errorf("unhandled source kind %s", src.Kind)
	}
}

// resolveFiles matches a pattern against the owning suite's checkout.
// Wildcard patterns never match hidden entries; a literal path is taken
// as-is.
func (a *Assembler) resolveFiles(pattern string) ([]item, error) {
	if !strings.ContainsAny(pattern, "*?[{") {
		p := filepath.Join(a.SuiteRoot, filepath.FromSlash(pattern))
		if _, err := os.Lstat(p); err != nil {
			if os.IsNotExist(err) {
				return nil, nil
			}
			return nil, err
		}
		return []item{{name: path.Base(pattern), srcPath: p}}, nil
	}

	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, fmt.Errorf("file pattern %q: %w", pattern, err)
	}
	var items []item
	err = filepath.WalkDir(a.SuiteRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == a.SuiteRoot {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(a.SuiteRoot, p)
		if err != nil {
			return err
		}
		if g.Match(filepath.ToSlash(rel)) {
			items = append(items, item{name: d.Name(), srcPath: p})
			if d.IsDir() {
				return filepath.SkipDir
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(items, func(i, j int) bool { return items[i].srcPath < items[j].srcPath })
	return items, nil
}

func (a *Assembler) resolveDependency(src descriptor.Source) ([]item, error) {
	ref, subGlob := src.DependencyRef()
	out, ok := a.Outputs(ref)
	if !ok {
		return nil, fmt.Errorf("dependency %q has no built output", ref)
	}
	if subGlob == "" {
		return []item{{name: filepath.Base(out), srcPath: out}}, nil
	}
	return matchWithin(out, subGlob)
}

func (a *Assembler) resolveExtracted(ctx context.Context, src descriptor.Source) ([]item, error) {
	ref, subGlob := src.DependencyRef()
	out, ok := a.Outputs(ref)
	if !ok {
		return nil, fmt.Errorf("dependency %q has no built output", ref)
	}
	dir, err := a.extract(ctx, out)
	if err != nil {
		return nil, fmt.Errorf("extracting %q: %w", ref, err)
	}
	if subGlob == "" {
		subGlob = "*"
	}
	return matchWithin(dir, subGlob)
}

// matchWithin resolves a sub-glob against an already built directory tree.
// Matched directories become directory items; descent stops at a match.
func matchWithin(root, pattern string) ([]item, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%q is not a directory, cannot select %q inside it", root, pattern)
	}
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, fmt.Errorf("pattern %q: %w", pattern, err)
	}
	var items []item
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if g.Match(filepath.ToSlash(rel)) {
			items = append(items, item{name: d.Name(), srcPath: p})
			if d.IsDir() {
				return filepath.SkipDir
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(items, func(i, j int) bool { return items[i].srcPath < items[j].srcPath })
	return items, nil
}

// place copies one item to destPath. Exclude patterns are matched against
// the item-relative path rooted at relBase; a matched directory drops its
// whole subtree.
func (a *Assembler) place(it item, destPath, relBase string, excludes []glob.Glob) error {
	if matchesAnyGlob(excludes, relBase) {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	if _, err := os.Lstat(destPath); err == nil {
		return fmt.Errorf("destination %q already populated", destPath)
	}
	switch {
	case it.linkTo != "":
		return os.Symlink(filepath.FromSlash(it.linkTo), destPath)
	case it.literal != nil:
		return os.WriteFile(destPath, []byte(*it.literal), 0o644)
	default:
		return copyTree(it.srcPath, destPath, relBase, excludes)
	}
}

func copyTree(src, dest, relBase string, excludes []glob.Glob) error {
	info, err := os.Lstat(src)
	if err != nil {
		return err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(src)
		if err != nil {
			return err
		}
		return os.Symlink(target, dest)
	}
	if !info.IsDir() {
		return copyFile(src, dest, info.Mode())
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, e := range entries {
		rel := path.Join(relBase, e.Name())
		if matchesAnyGlob(excludes, rel) {
			continue
		}
		if err := copyTree(filepath.Join(src, e.Name()), filepath.Join(dest, e.Name()), rel, excludes); err != nil {
			return err
		}
	}
	return nil
}

// CopyPath copies a file or directory tree, preserving symlinks.
func CopyPath(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	return copyTree(src, dest, "", nil)
}

func copyFile(src, dest string, mode fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode.Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func compileExcludes(patterns []string) ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("exclude pattern %q: %w", p, err)
		}
		globs = append(globs, g)
	}
	return globs, nil
}

func matchesAnyGlob(globs []glob.Glob, rel string) bool {
	for _, g := range globs {
		if g.Match(rel) {
			return true
		}
	}
	return false
}

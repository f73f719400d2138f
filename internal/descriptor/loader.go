// Package descriptor parses a suite's declarative metadata (suite.hcl) into
// structured suite, import and dependency-definition records. Each dependency
// definition is checked against a fixed per-kind schema at load time; unknown
// attributes are rejected immediately rather than surfacing later during
// assembly.
package descriptor

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"suitebuild/internal/ctxlog"
)

// FileName is the descriptor file expected at every suite root.
const FileName = "suite.hcl"

// Store parses and caches suite descriptors keyed by suite root directory.
// A suite is parsed at most once per Store; the returned records are shared
// and must be treated as immutable.
type Store struct {
	mu     sync.Mutex
	parser *hclparse.Parser
	suites map[string]*Suite
}

// NewStore creates an empty descriptor store.
func NewStore() *Store {
	return &Store{
		parser: hclparse.NewParser(),
		suites: make(map[string]*Suite),
	}
}

// suiteFile mirrors the top-level block structure of suite.hcl. There is no
// "remain" body on purpose: anything not named here is a decode error.
type suiteFile struct {
	Suite         *suiteBlock          `hcl:"suite,block"`
	Imports       []*importBlock       `hcl:"import,block"`
	URLRewrites   []*urlrewriteBlock   `hcl:"urlrewrite,block"`
	Projects      []*projectBlock      `hcl:"project,block"`
	Libraries     []*libraryBlock      `hcl:"library,block"`
	Distributions []*distributionBlock `hcl:"distribution,block"`
}

type suiteBlock struct {
	Name    string `hcl:"name"`
	Version string `hcl:"version"`
}

type importBlock struct {
	Name    string      `hcl:"name,label"`
	Version string      `hcl:"version,optional"`
	Dynamic bool        `hcl:"dynamic,optional"`
	Subdir  bool        `hcl:"subdir,optional"`
	URLs    []*urlBlock `hcl:"url,block"`
}

type urlBlock struct {
	Source string `hcl:"source"`
	Kind   string `hcl:"kind"`
}

type urlrewriteBlock struct {
	Pattern     string `hcl:"pattern,label"`
	Replacement string `hcl:"replacement"`
}

type projectBlock struct {
	Name           string              `hcl:"name,label"`
	SourceDirs     []string            `hcl:"source_dirs"`
	Deps           []string            `hcl:"deps,optional"`
	Multitarget    []*multitargetBlock `hcl:"multitarget,block"`
	DefaultTargets []string            `hcl:"default_targets,optional"`
	AlwaysTargets  []string            `hcl:"always_targets,optional"`
}

type multitargetBlock struct {
	OS       []string `hcl:"os,optional"`
	Arch     []string `hcl:"arch,optional"`
	Libc     []string `hcl:"libc,optional"`
	Variant  []string `hcl:"variant,optional"`
	Compiler []string `hcl:"compiler,optional"`
}

type libraryBlock struct {
	Name   string   `hcl:"name,label"`
	URLs   []string `hcl:"urls"`
	SHA256 string   `hcl:"sha256"`
	Path   string   `hcl:"path,optional"`
	Deps   []string `hcl:"deps,optional"`
}

type distributionBlock struct {
	Name        string              `hcl:"name,label"`
	Deps        []string            `hcl:"deps,optional"`
	Output      string              `hcl:"output,optional"`
	Format      string              `hcl:"format,optional"`
	Layouts     []*layoutBlock      `hcl:"layout,block"`
	Toolchain   *toolchainBlock     `hcl:"toolchain,block"`
	Multitarget []*multitargetBlock `hcl:"multitarget,block"`
}

type layoutBlock struct {
	Dest     string   `hcl:"dest,label"`
	Sources  []string `hcl:"sources"`
	Excludes []string `hcl:"excludes,optional"`
}

type toolchainBlock struct {
	Kind     string       `hcl:"kind"`
	Compiler string       `hcl:"compiler,optional"`
	Target   *targetBlock `hcl:"target,block"`
}

type targetBlock struct {
	OS      string `hcl:"os,optional"`
	Arch    string `hcl:"arch,optional"`
	Libc    string `hcl:"libc,optional"`
	Variant string `hcl:"variant,optional"`
}

// Load parses the descriptor at rootDir/suite.hcl, returning the cached
// record when the suite was already loaded.
func (s *Store) Load(ctx context.Context, rootDir string) (*Suite, error) {
	logger := ctxlog.FromContext(ctx)

	abs, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("resolving suite root %q: %w", rootDir, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if suite, ok := s.suites[abs]; ok {
		return suite, nil
	}

	path := filepath.Join(abs, FileName)
	logger.Debug("Parsing suite descriptor.", "path", path)

	hclFile, diags := s.parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parsing %s: %w", path, diags)
	}

	// The descriptor may refer to its own checkout location via ${root}.
	evalCtx := &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"root": cty.StringVal(abs),
		},
	}

	var root suiteFile
	if diags := gohcl.DecodeBody(hclFile.Body, evalCtx, &root); diags.HasErrors() {
		return nil, fmt.Errorf("decoding %s: %w", path, diags)
	}

	suite, err := translate(&root, abs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	logger.Debug("Suite descriptor loaded.",
		"suite", suite.Name,
		"imports", len(suite.Imports),
		"projects", len(suite.Projects),
		"libraries", len(suite.Libraries),
		"distributions", len(suite.Distributions))

	s.suites[abs] = suite
	return suite, nil
}

// translate converts the decoded HCL form into the immutable suite record,
// applying the per-kind validation rules.
func translate(root *suiteFile, absRoot string) (*Suite, error) {
	if root.Suite == nil {
		return nil, fmt.Errorf("missing required suite block")
	}
	if root.Suite.Name == "" {
		return nil, fmt.Errorf("suite name must not be empty")
	}
	if root.Suite.Version == "" {
		return nil, fmt.Errorf("suite %q: version must not be empty", root.Suite.Name)
	}

	suite := &Suite{
		Name:    root.Suite.Name,
		Version: root.Suite.Version,
		Root:    absRoot,
	}

	for _, imp := range root.Imports {
		if imp.Name == "" {
			return nil, fmt.Errorf("import with empty name")
		}
		si := &SuiteImport{
			Name:    imp.Name,
			Version: imp.Version,
			Dynamic: imp.Dynamic,
			Subdir:  imp.Subdir,
		}
		for _, u := range imp.URLs {
			if u.Source == "" || u.Kind == "" {
				return nil, fmt.Errorf("import %q: url blocks require source and kind", imp.Name)
			}
			si.URLs = append(si.URLs, ImportURL{Source: u.Source, Kind: u.Kind})
		}
		suite.Imports = append(suite.Imports, si)
	}

	for _, rw := range root.URLRewrites {
		if rw.Replacement == "" {
			return nil, fmt.Errorf("urlrewrite %q: replacement must not be empty", rw.Pattern)
		}
		suite.URLRewrites = append(suite.URLRewrites, &URLRewriteDecl{
			Pattern:     rw.Pattern,
			Replacement: rw.Replacement,
		})
	}

	seen := make(map[string]string) // qualified name -> block kind
	common := func(name string, deps []string, kind string) (defCommon, error) {
		if name == "" {
			return defCommon{}, fmt.Errorf("%s with empty name", kind)
		}
		qname := QualifyRef(suite.Name, name)
		if prev, dup := seen[qname]; dup {
			return defCommon{}, fmt.Errorf("%s %q: name already used by a %s", kind, name, prev)
		}
		seen[qname] = kind
		qualified := make([]string, len(deps))
		for i, d := range deps {
			qualified[i] = QualifyRef(suite.Name, d)
		}
		return defCommon{qname: qname, suite: suite.Name, deps: qualified}, nil
	}

	for _, p := range root.Projects {
		c, err := common(p.Name, p.Deps, "project")
		if err != nil {
			return nil, err
		}
		if len(p.SourceDirs) == 0 {
			return nil, fmt.Errorf("project %q: source_dirs must not be empty", p.Name)
		}
		suite.Projects = append(suite.Projects, &Project{
			defCommon:      c,
			SourceDirs:     p.SourceDirs,
			Multitarget:    translateMultitarget(p.Multitarget),
			DefaultTargets: p.DefaultTargets,
			AlwaysTargets:  p.AlwaysTargets,
		})
	}

	for _, l := range root.Libraries {
		c, err := common(l.Name, l.Deps, "library")
		if err != nil {
			return nil, err
		}
		if len(l.URLs) == 0 {
			return nil, fmt.Errorf("library %q: urls must not be empty", l.Name)
		}
		if l.SHA256 == "" {
			return nil, fmt.Errorf("library %q: sha256 must not be empty", l.Name)
		}
		path := l.Path
		if path == "" {
			path = filepath.Join("libs", filepath.Base(l.URLs[0]))
		}
		suite.Libraries = append(suite.Libraries, &Library{
			defCommon: c,
			URLs:      l.URLs,
			SHA256:    l.SHA256,
			Path:      path,
		})
	}

	for _, d := range root.Distributions {
		c, err := common(d.Name, d.Deps, "distribution")
		if err != nil {
			return nil, err
		}
		if len(d.Layouts) > 0 && len(d.Deps) > 0 {
			return nil, fmt.Errorf("distribution %q: layout and deps are mutually exclusive", d.Name)
		}
		if len(d.Layouts) == 0 && len(d.Deps) == 0 && d.Toolchain == nil {
			return nil, fmt.Errorf("distribution %q: requires either a layout or deps", d.Name)
		}
		format := d.Format
		switch format {
		case "":
			format = "tgz"
		case "tgz", "zip":
		default:
			return nil, fmt.Errorf("distribution %q: unsupported format %q", d.Name, format)
		}
		dist := &Distribution{
			defCommon:   c,
			Output:      d.Output,
			Format:      format,
			Multitarget: translateMultitarget(d.Multitarget),
		}
		for _, lb := range d.Layouts {
			if lb.Dest == "" {
				return nil, fmt.Errorf("distribution %q: layout with empty destination", d.Name)
			}
			entry := &LayoutEntry{Dest: lb.Dest, Excludes: lb.Excludes}
			for _, raw := range lb.Sources {
				src, err := ParseSource(raw)
				if err != nil {
					return nil, fmt.Errorf("distribution %q: %w", d.Name, err)
				}
				if src.Kind == SourceDependency || src.Kind == SourceExtracted {
					ref, sub := src.DependencyRef()
					src.Value = QualifyRef(suite.Name, ref)
					if sub != "" {
						src.Value += "/" + sub
					}
				}
				entry.Sources = append(entry.Sources, src)
			}
			if len(entry.Sources) == 0 {
				return nil, fmt.Errorf("distribution %q: layout %q has no sources", d.Name, lb.Dest)
			}
			dist.Layout = append(dist.Layout, entry)
		}
		if d.Toolchain != nil {
			tc := &ToolchainDecl{
				Kind:     d.Toolchain.Kind,
				Compiler: d.Toolchain.Compiler,
			}
			if tc.Kind == "" {
				return nil, fmt.Errorf("distribution %q: toolchain kind must not be empty", d.Name)
			}
			if tc.Compiler == "" {
				tc.Compiler = "host"
			}
			if d.Toolchain.Target != nil {
				tc.Target = TargetDecl{
					OS:      d.Toolchain.Target.OS,
					Arch:    d.Toolchain.Target.Arch,
					Libc:    d.Toolchain.Target.Libc,
					Variant: d.Toolchain.Target.Variant,
				}
			}
			dist.Toolchain = tc
		}
		suite.Distributions = append(suite.Distributions, dist)
	}

	return suite, nil
}

func translateMultitarget(blocks []*multitargetBlock) []*MultitargetDecl {
	decls := make([]*MultitargetDecl, 0, len(blocks))
	for _, b := range blocks {
		decls = append(decls, &MultitargetDecl{
			OS:       b.OS,
			Arch:     b.Arch,
			Libc:     b.Libc,
			Variant:  b.Variant,
			Compiler: b.Compiler,
		})
	}
	return decls
}

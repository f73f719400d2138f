package descriptor

import (
	"fmt"
	"strings"
)

// Kind discriminates the dependency definition variants a suite can declare.
type Kind int

const (
	KindProject Kind = iota
	KindLibrary
	KindDistribution
)

// String returns the descriptor block name for the kind.
func (k Kind) String() string {
	switch k {
	case KindProject:
		return "project"
	case KindLibrary:
		return "library"
	case KindDistribution:
		return "distribution"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Suite is the parsed, immutable form of one suite.hcl descriptor.
type Suite struct {
	Name    string
	Version string
	Root    string

	Imports       []*SuiteImport
	URLRewrites   []*URLRewriteDecl
	Projects      []*Project
	Libraries     []*Library
	Distributions []*Distribution
}

// Defs returns every dependency definition of the suite in declaration
// order: projects, then libraries, then distributions, each in file order.
// This order is the tie-breaker for deterministic scheduling downstream.
func (s *Suite) Defs() []Def {
	defs := make([]Def, 0, len(s.Projects)+len(s.Libraries)+len(s.Distributions))
	for _, p := range s.Projects {
		defs = append(defs, p)
	}
	for _, l := range s.Libraries {
		defs = append(defs, l)
	}
	for _, d := range s.Distributions {
		defs = append(defs, d)
	}
	return defs
}

// SuiteImport is a directed suite-to-suite edge.
type SuiteImport struct {
	Name    string
	Version string
	Dynamic bool
	Subdir  bool
	URLs    []ImportURL
}

// ImportURL is one candidate location for a suite checkout.
type ImportURL struct {
	Source string
	Kind   string
}

// URLRewriteDecl is a single rewrite rule declared by a suite. Only the
// primary suite's rules are honored during resolution.
type URLRewriteDecl struct {
	Pattern     string
	Replacement string
}

// Def is the common view over Project, Library and Distribution.
type Def interface {
	// QualifiedName is "<suite>:<name>", globally unique.
	QualifiedName() string
	OwningSuite() string
	// DeclaredDeps holds qualified names; the loader qualifies bare
	// references against the owning suite.
	DeclaredDeps() []string
	DefKind() Kind
}

type defCommon struct {
	qname string
	suite string
	deps  []string
}

func (c defCommon) QualifiedName() string  { return c.qname }
func (c defCommon) OwningSuite() string    { return c.suite }
func (c defCommon) DeclaredDeps() []string { return c.deps }

// Project is a leaf compilation unit built by the external compiler service.
type Project struct {
	defCommon
	SourceDirs     []string
	Multitarget    []*MultitargetDecl
	DefaultTargets []string
	AlwaysTargets  []string
}

func (*Project) DefKind() Kind { return KindProject }

// Library is an opaque external input. It is fetched and verified, never built.
type Library struct {
	defCommon
	URLs   []string
	SHA256 string
	// Path is the checkout-relative location the artifact is stored at.
	Path string
}

func (*Library) DefKind() Kind { return KindLibrary }

// Distribution is a packaged artifact. It is either an aggregate of its
// declared dependencies or carries a declarative layout, never both.
type Distribution struct {
	defCommon
	Output      string
	Format      string // "tgz" or "zip"
	Layout      []*LayoutEntry
	Toolchain   *ToolchainDecl
	Multitarget []*MultitargetDecl
}

func (*Distribution) DefKind() Kind { return KindDistribution }

// IsLayout reports whether the distribution is assembled from a layout
// rather than aggregating its declared dependencies.
func (d *Distribution) IsLayout() bool { return len(d.Layout) > 0 }

// LayoutEntry maps one destination path to the sources resolved into it.
// A destination ending in "/" accepts any number of matched items; a bare
// destination accepts exactly one.
type LayoutEntry struct {
	Dest     string
	Sources  []Source
	Excludes []string
}

// SourceKind enumerates the five supported layout source kinds.
type SourceKind int

const (
	SourceFile SourceKind = iota
	SourceDependency
	SourceExtracted
	SourceLink
	SourceString
)

func (k SourceKind) String() string {
	switch k {
	case SourceFile:
		return "file"
	case SourceDependency:
		return "dependency"
	case SourceExtracted:
		return "extracted-dependency"
	case SourceLink:
		return "link"
	case SourceString:
		return "string"
	default:
		return fmt.Sprintf("source(%d)", int(k))
	}
}

// Source is one parsed layout source, e.g. "file:libs/*" or
// "extracted-dependency:sdk:TOOLS/share/*".
type Source struct {
	Kind  SourceKind
	Value string
}

// ParseSource parses the "<kind>:<value>" layout source syntax.
func ParseSource(raw string) (Source, error) {
	kind, value, ok := strings.Cut(raw, ":")
	if !ok {
		return Source{}, fmt.Errorf("layout source %q: missing kind prefix", raw)
	}
	var k SourceKind
	switch kind {
	case "file":
		k = SourceFile
	case "dependency":
		k = SourceDependency
	case "extracted-dependency":
		k = SourceExtracted
	case "link":
		k = SourceLink
	case "string":
		k = SourceString
	default:
		return Source{}, fmt.Errorf("layout source %q: unknown kind %q", raw, kind)
	}
	if value == "" {
		return Source{}, fmt.Errorf("layout source %q: empty value", raw)
	}
	return Source{Kind: k, Value: value}, nil
}

// DependencyRef splits a dependency/extracted-dependency source value into
// the referenced unit and an optional sub-glob, e.g. "sdk:TOOLS/bin/*"
// yields ("sdk:TOOLS", "bin/*"). The unit reference is everything up to the
// first path separator.
func (s Source) DependencyRef() (ref, subGlob string) {
	ref, subGlob, _ = strings.Cut(s.Value, "/")
	return ref, subGlob
}

// MultitargetDecl declares the target axes a project wants to be built for.
// Axis values may include the "*" wildcard; empty axes default to the host.
type MultitargetDecl struct {
	OS       []string
	Arch     []string
	Libc     []string
	Variant  []string
	Compiler []string
}

// ToolchainDecl marks a distribution as providing a toolchain for one target.
type ToolchainDecl struct {
	Kind     string
	Compiler string
	Target   TargetDecl
}

// TargetDecl is the concrete target a toolchain produces code for.
type TargetDecl struct {
	OS      string
	Arch    string
	Libc    string
	Variant string
}

// QualifyRef resolves a dependency reference against an owning suite:
// "name" becomes "<suite>:name" while "other:name" is kept as-is.
func QualifyRef(owningSuite, ref string) string {
	if strings.Contains(ref, ":") {
		return ref
	}
	return owningSuite + ":" + ref
}

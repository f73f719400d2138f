package target

import (
	"fmt"

	"suitebuild/internal/descriptor"
)

// Match pairs one selected build target with the toolchain that will
// compile for it.
type Match struct {
	Target    Target
	Toolchain ToolchainDef
}

// Result is the outcome of matching one unit: the targets that will be
// built and the implicitly selected targets skipped for lack of a
// toolchain.
type Result struct {
	Matches []Match
	Skipped []Target
}

// hostToolchain is the implicit toolchain compiling for the running
// machine; it needs no declaration and provides no artifact.
func hostToolchain() ToolchainDef {
	return ToolchainDef{Kind: "host", Compiler: "host", Target: Host()}
}

// CollectToolchains gathers the toolchain definitions declared across the
// resolved suites, in suite then declaration order, prefixed with the
// implicit host toolchain so host-only builds need no declaration. A
// duplicate compiler for the same target is an error.
func CollectToolchains(suites []*descriptor.Suite) ([]ToolchainDef, error) {
	defs := []ToolchainDef{hostToolchain()}
	type key struct {
		target   Target
		compiler string
	}
	seen := map[key]string{{Host(), "host"}: "host"}
	for _, s := range suites {
		for _, def := range s.Defs() {
			dist, ok := def.(*descriptor.Distribution)
			if !ok || dist.Toolchain == nil {
				continue
			}
			tc := ToolchainDef{
				Kind:     dist.Toolchain.Kind,
				Compiler: dist.Toolchain.Compiler,
				Target:   declaredTarget(dist.Toolchain.Target),
				Provider: dist.QualifiedName(),
			}
			if tc.Compiler == "" {
				tc.Compiler = "host"
			}
			k := key{tc.Target, tc.Compiler}
			if prev, dup := seen[k]; dup {
				return nil, fmt.Errorf("toolchain %q duplicates compiler %q for target %s (already provided by %q)",
					dist.QualifiedName(), tc.Compiler, tc.Target.Name(), prev)
			}
			seen[k] = dist.QualifiedName()
			defs = append(defs, tc)
		}
	}
	return defs, nil
}

func declaredTarget(decl descriptor.TargetDecl) Target {
	t := Target{OS: decl.OS, Arch: decl.Arch, Libc: decl.Libc, Variant: decl.Variant}
	if t.OS == "" {
		t.OS = HostOS()
	}
	if t.Arch == "" {
		t.Arch = HostArch()
	}
	if t.Libc == "" {
		t.Libc = DefaultLibc(t.OS)
	}
	return t
}

// MatchProject selects the targets a project will be built for. The
// toolchains are the CollectToolchains output, so they include the implicit
// host toolchain. The requested selections come from the caller (flag or
// environment); when empty, the project's own default targets (or the host)
// apply. A concrete requested target without a toolchain is fatal; targets
// reached through wildcard requests or through default and always
// selections are skipped without error when no toolchain serves them.
func MatchProject(project *descriptor.Project, toolchains []ToolchainDef, requested []Selection) (*Result, error) {
	reg := NewRegistry(toolchains)
	supported, err := Expand(project.Multitarget, reg)
	if err != nil {
		return nil, fmt.Errorf("project %q: %w", project.QualifiedName(), err)
	}

	var implicit []Selection
	if len(requested) == 0 {
		if len(project.DefaultTargets) > 0 {
			implicit, err = ParseSelections(project.DefaultTargets)
			if err != nil {
				return nil, fmt.Errorf("project %q: default targets: %w", project.QualifiedName(), err)
			}
		} else {
			implicit = []Selection{hostSelection()}
		}
	}
	always, err := ParseSelections(project.AlwaysTargets)
	if err != nil {
		return nil, fmt.Errorf("project %q: always targets: %w", project.QualifiedName(), err)
	}
	implicit = append(implicit, always...)

	res := &Result{}
	for _, sup := range supported {
		if !matchesAny(requested, sup.Target) && !matchesAny(implicit, sup.Target) {
			continue
		}
		tc, ok := findToolchain(toolchains, sup)
		if !ok {
			// Only a fully concrete request makes a toolchain gap fatal; a
			// wildcard request covers tuples the requester never named, so
			// unserved ones skip like implicit selections do.
			if concretelyRequested(requested, sup.Target) {
				return nil, &UnsupportedTargetError{Project: project.QualifiedName(), Target: sup.Target}
			}
			res.Skipped = append(res.Skipped, sup.Target)
			continue
		}
		res.Matches = append(res.Matches, Match{Target: sup.Target, Toolchain: tc})
	}
	return res, nil
}

func concretelyRequested(sels []Selection, t Target) bool {
	for _, sel := range sels {
		if sel.Concrete() && sel.Matches(t) {
			return true
		}
	}
	return false
}

func hostSelection() Selection {
	host := Host()
	return Selection{OS: host.OS, Arch: host.Arch, Libc: host.Libc}
}

func matchesAny(sels []Selection, t Target) bool {
	for _, sel := range sels {
		if sel.Matches(t) {
			return true
		}
	}
	return false
}

// findToolchain walks the unit's compiler preference order and returns the
// first declared toolchain producing code for the exact target tuple.
func findToolchain(defs []ToolchainDef, sup Supported) (ToolchainDef, bool) {
	for _, pref := range sup.Compilers {
		for _, tc := range defs {
			if tc.Target != sup.Target {
				continue
			}
			if pref == "*" || tc.Compiler == pref {
				return tc, true
			}
		}
	}
	return ToolchainDef{}, false
}

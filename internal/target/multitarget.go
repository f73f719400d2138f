package target

import (
	"fmt"

	"suitebuild/internal/descriptor"
)

// Supported is one concrete target a unit can be built for, together with
// the compiler preference order of the multitarget declaration that
// contributed it. "host" prefers the host compiler, "*" accepts any.
type Supported struct {
	Target    Target
	Compilers []string
}

var defaultCompilers = []string{"host", "*"}

// defaultDecl is the support set of a unit with no multitarget block: the
// host tuple only, built with the host compiler.
func defaultDecl() *descriptor.MultitargetDecl {
	host := Host()
	return &descriptor.MultitargetDecl{
		OS:       []string{host.OS},
		Arch:     []string{host.Arch},
		Libc:     []string{host.Libc},
		Variant:  []string{""},
		Compiler: []string{"host"},
	}
}

// Expand enumerates the support set declared by a unit's multitarget
// blocks: the cartesian product of each block's axis lists, wildcards
// resolved against the registry, deduplicated keeping the first
// contributing block's compiler preference. Unset axes default to the host
// value (os, arch), the per-OS default libc, and the no-variant value.
func Expand(decls []*descriptor.MultitargetDecl, reg *Registry) ([]Supported, error) {
	if len(decls) == 0 {
		decls = []*descriptor.MultitargetDecl{defaultDecl()}
	}
	var out []Supported
	seen := make(map[Target]bool)
	for i, decl := range decls {
		targets, compilers, err := expandDecl(decl, reg)
		if err != nil {
			return nil, fmt.Errorf("multitarget block %d: %w", i, err)
		}
		for _, t := range targets {
			if seen[t] {
				continue
			}
			seen[t] = true
			out = append(out, Supported{Target: t, Compilers: compilers})
		}
	}
	return out, nil
}

func expandDecl(decl *descriptor.MultitargetDecl, reg *Registry) ([]Target, []string, error) {
	oses := decl.OS
	if len(oses) == 0 {
		oses = []string{HostOS()}
	}
	arches := decl.Arch
	if len(arches) == 0 {
		arches = []string{HostArch()}
	}
	variants := decl.Variant
	if len(variants) == 0 {
		variants = []string{""}
	}
	compilers := decl.Compiler
	if len(compilers) == 0 {
		compilers = defaultCompilers
	}

	oses, err := reg.expand("os", oses)
	if err != nil {
		return nil, nil, err
	}
	arches, err = reg.expand("arch", arches)
	if err != nil {
		return nil, nil, err
	}
	variants, err = reg.expand("variant", variants)
	if err != nil {
		return nil, nil, err
	}
	var targets []Target
	for _, os := range oses {
		libcs := decl.Libc
		if len(libcs) == 0 {
			// The libc default depends on the os axis value, so it is
			// resolved per expanded os rather than once up front.
			libcs = []string{DefaultLibc(os)}
		}
		libcs, err = reg.expandLibc(os, libcs)
		if err != nil {
			return nil, nil, err
		}
		for _, arch := range arches {
			for _, libc := range libcs {
				for _, variant := range variants {
					targets = append(targets, Target{OS: os, Arch: arch, Libc: libc, Variant: variant})
				}
			}
		}
	}
	return targets, compilers, nil
}

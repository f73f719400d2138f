// Package target expands wildcarded multi-target specifications and matches
// concrete targets against available toolchain definitions. Wildcards are
// enumerated against explicit registries of known axis values, so an
// unrecognized value fails closed instead of silently matching everything.
package target

import (
	"fmt"
	"runtime"
)

// Target is a concrete cross-compilation destination.
type Target struct {
	OS      string
	Arch    string
	Libc    string
	Variant string
}

// Name renders the canonical os-arch-libc[-variant] form.
func (t Target) Name() string {
	name := fmt.Sprintf("%s-%s-%s", t.OS, t.Arch, t.Libc)
	if t.Variant != "" {
		name += "-" + t.Variant
	}
	return name
}

// Subdir returns the build-output segment for the target, keeping the
// os-arch pair as one path element.
func (t Target) Subdir() string {
	segment := t.Libc
	if t.Variant != "" {
		segment += "-" + t.Variant
	}
	return fmt.Sprintf("%s-%s/%s", t.OS, t.Arch, segment)
}

// Known axis values. Wildcard expansion enumerates these; any concrete
// value outside them is rejected.
var (
	KnownOS   = []string{"linux", "darwin", "windows"}
	KnownArch = []string{"amd64", "aarch64", "riscv64"}
	KnownLibc = []string{"glibc", "musl", "default"}
)

// HostOS returns the running operating system in axis terms.
func HostOS() string { return runtime.GOOS }

// HostArch returns the running CPU architecture in axis terms.
func HostArch() string {
	switch runtime.GOARCH {
	case "arm64":
		return "aarch64"
	default:
		return runtime.GOARCH
	}
}

// DefaultLibc returns the default C library for an operating system: glibc
// on linux, the placeholder "default" elsewhere.
func DefaultLibc(os string) string {
	if os == "linux" {
		return "glibc"
	}
	return "default"
}

// Host returns the target describing the running machine.
func Host() Target {
	os := HostOS()
	return Target{OS: os, Arch: HostArch(), Libc: DefaultLibc(os)}
}

// ToolchainDef describes one available toolchain: the build-system kind it
// serves, the concrete target it produces code for, the compiler it uses
// and the distribution providing its artifact (empty for the implicit host
// toolchain).
type ToolchainDef struct {
	Kind     string
	Compiler string
	Target   Target
	Provider string
}

// UnsupportedTargetError reports an explicitly requested target for which a
// project has no matching toolchain.
type UnsupportedTargetError struct {
	Project string
	Target  Target
}

func (e *UnsupportedTargetError) Error() string {
	return fmt.Sprintf("project %q: no toolchain for explicitly requested target %s", e.Project, e.Target.Name())
}

// Registry enumerates the admissible values per axis for one matching run.
// Variants are an open axis: the known set is whatever the available
// toolchains declare, plus the empty (no-variant) value.
type Registry struct {
	os, arch, libc, variant []string
}

// NewRegistry builds the axis registry for a set of toolchains.
func NewRegistry(toolchains []ToolchainDef) *Registry {
	variants := []string{""}
	seen := map[string]bool{"": true}
	for _, tc := range toolchains {
		if !seen[tc.Target.Variant] {
			seen[tc.Target.Variant] = true
			variants = append(variants, tc.Target.Variant)
		}
	}
	return &Registry{os: KnownOS, arch: KnownArch, libc: KnownLibc, variant: variants}
}

func (r *Registry) axis(name string) []string {
	switch name {
	case "os":
		return r.os
	case "arch":
		return r.arch
	case "libc":
		return r.libc
	default:
		return r.variant
	}
}

// wildcardLibcs is what "*" enumerates on the libc axis: the real C
// libraries on linux, the "default" placeholder elsewhere.
func wildcardLibcs(os string) []string {
	if os == "linux" {
		return []string{"glibc", "musl"}
	}
	return []string{"default"}
}

// expandLibc resolves the libc axis for one operating system: concrete
// values are validated like any axis, "*" enumerates per OS so linux never
// expands to the "default" placeholder.
func (r *Registry) expandLibc(os string, values []string) ([]string, error) {
	var out []string
	for _, v := range values {
		if v == "*" {
			out = append(out, wildcardLibcs(os)...)
			continue
		}
		expanded, err := r.expand("libc", []string{v})
		if err != nil {
			return nil, err
		}
		out = append(out, expanded...)
	}
	return out, nil
}

// expand resolves one axis value list: "*" enumerates the registry, any
// other value must be registered.
func (r *Registry) expand(axisName string, values []string) ([]string, error) {
	var out []string
	for _, v := range values {
		if v == "*" {
			out = append(out, r.axis(axisName)...)
			continue
		}
		known := false
		for _, k := range r.axis(axisName) {
			if k == v {
				known = true
				break
			}
		}
		if !known {
			return nil, fmt.Errorf("unknown %s value %q", axisName, v)
		}
		out = append(out, v)
	}
	return out, nil
}

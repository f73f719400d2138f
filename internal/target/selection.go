package target

import (
	"fmt"
	"strings"
)

// Selection is one requested target pattern of the form
// os-arch-libc[-variant]. Each component is a concrete value or "*";
// "default" in the first three positions resolves to the host value at
// parse time. A selection with no variant component only matches targets
// without a variant.
type Selection struct {
	OS      string
	Arch    string
	Libc    string
	Variant string

	hasVariant bool
}

// ParseSelection parses a single os-arch-libc[-variant] pattern.
func ParseSelection(s string) (Selection, error) {
	parts := strings.Split(s, "-")
	if len(parts) < 3 || len(parts) > 4 {
		return Selection{}, fmt.Errorf("malformed target selection %q: want os-arch-libc[-variant]", s)
	}
	host := Host()
	sel := Selection{
		OS:   resolveDefault(parts[0], host.OS),
		Arch: resolveDefault(parts[1], host.Arch),
		Libc: resolveDefault(parts[2], host.Libc),
	}
	if len(parts) == 4 {
		if parts[3] == "default" {
			return Selection{}, fmt.Errorf("malformed target selection %q: variant has no default", s)
		}
		sel.Variant = parts[3]
		sel.hasVariant = true
	}
	return sel, nil
}

// ParseSelections parses a list of request strings, each possibly holding
// several comma-separated selections. Empty elements are ignored.
func ParseSelections(args []string) ([]Selection, error) {
	var out []Selection
	for _, arg := range args {
		for _, s := range strings.Split(arg, ",") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			sel, err := ParseSelection(s)
			if err != nil {
				return nil, err
			}
			out = append(out, sel)
		}
	}
	return out, nil
}

// Concrete reports whether every component of the selection names one exact
// value, with no "*" wildcard left.
func (s Selection) Concrete() bool {
	if s.OS == "*" || s.Arch == "*" || s.Libc == "*" {
		return false
	}
	return !s.hasVariant || s.Variant != "*"
}

func resolveDefault(v, host string) string {
	if v == "default" {
		return host
	}
	return v
}

// Matches reports whether the selection covers a concrete target.
func (s Selection) Matches(t Target) bool {
	if !component(s.OS, t.OS) || !component(s.Arch, t.Arch) || !component(s.Libc, t.Libc) {
		return false
	}
	if !s.hasVariant {
		return t.Variant == ""
	}
	return component(s.Variant, t.Variant)
}

func component(pattern, value string) bool {
	return pattern == "*" || pattern == value
}

func (s Selection) String() string {
	name := fmt.Sprintf("%s-%s-%s", s.OS, s.Arch, s.Libc)
	if s.hasVariant {
		name += "-" + s.Variant
	}
	return name
}

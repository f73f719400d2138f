package suite

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a parsed major.minor.patch suite version.
type Version struct {
	Major, Minor, Patch int
}

// ParseVersion parses a "major.minor.patch" string.
func ParseVersion(s string) (Version, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return Version{}, fmt.Errorf("invalid version %q: want major.minor.patch", s)
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return Version{}, fmt.Errorf("invalid version %q: component %q is not a non-negative integer", s, p)
		}
		nums[i] = n
	}
	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Satisfies reports whether an available version is compatible with a pin:
// same major version, and the available minor is at least the pinned minor.
// Patch levels do not participate in compatibility.
func (v Version) Satisfies(pin Version) bool {
	return v.Major == pin.Major && v.Minor >= pin.Minor
}

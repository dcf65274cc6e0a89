package semver

import (
	"fmt"
	"strings"

	mm "github.com/Masterminds/semver/v3"
)

// Version is an OSGi bundle version: major.minor.micro[.qualifier].
//
// The numeric part is a thin wrapper around github.com/Masterminds/semver/v3.
// The qualifier is compared as a plain string, and an empty qualifier sorts
// first, which is where OSGi and semver prerelease ordering differ.
type Version struct {
	v         *mm.Version
	qualifier string
	raw       string
}

// ParseVersion parses an OSGi version. Missing minor or micro segments
// default to zero, so "3" and "3.0.0" are equal.
func ParseVersion(raw string) (Version, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Version{}, fmt.Errorf("semver: parse version %q: empty", raw)
	}
	parts := strings.SplitN(trimmed, ".", 4)
	numeric := []string{"0", "0", "0"}
	for i := 0; i < len(parts) && i < 3; i++ {
		numeric[i] = parts[i]
	}
	v, err := mm.StrictNewVersion(strings.Join(numeric, "."))
	if err != nil {
		return Version{}, fmt.Errorf("semver: parse version %q: %w", raw, err)
	}
	out := Version{v: v, raw: trimmed}
	if len(parts) == 4 {
		out.qualifier = parts[3]
	}
	return out, nil
}

func MustParseVersion(raw string) Version {
	v, err := ParseVersion(raw)
	if err != nil {
		panic(err)
	}
	return v
}

// Qualifier returns the fourth, free-form segment ("" if absent).
func (v Version) Qualifier() string { return v.qualifier }

func (v Version) String() string { return v.raw }

// Compare compares a and b, returning:
// -1 if a < b
//
//	0 if a == b
//	1 if a > b
//
// The zero Version sorts before every parsed version.
func Compare(a, b Version) int {
	if a.v == nil && b.v == nil {
		return 0
	}
	if a.v == nil {
		return -1
	}
	if b.v == nil {
		return 1
	}
	if c := a.v.Compare(b.v); c != 0 {
		return c
	}
	return strings.Compare(a.qualifier, b.qualifier)
}

// Newer reports whether raw version a is strictly newer than raw version b.
// Unparseable versions lose against parseable ones; two unparseable versions
// fall back to string comparison.
func Newer(a, b string) bool {
	va, errA := ParseVersion(a)
	vb, errB := ParseVersion(b)
	switch {
	case errA != nil && errB != nil:
		return a > b
	case errA != nil:
		return false
	case errB != nil:
		return true
	}
	return Compare(va, vb) > 0
}

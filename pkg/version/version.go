// Package version implements the universal-package semantic version model.
//
// Versions follow MAJOR.MINOR.PATCH[-PRERELEASE][+BUILD] where the numeric
// components are arbitrary-precision non-negative integers and prerelease
// and build metadata are dot-separated alphanumeric/hyphen identifiers.
//
// Ordering compares the numeric triple, then prerelease identifiers per the
// semver rules (a release sorts after any prerelease of the same triple),
// and finally build metadata as a tiebreaker. Equality excludes build
// metadata entirely: two versions differing only in build are equal for
// installation-skip purposes but still order deterministically.
package version

import (
	"math/big"
	"regexp"
	"strings"

	"github.com/upackio/upack/pkg/errors"
)

var semanticVersionRe = regexp.MustCompile(`\A([0-9]+)\.([0-9]+)\.([0-9]+)(?:-([0-9a-zA-Z.-]+))?(?:\+([0-9a-zA-Z.-]+))?\z`)

// Version is an immutable universal-package version.
// The zero value is not valid; use Parse.
type Version struct {
	Major, Minor, Patch big.Int
	Prerelease, Build   string
}

// Parse parses a version string.
// Leading zeros in numeric components are accepted as valid numerals of
// arbitrary magnitude. Empty or whitespace input is rejected.
func Parse(s string) (*Version, error) {
	match := semanticVersionRe.FindStringSubmatch(s)
	if match == nil {
		return nil, errors.New(errors.ErrCodeInvalidVersion, "%q is not a valid semantic version", s)
	}

	v := &Version{Prerelease: match[4], Build: match[5]}
	v.Major.SetString(match[1], 10)
	v.Minor.SetString(match[2], 10)
	v.Patch.SetString(match[3], 10)
	return v, nil
}

// Equals reports whether v and o denote the same installable version.
// Build metadata is excluded; prerelease comparison is case-insensitive.
func (v *Version) Equals(o *Version) bool {
	if v == o {
		return true
	}
	if v == nil || o == nil {
		return false
	}

	return v.Major.Cmp(&o.Major) == 0 &&
		v.Minor.Cmp(&o.Minor) == 0 &&
		v.Patch.Cmp(&o.Patch) == 0 &&
		strings.EqualFold(v.Prerelease, o.Prerelease)
}

// Compare returns -1, 0, or +1 when v sorts before, equal to, or after o.
// A nil Version sorts before everything. Build metadata participates only
// as the final tiebreaker.
func (v *Version) Compare(o *Version) int {
	if v == o {
		return 0
	}
	if v == nil {
		return -1
	}
	if o == nil {
		return 1
	}

	if diff := v.Major.Cmp(&o.Major); diff != 0 {
		return diff
	}
	if diff := v.Minor.Cmp(&o.Minor); diff != 0 {
		return diff
	}
	if diff := v.Patch.Cmp(&o.Patch); diff != 0 {
		return diff
	}
	if diff := comparePrerelease(v.Prerelease, o.Prerelease); diff != 0 {
		return diff
	}
	return compareBuild(v.Build, o.Build)
}

// comparePrerelease orders prerelease strings: absence sorts highest, numeric
// identifiers compare numerically and sort below alphanumeric ones, and a
// prefix with fewer identifiers sorts lower.
func comparePrerelease(a, b string) int {
	if a == "" && b == "" {
		return 0
	}
	if a == "" {
		return 1
	}
	if b == "" {
		return -1
	}

	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")

	for i := 0; ; i++ {
		if i >= len(as) && i >= len(bs) {
			return 0
		}
		if i >= len(as) {
			return -1
		}
		if i >= len(bs) {
			return 1
		}

		var an, bn big.Int
		_, aNumeric := an.SetString(as[i], 10)
		_, bNumeric := bn.SetString(bs[i], 10)

		switch {
		case aNumeric && bNumeric:
			if diff := an.Cmp(&bn); diff != 0 {
				return diff
			}
		case aNumeric:
			return -1
		case bNumeric:
			return 1
		default:
			if diff := strings.Compare(as[i], bs[i]); diff != 0 {
				return diff
			}
		}
	}
}

// compareBuild is numeric-aware then lexical. A version carrying build
// metadata sorts after the same version without it.
func compareBuild(a, b string) int {
	if a == "" && b == "" {
		return 0
	}
	if a == "" {
		return -1
	}
	if b == "" {
		return 1
	}

	var an, bn big.Int
	_, aNumeric := an.SetString(a, 10)
	_, bNumeric := bn.SetString(b, 10)
	if aNumeric && bNumeric {
		return an.Cmp(&bn)
	}

	return strings.Compare(strings.ToLower(a), strings.ToLower(b))
}

// String renders the version; the result round-trips through Parse.
func (v *Version) String() string {
	buf := make([]byte, 0, 32)
	buf = v.Major.Append(buf, 10)
	buf = append(buf, '.')
	buf = v.Minor.Append(buf, 10)
	buf = append(buf, '.')
	buf = v.Patch.Append(buf, 10)

	if v.Prerelease != "" {
		buf = append(buf, '-')
		buf = append(buf, v.Prerelease...)
	}
	if v.Build != "" {
		buf = append(buf, '+')
		buf = append(buf, v.Build...)
	}

	return string(buf)
}

// MarshalText implements encoding.TextMarshaler.
func (v *Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Version) UnmarshalText(b []byte) error {
	o, err := Parse(string(b))
	if err != nil {
		return err
	}
	v.Major.Set(&o.Major)
	v.Minor.Set(&o.Minor)
	v.Patch.Set(&o.Patch)
	v.Prerelease = o.Prerelease
	v.Build = o.Build
	return nil
}

package manifest

import (
	"strings"

	"github.com/upackio/upack/pkg/version"
)

// Dependency is one parsed dependency declaration. A dependency either pins
// an exact version or is unconstrained (Constraint == ""), in which case
// resolution picks the highest published version.
type Dependency struct {
	Identity   Identity
	Constraint string
}

// Unconstrained reports whether the dependency allows any version.
func (d Dependency) Unconstrained() bool { return d.Constraint == "" }

// ParseDependency interprets a dependency shorthand from a manifest.
//
// The string is split on ":" into at most three parts:
//
//	name               bare name, unconstrained
//	name:*             unconstrained
//	name:1.2.3         pinned version
//	group:name         second part is not a version: both form the identity
//	group:name:*       unconstrained
//	group:name:1.2.3   pinned version
//
// A pinned version is canonicalized (leading zeros dropped). The three-part
// form keeps an unparseable version text verbatim; resolution rejects it
// later with the precise version error.
func ParseDependency(s string) Dependency {
	parts := strings.SplitN(s, ":", 3)
	switch len(parts) {
	case 1:
		return Dependency{Identity: ParseIdentity(parts[0])}
	case 2:
		if parts[1] == "*" {
			return Dependency{Identity: ParseIdentity(parts[0])}
		}
		if v, err := version.Parse(parts[1]); err == nil {
			return Dependency{Identity: ParseIdentity(parts[0]), Constraint: v.String()}
		}
		return Dependency{Identity: Identity{Group: parts[0], Name: parts[1]}}
	default:
		d := Dependency{Identity: Identity{Group: parts[0], Name: parts[1]}}
		if parts[2] != "*" {
			d.Constraint = parts[2]
		}
		return d
	}
}

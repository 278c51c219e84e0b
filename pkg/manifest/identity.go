package manifest

import (
	"strings"

	"github.com/upackio/upack/pkg/errors"
)

// Identity names a package: an optional slash-separated group and a name.
// The canonical display form is "group/name", or the bare name when the
// group is empty.
type Identity struct {
	Group string
	Name  string
}

// ParseIdentity splits a user-supplied package reference into group and
// name. Both "group/name" and "group:name" spellings are accepted; every
// segment but the last forms the group.
func ParseIdentity(s string) Identity {
	parts := strings.Split(strings.ReplaceAll(s, ":", "/"), "/")
	if len(parts) == 1 {
		return Identity{Name: parts[0]}
	}
	return Identity{
		Group: strings.Join(parts[:len(parts)-1], "/"),
		Name:  parts[len(parts)-1],
	}
}

// String returns the canonical display form.
func (id Identity) String() string {
	if id.Group != "" {
		return id.Group + "/" + id.Name
	}
	return id.Name
}

// Validate checks charset and length bounds for group and name.
func (id Identity) Validate() error {
	if id.Group != "" {
		if len(id.Group) > 250 {
			return errors.New(errors.ErrCodeInvalidPackage, "group must be between 0 and 250 characters long")
		}
		if invalid := findChars(id.Group, func(c rune) bool {
			return !isNameRune(c) && c != '/'
		}); len(invalid) > 0 {
			return errors.New(errors.ErrCodeInvalidPackage, "group contains invalid characters: '%s'", strings.Join(invalid, "', '"))
		}
		if strings.HasPrefix(id.Group, "/") || strings.HasSuffix(id.Group, "/") {
			return errors.New(errors.ErrCodeInvalidPackage, "group must not start or end with a slash")
		}
	}

	if id.Name == "" {
		return errors.New(errors.ErrCodeInvalidPackage, "missing name")
	}
	if len(id.Name) > 50 {
		return errors.New(errors.ErrCodeInvalidPackage, "name must be between 1 and 50 characters long")
	}
	if invalid := findChars(id.Name, func(c rune) bool { return !isNameRune(c) }); len(invalid) > 0 {
		return errors.New(errors.ErrCodeInvalidPackage, "name contains invalid characters: '%s'", strings.Join(invalid, "', '"))
	}

	return nil
}

func isNameRune(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
		c == '-' || c == '.' || c == '_'
}

// findChars returns each distinct rune of s matching f, in encounter order.
func findChars(s string, f func(rune) bool) []string {
	var chars []string
	seen := make(map[rune]bool)

	for _, r := range s {
		if f(r) && !seen[r] {
			chars = append(chars, string(r))
			seen[r] = true
		}
	}

	return chars
}

// Package manifest models the upack.json document embedded in every
// universal package: the package identity, version, optional display
// metadata, and the ordered list of dependency declarations.
//
// The document is an open JSON object. Well-known fields are exposed as
// typed accessors; unknown fields (audit history and other forward-compatible
// extensions) are preserved in order and written back verbatim on
// serialization.
package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/upackio/upack/pkg/errors"
	"github.com/upackio/upack/pkg/version"
)

// FileName is the manifest's path at the archive root.
const FileName = "upack.json"

// Manifest is the deserialized upack.json contents. Read-only once loaded.
type Manifest struct {
	Group        string
	Name         string
	Version      string
	Title        string
	Description  string
	IconURL      string
	Dependencies []string

	// extra holds unknown fields in document order.
	extra []extraField
}

type extraField struct {
	key   string
	value json.RawMessage
}

// Read decodes a manifest document from r.
func Read(r io.Reader) (*Manifest, error) {
	var m Manifest
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidManifest, err, "reading %s", FileName)
	}
	return &m, nil
}

// Identity returns the package identity.
func (m *Manifest) Identity() Identity {
	return Identity{Group: m.Group, Name: m.Name}
}

// GroupAndName returns the canonical display name.
func (m *Manifest) GroupAndName() string {
	return m.Identity().String()
}

// ParsedVersion parses the manifest's version field.
func (m *Manifest) ParsedVersion() (*version.Version, error) {
	return version.Parse(m.Version)
}

// ExtraKeys returns the unknown field names in document order.
func (m *Manifest) ExtraKeys() []string {
	keys := make([]string, len(m.extra))
	for i, f := range m.extra {
		keys[i] = f.key
	}
	return keys
}

// Validate checks identity bounds, version syntax, and title length.
func (m *Manifest) Validate() error {
	if err := m.Identity().Validate(); err != nil {
		return err
	}
	if _, err := version.Parse(m.Version); err != nil {
		return errors.New(errors.ErrCodeInvalidManifest, "missing or invalid version")
	}
	if len(m.Title) > 50 {
		return errors.New(errors.ErrCodeInvalidManifest, "title must be between 0 and 50 characters long")
	}
	return nil
}

// UnmarshalJSON decodes the open manifest object, keeping unknown fields in
// document order.
func (m *Manifest) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok != json.Delim('{') {
		return fmt.Errorf("expected JSON object, got %v", tok)
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key := tok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}

		switch key {
		case "group":
			err = json.Unmarshal(raw, &m.Group)
		case "name":
			err = json.Unmarshal(raw, &m.Name)
		case "version":
			err = json.Unmarshal(raw, &m.Version)
		case "title":
			err = json.Unmarshal(raw, &m.Title)
		case "description":
			err = json.Unmarshal(raw, &m.Description)
		case "icon":
			err = json.Unmarshal(raw, &m.IconURL)
		case "dependencies":
			err = json.Unmarshal(raw, &m.Dependencies)
		default:
			m.extra = append(m.extra, extraField{key: key, value: raw})
		}
		if err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
	}

	// Closing brace.
	_, err = dec.Token()
	return err
}

// MarshalJSON writes the well-known fields (empty optional fields omitted)
// followed by the preserved unknown fields in their original order.
func (m *Manifest) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	writeField := func(key string, v any) error {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return err
		}
		buf.Write(k)
		buf.WriteByte(':')
		val, err := json.Marshal(v)
		if err != nil {
			return err
		}
		buf.Write(val)
		return nil
	}

	if m.Group != "" {
		if err := writeField("group", m.Group); err != nil {
			return nil, err
		}
	}
	if err := writeField("name", m.Name); err != nil {
		return nil, err
	}
	if err := writeField("version", m.Version); err != nil {
		return nil, err
	}
	if m.Title != "" {
		if err := writeField("title", m.Title); err != nil {
			return nil, err
		}
	}
	if m.Description != "" {
		if err := writeField("description", m.Description); err != nil {
			return nil, err
		}
	}
	if m.IconURL != "" {
		if err := writeField("icon", m.IconURL); err != nil {
			return nil, err
		}
	}
	if len(m.Dependencies) > 0 {
		if err := writeField("dependencies", m.Dependencies); err != nil {
			return nil, err
		}
	}
	for _, f := range m.extra {
		if err := writeField(f.key, f.value); err != nil {
			return nil, err
		}
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

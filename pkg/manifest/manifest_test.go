package manifest

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestReadKnownFields(t *testing.T) {
	doc := `{
		"group": "tools/build",
		"name": "hello",
		"version": "1.2.3",
		"title": "Hello",
		"description": "Example package",
		"icon": "https://example.test/icon.png",
		"dependencies": ["utils:1.0.0", "common/base:*"]
	}`

	m, err := Read(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	if m.Group != "tools/build" || m.Name != "hello" || m.Version != "1.2.3" {
		t.Errorf("identity fields = %q %q %q", m.Group, m.Name, m.Version)
	}
	if m.GroupAndName() != "tools/build/hello" {
		t.Errorf("GroupAndName() = %q", m.GroupAndName())
	}
	if len(m.Dependencies) != 2 || m.Dependencies[0] != "utils:1.0.0" {
		t.Errorf("Dependencies = %v", m.Dependencies)
	}
	if err := m.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestExtraFieldsPreservedInOrder(t *testing.T) {
	doc := `{"name":"pkg","zeta":1,"version":"1.0.0","audit":{"by":"ci"},"alpha":[true]}`

	var m Manifest
	if err := json.Unmarshal([]byte(doc), &m); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	wantKeys := []string{"zeta", "audit", "alpha"}
	gotKeys := m.ExtraKeys()
	if len(gotKeys) != len(wantKeys) {
		t.Fatalf("ExtraKeys = %v, want %v", gotKeys, wantKeys)
	}
	for i := range wantKeys {
		if gotKeys[i] != wantKeys[i] {
			t.Errorf("ExtraKeys[%d] = %q, want %q", i, gotKeys[i], wantKeys[i])
		}
	}

	out, err := json.Marshal(&m)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	// Known fields first, extras afterwards in original order.
	want := `{"name":"pkg","version":"1.0.0","zeta":1,"audit":{"by":"ci"},"alpha":[true]}`
	if string(out) != want {
		t.Errorf("Marshal = %s, want %s", out, want)
	}
}

func TestMarshalOmitsEmptyOptionalFields(t *testing.T) {
	m := Manifest{Name: "pkg", Version: "1.0.0"}
	out, err := json.Marshal(&m)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(out) != `{"name":"pkg","version":"1.0.0"}` {
		t.Errorf("Marshal = %s", out)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		m       Manifest
		wantErr string
	}{
		{
			name: "valid minimal",
			m:    Manifest{Name: "pkg", Version: "1.0.0"},
		},
		{
			name:    "missing name",
			m:       Manifest{Version: "1.0.0"},
			wantErr: "missing name",
		},
		{
			name:    "invalid name charset",
			m:       Manifest{Name: "pkg name", Version: "1.0.0"},
			wantErr: "name contains invalid character",
		},
		{
			name:    "name too long",
			m:       Manifest{Name: strings.Repeat("a", 51), Version: "1.0.0"},
			wantErr: "name must be between 1 and 50",
		},
		{
			name:    "group too long",
			m:       Manifest{Group: strings.Repeat("g", 251), Name: "pkg", Version: "1.0.0"},
			wantErr: "group must be between 0 and 250",
		},
		{
			name:    "group leading slash",
			m:       Manifest{Group: "/grp", Name: "pkg", Version: "1.0.0"},
			wantErr: "must not start or end with a slash",
		},
		{
			name:    "group invalid charset",
			m:       Manifest{Group: "gr p", Name: "pkg", Version: "1.0.0"},
			wantErr: "group contains invalid character",
		},
		{
			name:    "bad version",
			m:       Manifest{Name: "pkg", Version: "one"},
			wantErr: "missing or invalid version",
		},
		{
			name:    "title too long",
			m:       Manifest{Name: "pkg", Version: "1.0.0", Title: strings.Repeat("t", 51)},
			wantErr: "title must be between 0 and 50",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.m.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseIdentity(t *testing.T) {
	tests := []struct {
		in    string
		group string
		name  string
	}{
		{"hello", "", "hello"},
		{"tools/hello", "tools", "hello"},
		{"tools:hello", "tools", "hello"},
		{"a/b/c", "a/b", "c"},
	}
	for _, tt := range tests {
		id := ParseIdentity(tt.in)
		if id.Group != tt.group || id.Name != tt.name {
			t.Errorf("ParseIdentity(%q) = %+v, want {%s %s}", tt.in, id, tt.group, tt.name)
		}
	}
}

func TestParseDependency(t *testing.T) {
	tests := []struct {
		in         string
		group      string
		name       string
		constraint string
	}{
		{"utils", "", "utils", ""},
		{"utils:*", "", "utils", ""},
		{"utils:1.2.3", "", "utils", "1.2.3"},
		{"utils:01.2.3", "", "utils", "1.2.3"}, // canonicalized
		{"grp:utils", "grp", "utils", ""},      // second part not a version
		{"grp:utils:*", "grp", "utils", ""},
		{"grp:utils:2.0.0-rc.1", "grp", "utils", "2.0.0-rc.1"},
		{"nested/grp/utils:1.0.0", "nested/grp", "utils", "1.0.0"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			d := ParseDependency(tt.in)
			if d.Identity.Group != tt.group || d.Identity.Name != tt.name || d.Constraint != tt.constraint {
				t.Errorf("ParseDependency(%q) = %+v, want {{%s %s} %s}", tt.in, d, tt.group, tt.name, tt.constraint)
			}
			if got := d.Unconstrained(); got != (tt.constraint == "") {
				t.Errorf("Unconstrained() = %v", got)
			}
		})
	}
}

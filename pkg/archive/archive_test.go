package archive

import (
	"bytes"
	"crypto/sha256"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// buildPackage assembles an in-memory package with the given manifest JSON
// and content entries. Entries ending in "/" become directories.
func buildPackage(t *testing.T, manifestJSON string, contents map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.AddStream("upack.json", strings.NewReader(manifestJSON)); err != nil {
		t.Fatalf("AddStream manifest: %v", err)
	}
	for path, data := range contents {
		if strings.HasSuffix(path, "/") {
			if err := w.AddStream(ContentPrefix+path, strings.NewReader("")); err != nil {
				t.Fatalf("AddStream dir %s: %v", path, err)
			}
			continue
		}
		if err := w.AddStream(ContentPrefix+path, strings.NewReader(data)); err != nil {
			t.Fatalf("AddStream %s: %v", path, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return buf.Bytes()
}

func openPackage(t *testing.T, data []byte) *Reader {
	t.Helper()
	r, err := OpenReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	return r
}

func TestManifest(t *testing.T) {
	data := buildPackage(t, `{"name":"hello","version":"1.0.0"}`, nil)
	r := openPackage(t, data)

	m, err := r.Manifest()
	if err != nil {
		t.Fatalf("Manifest: %v", err)
	}
	if m.Name != "hello" || m.Version != "1.0.0" {
		t.Errorf("manifest = %q %q", m.Name, m.Version)
	}
}

func TestManifestMissing(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.AddStream(ContentPrefix+"a.txt", strings.NewReader("x")); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	r := openPackage(t, buf.Bytes())
	if _, err := r.Manifest(); err == nil {
		t.Error("Manifest() succeeded without upack.json")
	}
}

func TestContents(t *testing.T) {
	data := buildPackage(t, `{"name":"hello","version":"1.0.0"}`, map[string]string{
		"bin/app":         "binary",
		"config/app.txt":  "settings",
		"config/sub/x.md": "doc",
		"empty/":          "",
	})
	r := openPackage(t, data)

	dirs, files, err := r.Contents()
	if err != nil {
		t.Fatalf("Contents: %v", err)
	}

	for _, d := range []string{"bin", "config", "config/sub", "empty"} {
		if _, ok := dirs[d]; !ok {
			t.Errorf("missing dir %q (got %v)", d, dirs)
		}
	}
	if len(files) != 3 {
		t.Errorf("files = %v, want 3 entries", files)
	}

	want := sha256.Sum256([]byte("settings"))
	if files["config/app.txt"] != FileHash(want) {
		t.Errorf("hash mismatch for config/app.txt")
	}

	// Metadata entries are never content.
	if _, ok := files["upack.json"]; ok {
		t.Error("upack.json leaked into content files")
	}
}

func TestExtract(t *testing.T) {
	data := buildPackage(t, `{"name":"hello","version":"1.0.0"}`, map[string]string{
		"bin/app":        "binary",
		"config/app.txt": "settings",
	})
	r := openPackage(t, data)

	dir := t.TempDir()
	res, err := r.Extract(dir, ExtractOptions{})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Files != 2 {
		t.Errorf("Files = %d, want 2", res.Files)
	}

	got, err := os.ReadFile(filepath.Join(dir, "config", "app.txt"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "settings" {
		t.Errorf("extracted content = %q", got)
	}

	// Second extraction without Overwrite must refuse to clobber.
	if _, err := r.Extract(dir, ExtractOptions{}); err == nil {
		t.Error("Extract succeeded over existing files without Overwrite")
	}
	if _, err := r.Extract(dir, ExtractOptions{Overwrite: true}); err != nil {
		t.Errorf("Extract with Overwrite: %v", err)
	}
}

func TestOpenFile(t *testing.T) {
	data := buildPackage(t, `{"name":"hello","version":"1.0.0"}`, nil)
	path := filepath.Join(t.TempDir(), "hello-1.0.0.upack")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	if m, err := f.Manifest(); err != nil || m.Name != "hello" {
		t.Errorf("Manifest = %v, %v", m, err)
	}

	if _, err := Open(filepath.Join(t.TempDir(), "missing.upack")); err == nil {
		t.Error("Open succeeded on missing file")
	}
}

func TestSHA1(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blob")
	if err := os.WriteFile(path, []byte("abc"), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := SHA1(path)
	if err != nil {
		t.Fatalf("SHA1: %v", err)
	}
	// Well-known digest of "abc".
	if got != "a9993e364706816aba3e25717850c26c9cd0d89d" {
		t.Errorf("SHA1 = %s", got)
	}
}

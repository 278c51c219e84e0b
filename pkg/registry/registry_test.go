package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/upackio/upack/pkg/errors"
	"github.com/upackio/upack/pkg/manifest"
	"github.com/upackio/upack/pkg/version"
)

func mustVersion(t *testing.T, s string) *version.Version {
	t.Helper()
	v, err := version.Parse(s)
	if err != nil {
		t.Fatalf("parsing %q: %v", s, err)
	}
	return v
}

func TestListInstalledMissingFile(t *testing.T) {
	r := At(t.TempDir())

	packages, err := r.ListInstalled(context.Background())
	if err != nil {
		t.Fatalf("ListInstalled: %v", err)
	}
	if len(packages) != 0 {
		t.Errorf("expected empty registry, got %d records", len(packages))
	}
}

func TestUnregisteredIsNoop(t *testing.T) {
	r := Unregistered()

	if err := r.Register(context.Background(), &InstalledPackage{Name: "x", Version: mustVersion(t, "1.0.0")}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	packages, err := r.ListInstalled(context.Background())
	if err != nil || packages != nil {
		t.Errorf("got %v, %v; want nil, nil", packages, err)
	}
}

func TestRegisterAndList(t *testing.T) {
	r := At(t.TempDir())
	ctx := context.Background()

	pkg := &InstalledPackage{
		Group:            "acme/tools",
		Name:             "utils",
		Version:          mustVersion(t, "1.0.0"),
		Path:             "/opt/utils",
		Feed:             "https://feed.example.com",
		InstallationDate: Now(),
		InstalledUsing:   "upack/1.0",
	}
	if err := r.Register(ctx, pkg); err != nil {
		t.Fatalf("Register: %v", err)
	}

	// Same identity and version again, different case and build metadata.
	dup := &InstalledPackage{
		Group:   "ACME/Tools",
		Name:    "Utils",
		Version: mustVersion(t, "1.0.0+rebuild"),
		Path:    "/elsewhere",
	}
	if err := r.Register(ctx, dup); err != nil {
		t.Fatalf("Register duplicate: %v", err)
	}

	// A different version of the same identity coexists.
	other := &InstalledPackage{
		Group:   "acme/tools",
		Name:    "utils",
		Version: mustVersion(t, "2.0.0"),
		Path:    "/opt/utils2",
	}
	if err := r.Register(ctx, other); err != nil {
		t.Fatalf("Register other version: %v", err)
	}

	packages, err := r.ListInstalled(ctx)
	if err != nil {
		t.Fatalf("ListInstalled: %v", err)
	}
	if len(packages) != 2 {
		t.Fatalf("got %d records, want 2", len(packages))
	}
	if packages[0].Path != "/opt/utils" {
		t.Errorf("first record path = %q, duplicate registration must not replace it", packages[0].Path)
	}

	// The lock must be gone after each operation.
	if _, err := os.Stat(filepath.Join(r.Root(), lockFile)); !os.IsNotExist(err) {
		t.Errorf("lock file left behind: %v", err)
	}
}

func TestRecordFieldNames(t *testing.T) {
	r := At(t.TempDir())

	pkg := &InstalledPackage{
		Name:    "solo",
		Version: mustVersion(t, "1.0.0"),
		Path:    "/opt/solo",
	}
	if err := r.Register(context.Background(), pkg); err != nil {
		t.Fatalf("Register: %v", err)
	}

	b, err := os.ReadFile(filepath.Join(r.Root(), installedFile))
	if err != nil {
		t.Fatalf("reading database: %v", err)
	}

	var raw []map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatalf("decoding database: %v", err)
	}
	rec := raw[0]
	for _, key := range []string{"name", "version", "path", "installedUsing"} {
		if _, ok := rec[key]; !ok {
			t.Errorf("missing field %q", key)
		}
	}
	for _, key := range []string{"group", "feed", "installationReason", "installedBy"} {
		if _, ok := rec[key]; ok {
			t.Errorf("empty field %q must be omitted", key)
		}
	}
}

func TestLockBlocksWhileFresh(t *testing.T) {
	r := At(t.TempDir())

	lockPath := filepath.Join(r.Root(), lockFile)
	if err := os.WriteFile(lockPath, []byte("[123] another process\nsometoken\n"), 0666); err != nil {
		t.Fatal(err)
	}

	err := r.withLock(func() error { return nil }, "test")
	if !errors.Is(err, errors.ErrCodeRegistryLocked) {
		t.Fatalf("expected REGISTRY_LOCKED, got %v", err)
	}
	if got := errors.UserMessage(err); got != "registry is locked: [123] another process" {
		t.Errorf("message = %q", got)
	}
}

func TestLockStaleReclaim(t *testing.T) {
	r := At(t.TempDir())

	lockPath := filepath.Join(r.Root(), lockFile)
	if err := os.WriteFile(lockPath, []byte("[123] dead process\nsometoken\n"), 0666); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-time.Minute)
	if err := os.Chtimes(lockPath, old, old); err != nil {
		t.Fatal(err)
	}

	ran := false
	if err := r.withLock(func() error { ran = true; return nil }, "test"); err != nil {
		t.Fatalf("withLock: %v", err)
	}
	if !ran {
		t.Error("task did not run after reclaiming stale lock")
	}
	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Error("lock file not removed on release")
	}
}

func TestLockStolenTokenDetected(t *testing.T) {
	r := At(t.TempDir())
	lockPath := filepath.Join(r.Root(), lockFile)

	err := r.withLock(func() error {
		return os.WriteFile(lockPath, []byte("[999] thief\nother-token\n"), 0666)
	}, "test")
	if err == nil {
		t.Fatal("expected token mismatch error")
	}
}

func TestGetOrDownloadCaches(t *testing.T) {
	r := At(t.TempDir())
	ctx := context.Background()
	id := manifest.Identity{Group: "acme/tools", Name: "utils"}
	v := mustVersion(t, "1.2.3")

	fetches := 0
	fetch := func(ctx context.Context, w io.Writer) error {
		fetches++
		_, err := w.Write([]byte("archive bytes"))
		return err
	}

	for i := 0; i < 2; i++ {
		f, done, err := r.GetOrDownload(ctx, id, v, fetch, true)
		if err != nil {
			t.Fatalf("GetOrDownload #%d: %v", i, err)
		}
		b, err := io.ReadAll(f)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(b, []byte("archive bytes")) {
			t.Errorf("read %q", b)
		}
		if err := done(); err != nil {
			t.Fatal(err)
		}
	}
	if fetches != 1 {
		t.Errorf("fetched %d times, want 1", fetches)
	}

	want := filepath.Join(r.Root(), "packageCache", "acme$tools$utils", "utils.1.2.3.upack")
	if _, err := os.Stat(want); err != nil {
		t.Errorf("cache slot %s: %v", want, err)
	}
}

func TestGetOrDownloadFetchFailureCleansSlot(t *testing.T) {
	r := At(t.TempDir())
	id := manifest.Identity{Name: "utils"}
	v := mustVersion(t, "1.0.0")

	wantErr := errors.New(errors.ErrCodeNetwork, "connection reset")
	_, _, err := r.GetOrDownload(context.Background(), id, v, func(ctx context.Context, w io.Writer) error {
		io.WriteString(w, "partial")
		return wantErr
	}, true)
	if !errors.Is(err, errors.ErrCodeNetwork) {
		t.Fatalf("got %v", err)
	}

	if _, err := os.Stat(r.CachePath(id, v)); !os.IsNotExist(err) {
		t.Error("failed download left a cache slot behind")
	}
}

func TestGetOrDownloadNoCache(t *testing.T) {
	r := At(t.TempDir())
	id := manifest.Identity{Name: "utils"}
	v := mustVersion(t, "1.0.0")

	f, done, err := r.GetOrDownload(context.Background(), id, v, func(ctx context.Context, w io.Writer) error {
		_, err := w.Write([]byte("bytes"))
		return err
	}, false)
	if err != nil {
		t.Fatalf("GetOrDownload: %v", err)
	}
	tempName := f.Name()
	if err := done(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(tempName); !os.IsNotExist(err) {
		t.Error("temp file not deleted by closer")
	}
	if _, err := os.Stat(r.CachePath(id, v)); !os.IsNotExist(err) {
		t.Error("cache slot created despite useCache=false")
	}
}

func TestDateLegacyFormat(t *testing.T) {
	var d Date
	if err := d.UnmarshalText([]byte("2019-08-01T15:30:00")); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	want := time.Date(2019, 8, 1, 15, 30, 0, 0, time.UTC)
	if !d.Time.Equal(want) {
		t.Errorf("parsed %v, want %v", d.Time, want)
	}

	// The original text is preserved on rewrite.
	b, err := d.MarshalText()
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "2019-08-01T15:30:00" {
		t.Errorf("marshaled %q", b)
	}
}

func TestDateRoundTrip(t *testing.T) {
	d := Now()
	b, err := json.Marshal(d)
	if err != nil {
		t.Fatal(err)
	}
	var back Date
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatal(err)
	}
	if !back.Time.Equal(d.Time) {
		t.Errorf("round trip %v != %v", back.Time, d.Time)
	}
}

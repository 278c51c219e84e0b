// Package registry implements the local package registry: a root directory
// holding the installed-package database, the content-addressed package
// cache, and the cross-process lock that guards both.
//
// Two well-known roots exist (machine-wide and per-user) plus explicit
// overrides. A Registry with an empty root is the "unregistered" registry:
// registration calls become no-ops and listing returns nothing.
package registry

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/upackio/upack/pkg/buildinfo"
	"github.com/upackio/upack/pkg/errors"
	"github.com/upackio/upack/pkg/manifest"
	"github.com/upackio/upack/pkg/version"
)

// appName is recorded as the installing application when the caller does
// not supply one.
const appName = "upack"

// LogFunc receives progress messages. A nil LogFunc discards them.
type LogFunc func(format string, args ...any)

// Registry is a package registry rooted at a directory. The zero value is
// the unregistered registry.
type Registry struct {
	root string
	logf LogFunc
}

// Machine returns the machine-wide registry. The root can be overridden
// with the UPACK_REGISTRY environment variable.
func Machine() Registry {
	if override := os.Getenv("UPACK_REGISTRY"); override != "" {
		return Registry{root: override}
	}
	if runtime.GOOS == "windows" {
		return Registry{root: filepath.Join(os.Getenv("ProgramData"), "upack")}
	}
	return Registry{root: "/var/lib/upack"}
}

// User returns the current user's registry (~/.upack).
func User() (Registry, error) {
	u, err := user.Current()
	if err != nil {
		return Registry{}, err
	}
	return Registry{root: filepath.Join(u.HomeDir, ".upack")}, nil
}

// At returns a registry rooted at an explicit directory.
func At(root string) Registry {
	return Registry{root: root}
}

// Unregistered returns the registry whose operations are no-ops.
func Unregistered() Registry {
	return Registry{}
}

// WithLogger returns a copy of r that reports lock contention progress
// through logf.
func (r Registry) WithLogger(logf LogFunc) Registry {
	r.logf = logf
	return r
}

// Root returns the registry's root directory, empty for unregistered.
func (r Registry) Root() string { return r.root }

func (r Registry) log(format string, args ...any) {
	if r.logf != nil {
		r.logf(format, args...)
	}
}

// InstalledPackage is one record of the installed-package database.
type InstalledPackage struct {
	Group   string           `json:"group,omitempty"`
	Name    string           `json:"name"`
	Version *version.Version `json:"version"`

	// Absolute path the package content was installed to.
	Path string `json:"path"`

	// Feed the package came from.
	Feed string `json:"feed,omitempty"`

	// UTC timestamp of the original installation.
	InstallationDate *Date `json:"installationDate,omitempty"`

	InstallationReason string `json:"installationReason,omitempty"`
	InstalledUsing     string `json:"installedUsing,omitempty"`
	InstalledBy        string `json:"installedBy,omitempty"`
}

// Identity returns the record's package identity.
func (p *InstalledPackage) Identity() manifest.Identity {
	return manifest.Identity{Group: p.Group, Name: p.Name}
}

// Date is an installation timestamp. It writes RFC 3339 with nanoseconds
// and additionally accepts the older second-precision local format on read,
// preserving the original text so rewrites do not churn the file.
type Date struct {
	Time time.Time

	originalText string
}

const legacyDateFormat = "2006-01-02T15:04:05"

// Now returns the current UTC time as a Date.
func Now() *Date {
	return &Date{Time: time.Now().UTC()}
}

// MarshalText implements encoding.TextMarshaler.
func (d Date) MarshalText() ([]byte, error) {
	if d.originalText != "" {
		return []byte(d.originalText), nil
	}
	return []byte(d.Time.Format(time.RFC3339Nano)), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Date) UnmarshalText(b []byte) error {
	d.originalText = string(b)
	t, err := time.ParseInLocation(legacyDateFormat, d.originalText, time.UTC)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, d.originalText)
	}
	if err != nil {
		return err
	}
	d.Time = t
	return nil
}

const installedFile = "installedPackages.json"

// ListInstalled returns the installed-package records. A missing database
// file means an empty registry, not an error.
func (r Registry) ListInstalled(ctx context.Context) ([]*InstalledPackage, error) {
	if r.root == "" {
		return nil, nil
	}

	var packages []*InstalledPackage
	err := r.retry(ctx, func() error {
		return r.withLock(func() error {
			f, err := os.Open(filepath.Join(r.root, installedFile))
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return err
			}
			defer f.Close()
			return json.NewDecoder(f).Decode(&packages)
		}, "listing installed packages")
	})
	if err != nil {
		return nil, err
	}
	return packages, nil
}

// Register appends pkg to the installed-package database. Registering an
// identity+version pair that is already present is a no-op; distinct
// versions of the same identity coexist as separate records.
func (r Registry) Register(ctx context.Context, pkg *InstalledPackage) error {
	if r.root == "" {
		return nil
	}

	description := "checking installation status of " + pkg.Identity().String() + " " + pkg.Version.String()

	return r.retry(ctx, func() error {
		return r.withLock(func() error {
			var packages []*InstalledPackage

			path := filepath.Join(r.root, installedFile)
			f, err := os.Open(path)
			if err == nil {
				err = json.NewDecoder(f).Decode(&packages)
				f.Close()
				if err != nil {
					return err
				}
			} else if !os.IsNotExist(err) {
				return err
			}

			for _, existing := range packages {
				if strings.EqualFold(existing.Group, pkg.Group) &&
					strings.EqualFold(existing.Name, pkg.Name) &&
					existing.Version.Equals(pkg.Version) {
					return nil
				}
			}

			if pkg.InstalledUsing == "" {
				pkg.InstalledUsing = appName + "/" + buildinfo.Version
			}
			packages = append(packages, pkg)

			f, err = os.Create(path)
			if err != nil {
				return err
			}
			defer f.Close()
			return json.NewEncoder(f).Encode(packages)
		}, description)
	})
}

// CachePath returns the cache slot for an exact package version. The group's
// slashes are flattened to '$' so the slot is a single directory level.
func (r Registry) CachePath(id manifest.Identity, v *version.Version) string {
	dir := strings.ReplaceAll(id.Group, "/", "$") + "$" + id.Name
	return filepath.Join(r.root, "packageCache", dir, id.Name+"."+v.String()+".upack")
}

// FetchFunc streams the archive bytes of one package version into w.
type FetchFunc func(ctx context.Context, w io.Writer) error

// GetOrDownload returns an open reader over the package's archive, fetching
// it if needed. The returned closer must be called when done.
//
// With useCache, the registry's cache slot is used: a present slot is opened
// directly; otherwise the slot is claimed with an exclusive create and
// filled via fetch. Losing the exclusive create to a concurrent process
// surfaces as a REGISTRY_LOCKED error so the caller's retry policy re-checks
// the slot. Without useCache (or on the unregistered registry) the bytes go
// to a temp file that the closer deletes.
func (r Registry) GetOrDownload(ctx context.Context, id manifest.Identity, v *version.Version, fetch FetchFunc, useCache bool) (*os.File, func() error, error) {
	if r.root == "" || !useCache {
		f, err := os.CreateTemp("", "upack")
		if err != nil {
			return nil, nil, err
		}
		tempName := f.Name()

		err = fetch(ctx, f)
		if err == nil {
			_, err = f.Seek(0, io.SeekStart)
		}
		if err != nil {
			f.Close()
			os.Remove(tempName)
			return nil, nil, err
		}

		return f, func() error {
			err := f.Close()
			if e := os.Remove(tempName); err == nil {
				err = e
			}
			return err
		}, nil
	}

	cachePath := r.CachePath(id, v)

	f, err := os.Open(cachePath)
	if err == nil {
		return f, f.Close, nil
	}
	if !os.IsNotExist(err) {
		return nil, nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cachePath), 0777); err != nil {
		return nil, nil, err
	}

	f, err = os.OpenFile(cachePath, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0666)
	if err != nil {
		if os.IsExist(err) {
			return nil, nil, errors.New(errors.ErrCodeRegistryLocked,
				"package %s %s is being downloaded by another process", id, v)
		}
		return nil, nil, err
	}

	err = fetch(ctx, f)
	if err == nil {
		_, err = f.Seek(0, io.SeekStart)
	}
	if err != nil {
		f.Close()
		os.Remove(cachePath)
		return nil, nil, err
	}

	return f, f.Close, nil
}

// Package archive implements the universal-package container codec.
//
// A package is a zip container. Entries under the "package/" prefix are
// installable content; everything else (notably upack.json at the root) is
// package metadata. The codec exposes entry enumeration, manifest and
// content extraction, and a minimal writer used to assemble packages.
package archive

import (
	"archive/zip"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/upackio/upack/pkg/errors"
	"github.com/upackio/upack/pkg/manifest"
)

// ContentPrefix marks installable entries inside the container.
const ContentPrefix = "package/"

// FileHash is the sha256 digest of a content entry.
type FileHash [sha256.Size]byte

// String returns the lowercase hex form of the hash.
func (h FileHash) String() string { return hex.EncodeToString(h[:]) }

// Reader enumerates and extracts the entries of an open package.
type Reader struct {
	zr *zip.Reader
}

// Entry is a single archive member.
type Entry struct {
	Path  string
	IsDir bool

	zf *zip.File
}

// Open returns the entry's byte stream. Directories have no stream.
func (e Entry) Open() (io.ReadCloser, error) { return e.zf.Open() }

// OpenReader opens a package from a random-access byte source.
func OpenReader(r io.ReaderAt, size int64) (*Reader, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidPackage, err, "opening package archive")
	}
	return &Reader{zr: zr}, nil
}

// File is a Reader over a package file on disk; Close releases the file.
type File struct {
	Reader
	f *os.File
}

// Open opens a package file on disk.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidPackage, err, "the package %q does not exist or could not be opened", path)
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	r, err := OpenReader(f, fi.Size())
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &File{Reader: *r, f: f}, nil
}

// Close releases the underlying file.
func (f *File) Close() error { return f.f.Close() }

// Entries lists all archive members in container order.
func (r *Reader) Entries() []Entry {
	entries := make([]Entry, len(r.zr.File))
	for i, zf := range r.zr.File {
		entries[i] = Entry{
			Path:  zf.Name,
			IsDir: zf.Mode().IsDir(),
			zf:    zf,
		}
	}
	return entries
}

// Manifest reads and decodes the upack.json metadata entry.
func (r *Reader) Manifest() (*manifest.Manifest, error) {
	for _, zf := range r.zr.File {
		if zf.Name != manifest.FileName {
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidPackage, err, "opening %s", manifest.FileName)
		}
		m, err := manifest.Read(rc)
		if cerr := rc.Close(); err == nil {
			err = cerr
		}
		return m, err
	}
	return nil, errors.New(errors.ErrCodeInvalidManifest, "%s missing from package", manifest.FileName)
}

// Contents scans the installable entries and returns the normalized
// relative directory set and the file-path to content-hash mapping.
// Backslashes are normalized to forward slashes, the content prefix and
// trailing slashes are stripped, and every implied parent directory is
// recorded.
func (r *Reader) Contents() (dirs map[string]struct{}, files map[string]FileHash, err error) {
	dirs = make(map[string]struct{})
	files = make(map[string]FileHash)

	for _, zf := range r.zr.File {
		name := strings.ReplaceAll(zf.Name, "\\", "/")
		if !strings.HasPrefix(name, ContentPrefix) {
			continue
		}
		name = strings.TrimRight(name[len(ContentPrefix):], "/")
		if name == "" {
			continue
		}

		if zf.Mode().IsDir() {
			dirs[name] = struct{}{}
		} else {
			hash, err := hashEntry(zf)
			if err != nil {
				return nil, nil, err
			}
			files[name] = hash
		}

		for {
			i := strings.LastIndex(name, "/")
			if i == -1 {
				break
			}
			name = name[:i]
			dirs[name] = struct{}{}
		}
	}

	return dirs, files, nil
}

func hashEntry(zf *zip.File) (hash FileHash, err error) {
	rc, err := zf.Open()
	if err != nil {
		return hash, err
	}
	defer func() {
		if cerr := rc.Close(); err == nil {
			err = cerr
		}
	}()

	h := sha256.New()
	if _, err = io.Copy(h, rc); err != nil {
		return hash, err
	}
	h.Sum(hash[:0])
	return hash, nil
}

// ExtractOptions control content extraction.
type ExtractOptions struct {
	// Overwrite allows replacing existing files in the target directory.
	Overwrite bool
	// PreserveTimestamps applies the archived modification times to
	// extracted files instead of the current time.
	PreserveTimestamps bool
}

// ExtractResult reports what Extract wrote.
type ExtractResult struct {
	Files       int
	Directories int
}

// Extract writes the installable content entries to targetDirectory.
func (r *Reader) Extract(targetDirectory string, opts ExtractOptions) (ExtractResult, error) {
	var res ExtractResult

	if err := os.MkdirAll(targetDirectory, 0777); err != nil {
		return res, err
	}

	for _, zf := range r.zr.File {
		if !strings.HasPrefix(strings.ToLower(zf.Name), ContentPrefix) {
			continue
		}

		targetPath := filepath.Join(targetDirectory, zf.Name[len(ContentPrefix):])

		if zf.Mode().IsDir() {
			if err := os.MkdirAll(targetPath, 0777); err != nil {
				return res, err
			}
			fi, err := os.Stat(targetPath)
			if err != nil {
				return res, err
			}
			// Honor umask and make sure directory execute is set if
			// directory read is set.
			mode := (zf.Mode() | (zf.Mode()&0444)>>2) & fi.Mode()
			if err := os.Chmod(targetPath, mode); err != nil {
				return res, err
			}
			res.Directories++
		} else {
			if err := os.MkdirAll(filepath.Dir(targetPath), 0777); err != nil {
				return res, err
			}
			if err := saveEntry(zf, targetPath, opts); err != nil {
				return res, err
			}
			res.Files++
		}
	}

	return res, nil
}

func saveEntry(zf *zip.File, targetPath string, opts ExtractOptions) (err error) {
	rc, err := zf.Open()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rc.Close(); err == nil {
			err = cerr
		}
	}()

	flags := os.O_WRONLY | os.O_TRUNC | os.O_CREATE
	if !opts.Overwrite {
		flags |= os.O_EXCL
	}

	f, err := os.OpenFile(targetPath, flags, zf.Mode())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	if _, err = io.Copy(f, rc); err != nil {
		return err
	}

	if opts.PreserveTimestamps && zf.Modified.Year() > 1980 {
		if err = os.Chtimes(targetPath, zf.Modified, zf.Modified); err != nil {
			return err
		}
	}

	return nil
}

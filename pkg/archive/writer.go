package archive

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
)

// Writer assembles a package container. It is a thin wrapper over a zip
// writer; callers are responsible for writing the manifest entry and for
// placing content under the "package/" prefix.
type Writer struct {
	zw *zip.Writer
}

// NewWriter creates a Writer emitting to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{zw: zip.NewWriter(w)}
}

// AddStream writes entryPath from r.
func (w *Writer) AddStream(entryPath string, r io.Reader) error {
	ew, err := w.zw.Create(entryPath)
	if err != nil {
		return err
	}
	_, err = io.Copy(ew, r)
	return err
}

// AddFile writes entryPath from the named file, preserving its mode and
// modification time.
func (w *Writer) AddFile(entryPath, fileName string) (err error) {
	f, err := os.Open(fileName)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	fi, err := f.Stat()
	if err != nil {
		return err
	}

	h, err := zip.FileInfoHeader(fi)
	if err != nil {
		return err
	}
	h.Name = entryPath
	h.Method = zip.Deflate

	ew, err := w.zw.CreateHeader(h)
	if err != nil {
		return err
	}
	_, err = io.Copy(ew, f)
	return err
}

// AddDirectory recursively writes sourceDirectory under entryRootPath,
// which must end with a slash.
func (w *Writer) AddDirectory(entryRootPath, sourceDirectory string) error {
	fi, err := os.Stat(sourceDirectory)
	if err != nil {
		return err
	}

	h, err := zip.FileInfoHeader(fi)
	if err != nil {
		return err
	}
	h.Name = entryRootPath

	if _, err := w.zw.CreateHeader(h); err != nil {
		return err
	}

	entries, err := os.ReadDir(sourceDirectory)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		src := filepath.Join(sourceDirectory, entry.Name())
		if entry.IsDir() {
			err = w.AddDirectory(entryRootPath+entry.Name()+"/", src)
		} else {
			err = w.AddFile(entryRootPath+entry.Name(), src)
		}
		if err != nil {
			return err
		}
	}

	return nil
}

// Close finishes the container.
func (w *Writer) Close() error { return w.zw.Close() }

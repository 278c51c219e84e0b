package registry

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/upackio/upack/pkg/errors"
)

const (
	lockFile = ".lock"

	// A lock older than this is presumed abandoned by a dead process.
	lockStaleAfter = 10 * time.Second
)

// withLock runs task while holding the registry lock.
//
// The lock is a sentinel file created exclusively. If it already exists and
// its modtime is fresh, the registry is locked. If it is stale it may be
// reclaimed, but only when modtime and size both still match the observed
// values; any change means another process got there first.
//
// The file holds two lines: "[pid] description" and a random token. On
// release the token is verified; a mismatch means the lock was stolen while
// we held it, which is reported even though task already ran.
func (r Registry) withLock(task func() error, description string) (err error) {
	if strings.Contains(description, "\n") {
		return errors.New(errors.ErrCodeInternal, "lock description must not contain line breaks")
	}

	if err := os.MkdirAll(r.root, 0777); err != nil {
		return err
	}

	lockPath := filepath.Join(r.root, lockFile)
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0666)
	if err != nil {
		if !os.IsExist(err) {
			return err
		}
		f, err = r.reclaimLock(lockPath)
		if err != nil {
			return err
		}
	}

	token := uuid.New()

	if description == "" {
		description = os.Args[0]
	}
	if _, err := fmt.Fprintf(f, "[%d] %s\n%v\n", os.Getpid(), description, token); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	defer func() {
		b, e := os.ReadFile(lockPath)
		if e != nil {
			if os.IsNotExist(e) {
				e = errors.New(errors.ErrCodeInternal, "registry lock file was deleted by another process")
			}
			if err == nil {
				err = e
			}
			return
		}
		lines := strings.Split(strings.TrimSuffix(string(b), "\n"), "\n")
		if len(lines) != 2 || lines[1] != token.String() {
			if err == nil {
				err = errors.New(errors.ErrCodeInternal, "registry lock token did not match")
			}
		}
		if e := os.Remove(lockPath); err == nil {
			err = e
		}
	}()

	return task()
}

// reclaimLock handles lock contention: a fresh lock is reported as locked,
// a stale one is truncated and taken over.
func (r Registry) reclaimLock(lockPath string) (*os.File, error) {
	fi, err := os.Stat(lockPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.ErrCodeRegistryLocked, "registry lock deleted while checking for lock")
		}
		return nil, err
	}

	observedWrite := fi.ModTime()
	observedSize := fi.Size()
	if time.Since(observedWrite) < lockStaleAfter {
		return nil, lockedError(lockPath)
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0666)
	if err != nil {
		return nil, err
	}
	fi, err = f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if !fi.ModTime().Equal(observedWrite) || fi.Size() != observedSize {
		f.Close()
		return nil, lockedError(lockPath)
	}
	if err := f.Truncate(0); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

// lockedError builds a REGISTRY_LOCKED error naming the holder's
// description line when it can be read.
func lockedError(lockPath string) error {
	b, err := os.ReadFile(lockPath)
	if err != nil {
		b = nil
	}
	if i := bytes.IndexAny(b, "\r\n"); i != -1 {
		b = b[:i]
	}
	description := string(b)
	if description == "" {
		description = "no description provided"
	}
	return errors.New(errors.ErrCodeRegistryLocked, "registry is locked: %s", description)
}

package archive

import (
	"crypto/sha1"
	"encoding/hex"
	"io"
	"os"
)

// SHA1 computes the feed-compatible digest of a package file on disk.
// Universal feeds identify stored package blobs by SHA-1.
func SHA1(path string) (digest string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	h := sha1.New()
	if _, err = io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

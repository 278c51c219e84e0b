package cli

import (
	"context"
	"io"
	"os"

	"github.com/upackio/upack/pkg/archive"
	"github.com/upackio/upack/pkg/feed"
	"github.com/upackio/upack/pkg/manifest"
	"github.com/upackio/upack/pkg/registry"
	"github.com/upackio/upack/pkg/version"
)

// downloadPackage opens a package archive through the registry's download
// cache, fetching from the feed on a cache miss. The returned closer
// releases the underlying file.
func downloadPackage(ctx context.Context, reg registry.Registry, fc *feed.Client, id manifest.Identity, v *version.Version, useCache bool) (*archive.Reader, func() error, error) {
	var f *os.File
	var done func() error

	err := reg.Retry(ctx, func() error {
		var err error
		f, done, err = reg.GetOrDownload(ctx, id, v, func(ctx context.Context, w io.Writer) error {
			return fc.Download(ctx, id, v, w)
		}, useCache)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	fi, err := f.Stat()
	if err != nil {
		done()
		return nil, nil, err
	}

	ar, err := archive.OpenReader(f, fi.Size())
	if err != nil {
		done()
		return nil, nil, err
	}
	return ar, done, nil
}

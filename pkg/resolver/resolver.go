// Package resolver builds and flattens dependency trees of universal
// packages.
//
// Resolution is depth-first and sequential: each package's archive is
// fetched (through the download cache), its manifest parsed, and its
// declared dependencies resolved recursively. The resulting tree is then
// flattened into an install order where the package closest to the root
// wins and every package appears exactly once.
package resolver

import (
	"context"
	"io"
	"os"

	"github.com/upackio/upack/pkg/archive"
	"github.com/upackio/upack/pkg/errors"
	"github.com/upackio/upack/pkg/manifest"
	"github.com/upackio/upack/pkg/registry"
	"github.com/upackio/upack/pkg/version"
)

// Feed is the part of the feed client the resolver needs.
type Feed interface {
	ResolveVersion(ctx context.Context, id manifest.Identity, constraint string, prerelease bool) (*version.Version, error)
	Download(ctx context.Context, id manifest.Identity, v *version.Version, w io.Writer) error
	URL() string
}

// InstallIntent describes a pending installation. When set, every package
// fetched during resolution is registered before its download.
type InstallIntent struct {
	TargetDir   string
	Comment     string
	InstalledBy string
}

// Options configure a Resolver.
type Options struct {
	// Registry records installations; may be the unregistered registry.
	Registry registry.Registry

	// Cache is the registry whose package cache holds the downloads. When
	// the user disables caching this is a throwaway temp-dir registry.
	Cache registry.Registry

	// Intent, when non-nil, registers each fetched package for installation.
	Intent *InstallIntent

	// Logger receives progress messages; nil discards them.
	Logger registry.LogFunc
}

// Resolver resolves dependency trees against one feed.
type Resolver struct {
	feed Feed
	opts Options
}

// New creates a Resolver.
func New(f Feed, opts Options) *Resolver {
	return &Resolver{feed: f, opts: opts}
}

// Node is one resolved package in the dependency tree. Name and Version are
// the canonical values from the package's own manifest, which may differ in
// spelling from the dependency declaration that led here.
type Node struct {
	Name     string
	Version  *version.Version
	Children []*Node
	Dirs     map[string]struct{}
	Files    map[string]archive.FileHash
}

func (r *Resolver) log(format string, args ...any) {
	if r.opts.Logger != nil {
		r.opts.Logger(format, args...)
	}
}

// BuildTree resolves ref (a "group/name" or "group:name" reference) under
// the given version constraint into a dependency tree.
//
// A package whose resolved version carries a prerelease tag resolves its
// own dependencies with prereleases allowed, regardless of the caller's
// flag. Errors from deeper levels carry an "in dependency of" breadcrumb
// for each edge on the way down.
func (r *Resolver) BuildTree(ctx context.Context, ref, constraint string, prerelease bool) (*Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mf, dirs, files, err := r.readPackage(ctx, manifest.ParseIdentity(ref), constraint, prerelease)
	if err != nil {
		return nil, err
	}

	resolvedVersion, err := mf.ParsedVersion()
	if err != nil {
		return nil, err
	}

	node := &Node{
		Name:     mf.GroupAndName(),
		Version:  resolvedVersion,
		Children: make([]*Node, len(mf.Dependencies)),
		Dirs:     dirs,
		Files:    files,
	}

	prerelease = resolvedVersion.Prerelease != ""

	for i, s := range mf.Dependencies {
		dep := manifest.ParseDependency(s)
		node.Children[i], err = r.BuildTree(ctx, dep.Identity.String(), dep.Constraint, prerelease)
		if err != nil {
			return nil, errors.Context(err, "in dependency of %s:%s", node.Name, node.Version)
		}
	}

	return node, nil
}

// readPackage fetches one package and returns its manifest and normalized
// content listing.
func (r *Resolver) readPackage(ctx context.Context, id manifest.Identity, constraint string, prerelease bool) (mf *manifest.Manifest, dirs map[string]struct{}, files map[string]archive.FileHash, err error) {
	f, size, done, err := r.openPackage(ctx, id, constraint, prerelease)
	if err != nil {
		return nil, nil, nil, err
	}
	defer func() {
		if e := done(); err == nil {
			err = e
		}
	}()

	ar, err := archive.OpenReader(f, size)
	if err != nil {
		return nil, nil, nil, err
	}

	mf, err = ar.Manifest()
	if err != nil {
		return nil, nil, nil, errors.Context(err, "package %s", id)
	}

	dirs, files, err = ar.Contents()
	if err != nil {
		return nil, nil, nil, err
	}
	return mf, dirs, files, nil
}

// openPackage resolves the concrete version, records the install intent,
// and returns an open handle over the archive via the download cache.
func (r *Resolver) openPackage(ctx context.Context, id manifest.Identity, constraint string, prerelease bool) (*os.File, int64, func() error, error) {
	v, err := r.feed.ResolveVersion(ctx, id, constraint, prerelease)
	if err != nil {
		return nil, 0, nil, err
	}

	if r.opts.Intent != nil {
		err = r.opts.Registry.Register(ctx, &registry.InstalledPackage{
			Group:              id.Group,
			Name:               id.Name,
			Version:            v,
			Path:               r.opts.Intent.TargetDir,
			Feed:               r.feed.URL(),
			InstallationDate:   registry.Now(),
			InstallationReason: r.opts.Intent.Comment,
			InstalledBy:        r.opts.Intent.InstalledBy,
		})
		if err != nil {
			return nil, 0, nil, err
		}
	}

	r.log("fetching %s %s", id, v)

	var f *os.File
	var done func() error
	err = r.opts.Cache.Retry(ctx, func() error {
		var err error
		f, done, err = r.opts.Cache.GetOrDownload(ctx, id, v, func(ctx context.Context, w io.Writer) error {
			return r.feed.Download(ctx, id, v, w)
		}, true)
		return err
	})
	if err != nil {
		return nil, 0, nil, err
	}

	fi, err := f.Stat()
	if err != nil {
		done()
		return nil, 0, nil, err
	}

	return f, fi.Size(), done, nil
}

// OpenResolved reopens the archive of an already-resolved package from the
// download cache, for extraction after flattening.
func (r *Resolver) OpenResolved(ctx context.Context, pkg PackageRef) (*archive.Reader, func() error, error) {
	id := manifest.ParseIdentity(pkg.Name)

	var f *os.File
	var done func() error
	err := r.opts.Cache.Retry(ctx, func() error {
		var err error
		f, done, err = r.opts.Cache.GetOrDownload(ctx, id, pkg.Version, func(ctx context.Context, w io.Writer) error {
			return r.feed.Download(ctx, id, pkg.Version, w)
		}, true)
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

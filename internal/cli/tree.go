package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/upackio/upack/pkg/archive"
	"github.com/upackio/upack/pkg/errors"
	"github.com/upackio/upack/pkg/registry"
	"github.com/upackio/upack/pkg/resolver"
)

// treeOpts holds the command-line flags for the tree command.
type treeOpts struct {
	source             string
	target             string
	user               string
	comment            string
	overwrite          bool
	prerelease         bool
	userRegistry       bool
	unregistered       bool
	cache              bool
	preserveTimestamps bool
}

func (c *CLI) treeCommand() *cobra.Command {
	opts := treeOpts{}

	cmd := &cobra.Command{
		Use:   "tree <package> [version]",
		Short: "Resolve a package with all of its dependencies, recursively",
		Long: `Resolve a package with all of its dependencies, recursively.

Without --target the resolved set is listed, deepest dependencies first.
With --target every resolved package is extracted there after checking for
conflicts between the packages' contents.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			constraint := ""
			if len(args) == 2 {
				constraint = args[1]
			}
			return c.runTree(withLogger(cmd.Context(), c.Logger), args[0], constraint, &opts)
		},
	}

	cmd.Flags().StringVar(&opts.source, "source", "", "URL of a upack API endpoint")
	cmd.Flags().StringVar(&opts.target, "target", "", "directory where the packages will be extracted; when omitted, the packages are listed but not installed")
	cmd.Flags().StringVar(&opts.user, "user", "", "credentials for the feed, as username:password")
	cmd.Flags().StringVar(&opts.comment, "comment", "", "the reason for installing the packages, for the local registry")
	cmd.Flags().BoolVar(&opts.overwrite, "overwrite", false, "overwrite files in the target directory")
	cmd.Flags().BoolVar(&opts.prerelease, "prerelease", false, "when no version is given, resolve the latest prerelease instead of the latest stable version")
	cmd.Flags().BoolVar(&opts.userRegistry, "userregistry", false, "register the packages in the user registry instead of the machine registry")
	cmd.Flags().BoolVar(&opts.unregistered, "unregistered", false, "do not register the packages in a local registry")
	cmd.Flags().BoolVar(&opts.cache, "cache", false, "cache the contents of the packages in the local registry")
	cmd.Flags().BoolVar(&opts.preserveTimestamps, "preserve-timestamps", false, "set extracted file timestamps to the timestamp in the archive instead of the current time")

	return cmd
}

func (c *CLI) runTree(ctx context.Context, ref, constraint string, opts *treeOpts) error {
	fc, err := c.feedClient(opts.source, opts.user)
	if err != nil {
		return err
	}
	reg, err := c.pickRegistry(opts.userRegistry, opts.unregistered)
	if err != nil {
		return err
	}

	cacheReg := reg
	if !opts.cache && !c.loadConfig().Cache {
		// Downloads still deduplicate within this run, but nothing outlives it.
		dir, err := os.MkdirTemp("", appName)
		if err != nil {
			return err
		}
		defer os.RemoveAll(dir)
		cacheReg = registry.At(dir)
	}

	resolverOpts := resolver.Options{
		Registry: reg,
		Cache:    cacheReg,
		Logger: func(format string, args ...any) {
			c.Logger.Debugf(format, args...)
		},
	}
	if opts.target != "" {
		resolverOpts.Intent = &resolver.InstallIntent{
			TargetDir:   opts.target,
			Comment:     opts.comment,
			InstalledBy: currentUserName(),
		}
	}

	r := resolver.New(fc, resolverOpts)

	p := newProgress(loggerFromContext(ctx))
	tree, err := r.BuildTree(ctx, ref, constraint, opts.prerelease)
	if err != nil {
		return err
	}

	resolved, err := resolver.Flatten(tree)
	if err != nil {
		return err
	}
	p.done(fmt.Sprintf("Resolved %d packages", len(resolved.Packages)))

	if opts.target == "" {
		for _, pkg := range resolved.Packages {
			fmt.Printf("%s:%s\n", pkg.Name, pkg.Version)
		}
		return nil
	}

	if !opts.overwrite && resolver.CheckOverwrite(opts.target, resolved, printError) {
		return errors.New(errors.ErrCodeContentConflict, "target directory %s already contains conflicting entries; use --overwrite to replace them", opts.target)
	}

	for _, pkg := range resolved.Packages {
		printInfo("Extracting %s:%s...", pkg.Name, pkg.Version)

		if err := c.extractResolved(ctx, r, pkg, opts); err != nil {
			return err
		}
	}

	printSuccess("Installed %d packages to %s", len(resolved.Packages), opts.target)
	return nil
}

func (c *CLI) extractResolved(ctx context.Context, r *resolver.Resolver, pkg resolver.PackageRef, opts *treeOpts) error {
	ar, done, err := r.OpenResolved(ctx, pkg)
	if err != nil {
		return err
	}
	defer done()

	// Conflicts were ruled out up front, so later packages may overwrite
	// byte-identical files from earlier ones.
	_, err = ar.Extract(opts.target, archive.ExtractOptions{
		Overwrite:          true,
		PreserveTimestamps: opts.preserveTimestamps,
	})
	return err
}

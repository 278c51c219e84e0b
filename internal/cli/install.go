package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/upackio/upack/pkg/archive"
	"github.com/upackio/upack/pkg/manifest"
	"github.com/upackio/upack/pkg/registry"
)

// installOpts holds the command-line flags for the install command.
type installOpts struct {
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

func (c *CLI) installCommand() *cobra.Command {
	opts := installOpts{}

	cmd := &cobra.Command{
		Use:   "install <package> [version]",
		Short: "Download a universal package and extract its contents to a directory",
		Long: `Download a universal package and extract its contents to a directory.

The package is recorded in the local registry unless --unregistered is given.

Examples:
  upack install utils --source https://feed.example.com/upack/main --target ./vendor
  upack install acme/tools 2.1.0 --source https://feed.example.com/upack/main --target /opt/tools --cache`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			constraint := ""
			if len(args) == 2 {
				constraint = args[1]
			}
			return c.runInstall(withLogger(cmd.Context(), c.Logger), args[0], constraint, &opts)
		},
	}

	cmd.Flags().StringVar(&opts.source, "source", "", "URL of a upack API endpoint")
	cmd.Flags().StringVar(&opts.target, "target", "", "directory where the contents of the package will be extracted")
	cmd.Flags().StringVar(&opts.user, "user", "", "credentials for the feed, as username:password")
	cmd.Flags().StringVar(&opts.comment, "comment", "", "the reason for installing the package, for the local registry")
	cmd.Flags().BoolVar(&opts.overwrite, "overwrite", false, "overwrite files in the target directory")
	cmd.Flags().BoolVar(&opts.prerelease, "prerelease", false, "when no version is given, install the latest prerelease instead of the latest stable version")
	cmd.Flags().BoolVar(&opts.userRegistry, "userregistry", false, "register the package in the user registry instead of the machine registry")
	cmd.Flags().BoolVar(&opts.unregistered, "unregistered", false, "do not register the package in a local registry")
	cmd.Flags().BoolVar(&opts.cache, "cache", false, "cache the contents of the package in the local registry")
	cmd.Flags().BoolVar(&opts.preserveTimestamps, "preserve-timestamps", false, "set extracted file timestamps to the timestamp in the archive instead of the current time")
	cmd.MarkFlagRequired("target")

	return cmd
}

func (c *CLI) runInstall(ctx context.Context, ref, constraint string, opts *installOpts) error {
	fc, err := c.feedClient(opts.source, opts.user)
	if err != nil {
		return err
	}
	reg, err := c.pickRegistry(opts.userRegistry, opts.unregistered)
	if err != nil {
		return err
	}
	useCache := opts.cache || c.loadConfig().Cache

	id := manifest.ParseIdentity(ref)
	v, err := fc.ResolveVersion(ctx, id, constraint, opts.prerelease)
	if err != nil {
		return err
	}

	err = reg.Register(ctx, &registry.InstalledPackage{
		Group:              id.Group,
		Name:               id.Name,
		Version:            v,
		Path:               opts.target,
		Feed:               fc.URL(),
		InstallationDate:   registry.Now(),
		InstallationReason: opts.comment,
		InstalledBy:        currentUserName(),
	})
	if err != nil {
		return err
	}

	spinner := newSpinnerWithContext(ctx, fmt.Sprintf("Downloading %s %s", id, v))
	spinner.Start()

	ar, done, err := downloadPackage(ctx, reg, fc, id, v, useCache)
	if err != nil {
		spinner.StopWithError(fmt.Sprintf("Download of %s %s failed", id, v))
		return err
	}
	spinner.StopWithSuccess(fmt.Sprintf("Downloaded %s %s", id, v))
	defer done()

	p := newProgress(loggerFromContext(ctx))
	result, err := ar.Extract(opts.target, archive.ExtractOptions{
		Overwrite:          opts.overwrite,
		PreserveTimestamps: opts.preserveTimestamps,
	})
	if err != nil {
		return err
	}

	p.done(fmt.Sprintf("Extracted %d files and %d directories", result.Files, result.Directories))
	printSuccess("Installed %s %s to %s", id, v, opts.target)
	return nil
}

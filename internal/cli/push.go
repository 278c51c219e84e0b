package cli

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/upackio/upack/pkg/archive"
	"github.com/upackio/upack/pkg/errors"
	"github.com/upackio/upack/pkg/manifest"
)

func (c *CLI) pushCommand() *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "push <package-file> <target>",
		Short: "Publish a universal package to a feed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			packagePath, target := args[0], args[1]

			fc, err := c.feedClient(target, user)
			if err != nil {
				return err
			}

			f, err := os.Open(packagePath)
			if err != nil {
				return err
			}
			defer f.Close()

			fi, err := f.Stat()
			if err != nil {
				return err
			}

			ar, err := archive.OpenReader(f, fi.Size())
			if err != nil {
				return err
			}

			mf, err := ar.Manifest()
			if err != nil {
				return err
			}
			if err := mf.Validate(); err != nil {
				return errors.Context(err, "invalid %s", manifest.FileName)
			}

			printKeyValue("Package", mf.GroupAndName())
			printKeyValue("Version", mf.Version)

			// Reading the zip left the sequential offset untouched, but
			// seek explicitly so the upload always starts at byte zero.
			if _, err := f.Seek(0, io.SeekStart); err != nil {
				return err
			}
			if err := fc.Upload(cmd.Context(), f, fi.Size()); err != nil {
				return err
			}

			printSuccess("%s %s published", mf.GroupAndName(), mf.Version)
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "credentials for the feed, as username:password")

	return cmd
}

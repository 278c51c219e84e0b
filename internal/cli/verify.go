package cli

import (
	"github.com/spf13/cobra"

	"github.com/upackio/upack/pkg/archive"
	"github.com/upackio/upack/pkg/errors"
)

func (c *CLI) verifyCommand() *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "verify <package-file> <source>",
		Short: "Verify that a local package's hash matches the hash stored in a feed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			packagePath, source := args[0], args[1]

			fc, err := c.feedClient(source, user)
			if err != nil {
				return err
			}

			f, err := archive.Open(packagePath)
			if err != nil {
				return err
			}
			defer f.Close()

			mf, err := f.Manifest()
			if err != nil {
				return err
			}

			remote, err := fc.VersionDigest(cmd.Context(), mf.Identity(), mf.Version)
			if err != nil {
				return err
			}

			local, err := archive.SHA1(packagePath)
			if err != nil {
				return err
			}
			if local != remote {
				return errors.New(errors.ErrCodeInvalidPackage, "package SHA1 value %s did not match remote SHA1 value %s", local, remote)
			}

			printSuccess("Hashes for local and remote package match: %s", local)
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "credentials for the feed, as username:password")

	return cmd
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/upackio/upack/pkg/manifest"
)

func (c *CLI) infoCommand() *cobra.Command {
	var source, user, file string

	cmd := &cobra.Command{
		Use:   "info <package> [version]",
		Short: "Display metadata for a remote universal package",
		Long: `Display metadata for a remote universal package without downloading it.

By default the package manifest is shown; --file selects another metadata
file relative to the package root.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			constraint := ""
			if len(args) == 2 {
				constraint = args[1]
			}

			fc, err := c.feedClient(source, user)
			if err != nil {
				return err
			}

			path := file
			if path == "" {
				path = manifest.FileName
			}

			fields, err := fc.FetchFileJSON(cmd.Context(), manifest.ParseIdentity(args[0]), constraint, path)
			if err != nil {
				return err
			}

			for _, f := range fields {
				fmt.Printf("%s = %s\n", f.Key, string(f.Value))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "URL of a upack API endpoint")
	cmd.Flags().StringVar(&user, "user", "", "credentials for the feed, as username:password")
	cmd.Flags().StringVar(&file, "file", "", "the metadata file to display relative to the package root; the default is "+manifest.FileName)

	return cmd
}

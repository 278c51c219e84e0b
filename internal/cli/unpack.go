package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/upackio/upack/pkg/archive"
	"github.com/upackio/upack/pkg/errors"
)

func (c *CLI) unpackCommand() *cobra.Command {
	var overwrite, preserveTimestamps bool

	cmd := &cobra.Command{
		Use:   "unpack <package-file> <target>",
		Short: "Extract the contents of a local package to a directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			packagePath, target := args[0], args[1]

			f, err := archive.Open(packagePath)
			if err != nil {
				return err
			}
			defer f.Close()

			mf, err := f.Manifest()
			if err != nil {
				return errors.Context(err, "%s is not a upack file", packagePath)
			}

			printKeyValue("Package", mf.GroupAndName())
			printKeyValue("Version", mf.Version)

			p := newProgress(c.Logger)
			result, err := f.Extract(target, archive.ExtractOptions{
				Overwrite:          overwrite,
				PreserveTimestamps: preserveTimestamps,
			})
			if err != nil {
				return err
			}

			p.done(fmt.Sprintf("Extracted %d files and %d directories", result.Files, result.Directories))
			return nil
		},
	}

	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "overwrite files in the target directory")
	cmd.Flags().BoolVar(&preserveTimestamps, "preserve-timestamps", false, "set extracted file timestamps to the timestamp in the archive instead of the current time")

	return cmd
}

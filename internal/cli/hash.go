package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/upackio/upack/pkg/archive"
)

func (c *CLI) hashCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash <package-file>",
		Short: "Calculate the SHA1 hash of a local package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			digest, err := archive.SHA1(args[0])
			if err != nil {
				return err
			}
			fmt.Println(digest)
			return nil
		},
	}
}

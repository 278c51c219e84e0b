package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (c *CLI) listCommand() *cobra.Command {
	var userRegistry bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List packages installed in the local registry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := c.pickRegistry(userRegistry, false)
			if err != nil {
				return err
			}

			packages, err := reg.ListInstalled(cmd.Context())
			if err != nil {
				return err
			}

			for _, pkg := range packages {
				fmt.Println(StyleTitle.Render(pkg.Identity().String()) + " " + StyleHighlight.Render(pkg.Version.String()))
				if pkg.Feed != "" {
					printDetail("from %s", pkg.Feed)
				}
				if pkg.Path != "" || pkg.InstallationDate != nil {
					path, date := "<unknown path>", "<unknown date>"
					if pkg.Path != "" {
						path = pkg.Path
					}
					if pkg.InstallationDate != nil {
						date = pkg.InstallationDate.Time.String()
					}
					printDetail("installed to %s on %s", path, date)
				}
				if pkg.InstalledBy != "" || pkg.InstalledUsing != "" {
					by, using := "<unknown user>", "<unknown application>"
					if pkg.InstalledBy != "" {
						by = pkg.InstalledBy
					}
					if pkg.InstalledUsing != "" {
						using = pkg.InstalledUsing
					}
					printDetail("installed by %s using %s", by, using)
				}
				if pkg.InstallationReason != "" {
					printDetail("comment: %s", pkg.InstallationReason)
				}
				printNewline()
			}

			fmt.Println(len(packages), "packages")
			return nil
		},
	}

	cmd.Flags().BoolVar(&userRegistry, "userregistry", false, "list packages in the user registry instead of the machine registry")

	return cmd
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/provisionhq/stagehand/pkg/versions"
)

func VersionCmd(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: fmt.Sprintf("Show the %s version", cli.Name),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", cli.Name, versions.Version)
			return nil
		},
	}
}

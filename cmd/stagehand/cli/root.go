package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/provisionhq/stagehand/pkg/dryrun"
)

func RootCmd(cli *CLI) *cobra.Command {
	cmd := &cobra.Command{
		Use:          cli.Name,
		Short:        "Drive an OS installation through a local API",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cli.bindFlags(cmd.Flags())
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if dryrun.Enabled() {
				if err := dryrun.Dump(); err != nil {
					return fmt.Errorf("unable to dump dry run info: %w", err)
				}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.Help()
			os.Exit(1)
			return nil
		},
	}

	cmd.AddCommand(ServeCmd(cli))
	cmd.AddCommand(VersionCmd(cli))

	cobra.OnInitialize(func() {
		cli.init()
	})

	return cmd
}

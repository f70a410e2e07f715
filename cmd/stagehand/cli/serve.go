package cli

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/provisionhq/stagehand/api/pkg/logger"
	"github.com/provisionhq/stagehand/internal/eventlog"
	"github.com/provisionhq/stagehand/internal/server"
	"github.com/provisionhq/stagehand/pkg/dryrun"
	"github.com/provisionhq/stagehand/pkg/logging"
)

func ServeCmd(cli *CLI) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the installer service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if cli.V.GetBool("dry-run") {
				dryrun.Init(cli.V.GetString("dry-run-output"))
				dryrun.RecordFlags(cmd.Flags())
				return nil
			}
			if os.Getuid() != 0 {
				return fmt.Errorf("serve command must be run as root")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, cli)
		},
	}

	cmd.Flags().String("socket", server.DefaultSocketPath, "Unix socket path the API listens on")
	cmd.Flags().String("state-dir", server.DefaultStateDir, "Directory the server persists state under")
	cmd.Flags().String("log-dir", logging.DefaultLogDir, "Directory the server log file is written to")
	cmd.Flags().String("autoinstall", "", "Path to an autoinstall file; pass an empty value to disable autoinstall entirely")
	cmd.Flags().Bool("dry-run", false, "Simulate the run without touching the host")
	cmd.Flags().String("dry-run-output", "stagehand-dryrun.yaml", "File the dry run record is written to")

	return cmd
}

func runServe(cmd *cobra.Command, cli *CLI) error {
	isDryRun := cli.V.GetBool("dry-run")

	log, err := serveLogger(cli.V.GetString("log-dir"), isDryRun)
	if err != nil {
		return err
	}

	cfg := server.Config{
		SocketPath:      cli.V.GetString("socket"),
		StateDir:        cli.V.GetString("state-dir"),
		AutoinstallPath: autoinstallArg(cmd.Flags(), cli.V),
		DryRun:          isDryRun,
	}

	opts := []server.Option{server.WithLogger(log)}
	if isDryRun {
		// Keep state off the host: the record of what would have been
		// written is the dry run dump.
		opts = append(opts, server.WithFs(afero.NewMemMapFs()))
	}

	srv, err := server.New(cfg, opts...)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	logrus.Infof("Starting installer service on %s", cfg.SocketPath)
	if err := srv.Run(cmd.Context()); err != nil {
		return fmt.Errorf("run server: %w", err)
	}
	return nil
}

// serveLogger builds the server's own file logger. Dry runs log through the
// process logger instead of opening files on the host.
func serveLogger(logDir string, isDryRun bool) (*logrus.Logger, error) {
	if isDryRun {
		return logrus.StandardLogger(), nil
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	log, err := logger.NewLogger(logDir, eventlog.NewSyslogIDs().Log)
	if err != nil {
		return nil, fmt.Errorf("open server log: %w", err)
	}
	return log, nil
}

// autoinstallArg turns the autoinstall flag into the server's tri-state:
// nil when unset (scan the candidate locations), a pointer to "" when the
// operator explicitly disabled autoinstall, a path otherwise.
func autoinstallArg(flags *pflag.FlagSet, v *viper.Viper) *string {
	value := v.GetString("autoinstall")
	if !flags.Changed("autoinstall") && value == "" {
		return nil
	}
	return &value
}

package main

import (
	"context"
	"os"
	"os/signal"
	"path"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/provisionhq/stagehand/cmd/stagehand/cli"
	"github.com/provisionhq/stagehand/pkg/logging"
)

func main() {
	logging.SetupLogging()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	name := path.Base(os.Args[0])

	c := cli.NewCLI(name)
	err := cli.RootCmd(c).ExecuteContext(ctx)
	cobra.CheckErr(err)
}

// Package cli is the stagehand command tree: serve runs the installer
// service, version prints the build version.
package cli

import (
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type CLI struct {
	Name string
	V    *viper.Viper
}

func NewCLI(name string) *CLI {
	return &CLI{
		Name: name,
		V:    viper.New(),
	}
}

func (cli *CLI) init() {
	cli.V.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	cli.V.SetEnvPrefix("STAGEHAND")
	cli.V.AutomaticEnv()
}

func (cli *CLI) bindFlags(flags *pflag.FlagSet) {
	cli.V.BindPFlags(flags)
}

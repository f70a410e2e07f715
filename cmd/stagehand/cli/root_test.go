package cli

import (
	"context"
	"os"
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/provisionhq/stagehand/pkg/versions"
)

func TestVersionCommand(t *testing.T) {
	cli := NewCLI("stagehand")

	_, output, err := testExecuteCommandC(context.Background(), RootCmd(cli), "version")

	require.NoError(t, err)
	assert.Contains(t, output, versions.Version)
}

func TestServeRequiresRoot(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("running as root")
	}
	cli := NewCLI("stagehand")

	_, _, err := testExecuteCommandC(context.Background(), RootCmd(cli), "serve")

	require.ErrorContains(t, err, "must be run as root")
}

func TestAutoinstallArgTriState(t *testing.T) {
	newFlags := func(t *testing.T, args ...string) (*pflag.FlagSet, *viper.Viper) {
		t.Helper()
		flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
		flags.String("autoinstall", "", "")
		require.NoError(t, flags.Parse(args))
		v := viper.New()
		require.NoError(t, v.BindPFlags(flags))
		return flags, v
	}

	t.Run("unset scans candidate locations", func(t *testing.T) {
		flags, v := newFlags(t)
		assert.Nil(t, autoinstallArg(flags, v))
	})

	t.Run("explicitly empty disables autoinstall", func(t *testing.T) {
		flags, v := newFlags(t, "--autoinstall=")
		arg := autoinstallArg(flags, v)
		require.NotNil(t, arg)
		assert.Empty(t, *arg)
	})

	t.Run("named path passes through", func(t *testing.T) {
		flags, v := newFlags(t, "--autoinstall=/tmp/autoinstall.yaml")
		arg := autoinstallArg(flags, v)
		require.NotNil(t, arg)
		assert.Equal(t, "/tmp/autoinstall.yaml", *arg)
	})
}

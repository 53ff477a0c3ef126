package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/ledserver/cmd/ledserver/app/options"
	"github.com/autopeer-io/ledserver/pkg/log"
)

func newFlagSet(opts *options.ServerOptions) *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	for _, f := range opts.Flags().FlagSets {
		fs.AddFlagSet(f)
	}
	return fs
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledserver.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfigPrecedence(t *testing.T) {
	path := writeConfig(t, `
http:
  addr: 0.0.0.0:8080
  read-timeout: 3s
network:
  ssid: workshop
  retry-interval: 0s
gpio:
  driver: mock
  actuators: [red=5, green=6]
log:
  level: debug
`)
	t.Setenv("LEDSERVER_NETWORK_SSID", "from-env")

	opts := options.NewServerOptions()
	fs := newFlagSet(opts)
	require.NoError(t, fs.Parse([]string{"--config", path, "--http.addr", "127.0.0.1:9000"}))

	require.NoError(t, loadConfig(viper.New(), fs, opts))

	require.Equal(t, "127.0.0.1:9000", opts.HttpOptions.Addr)
	require.Equal(t, 3*time.Second, opts.HttpOptions.ReadTimeout)
	require.Equal(t, 5, opts.HttpOptions.MaxConnections)
	require.Equal(t, "from-env", opts.NetworkOptions.SSID)
	require.Zero(t, opts.NetworkOptions.RetryInterval)
	require.Equal(t, "mock", opts.GPIOOptions.Driver)
	require.Equal(t, []string{"red=5", "green=6"}, opts.GPIOOptions.Actuators)
	require.Equal(t, "debug", opts.LogOptions.Level)
	require.NoError(t, opts.Validate())
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Parallel()

	opts := options.NewServerOptions()
	fs := newFlagSet(opts)
	require.NoError(t, fs.Parse([]string{"--config", filepath.Join(t.TempDir(), "absent.yaml")}))

	require.Error(t, loadConfig(viper.New(), fs, opts))
}

func TestActuatorsCommand(t *testing.T) {
	t.Parallel()

	cmd := NewLedServerCommand(context.Background())
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"actuators", "--gpio.actuators", "led1=12,led2=14"})

	require.NoError(t, cmd.Execute())
	require.Contains(t, out.String(), "ACTUATOR")
	require.Contains(t, out.String(), "led1:on, led1:off")
	require.Contains(t, out.String(), "14")
	require.NotContains(t, out.String(), "led3")
}

func TestApplyLogLevel(t *testing.T) {
	before := log.Level()
	t.Cleanup(func() { _ = log.SetLevel(before) })

	applyLogLevel("warn", "ledserver.yaml")
	require.Equal(t, "warn", log.Level())

	applyLogLevel("chatty", "ledserver.yaml")
	require.Equal(t, "warn", log.Level())
}

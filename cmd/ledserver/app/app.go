package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	cliflag "k8s.io/component-base/cli/flag"
	"k8s.io/component-base/cli/globalflag"
	"k8s.io/component-base/term"

	"github.com/autopeer-io/ledserver/cmd/ledserver/app/options"
	"github.com/autopeer-io/ledserver/pkg/log"
)

const (
	commandName = "ledserver"
	envPrefix   = "LEDSERVER"
)

func NewLedServerCommand(ctx context.Context) *cobra.Command {
	opts := options.NewServerOptions()
	v := viper.New()

	cmd := &cobra.Command{
		Use:   commandName,
		Short: "Serve actuator commands over HTTP once the network is up",
		Long: `The ledserver joins a wireless network, exposes POST /led and drives its
output lines from {"command":"<name>:<on|off>"} payloads, reporting the state
of every actuator back to the caller.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(v, cmd.Flags(), opts); err != nil {
				return err
			}

			cfg, err := opts.Config()
			if err != nil {
				return err
			}

			log.Init(opts.LogOptions)
			watchLogLevel(v)

			ctrl, err := cfg.NewController()
			if err != nil {
				log.Error(err, "failed to create controller")
				return err
			}

			if err := ctrl.Run(ctx); err != nil {
				log.Error(err, "controller exited")
				return err
			}
			return nil
		},
	}

	fs := cmd.PersistentFlags()
	namedfs := opts.Flags()
	globalflag.AddGlobalFlags(namedfs.FlagSet("global"), cmd.Name())
	for _, f := range namedfs.FlagSets {
		fs.AddFlagSet(f)
	}

	cols, _, _ := term.TerminalSize(cmd.OutOrStdout())
	cliflag.SetUsageAndHelpFunc(cmd, namedfs, cols)

	cmd.AddCommand(newActuatorsCommand(v, opts))
	return cmd
}

func newActuatorsCommand(v *viper.Viper, opts *options.ServerOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "actuators",
		Short: "Print the configured actuators and the commands they accept",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(v, cmd.Flags(), opts); err != nil {
				return err
			}
			lines, err := opts.GPIOOptions.Lines()
			if err != nil {
				return err
			}

			table := uitable.New()
			table.AddRow("ACTUATOR", "LINE", "COMMANDS")
			for _, l := range lines {
				table.AddRow(l.Name, l.Line, fmt.Sprintf("%[1]s:on, %[1]s:off", l.Name))
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), table)
			return err
		},
	}
}

// loadConfig layers, lowest first: flag defaults, the config file,
// LEDSERVER_* environment variables, then flags set on the command line.
func loadConfig(v *viper.Viper, fs *pflag.FlagSet, opts *options.ServerOptions) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(fs); err != nil {
		return fmt.Errorf("bind flags: %w", err)
	}

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", opts.ConfigFile, err)
		}
	}

	if err := v.Unmarshal(opts); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// watchLogLevel applies log.level edits to the config file without a restart.
func watchLogLevel(v *viper.Viper) {
	if v.ConfigFileUsed() == "" {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		applyLogLevel(v.GetString("log.level"), e.Name)
	})
	v.WatchConfig()
}

func applyLogLevel(level, source string) {
	if level == "" || level == log.Level() {
		return
	}
	if err := log.SetLevel(level); err != nil {
		log.Error(err, "Ignoring log level from reloaded config", "file", source)
		return
	}
	log.Info("Log level changed", "level", level, "file", source)
}

package options

import (
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/autopeer-io/ledserver/internal/ledserver"
	"github.com/autopeer-io/ledserver/pkg/log"
	"github.com/autopeer-io/ledserver/pkg/options"
)

// ServerOptions aggregates every option group of the ledserver command.
// Keys mirror the flag names: --http.addr is http.addr in a config file.
type ServerOptions struct {
	// ConfigFile is the optional YAML/JSON/TOML file layered under the flags.
	ConfigFile string `json:"-" mapstructure:"-"`

	HttpOptions    *options.HttpOptions    `json:"http" mapstructure:"http"`
	NetworkOptions *options.NetworkOptions `json:"network" mapstructure:"network"`
	GPIOOptions    *options.GPIOOptions    `json:"gpio" mapstructure:"gpio"`
	StorageOptions *options.StorageOptions `json:"storage" mapstructure:"storage"`
	MqttOptions    *options.MqttOptions    `json:"mqtt" mapstructure:"mqtt"`
	DiagOptions    *options.DiagOptions    `json:"diag" mapstructure:"diag"`
	LogOptions     *log.Options            `json:"log" mapstructure:"log"`
}

func NewServerOptions() *ServerOptions {
	return &ServerOptions{
		HttpOptions:    options.NewHttpOptions(),
		NetworkOptions: options.NewNetworkOptions(),
		GPIOOptions:    options.NewGPIOOptions(),
		StorageOptions: options.NewStorageOptions(),
		MqttOptions:    options.NewMqttOptions(),
		DiagOptions:    options.NewDiagOptions(),
		LogOptions:     log.NewOptions(),
	}
}

func (o *ServerOptions) Flags() (fss cliflag.NamedFlagSets) {
	fs := fss.FlagSet("Generic")
	fs.StringVar(&o.ConfigFile, "config", o.ConfigFile, "Path to a configuration file. Flags set on the command line take precedence.")

	o.HttpOptions.AddFlags(fss.FlagSet("Command Server"))
	o.NetworkOptions.AddFlags(fss.FlagSet("Network"))
	o.GPIOOptions.AddFlags(fss.FlagSet("GPIO"))
	o.StorageOptions.AddFlags(fss.FlagSet("Storage"))
	o.MqttOptions.AddFlags(fss.FlagSet("Presence"))
	o.DiagOptions.AddFlags(fss.FlagSet("Diagnostics"))
	o.LogOptions.AddFlags(fss.FlagSet("Log"))

	return fss
}

// Validate checks every option group and aggregates the problems.
func (o *ServerOptions) Validate() error {
	groups := []options.IOptions{
		o.HttpOptions,
		o.NetworkOptions,
		o.GPIOOptions,
		o.StorageOptions,
		o.MqttOptions,
		o.DiagOptions,
		o.LogOptions,
	}

	var errs []error
	for _, g := range groups {
		errs = append(errs, g.Validate()...)
	}

	return utilerrors.NewAggregate(errs)
}

// Config returns the controller configuration.
func (o *ServerOptions) Config() (*ledserver.Config, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return &ledserver.Config{
		HttpOptions:    o.HttpOptions,
		NetworkOptions: o.NetworkOptions,
		GPIOOptions:    o.GPIOOptions,
		StorageOptions: o.StorageOptions,
		MqttOptions:    o.MqttOptions,
		DiagOptions:    o.DiagOptions,
	}, nil
}

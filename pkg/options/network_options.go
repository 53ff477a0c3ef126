package options

import (
	"errors"
	"fmt"
	"math"
	"net/netip"
	"time"

	"github.com/spf13/pflag"
	"k8s.io/apimachinery/pkg/util/wait"
)

const (
	// StationNetif follows a host network interface through netlink and runs an association command.
	StationNetif = "netif"
	// StationSimulated acquires a fixed address after a delay. Development only.
	StationSimulated = "simulated"
)

var _ IOptions = (*NetworkOptions)(nil)

// NetworkOptions configures wireless association and the reconnect policy.
type NetworkOptions struct {
	Station string `json:"station" mapstructure:"station"`

	SSID       string `json:"ssid" mapstructure:"ssid"`
	Passphrase string `json:"passphrase" mapstructure:"passphrase"`

	// Interface is the station interface watched for an address.
	Interface string `json:"interface" mapstructure:"interface"`

	// ConnectCommand is the nmcli-compatible binary used to associate.
	// Empty means association is handled by the host and only watched.
	ConnectCommand string `json:"connect-command" mapstructure:"connect-command"`

	// ResyncInterval is the wait before resubscribing to interface updates
	// once a subscription ends.
	ResyncInterval time.Duration `json:"resync-interval" mapstructure:"resync-interval"`

	SimulatedAddress string        `json:"simulated-address" mapstructure:"simulated-address"`
	SimulatedDelay   time.Duration `json:"simulated-delay" mapstructure:"simulated-delay"`

	// Reconnect policy. RetryInterval 0 retries immediately and forever.
	RetryInterval time.Duration `json:"retry-interval" mapstructure:"retry-interval"`
	RetryFactor   float64       `json:"retry-factor" mapstructure:"retry-factor"`
	RetryJitter   float64       `json:"retry-jitter" mapstructure:"retry-jitter"`
	RetryCap      time.Duration `json:"retry-cap" mapstructure:"retry-cap"`
}

// NewNetworkOptions creates a new NetworkOptions with default values.
func NewNetworkOptions() *NetworkOptions {
	return &NetworkOptions{
		Station:          StationNetif,
		SSID:             "SSD",
		Passphrase:       "password",
		Interface:        "wlan0",
		ConnectCommand:   "nmcli",
		ResyncInterval:   time.Second,
		SimulatedAddress: "192.168.4.2",
		SimulatedDelay:   time.Second,
		RetryInterval:    500 * time.Millisecond,
		RetryFactor:      2.0,
		RetryJitter:      0.1,
		RetryCap:         30 * time.Second,
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *NetworkOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}

	switch o.Station {
	case StationNetif:
		if o.Interface == "" {
			errs = append(errs, errors.New("--network.interface is required for the netif station"))
		}
		if o.ResyncInterval <= 0 {
			errs = append(errs, errors.New("--network.resync-interval must be positive"))
		}
		if o.ConnectCommand != "" && o.SSID == "" {
			errs = append(errs, errors.New("--network.ssid is required when --network.connect-command is set"))
		}
	case StationSimulated:
		if _, err := netip.ParseAddr(o.SimulatedAddress); err != nil {
			errs = append(errs, fmt.Errorf("--network.simulated-address: %w", err))
		}
	default:
		errs = append(errs, fmt.Errorf("--network.station must be %q or %q, got %q", StationNetif, StationSimulated, o.Station))
	}

	if o.RetryInterval < 0 {
		errs = append(errs, errors.New("--network.retry-interval must not be negative"))
	}
	if o.RetryFactor != 0 && o.RetryFactor < 1 {
		errs = append(errs, errors.New("--network.retry-factor must be 0 or at least 1"))
	}
	if o.RetryFactor > 1 && o.RetryCap <= 0 {
		errs = append(errs, errors.New("--network.retry-cap must be positive when --network.retry-factor grows the delay"))
	}
	if o.RetryJitter < 0 {
		errs = append(errs, errors.New("--network.retry-jitter must not be negative"))
	}

	return errs
}

// AddFlags adds flags for NetworkOptions to the specified FlagSet.
func (o *NetworkOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Station, "network.station", o.Station, "Station implementation: 'netif' or 'simulated'.")
	fs.StringVar(&o.SSID, "network.ssid", o.SSID, "Name of the wireless network to join.")
	fs.StringVar(&o.Passphrase, "network.passphrase", o.Passphrase, "Passphrase of the wireless network.")
	fs.StringVar(&o.Interface, "network.interface", o.Interface, "Station network interface.")
	fs.StringVar(&o.ConnectCommand, "network.connect-command", o.ConnectCommand, "nmcli-compatible command used to associate; empty leaves association to the host.")
	fs.DurationVar(&o.ResyncInterval, "network.resync-interval", o.ResyncInterval, "Wait before resubscribing to interface updates after the subscription ends.")
	fs.StringVar(&o.SimulatedAddress, "network.simulated-address", o.SimulatedAddress, "Address reported by the simulated station.")
	fs.DurationVar(&o.SimulatedDelay, "network.simulated-delay", o.SimulatedDelay, "Association delay of the simulated station.")
	fs.DurationVar(&o.RetryInterval, "network.retry-interval", o.RetryInterval, "Initial delay before re-associating after a disconnect; 0 retries immediately.")
	fs.Float64Var(&o.RetryFactor, "network.retry-factor", o.RetryFactor, "Multiplier applied to the retry delay after each failed attempt.")
	fs.Float64Var(&o.RetryJitter, "network.retry-jitter", o.RetryJitter, "Random jitter factor added to each retry delay.")
	fs.DurationVar(&o.RetryCap, "network.retry-cap", o.RetryCap, "Upper bound of the retry delay.")
}

// Backoff returns the reconnect policy. Steps is unbounded: once the cap is
// reached every retry waits Cap.
func (o *NetworkOptions) Backoff() wait.Backoff {
	return wait.Backoff{
		Duration: o.RetryInterval,
		Factor:   o.RetryFactor,
		Jitter:   o.RetryJitter,
		Steps:    math.MaxInt32,
		Cap:      o.RetryCap,
	}
}

package ledserver

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/autopeer-io/ledserver/internal/ledserver/actuator"
	"github.com/autopeer-io/ledserver/internal/ledserver/diag"
	"github.com/autopeer-io/ledserver/internal/ledserver/hal"
	"github.com/autopeer-io/ledserver/internal/ledserver/presence"
	"github.com/autopeer-io/ledserver/internal/ledserver/server"
	"github.com/autopeer-io/ledserver/internal/ledserver/station"
	"github.com/autopeer-io/ledserver/internal/ledserver/storage"
	"github.com/autopeer-io/ledserver/internal/ledserver/supervisor"
	"github.com/autopeer-io/ledserver/internal/pkg/metrics"
	"github.com/autopeer-io/ledserver/pkg/log"
	"github.com/autopeer-io/ledserver/pkg/mqtt"
	"github.com/autopeer-io/ledserver/pkg/mqtt/topic"
	"github.com/autopeer-io/ledserver/pkg/options"
)

type Config struct {
	HttpOptions    *options.HttpOptions
	NetworkOptions *options.NetworkOptions
	GPIOOptions    *options.GPIOOptions
	StorageOptions *options.StorageOptions
	MqttOptions    *options.MqttOptions
	DiagOptions    *options.DiagOptions
}

// Specs converts the configured wiring into actuator specs.
func (cfg *Config) Specs() ([]actuator.Spec, error) {
	lines, err := cfg.GPIOOptions.Lines()
	if err != nil {
		return nil, err
	}
	specs := make([]actuator.Spec, len(lines))
	for i, l := range lines {
		specs[i] = actuator.Spec{ID: actuator.ID(l.Name), Line: l.Line}
	}
	return specs, nil
}

// NewController wires every component. Nothing touches hardware or the
// network until Run.
func (cfg *Config) NewController() (*Controller, error) {
	specs, err := cfg.Specs()
	if err != nil {
		return nil, err
	}

	// 1. Hardware (Secondary Adapter)
	gpio, err := hal.NewGPIO(cfg.GPIOOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to init gpio driver: %w", err)
	}
	store, err := actuator.NewStore(gpio, specs)
	if err != nil {
		_ = gpio.Close()
		return nil, fmt.Errorf("failed to init actuator store: %w", err)
	}

	// 2. Network (Secondary Adapter)
	sta, err := station.New(cfg.NetworkOptions)
	if err != nil {
		_ = gpio.Close()
		return nil, fmt.Errorf("failed to init station: %w", err)
	}

	// 3. Command server, gated by the supervisor
	srv := server.New(cfg.HttpOptions, store)

	c := &Controller{
		volume: storage.NewVolume(cfg.StorageOptions.Dir),
		gpio:   gpio,
		store:  store,
		server: srv,
		logger: log.WithName("bootstrap"),
	}

	var supOpts []supervisor.Option
	if cfg.MqttOptions.Enabled() {
		announcer, err := cfg.newAnnouncer()
		if err != nil {
			_ = gpio.Close()
			return nil, fmt.Errorf("failed to init presence announcer: %w", err)
		}
		c.announcer = announcer
		supOpts = append(supOpts, supervisor.WithObserver(announcer))
	}
	c.supervisor = supervisor.New(sta, srv, cfg.NetworkOptions.Backoff(), supOpts...)

	// 4. Diagnostics
	if cfg.DiagOptions.Addr != "" {
		c.diag = diag.NewServer(cfg.DiagOptions, c.Ready, metrics.Registry)
	}

	return c, nil
}

func (cfg *Config) newAnnouncer() (*presence.Announcer, error) {
	device := cfg.MqttOptions.DeviceID
	if device == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("derive device id: %w", err)
		}
		device = hostname
	}

	builder := topic.NewBuilder(cfg.MqttOptions.TopicRoot)
	clientCfg := cfg.MqttOptions.ToClientConfig()
	if clientCfg.ClientID == "" {
		clientCfg.ClientID = fmt.Sprintf("ledserver-%s", device)
	}
	presence.ConfigureWill(clientCfg, builder, device)

	client, err := mqtt.NewClient(clientCfg)
	if err != nil {
		return nil, err
	}
	return presence.NewAnnouncer(client, builder, device, commandPort(cfg.HttpOptions.Addr)), nil
}

// commandPort returns the port advertised in presence records, or 0.
func commandPort(addr string) int {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	p, _ := strconv.Atoi(port)
	return p
}

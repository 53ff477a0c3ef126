package options

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*HttpOptions)(nil)

// HttpOptions contains the command server's listener and exchange limits.
type HttpOptions struct {
	// Network with server network.
	Network string `json:"network" mapstructure:"network"`

	// Address with server address.
	Addr string `json:"addr" mapstructure:"addr"`

	// ReadTimeout bounds how long a handler waits for the request body.
	// Exceeding it answers 408.
	ReadTimeout time.Duration `json:"read-timeout" mapstructure:"read-timeout"`

	// WriteTimeout bounds writing a response.
	WriteTimeout time.Duration `json:"write-timeout" mapstructure:"write-timeout"`

	// IdleTimeout closes idle keep-alive connections so the connection cap
	// is not exhausted by clients that never hang up.
	IdleTimeout time.Duration `json:"idle-timeout" mapstructure:"idle-timeout"`

	// ShutdownTimeout bounds the graceful drain when the listener is released.
	ShutdownTimeout time.Duration `json:"shutdown-timeout" mapstructure:"shutdown-timeout"`

	// MaxConnections caps simultaneously open connections.
	MaxConnections int `json:"max-connections" mapstructure:"max-connections"`

	// MaxBodyBytes is the number of request body bytes considered; the rest is ignored.
	MaxBodyBytes int64 `json:"max-body-bytes" mapstructure:"max-body-bytes"`
}

// NewHttpOptions creates a HttpOptions object with default parameters.
func NewHttpOptions() *HttpOptions {
	return &HttpOptions{
		Network:         "tcp",
		Addr:            "0.0.0.0:80",
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     30 * time.Second,
		ShutdownTimeout: 5 * time.Second,
		MaxConnections:  5,
		MaxBodyBytes:    127,
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *HttpOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}

	if err := ValidateAddress(o.Addr); err != nil {
		errs = append(errs, err)
	}
	if o.Network != "tcp" && o.Network != "tcp4" && o.Network != "tcp6" {
		errs = append(errs, fmt.Errorf("--http.network must be tcp, tcp4 or tcp6, got %q", o.Network))
	}
	if o.MaxConnections < 1 {
		errs = append(errs, errors.New("--http.max-connections must be at least 1"))
	}
	if o.MaxBodyBytes < 1 {
		errs = append(errs, errors.New("--http.max-body-bytes must be at least 1"))
	}
	if o.ReadTimeout <= 0 {
		errs = append(errs, errors.New("--http.read-timeout must be positive"))
	}

	return errs
}

// AddFlags adds flags related to the command server to the specified FlagSet.
func (o *HttpOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Network, "http.network", o.Network, "Specify the network for the command server.")
	fs.StringVar(&o.Addr, "http.addr", o.Addr, "Specify the command server bind address and port.")
	fs.DurationVar(&o.ReadTimeout, "http.read-timeout", o.ReadTimeout, "Time allowed to receive a request body before answering 408.")
	fs.DurationVar(&o.WriteTimeout, "http.write-timeout", o.WriteTimeout, "Time allowed to send a response.")
	fs.DurationVar(&o.IdleTimeout, "http.idle-timeout", o.IdleTimeout, "Idle keep-alive connections are closed after this long.")
	fs.DurationVar(&o.ShutdownTimeout, "http.shutdown-timeout", o.ShutdownTimeout, "Grace period for in-flight requests when the listener is released.")
	fs.IntVar(&o.MaxConnections, "http.max-connections", o.MaxConnections, "Maximum number of simultaneously open connections.")
	fs.Int64Var(&o.MaxBodyBytes, "http.max-body-bytes", o.MaxBodyBytes, "Number of request body bytes read per command.")
}

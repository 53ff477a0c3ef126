package options

import (
	"github.com/spf13/pflag"
)

var _ IOptions = (*DiagOptions)(nil)

// DiagOptions configures the health and metrics listener.
type DiagOptions struct {
	// Addr of the diagnostics server. Empty disables it.
	Addr string `json:"addr" mapstructure:"addr"`
}

// NewDiagOptions creates a new DiagOptions with default values.
func NewDiagOptions() *DiagOptions {
	return &DiagOptions{
		Addr: "0.0.0.0:9090",
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *DiagOptions) Validate() []error {
	if o == nil || o.Addr == "" {
		return nil
	}
	if err := ValidateAddress(o.Addr); err != nil {
		return []error{err}
	}
	return nil
}

// AddFlags adds flags for DiagOptions to the specified FlagSet.
func (o *DiagOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Addr, "diag.addr", o.Addr, "Bind address for /healthz, /readyz and /metrics; empty disables it.")
}

package options

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
)

const (
	// GPIODriverCdev drives lines through the Linux GPIO character device.
	GPIODriverCdev = "cdev"
	// GPIODriverSysfs drives lines through the legacy sysfs GPIO interface,
	// for kernels built without the character device.
	GPIODriverSysfs = "sysfs"
	// GPIODriverMock keeps levels in memory and logs every write.
	GPIODriverMock = "mock"
)

var _ IOptions = (*GPIOOptions)(nil)

// reservedNames are the state report keys an actuator name would collide with.
var reservedNames = []string{"status", "message", "error"}

// ActuatorLine binds an actuator name to a GPIO line number.
type ActuatorLine struct {
	Name string
	Line int
}

// GPIOOptions selects the GPIO driver and the actuator-to-line mapping.
type GPIOOptions struct {
	Driver    string `json:"driver" mapstructure:"driver"`
	Chip      string `json:"chip" mapstructure:"chip"`
	SysfsRoot string `json:"sysfs-root" mapstructure:"sysfs-root"`

	// Actuators holds "name=line" entries. Order is the report order.
	Actuators []string `json:"actuators" mapstructure:"actuators"`
}

// NewGPIOOptions creates a new GPIOOptions with the reference wiring.
func NewGPIOOptions() *GPIOOptions {
	return &GPIOOptions{
		Driver:    GPIODriverCdev,
		Chip:      "gpiochip0",
		SysfsRoot: "/sys/class/gpio",
		Actuators: []string{"led1=12", "led2=14", "led3=27"},
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *GPIOOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}

	switch o.Driver {
	case GPIODriverCdev:
		if o.Chip == "" {
			errs = append(errs, fmt.Errorf("--gpio.chip is required for the %s driver", GPIODriverCdev))
		}
	case GPIODriverSysfs:
		if o.SysfsRoot == "" {
			errs = append(errs, fmt.Errorf("--gpio.sysfs-root is required for the %s driver", GPIODriverSysfs))
		}
	case GPIODriverMock:
	default:
		errs = append(errs, fmt.Errorf("--gpio.driver must be %q, %q or %q, got %q", GPIODriverCdev, GPIODriverSysfs, GPIODriverMock, o.Driver))
	}

	if _, err := o.Lines(); err != nil {
		errs = append(errs, err)
	}

	return errs
}

// AddFlags adds flags for GPIOOptions to the specified FlagSet.
func (o *GPIOOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Driver, "gpio.driver", o.Driver, "GPIO driver: 'cdev', 'sysfs' or 'mock'.")
	fs.StringVar(&o.Chip, "gpio.chip", o.Chip, "GPIO chip name or path used by the cdev driver.")
	fs.StringVar(&o.SysfsRoot, "gpio.sysfs-root", o.SysfsRoot, "Root of the sysfs GPIO tree.")
	fs.StringSliceVar(&o.Actuators, "gpio.actuators", o.Actuators, "Ordered actuator wiring as name=line pairs.")
}

// Lines parses Actuators. Names and lines must be unique.
func (o *GPIOOptions) Lines() ([]ActuatorLine, error) {
	if len(o.Actuators) == 0 {
		return nil, fmt.Errorf("--gpio.actuators must name at least one actuator")
	}

	lines := make([]ActuatorLine, 0, len(o.Actuators))
	names := make(map[string]struct{}, len(o.Actuators))
	used := make(map[int]string, len(o.Actuators))

	for _, entry := range o.Actuators {
		name, raw, ok := strings.Cut(entry, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("--gpio.actuators: %q is not of the form name=line", entry)
		}
		if strings.Contains(name, ":") {
			return nil, fmt.Errorf("--gpio.actuators: name %q must not contain ':'", name)
		}
		if slices.Contains(reservedNames, name) {
			return nil, fmt.Errorf("--gpio.actuators: name %q is reserved", name)
		}

		line, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || line < 0 {
			return nil, fmt.Errorf("--gpio.actuators: invalid line in %q", entry)
		}

		if _, dup := names[name]; dup {
			return nil, fmt.Errorf("--gpio.actuators: duplicate name %q", name)
		}
		if other, dup := used[line]; dup {
			return nil, fmt.Errorf("--gpio.actuators: line %d used by both %q and %q", line, other, name)
		}

		names[name] = struct{}{}
		used[line] = name
		lines = append(lines, ActuatorLine{Name: name, Line: line})
	}

	return lines, nil
}

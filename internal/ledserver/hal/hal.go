// Package hal provides the GPIO adapters behind core.GPIO.
package hal

import (
	"fmt"

	"github.com/autopeer-io/ledserver/internal/ledserver/core"
	"github.com/autopeer-io/ledserver/pkg/options"
)

// NewGPIO returns the driver selected by opts.
func NewGPIO(opts *options.GPIOOptions) (core.GPIO, error) {
	switch opts.Driver {
	case options.GPIODriverCdev:
		gpio, err := NewCdevGPIO(opts.Chip)
		if err != nil {
			return nil, err
		}
		return gpio, nil
	case options.GPIODriverSysfs:
		gpio, err := NewSysfsGPIO(opts.SysfsRoot)
		if err != nil {
			return nil, err
		}
		return gpio, nil
	case options.GPIODriverMock:
		return NewMockGPIO(), nil
	default:
		return nil, fmt.Errorf("unknown gpio driver %q", opts.Driver)
	}
}

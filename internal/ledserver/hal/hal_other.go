//go:build !linux

package hal

import (
	"errors"

	"github.com/autopeer-io/ledserver/internal/ledserver/core"
)

// NewCdevGPIO is only available on Linux; use the mock driver elsewhere.
func NewCdevGPIO(string) (core.GPIO, error) {
	return nil, errors.New("cdev gpio driver requires linux, use --gpio.driver=mock")
}

// NewSysfsGPIO is only available on Linux; use the mock driver elsewhere.
func NewSysfsGPIO(string) (core.GPIO, error) {
	return nil, errors.New("sysfs gpio driver requires linux, use --gpio.driver=mock")
}

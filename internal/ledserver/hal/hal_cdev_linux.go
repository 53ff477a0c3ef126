//go:build linux

package hal

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/warthog618/go-gpiocdev"

	"github.com/autopeer-io/ledserver/internal/ledserver/core"
	"github.com/autopeer-io/ledserver/pkg/log"
)

const consumer = "ledserver"

var _ core.GPIO = (*CdevGPIO)(nil)

// outputLine is the subset of *gpiocdev.Line the driver drives.
type outputLine interface {
	SetValue(value int) error
	Close() error
}

// CdevGPIO drives lines through the GPIO character device (/dev/gpiochipN).
// Requested lines stay held until Close.
type CdevGPIO struct {
	chip    string
	request func(chip string, offset int) (outputLine, error)

	mu    sync.Mutex
	lines map[int]outputLine
}

// NewCdevGPIO returns a driver for chip, e.g. "gpiochip0" or "/dev/gpiochip0".
func NewCdevGPIO(chip string) (*CdevGPIO, error) {
	if chip == "" {
		return nil, errors.New("gpio chip is required")
	}
	return &CdevGPIO{
		chip:    chip,
		request: requestOutput,
		lines:   map[int]outputLine{},
	}, nil
}

func requestOutput(chip string, offset int) (outputLine, error) {
	l, err := gpiocdev.RequestLine(chip, offset, gpiocdev.WithConsumer(consumer), gpiocdev.AsOutput(0))
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (g *CdevGPIO) Configure(ctx context.Context, lines []int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, offset := range lines {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, ok := g.lines[offset]; ok {
			continue
		}
		l, err := g.request(g.chip, offset)
		if err != nil {
			return fmt.Errorf("request %s line %d: %w", g.chip, offset, err)
		}
		g.lines[offset] = l
		log.Debug("[HAL-Cdev] Line requested as output", "chip", g.chip, "line", offset)
	}
	return nil
}

func (g *CdevGPIO) SetLevel(line int, high bool) error {
	g.mu.Lock()
	l, ok := g.lines[line]
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s line %d is not configured", g.chip, line)
	}

	value := 0
	if high {
		value = 1
	}
	if err := l.SetValue(value); err != nil {
		return fmt.Errorf("set %s line %d: %w", g.chip, line, err)
	}
	return nil
}

// Close releases every requested line.
func (g *CdevGPIO) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var errs []error
	for offset, l := range g.lines {
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("release %s line %d: %w", g.chip, offset, err))
		}
	}
	g.lines = map[int]outputLine{}
	return errors.Join(errs...)
}

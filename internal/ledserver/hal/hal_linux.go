//go:build linux

package hal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/autopeer-io/ledserver/internal/ledserver/core"
	"github.com/autopeer-io/ledserver/pkg/log"
)

const (
	directionOut = "out"
	levelHigh    = "1"
	levelLow     = "0"
)

var _ core.GPIO = (*SysfsGPIO)(nil)

// SysfsGPIO drives lines through the legacy /sys/class/gpio interface.
type SysfsGPIO struct {
	root string

	// exportTimeout bounds the wait for udev to create gpioN after export.
	exportTimeout time.Duration

	mu       sync.Mutex
	lines    map[int]bool // line -> exported by us
	exported []int
}

// NewSysfsGPIO returns a driver rooted at root, normally /sys/class/gpio.
func NewSysfsGPIO(root string) (*SysfsGPIO, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("sysfs gpio root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("sysfs gpio root %s is not a directory", root)
	}
	return &SysfsGPIO{
		root:          root,
		exportTimeout: time.Second,
		lines:         map[int]bool{},
	}, nil
}

func (g *SysfsGPIO) Configure(ctx context.Context, lines []int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, line := range lines {
		if _, ok := g.lines[line]; ok {
			continue
		}
		exported, err := g.export(ctx, line)
		if err != nil {
			return err
		}
		if err := os.WriteFile(g.attr(line, "direction"), []byte(directionOut), 0o644); err != nil {
			return fmt.Errorf("set gpio%d direction: %w", line, err)
		}
		g.lines[line] = exported
		if exported {
			g.exported = append(g.exported, line)
		}
		log.Debug("[HAL-Sysfs] Line configured as output", "line", line, "exported", exported)
	}
	return nil
}

func (g *SysfsGPIO) SetLevel(line int, high bool) error {
	g.mu.Lock()
	_, ok := g.lines[line]
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("gpio%d is not configured", line)
	}

	value := levelLow
	if high {
		value = levelHigh
	}
	if err := os.WriteFile(g.attr(line, "value"), []byte(value), 0o644); err != nil {
		return fmt.Errorf("write gpio%d value: %w", line, err)
	}
	return nil
}

// Close unexports the lines this driver exported.
func (g *SysfsGPIO) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var errs []error
	for _, line := range g.exported {
		if err := os.WriteFile(filepath.Join(g.root, "unexport"), []byte(strconv.Itoa(line)), 0o644); err != nil {
			errs = append(errs, fmt.Errorf("unexport gpio%d: %w", line, err))
		}
	}
	g.exported = nil
	g.lines = map[int]bool{}
	return errors.Join(errs...)
}

// export makes gpioN available and reports whether this call exported it.
func (g *SysfsGPIO) export(ctx context.Context, line int) (bool, error) {
	dir := filepath.Join(g.root, "gpio"+strconv.Itoa(line))
	if _, err := os.Stat(dir); err == nil {
		return false, nil
	}

	if err := os.WriteFile(filepath.Join(g.root, "export"), []byte(strconv.Itoa(line)), 0o644); err != nil {
		return false, fmt.Errorf("export gpio%d: %w", line, err)
	}

	err := wait.PollUntilContextTimeout(ctx, 10*time.Millisecond, g.exportTimeout, true, func(context.Context) (bool, error) {
		_, err := os.Stat(g.attr(line, "direction"))
		return err == nil, nil
	})
	if err != nil {
		return true, fmt.Errorf("gpio%d did not appear after export: %w", line, err)
	}
	return true, nil
}

func (g *SysfsGPIO) attr(line int, name string) string {
	return filepath.Join(g.root, "gpio"+strconv.Itoa(line), name)
}

package hal

import (
	"context"
	"fmt"
	"sync"

	"github.com/autopeer-io/ledserver/internal/ledserver/core"
	"github.com/autopeer-io/ledserver/pkg/log"
)

var _ core.GPIO = (*MockGPIO)(nil)

// MockGPIO keeps levels in memory. It is used for development hosts without
// GPIO lines.
type MockGPIO struct {
	mu     sync.Mutex
	levels map[int]bool
	failed map[int]error
}

func NewMockGPIO() *MockGPIO {
	return &MockGPIO{levels: map[int]bool{}, failed: map[int]error{}}
}

func (m *MockGPIO) Configure(_ context.Context, lines []int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, line := range lines {
		if _, ok := m.levels[line]; !ok {
			m.levels[line] = false
		}
	}
	log.Info("[HAL-Mock] Lines configured as outputs", "lines", lines)
	return nil
}

func (m *MockGPIO) SetLevel(line int, high bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.levels[line]; !ok {
		return fmt.Errorf("gpio%d is not configured", line)
	}
	if err := m.failed[line]; err != nil {
		return err
	}
	m.levels[line] = high
	log.Info(fmt.Sprintf("[HAL-Mock] GPIO %d -> %s", line, levelName(high)))
	return nil
}

func (m *MockGPIO) Close() error {
	log.Info("[HAL-Mock] Lines released")
	return nil
}

// Level returns the last level written to line.
func (m *MockGPIO) Level(line int) (high, configured bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	high, configured = m.levels[line]
	return high, configured
}

// Fail makes subsequent writes to line return err. A nil err clears it.
func (m *MockGPIO) Fail(line int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failed, line)
		return
	}
	m.failed[line] = err
}

func levelName(high bool) string {
	if high {
		return "HIGH"
	}
	return "LOW"
}

//go:build linux

package hal

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/ledserver/pkg/options"
)

// fakeChip hands out in-memory lines in place of /dev/gpiochipN.
type fakeChip struct {
	mu       sync.Mutex
	lines    map[int]*fakeLine
	busy     map[int]bool
	requests []string
}

type fakeLine struct {
	mu     sync.Mutex
	value  int
	closed bool
	fail   error
}

func (l *fakeLine) SetValue(value int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errors.New("line closed")
	}
	if l.fail != nil {
		return l.fail
	}
	l.value = value
	return nil
}

func (l *fakeLine) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func newFakeChip(busy ...int) *fakeChip {
	c := &fakeChip{lines: map[int]*fakeLine{}, busy: map[int]bool{}}
	for _, offset := range busy {
		c.busy[offset] = true
	}
	return c
}

func (c *fakeChip) request(chip string, offset int) (outputLine, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, chip)
	if c.busy[offset] {
		return nil, errors.New("device or resource busy")
	}
	l := &fakeLine{}
	c.lines[offset] = l
	return l, nil
}

func newTestCdev(t *testing.T, chip *fakeChip) *CdevGPIO {
	t.Helper()
	g, err := NewCdevGPIO("gpiochip0")
	require.NoError(t, err)
	g.request = chip.request
	return g
}

func TestCdevConfigureAndSetLevel(t *testing.T) {
	t.Parallel()

	chip := newFakeChip()
	g := newTestCdev(t, chip)

	require.NoError(t, g.Configure(context.Background(), []int{12, 14, 27}))
	require.NoError(t, g.Configure(context.Background(), []int{12}))
	require.Equal(t, []string{"gpiochip0", "gpiochip0", "gpiochip0"}, chip.requests)

	require.NoError(t, g.SetLevel(14, true))
	require.Equal(t, 1, chip.lines[14].value)
	require.NoError(t, g.SetLevel(14, false))
	require.Equal(t, 0, chip.lines[14].value)

	require.NoError(t, g.Close())
	for offset, l := range chip.lines {
		require.True(t, l.closed, "line %d", offset)
	}
	require.Error(t, g.SetLevel(14, true))
}

func TestCdevSetLevelRequiresConfigure(t *testing.T) {
	t.Parallel()

	g := newTestCdev(t, newFakeChip())
	require.ErrorContains(t, g.SetLevel(5, true), "not configured")
}

func TestCdevConfigureBusyLine(t *testing.T) {
	t.Parallel()

	g := newTestCdev(t, newFakeChip(27))
	err := g.Configure(context.Background(), []int{12, 27})
	require.ErrorContains(t, err, "line 27")
	require.NoError(t, g.SetLevel(12, true))
}

func TestCdevWriteFailure(t *testing.T) {
	t.Parallel()

	chip := newFakeChip()
	g := newTestCdev(t, chip)
	require.NoError(t, g.Configure(context.Background(), []int{12}))

	chip.lines[12].fail = errors.New("input/output error")
	require.ErrorContains(t, g.SetLevel(12, true), "input/output error")
}

func TestCdevRequiresChip(t *testing.T) {
	t.Parallel()

	_, err := NewCdevGPIO("")
	require.Error(t, err)
}

func TestNewGPIOSelectsCdev(t *testing.T) {
	t.Parallel()

	opts := options.NewGPIOOptions()
	gpio, err := NewGPIO(opts)
	require.NoError(t, err)
	require.IsType(t, &CdevGPIO{}, gpio)
}

// Package actuator owns the logical state of the controller's output lines.
// It is the only writer of hardware state.
package actuator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/autopeer-io/ledserver/internal/ledserver/core"
	"github.com/autopeer-io/ledserver/internal/pkg/metrics"
	"github.com/autopeer-io/ledserver/pkg/log"
)

// ErrHardware wraps every failed GPIO write.
var ErrHardware = errors.New("hardware write failed")

// ID names an actuator, e.g. "led1".
type ID string

// Spec binds an actuator to its GPIO line. Specs are fixed at startup.
type Spec struct {
	ID   ID
	Line int
}

// State is the recorded value of one actuator.
type State struct {
	ID ID
	On bool
}

// Snapshot lists every actuator in configuration order.
type Snapshot []State

// Get returns the recorded value for id.
func (s Snapshot) Get(id ID) (on, ok bool) {
	for _, st := range s {
		if st.ID == id {
			return st.On, true
		}
	}
	return false, false
}

// Result is the outcome of Apply.
type Result struct {
	Snapshot Snapshot

	// Applied is false when the target is unknown and nothing was written.
	Applied bool
}

type actuator struct {
	spec Spec
	on   bool
}

// Store records the last successfully written value of each actuator.
// Apply and Snapshot are serialized, so a write and its record are never
// interleaved with another exchange.
type Store struct {
	gpio   core.GPIO
	specs  []Spec
	index  map[ID]int
	logger log.Logger

	mu        sync.Mutex
	actuators []actuator
}

// NewStore validates specs and returns a store with every actuator off.
// Call Init before serving so the hardware matches.
func NewStore(gpio core.GPIO, specs []Spec) (*Store, error) {
	if gpio == nil {
		return nil, errors.New("gpio driver is required")
	}
	if len(specs) == 0 {
		return nil, errors.New("at least one actuator is required")
	}

	s := &Store{
		gpio:      gpio,
		specs:     make([]Spec, 0, len(specs)),
		index:     make(map[ID]int, len(specs)),
		logger:    log.WithName("actuator"),
		actuators: make([]actuator, 0, len(specs)),
	}

	lines := make(map[int]ID, len(specs))
	for _, spec := range specs {
		if spec.ID == "" {
			return nil, errors.New("actuator id must not be empty")
		}
		if _, dup := s.index[spec.ID]; dup {
			return nil, fmt.Errorf("duplicate actuator %q", spec.ID)
		}
		if other, dup := lines[spec.Line]; dup {
			return nil, fmt.Errorf("line %d assigned to both %q and %q", spec.Line, other, spec.ID)
		}
		lines[spec.Line] = spec.ID
		s.index[spec.ID] = len(s.actuators)
		s.specs = append(s.specs, spec)
		s.actuators = append(s.actuators, actuator{spec: spec})
	}

	return s, nil
}

// Init configures every line as an output and drives it low.
func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines := make([]int, len(s.actuators))
	for i, a := range s.actuators {
		lines[i] = a.spec.Line
	}

	if err := s.gpio.Configure(ctx, lines); err != nil {
		return fmt.Errorf("configure lines %v: %w", lines, err)
	}

	for i := range s.actuators {
		a := &s.actuators[i]
		if err := s.gpio.SetLevel(a.spec.Line, false); err != nil {
			return fmt.Errorf("%w: drive %s (line %d) low: %v", ErrHardware, a.spec.ID, a.spec.Line, err)
		}
		a.on = false
		metrics.ActuatorState.WithLabelValues(string(a.spec.ID)).Set(0)
	}

	s.logger.Info("Actuators initialized low", "count", len(s.actuators))
	return nil
}

// Apply drives id to on and records it once the write succeeds. An unknown
// id is a no-op. The snapshot is returned in every case, including failure,
// where it still holds the pre-attempt value.
func (s *Store) Apply(id ID, on bool) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[id]
	if !ok {
		return Result{Snapshot: s.snapshotLocked()}, nil
	}

	a := &s.actuators[i]
	if err := s.gpio.SetLevel(a.spec.Line, on); err != nil {
		s.logger.Error(err, "GPIO write failed", "actuator", a.spec.ID, "line", a.spec.Line, "on", on)
		return Result{Snapshot: s.snapshotLocked()}, fmt.Errorf("%w: %s (line %d): %v", ErrHardware, a.spec.ID, a.spec.Line, err)
	}
	a.on = on

	value := 0.0
	if on {
		value = 1
	}
	metrics.ActuatorState.WithLabelValues(string(a.spec.ID)).Set(value)

	return Result{Snapshot: s.snapshotLocked(), Applied: true}, nil
}

// Snapshot returns the recorded value of every actuator.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Specs returns the actuator wiring in configuration order. It is fixed at
// construction and safe to call while commands are applied.
func (s *Store) Specs() []Spec {
	return slices.Clone(s.specs)
}

func (s *Store) snapshotLocked() Snapshot {
	snap := make(Snapshot, len(s.actuators))
	for i, a := range s.actuators {
		snap[i] = State{ID: a.spec.ID, On: a.on}
	}
	return snap
}

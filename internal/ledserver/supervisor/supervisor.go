// Package supervisor owns the station lifecycle and gates the command
// server on having a network address.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/ledserver/internal/ledserver/core"
	"github.com/autopeer-io/ledserver/internal/pkg/metrics"
	fsmutil "github.com/autopeer-io/ledserver/internal/pkg/util/fsm"
	"github.com/autopeer-io/ledserver/pkg/log"
)

// ErrNotReady is returned by Ready while the command endpoint is unreachable.
var ErrNotReady = errors.New("not connected")

const (
	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateConnected    = "connected"
)

const (
	// EventStart (Active) begins the first association attempt.
	EventStart = "start"
	// EventRetry (Active) begins another attempt after a loss.
	EventRetry = "retry"
	// EventAcquire records an address and binds the command server.
	EventAcquire = "acquire"
	// EventDisconnect releases the command server.
	EventDisconnect = "disconnect"
)

// CommandServer is the listener the supervisor binds and releases.
type CommandServer interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Running() bool
}

// Observer is told about connectivity changes. Callbacks run on the
// supervisor goroutine and must return promptly.
type Observer interface {
	OnConnected(ctx context.Context, addr netip.Addr)
	OnDisconnected(ctx context.Context)
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithClock replaces the wall clock used for retry timers.
func WithClock(c clock.Clock) Option {
	return func(s *Supervisor) { s.clock = c }
}

// WithObserver registers o for connectivity notifications.
func WithObserver(o Observer) Option {
	return func(s *Supervisor) { s.observers = append(s.observers, o) }
}

// Supervisor consumes station events in order and drives the
// disconnected -> connecting -> connected machine. It is the only owner of
// the connection state.
type Supervisor struct {
	station   core.Station
	server    CommandServer
	clock     clock.Clock
	policy    wait.Backoff
	observers []Observer
	logger    log.Logger

	fsm *fsm.FSM

	// Touched only by the Run goroutine.
	backoff    wait.Backoff
	retryTimer clock.Timer
	retryC     <-chan time.Time

	mu   sync.RWMutex
	addr netip.Addr
}

// New returns a supervisor in the disconnected state. policy controls the
// delay between reconnect attempts and is reset after each address
// acquisition.
func New(station core.Station, server CommandServer, policy wait.Backoff, opts ...Option) *Supervisor {
	s := &Supervisor{
		station: station,
		server:  server,
		clock:   clock.RealClock{},
		policy:  policy,
		backoff: policy,
		logger:  log.WithName("supervisor"),
	}
	for _, opt := range opts {
		opt(s)
	}

	events := fsm.Events{
		{Name: EventStart, Src: []string{StateDisconnected}, Dst: StateConnecting},
		{Name: EventRetry, Src: []string{StateDisconnected}, Dst: StateConnecting},
		{Name: EventAcquire, Src: []string{StateDisconnected, StateConnecting}, Dst: StateConnected},
		{Name: EventDisconnect, Src: []string{StateConnecting, StateConnected}, Dst: StateDisconnected},
	}

	callbacks := fsm.Callbacks{
		"enter_" + StateConnecting:   fsmutil.WrapEvent(s.actionEnterConnecting),
		"enter_" + StateConnected:    fsmutil.WrapEvent(s.actionEnterConnected),
		"enter_" + StateDisconnected: fsmutil.WrapEvent(s.actionEnterDisconnected),
	}

	s.fsm = fsm.NewFSM(StateDisconnected, events, callbacks)
	return s
}

// Run starts the station and processes its events until ctx is done or the
// event stream closes. The command server is released before returning.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.station.Start(ctx); err != nil {
		return fmt.Errorf("start station: %w", err)
	}
	defer s.shutdown(ctx)

	events := s.station.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				s.logger.Info("Station event stream closed")
				return nil
			}
			s.handle(ctx, ev)
		case <-s.retryC:
			s.retryTimer, s.retryC = nil, nil
			s.connect(ctx, EventRetry)
		}
	}
}

// State returns the current connection state.
func (s *Supervisor) State() string {
	return s.fsm.Current()
}

// Address returns the last acquired address; it is invalid unless connected.
func (s *Supervisor) Address() netip.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// Ready returns nil while connected with a bound command listener.
func (s *Supervisor) Ready() error {
	if state := s.fsm.Current(); state != StateConnected {
		return fmt.Errorf("%w: state is %s", ErrNotReady, state)
	}
	if !s.server.Running() {
		return fmt.Errorf("%w: command server is not bound", ErrNotReady)
	}
	return nil
}

func (s *Supervisor) handle(ctx context.Context, ev core.Event) {
	s.logger.Debug("Station event", "event", ev.String(), "state", s.fsm.Current())

	switch ev.Type {
	case core.EventStationStart:
		if s.fsm.Is(StateDisconnected) {
			s.connect(ctx, EventStart)
		}
	case core.EventGotAddress:
		if s.fsm.Is(StateConnected) {
			s.logger.Info("Address updated while connected", "address", ev.Address.String())
			s.setAddr(ev.Address)
			return
		}
		s.fire(ctx, EventAcquire, ev.Address)
	case core.EventDisconnected:
		if !s.fsm.Is(StateDisconnected) {
			s.fire(ctx, EventDisconnect, ev.Reason)
		}
		s.scheduleRetry()
	default:
		s.logger.Warn("Ignoring unknown station event", "event", ev.String())
	}
}

// connect fires start or retry. A failed Connect counts as a disconnect.
func (s *Supervisor) connect(ctx context.Context, event string) {
	err := s.fsm.Event(ctx, event)
	if err == nil || fsmutil.IsRejected(err) {
		return
	}
	s.logger.Error(err, "Connection attempt failed")
	s.fire(ctx, EventDisconnect, err.Error())
	s.scheduleRetry()
}

func (s *Supervisor) fire(ctx context.Context, event string, args ...any) {
	if err := s.fsm.Event(ctx, event, args...); err != nil && !fsmutil.IsRejected(err) {
		s.logger.Error(err, "State transition failed", "event", event)
	}
}

// scheduleRetry arms the retry timer unless one is pending.
func (s *Supervisor) scheduleRetry() {
	if s.retryC != nil {
		return
	}

	d := s.backoff.Step()
	if d <= 0 {
		ch := make(chan time.Time, 1)
		ch <- s.clock.Now()
		s.retryC = ch
		return
	}

	s.logger.Info("Reconnecting after backoff", "delay", d.String())
	s.retryTimer = s.clock.NewTimer(d)
	s.retryC = s.retryTimer.C()
}

func (s *Supervisor) cancelRetry() {
	if s.retryTimer != nil {
		s.retryTimer.Stop()
	}
	s.retryTimer, s.retryC = nil, nil
	s.backoff = s.policy
}

func (s *Supervisor) actionEnterConnecting(ctx context.Context, e *fsm.Event) error {
	if e.Event == EventRetry {
		metrics.ReconnectsTotal.Inc()
	}
	s.logger.Info("Connecting to network", "event", e.Event)
	return s.station.Connect(ctx)
}

func (s *Supervisor) actionEnterConnected(ctx context.Context, e *fsm.Event) error {
	var addr netip.Addr
	if len(e.Args) > 0 {
		addr, _ = e.Args[0].(netip.Addr)
	}
	s.setAddr(addr)
	s.cancelRetry()
	metrics.ConnectivityStatus.Set(1)
	s.logger.Info("Got IP", "address", addr.String())

	if err := s.server.Start(ctx); err != nil {
		s.logger.Error(err, "Failed to start command server")
	}

	for _, o := range s.observers {
		o.OnConnected(ctx, addr)
	}
	return nil
}

func (s *Supervisor) actionEnterDisconnected(ctx context.Context, e *fsm.Event) error {
	reason := ""
	if len(e.Args) > 0 {
		reason, _ = e.Args[0].(string)
	}
	s.logger.Info("Disconnected", "from", e.Src, "reason", reason)

	if e.Src != StateConnected {
		return nil
	}

	metrics.ConnectivityStatus.Set(0)
	s.setAddr(netip.Addr{})
	if err := s.server.Stop(ctx); err != nil {
		s.logger.Error(err, "Failed to stop command server")
	}
	for _, o := range s.observers {
		o.OnDisconnected(ctx)
	}
	return nil
}

func (s *Supervisor) shutdown(ctx context.Context) {
	if s.retryTimer != nil {
		s.retryTimer.Stop()
	}
	metrics.ConnectivityStatus.Set(0)
	if err := s.server.Stop(context.WithoutCancel(ctx)); err != nil {
		s.logger.Error(err, "Failed to stop command server")
	}
}

func (s *Supervisor) setAddr(addr netip.Addr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addr = addr
}

package station

import (
	"context"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/ledserver/internal/ledserver/core"
	"github.com/autopeer-io/ledserver/pkg/log"
	"github.com/autopeer-io/ledserver/pkg/options"
)

var _ core.Station = (*Simulated)(nil)

// Simulated associates instantly with a fixed address after a delay. Drop
// injects an association loss.
type Simulated struct {
	emitter
	addr   netip.Addr
	delay  time.Duration
	clock  clock.Clock
	logger log.Logger

	mu  sync.Mutex
	ctx context.Context
}

// NewSimulated returns a station that reports opts.SimulatedAddress.
func NewSimulated(opts *options.NetworkOptions) (*Simulated, error) {
	addr, err := netip.ParseAddr(opts.SimulatedAddress)
	if err != nil {
		return nil, fmt.Errorf("simulated address: %w", err)
	}
	return &Simulated{
		emitter: newEmitter(),
		addr:    addr,
		delay:   opts.SimulatedDelay,
		clock:   clock.RealClock{},
		logger:  log.WithName("station").WithValues("kind", options.StationSimulated),
	}, nil
}

func (s *Simulated) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.logger.Info("Simulated radio up", "address", s.addr.String())
	go s.emit(ctx, core.Event{Type: core.EventStationStart})
	return nil
}

func (s *Simulated) Connect(context.Context) error {
	runCtx := s.runContext()
	go func() {
		select {
		case <-s.clock.After(s.delay):
			s.emit(runCtx, core.Event{Type: core.EventGotAddress, Address: s.addr})
		case <-runCtx.Done():
		}
	}()
	return nil
}

// Drop reports an association loss.
func (s *Simulated) Drop(reason string) {
	s.logger.Info("Simulating association loss", "reason", reason)
	s.emit(s.runContext(), core.Event{Type: core.EventDisconnected, Reason: reason})
}

func (s *Simulated) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

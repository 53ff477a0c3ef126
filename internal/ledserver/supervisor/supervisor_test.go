package supervisor

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/util/wait"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/autopeer-io/ledserver/internal/ledserver/core"
)

const waitFor = 2 * time.Second

type fakeStation struct {
	events   chan core.Event
	connects atomic.Int32

	mu         sync.Mutex
	connectErr error
}

func newFakeStation() *fakeStation {
	return &fakeStation{events: make(chan core.Event, 16)}
}

func (f *fakeStation) Start(context.Context) error {
	f.events <- core.Event{Type: core.EventStationStart}
	return nil
}

func (f *fakeStation) Connect(context.Context) error {
	f.connects.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectErr
}

func (f *fakeStation) failConnects(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectErr = err
}

func (f *fakeStation) Events() <-chan core.Event { return f.events }

func (f *fakeStation) gotAddress(addr string) {
	f.events <- core.Event{Type: core.EventGotAddress, Address: netip.MustParseAddr(addr)}
}

func (f *fakeStation) disconnected() {
	f.events <- core.Event{Type: core.EventDisconnected, Reason: "beacon timeout"}
}

type fakeServer struct {
	mu      sync.Mutex
	running bool
	starts  int
	stops   int
}

func (f *fakeServer) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		f.starts++
	}
	f.running = true
	return nil
}

func (f *fakeServer) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		f.stops++
	}
	f.running = false
	return nil
}

func (f *fakeServer) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeServer) counts() (starts, stops int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops
}

type recordingObserver struct {
	mu     sync.Mutex
	events []string
}

func (o *recordingObserver) OnConnected(_ context.Context, addr netip.Addr) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, "up:"+addr.String())
}

func (o *recordingObserver) OnDisconnected(context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, "down")
}

func (o *recordingObserver) snapshot() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.events...)
}

func testPolicy() wait.Backoff {
	return wait.Backoff{Duration: 100 * time.Millisecond, Factor: 2, Steps: 1 << 30, Cap: 400 * time.Millisecond}
}

type harness struct {
	station  *fakeStation
	server   *fakeServer
	observer *recordingObserver
	clock    *testingclock.FakeClock
	sup      *Supervisor
	cancel   context.CancelFunc
	done     chan error
}

func startHarness(t *testing.T, policy wait.Backoff) *harness {
	t.Helper()
	h := &harness{
		station:  newFakeStation(),
		server:   &fakeServer{},
		observer: &recordingObserver{},
		clock:    testingclock.NewFakeClock(time.Unix(0, 0)),
		done:     make(chan error, 1),
	}
	h.sup = New(h.station, h.server, policy, WithClock(h.clock), WithObserver(h.observer))

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.sup.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-h.done
	})
	return h
}

func (h *harness) requireState(t *testing.T, state string) {
	t.Helper()
	require.Eventually(t, func() bool { return h.sup.State() == state }, waitFor, time.Millisecond)
}

func (h *harness) requireConnects(t *testing.T, n int32) {
	t.Helper()
	require.Eventually(t, func() bool { return h.station.connects.Load() == n }, waitFor, time.Millisecond)
}

// stepToRetry advances the fake clock once the retry timer is armed.
func (h *harness) stepToRetry(t *testing.T, d time.Duration) {
	t.Helper()
	require.Eventually(t, h.clock.HasWaiters, waitFor, time.Millisecond)
	h.clock.Step(d)
}

func TestStartConnectsAndAcquireBindsServer(t *testing.T) {
	t.Parallel()

	h := startHarness(t, testPolicy())
	h.requireState(t, StateConnecting)
	h.requireConnects(t, 1)
	require.False(t, h.server.Running())
	require.ErrorIs(t, h.sup.Ready(), ErrNotReady)

	h.station.gotAddress("192.168.4.2")
	h.requireState(t, StateConnected)
	require.Eventually(t, h.server.Running, waitFor, time.Millisecond)
	require.NoError(t, h.sup.Ready())
	require.Equal(t, netip.MustParseAddr("192.168.4.2"), h.sup.Address())
	require.Eventually(t, func() bool { return len(h.observer.snapshot()) == 1 }, waitFor, time.Millisecond)
	require.Equal(t, []string{"up:192.168.4.2"}, h.observer.snapshot())
}

func TestDisconnectReleasesServerAndRetries(t *testing.T) {
	t.Parallel()

	h := startHarness(t, testPolicy())
	h.requireConnects(t, 1)
	h.station.gotAddress("10.0.0.7")
	require.Eventually(t, h.server.Running, waitFor, time.Millisecond)

	h.station.disconnected()
	h.requireState(t, StateDisconnected)
	require.False(t, h.server.Running())
	require.False(t, h.sup.Address().IsValid())

	h.stepToRetry(t, 100*time.Millisecond)
	h.requireConnects(t, 2)
	h.requireState(t, StateConnecting)

	h.station.gotAddress("10.0.0.8")
	h.requireState(t, StateConnected)
	require.Eventually(t, h.server.Running, waitFor, time.Millisecond)

	starts, stops := h.server.counts()
	require.Equal(t, 2, starts)
	require.Equal(t, 1, stops)
	require.Eventually(t, func() bool { return len(h.observer.snapshot()) == 3 }, waitFor, time.Millisecond)
	require.Equal(t, []string{"up:10.0.0.7", "down", "up:10.0.0.8"}, h.observer.snapshot())
}

func TestBackoffGrowsCapsAndResets(t *testing.T) {
	t.Parallel()

	h := startHarness(t, testPolicy())
	h.requireConnects(t, 1)

	var want int32 = 1
	for _, d := range []time.Duration{100, 200, 400, 400} {
		h.station.disconnected()
		h.requireState(t, StateDisconnected)

		require.Eventually(t, h.clock.HasWaiters, waitFor, time.Millisecond)
		h.clock.Step(d*time.Millisecond - time.Millisecond)
		require.Never(t, func() bool { return h.station.connects.Load() > want }, 20*time.Millisecond, time.Millisecond)

		h.clock.Step(time.Millisecond)
		want++
		h.requireConnects(t, want)
	}

	h.station.gotAddress("10.0.0.9")
	h.requireState(t, StateConnected)
	h.station.disconnected()
	h.requireState(t, StateDisconnected)

	h.stepToRetry(t, 100*time.Millisecond)
	h.requireConnects(t, want+1)
}

func TestConnectFailureCountsAsDisconnect(t *testing.T) {
	t.Parallel()

	h := startHarness(t, testPolicy())
	h.requireConnects(t, 1)
	h.requireState(t, StateConnecting)

	h.station.failConnects(errors.New("radio busy"))
	h.station.disconnected()
	h.requireState(t, StateDisconnected)

	h.stepToRetry(t, 100*time.Millisecond)
	h.requireConnects(t, 2)
	h.requireState(t, StateDisconnected)

	h.station.failConnects(nil)
	h.stepToRetry(t, 200*time.Millisecond)
	h.requireConnects(t, 3)
}

func TestZeroIntervalRetriesImmediately(t *testing.T) {
	t.Parallel()

	h := startHarness(t, wait.Backoff{})
	h.requireConnects(t, 1)

	h.station.disconnected()
	h.requireConnects(t, 2)
	h.station.disconnected()
	h.requireConnects(t, 3)
	require.False(t, h.clock.HasWaiters())
}

func TestAddressChangeWhileConnectedKeepsServer(t *testing.T) {
	t.Parallel()

	h := startHarness(t, testPolicy())
	h.station.gotAddress("192.168.4.2")
	h.requireState(t, StateConnected)

	h.station.gotAddress("192.168.4.3")
	require.Eventually(t, func() bool {
		return h.sup.Address() == netip.MustParseAddr("192.168.4.3")
	}, waitFor, time.Millisecond)

	starts, stops := h.server.counts()
	require.Equal(t, 1, starts)
	require.Equal(t, 0, stops)
	require.Equal(t, []string{"up:192.168.4.2"}, h.observer.snapshot())
}

func TestRepeatedDisconnectKeepsSingleTimer(t *testing.T) {
	t.Parallel()

	h := startHarness(t, testPolicy())
	h.requireConnects(t, 1)

	h.station.disconnected()
	h.station.disconnected()
	h.station.disconnected()
	h.requireState(t, StateDisconnected)

	h.stepToRetry(t, 100*time.Millisecond)
	h.requireConnects(t, 2)
	require.Never(t, func() bool { return h.station.connects.Load() > 2 }, 20*time.Millisecond, time.Millisecond)
}

func TestRunReleasesServerOnExit(t *testing.T) {
	t.Parallel()

	h := startHarness(t, testPolicy())
	h.station.gotAddress("192.168.4.2")
	require.Eventually(t, h.server.Running, waitFor, time.Millisecond)

	h.cancel()
	require.NoError(t, <-h.done)
	h.done <- nil
	require.False(t, h.server.Running())
}

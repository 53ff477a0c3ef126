package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/ledserver/internal/ledserver/actuator"
	"github.com/autopeer-io/ledserver/pkg/options"
)

type fakeGPIO struct {
	mu     sync.Mutex
	levels map[int]bool
	fail   bool

	// When set, SetLevel signals entered and waits on release.
	entered chan struct{}
	release chan struct{}
}

func newFakeGPIO() *fakeGPIO {
	return &fakeGPIO{levels: map[int]bool{}}
}

func (g *fakeGPIO) Configure(context.Context, []int) error { return nil }

func (g *fakeGPIO) SetLevel(line int, high bool) error {
	g.mu.Lock()
	entered, release := g.entered, g.release
	g.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
		<-release
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail {
		return errors.New("bus fault")
	}
	g.levels[line] = high
	return nil
}

func (g *fakeGPIO) Close() error { return nil }

func (g *fakeGPIO) block() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entered = make(chan struct{})
	g.release = make(chan struct{})
}

func newTestServer(t *testing.T) (*Server, *actuator.Store, *fakeGPIO) {
	t.Helper()
	gpio := newFakeGPIO()
	store, err := actuator.NewStore(gpio, []actuator.Spec{
		{ID: "led1", Line: 12},
		{ID: "led2", Line: 14},
		{ID: "led3", Line: 27},
	})
	require.NoError(t, err)
	require.NoError(t, store.Init(context.Background()))

	opts := options.NewHttpOptions()
	opts.Addr = "127.0.0.1:0"
	opts.ReadTimeout = 200 * time.Millisecond
	opts.ShutdownTimeout = 2 * time.Second
	return New(opts, store), store, gpio
}

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, CommandPath, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func requireCORS(t *testing.T, h http.Header) {
	t.Helper()
	require.Equal(t, "*", h.Get("Access-Control-Allow-Origin"))
	require.Equal(t, "POST, GET, OPTIONS", h.Get("Access-Control-Allow-Methods"))
	require.Equal(t, "Content-Type", h.Get("Access-Control-Allow-Headers"))
}

func TestCommandScenarios(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "led1 on",
			body: `{"command":"led1:on"}`,
			want: `{"status":"success","message":"LED state updated","led1":true,"led2":false,"led3":false}`,
		},
		{
			name: "not json",
			body: `not json`,
			want: `{"error":"Invalid JSON"}`,
		},
		{
			name: "unknown actuator",
			body: `{"command":"led9:on"}`,
			want: `{"status":"success","message":"LED state updated","led1":false,"led2":false,"led3":false}`,
		},
		{
			name: "empty body",
			body: ``,
			want: `{"error":"Invalid JSON"}`,
		},
		{
			name: "missing command",
			body: `{"cmd":"led1:on"}`,
			want: `{"status":"success","message":"LED state updated","led1":false,"led2":false,"led3":false}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, _, _ := newTestServer(t)

			rec := post(t, s.Handler(), tt.body)
			require.Equal(t, http.StatusOK, rec.Code)
			require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			require.Equal(t, tt.want, rec.Body.String())
			requireCORS(t, rec.Header())
		})
	}
}

func TestInvalidPayloadLeavesStateUntouched(t *testing.T) {
	t.Parallel()

	s, store, _ := newTestServer(t)
	_, err := store.Apply("led2", true)
	require.NoError(t, err)
	before := store.Snapshot()

	for _, body := range []string{`not json`, `{"command":"led1:on"`, `[1,2`} {
		rec := post(t, s.Handler(), body)
		require.Equal(t, `{"error":"Invalid JSON"}`, rec.Body.String())
	}
	require.Equal(t, before, store.Snapshot())
}

func TestRepeatedCommandIsIdempotent(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestServer(t)
	first := post(t, s.Handler(), `{"command":"led3:on"}`)
	second := post(t, s.Handler(), `{"command":"led3:on"}`)
	require.Equal(t, first.Body.String(), second.Body.String())
}

func TestOversizedBodyIsTruncated(t *testing.T) {
	t.Parallel()

	s, store, _ := newTestServer(t)
	body := `{"command":"led1:on","pad":"` + strings.Repeat("x", 200) + `"}`

	rec := post(t, s.Handler(), body)
	require.Equal(t, `{"error":"Invalid JSON"}`, rec.Body.String())
	on, _ := store.Snapshot().Get("led1")
	require.False(t, on)
}

func TestHardwareFailureReportsError(t *testing.T) {
	t.Parallel()

	s, store, gpio := newTestServer(t)
	gpio.mu.Lock()
	gpio.fail = true
	gpio.mu.Unlock()

	rec := post(t, s.Handler(), `{"command":"led1:on"}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, `{"status":"error","message":"Failed to update LED state","led1":false,"led2":false,"led3":false}`, rec.Body.String())
	requireCORS(t, rec.Header())

	on, _ := store.Snapshot().Get("led1")
	require.False(t, on)
}

func TestPreflightAnyPath(t *testing.T) {
	t.Parallel()

	s, store, _ := newTestServer(t)
	before := store.Snapshot()

	for _, path := range []string{"/", "/led", "/anything/at/all"} {
		req := httptest.NewRequest(http.MethodOptions, path, nil)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code, path)
		require.Empty(t, rec.Body.String(), path)
		requireCORS(t, rec.Header())
	}
	require.Equal(t, before, store.Snapshot())
}

func TestUnroutedRequestsCarryCORS(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/led", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	requireCORS(t, rec.Header())

	req = httptest.NewRequest(http.MethodPost, "/nope", nil)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
	requireCORS(t, rec.Header())
}

func TestConcurrentCommandsOnDifferentActuators(t *testing.T) {
	t.Parallel()

	s, store, _ := newTestServer(t)

	var wg sync.WaitGroup
	for _, id := range []string{"led1", "led2", "led3"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			post(t, s.Handler(), fmt.Sprintf(`{"command":"%s:on"}`, id))
		}(id)
	}
	wg.Wait()

	for _, st := range store.Snapshot() {
		require.True(t, st.On, st.ID)
	}
}

func TestStartStopIdempotent(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestServer(t)
	ctx := context.Background()

	_, err := s.Addr()
	require.ErrorIs(t, err, ErrNotRunning)
	require.NoError(t, s.Stop(ctx))

	require.NoError(t, s.Start(ctx))
	addr, err := s.Addr()
	require.NoError(t, err)
	require.NoError(t, s.Start(ctx))
	again, err := s.Addr()
	require.NoError(t, err)
	require.Equal(t, addr.String(), again.String())
	require.True(t, s.Running())

	require.NoError(t, s.Stop(ctx))
	require.False(t, s.Running())
	require.NoError(t, s.Stop(ctx))

	_, err = net.Dial("tcp", addr.String())
	require.Error(t, err)
}

func TestBodyReadTimeout(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestServer(t)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop(context.Background()) })
	addr, err := s.Addr()
	require.NoError(t, err)

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	// Announce a body that never arrives in full.
	_, err = io.WriteString(conn, "POST /led HTTP/1.1\r\nHost: x\r\nContent-Type: application/json\r\nContent-Length: 40\r\n\r\n{\"command\"")
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusRequestTimeout, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	require.Empty(t, body)
	requireCORS(t, resp.Header)
}

func TestStopDrainsInFlightAndRestartRestoresReachability(t *testing.T) {
	t.Parallel()

	s, store, gpio := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	addr, err := s.Addr()
	require.NoError(t, err)

	gpio.block()

	type result struct {
		code int
		body string
		err  error
	}
	resCh := make(chan result, 1)
	go func() {
		resp, err := http.Post("http://"+addr.String()+CommandPath, "application/json", strings.NewReader(`{"command":"led2:on"}`))
		if err != nil {
			resCh <- result{err: err}
			return
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		resCh <- result{code: resp.StatusCode, body: string(body), err: err}
	}()

	<-gpio.entered

	stopped := make(chan error, 1)
	go func() { stopped <- s.Stop(ctx) }()

	// Let Stop close the listener while the write is still pending.
	time.Sleep(50 * time.Millisecond)
	close(gpio.release)

	res := <-resCh
	require.NoError(t, res.err)
	require.Equal(t, http.StatusOK, res.code)
	require.Equal(t, `{"status":"success","message":"LED state updated","led1":false,"led2":true,"led3":false}`, res.body)
	require.NoError(t, <-stopped)

	gpio.mu.Lock()
	gpio.entered, gpio.release = nil, nil
	gpio.mu.Unlock()

	require.NoError(t, s.Start(ctx))
	t.Cleanup(func() { _ = s.Stop(ctx) })
	addr, err = s.Addr()
	require.NoError(t, err)

	resp, err := http.Post("http://"+addr.String()+CommandPath, "application/json", strings.NewReader(`{"command":"led1:on"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, `{"status":"success","message":"LED state updated","led1":true,"led2":true,"led3":false}`, string(body))
	require.Len(t, store.Snapshot(), 3)
}

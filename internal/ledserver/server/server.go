// Package server exposes the actuator store over the /led command endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/net/netutil"

	"github.com/autopeer-io/ledserver/internal/ledserver/actuator"
	"github.com/autopeer-io/ledserver/internal/ledserver/codec"
	"github.com/autopeer-io/ledserver/internal/pkg/metrics"
	"github.com/autopeer-io/ledserver/pkg/log"
	"github.com/autopeer-io/ledserver/pkg/options"
)

// ErrNotRunning is returned when the server has no bound listener.
var ErrNotRunning = errors.New("command server is not running")

// CommandPath is the only command route.
const CommandPath = "/led"

// Server is the command server. The listener is bound by Start and released
// by Stop; both are idempotent and may be called repeatedly over the life of
// the process.
type Server struct {
	opts    *options.HttpOptions
	store   *actuator.Store
	handler http.Handler
	logger  log.Logger

	mu   sync.Mutex
	srv  *http.Server
	ln   net.Listener
	done chan struct{}
}

// New returns a stopped server backed by store.
func New(opts *options.HttpOptions, store *actuator.Store) *Server {
	s := &Server{
		opts:   opts,
		store:  store,
		logger: log.WithName("server"),
	}

	r := mux.NewRouter()
	r.Methods(http.MethodOptions).PathPrefix("/").HandlerFunc(s.handlePreflight)
	r.Methods(http.MethodPost).Path(CommandPath).HandlerFunc(s.handleCommand)

	// Wrapped outside the router: 404 and 405 answers carry CORS headers too.
	s.handler = withCORS(r)
	return s
}

// Handler returns the routed handler including CORS.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start binds the listener and serves in the background. It is a no-op when
// already running.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv != nil {
		s.logger.Debug("Command server already running", "addr", s.ln.Addr().String())
		return nil
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, s.opts.Network, s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.opts.Addr, err)
	}
	ln = netutil.LimitListener(ln, s.opts.MaxConnections)

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: s.opts.ReadTimeout,
		WriteTimeout:      s.opts.WriteTimeout,
		IdleTimeout:       s.opts.IdleTimeout,
	}
	done := make(chan struct{})

	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(err, "Command server stopped unexpectedly")
		}
	}()

	s.srv, s.ln, s.done = srv, ln, done
	s.logger.Info("Command server started", "addr", ln.Addr().String(), "maxConnections", s.opts.MaxConnections)
	return nil
}

// Stop releases the listener and waits for in-flight exchanges to finish,
// forcing connections closed once the shutdown timeout elapses.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, s.opts.ShutdownTimeout)
	defer cancel()

	err := s.srv.Shutdown(shutdownCtx)
	if err != nil {
		s.logger.Warn("Graceful shutdown incomplete, closing connections", "error", err.Error())
		_ = s.srv.Close()
	}
	<-s.done

	s.logger.Info("Command server stopped", "addr", s.ln.Addr().String())
	s.srv, s.ln, s.done = nil, nil, nil
	return err
}

// Running reports whether a listener is bound.
func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.srv != nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() (net.Addr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil, ErrNotRunning
	}
	return s.ln.Addr(), nil
}

func (s *Server) handlePreflight(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		metrics.CommandLatency.Observe(time.Since(start).Seconds())
	}()

	payload, err := s.readBody(w, r)
	if err != nil {
		metrics.CommandsTotal.WithLabelValues(metrics.ResultInvalid).Inc()
		if isTimeout(err) {
			s.logger.Warn("Timed out receiving command", "remote", r.RemoteAddr)
			w.WriteHeader(http.StatusRequestTimeout)
			return
		}
		s.logger.Warn("Failed to receive command", "remote", r.RemoteAddr, "error", err.Error())
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s.logger.Info("Received", "payload", string(payload))

	cmd, ok, err := codec.Decode(payload)
	if err != nil {
		metrics.CommandsTotal.WithLabelValues(metrics.ResultInvalid).Inc()
		writeJSON(w, http.StatusOK, codec.EncodeError(codec.MessageInvalidJSON))
		return
	}

	report := codec.StateReport{Status: codec.StatusSuccess, Message: codec.MessageUpdated}
	code := http.StatusOK

	if !ok {
		metrics.CommandsTotal.WithLabelValues(metrics.ResultIgnored).Inc()
		report.Snapshot = s.store.Snapshot()
		writeJSON(w, code, codec.Encode(report))
		return
	}

	res, err := s.store.Apply(cmd.Target, bool(cmd.Action))
	report.Snapshot = res.Snapshot
	switch {
	case err != nil:
		metrics.CommandsTotal.WithLabelValues(metrics.ResultFailed).Inc()
		report.Status, report.Message = codec.StatusError, codec.MessageUpdateFailed
		code = http.StatusInternalServerError
	case !res.Applied:
		metrics.CommandsTotal.WithLabelValues(metrics.ResultIgnored).Inc()
		s.logger.Debug("Ignoring command for unknown actuator", "command", cmd.String())
	default:
		metrics.CommandsTotal.WithLabelValues(metrics.ResultApplied).Inc()
		s.logger.Debug("Applied command", "command", cmd.String())
	}

	writeJSON(w, code, codec.Encode(report))
}

// readBody reads at most MaxBodyBytes of the body before the read timeout.
// Bytes beyond the limit are ignored.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	rc := http.NewResponseController(w)
	if err := rc.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return nil, err
	}
	return io.ReadAll(io.LimitReader(r.Body, s.opts.MaxBodyBytes))
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func writeJSON(w http.ResponseWriter, code int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}

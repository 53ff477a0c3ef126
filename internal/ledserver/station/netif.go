package station

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os/exec"
	"strings"
	"sync"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/autopeer-io/ledserver/internal/ledserver/core"
	"github.com/autopeer-io/ledserver/pkg/log"
	"github.com/autopeer-io/ledserver/pkg/options"
)

var _ core.Station = (*Netif)(nil)

// ifaceUpdate is one change on the watched interface: either a link state
// change or an address added or removed.
type ifaceUpdate struct {
	Link bool
	Up   bool

	Addr  netip.Addr
	Added bool
}

// ifaceState is the link state and address set of an interface.
type ifaceState struct {
	Up    bool
	Addrs map[netip.Addr]struct{}
}

func newIfaceState() ifaceState {
	return ifaceState{Addrs: map[netip.Addr]struct{}{}}
}

func (s *ifaceState) apply(u ifaceUpdate) {
	switch {
	case u.Link:
		s.Up = u.Up
	case u.Added:
		s.Addrs[u.Addr] = struct{}{}
	default:
		delete(s.Addrs, u.Addr)
	}
}

// preferred returns the lowest IPv4 address of an up interface, falling back
// to the lowest global IPv6 one. An invalid address means none is usable.
func (s ifaceState) preferred() netip.Addr {
	if !s.Up {
		return netip.Addr{}
	}
	var v4, v6 netip.Addr
	for addr := range s.Addrs {
		switch {
		case addr.Is4():
			if !v4.IsValid() || addr.Less(v4) {
				v4 = addr
			}
		case addr.IsGlobalUnicast():
			if !v6.IsValid() || addr.Less(v6) {
				v6 = addr
			}
		}
	}
	if v4.IsValid() {
		return v4
	}
	return v6
}

// watchFunc subscribes to updates for iface and returns its state as seen
// after subscribing. The channel closes when ctx is done or the subscription
// is lost.
type watchFunc func(ctx context.Context, iface string) (ifaceState, <-chan ifaceUpdate, error)

// Netif follows a host interface through kernel notifications and, when a
// connect command is configured, associates through it (nmcli syntax).
type Netif struct {
	emitter
	opts   *options.NetworkOptions
	logger log.Logger

	watch    watchFunc
	run      func(ctx context.Context, name string, args ...string) ([]byte, error)
	lookPath func(file string) (string, error)

	mu       sync.Mutex
	ctx      context.Context
	current  netip.Addr
	inflight bool
}

// NewNetif returns a station for opts.Interface.
func NewNetif(opts *options.NetworkOptions) *Netif {
	return &Netif{
		emitter:  newEmitter(),
		opts:     opts,
		logger:   log.WithName("station").WithValues("kind", options.StationNetif, "interface", opts.Interface),
		watch:    netlinkWatch,
		run:      runCommand,
		lookPath: exec.LookPath,
	}
}

func (n *Netif) Start(ctx context.Context) error {
	n.mu.Lock()
	n.ctx = ctx
	n.mu.Unlock()

	go func() {
		n.emit(ctx, core.Event{Type: core.EventStationStart})
		wait.UntilWithContext(ctx, n.follow, n.opts.ResyncInterval)
	}()
	return nil
}

// Connect launches the association command. Its failure is reported as a
// disconnect; success shows up when the address does.
func (n *Netif) Connect(context.Context) error {
	if n.opts.ConnectCommand == "" {
		n.logger.Debug("Association is managed by the host")
		return nil
	}
	path, err := n.lookPath(n.opts.ConnectCommand)
	if err != nil {
		return fmt.Errorf("connect command: %w", err)
	}

	n.mu.Lock()
	if n.inflight {
		n.mu.Unlock()
		return nil
	}
	n.inflight = true
	ctx := n.ctx
	n.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	args := []string{"device", "wifi", "connect", n.opts.SSID, "ifname", n.opts.Interface}
	if n.opts.Passphrase != "" {
		args = append(args, "password", n.opts.Passphrase)
	}

	go func() {
		defer func() {
			n.mu.Lock()
			n.inflight = false
			n.mu.Unlock()
		}()

		n.logger.Info("Associating", "ssid", n.opts.SSID)
		out, err := n.run(ctx, path, args...)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			reason := strings.TrimSpace(string(out))
			if reason == "" {
				reason = err.Error()
			}
			n.logger.Warn("Association failed", "ssid", n.opts.SSID, "reason", reason)
			n.emit(ctx, core.Event{Type: core.EventDisconnected, Reason: reason})
		}
	}()
	return nil
}

// follow runs one subscription: the seed state is published, then every
// update, until the subscription ends.
func (n *Netif) follow(ctx context.Context) {
	state, updates, err := n.watch(ctx, n.opts.Interface)
	if err != nil {
		n.logger.Warn("Interface subscription failed", "error", err.Error())
		n.publish(ctx, netip.Addr{}, "interface unavailable")
		return
	}
	n.publish(ctx, state.preferred(), "address lost")

	for u := range updates {
		state.apply(u)
		reason := "address lost"
		if u.Link && !u.Up {
			reason = "link down"
		}
		n.publish(ctx, state.preferred(), reason)
	}
	if ctx.Err() == nil {
		n.logger.Debug("Interface subscription ended, resubscribing", "after", n.opts.ResyncInterval)
	}
}

// publish emits an event when the usable address differs from the last one
// reported.
func (n *Netif) publish(ctx context.Context, addr netip.Addr, reason string) {
	n.mu.Lock()
	prev := n.current
	n.current = addr
	n.mu.Unlock()

	switch {
	case addr == prev:
	case addr.IsValid():
		n.emit(ctx, core.Event{Type: core.EventGotAddress, Address: addr})
	case prev.IsValid():
		n.emit(ctx, core.Event{Type: core.EventDisconnected, Reason: reason})
	}
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return out, fmt.Errorf("%s exited with %d", name, exitErr.ExitCode())
		}
		return out, err
	}
	return out, nil
}

//go:build linux

package station

import (
	"context"
	"fmt"
	"net"
	"net/netip"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/autopeer-io/ledserver/pkg/log"
)

// netlinkWatch subscribes to rtnetlink address and link notifications, then
// seeds the state from a lookup. Subscribing first means a change racing
// the lookup is seen at least once; applying it twice is harmless.
func netlinkWatch(ctx context.Context, iface string) (ifaceState, <-chan ifaceUpdate, error) {
	done := make(chan struct{})
	addrCh := make(chan netlink.AddrUpdate, eventBuffer)
	linkCh := make(chan netlink.LinkUpdate, eventBuffer)

	onError := func(err error) {
		log.Debug("netlink subscription error", "interface", iface, "error", err.Error())
	}
	release := func() {
		close(done)
		go drain(addrCh, linkCh)
	}

	if err := netlink.AddrSubscribeWithOptions(addrCh, done, netlink.AddrSubscribeOptions{ErrorCallback: onError}); err != nil {
		close(done)
		return ifaceState{}, nil, fmt.Errorf("subscribe to address updates: %w", err)
	}
	if err := netlink.LinkSubscribeWithOptions(linkCh, done, netlink.LinkSubscribeOptions{ErrorCallback: onError}); err != nil {
		release()
		return ifaceState{}, nil, fmt.Errorf("subscribe to link updates: %w", err)
	}

	link, err := netlink.LinkByName(iface)
	if err != nil {
		release()
		return ifaceState{}, nil, fmt.Errorf("look up %s: %w", iface, err)
	}
	addrs, err := netlink.AddrList(link, netlink.FAMILY_ALL)
	if err != nil {
		release()
		return ifaceState{}, nil, fmt.Errorf("list %s addresses: %w", iface, err)
	}

	index := link.Attrs().Index
	state := newIfaceState()
	state.Up = linkUp(link.Attrs())
	for _, a := range addrs {
		if addr, ok := toAddr(a.IP); ok {
			state.Addrs[addr] = struct{}{}
		}
	}

	out := make(chan ifaceUpdate, eventBuffer)
	go func() {
		defer close(out)
		defer release()

		send := func(u ifaceUpdate) bool {
			select {
			case out <- u:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case u, ok := <-addrCh:
				if !ok {
					return
				}
				if u.LinkIndex != index {
					continue
				}
				addr, ok := toAddr(u.LinkAddress.IP)
				if !ok {
					continue
				}
				if !send(ifaceUpdate{Addr: addr, Added: u.NewAddr}) {
					return
				}
			case u, ok := <-linkCh:
				if !ok {
					return
				}
				attrs := u.Link.Attrs()
				if attrs.Index != index {
					continue
				}
				// A removed interface may come back with a new index, so the
				// subscription ends and the next one looks it up again.
				if u.Header.Type == unix.RTM_DELLINK {
					send(ifaceUpdate{Link: true, Up: false})
					return
				}
				if !send(ifaceUpdate{Link: true, Up: linkUp(attrs)}) {
					return
				}
			}
		}
	}()

	return state, out, nil
}

// linkUp reports whether the interface is administratively up and has not
// lost its carrier.
func linkUp(attrs *netlink.LinkAttrs) bool {
	if attrs.Flags&net.FlagUp == 0 {
		return false
	}
	switch attrs.OperState {
	case netlink.OperDown, netlink.OperLowerLayerDown, netlink.OperNotPresent:
		return false
	}
	return true
}

func toAddr(ip net.IP) (netip.Addr, bool) {
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

// drain empties the subscription channels until netlink closes them, so its
// receive goroutines never block on a full channel after done is closed.
func drain(addrCh <-chan netlink.AddrUpdate, linkCh <-chan netlink.LinkUpdate) {
	for addrCh != nil || linkCh != nil {
		select {
		case _, ok := <-addrCh:
			if !ok {
				addrCh = nil
			}
		case _, ok := <-linkCh:
			if !ok {
				linkCh = nil
			}
		}
	}
}

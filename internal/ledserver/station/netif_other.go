//go:build !linux

package station

import (
	"context"
	"errors"
)

func netlinkWatch(context.Context, string) (ifaceState, <-chan ifaceUpdate, error) {
	return ifaceState{}, nil, errors.New("netif station requires linux netlink, use --network.station=simulated")
}

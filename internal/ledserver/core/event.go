package core

import (
	"fmt"
	"net/netip"
)

// EventType enumerates the network-stack notifications the supervisor reacts to.
type EventType string

const (
	// EventStationStart is emitted once the radio is ready to associate.
	EventStationStart EventType = "station.start"
	// EventDisconnected is emitted whenever association is lost or fails.
	EventDisconnected EventType = "station.disconnected"
	// EventGotAddress is emitted when an address has been acquired.
	EventGotAddress EventType = "ip.got-address"
)

// Event is a typed network notification.
type Event struct {
	Type EventType

	// Address is set for EventGotAddress.
	Address netip.Addr

	// Reason is an optional human-readable cause for EventDisconnected.
	Reason string
}

func (e Event) String() string {
	switch e.Type {
	case EventGotAddress:
		return fmt.Sprintf("%s(%s)", e.Type, e.Address)
	case EventDisconnected:
		if e.Reason != "" {
			return fmt.Sprintf("%s(%s)", e.Type, e.Reason)
		}
	}
	return string(e.Type)
}

// Package station provides the network association adapters behind
// core.Station.
package station

import (
	"context"
	"fmt"

	"github.com/autopeer-io/ledserver/internal/ledserver/core"
	"github.com/autopeer-io/ledserver/pkg/options"
)

// eventBuffer absorbs bursts while the supervisor is busy in a transition.
const eventBuffer = 16

// New returns the station selected by opts.
func New(opts *options.NetworkOptions) (core.Station, error) {
	switch opts.Station {
	case options.StationNetif:
		return NewNetif(opts), nil
	case options.StationSimulated:
		return NewSimulated(opts)
	default:
		return nil, fmt.Errorf("unknown station %q", opts.Station)
	}
}

// emitter delivers events without blocking past ctx.
type emitter struct {
	events chan core.Event
}

func newEmitter() emitter {
	return emitter{events: make(chan core.Event, eventBuffer)}
}

func (e emitter) emit(ctx context.Context, ev core.Event) {
	select {
	case e.events <- ev:
	case <-ctx.Done():
	}
}

func (e emitter) Events() <-chan core.Event {
	return e.events
}

package core

import "context"

// Station is the radio/association stack seen as a black box.
type Station interface {
	// Start brings the radio up and returns. EventStationStart is emitted
	// once it is ready; events keep flowing until ctx is done.
	Start(ctx context.Context) error

	// Connect initiates association. It returns once the attempt has been
	// started; the outcome arrives as an event.
	Connect(ctx context.Context) error

	// Events delivers notifications in order.
	Events() <-chan Event
}

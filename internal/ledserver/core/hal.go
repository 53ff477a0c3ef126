package core

import "context"

// GPIO is the hardware capability the actuator store drives. In the
// hexagonal layout it is a driven port: adapters live in the hal package.
type GPIO interface {
	// Configure prepares lines as outputs.
	Configure(ctx context.Context, lines []int) error

	// SetLevel drives a configured line high or low. A nil error means the
	// level was applied.
	SetLevel(line int, high bool) error

	// Close releases the lines.
	Close() error
}

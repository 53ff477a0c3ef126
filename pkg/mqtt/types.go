package mqtt

import (
	"context"
)

// Client is the subset of MQTT operations the controller needs.
// It hides the underlying autopaho connection manager.
type Client interface {
	// Start initiates the connection to the broker.
	// It is non-blocking; the connection is retried in the background.
	Start(ctx context.Context) error

	// Disconnect cleanly closes the connection.
	Disconnect(ctx context.Context)

	// Publish sends a message to the specified topic.
	Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error

	// AwaitConnection blocks until the client is connected to the broker.
	AwaitConnection(ctx context.Context) error

	// IsConnected returns true if the client is currently connected.
	IsConnected() bool
}

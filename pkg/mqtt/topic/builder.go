package topic

import (
	"strings"
)

// SuffixPresence is the upstream presence topic segment.
// Structure: {root}/presence/{deviceID}
const SuffixPresence = "presence"

// Builder constructs MQTT topic strings under a root namespace.
type Builder struct {
	// root is the base namespace for all topics (e.g. "ledserver/v1").
	root string
}

// NewBuilder creates a Builder for root. Surrounding slashes are dropped.
func NewBuilder(root string) *Builder {
	return &Builder{root: strings.Trim(root, "/")}
}

// Presence returns the retained presence topic of a device.
func (b *Builder) Presence(deviceID string) string {
	return b.Build(SuffixPresence, deviceID)
}

// PresenceWildcard matches the presence topic of every device.
func (b *Builder) PresenceWildcard() string {
	return b.Build(SuffixPresence, "+")
}

// Build joins the root, a segment and an id.
func (b *Builder) Build(segment, id string) string {
	parts := make([]string, 0, 3)
	if b.root != "" {
		parts = append(parts, b.root)
	}
	parts = append(parts, strings.Trim(segment, "/"), id)
	return strings.Join(parts, "/")
}

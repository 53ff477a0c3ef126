// Package presence announces the controller's reachability to a device
// registry over MQTT. The record is retained; the broker publishes the
// offline record as the last will if the session drops.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"net/netip"
	"time"

	"github.com/autopeer-io/ledserver/internal/ledserver/supervisor"
	"github.com/autopeer-io/ledserver/pkg/log"
	pkgmqtt "github.com/autopeer-io/ledserver/pkg/mqtt"
	"github.com/autopeer-io/ledserver/pkg/mqtt/topic"
)

const (
	qosAtLeastOnce = 1

	defaultRetryInterval = 5 * time.Second
	offlineTimeout       = 2 * time.Second
)

var _ supervisor.Observer = (*Announcer)(nil)

// Record is the retained presence payload.
type Record struct {
	Device  string `json:"device"`
	Address string `json:"address,omitempty"`
	Port    int    `json:"port,omitempty"`
	Online  bool   `json:"online"`
}

// Offline returns the payload published when device goes away.
func Offline(device string) []byte {
	payload, _ := json.Marshal(Record{Device: device})
	return payload
}

// ConfigureWill sets the offline record as cfg's last will.
func ConfigureWill(cfg *pkgmqtt.ClientConfig, b *topic.Builder, device string) {
	cfg.WillTopic = b.Presence(device)
	cfg.WillPayload = Offline(device)
	cfg.WillQoS = qosAtLeastOnce
	cfg.WillRetain = true
}

// Announcer publishes the latest presence record. Notifications never block
// the supervisor: only the newest pending record is kept and it is retried
// until the broker accepts it.
type Announcer struct {
	client pkgmqtt.Client
	topic  string
	device string
	port   int
	logger log.Logger

	retryInterval time.Duration
	updates       chan Record
}

// NewAnnouncer returns an announcer for device. port is the command server
// port advertised next to the address.
func NewAnnouncer(client pkgmqtt.Client, b *topic.Builder, device string, port int) *Announcer {
	return &Announcer{
		client:        client,
		topic:         b.Presence(device),
		device:        device,
		port:          port,
		logger:        log.WithName("presence").WithValues("device", device),
		retryInterval: defaultRetryInterval,
		updates:       make(chan Record, 1),
	}
}

func (a *Announcer) OnConnected(_ context.Context, addr netip.Addr) {
	a.enqueue(Record{Device: a.device, Address: addr.String(), Port: a.port, Online: true})
}

func (a *Announcer) OnDisconnected(context.Context) {
	a.enqueue(Record{Device: a.device})
}

// Run owns the MQTT session until ctx is done, then publishes the offline
// record and disconnects.
func (a *Announcer) Run(ctx context.Context) error {
	if err := a.client.Start(ctx); err != nil {
		return fmt.Errorf("start presence client: %w", err)
	}

	ticker := time.NewTicker(a.retryInterval)
	defer ticker.Stop()

	var pending *Record
	for {
		select {
		case <-ctx.Done():
			a.shutdown(ctx)
			return nil
		case r := <-a.updates:
			pending = &r
		case <-ticker.C:
		}

		if pending == nil {
			continue
		}
		if err := a.publish(ctx, *pending); err != nil {
			a.logger.Debug("Presence publish deferred", "error", err.Error())
			continue
		}
		a.logger.Info("Presence announced", "online", pending.Online, "address", pending.Address)
		pending = nil
	}
}

func (a *Announcer) enqueue(r Record) {
	for {
		select {
		case a.updates <- r:
			return
		default:
		}
		// Replace the stale record with the newer one.
		select {
		case <-a.updates:
		default:
		}
	}
}

func (a *Announcer) publish(ctx context.Context, r Record) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return a.client.Publish(ctx, a.topic, qosAtLeastOnce, true, payload)
}

func (a *Announcer) shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), offlineTimeout)
	defer cancel()

	if a.client.IsConnected() {
		if err := a.publish(ctx, Record{Device: a.device}); err != nil {
			a.logger.Warn("Failed to publish offline record", "error", err.Error())
		}
	}
	a.client.Disconnect(ctx)
}

// Package metrics holds the ledserver Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Command results recorded by CommandsTotal.
const (
	ResultApplied = "applied"
	ResultIgnored = "ignored"
	ResultInvalid = "invalid"
	ResultFailed  = "failed"
)

// Registry is served by the diagnostics endpoint. It is separate from the
// default registry so tests can gather it without global side effects.
var Registry = prometheus.NewRegistry()

var (
	// ConnectivityStatus is 1 while the station holds an address.
	ConnectivityStatus = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ledserver_connectivity_status",
			Help: "Station connectivity (1=Connected, 0=Disconnected or Connecting).",
		},
	)

	// ReconnectsTotal counts connection attempts made after a disconnect.
	ReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledserver_reconnects_total",
			Help: "Total number of station reconnect attempts.",
		},
	)

	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledserver_commands_total",
			Help: "Total number of /led requests by result.",
		},
		[]string{"result"}, // applied/ignored/invalid/failed
	)

	ActuatorState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ledserver_actuator_state",
			Help: "Recorded actuator value (1=on, 0=off).",
		},
		[]string{"actuator"},
	)

	CommandLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ledserver_command_latency_seconds",
			Help:    "Time spent handling /led requests.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		ConnectivityStatus,
		ReconnectsTotal,
		CommandsTotal,
		ActuatorState,
		CommandLatency,
	)
}

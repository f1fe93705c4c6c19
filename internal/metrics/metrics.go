// Package metrics defines the prometheus collectors exported by the authority
// and the viewer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "finishline"

// Authority holds the collectors the authority process updates.
type Authority struct {
	StreamClients     prometheus.Gauge
	Broadcasts        *prometheus.CounterVec
	DroppedBroadcasts prometheus.Counter
	Commands          *prometheus.CounterVec
}

// NewAuthority creates and registers the authority collectors on reg.
func NewAuthority(reg prometheus.Registerer) *Authority {
	m := &Authority{
		StreamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "authority",
			Name:      "stream_clients",
			Help:      "Viewers currently connected to the push channel.",
		}),
		Broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "authority",
			Name:      "broadcasts_total",
			Help:      "Broadcast messages sent, by message kind.",
		}, []string{"kind"}),
		DroppedBroadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "authority",
			Name:      "broadcasts_dropped_total",
			Help:      "Broadcast deliveries dropped because a viewer buffer was full.",
		}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "authority",
			Name:      "commands_total",
			Help:      "Mutation commands handled, by operation and outcome.",
		}, []string{"op", "outcome"}),
	}
	reg.MustRegister(m.StreamClients, m.Broadcasts, m.DroppedBroadcasts, m.Commands)
	return m
}

// Viewer holds the collectors a viewer session updates.
type Viewer struct {
	Reconnects    prometheus.Counter
	Resyncs       prometheus.Counter
	EventsApplied *prometheus.CounterVec
	UnknownEvents prometheus.Counter
	Commands      *prometheus.CounterVec
}

// NewViewer creates and registers the viewer collectors on reg.
func NewViewer(reg prometheus.Registerer) *Viewer {
	m := &Viewer{
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "viewer",
			Name:      "reconnects_total",
			Help:      "Push channel connection attempts after a loss.",
		}),
		Resyncs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "viewer",
			Name:      "resyncs_total",
			Help:      "Full fetches applied as ReplaceAll.",
		}),
		EventsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "viewer",
			Name:      "events_applied_total",
			Help:      "Incremental events dispatched to the reducer, by kind.",
		}, []string{"kind"}),
		UnknownEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "viewer",
			Name:      "unknown_events_total",
			Help:      "Broadcasts dropped because their shape was not recognised.",
		}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "viewer",
			Name:      "commands_total",
			Help:      "Mutation commands issued, by operation and outcome.",
		}, []string{"op", "outcome"}),
	}
	reg.MustRegister(m.Reconnects, m.Resyncs, m.EventsApplied, m.UnknownEvents, m.Commands)
	return m
}

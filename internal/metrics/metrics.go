// Package metrics holds the Prometheus collectors of the sync engine. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "whiteboard"

type Metrics struct {
	Connections   prometheus.Gauge
	ActiveStrokes prometheus.Gauge
	Events        *prometheus.CounterVec
	Dropped       *prometheus.CounterVec
	Flushes       *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "connections",
			Help:      "Live websocket connections.",
		}),
		ActiveStrokes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stroke",
			Name:      "active_buffers",
			Help:      "Drawing buffers held in memory.",
		}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "events_total",
			Help:      "Inbound events handled, by event name.",
		}, []string{"event"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "dropped_total",
			Help:      "Inbound events dropped without a broadcast, by reason.",
		}, []string{"reason"}),
		Flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stroke",
			Name:      "flushes_total",
			Help:      "Drawing buffer writes to the store, by trigger and result.",
		}, []string{"trigger", "result"}),
	}
	reg.MustRegister(m.Connections, m.ActiveStrokes, m.Events, m.Dropped, m.Flushes)
	return m
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.Connections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.Connections.Dec()
}

func (m *Metrics) EventHandled(event string) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(event).Inc()
}

func (m *Metrics) EventDropped(reason string) {
	if m == nil {
		return
	}
	m.Dropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetActiveStrokes(n int) {
	if m == nil {
		return
	}
	m.ActiveStrokes.Set(float64(n))
}

// Flushed records one buffer write; trigger is checkpoint, complete or shutdown.
func (m *Metrics) Flushed(trigger, result string) {
	if m == nil {
		return
	}
	m.Flushes.WithLabelValues(trigger, result).Inc()
}

// Package metrics exposes relay counters and gauges through a private
// Prometheus registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Event names for the events_total counter.
const (
	WSConnect       = "ws_connect"
	WSDisconnect    = "ws_disconnect"
	Join            = "join"
	Leave           = "leave"
	Replaced        = "replaced"
	Forwarded       = "forwarded"
	TargetNotFound  = "target_not_found"
	ProtocolError   = "protocol_error"
	AuthFailure     = "auth_failure"
	LivenessTimeout = "liveness_timeout"
	SendDropped     = "send_dropped"
	RateLimited     = "rate_limited"
	SOSReceived     = "sos_received"
	SOSRejected     = "sos_rejected"
)

const namespace = "fast_security"

// Metrics is safe for concurrent use. A nil *Metrics is valid and records
// nothing, so components can be constructed without it in tests.
type Metrics struct {
	registry    *prometheus.Registry
	events      *prometheus.CounterVec
	rooms       prometheus.Gauge
	connections prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Signaling and SOS events by kind.",
		}, []string{"event"}),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms",
			Help:      "Rooms with at least one member.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Open signaling WebSocket connections.",
		}),
	}
	m.registry.MustRegister(
		m.events,
		m.rooms,
		m.connections,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Inc(event string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(event).Inc()
}

func (m *Metrics) SetRooms(n int) {
	if m == nil {
		return
	}
	m.rooms.Set(float64(n))
}

func (m *Metrics) AddConnections(delta int) {
	if m == nil {
		return
	}
	m.connections.Add(float64(delta))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// EventCounter returns the counter behind event, for assertions in tests of
// other packages.
func (m *Metrics) EventCounter(event string) prometheus.Counter {
	return m.events.WithLabelValues(event)
}

// RoomsGauge and ConnectionsGauge expose the gauges the same way.
func (m *Metrics) RoomsGauge() prometheus.Gauge { return m.rooms }

func (m *Metrics) ConnectionsGauge() prometheus.Gauge { return m.connections }

// Package metrics exposes the gateway's Prometheus collectors.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks connection and event flow through the gateway.
//
// Collectors are registered once per process against the default registry;
// every caller shares the same instance.
type Metrics struct {
	// ActiveSessions is the number of sessions in the Active state.
	ActiveSessions prometheus.Gauge

	// HandshakeFailures counts refused handshakes.
	// Labels: reason (auth|identity_mismatch|handler_init)
	HandshakeFailures *prometheus.CounterVec

	// Events counts inbound events.
	// Labels: domain, event, outcome (ok|error|ignored)
	Events *prometheus.CounterVec

	// RoomEmits counts deliveries made by room fan-out.
	RoomEmits prometheus.Counter

	// SweepDisconnects counts sessions removed by the liveness sweep.
	SweepDisconnects prometheus.Counter
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// New returns the process-wide metrics.
func New() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "agora_gateway_active_sessions",
				Help: "Current number of active websocket sessions",
			}),
			HandshakeFailures: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "agora_gateway_handshake_failures_total",
				Help: "Total number of refused websocket handshakes",
			}, []string{"reason"}),
			Events: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "agora_gateway_events_total",
				Help: "Total number of inbound events by outcome",
			}, []string{"domain", "event", "outcome"}),
			RoomEmits: promauto.NewCounter(prometheus.CounterOpts{
				Name: "agora_gateway_room_deliveries_total",
				Help: "Total number of frames delivered by room fan-out",
			}),
			SweepDisconnects: promauto.NewCounter(prometheus.CounterOpts{
				Name: "agora_gateway_sweep_disconnects_total",
				Help: "Total number of sessions removed by the liveness sweep",
			}),
		}
	})
	return metricsInstance
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}

func (m *Metrics) HandshakeFailed(reason string) {
	if m == nil {
		return
	}
	m.HandshakeFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) EventHandled(domain, event, outcome string) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(domain, event, outcome).Inc()
}

func (m *Metrics) Delivered(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RoomEmits.Add(float64(n))
}

func (m *Metrics) SweptSession() {
	if m == nil {
		return
	}
	m.SweepDisconnects.Inc()
}

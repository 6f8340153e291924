// Package metrics defines the Prometheus instruments of the sync server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	ns = "refsync"

	LabelAction    = "action"
	LabelResult    = "result"
	LabelDirection = "direction"

	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultFailed   = "failed"

	// ActionUnknown labels frames whose type names no action.
	ActionUnknown = "unknown"

	DirectionPublished = "published"
	DirectionReceived  = "received"
)

type Metrics struct {
	Connections prometheus.Gauge
	Rooms       prometheus.Gauge

	Actions        *prometheus.CounterVec
	ActionSeconds  *prometheus.HistogramVec
	DroppedFrames  prometheus.Counter
	BroadcastSends prometheus.Counter

	RelayMessages *prometheus.CounterVec
}

// New registers the instruments with reg. A nil reg creates unregistered
// instruments.
func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Connections: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "connections", Namespace: ns, Subsystem: "ws",
			Help: "The number of open WebSocket connections.",
		}),
		Rooms: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "rooms", Namespace: ns, Subsystem: "ws",
			Help: "The number of workspace rooms with a running actor.",
		}),
		Actions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "actions_total", Namespace: ns, Subsystem: "sync",
			Help: "The number of client actions, by type and result (ok, rejected, failed).",
		}, []string{LabelAction, LabelResult}),
		ActionSeconds: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name: "action_seconds", Namespace: ns, Subsystem: "sync",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			Help:    "The time taken to apply an action to the store.",
		}, []string{LabelAction}),
		DroppedFrames: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "dropped_frames_total", Namespace: ns, Subsystem: "sync",
			Help: "The number of inbound frames dropped because they were not valid JSON messages.",
		}),
		BroadcastSends: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "broadcast_sends_total", Namespace: ns, Subsystem: "sync",
			Help: "The number of action frames queued to room members.",
		}),
		RelayMessages: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "relay_messages_total", Namespace: ns, Subsystem: "relay",
			Help: "The number of cross-instance relay messages, by direction.",
		}, []string{LabelDirection}),
	}
}

// ObserveAction records one applied or refused action.
func (m *Metrics) ObserveAction(action, result string, took time.Duration) {
	if m == nil {
		return
	}
	m.Actions.WithLabelValues(action, result).Inc()
	if result != ResultRejected {
		m.ActionSeconds.WithLabelValues(action).Observe(took.Seconds())
	}
}

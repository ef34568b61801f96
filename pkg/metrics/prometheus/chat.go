// Package prometheus provides the Prometheus-backed implementation of
// the relay's metrics interfaces.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/marmos91/relaychat/pkg/metrics"
)

// ChatMetrics implements metrics.ChatMetrics with Prometheus collectors.
type ChatMetrics struct {
	activeSessions prometheus.Gauge
	liveRooms      prometheus.Gauge
	queueDepth     prometheus.Gauge

	broadcastsDelivered prometheus.Counter
	broadcastsFailed    prometheus.Counter
	whispers            prometheus.Counter

	transfersAdmitted  prometheus.Counter
	transfersCompleted prometheus.Counter
	transfersFailed    prometheus.Counter
	transfersAborted   prometheus.Counter
	transferBytes      prometheus.Counter
}

// NewChatMetrics creates the chat collectors and registers them on reg.
func NewChatMetrics(reg prometheus.Registerer) *ChatMetrics {
	m := &ChatMetrics{
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "relaychat",
			Name:      "active_sessions",
			Help:      "Number of logged-in sessions.",
		}),
		liveRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "relaychat",
			Name:      "live_rooms",
			Help:      "Number of rooms with at least one member.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "relaychat",
			Name:      "transfer_queue_depth",
			Help:      "File transfers currently holding a queue slot.",
		}),
		broadcastsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relaychat",
			Name:      "broadcasts_delivered_total",
			Help:      "Broadcast messages delivered to recipients.",
		}),
		broadcastsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relaychat",
			Name:      "broadcasts_failed_total",
			Help:      "Broadcast deliveries that failed at send time.",
		}),
		whispers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relaychat",
			Name:      "whispers_total",
			Help:      "Whispers delivered.",
		}),
		transfersAdmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relaychat",
			Name:      "transfers_admitted_total",
			Help:      "File transfers admitted to the queue.",
		}),
		transfersCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relaychat",
			Name:      "transfers_completed_total",
			Help:      "File transfers delivered to the receiver.",
		}),
		transfersFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relaychat",
			Name:      "transfers_failed_total",
			Help:      "File transfers that ended in a failure reply.",
		}),
		transfersAborted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relaychat",
			Name:      "transfers_aborted_total",
			Help:      "File transfers cancelled by server shutdown.",
		}),
		transferBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relaychat",
			Name:      "transfer_bytes_total",
			Help:      "Payload bytes relayed by completed transfers.",
		}),
	}

	reg.MustRegister(
		m.activeSessions, m.liveRooms, m.queueDepth,
		m.broadcastsDelivered, m.broadcastsFailed, m.whispers,
		m.transfersAdmitted, m.transfersCompleted, m.transfersFailed,
		m.transfersAborted, m.transferBytes,
	)
	return m
}

// SessionOpened implements metrics.ChatMetrics.
func (m *ChatMetrics) SessionOpened() { m.activeSessions.Inc() }

// SessionClosed implements metrics.ChatMetrics.
func (m *ChatMetrics) SessionClosed() { m.activeSessions.Dec() }

// RoomCreated implements metrics.ChatMetrics.
func (m *ChatMetrics) RoomCreated() { m.liveRooms.Inc() }

// RoomRemoved implements metrics.ChatMetrics.
func (m *ChatMetrics) RoomRemoved() { m.liveRooms.Dec() }

// RecordBroadcast implements metrics.ChatMetrics.
func (m *ChatMetrics) RecordBroadcast(delivered, failed int) {
	m.broadcastsDelivered.Add(float64(delivered))
	m.broadcastsFailed.Add(float64(failed))
}

// RecordWhisper implements metrics.ChatMetrics.
func (m *ChatMetrics) RecordWhisper() { m.whispers.Inc() }

// TransferAdmitted implements metrics.ChatMetrics.
func (m *ChatMetrics) TransferAdmitted() { m.transfersAdmitted.Inc() }

// TransferCompleted implements metrics.ChatMetrics.
func (m *ChatMetrics) TransferCompleted(bytes int) {
	m.transfersCompleted.Inc()
	m.transferBytes.Add(float64(bytes))
}

// TransferFailed implements metrics.ChatMetrics.
func (m *ChatMetrics) TransferFailed() { m.transfersFailed.Inc() }

// TransferAborted implements metrics.ChatMetrics.
func (m *ChatMetrics) TransferAborted() { m.transfersAborted.Inc() }

// SetQueueDepth implements metrics.ChatMetrics.
func (m *ChatMetrics) SetQueueDepth(n int) { m.queueDepth.Set(float64(n)) }

var _ metrics.ChatMetrics = (*ChatMetrics)(nil)

package bgpmetrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Jaxartes/bgpy/internal/session"
	"github.com/Jaxartes/bgpy/internal/wire"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "bgpy"
	subsystem = "session"
)

// Label names for session metrics.
const (
	labelType    = "type"
	labelCode    = "code"
	labelSubcode = "subcode"
	labelStatus  = "status"
)

// -------------------------------------------------------------------------
// Collector — Prometheus Session Metrics
// -------------------------------------------------------------------------

// Collector holds all bgpy Prometheus metrics. It implements
// session.Observer, so registering it on the session is all the wiring
// the message and byte counters need.
type Collector struct {
	// MessagesSent counts transmitted messages per BGP message type.
	MessagesSent *prometheus.CounterVec

	// MessagesReceived counts decoded inbound messages per type.
	MessagesReceived *prometheus.CounterVec

	// BytesSent counts octets handed to the socket, headers included.
	BytesSent prometheus.Counter

	// BytesReceived counts octets read from the socket.
	BytesReceived prometheus.Counter

	// NotificationsReceived counts inbound NOTIFICATIONs per error code
	// and subcode, the usual thing to alert on.
	NotificationsReceived *prometheus.CounterVec

	// SessionStatus is set to 1 on the label of the terminal status when
	// the session ends.
	SessionStatus *prometheus.GaugeVec
}

// NewCollector creates a Collector with all metrics registered against the
// provided prometheus.Registerer. If reg is nil,
// prometheus.DefaultRegisterer is used.
//
// All metrics carry the "bgpy_session_" prefix (namespace_subsystem).
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.MessagesSent,
		c.MessagesReceived,
		c.BytesSent,
		c.BytesReceived,
		c.NotificationsReceived,
		c.SessionStatus,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	return &Collector{
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "messages_sent_total",
			Help:      "Total BGP messages transmitted, by message type.",
		}, []string{labelType}),

		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "messages_received_total",
			Help:      "Total BGP messages decoded from the peer, by message type.",
		}, []string{labelType}),

		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "bytes_sent_total",
			Help:      "Total octets written to the peer socket.",
		}),

		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "bytes_received_total",
			Help:      "Total octets read from the peer socket.",
		}),

		NotificationsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "notifications_received_total",
			Help:      "Total inbound NOTIFICATION messages, by error code and subcode.",
		}, []string{labelCode, labelSubcode}),

		SessionStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "status",
			Help:      "Terminal session status (1 on the status the session ended with).",
		}, []string{labelStatus}),
	}
}

// -------------------------------------------------------------------------
// session.Observer Implementation
// -------------------------------------------------------------------------

// OnMessage counts one message in the direction it crossed the session.
func (c *Collector) OnMessage(dir session.Direction, msg wire.Message) {
	typ := msg.Type().String()
	if dir == session.DirSend {
		c.MessagesSent.WithLabelValues(typ).Inc()
		return
	}
	c.MessagesReceived.WithLabelValues(typ).Inc()

	if n, ok := msg.(*wire.Notification); ok {
		c.NotificationsReceived.WithLabelValues(
			n.Code.String(), wire.SubcodeString(n.Code, n.Subcode)).Inc()
	}
}

// OnBytes counts one raw frame's octets.
func (c *Collector) OnBytes(dir session.Direction, data []byte) {
	if dir == session.DirSend {
		c.BytesSent.Add(float64(len(data)))
		return
	}
	c.BytesReceived.Add(float64(len(data)))
}

// -------------------------------------------------------------------------
// Terminal Status
// -------------------------------------------------------------------------

// SetStatus records the status Run ended with. Called once at teardown.
func (c *Collector) SetStatus(status session.Status) {
	c.SessionStatus.WithLabelValues(status.String()).Set(1)
}

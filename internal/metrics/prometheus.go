package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Departure reasons used as the "reason" label
const (
	ReasonLogout   = "logout"
	ReasonTimeout  = "timeout"
	ReasonKilled   = "killed"
	ReasonRelogin  = "relogin"
	ReasonShutdown = "shutdown"
	ReasonAborted  = "aborted" // pending join that never completed
)

// Metrics contains all Prometheus metrics for the chat relay
type Metrics struct {
	// Datagram metrics
	DatagramsReceived *prometheus.CounterVec
	DatagramsIgnored  prometheus.Counter
	DatagramsSent     prometheus.Counter
	SendErrors        prometheus.Counter
	QueueSize         prometheus.Gauge

	// Session metrics
	ActiveSessions  prometheus.Gauge
	Joins           prometheus.Counter
	JoinRejections  prometheus.Counter
	Departures      *prometheus.CounterVec
	SessionDuration prometheus.Histogram

	// Relay metrics
	ChatMessages     prometheus.Counter
	DirectoryQueries prometheus.Counter
	PingsSent        prometheus.Counter
	SweepDuration    prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all relay metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Datagram metrics
		DatagramsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "talk_datagrams_received_total",
			Help: "Total number of datagrams received, by message kind",
		}, []string{"kind"}),
		DatagramsIgnored: factory.NewCounter(prometheus.CounterOpts{
			Name: "talk_datagrams_ignored_total",
			Help: "Total number of datagrams dropped because the sender holds no session",
		}),
		DatagramsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "talk_datagrams_sent_total",
			Help: "Total number of datagrams sent successfully",
		}),
		SendErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "talk_send_errors_total",
			Help: "Total number of datagrams that failed to send",
		}),
		QueueSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "talk_event_queue_size",
			Help: "Current number of events waiting for the relay",
		}),

		// Session metrics
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "talk_active_sessions",
			Help: "Current number of active sessions",
		}),
		Joins: factory.NewCounter(prometheus.CounterOpts{
			Name: "talk_joins_total",
			Help: "Total number of completed joins",
		}),
		JoinRejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "talk_join_rejections_total",
			Help: "Total number of joins rejected for capacity or invalid name",
		}),
		Departures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "talk_departures_total",
			Help: "Total number of released sessions, by reason",
		}, []string{"reason"}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "talk_session_duration_seconds",
			Help:    "Lifetime of active sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~4.5 hours
		}),

		// Relay metrics
		ChatMessages: factory.NewCounter(prometheus.CounterOpts{
			Name: "talk_chat_messages_total",
			Help: "Total number of chat lines relayed",
		}),
		DirectoryQueries: factory.NewCounter(prometheus.CounterOpts{
			Name: "talk_directory_queries_total",
			Help: "Total number of directory queries answered",
		}),
		PingsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "talk_pings_sent_total",
			Help: "Total number of liveness challenges sent",
		}),
		SweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "talk_liveness_sweep_duration_seconds",
			Help:    "Time spent in one liveness sweep",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 8), // 10us to ~160ms
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "talk_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "talk_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "talk_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordDatagram increments the received counter for a message kind
func (m *Metrics) RecordDatagram(kind string) {
	m.DatagramsReceived.WithLabelValues(kind).Inc()
}

// RecordIgnored increments the ignored datagrams counter
func (m *Metrics) RecordIgnored() {
	m.DatagramsIgnored.Inc()
}

// RecordSend records the outcome of one outbound datagram
func (m *Metrics) RecordSend(err error) {
	if err != nil {
		m.SendErrors.Inc()
		return
	}
	m.DatagramsSent.Inc()
}

// SetQueueSize sets the current event queue size
func (m *Metrics) SetQueueSize(size int) {
	m.QueueSize.Set(float64(size))
}

// SetActiveSessions sets the current number of active sessions
func (m *Metrics) SetActiveSessions(count int) {
	m.ActiveSessions.Set(float64(count))
}

// RecordJoin increments the completed joins counter
func (m *Metrics) RecordJoin() {
	m.Joins.Inc()
}

// RecordJoinRejected increments the rejected joins counter
func (m *Metrics) RecordJoinRejected() {
	m.JoinRejections.Inc()
}

// RecordDeparture records a released session and, for sessions that were
// active, how long they lived
func (m *Metrics) RecordDeparture(reason string, durationSeconds float64) {
	m.Departures.WithLabelValues(reason).Inc()
	if durationSeconds >= 0 {
		m.SessionDuration.Observe(durationSeconds)
	}
}

// RecordChat increments the relayed chat lines counter
func (m *Metrics) RecordChat() {
	m.ChatMessages.Inc()
}

// RecordDirectoryQuery increments the directory queries counter
func (m *Metrics) RecordDirectoryQuery() {
	m.DirectoryQueries.Inc()
}

// RecordPings adds the number of challenges sent in one tick
func (m *Metrics) RecordPings(count int) {
	m.PingsSent.Add(float64(count))
}

// RecordSweep observes the duration of one liveness sweep
func (m *Metrics) RecordSweep(durationSeconds float64) {
	m.SweepDuration.Observe(durationSeconds)
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}

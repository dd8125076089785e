// Package metrics exposes Prometheus instrumentation for imapd.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveConnections is the number of currently-open sessions, by
	// endpoint (plaintext, implicit-tls, proxy).
	ActiveConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "imapd_active_connections",
		Help: "Number of active IMAP sessions by endpoint",
	}, []string{"endpoint"})

	ConnectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "imapd_connections_total",
		Help: "Total accepted connections by endpoint",
	}, []string{"endpoint"})

	// AuthAttempts counts LOGIN/AUTHENTICATE outcomes by mechanism.
	AuthAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "imapd_auth_attempts_total",
		Help: "Total authentication attempts by mechanism and result",
	}, []string{"mechanism", "result"})

	// CommandsTotal counts dispatched IMAP commands by name.
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "imapd_commands_total",
		Help: "Total IMAP commands processed",
	}, []string{"command"})

	CommandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "imapd_command_duration_seconds",
		Help:    "Time to process one IMAP command",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 8), // 1ms .. ~16s
	}, []string{"command"})

	// LiteralBytes tracks literal payload sizes (APPEND bodies and
	// oversized argument literals) spilled through iox.BufferFile.
	LiteralBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "imapd_literal_bytes",
		Help:    "Size in bytes of literal arguments read from clients",
		Buckets: prometheus.ExponentialBuckets(64, 8, 8), // 64B .. ~2MB+
	})

	// IdleSessions is the number of sessions currently blocked in IDLE.
	IdleSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "imapd_idle_sessions",
		Help: "Number of sessions currently in the IDLE state",
	})

	MessagesAppended = promauto.NewCounter(prometheus.CounterOpts{
		Name: "imapd_messages_appended_total",
		Help: "Total messages stored via APPEND",
	})

	MessagesExpunged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "imapd_messages_expunged_total",
		Help: "Total messages removed via EXPUNGE",
	})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "imapd_errors_total",
		Help: "Total errors by component and kind",
	}, []string{"component", "kind"})
)

// RecordAuth records a LOGIN/AUTHENTICATE attempt.
func RecordAuth(mechanism string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	AuthAttempts.WithLabelValues(mechanism, result).Inc()
}

// RecordConnection records a new accepted connection on endpoint.
func RecordConnection(endpoint string) {
	ActiveConnections.WithLabelValues(endpoint).Inc()
	ConnectionsTotal.WithLabelValues(endpoint).Inc()
}

// ReleaseConnection records a session ending on endpoint.
func ReleaseConnection(endpoint string) {
	ActiveConnections.WithLabelValues(endpoint).Dec()
}

// RecordCommand records one dispatched command and its processing time.
func RecordCommand(name string, seconds float64) {
	CommandsTotal.WithLabelValues(name).Inc()
	CommandDuration.WithLabelValues(name).Observe(seconds)
}

// RecordError records an error by component and kind.
func RecordError(component, kind string) {
	Errors.WithLabelValues(component, kind).Inc()
}

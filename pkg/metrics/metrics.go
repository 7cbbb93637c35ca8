package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Connection metrics
	ConnectedPeers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cotoami_connected_peers",
			Help: "Number of peer connections by role and state",
		},
		[]string{"role", "state"},
	)

	ActiveClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cotoami_active_clients",
			Help: "Number of currently connected client sessions",
		},
	)

	AnonymousConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cotoami_anonymous_connections",
			Help: "Number of currently connected anonymous read-only sessions",
		},
	)

	// Write path metrics
	WriteLockWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cotoami_write_lock_wait_seconds",
			Help:    "Time spent waiting to acquire the single write connection",
			Buckets: prometheus.DefBuckets,
		},
	)

	WriteTransactionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cotoami_write_transaction_duration_seconds",
			Help:    "Duration of a committed write transaction by operation name",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Changelog / replication metrics
	ChangelogSerialNumber = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cotoami_changelog_serial_number",
			Help: "Current local changelog serial number",
		},
	)

	ParentChangesReceived = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cotoami_parent_changes_received",
			Help: "Last origin_serial_number received from a parent node",
		},
		[]string{"parent_node_id"},
	)

	ChangesImportedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cotoami_changes_imported_total",
			Help: "Total changelog entries imported from a parent, by change kind",
		},
		[]string{"parent_node_id", "kind"},
	)

	ChangesAppliedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cotoami_changes_applied_total",
			Help: "Total changelog entries recorded locally, by change kind",
		},
		[]string{"kind"},
	)

	ChangeImportRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cotoami_change_import_rejected_total",
			Help: "Total changelog entries rejected on import, by reason",
		},
		[]string{"parent_node_id", "reason"},
	)

	ResyncInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cotoami_resync_in_flight",
			Help: "Number of parent connections currently resyncing a chunk of changes",
		},
	)

	// Service request metrics
	ServiceRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cotoami_service_requests_total",
			Help: "Total service requests by command and outcome",
		},
		[]string{"command", "outcome"},
	)

	ServiceRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cotoami_service_request_duration_seconds",
			Help:    "Service request duration in seconds by command and transport",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command", "transport"},
	)

	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cotoami_events_published_total",
			Help: "Total events published on the broker, by topic",
		},
		[]string{"topic"},
	)

	EventsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cotoami_events_dropped_total",
			Help: "Total events dropped because a subscriber's channel was full",
		},
		[]string{"topic"},
	)
)

func init() {
	prometheus.MustRegister(ConnectedPeers)
	prometheus.MustRegister(ActiveClients)
	prometheus.MustRegister(AnonymousConnections)
	prometheus.MustRegister(WriteLockWaitSeconds)
	prometheus.MustRegister(WriteTransactionDuration)
	prometheus.MustRegister(ChangelogSerialNumber)
	prometheus.MustRegister(ParentChangesReceived)
	prometheus.MustRegister(ChangesImportedTotal)
	prometheus.MustRegister(ChangesAppliedTotal)
	prometheus.MustRegister(ChangeImportRejectedTotal)
	prometheus.MustRegister(ResyncInFlight)
	prometheus.MustRegister(ServiceRequestsTotal)
	prometheus.MustRegister(ServiceRequestDuration)
	prometheus.MustRegister(EventsPublishedTotal)
	prometheus.MustRegister(EventsDroppedTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a small helper for timing operations against a histogram.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to a plain histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to a histogram vector with
// the given label values.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Package metrics exposes Cotoami's Prometheus metrics: replication
// and connection health, write-path contention, and service request
// latency, all registered at package init and served over /metrics via
// promhttp.Handler.
package metrics

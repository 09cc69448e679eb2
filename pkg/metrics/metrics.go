package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ReconcilerMetrics counts the merge-layer events that are deliberately
// silent to the user but must stay observable in diagnostics.
type ReconcilerMetrics struct {
	StaleDrops       prometheus.Counter
	DuplicateEvents  prometheus.Counter
	EventsApplied    prometheus.Counter
	SnapshotsApplied prometheus.Counter
	SnapshotFailures prometheus.Counter
	Rollbacks        prometheus.Counter
	StreamReconnects prometheus.Counter
}

// NewReconcilerMetrics registers the counters on the given registerer. Pass
// a fresh prometheus.NewRegistry() in tests.
func NewReconcilerMetrics(reg prometheus.Registerer) *ReconcilerMetrics {
	m := &ReconcilerMetrics{
		StaleDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "warung",
			Subsystem: "reconciler",
			Name:      "stale_updates_discarded_total",
			Help:      "Incoming records discarded because their version was not newer.",
		}),
		DuplicateEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "warung",
			Subsystem: "reconciler",
			Name:      "duplicate_events_total",
			Help:      "Stream events discarded as exact (order, version) duplicates.",
		}),
		EventsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "warung",
			Subsystem: "reconciler",
			Name:      "events_applied_total",
			Help:      "Stream events merged into the store.",
		}),
		SnapshotsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "warung",
			Subsystem: "reconciler",
			Name:      "snapshots_applied_total",
			Help:      "Full snapshots reconciled into the store.",
		}),
		SnapshotFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "warung",
			Subsystem: "reconciler",
			Name:      "snapshot_failures_total",
			Help:      "Snapshot fetches rejected wholesale (timeout, bad payload).",
		}),
		Rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "warung",
			Subsystem: "reconciler",
			Name:      "optimistic_rollbacks_total",
			Help:      "Optimistic updates rolled back after a failed submission.",
		}),
		StreamReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "warung",
			Subsystem: "stream",
			Name:      "reconnects_total",
			Help:      "Reconnection attempts made by the event stream subscriber.",
		}),
	}
	reg.MustRegister(
		m.StaleDrops, m.DuplicateEvents, m.EventsApplied,
		m.SnapshotsApplied, m.SnapshotFailures, m.Rollbacks, m.StreamReconnects,
	)
	return m
}

// Handler exposes the default registry for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

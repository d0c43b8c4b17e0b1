// Package metrics exposes the daemon's Prometheus instrumentation. The
// teacher wires its own monitoring listener to net/http/pprof
// (internal/maincmd/maincmd.go); this package provides the metrics half of
// that same HTTP endpoint, grounded on the prometheus/client_golang usage
// in rclone-rclone, moby-moby, and runZeroInc-sockstats (all direct
// dependents in the example pack).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsTotal counts accepted connections, labeled by the module
	// ultimately selected ("" for connections that never select one, e.g.
	// module-list requests).
	ConnectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rsyncd_connections_total",
		Help: "Total number of accepted rsync daemon connections.",
	}, []string{"module"})

	// ActiveConnections tracks in-flight sessions.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rsyncd_active_connections",
		Help: "Number of rsync daemon sessions currently being served.",
	})

	// BytesServedTotal counts payload bytes written to clients, labeled by
	// module.
	BytesServedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rsyncd_bytes_served_total",
		Help: "Total number of file content bytes written to clients.",
	}, []string{"module"})

	// SessionErrorsTotal counts sessions that terminated via a protocol
	// error, labeled by the error kind (spec.md §7: FramingOverflow,
	// ProtocolStartupError, IncompatibleVersion, ArgumentLimitExceeded,
	// IndexProtocolError, NoSuchPath).
	SessionErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rsyncd_session_errors_total",
		Help: "Total number of sessions terminated by a protocol error, by kind.",
	}, []string{"kind"})

	// SnapshotRebuildDuration tracks how long MemoryCachedModule's
	// RepositoryUpdated took, labeled by module.
	SnapshotRebuildDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rsyncd_snapshot_rebuild_seconds",
		Help:    "Duration of a module snapshot rebuild.",
		Buckets: prometheus.DefBuckets,
	}, []string{"module"})

	// SnapshotRebuildErrorsTotal counts failed rebuilds, labeled by module.
	SnapshotRebuildErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rsyncd_snapshot_rebuild_errors_total",
		Help: "Total number of failed module snapshot rebuilds.",
	}, []string{"module"})
)

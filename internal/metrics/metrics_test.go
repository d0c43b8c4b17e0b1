package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/gokrazy-rsync-snapshotd/rsyncd/internal/metrics"
)

func TestConnectionsTotalIncrements(t *testing.T) {
	before := testutil.ToFloat64(metrics.ConnectionsTotal.WithLabelValues("rpki"))
	metrics.ConnectionsTotal.WithLabelValues("rpki").Inc()
	after := testutil.ToFloat64(metrics.ConnectionsTotal.WithLabelValues("rpki"))
	if after != before+1 {
		t.Errorf("ConnectionsTotal = %v, want %v", after, before+1)
	}
}

func TestBytesServedTotalAdd(t *testing.T) {
	before := testutil.ToFloat64(metrics.BytesServedTotal.WithLabelValues("rpki"))
	metrics.BytesServedTotal.WithLabelValues("rpki").Add(1024)
	after := testutil.ToFloat64(metrics.BytesServedTotal.WithLabelValues("rpki"))
	if after != before+1024 {
		t.Errorf("BytesServedTotal = %v, want %v", after, before+1024)
	}
}

func TestSessionErrorsTotalByKind(t *testing.T) {
	before := testutil.ToFloat64(metrics.SessionErrorsTotal.WithLabelValues("NoSuchPath"))
	metrics.SessionErrorsTotal.WithLabelValues("NoSuchPath").Inc()
	after := testutil.ToFloat64(metrics.SessionErrorsTotal.WithLabelValues("NoSuchPath"))
	if after != before+1 {
		t.Errorf("SessionErrorsTotal = %v, want %v", after, before+1)
	}
}

func TestSnapshotRebuildDurationObserve(t *testing.T) {
	before := testutil.CollectAndCount(metrics.SnapshotRebuildDuration)
	metrics.SnapshotRebuildDuration.WithLabelValues("rpki").Observe(0.01)
	after := testutil.CollectAndCount(metrics.SnapshotRebuildDuration)
	if after < before {
		t.Errorf("CollectAndCount went from %d to %d", before, after)
	}
}

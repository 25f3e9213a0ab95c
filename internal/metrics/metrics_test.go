package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecord(t *testing.T) {
	m := Init("test", prometheus.NewRegistry())

	m.AddRecordsPushed("block", 3)
	m.IncRecordsSkipped("event", "malformed_id")
	m.ObserveRowGroup("block", 0.01)
	m.ObserveFileCommitted("block", 2048)
	m.IncBlocksDispatched(42)
	m.SetQueueDepth("call", 2)

	if got := testutil.ToFloat64(m.RecordsPushed.WithLabelValues("block")); got != 3 {
		t.Errorf("records pushed = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.RecordsSkipped.WithLabelValues("event", "malformed_id")); got != 1 {
		t.Errorf("records skipped = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RowGroups.WithLabelValues("block")); got != 1 {
		t.Errorf("row groups = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.LastBlockHeight); got != 42 {
		t.Errorf("last block height = %v, want 42", got)
	}
	if got := testutil.ToFloat64(m.QueueDepth.WithLabelValues("call")); got != 2 {
		t.Errorf("queue depth = %v, want 2", got)
	}
	if Get() != m {
		t.Error("Get should return the last initialized metrics")
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.AddRecordsPushed("block", 1)
	m.IncRecordsSkipped("block", "encoding")
	m.ObserveRowGroup("block", 1)
	m.ObserveFileCommitted("block", 1)
	m.IncBlocksDispatched(1)
	m.IncLinesSkipped()
	m.SetQueueDepth("block", 1)
	m.IncMetadataInserted()
	m.IncMetadataErrors()
}

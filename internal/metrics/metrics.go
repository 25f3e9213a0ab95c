// Package metrics provides Prometheus metrics for the archiver.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the archiver. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	// Ingestion
	BlocksDispatched prometheus.Counter
	LastBlockHeight  prometheus.Gauge
	LinesSkipped     prometheus.Counter

	// Per-kind pipeline metrics
	RecordsPushed  *prometheus.CounterVec
	RecordsSkipped *prometheus.CounterVec
	RowGroups      *prometheus.CounterVec
	FilesCommitted *prometheus.CounterVec
	QueueDepth     *prometheus.GaugeVec

	// Timing and size
	FlushDuration *prometheus.HistogramVec
	FileBytes     *prometheus.HistogramVec

	// Metadata sidecar
	MetadataInserted prometheus.Counter
	MetadataErrors   prometheus.Counter
}

var defaultMetrics *Metrics

// Init registers the archiver metrics with reg (the default registerer when
// nil) and makes them the package default.
func Init(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "substrate_archiver"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	m := &Metrics{
		BlocksDispatched: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_dispatched_total",
			Help:      "Total number of blocks handed to the pipelines",
		}),
		LastBlockHeight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_block_height",
			Help:      "Height of the last dispatched block",
		}),
		LinesSkipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lines_skipped_total",
			Help:      "Total number of input lines that could not be decoded",
		}),
		RecordsPushed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_pushed_total",
			Help:      "Total number of records appended to a row group",
		}, []string{"kind"}),
		RecordsSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_skipped_total",
			Help:      "Total number of records dropped by the error policy",
		}, []string{"kind", "reason"}),
		RowGroups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "row_groups_written_total",
			Help:      "Total number of row groups written",
		}, []string{"kind"}),
		FilesCommitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_committed_total",
			Help:      "Total number of files published",
		}, []string{"kind"}),
		QueueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Outstanding submissions per pipeline",
		}, []string{"kind"}),
		FlushDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "row_group_flush_duration_seconds",
			Help:      "Time to sort and write one row group",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		}, []string{"kind"}),
		FileBytes: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "file_bytes",
			Help:      "Size of committed files in bytes",
			Buckets:   prometheus.ExponentialBuckets(1024, 2, 18), // 1KB to ~128MB
		}, []string{"kind"}),
		MetadataInserted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metadata_inserted_total",
			Help:      "Total number of runtime metadata rows stored",
		}),
		MetadataErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metadata_errors_total",
			Help:      "Total number of metadata sidecar errors",
		}),
	}

	defaultMetrics = m
	return m
}

// Get returns the global metrics instance.
// Returns nil if Init has not been called.
func Get() *Metrics {
	return defaultMetrics
}

// StartServer starts an HTTP server for Prometheus metrics scraping.
// Blocks until the server exits.
func StartServer(address string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return http.ListenAndServe(address, mux)
}

// IncBlocksDispatched counts one dispatched block and records its height.
func (m *Metrics) IncBlocksDispatched(height int64) {
	if m == nil {
		return
	}
	m.BlocksDispatched.Inc()
	m.LastBlockHeight.Set(float64(height))
}

// IncLinesSkipped increments the undecodable lines counter.
func (m *Metrics) IncLinesSkipped() {
	if m == nil {
		return
	}
	m.LinesSkipped.Inc()
}

// AddRecordsPushed adds to the pushed records counter.
func (m *Metrics) AddRecordsPushed(kind string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.RecordsPushed.WithLabelValues(kind).Add(float64(n))
}

// IncRecordsSkipped increments the skipped records counter.
func (m *Metrics) IncRecordsSkipped(kind, reason string) {
	if m == nil {
		return
	}
	m.RecordsSkipped.WithLabelValues(kind, reason).Inc()
}

// ObserveRowGroup records one written row group.
func (m *Metrics) ObserveRowGroup(kind string, seconds float64) {
	if m == nil {
		return
	}
	m.RowGroups.WithLabelValues(kind).Inc()
	m.FlushDuration.WithLabelValues(kind).Observe(seconds)
}

// ObserveFileCommitted records one published file.
func (m *Metrics) ObserveFileCommitted(kind string, bytes int64) {
	if m == nil {
		return
	}
	m.FilesCommitted.WithLabelValues(kind).Inc()
	m.FileBytes.WithLabelValues(kind).Observe(float64(bytes))
}

// SetQueueDepth sets the outstanding submissions of a pipeline.
func (m *Metrics) SetQueueDepth(kind string, depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues(kind).Set(float64(depth))
}

// IncMetadataInserted increments the metadata rows counter.
func (m *Metrics) IncMetadataInserted() {
	if m == nil {
		return
	}
	m.MetadataInserted.Inc()
}

// IncMetadataErrors increments the metadata errors counter.
func (m *Metrics) IncMetadataErrors() {
	if m == nil {
		return
	}
	m.MetadataErrors.Inc()
}

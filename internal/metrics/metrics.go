// Package metrics provides Prometheus metrics for emberkv.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector an open store reports.
type Metrics struct {
	// Operation metrics: one counter/histogram pair per Session verb.
	OpsTotal    *prometheus.CounterVec
	OpDuration  *prometheus.HistogramVec
	Conflicts   prometheus.Counter
	Rollbacks   *prometheus.CounterVec

	// Cache/eviction metrics, sourced from evict.Cache's own counters.
	CacheBytesInMem prometheus.Gauge
	CacheBytesDirty prometheus.Gauge
	CachePagesClean prometheus.Gauge
	CachePagesDirty prometheus.Gauge
	EvictionsTotal  prometheus.Counter

	// Checkpoint/WAL metrics.
	CheckpointsTotal    prometheus.Counter
	CheckpointDuration  prometheus.Histogram
	WALAppendsTotal     prometheus.Counter
	HistoryStoreEntries prometheus.Gauge

	// Store-level metrics.
	StoreSizeBytes     prometheus.Gauge
	ServerUptimeSeconds prometheus.Gauge
	startTime          time.Time
}

// New creates and registers every collector against reg. Passing a
// fresh *prometheus.Registry (rather than prometheus.DefaultRegisterer)
// lets callers, including tests, open more than one instrumented store
// in the same process without a duplicate-registration panic.
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{startTime: time.Now()}

	m.OpsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emberkv_ops_total",
			Help: "Total number of get/put/delete operations.",
		},
		[]string{"op", "status"},
	)

	m.OpDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "emberkv_op_duration_seconds",
			Help:    "Duration of get/put/delete operations in seconds.",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		},
		[]string{"op"},
	)

	m.Conflicts = factory.NewCounter(prometheus.CounterOpts{
		Name: "emberkv_write_conflicts_total",
		Help: "Total number of write-write conflicts detected when a write finds a conflicting update at the head of its key's chain.",
	})

	m.Rollbacks = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emberkv_rollbacks_total",
			Help: "Total number of transaction rollbacks, by reason.",
		},
		[]string{"reason"},
	)

	m.CacheBytesInMem = factory.NewGauge(prometheus.GaugeOpts{
		Name: "emberkv_cache_bytes_in_mem",
		Help: "Current resident page bytes tracked by the cache.",
	})
	m.CacheBytesDirty = factory.NewGauge(prometheus.GaugeOpts{
		Name: "emberkv_cache_bytes_dirty",
		Help: "Current dirty page bytes tracked by the cache.",
	})
	m.CachePagesClean = factory.NewGauge(prometheus.GaugeOpts{
		Name: "emberkv_cache_pages_clean",
		Help: "Current count of resident clean pages.",
	})
	m.CachePagesDirty = factory.NewGauge(prometheus.GaugeOpts{
		Name: "emberkv_cache_pages_dirty",
		Help: "Current count of resident dirty pages.",
	})
	m.EvictionsTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "emberkv_evictions_total",
		Help: "Total number of pages evicted by the background scanner or cursor assist.",
	})

	m.CheckpointsTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "emberkv_checkpoints_total",
		Help: "Total number of completed checkpoints.",
	})
	m.CheckpointDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Name:    "emberkv_checkpoint_duration_seconds",
		Help:    "Duration of a checkpoint in seconds.",
		Buckets: prometheus.DefBuckets,
	})
	m.WALAppendsTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "emberkv_wal_appends_total",
		Help: "Total number of redo-log entries appended.",
	})
	m.HistoryStoreEntries = factory.NewGauge(prometheus.GaugeOpts{
		Name: "emberkv_history_store_entries",
		Help: "Current number of versions held in the history store.",
	})

	m.StoreSizeBytes = factory.NewGauge(prometheus.GaugeOpts{
		Name: "emberkv_store_size_bytes",
		Help: "Current backing file size in bytes.",
	})
	m.ServerUptimeSeconds = factory.NewGauge(prometheus.GaugeOpts{
		Name: "emberkv_uptime_seconds",
		Help: "Seconds since this store was opened.",
	})

	return m
}

// RecordOp records one get/put/delete call's outcome and latency.
func (m *Metrics) RecordOp(op, status string, duration time.Duration) {
	m.OpsTotal.WithLabelValues(op, status).Inc()
	m.OpDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordConflict records one write-write conflict.
func (m *Metrics) RecordConflict() { m.Conflicts.Inc() }

// RecordRollback records one rollback, tagged by reason.
func (m *Metrics) RecordRollback(reason string) { m.Rollbacks.WithLabelValues(reason).Inc() }

// UpdateCacheStats refreshes the cache gauges from an evict.Cache
// snapshot (passed as plain values to avoid metrics depending on
// internal/evict's package, which would invert the usual dependency
// direction).
func (m *Metrics) UpdateCacheStats(bytesInMem, bytesDirty, pagesClean, pagesDirty int64) {
	m.CacheBytesInMem.Set(float64(bytesInMem))
	m.CacheBytesDirty.Set(float64(bytesDirty))
	m.CachePagesClean.Set(float64(pagesClean))
	m.CachePagesDirty.Set(float64(pagesDirty))
}

// RecordEviction records one successful page eviction.
func (m *Metrics) RecordEviction() { m.EvictionsTotal.Inc() }

// RecordCheckpoint records one completed checkpoint's duration.
func (m *Metrics) RecordCheckpoint(duration time.Duration) {
	m.CheckpointsTotal.Inc()
	m.CheckpointDuration.Observe(duration.Seconds())
}

// RecordWALAppend records one redo-log append.
func (m *Metrics) RecordWALAppend() { m.WALAppendsTotal.Inc() }

// UpdateStoreStats refreshes the store-level gauges.
func (m *Metrics) UpdateStoreStats(sizeBytes int64, historyEntries int64) {
	m.StoreSizeBytes.Set(float64(sizeBytes))
	m.HistoryStoreEntries.Set(float64(historyEntries))
	m.ServerUptimeSeconds.Set(time.Since(m.startTime).Seconds())
}

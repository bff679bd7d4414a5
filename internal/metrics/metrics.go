// v1
// internal/metrics/metrics.go
// Package metrics exposes the Prometheus collectors for the write path.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	batchSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scylladb_batch_sent_total",
		Help: "Number of batches flushed to the log table.",
	})
	batchItemSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scylladb_batchitem_sent_total",
		Help: "Number of events flushed to the log table.",
	})
	batchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "scylladb_batch_size",
		Help:    "Distribution of flushed batch sizes in events.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})
	batchRequestLag = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scylladb_batch_request_lag",
		Help: "Events routed to a shard mailbox but not yet flushed.",
	})
	slotSeenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scylladb_slot_seen_total",
		Help: "Distinct slots committed to producer_slot_seen.",
	})
	periodCommitTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scylladb_period_commit_total",
		Help: "Period boundary markers written.",
	})
)

// IncBatchSent records one flushed batch of n events.
func IncBatchSent(n int) {
	batchSentTotal.Inc()
	batchItemSentTotal.Add(float64(n))
	batchSize.Observe(float64(n))
}

// IncBatchRequestLag bumps the routed-but-unflushed gauge.
func IncBatchRequestLag() { batchRequestLag.Inc() }

// SubBatchRequestLag drops the routed-but-unflushed gauge by n.
func SubBatchRequestLag(n int) { batchRequestLag.Sub(float64(n)) }

// IncSlotSeen records one committed slot observation.
func IncSlotSeen() { slotSeenTotal.Inc() }

// IncPeriodCommit records one period boundary marker.
func IncPeriodCommit() { periodCommitTotal.Inc() }

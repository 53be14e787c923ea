package crawler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TargetsCrawled counts finished target crawls by outcome.
	TargetsCrawled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clipcrawler_targets_crawled_total",
		Help: "The total number of target crawls finished, by outcome.",
	}, []string{"outcome"})
	// LightRecordsCommitted counts light records handed to the dual sink.
	LightRecordsCommitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clipcrawler_light_records_total",
		Help: "The total number of light records committed.",
	})
	// HeavyRecordsCommitted counts heavy records handed to the dual sink.
	HeavyRecordsCommitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clipcrawler_heavy_records_total",
		Help: "The total number of heavy records committed.",
	})
	// ItemFailures counts single-item extraction or persistence failures
	// that were skipped and retained for a future sweep.
	ItemFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clipcrawler_item_failures_total",
		Help: "The total number of per-item failures skipped during sweeps.",
	})
	// PublishFailures counts best-effort event publications that failed.
	PublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clipcrawler_publish_failures_total",
		Help: "The total number of failed event publications.",
	})
	// SweepBatchSize observes the candidate count at each batch boundary.
	SweepBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "clipcrawler_sweep_batch_size",
		Help:    "Remaining candidate set size at each heavy-sweep batch.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})
)

package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sourcesRefreshed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rssagg_sources_refreshed_total",
		Help: "Per-source refresh outcomes by kind, status and failure kind",
	}, []string{"kind", "status", "failure"})

	itemsUpserted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rssagg_items_upserted_total",
		Help: "Posts inserted or updated by source kind",
	}, []string{"kind"})

	postsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rssagg_items_dropped_total",
		Help: "Raw items discarded during normalization",
	}, []string{"reason"})

	sweepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rssagg_sweep_duration_seconds",
		Help:    "Duration of refresh sweeps",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	}, []string{"trigger"})
)

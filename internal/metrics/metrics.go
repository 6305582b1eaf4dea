// Topicmirror - Chat Video Ingestion and Topic Mirroring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/topicmirror

// Package metrics exposes the agent's Prometheus instrumentation:
// scan throughput, forward outcomes, dedup verdicts, rate-limit
// behavior, store latency, and cleanup activity.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Scan metrics
	MessagesScanned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "topicmirror_messages_scanned_total",
			Help: "Total number of source messages examined",
		},
		[]string{"source"},
	)

	MessagesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "topicmirror_messages_skipped_total",
			Help: "Total number of source messages skipped before forwarding",
		},
		[]string{"reason"}, // "processed", "no_match", "excluded", "bounds", "duplicate"
	)

	// Forward metrics
	ForwardsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "topicmirror_forwards_total",
			Help: "Total number of videos forwarded per destination topic",
		},
		[]string{"topic", "outcome"}, // outcome: "ok", "failed", "dry_run"
	)

	// Dedup metrics
	DedupVerdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "topicmirror_dedup_verdicts_total",
			Help: "Total number of duplicate verdicts by detection path",
		},
		[]string{"path"}, // "exact", "near", "metadata"
	)

	ReplacementsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "topicmirror_replacements_total",
			Help: "Total number of superseded videos replaced in the destination",
		},
	)

	// Rate-limit metrics
	FloodWaits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "topicmirror_flood_waits_total",
			Help: "Total number of flood-wait pauses honored",
		},
		[]string{"operation"},
	)

	TransientRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "topicmirror_transient_retries_total",
			Help: "Total number of transient-error retries with backoff",
		},
		[]string{"operation"},
	)

	RetriesExhausted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "topicmirror_retries_exhausted_total",
			Help: "Total number of operations abandoned after the retry budget",
		},
		[]string{"operation"},
	)

	// Cleanup metrics
	DeletionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "topicmirror_deletions_total",
			Help: "Total number of destination messages deleted",
		},
		[]string{"reason"}, // "exclusion", "duplicate", "replacement"
	)

	// Topic cache metrics
	TopicCacheFills = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "topicmirror_topic_cache_fills_total",
			Help: "Total number of lazy topic cache fills",
		},
	)

	TopicCachePages = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "topicmirror_topic_cache_fill_pages",
			Help:    "Pages fetched per topic cache fill",
			Buckets: []float64{1, 2, 5, 10, 20, 50},
		},
	)

	// Store metrics
	StoreQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "topicmirror_store_query_duration_seconds",
			Help:    "Duration of processed-state store queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Circuit breaker metrics
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "topicmirror_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	BreakerRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "topicmirror_breaker_rejections_total",
			Help: "Total number of calls rejected by an open circuit breaker",
		},
		[]string{"name"},
	)
)

// ObserveStoreQuery records a store query's duration under its
// operation label.
func ObserveStoreQuery(operation string, start time.Time) {
	StoreQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RowsIngested counts uploaded rows by sanitizer outcome (accepted, rejected)
	RowsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "segmentation_rows_ingested_total",
			Help: "Total number of uploaded rows by sanitizer outcome",
		},
		[]string{"outcome"},
	)

	// RecordsRouted counts records written to destination tables
	RecordsRouted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "segmentation_records_routed_total",
			Help: "Total number of records routed per destination and status",
		},
		[]string{"table", "status"},
	)

	// UnmappedRecords counts records whose persona had no destination
	UnmappedRecords = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "segmentation_unmapped_records_total",
			Help: "Total number of labeled records without a destination",
		},
	)

	// BatchDuration tracks end-to-end batch processing time
	BatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "segmentation_batch_duration_seconds",
			Help:    "Batch processing latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"result"},
	)

	// ClassifierLatency tracks predictor round trips
	ClassifierLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "segmentation_classifier_latency_seconds",
			Help:    "Classifier call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"result"},
	)

	// CampaignEvents counts campaign lifecycle events
	CampaignEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campaign_events_total",
			Help: "Total number of campaign lifecycle events",
		},
		[]string{"event"},
	)

	// MessagesDispatched counts per-customer dispatch outcomes
	MessagesDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campaign_messages_dispatched_total",
			Help: "Total number of composed messages handed to the workflow",
		},
		[]string{"status"},
	)

	// StoreDegraded counts read paths that fell back to zero
	StoreDegraded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_degraded_reads_total",
			Help: "Total number of store reads that degraded to a default value",
		},
		[]string{"operation"},
	)
)

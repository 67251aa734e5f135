// Perimetra - Movement Anomaly Detection and Forensic Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/perimetra

// Package metrics provides Prometheus instrumentation for the movement
// pipeline: packet throughput per terminal state, anomaly and anchor
// outcomes, stage latency, and the API surface.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Pipeline metrics
	PacketsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_packets_processed_total",
			Help: "Total packets processed, by terminal state (recorded, rejected, failed)",
		},
		[]string{"state", "zone"},
	)

	AnomaliesDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_anomalies_total",
			Help: "Total packets flagged anomalous",
		},
		[]string{"zone"},
	)

	PacketProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pipeline_packet_duration_seconds",
			Help:    "End-to-end processing duration per packet",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Anchor metrics
	AnchorSubmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anchor_submissions_total",
			Help: "Ledger anchor submissions by outcome (anchored, unavailable)",
		},
		[]string{"outcome"},
	)

	AnchorDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "anchor_submission_duration_seconds",
			Help:    "Duration of ledger anchor submissions",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	BlobUploads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blob_uploads_total",
			Help: "Blob store uploads by outcome (stored, failed)",
		},
		[]string{"outcome"},
	)

	// Recorder metrics
	RecorderInserts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recorder_inserts_total",
			Help: "Rows inserted into the movement log",
		},
	)

	RecorderErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recorder_errors_total",
			Help: "Failed movement log inserts",
		},
	)

	// Feed metrics
	FeedPackets = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_packets_total",
			Help: "Packets received per feed source (csv, nats, http)",
		},
		[]string{"source"},
	)

	// Trajectory worker metrics
	ActiveTrajectories = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipeline_active_trajectories",
			Help: "Trajectory workers currently running",
		},
	)

	TrajectoryQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipeline_trajectory_queue_depth",
			Help: "Packets waiting across trajectory worker queues",
		},
	)

	// API metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "endpoint"},
	)
)

// ObservePacket records one finished packet.
func ObservePacket(state, zone string, duration time.Duration) {
	PacketsProcessed.WithLabelValues(state, zone).Inc()
	PacketProcessingDuration.Observe(duration.Seconds())
}

// ObserveAPIRequest records one finished API request.
func ObserveAPIRequest(method, endpoint string, statusCode int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

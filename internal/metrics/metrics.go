// Canteend - Theater Canteen Notification and Event Fan-out Service
// Copyright 2026 Canteend Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/theaterops/canteend

// Package metrics provides Prometheus instrumentation for the notification
// and event fan-out plane: database resilience, scheduled jobs, mail
// dispatch, POS broadcasts and QR artifact generation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Database resilience metrics
	DBReconnectAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "canteend_db_reconnect_attempts_total",
			Help: "Total number of database reconnect attempts",
		},
	)

	DBQueryRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "canteend_db_query_retries_total",
			Help: "Total number of retried database query attempts",
		},
	)

	// Scheduled job metrics
	JobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canteend_job_runs_total",
			Help: "Total scheduled job executions by job name and outcome",
		},
		[]string{"job", "outcome"}, // outcome: "ok", "error"
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "canteend_job_duration_seconds",
			Help:    "Scheduled job execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job"},
	)

	// Notification mail metrics
	MailsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canteend_mails_dispatched_total",
			Help: "Total stock-notification e-mails dispatched by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// POS event bus metrics
	PosSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "canteend_pos_subscriptions",
			Help: "Current number of live POS stream subscriptions",
		},
	)

	PosEventsBroadcast = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canteend_pos_events_broadcast_total",
			Help: "Total POS order events broadcast by lifecycle event",
		},
		[]string{"event"},
	)

	PosSendsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "canteend_pos_sends_dropped_total",
			Help: "Total per-subscription sends dropped due to slow or dead transports",
		},
	)

	// QR artifact pipeline metrics
	ArtifactsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canteend_qr_artifacts_generated_total",
			Help: "Total QR artifacts generated by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	StorageFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "canteend_storage_fallback_writes_total",
			Help: "Total artifact writes that fell back to local filesystem storage",
		},
	)
)

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsSubmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subclip_jobs_submitted_total",
		Help: "Extraction job submissions by kind and outcome (created, attached, rejected, overloaded)",
	}, []string{"kind", "outcome"})

	jobsFinishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subclip_jobs_finished_total",
		Help: "Terminal extraction jobs by kind, status and error kind",
	}, []string{"kind", "status", "error_kind"})

	jobRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subclip_job_retries_total",
		Help: "Retries scheduled after transient failures",
	}, []string{"kind", "error_kind"})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "subclip_job_duration_seconds",
		Help:    "Wall time from first start to terminal state",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 14), // 0.5s to ~68m
	}, []string{"kind", "status"})

	jobsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "subclip_jobs_running",
		Help: "Jobs currently holding a worker slot",
	})

	jobsQueued = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "subclip_jobs_queued",
		Help: "Jobs waiting for a worker slot",
	})

	engineRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subclip_engine_runs_total",
		Help: "Engine invocations by kind and outcome (succeeded, failed, timed_out)",
	}, []string{"kind", "outcome"})

	engineRunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "subclip_engine_run_duration_seconds",
		Help:    "Duration of single engine invocations",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 14),
	}, []string{"kind"})

	outputBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subclip_output_bytes_total",
		Help: "Bytes published to canonical output paths",
	}, []string{"kind"})
)

// RecordSubmit counts a submission outcome.
func RecordSubmit(kind, outcome string) {
	jobsSubmittedTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordJobFinished counts a terminal job and observes its duration.
func RecordJobFinished(kind, status, errKind string, seconds float64) {
	if errKind == "" {
		errKind = "none"
	}
	jobsFinishedTotal.WithLabelValues(kind, status, errKind).Inc()
	if seconds > 0 {
		jobDuration.WithLabelValues(kind, status).Observe(seconds)
	}
}

// RecordRetry counts a scheduled retry.
func RecordRetry(kind, errKind string) {
	jobRetriesTotal.WithLabelValues(kind, errKind).Inc()
}

// SetJobsRunning sets the running gauge.
func SetJobsRunning(n int) { jobsRunning.Set(float64(n)) }

// SetJobsQueued sets the queue depth gauge.
func SetJobsQueued(n int) { jobsQueued.Set(float64(n)) }

// RecordEngineRun counts one engine invocation.
func RecordEngineRun(kind, outcome string, seconds float64) {
	engineRunsTotal.WithLabelValues(kind, outcome).Inc()
	engineRunDuration.WithLabelValues(kind).Observe(seconds)
}

// AddOutputBytes adds published output volume.
func AddOutputBytes(kind string, n int64) {
	if n > 0 {
		outputBytesTotal.WithLabelValues(kind).Add(float64(n))
	}
}

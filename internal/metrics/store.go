// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobStoreOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subclip_job_store_ops_total",
		Help: "Job state store operations by backend, op and result",
	}, []string{"backend", "op", "result"})

	jobStoreOpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "subclip_job_store_op_duration_seconds",
		Help:    "Job state store operation latency",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10), // 100µs to ~26s
	}, []string{"backend", "op"})
)

// RecordJobStoreOp counts and times one job store call.
func RecordJobStoreOp(backend, op, result string, seconds float64) {
	jobStoreOpsTotal.WithLabelValues(backend, op, result).Inc()
	jobStoreOpDuration.WithLabelValues(backend, op).Observe(seconds)
}

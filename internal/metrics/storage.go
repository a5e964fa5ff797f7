// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "subclip_circuit_breaker_state",
		Help: "Circuit breaker state by component (active state=1, others 0)",
	}, []string{"component", "state"})

	circuitBreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subclip_circuit_breaker_trips_total",
		Help: "Total number of circuit breaker trips (transitions to open state)",
	}, []string{"component", "reason"})

	storageOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subclip_storage_ops_total",
		Help: "Object storage operations by backend, op and result",
	}, []string{"backend", "op", "result"})

	locatorResolveTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subclip_locator_resolve_total",
		Help: "Endpoint resolutions by purpose and source (cache, signed, error)",
	}, []string{"purpose", "source"})

	locatorInvalidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subclip_locator_invalidations_total",
		Help: "Endpoint cache invalidations by reason",
	}, []string{"reason"})

	retentionRemovedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subclip_retention_removed_total",
		Help: "Entries removed by the retention sweeper by category",
	}, []string{"category"})
)

var circuitStates = []string{"closed", "half-open", "open"}

// SetCircuitBreakerState records the active circuit breaker state for a component.
func SetCircuitBreakerState(component, state string) {
	for _, s := range circuitStates {
		value := 0.0
		if s == state {
			value = 1.0
		}
		circuitBreakerState.WithLabelValues(component, s).Set(value)
	}
}

// RecordCircuitBreakerTrip increments the trip counter when a breaker opens.
func RecordCircuitBreakerTrip(component, reason string) {
	circuitBreakerTrips.WithLabelValues(component, reason).Inc()
}

// RecordStorageOp counts an object storage call.
func RecordStorageOp(backend, op, result string) {
	storageOpsTotal.WithLabelValues(backend, op, result).Inc()
}

// RecordLocatorResolve counts a resolution by where it came from.
func RecordLocatorResolve(purpose, source string) {
	locatorResolveTotal.WithLabelValues(purpose, source).Inc()
}

// RecordLocatorInvalidation counts a cache invalidation.
func RecordLocatorInvalidation(reason string) {
	locatorInvalidationsTotal.WithLabelValues(reason).Inc()
}

// AddRetentionRemoved counts sweeper removals.
func AddRetentionRemoved(category string, n int) {
	if n > 0 {
		retentionRemovedTotal.WithLabelValues(category).Add(float64(n))
	}
}

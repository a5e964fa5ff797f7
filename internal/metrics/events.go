// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subclip_events_published_total",
		Help: "Job events handed to a sink, by sink, type and result",
	}, []string{"sink", "type", "result"})

	eventsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subclip_events_dropped_total",
		Help: "Job events a subscriber did not receive, by reason",
	}, []string{"sink", "reason"})
)

// RecordEventPublish counts one publish attempt.
func RecordEventPublish(sink, eventType, result string) {
	eventsPublishedTotal.WithLabelValues(sink, eventType, result).Inc()
}

// IncEventDropped counts an event a subscriber missed.
func IncEventDropped(sink, reason string) {
	eventsDroppedTotal.WithLabelValues(sink, reason).Inc()
}

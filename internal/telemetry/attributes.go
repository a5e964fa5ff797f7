// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by spans and otel metrics.
const (
	JobIDKey      = "job.id"
	JobKindKey    = "job.kind"
	JobModeKey    = "job.mode"
	JobAttemptKey = "job.attempt"
	JobStatusKey  = "job.status"
	AssetIDKey    = "asset.id"

	EngineOutcomeKey  = "engine.outcome"
	EngineTimeoutKey  = "engine.timeout_ms"
	EngineExpectedKey = "engine.expected_sec"

	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// JobAttributes describes one attempt of a job.
func JobAttributes(jobID, kind, mode, assetID string, attempt int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(JobIDKey, jobID),
		attribute.String(JobKindKey, kind),
		attribute.String(AssetIDKey, assetID),
		attribute.Int(JobAttemptKey, attempt),
	}
	if mode != "" {
		attrs = append(attrs, attribute.String(JobModeKey, mode))
	}
	return attrs
}

// EngineAttributes describes the engine invocation of an attempt.
func EngineAttributes(outcome string, timeoutMS int64, expectedSec float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(EngineOutcomeKey, outcome),
		attribute.Int64(EngineTimeoutKey, timeoutMS),
		attribute.Float64(EngineExpectedKey, expectedSec),
	}
}

// ErrorAttributes marks a span as failed with a stable error kind.
func ErrorAttributes(errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}

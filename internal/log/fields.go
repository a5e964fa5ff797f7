// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID     = "request_id"
	FieldCorrelationID = "correlation_id"
	FieldJobID         = "job_id"
	FieldAssetID       = "asset_id"
	FieldClipID        = "clip_id"
	FieldIdemKey       = "idempotency_key"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldKind      = "kind"
	FieldMode      = "mode"
	FieldAttempt   = "attempt"
	FieldPurpose   = "purpose"
	FieldPID       = "pid"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
	FieldErrKind  = "error_kind"

	// Path / URL fields
	FieldPath      = "path"
	FieldWorkDir   = "work_dir"
	FieldFinalPath = "final_path"
	FieldLocator   = "locator"
)

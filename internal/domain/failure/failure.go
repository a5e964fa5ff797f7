// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package failure defines the structured error taxonomy shared by the
// extraction engine. Every error that can reach a job record or an API
// response is (or wraps) an *Error carrying a stable Kind.
package failure

import (
	"context"
	"errors"
	"fmt"
)

// Kind is a stable, machine-readable error class clients can branch on.
type Kind string

const (
	KindInvalidRange       Kind = "invalid_range"
	KindInvalidParameter   Kind = "invalid_parameter"
	KindLocatorRejected    Kind = "locator_rejected"
	KindAssetNotFound      Kind = "asset_not_found"
	KindSourceUnavailable  Kind = "source_unavailable"
	KindStorageUnavailable Kind = "storage_unavailable"
	KindEndpointExpired    Kind = "endpoint_expired"
	KindEngineCrash        Kind = "engine_crash"
	KindExtractionFailed   Kind = "extraction_failed"
	KindTimeout            Kind = "timeout"
	KindCanceled           Kind = "canceled"
	KindOverloaded         Kind = "overloaded"
	KindRetriesExhausted   Kind = "retries_exhausted"
	KindInvalidTransition  Kind = "invalid_transition"
	KindNotFound           Kind = "not_found"
	KindConflict           Kind = "conflict"
	KindInternal           Kind = "internal"
)

// retryable lists the kinds the orchestrator may retry. Everything else is permanent.
var retryable = map[Kind]bool{
	KindStorageUnavailable: true,
	KindEndpointExpired:    true,
	KindEngineCrash:        true,
	KindOverloaded:         true,
}

// Retryable reports whether errors of this kind are transient.
func (k Kind) Retryable() bool { return retryable[k] }

// IsValidation reports whether the kind is rejected synchronously before a job exists.
func (k Kind) IsValidation() bool {
	switch k {
	case KindInvalidRange, KindInvalidParameter, KindLocatorRejected:
		return true
	}
	return false
}

// Error is the structured error record persisted on failed jobs and
// rendered in API responses. Message is safe for end users; raw engine
// diagnostics never go here.
type Error struct {
	Kind      Kind   `json:"kind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	// Cause is the kind of the last underlying error for aggregate kinds
	// such as retries_exhausted.
	Cause Kind `json:"cause,omitempty"`

	err error
}

func (e *Error) Error() string {
	if e.err != nil && e.Message == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.err }

// Is matches any *Error with the same Kind, so errors.Is(err, failure.New(k, ""))
// works as a kind check.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// New creates an error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Retryable: kind.Retryable()}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap attaches a kind and a user-facing message to an underlying error.
// The underlying error stays reachable through errors.Unwrap for logging.
func Wrap(kind Kind, msg string, err error) *Error {
	e := New(kind, msg)
	e.err = err
	return e
}

// From returns err as an *Error, classifying unknown errors. Context
// cancellation maps to canceled and deadline to timeout.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	switch {
	case errors.Is(err, context.Canceled):
		return Wrap(KindCanceled, "operation canceled", err)
	case errors.Is(err, context.DeadlineExceeded):
		return Wrap(KindTimeout, "operation timed out", err)
	}
	return Wrap(KindInternal, "internal error", err)
}

// KindOf returns the kind of err, or "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return From(err).Kind
}

// IsRetryable reports whether err is a transient failure.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return From(err).Retryable
}

// Exhausted wraps the last transient error once the retry bound is spent.
func Exhausted(attempts int, last error) *Error {
	cause := From(last)
	e := Newf(KindRetriesExhausted, "extraction failed after %d attempts", attempts)
	e.Retryable = false
	e.Cause = cause.Kind
	e.err = last
	return e
}

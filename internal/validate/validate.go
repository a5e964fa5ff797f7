// SPDX-License-Identifier: MIT

// Package validate holds two kinds of checks: Report accumulates
// configuration errors for fail-fast startup, and Validator turns untrusted
// request values into opaque types the ffmpeg builder can consume.
package validate

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// Error is one failed configuration check.
type Error struct {
	Field   string
	Value   any
	Message string
}

func (e Error) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

// Report accumulates configuration errors.
type Report struct {
	errors []Error
}

// ReportError bundles every failed check of a Report.
type ReportError struct {
	errors []Error
}

// NewReport returns an empty report.
func NewReport() *Report {
	return &Report{errors: make([]Error, 0)}
}

// AddError records a failed check.
func (r *Report) AddError(field, message string, value any) {
	r.errors = append(r.errors, Error{Field: field, Value: value, Message: message})
}

// IsValid returns true if nothing failed.
func (r *Report) IsValid() bool { return len(r.errors) == 0 }

// Errors returns the accumulated errors.
func (r *Report) Errors() []Error { return r.errors }

// Err returns nil or a ReportError holding a copy of the errors.
func (r *Report) Err() error {
	if len(r.errors) == 0 {
		return nil
	}
	return ReportError{errors: slices.Clone(r.errors)}
}

// Errors returns the individual failures.
func (e ReportError) Errors() []Error { return e.errors }

func (e ReportError) Error() string {
	msgs := make([]string, len(e.errors))
	for i, err := range e.errors {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// URL checks syntax, host and scheme.
func (r *Report) URL(field, value string, allowedSchemes []string) {
	if value == "" {
		r.AddError(field, "URL cannot be empty", value)
		return
	}
	u, err := url.Parse(value)
	if err != nil {
		r.AddError(field, fmt.Sprintf("invalid URL: %v", err), value)
		return
	}
	if u.Host == "" {
		r.AddError(field, "URL must have a host", value)
		return
	}
	if len(allowedSchemes) > 0 && !slices.Contains(allowedSchemes, u.Scheme) {
		r.AddError(field, fmt.Sprintf("unsupported URL scheme %q (allowed: %v)", u.Scheme, allowedSchemes), value)
	}
}

// ListenAddr checks a host:port listen address.
func (r *Report) ListenAddr(field, value string) {
	if value == "" {
		r.AddError(field, "listen address cannot be empty", value)
		return
	}
	if !strings.Contains(value, ":") {
		r.AddError(field, "listen address must be host:port", value)
	}
}

// IntRange checks min <= value <= max.
func (r *Report) IntRange(field string, value, minVal, maxVal int) {
	if value < minVal || value > maxVal {
		r.AddError(field, fmt.Sprintf("value must be between %d and %d, got %d", minVal, maxVal, value), value)
	}
}

// Positive checks value > 0.
func (r *Report) Positive(field string, value int) {
	if value <= 0 {
		r.AddError(field, fmt.Sprintf("value must be positive, got %d", value), value)
	}
}

// PositiveDuration checks d > 0.
func (r *Report) PositiveDuration(field string, d time.Duration) {
	if d <= 0 {
		r.AddError(field, fmt.Sprintf("duration must be positive, got %s", d), d)
	}
}

// NotEmpty rejects empty or whitespace-only strings.
func (r *Report) NotEmpty(field, value string) {
	if strings.TrimSpace(value) == "" {
		r.AddError(field, "value cannot be empty", value)
	}
}

// OneOf checks value against an allow list.
func (r *Report) OneOf(field, value string, allowed []string) {
	if !slices.Contains(allowed, value) {
		r.AddError(field, fmt.Sprintf("value must be one of %v, got %q", allowed, value), value)
	}
}

// Directory checks that path is a directory, creating it unless mustExist.
func (r *Report) Directory(field, path string, mustExist bool) {
	if path == "" {
		r.AddError(field, "directory path cannot be empty", path)
		return
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		r.AddError(field, fmt.Sprintf("invalid path: %v", err), path)
		return
	}
	info, err := os.Stat(absPath)
	if err != nil {
		if !os.IsNotExist(err) {
			r.AddError(field, fmt.Sprintf("cannot access directory: %v", err), path)
			return
		}
		if mustExist {
			r.AddError(field, "directory does not exist", path)
			return
		}
		if err := os.MkdirAll(absPath, 0o750); err != nil {
			r.AddError(field, fmt.Sprintf("cannot create directory: %v", err), path)
		}
		return
	}
	if !info.IsDir() {
		r.AddError(field, "path is not a directory", path)
	}
}

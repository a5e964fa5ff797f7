// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ManuGH/subclip/internal/domain/failure"
	"github.com/ManuGH/subclip/internal/log"
	"github.com/ManuGH/subclip/internal/orchestrator"
	"github.com/ManuGH/subclip/internal/validate"
)

const problemBase = "https://subclip.dev/problems/"

// fieldError names one rejected input.
type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// statusFor maps failure kinds to HTTP status codes.
func statusFor(k failure.Kind) int {
	switch {
	case k.IsValidation():
		return http.StatusBadRequest
	}
	switch k {
	case failure.KindAssetNotFound, failure.KindNotFound:
		return http.StatusNotFound
	case failure.KindSourceUnavailable:
		return http.StatusUnprocessableEntity
	case failure.KindConflict, failure.KindInvalidTransition:
		return http.StatusConflict
	case failure.KindOverloaded, failure.KindStorageUnavailable:
		return http.StatusServiceUnavailable
	case failure.KindTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// writeProblem writes an RFC 7807 problem document. code is the failure
// kind, so clients branch on it instead of parsing detail.
func writeProblem(w http.ResponseWriter, r *http.Request, status int, code, detail string, extra map[string]any) {
	reqID := log.RequestIDFromContext(r.Context())
	res := map[string]any{
		"type":   problemBase + code,
		"title":  http.StatusText(status),
		"status": status,
		"code":   code,
	}
	if detail != "" {
		res["detail"] = detail
	}
	if inst := r.URL.EscapedPath(); inst != "" {
		res["instance"] = inst
	}
	if reqID != "" {
		res["request_id"] = reqID
	}
	for k, v := range extra {
		switch k {
		case "type", "title", "status", "detail", "instance", "code":
			continue
		}
		res[k] = v
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		log.FromContext(r.Context()).Error().Err(err).Str(log.FieldEvent, "problem.encode_failed").Msg("failed to encode problem response")
	}
}

// writeError renders any error. Internal causes are logged, never sent.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var oe *orchestrator.OverloadedError
	if errors.As(err, &oe) {
		secs := max(1, int((oe.RetryAfter+time.Second-1)/time.Second))
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	if errors.Is(err, orchestrator.ErrClosed) {
		w.Header().Set("Retry-After", "5")
		writeProblem(w, r, http.StatusServiceUnavailable, "unavailable", "service is shutting down", nil)
		return
	}

	var extra map[string]any
	var re validate.ReportError
	if errors.As(err, &re) {
		errs := make([]fieldError, 0, len(re.Errors()))
		for _, e := range re.Errors() {
			errs = append(errs, fieldError{Field: e.Field, Message: e.Message})
		}
		extra = map[string]any{"errors": errs}
		writeProblem(w, r, http.StatusBadRequest, string(failure.KindInvalidParameter), "request failed validation", extra)
		return
	}

	fe := failure.From(err)
	status := statusFor(fe.Kind)
	detail := fe.Message
	if status >= 500 && fe.Kind == failure.KindInternal {
		log.FromContext(r.Context()).Error().Err(err).Str(log.FieldEvent, "request.internal_error").Msg("request failed")
		detail = "internal error"
	}
	extra = map[string]any{"retryable": fe.Retryable}
	writeProblem(w, r, status, string(fe.Kind), detail, extra)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

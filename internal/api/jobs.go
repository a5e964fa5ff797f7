// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/subclip/internal/domain/failure"
	"github.com/ManuGH/subclip/internal/domain/job"
	"github.com/ManuGH/subclip/internal/log"
	"github.com/ManuGH/subclip/internal/timecode"
)

const maxBodyBytes = 64 << 10

// seconds decodes a JSON number of seconds or a timecode string.
type seconds struct {
	value float64
	set   bool
}

func (s *seconds) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var tc string
		if err := json.Unmarshal(b, &tc); err != nil {
			return err
		}
		v, err := timecode.Parse(tc)
		if err != nil {
			return err
		}
		s.value, s.set = v, true
		return nil
	}
	if err := json.Unmarshal(b, &s.value); err != nil {
		return failure.New(failure.KindInvalidParameter, "seconds must be a number or a timecode")
	}
	s.set = true
	return nil
}

type submitRequest struct {
	Kind       job.Kind `json:"kind"`
	AssetID    string   `json:"asset_id"`
	StartSec   seconds  `json:"start_sec"`
	EndSec     seconds  `json:"end_sec"`
	PaddingSec float64  `json:"padding_sec"`
	Mode       job.Mode `json:"mode"`
}

type submitResponse struct {
	JobID              string     `json:"job_id"`
	Status             job.Status `json:"status"`
	Attached           bool       `json:"attached"`
	EstimatedSizeBytes int64      `json:"estimated_size_bytes,omitempty"`
}

type jobError struct {
	Kind      failure.Kind `json:"kind"`
	Message   string       `json:"message"`
	Retryable bool         `json:"retryable"`
	Cause     failure.Kind `json:"cause,omitempty"`
}

type jobResponse struct {
	JobID           string     `json:"job_id"`
	Kind            job.Kind   `json:"kind"`
	AssetID         string     `json:"asset_id"`
	Status          job.Status `json:"status"`
	Attempt         int        `json:"attempt"`
	ProgressPercent float64    `json:"progress_percent"`
	ResultLocator   string     `json:"result_locator,omitempty"`
	Error           *jobError  `json:"error,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func toJobResponse(j *job.Job) jobResponse {
	resp := jobResponse{
		JobID:           j.ID,
		Kind:            j.Kind,
		AssetID:         j.AssetID,
		Status:          j.Status,
		Attempt:         j.Attempt,
		ProgressPercent: j.ProgressPercent,
		ResultLocator:   j.ResultLocator,
		CreatedAt:       j.CreatedAt,
		UpdatedAt:       j.UpdatedAt,
	}
	if j.Error != nil {
		resp.Error = &jobError{Kind: j.Error.Kind, Message: j.Error.Message, Retryable: j.Error.Retryable, Cause: j.Error.Cause}
	}
	return resp
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if fe := failure.From(err); fe.Kind != failure.KindInternal {
			return fe
		}
		return failure.Wrap(failure.KindInvalidParameter, "malformed JSON body", err)
	}
	return nil
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ctx := log.ContextWithAssetID(r.Context(), req.AssetID)
	if req.Kind == job.KindSubclip && (!req.StartSec.set || !req.EndSec.set) {
		writeError(w, r, failure.New(failure.KindInvalidRange, "subclip jobs need start_sec and end_sec"))
		return
	}

	h, err := s.deps.Engine.Submit(ctx, req.Kind, req.AssetID, job.Params{
		StartSec:   req.StartSec.value,
		EndSec:     req.EndSec.value,
		PaddingSec: req.PaddingSec,
		Mode:       req.Mode,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusAccepted
	if h.Attached {
		status = http.StatusOK
	}
	writeJSON(w, status, submitResponse{
		JobID:              h.JobID,
		Status:             h.Job.Status,
		Attached:           h.Attached,
		EstimatedSizeBytes: h.EstimatedSizeBytes,
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	j, err := s.deps.Engine.Get(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(j))
}

// handleCancelJob is best effort: a job that finished meanwhile is
// returned unchanged with 202.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "job_id")
	j, err := s.deps.Engine.Cancel(log.ContextWithJobID(r.Context(), id), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toJobResponse(j))
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package job

import (
	"fmt"
	"time"

	"github.com/ManuGH/subclip/internal/domain/failure"
)

// Transition is a single allowed edge in the job lifecycle.
type Transition struct {
	From Status
	To   Status
}

var transitionsTable = []Transition{
	{From: StatusQueued, To: StatusRunning},
	{From: StatusQueued, To: StatusFailed}, // canceled while queued
	{From: StatusRunning, To: StatusSucceeded},
	{From: StatusRunning, To: StatusFailed},
	{From: StatusRunning, To: StatusQueued}, // retry scheduled
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, tr := range transitionsTable {
		if tr.From == from && tr.To == to {
			return true
		}
	}
	return false
}

// InvalidTransitionError is returned for any edge not in the table,
// including every attempt to leave a terminal state.
type InvalidTransitionError struct {
	JobID string
	From  Status
	To    Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("job %s: invalid transition %s -> %s", e.JobID, e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error {
	return failure.Newf(failure.KindInvalidTransition, "invalid transition %s -> %s", e.From, e.To)
}

// Apply validates and applies a transition to j in place. Stores call it
// inside their own atomic section.
func Apply(j *Job, to Status, u Update) error {
	if !CanTransition(j.Status, to) {
		return &InvalidTransitionError{JobID: j.ID, From: j.Status, To: to}
	}
	now := u.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	switch to {
	case StatusRunning:
		// progress carries over from earlier attempts and only rises
		j.Attempt++
		j.Error = nil
		if j.StartedAt == nil {
			t := now
			j.StartedAt = &t
		}
	case StatusQueued:
		// retry: keep the last transient error visible until the next attempt starts
		j.Error = u.Err
	case StatusSucceeded:
		j.ResultLocator = u.ResultLocator
		j.ProgressPercent = 100
		j.Error = nil
	case StatusFailed:
		j.Error = u.Err
		if j.Error == nil {
			j.Error = failure.New(failure.KindInternal, "job failed")
		}
	}
	if to.IsTerminal() {
		t := now
		j.FinishedAt = &t
	}
	j.Status = to
	j.UpdatedAt = now
	return nil
}

// ApplyProgress raises the progress of a running job. Lower values and
// jobs that are not running are ignored, so a late report from a finished
// attempt cannot move a queued or terminal job.
func ApplyProgress(j *Job, percent float64, now time.Time) bool {
	if j.Status != StatusRunning {
		return false
	}
	if percent > 100 {
		percent = 100
	}
	if percent <= j.ProgressPercent {
		return false
	}
	j.ProgressPercent = percent
	j.UpdatedAt = now
	return true
}

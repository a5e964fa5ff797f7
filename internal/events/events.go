// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package events publishes job lifecycle events to in-process subscribers
// and, optionally, to an AMQP exchange.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/ManuGH/subclip/internal/domain/failure"
	"github.com/ManuGH/subclip/internal/domain/job"
)

// Type names an event. It doubles as the AMQP routing key suffix.
type Type string

const (
	TypeJobSucceeded Type = "job.succeeded"
	TypeJobFailed    Type = "job.failed"
)

// Event is a terminal job notification.
type Event struct {
	Type          Type           `json:"type"`
	JobID         string         `json:"job_id"`
	Kind          job.Kind       `json:"kind"`
	AssetID       string         `json:"asset_id"`
	Status        job.Status     `json:"status"`
	Attempt       int            `json:"attempt"`
	ResultLocator string         `json:"result_locator,omitempty"`
	Error         *failure.Error `json:"error,omitempty"`
	At            time.Time      `json:"at"`
}

// FromJob builds the terminal event of j. ok is false for live jobs.
func FromJob(j *job.Job) (Event, bool) {
	var t Type
	switch j.Status {
	case job.StatusSucceeded:
		t = TypeJobSucceeded
	case job.StatusFailed:
		t = TypeJobFailed
	default:
		return Event{}, false
	}
	at := j.UpdatedAt
	if j.FinishedAt != nil {
		at = *j.FinishedAt
	}
	return Event{
		Type:          t,
		JobID:         j.ID,
		Kind:          j.Kind,
		AssetID:       j.AssetID,
		Status:        j.Status,
		Attempt:       j.Attempt,
		ResultLocator: j.ResultLocator,
		Error:         j.Error,
		At:            at,
	}, true
}

// Publisher delivers events. Publish must not block past ctx.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Multi fans an event out to several publishers and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		errs = append(errs, p.Close())
	}
	return errors.Join(errs...)
}

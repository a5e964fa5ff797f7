// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/ManuGH/subclip/internal/domain/asset"
	"github.com/ManuGH/subclip/internal/domain/failure"
	"github.com/ManuGH/subclip/internal/domain/job"
	"github.com/ManuGH/subclip/internal/log"
)

// Start resumes every persisted live job. Jobs found running were
// interrupted by a crash or restart; they go back to queued and keep their
// attempt count. A job whose interrupted attempt was its last is failed as
// exhausted instead of being run again.
func (o *Orchestrator) Start(ctx context.Context) error {
	active, err := o.jobs.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active jobs: %w", err)
	}
	logger := log.WithComponentFromContext(ctx, "orchestrator")

	resumed, exhausted := 0, 0
	for _, j := range active {
		if j.Attempt >= o.cfg.MaxAttempts {
			cause := failure.New(failure.KindEngineCrash, "attempt interrupted by restart")
			o.fail(ctx, j, failure.Exhausted(j.Attempt, cause))
			exhausted++
			continue
		}
		if j.Status == job.StatusRunning {
			requeued, err := o.jobs.Transition(ctx, j.ID, job.StatusQueued, job.Update{Now: o.now().UTC()})
			if err != nil {
				var te *job.InvalidTransitionError
				if errors.As(err, &te) {
					continue
				}
				return fmt.Errorf("requeue job %s: %w", j.ID, err)
			}
			j = requeued
		}
		if j.Kind == job.KindProxy {
			o.setProxy(ctx, j.AssetID, asset.ProxyPending, "")
		}
		if !o.schedule(j) {
			break
		}
		resumed++
		logger.Info().
			Str(log.FieldEvent, "job.recovered").
			Str(log.FieldJobID, j.ID).
			Str(log.FieldKind, string(j.Kind)).
			Int(log.FieldAttempt, j.Attempt).
			Msg("resuming job")
	}
	logger.Info().Str(log.FieldEvent, "orchestrator.started").Int("resumed", resumed).Int("exhausted", exhausted).Int("slots", o.cfg.Slots).Msg("orchestrator started")
	return nil
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/subclip/internal/domain/asset"
	"github.com/ManuGH/subclip/internal/domain/failure"
	"github.com/ManuGH/subclip/internal/domain/job"
	"github.com/ManuGH/subclip/internal/extract"
	"github.com/ManuGH/subclip/internal/locator"
	"github.com/ManuGH/subclip/internal/log"
	"github.com/ManuGH/subclip/internal/metadata"
	"github.com/ManuGH/subclip/internal/metrics"
	"github.com/ManuGH/subclip/internal/telemetry"
	"github.com/ManuGH/subclip/internal/timecode"
)

// schedule starts the driver goroutine of a queued job. It returns false
// once shutdown has begun.
func (o *Orchestrator) schedule(j *job.Job) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closing {
		return false
	}
	if _, ok := o.runs[j.ID]; ok {
		return true
	}
	ctx, cancel := context.WithCancel(o.baseCtx)
	r := &run{id: j.ID, cancel: cancel, done: make(chan struct{})}
	o.runs[j.ID] = r
	o.keys[j.IdempotencyKey] = j.ID
	o.queued++
	o.publishGauges()
	o.wg.Add(1)
	go o.drive(ctx, r, j)
	return true
}

// publishGauges must be called with o.mu held.
func (o *Orchestrator) publishGauges() {
	metrics.SetJobsQueued(o.queued)
	metrics.SetJobsRunning(o.running)
}

func (o *Orchestrator) adjust(dq, dr int) {
	o.mu.Lock()
	o.queued += dq
	o.running += dr
	o.publishGauges()
	o.mu.Unlock()
}

func (o *Orchestrator) userCanceled(r *run) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return r.canceled
}

func (o *Orchestrator) jobLogger(ctx context.Context, j *job.Job) zerolog.Logger {
	return log.WithContext(ctx, log.WithComponent("orchestrator")).With().
		Str(log.FieldJobID, j.ID).
		Str(log.FieldKind, string(j.Kind)).
		Str(log.FieldAssetID, j.AssetID).
		Logger()
}

// drive owns one job until it is terminal or shutdown interrupts it.
func (o *Orchestrator) drive(ctx context.Context, r *run, j *job.Job) {
	defer func() {
		r.cancel()
		o.mu.Lock()
		delete(o.runs, r.id)
		if o.keys[j.IdempotencyKey] == r.id {
			delete(o.keys, j.IdempotencyKey)
		}
		delete(o.proxyPrior, r.id)
		o.mu.Unlock()
		close(r.done)
		o.wg.Done()
	}()
	ctx = log.ContextWithAssetID(log.ContextWithJobID(ctx, j.ID), j.AssetID)
	logger := o.jobLogger(ctx, j)

	for {
		if err := o.sem.Acquire(ctx, 1); err != nil {
			o.adjust(-1, 0)
			o.interruptedWhileQueued(ctx, r, j)
			return
		}
		o.adjust(-1, 1)

		started, err := o.jobs.Transition(ctx, j.ID, job.StatusRunning, job.Update{Now: o.now().UTC()})
		if err != nil {
			o.sem.Release(1)
			o.adjust(0, -1)
			var te *job.InvalidTransitionError
			if errors.As(err, &te) {
				// canceled through another process
				logger.Info().Str(log.FieldEvent, "job.skipped").Str(log.FieldOldState, string(te.From)).Msg("job no longer queued")
			} else if ctx.Err() != nil {
				o.interruptedWhileQueued(ctx, r, j)
			} else {
				o.fail(ctx, j, failure.Wrap(failure.KindInternal, "job state could not be stored", err))
			}
			return
		}
		j = started
		logger.Info().
			Str(log.FieldEvent, "job.running").
			Int(log.FieldAttempt, j.Attempt).
			Msg("attempt started")

		res, ferr := o.attempt(ctx, j)
		o.sem.Release(1)
		o.adjust(0, -1)

		if ferr == nil {
			o.succeed(ctx, j, res)
			return
		}

		if ctx.Err() != nil {
			if o.userCanceled(r) {
				o.fail(ctx, j, failure.New(failure.KindCanceled, "job canceled"))
				return
			}
			o.requeueForRecovery(ctx, j)
			return
		}

		if ferr.Retryable && j.Attempt < o.cfg.MaxAttempts {
			if ferr.Kind == failure.KindEndpointExpired {
				o.resolver.InvalidatePurpose(ctx, j.AssetID, sourcePurpose(j.Kind))
			}
			requeued, err := o.jobs.Transition(ctx, j.ID, job.StatusQueued, job.Update{Err: ferr, Now: o.now().UTC()})
			if err != nil {
				o.fail(ctx, j, ferr)
				return
			}
			j = requeued
			o.adjust(1, 0)
			metrics.RecordRetry(string(j.Kind), string(ferr.Kind))
			delay := o.cfg.Backoff(j.Attempt)
			logger.Warn().
				Str(log.FieldEvent, "job.retry_scheduled").
				Str(log.FieldErrKind, string(ferr.Kind)).
				Int(log.FieldAttempt, j.Attempt).
				Dur("backoff", delay).
				Msg("transient failure, retrying")
			if err := o.sleep(ctx, delay); err != nil {
				o.adjust(-1, 0)
				o.interruptedWhileQueued(ctx, r, j)
				return
			}
			continue
		}

		if ferr.Retryable {
			ferr = failure.Exhausted(j.Attempt, ferr)
		}
		o.fail(ctx, j, ferr)
		return
	}
}

// interruptedWhileQueued handles a queued job whose context ended. A user
// cancel fails it; shutdown leaves it queued for recovery.
func (o *Orchestrator) interruptedWhileQueued(ctx context.Context, r *run, j *job.Job) {
	if o.userCanceled(r) {
		o.fail(ctx, j, failure.New(failure.KindCanceled, "job canceled"))
		return
	}
	logger := o.jobLogger(ctx, j)
	logger.Info().Str(log.FieldEvent, "job.suspended").Msg("left queued for recovery")
}

func (o *Orchestrator) requeueForRecovery(ctx context.Context, j *job.Job) {
	logger := o.jobLogger(ctx, j)
	fctx := context.WithoutCancel(ctx)
	if _, err := o.jobs.Transition(fctx, j.ID, job.StatusQueued, job.Update{Now: o.now().UTC()}); err != nil {
		logger.Error().Err(err).Str(log.FieldEvent, "job.suspend_failed").Msg("interrupted job not requeued")
		return
	}
	logger.Info().Str(log.FieldEvent, "job.suspended").Int(log.FieldAttempt, j.Attempt).Msg("interrupted attempt requeued for recovery")
}

func sourcePurpose(k job.Kind) locator.Purpose {
	if k == job.KindProxy {
		return locator.PurposeProxySource
	}
	return locator.PurposeSubclipSource
}

// attempt resolves a fresh endpoint and runs the extractor once.
func (o *Orchestrator) attempt(ctx context.Context, j *job.Job) (extract.Result, *failure.Error) {
	a, err := o.meta.GetAsset(ctx, j.AssetID)
	if errors.Is(err, metadata.ErrNotFound) {
		return extract.Result{}, failure.Newf(failure.KindAssetNotFound, "asset %s not found", j.AssetID)
	}
	if err != nil {
		return extract.Result{}, failure.Wrap(failure.KindStorageUnavailable, "asset lookup failed", err)
	}

	ep, err := o.resolver.Resolve(ctx, a, sourcePurpose(j.Kind))
	if err != nil {
		return extract.Result{}, failure.From(err)
	}
	endpoint, err := o.validator.Endpoint(ep.URL)
	if err != nil {
		return extract.Result{}, failure.From(err)
	}

	req := extract.Request{Job: j, Asset: a, Endpoint: endpoint}
	expected := a.DurationSec
	if j.Kind == job.KindSubclip {
		start, end, err := timecode.EffectiveRange(j.Params.StartSec, j.Params.EndSec, j.Params.PaddingSec, a.DurationSec)
		if err != nil {
			return extract.Result{}, failure.From(err)
		}
		if req.Range, err = o.validator.Range(a, start, end); err != nil {
			return extract.Result{}, failure.From(err)
		}
		req.Mode = j.Params.Mode
		expected = req.Range.Duration()
	} else {
		o.setProxy(ctx, j.AssetID, asset.ProxyRunning, "")
	}

	ctx, span := o.tracer.Start(ctx, "subclip.job.attempt",
		trace.WithAttributes(telemetry.JobAttributes(j.ID, string(j.Kind), string(req.Mode), j.AssetID, j.Attempt)...))
	defer span.End()
	o.runsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(j.Kind)),
		attribute.String("mode", string(req.Mode)),
	))

	progressCtx := context.WithoutCancel(ctx)
	res, err := o.extractor.Run(ctx, req, func(pct float64) {
		if perr := o.jobs.UpdateProgress(progressCtx, j.ID, pct); perr != nil {
			log.FromContext(ctx).Debug().Err(perr).Str(log.FieldJobID, j.ID).Msg("progress not stored")
		}
	})

	var timeoutMS int64
	if t, ok := o.extractor.(interface{ Timeout(float64) time.Duration }); ok {
		timeoutMS = t.Timeout(expected).Milliseconds()
	}
	span.SetAttributes(telemetry.EngineAttributes(string(res.Outcome), timeoutMS, expected)...)
	if err != nil {
		f := failure.From(err)
		span.SetAttributes(telemetry.ErrorAttributes(string(f.Kind))...)
		span.SetStatus(codes.Error, f.Message)
		return res, f
	}
	span.SetStatus(codes.Ok, "")
	return res, nil
}

func (o *Orchestrator) succeed(ctx context.Context, j *job.Job, res extract.Result) {
	fctx := context.WithoutCancel(ctx)
	logger := o.jobLogger(ctx, j)
	done, err := o.jobs.Transition(fctx, j.ID, job.StatusSucceeded, job.Update{ResultLocator: res.ResultLocator, Now: o.now().UTC()})
	if err != nil {
		logger.Error().Err(err).Str(log.FieldEvent, "job.finalize_failed").Msg("success not recorded")
		return
	}

	switch j.Kind {
	case job.KindProxy:
		o.setProxy(fctx, j.AssetID, asset.ProxyReady, res.ResultLocator)
	case job.KindSubclip:
		o.recordClip(fctx, done, res)
	}

	metrics.AddOutputBytes(string(j.Kind), res.SizeBytes)
	metrics.RecordJobFinished(string(j.Kind), string(job.StatusSucceeded), "", done.UpdatedAt.Sub(done.CreatedAt).Seconds())
	logger.Info().
		Str(log.FieldEvent, "job.succeeded").
		Int(log.FieldAttempt, done.Attempt).
		Str(log.FieldLocator, res.ResultLocator).
		Int64("size_bytes", res.SizeBytes).
		Bool("reused", res.Reused).
		Msg("job succeeded")
	o.publish(fctx, done)
}

// ClipID is stable per idempotency key so repeated identical subclips
// resolve to one clip record.
func ClipID(key string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("subclip:"+key)).String()
}

func (o *Orchestrator) recordClip(ctx context.Context, j *job.Job, res extract.Result) {
	c := asset.Clip{
		ID:            ClipID(j.IdempotencyKey),
		AssetID:       j.AssetID,
		JobID:         j.ID,
		StartSec:      j.Params.StartSec,
		EndSec:        j.Params.EndSec,
		PaddingSec:    j.Params.PaddingSec,
		OutputLocator: res.ResultLocator,
		SizeBytes:     res.SizeBytes,
		DurationSec:   res.DurationSec,
		CreatedAt:     o.now().UTC(),
	}
	if prev, err := o.meta.GetClip(ctx, c.ID); err == nil {
		c.CreatedAt = prev.CreatedAt
	}
	if err := o.meta.UpsertClip(ctx, c); err != nil {
		log.FromContext(ctx).Error().Err(err).
			Str(log.FieldEvent, "clip.record_failed").
			Str(log.FieldJobID, j.ID).
			Str(log.FieldClipID, c.ID).
			Msg("clip not recorded")
	}
}

func (o *Orchestrator) fail(ctx context.Context, j *job.Job, ferr *failure.Error) {
	fctx := context.WithoutCancel(ctx)
	logger := o.jobLogger(ctx, j)
	done, err := o.jobs.Transition(fctx, j.ID, job.StatusFailed, job.Update{Err: ferr, Now: o.now().UTC()})
	if err != nil {
		logger.Error().Err(err).Str(log.FieldEvent, "job.finalize_failed").Msg("failure not recorded")
		return
	}
	if j.Kind == job.KindProxy {
		// a job that never started leaves the asset as it found it
		if prior, ok := o.takeProxyPrior(j.ID); ok && done.Attempt == 0 {
			o.setProxy(fctx, j.AssetID, prior.state, prior.locator)
		} else {
			o.setProxy(fctx, j.AssetID, asset.ProxyFailed, "")
		}
	}
	metrics.RecordJobFinished(string(j.Kind), string(job.StatusFailed), string(ferr.Kind), done.UpdatedAt.Sub(done.CreatedAt).Seconds())
	ev := logger.Warn()
	if ferr.Kind == failure.KindCanceled {
		ev = logger.Info()
	}
	ev.Str(log.FieldEvent, "job.failed").
		Str(log.FieldErrKind, string(ferr.Kind)).
		Int(log.FieldAttempt, done.Attempt).
		Msg(ferr.Message)
	o.publish(fctx, done)
}

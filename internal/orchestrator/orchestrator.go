// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package orchestrator accepts extraction submissions, deduplicates them,
// and drives each job through bounded, retried engine attempts.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/ManuGH/subclip/internal/domain/asset"
	"github.com/ManuGH/subclip/internal/domain/failure"
	"github.com/ManuGH/subclip/internal/domain/job"
	"github.com/ManuGH/subclip/internal/domain/job/store"
	"github.com/ManuGH/subclip/internal/events"
	"github.com/ManuGH/subclip/internal/extract"
	"github.com/ManuGH/subclip/internal/locator"
	"github.com/ManuGH/subclip/internal/log"
	"github.com/ManuGH/subclip/internal/metadata"
	"github.com/ManuGH/subclip/internal/metrics"
	"github.com/ManuGH/subclip/internal/telemetry"
	"github.com/ManuGH/subclip/internal/timecode"
	"github.com/ManuGH/subclip/internal/validate"
)

// ErrAwaitTimeout is returned by Await when the job is still live at the
// deadline. The job keeps running.
var ErrAwaitTimeout = errors.New("await timed out")

// ErrClosed is returned by Submit after Shutdown.
var ErrClosed = errors.New("orchestrator is shut down")

// OverloadedError rejects a submission because too many jobs are waiting
// for a worker slot. No job was created.
type OverloadedError struct {
	Queued     int
	RetryAfter time.Duration
}

func (e *OverloadedError) Error() string {
	return fmt.Sprintf("overloaded: %d jobs queued", e.Queued)
}

func (e *OverloadedError) Unwrap() error {
	return failure.New(failure.KindOverloaded, "too many jobs queued, retry later")
}

// Extractor runs one attempt. *extract.Invoker implements it.
type Extractor interface {
	Run(ctx context.Context, req extract.Request, progress extract.ProgressFunc) (extract.Result, error)
}

// Resolver signs source endpoints. *locator.Locator implements it.
type Resolver interface {
	Resolve(ctx context.Context, a asset.Asset, p locator.Purpose) (locator.TimedEndpoint, error)
	InvalidatePurpose(ctx context.Context, assetID string, p locator.Purpose)
}

// Config bounds concurrency and retries.
type Config struct {
	// Slots is the number of concurrent engine processes.
	Slots int
	// MaxQueued caps jobs waiting for a slot; further new submissions are
	// rejected as overloaded.
	MaxQueued   int
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

func (c *Config) defaults() {
	if c.Slots <= 0 {
		c.Slots = 5
	}
	if c.MaxQueued <= 0 {
		c.MaxQueued = 100
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 30 * time.Second
	}
}

// Backoff returns the delay before the retry that follows attempt n
// (1-based): base × 2^(n-1), capped.
func (c Config) Backoff(n int) time.Duration {
	d := c.BackoffBase
	for i := 1; i < n && d < c.BackoffMax; i++ {
		d *= 2
	}
	return min(d, c.BackoffMax)
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Jobs      store.Store
	Metadata  metadata.Store
	Resolver  Resolver
	Validator *validate.Validator
	Extractor Extractor
	// Events receives terminal job events. Nil discards them.
	Events events.Publisher
	// Tracer and Meter default to the global otel providers.
	Tracer trace.Tracer
	Meter  metric.Meter
}

// Handle is the result of a submission.
type Handle struct {
	JobID string
	// Attached is true when an identical live job already existed.
	Attached bool
	Job      *job.Job
	// EstimatedSizeBytes is the expected subclip size from the asset
	// bitrate, or zero when unknown.
	EstimatedSizeBytes int64
}

// Result is the terminal snapshot returned by Await.
type Result struct {
	Job           *job.Job
	ResultLocator string
	Err           *failure.Error
}

// proxyFields is the proxy state of an asset before a proxy job touched it.
type proxyFields struct {
	state   asset.ProxyState
	locator string
}

type run struct {
	id       string
	cancel   context.CancelFunc
	done     chan struct{}
	canceled bool // by the user, not by shutdown
}

// Orchestrator is safe for concurrent use.
type Orchestrator struct {
	cfg       Config
	jobs      store.Store
	meta      metadata.Store
	resolver  Resolver
	validator *validate.Validator
	extractor Extractor
	events    events.Publisher
	tracer    trace.Tracer
	runsTotal metric.Int64Counter

	sem *semaphore.Weighted

	baseCtx context.Context
	stopAll context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	runs    map[string]*run
	keys    map[string]string // idempotency key -> live job id
	// proxy state to restore when a proxy job is canceled before it starts
	proxyPrior map[string]proxyFields
	queued     int
	reserved   int
	running    int
	closing    bool

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New wires an orchestrator. Call Start to recover persisted jobs.
func New(cfg Config, d Deps) (*Orchestrator, error) {
	cfg.defaults()
	if d.Jobs == nil || d.Metadata == nil || d.Resolver == nil || d.Validator == nil || d.Extractor == nil {
		return nil, errors.New("orchestrator: missing dependency")
	}
	if d.Events == nil {
		d.Events = events.Nop{}
	}
	if d.Tracer == nil {
		d.Tracer = telemetry.Tracer("github.com/ManuGH/subclip/orchestrator")
	}
	if d.Meter == nil {
		d.Meter = telemetry.Meter("github.com/ManuGH/subclip/orchestrator")
	}
	counter, err := d.Meter.Int64Counter("subclip.engine.invocations",
		metric.WithDescription("Engine invocations by job kind and mode"))
	if err != nil {
		return nil, fmt.Errorf("orchestrator: create counter: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:        cfg,
		jobs:       d.Jobs,
		meta:       d.Metadata,
		resolver:   d.Resolver,
		validator:  d.Validator,
		extractor:  d.Extractor,
		events:     d.Events,
		tracer:     d.Tracer,
		runsTotal:  counter,
		sem:        semaphore.NewWeighted(int64(cfg.Slots)),
		baseCtx:    ctx,
		stopAll:    cancel,
		runs:       make(map[string]*run),
		keys:       make(map[string]string),
		proxyPrior: make(map[string]proxyFields),
		now:        time.Now,
		sleep:      sleepCtx,
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config { return o.cfg }

type submission struct {
	params job.Params
	asset  asset.Asset
	window validate.Range
}

// validateSubmission runs every synchronous check. Nothing is created when
// it fails.
func (o *Orchestrator) validateSubmission(ctx context.Context, kind job.Kind, assetID string, p job.Params) (submission, error) {
	if !kind.Valid() {
		return submission{}, failure.Newf(failure.KindInvalidParameter, "unknown job kind %q", kind)
	}
	if assetID == "" {
		return submission{}, failure.New(failure.KindInvalidParameter, "asset_id is required")
	}
	a, err := o.meta.GetAsset(ctx, assetID)
	if errors.Is(err, metadata.ErrNotFound) {
		return submission{}, failure.Newf(failure.KindAssetNotFound, "asset %s not found", assetID)
	}
	if err != nil {
		return submission{}, failure.Wrap(failure.KindInternal, "asset lookup failed", err)
	}
	if _, err := o.validator.Source(a.SourceLocator); err != nil {
		return submission{}, err
	}

	s := submission{asset: a}
	if kind == job.KindProxy {
		// range parameters do not apply to proxies
		return s, nil
	}

	if p.Mode == "" {
		p.Mode = job.ModeRemuxCopy
	}
	if !p.Mode.Valid() {
		return submission{}, failure.Newf(failure.KindInvalidParameter, "unknown mode %q", p.Mode)
	}
	start, end, err := timecode.EffectiveRange(p.StartSec, p.EndSec, p.PaddingSec, a.DurationSec)
	if err != nil {
		return submission{}, err
	}
	if s.window, err = o.validator.Range(a, start, end); err != nil {
		return submission{}, err
	}
	s.params = p
	return s, nil
}

// Submit validates and enqueues a job, or attaches to the identical live
// job. It never waits for the engine.
func (o *Orchestrator) Submit(ctx context.Context, kind job.Kind, assetID string, p job.Params) (Handle, error) {
	sub, err := o.validateSubmission(ctx, kind, assetID, p)
	if err != nil {
		metrics.RecordSubmit(string(kind), "rejected")
		return Handle{}, err
	}
	key := job.IdempotencyKey(kind, assetID, sub.params)
	logger := log.FromContext(ctx).With().
		Str(log.FieldKind, string(kind)).
		Str(log.FieldAssetID, assetID).
		Str(log.FieldIdemKey, key).
		Logger()

	o.mu.Lock()
	if o.closing {
		o.mu.Unlock()
		return Handle{}, ErrClosed
	}
	_, live := o.keys[key]
	if !live && o.queued+o.reserved >= o.cfg.MaxQueued {
		queued := o.queued
		o.mu.Unlock()
		metrics.RecordSubmit(string(kind), "overloaded")
		logger.Warn().Str(log.FieldEvent, "job.overloaded").Int("queued", queued).Msg("submission rejected")
		return Handle{}, &OverloadedError{Queued: queued, RetryAfter: o.cfg.BackoffBase}
	}
	if !live {
		o.reserved++
	}
	o.mu.Unlock()

	j, created, err := o.jobs.CreateOrGet(ctx, key, func() *job.Job {
		return job.New(uuid.NewString(), kind, assetID, sub.params, key, o.now().UTC())
	})

	o.mu.Lock()
	if !live {
		o.reserved--
	}
	o.mu.Unlock()
	if err != nil {
		return Handle{}, failure.Wrap(failure.KindInternal, "job could not be stored", err)
	}

	h := Handle{JobID: j.ID, Attached: !created, Job: j}
	if kind == job.KindSubclip {
		h.EstimatedSizeBytes = timecode.EstimateClipSize(sub.window.Duration(), sub.asset.BitrateMbps())
	}
	if !created {
		metrics.RecordSubmit(string(kind), "attached")
		logger.Info().Str(log.FieldEvent, "job.attached").Str(log.FieldJobID, j.ID).Msg("attached to live job")
		return h, nil
	}

	if kind == job.KindProxy {
		o.rememberProxy(j.ID, sub.asset)
		o.setProxy(ctx, assetID, asset.ProxyPending, "")
	}
	if !o.schedule(j) {
		// shutdown raced the submission; the job stays queued for recovery
		o.takeProxyPrior(j.ID)
		return h, nil
	}
	metrics.RecordSubmit(string(kind), "created")
	logger.Info().Str(log.FieldEvent, "job.created").Str(log.FieldJobID, j.ID).Msg("job queued")
	return h, nil
}

// Get returns the current snapshot of a job.
func (o *Orchestrator) Get(ctx context.Context, id string) (*job.Job, error) {
	j, err := o.jobs.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, failure.Newf(failure.KindNotFound, "job %s not found", id)
	}
	return j, err
}

// Await blocks until the job is terminal, ctx is done or timeout elapses.
// A zero timeout waits for ctx alone.
func (o *Orchestrator) Await(ctx context.Context, id string, timeout time.Duration) (Result, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	for {
		// side effects of a finishing run land before its done channel closes
		o.mu.Lock()
		r := o.runs[id]
		o.mu.Unlock()

		j, err := o.Get(ctx, id)
		if err != nil {
			return Result{}, err
		}
		if r == nil && j.Status.IsTerminal() {
			return Result{Job: j, ResultLocator: j.ResultLocator, Err: j.Error}, nil
		}

		// jobs driven elsewhere are polled
		var wake <-chan struct{}
		var poll *time.Timer
		if r != nil {
			wake = r.done
		} else {
			poll = time.NewTimer(250 * time.Millisecond)
		}
		select {
		case <-wake:
		case <-timerC(poll):
		case <-ctx.Done():
			stopTimer(poll)
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return Result{Job: j}, ErrAwaitTimeout
			}
			return Result{Job: j}, ctx.Err()
		}
		stopTimer(poll)
	}
}

func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

// Cancel stops a job. A queued job leaves the queue without running; a
// running job has its engine terminated. Terminal jobs are returned as is.
func (o *Orchestrator) Cancel(ctx context.Context, id string) (*job.Job, error) {
	o.mu.Lock()
	r := o.runs[id]
	if r != nil {
		r.canceled = true
		r.cancel()
	}
	o.mu.Unlock()

	logger := log.FromContext(ctx).With().Str(log.FieldJobID, id).Logger()
	if r != nil {
		logger.Info().Str(log.FieldEvent, "job.cancel_requested").Msg("cancel requested")
		return o.Get(ctx, id)
	}

	j, err := o.Get(ctx, id)
	if err != nil || j.Status.IsTerminal() {
		return j, err
	}
	// a live job this process does not drive
	j, err = o.jobs.Transition(ctx, id, job.StatusFailed, job.Update{
		Err: failure.New(failure.KindCanceled, "job canceled"),
		Now: o.now().UTC(),
	})
	if err != nil {
		var te *job.InvalidTransitionError
		if errors.As(err, &te) {
			return o.Get(ctx, id)
		}
		return nil, err
	}
	logger.Info().Str(log.FieldEvent, "job.canceled").Msg("untracked job canceled")
	o.publish(ctx, j)
	return j, nil
}

// Stats reports the current queue and slot usage.
func (o *Orchestrator) Stats() (queued, running int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.queued, o.running
}

// Shutdown cancels every run and waits for them to exit. Interrupted jobs
// are left queued so the next Start resumes them.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closing = true
	o.mu.Unlock()
	o.stopAll()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("orchestrator drain timeout: %w", ctx.Err())
	}
}

func (o *Orchestrator) setProxy(ctx context.Context, assetID string, state asset.ProxyState, loc string) {
	if _, err := o.meta.UpdateProxy(ctx, assetID, state, loc, o.now().UTC()); err != nil {
		log.FromContext(ctx).Warn().Err(err).
			Str(log.FieldEvent, "asset.proxy_update_failed").
			Str(log.FieldAssetID, assetID).
			Str(log.FieldNewState, string(state)).
			Msg("proxy state not recorded")
	}
}

func (o *Orchestrator) rememberProxy(jobID string, a asset.Asset) {
	state := a.ProxyState
	if state == "" {
		state = asset.ProxyUnset
	}
	o.mu.Lock()
	o.proxyPrior[jobID] = proxyFields{state: state, locator: a.ProxyLocator}
	o.mu.Unlock()
}

func (o *Orchestrator) takeProxyPrior(jobID string) (proxyFields, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.proxyPrior[jobID]
	delete(o.proxyPrior, jobID)
	return p, ok
}

func (o *Orchestrator) publish(ctx context.Context, j *job.Job) {
	e, ok := events.FromJob(j)
	if !ok {
		return
	}
	if err := o.events.Publish(ctx, e); err != nil {
		log.FromContext(ctx).Warn().Err(err).
			Str(log.FieldEvent, "job.event_failed").
			Str(log.FieldJobID, j.ID).
			Msg("terminal event not published")
	}
}

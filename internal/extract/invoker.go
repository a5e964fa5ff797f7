// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package extract runs one engine invocation for a job attempt: it builds
// the arguments, supervises the process, and publishes the output to its
// canonical path or removes every trace of the attempt.
package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ManuGH/subclip/internal/domain/asset"
	"github.com/ManuGH/subclip/internal/domain/failure"
	"github.com/ManuGH/subclip/internal/domain/job"
	"github.com/ManuGH/subclip/internal/fsutil"
	"github.com/ManuGH/subclip/internal/hls"
	"github.com/ManuGH/subclip/internal/infra/ffmpeg"
	"github.com/ManuGH/subclip/internal/log"
	"github.com/ManuGH/subclip/internal/metrics"
	"github.com/ManuGH/subclip/internal/validate"
)

// WorkDirName is the directory under the output root holding attempt dirs.
const WorkDirName = ".work"

// OutputScheme prefixes result locators of published outputs.
const OutputScheme = "output://"

const clipFileName = "clip.mp4"

// Outcome is the final state of one invocation.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeTimedOut  Outcome = "timed_out"
)

// Engine runs the transcoder. *ffmpeg.Runner implements it.
type Engine interface {
	Run(ctx context.Context, args []string, onProgress func(ffmpeg.Progress)) (ffmpeg.RunResult, error)
}

// Prober reads media metadata. *ffmpeg.Prober implements it.
type Prober interface {
	Probe(ctx context.Context, in validate.Endpoint) (ffmpeg.MediaInfo, error)
}

// Request is one attempt of a job.
type Request struct {
	Job      *job.Job
	Asset    asset.Asset
	Endpoint validate.Endpoint
	// Range is the padded window for subclips and zero for proxies.
	Range validate.Range
	Mode  job.Mode
}

// Result describes a published output.
type Result struct {
	ResultLocator string
	OutputPath    string
	SizeBytes     int64
	DurationSec   float64
	Outcome       Outcome
	// Reused is set when the canonical output already existed.
	Reused bool
}

// ProgressFunc receives throttled, non-decreasing percentages.
type ProgressFunc func(percent float64)

// Config tunes the invoker.
type Config struct {
	TimeoutFloor  time.Duration
	TimeoutFactor float64
	// UnknownDurationTimeout applies when the expected output length is
	// unknown, as for a proxy of an asset that was never probed.
	UnknownDurationTimeout time.Duration
	ProgressInterval       time.Duration
}

func (c *Config) defaults() {
	if c.TimeoutFloor <= 0 {
		c.TimeoutFloor = 60 * time.Second
	}
	if c.TimeoutFactor <= 0 {
		c.TimeoutFactor = 3
	}
	if c.UnknownDurationTimeout <= 0 {
		c.UnknownDurationTimeout = 2 * time.Hour
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = time.Second
	}
}

// Invoker turns requests into published outputs.
type Invoker struct {
	cfg       Config
	validator *validate.Validator
	builder   *ffmpeg.Builder
	engine    Engine
	prober    Prober
}

// New wires an invoker. prober may be nil, in which case output durations
// fall back to the expected duration.
func New(cfg Config, v *validate.Validator, b *ffmpeg.Builder, engine Engine, prober Prober) *Invoker {
	cfg.defaults()
	return &Invoker{cfg: cfg, validator: v, builder: b, engine: engine, prober: prober}
}

// Timeout returns max(floor, factor × expected).
func (inv *Invoker) Timeout(expectedSec float64) time.Duration {
	if expectedSec <= 0 {
		return inv.cfg.UnknownDurationTimeout
	}
	d := time.Duration(inv.cfg.TimeoutFactor * expectedSec * float64(time.Second))
	return max(d, inv.cfg.TimeoutFloor)
}

// WorkRel is the per-attempt work dir, relative to the output root.
func WorkRel(jobID string, attempt int) string {
	return path.Join(WorkDirName, jobID+"-"+strconv.Itoa(attempt))
}

type plan struct {
	kind     job.Kind
	expected float64
	workDir  validate.OutputPath
	output   validate.OutputPath // file or dir the engine writes
	final    validate.OutputPath
	finalRel string
	args     []string
}

func (inv *Invoker) plan(req Request) (plan, error) {
	j := req.Job
	p := plan{kind: j.Kind, finalRel: job.OutputRel(j.Kind, j.IdempotencyKey)}

	var err error
	if p.workDir, err = inv.validator.Output(WorkRel(j.ID, j.Attempt)); err != nil {
		return p, err
	}
	if p.final, err = inv.validator.Output(p.finalRel); err != nil {
		return p, err
	}

	switch j.Kind {
	case job.KindSubclip:
		if req.Range.IsZero() {
			return p, failure.New(failure.KindInvalidRange, "subclip requires a range")
		}
		if p.output, err = inv.validator.Output(filepath.Join(p.workDir.String(), clipFileName)); err != nil {
			return p, err
		}
		mode := req.Mode
		if !mode.Valid() {
			mode = job.ModeRemuxCopy
		}
		p.expected = req.Range.Duration()
		p.args = inv.builder.Subclip(req.Endpoint, req.Range, mode, p.output)
	case job.KindProxy:
		p.output = p.workDir
		p.expected = req.Asset.DurationSec
		p.args = inv.builder.Proxy(req.Endpoint, p.workDir)
	default:
		return p, failure.Newf(failure.KindInvalidParameter, "unknown job kind %q", j.Kind)
	}
	return p, nil
}

// Run executes one attempt. On any failure the work dir is removed before
// Run returns and the canonical path is left untouched. The returned error
// is always a *failure.Error.
func (inv *Invoker) Run(ctx context.Context, req Request, progress ProgressFunc) (res Result, err error) {
	j := req.Job
	logger := log.WithContext(ctx, log.WithComponent("extract")).With().
		Str(log.FieldJobID, j.ID).
		Str(log.FieldKind, string(j.Kind)).
		Int(log.FieldAttempt, j.Attempt).
		Logger()

	p, err := inv.plan(req)
	if err != nil {
		return Result{Outcome: OutcomeFailed}, failure.From(err)
	}
	logger = logger.With().Str(log.FieldWorkDir, p.workDir.String()).Logger()

	if reused, ok := inv.existing(p); ok {
		logger.Info().
			Str(log.FieldEvent, "extract.reused").
			Str(log.FieldFinalPath, p.final.String()).
			Msg("canonical output already published")
		return reused, nil
	}

	start := time.Now()
	logger.Info().
		Str(log.FieldEvent, "extract.starting").
		Float64("expected_sec", p.expected).
		Msg("starting extraction")

	defer func() {
		// the work dir never outlives the attempt
		if rmErr := os.RemoveAll(p.workDir.String()); rmErr != nil {
			logger.Warn().Err(rmErr).Str(log.FieldEvent, "extract.cleanup_failed").Msg("work dir cleanup failed")
		}
		metrics.RecordEngineRun(string(p.kind), string(res.Outcome), time.Since(start).Seconds())
		ev := logger.Info()
		if err != nil {
			ev = logger.Warn().Str(log.FieldErrKind, string(failure.KindOf(err)))
		}
		ev.Str(log.FieldEvent, "extract.finished").
			Str(log.FieldNewState, string(res.Outcome)).
			Dur("elapsed", time.Since(start)).
			Msg("extraction finished")
	}()

	if err := os.RemoveAll(p.workDir.String()); err != nil {
		return Result{Outcome: OutcomeFailed}, failure.Wrap(failure.KindInternal, "prepare work dir", err)
	}
	if err := os.MkdirAll(p.workDir.String(), 0o750); err != nil {
		return Result{Outcome: OutcomeFailed}, failure.Wrap(failure.KindInternal, "prepare work dir", err)
	}

	timeout := inv.Timeout(p.expected)
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger.Debug().Str(log.FieldEvent, "extract.running").Dur("timeout", timeout).Msg("engine running")
	run, runErr := inv.engine.Run(runCtx, p.args, inv.progressReporter(p.expected, progress))

	if f := inv.classify(ctx, runCtx, run, runErr); f != nil {
		logStderr(logger, run.Stderr)
		outcome := OutcomeFailed
		if f.Kind == failure.KindTimeout {
			outcome = OutcomeTimedOut
		}
		return Result{Outcome: outcome}, f
	}

	return inv.publish(ctx, logger, p)
}

// classify decides the failure of a run. Cancellation of the caller's
// context wins over the wall-clock timeout.
func (inv *Invoker) classify(ctx, runCtx context.Context, run ffmpeg.RunResult, runErr error) *failure.Error {
	switch {
	case ctx.Err() != nil:
		return failure.Wrap(failure.KindCanceled, "extraction canceled", ctx.Err())
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return failure.New(failure.KindTimeout, "extraction exceeded its time limit")
	case runErr != nil:
		return failure.Wrap(failure.KindExtractionFailed, "engine could not be run", runErr)
	}
	return ffmpeg.Classify(run)
}

func (inv *Invoker) progressReporter(expected float64, progress ProgressFunc) func(ffmpeg.Progress) {
	if progress == nil {
		return nil
	}
	var (
		mu   sync.Mutex
		last float64 = -1
	)
	limiter := &rate.Sometimes{First: 1, Interval: inv.cfg.ProgressInterval}
	return func(p ffmpeg.Progress) {
		pct := p.Percent(expected)
		mu.Lock()
		defer mu.Unlock()
		if pct <= last {
			return
		}
		last = pct
		limiter.Do(func() { progress(pct) })
	}
}

func (inv *Invoker) existing(p plan) (Result, bool) {
	check := p.final.String()
	if p.kind == job.KindProxy {
		check = filepath.Join(check, ffmpeg.MasterPlaylistName)
	}
	if fsutil.IsRegularFile(check) != nil {
		return Result{}, false
	}
	size, err := outputSize(p)
	if err != nil {
		return Result{}, false
	}
	return Result{
		ResultLocator: resultLocator(p),
		OutputPath:    check,
		SizeBytes:     size,
		DurationSec:   p.expected,
		Outcome:       OutcomeSucceeded,
		Reused:        true,
	}, true
}

func (inv *Invoker) publish(ctx context.Context, logger zerolog.Logger, p plan) (Result, error) {
	fail := func(msg string, err error) (Result, error) {
		logger.Error().Err(err).Str(log.FieldEvent, "extract.verify_failed").Msg(msg)
		return Result{Outcome: OutcomeFailed}, failure.Wrap(failure.KindExtractionFailed, msg, err)
	}

	duration := p.expected
	switch p.kind {
	case job.KindSubclip:
		info, err := os.Stat(p.output.String())
		if err != nil || info.Size() == 0 {
			if err == nil {
				err = fmt.Errorf("empty output")
			}
			return fail("engine produced no output", err)
		}
		if inv.prober != nil {
			if mi, err := inv.prober.Probe(ctx, p.output.Endpoint()); err == nil && mi.DurationSec > 0 {
				duration = mi.DurationSec
			} else if err != nil {
				logger.Debug().Err(err).Msg("output probe failed, using expected duration")
			}
		}
	case job.KindProxy:
		prof := inv.builder.Profile()
		sum, err := hls.Finalize(p.workDir.String(), ffmpeg.MasterPlaylistName,
			hls.Variant{Playlist: ffmpeg.PlaylistName, Width: prof.Width, Height: prof.Height})
		if err != nil {
			return fail("proxy rendition incomplete", err)
		}
		duration = sum.TotalDuration.Seconds()
	}

	existed, err := fsutil.Publish(p.output.String(), p.final.String())
	if err != nil {
		return Result{Outcome: OutcomeFailed}, failure.Wrap(failure.KindInternal, "publish output", err)
	}
	size, err := outputSize(p)
	if err != nil {
		return Result{Outcome: OutcomeFailed}, failure.Wrap(failure.KindInternal, "stat published output", err)
	}
	metrics.AddOutputBytes(string(p.kind), size)

	outPath := p.final.String()
	if p.kind == job.KindProxy {
		outPath = filepath.Join(outPath, ffmpeg.MasterPlaylistName)
	}
	logger.Info().
		Str(log.FieldEvent, "extract.published").
		Str(log.FieldFinalPath, outPath).
		Bool("existed", existed).
		Int64("size_bytes", size).
		Msg("output published")

	return Result{
		ResultLocator: resultLocator(p),
		OutputPath:    outPath,
		SizeBytes:     size,
		DurationSec:   duration,
		Outcome:       OutcomeSucceeded,
		Reused:        existed,
	}, nil
}

func resultLocator(p plan) string {
	if p.kind == job.KindProxy {
		return OutputScheme + p.finalRel + "/" + ffmpeg.MasterPlaylistName
	}
	return OutputScheme + p.finalRel
}

func outputSize(p plan) (int64, error) {
	if p.kind == job.KindProxy {
		return fsutil.DirSize(p.final.String())
	}
	info, err := os.Stat(p.final.String())
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func logStderr(logger zerolog.Logger, lines []string) {
	if len(lines) == 0 {
		return
	}
	logger.Warn().
		Str(log.FieldEvent, "extract.engine_stderr").
		Strs("stderr", lines).
		Msg("engine diagnostics")
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package retention removes abandoned work dirs, outputs nothing refers to
// and, when configured, clips past their maximum age.
package retention

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/subclip/internal/domain/job"
	"github.com/ManuGH/subclip/internal/extract"
	"github.com/ManuGH/subclip/internal/fsutil"
	"github.com/ManuGH/subclip/internal/log"
	"github.com/ManuGH/subclip/internal/metadata"
	"github.com/ManuGH/subclip/internal/metrics"
)

// Removal categories, also used as metric labels.
const (
	CategoryWorkDir     = "work_dir"
	CategoryOrphan      = "orphan"
	CategoryExpiredClip = "expired_clip"
)

// Config tunes a sweep.
type Config struct {
	// MaxAge expires clip records and their files. Zero keeps clips forever.
	MaxAge time.Duration
	// WorkDirMaxAge is how long an attempt dir may sit untouched.
	WorkDirMaxAge time.Duration
	// OrphanGrace protects outputs published moments before their record.
	OrphanGrace time.Duration
	DryRun      bool
}

func (c *Config) defaults() {
	if c.WorkDirMaxAge <= 0 {
		c.WorkDirMaxAge = 24 * time.Hour
	}
	if c.OrphanGrace <= 0 {
		c.OrphanGrace = time.Hour
	}
}

// ActiveJobs lists live jobs. Store implementations satisfy it.
type ActiveJobs interface {
	ListActive(ctx context.Context) ([]*job.Job, error)
}

// Removal is one path the sweep removed, or would remove in dry-run.
type Removal struct {
	Category string `json:"category"`
	Path     string `json:"path"`
	Bytes    int64  `json:"bytes"`
	ClipID   string `json:"clip_id,omitempty"`
}

// Report summarises a sweep.
type Report struct {
	DryRun   bool      `json:"dry_run"`
	Removed  []Removal `json:"removed"`
	Freed    int64     `json:"freed_bytes"`
	Failures int       `json:"failures"`
}

// Count returns the removals of one category.
func (r Report) Count(category string) int {
	n := 0
	for _, rm := range r.Removed {
		if rm.Category == category {
			n++
		}
	}
	return n
}

// Sweeper cleans one output root.
type Sweeper struct {
	root string
	meta metadata.Store
	jobs ActiveJobs
	cfg  Config
	now  func() time.Time
}

// New creates a sweeper for outputRoot.
func New(outputRoot string, meta metadata.Store, jobs ActiveJobs, cfg Config) *Sweeper {
	cfg.defaults()
	return &Sweeper{root: outputRoot, meta: meta, jobs: jobs, cfg: cfg, now: time.Now}
}

// Sweep runs one pass. Expired clips go first so their files become
// orphans in the same pass.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	logger := log.WithComponentFromContext(ctx, "retention")
	rep := Report{DryRun: s.cfg.DryRun}

	active, err := s.jobs.ListActive(ctx)
	if err != nil {
		return rep, fmt.Errorf("list active jobs: %w", err)
	}

	if err := s.sweepWorkDirs(ctx, active, &rep, logger); err != nil {
		return rep, err
	}
	expired, err := s.expireClips(ctx, &rep, logger)
	if err != nil {
		return rep, err
	}
	if err := s.sweepOrphans(ctx, active, expired, &rep, logger); err != nil {
		return rep, err
	}

	for _, c := range []string{CategoryWorkDir, CategoryOrphan, CategoryExpiredClip} {
		if n := rep.Count(c); n > 0 && !rep.DryRun {
			metrics.AddRetentionRemoved(c, n)
		}
	}
	logger.Info().
		Str(log.FieldEvent, "retention.swept").
		Bool("dry_run", rep.DryRun).
		Int("work_dirs", rep.Count(CategoryWorkDir)).
		Int("orphans", rep.Count(CategoryOrphan)).
		Int("expired_clips", rep.Count(CategoryExpiredClip)).
		Int64("freed_bytes", rep.Freed).
		Int("failures", rep.Failures).
		Msg("retention sweep finished")
	return rep, nil
}

func (s *Sweeper) remove(rep *Report, rm Removal, logger zerolog.Logger) {
	if !s.cfg.DryRun {
		if err := os.RemoveAll(rm.Path); err != nil {
			rep.Failures++
			logger.Warn().Err(err).Str(log.FieldEvent, "retention.remove_failed").Str(log.FieldPath, rm.Path).Msg("could not remove")
			return
		}
	}
	rep.Removed = append(rep.Removed, rm)
	rep.Freed += rm.Bytes
	logger.Debug().
		Str(log.FieldEvent, "retention.removed").
		Str("category", rm.Category).
		Str(log.FieldPath, rm.Path).
		Bool("dry_run", s.cfg.DryRun).
		Msg("removed")
}

func (s *Sweeper) sweepWorkDirs(ctx context.Context, active []*job.Job, rep *Report, logger zerolog.Logger) error {
	live := make(map[string]bool, len(active))
	for _, j := range active {
		live[path.Base(extract.WorkRel(j.ID, j.Attempt))] = true
	}
	dir := filepath.Join(s.root, extract.WorkDirName)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read work dir: %w", err)
	}
	cutoff := s.now().Add(-s.cfg.WorkDirMaxAge)
	for _, e := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if live[e.Name()] {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		p := filepath.Join(dir, e.Name())
		size, _ := fsutil.DirSize(p)
		s.remove(rep, Removal{Category: CategoryWorkDir, Path: p, Bytes: size}, logger)
	}
	return nil
}

// expireClips deletes clip records older than MaxAge and returns their
// output locators.
func (s *Sweeper) expireClips(ctx context.Context, rep *Report, logger zerolog.Logger) (map[string]bool, error) {
	expired := map[string]bool{}
	if s.cfg.MaxAge <= 0 {
		return expired, nil
	}
	clips, err := s.meta.ListAllClips(ctx)
	if err != nil {
		return nil, fmt.Errorf("list clips: %w", err)
	}
	cutoff := s.now().Add(-s.cfg.MaxAge)
	for _, c := range clips {
		if !c.CreatedAt.Before(cutoff) {
			continue
		}
		if !s.cfg.DryRun {
			if err := s.meta.DeleteClip(ctx, c.ID); err != nil && !errors.Is(err, metadata.ErrNotFound) {
				rep.Failures++
				logger.Warn().Err(err).Str(log.FieldEvent, "retention.expire_failed").Str(log.FieldClipID, c.ID).Msg("clip not expired")
				continue
			}
		}
		expired[c.OutputLocator] = true
		rep.Removed = append(rep.Removed, Removal{Category: CategoryExpiredClip, Path: c.OutputLocator, ClipID: c.ID})
	}
	return expired, nil
}

func relOf(locator string) (string, bool) {
	rel, ok := strings.CutPrefix(locator, extract.OutputScheme)
	return path.Clean(rel), ok
}

// referenced collects the output paths records still point at. Proxy
// locators name the master playlist; the whole directory is kept.
func (s *Sweeper) referenced(ctx context.Context, active []*job.Job, expired map[string]bool) (map[string]bool, error) {
	refs := map[string]bool{}
	clips, err := s.meta.ListAllClips(ctx)
	if err != nil {
		return nil, fmt.Errorf("list clips: %w", err)
	}
	for _, c := range clips {
		if s.cfg.DryRun && expired[c.OutputLocator] {
			continue
		}
		if rel, ok := relOf(c.OutputLocator); ok {
			refs[rel] = true
		}
	}
	assets, err := s.meta.ListAssets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	for _, a := range assets {
		if rel, ok := relOf(a.ProxyLocator); ok {
			refs[path.Dir(rel)] = true
		}
	}
	for _, j := range active {
		refs[job.OutputRel(j.Kind, j.IdempotencyKey)] = true
	}
	return refs, nil
}

func (s *Sweeper) sweepOrphans(ctx context.Context, active []*job.Job, expired map[string]bool, rep *Report, logger zerolog.Logger) error {
	refs, err := s.referenced(ctx, active, expired)
	if err != nil {
		return err
	}
	cutoff := s.now().Add(-s.cfg.OrphanGrace)

	// clips/<shard>/<key>.mp4 and proxies/<shard>/<key>/
	for _, top := range []string{"clips", "proxies"} {
		shards, err := os.ReadDir(filepath.Join(s.root, top))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", top, err)
		}
		for _, shard := range shards {
			if !shard.IsDir() {
				continue
			}
			entries, err := os.ReadDir(filepath.Join(s.root, top, shard.Name()))
			if err != nil {
				return fmt.Errorf("read shard: %w", err)
			}
			for _, e := range entries {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				rel := path.Join(top, shard.Name(), e.Name())
				if refs[rel] {
					continue
				}
				info, err := e.Info()
				if err != nil {
					continue
				}
				// expired outputs skip the grace period
				if !expired[extract.OutputScheme+rel] && !expired[extract.OutputScheme+rel+"/"] && !info.ModTime().Before(cutoff) {
					continue
				}
				p := filepath.Join(s.root, filepath.FromSlash(rel))
				size := info.Size()
				if info.IsDir() {
					size, _ = fsutil.DirSize(p)
				}
				s.remove(rep, Removal{Category: CategoryOrphan, Path: p, Bytes: size}, logger)
			}
		}
	}
	return nil
}

// Run sweeps every interval until ctx ends. Errors are logged and the loop
// continues.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	logger := log.WithComponentFromContext(ctx, "retention")
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Str(log.FieldEvent, "retention.sweep_failed").Msg("retention sweep failed")
			}
		}
	}
}

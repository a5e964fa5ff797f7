// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/subclip/internal/config"
	"github.com/ManuGH/subclip/internal/events"
	"github.com/ManuGH/subclip/internal/log"
)

// Sweeper runs retention passes. *retention.Sweeper implements it.
type Sweeper interface {
	Run(ctx context.Context, interval time.Duration) error
}

// SweeperFactory builds a sweeper for one retention configuration.
type SweeperFactory func(cfg config.RetentionConfig) Sweeper

// AppOptions are the optional background subsystems of an App.
type AppOptions struct {
	// Holder enables file watching, SIGHUP reloads and retention restarts.
	Holder *config.Holder
	// Sweepers builds the retention sweeper; nil disables retention.
	Sweepers SweeperFactory
	// Bus is tapped to log terminal job events.
	Bus *events.MemoryBus
}

// App owns the long-lived runtime lifecycle (watchers, reload wiring,
// retention) and delegates engine and server management to Manager.
type App struct {
	logger       zerolog.Logger
	manager      Manager
	opts         AppOptions
	reloadSignal os.Signal
}

// NewApp creates a new App orchestrator.
func NewApp(logger zerolog.Logger, manager Manager, opts AppOptions) *App {
	return &App{
		logger:       logger,
		manager:      manager,
		opts:         opts,
		reloadSignal: syscall.SIGHUP,
	}
}

// Run starts all owned background subsystems and blocks until ctx is
// cancelled or the manager stops.
func (a *App) Run(ctx context.Context) error {
	if a.manager == nil {
		return ErrMissingManager
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	if h := a.opts.Holder; h != nil {
		// best effort: a daemon without a watcher still serves
		g.Go(func() error {
			if err := h.Watch(ctx); err != nil {
				a.logger.Warn().Err(err).Str(log.FieldEvent, "config.watcher_start_failed").Msg("failed to start config watcher")
			}
			return nil
		})
		if a.reloadSignal != nil {
			g.Go(func() error { return a.reloadOnSignal(ctx, h) })
		}
	}

	if a.opts.Sweepers != nil {
		g.Go(func() error { return a.superviseRetention(ctx) })
	}

	if a.opts.Bus != nil {
		sub, err := a.opts.Bus.Subscribe()
		if err != nil {
			a.logger.Warn().Err(err).Msg("job event log disabled")
		} else {
			g.Go(func() error { return a.logJobEvents(ctx, sub) })
		}
	}

	g.Go(func() error {
		// the other subsystems stop with the manager
		defer cancel()
		return a.manager.Start(ctx)
	})

	return g.Wait()
}

func (a *App) reloadOnSignal(ctx context.Context, h *config.Holder) error {
	hupChan := make(chan os.Signal, 1)
	signal.Notify(hupChan, a.reloadSignal)
	defer signal.Stop(hupChan)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hupChan:
			a.logger.Info().
				Str(log.FieldEvent, "config.reload_signal").
				Str("signal", a.reloadSignal.String()).
				Msg("received reload signal, reloading config")
			if err := h.Reload(ctx); err != nil {
				a.logger.Warn().Err(err).Str(log.FieldEvent, "config.reload_failed").Msg("config reload failed")
			}
		}
	}
}

func (a *App) retentionConfig() config.RetentionConfig {
	if a.opts.Holder == nil {
		return config.RetentionConfig{}
	}
	return a.opts.Holder.Get().Retention
}

// superviseRetention keeps one sweeper running for the current retention
// settings and replaces it when a reload changes them.
func (a *App) superviseRetention(ctx context.Context) error {
	updates := make(chan config.AppConfig, 1)
	if a.opts.Holder != nil {
		a.opts.Holder.Subscribe(updates)
	}

	var (
		stop context.CancelFunc
		done chan struct{}
	)
	halt := func() {
		if stop != nil {
			stop()
			<-done
			stop, done = nil, nil
		}
	}
	start := func(rc config.RetentionConfig) {
		halt()
		if !rc.Enabled {
			a.logger.Info().Str(log.FieldEvent, "retention.disabled").Msg("retention sweeper not running")
			return
		}
		runCtx, cancel := context.WithCancel(ctx)
		stop, done = cancel, make(chan struct{})
		sw := a.opts.Sweepers(rc)
		go func(done chan struct{}) {
			defer close(done)
			_ = sw.Run(runCtx, rc.Interval)
		}(done)
		a.logger.Info().
			Str(log.FieldEvent, "retention.started").
			Dur("interval", rc.Interval).
			Dur("max_age", rc.MaxAge).
			Bool("dry_run", rc.DryRun).
			Msg("retention sweeper running")
	}

	current := a.retentionConfig()
	start(current)
	for {
		select {
		case <-ctx.Done():
			halt()
			return nil
		case next := <-updates:
			if next.Retention != current {
				current = next.Retention
				start(current)
			}
		}
	}
}

func (a *App) logJobEvents(ctx context.Context, sub *events.Subscription) error {
	defer func() { _ = sub.Close() }()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-sub.C():
			if !ok {
				return nil
			}
			ev := a.logger.Info()
			if e.Error != nil {
				ev = a.logger.Warn().Str(log.FieldErrKind, string(e.Error.Kind))
			}
			ev.Str(log.FieldEvent, string(e.Type)).
				Str(log.FieldJobID, e.JobID).
				Str(log.FieldAssetID, e.AssetID).
				Str(log.FieldKind, string(e.Kind)).
				Int(log.FieldAttempt, e.Attempt).
				Str(log.FieldLocator, e.ResultLocator).
				Msg("job finished")
		}
	}
}

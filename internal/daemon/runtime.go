// SPDX-License-Identifier: MIT

// Package daemon wires the configured components together and owns their
// lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ManuGH/subclip/internal/api"
	"github.com/ManuGH/subclip/internal/assets"
	"github.com/ManuGH/subclip/internal/cache"
	"github.com/ManuGH/subclip/internal/config"
	"github.com/ManuGH/subclip/internal/domain/job/store"
	"github.com/ManuGH/subclip/internal/events"
	"github.com/ManuGH/subclip/internal/extract"
	"github.com/ManuGH/subclip/internal/health"
	"github.com/ManuGH/subclip/internal/infra/ffmpeg"
	"github.com/ManuGH/subclip/internal/locator"
	"github.com/ManuGH/subclip/internal/log"
	"github.com/ManuGH/subclip/internal/metadata"
	"github.com/ManuGH/subclip/internal/orchestrator"
	"github.com/ManuGH/subclip/internal/retention"
	"github.com/ManuGH/subclip/internal/storage"
	"github.com/ManuGH/subclip/internal/telemetry"
	"github.com/ManuGH/subclip/internal/validate"
)

// Local root names as they appear in /files/{root}/ URLs.
const (
	RootMedia   = "media"
	RootOutputs = "outputs"

	serviceName = "subclipd"
)

// Media reads sources and runs the engine. It holds no persistent state,
// so one-shot commands can build it without opening the stores.
type Media struct {
	Local     *storage.Local
	Backend   *storage.Mux
	Guards    []*storage.Guarded
	Cache     cache.Cache
	Locator   *locator.Locator
	Validator *validate.Validator
	Builder   *ffmpeg.Builder
	Runner    *ffmpeg.Runner
	Prober    *ffmpeg.Prober
}

// OpenMedia builds the storage backends, endpoint cache, locator and
// engine helpers from cfg.
func OpenMedia(ctx context.Context, cfg config.AppConfig) (*Media, error) {
	st := cfg.Storage
	roots := []storage.LocalRoot{{Scheme: "output", Name: RootOutputs, Dir: st.OutputRoot}}
	if st.MediaRoot != "" {
		roots = append(roots, storage.LocalRoot{Scheme: "file", Name: RootMedia, Dir: st.MediaRoot})
	}
	local, err := storage.NewLocal(cfg.Server.PublicURL, []byte(st.SigningSecret), roots...)
	if err != nil {
		return nil, fmt.Errorf("local storage: %w", err)
	}

	m := &Media{Local: local, Backend: storage.NewMux()}
	guardedLocal := storage.NewGuarded(local, st.BreakerThreshold, st.BreakerReset)
	m.Backend.Handle("file", guardedLocal).Handle("output", guardedLocal)
	m.Guards = append(m.Guards, guardedLocal)
	prefixes := []string{local.URLPrefix()}

	if st.S3.Enabled() {
		s3, err := storage.NewS3(storage.S3Config{
			Endpoint:  st.S3.Endpoint,
			AccessKey: st.S3.AccessKey,
			SecretKey: st.S3.SecretKey,
			Region:    st.S3.Region,
			UseSSL:    st.S3.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		g := storage.NewGuarded(s3, st.BreakerThreshold, st.BreakerReset)
		m.Backend.Handle("s3", g)
		m.Guards = append(m.Guards, g)
		prefixes = append(prefixes, s3.URLPrefix())
	}

	m.Validator, err = validate.NewValidator(validate.Policy{
		LocalRoot:        st.MediaRoot,
		OutputRoot:       st.OutputRoot,
		Buckets:          st.Buckets,
		EndpointPrefixes: prefixes,
	})
	if err != nil {
		return nil, err
	}

	m.Builder, err = ffmpeg.NewBuilder(ffmpeg.Profile{
		Width:        cfg.Engine.Proxy.Width,
		Height:       cfg.Engine.Proxy.Height,
		Preset:       cfg.Engine.Proxy.Preset,
		CRF:          cfg.Engine.Proxy.CRF,
		AudioBitrate: cfg.Engine.Proxy.AudioBitrate,
		HLSTime:      cfg.Engine.Proxy.SegmentSec,
	}, cfg.Engine.RWTimeout)
	if err != nil {
		return nil, fmt.Errorf("proxy profile: %w", err)
	}
	m.Runner = ffmpeg.NewRunner(cfg.Engine.FFmpegBin, cfg.Engine.KillGrace)
	m.Prober = ffmpeg.NewProber(cfg.Engine.FFprobeBin, m.Builder, cfg.Engine.ProbeTimeout)

	if m.Cache, err = openCache(ctx, cfg.Cache); err != nil {
		return nil, err
	}
	m.Locator = locator.New(m.Backend, m.Cache, locator.Config{
		TTLs: map[locator.Purpose]time.Duration{
			locator.PurposeProbe:         cfg.Locator.ProbeTTL,
			locator.PurposeProxySource:   cfg.Locator.ProxySourceTTL,
			locator.PurposeSubclipSource: cfg.Locator.SubclipSourceTTL,
			locator.PurposeDownload:      cfg.Locator.DownloadTTL,
		},
		MarginFraction: cfg.Locator.MarginFraction,
	})
	return m, nil
}

// Close releases the endpoint cache.
func (m *Media) Close() error {
	if m == nil || m.Cache == nil {
		return nil
	}
	return m.Cache.Close()
}

func openCache(ctx context.Context, cfg config.CacheConfig) (cache.Cache, error) {
	switch cfg.Backend {
	case "redis":
		c, err := cache.NewRedisCache(ctx, cache.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.Prefix,
		}, log.WithComponent("cache"))
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return cache.NewMemoryCache(time.Minute), nil
	}
}

// Stores holds the job state store and the asset/clip metadata store.
type Stores struct {
	Jobs     *store.Instrumented
	Metadata metadata.Store
}

// OpenStores opens both stores, creating DataDir when needed.
func OpenStores(ctx context.Context, cfg config.AppConfig) (*Stores, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	jobs, err := store.OpenStore(store.Config{
		Backend:       cfg.Jobs.Backend,
		Path:          cfg.Jobs.Path,
		RedisAddrs:    cfg.Jobs.RedisAddrs,
		RedisPassword: cfg.Jobs.RedisPassword,
		RedisDB:       cfg.Jobs.RedisDB,
		RedisPrefix:   cfg.Jobs.RedisPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	meta, err := metadata.Open(ctx, metadata.Config{
		Backend: cfg.Metadata.Backend,
		Path:    cfg.Metadata.Path,
		DSN:     cfg.Metadata.DSN,
	})
	if err != nil {
		_ = jobs.Close()
		return nil, fmt.Errorf("open metadata store: %w", err)
	}
	return &Stores{Jobs: jobs, Metadata: meta}, nil
}

// Close closes both stores.
func (s *Stores) Close() error {
	if s == nil {
		return nil
	}
	return errors.Join(s.Jobs.Close(), s.Metadata.Close())
}

// Sweeper builds a retention sweeper over the output root.
func (s *Stores) Sweeper(outputRoot string, cfg config.RetentionConfig) *retention.Sweeper {
	return retention.New(outputRoot, s.Metadata, s.Jobs, retention.Config{
		MaxAge:        cfg.MaxAge,
		WorkDirMaxAge: cfg.WorkDirMaxAge,
		DryRun:        cfg.DryRun,
	})
}

// openEvents always returns the in-process bus; AMQP is added when
// configured and reachable.
func openEvents(cfg config.EventsConfig) (events.Publisher, *events.MemoryBus) {
	bus := events.NewMemoryBus()
	if cfg.AMQPURL == "" {
		return bus, bus
	}
	amqp, err := events.NewAMQPPublisher(events.AMQPConfig{
		URL:           cfg.AMQPURL,
		Exchange:      cfg.Exchange,
		RoutingPrefix: cfg.RoutingPrefix,
	})
	if err != nil {
		logger := log.WithComponent("events")
		logger.Warn().Err(err).
			Str(log.FieldEvent, "events.amqp_unavailable").
			Msg("AMQP publisher disabled; job events stay in-process")
		return bus, bus
	}
	return events.Multi{bus, events.NewAsync(amqp, cfg.Buffer)}, bus
}

type closer struct {
	name string
	fn   func(context.Context) error
}

// Runtime is the fully wired daemon.
type Runtime struct {
	Config       config.AppConfig
	Telemetry    *telemetry.Provider
	Media        *Media
	Stores       *Stores
	Events       events.Publisher
	Bus          *events.MemoryBus
	Orchestrator *orchestrator.Orchestrator
	Assets       *assets.Registry
	Health       *health.Manager
	API          *api.Server

	closers []closer
}

func (rt *Runtime) onClose(name string, fn func(context.Context) error) {
	rt.closers = append(rt.closers, closer{name: name, fn: fn})
}

// Build constructs every component from cfg. Nothing is started; the
// Manager starts the engine and the server.
func Build(ctx context.Context, cfg config.AppConfig) (_ *Runtime, err error) {
	rt := &Runtime{Config: cfg}
	defer func() {
		if err != nil {
			_ = rt.Close(context.WithoutCancel(ctx))
		}
	}()

	rt.Telemetry, err = telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    serviceName,
		ServiceVersion: cfg.Version,
		Environment:    cfg.Telemetry.Environment,
		ExporterType:   cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SamplingRate:   cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	rt.onClose("telemetry", rt.Telemetry.Shutdown)

	if rt.Media, err = OpenMedia(ctx, cfg); err != nil {
		return nil, err
	}
	rt.onClose("cache", func(context.Context) error { return rt.Media.Close() })

	if rt.Stores, err = OpenStores(ctx, cfg); err != nil {
		return nil, err
	}
	rt.onClose("stores", func(context.Context) error { return rt.Stores.Close() })

	rt.Events, rt.Bus = openEvents(cfg.Events)
	rt.onClose("events", func(context.Context) error { return rt.Events.Close() })

	inv := extract.New(extract.Config{
		TimeoutFloor:  cfg.Engine.TimeoutFloor,
		TimeoutFactor: cfg.Engine.TimeoutFactor,
	}, rt.Media.Validator, rt.Media.Builder, rt.Media.Runner, rt.Media.Prober)

	rt.Orchestrator, err = orchestrator.New(orchestrator.Config{
		Slots:       cfg.Engine.Slots,
		MaxQueued:   cfg.Engine.MaxQueued,
		MaxAttempts: cfg.Engine.MaxAttempts,
		BackoffBase: cfg.Engine.BackoffBase,
		BackoffMax:  cfg.Engine.BackoffMax,
	}, orchestrator.Deps{
		Jobs:      rt.Stores.Jobs,
		Metadata:  rt.Stores.Metadata,
		Resolver:  rt.Media.Locator,
		Validator: rt.Media.Validator,
		Extractor: inv,
		Events:    rt.Events,
		Tracer:    telemetry.Tracer("subclip/orchestrator"),
		Meter:     telemetry.Meter("subclip/orchestrator"),
	})
	if err != nil {
		return nil, err
	}

	rt.Assets = assets.NewRegistry(rt.Stores.Metadata, rt.Media.Locator, rt.Media.Validator, rt.Media.Prober, rt.Stores.Jobs)
	rt.Health = health.NewManager(cfg.Version)
	rt.registerChecks()

	tracing := ""
	if cfg.Telemetry.Enabled {
		tracing = serviceName
	}
	rt.API, err = api.New(api.Config{
		ListenAddr:        cfg.Server.ListenAddr,
		MaxConns:          cfg.Server.MaxConns,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
		RateLimit:         cfg.Server.RateLimit,
		RateWindow:        cfg.Server.RateWindow,
		TracingService:    tracing,
	}, api.Deps{
		Engine:  rt.Orchestrator,
		Assets:  rt.Assets,
		Clips:   rt.Stores.Metadata,
		Links:   rt.Media.Locator,
		Outputs: rt.Media.Backend,
		Files:   rt.Media.Local,
		Health:  rt.Health,
	})
	if err != nil {
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) registerChecks() {
	for _, g := range rt.Media.Guards {
		rt.Health.RegisterChecker(health.NewBreakerChecker(g.Breaker()))
	}
	rt.Health.RegisterChecker(health.NewDirChecker("output_root", rt.Config.Storage.OutputRoot))
	if rc, ok := rt.Media.Cache.(*cache.RedisCache); ok {
		rt.Health.RegisterChecker(health.NewFuncChecker("endpoint_cache", health.StatusDegraded, rc.HealthCheck))
	}
	rt.Health.RegisterChecker(health.NewFuncChecker("metadata", health.StatusUnhealthy, func(ctx context.Context) error {
		_, err := rt.Stores.Metadata.GetAsset(ctx, "healthcheck")
		if errors.Is(err, metadata.ErrNotFound) {
			return nil
		}
		return err
	}))
	maxQueued := rt.Orchestrator.Config().MaxQueued
	rt.Health.RegisterChecker(health.NewFuncChecker("engine_queue", health.StatusDegraded, func(context.Context) error {
		if queued, _ := rt.Orchestrator.Stats(); queued >= maxQueued {
			return fmt.Errorf("queue full: %d jobs waiting", queued)
		}
		return nil
	}))
}

// Close releases everything Build opened, last opened first.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		c := rt.closers[i]
		if err := c.fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

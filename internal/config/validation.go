// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"github.com/ManuGH/subclip/internal/validate"
)

var (
	logLevels        = []string{"trace", "debug", "info", "warn", "error"}
	cacheBackends    = []string{"memory", "redis"}
	jobBackends      = []string{"memory", "sqlite", "bolt", "badger", "redis"}
	metadataBackends = []string{"memory", "sqlite", "postgres"}
	otelExporters    = []string{"grpc", "http"}
)

// Validate checks the final configuration and reports every problem at once.
func Validate(cfg AppConfig) error {
	r := validate.NewReport()

	r.OneOf("log_level", cfg.LogLevel, logLevels)
	r.NotEmpty("data_dir", cfg.DataDir)

	r.ListenAddr("server.listen_addr", cfg.Server.ListenAddr)
	r.URL("server.public_url", cfg.Server.PublicURL, []string{"http", "https"})
	r.Positive("server.max_conns", cfg.Server.MaxConns)
	r.PositiveDuration("server.shutdown_timeout", cfg.Server.ShutdownTimeout)
	if cfg.Server.RateLimit < 0 {
		r.AddError("server.rate_limit", "must not be negative", cfg.Server.RateLimit)
	}
	if cfg.Server.RateLimit > 0 {
		r.PositiveDuration("server.rate_window", cfg.Server.RateWindow)
	}

	if cfg.Storage.MediaRoot == "" && !cfg.Storage.S3.Enabled() {
		r.AddError("storage", "configure media_root or an s3 endpoint", nil)
	}
	if cfg.Storage.MediaRoot != "" {
		r.Directory("storage.media_root", cfg.Storage.MediaRoot, true)
	}
	r.NotEmpty("storage.output_root", cfg.Storage.OutputRoot)
	if len(cfg.Storage.SigningSecret) < 16 {
		r.AddError("storage.signing_secret", "must be at least 16 bytes", "***")
	}
	if cfg.Storage.S3.Enabled() {
		r.NotEmpty("storage.s3.access_key", cfg.Storage.S3.AccessKey)
		r.NotEmpty("storage.s3.secret_key", cfg.Storage.S3.SecretKey)
		if len(cfg.Storage.Buckets) == 0 {
			r.AddError("storage.buckets", "at least one bucket is required with s3", nil)
		}
	}
	r.Positive("storage.breaker_threshold", cfg.Storage.BreakerThreshold)

	r.OneOf("cache.backend", cfg.Cache.Backend, cacheBackends)
	if cfg.Cache.Backend == "redis" {
		r.NotEmpty("cache.redis_addr", cfg.Cache.RedisAddr)
	}

	r.PositiveDuration("locator.probe_ttl", cfg.Locator.ProbeTTL)
	r.PositiveDuration("locator.proxy_source_ttl", cfg.Locator.ProxySourceTTL)
	r.PositiveDuration("locator.subclip_source_ttl", cfg.Locator.SubclipSourceTTL)
	r.PositiveDuration("locator.download_ttl", cfg.Locator.DownloadTTL)
	if cfg.Locator.MarginFraction < 0 || cfg.Locator.MarginFraction >= 1 {
		r.AddError("locator.margin_fraction", "must be in [0, 1)", cfg.Locator.MarginFraction)
	}

	e := cfg.Engine
	r.NotEmpty("engine.ffmpeg_bin", e.FFmpegBin)
	r.NotEmpty("engine.ffprobe_bin", e.FFprobeBin)
	r.IntRange("engine.slots", e.Slots, 1, 64)
	r.Positive("engine.max_queued", e.MaxQueued)
	r.IntRange("engine.max_attempts", e.MaxAttempts, 1, 10)
	r.PositiveDuration("engine.backoff_base", e.BackoffBase)
	if e.BackoffMax < e.BackoffBase {
		r.AddError("engine.backoff_max", "must not be below backoff_base", e.BackoffMax)
	}
	r.PositiveDuration("engine.timeout_floor", e.TimeoutFloor)
	if e.TimeoutFactor < 1 {
		r.AddError("engine.timeout_factor", "must be at least 1", e.TimeoutFactor)
	}
	r.PositiveDuration("engine.kill_grace", e.KillGrace)

	r.OneOf("jobs.backend", cfg.Jobs.Backend, jobBackends)
	if cfg.Jobs.Backend == "redis" && len(cfg.Jobs.RedisAddrs) == 0 {
		r.AddError("jobs.redis_addrs", "at least one address is required", nil)
	}
	r.OneOf("metadata.backend", cfg.Metadata.Backend, metadataBackends)
	if cfg.Metadata.Backend == "postgres" {
		r.NotEmpty("metadata.dsn", cfg.Metadata.DSN)
	}

	if cfg.Events.AMQPURL != "" {
		r.URL("events.amqp_url", cfg.Events.AMQPURL, []string{"amqp", "amqps"})
		r.Positive("events.buffer", cfg.Events.Buffer)
	}

	if cfg.Retention.Enabled {
		r.PositiveDuration("retention.interval", cfg.Retention.Interval)
	}
	r.PositiveDuration("retention.work_dir_max_age", cfg.Retention.WorkDirMaxAge)
	if cfg.Retention.MaxAge < 0 {
		r.AddError("retention.max_age", "must not be negative", cfg.Retention.MaxAge)
	}

	if cfg.Telemetry.Enabled {
		r.OneOf("telemetry.exporter", cfg.Telemetry.Exporter, otelExporters)
		r.NotEmpty("telemetry.endpoint", cfg.Telemetry.Endpoint)
	}

	return r.Err()
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ManuGH/subclip/internal/log"
)

// Loader handles configuration loading with precedence.
type Loader struct {
	configPath string
	envFiles   []string
	version    string
	// ConsumedEnvKeys records every SUBCLIP_* key the loader looked at.
	ConsumedEnvKeys map[string]struct{}
}

// NewLoader creates a loader. An empty configPath means environment only.
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		envFiles:        []string{".env"},
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

// WithEnvFiles replaces the dotenv files read before the environment.
func (l *Loader) WithEnvFiles(files ...string) *Loader {
	l.envFiles = files
	return l
}

// Path returns the YAML file the loader reads, if any.
func (l *Loader) Path() string { return l.configPath }

func (l *Loader) key(name string) string {
	k := EnvPrefix + name
	l.ConsumedEnvKeys[k] = struct{}{}
	return k
}

func (l *Loader) envString(name, def string) string {
	return ParseString(l.key(name), def)
}

func (l *Loader) envInt(name string, def int) int { return ParseInt(l.key(name), def) }

func (l *Loader) envBool(name string, def bool) bool { return ParseBool(l.key(name), def) }

func (l *Loader) envFloat(name string, def float64) float64 { return ParseFloat(l.key(name), def) }

func (l *Loader) envDuration(name string, def time.Duration) time.Duration {
	return ParseDuration(l.key(name), def)
}

func (l *Loader) envList(name string, def []string) []string { return ParseList(l.key(name), def) }

// Load builds the configuration: dotenv, defaults, strict YAML file,
// environment overrides, then validation.
func (l *Loader) Load() (AppConfig, error) {
	if err := l.loadDotenv(); err != nil {
		return AppConfig{}, err
	}

	cfg := Defaults()
	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}
	if err := l.mergeEnv(&cfg); err != nil {
		return cfg, err
	}
	l.warnUnknownEnv()

	if abs, err := filepath.Abs(cfg.DataDir); err == nil {
		cfg.DataDir = abs
	}
	l.deriveDataPaths(&cfg)
	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadDotenv never overrides variables already present in the process.
func (l *Loader) loadDotenv() error {
	for _, f := range l.envFiles {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
		logger := log.WithComponent("config")
		logger.Debug().Str("path", f).Msg("loaded dotenv file")
	}
	return nil
}

// loadFile decodes YAML over the defaults. Unknown fields are fatal.
func (l *Loader) loadFile(path string, cfg *AppConfig) error {
	path = filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}
	// #nosec G304 -- the config path is chosen by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("config file contains multiple documents or trailing content")
	}
	return nil
}

func (l *Loader) mergeEnv(cfg *AppConfig) error {
	cfg.DataDir = l.envString("DATA_DIR", cfg.DataDir)
	cfg.LogLevel = l.envString("LOG_LEVEL", cfg.LogLevel)

	s := &cfg.Server
	s.ListenAddr = l.envString("LISTEN_ADDR", s.ListenAddr)
	s.PublicURL = l.envString("PUBLIC_URL", s.PublicURL)
	s.MaxConns = l.envInt("MAX_CONNS", s.MaxConns)
	s.ShutdownTimeout = l.envDuration("SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.RateLimit = l.envInt("RATE_LIMIT", s.RateLimit)
	s.RateWindow = l.envDuration("RATE_WINDOW", s.RateWindow)

	st := &cfg.Storage
	st.MediaRoot = l.envString("MEDIA_ROOT", st.MediaRoot)
	st.OutputRoot = l.envString("OUTPUT_ROOT", st.OutputRoot)
	st.SigningSecret = l.envString("SIGNING_SECRET", st.SigningSecret)
	st.Buckets = l.envList("S3_BUCKETS", st.Buckets)
	st.BreakerThreshold = l.envInt("BREAKER_THRESHOLD", st.BreakerThreshold)
	st.BreakerReset = l.envDuration("BREAKER_RESET", st.BreakerReset)
	for _, k := range []string{"S3_ENDPOINT", "S3_ACCESS_KEY", "S3_SECRET_KEY", "S3_REGION", "S3_USE_SSL"} {
		l.key(k)
	}
	if err := env.Parse(&st.S3); err != nil {
		return fmt.Errorf("parse s3 credentials: %w", err)
	}

	c := &cfg.Cache
	c.Backend = l.envString("CACHE_BACKEND", c.Backend)
	c.RedisAddr = l.envString("CACHE_REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = l.envString("CACHE_REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = l.envInt("CACHE_REDIS_DB", c.RedisDB)

	lc := &cfg.Locator
	lc.ProbeTTL = l.envDuration("TTL_PROBE", lc.ProbeTTL)
	lc.ProxySourceTTL = l.envDuration("TTL_PROXY_SOURCE", lc.ProxySourceTTL)
	lc.SubclipSourceTTL = l.envDuration("TTL_SUBCLIP_SOURCE", lc.SubclipSourceTTL)
	lc.DownloadTTL = l.envDuration("TTL_DOWNLOAD", lc.DownloadTTL)
	lc.MarginFraction = l.envFloat("TTL_MARGIN", lc.MarginFraction)

	e := &cfg.Engine
	e.FFmpegBin = l.envString("FFMPEG_BIN", e.FFmpegBin)
	e.FFprobeBin = l.envString("FFPROBE_BIN", e.FFprobeBin)
	e.Slots = l.envInt("SLOTS", e.Slots)
	e.MaxQueued = l.envInt("MAX_QUEUED", e.MaxQueued)
	e.MaxAttempts = l.envInt("MAX_ATTEMPTS", e.MaxAttempts)
	e.BackoffBase = l.envDuration("BACKOFF_BASE", e.BackoffBase)
	e.BackoffMax = l.envDuration("BACKOFF_MAX", e.BackoffMax)
	e.TimeoutFloor = l.envDuration("TIMEOUT_FLOOR", e.TimeoutFloor)
	e.TimeoutFactor = l.envFloat("TIMEOUT_FACTOR", e.TimeoutFactor)
	e.KillGrace = l.envDuration("KILL_GRACE", e.KillGrace)

	j := &cfg.Jobs
	j.Backend = l.envString("JOBS_BACKEND", j.Backend)
	j.Path = l.envString("JOBS_PATH", j.Path)
	j.RedisAddrs = l.envList("JOBS_REDIS_ADDRS", j.RedisAddrs)
	j.RedisPassword = l.envString("JOBS_REDIS_PASSWORD", j.RedisPassword)

	m := &cfg.Metadata
	m.Backend = l.envString("METADATA_BACKEND", m.Backend)
	m.Path = l.envString("METADATA_PATH", m.Path)
	m.DSN = l.envString("METADATA_DSN", m.DSN)

	ev := &cfg.Events
	ev.AMQPURL = l.envString("EVENTS_AMQP_URL", ev.AMQPURL)
	ev.Exchange = l.envString("EVENTS_EXCHANGE", ev.Exchange)

	r := &cfg.Retention
	r.Enabled = l.envBool("RETENTION_ENABLED", r.Enabled)
	r.Interval = l.envDuration("RETENTION_INTERVAL", r.Interval)
	r.MaxAge = l.envDuration("RETENTION_MAX_AGE", r.MaxAge)
	r.DryRun = l.envBool("RETENTION_DRY_RUN", r.DryRun)

	t := &cfg.Telemetry
	t.Enabled = l.envBool("OTEL_ENABLED", t.Enabled)
	t.Exporter = l.envString("OTEL_EXPORTER", t.Exporter)
	t.Endpoint = l.envString("OTEL_ENDPOINT", t.Endpoint)
	t.SampleRate = l.envFloat("OTEL_SAMPLE_RATE", t.SampleRate)
	return nil
}

// warnUnknownEnv flags SUBCLIP_* variables nothing reads, usually typos.
func (l *Loader) warnUnknownEnv() {
	var unknown []string
	for _, kv := range os.Environ() {
		k, _, _ := strings.Cut(kv, "=")
		if !strings.HasPrefix(k, EnvPrefix) || strings.HasPrefix(k, EnvPrefix+"TEST_") {
			continue
		}
		if _, ok := l.ConsumedEnvKeys[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) == 0 {
		return
	}
	sort.Strings(unknown)
	logger := log.WithComponent("config")
	logger.Warn().
		Str(log.FieldEvent, "config.unknown_env").
		Strs("keys", unknown).
		Msg("ignoring unknown environment variables")
}

// deriveDataPaths places unset store paths and roots under DataDir.
func (l *Loader) deriveDataPaths(cfg *AppConfig) {
	if cfg.Storage.OutputRoot == "" {
		cfg.Storage.OutputRoot = filepath.Join(cfg.DataDir, "output")
	}
	if cfg.Jobs.Path == "" {
		switch cfg.Jobs.Backend {
		case "sqlite":
			cfg.Jobs.Path = filepath.Join(cfg.DataDir, "jobs.sqlite")
		case "bolt", "badger":
			cfg.Jobs.Path = filepath.Join(cfg.DataDir, "jobs")
		}
	}
	if cfg.Metadata.Path == "" && cfg.Metadata.Backend == "sqlite" {
		cfg.Metadata.Path = filepath.Join(cfg.DataDir, "metadata.sqlite")
	}
}

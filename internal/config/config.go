// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads the daemon configuration from defaults, an optional
// strict YAML file and SUBCLIP_* environment variables, in that order of
// increasing precedence.
package config

import "time"

// AppConfig is the complete daemon configuration.
type AppConfig struct {
	Version  string `yaml:"-"`
	DataDir  string `yaml:"data_dir"`
	LogLevel string `yaml:"log_level"`

	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Cache     CacheConfig     `yaml:"cache"`
	Locator   LocatorConfig   `yaml:"locator"`
	Engine    EngineConfig    `yaml:"engine"`
	Jobs      JobsConfig      `yaml:"jobs"`
	Metadata  MetadataConfig  `yaml:"metadata"`
	Events    EventsConfig    `yaml:"events"`
	Retention RetentionConfig `yaml:"retention"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	// PublicURL is the externally reachable base used in local signed URLs.
	PublicURL         string        `yaml:"public_url"`
	MaxConns          int           `yaml:"max_conns"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	// RateLimit is requests per RateWindow per client IP. Zero disables it.
	RateLimit  int           `yaml:"rate_limit"`
	RateWindow time.Duration `yaml:"rate_window"`
}

// StorageConfig locates sources and outputs.
type StorageConfig struct {
	MediaRoot     string   `yaml:"media_root"`
	OutputRoot    string   `yaml:"output_root"`
	SigningSecret string   `yaml:"signing_secret"`
	Buckets       []string `yaml:"buckets"`
	S3            S3Config `yaml:"s3"`

	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerReset     time.Duration `yaml:"breaker_reset"`
}

// S3Config is the object store connection. Credentials usually come from
// the environment.
type S3Config struct {
	Endpoint  string `yaml:"endpoint" env:"SUBCLIP_S3_ENDPOINT"`
	AccessKey string `yaml:"access_key" env:"SUBCLIP_S3_ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" env:"SUBCLIP_S3_SECRET_KEY"`
	Region    string `yaml:"region" env:"SUBCLIP_S3_REGION"`
	UseSSL    bool   `yaml:"use_ssl" env:"SUBCLIP_S3_USE_SSL"`
}

// Enabled reports whether an S3 endpoint is configured.
func (c S3Config) Enabled() bool { return c.Endpoint != "" }

// CacheConfig selects the endpoint cache.
type CacheConfig struct {
	Backend       string `yaml:"backend"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	Prefix        string `yaml:"prefix"`
}

// LocatorConfig holds signing TTLs per purpose.
type LocatorConfig struct {
	ProbeTTL         time.Duration `yaml:"probe_ttl"`
	ProxySourceTTL   time.Duration `yaml:"proxy_source_ttl"`
	SubclipSourceTTL time.Duration `yaml:"subclip_source_ttl"`
	DownloadTTL      time.Duration `yaml:"download_ttl"`
	MarginFraction   float64       `yaml:"margin_fraction"`
}

// EngineConfig tunes ffmpeg and the orchestrator.
type EngineConfig struct {
	FFmpegBin  string `yaml:"ffmpeg_bin"`
	FFprobeBin string `yaml:"ffprobe_bin"`

	Slots       int           `yaml:"slots"`
	MaxQueued   int           `yaml:"max_queued"`
	MaxAttempts int           `yaml:"max_attempts"`
	BackoffBase time.Duration `yaml:"backoff_base"`
	BackoffMax  time.Duration `yaml:"backoff_max"`

	TimeoutFloor  time.Duration `yaml:"timeout_floor"`
	TimeoutFactor float64       `yaml:"timeout_factor"`
	KillGrace     time.Duration `yaml:"kill_grace"`
	RWTimeout     time.Duration `yaml:"rw_timeout"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`

	Proxy ProxyProfile `yaml:"proxy"`
}

// ProxyProfile is the HLS preview encoding.
type ProxyProfile struct {
	Width        int    `yaml:"width"`
	Height       int    `yaml:"height"`
	Preset       string `yaml:"preset"`
	CRF          int    `yaml:"crf"`
	AudioBitrate string `yaml:"audio_bitrate"`
	SegmentSec   int    `yaml:"segment_sec"`
}

// JobsConfig selects the job state store.
type JobsConfig struct {
	Backend       string   `yaml:"backend"`
	Path          string   `yaml:"path"`
	RedisAddrs    []string `yaml:"redis_addrs"`
	RedisPassword string   `yaml:"redis_password"`
	RedisDB       int      `yaml:"redis_db"`
	RedisPrefix   string   `yaml:"redis_prefix"`
}

// MetadataConfig selects the asset and clip store.
type MetadataConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
	DSN     string `yaml:"dsn"`
}

// EventsConfig enables terminal job events over AMQP.
type EventsConfig struct {
	AMQPURL       string `yaml:"amqp_url"`
	Exchange      string `yaml:"exchange"`
	RoutingPrefix string `yaml:"routing_prefix"`
	Buffer        int    `yaml:"buffer"`
}

// RetentionConfig drives the sweeper.
type RetentionConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	MaxAge        time.Duration `yaml:"max_age"`
	WorkDirMaxAge time.Duration `yaml:"work_dir_max_age"`
	DryRun        bool          `yaml:"dry_run"`
}

// TelemetryConfig enables OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRate  float64 `yaml:"sample_rate"`
	Environment string  `yaml:"environment"`
}

// Defaults returns the configuration used when nothing else is set.
func Defaults() AppConfig {
	return AppConfig{
		DataDir:  "/var/lib/subclip",
		LogLevel: "info",
		Server: ServerConfig{
			ListenAddr:        ":8088",
			PublicURL:         "http://127.0.0.1:8088",
			MaxConns:          512,
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   30 * time.Second,
			RateLimit:         300,
			RateWindow:        time.Minute,
		},
		Storage: StorageConfig{
			BreakerThreshold: 5,
			BreakerReset:     30 * time.Second,
		},
		Cache: CacheConfig{Backend: "memory", Prefix: "subclip:ep:"},
		Locator: LocatorConfig{
			ProbeTTL:         5 * time.Minute,
			ProxySourceTTL:   2 * time.Hour,
			SubclipSourceTTL: 30 * time.Minute,
			DownloadTTL:      5 * time.Minute,
			MarginFraction:   0.25,
		},
		Engine: EngineConfig{
			FFmpegBin:     "ffmpeg",
			FFprobeBin:    "ffprobe",
			Slots:         5,
			MaxQueued:     100,
			MaxAttempts:   3,
			BackoffBase:   time.Second,
			BackoffMax:    30 * time.Second,
			TimeoutFloor:  60 * time.Second,
			TimeoutFactor: 3,
			KillGrace:     5 * time.Second,
			RWTimeout:     30 * time.Second,
			ProbeTimeout:  30 * time.Second,
			Proxy: ProxyProfile{
				Width:        1280,
				Height:       720,
				Preset:       "veryfast",
				CRF:          23,
				AudioBitrate: "128k",
				SegmentSec:   10,
			},
		},
		Jobs:     JobsConfig{Backend: "sqlite", RedisPrefix: "subclip:"},
		Metadata: MetadataConfig{Backend: "sqlite"},
		Events:   EventsConfig{Exchange: "subclip.events", RoutingPrefix: "subclip.", Buffer: 256},
		Retention: RetentionConfig{
			Interval:      time.Hour,
			MaxAge:        30 * 24 * time.Hour,
			WorkDirMaxAge: 24 * time.Hour,
		},
		Telemetry: TelemetryConfig{Exporter: "grpc", Endpoint: "localhost:4317", SampleRate: 1, Insecure: true},
	}
}

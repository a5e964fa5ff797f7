// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command subclipd serves the clip extraction API and its maintenance
// commands.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ManuGH/subclip/internal/config"
	"github.com/ManuGH/subclip/internal/daemon"
	"github.com/ManuGH/subclip/internal/health"
	"github.com/ManuGH/subclip/internal/log"
	"github.com/ManuGH/subclip/internal/version"
)

const serviceName = "subclipd"

var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           serviceName,
		Short:         "Video subclip and proxy extraction service",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE:          runServe,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (YAML)")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API and the extraction engine (default)",
			RunE:  runServe,
		},
		newSweepCmd(),
		newProbeCmd(),
		newCheckCmd(),
		newHealthcheckCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version and exit",
			Run: func(cmd *cobra.Command, _ []string) {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.String())
			},
		},
	)
	return root
}

// resolveConfigPath prefers --config, then ${SUBCLIP_DATA_DIR}/config.yaml
// when it exists.
func resolveConfigPath() (path string, auto bool) {
	if p := strings.TrimSpace(configPath); p != "" {
		return p, false
	}
	dataDir := strings.TrimSpace(config.ParseString("SUBCLIP_DATA_DIR", config.Defaults().DataDir))
	autoPath := filepath.Join(dataDir, "config.yaml")
	if _, err := os.Stat(autoPath); err == nil {
		return autoPath, true
	}
	return "", false
}

// loadConfig loads the configuration and configures the global logger
// from it. Commands share it so every entry point validates the same way.
func loadConfig() (config.AppConfig, *config.Loader, zerolog.Logger, error) {
	log.Configure(log.Config{Level: "info", Service: serviceName, Version: version.Version})
	logger := log.WithComponent("daemon")

	path, auto := resolveConfigPath()
	loader := config.NewLoader(path, version.Version)
	cfg, err := loader.Load()
	if err != nil {
		logger.Error().
			Err(err).
			Str(log.FieldEvent, "config.load_failed").
			Str("config_path", path).
			Msg("failed to load configuration")
		return cfg, nil, logger, err
	}

	log.Configure(log.Config{Level: cfg.LogLevel, Service: serviceName, Version: cfg.Version})
	logger = log.WithComponent("daemon")

	ev := logger.Info().Str(log.FieldEvent, "config.loaded")
	switch {
	case path == "":
		ev.Str("source", "env+defaults").Msg("loaded configuration from environment and defaults")
	case auto:
		ev.Str("source", "file(auto)").Str("path", path).Msg("loaded configuration from file")
	default:
		ev.Str("source", "file").Str("path", path).Msg("loaded configuration from file")
	}
	return cfg, loader, logger, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, loader, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := health.PerformStartupChecks(ctx, cfg); err != nil {
		logger.Error().
			Err(err).
			Str(log.FieldEvent, "startup.check_failed").
			Msg("startup checks failed, verify configuration and permissions")
		return err
	}

	logger.Info().
		Str(log.FieldEvent, "startup").
		Str("version", version.Version).
		Str("commit", version.Commit).
		Str("build_date", version.Date).
		Str("addr", cfg.Server.ListenAddr).
		Msg("starting " + serviceName)
	logger.Info().Msgf("→ Media root: %s", cfg.Storage.MediaRoot)
	logger.Info().Msgf("→ Output root: %s", cfg.Storage.OutputRoot)
	if cfg.Storage.S3.Enabled() {
		logger.Info().Msgf("→ S3: %s (buckets: %s)", cfg.Storage.S3.Endpoint, strings.Join(cfg.Storage.Buckets, ","))
	}
	logger.Info().Msgf("→ Jobs: %s, metadata: %s, cache: %s", cfg.Jobs.Backend, cfg.Metadata.Backend, cfg.Cache.Backend)
	logger.Info().Msgf("→ Engine: %d slots, %d queued max", cfg.Engine.Slots, cfg.Engine.MaxQueued)

	rt, err := daemon.Build(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Str(log.FieldEvent, "runtime.build_failed").Msg("failed to build runtime")
		return err
	}

	mgr, err := daemon.NewManager(daemon.Deps{
		Logger:          logger,
		API:             rt.API,
		Engine:          rt.Orchestrator,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		_ = rt.Close(context.WithoutCancel(ctx))
		logger.Error().Err(err).Str(log.FieldEvent, "manager.creation.failed").Msg("failed to create daemon manager")
		return err
	}
	mgr.RegisterShutdownHook("runtime", rt.Close)

	holder := config.NewHolder(cfg, loader)
	app := daemon.NewApp(logger, mgr, daemon.AppOptions{
		Holder: holder,
		Sweepers: func(rc config.RetentionConfig) daemon.Sweeper {
			return rt.Stores.Sweeper(holder.Get().Storage.OutputRoot, rc)
		},
		Bus: rt.Bus,
	})
	if err := app.Run(ctx); err != nil {
		logger.Error().Err(err).Str(log.FieldEvent, "manager.failed").Msg("daemon app failed")
		return err
	}

	logger.Info().Msg("server exiting")
	return nil
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ManuGH/subclip/internal/config"
	"github.com/ManuGH/subclip/internal/infra/ffmpeg"
	"github.com/ManuGH/subclip/internal/log"
)

// CapabilityCheck is the engine probe used at startup. Tests replace it.
var CapabilityCheck = ffmpeg.Check

// PerformStartupChecks validates the environment before the daemon starts
// serving. Missing directories are created; an unusable engine is fatal,
// missing optional encoders are only reported.
func PerformStartupChecks(ctx context.Context, cfg config.AppConfig) error {
	logger := log.WithComponent("startup-check")

	for _, dir := range []string{cfg.DataDir, cfg.Storage.OutputRoot} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
		if err := writable(dir); err != nil {
			return fmt.Errorf("directory is not writable: %s: %w", dir, err)
		}
	}
	logger.Info().Str(log.FieldEvent, "startup.dirs_ok").Str("data_dir", cfg.DataDir).
		Str("output_root", cfg.Storage.OutputRoot).Msg("data directories are writable")

	caps, err := CapabilityCheck(ctx, cfg.Engine.FFmpegBin, cfg.Engine.FFprobeBin)
	if err != nil {
		return fmt.Errorf("engine check failed: %w", err)
	}
	if !caps.OK() {
		logger.Warn().
			Str(log.FieldEvent, "startup.engine_incomplete").
			Strs("missing", caps.Missing).
			Msg("ffmpeg lacks encoders or muxers; some job kinds will fail")
	} else {
		logger.Info().Str(log.FieldEvent, "startup.engine_ok").Str("ffmpeg", caps.FFmpegVersion).Msg("engine capabilities verified")
	}

	if cfg.Jobs.Backend == "memory" {
		logger.Warn().Str(log.FieldEvent, "startup.volatile_jobs").
			Msg("job store is in memory; queued jobs are lost on restart")
	}
	tmp := filepath.Clean(os.TempDir())
	if strings.HasPrefix(filepath.Clean(cfg.DataDir)+string(filepath.Separator), tmp+string(filepath.Separator)) {
		logger.Warn().Str(log.FieldEvent, "startup.data_in_tmp").Str("data_dir", cfg.DataDir).
			Msg("data directory is under temp; outputs may be lost on reboot")
	}
	return nil
}

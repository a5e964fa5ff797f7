// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ManuGH/subclip/internal/api"
	"github.com/ManuGH/subclip/internal/assets"
	"github.com/ManuGH/subclip/internal/daemon"
	"github.com/ManuGH/subclip/internal/metadata"
)

func newProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe <locator>",
		Short: "Validate a source locator and print its media metadata",
		Long: `Runs the same validation, signing and ffprobe steps as asset
registration, against a throwaway in-memory store. Nothing is persisted.
Local sources are served to ffprobe from a temporary loopback listener.`,
		Example: "  subclipd probe file://uploads/talk.mp4\n  subclipd probe s3://media/raw/talk.mp4",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, _, err := loadConfig()
			if err != nil {
				return err
			}

			ln, err := net.Listen("tcp", "127.0.0.1:0")
			if err != nil {
				return fmt.Errorf("loopback listener: %w", err)
			}
			cfg.Server.PublicURL = "http://" + ln.Addr().String()

			media, err := daemon.OpenMedia(cmd.Context(), cfg)
			if err != nil {
				_ = ln.Close()
				return err
			}
			defer func() { _ = media.Close() }()

			srv := &http.Server{Handler: api.FileHandler(media.Local), ReadHeaderTimeout: 10 * time.Second}
			go func() { _ = srv.Serve(ln) }()
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(ctx)
			}()

			reg := assets.NewRegistry(metadata.NewMemoryStore(), media.Locator, media.Validator, media.Prober, nil)
			a, _, err := reg.Register(cmd.Context(), "probe-"+uuid.NewString(), args[0])
			if err != nil {
				return fmt.Errorf("probe %s: %w", args[0], err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(a)
		},
	}
}

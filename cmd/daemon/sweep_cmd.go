// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/ManuGH/subclip/internal/daemon"
	"github.com/ManuGH/subclip/internal/retention"
)

type sweepOptions struct {
	dryRun bool
	maxAge time.Duration
	asJSON bool
}

func newSweepCmd() *cobra.Command {
	var opts sweepOptions
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one retention pass over the output root",
		Long: `Removes expired clips, stale attempt directories and orphaned outputs.
Outputs still referenced by a clip record or a live job are never touched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, _, err := loadConfig()
			if err != nil {
				return err
			}
			rc := cfg.Retention
			if cmd.Flags().Changed("dry-run") {
				rc.DryRun = opts.dryRun
			}
			if cmd.Flags().Changed("max-age") {
				rc.MaxAge = opts.maxAge
			}

			stores, err := daemon.OpenStores(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = stores.Close() }()

			rep, err := stores.Sweeper(cfg.Storage.OutputRoot, rc).Sweep(cmd.Context())
			if err != nil {
				return fmt.Errorf("sweep: %w", err)
			}
			if opts.asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rep)
			}
			printReport(cmd.OutOrStdout(), rep)
			if rep.Failures > 0 {
				return fmt.Errorf("%d removals failed", rep.Failures)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "report what would be removed without deleting")
	cmd.Flags().DurationVar(&opts.maxAge, "max-age", 0, "expire clips older than this (0 keeps clips)")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print the report as JSON")
	return cmd
}

func printReport(w io.Writer, rep retention.Report) {
	verb := "removed"
	if rep.DryRun {
		verb = "would remove"
	}
	for _, rm := range rep.Removed {
		_, _ = fmt.Fprintf(w, "%-10s %s (%d bytes)\n", rm.Category, rm.Path, rm.Bytes)
	}
	_, _ = fmt.Fprintf(w, "%s %d paths, %d bytes", verb, len(rep.Removed), rep.Freed)
	if rep.Failures > 0 {
		_, _ = fmt.Fprintf(w, ", %d failures", rep.Failures)
	}
	_, _ = fmt.Fprintln(w)
}

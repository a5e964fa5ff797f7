// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/ManuGH/subclip/internal/config"
	"github.com/ManuGH/subclip/internal/infra/ffmpeg"
)

func newCheckCmd() *cobra.Command {
	var ffmpegBin, ffprobeBin string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify the ffmpeg installation has the required encoders and muxers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			caps, err := ffmpeg.Check(cmd.Context(), ffmpegBin, ffprobeBin)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "ffmpeg:  %s\nffprobe: %s\n", caps.FFmpegVersion, caps.FFprobeVersion)
			for _, group := range []struct {
				name string
				have map[string]bool
			}{{"encoder", caps.Encoders}, {"muxer", caps.Muxers}} {
				names := make([]string, 0, len(group.have))
				for n := range group.have {
					names = append(names, n)
				}
				sort.Strings(names)
				for _, n := range names {
					mark := "ok"
					if !group.have[n] {
						mark = "MISSING"
					}
					_, _ = fmt.Fprintf(out, "  %-8s %-10s %s\n", group.name, n, mark)
				}
			}
			if !caps.OK() {
				return errors.New("engine is missing required features")
			}
			return nil
		},
	}
	def := config.Defaults().Engine
	cmd.Flags().StringVar(&ffmpegBin, "ffmpeg", config.ParseString("SUBCLIP_FFMPEG_BIN", def.FFmpegBin), "ffmpeg binary")
	cmd.Flags().StringVar(&ffprobeBin, "ffprobe", config.ParseString("SUBCLIP_FFPROBE_BIN", def.FFprobeBin), "ffprobe binary")
	return cmd
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/tandem/internal/config"
	"github.com/friendsincode/tandem/internal/player"
	"github.com/friendsincode/tandem/internal/server"
)

var (
	playResumeAt float64
	playContinue bool
	playSilent   bool
)

var playCmd = &cobra.Command{
	Use:   "play <id>",
	Short: "Play a track or session in the foreground",
	Long: `Play a track or session without serving the control API.

Selecting a block plays its whole session from that block. The command
returns when playback completes or on interrupt.

Examples:
  # Play a session from the start
  tandem play body-scan

  # Pick up where the last listen stopped
  tandem play body-scan --continue

  # Mix without a sound card (useful for testing sources)
  tandem play body-scan --silent
`,
	Args: cobra.ExactArgs(1),
	RunE: runPlay,
}

func init() {
	playCmd.Flags().Float64Var(&playResumeAt, "resume-at", 0, "Session position in seconds to start from")
	playCmd.Flags().BoolVar(&playContinue, "continue", false, "Resume from the saved listening position")
	playCmd.Flags().BoolVar(&playSilent, "silent", false, "Decode and mix without opening the sound card")
	rootCmd.AddCommand(playCmd)
}

func runPlay(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	if playSilent {
		cfg.AudioOutput = config.AudioOutputNone
	}

	srv, err := server.New(cfg, logBuf, logger)
	if err != nil {
		return fmt.Errorf("initialize player: %w", err)
	}
	defer func() {
		if err := srv.Close(); err != nil {
			logger.Error().Err(err).Msg("shutdown cleanup failed")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := srv.Player()
	if playContinue {
		err = p.Continue(ctx, args[0])
	} else {
		err = p.SelectTrack(ctx, args[0], player.SelectOptions{ResumeAt: playResumeAt})
	}
	if err != nil {
		return err
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("interrupted")
			return nil
		case <-ticker.C:
			if p.State() == player.StateCompleted {
				logger.Info().Str("track_id", args[0]).Msg("playback complete")
				return nil
			}
		}
	}
}

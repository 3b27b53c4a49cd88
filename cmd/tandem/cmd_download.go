/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/friendsincode/tandem/internal/cache"
	"github.com/friendsincode/tandem/internal/catalog"
	"github.com/friendsincode/tandem/internal/db"
	"github.com/friendsincode/tandem/internal/events"
	"github.com/friendsincode/tandem/internal/history"
	"github.com/friendsincode/tandem/internal/offline"
)

var downloadRemove bool

var downloadCmd = &cobra.Command{
	Use:   "download <id>",
	Short: "Copy a track or every block of a session to the media root",
	Args:  cobra.ExactArgs(1),
	RunE:  runDownload,
}

func init() {
	downloadCmd.Flags().BoolVar(&downloadRemove, "remove", false, "Delete the offline copy instead")
	rootCmd.AddCommand(downloadCmd)
}

func runDownload(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	ctx := context.Background()

	database, err := initDatabase()
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer db.Close(database)

	c, err := catalog.NewRepository(database).Load(ctx)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	target, ok := c.Lookup(args[0])
	if !ok {
		return fmt.Errorf("%s: %w", args[0], catalog.ErrNotFound)
	}

	var objects offline.ObjectFetcher
	if cfg.S3AccessKeyID != "" || cfg.S3Endpoint != "" {
		fetcher, err := offline.NewS3Fetcher(ctx, offline.S3Config{
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			UsePathStyle:    cfg.S3UsePathStyle,
		})
		if err != nil {
			return fmt.Errorf("init s3: %w", err)
		}
		objects = fetcher
	}

	library := offline.NewLibrary(cfg.MediaRoot, objects, logger)
	store := history.NewService(database, cache.Disabled(logger), events.NewBus(), cfg.ProfileID, logger)

	if downloadRemove {
		if err := library.DeleteTarget(target); err != nil {
			return err
		}
		if err := store.SetOffline(ctx, target.ID, false); err != nil {
			return err
		}
		logger.Info().Str("track_id", target.ID).Msg("offline copy removed")
		return nil
	}

	paths, err := library.DownloadTarget(ctx, target)
	if err != nil {
		return err
	}
	if err := store.SetOffline(ctx, target.ID, true); err != nil {
		return err
	}
	for id, path := range paths {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", id, path)
	}
	return nil
}

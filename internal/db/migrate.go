/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/friendsincode/tandem/internal/models"
)

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(
		&models.Track{},
		&models.ListeningState{},
		&models.LibraryEntry{},
	); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}

	if err := dropOrphanLibraryEntries(database); err != nil {
		return err
	}

	return nil
}

// dropOrphanLibraryEntries removes saved/offline marks for tracks that a
// catalog import no longer contains.
func dropOrphanLibraryEntries(database *gorm.DB) error {
	var count int64
	if err := database.Model(&models.Track{}).Count(&count).Error; err != nil {
		return fmt.Errorf("count tracks: %w", err)
	}
	if count == 0 {
		// Nothing imported yet; every entry would look orphaned.
		return nil
	}

	res := database.
		Where("track_id NOT IN (?)", database.Model(&models.Track{}).Select("id")).
		Delete(&models.LibraryEntry{})
	if res.Error != nil {
		return fmt.Errorf("drop orphan library entries: %w", res.Error)
	}
	return nil
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package catalog

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/friendsincode/tandem/internal/models"
)

// Repository persists the catalog in the database.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a catalog repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Load reads all top-level tracks with their blocks and builds a catalog.
func (r *Repository) Load(ctx context.Context) (*Catalog, error) {
	var tracks []models.Track
	err := r.db.WithContext(ctx).
		Where("session_id IS NULL").
		Order("position ASC").
		Preload("Blocks", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		Find(&tracks).Error
	if err != nil {
		return nil, fmt.Errorf("query tracks: %w", err)
	}
	return New(tracks)
}

// Replace swaps the stored catalog for c in a single transaction.
func (r *Repository) Replace(ctx context.Context, c *Catalog) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&models.Track{}).Error; err != nil {
			return fmt.Errorf("clear tracks: %w", err)
		}
		for _, t := range c.Tracks() {
			t := t
			if err := tx.Create(&t).Error; err != nil {
				return fmt.Errorf("create track %s: %w", t.ID, err)
			}
		}
		return nil
	})
}

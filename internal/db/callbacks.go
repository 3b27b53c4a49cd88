/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/tandem/internal/models"
	"github.com/friendsincode/tandem/internal/telemetry"
)

const (
	startedKey = "tandem:statement_started"

	// History writes land on every progress flush; anything slower than
	// this stalls the flusher noticeably.
	slowStatement = 250 * time.Millisecond
)

// tableLabels bounds the table label to the tables Tandem owns.
var tableLabels = map[string]bool{
	models.Track{}.TableName():          true,
	models.ListeningState{}.TableName(): true,
	models.LibraryEntry{}.TableName():   true,
}

type statementHook struct {
	op       string
	register func(before, after func(*gorm.DB)) error
}

// Instrument times every statement by operation and table, counts failures
// by kind and logs slow statements.
func Instrument(database *gorm.DB, logger zerolog.Logger) error {
	cb := database.Callback()
	hooks := []statementHook{
		{"query", func(before, after func(*gorm.DB)) error {
			if err := cb.Query().Before("gorm:query").Register("tandem:before_query", before); err != nil {
				return err
			}
			return cb.Query().After("gorm:query").Register("tandem:after_query", after)
		}},
		{"create", func(before, after func(*gorm.DB)) error {
			if err := cb.Create().Before("gorm:create").Register("tandem:before_create", before); err != nil {
				return err
			}
			return cb.Create().After("gorm:create").Register("tandem:after_create", after)
		}},
		{"update", func(before, after func(*gorm.DB)) error {
			if err := cb.Update().Before("gorm:update").Register("tandem:before_update", before); err != nil {
				return err
			}
			return cb.Update().After("gorm:update").Register("tandem:after_update", after)
		}},
		{"delete", func(before, after func(*gorm.DB)) error {
			if err := cb.Delete().Before("gorm:delete").Register("tandem:before_delete", before); err != nil {
				return err
			}
			return cb.Delete().After("gorm:delete").Register("tandem:after_delete", after)
		}},
	}

	logger = logger.With().Str("component", "db").Logger()
	for _, h := range hooks {
		if err := h.register(markStarted, observe(h.op, logger)); err != nil {
			return fmt.Errorf("instrument %s: %w", h.op, err)
		}
	}
	return nil
}

func markStarted(tx *gorm.DB) {
	tx.InstanceSet(startedKey, time.Now())
}

func observe(op string, logger zerolog.Logger) func(*gorm.DB) {
	return func(tx *gorm.DB) {
		v, ok := tx.InstanceGet(startedKey)
		if !ok {
			return
		}
		started, ok := v.(time.Time)
		if !ok {
			return
		}
		elapsed := time.Since(started)
		table := tableLabel(tx.Statement.Table)

		telemetry.DatabaseQueryDuration.WithLabelValues(op, table).Observe(elapsed.Seconds())
		if kind := errorKind(tx.Error); kind != "" {
			telemetry.DatabaseErrorsTotal.WithLabelValues(op, kind).Inc()
		}

		if elapsed >= slowStatement {
			logger.Warn().
				Str("operation", op).
				Str("table", table).
				Int64("rows", tx.RowsAffected).
				Dur("elapsed", elapsed).
				Msg("slow database statement")
		}
	}
}

func tableLabel(table string) string {
	switch {
	case tableLabels[table]:
		return table
	case table == "":
		return "unknown"
	default:
		return "other"
	}
}

// errorKind classifies a statement error. A missing row is not an error: the
// first read of a profile's listening state always misses.
func errorKind(err error) string {
	switch {
	case err == nil, errors.Is(err, gorm.ErrRecordNotFound):
		return ""
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return "duplicate"
	default:
		return "failed"
	}
}

// ReportPool publishes connection pool gauges every interval until ctx ends.
func ReportPool(ctx context.Context, database *gorm.DB, interval time.Duration) error {
	sqlDB, err := database.DB()
	if err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		stats := sqlDB.Stats()
		telemetry.DatabaseConnections.WithLabelValues("open").Set(float64(stats.OpenConnections))
		telemetry.DatabaseConnections.WithLabelValues("in_use").Set(float64(stats.InUse))
		telemetry.DatabaseConnections.WithLabelValues("idle").Set(float64(stats.Idle))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package history persists what the listener played last, where they
// stopped, and their saved and offline track sets.
package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/tandem/internal/cache"
	"github.com/friendsincode/tandem/internal/events"
	"github.com/friendsincode/tandem/internal/models"
	"github.com/friendsincode/tandem/internal/position"
)

// DefaultFlushInterval bounds how often progress ticks reach the database.
const DefaultFlushInterval = 5 * time.Second

// Snapshot is the history view for one profile.
type Snapshot struct {
	LastTrackID       string   `json:"last_track_id,omitempty"`
	LastPosition      float64  `json:"last_position"`
	PreviousTrackID   string   `json:"previous_track_id,omitempty"`
	PreviousPosition  float64  `json:"previous_position"`
	ContinuingCurrent bool     `json:"continuing_current"`
	RepeatOne         bool     `json:"repeat_one"`
	PanValue          float64  `json:"pan_value"`
	Saved             []string `json:"saved"`
	Offline           []string `json:"offline"`
}

// Store is the history surface the player and API depend on.
type Store interface {
	Get(ctx context.Context) (Snapshot, error)
	SetTrackHistory(ctx context.Context, trackID string, continuing bool) error
	UpdatePosition(ctx context.Context, trackID string, seconds float64) error
	Flush(ctx context.Context) error
	ClearHistory(ctx context.Context) error
	ToggleSaved(ctx context.Context, trackID string) (bool, error)
	ToggleOffline(ctx context.Context, trackID string) (bool, error)
	SetOffline(ctx context.Context, trackID string, offline bool) error
	ToggleRepeat(ctx context.Context) (bool, error)
	SetPan(ctx context.Context, v float64) error
	ResumePosition(ctx context.Context, target models.Track) (float64, bool, error)
}

// Service is the gorm-backed Store. Position updates go to the cache on every
// tick and reach the database at most once per flush interval.
type Service struct {
	db      *gorm.DB
	cache   *cache.Cache
	bus     *events.Bus
	profile string
	logger  zerolog.Logger

	flushInterval time.Duration

	mu        sync.Mutex
	pending   *cache.CachedPosition
	lastFlush time.Time
}

var _ Store = (*Service)(nil)

// NewService creates a history service for one profile. A nil cache disables
// hot position caching; a nil bus disables change notifications.
func NewService(db *gorm.DB, c *cache.Cache, bus *events.Bus, profileID string, logger zerolog.Logger) *Service {
	if profileID == "" {
		profileID = models.DefaultProfileID
	}
	if c == nil {
		c = cache.Disabled(logger)
	}
	return &Service{
		db:            db,
		cache:         c,
		bus:           bus,
		profile:       profileID,
		logger:        logger.With().Str("component", "history").Str("profile_id", profileID).Logger(),
		flushInterval: DefaultFlushInterval,
	}
}

// SetFlushInterval changes how often positions are written through.
func (s *Service) SetFlushInterval(d time.Duration) {
	s.mu.Lock()
	s.flushInterval = d
	s.mu.Unlock()
}

// ProfileID returns the profile the service is bound to.
func (s *Service) ProfileID() string {
	return s.profile
}

// Get returns the stored history with the freshest known position.
func (s *Service) Get(ctx context.Context) (Snapshot, error) {
	st, err := s.load(ctx, s.db)
	if err != nil {
		return Snapshot{}, err
	}
	s.overlayPosition(ctx, &st)

	snap := Snapshot{
		LastTrackID:       st.LastTrackID,
		LastPosition:      st.LastPosition,
		PreviousTrackID:   st.PreviousTrackID,
		PreviousPosition:  st.PreviousPosition,
		ContinuingCurrent: st.ContinuingCurrent,
		RepeatOne:         st.RepeatOne,
		PanValue:          st.PanValue,
	}
	if snap.Saved, err = s.list(ctx, models.LibrarySaved); err != nil {
		return Snapshot{}, err
	}
	if snap.Offline, err = s.list(ctx, models.LibraryOffline); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// SetTrackHistory records trackID as the last played target.
//
// Selecting the current target again only marks it as continuing. Continuing
// the previous target swaps it back with the last one, positions included.
// A fresh selection pushes the last target to previous, starts at zero and
// resets the pan to centre.
func (s *Service) SetTrackHistory(ctx context.Context, trackID string, continuing bool) error {
	if trackID == "" {
		return errors.New("track id required")
	}

	err := s.update(ctx, func(st *models.ListeningState) bool {
		if st.LastTrackID == trackID {
			if continuing && !st.ContinuingCurrent {
				st.ContinuingCurrent = true
				return true
			}
			return false
		}

		if continuing && st.PreviousTrackID == trackID {
			st.LastTrackID, st.PreviousTrackID = st.PreviousTrackID, st.LastTrackID
			st.LastPosition, st.PreviousPosition = st.PreviousPosition, st.LastPosition
			st.ContinuingCurrent = true
			return true
		}

		if st.LastTrackID != "" {
			st.PreviousTrackID = st.LastTrackID
			st.PreviousPosition = st.LastPosition
		}
		st.LastTrackID = trackID
		st.LastPosition = 0
		st.ContinuingCurrent = continuing
		if !continuing {
			st.PanValue = 0
		}
		return true
	})
	if err != nil {
		return err
	}

	s.logger.Debug().Str("track_id", trackID).Bool("continuing", continuing).Msg("track history updated")
	s.publish()
	return nil
}

// UpdatePosition records the session-relative position of trackID. Ticks for
// anything other than the last played target are ignored.
func (s *Service) UpdatePosition(ctx context.Context, trackID string, seconds float64) error {
	if seconds < 0 {
		seconds = 0
	}
	now := time.Now()
	pos := cache.CachedPosition{TrackID: trackID, Position: seconds, UpdatedAt: now}

	s.mu.Lock()
	s.pending = &pos
	due := !s.cache.IsAvailable() || now.Sub(s.lastFlush) >= s.flushInterval
	s.mu.Unlock()

	if err := s.cache.SetPosition(ctx, s.profile, pos); err != nil {
		s.logger.Debug().Err(err).Msg("cache position write failed")
	}

	if due {
		return s.Flush(ctx)
	}
	return nil
}

// Flush writes the pending position to the database.
func (s *Service) Flush(ctx context.Context) error {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.lastFlush = time.Now()
	s.mu.Unlock()

	if pending == nil {
		return nil
	}

	res := s.db.WithContext(ctx).
		Model(&models.ListeningState{}).
		Where("profile_id = ? AND last_track_id = ?", s.profile, pending.TrackID).
		Update("last_position", pending.Position)
	if res.Error != nil {
		return fmt.Errorf("flush position: %w", res.Error)
	}
	return nil
}

// ClearHistory forgets the last and previous targets.
func (s *Service) ClearHistory(ctx context.Context) error {
	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()

	err := s.update(ctx, func(st *models.ListeningState) bool {
		st.LastTrackID = ""
		st.LastPosition = 0
		st.PreviousTrackID = ""
		st.PreviousPosition = 0
		st.ContinuingCurrent = false
		return true
	})
	if err != nil {
		return err
	}
	if err := s.cache.InvalidatePosition(ctx, s.profile); err != nil {
		s.logger.Debug().Err(err).Msg("invalidate cached position")
	}
	s.publish()
	return nil
}

// ToggleSaved flips the saved mark on trackID and reports the new value.
func (s *Service) ToggleSaved(ctx context.Context, trackID string) (bool, error) {
	return s.toggle(ctx, models.LibrarySaved, trackID)
}

// ToggleOffline flips the offline mark on trackID and reports the new value.
func (s *Service) ToggleOffline(ctx context.Context, trackID string) (bool, error) {
	return s.toggle(ctx, models.LibraryOffline, trackID)
}

// SetOffline sets the offline mark on trackID.
func (s *Service) SetOffline(ctx context.Context, trackID string, offline bool) error {
	has, err := s.has(ctx, s.db, models.LibraryOffline, trackID)
	if err != nil {
		return err
	}
	if has == offline {
		return nil
	}
	_, err = s.toggle(ctx, models.LibraryOffline, trackID)
	return err
}

// ToggleRepeat flips repeat mode and reports the new value.
func (s *Service) ToggleRepeat(ctx context.Context) (bool, error) {
	var repeat bool
	err := s.update(ctx, func(st *models.ListeningState) bool {
		st.RepeatOne = !st.RepeatOne
		repeat = st.RepeatOne
		return true
	})
	if err != nil {
		return false, err
	}
	s.publish()
	return repeat, nil
}

// SetPan stores the pan value, clamped to [-1, 1].
func (s *Service) SetPan(ctx context.Context, v float64) error {
	if v < -1 {
		v = -1
	} else if v > 1 {
		v = 1
	}
	return s.update(ctx, func(st *models.ListeningState) bool {
		if st.PanValue == v {
			return false
		}
		st.PanValue = v
		return true
	})
}

// ResumePosition returns where trackID was left, if it is the last or the
// previous target. The position is clamped to the target duration.
func (s *Service) ResumePosition(ctx context.Context, target models.Track) (float64, bool, error) {
	snap, err := s.Get(ctx)
	if err != nil {
		return 0, false, err
	}
	switch target.ID {
	case snap.LastTrackID:
		return position.Clamp(snap.LastPosition, position.TotalSeconds(target)), true, nil
	case snap.PreviousTrackID:
		return position.Clamp(snap.PreviousPosition, position.TotalSeconds(target)), true, nil
	}
	return 0, false, nil
}

func (s *Service) load(ctx context.Context, tx *gorm.DB) (models.ListeningState, error) {
	var st models.ListeningState
	err := tx.WithContext(ctx).First(&st, "profile_id = ?", s.profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.ListeningState{ProfileID: s.profile}, nil
	}
	if err != nil {
		return st, fmt.Errorf("load listening state: %w", err)
	}
	return st, nil
}

// update applies fn to the stored state inside a transaction, after folding
// in any pending position. fn reports whether it changed anything.
func (s *Service) update(ctx context.Context, fn func(*models.ListeningState) bool) error {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		st, err := s.load(ctx, tx)
		if err != nil {
			return err
		}
		dirty := false
		if pending != nil && pending.TrackID == st.LastTrackID && pending.Position != st.LastPosition {
			st.LastPosition = pending.Position
			dirty = true
		}
		if fn(&st) {
			dirty = true
		}
		if !dirty {
			return nil
		}
		if err := tx.Save(&st).Error; err != nil {
			return fmt.Errorf("save listening state: %w", err)
		}
		return nil
	})
}

func (s *Service) overlayPosition(ctx context.Context, st *models.ListeningState) {
	s.mu.Lock()
	pending := s.pending
	s.mu.Unlock()

	if pending == nil {
		cached, ok := s.cache.GetPosition(ctx, s.profile)
		if !ok {
			return
		}
		pending = cached
	}
	if pending.TrackID == st.LastTrackID && pending.UpdatedAt.After(st.UpdatedAt) {
		st.LastPosition = pending.Position
	}
}

func (s *Service) list(ctx context.Context, kind models.LibraryKind) ([]string, error) {
	ids := []string{}
	err := s.db.WithContext(ctx).
		Model(&models.LibraryEntry{}).
		Where("profile_id = ? AND kind = ?", s.profile, kind).
		Order("created_at ASC").
		Pluck("track_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}
	return ids, nil
}

func (s *Service) has(ctx context.Context, tx *gorm.DB, kind models.LibraryKind, trackID string) (bool, error) {
	var count int64
	err := tx.WithContext(ctx).
		Model(&models.LibraryEntry{}).
		Where("profile_id = ? AND kind = ? AND track_id = ?", s.profile, kind, trackID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("lookup %s entry: %w", kind, err)
	}
	return count > 0, nil
}

func (s *Service) toggle(ctx context.Context, kind models.LibraryKind, trackID string) (bool, error) {
	if trackID == "" {
		return false, errors.New("track id required")
	}

	var marked bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		has, err := s.has(ctx, tx, kind, trackID)
		if err != nil {
			return err
		}
		if has {
			err := tx.Where("profile_id = ? AND kind = ? AND track_id = ?", s.profile, kind, trackID).
				Delete(&models.LibraryEntry{}).Error
			if err != nil {
				return fmt.Errorf("remove %s entry: %w", kind, err)
			}
			return nil
		}
		entry := models.LibraryEntry{
			ID:        uuid.NewString(),
			ProfileID: s.profile,
			TrackID:   trackID,
			Kind:      kind,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return fmt.Errorf("add %s entry: %w", kind, err)
		}
		marked = true
		return nil
	})
	if err != nil {
		return false, err
	}

	s.logger.Debug().Str("track_id", trackID).Str("kind", string(kind)).Bool("marked", marked).Msg("library entry toggled")
	s.publish()
	return marked, nil
}

func (s *Service) publish() {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.EventHistoryUpdated, events.Payload{"profile_id": s.profile})
}

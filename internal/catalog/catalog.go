/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package catalog resolves track and block ids to playback targets.
package catalog

import (
	"errors"
	"fmt"

	"github.com/friendsincode/tandem/internal/models"
)

var (
	// ErrNotFound indicates an id matches nothing in the catalog.
	ErrNotFound = errors.New("track not found")

	// ErrDuplicateID indicates two catalog entries share an id.
	ErrDuplicateID = errors.New("duplicate track id")

	// ErrEmptySession indicates a composite track without blocks.
	ErrEmptySession = errors.New("composite session has no blocks")

	// ErrNestedSession indicates a block that is itself composite.
	ErrNestedSession = errors.New("block cannot be composite")

	// ErrInvalidTrack indicates a track with a missing id or negative duration.
	ErrInvalidTrack = errors.New("invalid track")
)

// Catalog is an immutable, indexed view over the playable tracks.
type Catalog struct {
	tracks []models.Track
	index  map[string]int // top-level id -> position in tracks
	owners map[string]int // block id -> position of owning session in tracks
}

// New validates the tracks and builds the id indexes. Session durations are
// recomputed from their blocks.
func New(tracks []models.Track) (*Catalog, error) {
	c := &Catalog{
		tracks: make([]models.Track, 0, len(tracks)),
		index:  make(map[string]int, len(tracks)),
		owners: make(map[string]int),
	}

	seen := make(map[string]bool)
	claim := func(id string) error {
		if id == "" {
			return fmt.Errorf("%w: empty id", ErrInvalidTrack)
		}
		if seen[id] {
			return fmt.Errorf("%w: %q", ErrDuplicateID, id)
		}
		seen[id] = true
		return nil
	}

	for i, t := range tracks {
		if err := claim(t.ID); err != nil {
			return nil, err
		}
		if t.Duration < 0 {
			return nil, fmt.Errorf("%w: %q has negative duration", ErrInvalidTrack, t.ID)
		}
		t.Position = i
		t.SessionID = nil

		if t.Composite {
			if len(t.Blocks) == 0 {
				return nil, fmt.Errorf("%w: %q", ErrEmptySession, t.ID)
			}
			sessionID := t.ID
			blocks := make([]models.Track, len(t.Blocks))
			total := 0
			for j, b := range t.Blocks {
				if err := claim(b.ID); err != nil {
					return nil, err
				}
				if b.Composite || len(b.Blocks) > 0 {
					return nil, fmt.Errorf("%w: %q in %q", ErrNestedSession, b.ID, t.ID)
				}
				if b.Duration < 0 {
					return nil, fmt.Errorf("%w: %q has negative duration", ErrInvalidTrack, b.ID)
				}
				b.SessionID = &sessionID
				b.Position = j
				blocks[j] = b
				total += b.Duration
			}
			t.Blocks = blocks
			t.Duration = total
		} else if len(t.Blocks) > 0 {
			return nil, fmt.Errorf("%w: %q has blocks but is not composite", ErrInvalidTrack, t.ID)
		}

		pos := len(c.tracks)
		c.tracks = append(c.tracks, t)
		c.index[t.ID] = pos
		for _, b := range t.Blocks {
			c.owners[b.ID] = pos
		}
	}

	return c, nil
}

// Tracks returns the top-level catalog entries in catalog order.
func (c *Catalog) Tracks() []models.Track {
	out := make([]models.Track, len(c.tracks))
	copy(out, c.tracks)
	return out
}

// Len returns the number of top-level entries.
func (c *Catalog) Len() int {
	return len(c.tracks)
}

// Resolve returns the playback target for any track or block id: the owning
// session for a block id, otherwise the track itself.
func (c *Catalog) Resolve(id string) (models.Track, error) {
	if pos, ok := c.owners[id]; ok {
		return c.tracks[pos], nil
	}
	if pos, ok := c.index[id]; ok {
		return c.tracks[pos], nil
	}
	return models.Track{}, fmt.Errorf("%w: %q", ErrNotFound, id)
}

// ResolveTarget is the never-failing form of Resolve: a track nothing owns
// resolves to itself.
func (c *Catalog) ResolveTarget(t models.Track) models.Track {
	if t.IsComposite() {
		return t
	}
	if resolved, err := c.Resolve(t.ID); err == nil {
		return resolved
	}
	return t
}

// Lookup returns the raw entry for an id, including blocks.
func (c *Catalog) Lookup(id string) (models.Track, bool) {
	if pos, ok := c.index[id]; ok {
		return c.tracks[pos], true
	}
	if pos, ok := c.owners[id]; ok {
		session := c.tracks[pos]
		if i := session.BlockIndex(id); i >= 0 {
			return session.Blocks[i], true
		}
	}
	return models.Track{}, false
}

// IsActive reports whether the primary engine's current item belongs to target.
func IsActive(target models.Track, currentPrimaryID string) bool {
	if currentPrimaryID == "" {
		return false
	}
	if target.ID == currentPrimaryID {
		return true
	}
	return target.IsComposite() && target.BlockIndex(currentPrimaryID) >= 0
}

// TotalDuration returns the playable length of target in seconds.
func TotalDuration(target models.Track) int {
	if !target.IsComposite() {
		return target.Duration
	}
	total := 0
	for _, b := range target.Blocks {
		total += b.Duration
	}
	return total
}

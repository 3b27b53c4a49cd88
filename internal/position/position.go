/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package position converts between session time and block-local time.
//
// Every block covers the half-open range [start, end) of session time, except
// the final block, which is closed at the session end. A time that lands
// exactly on a boundary therefore belongs to the start of the following block.
// A plain (non-composite) track behaves as a session with one block.
package position

import "github.com/friendsincode/tandem/internal/models"

// Cursor locates the primary engine inside a target.
type Cursor struct {
	SessionID     string  `json:"session_id"`
	BlockIndex    int     `json:"block_index"`
	BlockPosition float64 `json:"block_position"`
}

// SessionTime returns the cursor's position in session time.
func (c Cursor) SessionTime(target models.Track) float64 {
	return BlockToSessionTime(target, c.BlockIndex, c.BlockPosition)
}

// CursorFor builds a cursor from the id of the item the primary engine is
// playing and its in-item position. It reports false when the id does not
// belong to target.
func CursorFor(target models.Track, activeID string, blockPosition float64) (Cursor, bool) {
	if !target.IsComposite() {
		if activeID != target.ID {
			return Cursor{}, false
		}
		return Cursor{SessionID: target.ID, BlockPosition: blockPosition}, true
	}
	idx := target.BlockIndex(activeID)
	if idx < 0 {
		return Cursor{}, false
	}
	return Cursor{SessionID: target.ID, BlockIndex: idx, BlockPosition: blockPosition}, true
}

// TotalSeconds returns the session length as float seconds.
func TotalSeconds(target models.Track) float64 {
	durations := blockDurations(target)
	total := 0.0
	for _, d := range durations {
		total += d
	}
	return total
}

// SessionTimeToBlock maps session time to a block index and block-local time.
// Times past the end clamp to the end of the last block, negative times clamp
// to zero.
func SessionTimeToBlock(target models.Track, sessionTime float64) (int, float64) {
	durations := blockDurations(target)
	if sessionTime < 0 {
		sessionTime = 0
	}

	start := 0.0
	for i, d := range durations {
		if sessionTime < start+d {
			return i, sessionTime - start
		}
		start += d
	}

	last := len(durations) - 1
	return last, durations[last]
}

// BlockToSessionTime returns the session time of a block-local position.
// Out-of-range indexes are clamped to the first or last block.
func BlockToSessionTime(target models.Track, blockIndex int, blockTime float64) float64 {
	durations := blockDurations(target)
	if blockIndex < 0 {
		blockIndex = 0
	}
	if blockIndex >= len(durations) {
		blockIndex = len(durations) - 1
	}

	start := 0.0
	for _, d := range durations[:blockIndex] {
		start += d
	}
	return start + blockTime
}

// Clamp bounds a session time to [0, total].
func Clamp(sessionTime, total float64) float64 {
	if sessionTime < 0 {
		return 0
	}
	if sessionTime > total {
		return total
	}
	return sessionTime
}

func blockDurations(target models.Track) []float64 {
	if !target.IsComposite() {
		return []float64{float64(target.Duration)}
	}
	out := make([]float64, len(target.Blocks))
	for i, b := range target.Blocks {
		out[i] = float64(b.Duration)
	}
	return out
}

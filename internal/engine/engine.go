/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package engine defines the primary playback engine: a queue of items with
// transport controls, progress reporting and output volume.
package engine

import (
	"context"
	"errors"

	"github.com/friendsincode/tandem/internal/models"
)

var (
	// ErrEmptyQueue indicates a transport call on an empty queue.
	ErrEmptyQueue = errors.New("queue is empty")

	// ErrIndexOutOfRange indicates a skip to an index outside the queue.
	ErrIndexOutOfRange = errors.New("queue index out of range")

	// ErrNoNextItem indicates SkipToNext on the last item.
	ErrNoNextItem = errors.New("no next item in queue")
)

// TransportState is the primary engine's playback state.
type TransportState string

const (
	TransportNone      TransportState = "none"
	TransportReady     TransportState = "ready"
	TransportBuffering TransportState = "buffering"
	TransportPlaying   TransportState = "playing"
	TransportPaused    TransportState = "paused"
	TransportEnded     TransportState = "ended"
)

// QueueItem is one entry in the engine queue.
type QueueItem struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Artist   string  `json:"artist"`
	Artwork  string  `json:"artwork,omitempty"`
	URL      string  `json:"url"`
	Duration float64 `json:"duration"` // Seconds
	Type     string  `json:"type,omitempty"`
}

// ItemFromTrack builds a queue item that plays url for track t.
func ItemFromTrack(t models.Track, url string) QueueItem {
	if url == "" {
		url = t.Source
	}
	return QueueItem{
		ID:       t.ID,
		Title:    t.Title,
		Artist:   t.Artist,
		Artwork:  t.Artwork,
		URL:      url,
		Duration: float64(t.Duration),
		Type:     t.Type,
	}
}

// Progress is the position within the active item.
type Progress struct {
	Position float64 `json:"position"`
	Duration float64 `json:"duration"`
}

// Engine is the primary playback engine. Every call may block on audio I/O.
type Engine interface {
	Reset(ctx context.Context) error
	Add(ctx context.Context, items []QueueItem) error
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	SeekTo(ctx context.Context, seconds float64) error
	Skip(ctx context.Context, index int) error
	SkipToNext(ctx context.Context) error
	SkipToPrevious(ctx context.Context) error
	SetVolume(ctx context.Context, volume float64) error
	Progress(ctx context.Context) (Progress, error)
	ActiveIndex(ctx context.Context) (int, error) // -1 when the queue is empty
	State(ctx context.Context) (TransportState, error)
	Queue(ctx context.Context) ([]QueueItem, error)
}

// ActiveItem returns the active queue item, or false when nothing is queued.
func ActiveItem(ctx context.Context, e Engine) (QueueItem, int, bool, error) {
	idx, err := e.ActiveIndex(ctx)
	if err != nil {
		return QueueItem{}, -1, false, err
	}
	if idx < 0 {
		return QueueItem{}, -1, false, nil
	}
	queue, err := e.Queue(ctx)
	if err != nil {
		return QueueItem{}, -1, false, err
	}
	if idx >= len(queue) {
		return QueueItem{}, -1, false, nil
	}
	return queue[idx], idx, true, nil
}

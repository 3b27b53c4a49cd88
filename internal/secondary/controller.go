/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package secondary owns the panning stream that plays alongside the primary
// engine. The controller is the only holder of the stream handle.
package secondary

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog"

	"github.com/friendsincode/tandem/internal/telemetry"
)

var (
	// ErrLoadFailure indicates the secondary stream could not be opened or
	// configured. The primary engine keeps playing unpanned.
	ErrLoadFailure = errors.New("secondary stream load failed")

	// ErrStale indicates the operation was superseded by a newer load or a
	// release before it could finish.
	ErrStale = errors.New("secondary operation superseded")

	// ErrClosed indicates the controller has been disposed.
	ErrClosed = errors.New("secondary controller closed")
)

// DefaultDriftTolerance is the drift in seconds tolerated before a reseek.
// Stream positions are decoder positions; both streams share one output, so
// buffering ahead of the speaker cancels out of the drift. A tolerance below
// the output buffer length would still reseek on resampler lookahead alone.
const DefaultDriftTolerance = 1.0

// State is the controller lifecycle state.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateReady   State = "ready"
)

// Stream is a loaded, pannable audio stream.
type Stream interface {
	Play() error
	Pause() error
	Playing() bool
	Position() float64 // Seconds
	Seek(seconds float64) error
	SetPan(pan float64) error // -1 (left) .. 1 (right)
	SetVolume(volume float64) error
	Release() error
}

// Opener opens a stream for a source URL or path.
type Opener interface {
	Open(ctx context.Context, source string) (Stream, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, source string) (Stream, error)

// Open implements Opener.
func (f OpenerFunc) Open(ctx context.Context, source string) (Stream, error) {
	return f(ctx, source)
}

// PrimaryVolume is the slice of the primary engine the controller drives:
// it mutes the primary while the secondary carries the audio.
type PrimaryVolume interface {
	SetVolume(ctx context.Context, volume float64) error
}

// SyncState is the runtime view of the last synchronization.
type SyncState struct {
	PrimaryIsPlaying       bool    `json:"primary_is_playing"`
	PrimaryPositionSeconds float64 `json:"primary_position_seconds"`
	SecondaryLoaded        bool    `json:"secondary_loaded"`
	SecondaryURL           string  `json:"secondary_url,omitempty"`
	PanValue               float64 `json:"pan_value"`
	State                  State   `json:"state"`
}

// SyncResult reports what a SyncPlayback call changed.
type SyncResult struct {
	Started  bool
	Paused   bool
	Reseeked bool
	Drift    float64 // primary minus secondary, seconds
}

// Controller loads, synchronizes and releases the secondary stream.
type Controller struct {
	opener    Opener
	primary   PrimaryVolume
	tolerance float64
	logger    zerolog.Logger

	mu          sync.Mutex
	gen         uint64
	state       State
	stream      Stream
	source      string
	pan         float64
	lastPlaying bool
	lastPos     float64
	closed      bool
}

// NewController creates an idle controller. A non-positive tolerance selects
// DefaultDriftTolerance.
func NewController(opener Opener, primary PrimaryVolume, tolerance float64, logger zerolog.Logger) *Controller {
	if tolerance <= 0 {
		tolerance = DefaultDriftTolerance
	}
	return &Controller{
		opener:    opener,
		primary:   primary,
		tolerance: tolerance,
		state:     StateIdle,
		logger:    logger.With().Str("component", "secondary").Logger(),
	}
}

// Load replaces the current stream with one opened from source. Any existing
// stream is released before the new one is opened.
func (c *Controller) Load(ctx context.Context, source string, initialPan float64) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.gen++
	gen := c.gen
	old := c.stream
	c.stream = nil
	c.state = StateLoading
	c.source = source
	c.pan = clampPan(initialPan)
	c.mu.Unlock()

	if old != nil {
		c.releaseStream(old)
	}

	stream, err := c.opener.Open(ctx, source)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		if stream != nil {
			c.releaseStream(stream)
		}
		telemetry.SecondaryLoadsTotal.WithLabelValues("stale").Inc()
		telemetry.StaleOperationsTotal.WithLabelValues("secondary").Inc()
		return ErrStale
	}
	if err != nil {
		c.state = StateIdle
		c.source = ""
		c.mu.Unlock()
		return c.loadFailed(ctx, source, "secondary stream load failed", err)
	}
	pan := c.pan
	c.mu.Unlock()

	if err := c.configure(ctx, stream, pan); err != nil {
		c.releaseStream(stream)
		c.mu.Lock()
		current := gen == c.gen
		if current {
			c.state = StateIdle
			c.source = ""
		}
		c.mu.Unlock()
		if !current {
			telemetry.SecondaryLoadsTotal.WithLabelValues("stale").Inc()
			telemetry.StaleOperationsTotal.WithLabelValues("secondary").Inc()
			return ErrStale
		}
		return c.loadFailed(ctx, source, "secondary stream setup failed", err)
	}

	c.mu.Lock()
	if gen != c.gen {
		// A release may have restored the primary volume before we muted it.
		// Unmute unless a newer stream already took over.
		restore := c.state != StateReady
		c.mu.Unlock()
		c.releaseStream(stream)
		if restore {
			c.restorePrimary(ctx)
		}
		telemetry.SecondaryLoadsTotal.WithLabelValues("stale").Inc()
		telemetry.StaleOperationsTotal.WithLabelValues("secondary").Inc()
		return ErrStale
	}
	c.stream = stream
	c.state = StateReady
	latestPan := c.pan
	c.mu.Unlock()

	if latestPan != pan {
		if err := stream.SetPan(latestPan); err != nil {
			c.logger.Debug().Err(err).Msg("apply pan after load")
		}
	}

	telemetry.SecondaryLoadsTotal.WithLabelValues("ok").Inc()
	c.logger.Info().Str("source", source).Float64("pan", latestPan).Msg("secondary stream ready")
	return nil
}

// loadFailed unmutes the primary, since the previous stream (if any) is
// already gone, and wraps err in ErrLoadFailure.
func (c *Controller) loadFailed(ctx context.Context, source, msg string, err error) error {
	telemetry.SecondaryLoadsTotal.WithLabelValues("failed").Inc()
	c.logger.Warn().Err(err).Str("source", source).Msg(msg)
	if rerr := c.restorePrimary(ctx); rerr != nil {
		c.logger.Error().Err(rerr).Msg("primary left muted after failed load")
	}
	return fmt.Errorf("%w: %w", ErrLoadFailure, err)
}

func (c *Controller) configure(ctx context.Context, stream Stream, pan float64) error {
	if err := stream.SetPan(pan); err != nil {
		return fmt.Errorf("set pan: %w", err)
	}
	if err := stream.SetVolume(1); err != nil {
		return fmt.Errorf("set volume: %w", err)
	}
	if err := c.primary.SetVolume(ctx, 0); err != nil {
		return fmt.Errorf("mute primary: %w", err)
	}
	return nil
}

// SetPan clamps v to [-1, 1] and applies it to the loaded stream, or keeps it
// for the next load.
func (c *Controller) SetPan(v float64) error {
	v = clampPan(v)

	c.mu.Lock()
	c.pan = v
	stream := c.stream
	c.mu.Unlock()

	if stream == nil {
		return nil
	}
	if err := stream.SetPan(v); err != nil {
		return fmt.Errorf("set pan: %w", err)
	}
	return nil
}

// SyncPlayback mirrors the primary transport onto the secondary stream and
// reseeks it when the drift exceeds the tolerance. It is a no-op when no
// stream is loaded.
func (c *Controller) SyncPlayback(shouldBePlaying bool, primaryPosition float64) (SyncResult, error) {
	c.mu.Lock()
	c.lastPlaying = shouldBePlaying
	c.lastPos = primaryPosition
	stream := c.stream
	gen := c.gen
	c.mu.Unlock()

	var res SyncResult
	if stream == nil {
		return res, nil
	}

	playing := stream.Playing()
	switch {
	case shouldBePlaying && !playing:
		if err := stream.Play(); err != nil {
			return res, c.streamError(gen, "play", err)
		}
		res.Started = true
	case !shouldBePlaying && playing:
		if err := stream.Pause(); err != nil {
			return res, c.streamError(gen, "pause", err)
		}
		res.Paused = true
	}

	res.Drift = primaryPosition - stream.Position()
	drift := math.Abs(res.Drift)
	telemetry.DriftSeconds.Observe(drift)

	if drift > c.tolerance {
		if err := stream.Seek(primaryPosition); err != nil {
			return res, c.streamError(gen, "seek", err)
		}
		res.Reseeked = true
		telemetry.DriftReseeksTotal.Inc()
		c.logger.Debug().
			Float64("drift", res.Drift).
			Float64("position", primaryPosition).
			Msg("secondary drift corrected")
	}

	return res, nil
}

// Seek moves the loaded stream to seconds.
func (c *Controller) Seek(seconds float64) error {
	c.mu.Lock()
	stream := c.stream
	gen := c.gen
	c.mu.Unlock()

	if stream == nil {
		return nil
	}
	if err := stream.Seek(seconds); err != nil {
		return c.streamError(gen, "seek", err)
	}
	return nil
}

// Release stops and frees the stream and restores the primary volume. It is
// safe to call at any time, any number of times.
func (c *Controller) Release(ctx context.Context) error {
	c.mu.Lock()
	c.gen++
	stream := c.stream
	c.stream = nil
	c.state = StateIdle
	c.source = ""
	c.lastPlaying = false
	c.mu.Unlock()

	if stream != nil {
		c.releaseStream(stream)
		c.logger.Debug().Msg("secondary stream released")
	}
	return c.restorePrimary(ctx)
}

// Close releases the stream and refuses further loads.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.Release(ctx)
}

// State returns the lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Source returns the source being loaded or played, or "" when idle.
func (c *Controller) Source() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.source
}

// Pan returns the current pan value.
func (c *Controller) Pan() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pan
}

// Tolerance returns the drift tolerance in seconds.
func (c *Controller) Tolerance() float64 {
	return c.tolerance
}

// Snapshot returns the current SyncState.
func (c *Controller) Snapshot() SyncState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return SyncState{
		PrimaryIsPlaying:       c.lastPlaying,
		PrimaryPositionSeconds: c.lastPos,
		SecondaryLoaded:        c.state == StateReady,
		SecondaryURL:           c.source,
		PanValue:               c.pan,
		State:                  c.state,
	}
}

func (c *Controller) streamError(gen uint64, op string, err error) error {
	c.mu.Lock()
	stale := gen != c.gen
	c.mu.Unlock()
	if stale {
		return ErrStale
	}
	return fmt.Errorf("secondary %s: %w", op, err)
}

func (c *Controller) releaseStream(s Stream) {
	if err := s.Pause(); err != nil {
		c.logger.Debug().Err(err).Msg("pause before release")
	}
	if err := s.Release(); err != nil {
		c.logger.Debug().Err(err).Msg("release stream")
	}
}

func (c *Controller) restorePrimary(ctx context.Context) error {
	if err := c.primary.SetVolume(ctx, 1); err != nil {
		return fmt.Errorf("restore primary volume: %w", err)
	}
	return nil
}

func clampPan(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(-1, math.Min(1, v))
}

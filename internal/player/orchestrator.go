/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package player turns listener intent (select, seek, skip, toggle, remote
// controls) into primary engine calls. Sessions are presented as one logical
// track: positions are session-relative and mapped onto blocks here.
package player

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/friendsincode/tandem/internal/cache"
	"github.com/friendsincode/tandem/internal/catalog"
	"github.com/friendsincode/tandem/internal/engine"
	"github.com/friendsincode/tandem/internal/events"
	"github.com/friendsincode/tandem/internal/history"
	"github.com/friendsincode/tandem/internal/models"
	"github.com/friendsincode/tandem/internal/offline"
	"github.com/friendsincode/tandem/internal/position"
	"github.com/friendsincode/tandem/internal/secondary"
	"github.com/friendsincode/tandem/internal/telemetry"
)

// Catalog resolves ids to playback targets.
type Catalog interface {
	Resolve(id string) (models.Track, error)
	ResolveTarget(t models.Track) models.Track
}

// Poker asks the engine poller for an immediate sample.
type Poker interface {
	Poke()
}

// Deps are the collaborators of an Orchestrator. Resolver, History, Cache
// and Poller are optional.
type Deps struct {
	Catalog   Catalog
	Engine    engine.Engine
	Secondary *secondary.Controller
	Resolver  offline.Resolver
	History   history.Store
	Cache     *cache.Cache
	Bus       *events.Bus
	Poller    Poker
	ProfileID string
}

// SelectOptions tune a selection.
type SelectOptions struct {
	ResumeAt    float64 // Session seconds to start from
	Continuing  bool    // Resuming from history rather than a fresh pick
	SkipHistory bool
}

// nowPlayingInterval throttles now-playing publications on progress ticks.
const nowPlayingInterval = time.Second

// Orchestrator owns the playback target and drives the primary engine.
type Orchestrator struct {
	catalog   Catalog
	engine    engine.Engine
	secondary *secondary.Controller
	resolver  offline.Resolver
	history   history.Store
	cache     *cache.Cache
	bus       *events.Bus
	poller    Poker
	profile   string
	logger    zerolog.Logger

	mu           sync.Mutex
	gen          uint64
	target       *models.Track
	state        State
	repeat       bool
	lastPosition float64 // Session seconds, from the latest progress tick
	wasPlaying   bool    // Playing when the last duck began
	lastNotify   time.Time
}

// New creates an orchestrator in the stopped state.
func New(deps Deps, logger zerolog.Logger) *Orchestrator {
	profile := deps.ProfileID
	if profile == "" {
		profile = models.DefaultProfileID
	}
	o := &Orchestrator{
		catalog:   deps.Catalog,
		engine:    deps.Engine,
		secondary: deps.Secondary,
		resolver:  deps.Resolver,
		history:   deps.History,
		cache:     deps.Cache,
		bus:       deps.Bus,
		poller:    deps.Poller,
		profile:   profile,
		logger:    logger.With().Str("component", "player").Logger(),
		state:     StateStopped,
	}
	telemetry.SetPlayerState(string(StateStopped), AllStates)
	return o
}

// Restore applies the stored repeat flag and pan value.
func (o *Orchestrator) Restore(ctx context.Context) error {
	if o.history == nil {
		return nil
	}
	snap, err := o.history.Get(ctx)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	o.mu.Lock()
	o.repeat = snap.RepeatOne
	o.mu.Unlock()
	return o.secondary.SetPan(snap.PanValue)
}

// Target returns the selected playback target.
func (o *Orchestrator) Target() (models.Track, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.target == nil {
		return models.Track{}, false
	}
	return *o.target, true
}

// State returns the current player state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Repeat reports whether repeat mode is on.
func (o *Orchestrator) Repeat() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.repeat
}

// SelectTrack resolves id and selects the resulting target.
func (o *Orchestrator) SelectTrack(ctx context.Context, id string, opts SelectOptions) error {
	t, err := o.catalog.Resolve(id)
	if err != nil {
		return err
	}
	return o.SelectTarget(ctx, t, opts)
}

// Continue selects id at the position history remembers for it.
func (o *Orchestrator) Continue(ctx context.Context, id string) error {
	t, err := o.catalog.Resolve(id)
	if err != nil {
		return err
	}
	opts := SelectOptions{Continuing: true}
	if o.history != nil {
		at, ok, err := o.history.ResumePosition(ctx, t)
		if err != nil {
			return err
		}
		if ok {
			opts.ResumeAt = at
		}
	}
	return o.SelectTarget(ctx, t, opts)
}

// SelectTarget makes t the playback target. If t is already playing in the
// engine the call toggles play/pause instead. Otherwise the queue is rebuilt
// from t's blocks (or t itself) and playback starts, at opts.ResumeAt when
// set. A newer selection made while this one is in flight makes it return
// ErrStale.
func (o *Orchestrator) SelectTarget(ctx context.Context, t models.Track, opts SelectOptions) error {
	t = o.catalog.ResolveTarget(t)
	ctx, span := telemetry.StartSpan(ctx, "player.select",
		attribute.String("target_id", t.ID),
		attribute.Bool("continuing", opts.Continuing),
	)
	err := o.selectTarget(ctx, t, opts)
	telemetry.EndSpan(span, err)
	return err
}

func (o *Orchestrator) selectTarget(ctx context.Context, t models.Track, opts SelectOptions) error {
	if active, err := o.isActive(ctx, t); err != nil {
		return err
	} else if active {
		return o.Toggle(ctx)
	}

	o.mu.Lock()
	o.gen++
	gen := o.gen
	prev := o.target
	prevPos := o.lastPosition
	o.target = &t
	o.lastPosition = 0
	o.setStateLocked(StateLoading)
	o.mu.Unlock()

	o.logger.Info().Str("target_id", t.ID).Bool("composite", t.IsComposite()).Msg("selecting target")

	if o.history != nil {
		if prev != nil && prev.ID != t.ID {
			o.saveHistory(ctx, prev.ID, prevPos)
		}
		if !opts.SkipHistory {
			if err := o.history.SetTrackHistory(ctx, t.ID, opts.Continuing); err != nil {
				o.logger.Warn().Err(err).Str("target_id", t.ID).Msg("record track history")
			}
		}
	}

	if err := o.secondary.Release(ctx); err != nil {
		o.logger.Debug().Err(err).Msg("release secondary before select")
	}

	steps := []struct {
		op  string
		run func() error
	}{
		{"reset", func() error { return o.engine.Reset(ctx) }},
		{"add", func() error { return o.engine.Add(ctx, o.queueItems(ctx, t)) }},
		{"play", func() error { return o.engine.Play(ctx) }},
	}
	for _, step := range steps {
		if !o.current(gen) {
			return o.stale()
		}
		if err := step.run(); err != nil {
			return o.failSelect(gen, step.op, err)
		}
	}
	if !o.current(gen) {
		return o.stale()
	}

	if opts.ResumeAt > 0 {
		if err := o.seekSession(ctx, t, opts.ResumeAt); err != nil {
			var te *TransportError
			if errors.As(err, &te) {
				return o.failSelect(gen, te.Op, te.Err)
			}
			return err
		}
		if !o.current(gen) {
			return o.stale()
		}
	}

	o.mu.Lock()
	if gen != o.gen {
		o.mu.Unlock()
		return o.stale()
	}
	o.lastPosition = position.Clamp(opts.ResumeAt, position.TotalSeconds(t))
	o.setStateLocked(StatePlaying)
	o.mu.Unlock()

	o.publish(events.EventTargetChanged, events.Payload{"target_id": t.ID, "source": "select"})
	o.poke()
	o.notify(ctx, true)
	return nil
}

// queueItems builds the engine queue for t, preferring downloaded copies.
func (o *Orchestrator) queueItems(ctx context.Context, t models.Track) []engine.QueueItem {
	blocks := []models.Track{t}
	if t.IsComposite() {
		blocks = t.Blocks
	}
	items := make([]engine.QueueItem, 0, len(blocks))
	for _, b := range blocks {
		url := b.Source
		if o.resolver != nil {
			if local, ok := o.resolver.VerifyLocalFile(ctx, b.ID); ok {
				url = local
			}
		}
		items = append(items, engine.ItemFromTrack(b, url))
	}
	return items
}

func (o *Orchestrator) failSelect(gen uint64, op string, err error) error {
	o.mu.Lock()
	if gen != o.gen {
		o.mu.Unlock()
		return o.stale()
	}
	o.target = nil
	o.setStateLocked(StateStopped)
	o.mu.Unlock()
	return o.transportError(op, err)
}

// Toggle pauses a playing target and resumes anything else. A completed
// target restarts from the beginning.
func (o *Orchestrator) Toggle(ctx context.Context) error {
	switch o.State() {
	case StatePlaying:
		return o.Pause(ctx)
	case StateCompleted:
		return o.restart(ctx)
	default:
		return o.Play(ctx)
	}
}

// Play resumes playback of the selected target.
func (o *Orchestrator) Play(ctx context.Context) error {
	if _, ok := o.Target(); !ok {
		return ErrNoTarget
	}
	if o.State() == StateCompleted {
		return o.restart(ctx)
	}
	if err := o.engine.Play(ctx); err != nil {
		return o.transportError("play", err)
	}
	o.setState(StatePlaying)
	o.poke()
	o.notify(ctx, true)
	return nil
}

// Pause pauses playback.
func (o *Orchestrator) Pause(ctx context.Context) error {
	if _, ok := o.Target(); !ok {
		return ErrNoTarget
	}
	if err := o.engine.Pause(ctx); err != nil {
		return o.transportError("pause", err)
	}
	if o.State() != StateCompleted {
		o.setState(StatePaused)
	}
	o.poke()
	o.notify(ctx, true)
	return nil
}

// Stop clears the queue, releases the secondary stream and forgets the
// target. Its position is saved first. Any selection in flight goes stale.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	o.gen++
	prev := o.target
	prevPos := o.lastPosition
	o.target = nil
	o.lastPosition = 0
	o.wasPlaying = false
	o.setStateLocked(StateStopped)
	o.mu.Unlock()

	if prev != nil {
		o.saveHistory(ctx, prev.ID, prevPos)
	}

	var errs []error
	if err := o.engine.Reset(ctx); err != nil {
		errs = append(errs, o.transportError("reset", err))
	}
	if err := o.secondary.Release(ctx); err != nil {
		errs = append(errs, err)
	}

	o.publish(events.EventPlayerClosed, events.Payload{})
	o.poke()
	o.notify(ctx, true)
	return errors.Join(errs...)
}

// Close stops playback and flushes history.
func (o *Orchestrator) Close(ctx context.Context) error {
	err := o.Stop(ctx)
	if o.history != nil {
		if ferr := o.history.Flush(ctx); ferr != nil {
			err = errors.Join(err, ferr)
		}
	}
	return err
}

// SeekTo moves to sessionTime, clamped to [0, total]. The engine skips only
// when the target block differs from the active one.
func (o *Orchestrator) SeekTo(ctx context.Context, sessionTime float64) error {
	t, ok := o.Target()
	if !ok {
		return ErrNoTarget
	}
	if err := o.seekSession(ctx, t, sessionTime); err != nil {
		return err
	}
	if o.State() == StateCompleted {
		o.setState(StatePaused)
	}
	o.poke()
	o.notify(ctx, true)
	return nil
}

// SeekByDelta moves by delta seconds relative to the current session position.
func (o *Orchestrator) SeekByDelta(ctx context.Context, delta float64) error {
	t, ok := o.Target()
	if !ok {
		return ErrNoTarget
	}
	now, err := o.sessionPosition(ctx, t)
	if err != nil {
		return err
	}
	return o.SeekTo(ctx, now+delta)
}

// SeekToFraction moves to fraction (0..1) of the session length.
func (o *Orchestrator) SeekToFraction(ctx context.Context, fraction float64) error {
	t, ok := o.Target()
	if !ok {
		return ErrNoTarget
	}
	if math.IsNaN(fraction) {
		fraction = 0
	}
	fraction = math.Max(0, math.Min(1, fraction))
	return o.SeekTo(ctx, fraction*position.TotalSeconds(t))
}

// seekSession performs the block skip and local seek for sessionTime.
func (o *Orchestrator) seekSession(ctx context.Context, t models.Track, sessionTime float64) error {
	total := position.TotalSeconds(t)
	sessionTime = position.Clamp(sessionTime, total)
	block, local := position.SessionTimeToBlock(t, sessionTime)

	active, err := o.engine.ActiveIndex(ctx)
	if err != nil {
		return o.transportError("active_index", err)
	}
	skipped := false
	if t.IsComposite() && block != active {
		if err := o.engine.Skip(ctx, block); err != nil {
			return o.transportError("skip", err)
		}
		skipped = true
	}
	if err := o.engine.SeekTo(ctx, local); err != nil {
		return o.transportError("seek", err)
	}
	if !skipped {
		// Same block: move the secondary now rather than on the next drift check.
		if err := o.secondary.Seek(local); err != nil && !errors.Is(err, secondary.ErrStale) {
			o.logger.Debug().Err(err).Msg("seek secondary")
		}
	}

	o.mu.Lock()
	o.lastPosition = sessionTime
	o.mu.Unlock()

	o.logger.Debug().
		Float64("session_time", sessionTime).
		Int("block", block).
		Float64("local", local).
		Bool("skipped", skipped).
		Msg("seek")
	return nil
}

// SkipToNextBlock moves to the start of the next block. On the last block it
// does nothing.
func (o *Orchestrator) SkipToNextBlock(ctx context.Context) error {
	t, idx, err := o.blockIndex(ctx)
	if err != nil {
		return err
	}
	if idx+1 >= len(t.Blocks) {
		return nil
	}
	return o.SeekTo(ctx, position.BlockToSessionTime(t, idx+1, 0))
}

// SkipToPreviousBlock moves to the start of the previous block, or to the
// start of the first block when already there.
func (o *Orchestrator) SkipToPreviousBlock(ctx context.Context) error {
	t, idx, err := o.blockIndex(ctx)
	if err != nil {
		return err
	}
	if idx > 0 {
		idx--
	}
	return o.SeekTo(ctx, position.BlockToSessionTime(t, idx, 0))
}

func (o *Orchestrator) blockIndex(ctx context.Context) (models.Track, int, error) {
	t, ok := o.Target()
	if !ok {
		return t, 0, ErrNoTarget
	}
	if !t.IsComposite() {
		return t, 0, ErrNotComposite
	}
	idx, err := o.engine.ActiveIndex(ctx)
	if err != nil {
		return t, 0, o.transportError("active_index", err)
	}
	if idx < 0 {
		idx = 0
	}
	return t, idx, nil
}

// ToggleRepeat flips repeat mode and reports the new value.
func (o *Orchestrator) ToggleRepeat(ctx context.Context) (bool, error) {
	var repeat bool
	if o.history != nil {
		v, err := o.history.ToggleRepeat(ctx)
		if err != nil {
			return false, err
		}
		repeat = v
	} else {
		repeat = !o.Repeat()
	}
	o.mu.Lock()
	o.repeat = repeat
	o.mu.Unlock()
	o.notify(ctx, true)
	return repeat, nil
}

// SetPan sets the stereo pan (-1 left .. 1 right) and announces it.
func (o *Orchestrator) SetPan(ctx context.Context, v float64) error {
	if err := o.secondary.SetPan(v); err != nil {
		o.logger.Debug().Err(err).Msg("apply pan")
	}
	v = o.secondary.Pan()
	if o.history != nil {
		if err := o.history.SetPan(ctx, v); err != nil {
			o.logger.Warn().Err(err).Msg("store pan")
		}
	}
	o.publish(events.EventPanChanged, events.Payload{"pan": v})
	o.notify(ctx, true)
	return nil
}

// restart plays the target again from the beginning.
func (o *Orchestrator) restart(ctx context.Context) error {
	t, ok := o.Target()
	if !ok {
		return ErrNoTarget
	}
	if err := o.seekSession(ctx, t, 0); err != nil {
		return err
	}
	if err := o.engine.Play(ctx); err != nil {
		return o.transportError("play", err)
	}
	o.setState(StatePlaying)
	o.poke()
	o.notify(ctx, true)
	return nil
}

func (o *Orchestrator) isActive(ctx context.Context, t models.Track) (bool, error) {
	current, ok := o.Target()
	if !ok || current.ID != t.ID {
		return false, nil
	}
	item, _, ok, err := engine.ActiveItem(ctx, o.engine)
	if err != nil {
		return false, o.transportError("active_item", err)
	}
	return ok && catalog.IsActive(t, item.ID), nil
}

// sessionPosition reads the engine and maps it to session time for t.
func (o *Orchestrator) sessionPosition(ctx context.Context, t models.Track) (float64, error) {
	item, _, ok, err := engine.ActiveItem(ctx, o.engine)
	if err != nil {
		return 0, o.transportError("active_item", err)
	}
	if !ok {
		return 0, nil
	}
	progress, err := o.engine.Progress(ctx)
	if err != nil {
		return 0, o.transportError("progress", err)
	}
	cursor, ok := position.CursorFor(t, item.ID, progress.Position)
	if !ok {
		return 0, nil
	}
	return cursor.SessionTime(t), nil
}

func (o *Orchestrator) saveHistory(ctx context.Context, id string, pos float64) {
	if o.history == nil {
		return
	}
	if err := o.history.UpdatePosition(ctx, id, pos); err != nil {
		o.logger.Warn().Err(err).Str("target_id", id).Msg("save position")
	}
	if err := o.history.Flush(ctx); err != nil {
		o.logger.Warn().Err(err).Msg("flush history")
	}
}

func (o *Orchestrator) current(gen uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return gen == o.gen
}

func (o *Orchestrator) stale() error {
	telemetry.StaleOperationsTotal.WithLabelValues("player").Inc()
	return ErrStale
}

func (o *Orchestrator) transportError(op string, err error) error {
	telemetry.TransportErrorsTotal.WithLabelValues(op).Inc()
	o.logger.Warn().Err(err).Str("operation", op).Msg("engine transport failed")
	return &TransportError{Op: op, Err: err}
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.setStateLocked(s)
	o.mu.Unlock()
}

func (o *Orchestrator) setStateLocked(s State) {
	if !CanTransition(o.state, s) {
		o.logger.Warn().
			Str("from", string(o.state)).
			Str("to", string(s)).
			Err(ErrInvalidTransition).
			Msg("state change rejected")
		return
	}
	if o.state != s {
		o.logger.Debug().Str("from", string(o.state)).Str("to", string(s)).Msg("player state")
	}
	o.state = s
	telemetry.SetPlayerState(string(s), AllStates)
}

func (o *Orchestrator) poke() {
	if o.poller != nil {
		o.poller.Poke()
	}
}

func (o *Orchestrator) publish(t events.EventType, p events.Payload) {
	if o.bus != nil {
		o.bus.Publish(t, p)
	}
}

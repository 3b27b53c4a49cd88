/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package syncloop keeps the secondary stream locked to the primary engine.
//
// The loop consumes engine events from the bus and, on each one, mirrors the
// primary transport onto the secondary controller and corrects drift. When
// the active queue item changes it reloads the secondary stream with the
// new item's audio.
package syncloop

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/friendsincode/tandem/internal/engine"
	"github.com/friendsincode/tandem/internal/events"
	"github.com/friendsincode/tandem/internal/models"
	"github.com/friendsincode/tandem/internal/offline"
	"github.com/friendsincode/tandem/internal/position"
	"github.com/friendsincode/tandem/internal/secondary"
	"github.com/friendsincode/tandem/internal/telemetry"
)

// Sync triggers, used as the metric label.
const (
	TriggerProgress  = "progress"
	TriggerTransport = "transport"
	TriggerPan       = "pan"
	TriggerTrack     = "track_change"
)

// Targets reports the playback target the orchestrator has selected.
type Targets interface {
	Target() (models.Track, bool)
}

// TargetFunc adapts a function to Targets.
type TargetFunc func() (models.Track, bool)

// Target implements Targets.
func (f TargetFunc) Target() (models.Track, bool) { return f() }

// Loop drives the secondary controller from primary engine events.
type Loop struct {
	engine     engine.Engine
	controller *secondary.Controller
	targets    Targets
	resolver   offline.Resolver
	bus        *events.Bus
	logger     zerolog.Logger

	loaded chan loadResult

	mu       sync.Mutex
	loadedID string // queue item the secondary was last loaded for
	wg       sync.WaitGroup
}

type loadResult struct {
	itemID string
	source string
	err    error
}

// New creates a loop. resolver may be nil when nothing is downloaded.
func New(e engine.Engine, c *secondary.Controller, targets Targets, resolver offline.Resolver, bus *events.Bus, logger zerolog.Logger) *Loop {
	return &Loop{
		engine:     e,
		controller: c,
		targets:    targets,
		resolver:   resolver,
		bus:        bus,
		logger:     logger.With().Str("component", "syncloop").Logger(),
		loaded:     make(chan loadResult, 4),
	}
}

// Run consumes bus events until the context is cancelled. The secondary
// stream is released on exit.
func (l *Loop) Run(ctx context.Context) error {
	progress := l.bus.Subscribe(events.EventProgress)
	transport := l.bus.Subscribe(events.EventTransport)
	active := l.bus.Subscribe(events.EventActiveTrack)
	target := l.bus.Subscribe(events.EventTargetChanged)
	pan := l.bus.Subscribe(events.EventPanChanged)
	closed := l.bus.Subscribe(events.EventPlayerClosed)
	defer func() {
		l.bus.Unsubscribe(events.EventProgress, progress)
		l.bus.Unsubscribe(events.EventTransport, transport)
		l.bus.Unsubscribe(events.EventActiveTrack, active)
		l.bus.Unsubscribe(events.EventTargetChanged, target)
		l.bus.Unsubscribe(events.EventPanChanged, pan)
		l.bus.Unsubscribe(events.EventPlayerClosed, closed)
	}()

	l.logger.Info().Msg("sync loop started")

	for {
		select {
		case <-ctx.Done():
			l.wg.Wait()
			if err := l.Release(context.WithoutCancel(ctx)); err != nil {
				l.logger.Warn().Err(err).Msg("release on shutdown")
			}
			l.logger.Info().Msg("sync loop stopped")
			return ctx.Err()

		case p := <-progress:
			id, _ := p["track_id"].(string)
			pos, _ := p["position"].(float64)
			playing, _ := p["playing"].(bool)
			l.syncItem(ctx, TriggerProgress, id, pos, playing)

		case <-transport:
			l.Sync(ctx, TriggerTransport)

		case <-active:
			l.Reload(ctx)

		case <-target:
			l.Reload(ctx)

		case p := <-pan:
			v, _ := p["pan"].(float64)
			l.SetPan(ctx, v)

		case <-closed:
			if err := l.Release(ctx); err != nil {
				l.logger.Warn().Err(err).Msg("release on close")
			}

		case res := <-l.loaded:
			l.finishLoad(ctx, res)
		}
	}
}

// Sync samples the engine and synchronizes the secondary stream once.
func (l *Loop) Sync(ctx context.Context, trigger string) {
	item, _, ok, err := engine.ActiveItem(ctx, l.engine)
	if err != nil {
		l.logger.Debug().Err(err).Msg("read active item")
		return
	}
	if !ok {
		return
	}
	progress, err := l.engine.Progress(ctx)
	if err != nil {
		l.logger.Debug().Err(err).Msg("read progress")
		return
	}
	state, err := l.engine.State(ctx)
	if err != nil {
		l.logger.Debug().Err(err).Msg("read transport state")
		return
	}
	l.syncItem(ctx, trigger, item.ID, progress.Position, state == engine.TransportPlaying)
}

// syncItem reconciles the secondary with the primary playing itemID at the
// block-local position pos.
func (l *Loop) syncItem(_ context.Context, trigger, itemID string, pos float64, playing bool) {
	target, ok := l.targets.Target()
	if !ok {
		return
	}
	cursor, ok := position.CursorFor(target, itemID, pos)
	if !ok {
		// The engine is still on an item from the previous target.
		return
	}

	sessionTime := cursor.SessionTime(target)
	shouldBePlaying := playing && sessionTime < position.TotalSeconds(target)

	telemetry.SyncInvocationsTotal.WithLabelValues(trigger).Inc()
	res, err := l.controller.SyncPlayback(shouldBePlaying, pos)
	if err != nil {
		if errors.Is(err, secondary.ErrStale) {
			return
		}
		l.logger.Debug().Err(err).Str("trigger", trigger).Msg("secondary sync failed")
		return
	}
	if res.Started || res.Paused || res.Reseeked {
		l.logger.Debug().
			Str("trigger", trigger).
			Bool("started", res.Started).
			Bool("paused", res.Paused).
			Bool("reseeked", res.Reseeked).
			Float64("drift", res.Drift).
			Msg("secondary synced")
	}
}

// Reload loads the secondary stream for the engine's active item unless that
// item is already loaded or loading. The load itself runs in the background;
// its result is applied by Run.
func (l *Loop) Reload(ctx context.Context) {
	item, _, ok, err := engine.ActiveItem(ctx, l.engine)
	if err != nil {
		l.logger.Debug().Err(err).Msg("read active item")
		return
	}
	if !ok {
		return
	}

	l.mu.Lock()
	same := item.ID == l.loadedID
	l.mu.Unlock()
	if same && l.controller.State() != secondary.StateIdle {
		return
	}

	source := l.sourceFor(ctx, item)
	if source == "" {
		return
	}

	l.mu.Lock()
	l.loadedID = item.ID
	l.mu.Unlock()

	pan := l.controller.Pan()
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		err := l.controller.Load(ctx, source, pan)
		select {
		case l.loaded <- loadResult{itemID: item.ID, source: source, err: err}:
		case <-ctx.Done():
		}
	}()
}

// LoadNow loads the secondary stream for the active item and synchronizes
// it, blocking until the load finishes.
func (l *Loop) LoadNow(ctx context.Context) error {
	item, _, ok, err := engine.ActiveItem(ctx, l.engine)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	source := l.sourceFor(ctx, item)
	if source == "" {
		return nil
	}

	l.mu.Lock()
	l.loadedID = item.ID
	l.mu.Unlock()

	err = l.controller.Load(ctx, source, l.controller.Pan())
	l.finishLoad(ctx, loadResult{itemID: item.ID, source: source, err: err})
	return err
}

func (l *Loop) finishLoad(ctx context.Context, res loadResult) {
	switch {
	case res.err == nil:
		l.publish(events.EventSecondaryLoaded, events.Payload{"track_id": res.itemID, "source": res.source})
		l.Sync(ctx, TriggerTrack)
	case errors.Is(res.err, secondary.ErrStale):
		l.logger.Debug().Str("track_id", res.itemID).Msg("secondary load superseded")
	default:
		l.mu.Lock()
		if l.loadedID == res.itemID {
			l.loadedID = ""
		}
		l.mu.Unlock()
		l.publish(events.EventSecondaryError, events.Payload{"track_id": res.itemID, "error": res.err.Error()})
	}
}

// SetPan applies a new pan value and resynchronizes.
func (l *Loop) SetPan(ctx context.Context, v float64) {
	if err := l.controller.SetPan(v); err != nil {
		l.logger.Debug().Err(err).Float64("pan", v).Msg("apply pan")
	}
	l.Sync(ctx, TriggerPan)
}

// Release frees the secondary stream and restores the primary volume.
func (l *Loop) Release(ctx context.Context) error {
	l.mu.Lock()
	l.loadedID = ""
	l.mu.Unlock()

	err := l.controller.Release(ctx)
	l.publish(events.EventSecondaryReleased, events.Payload{})
	return err
}

func (l *Loop) sourceFor(ctx context.Context, item engine.QueueItem) string {
	if l.resolver != nil {
		if local, ok := l.resolver.VerifyLocalFile(ctx, item.ID); ok {
			return local
		}
	}
	return item.URL
}

func (l *Loop) publish(t events.EventType, p events.Payload) {
	if l.bus != nil {
		l.bus.Publish(t, p)
	}
}

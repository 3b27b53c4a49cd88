/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package player

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/friendsincode/tandem/internal/engine"
	"github.com/friendsincode/tandem/internal/events"
	"github.com/friendsincode/tandem/internal/models"
	"github.com/friendsincode/tandem/internal/position"
	"github.com/friendsincode/tandem/internal/secondary"
)

// NowPlaying is a point-in-time view of the player.
type NowPlaying struct {
	Target    *models.Track       `json:"target,omitempty"`
	State     State               `json:"state"`
	Position  float64             `json:"position"` // Session seconds
	Duration  float64             `json:"duration"` // Session seconds
	Cursor    *position.Cursor    `json:"cursor,omitempty"`
	Repeat    bool                `json:"repeat"`
	Secondary secondary.SyncState `json:"secondary"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// NowPlaying builds a snapshot from the engine and the secondary controller.
func (o *Orchestrator) NowPlaying(ctx context.Context) NowPlaying {
	o.mu.Lock()
	np := NowPlaying{
		State:     o.state,
		Position:  o.lastPosition,
		Repeat:    o.repeat,
		UpdatedAt: time.Now().UTC(),
	}
	if o.target != nil {
		t := *o.target
		np.Target = &t
	}
	o.mu.Unlock()

	np.Secondary = o.secondary.Snapshot()
	if np.Target == nil {
		return np
	}
	np.Duration = position.TotalSeconds(*np.Target)

	item, _, ok, err := engine.ActiveItem(ctx, o.engine)
	if err != nil || !ok {
		return np
	}
	progress, err := o.engine.Progress(ctx)
	if err != nil {
		return np
	}
	if cursor, ok := position.CursorFor(*np.Target, item.ID, progress.Position); ok {
		np.Cursor = &cursor
		np.Position = cursor.SessionTime(*np.Target)
	}
	return np
}

// notify publishes the now-playing snapshot and caches it. Unless force is
// set, publications are throttled.
func (o *Orchestrator) notify(ctx context.Context, force bool) {
	o.mu.Lock()
	if !force && time.Since(o.lastNotify) < nowPlayingInterval {
		o.mu.Unlock()
		return
	}
	o.lastNotify = time.Now()
	o.mu.Unlock()

	np := o.NowPlaying(ctx)
	o.publish(events.EventNowPlaying, events.Payload{"now_playing": np})
	if o.cache != nil {
		if err := o.cache.SetNowPlaying(ctx, o.profile, np); err != nil {
			o.logger.Debug().Err(err).Msg("cache now playing")
		}
	}
}

// Run consumes engine, remote-control and audio-focus events until the
// context is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	progress := o.bus.Subscribe(events.EventProgress)
	transport := o.bus.Subscribe(events.EventTransport)
	ended := o.bus.Subscribe(events.EventQueueEnded)
	remote := o.bus.Subscribe(events.EventRemote)
	duck := o.bus.Subscribe(events.EventDuck)
	defer func() {
		o.bus.Unsubscribe(events.EventProgress, progress)
		o.bus.Unsubscribe(events.EventTransport, transport)
		o.bus.Unsubscribe(events.EventQueueEnded, ended)
		o.bus.Unsubscribe(events.EventRemote, remote)
		o.bus.Unsubscribe(events.EventDuck, duck)
	}()

	o.logger.Info().Msg("player started")

	for {
		select {
		case <-ctx.Done():
			o.logger.Info().Msg("player stopping")
			return ctx.Err()

		case p := <-progress:
			id, _ := p["track_id"].(string)
			pos, _ := p["position"].(float64)
			o.onProgress(ctx, id, pos)

		case p := <-transport:
			state, _ := p["state"].(string)
			o.onTransport(ctx, engine.TransportState(state))

		case p := <-ended:
			id, _ := p["track_id"].(string)
			if err := o.onEnded(ctx, id); err != nil {
				o.logger.Warn().Err(err).Msg("handle queue end")
			}

		case p := <-remote:
			action, _ := p["action"].(string)
			pos, _ := p["position"].(float64)
			if err := o.HandleRemote(ctx, action, pos); err != nil {
				o.logger.Warn().Err(err).Str("action", action).Msg("remote action failed")
			}

		case p := <-duck:
			paused, _ := p["paused"].(bool)
			permanent, _ := p["permanent"].(bool)
			if err := o.HandleDuck(ctx, paused, permanent); err != nil {
				o.logger.Warn().Err(err).Msg("duck handling failed")
			}
		}
	}
}

// onProgress records the session position of the active target.
func (o *Orchestrator) onProgress(ctx context.Context, itemID string, local float64) {
	t, ok := o.Target()
	if !ok {
		return
	}
	cursor, ok := position.CursorFor(t, itemID, local)
	if !ok {
		return
	}
	sessionTime := cursor.SessionTime(t)

	o.mu.Lock()
	o.lastPosition = sessionTime
	o.mu.Unlock()

	if o.history != nil {
		if err := o.history.UpdatePosition(ctx, t.ID, sessionTime); err != nil {
			o.logger.Debug().Err(err).Msg("record position")
		}
	}
	o.notify(ctx, false)
}

// onTransport follows play/pause changes made outside the orchestrator, such
// as lock-screen controls acting on the engine directly.
func (o *Orchestrator) onTransport(ctx context.Context, state engine.TransportState) {
	current := o.State()
	if current != StatePlaying && current != StatePaused {
		return
	}
	switch state {
	case engine.TransportPlaying:
		o.setState(StatePlaying)
	case engine.TransportPaused:
		o.setState(StatePaused)
	default:
		return
	}
	if o.State() != current {
		o.notify(ctx, true)
	}
}

// onEnded handles the engine running off the end of its queue. Sessions only
// complete after their last block; with repeat on the whole target restarts.
func (o *Orchestrator) onEnded(ctx context.Context, itemID string) error {
	t, ok := o.Target()
	if !ok {
		return nil
	}
	if t.IsComposite() {
		if idx := t.BlockIndex(itemID); idx != len(t.Blocks)-1 {
			return nil
		}
	} else if itemID != t.ID {
		return nil
	}

	if o.Repeat() {
		o.logger.Info().Str("target_id", t.ID).Msg("repeating target")
		return o.restart(ctx)
	}

	o.setState(StateCompleted)
	// A finished target starts over when continued.
	o.saveHistory(ctx, t.ID, 0)
	o.logger.Info().Str("target_id", t.ID).Msg("target completed")
	o.notify(ctx, true)
	return nil
}

// HandleRemote applies a remote-control action.
func (o *Orchestrator) HandleRemote(ctx context.Context, action string, seconds float64) error {
	switch action {
	case events.RemotePlay:
		return o.Play(ctx)
	case events.RemotePause:
		return o.Pause(ctx)
	case events.RemoteToggle:
		return o.Toggle(ctx)
	case events.RemoteStop:
		return o.Stop(ctx)
	case events.RemoteNext:
		return o.remoteSkip(ctx, o.SkipToNextBlock)
	case events.RemotePrevious:
		return o.remoteSkip(ctx, o.SkipToPreviousBlock)
	case events.RemoteSeek:
		return o.SeekTo(ctx, seconds)
	default:
		return fmt.Errorf("unknown remote action %q", action)
	}
}

// remoteSkip ignores block skips on plain tracks, which have nowhere to go.
func (o *Orchestrator) remoteSkip(ctx context.Context, skip func(context.Context) error) error {
	if err := skip(ctx); err != nil && !errors.Is(err, ErrNotComposite) {
		return err
	}
	return nil
}

// HandleDuck reacts to audio focus changes. A pause remembers whether the
// player was playing; the matching unduck resumes only then, and never after
// a permanent loss.
func (o *Orchestrator) HandleDuck(ctx context.Context, paused, permanent bool) error {
	if paused {
		o.mu.Lock()
		o.wasPlaying = o.state == StatePlaying
		wasPlaying := o.wasPlaying
		o.mu.Unlock()
		if !wasPlaying {
			return nil
		}
		return o.Pause(ctx)
	}

	o.mu.Lock()
	resume := !permanent && o.wasPlaying
	if resume || permanent {
		o.wasPlaying = false
	}
	o.mu.Unlock()

	if !resume {
		return nil
	}
	return o.Play(ctx)
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/tandem/internal/events"
)

// DefaultPollInterval is how often the poller samples the engine.
const DefaultPollInterval = 250 * time.Millisecond

// Poller samples the primary engine and publishes progress ticks, active item
// changes, transport transitions and queue end on the event bus.
type Poller struct {
	engine   Engine
	bus      *events.Bus
	interval time.Duration
	logger   zerolog.Logger
	poke     chan struct{}

	lastID    string
	lastIndex int
	lastState TransportState
}

// NewPoller creates a poller. A non-positive interval selects DefaultPollInterval.
func NewPoller(e Engine, bus *events.Bus, interval time.Duration, logger zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		engine:    e,
		bus:       bus,
		interval:  interval,
		logger:    logger.With().Str("component", "poller").Logger(),
		poke:      make(chan struct{}, 1),
		lastIndex: -1,
		lastState: TransportNone,
	}
}

// Run polls until context cancellation.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info().Dur("interval", p.interval).Msg("engine poller started")
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("engine poller stopped")
			return ctx.Err()
		case <-ticker.C:
		case <-p.poke:
		}
		if err := p.Poll(ctx); err != nil {
			p.logger.Debug().Err(err).Msg("engine poll failed")
		}
	}
}

// Poke requests an immediate poll without waiting for the next tick.
func (p *Poller) Poke() {
	select {
	case p.poke <- struct{}{}:
	default:
	}
}

// Poll samples the engine once and publishes what changed. Run calls it on
// every tick; it is exported for callers that drive the clock themselves.
func (p *Poller) Poll(ctx context.Context) error {
	state, err := p.engine.State(ctx)
	if err != nil {
		return err
	}
	item, idx, ok, err := ActiveItem(ctx, p.engine)
	if err != nil {
		return err
	}
	progress, err := p.engine.Progress(ctx)
	if err != nil {
		return err
	}

	if item.ID != p.lastID || idx != p.lastIndex {
		p.bus.Publish(events.EventActiveTrack, events.Payload{
			"index":       idx,
			"track_id":    item.ID,
			"previous_id": p.lastID,
		})
		p.lastID = item.ID
		p.lastIndex = idx
	}

	if state != p.lastState {
		prev := p.lastState
		p.lastState = state
		p.bus.Publish(events.EventTransport, events.Payload{
			"state":    string(state),
			"previous": string(prev),
			"playing":  state == TransportPlaying,
		})
		if state == TransportEnded {
			p.bus.Publish(events.EventQueueEnded, events.Payload{
				"track_id": item.ID,
				"position": progress.Position,
			})
		}
	}

	if ok {
		p.bus.Publish(events.EventProgress, events.Payload{
			"index":    idx,
			"track_id": item.ID,
			"position": progress.Position,
			"duration": progress.Duration,
			"playing":  state == TransportPlaying,
		})
	}
	return nil
}

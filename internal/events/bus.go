/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "sync"

// EventType enumerates event categories.
type EventType string

const (
	// Primary engine, published by engine.Poller.
	EventProgress    EventType = "engine.progress"     // position, duration, index
	EventActiveTrack EventType = "engine.active_track" // index, track_id, previous_id
	EventTransport   EventType = "engine.transport"    // state, playing
	EventQueueEnded  EventType = "engine.queue_ended"  // track_id, position

	// Player lifecycle, published by player.Orchestrator.
	EventTargetChanged EventType = "player.target_changed" // target_id, source
	EventPlayerClosed  EventType = "player.closed"
	EventPanChanged    EventType = "player.pan_changed" // pan
	EventNowPlaying    EventType = "now_playing"

	// Remote controls and audio focus, published by the API and NATS bridge.
	EventRemote EventType = "remote" // action, position
	EventDuck   EventType = "duck"   // paused, permanent

	// Secondary stream.
	EventSecondaryLoaded   EventType = "secondary.loaded"
	EventSecondaryReleased EventType = "secondary.released"
	EventSecondaryError    EventType = "secondary.error"

	// Library and downloads.
	EventDownloadComplete EventType = "library.download_complete"
	EventDownloadFailed   EventType = "library.download_failed"
	EventHistoryUpdated   EventType = "library.history_updated"
)

// Remote action names carried in EventRemote payloads.
const (
	RemotePlay     = "play"
	RemotePause    = "pause"
	RemoteToggle   = "toggle"
	RemoteStop     = "stop"
	RemoteNext     = "next"
	RemotePrevious = "previous"
	RemoteSeek     = "seek"
)

// Payload generic event payload.
type Payload map[string]any

// Subscriber receives event payloads.
type Subscriber chan Payload

// Bus implements a simple in-process pubsub.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for event type.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	ch := make(Subscriber, 8)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers. Slow subscribers miss events rather
// than block the publisher.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	// Held across the sends so Unsubscribe cannot close a channel mid-send.
	for _, sub := range b.subs[eventType] {
		select {
		case sub <- payload:
		default:
		}
	}
}

// Unsubscribe removes the subscriber.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	b.subs[eventType] = subs
	close(sub)
}

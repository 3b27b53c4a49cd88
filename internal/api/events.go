/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	ws "nhooyr.io/websocket"

	"github.com/friendsincode/tandem/internal/events"
	"github.com/friendsincode/tandem/internal/telemetry"
)

// defaultStreamEvents are pushed when the client does not ask for types.
var defaultStreamEvents = []events.EventType{
	events.EventNowPlaying,
	events.EventTargetChanged,
	events.EventPlayerClosed,
	events.EventPanChanged,
	events.EventHistoryUpdated,
	events.EventDownloadComplete,
	events.EventDownloadFailed,
}

type streamEvent struct {
	eventType events.EventType
	payload   events.Payload
}

// handleEvents streams bus events to a WebSocket client. The current
// now-playing snapshot is sent first.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	telemetry.APIWebSocketConnections.Inc()
	defer telemetry.APIWebSocketConnections.Dec()

	// Clients only listen; CloseRead cancels ctx when they go away.
	ctx := conn.CloseRead(r.Context())

	eventTypes := parseEventTypes(r.URL.Query().Get("types"))
	if len(eventTypes) == 0 {
		eventTypes = defaultStreamEvents
	}

	merged := make(chan streamEvent, 16)
	for _, eventType := range eventTypes {
		sub := a.bus.Subscribe(eventType)
		defer a.bus.Unsubscribe(eventType, sub)
		go func(t events.EventType, sub events.Subscriber) {
			for {
				select {
				case <-ctx.Done():
					return
				case p, ok := <-sub:
					if !ok {
						return
					}
					select {
					case merged <- streamEvent{eventType: t, payload: p}:
					case <-ctx.Done():
						return
					}
				}
			}
		}(eventType, sub)
	}

	snapshot := events.Payload{"now_playing": a.player.NowPlaying(ctx)}
	if err := a.writeEvent(ctx, conn, events.EventNowPlaying, snapshot); err != nil {
		a.logger.Debug().Err(err).Msg("websocket initial write failed")
		return
	}

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "")
			return
		case <-ticker.C:
			if err := conn.Ping(ctx); err != nil {
				a.logger.Debug().Err(err).Msg("websocket ping failed")
				return
			}
		case ev := <-merged:
			if err := a.writeEvent(ctx, conn, ev.eventType, ev.payload); err != nil {
				a.logger.Debug().Err(err).Msg("websocket write failed")
				return
			}
		}
	}
}

func (a *API) writeEvent(ctx context.Context, conn *ws.Conn, eventType events.EventType, payload events.Payload) error {
	data, err := json.Marshal(map[string]any{
		"type":    eventType,
		"payload": payload,
	})
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return conn.Write(writeCtx, ws.MessageText, data)
}

func parseEventTypes(raw string) []events.EventType {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]events.EventType, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, events.EventType(part))
	}
	return out
}

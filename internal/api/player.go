/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"math"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/tandem/internal/events"
	"github.com/friendsincode/tandem/internal/player"
)

type selectRequest struct {
	ID         string  `json:"id"`
	ResumeAt   float64 `json:"resume_at"`
	Continuing bool    `json:"continuing"`
}

type seekRequest struct {
	Position *float64 `json:"position"`
	Delta    *float64 `json:"delta"`
	Fraction *float64 `json:"fraction"`
}

type panRequest struct {
	Pan *float64 `json:"pan"`
}

type duckRequest struct {
	Paused    bool `json:"paused"`
	Permanent bool `json:"permanent"`
}

var remoteActions = map[string]bool{
	events.RemotePlay:     true,
	events.RemotePause:    true,
	events.RemoteToggle:   true,
	events.RemoteStop:     true,
	events.RemoteNext:     true,
	events.RemotePrevious: true,
	events.RemoteSeek:     true,
}

func (a *API) handleNowPlaying(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.player.NowPlaying(r.Context()))
}

func (a *API) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "id_required")
		return
	}
	if req.ResumeAt < 0 || math.IsNaN(req.ResumeAt) {
		writeError(w, http.StatusBadRequest, "invalid_resume_at")
		return
	}

	opts := player.SelectOptions{ResumeAt: req.ResumeAt, Continuing: req.Continuing}
	if err := a.player.SelectTrack(r.Context(), req.ID, opts); err != nil {
		a.writePlayerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.player.NowPlaying(r.Context()))
}

func (a *API) handleContinue(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	id := strings.TrimSpace(req.ID)
	if id == "" && a.history != nil {
		snap, err := a.history.Get(r.Context())
		if err != nil {
			a.writePlayerError(w, err)
			return
		}
		id = snap.LastTrackID
	}
	if id == "" {
		writeError(w, http.StatusNotFound, "nothing_to_continue")
		return
	}
	if err := a.player.Continue(r.Context(), id); err != nil {
		a.writePlayerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.player.NowPlaying(r.Context()))
}

// handleTransport adapts a parameterless player operation.
func (a *API) handleTransport(op func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := op(r.Context()); err != nil {
			a.writePlayerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, a.player.NowPlaying(r.Context()))
	}
}

func (a *API) handleSeek(w http.ResponseWriter, r *http.Request) {
	var req seekRequest
	if err := decodeBody(r, &req); err != nil || req.Position == nil {
		writeError(w, http.StatusBadRequest, "position_required")
		return
	}
	a.seek(w, r, func(ctx context.Context) error { return a.player.SeekTo(ctx, *req.Position) })
}

func (a *API) handleSeekDelta(w http.ResponseWriter, r *http.Request) {
	var req seekRequest
	if err := decodeBody(r, &req); err != nil || req.Delta == nil {
		writeError(w, http.StatusBadRequest, "delta_required")
		return
	}
	a.seek(w, r, func(ctx context.Context) error { return a.player.SeekByDelta(ctx, *req.Delta) })
}

func (a *API) handleSeekFraction(w http.ResponseWriter, r *http.Request) {
	var req seekRequest
	if err := decodeBody(r, &req); err != nil || req.Fraction == nil {
		writeError(w, http.StatusBadRequest, "fraction_required")
		return
	}
	a.seek(w, r, func(ctx context.Context) error { return a.player.SeekToFraction(ctx, *req.Fraction) })
}

func (a *API) seek(w http.ResponseWriter, r *http.Request, op func(context.Context) error) {
	if err := op(r.Context()); err != nil {
		a.writePlayerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.player.NowPlaying(r.Context()))
}

func (a *API) handlePan(w http.ResponseWriter, r *http.Request) {
	var req panRequest
	if err := decodeBody(r, &req); err != nil || req.Pan == nil || math.IsNaN(*req.Pan) {
		writeError(w, http.StatusBadRequest, "pan_required")
		return
	}
	if err := a.player.SetPan(r.Context(), *req.Pan); err != nil {
		a.writePlayerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pan": a.player.NowPlaying(r.Context()).Secondary.PanValue})
}

func (a *API) handleRepeat(w http.ResponseWriter, r *http.Request) {
	repeat, err := a.player.ToggleRepeat(r.Context())
	if err != nil {
		a.writePlayerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"repeat": repeat})
}

// handleRemote queues a remote-control action on the bus, where it is handled
// the same way as actions arriving over NATS.
func (a *API) handleRemote(w http.ResponseWriter, r *http.Request) {
	action := chi.URLParam(r, "action")
	if !remoteActions[action] {
		writeError(w, http.StatusBadRequest, "unknown_action")
		return
	}
	var req seekRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	payload := events.Payload{"action": action}
	if req.Position != nil {
		payload["position"] = *req.Position
	}
	a.bus.Publish(events.EventRemote, payload)
	writeJSON(w, http.StatusAccepted, map[string]any{"action": action})
}

func (a *API) handleDuck(w http.ResponseWriter, r *http.Request) {
	var req duckRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	a.bus.Publish(events.EventDuck, events.Payload{"paused": req.Paused, "permanent": req.Permanent})
	writeJSON(w, http.StatusAccepted, req)
}

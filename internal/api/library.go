/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/tandem/internal/catalog"
	"github.com/friendsincode/tandem/internal/events"
	"github.com/friendsincode/tandem/internal/logbuffer"
	"github.com/friendsincode/tandem/internal/models"
)

type catalogEntry struct {
	models.Track
	TotalDuration int `json:"total_duration"`
}

func (a *API) handleCatalogList(w http.ResponseWriter, r *http.Request) {
	tracks := a.catalog.Tracks()
	onlySessions := r.URL.Query().Get("composite") == "true"

	out := make([]catalogEntry, 0, len(tracks))
	for _, t := range tracks {
		if onlySessions && !t.IsComposite() {
			continue
		}
		out = append(out, catalogEntry{Track: t, TotalDuration: catalog.TotalDuration(t)})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tracks": out,
		"count":  len(out),
	})
}

// handleCatalogGet returns the track for id and the target that plays when
// it is selected (its session, for a block).
func (a *API) handleCatalogGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	track, ok := a.catalog.Lookup(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	target, err := a.catalog.Resolve(id)
	if err != nil {
		a.writePlayerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"track":  catalogEntry{Track: track, TotalDuration: catalog.TotalDuration(track)},
		"target": catalogEntry{Track: target, TotalDuration: catalog.TotalDuration(target)},
	})
}

func (a *API) handleLibrary(w http.ResponseWriter, r *http.Request) {
	snap, err := a.history.Get(r.Context())
	if err != nil {
		a.writePlayerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"saved":   snap.Saved,
		"offline": snap.Offline,
	})
}

func (a *API) handleToggleSaved(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := a.catalog.Lookup(id); !ok {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	saved, err := a.history.ToggleSaved(r.Context(), id)
	if err != nil {
		a.writePlayerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "saved": saved})
}

// handleDownload copies a track, or every block of a session, to the media
// root and marks it offline.
func (a *API) handleDownload(w http.ResponseWriter, r *http.Request) {
	if a.library == nil {
		writeError(w, http.StatusServiceUnavailable, "downloads_unavailable")
		return
	}
	id := chi.URLParam(r, "id")
	target, ok := a.catalog.Lookup(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}

	paths, err := a.library.DownloadTarget(r.Context(), target)
	if err != nil {
		a.logger.Warn().Err(err).Str("track_id", id).Msg("download failed")
		a.bus.Publish(events.EventDownloadFailed, events.Payload{"track_id": id, "error": err.Error()})
		a.writePlayerError(w, err)
		return
	}
	if err := a.history.SetOffline(r.Context(), id, true); err != nil {
		a.writePlayerError(w, err)
		return
	}
	a.bus.Publish(events.EventDownloadComplete, events.Payload{"track_id": id, "files": len(paths)})
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "offline": true, "paths": paths})
}

func (a *API) handleDeleteDownload(w http.ResponseWriter, r *http.Request) {
	if a.library == nil {
		writeError(w, http.StatusServiceUnavailable, "downloads_unavailable")
		return
	}
	id := chi.URLParam(r, "id")
	target, ok := a.catalog.Lookup(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if err := a.library.DeleteTarget(target); err != nil {
		a.writePlayerError(w, err)
		return
	}
	if err := a.history.SetOffline(r.Context(), id, false); err != nil {
		a.writePlayerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "offline": false})
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	snap, err := a.history.Get(r.Context())
	if err != nil {
		a.writePlayerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *API) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := a.history.ClearHistory(r.Context()); err != nil {
		a.writePlayerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleLogs(w http.ResponseWriter, r *http.Request) {
	if a.logBuffer == nil {
		writeError(w, http.StatusServiceUnavailable, "log_buffer_unavailable")
		return
	}

	q := r.URL.Query()
	params := logbuffer.QueryParams{
		Level:     q.Get("level"),
		Component: q.Get("component"),
		TrackID:   q.Get("track_id"),
		Search:    q.Get("search"),
		Limit:     500,
	}
	if limit := q.Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 {
			params.Limit = n
		}
	}

	entries := a.logBuffer.Query(params)
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

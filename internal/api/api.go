/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api exposes the player over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/tandem/internal/auth"
	"github.com/friendsincode/tandem/internal/catalog"
	"github.com/friendsincode/tandem/internal/events"
	"github.com/friendsincode/tandem/internal/history"
	"github.com/friendsincode/tandem/internal/logbuffer"
	"github.com/friendsincode/tandem/internal/offline"
	"github.com/friendsincode/tandem/internal/player"
	"github.com/friendsincode/tandem/internal/version"
)

// API exposes HTTP handlers.
type API struct {
	db        *gorm.DB
	jwtSecret []byte
	catalog   *catalog.Catalog
	player    *player.Orchestrator
	history   history.Store
	library   *offline.Library
	bus       *events.Bus
	logBuffer *logbuffer.Buffer
	profile   string
	logger    zerolog.Logger
}

// Deps are the collaborators of the API. DB, Library and LogBuffer are
// optional.
type Deps struct {
	DB        *gorm.DB
	JWTSecret []byte
	Catalog   *catalog.Catalog
	Player    *player.Orchestrator
	History   history.Store
	Library   *offline.Library
	Bus       *events.Bus
	LogBuffer *logbuffer.Buffer
	ProfileID string
}

// New creates the API router wrapper.
func New(deps Deps, logger zerolog.Logger) *API {
	return &API{
		db:        deps.DB,
		jwtSecret: deps.JWTSecret,
		catalog:   deps.Catalog,
		player:    deps.Player,
		history:   deps.History,
		library:   deps.Library,
		bus:       deps.Bus,
		logBuffer: deps.LogBuffer,
		profile:   deps.ProfileID,
		logger:    logger.With().Str("component", "api").Logger(),
	}
}

// Routes registers API routes on the router.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)

		r.Group(func(pr chi.Router) {
			pr.Use(auth.Middleware(a.jwtSecret))
			pr.Use(a.requireProfile)

			pr.Route("/catalog", func(r chi.Router) {
				r.Get("/", a.handleCatalogList)
				r.Get("/{id}", a.handleCatalogGet)
			})

			pr.Route("/player", func(r chi.Router) {
				r.Get("/now-playing", a.handleNowPlaying)
				r.Post("/select", a.handleSelect)
				r.Post("/continue", a.handleContinue)
				r.Post("/toggle", a.handleTransport(a.player.Toggle))
				r.Post("/play", a.handleTransport(a.player.Play))
				r.Post("/pause", a.handleTransport(a.player.Pause))
				r.Post("/stop", a.handleTransport(a.player.Stop))
				r.Post("/next", a.handleTransport(a.player.SkipToNextBlock))
				r.Post("/previous", a.handleTransport(a.player.SkipToPreviousBlock))
				r.Post("/seek", a.handleSeek)
				r.Post("/seek/delta", a.handleSeekDelta)
				r.Post("/seek/fraction", a.handleSeekFraction)
				r.Post("/pan", a.handlePan)
				r.Post("/repeat", a.handleRepeat)
				r.Post("/remote/{action}", a.handleRemote)
				r.Post("/duck", a.handleDuck)
			})

			pr.Route("/library", func(r chi.Router) {
				r.Get("/", a.handleLibrary)
				r.Post("/saved/{id}", a.handleToggleSaved)
				r.Post("/offline/{id}", a.handleDownload)
				r.Delete("/offline/{id}", a.handleDeleteDownload)
			})

			pr.Route("/history", func(r chi.Router) {
				r.Get("/", a.handleHistory)
				r.Delete("/", a.handleClearHistory)
			})

			pr.Get("/logs", a.handleLogs)
			pr.Get("/events", a.handleEvents)
		})
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status":  "ok",
		"version": version.Version,
		"player":  a.player.State(),
	}
	if a.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		sqlDB, err := a.db.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			status["status"] = "degraded"
			status["database"] = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, status)
			return
		}
	}
	writeJSON(w, http.StatusOK, status)
}

// requireProfile rejects tokens issued for a different listener profile.
func (a *API) requireProfile(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claims, ok := auth.ClaimsFromContext(r.Context()); ok && claims.ProfileID != "" && a.profile != "" && claims.ProfileID != a.profile {
			writeError(w, http.StatusForbidden, "profile_mismatch")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writePlayerError maps player, catalog and library errors to responses.
func (a *API) writePlayerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found")
	case errors.Is(err, player.ErrNoTarget):
		writeError(w, http.StatusConflict, "no_target")
	case errors.Is(err, player.ErrNotComposite):
		writeError(w, http.StatusConflict, "not_composite")
	case errors.Is(err, player.ErrStale):
		writeError(w, http.StatusConflict, "superseded")
	case errors.Is(err, player.ErrTransport):
		writeError(w, http.StatusBadGateway, "engine_error")
	case errors.Is(err, offline.ErrDownloadFailed):
		writeError(w, http.StatusBadGateway, "download_failed")
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusRequestTimeout, "cancelled")
	default:
		a.logger.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
	}
}

// decodeBody reads a JSON body into dst. An empty body leaves dst untouched.
func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

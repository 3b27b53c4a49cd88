/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gopxl/beep/v2"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/tandem/internal/api"
	"github.com/friendsincode/tandem/internal/audio"
	"github.com/friendsincode/tandem/internal/cache"
	"github.com/friendsincode/tandem/internal/catalog"
	"github.com/friendsincode/tandem/internal/config"
	"github.com/friendsincode/tandem/internal/db"
	"github.com/friendsincode/tandem/internal/engine"
	"github.com/friendsincode/tandem/internal/eventbus"
	"github.com/friendsincode/tandem/internal/events"
	"github.com/friendsincode/tandem/internal/history"
	"github.com/friendsincode/tandem/internal/logbuffer"
	"github.com/friendsincode/tandem/internal/offline"
	"github.com/friendsincode/tandem/internal/player"
	"github.com/friendsincode/tandem/internal/secondary"
	"github.com/friendsincode/tandem/internal/syncloop"
	"github.com/friendsincode/tandem/internal/telemetry"
	"github.com/friendsincode/tandem/internal/version"
)

// Server bundles HTTP and the playback services behind it.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db        *gorm.DB
	cache     *cache.Cache
	logBuffer *logbuffer.Buffer
	bus       *events.Bus
	tracer    *telemetry.TracerProvider
	catalog   *catalog.Catalog
	history   *history.Service
	library   *offline.Library
	manual    *audio.Manual // Set when there is no sound card
	engine    engine.Engine
	poller    *engine.Poller
	secondary *secondary.Controller
	syncLoop  *syncloop.Loop
	player    *player.Orchestrator
	nats      *eventbus.NATSBridge
	api       *api.API

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logBuf *logbuffer.Buffer, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware)
	router.Use(telemetry.MetricsMiddleware)
	// The event stream is long-lived; everything else gets a deadline.
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:       cfg,
		logger:    logger,
		router:    router,
		bus:       events.NewBus(),
		logBuffer: logBuf,
	}

	if err := srv.initDependencies(); err != nil {
		_ = srv.Close()
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	srv.httpServer = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      0, // The event stream manages its own deadlines
		IdleTimeout:       60 * time.Second,
	}

	return srv, nil
}

func (s *Server) initDependencies() error {
	ctx := context.Background()

	tracer, err := telemetry.InitTracer(ctx, telemetry.TracerConfig{
		ServiceName:    "tandem",
		ServiceVersion: version.Version,
		OTLPEndpoint:   s.cfg.OTLPEndpoint,
		Enabled:        s.cfg.TracingEnabled,
		SampleRate:     s.cfg.TracingSampleRate,
	}, s.logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	s.tracer = tracer
	s.DeferClose(func() error { return s.tracer.Shutdown(context.Background()) })

	database, err := db.Connect(s.cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(s.db) })

	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	cat, err := LoadCatalog(ctx, database, s.cfg.CatalogFile)
	if err != nil {
		return err
	}
	s.catalog = cat
	s.logger.Info().Int("tracks", cat.Len()).Msg("catalog loaded")

	if s.cfg.RedisEnabled {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.RedisAddr = s.cfg.RedisAddr
		cacheCfg.RedisPassword = s.cfg.RedisPassword
		cacheCfg.RedisDB = s.cfg.RedisDB
		c, err := cache.New(cacheCfg, s.logger)
		if err != nil {
			return fmt.Errorf("init cache: %w", err)
		}
		s.cache = c
	} else {
		s.cache = cache.Disabled(s.logger)
	}
	s.DeferClose(func() error { return s.cache.Close() })

	s.history = history.NewService(database, s.cache, s.bus, s.cfg.ProfileID, s.logger)

	// Stays a nil interface when S3 is not configured.
	var objects offline.ObjectFetcher
	if s.cfg.S3AccessKeyID != "" || s.cfg.S3Endpoint != "" {
		fetcher, err := offline.NewS3Fetcher(ctx, offline.S3Config{
			Region:          s.cfg.S3Region,
			Endpoint:        s.cfg.S3Endpoint,
			AccessKeyID:     s.cfg.S3AccessKeyID,
			SecretAccessKey: s.cfg.S3SecretAccessKey,
			UsePathStyle:    s.cfg.S3UsePathStyle,
		})
		if err != nil {
			return fmt.Errorf("init s3: %w", err)
		}
		objects = fetcher
	}

	s.library = offline.NewLibrary(s.cfg.MediaRoot, objects, s.logger)

	loader := audio.NewLoader(s.cfg.AssetRoot, objects)
	out, err := s.initOutput()
	if err != nil {
		return err
	}
	queue := audio.NewQueueEngine(out, loader, s.logger)
	s.engine = queue
	s.DeferClose(queue.Close)

	s.poller = engine.NewPoller(s.engine, s.bus, s.cfg.PollInterval, s.logger)
	s.secondary = secondary.NewController(audio.NewPanOpener(loader, out), s.engine, s.cfg.DriftTolerance, s.logger)

	s.player = player.New(player.Deps{
		Catalog:   s.catalog,
		Engine:    s.engine,
		Secondary: s.secondary,
		Resolver:  s.library,
		History:   s.history,
		Cache:     s.cache,
		Bus:       s.bus,
		Poller:    s.poller,
		ProfileID: s.cfg.ProfileID,
	}, s.logger)
	if err := s.player.Restore(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("restore player settings")
	}

	s.syncLoop = syncloop.New(s.engine, s.secondary, s.player, s.library, s.bus, s.logger)

	if s.cfg.NATSURL != "" {
		natsCfg := eventbus.DefaultNATSConfig()
		natsCfg.URL = s.cfg.NATSURL
		natsCfg.Token = s.cfg.NATSToken
		natsCfg.SubjectPrefix = s.cfg.NATSSubjectPrefix
		bridge, err := eventbus.NewNATSBridge(natsCfg, s.bus, s.logger)
		if err != nil {
			s.logger.Warn().Err(err).Msg("NATS unavailable, remote control over NATS disabled")
		} else {
			s.nats = bridge
			s.DeferClose(s.nats.Close)
		}
	}

	s.api = api.New(api.Deps{
		DB:        database,
		JWTSecret: []byte(s.cfg.JWTSigningKey),
		Catalog:   s.catalog,
		Player:    s.player,
		History:   s.history,
		Library:   s.library,
		Bus:       s.bus,
		LogBuffer: s.logBuffer,
		ProfileID: s.cfg.ProfileID,
	}, s.logger)

	return nil
}

// initOutput opens the sound card, or a manual output pumped in the
// background when audio output is disabled.
func (s *Server) initOutput() (audio.Output, error) {
	rate := beep.SampleRate(s.cfg.AudioSampleRate)
	if s.cfg.AudioOutput == config.AudioOutputNone {
		s.manual = audio.NewManual(rate)
		s.logger.Info().Int("sample_rate", s.cfg.AudioSampleRate).Msg("audio output disabled, mixing without a sound card")
		return s.manual, nil
	}

	spk, err := audio.NewSpeaker(rate, s.cfg.AudioBufferSize)
	if err != nil {
		return nil, fmt.Errorf("open audio output: %w", err)
	}
	s.DeferClose(func() error {
		spk.Close()
		return nil
	})
	s.logger.Info().Int("sample_rate", s.cfg.AudioSampleRate).Dur("buffer", s.cfg.AudioBufferSize).Msg("audio output ready")
	return spk, nil
}

// LoadCatalog imports file into the database when set, then loads the
// catalog from the database.
func LoadCatalog(ctx context.Context, database *gorm.DB, file string) (*catalog.Catalog, error) {
	repo := catalog.NewRepository(database)
	if file != "" {
		c, err := catalog.LoadFile(file)
		if err != nil {
			return nil, fmt.Errorf("load catalog file: %w", err)
		}
		if err := repo.Replace(ctx, c); err != nil {
			return nil, fmt.Errorf("import catalog: %w", err)
		}
		return c, nil
	}
	c, err := repo.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	return c, nil
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// LogBuffer returns the server's log buffer for attaching to zerolog.
func (s *Server) LogBuffer() *logbuffer.Buffer {
	return s.logBuffer
}

// Player returns the playback orchestrator.
func (s *Server) Player() *player.Orchestrator {
	return s.player
}

// Close stops playback, saves history and releases owned resources in
// reverse order.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs []error
	if s.player != nil {
		if err := s.player.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close player: %w", err))
		}
	}
	s.stopBackgroundWorkers()
	if s.secondary != nil {
		if err := s.secondary.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close secondary: %w", err))
		}
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	run := func(name string, fn func(context.Context) error) {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Str("worker", name).Msg("background worker exited")
			}
		}()
	}

	run("poller", s.poller.Run)
	run("syncloop", s.syncLoop.Run)
	run("player", s.player.Run)
	run("db-pool", func(ctx context.Context) error {
		return db.ReportPool(ctx, s.db, 30*time.Second)
	})

	if s.nats != nil {
		run("nats", s.nats.Run)
	}

	if s.manual != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.manual.Pump(ctx, 20*time.Millisecond)
		}()
	}
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	s.router.Handle("/metrics", telemetry.Handler())

	s.api.Routes(s.router)
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

// requestLogger logs each request through zerolog so it reaches the log
// buffer with everything else.
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	logger = logger.With().Str("component", "http").Logger()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			event := logger.Debug()
			if status >= http.StatusInternalServerError {
				event = logger.Warn()
			}
			event.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("request")
		})
	}
}

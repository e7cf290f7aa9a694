/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package server wires the HTTP query surface and the periodic notifier.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/friendsincode/calrem/internal/api"
	"github.com/friendsincode/calrem/internal/auth"
	"github.com/friendsincode/calrem/internal/config"
	"github.com/friendsincode/calrem/internal/logbuffer"
	"github.com/friendsincode/calrem/internal/scheduler"
	"github.com/friendsincode/calrem/internal/telemetry"
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	components *Components
	trigger    *scheduler.Trigger
	logs       *logbuffer.Buffer

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New builds the server. Background work starts with Start. A nil logs
// buffer disables GET /logs.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, logs *logbuffer.Buffer) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	components, err := Build(ctx, cfg, nil, logger)
	if err != nil {
		return nil, err
	}

	trigger, err := scheduler.NewTrigger(components.Notifier, cfg.Schedule, components.Deriver.Location(), cfg.RunTimeout, logger)
	if err != nil {
		_ = components.Close()
		return nil, err
	}

	srv := &Server{
		cfg:        cfg,
		logger:     logger,
		components: components,
		trigger:    trigger,
		logs:       logs,
	}
	srv.router = srv.newRouter()
	srv.httpServer = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return srv, nil
}

func (s *Server) newRouter() chi.Router {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLogger(s.logger))
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("calrem-api"))
	router.Use(telemetry.MetricsMiddleware)
	// POST /trigger runs the notifier inline; leave room for a full run.
	router.Use(middleware.Timeout(s.cfg.RunTimeout + 10*time.Second))

	authCfg := auth.Config{APIKeys: s.cfg.APIKeys}
	if s.cfg.JWTSecret != "" {
		authCfg.JWTSecret = []byte(s.cfg.JWTSecret)
	}
	if !authCfg.Enabled() {
		s.logger.Warn().Msg("no CALREM_API_KEYS or CALREM_JWT_SECRET set; POST /trigger will reject every request")
	}

	a := api.New(s.components.Source, api.Config{
		CalendarKey: s.cfg.CalendarKey,
		TodoKey:     s.cfg.TodoKey,
		Auth:        authCfg,
	}, s.logger)
	a.SetRunner(s.components.Notifier)
	if s.components.Cache != nil && s.cfg.ResponseCache {
		a.SetCache(s.components.Cache)
	}
	if s.logs != nil {
		a.SetLogs(s.logs)
	}
	a.Routes(router)

	router.Handle("/metrics", telemetry.Handler())

	return router
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// HTTPServer returns the configured http.Server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Start launches the cron trigger.
func (s *Server) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		if err := s.trigger.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Msg("notifier trigger exited")
		}
	}()
}

// Close stops background work and releases connections.
func (s *Server) Close() error {
	if s.bgCancel != nil {
		s.bgCancel()
		s.bgWG.Wait()
		s.bgCancel = nil
	}
	return s.components.Close()
}

// requestLogger logs one line per request through zerolog.
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	logger = logger.With().Str("component", "http").Logger()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("request")
		})
	}
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

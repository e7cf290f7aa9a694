/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api serves the parsed calendar and to-do list over HTTP.
package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/friendsincode/calrem/internal/auth"
	"github.com/friendsincode/calrem/internal/cache"
	"github.com/friendsincode/calrem/internal/calendar"
	"github.com/friendsincode/calrem/internal/logbuffer"
	"github.com/friendsincode/calrem/internal/scheduler"
	"github.com/friendsincode/calrem/internal/storage"
	"github.com/friendsincode/calrem/internal/todo"
	"github.com/friendsincode/calrem/internal/version"
)

// Route paths.
const (
	PathCalendar = "/get-all-calendar-entries"
	PathTodo     = "/get-all-todo-entries"
	PathTrigger  = "/trigger"
	PathHealth   = "/healthz"
	PathLogs     = "/logs"
)

const (
	defaultLogLimit = 200
	maxLogLimit     = 2000
)

const (
	allowOrigin  = "*"
	allowHeaders = "Content-Type,X-Amz-Date,Authorization,X-Api-Key,X-Amz-Security-Token"
	allowMethods = "OPTIONS,POST,GET"
)

// TextSource reads a named text object.
type TextSource interface {
	GetText(ctx context.Context, key string) (string, error)
}

// Runner performs a notifier run.
type Runner interface {
	RunOnce(ctx context.Context) (scheduler.Report, error)
}

// ResponseCache stores rendered bodies between requests.
type ResponseCache interface {
	GetResponse(ctx context.Context, route string) (*cache.CachedResponse, bool)
	SetResponse(ctx context.Context, route string, resp *cache.CachedResponse) error
}

// LogSource returns recent log lines.
type LogSource interface {
	Recent(q logbuffer.Query) []logbuffer.Entry
}

// Config names the objects served and the trigger credentials.
type Config struct {
	CalendarKey string
	TodoKey     string
	Auth        auth.Config
}

// API exposes HTTP handlers.
type API struct {
	source TextSource
	runner Runner
	cache  ResponseCache
	logs   LogSource
	config Config
	logger zerolog.Logger
}

// New creates the API router wrapper.
func New(source TextSource, cfg Config, logger zerolog.Logger) *API {
	if cfg.CalendarKey == "" {
		cfg.CalendarKey = "calendar.txt"
	}
	if cfg.TodoKey == "" {
		cfg.TodoKey = "todo.txt"
	}
	return &API{
		source: source,
		config: cfg,
		logger: logger.With().Str("component", "api").Logger(),
	}
}

// SetRunner enables POST /trigger.
func (a *API) SetRunner(r Runner) {
	a.runner = r
}

// SetCache enables response caching.
func (a *API) SetCache(c ResponseCache) {
	a.cache = c
}

// SetLogs enables GET /logs.
func (a *API) SetLogs(l LogSource) {
	a.logs = l
}

// Routes registers the query surface on r.
func (a *API) Routes(r chi.Router) {
	r.Use(corsHeaders)

	r.Get(PathCalendar, a.handleCalendar)
	r.Get(PathTodo, a.handleTodo)
	r.Get(PathHealth, a.handleHealth)
	r.With(auth.Middleware(a.config.Auth, auth.ScopeTrigger)).Post(PathTrigger, a.handleTrigger)
	r.With(auth.Middleware(a.config.Auth, auth.ScopeLogs)).Get(PathLogs, a.handleLogs)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeText(w, http.StatusNotFound, "Resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeText(w, http.StatusNotFound, "Unknown command from client")
	})
}

// corsHeaders adds CORS headers to every response and answers preflight
// requests for any path before routing.
func corsHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", allowOrigin)
		h.Set("Access-Control-Allow-Headers", allowHeaders)
		h.Set("Access-Control-Allow-Methods", allowMethods)
		if r.Method == http.MethodOptions {
			h.Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) handleCalendar(w http.ResponseWriter, r *http.Request) {
	a.serveRendered(w, r, PathCalendar, func(ctx context.Context) (any, error) {
		text, err := a.source.GetText(ctx, a.config.CalendarKey)
		if err != nil {
			return nil, err
		}
		entries := calendar.Parse(text)
		if entries == nil {
			entries = []calendar.Entry{}
		}
		return entries, nil
	})
}

func (a *API) handleTodo(w http.ResponseWriter, r *http.Request) {
	a.serveRendered(w, r, PathTodo, func(ctx context.Context) (any, error) {
		text, err := a.source.GetText(ctx, a.config.TodoKey)
		if err != nil {
			return nil, err
		}
		return todo.Records(todo.Parse(text)), nil
	})
}

// serveRendered answers from the response cache when possible, otherwise
// renders, caches and writes the body. A matching If-None-Match yields 304.
func (a *API) serveRendered(w http.ResponseWriter, r *http.Request, route string, render func(context.Context) (any, error)) {
	ctx := r.Context()

	var resp *cache.CachedResponse
	if a.cache != nil {
		if cached, ok := a.cache.GetResponse(ctx, route); ok {
			resp = cached
		}
	}

	if resp == nil {
		data, err := render(ctx)
		if err != nil {
			a.writeSourceError(w, route, err)
			return
		}
		body, err := json.Marshal(data)
		if err != nil {
			a.logger.Error().Err(err).Str("route", route).Msg("failed to encode response")
			writeError(w, http.StatusInternalServerError, "internal_error")
			return
		}
		resp = &cache.CachedResponse{ETag: etag(body), ContentType: "application/json", Body: body}
		if a.cache != nil {
			if err := a.cache.SetResponse(ctx, route, resp); err != nil {
				a.logger.Debug().Err(err).Str("route", route).Msg("failed to cache response")
			}
		}
	}

	h := w.Header()
	h.Set("ETag", resp.ETag)
	h.Set("Cache-Control", "no-cache")
	if etagMatches(r.Header.Get("If-None-Match"), resp.ETag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	h.Set("Content-Type", resp.ContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(resp.Body)
}

func (a *API) writeSourceError(w http.ResponseWriter, route string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	a.logger.Error().Err(err).Str("route", route).Msg("failed to read source text")
	writeError(w, http.StatusBadGateway, "storage_unavailable")
}

type deliveryResponse struct {
	Status string `json:"status"`
	Sent   int    `json:"sent"`
	Failed int    `json:"failed"`
	Error  string `json:"error,omitempty"`
}

type triggerResponse struct {
	Skipped   bool              `json:"skipped"`
	Now       int64             `json:"now"`
	Previous  int64             `json:"previous"`
	Entries   int               `json:"entries"`
	Due       int               `json:"due"`
	Messages  []string          `json:"messages"`
	TodoAdded bool              `json:"todo_added"`
	Delivery  *deliveryResponse `json:"delivery,omitempty"`
}

func (a *API) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if a.runner == nil {
		writeError(w, http.StatusServiceUnavailable, "notifier_disabled")
		return
	}

	p, _ := auth.PrincipalFromContext(r.Context())
	a.logger.Info().Str("subject", p.Subject).Str("method", p.Method).Msg("notifier run triggered over HTTP")

	report, err := a.runner.RunOnce(r.Context())
	if err != nil {
		a.logger.Error().Err(err).Msg("triggered notifier run failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "run_failed", "detail": err.Error()})
		return
	}

	resp := triggerResponse{
		Skipped:   report.Skipped,
		Now:       report.Now,
		Previous:  report.Previous,
		Entries:   report.Entries,
		Due:       report.Due,
		Messages:  report.Messages,
		TodoAdded: report.TodoAdded,
	}
	if resp.Messages == nil {
		resp.Messages = []string{}
	}
	if report.Delivery.Status != "" {
		resp.Delivery = &deliveryResponse{
			Status: string(report.Delivery.Status),
			Sent:   report.Delivery.Sent,
			Failed: report.Delivery.Failed,
		}
		if report.Delivery.Err != nil {
			resp.Delivery.Error = report.Delivery.Err.Error()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": version.Version})
}

// handleLogs serves recent log lines, newest first. Query parameters: level
// (minimum), component, search, since (Unix seconds) and limit.
func (a *API) handleLogs(w http.ResponseWriter, r *http.Request) {
	if a.logs == nil {
		writeError(w, http.StatusServiceUnavailable, "log_buffer_disabled")
		return
	}

	q := logbuffer.Query{
		MinLevel:  zerolog.DebugLevel,
		Component: r.URL.Query().Get("component"),
		Search:    r.URL.Query().Get("search"),
		Limit:     defaultLogLimit,
	}
	if v := r.URL.Query().Get("level"); v != "" {
		lvl, err := zerolog.ParseLevel(strings.ToLower(v))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_level")
			return
		}
		q.MinLevel = lvl
	}
	if v := r.URL.Query().Get("since"); v != "" {
		sec, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_since")
			return
		}
		q.Since = time.Unix(sec, 0)
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit")
			return
		}
		q.Limit = min(n, maxLogLimit)
	}

	entries := a.logs.Recent(q)
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

func etag(body []byte) string {
	sum := sha256.Sum256(body)
	return `"` + hex.EncodeToString(sum[:16]) + `"`
}

// etagMatches implements the weak comparison If-None-Match calls for.
func etagMatches(header, tag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == tag {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/friendsincode/calrem/internal/auth"
	"github.com/friendsincode/calrem/internal/cache"
	"github.com/friendsincode/calrem/internal/delivery"
	"github.com/friendsincode/calrem/internal/logbuffer"
	"github.com/friendsincode/calrem/internal/scheduler"
	"github.com/friendsincode/calrem/internal/storage"
)

type fakeSource struct {
	texts map[string]string
	err   error
	reads int
}

func (f *fakeSource) GetText(ctx context.Context, key string) (string, error) {
	f.reads++
	if f.err != nil {
		return "", f.err
	}
	text, ok := f.texts[key]
	if !ok {
		return "", storage.ErrNotFound
	}
	return text, nil
}

type fakeRunner struct {
	report scheduler.Report
	err    error
	calls  int
}

func (f *fakeRunner) RunOnce(ctx context.Context) (scheduler.Report, error) {
	f.calls++
	return f.report, f.err
}

type memCache struct {
	entries map[string]*cache.CachedResponse
}

func (m *memCache) GetResponse(ctx context.Context, route string) (*cache.CachedResponse, bool) {
	r, ok := m.entries[route]
	return r, ok
}

func (m *memCache) SetResponse(ctx context.Context, route string, resp *cache.CachedResponse) error {
	m.entries[route] = resp
	return nil
}

const calendarText = "2021\nMars\n10. Dentist @ Sentrum [14.00]\n?. Sometime\n"

func newTestRouter(t *testing.T, source TextSource, configure func(*API)) http.Handler {
	t.Helper()
	a := New(source, Config{Auth: auth.Config{APIKeys: []string{"k1"}}}, zerolog.Nop())
	if configure != nil {
		configure(a)
	}
	r := chi.NewRouter()
	a.Routes(r)
	return r
}

func defaultSource() *fakeSource {
	return &fakeSource{texts: map[string]string{
		"calendar.txt": calendarText,
		"todo.txt":     "Buy milk\nCall mum\n",
	}}
}

func do(h http.Handler, method, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestCalendarEndpoint(t *testing.T) {
	h := newTestRouter(t, defaultSource(), nil)
	rr := do(h, http.MethodGet, PathCalendar, nil)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var entries []map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	first := entries[0]
	if first["description"] != "Dentist" || first["location"] != "Sentrum" || first["month"] != "March" {
		t.Errorf("first entry = %v", first)
	}
	second := entries[1]
	for _, key := range []string{"location", "start_date", "end_date", "start_time", "end_time"} {
		v, ok := second[key]
		if !ok {
			t.Errorf("key %q missing, want explicit null", key)
		} else if v != nil {
			t.Errorf("%s = %v, want null", key, v)
		}
	}
}

func TestCalendarEndpointEmptyIsArray(t *testing.T) {
	src := &fakeSource{texts: map[string]string{"calendar.txt": "just notes"}}
	rr := do(newTestRouter(t, src, nil), http.MethodGet, PathCalendar, nil)
	if got := strings.TrimSpace(rr.Body.String()); got != "[]" {
		t.Errorf("body = %q, want []", got)
	}
}

func TestTodoEndpoint(t *testing.T) {
	rr := do(newTestRouter(t, defaultSource(), nil), http.MethodGet, PathTodo, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	want := `[{"description":"Buy milk","done":true},{"description":"Call mum","done":true}]`
	if got := strings.TrimSpace(rr.Body.String()); got != want {
		t.Errorf("body = %s\nwant %s", got, want)
	}
}

func TestCORSHeadersOnEveryResponse(t *testing.T) {
	h := newTestRouter(t, defaultSource(), nil)
	cases := []struct {
		method, path string
	}{
		{http.MethodGet, PathCalendar},
		{http.MethodGet, "/nope"},
		{http.MethodPost, PathCalendar},
		{http.MethodOptions, "/anything"},
		{http.MethodPost, PathTrigger},
	}
	for _, c := range cases {
		rr := do(h, c.method, c.path, nil)
		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
			t.Errorf("%s %s: Access-Control-Allow-Origin = %q", c.method, c.path, got)
		}
		if got := rr.Header().Get("Access-Control-Allow-Methods"); got != "OPTIONS,POST,GET" {
			t.Errorf("%s %s: Access-Control-Allow-Methods = %q", c.method, c.path, got)
		}
	}
}

func TestOptionsIsOK(t *testing.T) {
	src := defaultSource()
	rr := do(newTestRouter(t, src, nil), http.MethodOptions, PathCalendar, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if src.reads != 0 {
		t.Errorf("preflight read storage %d times", src.reads)
	}
}

func TestUnknownRoutes(t *testing.T) {
	h := newTestRouter(t, defaultSource(), nil)

	tests := []struct {
		name, method, path, body string
	}{
		{"unknown path", http.MethodGet, "/get-everything", "Resource not found"},
		{"wrong method", http.MethodDelete, PathTodo, "Unknown command from client"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(h, tt.method, tt.path, nil)
			if rr.Code != http.StatusNotFound {
				t.Fatalf("status = %d, want 404", rr.Code)
			}
			if rr.Body.String() != tt.body {
				t.Errorf("body = %q, want %q", rr.Body.String(), tt.body)
			}
		})
	}
}

func TestSourceErrors(t *testing.T) {
	tests := []struct {
		name string
		src  *fakeSource
		want int
	}{
		{"missing object", &fakeSource{texts: map[string]string{}}, http.StatusNotFound},
		{"storage down", &fakeSource{err: errors.New("connection reset")}, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(newTestRouter(t, tt.src, nil), http.MethodGet, PathCalendar, nil)
			if rr.Code != tt.want {
				t.Fatalf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}
}

func TestETagConditionalGet(t *testing.T) {
	h := newTestRouter(t, defaultSource(), nil)

	first := do(h, http.MethodGet, PathCalendar, nil)
	tag := first.Header().Get("ETag")
	if tag == "" || !strings.HasPrefix(tag, `"`) {
		t.Fatalf("ETag = %q", tag)
	}

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"exact", tag, http.StatusNotModified},
		{"weak", "W/" + tag, http.StatusNotModified},
		{"list", `"other", ` + tag, http.StatusNotModified},
		{"wildcard", "*", http.StatusNotModified},
		{"stale", `"0000"`, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(h, http.MethodGet, PathCalendar, map[string]string{"If-None-Match": tt.header})
			if rr.Code != tt.want {
				t.Fatalf("status = %d, want %d", rr.Code, tt.want)
			}
			if tt.want == http.StatusNotModified && rr.Body.Len() != 0 {
				t.Errorf("304 carried a body")
			}
		})
	}
}

func TestETagChangesWithContent(t *testing.T) {
	src := defaultSource()
	h := newTestRouter(t, src, nil)

	before := do(h, http.MethodGet, PathCalendar, nil).Header().Get("ETag")
	src.texts["calendar.txt"] += "11. Another\n"
	after := do(h, http.MethodGet, PathCalendar, nil).Header().Get("ETag")
	if before == after {
		t.Errorf("ETag did not change: %s", before)
	}
}

func TestResponseCacheServesWithoutStorage(t *testing.T) {
	src := defaultSource()
	mc := &memCache{entries: map[string]*cache.CachedResponse{}}
	h := newTestRouter(t, src, func(a *API) { a.SetCache(mc) })

	first := do(h, http.MethodGet, PathCalendar, nil)
	second := do(h, http.MethodGet, PathCalendar, nil)

	if src.reads != 1 {
		t.Errorf("storage reads = %d, want 1", src.reads)
	}
	if first.Body.String() != second.Body.String() {
		t.Error("cached body differs")
	}
	if first.Header().Get("ETag") != second.Header().Get("ETag") {
		t.Error("cached ETag differs")
	}
}

func TestTrigger(t *testing.T) {
	report := scheduler.Report{
		Now:      1615374000,
		Previous: 1615373940,
		Entries:  2,
		Due:      1,
		Messages: []string{"husk: March 10., 14.00: Dentist"},
		Delivery: delivery.Tally(1, 0, nil),
	}

	t.Run("authorized run", func(t *testing.T) {
		runner := &fakeRunner{report: report}
		h := newTestRouter(t, defaultSource(), func(a *API) { a.SetRunner(runner) })
		rr := do(h, http.MethodPost, PathTrigger, map[string]string{"X-Api-Key": "k1"})

		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
		}
		var got triggerResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.Due != 1 || got.Delivery == nil || got.Delivery.Status != "delivered" || got.Delivery.Sent != 1 {
			t.Errorf("response = %+v", got)
		}
	})

	t.Run("unauthorized", func(t *testing.T) {
		runner := &fakeRunner{report: report}
		h := newTestRouter(t, defaultSource(), func(a *API) { a.SetRunner(runner) })
		rr := do(h, http.MethodPost, PathTrigger, nil)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rr.Code)
		}
		if runner.calls != 0 {
			t.Error("runner called without credentials")
		}
	})

	t.Run("no runner", func(t *testing.T) {
		h := newTestRouter(t, defaultSource(), nil)
		rr := do(h, http.MethodPost, PathTrigger, map[string]string{"X-Api-Key": "k1"})
		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503", rr.Code)
		}
	})

	t.Run("run error", func(t *testing.T) {
		runner := &fakeRunner{err: fmt.Errorf("read calendar: %w", storage.ErrNotFound)}
		h := newTestRouter(t, defaultSource(), func(a *API) { a.SetRunner(runner) })
		rr := do(h, http.MethodPost, PathTrigger, map[string]string{"X-Api-Key": "k1"})
		if rr.Code != http.StatusInternalServerError {
			t.Fatalf("status = %d, want 500", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "run_failed") {
			t.Errorf("body = %s", rr.Body.String())
		}
	})

	t.Run("skipped run has empty messages", func(t *testing.T) {
		runner := &fakeRunner{report: scheduler.Report{Skipped: true}}
		h := newTestRouter(t, defaultSource(), func(a *API) { a.SetRunner(runner) })
		rr := do(h, http.MethodPost, PathTrigger, map[string]string{"X-Api-Key": "k1"})
		if !strings.Contains(rr.Body.String(), `"messages":[]`) || !strings.Contains(rr.Body.String(), `"skipped":true`) {
			t.Errorf("body = %s", rr.Body.String())
		}
	})
}

func TestHealth(t *testing.T) {
	rr := do(newTestRouter(t, defaultSource(), nil), http.MethodGet, PathHealth, nil)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"status":"ok"`) {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
}

func TestLogs(t *testing.T) {
	buf := logbuffer.New(10)
	buf.Add(logbuffer.Entry{Level: "info", Component: "notifier", Message: "delivered reminders"})
	buf.Add(logbuffer.Entry{Level: "error", Component: "matrix", Message: "matrix login failed"})

	h := newTestRouter(t, defaultSource(), func(a *API) { a.SetLogs(buf) })
	key := map[string]string{"X-Api-Key": "k1"}

	tests := []struct {
		name  string
		query string
		code  int
		count int
	}{
		{"all", "", http.StatusOK, 2},
		{"min level", "?level=warn", http.StatusOK, 1},
		{"component", "?component=notifier", http.StatusOK, 1},
		{"limit", "?limit=1", http.StatusOK, 1},
		{"bad level", "?level=loud", http.StatusBadRequest, 0},
		{"bad limit", "?limit=-3", http.StatusBadRequest, 0},
		{"bad since", "?since=yesterday", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(h, http.MethodGet, PathLogs+tt.query, key)
			if rr.Code != tt.code {
				t.Fatalf("status = %d, want %d (%s)", rr.Code, tt.code, rr.Body.String())
			}
			if tt.code != http.StatusOK {
				return
			}
			var body struct {
				Count   int               `json:"count"`
				Entries []logbuffer.Entry `json:"entries"`
			}
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Count != tt.count || len(body.Entries) != tt.count {
				t.Errorf("count = %d, entries = %d, want %d", body.Count, len(body.Entries), tt.count)
			}
		})
	}

	t.Run("requires credentials", func(t *testing.T) {
		if rr := do(h, http.MethodGet, PathLogs, nil); rr.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rr.Code)
		}
	})

	t.Run("disabled", func(t *testing.T) {
		h := newTestRouter(t, defaultSource(), nil)
		if rr := do(h, http.MethodGet, PathLogs, key); rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503", rr.Code)
		}
	})
}

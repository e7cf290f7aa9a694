/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package scheduler runs the reminder notifier: it reads the calendar, picks
// the notifications that fell due since the previous run and delivers them.
package scheduler

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/friendsincode/calrem/internal/calendar"
	"github.com/friendsincode/calrem/internal/delivery"
	"github.com/friendsincode/calrem/internal/leadership"
	"github.com/friendsincode/calrem/internal/notify"
	"github.com/friendsincode/calrem/internal/telemetry"
	"github.com/friendsincode/calrem/internal/todo"
)

// WatermarkFallback is how far back the first run, or a run after a lost
// watermark, looks for due notifications.
const WatermarkFallback = time.Hour

// watermarkWriteTimeout bounds the watermark write, which runs detached from
// the run context so a delivery that used up the deadline still advances it.
const watermarkWriteTimeout = 5 * time.Second

// TextSource reads a named text object.
type TextSource interface {
	GetText(ctx context.Context, key string) (string, error)
}

// WatermarkStore persists string values across runs.
type WatermarkStore interface {
	GetValue(ctx context.Context, key string) (string, bool, error)
	SetValue(ctx context.Context, key, value string) error
}

// Locker serializes runs across instances.
type Locker interface {
	Acquire(ctx context.Context) (release func(), err error)
}

// Config names the objects and tunables of a run.
type Config struct {
	CalendarKey  string
	TodoKey      string
	WatermarkKey string
	Room         string

	// TodoChance is the probability that a run appends a random to-do item.
	TodoChance float64
	// TodoFromHour and TodoToHour bound the local hours (inclusive) in which
	// to-do items may be appended.
	TodoFromHour int
	TodoToHour   int
}

// DefaultConfig returns the stock object names and to-do tunables.
func DefaultConfig() Config {
	return Config{
		CalendarKey:  "calendar.txt",
		TodoKey:      "todo.txt",
		WatermarkKey: "last-notification-time",
		TodoChance:   1.0 / 60.0,
		TodoFromHour: 9,
		TodoToHour:   22,
	}
}

// Report describes a finished run.
type Report struct {
	Now       int64
	Previous  int64
	Entries   int
	Due       int
	Messages  []string
	TodoAdded bool
	Delivery  delivery.Result
	// Skipped is set when another instance held the run lock.
	Skipped bool
}

// Service is the notifier.
type Service struct {
	source     TextSource
	watermarks WatermarkStore
	deliverer  delivery.Deliverer
	deriver    *notify.Deriver
	locker     Locker
	config     Config
	logger     zerolog.Logger

	now   func() time.Time
	float func() float64
	intn  func(n int) int

	onCalendarChange func(ctx context.Context)

	mu           sync.Mutex
	calendarHash [sha256.Size]byte
	seenCalendar bool
}

// New constructs the notifier service.
func New(source TextSource, watermarks WatermarkStore, deliverer delivery.Deliverer, deriver *notify.Deriver, cfg Config, logger zerolog.Logger) *Service {
	def := DefaultConfig()
	if cfg.CalendarKey == "" {
		cfg.CalendarKey = def.CalendarKey
	}
	if cfg.TodoKey == "" {
		cfg.TodoKey = def.TodoKey
	}
	if cfg.WatermarkKey == "" {
		cfg.WatermarkKey = def.WatermarkKey
	}
	if cfg.TodoFromHour == 0 && cfg.TodoToHour == 0 {
		cfg.TodoFromHour, cfg.TodoToHour = def.TodoFromHour, def.TodoToHour
	}
	return &Service{
		source:     source,
		watermarks: watermarks,
		deliverer:  deliverer,
		deriver:    deriver,
		config:     cfg,
		logger:     logger.With().Str("component", "notifier").Logger(),
		now:        time.Now,
		float:      rand.Float64,
		intn:       rand.Intn,
	}
}

// SetLocker enables the run lock.
func (s *Service) SetLocker(l Locker) {
	s.locker = l
}

// OnCalendarChange registers a callback invoked when a run reads calendar
// text that differs from the previous run's.
func (s *Service) OnCalendarChange(fn func(ctx context.Context)) {
	s.onCalendarChange = fn
}

// RunOnce performs one notifier run. Errors reading the calendar or the
// watermark abort the run without advancing the watermark. Delivery problems
// are reported in the Report and do not stop the watermark from advancing.
func (s *Service) RunOnce(ctx context.Context) (report Report, err error) {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "notifier.run")
	defer func() {
		result := "ok"
		switch {
		case err != nil:
			result = "error"
			telemetry.RecordError(span, err)
		case report.Skipped:
			result = "skipped"
		case report.Delivery.Status != "" && report.Delivery.Status != delivery.Delivered:
			result = string(report.Delivery.Status)
		}
		telemetry.NotifierRunsTotal.WithLabelValues(result).Inc()
		telemetry.NotifierRunDuration.Observe(time.Since(start).Seconds())
		span.SetAttributes(
			attribute.String("result", result),
			attribute.Int("notifications.due", report.Due),
		)
		span.End()
	}()

	if s.locker != nil {
		release, lerr := s.locker.Acquire(ctx)
		switch {
		case errors.Is(lerr, leadership.ErrNotAcquired):
			s.logger.Info().Msg("another instance is running the notifier, skipping")
			return Report{Skipped: true}, nil
		case lerr != nil:
			s.logger.Warn().Err(lerr).Msg("run lock unavailable, running unlocked")
		default:
			defer release()
		}
	}

	nowTime := s.now()
	now := nowTime.Unix()
	report.Now = now

	previous, err := s.previous(ctx, now)
	if err != nil {
		return report, err
	}
	report.Previous = previous

	text, err := s.source.GetText(ctx, s.config.CalendarKey)
	if err != nil {
		return report, fmt.Errorf("read calendar: %w", err)
	}
	s.noticeCalendar(ctx, text)

	entries := calendar.Parse(text)
	report.Entries = len(entries)
	telemetry.CalendarEntries.Set(float64(len(entries)))

	due := notify.Within(s.deriver.FromEntries(entries), now, previous)
	report.Due = len(due)
	telemetry.NotificationsDue.Add(float64(len(due)))
	messages := notify.Messages(due)

	if item, ok := s.pickTodo(ctx, nowTime); ok {
		messages = append(messages, item)
		report.TodoAdded = true
	}
	report.Messages = messages

	if len(messages) > 0 {
		report.Delivery = s.deliverer.Deliver(ctx, s.config.Room, messages)
		ev := s.logger.Info()
		if report.Delivery.Status != delivery.Delivered {
			ev = s.logger.Error().Err(report.Delivery.Err)
		}
		ev.Str("status", string(report.Delivery.Status)).
			Int("sent", report.Delivery.Sent).
			Int("failed", report.Delivery.Failed).
			Msg("delivered reminders")
	}

	if err := s.writeWatermark(ctx, now); err != nil {
		return report, fmt.Errorf("write watermark: %w", err)
	}
	telemetry.WatermarkTimestamp.Set(float64(now))

	s.logger.Debug().
		Int64("previous", previous).
		Int64("now", now).
		Int("entries", report.Entries).
		Int("due", report.Due).
		Msg("notifier run complete")

	return report, nil
}

func (s *Service) writeWatermark(ctx context.Context, now int64) error {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), watermarkWriteTimeout)
	defer cancel()
	return s.watermarks.SetValue(writeCtx, s.config.WatermarkKey, strconv.FormatInt(now, 10))
}

// previous reads the watermark. A missing or unparseable value falls back to
// an hour before now.
func (s *Service) previous(ctx context.Context, now int64) (int64, error) {
	fallback := now - int64(WatermarkFallback/time.Second)

	raw, ok, err := s.watermarks.GetValue(ctx, s.config.WatermarkKey)
	if err != nil {
		return 0, fmt.Errorf("read watermark: %w", err)
	}
	if !ok {
		s.logger.Info().Msg("no watermark stored, looking back one hour")
		return fallback, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		s.logger.Warn().Str("value", raw).Msg("unparseable watermark, looking back one hour")
		return fallback, nil
	}
	return v, nil
}

// pickTodo occasionally returns a random open to-do item during daytime.
func (s *Service) pickTodo(ctx context.Context, now time.Time) (string, bool) {
	hour := now.In(s.deriver.Location()).Hour()
	if hour < s.config.TodoFromHour || hour > s.config.TodoToHour {
		return "", false
	}
	if s.float() >= s.config.TodoChance {
		return "", false
	}

	text, err := s.source.GetText(ctx, s.config.TodoKey)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to read to-do list")
		return "", false
	}
	items := todo.Parse(text)
	if len(items) == 0 {
		return "", false
	}
	return items[s.intn(len(items))], true
}

func (s *Service) noticeCalendar(ctx context.Context, text string) {
	sum := sha256.Sum256([]byte(text))

	s.mu.Lock()
	changed := s.seenCalendar && sum != s.calendarHash
	s.calendarHash = sum
	s.seenCalendar = true
	s.mu.Unlock()

	if changed && s.onCalendarChange != nil {
		s.logger.Debug().Msg("calendar changed")
		s.onCalendarChange(ctx)
	}
}

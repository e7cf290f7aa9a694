/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package webhooks delivers reminders as signed JSON POSTs to an HTTP endpoint.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/calrem/internal/delivery"
	"github.com/friendsincode/calrem/internal/telemetry"
)

const sink = "webhook"

// EventReminder is the event name sent with every reminder.
const EventReminder = "reminder"

// Headers set on every delivery.
const (
	HeaderEvent     = "X-Calrem-Event"
	HeaderTimestamp = "X-Calrem-Timestamp"
	HeaderDelivery  = "X-Calrem-Delivery"
	HeaderSignature = "X-Calrem-Signature"
)

// Payload is the body posted for one reminder.
type Payload struct {
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Room      string    `json:"room,omitempty"`
	Message   string    `json:"message"`
	Index     int       `json:"index"`
	Total     int       `json:"total"`
}

// Config describes the target endpoint.
type Config struct {
	URL     string
	Secret  string
	Timeout time.Duration
}

// Deliverer posts each reminder to the configured URL.
type Deliverer struct {
	config Config
	client *http.Client
	logger zerolog.Logger
	now    func() time.Time
}

// NewDeliverer creates a webhook deliverer.
func NewDeliverer(cfg Config, logger zerolog.Logger) (*Deliverer, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Deliverer{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With().Str("component", "webhooks").Logger(),
		now:    time.Now,
	}, nil
}

// Deliver posts messages in order. A failed post is counted and the rest are
// still attempted.
func (d *Deliverer) Deliver(ctx context.Context, room string, messages []string) delivery.Result {
	var (
		sent, failed int
		firstErr     error
	)
	for i, msg := range messages {
		payload := Payload{
			Event:     EventReminder,
			Timestamp: d.now().UTC(),
			Room:      room,
			Message:   msg,
			Index:     i,
			Total:     len(messages),
		}
		if err := d.post(ctx, payload); err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
			telemetry.DeliveryFailuresTotal.WithLabelValues(sink, "send").Inc()
			d.logger.Warn().Err(err).Int("index", i).Msg("webhook delivery failed")
			continue
		}
		sent++
		telemetry.MessagesDeliveredTotal.WithLabelValues(sink).Inc()
	}
	return delivery.Tally(sent, failed, firstErr)
}

func (d *Deliverer) post(ctx context.Context, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "calrem-webhook/1.0")
	req.Header.Set(HeaderEvent, payload.Event)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(payload.Timestamp.Unix(), 10))
	req.Header.Set(HeaderDelivery, uuid.NewString())

	if d.config.Secret != "" {
		req.Header.Set(HeaderSignature, Sign(body, d.config.Secret))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	d.logger.Debug().Int("status", resp.StatusCode).Int("index", payload.Index).Msg("webhook delivered")
	return nil
}

// Sign returns the HMAC-SHA256 signature header value for body.
func Sign(body []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// Verify checks a signature header value produced by Sign.
func Verify(body []byte, secret, signature string) bool {
	return hmac.Equal([]byte(Sign(body, secret)), []byte(signature))
}

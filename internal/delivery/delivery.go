/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package delivery defines how reminder messages leave the process.
package delivery

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Status summarizes a delivery attempt.
type Status string

const (
	Delivered          Status = "delivered"
	PartiallyDelivered Status = "partially_delivered"
	DeliveryFailed     Status = "delivery_failed"
)

// Result reports what happened to a batch. Err holds the first failure.
type Result struct {
	Status Status
	Sent   int
	Failed int
	Err    error
}

// Deliverer sends an ordered batch of messages to a room. Implementations
// report failures in the Result instead of returning an error.
type Deliverer interface {
	Deliver(ctx context.Context, room string, messages []string) Result
}

// Tally builds a Result from per-message outcomes.
func Tally(sent, failed int, firstErr error) Result {
	r := Result{Sent: sent, Failed: failed, Err: firstErr}
	switch {
	case failed == 0:
		r.Status = Delivered
	case sent == 0:
		r.Status = DeliveryFailed
	default:
		r.Status = PartiallyDelivered
	}
	return r
}

// Failed reports a batch that could not be attempted at all.
func Failed(count int, err error) Result {
	return Result{Status: DeliveryFailed, Failed: count, Err: err}
}

// LogDeliverer writes messages to the log. Used for dry runs.
type LogDeliverer struct {
	logger zerolog.Logger
}

// NewLogDeliverer creates a log-only deliverer.
func NewLogDeliverer(logger zerolog.Logger) *LogDeliverer {
	return &LogDeliverer{logger: logger.With().Str("component", "log_delivery").Logger()}
}

// Deliver logs each message.
func (d *LogDeliverer) Deliver(ctx context.Context, room string, messages []string) Result {
	for i, msg := range messages {
		if err := ctx.Err(); err != nil {
			return Tally(i, len(messages)-i, fmt.Errorf("deliver: %w", err))
		}
		d.logger.Info().Str("room", room).Int("index", i).Msg(msg)
	}
	return Tally(len(messages), 0, nil)
}

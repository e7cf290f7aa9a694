/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/calrem/internal/delivery"
	"github.com/friendsincode/calrem/internal/telemetry"
)

const natsSink = "nats"

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL   string
	Token string

	// Connection options
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		MaxReconnects: -1, // Unlimited
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// publisher is the subset of *nats.Conn used for delivery.
type publisher interface {
	PublishMsg(m *nats.Msg) error
	FlushWithContext(ctx context.Context) error
}

// NATSDeliverer publishes each reminder as a JSON envelope on
// calrem.reminders.<room>.
type NATSDeliverer struct {
	conn    *nats.Conn
	pub     publisher
	logger  zerolog.Logger
	nodeID  string
	timeout time.Duration
}

// NewNATSDeliverer connects to NATS.
func NewNATSDeliverer(cfg NATSConfig, logger zerolog.Logger) (*NATSDeliverer, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	logger = logger.With().Str("component", "nats_delivery").Logger()
	opts := []nats.Option{
		nats.Name("calrem"),
		nats.Timeout(cfg.Timeout),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS delivery initialized")

	return &NATSDeliverer{
		conn:    nc,
		pub:     nc,
		logger:  logger,
		nodeID:  NodeID(),
		timeout: cfg.Timeout,
	}, nil
}

// Deliver publishes messages in order and flushes once at the end.
func (d *NATSDeliverer) Deliver(ctx context.Context, room string, messages []string) delivery.Result {
	if len(messages) == 0 {
		return delivery.Tally(0, 0, nil)
	}

	subject := Subject(room)
	var (
		sent, failed int
		firstErr     error
	)
	for i, body := range messages {
		env := newReminder(room, body, i, d.nodeID)
		data, err := json.Marshal(env)
		if err == nil {
			msg := nats.NewMsg(subject)
			msg.Data = data
			msg.Header.Set(nats.MsgIdHdr, env.MessageID)
			err = d.pub.PublishMsg(msg)
		}
		if err != nil {
			failed++
			if firstErr == nil {
				firstErr = fmt.Errorf("publish %s: %w", subject, err)
			}
			telemetry.DeliveryFailuresTotal.WithLabelValues(natsSink, "publish").Inc()
			d.logger.Warn().Err(err).Int("index", i).Str("subject", subject).Msg("failed to publish reminder")
			continue
		}
		sent++
	}

	flushCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := d.pub.FlushWithContext(flushCtx); err != nil {
		// Nothing is known to have reached the server.
		telemetry.DeliveryFailuresTotal.WithLabelValues(natsSink, "flush").Inc()
		return delivery.Failed(len(messages), errors.Join(firstErr, fmt.Errorf("flush: %w", err)))
	}

	telemetry.MessagesDeliveredTotal.WithLabelValues(natsSink).Add(float64(sent))
	d.logger.Debug().Str("subject", subject).Int("count", sent).Msg("published reminders")
	return delivery.Tally(sent, failed, firstErr)
}

// Close drains the NATS connection.
func (d *NATSDeliverer) Close() error {
	if d.conn == nil {
		return nil
	}
	return d.conn.Drain()
}

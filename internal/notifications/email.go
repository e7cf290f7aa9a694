/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package notifications delivers reminders by email.
package notifications

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/calrem/internal/delivery"
	"github.com/friendsincode/calrem/internal/telemetry"
)

const sink = "email"

// Config holds SMTP settings.
type Config struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string
	To           []string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailDeliverer sends each batch of reminders as one plain text email.
type EmailDeliverer struct {
	config Config
	logger zerolog.Logger
	send   sendFunc
	now    func() time.Time
}

// NewEmailDeliverer validates cfg and returns a deliverer.
func NewEmailDeliverer(cfg Config, logger zerolog.Logger) (*EmailDeliverer, error) {
	if cfg.SMTPHost == "" {
		return nil, errors.New("SMTP not configured")
	}
	if cfg.SMTPFrom == "" {
		return nil, errors.New("SMTP sender address is required")
	}
	if len(cfg.To) == 0 {
		return nil, errors.New("at least one recipient is required")
	}
	if cfg.SMTPPort == 0 {
		cfg.SMTPPort = 587
	}
	return &EmailDeliverer{
		config: cfg,
		logger: logger.With().Str("component", "notifications").Logger(),
		send:   smtp.SendMail,
		now:    time.Now,
	}, nil
}

// Deliver mails messages in one digest. The batch succeeds or fails as a
// whole. A room, when set, is only used in the subject.
func (d *EmailDeliverer) Deliver(ctx context.Context, room string, messages []string) delivery.Result {
	if len(messages) == 0 {
		return delivery.Tally(0, 0, nil)
	}
	if err := ctx.Err(); err != nil {
		return delivery.Failed(len(messages), err)
	}

	msg := d.compose(room, messages)

	addr := fmt.Sprintf("%s:%d", d.config.SMTPHost, d.config.SMTPPort)
	var auth smtp.Auth
	if d.config.SMTPUsername != "" {
		auth = smtp.PlainAuth("", d.config.SMTPUsername, d.config.SMTPPassword, d.config.SMTPHost)
	}

	if err := d.send(addr, auth, d.config.SMTPFrom, d.config.To, msg); err != nil {
		telemetry.DeliveryFailuresTotal.WithLabelValues(sink, "send").Inc()
		d.logger.Error().Err(err).Int("messages", len(messages)).Msg("SMTP send failed")
		return delivery.Failed(len(messages), fmt.Errorf("SMTP send failed: %w", err))
	}

	telemetry.MessagesDeliveredTotal.WithLabelValues(sink).Add(float64(len(messages)))
	d.logger.Info().
		Strs("to", d.config.To).
		Int("messages", len(messages)).
		Msg("email reminder sent")
	return delivery.Tally(len(messages), 0, nil)
}

func (d *EmailDeliverer) compose(room string, messages []string) []byte {
	from := d.config.SMTPFrom
	if d.config.SMTPFromName != "" {
		from = fmt.Sprintf("%s <%s>", d.config.SMTPFromName, d.config.SMTPFrom)
	}

	subject := messages[0]
	if len(messages) > 1 {
		subject = fmt.Sprintf("%d reminders", len(messages))
	}
	if room != "" {
		subject = "[" + room + "] " + subject
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(d.config.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", headerSafe(subject))
	fmt.Fprintf(&b, "Date: %s\r\n", d.now().Format(time.RFC1123Z))
	fmt.Fprintf(&b, "Message-ID: <%s@calrem>\r\n", uuid.NewString())
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	for _, m := range messages {
		b.WriteString(m)
		b.WriteString("\r\n")
	}
	return []byte(b.String())
}

// headerSafe strips line breaks so calendar text cannot inject headers.
func headerSafe(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}

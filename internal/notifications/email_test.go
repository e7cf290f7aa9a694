/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package notifications

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/calrem/internal/delivery"
)

type capturedMail struct {
	addr string
	from string
	to   []string
	msg  string
	auth bool
}

func newTestDeliverer(t *testing.T, cfg Config, sendErr error) (*EmailDeliverer, *[]capturedMail) {
	t.Helper()
	d, err := NewEmailDeliverer(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEmailDeliverer: %v", err)
	}
	var sent []capturedMail
	d.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		sent = append(sent, capturedMail{addr: addr, from: from, to: to, msg: string(msg), auth: a != nil})
		return sendErr
	}
	d.now = func() time.Time { return time.Date(2021, time.March, 10, 12, 0, 0, 0, time.UTC) }
	return d, &sent
}

func baseConfig() Config {
	return Config{
		SMTPHost:     "smtp.example.org",
		SMTPFrom:     "calrem@example.org",
		SMTPFromName: "Calendar",
		To:           []string{"me@example.org", "you@example.org"},
	}
}

func TestDeliverDigest(t *testing.T) {
	d, sent := newTestDeliverer(t, baseConfig(), nil)

	res := d.Deliver(context.Background(), "", []string{"husk: March 10., 14.00: Dentist", "Buy milk"})
	if res.Status != delivery.Delivered || res.Sent != 2 {
		t.Fatalf("result = %+v", res)
	}
	if len(*sent) != 1 {
		t.Fatalf("expected one email, got %d", len(*sent))
	}
	m := (*sent)[0]
	if m.addr != "smtp.example.org:587" || m.from != "calrem@example.org" || len(m.to) != 2 || m.auth {
		t.Errorf("envelope = %+v", m)
	}
	for _, want := range []string{
		"From: Calendar <calrem@example.org>\r\n",
		"To: me@example.org, you@example.org\r\n",
		"Subject: 2 reminders\r\n",
		"\r\n\r\nhusk: March 10., 14.00: Dentist\r\nBuy milk\r\n",
	} {
		if !strings.Contains(m.msg, want) {
			t.Errorf("message missing %q:\n%s", want, m.msg)
		}
	}
}

func TestDeliverSingleMessageSubject(t *testing.T) {
	cfg := baseConfig()
	cfg.SMTPUsername = "bot"
	d, sent := newTestDeliverer(t, cfg, nil)

	d.Deliver(context.Background(), "family", []string{"Om 20 min: March 10., 14.00: Dentist\nBcc: evil@example.org"})
	m := (*sent)[0]
	if !strings.Contains(m.msg, "Subject: [family] Om 20 min: March 10., 14.00: Dentist Bcc: evil@example.org\r\n") {
		t.Errorf("subject not sanitized:\n%s", m.msg)
	}
	if !m.auth {
		t.Error("expected SMTP auth with username set")
	}
}

func TestDeliverFailure(t *testing.T) {
	d, _ := newTestDeliverer(t, baseConfig(), errors.New("535 authentication failed"))

	res := d.Deliver(context.Background(), "", []string{"a", "b"})
	if res.Status != delivery.DeliveryFailed || res.Failed != 2 || res.Err == nil {
		t.Fatalf("result = %+v", res)
	}
}

func TestDeliverEmptyBatchSendsNothing(t *testing.T) {
	d, sent := newTestDeliverer(t, baseConfig(), nil)
	if res := d.Deliver(context.Background(), "", nil); res.Status != delivery.Delivered {
		t.Fatalf("status = %s", res.Status)
	}
	if len(*sent) != 0 {
		t.Error("empty batch sent an email")
	}
}

func TestNewEmailDelivererValidates(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no host", func(c *Config) { c.SMTPHost = "" }},
		{"no sender", func(c *Config) { c.SMTPFrom = "" }},
		{"no recipients", func(c *Config) { c.To = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			tt.mutate(&cfg)
			if _, err := NewEmailDeliverer(cfg, zerolog.Nop()); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

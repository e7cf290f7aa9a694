/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package matrix posts reminder messages to a Matrix room through the
// client-server API.
package matrix

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/calrem/internal/delivery"
	"github.com/friendsincode/calrem/internal/telemetry"
)

const sink = "matrix"

// Config holds homeserver credentials.
type Config struct {
	Server   string
	User     string
	Password string
	Timeout  time.Duration
}

// Error is the error body returned by a homeserver.
type Error struct {
	StatusCode int    `json:"-"`
	ErrCode    string `json:"errcode"`
	Message    string `json:"error"`
}

func (e *Error) Error() string {
	if e.ErrCode == "" {
		return fmt.Sprintf("matrix: http %d", e.StatusCode)
	}
	return fmt.Sprintf("matrix: http %d: %s: %s", e.StatusCode, e.ErrCode, e.Message)
}

// Client logs in once per batch and sends m.text messages.
type Client struct {
	baseURL    string
	user       string
	password   string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a client. A server without scheme is assumed to be https.
func NewClient(cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.Server == "" {
		return nil, errors.New("matrix server is required")
	}
	if cfg.User == "" {
		return nil, errors.New("matrix user is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	base := cfg.Server
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	return &Client{
		baseURL:    strings.TrimRight(base, "/"),
		user:       cfg.User,
		password:   cfg.Password,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With().Str("component", "matrix").Logger(),
	}, nil
}

type loginRequest struct {
	Type     string `json:"type"`
	User     string `json:"user"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	UserID      string `json:"user_id"`
}

type textMessage struct {
	MsgType string `json:"msgtype"`
	Body    string `json:"body"`
}

type sendResponse struct {
	EventID string `json:"event_id"`
}

// Login exchanges the password for an access token.
func (c *Client) Login(ctx context.Context) (string, error) {
	var resp loginResponse
	err := c.do(ctx, http.MethodPost, "/_matrix/client/r0/login", "", loginRequest{
		Type:     "m.login.password",
		User:     c.user,
		Password: c.password,
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	if resp.AccessToken == "" {
		return "", errors.New("login: empty access token")
	}
	return resp.AccessToken, nil
}

// Send posts one text message and returns the event id.
func (c *Client) Send(ctx context.Context, token, room, body string) (string, error) {
	path := fmt.Sprintf("/_matrix/client/r0/rooms/%s/send/m.room.message/%s",
		url.PathEscape(room), url.PathEscape(uuid.NewString()))

	var resp sendResponse
	if err := c.do(ctx, http.MethodPut, path, token, textMessage{MsgType: "m.text", Body: body}, &resp); err != nil {
		return "", fmt.Errorf("send: %w", err)
	}
	return resp.EventID, nil
}

// Deliver logs in and sends messages in order. A failed login fails the whole
// batch; a failed message is counted and the rest are still attempted.
func (c *Client) Deliver(ctx context.Context, room string, messages []string) delivery.Result {
	if len(messages) == 0 {
		return delivery.Tally(0, 0, nil)
	}

	token, err := c.Login(ctx)
	if err != nil {
		c.logger.Error().Err(err).Msg("matrix login failed")
		telemetry.DeliveryFailuresTotal.WithLabelValues(sink, "login").Inc()
		return delivery.Failed(len(messages), err)
	}

	var (
		sent, failed int
		firstErr     error
	)
	for i, msg := range messages {
		eventID, err := c.Send(ctx, token, room, msg)
		if err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
			telemetry.DeliveryFailuresTotal.WithLabelValues(sink, "send").Inc()
			c.logger.Warn().Err(err).Int("index", i).Str("room", room).Msg("failed to send reminder")
			continue
		}
		sent++
		telemetry.MessagesDeliveredTotal.WithLabelValues(sink).Inc()
		c.logger.Debug().Str("event_id", eventID).Str("room", room).Msg("reminder sent")
	}
	return delivery.Tally(sent, failed, firstErr)
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		merr := &Error{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(data, merr)
		return merr
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus publishes reminder messages to a message broker instead
// of a chat room, for consumers that fan them out elsewhere.
package eventbus

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SubjectPrefix is prepended to the room token for NATS subjects and Redis
// channels.
const SubjectPrefix = "calrem.reminders."

// Reminder is the envelope published for each message.
type Reminder struct {
	MessageID string    `json:"message_id"` // For deduplication
	Room      string    `json:"room"`
	Body      string    `json:"body"`
	Index     int       `json:"index"`
	Timestamp time.Time `json:"timestamp"`
	NodeID    string    `json:"node_id"`
}

func newReminder(room, body string, index int, nodeID string) Reminder {
	return Reminder{
		MessageID: uuid.NewString(),
		Room:      room,
		Body:      body,
		Index:     index,
		Timestamp: time.Now().UTC(),
		NodeID:    nodeID,
	}
}

// UnmarshalReminder parses a published envelope.
func UnmarshalReminder(data []byte) (*Reminder, error) {
	var r Reminder
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("unmarshal reminder: %w", err)
	}
	return &r, nil
}

// Subject maps a room id onto a single subject token. Characters NATS treats
// as separators or wildcards become underscores.
func Subject(room string) string {
	token := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, room)
	if token == "" {
		token = "_"
	}
	return SubjectPrefix + token
}

// NodeID identifies this process in published envelopes.
func NodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "calrem"
	}
	return host + "-" + uuid.NewString()[:8]
}

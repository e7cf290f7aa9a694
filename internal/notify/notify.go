/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package notify derives reminder notifications from calendar entries and
// selects the ones due in a time window.
package notify

import (
	"fmt"
	"sort"
	"time"

	"github.com/friendsincode/calrem/internal/calendar"
)

// DefaultZone is the zone calendar times are written in.
const DefaultZone = "Europe/Oslo"

// Kind identifies which reminder of an entry a notification is.
type Kind string

const (
	KindShort  Kind = "short"
	KindMedium Kind = "medium"
	KindDay    Kind = "day"
)

var prefixes = map[Kind]string{
	KindShort:  "Om 20 min: ",
	KindMedium: "husk: ",
	KindDay:    "I morgen: ",
}

// Notification is a reminder text and the UTC instant it becomes due.
type Notification struct {
	Time time.Time
	Kind Kind
	Msg  string
}

// Deriver expands entries into notifications using a fixed zone.
type Deriver struct {
	loc *time.Location
}

// NewDeriver loads the named zone. An empty name means DefaultZone.
func NewDeriver(zone string) (*Deriver, error) {
	if zone == "" {
		zone = DefaultZone
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("load zone %q: %w", zone, err)
	}
	return &Deriver{loc: loc}, nil
}

// Location returns the zone entries are interpreted in.
func (d *Deriver) Location() *time.Location {
	return d.loc
}

// ForEntry returns the short, medium and 24 hour reminders for one entry.
func (d *Deriver) ForEntry(e calendar.Entry) []Notification {
	local := e.LocalTime(d.loc)
	msg := e.Message()
	return []Notification{
		{Time: shortNotice(local), Kind: KindShort, Msg: prefixes[KindShort] + msg},
		{Time: mediumNotice(local), Kind: KindMedium, Msg: prefixes[KindMedium] + msg},
		{Time: dayNotice(local), Kind: KindDay, Msg: prefixes[KindDay] + msg},
	}
}

// FromEntries derives notifications for all entries sorted by due time.
func (d *Deriver) FromEntries(entries []calendar.Entry) []Notification {
	out := make([]Notification, 0, 3*len(entries))
	for _, e := range entries {
		out = append(out, d.ForEntry(e)...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Time.Before(out[j].Time)
	})
	return out
}

func shortNotice(local time.Time) time.Time {
	return local.UTC().Add(-20 * time.Minute)
}

// mediumNotice moves morning events (local 01:00-10:59) to 23:00 the evening
// before; anything else is reminded two hours ahead.
func mediumNotice(local time.Time) time.Time {
	if h := local.Hour(); h >= 1 && h <= 10 {
		back := time.Duration(h+1)*time.Hour + time.Duration(local.Minute())*time.Minute
		return local.UTC().Add(-back)
	}
	return local.UTC().Add(-2 * time.Hour)
}

func dayNotice(local time.Time) time.Time {
	return local.UTC().Add(-24 * time.Hour)
}

// Within returns the notifications with previous < t <= current, where t is
// the due time in Unix seconds. Order is preserved.
func Within(notifications []Notification, current, previous int64) []Notification {
	var due []Notification
	for _, n := range notifications {
		if ts := n.Time.Unix(); ts > previous && ts <= current {
			due = append(due, n)
		}
	}
	return due
}

// Messages extracts the texts of notifications in order.
func Messages(notifications []Notification) []string {
	msgs := make([]string, len(notifications))
	for i, n := range notifications {
		msgs[i] = n.Msg
	}
	return msgs
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package notify

import (
	"strings"
	"testing"
	"time"

	"github.com/friendsincode/calrem/internal/calendar"
)

func newDeriver(t *testing.T) *Deriver {
	t.Helper()
	d, err := NewDeriver("")
	if err != nil {
		t.Fatalf("NewDeriver: %v", err)
	}
	return d
}

func entryAt(day, hour, minute int) calendar.Entry {
	return calendar.Entry{
		Year:        2021,
		Month:       calendar.March,
		StartDate:   &day,
		StartTime:   &calendar.HourMinute{Hour: hour, Minute: minute},
		Description: "Appointment",
	}
}

func TestForEntryOffsets(t *testing.T) {
	d := newDeriver(t)
	loc := d.Location()

	tests := []struct {
		name       string
		entry      calendar.Entry
		wantShort  time.Time
		wantMedium time.Time
		wantDay    time.Time
	}{
		{
			name:       "morning event reminded at 23:00 the evening before",
			entry:      entryAt(10, 3, 15),
			wantShort:  time.Date(2021, time.March, 10, 2, 55, 0, 0, loc),
			wantMedium: time.Date(2021, time.March, 9, 23, 0, 0, 0, loc),
			wantDay:    time.Date(2021, time.March, 9, 3, 15, 0, 0, loc),
		},
		{
			name:       "afternoon event reminded two hours ahead",
			entry:      entryAt(10, 14, 0),
			wantShort:  time.Date(2021, time.March, 10, 13, 40, 0, 0, loc),
			wantMedium: time.Date(2021, time.March, 10, 12, 0, 0, 0, loc),
			wantDay:    time.Date(2021, time.March, 9, 14, 0, 0, 0, loc),
		},
		{
			name:       "10:59 is still a morning event",
			entry:      entryAt(10, 10, 59),
			wantShort:  time.Date(2021, time.March, 10, 10, 39, 0, 0, loc),
			wantMedium: time.Date(2021, time.March, 9, 23, 0, 0, 0, loc),
			wantDay:    time.Date(2021, time.March, 9, 10, 59, 0, 0, loc),
		},
		{
			name:       "00:30 falls outside the morning window",
			entry:      entryAt(10, 0, 30),
			wantShort:  time.Date(2021, time.March, 10, 0, 10, 0, 0, loc),
			wantMedium: time.Date(2021, time.March, 9, 22, 30, 0, 0, loc),
			wantDay:    time.Date(2021, time.March, 9, 0, 30, 0, 0, loc),
		},
		{
			name: "missing time defaults to 08:00",
			entry: calendar.Entry{
				Year: 2021, Month: calendar.March, StartDate: intPtr(10), Description: "All day",
			},
			wantShort:  time.Date(2021, time.March, 10, 7, 40, 0, 0, loc),
			wantMedium: time.Date(2021, time.March, 9, 23, 0, 0, 0, loc),
			wantDay:    time.Date(2021, time.March, 9, 8, 0, 0, 0, loc),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := d.ForEntry(tt.entry)
			if len(got) != 3 {
				t.Fatalf("expected 3 notifications, got %d", len(got))
			}
			checks := []struct {
				kind Kind
				want time.Time
			}{
				{KindShort, tt.wantShort},
				{KindMedium, tt.wantMedium},
				{KindDay, tt.wantDay},
			}
			for i, c := range checks {
				if got[i].Kind != c.kind {
					t.Errorf("notification %d kind = %s, want %s", i, got[i].Kind, c.kind)
				}
				if !got[i].Time.Equal(c.want) {
					t.Errorf("%s notice = %v, want %v", c.kind, got[i].Time.In(loc), c.want)
				}
				if got[i].Time.Location() != time.UTC {
					t.Errorf("%s notice not in UTC: %v", c.kind, got[i].Time.Location())
				}
			}
		})
	}
}

func TestForEntryImpossibleDaysRollOver(t *testing.T) {
	d := newDeriver(t)
	loc := d.Location()

	tests := []struct {
		name      string
		month     calendar.Month
		day       int
		wantShort time.Time
	}{
		{"31 February is 3 March", calendar.February, 31, time.Date(2021, time.March, 3, 7, 40, 0, 0, loc)},
		{"30 April is 30 April", calendar.April, 30, time.Date(2021, time.April, 30, 7, 40, 0, 0, loc)},
		{"31 April is 1 May", calendar.April, 31, time.Date(2021, time.May, 1, 7, 40, 0, 0, loc)},
		{"day 0 is the last day of the previous month", calendar.March, 0, time.Date(2021, time.February, 28, 7, 40, 0, 0, loc)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := calendar.Entry{Year: 2021, Month: tt.month, StartDate: intPtr(tt.day), Description: "Odd"}
			got := d.ForEntry(e)
			if !got[0].Time.Equal(tt.wantShort) {
				t.Errorf("short notice = %v, want %v", got[0].Time.In(loc), tt.wantShort)
			}
			if !got[2].Time.Equal(tt.wantShort.Add(20*time.Minute - 24*time.Hour)) {
				t.Errorf("day notice = %v", got[2].Time.In(loc))
			}
		})
	}
}

func intPtr(n int) *int { return &n }

func TestForEntryMessages(t *testing.T) {
	d := newDeriver(t)
	got := d.ForEntry(entryAt(10, 14, 0))
	want := []string{
		"Om 20 min: March 10., 14.00: Appointment",
		"husk: March 10., 14.00: Appointment",
		"I morgen: March 10., 14.00: Appointment",
	}
	for i, w := range want {
		if got[i].Msg != w {
			t.Errorf("message %d = %q, want %q", i, got[i].Msg, w)
		}
	}
}

func TestFromEntriesSorted(t *testing.T) {
	d := newDeriver(t)
	entries := []calendar.Entry{entryAt(20, 18, 0), entryAt(10, 9, 0), entryAt(15, 12, 0)}
	got := d.FromEntries(entries)
	if len(got) != 9 {
		t.Fatalf("expected 9 notifications, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Time.Before(got[i-1].Time) {
			t.Fatalf("notifications not sorted at %d: %v before %v", i, got[i].Time, got[i-1].Time)
		}
	}
	if !strings.HasPrefix(got[0].Msg, "I morgen: March 10.") {
		t.Errorf("first notification = %q", got[0].Msg)
	}
}

func TestFromEntriesEmpty(t *testing.T) {
	d := newDeriver(t)
	if got := d.FromEntries(nil); len(got) != 0 {
		t.Errorf("expected no notifications, got %d", len(got))
	}
}

func TestWithin(t *testing.T) {
	at := func(sec int64, msg string) Notification {
		return Notification{Time: time.Unix(sec, 0).UTC(), Msg: msg}
	}
	all := []Notification{at(100, "a"), at(200, "b"), at(300, "c")}

	tests := []struct {
		name              string
		current, previous int64
		want              []string
	}{
		{"half-open window", 250, 100, []string{"b"}},
		{"current bound inclusive", 300, 100, []string{"b", "c"}},
		{"previous bound exclusive", 300, 200, []string{"c"}},
		{"everything", 1000, 0, []string{"a", "b", "c"}},
		{"empty window", 200, 200, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Messages(Within(all, tt.current, tt.previous))
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("Within(%d, %d) = %v, want %v", tt.current, tt.previous, got, tt.want)
			}
		})
	}
}

func TestWithinConsecutiveWindowsNeverRepeat(t *testing.T) {
	d := newDeriver(t)
	all := d.FromEntries([]calendar.Entry{entryAt(10, 14, 0), entryAt(10, 3, 15)})

	start := time.Date(2021, time.March, 8, 0, 0, 0, 0, time.UTC).Unix()
	seen := map[string]int{}
	prev := start
	// Irregular invocation intervals.
	for _, step := range []int64{60, 3600, 7, 86400, 1, 13 * 3600, 59, 2 * 86400} {
		cur := prev + step
		for _, n := range Within(all, cur, prev) {
			seen[n.Msg+n.Time.String()]++
		}
		prev = cur
	}
	if len(seen) != len(all) {
		t.Errorf("expected every notification once, saw %d of %d", len(seen), len(all))
	}
	for k, c := range seen {
		if c != 1 {
			t.Errorf("%s delivered %d times", k, c)
		}
	}
}

func TestNewDeriverUnknownZone(t *testing.T) {
	if _, err := NewDeriver("Not/AZone"); err == nil {
		t.Fatal("expected error for unknown zone")
	}
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package calendar

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"
)

func intPtr(n int) *int { return &n }

func strPtr(s string) *string { return &s }

func hm(h, m int) *HourMinute { return &HourMinute{Hour: h, Minute: m} }

func TestMatchEntry(t *testing.T) {
	tests := []struct {
		name  string
		line  string
		month Month
		want  Entry
	}{
		{
			name:  "start time, end time and location",
			line:  "10. Event with start time, end time, and location @ Place A [18.30-20.00]",
			month: May,
			want: Entry{
				Description: "Event with start time, end time, and location",
				Location:    strPtr("Place A"),
				StartDate:   intPtr(10),
				StartTime:   hm(18, 30),
				EndTime:     hm(20, 0),
			},
		},
		{
			name:  "start time and location",
			line:  "11. Event with start time and location @ Place B [19.30]",
			month: May,
			want: Entry{
				Description: "Event with start time and location",
				Location:    strPtr("Place B"),
				StartDate:   intPtr(11),
				StartTime:   hm(19, 30),
			},
		},
		{
			name:  "start time without location",
			line:  "17. Event with start time and no location [10.00]",
			month: May,
			want: Entry{
				Description: "Event with start time and no location",
				StartDate:   intPtr(17),
				StartTime:   hm(10, 0),
			},
		},
		{
			// The uncertainty marker is currently dropped; the entry is
			// indistinguishable from a certain "24.".
			name:  "uncertain date collapses to certain date",
			line:  "24?. Event with uncertain date",
			month: May,
			want: Entry{
				Description: "Event with uncertain date",
				StartDate:   intPtr(24),
			},
		},
		{
			name:  "multiple day event",
			line:  "5-11. Multiple day event with start time and location @ Place C [11.00]",
			month: July,
			want: Entry{
				Description: "Multiple day event with start time and location",
				Location:    strPtr("Place C"),
				StartDate:   intPtr(5),
				EndDate:     intPtr(11),
				StartTime:   hm(11, 0),
			},
		},
		{
			name:  "uncertain range collapses to certain range",
			line:  "3-4?. Cabin trip",
			month: July,
			want: Entry{
				Description: "Cabin trip",
				StartDate:   intPtr(3),
				EndDate:     intPtr(4),
			},
		},
		{
			name:  "unknown date",
			line:  "?. Event with unknown date (while stile belonging to a month)",
			month: October,
			want: Entry{
				Description: "Event with unknown date (while stile belonging to a month)",
			},
		},
		{
			name:  "single digit hour",
			line:  "2. Breakfast [7.05]",
			month: May,
			want: Entry{
				Description: "Breakfast",
				StartDate:   intPtr(2),
				StartTime:   hm(7, 5),
			},
		},
		{
			name:  "malformed time part leaves time unset",
			line:  "2. Dentist [soon]",
			month: May,
			want: Entry{
				Description: "Dentist",
				StartDate:   intPtr(2),
			},
		},
		{
			name:  "hour out of range keeps event without time",
			line:  "10. Late night [24.00]",
			month: May,
			want: Entry{
				Description: "Late night",
				StartDate:   intPtr(10),
			},
		},
		{
			name:  "minute out of range keeps event without time",
			line:  "10. Bad minute [10.75]",
			month: May,
			want: Entry{
				Description: "Bad minute",
				StartDate:   intPtr(10),
			},
		},
		{
			name:  "invalid end time keeps start time",
			line:  "10. Late show @ Rockefeller [22.00-24.30]",
			month: May,
			want: Entry{
				Description: "Late show",
				Location:    strPtr("Rockefeller"),
				StartDate:   intPtr(10),
				StartTime:   hm(22, 0),
			},
		},
		{
			name:  "invalid start time drops the range",
			line:  "10. Night shift [25.00-06.00]",
			month: May,
			want: Entry{
				Description: "Night shift",
				StartDate:   intPtr(10),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := MatchEntry(tt.line, 2020, tt.month)
			if !ok {
				t.Fatalf("MatchEntry(%q) did not match", tt.line)
			}
			tt.want.Year = 2020
			tt.want.Month = tt.month
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("MatchEntry(%q)\n got  %+v\n want %+v", tt.line, got, tt.want)
			}
		})
	}
}

func TestMatchEntryRejects(t *testing.T) {
	lines := []string{
		"Some text that is not interpreted as an event.",
		"2021",
		"Mai",
		"",
		" 10. Indented lines are not events",
		"10 Missing terminator",
		"99999999999999999999999. Overflowing day",
	}
	for _, line := range lines {
		if e, ok := MatchEntry(line, 2020, April); ok {
			t.Errorf("MatchEntry(%q) = %+v, want no match", line, e)
		}
	}
}

func TestParseYearAndMonth(t *testing.T) {
	if y, ok := ParseYear("2021"); !ok || y != 2021 {
		t.Errorf("ParseYear(2021) = %d, %v", y, ok)
	}
	if y, ok := ParseYear("2021  "); !ok || y != 2021 {
		t.Errorf("ParseYear with trailing space = %d, %v", y, ok)
	}
	for _, line := range []string{"202", "20211", "year 2021", "2O21", "10. 2021"} {
		if _, ok := ParseYear(line); ok {
			t.Errorf("ParseYear(%q) matched", line)
		}
	}

	if m, ok := ParseMonth("Desember"); !ok || m != December {
		t.Errorf("ParseMonth(Desember) = %v, %v", m, ok)
	}
	for _, line := range []string{"December", "mai", "Mai 2021", "May"} {
		if _, ok := ParseMonth(line); ok {
			t.Errorf("ParseMonth(%q) matched", line)
		}
	}
}

const sampleCalendar = `Notes at the top are ignored
10. Not an event yet, no year or month

2020
1. Still no month

Mai
10. Concert @ Oslo Spektrum [18.30-20.00]
  free text commentary
?. Sometime in May

Juni
2. Dentist [9.15]

2021
Januar
5-7. Ski trip @ Hemsedal
`

func TestParse(t *testing.T) {
	entries := Parse(sampleCalendar)
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries, got %d: %+v", len(entries), entries)
	}

	want := []struct {
		year  int
		month Month
		desc  string
	}{
		{2020, May, "Concert"},
		{2020, May, "Sometime in May"},
		{2020, June, "Dentist"},
		{2021, January, "Ski trip"},
	}
	for i, w := range want {
		e := entries[i]
		if e.Year != w.year || e.Month != w.month || e.Description != w.desc {
			t.Errorf("entry %d = %d %v %q, want %d %v %q", i, e.Year, e.Month, e.Description, w.year, w.month, w.desc)
		}
	}
}

func TestParseWithoutMarkersIsEmpty(t *testing.T) {
	texts := []string{
		"",
		"10. Event without context",
		"2020\n10. Year but no month",
		"Mai\n10. Month but no year",
	}
	for _, text := range texts {
		if got := Parse(text); len(got) != 0 {
			t.Errorf("Parse(%q) = %+v, want empty", text, got)
		}
	}
}

func TestParseIsIdempotent(t *testing.T) {
	first := Parse(sampleCalendar)
	second := Parse(sampleCalendar)
	if !reflect.DeepEqual(first, second) {
		t.Fatal("parsing the same text twice produced different entries")
	}
}

func TestParseCRLF(t *testing.T) {
	entries := Parse("2020\r\nMai\r\n10. Concert [18.30]\r\n")
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Description != "Concert" || *entries[0].StartTime != (HourMinute{18, 30}) {
		t.Errorf("unexpected entry %+v", entries[0])
	}
}

func TestEntryMessage(t *testing.T) {
	tests := []struct {
		entry Entry
		want  string
	}{
		{Entry{Month: May, StartDate: intPtr(10), StartTime: hm(18, 30), Description: "Concert"}, "May 10., 18.30: Concert"},
		{Entry{Month: July, StartDate: intPtr(5), Description: "Trip"}, "July 5.: Trip"},
		{Entry{Month: October, Description: "Someday"}, "October no date: Someday"},
	}
	for _, tt := range tests {
		if got := tt.entry.Message(); got != tt.want {
			t.Errorf("Message() = %q, want %q", got, tt.want)
		}
	}
}

func TestEntryLocalTimeDefaults(t *testing.T) {
	oslo, err := time.LoadLocation("Europe/Oslo")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	e := Entry{Year: 2020, Month: October, Description: "Someday"}
	got := e.LocalTime(oslo)
	want := time.Date(2020, time.October, 1, 8, 0, 0, 0, oslo)
	if !got.Equal(want) {
		t.Errorf("LocalTime() = %v, want %v", got, want)
	}
}

func TestEntryJSON(t *testing.T) {
	e := Entry{Year: 2020, Month: May, StartDate: intPtr(10), StartTime: hm(18, 30), Description: "Concert"}
	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"description":"Concert","location":null,"year":2020,"month":"May","start_date":10,"end_date":null,"start_time":{"hour":18,"minute":30},"end_time":null}`
	if string(data) != want {
		t.Errorf("json = %s\nwant   %s", data, want)
	}
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package calendar

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	yearPattern = regexp.MustCompile(`^[0-9]{4}$`)

	// Month names as written in the calendar file.
	markerMonths = map[string]Month{
		"Januar":    January,
		"Februar":   February,
		"Mars":      March,
		"April":     April,
		"Mai":       May,
		"Juni":      June,
		"Juli":      July,
		"August":    August,
		"September": September,
		"Oktober":   October,
		"November":  November,
		"Desember":  December,
	}

	// Alternatives are tried leftmost-first, so "24?." falls through to the
	// uncertain single-day branch and "5-11." to the range branch.
	entryPattern = regexp.MustCompile(`^(?:` +
		`(?P<date>[0-9]+)|` +
		`(?P<maybe_date>[0-9]+)\?|` +
		`(?P<start_date>[0-9]+)-(?P<end_date>[0-9]+)|` +
		`(?P<maybe_start_date>[0-9]+)-(?P<maybe_end_date>[0-9]+)\?|` +
		`\?)` +
		`\.` +
		`(?P<description>[^@\[]*)` +
		`(?:@(?P<location>[^\[]*))?` +
		`(?:\[(?:` +
		`(?P<hour>[0-9]{1,2})\.(?P<minute>[0-9]{2})|` +
		`(?P<start_hour>[0-9]{1,2})\.(?P<start_minute>[0-9]{2})-(?P<end_hour>[0-9]{1,2})\.(?P<end_minute>[0-9]{2})` +
		`)\])?`)
)

// ParseYear reports whether line is a year marker.
func ParseYear(line string) (int, bool) {
	line = strings.TrimSpace(line)
	if !yearPattern.MatchString(line) {
		return 0, false
	}
	year, err := strconv.Atoi(line)
	if err != nil {
		return 0, false
	}
	return year, true
}

// ParseMonth reports whether line is a month marker.
func ParseMonth(line string) (Month, bool) {
	m, ok := markerMonths[strings.TrimSpace(line)]
	return m, ok
}

// MatchEntry extracts an entry from an event line under the given year and
// month. It returns false when the line is not an event line.
func MatchEntry(line string, year int, month Month) (Entry, bool) {
	m := entryPattern.FindStringSubmatchIndex(line)
	if m == nil {
		return Entry{}, false
	}
	group := func(name string) (string, bool) {
		i := entryPattern.SubexpIndex(name)
		if m[2*i] < 0 {
			return "", false
		}
		return line[m[2*i]:m[2*i+1]], true
	}
	number := func(name string) (*int, bool) {
		s, ok := group(name)
		if !ok {
			return nil, true
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, false
		}
		return &n, true
	}
	clock := func(hourName, minuteName string) (*HourMinute, bool) {
		h, ok := number(hourName)
		if !ok || h == nil {
			return nil, ok
		}
		mm, ok := number(minuteName)
		if !ok || mm == nil {
			return nil, false
		}
		hm := HourMinute{Hour: *h, Minute: *mm}
		if !hm.valid() {
			// Out of range clock: keep the event, drop the time.
			return nil, true
		}
		return &hm, true
	}

	entry := Entry{Year: year, Month: month}

	// The uncertainty marker is not carried into the entry.
	dateGroups := [][2]string{
		{"date", ""},
		{"maybe_date", ""},
		{"start_date", "end_date"},
		{"maybe_start_date", "maybe_end_date"},
	}
	for _, g := range dateGroups {
		if _, ok := group(g[0]); !ok {
			continue
		}
		start, ok := number(g[0])
		if !ok {
			return Entry{}, false
		}
		entry.StartDate = start
		if g[1] != "" {
			end, ok := number(g[1])
			if !ok {
				return Entry{}, false
			}
			entry.EndDate = end
		}
		break
	}

	desc, _ := group("description")
	entry.Description = strings.TrimSpace(desc)
	if loc, ok := group("location"); ok {
		loc = strings.TrimSpace(loc)
		entry.Location = &loc
	}

	var ok bool
	if _, single := group("hour"); single {
		if entry.StartTime, ok = clock("hour", "minute"); !ok {
			return Entry{}, false
		}
	}
	if _, ranged := group("start_hour"); ranged {
		if entry.StartTime, ok = clock("start_hour", "start_minute"); !ok {
			return Entry{}, false
		}
		if entry.EndTime, ok = clock("end_hour", "end_minute"); !ok {
			return Entry{}, false
		}
		if entry.StartTime == nil {
			entry.EndTime = nil
		}
	}

	return entry, true
}

// state carries the active year and month between lines.
type state struct {
	year     int
	month    Month
	hasYear  bool
	hasMonth bool
}

func (s state) next(line string) state {
	if y, ok := ParseYear(line); ok {
		s.year, s.hasYear = y, true
	}
	if m, ok := ParseMonth(line); ok {
		s.month, s.hasMonth = m, true
	}
	return s
}

// Parse returns the entries of a calendar file in line order. Lines before the
// first year and month marker, and lines that are not events, are skipped.
func Parse(text string) []Entry {
	var (
		st      state
		entries []Entry
	)
	for _, line := range strings.Split(text, "\n") {
		st = st.next(line)
		if !st.hasYear || !st.hasMonth {
			continue
		}
		if e, ok := MatchEntry(line, st.year, st.month); ok {
			entries = append(entries, e)
		}
	}
	return entries
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package calendar parses the plain-text calendar file into typed entries.
package calendar

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
	_ "time/tzdata" // Europe/Oslo must resolve on hosts without zoneinfo
)

// Month enumerates the twelve calendar months.
type Month int

const (
	January Month = iota + 1
	February
	March
	April
	May
	June
	July
	August
	September
	October
	November
	December
)

var monthNames = [...]string{
	January:   "January",
	February:  "February",
	March:     "March",
	April:     "April",
	May:       "May",
	June:      "June",
	July:      "July",
	August:    "August",
	September: "September",
	October:   "October",
	November:  "November",
	December:  "December",
}

// String returns the English month name.
func (m Month) String() string {
	if m < January || m > December {
		return "Month(" + strconv.Itoa(int(m)) + ")"
	}
	return monthNames[m]
}

// Number maps the month to 1-12.
func (m Month) Number() int {
	return int(m)
}

// Time converts to the standard library month.
func (m Month) Time() time.Month {
	return time.Month(m)
}

// MarshalJSON encodes the month as its English name.
func (m Month) MarshalJSON() ([]byte, error) {
	if m < January || m > December {
		return nil, fmt.Errorf("invalid month %d", int(m))
	}
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts the English month name.
func (m *Month) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for i := January; i <= December; i++ {
		if monthNames[i] == name {
			*m = i
			return nil
		}
	}
	return fmt.Errorf("unknown month %q", name)
}

// HourMinute is a wall-clock time of day.
type HourMinute struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

func (hm HourMinute) valid() bool {
	return hm.Hour >= 0 && hm.Hour <= 23 && hm.Minute >= 0 && hm.Minute <= 59
}

// String formats as HH.MM, the notation used in the calendar file.
func (hm HourMinute) String() string {
	return fmt.Sprintf("%02d.%02d", hm.Hour, hm.Minute)
}

// Entry is a single parsed calendar event.
// Nil optionals mean the line did not specify the field.
type Entry struct {
	Description string      `json:"description"`
	Location    *string     `json:"location"`
	Year        int         `json:"year"`
	Month       Month       `json:"month"`
	StartDate   *int        `json:"start_date"`
	EndDate     *int        `json:"end_date"`
	StartTime   *HourMinute `json:"start_time"`
	EndTime     *HourMinute `json:"end_time"`
}

const (
	defaultDay  = 1
	defaultHour = 8
)

// LocalTime returns the event instant in loc. A missing start date falls back to
// the first of the month and a missing start time to 08:00. Days past the end
// of the month roll into the next one, as time.Date normalizes them.
func (e Entry) LocalTime(loc *time.Location) time.Time {
	day := defaultDay
	if e.StartDate != nil {
		day = *e.StartDate
	}
	hour, minute := defaultHour, 0
	if e.StartTime != nil {
		hour, minute = e.StartTime.Hour, e.StartTime.Minute
	}
	return time.Date(e.Year, e.Month.Time(), day, hour, minute, 0, 0, loc)
}

// Message renders the entry for reminder texts, e.g. "May 10., 18.30: Concert".
func (e Entry) Message() string {
	date := " no date"
	if e.StartDate != nil {
		date = " " + strconv.Itoa(*e.StartDate) + "."
	}
	clock := ""
	if e.StartTime != nil {
		clock = ", " + e.StartTime.String()
	}
	return e.Month.String() + date + clock + ": " + e.Description
}

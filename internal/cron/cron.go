// Canteend - Theater Canteen Notification and Event Fan-out Service
// Copyright 2026 Canteend Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/theaterops/canteend

// Package cron schedules the stock-notification jobs. Expressions are
// standard 5-field cron: minute hour day-of-month month day-of-week.
package cron

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule is a parsed cron expression. Each field is a bit set over its
// legal values.
type Schedule struct {
	minute uint64 // 0-59
	hour   uint64 // 0-23
	dom    uint64 // 1-31
	month  uint64 // 1-12
	dow    uint64 // 0-6, Sunday = 0

	// domAny/dowAny record whether the field was written as *; standard cron
	// ORs day-of-month and day-of-week only when both are restricted.
	domAny bool
	dowAny bool
}

// Parse parses a 5-field cron expression.
//
// Supported syntax per field: * | n | n-m | a,b,c | */s | n-m/s.
// Day-of-week accepts 0-7 with 7 normalised to Sunday.
func Parse(expr string) (*Schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("cron: expression needs 5 fields, got %d", len(fields))
	}

	s := &Schedule{
		domAny: fields[2] == "*",
		dowAny: fields[4] == "*",
	}

	var err error
	if s.minute, err = parseField(fields[0], 0, 59); err != nil {
		return nil, fmt.Errorf("cron: minute: %w", err)
	}
	if s.hour, err = parseField(fields[1], 0, 23); err != nil {
		return nil, fmt.Errorf("cron: hour: %w", err)
	}
	if s.dom, err = parseField(fields[2], 1, 31); err != nil {
		return nil, fmt.Errorf("cron: day-of-month: %w", err)
	}
	if s.month, err = parseField(fields[3], 1, 12); err != nil {
		return nil, fmt.Errorf("cron: month: %w", err)
	}
	if s.dow, err = parseField(fields[4], 0, 7); err != nil {
		return nil, fmt.Errorf("cron: day-of-week: %w", err)
	}

	// Normalise Sunday-as-7.
	if s.dow&(1<<7) != 0 {
		s.dow = (s.dow &^ (1 << 7)) | 1
	}
	return s, nil
}

// Next returns the first matching minute strictly after the given time in the
// given location. A nil location means UTC. The scan is bounded; a valid
// expression always matches within it.
func (s *Schedule) Next(after time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t := after.In(loc).Add(time.Minute).Truncate(time.Minute)

	// Four years of minutes bounds the scan.
	const maxScan = 4 * 366 * 24 * 60
	for i := 0; i < maxScan; i++ {
		if s.matches(t) {
			return t
		}
		t = t.Add(time.Minute)
	}
	return time.Time{}
}

func (s *Schedule) matches(t time.Time) bool {
	if s.minute&(1<<uint(t.Minute())) == 0 {
		return false
	}
	if s.hour&(1<<uint(t.Hour())) == 0 {
		return false
	}
	if s.month&(1<<uint(t.Month())) == 0 {
		return false
	}

	domMatch := s.dom&(1<<uint(t.Day())) != 0
	dowMatch := s.dow&(1<<uint(t.Weekday())) != 0

	switch {
	case s.domAny && s.dowAny:
		return true
	case s.domAny:
		return dowMatch
	case s.dowAny:
		return domMatch
	default:
		// Both restricted: either suffices.
		return domMatch || dowMatch
	}
}

// parseField parses one cron field into a bit set over [minVal, maxVal].
func parseField(field string, minVal, maxVal int) (uint64, error) {
	var set uint64
	for _, part := range strings.Split(field, ",") {
		bits, err := parsePart(part, minVal, maxVal)
		if err != nil {
			return 0, err
		}
		set |= bits
	}
	if set == 0 {
		return 0, fmt.Errorf("empty field %q", field)
	}
	return set, nil
}

func parsePart(part string, minVal, maxVal int) (uint64, error) {
	step := 1
	if base, stepStr, found := strings.Cut(part, "/"); found {
		n, err := strconv.Atoi(stepStr)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("bad step %q", stepStr)
		}
		step = n
		part = base
		// A stepped single value runs through the end of the field range.
		if part != "*" && !strings.Contains(part, "-") {
			start, err := strconv.Atoi(part)
			if err != nil {
				return 0, fmt.Errorf("bad value %q", part)
			}
			return bitsInRange(start, maxVal, step, minVal, maxVal)
		}
	}

	switch {
	case part == "*":
		return bitsInRange(minVal, maxVal, step, minVal, maxVal)
	case strings.Contains(part, "-"):
		lo, hi, _ := strings.Cut(part, "-")
		start, err := strconv.Atoi(lo)
		if err != nil {
			return 0, fmt.Errorf("bad range start %q", lo)
		}
		end, err := strconv.Atoi(hi)
		if err != nil {
			return 0, fmt.Errorf("bad range end %q", hi)
		}
		if start > end {
			return 0, fmt.Errorf("inverted range %q", part)
		}
		return bitsInRange(start, end, step, minVal, maxVal)
	default:
		v, err := strconv.Atoi(part)
		if err != nil {
			return 0, fmt.Errorf("bad value %q", part)
		}
		return bitsInRange(v, v, 1, minVal, maxVal)
	}
}

func bitsInRange(start, end, step, minVal, maxVal int) (uint64, error) {
	if start < minVal || end > maxVal {
		return 0, fmt.Errorf("value out of range %d-%d (allowed %d-%d)", start, end, minVal, maxVal)
	}
	var set uint64
	for v := start; v <= end; v += step {
		set |= 1 << uint(v)
	}
	return set, nil
}

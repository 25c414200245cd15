// Canteend - Theater Canteen Notification and Event Fan-out Service
// Copyright 2026 Canteend Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/theaterops/canteend

package cron

import (
	"testing"
	"time"
)

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("loading %s: %v", name, err)
	}
	return loc
}

func TestParseErrors(t *testing.T) {
	tests := []string{
		"",
		"0 9 * *",          // 4 fields
		"0 9 * * * *",      // 6 fields
		"60 * * * *",       // minute out of range
		"* 24 * * *",       // hour out of range
		"* * 0 * *",        // dom out of range
		"* * * 13 *",       // month out of range
		"* * * * 8",        // dow out of range
		"*/0 * * * *",      // zero step
		"5-2 * * * *",      // inverted range
		"a * * * *",        // not a number
	}
	for _, expr := range tests {
		if _, err := Parse(expr); err == nil {
			t.Errorf("Parse(%q) should fail", expr)
		}
	}
}

func TestNextDaily(t *testing.T) {
	loc := mustLoc(t, "Asia/Kolkata")
	s, err := Parse("0 9 * * *")
	if err != nil {
		t.Fatal(err)
	}

	after := time.Date(2026, 3, 10, 8, 15, 0, 0, loc)
	got := s.Next(after, loc)
	want := time.Date(2026, 3, 10, 9, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Errorf("Next = %v, want %v", got, want)
	}

	// Already past today's slot rolls to tomorrow.
	after = time.Date(2026, 3, 10, 9, 0, 0, 0, loc)
	got = s.Next(after, loc)
	want = time.Date(2026, 3, 11, 9, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Errorf("Next = %v, want %v", got, want)
	}
}

func TestNextEveryThirtyMinutes(t *testing.T) {
	s, err := Parse("*/30 * * * *")
	if err != nil {
		t.Fatal(err)
	}

	after := time.Date(2026, 3, 10, 8, 10, 0, 0, time.UTC)
	got := s.Next(after, nil)
	want := time.Date(2026, 3, 10, 8, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Next = %v, want %v", got, want)
	}

	got = s.Next(got, nil)
	want = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Next = %v, want %v", got, want)
	}
}

func TestNextWeekday(t *testing.T) {
	// Mondays at 09:00. 2026-03-10 is a Tuesday.
	s, err := Parse("0 9 * * 1")
	if err != nil {
		t.Fatal(err)
	}
	after := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	got := s.Next(after, nil)
	want := time.Date(2026, 3, 16, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Next = %v, want %v", got, want)
	}
}

func TestNextSundayAsSeven(t *testing.T) {
	a, err := Parse("0 6 * * 0")
	if err != nil {
		t.Fatal(err)
	}
	b, err := Parse("0 6 * * 7")
	if err != nil {
		t.Fatal(err)
	}

	after := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	if got, want := b.Next(after, nil), a.Next(after, nil); !got.Equal(want) {
		t.Errorf("dow 7 = %v, dow 0 = %v, want equal", got, want)
	}
}

func TestNextDomDowUnion(t *testing.T) {
	// Day 15 OR Friday, whichever comes first.
	s, err := Parse("0 0 15 * 5")
	if err != nil {
		t.Fatal(err)
	}
	// 2026-03-10 is a Tuesday; Friday the 13th beats the 15th.
	after := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	got := s.Next(after, nil)
	want := time.Date(2026, 3, 13, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Next = %v, want %v", got, want)
	}
}

func TestNextListAndRange(t *testing.T) {
	s, err := Parse("0,30 9-11 * * *")
	if err != nil {
		t.Fatal(err)
	}
	after := time.Date(2026, 3, 10, 9, 31, 0, 0, time.UTC)
	got := s.Next(after, nil)
	want := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Next = %v, want %v", got, want)
	}
}

func TestNextMonthBoundary(t *testing.T) {
	s, err := Parse("0 0 1 * *")
	if err != nil {
		t.Fatal(err)
	}
	after := time.Date(2026, 1, 31, 23, 30, 0, 0, time.UTC)
	got := s.Next(after, nil)
	want := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Next = %v, want %v", got, want)
	}
}

func TestNextHonorsTimezone(t *testing.T) {
	kolkata := mustLoc(t, "Asia/Kolkata")
	s, err := Parse("0 22 * * *")
	if err != nil {
		t.Fatal(err)
	}

	// 18:00 UTC is 23:30 in Kolkata: today's 22:00 IST already passed.
	after := time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC)
	got := s.Next(after, kolkata)
	want := time.Date(2026, 3, 11, 22, 0, 0, 0, kolkata)
	if !got.Equal(want) {
		t.Errorf("Next = %v, want %v", got, want)
	}
}

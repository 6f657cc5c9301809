package timeparse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 8, 31, 14, 0, 0, 0, time.UTC)

func TestParseRelative(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
	}{
		{"in 2 hours", base.Add(2 * time.Hour)},
		{"in 1 hour", base.Add(time.Hour)},
		{"in 3 hrs", base.Add(3 * time.Hour)},
		{"in 30 minutes", base.Add(30 * time.Minute)},
		{"in 30 mins", base.Add(30 * time.Minute)},
		{"in 1 min", base.Add(time.Minute)},
		{"in 5 days", base.AddDate(0, 0, 5)},
		{"in 2 weeks", base.AddDate(0, 0, 14)},
		{"in 1 month", base.AddDate(0, 0, 30)},
		{"in 1 year", base.AddDate(0, 0, 365)},
		{"IN 2 HOURS", base.Add(2 * time.Hour)},
		{"  in 10 minutes  ", base.Add(10 * time.Minute)},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := Parse(tc.in, base)
			require.NoError(t, err)
			require.True(t, tc.want.Equal(got), "want %v, got %v", tc.want, got)
		})
	}
}

func TestParseClock(t *testing.T) {
	// 16:30 is still ahead today.
	got, err := Parse("16:30", base)
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 8, 31, 16, 30, 0, 0, time.UTC), got)

	// 09:00 has passed, so it rolls to tomorrow.
	got, err = Parse("09:00", base)
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC), got)

	// Exactly now also rolls forward.
	got, err = Parse("14:00", base)
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 9, 1, 14, 0, 0, 0, time.UTC), got)
}

func TestParseDateTime(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
	}{
		{"2026-12-31 17:00", time.Date(2026, 12, 31, 17, 0, 0, 0, time.UTC)},
		{"2026-12-31 17:00:30", time.Date(2026, 12, 31, 17, 0, 30, 0, time.UTC)},
		{"12/31/2026 17:00", time.Date(2026, 12, 31, 17, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := Parse(tc.in, base)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestParseDateOnlyDefaults(t *testing.T) {
	// Reminders default to morning, deadlines to end of day.
	got, err := Parse("2026-12-31", base)
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 12, 31, 9, 0, 0, 0, time.UTC), got)

	got, err = ParseDeadline("2026-12-31", base)
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 12, 31, 23, 59, 0, 0, time.UTC), got)

	got, err = ParseDeadline("12/31/2026", base)
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 12, 31, 23, 59, 0, 0, time.UTC), got)
}

func TestParseUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	local := base.In(loc)

	got, err := Parse("2026-12-31 17:00", local)
	require.NoError(t, err)
	require.Equal(t, loc, got.Location())
}

func TestParseErrors(t *testing.T) {
	cases := []string{
		"",
		"   ",
		"soonish",
		"in a while",
		"in -5 minutes",
		"in 5 fortnights",
		"25:00",
		"14:5",
		"2026-13-40",
		"next tuesday",
	}
	for _, in := range cases {
		t.Run(in, func(t *testing.T) {
			_, err := Parse(in, base)
			require.ErrorIs(t, err, ErrParse)
		})
	}
}

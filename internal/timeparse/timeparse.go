// Package timeparse turns human time expressions into timestamps. It accepts
// relative forms ("in 2 hours", "in 30 mins"), bare time-of-day ("14:30",
// rolling to tomorrow when already passed), and absolute date or date-time
// forms ("2024-12-31 17:00", "12/31/2024", "2024-12-31").
package timeparse

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrParse is returned for any unrecognized expression.
var ErrParse = errors.New("timeparse: unrecognized time expression")

var relativeUnits = []struct {
	re  *regexp.Regexp
	dur func(n int) time.Duration
}{
	{regexp.MustCompile(`^(\d+)\s*years?\b`), func(n int) time.Duration { return time.Duration(n) * 365 * 24 * time.Hour }},
	{regexp.MustCompile(`^(\d+)\s*months?\b`), func(n int) time.Duration { return time.Duration(n) * 30 * 24 * time.Hour }},
	{regexp.MustCompile(`^(\d+)\s*weeks?\b`), func(n int) time.Duration { return time.Duration(n) * 7 * 24 * time.Hour }},
	{regexp.MustCompile(`^(\d+)\s*days?\b`), func(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }},
	{regexp.MustCompile(`^(\d+)\s*(?:hours?|hrs?)\b`), func(n int) time.Duration { return time.Duration(n) * time.Hour }},
	{regexp.MustCompile(`^(\d+)\s*(?:minutes?|mins?)\b`), func(n int) time.Duration { return time.Duration(n) * time.Minute }},
}

var dateTimeLayouts = []string{
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
	"01/02/2006 15:04",
	"01/02/2006 15:04:05",
}

var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
}

// Parse resolves text against now. Date-only expressions resolve to 09:00 on
// that date (a reminder default).
func Parse(text string, now time.Time) (time.Time, error) {
	return parse(text, now, 9, 0)
}

// ParseDeadline is Parse with the deadline convention: date-only expressions
// resolve to 23:59, end of the named day.
func ParseDeadline(text string, now time.Time) (time.Time, error) {
	return parse(text, now, 23, 59)
}

func parse(text string, now time.Time, dateHour, dateMinute int) (time.Time, error) {
	s := strings.ToLower(strings.TrimSpace(text))
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty input", ErrParse)
	}

	if rest, ok := strings.CutPrefix(s, "in "); ok {
		return parseRelative(rest, now)
	}

	for _, layout := range dateTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, now.Location()); err == nil {
			return t, nil
		}
	}

	// Bare HH:MM means today, or tomorrow when the moment has passed.
	if h, m, ok := parseClock(s); ok {
		t := time.Date(now.Year(), now.Month(), now.Day(), h, m, 0, 0, now.Location())
		if !t.After(now) {
			t = t.AddDate(0, 0, 1)
		}
		return t, nil
	}

	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, now.Location()); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), dateHour, dateMinute, 0, 0, now.Location()), nil
		}
	}

	return time.Time{}, fmt.Errorf("%w: %q", ErrParse, text)
}

func parseRelative(rest string, now time.Time) (time.Time, error) {
	for _, u := range relativeUnits {
		if m := u.re.FindStringSubmatch(rest); m != nil {
			n, err := strconv.Atoi(m[1])
			if err != nil || n < 0 {
				break
			}
			return now.Add(u.dur(n)), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q (use: in N minutes/hours/days/weeks)", ErrParse, "in "+rest)
}

func parseClock(s string) (hour, minute int, ok bool) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, false
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, false
	}
	// Reject things like "2024-1:30" that split oddly.
	if len(parts[0]) > 2 || len(parts[1]) != 2 {
		return 0, 0, false
	}
	return h, m, true
}

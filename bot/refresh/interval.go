package refresh

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/whiteout-project/warden/bot/clock"
)

// Interval is a parsed alliance refresh cadence: either every N minutes or
// daily at a fixed local wall-clock time ("@HH:MM").
type Interval struct {
	Minutes int // > 0 when minute-based
	Hour    int // 0..23 when daily
	Minute  int // 0..59 when daily
	Daily   bool
}

// IsZero reports an unset interval.
func (iv Interval) IsZero() bool { return !iv.Daily && iv.Minutes == 0 }

// ParseInterval accepts a positive integer minute count or "@HH:MM".
// Empty input yields the zero Interval (auto-refresh not configured).
func ParseInterval(s string) (Interval, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Interval{}, nil
	}
	if strings.HasPrefix(s, "@") {
		rest := s[1:]
		parts := strings.SplitN(rest, ":", 2)
		if len(parts) != 2 || len(parts[0]) != 2 || len(parts[1]) != 2 {
			return Interval{}, fmt.Errorf("invalid daily interval %q: want @HH:MM", s)
		}
		hh, err := strconv.Atoi(parts[0])
		if err != nil || hh < 0 || hh > 23 {
			return Interval{}, fmt.Errorf("invalid hour in interval %q", s)
		}
		mm, err := strconv.Atoi(parts[1])
		if err != nil || mm < 0 || mm > 59 {
			return Interval{}, fmt.Errorf("invalid minute in interval %q", s)
		}
		return Interval{Daily: true, Hour: hh, Minute: mm}, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return Interval{}, fmt.Errorf("invalid interval %q: %w", s, err)
	}
	if n <= 0 {
		return Interval{}, fmt.Errorf("interval minutes must be positive, got %d", n)
	}
	return Interval{Minutes: n}, nil
}

// FormatInterval renders an Interval back to its storage form.
// ParseInterval(FormatInterval(x)) == x for every valid x.
func FormatInterval(iv Interval) string {
	if iv.IsZero() {
		return ""
	}
	if iv.Daily {
		return fmt.Sprintf("@%02d:%02d", iv.Hour, iv.Minute)
	}
	return strconv.Itoa(iv.Minutes)
}

// Next computes the fire time after now: now + N minutes, or the next
// local occurrence of HH:MM (tomorrow if already passed today).
func (iv Interval) Next(now time.Time) time.Time {
	if iv.Daily {
		return clock.NextWallClock(now, iv.Hour, iv.Minute)
	}
	return now.Add(time.Duration(iv.Minutes) * time.Minute)
}

// Package timefmt formats times and durations for display.
package timefmt

import (
	"fmt"
	"time"
)

// Layouts used by Date and DateTime.
const (
	DateLayout     = "Jan 2, 2006"
	DateTimeLayout = "Jan 2, 2006 15:04"
)

// Relative describes t relative to now, e.g. "just now", "5 minutes ago",
// "in 2 hours", "yesterday". Beyond a week it falls back to Date.
func Relative(t, now time.Time) string {
	d := now.Sub(t)
	future := d < 0
	if future {
		d = -d
	}

	if d < time.Minute {
		return "just now"
	}

	var amount int
	var unit string
	switch {
	case d < time.Hour:
		amount, unit = int(d/time.Minute), "minute"
	case d < 24*time.Hour:
		amount, unit = int(d/time.Hour), "hour"
	case d < 7*24*time.Hour:
		days := int(d / (24 * time.Hour))
		if days == 1 {
			if future {
				return "tomorrow"
			}
			return "yesterday"
		}
		amount, unit = days, "day"
	default:
		return Date(t)
	}

	if amount != 1 {
		unit += "s"
	}
	if future {
		return fmt.Sprintf("in %d %s", amount, unit)
	}
	return fmt.Sprintf("%d %s ago", amount, unit)
}

// Clock renders d as hh:mm:ss. Negative durations render with a sign.
func Clock(d time.Duration) string {
	sign := ""
	if d < 0 {
		sign = "-"
		d = -d
	}
	d = d.Round(time.Second)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	s := (d % time.Minute) / time.Second
	return fmt.Sprintf("%s%02d:%02d:%02d", sign, h, m, s)
}

// Date renders t with DateLayout.
func Date(t time.Time) string {
	return t.Format(DateLayout)
}

// DateTime renders t with DateTimeLayout.
func DateTime(t time.Time) string {
	return t.Format(DateTimeLayout)
}

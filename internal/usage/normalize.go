package usage

import (
	"fmt"
	"math"
	"time"
)

// ScalePercent converts a raw numeric usage value into a 0-100 percentage.
// Providers are inconsistent about scale, sometimes within a single
// payload: one field arrives as a 0-1 fraction while a sibling arrives
// already scaled to 0-100. A value at or below 1.0 is treated as a
// fraction and multiplied by 100; anything above is passed through. The
// heuristic is applied per field, never per provider, and the result is
// always clamped to [0,100].
func ScalePercent(v float64) int {
	if v <= 1.0 {
		v *= 100
	}
	pct := int(math.Round(v))
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

var dayNames = [...]string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

// FormatReset renders a reset timestamp the way the detail view shows it:
// relative ("resets in 1h 23m") when under 20 hours away, otherwise by
// weekday ("resets Thu 00:00"). A reset in the past reads "resets soon".
func FormatReset(resetsAt, now time.Time) string {
	if resetsAt.IsZero() {
		return ""
	}
	d := resetsAt.Sub(now)
	if d <= 0 {
		return "resets soon"
	}
	if d < 20*time.Hour {
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		if h > 0 {
			return fmt.Sprintf("resets in %dh %dm", h, m)
		}
		return fmt.Sprintf("resets in %dm", m)
	}
	// time.Weekday starts on Sunday; dayNames starts on Monday.
	day := dayNames[(int(resetsAt.Weekday())+6)%7]
	return fmt.Sprintf("resets %s %s", day, resetsAt.Format("15:04"))
}

// ParseResetTime accepts the timestamp shapes providers use for reset
// fields: Unix seconds (number) or ISO 8601 (string, with or without a
// trailing Z). ok is false for anything unparseable.
func ParseResetTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, false
	case float64:
		if t <= 0 {
			return time.Time{}, false
		}
		return time.Unix(int64(t), 0).UTC(), true
	case int64:
		if t <= 0 {
			return time.Time{}, false
		}
		return time.Unix(t, 0).UTC(), true
	case string:
		if t == "" {
			return time.Time{}, false
		}
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

// ErrorUsage wraps a failure message as the provider's published state.
func ErrorUsage(err error) ProviderUsage {
	return ProviderUsage{Err: err.Error(), Configured: true}
}

// Unconfigured is the distinct "set up" state for providers with no
// credentials or key supplied.
func Unconfigured() ProviderUsage {
	return ProviderUsage{}
}

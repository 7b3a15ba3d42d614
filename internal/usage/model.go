package usage

import "time"

// SchemaVersion tags the persisted snapshot format read by the glance widget.
const SchemaVersion = 1

// StaleAfter is how old a snapshot may be before readers should treat it
// as stale. The widget applies the same threshold on its own schedule.
const StaleAfter = 30 * time.Minute

// LimitRow is one bounded usage dimension, e.g. a rolling session window
// or a weekly cap. Pct is always clamped to [0,100] after normalization.
type LimitRow struct {
	Label    string `json:"label"`
	Pct      int    `json:"pct"`
	ResetStr string `json:"reset_str"`
}

// ProviderUsage is the normalized result for a single provider. At publish
// time exactly one of Rows or Err is set, except when the provider is not
// configured at all, in which case both are empty and Configured is false.
type ProviderUsage struct {
	Rows []LimitRow `json:"rows,omitempty"`
	// Detail is a supplemental human-readable line for dimensions that
	// do not normalize to a percentage, e.g. an account balance.
	Detail     string `json:"detail,omitempty"`
	Err        string `json:"error,omitempty"`
	Configured bool   `json:"-"`
}

// NotConfigured reports the "set up" state, distinct from an error.
func (p ProviderUsage) NotConfigured() bool {
	return !p.Configured && p.Err == ""
}

// LocalStats carries message counts read from the local agent stats cache.
// It rides along in the snapshot for the detail view; nil when unavailable.
type LocalStats struct {
	TodayMessages int `json:"today_messages"`
	WeekMessages  int `json:"week_messages"`
	TodaySessions int `json:"today_sessions,omitempty"`
	WeekSessions  int `json:"week_sessions,omitempty"`
}

// Snapshot is the immutable aggregate of all providers' usage at one
// refresh cycle. A new Snapshot fully replaces the previous one; rows from
// different cycles are never mixed for the same provider.
type Snapshot struct {
	SchemaVersion     int
	CycleID           string
	CapturedAt        time.Time
	Providers         map[string]ProviderUsage
	ActiveProviders   []string
	FeaturedProviders []string
	LocalStats        *LocalStats
}

// Stale reports whether the snapshot is older than the staleness threshold.
func (s *Snapshot) Stale(now time.Time) bool {
	if s == nil {
		return true
	}
	return now.Sub(s.CapturedAt) > StaleAfter
}

// DriverRow returns the row that sets the headline percentage for a
// provider: its first row. For the primary provider that is the shortest,
// most time-sensitive window, which is what determines whether the user
// can act right now. Longer-window caps are informative but not urgent,
// so the headline deliberately does not use the max across rows.
func (s *Snapshot) DriverRow(providerID string) (LimitRow, bool) {
	if s == nil {
		return LimitRow{}, false
	}
	pu, ok := s.Providers[providerID]
	if !ok || len(pu.Rows) == 0 {
		return LimitRow{}, false
	}
	return pu.Rows[0], true
}

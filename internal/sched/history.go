package sched

import (
	"math"
	"time"
)

const (
	historyMaxAge = 24 * time.Hour
	burnWindow    = 30 * time.Minute
	minBurnSpan   = 5 * time.Minute
	burnHalfLife  = 10 * time.Minute

	// A drop this large between consecutive samples means the window
	// reset; older points would poison the regression.
	resetDropPct = 30

	maxETAMinutes      = 600
	pacingAlertMinutes = 30
)

type sample struct {
	t   time.Time
	pct int
}

// history keeps recent percentage samples per row key for burn-rate
// estimation. In-memory only; it rebuilds within minutes of a restart.
type history struct {
	samples map[string][]sample
	now     func() time.Time
}

func newHistory(now func() time.Time) *history {
	return &history{samples: map[string][]sample{}, now: now}
}

func (h *history) append(key string, pct int) {
	now := h.now()
	entries := h.samples[key]

	if n := len(entries); n > 0 && entries[n-1].pct-pct >= resetDropPct {
		entries = entries[:0]
	}

	entries = append(entries, sample{t: now, pct: pct})
	cutoff := now.Add(-historyMaxAge)
	for len(entries) > 0 && entries[0].t.Before(cutoff) {
		entries = entries[1:]
	}
	h.samples[key] = entries
}

// burnRate returns the recency-weighted regression slope in percentage
// points per minute over the last 30 minutes. Exponential decay
// weighting (10 minute half-life) lets recent points dominate and old
// bursts fade. Returns false with fewer than two points in the window
// or a span under five minutes.
func (h *history) burnRate(key string) (float64, bool) {
	now := h.now()
	cutoff := now.Add(-burnWindow)

	var recent []sample
	for _, e := range h.samples[key] {
		if !e.t.Before(cutoff) {
			recent = append(recent, e)
		}
	}
	if len(recent) < 2 {
		return 0, false
	}
	if recent[len(recent)-1].t.Sub(recent[0].t) < minBurnSpan {
		return 0, false
	}

	// Center timestamps for numerical stability.
	var tMean float64
	for _, e := range recent {
		tMean += float64(e.t.Unix())
	}
	tMean /= float64(len(recent))

	decay := math.Ln2 / burnHalfLife.Seconds()
	var sw, swt, swp, swtp, swt2 float64
	for _, e := range recent {
		tc := float64(e.t.Unix()) - tMean
		w := math.Exp(-decay * now.Sub(e.t).Seconds())
		sw += w
		swt += w * tc
		swp += w * float64(e.pct)
		swtp += w * tc * float64(e.pct)
		swt2 += w * tc * tc
	}

	denom := sw*swt2 - swt*swt
	if math.Abs(denom) < 1e-10 {
		return 0, false
	}
	slope := (sw*swtp - swt*swp) / denom // pct per second
	return slope * 60, true
}

// etaMinutes estimates minutes until the row hits 100%. Returns false
// when usage is flat or falling, or the projection is over ten hours
// out and too noisy to act on.
func (h *history) etaMinutes(key string) (int, bool) {
	entries := h.samples[key]
	if len(entries) == 0 {
		return 0, false
	}
	current := entries[len(entries)-1].pct

	rate, ok := h.burnRate(key)
	if !ok || rate <= 0 {
		return 0, false
	}
	remaining := 100 - current
	if remaining <= 0 {
		return 0, true
	}
	eta := float64(remaining) / rate
	if eta > maxETAMinutes {
		return 0, false
	}
	m := int(math.Round(eta))
	if m < 1 {
		m = 1
	}
	return m, true
}

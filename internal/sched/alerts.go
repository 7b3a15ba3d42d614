package sched

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/quotabar/quotabar/internal/config"
	"github.com/quotabar/quotabar/internal/notify"
	"github.com/quotabar/quotabar/internal/usage"
)

// Alerter turns snapshot transitions into desktop notifications: a
// threshold crossing, a window reset, and a pacing projection. Each
// fires once per transition, not once per cycle.
type Alerter struct {
	notifier notify.Notifier
	cfg      config.NotificationsConfig
	log      *zap.Logger

	warned        map[string]struct{} // "<row key>@<threshold>" entries
	prevPct       map[string]int
	pacingAlerted map[string]struct{}
	hist          *history
}

func NewAlerter(notifier notify.Notifier, cfg config.NotificationsConfig, log *zap.Logger) *Alerter {
	return &Alerter{
		notifier:      notifier,
		cfg:           cfg,
		log:           log,
		warned:        map[string]struct{}{},
		prevPct:       map[string]int{},
		pacingAlerted: map[string]struct{}{},
		hist:          newHistory(time.Now),
	}
}

// Observe walks every row in the snapshot, updating alert state and
// firing any due notifications. displayNames maps provider ids to what
// the notification should call them.
func (a *Alerter) Observe(snap *usage.Snapshot, displayNames map[string]string) {
	for _, id := range snap.ActiveProviders {
		pu, ok := snap.Providers[id]
		if !ok || pu.Err != "" {
			continue
		}
		name := displayNames[id]
		if name == "" {
			name = id
		}
		for _, row := range pu.Rows {
			a.observeRow(id, name, row)
		}
	}
}

func (a *Alerter) observeRow(providerID, providerName string, row usage.LimitRow) {
	key := providerID + "/" + row.Label
	warnKey := fmt.Sprintf("%s@%d", key, config.WarnThreshold)
	critKey := fmt.Sprintf("%s@%d", key, config.CritThreshold)
	label := providerName + " " + row.Label

	prev, hasPrev := a.prevPct[key]
	a.prevPct[key] = row.Pct

	// Reset: a meaningful drop from above the warn line back below it.
	if a.cfg.Reset && hasPrev &&
		prev >= config.WarnThreshold && row.Pct < config.WarnThreshold &&
		prev-row.Pct >= 10 {
		delete(a.warned, warnKey)
		delete(a.warned, critKey)
		a.notifier.Notify(
			fmt.Sprintf("%s has reset", label),
			fmt.Sprintf("Now at %d%%.", row.Pct),
		)
	}

	if a.cfg.Warning {
		switch {
		case row.Pct >= config.CritThreshold:
			if _, done := a.warned[critKey]; !done {
				a.warned[critKey] = struct{}{}
				a.notifier.Notify(
					fmt.Sprintf("%s is at %d%%", label, row.Pct),
					orDefault(row.ResetStr, "Limit almost reached."),
				)
			}
		case row.Pct >= config.WarnThreshold:
			if _, done := a.warned[warnKey]; !done {
				a.warned[warnKey] = struct{}{}
				a.notifier.Notify(
					fmt.Sprintf("%s is at %d%%", label, row.Pct),
					orDefault(row.ResetStr, "Approaching limit."),
				)
			}
		default:
			delete(a.warned, warnKey)
			delete(a.warned, critKey)
		}
	}

	a.hist.append(key, row.Pct)
	a.checkPacing(key, label)
}

// checkPacing fires when the projected time to 100% falls under the
// alert horizon, once per episode; it re-arms as soon as the pace
// recovers.
func (a *Alerter) checkPacing(key, label string) {
	if !a.cfg.Pacing {
		return
	}
	eta, ok := a.hist.etaMinutes(key)
	if ok && eta <= pacingAlertMinutes {
		if _, done := a.pacingAlerted[key]; !done {
			a.pacingAlerted[key] = struct{}{}
			a.notifier.Notify(
				fmt.Sprintf("%s limit in ~%s", label, formatETA(eta)),
				"At your current pace you'll hit the cap soon.",
			)
		}
		return
	}
	delete(a.pacingAlerted, key)
}

func formatETA(minutes int) string {
	if minutes < 60 {
		return fmt.Sprintf("%d min", minutes)
	}
	return fmt.Sprintf("%dh %d min", minutes/60, minutes%60)
}

func orDefault(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}

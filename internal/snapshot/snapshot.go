// Package snapshot publishes refresh results: an in-process atomically
// swapped current snapshot for the UI, and a JSON file for the glance
// widget. Both are full replacements; readers never see rows from two
// different cycles mixed together.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/quotabar/quotabar/internal/usage"
)

const fileName = "usage.json"

// filePayload is the on-disk schema consumed by the widget.
type filePayload struct {
	Version           int                            `json:"version"`
	UpdatedAt         string                         `json:"updated_at"`
	Providers         map[string]usage.ProviderUsage `json:"providers"`
	ActiveProviders   []string                       `json:"active_providers"`
	FeaturedProviders []string                       `json:"featured_providers,omitempty"`
	LocalAgent        *usage.LocalStats              `json:"local_agent,omitempty"`
}

// Publisher hands completed snapshots to in-process readers and mirrors
// them to the widget file.
type Publisher struct {
	cur     atomic.Pointer[usage.Snapshot]
	updates chan *usage.Snapshot
	dir     string // empty disables the file mirror
	log     *zap.Logger
}

// NewPublisher writes widget files under dir; pass "" to keep snapshots
// in memory only.
func NewPublisher(dir string, log *zap.Logger) *Publisher {
	return &Publisher{
		updates: make(chan *usage.Snapshot, 1),
		dir:     dir,
		log:     log,
	}
}

// Current returns the latest published snapshot, or nil before the
// first cycle completes.
func (p *Publisher) Current() *usage.Snapshot {
	return p.cur.Load()
}

// Updates delivers each published snapshot, coalescing to the newest
// when the reader lags.
func (p *Publisher) Updates() <-chan *usage.Snapshot {
	return p.updates
}

// Publish replaces the current snapshot and mirrors it to disk. The
// file write is best effort: a full disk must not take down the
// monitor, the widget simply goes stale.
func (p *Publisher) Publish(snap *usage.Snapshot) {
	p.cur.Store(snap)

	select {
	case p.updates <- snap:
	default:
		// Reader lagging: drop the stale pending snapshot.
		select {
		case <-p.updates:
		default:
		}
		select {
		case p.updates <- snap:
		default:
		}
	}

	if p.dir == "" {
		return
	}
	if err := p.writeFile(snap); err != nil {
		p.log.Warn("widget snapshot write failed", zap.Error(err))
	}
}

// writeFile writes the widget JSON with a temp-file rename so the
// widget never reads a partial document.
func (p *Publisher) writeFile(snap *usage.Snapshot) error {
	payload := filePayload{
		Version:           snap.SchemaVersion,
		UpdatedAt:         snap.CapturedAt.UTC().Format(time.RFC3339),
		Providers:         snap.Providers,
		ActiveProviders:   snap.ActiveProviders,
		FeaturedProviders: snap.FeaturedProviders,
		LocalAgent:        snap.LocalStats,
	}
	blob, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	if err := os.MkdirAll(p.dir, 0o700); err != nil {
		return fmt.Errorf("create widget dir: %w", err)
	}
	tmp := filepath.Join(p.dir, "."+fileName+".tmp")
	if err := os.WriteFile(tmp, blob, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(p.dir, fileName)); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// ReadFile loads a previously written widget snapshot, used by the
// snapshot subcommand and by a fresh process to show something before
// the first fetch lands.
func ReadFile(dir string) (*usage.Snapshot, error) {
	raw, err := os.ReadFile(filepath.Join(dir, fileName))
	if err != nil {
		return nil, err
	}
	var payload filePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode snapshot file: %w", err)
	}
	capturedAt, err := time.Parse(time.RFC3339, payload.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("decode snapshot timestamp: %w", err)
	}
	providers := payload.Providers
	for id, pu := range providers {
		if len(pu.Rows) > 0 || pu.Detail != "" {
			pu.Configured = true
			providers[id] = pu
		}
	}
	return &usage.Snapshot{
		SchemaVersion:     payload.Version,
		CapturedAt:        capturedAt,
		Providers:         providers,
		ActiveProviders:   payload.ActiveProviders,
		FeaturedProviders: payload.FeaturedProviders,
		LocalStats:        payload.LocalAgent,
	}, nil
}

package snapshot

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/quotabar/quotabar/internal/usage"
)

func testSnapshot(cycle string, pct int) *usage.Snapshot {
	return &usage.Snapshot{
		SchemaVersion: usage.SchemaVersion,
		CycleID:       cycle,
		CapturedAt:    time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
		Providers: map[string]usage.ProviderUsage{
			"claude": {
				Rows: []usage.LimitRow{
					{Label: "Current Session", Pct: pct, ResetStr: "resets in 1h 23m"},
				},
				Configured: true,
			},
			"chatgpt": {Err: "network unreachable"},
		},
		ActiveProviders: []string{"claude", "chatgpt"},
	}
}

func TestPublishReplacesCurrent(t *testing.T) {
	p := NewPublisher("", zap.NewNop())
	if p.Current() != nil {
		t.Fatal("fresh publisher has a snapshot")
	}

	p.Publish(testSnapshot("c1", 36))
	p.Publish(testSnapshot("c2", 50))

	cur := p.Current()
	if cur == nil || cur.CycleID != "c2" {
		t.Fatalf("current = %+v", cur)
	}
	if cur.Providers["claude"].Rows[0].Pct != 50 {
		t.Errorf("rows not from latest cycle: %+v", cur.Providers["claude"])
	}
}

func TestUpdatesCoalesceToNewest(t *testing.T) {
	p := NewPublisher("", zap.NewNop())

	// Nobody reads between these publishes.
	p.Publish(testSnapshot("c1", 10))
	p.Publish(testSnapshot("c2", 20))
	p.Publish(testSnapshot("c3", 30))

	select {
	case got := <-p.Updates():
		if got.CycleID != "c3" {
			t.Fatalf("delivered cycle %s, want c3", got.CycleID)
		}
	default:
		t.Fatal("no update pending")
	}

	select {
	case got := <-p.Updates():
		t.Fatalf("stale update still pending: %s", got.CycleID)
	default:
	}
}

func TestWriteAndReadFile(t *testing.T) {
	dir := t.TempDir()
	p := NewPublisher(dir, zap.NewNop())
	p.Publish(testSnapshot("c1", 36))

	// No partial temp file lingers after the rename.
	if _, err := os.Stat(filepath.Join(dir, ".usage.json.tmp")); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}

	raw, err := os.ReadFile(filepath.Join(dir, "usage.json"))
	if err != nil {
		t.Fatalf("read widget file: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("widget file is not valid JSON: %v", err)
	}
	if payload["version"].(float64) != float64(usage.SchemaVersion) {
		t.Errorf("version = %v", payload["version"])
	}
	if payload["updated_at"] != "2026-03-02T12:00:00Z" {
		t.Errorf("updated_at = %v", payload["updated_at"])
	}

	back, err := ReadFile(dir)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !back.CapturedAt.Equal(time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("captured at = %v", back.CapturedAt)
	}
	claude := back.Providers["claude"]
	if !claude.Configured || claude.Rows[0].Pct != 36 {
		t.Errorf("claude = %+v", claude)
	}
	if back.Providers["chatgpt"].Err != "network unreachable" {
		t.Errorf("chatgpt = %+v", back.Providers["chatgpt"])
	}
	if len(back.ActiveProviders) != 2 {
		t.Errorf("active = %v", back.ActiveProviders)
	}
}

func TestReadFileMissing(t *testing.T) {
	if _, err := ReadFile(t.TempDir()); err == nil {
		t.Fatal("expected error for missing snapshot file")
	}
}

package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/quotabar/quotabar/internal/usage"
)

type fakeControls struct {
	refreshed int
	interval  time.Duration
}

func (f *fakeControls) RefreshNow()                 { f.refreshed++ }
func (f *fakeControls) SetInterval(d time.Duration) { f.interval = d }
func (f *fakeControls) Interval() time.Duration     { return f.interval }

type fakeSnapshots struct {
	cur     *usage.Snapshot
	updates chan *usage.Snapshot
}

func newFakeSnapshots() *fakeSnapshots {
	return &fakeSnapshots{updates: make(chan *usage.Snapshot, 8)}
}

func (f *fakeSnapshots) Current() *usage.Snapshot        { return f.cur }
func (f *fakeSnapshots) Updates() <-chan *usage.Snapshot { return f.updates }

func snapAt(t time.Time, pct int) *usage.Snapshot {
	return &usage.Snapshot{
		SchemaVersion: usage.SchemaVersion,
		CycleID:       "cycle",
		CapturedAt:    t,
		Providers: map[string]usage.ProviderUsage{
			"claude": {
				Rows: []usage.LimitRow{
					{Label: "Current Session", Pct: pct, ResetStr: "resets in 2h"},
				},
				Configured: true,
			},
		},
		ActiveProviders: []string{"claude"},
	}
}

func newTestModel(snaps *fakeSnapshots, ctrl *fakeControls) Model {
	m := NewModel(Options{
		Snapshots:    snaps,
		Controls:     ctrl,
		Order:        []string{"claude"},
		DisplayNames: map[string]string{"claude": "Claude"},
		NoColor:      true,
	})
	m.width = 80
	m.height = 24
	return m
}

func TestDrainKeepsNewestSnapshot(t *testing.T) {
	snaps := newFakeSnapshots()
	ctrl := &fakeControls{interval: 5 * time.Minute}
	m := newTestModel(snaps, ctrl)

	base := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	snaps.updates <- snapAt(base, 10)
	snaps.updates <- snapAt(base.Add(time.Minute), 20)
	snaps.updates <- snapAt(base.Add(2*time.Minute), 30)

	next, _ := m.Update(drainTickMsg{at: base.Add(3 * time.Minute)})
	m = next.(Model)

	if m.snap == nil {
		t.Fatal("expected a snapshot after drain")
	}
	if got := m.snap.Providers["claude"].Rows[0].Pct; got != 30 {
		t.Fatalf("expected newest snapshot (pct 30), got %d", got)
	}
	if m.refreshing {
		t.Fatal("refreshing flag should clear once a snapshot arrives")
	}
}

func TestDrainFallsBackToCurrent(t *testing.T) {
	snaps := newFakeSnapshots()
	base := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	snaps.cur = snapAt(base, 42)
	m := newTestModel(snaps, &fakeControls{interval: time.Minute})

	next, _ := m.Update(drainTickMsg{at: base})
	m = next.(Model)

	if m.snap == nil || m.snap.Providers["claude"].Rows[0].Pct != 42 {
		t.Fatal("expected drain to pick up the already-published snapshot")
	}
}

func TestRefreshKeyTriggersScheduler(t *testing.T) {
	ctrl := &fakeControls{interval: 5 * time.Minute}
	m := newTestModel(newFakeSnapshots(), ctrl)
	m.refreshing = false

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'r'}})
	m = next.(Model)

	if ctrl.refreshed != 1 {
		t.Fatalf("expected RefreshNow once, got %d", ctrl.refreshed)
	}
	if !m.refreshing {
		t.Fatal("expected refreshing state after pressing r")
	}
}

func TestIntervalKeys(t *testing.T) {
	cases := []struct {
		key  rune
		want time.Duration
	}{
		{'1', time.Minute},
		{'2', 5 * time.Minute},
		{'3', 15 * time.Minute},
	}
	for _, tc := range cases {
		ctrl := &fakeControls{interval: 5 * time.Minute}
		m := newTestModel(newFakeSnapshots(), ctrl)
		m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{tc.key}})
		if ctrl.interval != tc.want {
			t.Fatalf("key %q: expected interval %v, got %v", tc.key, tc.want, ctrl.interval)
		}
	}
}

func TestQuitKeys(t *testing.T) {
	m := newTestModel(newFakeSnapshots(), &fakeControls{interval: time.Minute})
	for _, key := range []tea.KeyMsg{{Type: tea.KeyCtrlC}, {Type: tea.KeyRunes, Runes: []rune{'q'}}} {
		_, cmd := m.Update(key)
		if cmd == nil {
			t.Fatalf("expected quit command for %v", key)
		}
	}
}

func TestViewShowsProviderRows(t *testing.T) {
	snaps := newFakeSnapshots()
	base := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	snaps.cur = snapAt(base, 36)
	m := newTestModel(snaps, &fakeControls{interval: 5 * time.Minute})
	next, _ := m.Update(drainTickMsg{at: base})
	m = next.(Model)

	view := m.View()
	for _, want := range []string{"Claude", "Current Session", "36%", "resets in 2h"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view missing %q:\n%s", want, view)
		}
	}
}

func TestViewShowsErrorAndNotConfigured(t *testing.T) {
	base := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	snaps := newFakeSnapshots()
	snaps.cur = &usage.Snapshot{
		SchemaVersion: usage.SchemaVersion,
		CapturedAt:    base,
		Providers: map[string]usage.ProviderUsage{
			"claude":  {Err: "unauthorized: status 401", Configured: true},
			"chatgpt": {},
		},
		ActiveProviders: []string{"claude", "chatgpt"},
	}
	m := NewModel(Options{
		Snapshots:    snaps,
		Controls:     &fakeControls{interval: time.Minute},
		Order:        []string{"claude", "chatgpt"},
		DisplayNames: map[string]string{"claude": "Claude", "chatgpt": "ChatGPT"},
		NoColor:      true,
	})
	m.width = 80
	m.height = 30
	next, _ := m.Update(drainTickMsg{at: base})
	m = next.(Model)

	view := m.View()
	if !strings.Contains(view, "error: unauthorized") {
		t.Fatalf("view missing error line:\n%s", view)
	}
	if !strings.Contains(view, "not configured") {
		t.Fatalf("view missing not-configured line:\n%s", view)
	}
}

func TestHeaderReportsStaleness(t *testing.T) {
	base := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	snaps := newFakeSnapshots()
	snaps.cur = snapAt(base, 10)
	m := newTestModel(snaps, &fakeControls{interval: 5 * time.Minute})
	next, _ := m.Update(drainTickMsg{at: base.Add(usage.StaleAfter + time.Minute)})
	m = next.(Model)

	if !strings.Contains(m.renderHeader(), "stale") {
		t.Fatal("expected stale state in header")
	}
}

func TestPercentStyleTiers(t *testing.T) {
	st := defaultStyles(false)
	cases := []struct {
		pct  int
		want string
	}{
		{0, st.ok.Render("x")},
		{79, st.ok.Render("x")},
		{80, st.warn.Render("x")},
		{94, st.warn.Render("x")},
		{95, st.crit.Render("x")},
		{100, st.crit.Render("x")},
	}
	for _, tc := range cases {
		if got := percentStyle(tc.pct, st).Render("x"); got != tc.want {
			t.Fatalf("percentStyle(%d) rendered %q, want %q", tc.pct, got, tc.want)
		}
	}
}

func TestHumanDuration(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want string
	}{
		{500 * time.Millisecond, "<1s"},
		{45 * time.Second, "45s"},
		{90 * time.Second, "1m30s"},
		{3*time.Hour + 5*time.Minute, "3h5m"},
		{26 * time.Hour, "1d2h"},
		{-time.Second, "<1s"},
	}
	for _, tc := range cases {
		if got := humanDuration(tc.in); got != tc.want {
			t.Fatalf("humanDuration(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestJoinWithPaddingKeepRight(t *testing.T) {
	got := joinWithPaddingKeepRight("left", "right", 20)
	if len([]rune(got)) != 20 {
		t.Fatalf("expected width 20, got %d: %q", len([]rune(got)), got)
	}
	if !strings.HasPrefix(got, "left") || !strings.HasSuffix(got, "right") {
		t.Fatalf("unexpected join result: %q", got)
	}
}

func TestClipToViewportPadsAndTruncates(t *testing.T) {
	got := clipToViewport("ab\ncdefgh\n", 4, 2)
	lines := strings.Split(got, "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0] != "ab  " || lines[1] != "cdef" {
		t.Fatalf("unexpected clip result: %q", lines)
	}
}

func TestPinFooterToBottom(t *testing.T) {
	got := pinFooterToBottom("top", "footer", 4)
	lines := strings.Split(got, "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines, got %d", len(lines))
	}
	if lines[0] != "top" || lines[3] != "footer" {
		t.Fatalf("unexpected pin result: %q", lines)
	}
}

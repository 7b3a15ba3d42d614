// Package localstats reads local coding-agent activity counts from the
// agent's on-disk stats cache. No network involved; absence of the file
// just means the agent is not installed.
package localstats

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/quotabar/quotabar/internal/config"
	"github.com/quotabar/quotabar/internal/usage"
)

const statsCachePath = "~/.claude/stats-cache.json"

type dailyEntry struct {
	Date          string `json:"date"` // YYYY-MM-DD
	MessageCount  int    `json:"messageCount"`
	SessionCount  int    `json:"sessionCount"`
	ToolCallCount int    `json:"toolCallCount"`
}

type statsCache struct {
	DailyActivity []dailyEntry `json:"dailyActivity"`
}

// Reader loads local stats; path is overridable for tests.
type Reader struct {
	path string
	now  func() time.Time
}

func NewReader() *Reader {
	path, err := config.ExpandPath(statsCachePath)
	if err != nil {
		path = ""
	}
	return &Reader{path: path, now: time.Now}
}

// Read returns today's and the trailing week's message counts, or nil
// when the stats cache does not exist or cannot be parsed.
func (r *Reader) Read() *usage.LocalStats {
	if r.path == "" {
		return nil
	}
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return nil
	}
	var cache statsCache
	if err := json.Unmarshal(raw, &cache); err != nil {
		return nil
	}

	now := r.now()
	today := now.Format("2006-01-02")
	weekAgo := now.AddDate(0, 0, -7).Format("2006-01-02")

	out := &usage.LocalStats{}
	for _, e := range cache.DailyActivity {
		if e.Date == today {
			out.TodayMessages = e.MessageCount
			out.TodaySessions = e.SessionCount
		}
		// Lexicographic compare works for ISO dates.
		if e.Date >= weekAgo {
			out.WeekMessages += e.MessageCount
			out.WeekSessions += e.SessionCount
		}
	}
	return out
}

// FormatCount renders a message count compactly for the detail view.
func FormatCount(n int) string {
	if n >= 10_000 {
		return fmt.Sprintf("%.1fk", float64(n)/1000)
	}
	return fmt.Sprintf("%d", n)
}

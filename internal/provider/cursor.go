package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/quotabar/quotabar/internal/creds"
	"github.com/quotabar/quotabar/internal/usage"
)

// CursorFetcher reads plan usage from the Cursor dashboard API using the
// WorkOS browser session.
type CursorFetcher struct {
	client  *http.Client
	baseURL string
	now     func() time.Time
}

func NewCursorFetcher(client *http.Client) *CursorFetcher {
	return &CursorFetcher{client: client, baseURL: "https://cursor.com", now: time.Now}
}

func (f *CursorFetcher) ID() string          { return "cursor" }
func (f *CursorFetcher) DisplayName() string { return "Cursor" }

func (f *CursorFetcher) Fetch(ctx context.Context, c creds.Credentials) (usage.ProviderUsage, error) {
	var payload cursorUsagePayload
	url := f.baseURL + "/api/usage-summary"
	if err := getJSON(ctx, f.client, f.ID(), url, f.baseURL+"/dashboard?tab=usage", c, nil, &payload); err != nil {
		return usage.ProviderUsage{}, err
	}
	if payload.IndividualUsage == nil || payload.IndividualUsage.Plan == nil {
		return usage.ProviderUsage{}, &FetchError{
			Provider: f.ID(), Kind: KindUnknown,
			Err: fmt.Errorf("usage summary has no plan section"),
		}
	}

	plan := payload.IndividualUsage.Plan
	reset := cycleResetString(payload.BillingCycleEnd, f.now())
	rows := []usage.LimitRow{
		{Label: "Auto", Pct: usage.ScalePercent(plan.AutoPercentUsed), ResetStr: reset},
		{Label: "API", Pct: usage.ScalePercent(plan.APIPercentUsed), ResetStr: reset},
	}
	return usage.ProviderUsage{Rows: rows, Configured: true}, nil
}

// cycleResetString renders a billing-cycle boundary, which is typically
// weeks out, in day granularity rather than the clock-time format used
// for rolling windows.
func cycleResetString(cycleEnd string, now time.Time) string {
	if cycleEnd == "" {
		return ""
	}
	t, ok := usage.ParseResetTime(cycleEnd)
	if !ok {
		return ""
	}
	d := t.Sub(now)
	if d <= 0 {
		return ""
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	if days > 0 {
		return fmt.Sprintf("resets in %dd %dh", days, hours)
	}
	return fmt.Sprintf("resets in %dh", hours)
}

type cursorUsagePayload struct {
	IndividualUsage *struct {
		Plan *struct {
			AutoPercentUsed  float64 `json:"autoPercentUsed"`
			APIPercentUsed   float64 `json:"apiPercentUsed"`
			TotalPercentUsed float64 `json:"totalPercentUsed"`
		} `json:"plan"`
	} `json:"individualUsage"`
	BillingCycleEnd string `json:"billingCycleEnd"`
}

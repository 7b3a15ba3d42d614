package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/quotabar/quotabar/internal/creds"
	"github.com/quotabar/quotabar/internal/usage"
)

// ClaudeFetcher reads plan usage from the claude.ai web API using a
// browser session. The org id comes from the cookie jar when present;
// otherwise a handful of account endpoints are probed for it.
type ClaudeFetcher struct {
	client  *http.Client
	baseURL string
	now     func() time.Time
}

func NewClaudeFetcher(client *http.Client) *ClaudeFetcher {
	return &ClaudeFetcher{client: client, baseURL: "https://claude.ai", now: time.Now}
}

func (f *ClaudeFetcher) ID() string          { return "claude" }
func (f *ClaudeFetcher) DisplayName() string { return "Claude" }

// orgProbePaths are tried in order when the cookies carry no org id.
var orgProbePaths = []string{
	"/api/organizations",
	"/api/bootstrap",
	"/api/auth/current_account",
	"/api/account",
}

func (f *ClaudeFetcher) Fetch(ctx context.Context, c creds.Credentials) (usage.ProviderUsage, error) {
	orgID := orgIDFromCookies(c.Cookies)
	if orgID == "" {
		var err error
		orgID, err = f.probeOrgID(ctx, c)
		if err != nil {
			return usage.ProviderUsage{}, err
		}
	}

	var payload claudeUsagePayload
	url := fmt.Sprintf("%s/api/organizations/%s/usage", f.baseURL, orgID)
	if err := getJSON(ctx, f.client, f.ID(), url, f.baseURL+"/settings/usage", c, nil, &payload); err != nil {
		return usage.ProviderUsage{}, err
	}

	now := f.now()
	var rows []usage.LimitRow
	for _, b := range []struct {
		bucket *claudeUsageBucket
		label  string
	}{
		{payload.FiveHour, "Current Session"},
		{payload.SevenDay, "All Models"},
		{payload.SevenDaySonnet, "Sonnet Only"},
		{payload.SevenDayOpus, "Opus Only"},
	} {
		if b.bucket == nil {
			continue
		}
		rows = append(rows, usage.LimitRow{
			Label:    b.label,
			Pct:      usage.ScalePercent(b.bucket.Utilization),
			ResetStr: resetString(b.bucket.ResetsAt, now),
		})
	}
	if len(rows) == 0 {
		return usage.ProviderUsage{}, &FetchError{
			Provider: f.ID(), Kind: KindUnknown,
			Err: fmt.Errorf("usage response has no limit buckets"),
		}
	}

	pu := usage.ProviderUsage{Rows: rows, Configured: true}
	// extra_usage is null when the pay-per-use overage toggle is off.
	if truthy(payload.ExtraUsage) {
		pu.Detail = "extra usage enabled"
	}
	return pu, nil
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

func orgIDFromCookies(cookies map[string]string) string {
	if v := cookies["lastActiveOrg"]; v != "" {
		return v
	}
	return cookies["routingHint"]
}

// probeOrgID walks the account endpoints until one yields an org id.
// Each endpoint has a different shape, so the decode target is loose.
func (f *ClaudeFetcher) probeOrgID(ctx context.Context, c creds.Credentials) (string, error) {
	var lastErr error
	for _, path := range orgProbePaths {
		var raw any
		if err := getJSON(ctx, f.client, f.ID(), f.baseURL+path, f.baseURL+"/settings/usage", c, nil, &raw); err != nil {
			lastErr = err
			// Rejected credentials will be rejected everywhere.
			if KindOf(err) == KindUnauthorized {
				return "", err
			}
			continue
		}
		if id := extractOrgID(raw); id != "" {
			return id, nil
		}
	}
	if lastErr != nil {
		return "", lastErr
	}
	return "", &FetchError{
		Provider: f.ID(), Kind: KindUnknown,
		Err: fmt.Errorf("no organization id in cookies or account endpoints"),
	}
}

// extractOrgID digs an org id out of the shapes the account endpoints
// return: a list of orgs, or nested organization/membership objects.
func extractOrgID(raw any) string {
	switch v := raw.(type) {
	case []any:
		if len(v) == 0 {
			return ""
		}
		if m, ok := v[0].(map[string]any); ok {
			return firstString(m, "id", "uuid")
		}
	case map[string]any:
		if id := firstString(v, "organization_id", "org_id"); id != "" {
			return id
		}
		if orgs, ok := v["organizations"].([]any); ok && len(orgs) > 0 {
			if m, ok := orgs[0].(map[string]any); ok {
				if id := firstString(m, "id", "uuid"); id != "" {
					return id
				}
			}
		}
		if acct, ok := v["account"].(map[string]any); ok {
			if members, ok := acct["memberships"].([]any); ok && len(members) > 0 {
				if m, ok := members[0].(map[string]any); ok {
					if org, ok := m["organization"].(map[string]any); ok {
						return firstString(org, "id", "uuid")
					}
				}
			}
		}
	}
	return ""
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func resetString(v any, now time.Time) string {
	t, ok := usage.ParseResetTime(v)
	if !ok {
		return ""
	}
	return usage.FormatReset(t, now)
}

type claudeUsagePayload struct {
	FiveHour       *claudeUsageBucket `json:"five_hour"`
	SevenDay       *claudeUsageBucket `json:"seven_day"`
	SevenDaySonnet *claudeUsageBucket `json:"seven_day_sonnet"`
	SevenDayOpus   *claudeUsageBucket `json:"seven_day_opus"`
	ExtraUsage     any                `json:"extra_usage"`
}

type claudeUsageBucket struct {
	Utilization float64 `json:"utilization"`
	ResetsAt    any     `json:"resets_at"`
}

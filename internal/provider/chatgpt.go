package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/quotabar/quotabar/internal/creds"
	"github.com/quotabar/quotabar/internal/usage"
)

// ChatGPTFetcher exchanges the browser session cookie for a short-lived
// bearer token, then reads the rate-limit windows from the usage API.
type ChatGPTFetcher struct {
	client  *http.Client
	baseURL string
	now     func() time.Time
}

func NewChatGPTFetcher(client *http.Client) *ChatGPTFetcher {
	return &ChatGPTFetcher{client: client, baseURL: "https://chatgpt.com", now: time.Now}
}

func (f *ChatGPTFetcher) ID() string          { return "chatgpt" }
func (f *ChatGPTFetcher) DisplayName() string { return "ChatGPT" }

func (f *ChatGPTFetcher) Fetch(ctx context.Context, c creds.Credentials) (usage.ProviderUsage, error) {
	referer := f.baseURL + "/codex/settings/usage"

	var session struct {
		AccessToken string `json:"accessToken"`
	}
	if err := getJSON(ctx, f.client, f.ID(), f.baseURL+"/api/auth/session", referer, c, nil, &session); err != nil {
		return usage.ProviderUsage{}, err
	}
	if session.AccessToken == "" {
		// The session endpoint returns 200 with an empty object for
		// logged-out cookies.
		return usage.ProviderUsage{}, &FetchError{
			Provider: f.ID(), Kind: KindUnauthorized,
			Err: fmt.Errorf("session endpoint returned no access token"),
		}
	}

	var payload chatGPTUsagePayload
	headers := map[string]string{"Authorization": "Bearer " + session.AccessToken}
	if err := getJSON(ctx, f.client, f.ID(), f.baseURL+"/backend-api/wham/usage", referer, c, headers, &payload); err != nil {
		return usage.ProviderUsage{}, err
	}

	now := f.now()
	var rows []usage.LimitRow
	if row, ok := windowRow(payload.RateLimit, "Codex Tasks", now); ok {
		rows = append(rows, row)
	}
	if row, ok := windowRow(payload.CodeReviewRateLimit, "Code Review", now); ok {
		rows = append(rows, row)
	}
	for _, extra := range payload.AdditionalRateLimits {
		label := extra.Name
		if label == "" {
			label = extra.Type
		}
		if label == "" {
			label = "Extra"
		}
		if row, ok := windowRow(&extra.chatGPTRateLimit, titleCase(label), now); ok {
			rows = append(rows, row)
		}
	}

	if len(rows) == 0 {
		return usage.ProviderUsage{}, &FetchError{
			Provider: f.ID(), Kind: KindUnknown,
			Err: fmt.Errorf("no rate limit data in response"),
		}
	}
	return usage.ProviderUsage{Rows: rows, Configured: true}, nil
}

func windowRow(rl *chatGPTRateLimit, label string, now time.Time) (usage.LimitRow, bool) {
	if rl == nil || rl.PrimaryWindow == nil {
		return usage.LimitRow{}, false
	}
	w := rl.PrimaryWindow
	row := usage.LimitRow{Label: label, Pct: usage.ScalePercent(w.UsedPercent)}
	if w.ResetAt != nil {
		if t, ok := usage.ParseResetTime(*w.ResetAt); ok {
			row.ResetStr = usage.FormatReset(t, now)
		}
	}
	return row, true
}

func titleCase(s string) string {
	words := strings.Fields(strings.ReplaceAll(s, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

type chatGPTUsagePayload struct {
	RateLimit            *chatGPTRateLimit       `json:"rate_limit"`
	CodeReviewRateLimit  *chatGPTRateLimit       `json:"code_review_rate_limit"`
	AdditionalRateLimits []chatGPTNamedRateLimit `json:"additional_rate_limits"`
}

type chatGPTRateLimit struct {
	PrimaryWindow *chatGPTWindow `json:"primary_window"`
}

type chatGPTNamedRateLimit struct {
	chatGPTRateLimit
	Name string `json:"name"`
	Type string `json:"type"`
}

type chatGPTWindow struct {
	UsedPercent float64  `json:"used_percent"`
	ResetAt     *float64 `json:"reset_at"`
}

package provider

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/quotabar/quotabar/internal/creds"
	"github.com/quotabar/quotabar/internal/usage"
)

// The API-key providers report spend or balance rather than rate-limit
// windows. Spend against a hard limit normalizes to a percentage row;
// balance-only accounts surface the balance as a detail line.

// OpenAIFetcher reads month-to-date spend against the account's hard
// limit from the dashboard billing endpoints.
type OpenAIFetcher struct {
	client  *http.Client
	baseURL string
	now     func() time.Time
}

func NewOpenAIFetcher(client *http.Client) *OpenAIFetcher {
	return &OpenAIFetcher{client: client, baseURL: "https://api.openai.com", now: time.Now}
}

func (f *OpenAIFetcher) ID() string          { return "openai" }
func (f *OpenAIFetcher) DisplayName() string { return "OpenAI" }

func (f *OpenAIFetcher) Fetch(ctx context.Context, c creds.Credentials) (usage.ProviderUsage, error) {
	var sub struct {
		HardLimitUSD       float64 `json:"hard_limit_usd"`
		SystemHardLimitUSD float64 `json:"system_hard_limit_usd"`
	}
	if err := getJSON(ctx, f.client, f.ID(), f.baseURL+"/v1/dashboard/billing/subscription", "", c, nil, &sub); err != nil {
		return usage.ProviderUsage{}, err
	}
	limit := sub.HardLimitUSD
	if limit == 0 {
		limit = sub.SystemHardLimitUSD
	}

	now := f.now()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).Format("2006-01-02")
	end := now.AddDate(0, 0, 1).Format("2006-01-02")

	var used struct {
		TotalUsage float64 `json:"total_usage"` // cents
	}
	url := fmt.Sprintf("%s/v1/dashboard/billing/usage?start_date=%s&end_date=%s", f.baseURL, start, end)
	if err := getJSON(ctx, f.client, f.ID(), url, "", c, nil, &used); err != nil {
		return usage.ProviderUsage{}, err
	}
	spent := used.TotalUsage / 100

	pu := usage.ProviderUsage{Configured: true}
	if limit > 0 {
		pct := int(math.Round(spent / limit * 100))
		if pct > 100 {
			pct = 100
		}
		if pct < 0 {
			pct = 0
		}
		pu.Rows = []usage.LimitRow{{Label: "Monthly Spend", Pct: pct}}
		pu.Detail = fmt.Sprintf("$%.2f of $%.2f this month", spent, limit)
	} else {
		pu.Detail = fmt.Sprintf("$%.2f this month", spent)
	}
	return pu, nil
}

// MiniMaxFetcher reads the remaining account balance.
type MiniMaxFetcher struct {
	client  *http.Client
	baseURL string
}

func NewMiniMaxFetcher(client *http.Client) *MiniMaxFetcher {
	return &MiniMaxFetcher{client: client, baseURL: "https://api.minimax.chat"}
}

func (f *MiniMaxFetcher) ID() string          { return "minimax" }
func (f *MiniMaxFetcher) DisplayName() string { return "MiniMax" }

func (f *MiniMaxFetcher) Fetch(ctx context.Context, c creds.Credentials) (usage.ProviderUsage, error) {
	var payload struct {
		AvailableBalance float64 `json:"available_balance"`
		Balance          float64 `json:"balance"`
	}
	if err := getJSON(ctx, f.client, f.ID(), f.baseURL+"/v1/account_information", "", c, nil, &payload); err != nil {
		return usage.ProviderUsage{}, err
	}
	balance := payload.AvailableBalance
	if balance == 0 {
		balance = payload.Balance
	}
	return usage.ProviderUsage{
		Detail:     fmt.Sprintf("balance ¥%.2f", balance),
		Configured: true,
	}, nil
}

// GLMFetcher reads the remaining account balance from the Zhipu open
// platform.
type GLMFetcher struct {
	client  *http.Client
	baseURL string
}

func NewGLMFetcher(client *http.Client) *GLMFetcher {
	return &GLMFetcher{client: client, baseURL: "https://open.bigmodel.cn"}
}

func (f *GLMFetcher) ID() string          { return "glm" }
func (f *GLMFetcher) DisplayName() string { return "GLM (Zhipu)" }

func (f *GLMFetcher) Fetch(ctx context.Context, c creds.Credentials) (usage.ProviderUsage, error) {
	var payload struct {
		TotalBalance float64 `json:"total_balance"`
		Balance      float64 `json:"balance"`
	}
	if err := getJSON(ctx, f.client, f.ID(), f.baseURL+"/api/paas/v4/account/balance", "", c, nil, &payload); err != nil {
		return usage.ProviderUsage{}, err
	}
	balance := payload.TotalBalance
	if balance == 0 {
		balance = payload.Balance
	}
	return usage.ProviderUsage{
		Detail:     fmt.Sprintf("balance ¥%.2f", balance),
		Configured: true,
	}, nil
}

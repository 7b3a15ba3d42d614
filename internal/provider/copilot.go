package provider

import (
	"context"
	"fmt"
	"math"
	"net/http"

	"github.com/quotabar/quotabar/internal/creds"
	"github.com/quotabar/quotabar/internal/usage"
)

// CopilotFetcher reads premium-request usage from the GitHub billing
// settings card endpoint using the browser session.
type CopilotFetcher struct {
	client  *http.Client
	baseURL string
}

func NewCopilotFetcher(client *http.Client) *CopilotFetcher {
	return &CopilotFetcher{client: client, baseURL: "https://github.com"}
}

func (f *CopilotFetcher) ID() string          { return "copilot" }
func (f *CopilotFetcher) DisplayName() string { return "Copilot" }

func (f *CopilotFetcher) Fetch(ctx context.Context, c creds.Credentials) (usage.ProviderUsage, error) {
	var payload struct {
		DiscountQuantity              float64 `json:"discountQuantity"`
		UserPremiumRequestEntitlement float64 `json:"userPremiumRequestEntitlement"`
	}
	url := f.baseURL + "/settings/billing/copilot_usage_card"
	referer := f.baseURL + "/settings/billing/premium_requests_usage"
	if err := getJSON(ctx, f.client, f.ID(), url, referer, c, nil, &payload); err != nil {
		return usage.ProviderUsage{}, err
	}
	if payload.UserPremiumRequestEntitlement <= 0 {
		return usage.ProviderUsage{}, &FetchError{
			Provider: f.ID(), Kind: KindUnknown,
			Err: fmt.Errorf("usage card has no premium request entitlement"),
		}
	}

	pct := int(math.Round(payload.DiscountQuantity / payload.UserPremiumRequestEntitlement * 100))
	if pct > 100 {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}
	return usage.ProviderUsage{
		Rows: []usage.LimitRow{{Label: "Premium Requests", Pct: pct}},
		Detail: fmt.Sprintf("%.0f of %.0f this month",
			payload.DiscountQuantity, payload.UserPremiumRequestEntitlement),
		Configured: true,
	}, nil
}

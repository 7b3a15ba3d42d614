package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/quotabar/quotabar/internal/creds"
)

var fixedNow = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC) // a Monday

func jsonHandler(routes map[string]string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}
}

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   ErrorKind
	}{
		{"401 is unauthorized", 401, `{"error":"unauthorized"}`, KindUnauthorized},
		{"403 json is unauthorized", 403, `{"error":"forbidden"}`, KindUnauthorized},
		{"403 challenge page is unknown", 403, `<!DOCTYPE html><html>Just a moment...</html>`, KindUnknown},
		{"500 is unknown", 500, `oops`, KindUnknown},
		{"429 is unknown", 429, `{"error":"rate_limited"}`, KindUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := classifyStatus(tc.status, []byte(tc.body)); got != tc.want {
				t.Errorf("classifyStatus(%d) = %v, want %v", tc.status, got, tc.want)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	err := &FetchError{Provider: "claude", Kind: KindUnauthorized, Err: context.DeadlineExceeded}
	if KindOf(err) != KindUnauthorized {
		t.Error("KindOf did not unwrap FetchError")
	}
	if KindOf(context.Canceled) != KindUnknown {
		t.Error("bare error should classify as unknown")
	}
}

func TestClaudeFetchOrgFromCookie(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(map[string]string{
		"/api/organizations/org-123/usage": `{
			"five_hour":        {"utilization": 0.36, "resets_at": "2026-03-02T13:23:00Z"},
			"seven_day":        {"utilization": 83,   "resets_at": "2026-03-05T00:00:00Z"},
			"seven_day_sonnet": {"utilization": 22}
		}`,
	}))
	defer srv.Close()

	f := &ClaudeFetcher{client: srv.Client(), baseURL: srv.URL, now: func() time.Time { return fixedNow }}
	got, err := f.Fetch(context.Background(), creds.Credentials{
		Cookies: map[string]string{"sessionKey": "sk", "lastActiveOrg": "org-123"},
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(got.Rows) != 3 {
		t.Fatalf("rows = %d, want 3: %+v", len(got.Rows), got.Rows)
	}
	if got.Rows[0].Label != "Current Session" || got.Rows[0].Pct != 36 {
		t.Errorf("session row = %+v", got.Rows[0])
	}
	if got.Rows[0].ResetStr != "resets in 1h 23m" {
		t.Errorf("session reset = %q", got.Rows[0].ResetStr)
	}
	if got.Rows[1].Pct != 83 || got.Rows[1].ResetStr != "resets Thu 00:00" {
		t.Errorf("weekly row = %+v", got.Rows[1])
	}
	if got.Rows[2].Pct != 22 || got.Rows[2].ResetStr != "" {
		t.Errorf("sonnet row = %+v", got.Rows[2])
	}
	if got.Detail != "" {
		t.Errorf("no overage toggle should mean no detail, got %q", got.Detail)
	}
}

func TestClaudeFetchOverageToggle(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(map[string]string{
		"/api/organizations/org-1/usage": `{
			"five_hour":   {"utilization": 0.1},
			"extra_usage": {"enabled": true}
		}`,
	}))
	defer srv.Close()

	f := &ClaudeFetcher{client: srv.Client(), baseURL: srv.URL, now: time.Now}
	got, err := f.Fetch(context.Background(), creds.Credentials{
		Cookies: map[string]string{"sessionKey": "sk", "lastActiveOrg": "org-1"},
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got.Detail != "extra usage enabled" {
		t.Errorf("detail = %q", got.Detail)
	}
}

func TestClaudeFetchProbesOrgID(t *testing.T) {
	var probed []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/organizations":
			probed = append(probed, r.URL.Path)
			_, _ = w.Write([]byte(`[{"uuid":"org-probed"}]`))
		case "/api/organizations/org-probed/usage":
			_, _ = w.Write([]byte(`{"five_hour":{"utilization":12}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := &ClaudeFetcher{client: srv.Client(), baseURL: srv.URL, now: func() time.Time { return fixedNow }}
	got, err := f.Fetch(context.Background(), creds.Credentials{
		Cookies: map[string]string{"sessionKey": "sk"},
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(probed) != 1 {
		t.Errorf("org probes = %v", probed)
	}
	if len(got.Rows) != 1 || got.Rows[0].Pct != 12 {
		t.Errorf("rows = %+v", got.Rows)
	}
}

func TestClaudeFetchUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid session"}`))
	}))
	defer srv.Close()

	f := &ClaudeFetcher{client: srv.Client(), baseURL: srv.URL, now: time.Now}
	_, err := f.Fetch(context.Background(), creds.Credentials{
		Cookies: map[string]string{"sessionKey": "expired", "lastActiveOrg": "org-1"},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if KindOf(err) != KindUnauthorized {
		t.Errorf("kind = %v, want unauthorized", KindOf(err))
	}
}

func TestClaudeStripsCloudflareCookies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, name := range []string{"cf_clearance", "__cf_bm", "_cfuvid"} {
			if _, err := r.Cookie(name); err == nil {
				t.Errorf("request carried %s", name)
			}
		}
		if _, err := r.Cookie("sessionKey"); err != nil {
			t.Error("request missing sessionKey")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"five_hour":{"utilization":1.0}}`))
	}))
	defer srv.Close()

	f := &ClaudeFetcher{client: srv.Client(), baseURL: srv.URL, now: time.Now}
	got, err := f.Fetch(context.Background(), creds.Credentials{
		Cookies: map[string]string{
			"sessionKey":    "sk",
			"lastActiveOrg": "org-1",
			"cf_clearance":  "bound",
			"__cf_bm":       "bound",
		},
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got.Rows[0].Pct != 100 {
		t.Errorf("pct = %d, want 100 (1.0 scales up)", got.Rows[0].Pct)
	}
}

func TestChatGPTFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/auth/session":
			_, _ = w.Write([]byte(`{"accessToken":"tok-123"}`))
		case "/backend-api/wham/usage":
			if got := r.Header.Get("Authorization"); got != "Bearer tok-123" {
				t.Errorf("Authorization = %q", got)
			}
			_, _ = w.Write([]byte(`{
				"rate_limit":             {"primary_window": {"used_percent": 41, "reset_at": 1772456580}},
				"code_review_rate_limit": {"primary_window": {"used_percent": 7}},
				"additional_rate_limits": [{"name": "deep_research", "primary_window": {"used_percent": 90}}]
			}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := &ChatGPTFetcher{client: srv.Client(), baseURL: srv.URL, now: func() time.Time { return fixedNow }}
	got, err := f.Fetch(context.Background(), creds.Credentials{
		Cookies: map[string]string{"__Secure-next-auth.session-token": "sess"},
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(got.Rows) != 3 {
		t.Fatalf("rows = %+v", got.Rows)
	}
	if got.Rows[0].Label != "Codex Tasks" || got.Rows[0].Pct != 41 {
		t.Errorf("row 0 = %+v", got.Rows[0])
	}
	if got.Rows[1].Label != "Code Review" || got.Rows[1].Pct != 7 {
		t.Errorf("row 1 = %+v", got.Rows[1])
	}
	if got.Rows[2].Label != "Deep Research" || got.Rows[2].Pct != 90 {
		t.Errorf("row 2 = %+v", got.Rows[2])
	}
}

func TestChatGPTLoggedOutSession(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(map[string]string{
		"/api/auth/session": `{}`,
	}))
	defer srv.Close()

	f := &ChatGPTFetcher{client: srv.Client(), baseURL: srv.URL, now: time.Now}
	_, err := f.Fetch(context.Background(), creds.Credentials{Cookies: map[string]string{}})
	if KindOf(err) != KindUnauthorized {
		t.Errorf("kind = %v, want unauthorized; err = %v", KindOf(err), err)
	}
}

func TestCursorFetch(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(map[string]string{
		"/api/usage-summary": `{
			"individualUsage": {"plan": {"autoPercentUsed": 0.62, "apiPercentUsed": 14, "totalPercentUsed": 38}},
			"billingCycleEnd": "2026-03-05T18:00:00Z"
		}`,
	}))
	defer srv.Close()

	f := &CursorFetcher{client: srv.Client(), baseURL: srv.URL, now: func() time.Time { return fixedNow }}
	got, err := f.Fetch(context.Background(), creds.Credentials{
		Cookies: map[string]string{"WorkosCursorSessionToken": "tok"},
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(got.Rows) != 2 {
		t.Fatalf("rows = %+v", got.Rows)
	}
	if got.Rows[0].Label != "Auto" || got.Rows[0].Pct != 62 {
		t.Errorf("auto row = %+v", got.Rows[0])
	}
	if got.Rows[1].Label != "API" || got.Rows[1].Pct != 14 {
		t.Errorf("api row = %+v", got.Rows[1])
	}
	if got.Rows[0].ResetStr != "resets in 3d 6h" {
		t.Errorf("reset = %q", got.Rows[0].ResetStr)
	}
}

func TestCopilotFetch(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(map[string]string{
		"/settings/billing/copilot_usage_card": `{"discountQuantity": 135, "userPremiumRequestEntitlement": 300}`,
	}))
	defer srv.Close()

	f := &CopilotFetcher{client: srv.Client(), baseURL: srv.URL}
	got, err := f.Fetch(context.Background(), creds.Credentials{
		Cookies: map[string]string{"user_session": "gh"},
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(got.Rows) != 1 || got.Rows[0].Pct != 45 {
		t.Errorf("rows = %+v", got.Rows)
	}
	if got.Detail != "135 of 300 this month" {
		t.Errorf("detail = %q", got.Detail)
	}
}

func TestOpenAIFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/dashboard/billing/subscription":
			_, _ = w.Write([]byte(`{"hard_limit_usd": 50}`))
		case "/v1/dashboard/billing/usage":
			_, _ = w.Write([]byte(`{"total_usage": 1230}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := &OpenAIFetcher{client: srv.Client(), baseURL: srv.URL, now: func() time.Time { return fixedNow }}
	got, err := f.Fetch(context.Background(), creds.Credentials{APIKey: "sk-test"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(got.Rows) != 1 || got.Rows[0].Pct != 25 {
		t.Errorf("rows = %+v", got.Rows)
	}
	if got.Detail != "$12.30 of $50.00 this month" {
		t.Errorf("detail = %q", got.Detail)
	}
}

func TestBalanceFetchers(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(map[string]string{
		"/v1/account_information":      `{"available_balance": 88.5}`,
		"/api/paas/v4/account/balance": `{"total_balance": 12}`,
	}))
	defer srv.Close()

	mm := &MiniMaxFetcher{client: srv.Client(), baseURL: srv.URL}
	got, err := mm.Fetch(context.Background(), creds.Credentials{APIKey: "mk"})
	if err != nil {
		t.Fatalf("minimax fetch: %v", err)
	}
	if got.Detail != "balance ¥88.50" || len(got.Rows) != 0 {
		t.Errorf("minimax = %+v", got)
	}

	glm := &GLMFetcher{client: srv.Client(), baseURL: srv.URL}
	got, err = glm.Fetch(context.Background(), creds.Credentials{APIKey: "gk"})
	if err != nil {
		t.Fatalf("glm fetch: %v", err)
	}
	if got.Detail != "balance ¥12.00" {
		t.Errorf("glm = %+v", got)
	}
}

func TestRegistryShape(t *testing.T) {
	reg := Registry()
	if len(reg) == 0 || reg[0].ID != "claude" {
		t.Fatalf("primary provider must lead the registry: %+v", reg)
	}
	seen := map[string]bool{}
	for _, d := range reg {
		if seen[d.ID] {
			t.Errorf("duplicate provider id %s", d.ID)
		}
		seen[d.ID] = true
		if d.Credential == CredCookies && d.CookieSpec.SessionCookie == "" {
			t.Errorf("cookie provider %s missing session cookie spec", d.ID)
		}
		if f := d.New(&http.Client{}); f.ID() != d.ID {
			t.Errorf("fetcher id %s != descriptor id %s", f.ID(), d.ID)
		}
	}
	if _, ok := Lookup("claude"); !ok {
		t.Error("Lookup(claude) failed")
	}
	if _, ok := Lookup("nope"); ok {
		t.Error("Lookup(nope) succeeded")
	}
}

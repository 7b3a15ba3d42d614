// Package provider implements the per-service usage fetchers. Each
// fetcher exchanges acquired credentials for the provider's raw usage
// payload and normalizes it into LimitRows; classification of failures
// drives the scheduler's re-acquisition and retry behavior.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/quotabar/quotabar/internal/browser"
	"github.com/quotabar/quotabar/internal/creds"
	"github.com/quotabar/quotabar/internal/usage"
)

const maxBodyBytes = 1_000_000

// ErrorKind classifies a fetch failure for the scheduler.
type ErrorKind int

const (
	// KindUnknown covers parse failures, unexpected statuses, and
	// transport-layer blocks such as a bot-filter challenge page.
	KindUnknown ErrorKind = iota
	// KindUnauthorized means the provider rejected the credentials.
	// It is the sole trigger for credential re-acquisition.
	KindUnauthorized
	// KindNetwork covers connection, DNS, and timeout failures.
	KindNetwork
)

// FetchError wraps a fetch failure with its classification.
type FetchError struct {
	Provider string
	Kind     ErrorKind
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// KindOf extracts the classification from an error chain; anything not
// wrapped in a FetchError is KindUnknown.
func KindOf(err error) ErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// Fetcher turns credentials into normalized usage for one provider.
type Fetcher interface {
	ID() string
	DisplayName() string
	Fetch(ctx context.Context, c creds.Credentials) (usage.ProviderUsage, error)
}

// CredentialKind says where a provider's credentials come from.
type CredentialKind int

const (
	// CredCookies providers are auto-detected from browser cookie stores.
	CredCookies CredentialKind = iota
	// CredAPIKey providers take a key from the config file.
	CredAPIKey
)

// Descriptor registers a provider under its config key.
type Descriptor struct {
	ID          string
	ConfigKey   string
	DisplayName string
	Credential  CredentialKind
	CookieSpec  creds.CookieSpec // zero for CredAPIKey providers
	New         func(client *http.Client) Fetcher
}

// Registry lists every supported provider in display order. The first
// entry is the primary provider that drives the headline percentage.
// Cookie providers need the fingerprinted browser client; key providers
// work with any client. DefaultClient picks accordingly.
func Registry() []Descriptor {
	return []Descriptor{
		{
			ID: "claude", ConfigKey: "claude_cookies", DisplayName: "Claude",
			Credential: CredCookies,
			CookieSpec: creds.CookieSpec{Domain: "claude.ai", SessionCookie: "sessionKey"},
			New:        func(c *http.Client) Fetcher { return NewClaudeFetcher(c) },
		},
		{
			ID: "chatgpt", ConfigKey: "chatgpt_cookies", DisplayName: "ChatGPT",
			Credential: CredCookies,
			CookieSpec: creds.CookieSpec{Domain: "chatgpt.com", SessionCookie: "__Secure-next-auth.session-token"},
			New:        func(c *http.Client) Fetcher { return NewChatGPTFetcher(c) },
		},
		{
			ID: "copilot", ConfigKey: "copilot_cookies", DisplayName: "Copilot",
			Credential: CredCookies,
			CookieSpec: creds.CookieSpec{Domain: "github.com", SessionCookie: "user_session"},
			New:        func(c *http.Client) Fetcher { return NewCopilotFetcher(c) },
		},
		{
			ID: "cursor", ConfigKey: "cursor_cookies", DisplayName: "Cursor",
			Credential: CredCookies,
			CookieSpec: creds.CookieSpec{Domain: "cursor.com", SessionCookie: "WorkosCursorSessionToken"},
			New:        func(c *http.Client) Fetcher { return NewCursorFetcher(c) },
		},
		{
			ID: "openai", ConfigKey: "openai_key", DisplayName: "OpenAI",
			Credential: CredAPIKey,
			New:        func(c *http.Client) Fetcher { return NewOpenAIFetcher(c) },
		},
		{
			ID: "minimax", ConfigKey: "minimax_key", DisplayName: "MiniMax",
			Credential: CredAPIKey,
			New:        func(c *http.Client) Fetcher { return NewMiniMaxFetcher(c) },
		},
		{
			ID: "glm", ConfigKey: "glm_key", DisplayName: "GLM (Zhipu)",
			Credential: CredAPIKey,
			New:        func(c *http.Client) Fetcher { return NewGLMFetcher(c) },
		},
	}
}

// DefaultClient returns the HTTP client a descriptor's fetcher should
// use: the TLS-fingerprinted one for cookie providers, since their
// endpoints sit behind automated-traffic filters, and an ordinary
// client for API-key billing endpoints.
func (d Descriptor) DefaultClient() *http.Client {
	if d.Credential == CredCookies {
		return browser.NewClient()
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// Lookup finds a descriptor by provider id.
func Lookup(id string) (Descriptor, bool) {
	for _, d := range Registry() {
		if d.ID == id {
			return d, true
		}
	}
	return Descriptor{}, false
}

// getJSON issues a GET with browser headers and the (Cloudflare-stripped)
// cookie jar, decodes the JSON body into out, and classifies failures.
func getJSON(ctx context.Context, client *http.Client, providerID, url, referer string, c creds.Credentials, extraHeaders map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &FetchError{Provider: providerID, Kind: KindUnknown, Err: fmt.Errorf("build request: %w", err)}
	}
	browser.BrowserHeaders(req, referer)
	browser.SetCookies(req, c.Cookies)
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	for k, v := range extraHeaders {
		req.Header.Set(k, v)
	}

	res, err := client.Do(req)
	if err != nil {
		return &FetchError{Provider: providerID, Kind: KindNetwork, Err: err}
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return &FetchError{Provider: providerID, Kind: KindNetwork, Err: fmt.Errorf("read response: %w", err)}
	}

	if res.StatusCode != http.StatusOK {
		return &FetchError{
			Provider: providerID,
			Kind:     classifyStatus(res.StatusCode, body),
			Err:      fmt.Errorf("GET %s: HTTP %d: %s", url, res.StatusCode, summarizeBody(body)),
		}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &FetchError{Provider: providerID, Kind: KindUnknown, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// classifyStatus maps an HTTP status to an ErrorKind. A 401 is always a
// credential rejection. A 403 is one too, unless the body is a challenge
// page rather than an API response: that is a transport-layer block and
// re-acquiring credentials would not help.
func classifyStatus(status int, body []byte) ErrorKind {
	switch status {
	case http.StatusUnauthorized:
		return KindUnauthorized
	case http.StatusForbidden:
		if looksLikeHTML(body) {
			return KindUnknown
		}
		return KindUnauthorized
	default:
		return KindUnknown
	}
}

func looksLikeHTML(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	return len(trimmed) > 0 && trimmed[0] == '<'
}

// summarizeBody keeps error strings short enough for a status row.
func summarizeBody(body []byte) string {
	s := strings.Join(strings.Fields(string(body)), " ")
	if len(s) > 120 {
		s = s[:120] + "..."
	}
	if s == "" {
		s = "(empty body)"
	}
	return s
}

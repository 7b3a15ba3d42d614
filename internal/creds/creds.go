// Package creds discovers provider session credentials in the cookie
// stores of locally installed browsers, so the user never pastes a
// token by hand. Acquired credentials are cached in the credential
// store and only re-scanned when a provider reports them rejected.
package creds

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/quotabar/quotabar/internal/credstore"
)

// ErrNotConfigured reports that no browser on this machine holds a
// usable session for the provider. It is an absence, not a failure.
var ErrNotConfigured = errors.New("creds: no session found in any browser")

// CookieSpec names what to look for in a browser cookie store.
type CookieSpec struct {
	// Domain is the provider site whose cookies form the jar.
	Domain string
	// SessionCookie must be present for a profile to count as logged
	// in; its expiry ranks competing profiles.
	SessionCookie string
}

// Credentials is one acquired login: either a cookie jar or an API key.
type Credentials struct {
	Cookies map[string]string
	APIKey  string
	// Browser names the store that supplied the cookies, or "cache"
	// when they came from the credential store.
	Browser string
}

// CookieHeader renders the jar as a Cookie header value with a stable
// key order.
func (c Credentials) CookieHeader() string {
	keys := make([]string, 0, len(c.Cookies))
	for k := range c.Cookies {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+c.Cookies[k])
	}
	return strings.Join(parts, "; ")
}

// browserRank orders browsers for scanning and tie-breaks. Non-Chromium
// stores come first: their cookies are not bound to Chromium's
// app-bound encryption and survive transplanting far more reliably.
var browserRank = map[string]int{
	"firefox":   0,
	"librewolf": 1,
	"safari":    2,
	"chrome":    3,
	"arc":       4,
	"brave":     5,
	"edge":      6,
	"chromium":  7,
	"opera":     8,
	"vivaldi":   9,
}

func rankOf(browser string) int {
	if r, ok := browserRank[strings.ToLower(browser)]; ok {
		return r
	}
	return len(browserRank) + 1
}

// candidate is one browser profile holding the session cookie.
type candidate struct {
	browser string
	jar     map[string]string
	expiry  time.Time
}

// pickBest prefers the candidate whose session cookie expires last,
// breaking ties by jar size and then browser rank. A longer-lived
// session was refreshed more recently and is the one the user is
// actually using.
func pickBest(cands []candidate) (candidate, bool) {
	if len(cands) == 0 {
		return candidate{}, false
	}
	best := cands[0]
	for _, c := range cands[1:] {
		switch {
		case c.expiry.After(best.expiry):
			best = c
		case c.expiry.Equal(best.expiry) && len(c.jar) > len(best.jar):
			best = c
		case c.expiry.Equal(best.expiry) && len(c.jar) == len(best.jar) &&
			rankOf(c.browser) < rankOf(best.browser):
			best = c
		}
	}
	return best, true
}

// Source acquires and caches cookie credentials per provider.
type Source struct {
	store credstore.Store
	log   *zap.Logger

	// scan is swapped out in tests.
	scan func(ctx context.Context, spec CookieSpec) ([]candidate, error)
}

// NewSource returns a Source backed by the given credential store.
func NewSource(store credstore.Store, log *zap.Logger) *Source {
	return &Source{store: store, log: log, scan: scanBrowsers}
}

// Acquire returns cached credentials for the provider if the store has
// them, otherwise scans browsers and caches the result.
func (s *Source) Acquire(ctx context.Context, providerID string, spec CookieSpec) (Credentials, error) {
	if header, err := s.store.Get(providerID); err == nil && header != "" {
		return Credentials{Cookies: parseHeader(header), Browser: "cache"}, nil
	} else if err != nil && !errors.Is(err, credstore.ErrNotFound) {
		s.log.Warn("credential store read failed", zap.String("provider", providerID), zap.Error(err))
	}
	return s.reacquire(ctx, providerID, spec)
}

// ForceReacquire discards any cached credentials and re-scans browsers.
// Called after a provider rejects the current session.
func (s *Source) ForceReacquire(ctx context.Context, providerID string, spec CookieSpec) (Credentials, error) {
	if err := s.store.Delete(providerID); err != nil {
		s.log.Warn("credential store delete failed", zap.String("provider", providerID), zap.Error(err))
	}
	return s.reacquire(ctx, providerID, spec)
}

func (s *Source) reacquire(ctx context.Context, providerID string, spec CookieSpec) (Credentials, error) {
	cands, err := s.scan(ctx, spec)
	if err != nil {
		return Credentials{}, err
	}
	best, ok := pickBest(cands)
	if !ok {
		return Credentials{}, ErrNotConfigured
	}

	s.log.Info("acquired session from browser",
		zap.String("provider", providerID),
		zap.String("browser", best.browser),
		zap.Time("expires", best.expiry))

	creds := Credentials{Cookies: best.jar, Browser: best.browser}
	if err := s.store.Set(providerID, creds.CookieHeader()); err != nil {
		s.log.Warn("credential store write failed", zap.String("provider", providerID), zap.Error(err))
	}
	return creds, nil
}

func parseHeader(header string) map[string]string {
	jar := map[string]string{}
	for _, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		if k, v, ok := strings.Cut(part, "="); ok {
			jar[k] = v
		}
	}
	return jar
}

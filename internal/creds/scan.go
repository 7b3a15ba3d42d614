package creds

import (
	"context"
	"sort"
	"time"

	"github.com/browserutils/kooky"
	_ "github.com/browserutils/kooky/browser/all" // register every supported cookie store
)

// BrowserProfile names one cookie store kooky can see.
type BrowserProfile struct {
	Browser  string
	FilePath string
}

// BrowserProfiles lists the cookie stores visible on this machine,
// in browser-rank order. Used by diagnostics, not by acquisition.
func BrowserProfiles() []BrowserProfile {
	stores := kooky.FindAllCookieStores()
	defer func() {
		for _, st := range stores {
			_ = st.Close()
		}
	}()
	sort.SliceStable(stores, func(i, j int) bool {
		return rankOf(stores[i].Browser()) < rankOf(stores[j].Browser())
	})
	profiles := make([]BrowserProfile, 0, len(stores))
	for _, st := range stores {
		profiles = append(profiles, BrowserProfile{Browser: st.Browser(), FilePath: st.FilePath()})
	}
	return profiles
}

// scanBrowsers walks every cookie store kooky can find and collects the
// profiles that hold the provider's session cookie.
func scanBrowsers(ctx context.Context, spec CookieSpec) ([]candidate, error) {
	stores := kooky.FindAllCookieStores()
	defer func() {
		for _, st := range stores {
			_ = st.Close()
		}
	}()

	// Scan in browser-rank order so log output and partial results are
	// deterministic across runs.
	sort.SliceStable(stores, func(i, j int) bool {
		return rankOf(stores[i].Browser()) < rankOf(stores[j].Browser())
	})

	var cands []candidate
	for _, st := range stores {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		cookies, err := st.ReadCookies(kooky.Valid, kooky.DomainHasSuffix(spec.Domain))
		if err != nil {
			// Locked database, unsupported keyring, permissions: skip
			// the store, another browser may still work.
			continue
		}

		jar := make(map[string]string, len(cookies))
		var expiry time.Time
		found := false
		for _, ck := range cookies {
			jar[ck.Name] = ck.Value
			if ck.Name == spec.SessionCookie {
				found = true
				expiry = ck.Expires
			}
		}
		if !found {
			continue
		}
		cands = append(cands, candidate{browser: st.Browser(), jar: jar, expiry: expiry})
	}
	return cands, nil
}

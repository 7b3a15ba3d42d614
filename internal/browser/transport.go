// Package browser provides an HTTP client whose TLS handshake matches a
// real Safari build. The primary provider's usage endpoint sits behind
// automated-traffic filtering that fingerprints the ClientHello; the
// stock crypto/tls handshake is rejected with a challenge page even when
// the session cookies are valid.
package browser

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
)

const (
	// Safari passes the filter cleanly; Chrome fingerprints are checked
	// far more aggressively.
	userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.4 Safari/605.1.15"

	dialTimeout    = 10 * time.Second
	requestTimeout = 15 * time.Second
)

// cfCookieNames are Cloudflare-bound cookies tied to the browser that
// minted them. Sending them from a different TLS stack trips a mismatch
// check and produces a 403, so they are stripped before every request.
var cfCookieNames = map[string]struct{}{
	"cf_clearance": {},
	"__cf_bm":      {},
	"_cfuvid":      {},
}

// NewClient returns an *http.Client that impersonates Safari at the TLS
// layer and speaks HTTP/2 or HTTP/1.1 according to what the server
// negotiates against that ClientHello.
func NewClient() *http.Client {
	return &http.Client{
		Transport: newFingerprintTransport(),
		Timeout:   requestTimeout,
	}
}

// fingerprintTransport routes each request through a utls handshake and
// then hands the connection to an HTTP/1.1 or HTTP/2 transport depending
// on the negotiated ALPN protocol. Safari's hello offers both, so both
// paths have to exist.
type fingerprintTransport struct {
	dialer net.Dialer

	mu    sync.Mutex
	conns map[string]*utls.UConn // negotiated conns awaiting pickup, keyed by addr

	h1 *http.Transport
	h2 *http2.Transport
}

func newFingerprintTransport() *fingerprintTransport {
	t := &fingerprintTransport{
		dialer: net.Dialer{Timeout: dialTimeout},
		conns:  map[string]*utls.UConn{},
	}
	t.h1 = &http.Transport{
		DialTLSContext:    t.takeConn,
		DisableKeepAlives: true,
	}
	t.h2 = &http2.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			return t.takeConn(ctx, network, addr)
		},
	}
	return t
}

func (t *fingerprintTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return nil, fmt.Errorf("browser transport requires https, got %q", req.URL.Scheme)
	}

	addr := req.URL.Host
	if !strings.Contains(addr, ":") {
		addr += ":443"
	}

	conn, err := t.handshake(req.Context(), addr)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	t.conns[addr] = conn
	t.mu.Unlock()

	if conn.ConnectionState().NegotiatedProtocol == "h2" {
		return t.h2.RoundTrip(req)
	}
	return t.h1.RoundTrip(req)
}

func (t *fingerprintTransport) handshake(ctx context.Context, addr string) (*utls.UConn, error) {
	raw, err := t.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	conn := utls.UClient(raw, &utls.Config{ServerName: host}, utls.HelloSafari_Auto)
	if err := conn.HandshakeContext(ctx); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("tls handshake %s: %w", addr, err)
	}
	return conn, nil
}

// takeConn hands the already-negotiated connection to the inner transport.
func (t *fingerprintTransport) takeConn(ctx context.Context, _ string, addr string) (net.Conn, error) {
	t.mu.Lock()
	conn := t.conns[addr]
	delete(t.conns, addr)
	t.mu.Unlock()

	if conn != nil {
		return conn, nil
	}
	// Keep-alive reuse path: negotiate a fresh connection.
	return t.handshake(ctx, addr)
}

// BrowserHeaders stamps the request with the header set a real Safari tab
// would send alongside the impersonated handshake.
func BrowserHeaders(req *http.Request, referer string) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	if referer != "" {
		req.Header.Set("Referer", referer)
		if u := req.URL; u != nil {
			req.Header.Set("Origin", u.Scheme+"://"+u.Host)
		}
	}
}

// ParseCookieString parses "key=val; key2=val2" into a map. A bare value
// without any '=' is taken to be the session key itself.
func ParseCookieString(raw string) map[string]string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]string{}
	}
	if !strings.Contains(raw, "=") {
		return map[string]string{"sessionKey": raw}
	}
	cookies := map[string]string{}
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if k, v, ok := strings.Cut(part, "="); ok {
			cookies[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
	return cookies
}

// StripCloudflareCookies returns a copy of the jar without the
// fingerprint-bound Cloudflare cookies.
func StripCloudflareCookies(cookies map[string]string) map[string]string {
	out := make(map[string]string, len(cookies))
	for k, v := range cookies {
		if _, bound := cfCookieNames[k]; bound {
			continue
		}
		out[k] = v
	}
	return out
}

// SetCookies attaches the jar to the request, Cloudflare cookies removed.
func SetCookies(req *http.Request, cookies map[string]string) {
	for k, v := range StripCloudflareCookies(cookies) {
		req.AddCookie(&http.Cookie{Name: k, Value: v})
	}
}

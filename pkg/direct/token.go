package direct

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	"tokscraper/pkg/browser"
	errs "tokscraper/pkg/errors"
	"tokscraper/pkg/logger"
)

// Cookie names the token is derived from
const (
	CookieMsToken  = "msToken"
	CookieVerifyFp = "s_v_web_id"
	CookieTTWid    = "ttwid"
)

// Token is the short-lived credential direct calls need
type Token struct {
	MsToken     string
	VerifyFp    string
	TTWid       string
	Cookies     map[string]string
	Fingerprint string
	IssuedAt    time.Time
}

// CookieHeader renders the cookies as a Cookie header value
func (t Token) CookieHeader() string {
	names := make([]string, 0, len(t.Cookies))
	for name := range t.Cookies {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+t.Cookies[name])
	}
	return strings.Join(parts, "; ")
}

// CookieSource yields the current browser cookies
type CookieSource interface {
	Cookies(ctx context.Context) ([]browser.Cookie, error)
}

// TokenSource derives a Token from browser cookies and rebuilds it whenever
// the cookies rotate.
type TokenSource struct {
	cookies  CookieSource
	fallback string
	logger   logger.Logger
	now      func() time.Time

	mu      sync.Mutex
	current *Token
}

// NewTokenSource creates a token source. fallbackMsToken is used when the
// browser holds no msToken cookie.
func NewTokenSource(cookies CookieSource, fallbackMsToken string, log logger.Logger) *TokenSource {
	if log == nil {
		log = logger.GetLogger()
	}
	return &TokenSource{
		cookies:  cookies,
		fallback: fallbackMsToken,
		logger:   log,
		now:      time.Now,
	}
}

// Token returns a token matching the current cookies
func (ts *TokenSource) Token(ctx context.Context) (Token, error) {
	if ts.cookies == nil {
		return Token{}, errs.New(errs.ErrorTypeSessionExpired, "no cookie source available")
	}
	cookies, err := ts.cookies.Cookies(ctx)
	if err != nil {
		if cerr := errs.FromContext(ctx); cerr != nil {
			return Token{}, cerr
		}
		return Token{}, errs.Wrap(errs.ErrorTypeSessionExpired, err, "failed to read session cookies")
	}

	values := make(map[string]string, len(cookies))
	for _, c := range cookies {
		if !strings.HasSuffix(c.Domain, "tiktok.com") && c.Domain != "" {
			continue
		}
		values[c.Name] = c.Value
	}
	fp := fingerprint(values)

	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.current != nil && ts.current.Fingerprint == fp {
		return *ts.current, nil
	}

	msToken := values[CookieMsToken]
	if msToken == "" {
		msToken = ts.fallback
	}
	if msToken == "" {
		return Token{}, errs.New(errs.ErrorTypeSessionExpired, "session has no msToken cookie")
	}

	tok := &Token{
		MsToken:     msToken,
		VerifyFp:    values[CookieVerifyFp],
		TTWid:       values[CookieTTWid],
		Cookies:     values,
		Fingerprint: fp,
		IssuedAt:    ts.now(),
	}
	if ts.current != nil {
		ts.logger.DebugWithFields("session cookies rotated, token refreshed", map[string]interface{}{
			"previous_issued_at": ts.current.IssuedAt,
		})
	}
	ts.current = tok
	return *tok, nil
}

// Invalidate drops the cached token so the next call rebuilds it
func (ts *TokenSource) Invalidate() {
	ts.mu.Lock()
	ts.current = nil
	ts.mu.Unlock()
}

func fingerprint(values map[string]string) string {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha256.New()
	for _, name := range names {
		h.Write([]byte(name))
		h.Write([]byte{0})
		h.Write([]byte(values[name]))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

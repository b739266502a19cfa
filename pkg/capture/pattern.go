package capture

import (
	"net/url"
	"strings"
)

// Pattern identifies which URL rule a captured response matched
type Pattern string

const (
	// PatternAPI matches the platform's internal JSON API calls
	PatternAPI Pattern = "api"
	// PatternVideoPrimary matches video byte streams on the primary CDN prefix
	PatternVideoPrimary Pattern = "video_primary"
	// PatternVideoSecondary matches video byte streams on the secondary CDN prefix
	PatternVideoSecondary Pattern = "video_secondary"
	// PatternDocument matches HTML page loads carrying rehydration data
	PatternDocument Pattern = "document"
	// PatternCaptcha matches challenge metadata and challenge images
	PatternCaptcha Pattern = "captcha"
)

type rule struct {
	pattern Pattern
	match   func(u *url.URL, mime string) bool
}

func platformHost(host string) bool {
	return host == "tiktok.com" || strings.HasSuffix(host, ".tiktok.com")
}

// rules are evaluated in order; the first hit wins
var rules = []rule{
	{PatternCaptcha, func(u *url.URL, mime string) bool {
		return strings.Contains(u.Path, "/captcha/") ||
			strings.Contains(u.Host, "captcha") && strings.HasPrefix(mime, "image/")
	}},
	{PatternAPI, func(u *url.URL, mime string) bool {
		return platformHost(u.Host) && strings.HasPrefix(u.Path, "/api/")
	}},
	{PatternVideoPrimary, func(u *url.URL, mime string) bool {
		return strings.Contains(u.Path, "/video/tos/")
	}},
	{PatternVideoSecondary, func(u *url.URL, mime string) bool {
		return strings.Contains(u.Path, "/obj/tos")
	}},
	{PatternDocument, func(u *url.URL, mime string) bool {
		return platformHost(u.Host) && strings.HasPrefix(mime, "text/html")
	}},
}

// Patterns lists every pattern in match order
func Patterns() []Pattern {
	out := make([]Pattern, len(rules))
	for i, r := range rules {
		out[i] = r.pattern
	}
	return out
}

// Match tests a response URL and MIME type against the pattern table
func Match(rawURL, mime string) (Pattern, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", false
	}
	mime = strings.ToLower(mime)
	for _, r := range rules {
		if r.match(u, mime) {
			return r.pattern, true
		}
	}
	return "", false
}

// IsBinary reports whether the pattern carries non-text payloads
func (p Pattern) IsBinary() bool {
	return p == PatternVideoPrimary || p == PatternVideoSecondary
}

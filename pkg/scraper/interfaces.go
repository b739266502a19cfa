package scraper

import (
	"context"
	"net/url"
	"time"

	"tokscraper/pkg/browser"
	"tokscraper/pkg/capture"
	"tokscraper/pkg/challenge"
	"tokscraper/pkg/direct"
)

// DirectClient defines the direct web API operations the scraper needs
type DirectClient interface {
	Request(ctx context.Context, ep direct.Endpoint, params url.Values) (*direct.Response, error)
}

// Captures defines the response cache operations the scraper needs
type Captures interface {
	Get(ctx context.Context, pattern capture.Pattern, pred capture.Predicate, timeout time.Duration) (capture.Response, error)
	Find(pattern capture.Pattern, pred capture.Predicate) (capture.Response, bool)
}

// ChallengeSolver defines the challenge operations used while waiting for captures
type ChallengeSolver interface {
	Present(ctx context.Context, page browser.Page) (bool, error)
	Resolve(ctx context.Context, page browser.Page) (challenge.Result, error)
}

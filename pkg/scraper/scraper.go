package scraper

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tidwall/gjson"

	"tokscraper/pkg/browser"
	"tokscraper/pkg/capture"
	"tokscraper/pkg/config"
	"tokscraper/pkg/direct"
	errs "tokscraper/pkg/errors"
	"tokscraper/pkg/logger"
	"tokscraper/pkg/ratelimit"
	"tokscraper/pkg/retry"
)

const (
	scrollDelta   = 1200.0
	defaultScroll = 3
)

// Options tune the fetch algorithm
type Options struct {
	// MaxRetries bounds browser attempts per fetch
	MaxRetries  int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// CacheWait plus RequestDelay bounds the wait for a capture per attempt
	CacheWait    time.Duration
	RequestDelay time.Duration
	// PollInterval slices the capture wait so challenges are noticed
	PollInterval  time.Duration
	MaxEmptyPages int
	BestEffort    bool
	PageSize      int
	ScrollSteps   int
	ScrollPause   time.Duration
}

// DefaultOptions returns the options of the default configuration
func DefaultOptions() Options {
	return OptionsFromConfig(config.DefaultConfig())
}

// OptionsFromConfig derives options from the application config
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MaxRetries:    cfg.Fetch.MaxRetries,
		BackoffBase:   cfg.Fetch.BackoffBase,
		BackoffMax:    cfg.Fetch.BackoffMax,
		CacheWait:     cfg.Fetch.CacheWait,
		RequestDelay:  cfg.Fetch.RequestDelay,
		PollInterval:  cfg.Captcha.PollInterval,
		MaxEmptyPages: cfg.Fetch.MaxEmptyPages,
		BestEffort:    cfg.Fetch.BestEffort,
		PageSize:      cfg.Fetch.PageSize,
		ScrollSteps:   defaultScroll,
		ScrollPause:   400 * time.Millisecond,
	}
}

// Deps are the collaborators of a Scraper. Direct and Page may be nil to
// disable that path; Solver may be nil to skip challenge handling.
type Deps struct {
	Direct  DirectClient
	Page    browser.Page
	Guard   *browser.Guard
	Cache   Captures
	Solver  ChallengeSolver
	Limiter ratelimit.Limiter
}

// Scraper runs logical fetches over the direct path with a browser fallback
type Scraper struct {
	direct  DirectClient
	page    browser.Page
	guard   *browser.Guard
	cache   Captures
	solver  ChallengeSolver
	limiter ratelimit.Limiter
	opts    Options
	logger  logger.Logger

	// current is the last URL navigated to; only touched under guard
	current string
}

// New creates a Scraper
func New(opts Options, deps Deps, log logger.Logger) *Scraper {
	if log == nil {
		log = logger.GetLogger()
	}
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 1
	}
	if opts.MaxEmptyPages < 1 {
		opts.MaxEmptyPages = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 30
	}
	if opts.ScrollSteps <= 0 {
		opts.ScrollSteps = 1
	}
	guard := deps.Guard
	if guard == nil {
		guard = browser.NewGuard()
	}

	return &Scraper{
		direct:  deps.Direct,
		page:    deps.Page,
		guard:   guard,
		cache:   deps.Cache,
		solver:  deps.Solver,
		limiter: deps.Limiter,
		opts:    opts,
		logger:  log.WithField("component", "scraper"),
	}
}

// Fetch runs one logical fetch. Failures are reported in the outcome, never
// as a panic or a separate error.
func (s *Scraper) Fetch(ctx context.Context, req Request) Outcome {
	start := time.Now()
	out := s.fetch(ctx, req)
	logger.LogFetch(s.logger, string(req.Kind), string(out.Source), string(out.Reason()), out.Items, time.Since(start))
	return out
}

func (s *Scraper) fetch(ctx context.Context, req Request) Outcome {
	out := Outcome{Request: req}

	h, ok := kindHooks[req.Kind]
	if !ok {
		out.Err = errs.Newf(errs.ErrorTypeUnknown, "unsupported fetch kind %q", req.Kind)
		return out
	}
	if err := h.validate(req); err != nil {
		out.Err = errs.From(err)
		return out
	}
	if cerr := errs.FromContext(ctx); cerr != nil {
		out.Err = cerr
		return out
	}

	req, trail, err := s.prepare(ctx, req)
	out.Request = req
	out.Trail = trail
	if err != nil {
		out.Err = errs.From(err)
		return out
	}

	var directErr *errs.Error
	if s.direct != nil && h.endpoint != nil {
		p, err := s.viaDirect(ctx, req, h)
		if err == nil {
			s.relax()
			return finish(out, SourceDirect, h, p)
		}
		directErr = errs.From(err)
		out.Trail = append(out.Trail, diagnostic(SourceDirect, 1, directErr))
		if directErr.Type == errs.ErrorTypeRateLimit {
			s.escalate(h.endpoint.Name)
		}
		if errs.IsPermanent(directErr.Type) {
			out.Err = directErr
			return out
		}
		s.logger.DebugWithFields("direct path failed, falling back to browser", map[string]interface{}{
			"request": req.String(),
			"reason":  string(directErr.Type),
		})
	}

	if s.page == nil || s.cache == nil {
		out.Err = errs.Wrap(errs.ErrorTypeUnreachable, errOrNil(directErr), "no browser session to fall back to")
		return out
	}

	p, err := retry.DoWithResult(ctx, func(ctx context.Context, attempt int) (page, error) {
		p, err := s.viaBrowser(ctx, req, h, attempt)
		if err != nil {
			out.Trail = append(out.Trail, diagnostic(SourceBrowser, attempt, errs.From(err)))
		}
		return p, err
	}, s.retryConfig())
	if err != nil {
		out.Err = errs.From(err)
		return out
	}
	s.relax()
	return finish(out, SourceBrowser, h, p)
}

func errOrNil(e *errs.Error) error {
	if e == nil {
		return nil
	}
	return e
}

func finish(out Outcome, src Source, h hooks, p page) Outcome {
	out.Source = src
	out.Payload = p.payload
	out.Items = p.items
	if h.paginated {
		out.Cursor = p.cursor
		out.HasMore = p.hasMore
	}
	return out
}

func diagnostic(src Source, attempt int, e *errs.Error) Diagnostic {
	return Diagnostic{
		Source:  src,
		Attempt: attempt,
		Reason:  e.Type,
		Message: e.Message,
		At:      time.Now(),
	}
}

func (s *Scraper) retryConfig() *retry.Config {
	return &retry.Config{
		MaxAttempts: s.opts.MaxRetries,
		BackoffFor:  retry.ForFetch(s.opts.BackoffBase, s.opts.BackoffMax).ForError,
		RetryIf:     retry.DefaultRetryIf,
		Logger:      s.logger,
	}
}

// prepare resolves identifiers a kind needs from another fetch
func (s *Scraper) prepare(ctx context.Context, req Request) (Request, []Diagnostic, error) {
	var (
		dep  Request
		path string
	)
	switch {
	case req.Kind == KindUserVideos && req.SecUID == "":
		dep, path = Request{Kind: KindUserInfo, Username: req.Username}, "secUid"
	case req.Kind == KindHashtagVideos && req.HashtagID == "":
		dep, path = Request{Kind: KindHashtagInfo, Hashtag: req.Hashtag}, "challenge.id"
	case req.Kind == KindVideoBytes && req.PlayAddr == "":
		dep, path = Request{Kind: KindVideoInfo, Username: req.Username, VideoID: req.VideoID}, "video.playAddr"
	default:
		return req, nil, nil
	}

	info := s.Fetch(ctx, dep)
	if !info.OK() {
		return req, info.Trail, info.Err
	}
	value := lookup(info.Payload, path)
	if value == "" {
		return req, info.Trail, errs.Newf(errs.ErrorTypeMalformed, "%s has no %s", dep, path)
	}

	switch req.Kind {
	case KindUserVideos:
		req.SecUID = value
		if req.UserID == "" {
			req.UserID = lookup(info.Payload, "id")
		}
	case KindHashtagVideos:
		req.HashtagID = value
	case KindVideoBytes:
		req.PlayAddr = value
		if req.Username == "" {
			req.Username = lookup(info.Payload, "author.uniqueId")
		}
	}
	return req, info.Trail, nil
}

// lookup reads a string at path from a decoded payload
func lookup(payload any, path string) string {
	raw, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	return gjson.GetBytes(raw, path).String()
}

func (s *Scraper) viaDirect(ctx context.Context, req Request, h hooks) (page, error) {
	count := req.Count
	if count <= 0 {
		count = s.opts.PageSize
	}
	resp, err := s.direct.Request(ctx, *h.endpoint, h.params(req, count))
	if err != nil {
		return page{}, err
	}
	doc := resp.JSON()
	if err := checkRequired(req, h, doc); err != nil {
		return page{}, err
	}
	return h.decode(req, doc)
}

// viaBrowser is one browser attempt: drive the page, then wait for the
// capture. The guard is held throughout.
func (s *Scraper) viaBrowser(ctx context.Context, req Request, h hooks, attempt int) (page, error) {
	if err := s.guard.Lock(ctx); err != nil {
		return page{}, err
	}
	defer s.guard.Unlock()

	pred := h.match(req)
	if attempt == 1 {
		for _, pattern := range h.patterns {
			if resp, ok := s.cache.Find(pattern, pred); ok {
				s.logger.DebugWithFields("capture already held", map[string]interface{}{
					"request": req.String(),
					"pattern": string(pattern),
				})
				return s.convert(req, h, resp)
			}
		}
	}

	if err := s.drive(ctx, req, h); err != nil {
		return page{}, err
	}
	return s.await(ctx, req, h, pred)
}

func (s *Scraper) convert(req Request, h hooks, resp capture.Response) (page, error) {
	if h.fromCapture != nil {
		return h.fromCapture(req, resp)
	}
	doc := resp.JSON()
	if !doc.IsObject() {
		return page{}, errs.Newf(errs.ErrorTypeMalformed, "captured %s payload is not a JSON object", req.Kind)
	}
	if perr := direct.PayloadError(string(req.Kind), doc); perr != nil {
		return page{}, perr
	}
	return h.decode(req, doc)
}

// scrolling reports a page reached by scrolling an already open listing
func scrolling(req Request, h hooks) bool {
	return h.paginated && !req.firstPage()
}

func (s *Scraper) drive(ctx context.Context, req Request, h hooks) error {
	target := h.pageURL(req)
	scroll := scrolling(req, h)

	if !scroll || s.current != target {
		if err := s.navigate(ctx, target); err != nil {
			return err
		}
	}
	if scroll {
		if err := s.waitLimiter(ctx); err != nil {
			return err
		}
	}
	switch {
	case h.expand != "":
		return s.expandList(ctx, h)
	case scroll:
		return s.scroll(ctx, h)
	}
	return nil
}

// expandList clicks the control that loads the next page of a nested list.
// A control that is not rendered yet is left to the next attempt.
func (s *Scraper) expandList(ctx context.Context, h hooks) error {
	visible, err := s.page.Visible(ctx, h.expand)
	if err != nil || !visible {
		if cerr := errs.FromContext(ctx); cerr != nil {
			return cerr
		}
		return nil
	}
	if err := s.page.Interact(ctx, browser.Click(h.expand)); err != nil {
		if cerr := errs.FromContext(ctx); cerr != nil {
			return cerr
		}
		return errs.Wrap(errs.ErrorTypeNetwork, err, "expand failed")
	}
	return nil
}

func (s *Scraper) waitLimiter(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return errs.Wrap(errs.ErrorTypeCancelled, err, "rate limiter wait cancelled")
	}
	return nil
}

func (s *Scraper) navigate(ctx context.Context, target string) error {
	if err := s.waitLimiter(ctx); err != nil {
		return err
	}
	s.logger.DebugWithFields("navigating", map[string]interface{}{"url": target})
	if err := s.page.Navigate(ctx, target); err != nil {
		if cerr := errs.FromContext(ctx); cerr != nil {
			return cerr
		}
		return errs.Wrap(errs.ErrorTypeNetwork, err, "navigation failed")
	}
	s.current = target
	s.refreshErrorPage(ctx)
	s.dismissLogin(ctx)
	return nil
}

// refreshErrorPage presses the retry button of the platform's error page. It
// reports whether the button was pressed.
func (s *Scraper) refreshErrorPage(ctx context.Context) bool {
	shown, err := s.page.HasText(ctx, refreshText)
	if err != nil || !shown {
		return false
	}
	s.logger.Debug("error page shown, pressing refresh")
	if err := s.page.Interact(ctx, browser.ClickText(refreshText)); err != nil {
		s.logger.DebugWithFields("failed to press refresh", map[string]interface{}{"error": err.Error()})
		return false
	}
	return true
}

// dismissLogin closes the login prompt that covers the page for anonymous sessions
func (s *Scraper) dismissLogin(ctx context.Context) {
	visible, err := s.page.Visible(ctx, loginCloseSelector)
	if err != nil || !visible {
		return
	}
	if err := s.page.Interact(ctx, browser.Click(loginCloseSelector)); err != nil {
		s.logger.DebugWithFields("failed to dismiss login prompt", map[string]interface{}{"error": err.Error()})
	}
}

func (s *Scraper) scroll(ctx context.Context, h hooks) error {
	x, y := 640.0, 400.0
	if h.scrollIn != "" {
		if box, ok, err := s.page.BoundingBox(ctx, h.scrollIn); err == nil && ok && !box.Empty() {
			x, y = box.Center()
		}
	}
	for i := 0; i < s.opts.ScrollSteps; i++ {
		if err := s.page.Interact(ctx, browser.Scroll(x, y, scrollDelta)); err != nil {
			if cerr := errs.FromContext(ctx); cerr != nil {
				return cerr
			}
			return errs.Wrap(errs.ErrorTypeNetwork, err, "scroll failed")
		}
		if s.opts.ScrollPause > 0 {
			if err := retry.Wait(ctx, s.opts.ScrollPause); err != nil {
				return errs.FromContext(ctx)
			}
		}
	}
	return nil
}

// await waits for the capture of req. The wait is sliced into poll intervals;
// between slices the page is probed for a challenge, which suspends the
// budget while it is resolved.
func (s *Scraper) await(ctx context.Context, req Request, h hooks, pred capture.Predicate) (page, error) {
	budget := s.opts.CacheWait + s.opts.RequestDelay
	deadline := time.Now().Add(budget)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		slice := min(s.opts.PollInterval, remaining)

		resp, err := s.cache.Get(ctx, h.patterns[0], pred, slice)
		if err == nil {
			return s.convert(req, h, resp)
		}
		if !errs.Is(err, errs.ErrorTypeCacheTimeout) {
			return page{}, err
		}
		for _, pattern := range h.patterns[1:] {
			if resp, ok := s.cache.Find(pattern, pred); ok {
				return s.convert(req, h, resp)
			}
		}

		if s.solver != nil {
			present, err := s.solver.Present(ctx, s.page)
			if err == nil && present {
				began := time.Now()
				if _, err := s.solver.Resolve(ctx, s.page); err != nil {
					return page{}, err
				}
				deadline = deadline.Add(time.Since(began))
				continue
			}
			if cerr := errs.FromContext(ctx); cerr != nil {
				return page{}, cerr
			}
		}

		if s.refreshErrorPage(ctx) {
			continue
		}

		if h.missingText != "" {
			if gone, err := s.page.HasText(ctx, h.missingText); err == nil && gone {
				return page{}, errs.Newf(errs.ErrorTypeNotFound, "%s: %s", req, h.missingText)
			}
		}

		if scrolling(req, h) && h.expand == "" {
			if err := s.scroll(ctx, h); err != nil {
				return page{}, err
			}
		}
	}

	if h.fallback != nil {
		p, ok, err := h.fallback(s.cache, req)
		if err != nil {
			return page{}, err
		}
		if ok {
			s.logger.DebugWithFields("served from page document", map[string]interface{}{"request": req.String()})
			return p, nil
		}
	}
	return page{}, errs.Newf(errs.ErrorTypeCacheTimeout, "no %s capture for %s within %s", h.patterns[0], req, budget)
}

func (s *Scraper) escalate(endpoint string) {
	if e, ok := s.limiter.(ratelimit.Escalator); ok {
		logger.LogRateLimit(s.logger, endpoint, e.Escalate())
	}
}

func (s *Scraper) relax() {
	if e, ok := s.limiter.(ratelimit.Escalator); ok {
		e.Relax()
	}
}

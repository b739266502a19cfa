package direct

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/tidwall/gjson"

	"tokscraper/pkg/config"
	errs "tokscraper/pkg/errors"
	"tokscraper/pkg/logger"
	"tokscraper/pkg/ratelimit"
)

// Payload status codes the platform uses for accounts that are gone
var notFoundCodes = map[int64]bool{
	10202: true, // user does not exist
	10221: true, // user banned
}

// JSON parses the response body
func (r *Response) JSON() gjson.Result {
	return gjson.ParseBytes(r.Body)
}

// Client issues requests shaped like the platform's web API calls
type Client struct {
	transport Transport
	tokens    *TokenSource
	limiter   ratelimit.Limiter
	cfg       config.DirectConfig
	baseURL   string
	logger    logger.Logger
}

// NewClient creates a direct request client. limiter may be nil.
func NewClient(transport Transport, tokens *TokenSource, limiter ratelimit.Limiter, cfg config.DirectConfig, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Client{
		transport: transport,
		tokens:    tokens,
		limiter:   limiter,
		cfg:       cfg,
		baseURL:   BaseURL,
		logger:    log.WithField("component", "direct"),
	}
}

// WithBaseURL points the client at another host
func (c *Client) WithBaseURL(base string) *Client {
	c.baseURL = base
	return c
}

// Request sends one call to ep and classifies the result. A session_expired
// failure refreshes the token and retries once before it is returned.
func (c *Client) Request(ctx context.Context, ep Endpoint, params url.Values) (*Response, error) {
	if !c.cfg.Enabled {
		return nil, errs.New(errs.ErrorTypeBlocked, "direct path disabled")
	}

	var lastErr error
	for try := 0; try < 2; try++ {
		resp, err := c.send(ctx, ep, params)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !errs.Is(err, errs.ErrorTypeSessionExpired) {
			return nil, err
		}
		c.logger.WarnWithFields("session expired, refreshing token", map[string]interface{}{
			"endpoint": ep.Name,
			"try":      try + 1,
		})
		c.tokens.Invalidate()
	}
	return nil, lastErr
}

func (c *Client) send(ctx context.Context, ep Endpoint, params url.Values) (*Response, error) {
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, errs.Wrap(errs.ErrorTypeCancelled, err, "rate limiter wait cancelled")
		}
	}

	req := &Request{
		Method:  "GET",
		URL:     BuildURL(c.baseURL, ep, params, tok, c.cfg.UserAgent),
		Headers: c.headers(tok),
	}

	start := time.Now()
	resp, err := c.transport.Do(ctx, req)
	duration := time.Since(start)
	if err != nil {
		if cerr := errs.FromContext(ctx); cerr != nil {
			return nil, cerr
		}
		logger.LogRequest(c.logger, req.Method, ep.Path, 0, duration)
		return nil, errs.Wrap(errs.ErrorTypeNetwork, err, "direct request failed")
	}
	logger.LogRequest(c.logger, req.Method, ep.Path, resp.Status, duration)

	if err := c.classify(ep, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) headers(tok Token) []Header {
	return []Header{
		{Name: "sec-ch-ua-platform", Value: `"Windows"`},
		{Name: "user-agent", Value: c.cfg.UserAgent},
		{Name: "sec-ch-ua-mobile", Value: "?0"},
		{Name: "accept", Value: "*/*"},
		{Name: "sec-fetch-site", Value: "same-origin"},
		{Name: "sec-fetch-mode", Value: "cors"},
		{Name: "sec-fetch-dest", Value: "empty"},
		{Name: "referer", Value: c.baseURL + "/"},
		{Name: "accept-encoding", Value: "gzip, deflate, br"},
		{Name: "accept-language", Value: "en-US,en;q=0.9"},
		{Name: "cookie", Value: tok.CookieHeader()},
	}
}

// classify maps a received response to a reason code, or nil when the
// payload is usable
func (c *Client) classify(ep Endpoint, resp *Response) error {
	fields := map[string]interface{}{
		"endpoint": ep.Name,
		"status":   resp.Status,
	}

	if t := errs.FromStatusCode(resp.Status); t != "" {
		c.logger.WarnWithFields("direct request rejected", fields)
		return errs.Newf(t, "%s returned status %d", ep.Name, resp.Status).WithCode(resp.Status)
	}

	if len(resp.Body) == 0 {
		c.logger.WarnWithFields("direct request returned empty body", fields)
		return errs.Newf(errs.ErrorTypeMalformed, "%s returned an empty body", ep.Name).WithCode(resp.Status)
	}
	if !gjson.ValidBytes(resp.Body) {
		preview := string(resp.Body)
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		fields["body_preview"] = preview
		c.logger.WarnWithFields("direct request returned invalid JSON", fields)
		return errs.Newf(errs.ErrorTypeMalformed, "%s returned invalid JSON", ep.Name).WithCode(resp.Status)
	}

	if err := PayloadError(ep.Name, resp.JSON()); err != nil {
		fields["reason"] = string(err.Type)
		c.logger.WarnWithFields("direct request refused by payload", fields)
		return err.WithCode(resp.Status)
	}
	return nil
}

// PayloadError classifies the status fields of a web API payload. It returns
// nil for a normal payload.
func PayloadError(name string, payload gjson.Result) *errs.Error {
	if payload.Get("type").String() == "verify" {
		return errs.Newf(errs.ErrorTypeBlocked, "%s asked for verification", name)
	}

	code := payload.Get("statusCode")
	if !code.Exists() {
		code = payload.Get("status_code")
	}
	n := code.Int()
	if n == 0 {
		return nil
	}
	msg := payload.Get("statusMsg").String()
	if msg == "" {
		msg = payload.Get("status_msg").String()
	}
	if notFoundCodes[n] {
		return errs.Newf(errs.ErrorTypeNotFound, "%s: %s", name, describe(n, msg))
	}
	return errs.Newf(errs.ErrorTypeBlocked, "%s: %s", name, describe(n, msg))
}

func describe(code int64, msg string) string {
	if msg == "" {
		return fmt.Sprintf("status code %d", code)
	}
	return fmt.Sprintf("%s (status code %d)", msg, code)
}

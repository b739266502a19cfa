package direct

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokscraper/pkg/browser"
	"tokscraper/pkg/config"
	errs "tokscraper/pkg/errors"
	"tokscraper/pkg/logger"
	"tokscraper/pkg/ratelimit"
)

type stubTransport struct {
	mu       sync.Mutex
	requests []*Request
	replies  []func(req *Request) (*Response, error)
}

func (s *stubTransport) Do(ctx context.Context, req *Request) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	i := len(s.requests) - 1
	if i >= len(s.replies) {
		i = len(s.replies) - 1
	}
	return s.replies[i](req)
}

func reply(status int, body string) func(*Request) (*Response, error) {
	return func(*Request) (*Response, error) {
		return &Response{Status: status, Body: []byte(body)}, nil
	}
}

func sessionCookies() *browser.Fake {
	f := browser.NewFake()
	_ = f.SetCookies(context.Background(), []browser.Cookie{
		{Name: CookieMsToken, Value: "ms-1", Domain: ".tiktok.com"},
		{Name: CookieVerifyFp, Value: "verify_abc", Domain: ".tiktok.com"},
		{Name: CookieTTWid, Value: "tt", Domain: ".tiktok.com"},
	})
	return f
}

func directConfig() config.DirectConfig {
	return config.DirectConfig{Enabled: true, Timeout: time.Second, UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64)"}
}

func newTestClient(tr Transport, cookies CookieSource) *Client {
	tokens := NewTokenSource(cookies, "", logger.NewNopLogger())
	return NewClient(tr, tokens, nil, directConfig(), logger.NewNopLogger())
}

func TestRequestBuildsWebAppCall(t *testing.T) {
	tr := &stubTransport{replies: []func(*Request) (*Response, error){
		reply(200, `{"statusCode":0,"userInfo":{"user":{"id":"107955"}}}`),
	}}
	c := newTestClient(tr, sessionCookies())

	resp, err := c.Request(context.Background(), EndpointUserDetail, url.Values{"uniqueId": {"therock"}})
	require.NoError(t, err)
	assert.Equal(t, "107955", resp.JSON().Get("userInfo.user.id").String())

	require.Len(t, tr.requests, 1)
	u, err := url.Parse(tr.requests[0].URL)
	require.NoError(t, err)
	assert.Equal(t, "/api/user/detail/", u.Path)
	assert.Equal(t, "therock", u.Query().Get("uniqueId"))
	assert.Equal(t, "ms-1", u.Query().Get("msToken"))
	assert.Equal(t, "verify_abc", u.Query().Get("verifyFp"))
	assert.Equal(t, "1988", u.Query().Get("aid"))
	assert.Contains(t, tr.requests[0].Get("cookie"), "msToken=ms-1")
}

func TestRequestClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   errs.ErrorType
	}{
		{"http not found", 404, ``, errs.ErrorTypeNotFound},
		{"user missing", 200, `{"statusCode":10202,"statusMsg":"user not exist"}`, errs.ErrorTypeNotFound},
		{"user banned", 200, `{"statusCode":10221}`, errs.ErrorTypeNotFound},
		{"rate limited", 429, `{}`, errs.ErrorTypeRateLimit},
		{"server error", 503, ``, errs.ErrorTypeNetwork},
		{"empty body", 200, ``, errs.ErrorTypeMalformed},
		{"not json", 200, `<html>`, errs.ErrorTypeMalformed},
		{"verify", 200, `{"type":"verify","code":"10000"}`, errs.ErrorTypeBlocked},
		{"other payload status", 200, `{"status_code":8,"status_msg":"blocked"}`, errs.ErrorTypeBlocked},
		{"session expired", 403, ``, errs.ErrorTypeSessionExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &stubTransport{replies: []func(*Request) (*Response, error){reply(tt.status, tt.body)}}
			_, err := newTestClient(tr, sessionCookies()).Request(context.Background(), EndpointUserDetail, nil)
			require.Error(t, err)
			assert.Equal(t, tt.want, errs.TypeOf(err))
		})
	}
}

func TestRequestTransportFailureIsNetwork(t *testing.T) {
	tr := &stubTransport{replies: []func(*Request) (*Response, error){
		func(*Request) (*Response, error) { return nil, errors.New("connection reset") },
	}}
	_, err := newTestClient(tr, sessionCookies()).Request(context.Background(), EndpointUserVideos, nil)
	assert.Equal(t, errs.ErrorTypeNetwork, errs.TypeOf(err))
}

func TestSessionExpiredRefreshesOnce(t *testing.T) {
	cookies := sessionCookies()
	tr := &stubTransport{replies: []func(*Request) (*Response, error){
		func(*Request) (*Response, error) {
			_ = cookies.SetCookies(context.Background(), []browser.Cookie{{Name: CookieMsToken, Value: "ms-2", Domain: ".tiktok.com"}})
			return &Response{Status: 401}, nil
		},
		reply(200, `{"statusCode":0,"itemList":[]}`),
	}}

	_, err := newTestClient(tr, cookies).Request(context.Background(), EndpointUserVideos, nil)
	require.NoError(t, err)
	require.Len(t, tr.requests, 2)
	u, _ := url.Parse(tr.requests[1].URL)
	assert.Equal(t, "ms-2", u.Query().Get("msToken"))
}

func TestSessionExpiredSurfacesAfterSingleRetry(t *testing.T) {
	tr := &stubTransport{replies: []func(*Request) (*Response, error){reply(403, ``)}}
	_, err := newTestClient(tr, sessionCookies()).Request(context.Background(), EndpointUserVideos, nil)
	assert.Equal(t, errs.ErrorTypeSessionExpired, errs.TypeOf(err))
	assert.Len(t, tr.requests, 2)
}

func TestRequestWithoutMsTokenIsSessionExpired(t *testing.T) {
	tr := &stubTransport{replies: []func(*Request) (*Response, error){reply(200, `{}`)}}
	_, err := newTestClient(tr, browser.NewFake()).Request(context.Background(), EndpointUserDetail, nil)
	assert.Equal(t, errs.ErrorTypeSessionExpired, errs.TypeOf(err))
	assert.Empty(t, tr.requests)
}

func TestRequestDisabled(t *testing.T) {
	tr := &stubTransport{replies: []func(*Request) (*Response, error){reply(200, `{}`)}}
	cfg := directConfig()
	cfg.Enabled = false
	c := NewClient(tr, NewTokenSource(sessionCookies(), "", nil), nil, cfg, logger.NewNopLogger())

	_, err := c.Request(context.Background(), EndpointUserDetail, nil)
	assert.Equal(t, errs.ErrorTypeBlocked, errs.TypeOf(err))
	assert.Empty(t, tr.requests)
}

func TestRequestWaitsOnLimiter(t *testing.T) {
	tr := &stubTransport{replies: []func(*Request) (*Response, error){reply(200, `{}`)}}
	limiter := ratelimit.NewMinDelay(40*time.Millisecond, time.Second)
	c := NewClient(tr, NewTokenSource(sessionCookies(), "", nil), limiter, directConfig(), logger.NewNopLogger())

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := c.Request(context.Background(), EndpointUserDetail, nil)
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestRequestLimiterWaitIsCancellable(t *testing.T) {
	tr := &stubTransport{replies: []func(*Request) (*Response, error){reply(200, `{}`)}}
	limiter := ratelimit.NewMinDelay(time.Hour, time.Hour)
	require.True(t, limiter.Allow())
	c := NewClient(tr, NewTokenSource(sessionCookies(), "", nil), limiter, directConfig(), logger.NewNopLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Request(ctx, EndpointUserDetail, nil)
	assert.Equal(t, errs.ErrorTypeCancelled, errs.TypeOf(err))
}

func TestTokenSourceRefreshesOnRotation(t *testing.T) {
	cookies := sessionCookies()
	ts := NewTokenSource(cookies, "", logger.NewNopLogger())
	ctx := context.Background()

	first, err := ts.Token(ctx)
	require.NoError(t, err)
	again, err := ts.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.IssuedAt, again.IssuedAt)

	require.NoError(t, cookies.SetCookies(ctx, []browser.Cookie{{Name: CookieMsToken, Value: "ms-rotated", Domain: ".tiktok.com"}}))
	rotated, err := ts.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ms-rotated", rotated.MsToken)
	assert.NotEqual(t, first.Fingerprint, rotated.Fingerprint)
}

func TestTokenSourceFallbackMsToken(t *testing.T) {
	tok, err := NewTokenSource(browser.NewFake(), "from-config", nil).Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "from-config", tok.MsToken)
}

func TestTLSTransportAgainstLocalServer(t *testing.T) {
	gotUA := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA <- r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"statusCode":0}`))
	}))
	defer srv.Close()

	tr, err := NewTLSTransport(directConfig())
	require.NoError(t, err)

	resp, err := tr.Do(context.Background(), &Request{
		URL:     srv.URL + "/api/user/detail/",
		Headers: []Header{{Name: "user-agent", Value: "test-agent"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	assert.JSONEq(t, `{"statusCode":0}`, string(resp.Body))
	assert.Equal(t, "test-agent", <-gotUA)
}

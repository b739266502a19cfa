package browser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/stealth"
	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/input"
	"github.com/mafredri/cdp/protocol/network"
	"github.com/mafredri/cdp/protocol/page"
	"github.com/mafredri/cdp/protocol/runtime"
	"github.com/mafredri/cdp/rpcc"
	"golang.org/x/sync/errgroup"

	"tokscraper/pkg/capture"
	"tokscraper/pkg/config"
	errs "tokscraper/pkg/errors"
	"tokscraper/pkg/logger"
)

const eventBuffer = 512

type inflight struct {
	url     string
	method  string
	status  int
	mime    string
	headers map[string]string
}

// CDPSession drives a Chrome tab over the DevTools protocol
type CDPSession struct {
	conn    *rpcc.Conn
	client  *cdp.Client
	cfg     config.BrowserConfig
	logger  logger.Logger
	events  chan capture.Event
	ctx     context.Context
	cancel  context.CancelFunc
	group   *errgroup.Group
	cleanup func()

	mu      sync.Mutex
	pending map[network.RequestID]*inflight

	closeOnce sync.Once
}

// Connect attaches to the configured DevTools endpoint, launching a local
// browser when none is configured
func Connect(ctx context.Context, cfg config.BrowserConfig, log logger.Logger) (*CDPSession, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	log = log.WithField("component", "browser")

	devtoolsURL := cfg.DevtoolsURL
	cleanup := func() {}
	if devtoolsURL == "" {
		launched, stop, err := Launch(cfg)
		if err != nil {
			return nil, errs.Wrap(errs.ErrorTypeNetwork, err, "failed to launch browser")
		}
		devtoolsURL, cleanup = launched, stop
	}

	dt := devtool.New(devtoolsURL)
	target, err := dt.Get(ctx, devtool.Page)
	if err != nil {
		target, err = dt.Create(ctx)
		if err != nil {
			cleanup()
			return nil, errs.Wrap(errs.ErrorTypeNetwork, err, "no page target available")
		}
	}

	conn, err := rpcc.DialContext(ctx, target.WebSocketDebuggerURL)
	if err != nil {
		cleanup()
		return nil, errs.Wrap(errs.ErrorTypeNetwork, err, "failed to dial devtools")
	}

	sctx, cancel := context.WithCancel(context.Background())
	s := &CDPSession{
		conn:    conn,
		client:  cdp.NewClient(conn),
		cfg:     cfg,
		logger:  log,
		events:  make(chan capture.Event, eventBuffer),
		ctx:     sctx,
		cancel:  cancel,
		cleanup: cleanup,
		pending: make(map[network.RequestID]*inflight),
	}

	if err := s.enable(ctx); err != nil {
		s.Close()
		return nil, err
	}

	logger.LogComponentStart(log, "browser", map[string]interface{}{
		"target":   target.URL,
		"headless": cfg.Headless,
		"stealth":  cfg.Stealth,
	})
	return s, nil
}

func (s *CDPSession) enable(ctx context.Context) error {
	if err := s.client.Network.Enable(ctx, network.NewEnableArgs()); err != nil {
		return errs.Wrap(errs.ErrorTypeNetwork, err, "network domain")
	}
	if err := s.client.Page.Enable(ctx); err != nil {
		return errs.Wrap(errs.ErrorTypeNetwork, err, "page domain")
	}
	if s.cfg.Stealth {
		args := page.NewAddScriptToEvaluateOnNewDocumentArgs(stealth.JS)
		if _, err := s.client.Page.AddScriptToEvaluateOnNewDocument(ctx, args); err != nil {
			return errs.Wrap(errs.ErrorTypeNetwork, err, "stealth script")
		}
	}

	// Streams are opened on the session context so they outlive ctx.
	willSend, err := s.client.Network.RequestWillBeSent(s.ctx)
	if err != nil {
		return errs.Wrap(errs.ErrorTypeNetwork, err, "requestWillBeSent")
	}
	received, err := s.client.Network.ResponseReceived(s.ctx)
	if err != nil {
		return errs.Wrap(errs.ErrorTypeNetwork, err, "responseReceived")
	}
	finished, err := s.client.Network.LoadingFinished(s.ctx)
	if err != nil {
		return errs.Wrap(errs.ErrorTypeNetwork, err, "loadingFinished")
	}
	failed, err := s.client.Network.LoadingFailed(s.ctx)
	if err != nil {
		return errs.Wrap(errs.ErrorTypeNetwork, err, "loadingFailed")
	}
	if err := cdp.Sync(willSend, received, finished, failed); err != nil {
		return errs.Wrap(errs.ErrorTypeNetwork, err, "sync network streams")
	}

	detached, err := s.client.Inspector.Detached(s.ctx)
	if err != nil {
		return errs.Wrap(errs.ErrorTypeNetwork, err, "inspector detached")
	}

	g, gctx := errgroup.WithContext(s.ctx)
	s.group = g
	g.Go(func() error {
		defer willSend.Close()
		defer received.Close()
		defer finished.Close()
		defer failed.Close()
		defer close(s.events)
		return s.pump(gctx, willSend, received, finished, failed)
	})
	g.Go(func() error {
		defer detached.Close()
		ev, err := detached.Recv()
		if err != nil {
			return nil
		}
		s.logger.WarnWithFields("Browser target detached", map[string]interface{}{
			"reason": ev.Reason,
		})
		s.cancel()
		return errs.Newf(errs.ErrorTypeNetwork, "target detached: %s", ev.Reason)
	})
	return nil
}

func (s *CDPSession) pump(
	ctx context.Context,
	willSend network.RequestWillBeSentClient,
	received network.ResponseReceivedClient,
	finished network.LoadingFinishedClient,
	failed network.LoadingFailedClient,
) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case <-willSend.Ready():
			ev, err := willSend.Recv()
			if err != nil {
				return nil
			}
			s.mu.Lock()
			s.pending[ev.RequestID] = &inflight{url: ev.Request.URL, method: ev.Request.Method}
			s.mu.Unlock()

		case <-received.Ready():
			ev, err := received.Recv()
			if err != nil {
				return nil
			}
			headers := decodeHeaders(ev.Response.Headers, s.logger.WithField("request_id", string(ev.RequestID)))
			s.mu.Lock()
			fl, ok := s.pending[ev.RequestID]
			if !ok {
				fl = &inflight{method: "GET"}
				s.pending[ev.RequestID] = fl
			}
			fl.url = ev.Response.URL
			fl.status = ev.Response.Status
			fl.mime = ev.Response.MimeType
			fl.headers = headers
			s.mu.Unlock()

		case <-finished.Ready():
			ev, err := finished.Recv()
			if err != nil {
				return nil
			}
			s.mu.Lock()
			fl, ok := s.pending[ev.RequestID]
			delete(s.pending, ev.RequestID)
			s.mu.Unlock()
			if !ok || fl.status == 0 {
				continue
			}
			select {
			case s.events <- s.event(ev.RequestID, fl):
			case <-ctx.Done():
				return nil
			}

		case <-failed.Ready():
			ev, err := failed.Recv()
			if err != nil {
				return nil
			}
			s.mu.Lock()
			delete(s.pending, ev.RequestID)
			s.mu.Unlock()
		}
	}
}

func (s *CDPSession) event(id network.RequestID, fl *inflight) capture.Event {
	return capture.Event{
		RequestID: string(id),
		URL:       fl.url,
		Method:    fl.method,
		Status:    fl.status,
		MimeType:  fl.mime,
		Headers:   fl.headers,
		Body: func(ctx context.Context) ([]byte, error) {
			reply, err := s.client.Network.GetResponseBody(ctx, network.NewGetResponseBodyArgs(id))
			if err != nil {
				return nil, err
			}
			if reply.Base64Encoded {
				return base64.StdEncoding.DecodeString(reply.Body)
			}
			return []byte(reply.Body), nil
		},
	}
}

// Events returns the finished-response stream
func (s *CDPSession) Events() <-chan capture.Event {
	return s.events
}

// Navigate loads url and waits for the load event up to the navigation timeout.
// A missing load event is not an error; responses may still be captured.
func (s *CDPSession) Navigate(ctx context.Context, url string) error {
	timeout := s.cfg.NavigationTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	loaded, err := s.client.Page.LoadEventFired(navCtx)
	if err != nil {
		return errs.Wrap(errs.ErrorTypeNetwork, err, "subscribe load event")
	}
	defer loaded.Close()

	reply, err := s.client.Page.Navigate(navCtx, page.NewNavigateArgs(url))
	if err != nil {
		if cerr := errs.FromContext(ctx); cerr != nil {
			return cerr
		}
		return errs.Wrap(errs.ErrorTypeNetwork, err, "navigate")
	}
	if reply.ErrorText != nil && *reply.ErrorText != "" {
		return errs.Newf(errs.ErrorTypeNetwork, "navigate %s: %s", url, *reply.ErrorText)
	}

	if _, err := loaded.Recv(); err != nil {
		if cerr := errs.FromContext(ctx); cerr != nil {
			return cerr
		}
		s.logger.DebugWithFields("Load event not observed", map[string]interface{}{
			"url":     url,
			"timeout": timeout.String(),
		})
	}
	return nil
}

// Interact performs one page interaction
func (s *CDPSession) Interact(ctx context.Context, a Action) error {
	var err error
	switch a.Kind {
	case ActionScroll:
		args := input.NewDispatchMouseEventArgs("mouseWheel", a.X, a.Y).SetDeltaX(0).SetDeltaY(a.DeltaY)
		err = s.client.Input.DispatchMouseEvent(ctx, args)
	case ActionMouseMove:
		err = s.client.Input.DispatchMouseEvent(ctx, input.NewDispatchMouseEventArgs("mouseMoved", a.X, a.Y))
	case ActionMouseDown:
		args := input.NewDispatchMouseEventArgs("mousePressed", a.X, a.Y).
			SetButton(input.MouseButtonLeft).SetClickCount(1)
		err = s.client.Input.DispatchMouseEvent(ctx, args)
	case ActionMouseUp:
		args := input.NewDispatchMouseEventArgs("mouseReleased", a.X, a.Y).
			SetButton(input.MouseButtonLeft).SetClickCount(1)
		err = s.client.Input.DispatchMouseEvent(ctx, args)
	case ActionClick:
		box, ok, berr := s.BoundingBox(ctx, a.Selector)
		if berr != nil {
			return berr
		}
		if !ok {
			return errs.Newf(errs.ErrorTypeNotFound, "no element matches %s", a.Selector)
		}
		return s.clickAt(ctx, box)
	case ActionClickText:
		box, ok, berr := s.textBox(ctx, a.Text)
		if berr != nil {
			return berr
		}
		if !ok {
			return errs.Newf(errs.ErrorTypeNotFound, "no control reads %q", a.Text)
		}
		return s.clickAt(ctx, box)
	case ActionReload:
		err = s.client.Page.Reload(ctx, page.NewReloadArgs())
	case ActionKey:
		if err = s.client.Input.DispatchKeyEvent(ctx, input.NewDispatchKeyEventArgs("keyDown").SetKey(a.Key)); err == nil {
			err = s.client.Input.DispatchKeyEvent(ctx, input.NewDispatchKeyEventArgs("keyUp").SetKey(a.Key))
		}
	default:
		return errs.Newf(errs.ErrorTypeUnknown, "unsupported action %q", a.Kind)
	}
	if err != nil {
		return errs.Wrap(errs.ErrorTypeNetwork, err, string(a.Kind))
	}
	return nil
}

// Cookies returns the browser's cookies
func (s *CDPSession) Cookies(ctx context.Context) ([]Cookie, error) {
	reply, err := s.client.Network.GetCookies(ctx, network.NewGetCookiesArgs())
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeNetwork, err, "get cookies")
	}
	out := make([]Cookie, 0, len(reply.Cookies))
	for _, c := range reply.Cookies {
		ck := Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
		if c.Expires > 0 {
			ck.Expires = time.Unix(int64(c.Expires), 0)
		}
		out = append(out, ck)
	}
	return out, nil
}

// SetCookies seeds the browser's cookie jar
func (s *CDPSession) SetCookies(ctx context.Context, cookies []Cookie) error {
	params := make([]network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		c := c
		params = append(params, network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   &c.Domain,
			Path:     &c.Path,
			Secure:   &c.Secure,
			HTTPOnly: &c.HTTPOnly,
		})
	}
	if err := s.client.Network.SetCookies(ctx, network.NewSetCookiesArgs(params)); err != nil {
		return errs.Wrap(errs.ErrorTypeNetwork, err, "set cookies")
	}
	return nil
}

// Screenshot captures region as PNG
func (s *CDPSession) Screenshot(ctx context.Context, region Rect) ([]byte, error) {
	args := page.NewCaptureScreenshotArgs().SetFormat("png")
	if !region.Empty() {
		args = args.SetClip(page.Viewport{
			X:      region.X,
			Y:      region.Y,
			Width:  region.Width,
			Height: region.Height,
			Scale:  1,
		})
	}
	reply, err := s.client.Page.CaptureScreenshot(ctx, args)
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeNetwork, err, "screenshot")
	}
	return reply.Data, nil
}

// Visible reports whether an element matching selector is rendered
func (s *CDPSession) Visible(ctx context.Context, selector string) (bool, error) {
	var visible bool
	err := s.evaluate(ctx, fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return false;
		const r = el.getBoundingClientRect();
		const st = getComputedStyle(el);
		return r.width > 0 && r.height > 0 && st.visibility !== 'hidden' && st.display !== 'none';
	})()`, quote(selector)), &visible)
	return visible, err
}

// BoundingBox returns the client rect of the first element matching selector
func (s *CDPSession) BoundingBox(ctx context.Context, selector string) (Rect, bool, error) {
	var box *Rect
	err := s.evaluate(ctx, fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return null;
		const r = el.getBoundingClientRect();
		return {x: r.x, y: r.y, width: r.width, height: r.height};
	})()`, quote(selector)), &box)
	if err != nil || box == nil {
		return Rect{}, false, err
	}
	return *box, true, nil
}

func (s *CDPSession) clickAt(ctx context.Context, box Rect) error {
	x, y := box.Center()
	for _, step := range []Action{MouseMove(x, y), MouseDown(x, y), MouseUp(x, y)} {
		if err := s.Interact(ctx, step); err != nil {
			return err
		}
	}
	return nil
}

// textBox finds the last rendered button or link whose trimmed text is text
func (s *CDPSession) textBox(ctx context.Context, text string) (Rect, bool, error) {
	var box *Rect
	err := s.evaluate(ctx, fmt.Sprintf(`(() => {
		const want = %s;
		const hits = [...document.querySelectorAll('button, a, [role="button"]')].filter(el => {
			const r = el.getBoundingClientRect();
			return r.width > 0 && r.height > 0 && el.innerText.trim() === want;
		});
		if (!hits.length) return null;
		const r = hits[hits.length - 1].getBoundingClientRect();
		return {x: r.x, y: r.y, width: r.width, height: r.height};
	})()`, quote(text)), &box)
	if err != nil || box == nil {
		return Rect{}, false, err
	}
	return *box, true, nil
}

// HasText reports whether the rendered page contains text
func (s *CDPSession) HasText(ctx context.Context, text string) (bool, error) {
	var found bool
	err := s.evaluate(ctx, fmt.Sprintf(`(() => !!document.body && document.body.innerText.includes(%s))()`, quote(text)), &found)
	return found, err
}

// Attribute reads an attribute of the first element matching selector
func (s *CDPSession) Attribute(ctx context.Context, selector, name string) (string, bool, error) {
	var value *string
	err := s.evaluate(ctx, fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		return el ? el.getAttribute(%s) : null;
	})()`, quote(selector), quote(name)), &value)
	if err != nil || value == nil {
		return "", false, err
	}
	return *value, true, nil
}

// CurrentURL returns the page location
func (s *CDPSession) CurrentURL(ctx context.Context) (string, error) {
	var href string
	err := s.evaluate(ctx, `location.href`, &href)
	return href, err
}

// Close detaches from the browser and stops a launched instance
func (s *CDPSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		err = s.conn.Close()
		if s.group != nil {
			_ = s.group.Wait()
		}
		s.cleanup()
		logger.LogComponentStop(s.logger, "browser", "closed")
	})
	return err
}

func (s *CDPSession) evaluate(ctx context.Context, expr string, out interface{}) error {
	args := runtime.NewEvaluateArgs(expr).SetReturnByValue(true).SetAwaitPromise(true)
	reply, err := s.client.Runtime.Evaluate(ctx, args)
	if err != nil {
		if cerr := errs.FromContext(ctx); cerr != nil {
			return cerr
		}
		return errs.Wrap(errs.ErrorTypeNetwork, err, "evaluate")
	}
	if reply.ExceptionDetails != nil {
		return errs.Newf(errs.ErrorTypeMalformed, "script exception: %s", reply.ExceptionDetails.Text)
	}
	if len(reply.Result.Value) == 0 {
		return nil
	}
	if err := json.Unmarshal(reply.Result.Value, out); err != nil {
		return errs.Wrap(errs.ErrorTypeMalformed, err, "decode script result")
	}
	return nil
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// decodeHeaders reads a response header object. Undecodable headers are
// logged and dropped; the body is still captured.
func decodeHeaders(raw []byte, log logger.Logger) map[string]string {
	headers := map[string]string{}
	if len(raw) == 0 {
		return headers
	}
	if err := json.Unmarshal(raw, &headers); err != nil {
		log.DebugWithFields("Response headers undecodable", map[string]interface{}{
			"error": err.Error(),
		})
		return map[string]string{}
	}
	return headers
}

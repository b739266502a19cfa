package browser

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"tokscraper/pkg/capture"
	errs "tokscraper/pkg/errors"
)

// Fake is an in-memory Session for tests. Page state is set with the Set*
// methods; OnNavigate and OnInteract hooks let a test emit network events in
// response to driving.
type Fake struct {
	mu sync.Mutex

	events  chan capture.Event
	closed  bool
	url     string
	visible map[string]bool
	boxes   map[string]Rect
	texts   map[string]bool
	attrs   map[string]string
	cookies []Cookie
	shot    []byte

	navigations []string
	actions     []Action

	OnNavigate func(ctx context.Context, url string) error
	OnInteract func(ctx context.Context, a Action) error
}

// NewFake creates an empty fake session
func NewFake() *Fake {
	return &Fake{
		events:  make(chan capture.Event, 1024),
		visible: make(map[string]bool),
		boxes:   make(map[string]Rect),
		texts:   make(map[string]bool),
		attrs:   make(map[string]string),
	}
}

// Emit publishes a raw event
func (f *Fake) Emit(ev capture.Event) {
	f.events <- ev
}

// EmitResponse publishes a finished response with a static body
func (f *Fake) EmitResponse(url, mime string, body []byte) {
	f.Emit(capture.Event{
		RequestID: uuid.NewString(),
		URL:       url,
		Method:    "GET",
		Status:    200,
		MimeType:  mime,
		Body: func(context.Context) ([]byte, error) {
			return body, nil
		},
	})
}

// SetVisible marks selector as rendered or hidden
func (f *Fake) SetVisible(selector string, visible bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visible[selector] = visible
}

// SetBox places selector at box and marks it visible
func (f *Fake) SetBox(selector string, box Rect) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.boxes[selector] = box
	f.visible[selector] = true
}

// SetText controls whether HasText finds text
func (f *Fake) SetText(text string, present bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts[text] = present
}

// SetAttribute sets an attribute value on selector
func (f *Fake) SetAttribute(selector, name, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attrs[selector+"@"+name] = value
}

// SetScreenshot sets the bytes returned by Screenshot
func (f *Fake) SetScreenshot(png []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shot = png
}

// Navigations returns every URL navigated to
func (f *Fake) Navigations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.navigations...)
}

// Actions returns every interaction performed
func (f *Fake) Actions() []Action {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Action(nil), f.actions...)
}

func (f *Fake) Events() <-chan capture.Event { return f.events }

func (f *Fake) Navigate(ctx context.Context, url string) error {
	if err := errs.FromContext(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	f.navigations = append(f.navigations, url)
	f.url = url
	hook := f.OnNavigate
	f.mu.Unlock()
	if hook != nil {
		return hook(ctx, url)
	}
	return nil
}

func (f *Fake) Interact(ctx context.Context, a Action) error {
	if err := errs.FromContext(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	f.actions = append(f.actions, a)
	hook := f.OnInteract
	f.mu.Unlock()
	if hook != nil {
		return hook(ctx, a)
	}
	return nil
}

func (f *Fake) Cookies(ctx context.Context) ([]Cookie, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Cookie(nil), f.cookies...), nil
}

func (f *Fake) SetCookies(ctx context.Context, cookies []Cookie) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range cookies {
		replaced := false
		for i := range f.cookies {
			if f.cookies[i].Name == c.Name && f.cookies[i].Domain == c.Domain {
				f.cookies[i] = c
				replaced = true
			}
		}
		if !replaced {
			f.cookies = append(f.cookies, c)
		}
	}
	return nil
}

func (f *Fake) Screenshot(ctx context.Context, region Rect) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.shot == nil {
		return nil, errs.New(errs.ErrorTypeNotFound, "no screenshot configured")
	}
	return f.shot, nil
}

func (f *Fake) Visible(ctx context.Context, selector string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.visible[selector], nil
}

func (f *Fake) BoundingBox(ctx context.Context, selector string) (Rect, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	box, ok := f.boxes[selector]
	return box, ok, nil
}

func (f *Fake) HasText(ctx context.Context, text string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for t, present := range f.texts {
		if present && strings.Contains(t, text) {
			return true, nil
		}
	}
	return false, nil
}

func (f *Fake) Attribute(ctx context.Context, selector, name string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.attrs[selector+"@"+name]
	return v, ok, nil
}

func (f *Fake) CurrentURL(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.url, nil
}

// Close ends the event stream
func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

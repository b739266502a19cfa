package browser

import (
	"context"
	"time"

	"tokscraper/pkg/capture"
)

// Cookie is a browser cookie
type Cookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain"`
	Path     string    `json:"path"`
	Expires  time.Time `json:"expires,omitempty"`
	HTTPOnly bool      `json:"http_only,omitempty"`
	Secure   bool      `json:"secure,omitempty"`
}

// Rect is a page region in CSS pixels
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the midpoint of r
func (r Rect) Center() (float64, float64) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

// Empty reports a zero-area rect
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// ActionKind enumerates in-page interactions
type ActionKind string

const (
	ActionScroll    ActionKind = "scroll"
	ActionMouseMove ActionKind = "mouse_move"
	ActionMouseDown ActionKind = "mouse_down"
	ActionMouseUp   ActionKind = "mouse_up"
	ActionClick     ActionKind = "click"
	ActionClickText ActionKind = "click_text"
	ActionReload    ActionKind = "reload"
	ActionKey       ActionKind = "key"
)

// Action is a single interaction with the page
type Action struct {
	Kind ActionKind
	// X, Y position the pointer for mouse and scroll actions
	X, Y float64
	// DeltaY is the wheel distance for scroll actions
	DeltaY float64
	// Selector targets click actions
	Selector string
	// Text targets click-by-text actions
	Text string
	// Key is the key name for key actions
	Key string
}

// Scroll returns a wheel action at (x, y)
func Scroll(x, y, deltaY float64) Action {
	return Action{Kind: ActionScroll, X: x, Y: y, DeltaY: deltaY}
}

// Click returns a click on the first element matching selector
func Click(selector string) Action {
	return Action{Kind: ActionClick, Selector: selector}
}

// ClickText returns a click on a visible button or link whose text is
// exactly text
func ClickText(text string) Action {
	return Action{Kind: ActionClickText, Text: text}
}

// MouseMove returns a pointer move to (x, y)
func MouseMove(x, y float64) Action {
	return Action{Kind: ActionMouseMove, X: x, Y: y}
}

// MouseDown presses the left button at (x, y)
func MouseDown(x, y float64) Action {
	return Action{Kind: ActionMouseDown, X: x, Y: y}
}

// MouseUp releases the left button at (x, y)
func MouseUp(x, y float64) Action {
	return Action{Kind: ActionMouseUp, X: x, Y: y}
}

// Page is the driving surface of a browser session
type Page interface {
	Navigate(ctx context.Context, url string) error
	Interact(ctx context.Context, action Action) error
	Screenshot(ctx context.Context, region Rect) ([]byte, error)
	Visible(ctx context.Context, selector string) (bool, error)
	BoundingBox(ctx context.Context, selector string) (Rect, bool, error)
	HasText(ctx context.Context, text string) (bool, error)
	Attribute(ctx context.Context, selector, name string) (string, bool, error)
	CurrentURL(ctx context.Context) (string, error)
}

// Session is a live browser session: a page plus its network event stream
// and cookie jar
type Session interface {
	Page

	// Events is the live, non-restartable stream of finished responses.
	// It is closed when the session ends.
	Events() <-chan capture.Event
	Cookies(ctx context.Context) ([]Cookie, error)
	SetCookies(ctx context.Context, cookies []Cookie) error
	Close() error
}

package capture

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Event is a raw network-response notification from the browser session.
// Body must be called promptly; the browser may reclaim the buffer.
type Event struct {
	RequestID string
	URL       string
	Method    string
	Status    int
	MimeType  string
	Headers   map[string]string
	Body      func(ctx context.Context) ([]byte, error)
}

// Response is a captured network response. It is never mutated after capture.
type Response struct {
	ID        string
	RequestID string
	URL       string
	Pattern   Pattern
	Method    string
	Status    int
	Timestamp time.Time
	Binary    bool
	// Seq is the arrival order assigned by the capturer; zero when unknown
	Seq uint64

	body []byte
}

// NewResponse builds a captured response owning a private copy of body
func NewResponse(ev Event, pattern Pattern, body []byte, at time.Time) Response {
	cp := make([]byte, len(body))
	copy(cp, body)
	return Response{
		ID:        ev.RequestID,
		RequestID: ev.RequestID,
		URL:       ev.URL,
		Pattern:   pattern,
		Method:    ev.Method,
		Status:    ev.Status,
		Timestamp: at,
		Binary:    pattern.IsBinary(),
		body:      cp,
	}
}

// Body returns a copy of the captured body
func (r Response) Body() []byte {
	cp := make([]byte, len(r.body))
	copy(cp, r.body)
	return cp
}

// Size returns the body length in bytes
func (r Response) Size() int {
	return len(r.body)
}

// Text returns the body as a string
func (r Response) Text() string {
	return string(r.body)
}

// JSON parses the body for gjson queries
func (r Response) JSON() gjson.Result {
	if r.Binary {
		return gjson.Result{}
	}
	return gjson.ParseBytes(r.body)
}

// Path returns the URL path without query
func (r Response) Path() string {
	u, err := url.Parse(r.URL)
	if err != nil {
		return ""
	}
	return u.Path
}

// Query returns the first value of a URL query parameter
func (r Response) Query(key string) string {
	u, err := url.Parse(r.URL)
	if err != nil {
		return ""
	}
	return u.Query().Get(key)
}

// Params returns a fresh copy of the URL query parameters
func (r Response) Params() url.Values {
	u, err := url.Parse(r.URL)
	if err != nil {
		return url.Values{}
	}
	return u.Query()
}

// Predicate selects captured responses
type Predicate func(Response) bool

// Any matches every response
func Any(Response) bool { return true }

// PathContains matches responses whose URL path contains fragment
func PathContains(fragment string) Predicate {
	return func(r Response) bool {
		return strings.Contains(r.Path(), fragment)
	}
}

// PathEquals matches responses whose URL path is exactly path
func PathEquals(path string) Predicate {
	return func(r Response) bool {
		return r.Path() == path
	}
}

// QueryEquals matches responses carrying key=value in their query string
func QueryEquals(key, value string) Predicate {
	return func(r Response) bool {
		return r.Query(key) == value
	}
}

// BodyEquals matches JSON responses whose body path equals value
func BodyEquals(path, value string) Predicate {
	return func(r Response) bool {
		return r.JSON().Get(path).String() == value
	}
}

// All combines predicates with logical AND
func All(preds ...Predicate) Predicate {
	return func(r Response) bool {
		for _, p := range preds {
			if p != nil && !p(r) {
				return false
			}
		}
		return true
	}
}

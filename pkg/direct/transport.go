package direct

import (
	"context"
	"fmt"
	"io"
	"time"

	http "github.com/bogdanfinn/fhttp"
	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"

	"tokscraper/pkg/config"
)

// Request is one direct call handed to a Transport. Headers are sent in the
// order given.
type Request struct {
	Method  string
	URL     string
	Headers []Header
}

// Header is a single ordered request header
type Header struct {
	Name  string
	Value string
}

// Get returns the value of the first header called name
func (r *Request) Get(name string) string {
	for _, h := range r.Headers {
		if h.Name == name {
			return h.Value
		}
	}
	return ""
}

// Response is the status and fully read body of a direct call
type Response struct {
	Status int
	Header map[string]string
	Body   []byte
}

// Transport performs a single HTTP-style call. A returned error means no
// response was received at all.
type Transport interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// TLSTransport sends requests with a browser TLS and HTTP/2 fingerprint
type TLSTransport struct {
	client tls_client.HttpClient
}

// defaultProfile is used when the configured profile name is unknown
var defaultProfile = profiles.Chrome_131

// NewTLSTransport builds a transport from the direct path settings
func NewTLSTransport(cfg config.DirectConfig) (*TLSTransport, error) {
	profile, ok := profiles.MappedTLSClients[cfg.TLSProfile]
	if !ok {
		profile = defaultProfile
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	options := []tls_client.HttpClientOption{
		tls_client.WithTimeoutSeconds(int(timeout.Seconds())),
		tls_client.WithClientProfile(profile),
		tls_client.WithRandomTLSExtensionOrder(),
		tls_client.WithNotFollowRedirects(),
		tls_client.WithCookieJar(tls_client.NewCookieJar()),
	}
	if cfg.Proxy != "" {
		options = append(options, tls_client.WithProxyUrl(cfg.Proxy))
	}

	client, err := tls_client.NewHttpClient(tls_client.NewNoopLogger(), options...)
	if err != nil {
		return nil, fmt.Errorf("failed to create tls client: %w", err)
	}
	return &TLSTransport{client: client}, nil
}

// Do sends req and reads the whole (decompressed) body
func (t *TLSTransport) Do(ctx context.Context, req *Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	hreq, err := http.NewRequestWithContext(ctx, method, req.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	header := http.Header{}
	order := make([]string, 0, len(req.Headers))
	for _, h := range req.Headers {
		header[h.Name] = []string{h.Value}
		order = append(order, h.Name)
	}
	header[http.HeaderOrderKey] = order
	header[http.PHeaderOrderKey] = []string{":method", ":authority", ":scheme", ":path"}
	hreq.Header = header

	resp, err := t.client.Do(hreq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body := http.DecompressBody(resp)
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	out := &Response{
		Status: resp.StatusCode,
		Header: make(map[string]string, len(resp.Header)),
		Body:   data,
	}
	for k := range resp.Header {
		out.Header[k] = resp.Header.Get(k)
	}
	return out, nil
}

// Package transport is the HTTP request/response contract the secure
// channel is layered on, with a net/http implementation.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jmcleod/ironlink/internal/uuid"
	"github.com/jmcleod/ironlink/protocol"
)

const maxResponseBytes = 4 << 20

// ErrNetwork wraps every failure to complete a round trip.
var ErrNetwork = errors.New("network error")

// Request is a single HTTP call. URL may be a path relative to the client's
// base URL.
type Request struct {
	URL    string
	Method string
	Header http.Header
	Body   []byte
}

// Response holds a 2xx answer.
type Response struct {
	Status int
	Header http.Header
	Data   []byte
}

// StatusError is returned for non-2xx answers before anyone attempts to
// read Data as an encrypted envelope.
type StatusError struct {
	Status  int
	Method  string
	URL     string
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: %d %s: %s", e.Method, e.URL, e.Status, http.StatusText(e.Status), e.Message)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.URL, e.Status, http.StatusText(e.Status))
}

// Client performs requests.
type Client interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// HTTPClient implements Client over net/http.
type HTTPClient struct {
	base string
	http *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTP returns a client rooted at base. A nil hc gets a client with a
// 30 second timeout.
func NewHTTP(base string, hc *http.Client) *HTTPClient {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPClient{base: strings.TrimRight(base, "/"), http: hc}
}

func (c *HTTPClient) resolve(u string) string {
	if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
		return u
	}
	if !strings.HasPrefix(u, "/") {
		u = "/" + u
	}
	return c.base + u
}

func (c *HTTPClient) Do(ctx context.Context, r *Request) (*Response, error) {
	method := r.Method
	if method == "" {
		method = http.MethodPost
	}
	url := c.resolve(r.URL)

	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("building request %s %s: %w", method, url, err)
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if r.Body != nil && req.Header.Get(protocol.HeaderContentType) == "" {
		req.Header.Set(protocol.HeaderContentType, protocol.ContentTypeJSON)
	}
	if req.Header.Get(protocol.HeaderRequestID) == "" {
		req.Header.Set(protocol.HeaderRequestID, uuid.New())
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrNetwork, method, url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s %s: %v", ErrNetwork, method, url, err)
	}

	if resp.StatusCode/100 != 2 {
		return nil, &StatusError{
			Status:  resp.StatusCode,
			Method:  method,
			URL:     r.URL,
			Message: errorMessage(data),
		}
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header, Data: data}, nil
}

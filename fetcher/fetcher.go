package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"
)

// RequestKind selects how a request is fetched
type RequestKind int

const (
	// API requests return a JSON payload
	API RequestKind = iota
	// Page requests return HTML, optionally rendered in a headless browser
	Page
)

func (k RequestKind) String() string {
	if k == Page {
		return "page"
	}
	return "api"
}

// Request describes one upstream call
type Request struct {
	Kind    RequestKind
	Method  string
	URL     string
	Query   url.Values
	Headers map[string]string
	Timeout time.Duration

	// Page only
	Render   bool
	WaitIdle bool

	// API pagination cursor sent with the request
	From int
	Size int
}

// FullURL returns URL with Query applied
func (r Request) FullURL() string {
	if len(r.Query) == 0 {
		return r.URL
	}
	u, err := url.Parse(r.URL)
	if err != nil {
		return r.URL
	}
	q := u.Query()
	for k, vs := range r.Query {
		q.Del(k)
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// PayloadKind tells the extractor how to read a payload
type PayloadKind int

const (
	JSON PayloadKind = iota
	HTML
)

// Cursor carries pagination state read from a response
type Cursor struct {
	From  int
	Size  int
	Total int // -1 when unknown
}

// Exhausted reports whether the cursor has reached a known total
func (c Cursor) Exhausted() bool {
	return c.Total >= 0 && c.Size > 0 && c.From+c.Size >= c.Total
}

// Payload is raw content returned by a Fetcher
type Payload struct {
	Kind       PayloadKind
	URL        string
	StatusCode int
	Body       []byte
	Cursor     Cursor
	FetchedAt  time.Time
}

// Fetcher retrieves raw content for a request. Failures are always
// returned as *Error so callers can decide to skip, slow down or stop.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (*Payload, error)
}

// ErrorKind classifies fetch failures
type ErrorKind string

const (
	KindTimeout  ErrorKind = "timeout"
	KindStatus   ErrorKind = "status"
	KindNetwork  ErrorKind = "network"
	KindRender   ErrorKind = "render"
	KindCanceled ErrorKind = "canceled"
)

// Error is the typed failure returned by every Fetcher
type Error struct {
	Kind       ErrorKind
	URL        string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.Kind == KindStatus {
		return fmt.Sprintf("fetch %s: http %d", e.URL, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// RateLimited reports whether the upstream answered 429
func (e *Error) RateLimited() bool {
	return e.Kind == KindStatus && e.StatusCode == http.StatusTooManyRequests
}

// AsError extracts a *Error from err
func AsError(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// statusError builds the failure for a non-2xx response
func statusError(u string, code int) *Error {
	return &Error{Kind: KindStatus, URL: u, StatusCode: code}
}

// classify wraps a transport error into a typed *Error
func classify(u string, err error) *Error {
	if fe, ok := AsError(err); ok {
		return fe
	}
	kind := KindNetwork
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		kind = KindCanceled
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = KindTimeout
	}
	return &Error{Kind: kind, URL: u, Err: err}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

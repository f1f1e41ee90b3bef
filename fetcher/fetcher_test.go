package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUA = "Mozilla/5.0 (test)"

func TestAPIFetcher_Success(t *testing.T) {
	var gotQuery url.Values
	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		gotHeaders = r.Header.Clone()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"Success","data":{"summary":{"total":42},"hits":{"items":[]}}}`))
	}))
	defer srv.Close()

	af := NewAPIFetcher(srv.Client(), testUA)
	payload, err := af.Fetch(context.Background(), Request{
		Kind:    API,
		URL:     srv.URL + "/search",
		Query:   url.Values{"lang": {"en"}, "from": {"10"}, "size": {"10"}},
		Headers: map[string]string{"Referer": "https://portal.example/search"},
		From:    10,
		Size:    10,
	})
	require.NoError(t, err)

	assert.Equal(t, JSON, payload.Kind)
	assert.Equal(t, 200, payload.StatusCode)
	assert.Equal(t, Cursor{From: 10, Size: 10, Total: 42}, payload.Cursor)
	assert.False(t, payload.Cursor.Exhausted())
	assert.Equal(t, "en", gotQuery.Get("lang"))
	assert.Equal(t, "10", gotQuery.Get("from"))
	assert.Equal(t, "application/json", gotHeaders.Get("Accept"))
	assert.Equal(t, testUA, gotHeaders.Get("User-Agent"))
	assert.Equal(t, "https://portal.example/search", gotHeaders.Get("Referer"))
}

func TestAPIFetcher_StatusErrors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		rateLimited bool
	}{
		{"rate limited", http.StatusTooManyRequests, true},
		{"server error", http.StatusInternalServerError, false},
		{"not found", http.StatusNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			af := NewAPIFetcher(srv.Client(), testUA)
			payload, err := af.Fetch(context.Background(), Request{Kind: API, URL: srv.URL})
			require.Error(t, err)
			assert.Nil(t, payload)

			fe, ok := AsError(err)
			require.True(t, ok, "expected *fetcher.Error, got %T", err)
			assert.Equal(t, KindStatus, fe.Kind)
			assert.Equal(t, tt.status, fe.StatusCode)
			assert.Equal(t, tt.rateLimited, fe.RateLimited())
		})
	}
}

func TestAPIFetcher_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	af := NewAPIFetcher(srv.Client(), testUA)
	_, err := af.Fetch(context.Background(), Request{Kind: API, URL: srv.URL, Timeout: 50 * time.Millisecond})
	require.Error(t, err)

	fe, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindTimeout, fe.Kind)
}

func TestAPIFetcher_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	af := NewAPIFetcher(nil, testUA)
	_, err := af.Fetch(context.Background(), Request{Kind: API, URL: addr, Timeout: time.Second})
	require.Error(t, err)

	fe, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindNetwork, fe.Kind)
}

func TestReadTotal(t *testing.T) {
	assert.Equal(t, 7, readTotal([]byte(`{"data":{"summary":{"total":7}}}`)))
	assert.Equal(t, -1, readTotal([]byte(`{"data":{"hits":{"items":[]}}}`)))
	assert.Equal(t, -1, readTotal([]byte(`[{"name":"x"}]`)))
	assert.Equal(t, -1, readTotal([]byte(`not json`)))
}

func TestStaticFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><div class="scheme-card"><h3>PM Kisan Yojana</h3></div></body></html>`))
	}))
	defer srv.Close()

	sf := NewStaticFetcher(testUA)

	payload, err := sf.Fetch(context.Background(), Request{Kind: Page, URL: srv.URL + "/schemes"})
	require.NoError(t, err)
	assert.Equal(t, HTML, payload.Kind)
	assert.Contains(t, string(payload.Body), "PM Kisan Yojana")
	assert.Equal(t, -1, payload.Cursor.Total)

	// The same URL can be fetched again within one session
	_, err = sf.Fetch(context.Background(), Request{Kind: Page, URL: srv.URL + "/schemes"})
	require.NoError(t, err)

	_, err = sf.Fetch(context.Background(), Request{Kind: Page, URL: srv.URL + "/missing"})
	require.Error(t, err)
	fe, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindStatus, fe.Kind)
	assert.Equal(t, http.StatusNotFound, fe.StatusCode)
}

func TestStaticFetcher_CancelStopsRequest(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	_, err := NewStaticFetcher(testUA).Fetch(ctx, Request{Kind: Page, URL: srv.URL + "/slow", Timeout: 10 * time.Second})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	fe, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindCanceled, fe.Kind)
}

func TestRequestFullURL(t *testing.T) {
	r := Request{URL: "https://api.example/search?lang=en", Query: url.Values{"from": {"0"}, "lang": {"hi"}}}
	assert.Equal(t, "https://api.example/search?from=0&lang=hi", r.FullURL())

	assert.Equal(t, "https://example.org/list", Request{URL: "https://example.org/list"}.FullURL())
}

func TestCursorExhausted(t *testing.T) {
	assert.False(t, Cursor{From: 0, Size: 10, Total: -1}.Exhausted())
	assert.False(t, Cursor{From: 0, Size: 10, Total: 25}.Exhausted())
	assert.True(t, Cursor{From: 20, Size: 10, Total: 25}.Exhausted())
	assert.True(t, Cursor{From: 0, Size: 10, Total: 0}.Exhausted())
}

func TestSessionDispatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api" {
			w.Write([]byte(`{"data":[]}`))
			return
		}
		w.Write([]byte(`<p>Some scheme page</p>`))
	}))
	defer srv.Close()

	s := NewSession(SessionOptions{UserAgent: testUA, HTTPClient: srv.Client()})
	defer s.Close()

	p, err := s.Fetch(context.Background(), Request{Kind: API, URL: srv.URL + "/api"})
	require.NoError(t, err)
	assert.Equal(t, JSON, p.Kind)

	p, err = s.Fetch(context.Background(), Request{Kind: Page, URL: srv.URL + "/page"})
	require.NoError(t, err)
	assert.Equal(t, HTML, p.Kind)

	// No browser was launched, so closing is a no-op
	assert.NoError(t, s.Close())
}

package fetcher

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"sarkari-pulse/logger"

	"github.com/go-resty/resty/v2"
)

// APIFetcher fetches JSON payloads from the scheme-search API
type APIFetcher struct {
	client *resty.Client
	logger *slog.Logger
}

// NewAPIFetcher creates an APIFetcher. hc may be nil.
func NewAPIFetcher(hc *http.Client, userAgent string) *APIFetcher {
	var client *resty.Client
	if hc != nil {
		client = resty.NewWithClient(hc)
	} else {
		client = resty.New()
	}
	client.SetHeader("Accept", "application/json").
		SetHeader("Accept-Language", "en-US,en;q=0.9").
		SetHeader("User-Agent", userAgent)

	return &APIFetcher{
		client: client,
		logger: logger.WithComponent("api-fetcher"),
	}
}

// Fetch implements the Fetcher interface
func (af *APIFetcher) Fetch(ctx context.Context, req Request) (*Payload, error) {
	ctx, cancel := withTimeout(ctx, req.Timeout)
	defer cancel()

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	full := req.FullURL()

	r := af.client.R().SetContext(ctx)
	if len(req.Query) > 0 {
		r.SetQueryParamsFromValues(req.Query)
	}
	if len(req.Headers) > 0 {
		r.SetHeaders(req.Headers)
	}

	start := time.Now()
	resp, err := r.Execute(method, req.URL)
	if err != nil {
		fe := classify(full, err)
		af.logger.Warn("api request failed", "url", full, "kind", fe.Kind, "error", err)
		return nil, fe
	}

	af.logger.Debug("api response", "url", full, "status", resp.StatusCode(), "bytes", len(resp.Body()), "took", time.Since(start))

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, statusError(full, resp.StatusCode())
	}

	body := resp.Body()
	return &Payload{
		Kind:       JSON,
		URL:        full,
		StatusCode: resp.StatusCode(),
		Body:       body,
		Cursor:     Cursor{From: req.From, Size: req.Size, Total: readTotal(body)},
		FetchedAt:  time.Now(),
	}, nil
}

// readTotal returns data.summary.total, or -1 when the payload has none
func readTotal(body []byte) int {
	var envelope struct {
		Data struct {
			Summary struct {
				Total *int `json:"total"`
			} `json:"summary"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return -1
	}
	if envelope.Data.Summary.Total == nil {
		return -1
	}
	return *envelope.Data.Summary.Total
}

package fetcher

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"sarkari-pulse/logger"

	"github.com/gocolly/colly/v2"
)

// StaticFetcher fetches server-rendered pages with a plain GET (colly)
type StaticFetcher struct {
	collector *colly.Collector
	logger    *slog.Logger
}

// NewStaticFetcher creates a StaticFetcher
func NewStaticFetcher(userAgent string) *StaticFetcher {
	c := colly.NewCollector(
		colly.UserAgent(userAgent),
		colly.AllowURLRevisit(),
	)

	// One request in flight per domain; pacing is done by the aggregator
	c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
	})

	return &StaticFetcher{
		collector: c,
		logger:    logger.WithComponent("static-fetcher"),
	}
}

// Fetch implements the Fetcher interface
func (sf *StaticFetcher) Fetch(ctx context.Context, req Request) (*Payload, error) {
	full := req.FullURL()
	if err := ctx.Err(); err != nil {
		return nil, classify(full, err)
	}

	c := sf.collector.Clone()
	c.Context = ctx
	if req.Timeout > 0 {
		c.SetRequestTimeout(req.Timeout)
	}

	var (
		body       []byte
		statusCode int
		fetchErr   error
	)

	c.OnRequest(func(r *colly.Request) {
		for k, v := range req.Headers {
			r.Headers.Set(k, v)
		}
	})

	c.OnResponse(func(r *colly.Response) {
		statusCode = r.StatusCode
		body = r.Body
	})

	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			statusCode = r.StatusCode
		}
		fetchErr = err
	})

	start := time.Now()
	visitErr := c.Visit(full)

	if statusCode != 0 && (statusCode < 200 || statusCode >= 300) {
		return nil, statusError(full, statusCode)
	}
	if fetchErr == nil {
		fetchErr = visitErr
	}
	if fetchErr != nil {
		fe := classify(full, fetchErr)
		sf.logger.Warn("page request failed", "url", full, "kind", fe.Kind, "error", fetchErr)
		return nil, fe
	}

	sf.logger.Debug("page fetched", "url", full, "status", statusCode, "bytes", len(body), "took", time.Since(start))

	if statusCode == 0 {
		statusCode = http.StatusOK
	}
	return &Payload{
		Kind:       HTML,
		URL:        full,
		StatusCode: statusCode,
		Body:       body,
		Cursor:     Cursor{Total: -1},
		FetchedAt:  time.Now(),
	}, nil
}

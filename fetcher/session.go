package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"sarkari-pulse/logger"
)

// SessionOptions configures a Session
type SessionOptions struct {
	UserAgent  string
	HTTPClient *http.Client
	Render     RenderOptions
}

// Session owns the fetchers used by a single run. The browser is only
// launched when the first rendered page is requested. Close releases
// everything; a Session must not be reused after Close.
type Session struct {
	opts   SessionOptions
	api    *APIFetcher
	static *StaticFetcher
	render *RenderFetcher
	logger *slog.Logger
}

// NewSession creates a Session
func NewSession(opts SessionOptions) *Session {
	return &Session{
		opts:   opts,
		api:    NewAPIFetcher(opts.HTTPClient, opts.UserAgent),
		static: NewStaticFetcher(opts.UserAgent),
		logger: logger.WithComponent("fetch-session"),
	}
}

// Fetch dispatches the request to the matching fetcher
func (s *Session) Fetch(ctx context.Context, req Request) (*Payload, error) {
	if req.Kind == API {
		return s.api.Fetch(ctx, req)
	}
	if !req.Render {
		return s.static.Fetch(ctx, req)
	}
	if s.render == nil {
		s.logger.Info("initializing browser for rendered pages")
		rf, err := NewRenderFetcher(s.opts.Render)
		if err != nil {
			return nil, &Error{Kind: KindRender, URL: req.FullURL(), Err: err}
		}
		s.render = rf
	}
	return s.render.Fetch(ctx, req)
}

// Close releases the browser if one was launched
func (s *Session) Close() error {
	if s.render == nil {
		return nil
	}
	err := s.render.Close()
	s.render = nil
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("failed to close browser: %w", err)
	}
	return nil
}

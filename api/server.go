// Package api serves stored schemes and scrape runs over HTTP.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"sarkari-pulse/db"
	"sarkari-pulse/events"
	"sarkari-pulse/logger"
	"sarkari-pulse/metrics"
	"sarkari-pulse/models"
	"sarkari-pulse/strategy"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Store is the read side of the scheme store
type Store interface {
	ListSchemes(ctx context.Context, f db.SchemeFilter) ([]models.SchemeRecord, int, error)
	GetScheme(ctx context.Context, id int64) (*models.SchemeRecord, error)
	ListRuns(ctx context.Context, limit int) ([]models.RunReport, error)
	Ping(ctx context.Context) error
}

// Scraper starts aggregator runs
type Scraper interface {
	Run(ctx context.Context, plans []strategy.Plan) (*models.RunReport, error)
	State() models.RunState
}

// Options configures a Server. Broker and Metrics may be nil.
// Context bounds scrape runs started over HTTP; when it is done they are
// canceled. It defaults to context.Background().
type Options struct {
	Context context.Context
	Store   Store
	Scraper Scraper
	Plans   []strategy.Plan
	Broker  *events.Broker
	Metrics *metrics.Metrics
}

// Server holds the HTTP handlers
type Server struct {
	ctx     context.Context
	store   Store
	scraper Scraper
	plans   []strategy.Plan
	broker  *events.Broker
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewServer creates a Server
func NewServer(opts Options) *Server {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	return &Server{
		ctx:     ctx,
		store:   opts.Store,
		scraper: opts.Scraper,
		plans:   opts.Plans,
		broker:  opts.Broker,
		metrics: opts.Metrics,
		logger:  logger.WithComponent("api"),
	}
}

// Router builds the chi router with every route mounted
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.metrics.Middleware)

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/schemes", s.handleListSchemes)
		r.Get("/schemes/{id}", s.handleGetScheme)
		r.Post("/schemes/scrape", s.handleScrape)
		r.Get("/runs", s.handleListRuns)
		if s.broker != nil {
			r.Get("/events", s.handleEvents)
		}
	})

	return r
}

// response is the envelope every JSON endpoint returns
type response struct {
	Success    bool        `json:"success"`
	Data       any         `json:"data,omitempty"`
	Pagination *pagination `json:"pagination,omitempty"`
	Error      string      `json:"error,omitempty"`
}

type pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "run_state": string(s.scraper.State())})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, response{Success: false, Error: msg})
}

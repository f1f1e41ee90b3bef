// Package metrics defines the Prometheus collectors for the pipeline and
// exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	PagesFetchedTotal    *prometheus.CounterVec
	FetchErrorsTotal     *prometheus.CounterVec
	CandidatesTotal      *prometheus.CounterVec
	RejectedTotal        *prometheus.CounterVec
	UpsertsTotal         *prometheus.CounterVec
	RunDuration          prometheus.Histogram
	RunsTotal            prometheus.Counter
	RunInProgress        prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New creates all collectors and registers them with reg. A nil reg
// uses a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 30, 120},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		PagesFetchedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrape_pages_fetched_total",
				Help: "Upstream pages fetched successfully, by source.",
			},
			[]string{"source"},
		),
		FetchErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrape_fetch_errors_total",
				Help: "Upstream fetch failures by source and kind (timeout, status, network, render).",
			},
			[]string{"source", "kind"},
		),
		CandidatesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrape_candidates_total",
				Help: "Candidate records extracted, by source.",
			},
			[]string{"source"},
		),
		RejectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrape_rejected_total",
				Help: "Candidates rejected by normalization, by source.",
			},
			[]string{"source"},
		),
		UpsertsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scheme_upserts_total",
				Help: "Scheme upserts by outcome (inserted, updated, error).",
			},
			[]string{"op"},
		),
		RunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scrape_run_duration_seconds",
				Help:    "Wall time of aggregator runs.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
			},
		),
		RunsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "scrape_runs_total",
				Help: "Total aggregator runs completed.",
			},
		),
		RunInProgress: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "scrape_run_in_progress",
				Help: "1 while an aggregator run is active.",
			},
		),
		gatherer: reg,
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.PagesFetchedTotal,
		m.FetchErrorsTotal,
		m.CandidatesTotal,
		m.RejectedTotal,
		m.UpsertsTotal,
		m.RunDuration,
		m.RunsTotal,
		m.RunInProgress,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// PageFetched counts a successful fetch
func (m *Metrics) PageFetched(source string) {
	if m == nil {
		return
	}
	m.PagesFetchedTotal.WithLabelValues(source).Inc()
}

// FetchError counts a failed fetch
func (m *Metrics) FetchError(source, kind string) {
	if m == nil {
		return
	}
	m.FetchErrorsTotal.WithLabelValues(source, kind).Inc()
}

// Candidates counts extracted candidates
func (m *Metrics) Candidates(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.CandidatesTotal.WithLabelValues(source).Add(float64(n))
}

// Rejected counts a normalization rejection
func (m *Metrics) Rejected(source string) {
	if m == nil {
		return
	}
	m.RejectedTotal.WithLabelValues(source).Inc()
}

// Upsert counts an upsert outcome
func (m *Metrics) Upsert(op string) {
	if m == nil {
		return
	}
	m.UpsertsTotal.WithLabelValues(op).Inc()
}

// RunStarted marks a run as active
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.RunInProgress.Set(1)
}

// RunFinished records a finished run
func (m *Metrics) RunFinished(d time.Duration) {
	if m == nil {
		return
	}
	m.RunInProgress.Set(0)
	m.RunsTotal.Inc()
	m.RunDuration.Observe(d.Seconds())
}

// Middleware records request count, latency and in-flight requests,
// labelled by the matched chi route pattern
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.HTTPRequestsInFlight.Inc()
		defer m.HTTPRequestsInFlight.Dec()

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

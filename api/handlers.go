package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"sarkari-pulse/aggregator"
	"sarkari-pulse/db"
	"sarkari-pulse/events"

	"github.com/go-chi/chi/v5"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// GET /api/schemes
func (s *Server) handleListSchemes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := db.SchemeFilter{
		Page:       queryInt(r, "page", 1),
		Limit:      queryInt(r, "limit", defaultLimit),
		Search:     q.Get("search"),
		Level:      q.Get("level"),
		State:      q.Get("state"),
		Source:     q.Get("source"),
		ActiveOnly: true,
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = defaultLimit
	}
	if f.Limit > maxLimit {
		f.Limit = maxLimit
	}

	schemes, total, err := s.store.ListSchemes(r.Context(), f)
	if err != nil {
		s.logger.Error("failed to list schemes", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list schemes")
		return
	}

	writeJSON(w, http.StatusOK, response{
		Success: true,
		Data:    schemes,
		Pagination: &pagination{
			Page:  f.Page,
			Limit: f.Limit,
			Total: total,
			Pages: (total + f.Limit - 1) / f.Limit,
		},
	})
}

// GET /api/schemes/{id}
func (s *Server) handleGetScheme(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, "invalid scheme id")
		return
	}

	scheme, err := s.store.GetScheme(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusNotFound, "scheme not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to get scheme", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get scheme")
		return
	}
	writeJSON(w, http.StatusOK, response{Success: true, Data: scheme})
}

// POST /api/schemes/scrape runs the aggregator and answers with its report.
// A run may take longer than the server write timeout and is not tied to
// the client connection; only the server context cancels it.
func (s *Server) handleScrape(w http.ResponseWriter, r *http.Request) {
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Warn("could not lift write deadline for scrape", "error", err)
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	report, err := s.scraper.Run(ctx, s.plans)
	if errors.Is(err, aggregator.ErrRunInProgress) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("scrape run failed to start", "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, response{Success: true, Data: report})
}

// GET /api/runs
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultLimit)
	if limit > maxLimit {
		limit = maxLimit
	}
	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list runs", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, response{Success: true, Data: runs})
}

// GET /api/events streams run events as server-sent events
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ch, cancel := s.broker.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if err := writeEvent(w, e); err != nil {
				s.logger.Debug("event stream closed", "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, e events.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data)
	return err
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

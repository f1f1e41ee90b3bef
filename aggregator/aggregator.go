// Package aggregator drives fetch, extraction and normalization over the
// configured strategies, deduplicates in memory and flushes to the store.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"sarkari-pulse/config"
	"sarkari-pulse/db"
	"sarkari-pulse/events"
	"sarkari-pulse/fetcher"
	"sarkari-pulse/logger"
	"sarkari-pulse/metrics"
	"sarkari-pulse/models"
	"sarkari-pulse/normalizer"
	"sarkari-pulse/parser"
	"sarkari-pulse/strategy"

	"github.com/google/uuid"
)

// ErrRunInProgress is returned when Run is called while another run is active
var ErrRunInProgress = errors.New("a scrape run is already in progress")

// Session is the fetch session owned by one run
type Session interface {
	fetcher.Fetcher
	io.Closer
}

// SessionFactory opens a new Session at the start of each run
type SessionFactory func() (Session, error)

// Upserter persists a normalized scheme
type Upserter interface {
	UpsertScheme(ctx context.Context, rec models.SchemeRecord) (db.UpsertResult, error)
}

// RunStore records finished run reports
type RunStore interface {
	SaveRun(ctx context.Context, report *models.RunReport) error
}

// Options configures an Aggregator. Runs, Publisher and Metrics may be nil.
type Options struct {
	Config     config.AggregatorConfig
	NewSession SessionFactory
	Store      Upserter
	Runs       RunStore
	Publisher  events.Publisher
	Metrics    *metrics.Metrics
}

// Aggregator runs strategies one after another. Only one run may be
// active at a time.
type Aggregator struct {
	cfg        config.AggregatorConfig
	newSession SessionFactory
	store      Upserter
	runs       RunStore
	publisher  events.Publisher
	metrics    *metrics.Metrics
	extractor  *parser.Extractor
	normalizer *normalizer.Normalizer
	logger     *slog.Logger

	// replaceable in tests
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	mu      sync.Mutex
	state   models.RunState
	running bool
}

// New creates an Aggregator
func New(opts Options) *Aggregator {
	return &Aggregator{
		cfg:        opts.Config,
		newSession: opts.NewSession,
		store:      opts.Store,
		runs:       opts.Runs,
		publisher:  opts.Publisher,
		metrics:    opts.Metrics,
		extractor:  parser.NewExtractor(),
		normalizer: normalizer.NewNormalizer(),
		logger:     logger.WithComponent("aggregator"),
		sleep:      sleepContext,
		now:        time.Now,
		state:      models.RunIdle,
	}
}

// State returns the state of the current or last run
func (a *Aggregator) State() models.RunState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Running reports whether a run is active
func (a *Aggregator) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

func (a *Aggregator) setState(s models.RunState) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// runState is the per-run working set. It is only touched by the run goroutine.
type runState struct {
	report  *models.RunReport
	records map[string]*models.SchemeRecord
	order   []string
	calls   int
}

// Run executes plans sequentially and flushes what was found. It returns an
// error only when the run cannot start: the session cannot be opened, or
// the very first request fails with a network error. Every other failure
// is counted in the report.
func (a *Aggregator) Run(ctx context.Context, plans []strategy.Plan) (*models.RunReport, error) {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return nil, ErrRunInProgress
	}
	a.running = true
	a.state = models.RunRunning
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
	}()

	run := &runState{
		report: &models.RunReport{
			RunID:      uuid.NewString(),
			State:      models.RunRunning,
			Strategies: []models.StrategyReport{},
			StartedAt:  a.now().UTC(),
		},
		records: make(map[string]*models.SchemeRecord),
	}
	log := a.logger.With("run_id", run.report.RunID)

	session, err := a.newSession()
	if err != nil {
		a.setState(models.RunIdle)
		return nil, fmt.Errorf("failed to open fetch session: %w", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Warn("failed to close fetch session", "error", err)
		}
	}()

	a.metrics.RunStarted()
	names := make([]string, len(plans))
	for i, p := range plans {
		names[i] = p.Name
	}
	log.Info("run started", "strategies", len(plans))
	a.publish(ctx, events.Started(run.report.RunID, names, a.now()))

	for i, plan := range plans {
		if ctx.Err() != nil {
			log.Info("run canceled, skipping remaining strategies", "remaining", len(plans)-i)
			break
		}

		sr, err := a.runPlan(ctx, session, plan, run, log)
		if err != nil {
			a.setState(models.RunIdle)
			a.metrics.RunFinished(a.now().Sub(run.report.StartedAt))
			return nil, err
		}
		run.report.Strategies = append(run.report.Strategies, sr)

		a.publish(ctx, events.Progress(run.report.RunID, events.ProgressData{
			Strategy:     sr,
			FoundSoFar:   len(run.records),
			PagesFetched: run.report.PagesFetched,
			Completed:    i + 1,
			Total:        len(plans),
		}, a.now()))
	}

	// Whatever was collected is flushed even when the caller canceled
	flushCtx := context.WithoutCancel(ctx)

	a.setState(models.RunFlushing)
	run.report.State = models.RunFlushing
	a.flush(flushCtx, run, log)

	a.setState(models.RunDone)
	run.report.State = models.RunDone
	run.report.FinishedAt = a.now().UTC()
	a.metrics.RunFinished(run.report.FinishedAt.Sub(run.report.StartedAt))

	if a.runs != nil {
		if err := a.runs.SaveRun(flushCtx, run.report); err != nil {
			log.Error("failed to save run report", "error", err)
		}
	}

	log.Info("run completed",
		"found", run.report.FoundCount,
		"saved", run.report.SavedCount,
		"updated", run.report.UpdatedCount,
		"errors", run.report.ErrorCount,
		"rejected", run.report.RejectedCount,
		"pages", run.report.PagesFetched,
	)
	a.publish(flushCtx, events.Completed(run.report, a.now()))

	return run.report, nil
}

// runPlan walks every variant of a plan page by page
func (a *Aggregator) runPlan(ctx context.Context, session Session, plan strategy.Plan, run *runState, log *slog.Logger) (models.StrategyReport, error) {
	sr := models.StrategyReport{Name: plan.Name, Source: plan.Source.Name}
	hints := plan.Hints()
	log = log.With("strategy", plan.Name)

	maxPages := plan.MaxPages
	if maxPages <= 0 {
		maxPages = a.cfg.MaxPages
	}
	if !plan.Paged() {
		maxPages = 1
	}

	for _, variant := range plan.Variants {
		emptyStreak := 0

		for page := 0; page < maxPages; page++ {
			if ctx.Err() != nil {
				return sr, nil
			}

			// Courtesy delay between every upstream call of the run
			if run.calls > 0 {
				if err := a.sleep(ctx, a.cfg.DelayForPage(page)); err != nil {
					return sr, nil
				}
			}

			req, err := plan.Request(variant, page)
			if err != nil {
				log.Error("failed to build request", "variant", variant.Label(), "page", page, "error", err)
				break
			}

			payload, err := session.Fetch(ctx, req)
			run.calls++
			if err != nil {
				fe, ok := fetcher.AsError(err)
				if !ok {
					fe = &fetcher.Error{Kind: fetcher.KindNetwork, URL: req.FullURL(), Err: err}
				}
				if run.calls == 1 && fe.Kind == fetcher.KindNetwork {
					return sr, fmt.Errorf("upstream unreachable: %w", err)
				}
				if fe.Kind == fetcher.KindCanceled || ctx.Err() != nil {
					return sr, nil
				}

				sr.FetchErrors++
				a.metrics.FetchError(plan.Source.Name, string(fe.Kind))

				if fe.RateLimited() {
					sr.RateLimited++
					run.report.RateLimited++
					log.Warn("rate limited, cooling down", "variant", variant.Label(), "page", page, "cooldown", a.cfg.RateLimitCooldown)
					if err := a.sleep(ctx, a.cfg.RateLimitCooldown); err != nil {
						return sr, nil
					}
					continue
				}

				log.Warn("page fetch failed", "variant", variant.Label(), "page", page, "kind", fe.Kind, "status", fe.StatusCode, "error", err)
				emptyStreak++
				if a.cfg.EmptyPageLimit > 0 && emptyStreak >= a.cfg.EmptyPageLimit {
					break
				}
				continue
			}

			sr.PagesFetched++
			run.report.PagesFetched++
			a.metrics.PageFetched(plan.Source.Name)

			candidates := a.extractor.Extract(payload, hints)
			sr.Candidates += len(candidates)
			a.metrics.Candidates(plan.Source.Name, len(candidates))

			if len(candidates) == 0 {
				log.Debug("empty page, variant exhausted", "variant", variant.Label(), "page", page)
				break
			}

			added := a.fold(candidates, run, &sr)
			log.Debug("page processed", "variant", variant.Label(), "page", page, "candidates", len(candidates), "new", added)

			if added == 0 {
				emptyStreak++
				if a.cfg.EmptyPageLimit > 0 && emptyStreak >= a.cfg.EmptyPageLimit {
					log.Debug("no new schemes for consecutive pages, variant exhausted", "variant", variant.Label(), "pages", emptyStreak)
					break
				}
			} else {
				emptyStreak = 0
			}

			if payload.Cursor.Exhausted() {
				break
			}
		}
	}

	log.Info("strategy finished",
		"pages", sr.PagesFetched,
		"candidates", sr.Candidates,
		"new", sr.NewRecords,
		"rejected", sr.Rejected,
		"fetch_errors", sr.FetchErrors,
	)
	return sr, nil
}

// fold normalizes candidates into the run's map and returns how many new
// schemes were added. The first record seen for a name wins; later ones
// only fill its empty fields.
func (a *Aggregator) fold(candidates []models.CandidateRecord, run *runState, sr *models.StrategyReport) int {
	added := 0
	for _, c := range candidates {
		rec, err := a.normalizer.Normalize(c)
		if err != nil {
			sr.Rejected++
			run.report.RejectedCount++
			a.metrics.Rejected(c.Source)
			continue
		}

		key := normalizer.Key(rec.Name)
		if existing, ok := run.records[key]; ok {
			fillEmpty(existing, rec)
			continue
		}
		run.records[key] = &rec
		run.order = append(run.order, key)
		sr.NewRecords++
		added++
	}
	run.report.FoundCount = len(run.records)
	return added
}

// flush upserts every collected record, counting outcomes
func (a *Aggregator) flush(ctx context.Context, run *runState, log *slog.Logger) {
	for _, key := range run.order {
		rec := run.records[key]
		res, err := a.store.UpsertScheme(ctx, *rec)
		if err != nil {
			run.report.ErrorCount++
			a.metrics.Upsert("error")
			log.Error("failed to upsert scheme", "name", rec.Name, "error", err)
			continue
		}
		a.metrics.Upsert(string(res.Op))
		switch res.Op {
		case db.OpInserted:
			run.report.SavedCount++
		case db.OpUpdated:
			run.report.UpdatedCount++
		}
	}
}

func (a *Aggregator) publish(ctx context.Context, e events.Event) {
	if a.publisher == nil {
		return
	}
	if err := a.publisher.Publish(ctx, e); err != nil {
		a.logger.Warn("failed to publish event", "type", e.Type, "run_id", e.RunID, "error", err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

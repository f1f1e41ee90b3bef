package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"sarkari-pulse/models"
)

// SaveRun records a finished run report in scrape_runs
func (db *DB) SaveRun(ctx context.Context, report *models.RunReport) error {
	strategies, err := json.Marshal(report.Strategies)
	if err != nil {
		return fmt.Errorf("failed to encode strategy reports: %w", err)
	}

	var finishedAt sql.NullTime
	if !report.FinishedAt.IsZero() {
		finishedAt = sql.NullTime{Time: report.FinishedAt.UTC().Truncate(time.Microsecond), Valid: true}
	}

	_, err = db.conn.ExecContext(ctx, db.rebind(`
		INSERT INTO scrape_runs (
			run_id, state, found_count, saved_count, updated_count, error_count,
			rejected_count, pages_fetched, rate_limited, strategies, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		report.RunID, string(report.State), report.FoundCount, report.SavedCount, report.UpdatedCount, report.ErrorCount,
		report.RejectedCount, report.PagesFetched, report.RateLimited, string(strategies),
		report.StartedAt.UTC().Truncate(time.Microsecond), finishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", report.RunID, err)
	}
	return nil
}

// ListRuns returns the most recent run reports, newest first
func (db *DB) ListRuns(ctx context.Context, limit int) ([]models.RunReport, error) {
	if limit < 1 {
		limit = 20
	}

	rows, err := db.conn.QueryContext(ctx, db.rebind(`
		SELECT run_id, state, found_count, saved_count, updated_count, error_count,
			rejected_count, pages_fetched, rate_limited, strategies, started_at, finished_at
		FROM scrape_runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []models.RunReport{}
	for rows.Next() {
		var r models.RunReport
		var state, strategies string
		var finishedAt sql.NullTime
		if err := rows.Scan(
			&r.RunID, &state, &r.FoundCount, &r.SavedCount, &r.UpdatedCount, &r.ErrorCount,
			&r.RejectedCount, &r.PagesFetched, &r.RateLimited, &strategies, &r.StartedAt, &finishedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.State = models.RunState(state)
		r.StartedAt = r.StartedAt.UTC()
		if finishedAt.Valid {
			r.FinishedAt = finishedAt.Time.UTC()
		}
		if err := json.Unmarshal([]byte(strategies), &r.Strategies); err != nil {
			db.logger.Warn("stored strategy reports could not be decoded", "run_id", r.RunID, "error", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

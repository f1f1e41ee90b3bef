package events

import (
	"context"
	"log/slog"

	"sarkari-pulse/logger"
	"sarkari-pulse/models"
)

// LogPublisher writes events to the structured log
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher creates a LogPublisher
func NewLogPublisher() *LogPublisher {
	return &LogPublisher{logger: logger.WithComponent("events")}
}

// Publish implements Publisher
func (p *LogPublisher) Publish(ctx context.Context, e Event) error {
	attrs := []any{"type", string(e.Type), "run_id", e.RunID}
	switch d := e.Data.(type) {
	case StartedData:
		attrs = append(attrs, "strategies", len(d.Strategies))
	case ProgressData:
		attrs = append(attrs,
			"strategy", d.Strategy.Name,
			"pages", d.Strategy.PagesFetched,
			"new", d.Strategy.NewRecords,
			"found_so_far", d.FoundSoFar,
			"step", d.Completed, "of", d.Total,
		)
	case *models.RunReport:
		attrs = append(attrs,
			"found", d.FoundCount,
			"saved", d.SavedCount,
			"updated", d.UpdatedCount,
			"errors", d.ErrorCount,
			"rejected", d.RejectedCount,
			"duration", d.FinishedAt.Sub(d.StartedAt),
		)
	}
	p.logger.InfoContext(ctx, "run event", attrs...)
	return nil
}

// Close implements Publisher
func (p *LogPublisher) Close() error { return nil }

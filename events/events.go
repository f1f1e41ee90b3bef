// Package events defines the run lifecycle events and the publishers that
// broadcast them.
package events

import (
	"context"
	"time"

	"sarkari-pulse/models"
)

// Type names a run lifecycle event
type Type string

const (
	RunStarted   Type = "run.started"
	RunProgress  Type = "run.progress"
	RunCompleted Type = "run.completed"
)

// Event is the envelope every transport carries
type Event struct {
	Type  Type      `json:"type"`
	RunID string    `json:"runId"`
	Time  time.Time `json:"time"`
	Data  any       `json:"data"`
}

// StartedData is the payload of run.started
type StartedData struct {
	Strategies []string `json:"strategies"`
}

// ProgressData is the payload of run.progress, sent after each strategy
type ProgressData struct {
	Strategy     models.StrategyReport `json:"strategy"`
	FoundSoFar   int                   `json:"foundSoFar"`
	PagesFetched int                   `json:"pagesFetched"`
	Completed    int                   `json:"completedStrategies"`
	Total        int                   `json:"totalStrategies"`
}

// Publisher broadcasts events. Publish failures are reported but never
// stop a run.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Started builds a run.started event
func Started(runID string, strategies []string, at time.Time) Event {
	return Event{Type: RunStarted, RunID: runID, Time: at.UTC(), Data: StartedData{Strategies: strategies}}
}

// Progress builds a run.progress event
func Progress(runID string, data ProgressData, at time.Time) Event {
	return Event{Type: RunProgress, RunID: runID, Time: at.UTC(), Data: data}
}

// Completed builds a run.completed event carrying the final report
func Completed(report *models.RunReport, at time.Time) Event {
	return Event{Type: RunCompleted, RunID: report.RunID, Time: at.UTC(), Data: report}
}

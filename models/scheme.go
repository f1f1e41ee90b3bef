package models

import "time"

// Scheme levels. An empty Level means the source did not say.
const (
	LevelCentral = "Central"
	LevelState   = "State"
)

// DefaultBeneficiaryState is used when a source gives no state.
const DefaultBeneficiaryState = "All"

// SchemeRecord represents a government scheme in its canonical shape
type SchemeRecord struct {
	ID               int64      `json:"id,omitempty"`
	SchemeID         string     `json:"schemeId"`
	Name             string     `json:"name"`
	Description      string     `json:"description"`
	Ministry         string     `json:"ministry"`
	Department       string     `json:"department"`
	TargetAudience   string     `json:"targetAudience"`
	Sector           string     `json:"sector"`
	Tags             string     `json:"tags"`
	Level            string     `json:"level"`
	BeneficiaryState string     `json:"beneficiaryState"`
	LaunchDate       *time.Time `json:"launchDate"`
	Source           string     `json:"source"`
	SourceURL        string     `json:"sourceUrl"`
	ScrapedAt        *time.Time `json:"scrapedAt"`
	IsActive         bool       `json:"isActive"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`

	// GeneratedID is true when SchemeID is a per-run placeholder
	// rather than an identifier the source provided.
	GeneratedID bool `json:"-"`
}

// CandidateRecord is what the extractor found before normalization.
// Fields maps logical attribute names (name, description, ministry, ...)
// to raw values: a string, or a []string when the source gave an array.
type CandidateRecord struct {
	Fields    map[string]any
	Source    string
	SourceURL string
}

// Get returns the raw value of a logical field, or nil
func (c CandidateRecord) Get(field string) any {
	if c.Fields == nil {
		return nil
	}
	return c.Fields[field]
}

// RunState is the lifecycle state of an aggregator run
type RunState string

const (
	RunIdle     RunState = "idle"
	RunRunning  RunState = "running"
	RunFlushing RunState = "flushing"
	RunDone     RunState = "done"
)

// StrategyReport holds per-strategy counters
type StrategyReport struct {
	Name         string `json:"name"`
	Source       string `json:"source"`
	PagesFetched int    `json:"pagesFetched"`
	Candidates   int    `json:"candidates"`
	NewRecords   int    `json:"newRecords"`
	Rejected     int    `json:"rejected"`
	FetchErrors  int    `json:"fetchErrors"`
	RateLimited  int    `json:"rateLimited"`
}

// RunReport summarizes one aggregator run
type RunReport struct {
	RunID         string           `json:"runId"`
	State         RunState         `json:"state"`
	FoundCount    int              `json:"foundCount"`
	SavedCount    int              `json:"savedCount"`
	UpdatedCount  int              `json:"updatedCount"`
	ErrorCount    int              `json:"errorCount"`
	RejectedCount int              `json:"rejectedCount"`
	PagesFetched  int              `json:"pagesFetched"`
	RateLimited   int              `json:"rateLimited"`
	Strategies    []StrategyReport `json:"strategies"`
	StartedAt     time.Time        `json:"startedAt"`
	FinishedAt    time.Time        `json:"finishedAt"`
}

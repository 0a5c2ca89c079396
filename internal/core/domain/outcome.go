package domain

import "time"

type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeFailed  OutcomeStatus = "failed"
)

// RecordOutcome is the terminal result of running one record through the
// processing pipeline. Immutable once produced.
type RecordOutcome struct {
	RecordID string        `json:"record_id"`
	Status   OutcomeStatus `json:"status"`
	Error    error         `json:"-"`
	ErrorMsg string        `json:"error,omitempty"`
	Elapsed  time.Duration `json:"elapsed"`
}

// BatchResult aggregates one orchestrator pass over a page of candidate
// records. Invariants: AlreadyProcessed+UnprocessedFound == TotalQueried and
// NewlyProcessed+Failed == UnprocessedFound.
type BatchResult struct {
	RunID            string          `json:"run_id"`
	TotalQueried     int             `json:"total_queried"`
	AlreadyProcessed int             `json:"already_processed"`
	UnprocessedFound int             `json:"unprocessed_found"`
	NewlyProcessed   int             `json:"newly_processed"`
	Failed           int             `json:"failed"`
	Outcomes         []RecordOutcome `json:"outcomes"`
	StartedAt        time.Time       `json:"started_at"`
	Elapsed          time.Duration   `json:"elapsed"`
}

// SuccessRate returns the fraction of unprocessed records that completed,
// in [0,1]. Returns 1 when there was nothing to do.
func (b BatchResult) SuccessRate() float64 {
	if b.UnprocessedFound == 0 {
		return 1
	}
	return float64(b.NewlyProcessed) / float64(b.UnprocessedFound)
}

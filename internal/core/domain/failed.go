package domain

import "time"

// FailedRecord tracks a record whose pipeline run failed, queued for a
// later retry sweep. Records failing with non-recoverable faults are
// queued too, so operators can inspect them; the sweep skips them.
type FailedRecord struct {
	RecordID    string    `json:"record_id"`
	Kind        string    `json:"kind"`
	Message     string    `json:"message"`
	Recoverable bool      `json:"recoverable"`
	RetryCount  int       `json:"retry_count"`
	FirstFailed time.Time `json:"first_failed"`
	LastAttempt time.Time `json:"last_attempt"`
}

// Package storage persists batch run history for auditing and the status
// surfaces.
package storage

import (
	"context"
	"errors"

	"github.com/vietddude/lens/internal/core/domain"
)

var (
	// ErrRunNotFound is returned when a batch run doesn't exist
	ErrRunNotFound = errors.New("batch run not found")
)

// HistoryRepository handles batch run persistence
type HistoryRepository interface {
	// SaveRun persists a completed batch run with its per-record outcomes
	SaveRun(ctx context.Context, result *domain.BatchResult) error

	// GetRun retrieves one run by ID, outcomes included
	GetRun(ctx context.Context, runID string) (*domain.BatchResult, error)

	// RecentRuns retrieves the most recent runs, newest first, without
	// outcomes
	RecentRuns(ctx context.Context, limit int) ([]*domain.BatchResult, error)

	// FailedOutcomes retrieves the failed outcomes of one run
	FailedOutcomes(ctx context.Context, runID string) ([]domain.RecordOutcome, error)
}

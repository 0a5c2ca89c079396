// Package memory is the in-memory fallback used when no database is
// configured. History survives only for the process lifetime.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vietddude/lens/internal/core/domain"
	"github.com/vietddude/lens/internal/infra/storage"
)

// HistoryRepo implements storage.HistoryRepository in memory.
type HistoryRepo struct {
	mu   sync.RWMutex
	runs map[string]*domain.BatchResult
}

// NewHistoryRepo creates an empty in-memory history.
func NewHistoryRepo() *HistoryRepo {
	return &HistoryRepo{runs: make(map[string]*domain.BatchResult)}
}

func (r *HistoryRepo) SaveRun(_ context.Context, result *domain.BatchResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *result
	stored.Outcomes = append([]domain.RecordOutcome(nil), result.Outcomes...)
	r.runs[result.RunID] = &stored
	return nil
}

func (r *HistoryRepo) GetRun(_ context.Context, runID string) (*domain.BatchResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, ok := r.runs[runID]
	if !ok {
		return nil, storage.ErrRunNotFound
	}
	out := *run
	out.Outcomes = append([]domain.RecordOutcome(nil), run.Outcomes...)
	return &out, nil
}

func (r *HistoryRepo) RecentRuns(_ context.Context, limit int) ([]*domain.BatchResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}

	runs := make([]*domain.BatchResult, 0, len(r.runs))
	for _, run := range r.runs {
		out := *run
		out.Outcomes = nil
		runs = append(runs, &out)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (r *HistoryRepo) FailedOutcomes(_ context.Context, runID string) ([]domain.RecordOutcome, error) {
	run, err := r.GetRun(context.Background(), runID)
	if err != nil {
		return nil, err
	}

	var failed []domain.RecordOutcome
	for _, outcome := range run.Outcomes {
		if outcome.Status == domain.OutcomeFailed {
			failed = append(failed, outcome)
		}
	}
	return failed, nil
}

var _ storage.HistoryRepository = (*HistoryRepo)(nil)

package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vietddude/lens/internal/core/domain"
	"github.com/vietddude/lens/internal/infra/storage"
)

func sampleRun(id string, started time.Time) *domain.BatchResult {
	return &domain.BatchResult{
		RunID:            id,
		TotalQueried:     3,
		AlreadyProcessed: 1,
		UnprocessedFound: 2,
		NewlyProcessed:   1,
		Failed:           1,
		StartedAt:        started,
		Outcomes: []domain.RecordOutcome{
			{RecordID: "a", Status: domain.OutcomeSuccess},
			{RecordID: "b", Status: domain.OutcomeFailed, ErrorMsg: "model down"},
		},
	}
}

func TestSaveAndGetRun(t *testing.T) {
	repo := NewHistoryRepo()
	ctx := context.Background()

	run := sampleRun("run-1", time.Now())
	if err := repo.SaveRun(ctx, run); err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}

	got, err := repo.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got.TotalQueried != 3 || len(got.Outcomes) != 2 {
		t.Errorf("round trip lost data: %+v", got)
	}

	// Stored copy must be isolated from later caller mutations.
	got.Outcomes[0].RecordID = "mutated"
	again, _ := repo.GetRun(ctx, "run-1")
	if again.Outcomes[0].RecordID != "a" {
		t.Error("GetRun must return an independent copy")
	}
}

func TestGetRunNotFound(t *testing.T) {
	repo := NewHistoryRepo()
	_, err := repo.GetRun(context.Background(), "nope")
	if !errors.Is(err, storage.ErrRunNotFound) {
		t.Errorf("error = %v, want ErrRunNotFound", err)
	}
}

func TestRecentRunsNewestFirst(t *testing.T) {
	repo := NewHistoryRepo()
	ctx := context.Background()
	base := time.Now()

	for i, id := range []string{"old", "mid", "new"} {
		if err := repo.SaveRun(ctx, sampleRun(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := repo.RecentRuns(ctx, 2)
	if err != nil {
		t.Fatalf("RecentRuns() error = %v", err)
	}
	if len(runs) != 2 || runs[0].RunID != "new" || runs[1].RunID != "mid" {
		t.Errorf("unexpected order: %v, %v", runs[0].RunID, runs[1].RunID)
	}
	if runs[0].Outcomes != nil {
		t.Error("RecentRuns must not include outcomes")
	}
}

func TestFailedOutcomes(t *testing.T) {
	repo := NewHistoryRepo()
	ctx := context.Background()

	if err := repo.SaveRun(ctx, sampleRun("run-1", time.Now())); err != nil {
		t.Fatal(err)
	}

	failed, err := repo.FailedOutcomes(ctx, "run-1")
	if err != nil {
		t.Fatalf("FailedOutcomes() error = %v", err)
	}
	if len(failed) != 1 || failed[0].RecordID != "b" {
		t.Errorf("failed outcomes = %+v", failed)
	}
}

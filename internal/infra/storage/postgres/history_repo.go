package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/lens/internal/core/domain"
	"github.com/vietddude/lens/internal/infra/storage"
)

// HistoryRepo implements storage.HistoryRepository using PostgreSQL.
type HistoryRepo struct {
	db *DB
}

// NewHistoryRepo creates a new PostgreSQL history repository.
func NewHistoryRepo(db *DB) *HistoryRepo {
	return &HistoryRepo{db: db}
}

type runRow struct {
	RunID            string    `db:"run_id"`
	TotalQueried     int       `db:"total_queried"`
	AlreadyProcessed int       `db:"already_processed"`
	UnprocessedFound int       `db:"unprocessed_found"`
	NewlyProcessed   int       `db:"newly_processed"`
	Failed           int       `db:"failed"`
	StartedAt        time.Time `db:"started_at"`
	ElapsedMs        int64     `db:"elapsed_ms"`
}

func (r runRow) toDomain() *domain.BatchResult {
	return &domain.BatchResult{
		RunID:            r.RunID,
		TotalQueried:     r.TotalQueried,
		AlreadyProcessed: r.AlreadyProcessed,
		UnprocessedFound: r.UnprocessedFound,
		NewlyProcessed:   r.NewlyProcessed,
		Failed:           r.Failed,
		StartedAt:        r.StartedAt,
		Elapsed:          time.Duration(r.ElapsedMs) * time.Millisecond,
	}
}

type outcomeRow struct {
	RecordID  string         `db:"record_id"`
	Status    string         `db:"status"`
	ErrorMsg  sql.NullString `db:"error_msg"`
	ElapsedMs int64          `db:"elapsed_ms"`
}

func (o outcomeRow) toDomain() domain.RecordOutcome {
	return domain.RecordOutcome{
		RecordID: o.RecordID,
		Status:   domain.OutcomeStatus(o.Status),
		ErrorMsg: o.ErrorMsg.String,
		Elapsed:  time.Duration(o.ElapsedMs) * time.Millisecond,
	}
}

// SaveRun persists a run and its outcomes in one transaction.
func (r *HistoryRepo) SaveRun(ctx context.Context, result *domain.BatchResult) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO batch_runs (run_id, total_queried, already_processed,
			unprocessed_found, newly_processed, failed, started_at, elapsed_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (run_id) DO NOTHING
	`,
		result.RunID,
		result.TotalQueried,
		result.AlreadyProcessed,
		result.UnprocessedFound,
		result.NewlyProcessed,
		result.Failed,
		result.StartedAt,
		result.Elapsed.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to save batch run: %w", err)
	}

	for _, outcome := range result.Outcomes {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO record_outcomes (run_id, record_id, status, error_msg, elapsed_ms)
			VALUES ($1, $2, $3, $4, $5)
		`,
			result.RunID,
			outcome.RecordID,
			string(outcome.Status),
			sql.NullString{String: outcome.ErrorMsg, Valid: outcome.ErrorMsg != ""},
			outcome.Elapsed.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("failed to save record outcome: %w", err)
		}
	}

	return tx.Commit()
}

// GetRun retrieves one run with its outcomes.
func (r *HistoryRepo) GetRun(ctx context.Context, runID string) (*domain.BatchResult, error) {
	var row runRow
	err := r.db.GetContext(ctx, &row, `
		SELECT run_id, total_queried, already_processed, unprocessed_found,
			newly_processed, failed, started_at, elapsed_ms
		FROM batch_runs WHERE run_id = $1
	`, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch run: %w", err)
	}

	result := row.toDomain()

	var outcomes []outcomeRow
	err = r.db.SelectContext(ctx, &outcomes, `
		SELECT record_id, status, error_msg, elapsed_ms
		FROM record_outcomes WHERE run_id = $1 ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get record outcomes: %w", err)
	}
	for _, o := range outcomes {
		result.Outcomes = append(result.Outcomes, o.toDomain())
	}
	return result, nil
}

// RecentRuns retrieves the newest runs without their outcomes.
func (r *HistoryRepo) RecentRuns(ctx context.Context, limit int) ([]*domain.BatchResult, error) {
	if limit <= 0 {
		limit = 20
	}

	var rows []runRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT run_id, total_queried, already_processed, unprocessed_found,
			newly_processed, failed, started_at, elapsed_ms
		FROM batch_runs ORDER BY started_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list batch runs: %w", err)
	}

	results := make([]*domain.BatchResult, 0, len(rows))
	for _, row := range rows {
		results = append(results, row.toDomain())
	}
	return results, nil
}

// FailedOutcomes retrieves the failed outcomes of one run.
func (r *HistoryRepo) FailedOutcomes(ctx context.Context, runID string) ([]domain.RecordOutcome, error) {
	var rows []outcomeRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT record_id, status, error_msg, elapsed_ms
		FROM record_outcomes WHERE run_id = $1 AND status = 'failed' ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed outcomes: %w", err)
	}

	outcomes := make([]domain.RecordOutcome, 0, len(rows))
	for _, row := range rows {
		outcomes = append(outcomes, row.toDomain())
	}
	return outcomes, nil
}

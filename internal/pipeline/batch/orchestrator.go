package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/lens/internal/core/domain"
	"github.com/vietddude/lens/internal/core/fault"
	"github.com/vietddude/lens/internal/pipeline/filter"
	"github.com/vietddude/lens/internal/pipeline/metrics"
)

// Processor runs one record; the orchestrator fans records out to it.
// *Pipeline satisfies it.
type Processor interface {
	Process(ctx context.Context, rec domain.CandidateRecord) error
}

// Config tunes one orchestrator.
type Config struct {
	QueryLimit  int `yaml:"query_limit"`
	Concurrency int `yaml:"concurrency"`
}

// Orchestrator owns the batch lifecycle: query, partition, fan out,
// aggregate. One record's failure never aborts the batch.
type Orchestrator struct {
	cfg       Config
	store     Store
	processor Processor
	isDone    filter.Predicate
	log       *slog.Logger
}

// NewOrchestrator builds an orchestrator with defaults for zero-value
// config fields.
func NewOrchestrator(cfg Config, store Store, processor Processor) *Orchestrator {
	if cfg.QueryLimit <= 0 {
		cfg.QueryLimit = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 3
	}
	return &Orchestrator{
		cfg:       cfg,
		store:     store,
		processor: processor,
		isDone:    filter.PrimaryResultSet,
		log:       slog.Default().With("component", "batch"),
	}
}

// Run executes one batch and returns its accounting. The result is non-nil
// whenever the initial query succeeded, even if every record failed.
func (o *Orchestrator) Run(ctx context.Context) (*domain.BatchResult, error) {
	result := &domain.BatchResult{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
	}
	log := o.log.With("run_id", result.RunID)

	records, err := o.store.QueryCandidates(ctx, o.cfg.QueryLimit)
	if err != nil {
		return nil, err
	}
	result.TotalQueried = len(records)

	split := filter.Partition(records, o.isDone)
	result.AlreadyProcessed = len(split.Processed)
	result.UnprocessedFound = len(split.Unprocessed)
	metrics.UnprocessedBacklog.Set(float64(result.UnprocessedFound))

	log.Info("Batch starting",
		"queried", result.TotalQueried,
		"already_processed", result.AlreadyProcessed,
		"to_process", result.UnprocessedFound,
		"concurrency", o.cfg.Concurrency)

	if result.UnprocessedFound == 0 {
		result.Elapsed = time.Since(result.StartedAt)
		return result, nil
	}

	result.Outcomes = o.fanOut(ctx, split.Unprocessed)
	for _, outcome := range result.Outcomes {
		switch outcome.Status {
		case domain.OutcomeSuccess:
			result.NewlyProcessed++
		default:
			result.Failed++
		}
		metrics.RecordsProcessed.WithLabelValues(string(outcome.Status)).Inc()
	}
	metrics.BatchRuns.Inc()

	result.Elapsed = time.Since(result.StartedAt)
	log.Info("Batch finished",
		"processed", result.NewlyProcessed,
		"failed", result.Failed,
		"elapsed", result.Elapsed.Round(time.Millisecond),
		"success_rate", fmt.Sprintf("%.1f%%", result.SuccessRate()*100))
	return result, nil
}

// fanOut runs the records through a fixed worker pool and collects one
// outcome per record, in input order.
func (o *Orchestrator) fanOut(ctx context.Context, records []domain.CandidateRecord) []domain.RecordOutcome {
	type indexed struct {
		idx int
		rec domain.CandidateRecord
	}

	work := make(chan indexed)
	outcomes := make([]domain.RecordOutcome, len(records))

	var wg sync.WaitGroup
	for w := 0; w < o.cfg.Concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range work {
				outcomes[job.idx] = o.runOne(ctx, job.rec)
			}
		}()
	}

	fed := make([]bool, len(records))
feed:
	for i, rec := range records {
		select {
		case <-ctx.Done():
			break feed
		case work <- indexed{idx: i, rec: rec}:
			fed[i] = true
		}
	}
	close(work)
	wg.Wait()

	// Records never fed because the context fired still need outcomes.
	for i := range outcomes {
		if !fed[i] {
			outcomes[i] = domain.RecordOutcome{
				RecordID: records[i].ID,
				Status:   domain.OutcomeFailed,
				Error:    ctx.Err(),
				ErrorMsg: "batch cancelled before record was processed",
			}
		}
	}
	return outcomes
}

// runOne isolates a single record: panics and errors become a failed
// outcome, never a crashed worker.
func (o *Orchestrator) runOne(ctx context.Context, rec domain.CandidateRecord) (outcome domain.RecordOutcome) {
	start := time.Now()
	outcome = domain.RecordOutcome{RecordID: rec.ID, Status: domain.OutcomeSuccess}

	defer func() {
		if r := recover(); r != nil {
			err := fault.Unknown(fmt.Sprintf("panic while processing record: %v", r))
			outcome.Status = domain.OutcomeFailed
			outcome.Error = err
			outcome.ErrorMsg = err.Error()
		}
		outcome.Elapsed = time.Since(start)
		metrics.RecordLatency.Observe(outcome.Elapsed.Seconds())
	}()

	if err := o.processor.Process(ctx, rec); err != nil {
		o.log.Error("Record failed",
			"record_id", rec.ID,
			"kind", string(fault.KindOf(err)),
			"error", err)
		outcome.Status = domain.OutcomeFailed
		outcome.Error = err
		outcome.ErrorMsg = err.Error()
	}
	return outcome
}

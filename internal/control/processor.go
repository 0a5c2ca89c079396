// Package control assembles the application: tool-server transport,
// vision recognizer, pipeline, orchestrator, persistence, and the health
// surface, wired from one config.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/vietddude/lens/internal/core/config"
	"github.com/vietddude/lens/internal/core/domain"
	"github.com/vietddude/lens/internal/core/fault"
	"github.com/vietddude/lens/internal/infra/datastore"
	"github.com/vietddude/lens/internal/infra/redisq"
	"github.com/vietddude/lens/internal/infra/storage"
	"github.com/vietddude/lens/internal/infra/storage/memory"
	"github.com/vietddude/lens/internal/infra/storage/postgres"
	"github.com/vietddude/lens/internal/infra/vision"
	"github.com/vietddude/lens/internal/mcp"
	"github.com/vietddude/lens/internal/pipeline/batch"
	"github.com/vietddude/lens/internal/pipeline/health"
	"github.com/vietddude/lens/internal/pipeline/image"
)

// Processor is the main application struct that owns the batch lifecycle.
type Processor struct {
	cfg          *config.AppConfig
	store        *datastore.Store
	orchestrator *batch.Orchestrator
	history      storage.HistoryRepository
	failedQueue  *redisq.FailedRecordQueue
	db           *postgres.DB
	redisClient  *redisq.Client
	healthServer *health.Server
	log          *slog.Logger
}

// NewProcessor creates a Processor with all dependencies initialized.
func NewProcessor(cfg *config.AppConfig) (*Processor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fault.Config("invalid configuration", fault.WithCause(err))
	}

	// 1. Tool server transport
	mode, err := mcp.ParseMode(cfg.ToolServer.Mode)
	if err != nil {
		return nil, err
	}
	runner := mcp.NewRunner(toolServerTransport(cfg.ToolServer), mode)

	store := datastore.NewStore(runner, fieldMap(cfg.ToolServer.Fields),
		cfg.Retry.ToFault(fault.KindProtocol))

	// 2. Vision recognizer
	recognizer, err := vision.NewRecognizer(cfg.Vision)
	if err != nil {
		return nil, err
	}

	// 3. Per-record pipeline and orchestrator
	fetcher := image.NewFetcher(cfg.Image)
	pipeline := batch.NewPipeline(fetcher, recognizer, store, cfg.Retry.ToFault())
	orchestrator := batch.NewOrchestrator(batch.Config{
		QueryLimit:  cfg.Batch.QueryLimit,
		Concurrency: cfg.Batch.Concurrency,
	}, store, pipeline)

	// 4. Run history
	var history storage.HistoryRepository
	var db *postgres.DB
	if cfg.Database.URL != "" {
		db, err = postgres.NewDB(context.Background(), cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := goose.SetDialect("postgres"); err != nil {
			return nil, err
		}
		if err := goose.Up(db.DB.DB, "migrations"); err != nil {
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		history = postgres.NewHistoryRepo(db)
		slog.Info("Using PostgreSQL run history")
	} else {
		history = memory.NewHistoryRepo()
		slog.Info("Using in-memory run history")
	}

	// 5. Failed-record retry queue (optional)
	var redisClient *redisq.Client
	var failedQueue *redisq.FailedRecordQueue
	if cfg.Redis.URL != "" {
		redisClient, err = redisq.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("Failed to connect to Redis, retry queue disabled", "error", err)
		} else {
			failedQueue = redisq.NewFailedRecordQueue(redisClient)
		}
	}

	// 6. Health monitor and server
	checkers := []health.Checker{
		health.CheckerFunc{
			ComponentName: "toolserver",
			Fn: func(ctx context.Context) error {
				_, err := store.Status(ctx)
				return err
			},
		},
	}
	if redisClient != nil {
		checkers = append(checkers, health.CheckerFunc{
			ComponentName: "redis",
			Fn:            redisClient.Ping,
		})
	}
	if db != nil {
		checkers = append(checkers, health.CheckerFunc{
			ComponentName: "postgres",
			Fn:            db.Health,
		})
	}
	healthServer := health.NewServer(health.NewMonitor(checkers...), cfg.Server.Port)

	return &Processor{
		cfg:          cfg,
		store:        store,
		orchestrator: orchestrator,
		history:      history,
		failedQueue:  failedQueue,
		db:           db,
		redisClient:  redisClient,
		healthServer: healthServer,
		log:          slog.Default().With("component", "control"),
	}, nil
}

// RunOnce executes a single batch, persists its history, and feeds the
// retry queue.
func (p *Processor) RunOnce(ctx context.Context) (*domain.BatchResult, error) {
	result, err := p.orchestrator.Run(ctx)
	if err != nil {
		return nil, err
	}

	if err := p.history.SaveRun(ctx, result); err != nil {
		p.log.Warn("Failed to persist run history", "run_id", result.RunID, "error", err)
	}
	p.recordFailures(ctx, result)
	return result, nil
}

// Serve runs batches on the configured interval until the context ends,
// with the health server up in the background. A zero interval means one
// batch and return.
func (p *Processor) Serve(ctx context.Context) error {
	go func() {
		if err := p.healthServer.Start(); err != nil {
			p.log.Error("Health server failed", "error", err)
		}
	}()

	if _, err := p.RunOnce(ctx); err != nil {
		p.log.Error("Batch failed", "error", err)
		if p.cfg.Batch.Interval == 0 {
			return err
		}
	}
	if p.cfg.Batch.Interval == 0 {
		return nil
	}

	ticker := time.NewTicker(p.cfg.Batch.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := p.RunOnce(ctx); err != nil {
				p.log.Error("Batch failed", "error", err)
			}
		}
	}
}

// Status aggregates the backend counters and recent run history.
func (p *Processor) Status(ctx context.Context) (map[string]any, error) {
	status, err := p.store.Status(ctx)
	if err != nil {
		return nil, err
	}

	runs, err := p.history.RecentRuns(ctx, 5)
	if err == nil {
		status["recent_runs"] = runs
	}
	if p.failedQueue != nil {
		if depth, err := p.failedQueue.Count(ctx); err == nil {
			status["retry_queue_depth"] = depth
		}
	}
	return status, nil
}

// Stop tears down the transport, connections, and the health server.
func (p *Processor) Stop(ctx context.Context) error {
	p.log.Info("Stopping processor...")

	p.store.Close()
	if p.redisClient != nil {
		if err := p.redisClient.Close(); err != nil {
			p.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			p.log.Warn("Failed to close database", "error", err)
		}
	}
	return p.healthServer.Stop(ctx)
}

func (p *Processor) recordFailures(ctx context.Context, result *domain.BatchResult) {
	if p.failedQueue == nil {
		return
	}
	now := time.Now()
	for _, outcome := range result.Outcomes {
		if outcome.Status != domain.OutcomeFailed {
			continue
		}
		fr := &domain.FailedRecord{
			RecordID:    outcome.RecordID,
			Kind:        string(fault.KindOf(outcome.Error)),
			Message:     outcome.ErrorMsg,
			Recoverable: fault.IsRecoverable(outcome.Error),
			FirstFailed: now,
			LastAttempt: now,
		}
		if err := p.failedQueue.Push(ctx, fr); err != nil {
			p.log.Warn("Failed to queue record for retry", "record_id", outcome.RecordID, "error", err)
		}
	}
}

func fieldMap(f config.FieldsConfig) datastore.FieldMap {
	fields := datastore.FieldMap{
		Description: f.Description,
		Uploader:    f.Uploader,
		Attachment:  f.Attachment,
		Results:     f.Results,
	}
	if fields.Attachment == "" {
		fields = datastore.FieldMap{
			Description: "_widget_desc",
			Uploader:    "_widget_uploader",
			Attachment:  "_widget_photo",
			Results: []string{
				"_widget_result_1", "_widget_result_2", "_widget_result_3",
				"_widget_result_4", "_widget_result_5",
			},
		}
	}
	return fields
}

// toolServerTransport builds the child process launch spec. In debug mode
// the server runs under a headless delve session so a debugger can attach
// without changing how the pipes are wired.
func toolServerTransport(cfg config.ToolServerConfig) mcp.TransportConfig {
	command := cfg.Command
	args := cfg.Args
	if cfg.Debug.Enabled {
		command = "dlv"
		args = append([]string{
			"exec", cfg.Command,
			"--headless",
			"--listen=" + cfg.Debug.ListenAddr,
			"--accept-multiclient",
			"--continue",
			"--",
		}, cfg.Args...)
	}

	env := make([]string, 0, len(cfg.Env))
	for k, v := range cfg.Env {
		env = append(env, k+"="+v)
	}

	return mcp.TransportConfig{
		Command:   command,
		Args:      args,
		Env:       env,
		Dir:       cfg.Dir,
		StopGrace: cfg.StopGrace,
	}
}

// Package batch drives one processing run: query candidates, filter out
// processed records, and run the remaining ones through the per-record
// pipeline under bounded concurrency.
package batch

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/lens/internal/core/domain"
	"github.com/vietddude/lens/internal/core/fault"
	pimage "github.com/vietddude/lens/internal/pipeline/image"
	"github.com/vietddude/lens/internal/pipeline/metrics"
)

// Recognizer is the vision stage.
type Recognizer interface {
	Recognize(ctx context.Context, dataURL, hint string) (*domain.Recognition, error)
}

// Store is the datastore surface the pipeline reads and writes.
type Store interface {
	QueryCandidates(ctx context.Context, limit int) ([]domain.CandidateRecord, error)
	SaveResults(ctx context.Context, recordID string, rec *domain.Recognition) error
}

// Fetcher is the attachment download-and-validate stage.
type Fetcher interface {
	Download(ctx context.Context, url string) ([]byte, error)
	Validate(data []byte) (pimage.Format, error)
}

// Pipeline processes one record end to end.
type Pipeline struct {
	fetcher    Fetcher
	recognizer Recognizer
	store      Store
	retry      fault.RetryConfig
	log        *slog.Logger
}

// NewPipeline wires the per-record stages. retry governs the remote legs
// (download and recognition) only; validation failures are never retried.
func NewPipeline(fetcher Fetcher, recognizer Recognizer, store Store, retry fault.RetryConfig) *Pipeline {
	if retry.RetryableKinds == nil {
		retry = fault.DefaultRetryConfig
	}
	return &Pipeline{
		fetcher:    fetcher,
		recognizer: recognizer,
		store:      store,
		retry:      retry,
		log:        slog.Default().With("component", "pipeline"),
	}
}

// Process runs one record: download, validate, encode, recognize, write
// back. The returned error is the first stage failure.
func (p *Pipeline) Process(ctx context.Context, rec domain.CandidateRecord) error {
	if rec.Attachment.Kind == domain.AttachmentNone {
		err := fault.Validation("record has no attachment", fault.WithDetail("record_id", rec.ID))
		metrics.StageErrors.WithLabelValues("download", string(fault.KindOf(err))).Inc()
		return err
	}

	// 1. Download (retried on transient faults)
	data, err := fault.Retry(ctx, p.retry, func(ctx context.Context) ([]byte, error) {
		return p.fetcher.Download(ctx, rec.Attachment.URL)
	})
	if err != nil {
		metrics.StageErrors.WithLabelValues("download", string(fault.KindOf(err))).Inc()
		return err
	}

	// 2. Validate content
	format, err := p.fetcher.Validate(data)
	if err != nil {
		metrics.StageErrors.WithLabelValues("validate", string(fault.KindOf(err))).Inc()
		return err
	}

	// 3. Encode for the prompt
	dataURL := pimage.EncodeBase64(data, format)

	// 4. Recognize (retried on transient faults)
	visionStart := time.Now()
	recognition, err := fault.Retry(ctx, p.retry, func(ctx context.Context) (*domain.Recognition, error) {
		return p.recognizer.Recognize(ctx, dataURL, rec.Description)
	})
	if err != nil {
		metrics.StageErrors.WithLabelValues("recognize", string(fault.KindOf(err))).Inc()
		return err
	}
	metrics.VisionLatency.Observe(time.Since(visionStart).Seconds())
	metrics.VisionTokens.WithLabelValues("prompt").Add(float64(recognition.Usage.PromptTokens))
	metrics.VisionTokens.WithLabelValues("completion").Add(float64(recognition.Usage.CompletionTokens))

	// 5. Write back
	if err := p.store.SaveResults(ctx, rec.ID, recognition); err != nil {
		metrics.StageErrors.WithLabelValues("write_back", string(fault.KindOf(err))).Inc()
		return err
	}

	p.log.Info("Record processed",
		"record_id", rec.ID,
		"format", format,
		"tokens", recognition.Usage.TotalTokens)
	return nil
}

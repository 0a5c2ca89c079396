package batch

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/lens/internal/core/domain"
	"github.com/vietddude/lens/internal/core/fault"
	pimage "github.com/vietddude/lens/internal/pipeline/image"
)

type fakeFetcher struct {
	data         []byte
	downloadErrs []error
	validateErr  error
	downloads    int
}

func (f *fakeFetcher) Download(_ context.Context, _ string) ([]byte, error) {
	f.downloads++
	if len(f.downloadErrs) > 0 {
		err := f.downloadErrs[0]
		f.downloadErrs = f.downloadErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return f.data, nil
}

func (f *fakeFetcher) Validate(_ []byte) (pimage.Format, error) {
	if f.validateErr != nil {
		return pimage.FormatUnknown, f.validateErr
	}
	return pimage.FormatJPEG, nil
}

type fakeRecognizer struct {
	result   *domain.Recognition
	err      error
	calls    int
	lastURL  string
	lastHint string
}

func (r *fakeRecognizer) Recognize(_ context.Context, dataURL, hint string) (*domain.Recognition, error) {
	r.calls++
	r.lastURL = dataURL
	r.lastHint = hint
	if r.err != nil {
		return nil, r.err
	}
	return r.result, nil
}

type fakeStore struct {
	records  []domain.CandidateRecord
	queryErr error
	saveErr  error
	saved    map[string]*domain.Recognition
}

func (s *fakeStore) QueryCandidates(_ context.Context, _ int) ([]domain.CandidateRecord, error) {
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	return s.records, nil
}

func (s *fakeStore) SaveResults(_ context.Context, recordID string, rec *domain.Recognition) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	if s.saved == nil {
		s.saved = map[string]*domain.Recognition{}
	}
	s.saved[recordID] = rec
	return nil
}

func testRecord(id string) domain.CandidateRecord {
	return domain.CandidateRecord{
		ID:          id,
		Description: "pump by the dock",
		Attachment: domain.AttachmentRef{
			Kind: domain.AttachmentFile,
			URL:  "https://files.example.com/" + id + ".jpg",
		},
		Results: make([]string, domain.ResultFieldCount),
	}
}

func fastRetry(kinds ...fault.Kind) fault.RetryConfig {
	if kinds == nil {
		kinds = fault.DefaultRetryConfig.RetryableKinds
	}
	return fault.RetryConfig{
		MaxRetries:     2,
		InitialDelay:   0,
		MaxDelay:       0,
		BackoffFactor:  1,
		RetryableKinds: kinds,
	}
}

func TestProcessHappyPath(t *testing.T) {
	fetcher := &fakeFetcher{data: []byte{0xFF, 0xD8, 0xFF, 0x00}}
	recognizer := &fakeRecognizer{result: &domain.Recognition{FullText: "a pump"}}
	store := &fakeStore{}

	p := NewPipeline(fetcher, recognizer, store, fastRetry())
	require.NoError(t, p.Process(context.Background(), testRecord("rec-1")))

	assert.True(t, strings.HasPrefix(recognizer.lastURL, "data:image/jpeg;base64,"))
	assert.Equal(t, "pump by the dock", recognizer.lastHint)
	require.Contains(t, store.saved, "rec-1")
	assert.Equal(t, "a pump", store.saved["rec-1"].FullText)
}

func TestProcessRecordWithoutAttachment(t *testing.T) {
	p := NewPipeline(&fakeFetcher{}, &fakeRecognizer{}, &fakeStore{}, fastRetry())

	rec := testRecord("rec-1")
	rec.Attachment = domain.AttachmentRef{Kind: domain.AttachmentNone}

	err := p.Process(context.Background(), rec)
	assert.Equal(t, fault.KindContentValidation, fault.KindOf(err))
}

func TestProcessRetriesTransientDownload(t *testing.T) {
	fetcher := &fakeFetcher{
		data:         []byte{0xFF, 0xD8, 0xFF, 0x00},
		downloadErrs: []error{fault.Network("flaky host"), nil},
	}
	recognizer := &fakeRecognizer{result: &domain.Recognition{FullText: "ok"}}
	store := &fakeStore{}

	p := NewPipeline(fetcher, recognizer, store, fastRetry())
	require.NoError(t, p.Process(context.Background(), testRecord("rec-1")))
	assert.Equal(t, 2, fetcher.downloads)
}

func TestProcessNeverRetriesValidation(t *testing.T) {
	fetcher := &fakeFetcher{
		data:        []byte("not an image"),
		validateErr: fault.Format("unsupported content"),
	}
	recognizer := &fakeRecognizer{}

	p := NewPipeline(fetcher, recognizer, &fakeStore{}, fastRetry())
	err := p.Process(context.Background(), testRecord("rec-1"))

	assert.Equal(t, fault.KindContentFormat, fault.KindOf(err))
	assert.Equal(t, 1, fetcher.downloads)
	assert.Zero(t, recognizer.calls, "validation failure must short-circuit recognition")
}

func TestProcessRetriesRecognition(t *testing.T) {
	fetcher := &fakeFetcher{data: []byte{0xFF, 0xD8, 0xFF, 0x00}}
	recognizer := &fakeRecognizer{err: fault.Remote("model overloaded")}

	p := NewPipeline(fetcher, recognizer, &fakeStore{}, fastRetry())
	err := p.Process(context.Background(), testRecord("rec-1"))

	require.Error(t, err)
	assert.Equal(t, 3, recognizer.calls, "two retries after the first attempt")
}

func TestProcessWriteBackFailure(t *testing.T) {
	fetcher := &fakeFetcher{data: []byte{0xFF, 0xD8, 0xFF, 0x00}}
	recognizer := &fakeRecognizer{result: &domain.Recognition{FullText: "ok"}}
	store := &fakeStore{saveErr: fault.Protocol("child died mid-write")}

	p := NewPipeline(fetcher, recognizer, store, fastRetry())
	err := p.Process(context.Background(), testRecord("rec-1"))
	assert.Equal(t, fault.KindProtocol, fault.KindOf(err))
}

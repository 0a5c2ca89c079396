// Package filter separates already-processed records from candidates that
// still need a pipeline run.
package filter

import "github.com/vietddude/lens/internal/core/domain"

// Split is the result of one partition pass. Both slices preserve the
// input order.
type Split struct {
	Processed   []domain.CandidateRecord
	Unprocessed []domain.CandidateRecord
}

// Predicate decides whether a record counts as already processed.
type Predicate func(domain.CandidateRecord) bool

// PrimaryResultSet is the default predicate: a record is processed once
// its primary result field holds non-whitespace text. Partial writes that
// filled the primary field still count as processed and are never retried
// by a later batch.
func PrimaryResultSet(rec domain.CandidateRecord) bool {
	return rec.HasPrimaryResult()
}

// Partition splits records by the predicate without mutating them.
// Running it twice over the unprocessed half yields the same split.
func Partition(records []domain.CandidateRecord, isProcessed Predicate) Split {
	if isProcessed == nil {
		isProcessed = PrimaryResultSet
	}

	split := Split{
		Processed:   make([]domain.CandidateRecord, 0, len(records)),
		Unprocessed: make([]domain.CandidateRecord, 0, len(records)),
	}
	for _, rec := range records {
		if isProcessed(rec) {
			split.Processed = append(split.Processed, rec)
		} else {
			split.Unprocessed = append(split.Unprocessed, rec)
		}
	}
	return split
}

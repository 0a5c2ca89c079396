package domain

import "strings"

// ResultFieldCount is the number of result slots a record carries
// (primary text plus four categorized fields).
const ResultFieldCount = 5

// CandidateRecord is a read-only snapshot of one row fetched from the
// remote data store. It is never written back directly; write-back is a
// separate remote call keyed by ID.
type CandidateRecord struct {
	ID          string
	Description string
	Uploader    string
	Attachment  AttachmentRef
	Results     []string
}

// HasPrimaryResult reports whether the primary result field is non-empty.
// This is the completion predicate the batch filter uses: a record counts
// as processed as soon as that one field holds text.
func (r CandidateRecord) HasPrimaryResult() bool {
	return len(r.Results) > 0 && strings.TrimSpace(r.Results[0]) != ""
}

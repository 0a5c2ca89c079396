// Package datastore reaches the record datastore through the tool server's
// protocol: every query and update is a tool call executed over a child
// process's stdio pipes.
package datastore

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/vietddude/lens/internal/core/domain"
	"github.com/vietddude/lens/internal/core/fault"
	"github.com/vietddude/lens/internal/mcp"
	"github.com/vietddude/lens/internal/pipeline/metrics"
)

// FieldMap names the datastore field IDs the adapter reads and writes.
type FieldMap struct {
	Description string   `yaml:"description"`
	Uploader    string   `yaml:"uploader"`
	Attachment  string   `yaml:"attachment"`
	Results     []string `yaml:"results"`
}

// Store adapts tool calls into domain records. Tool invocations retry on
// transient kinds; protocol faults stay retryable only while the underlying
// cause was itself transient.
type Store struct {
	runner *mcp.Runner
	fields FieldMap
	retry  fault.RetryConfig
	log    *slog.Logger
}

// NewStore builds the adapter. A zero retry config falls back to the
// default schedule extended with the protocol kind, since child-process
// failures surface as protocol faults wrapping the transient cause.
func NewStore(runner *mcp.Runner, fields FieldMap, retry fault.RetryConfig) *Store {
	if retry.MaxRetries == 0 && retry.RetryableKinds == nil {
		retry = fault.DefaultRetryConfig
		retry.RetryableKinds = append(retry.RetryableKinds, fault.KindProtocol)
	}
	return &Store{
		runner: runner,
		fields: fields,
		retry:  retry,
		log:    slog.Default().With("component", "datastore"),
	}
}

// QueryCandidates fetches up to limit records and parses them into domain
// records. Rows that cannot be parsed are skipped with a warning rather
// than failing the batch.
func (s *Store) QueryCandidates(ctx context.Context, limit int) ([]domain.CandidateRecord, error) {
	args := map[string]any{"limit": limit}

	text, err := s.callTool(ctx, "query_records", args)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Records []map[string]json.RawMessage `json:"records"`
	}
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return nil, fault.Protocol("query_records returned malformed payload", fault.WithCause(err))
	}

	records := make([]domain.CandidateRecord, 0, len(payload.Records))
	for _, raw := range payload.Records {
		rec, err := s.parseRecord(raw)
		if err != nil {
			s.log.Warn("Skipping unparseable record", "error", err)
			continue
		}
		records = append(records, rec)
	}

	s.log.Debug("Queried candidates", "returned", len(records), "limit", limit)
	return records, nil
}

// SaveResults writes the recognition fields onto one record.
func (s *Store) SaveResults(ctx context.Context, recordID string, rec *domain.Recognition) error {
	if recordID == "" {
		return fault.Invalid("record id is required")
	}

	values := rec.ResultFields()
	fields := make(map[string]string, len(s.fields.Results))
	for i, fieldID := range s.fields.Results {
		if i >= len(values) {
			break
		}
		fields[fieldID] = values[i]
	}

	args := map[string]any{"record_id": recordID, "fields": fields}
	_, err := s.callTool(ctx, "update_record", args)
	return err
}

// Status fetches the backend's processing counters.
func (s *Store) Status(ctx context.Context) (map[string]any, error) {
	text, err := s.callTool(ctx, "get_processing_status", nil)
	if err != nil {
		return nil, err
	}

	var status map[string]any
	if err := json.Unmarshal([]byte(text), &status); err != nil {
		return nil, fault.Protocol("status payload is not JSON", fault.WithCause(err))
	}
	return status, nil
}

// callTool runs one tool invocation through the retry schedule and
// records the outcome.
func (s *Store) callTool(ctx context.Context, tool string, args map[string]any) (string, error) {
	text, err := fault.Retry(ctx, s.retry, func(ctx context.Context) (string, error) {
		return mcp.Call(ctx, s.runner, func(ctx context.Context, c *mcp.Client) (string, error) {
			return c.CallTool(ctx, tool, args)
		})
	})
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.ToolCallsTotal.WithLabelValues(tool, outcome).Inc()
	return text, err
}

// Close releases any session-mode child process.
func (s *Store) Close() {
	s.runner.Close()
}

func (s *Store) parseRecord(raw map[string]json.RawMessage) (domain.CandidateRecord, error) {
	rec := domain.CandidateRecord{Results: make([]string, domain.ResultFieldCount)}

	if err := json.Unmarshal(raw["_id"], &rec.ID); err != nil || rec.ID == "" {
		return rec, fault.Protocol("record has no usable _id")
	}

	rec.Description = stringField(raw[s.fields.Description])
	rec.Uploader = uploaderField(raw[s.fields.Uploader])

	attachment, err := domain.ParseAttachment(raw[s.fields.Attachment])
	if err != nil {
		return rec, err
	}
	rec.Attachment = attachment

	for i, fieldID := range s.fields.Results {
		if i >= domain.ResultFieldCount {
			break
		}
		rec.Results[i] = stringField(raw[fieldID])
	}
	return rec, nil
}

func stringField(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

// uploaderField handles both plain strings and member-list values of the
// form [{"name": ...}].
func uploaderField(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var members []struct {
		Name     string `json:"name"`
		Username string `json:"username"`
	}
	if err := json.Unmarshal(raw, &members); err == nil && len(members) > 0 {
		if members[0].Name != "" {
			return members[0].Name
		}
		return members[0].Username
	}
	return ""
}

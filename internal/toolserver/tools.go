package toolserver

import (
	"context"
	"encoding/json"
	"fmt"
)

// Backend is the datastore the tools front. Records cross the protocol as
// raw field maps so the server stays agnostic of any schema; the caller is
// the one that knows which field IDs mean what.
type Backend interface {
	// Query returns up to limit records, oldest first.
	Query(ctx context.Context, limit int) ([]map[string]any, error)
	// Update writes the given fields onto one record. The bool reports
	// whether the record existed.
	Update(ctx context.Context, recordID string, fields map[string]string) (bool, error)
	// Status returns backend counters for monitoring.
	Status(ctx context.Context) (map[string]any, error)
}

// RegisterDatastoreTools wires the datastore tool set and status resource
// onto a server.
func RegisterDatastoreTools(s *Server, backend Backend) {
	s.Register(Tool{
		Name:        "query_records",
		Description: "Query candidate records from the datastore, oldest first.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"limit": map[string]any{"type": "integer", "description": "Maximum records to return"},
			},
		},
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			var in struct {
				Limit int `json:"limit"`
			}
			if len(args) > 0 {
				if err := json.Unmarshal(args, &in); err != nil {
					return "", fmt.Errorf("invalid arguments: %w", err)
				}
			}
			if in.Limit <= 0 {
				in.Limit = 100
			}
			records, err := backend.Query(ctx, in.Limit)
			if err != nil {
				return "", err
			}
			payload, err := json.Marshal(map[string]any{
				"records": records,
				"count":   len(records),
			})
			if err != nil {
				return "", err
			}
			return string(payload), nil
		},
	})

	s.Register(Tool{
		Name:        "update_record",
		Description: "Write result fields onto one record by ID.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"record_id", "fields"},
			"properties": map[string]any{
				"record_id": map[string]any{"type": "string"},
				"fields":    map[string]any{"type": "object"},
			},
		},
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			var in struct {
				RecordID string            `json:"record_id"`
				Fields   map[string]string `json:"fields"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return "", fmt.Errorf("invalid arguments: %w", err)
			}
			if in.RecordID == "" {
				return "", fmt.Errorf("record_id is required")
			}
			if len(in.Fields) == 0 {
				return "", fmt.Errorf("fields must not be empty")
			}
			found, err := backend.Update(ctx, in.RecordID, in.Fields)
			if err != nil {
				return "", err
			}
			if !found {
				return "", fmt.Errorf("record not found: %s", in.RecordID)
			}
			payload, _ := json.Marshal(map[string]any{"record_id": in.RecordID, "updated": true})
			return string(payload), nil
		},
	})

	s.Register(Tool{
		Name:        "get_processing_status",
		Description: "Report datastore processing counters.",
		Handler: func(ctx context.Context, _ json.RawMessage) (string, error) {
			status, err := backend.Status(ctx)
			if err != nil {
				return "", err
			}
			payload, err := json.Marshal(status)
			if err != nil {
				return "", err
			}
			return string(payload), nil
		},
	})

	s.RegisterResource(Resource{
		URI:         "lens://status",
		Name:        "Processing status",
		Description: "Current datastore processing counters.",
		Handler: func(ctx context.Context) (string, error) {
			status, err := backend.Status(ctx)
			if err != nil {
				return "", err
			}
			payload, err := json.Marshal(status)
			if err != nil {
				return "", err
			}
			return string(payload), nil
		},
	})
}

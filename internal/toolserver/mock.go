package toolserver

import (
	"context"
	"sync"
)

// MockBackend is an in-memory Backend for local development and tests. It
// seeds a handful of records in the same field-map shape the tabular
// datastore uses, including one already-processed record and one with a
// broken attachment URL.
type MockBackend struct {
	mu      sync.Mutex
	records []map[string]any
	updates int
}

// NewMockBackend seeds the fixture records.
func NewMockBackend() *MockBackend {
	return &MockBackend{records: []map[string]any{
		{
			"_id":              "mock-001",
			"_widget_desc":     "Control cabinet, front panel",
			"_widget_uploader": []any{map[string]any{"name": "Alice"}},
			"_widget_photo": []any{map[string]any{
				"name": "cabinet.jpg",
				"size": float64(204800),
				"url":  "https://files.example.com/mock/cabinet.jpg",
			}},
			"_widget_result_1": "",
		},
		{
			"_id":              "mock-002",
			"_widget_desc":     "Pump station overview",
			"_widget_uploader": []any{map[string]any{"name": "Bob"}},
			"_widget_photo": []any{map[string]any{
				"name": "pump.png",
				"size": float64(512000),
				"url":  "https://files.example.com/mock/pump.png",
			}},
			"_widget_result_1": "Pump station, two centrifugal pumps, no visible leaks.",
		},
		{
			"_id":              "mock-003",
			"_widget_desc":     "Broken upload",
			"_widget_uploader": []any{},
			"_widget_photo":    []any{},
			"_widget_result_1": "",
		},
	}}
}

func (m *MockBackend) Query(_ context.Context, limit int) ([]map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit > len(m.records) {
		limit = len(m.records)
	}
	out := make([]map[string]any, limit)
	for i := range out {
		rec := make(map[string]any, len(m.records[i]))
		for k, v := range m.records[i] {
			rec[k] = v
		}
		out[i] = rec
	}
	return out, nil
}

func (m *MockBackend) Update(_ context.Context, recordID string, fields map[string]string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if rec["_id"] == recordID {
			for k, v := range fields {
				rec[k] = v
			}
			m.updates++
			return true, nil
		}
	}
	return false, nil
}

func (m *MockBackend) Status(_ context.Context) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	processed := 0
	for _, rec := range m.records {
		if s, ok := rec["_widget_result_1"].(string); ok && s != "" {
			processed++
		}
	}
	return map[string]any{
		"backend":   "mock",
		"total":     len(m.records),
		"processed": processed,
		"pending":   len(m.records) - processed,
		"updates":   m.updates,
	}, nil
}

// UpdateCount reports how many updates have been applied. Test helper.
func (m *MockBackend) UpdateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updates
}

var _ Backend = (*MockBackend)(nil)

// Package tabular talks to the v5 HTTP API of the tabular SaaS datastore
// that holds the candidate records. Records come back as raw field maps
// keyed by widget field IDs; FieldMap names which field ID carries which
// role.
package tabular

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/vietddude/lens/internal/core/fault"
)

// FieldMap binds logical roles to datastore field IDs.
type FieldMap struct {
	Description string   `yaml:"description"`
	Uploader    string   `yaml:"uploader"`
	Attachment  string   `yaml:"attachment"`
	Results     []string `yaml:"results"`
}

// DefaultFieldMap matches the development form layout.
func DefaultFieldMap() FieldMap {
	return FieldMap{
		Description: "_widget_desc",
		Uploader:    "_widget_uploader",
		Attachment:  "_widget_photo",
		Results: []string{
			"_widget_result_1",
			"_widget_result_2",
			"_widget_result_3",
			"_widget_result_4",
			"_widget_result_5",
		},
	}
}

// Config holds the datastore connection parameters.
type Config struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	AppID   string        `yaml:"app_id"`
	EntryID string        `yaml:"entry_id"`
	Timeout time.Duration `yaml:"timeout"`
	Fields  FieldMap      `yaml:"fields"`
}

// Client is a thin v5 API client. All failures come back as fault errors
// so callers can classify them for retry.
type Client struct {
	cfg        Config
	httpClient *http.Client
	log        *slog.Logger
}

// NewClient validates the config and builds a client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fault.Config("tabular base_url is required")
	}
	if cfg.APIKey == "" {
		return nil, fault.Config("tabular api_key is required")
	}
	if cfg.AppID == "" || cfg.EntryID == "" {
		return nil, fault.Config("tabular app_id and entry_id are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Fields.Attachment == "" {
		cfg.Fields = DefaultFieldMap()
	}

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		log: slog.Default().With("component", "tabular"),
	}, nil
}

// Fields exposes the configured field map.
func (c *Client) Fields() FieldMap {
	return c.cfg.Fields
}

// Query fetches up to limit records, projected to the mapped fields plus
// the record ID, oldest first.
func (c *Client) Query(ctx context.Context, limit int) ([]map[string]any, error) {
	if limit <= 0 {
		limit = 100
	}

	fields := []string{
		c.cfg.Fields.Description,
		c.cfg.Fields.Uploader,
		c.cfg.Fields.Attachment,
	}
	fields = append(fields, c.cfg.Fields.Results...)

	body := map[string]any{
		"app_id":   c.cfg.AppID,
		"entry_id": c.cfg.EntryID,
		"fields":   fields,
		"limit":    limit,
	}

	var result struct {
		Data []map[string]any `json:"data"`
	}
	if err := c.post(ctx, "/api/v5/app/entry/data/list", body, &result); err != nil {
		return nil, err
	}

	c.log.Debug("Queried records", "count", len(result.Data), "limit", limit)
	return result.Data, nil
}

// Update writes field values onto one record. The bool reports whether the
// record existed.
func (c *Client) Update(ctx context.Context, recordID string, fields map[string]string) (bool, error) {
	if recordID == "" {
		return false, fault.Invalid("record id is required")
	}
	if len(fields) == 0 {
		return false, fault.Invalid("no fields to update")
	}

	data := make(map[string]any, len(fields))
	for fieldID, value := range fields {
		data[fieldID] = map[string]any{"value": value}
	}

	body := map[string]any{
		"app_id":   c.cfg.AppID,
		"entry_id": c.cfg.EntryID,
		"data_id":  recordID,
		"data":     data,
	}

	var result struct {
		Data map[string]any `json:"data"`
	}
	err := c.post(ctx, "/api/v5/app/entry/data/update", body, &result)
	if err != nil {
		if fe, ok := fault.As(err); ok {
			if status, _ := fe.Details["status"].(int); status == http.StatusNotFound {
				return false, nil
			}
		}
		return false, err
	}
	return true, nil
}

// Status probes the datastore with a single-record query and reports
// reachability.
func (c *Client) Status(ctx context.Context) (map[string]any, error) {
	records, err := c.Query(ctx, 1)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"backend":   "tabular",
		"reachable": true,
		"sampled":   len(records),
	}, nil
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fault.Encoding("failed to encode request body", fault.WithCause(err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fault.Invalid("failed to build request", fault.WithCause(err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fault.Timeout(fmt.Sprintf("request to %s timed out", path), fault.WithCause(err))
		}
		return fault.Network(fmt.Sprintf("request to %s failed", path), fault.WithCause(err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fault.Network("failed to read response body", fault.WithCause(err))
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests:
		return fault.Remote("datastore rate limited",
			fault.WithDetail("status", resp.StatusCode),
			fault.WithDetail("retry_after", resp.Header.Get("Retry-After")))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fault.Config(fmt.Sprintf("datastore rejected credentials (%d)", resp.StatusCode),
			fault.WithDetail("status", resp.StatusCode))
	case resp.StatusCode >= 500:
		return fault.Remote(fmt.Sprintf("datastore error %d", resp.StatusCode),
			fault.WithDetail("status", resp.StatusCode),
			fault.WithDetail("body", truncate(raw, 512)))
	default:
		return fault.Remote(fmt.Sprintf("datastore error %d", resp.StatusCode),
			fault.WithDetail("status", resp.StatusCode),
			fault.WithDetail("body", truncate(raw, 512)),
			fault.WithRecoverable(false))
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fault.Protocol("datastore returned malformed JSON", fault.WithCause(err))
		}
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

package mcp

import (
	"context"
	"encoding/json"

	"github.com/vietddude/lens/internal/core/domain"
	"github.com/vietddude/lens/internal/core/fault"
)

// ClientInfo identifies this side of the session during the handshake.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

var defaultClientInfo = ClientInfo{Name: "lens", Version: "1.0.0"}

// Conn is the request/response surface a Client needs from its transport.
// *Transport satisfies it.
type Conn interface {
	Send(ctx context.Context, method string, params any) (Response, error)
	Notify(ctx context.Context, method string, params any) error
}

// Client is the session-level API over one transport. Initialize must be
// called exactly once before any other method.
type Client struct {
	transport   Conn
	initialized bool
}

// NewClient wraps a started transport.
func NewClient(t Conn) *Client {
	return &Client{transport: t}
}

// Initialize performs the capability/version handshake and announces the
// initialized state to the server.
func (c *Client) Initialize(ctx context.Context) error {
	if c.initialized {
		return fault.Protocol("session already initialized")
	}

	params := map[string]any{
		"protocolVersion": ProtocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo":      defaultClientInfo,
	}
	resp, err := c.transport.Send(ctx, "initialize", params)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return remoteError("initialize rejected", resp.Error)
	}
	if err := c.transport.Notify(ctx, "notifications/initialized", nil); err != nil {
		return err
	}
	c.initialized = true
	return nil
}

func (c *Client) requireInitialized(op string) error {
	if !c.initialized {
		return fault.Protocol("session not initialized",
			fault.WithDetail("operation", op))
	}
	return nil
}

// ListTools returns every tool the server exposes. The protocol supports no
// pagination here; the full set arrives in one response.
func (c *Client) ListTools(ctx context.Context) ([]domain.ToolDescriptor, error) {
	if err := c.requireInitialized("tools/list"); err != nil {
		return nil, err
	}
	resp, err := c.transport.Send(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, remoteError("tools/list failed", resp.Error)
	}

	var result struct {
		Tools []domain.ToolDescriptor `json:"tools"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fault.Protocol("malformed tools/list result", fault.WithCause(err))
	}
	return result.Tools, nil
}

// CallTool invokes a named tool and returns the first textual content
// element of its result. A structured result with no textual content is
// returned JSON-serialized verbatim.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	if name == "" {
		return "", fault.Invalid("tool name must not be empty")
	}
	if err := c.requireInitialized("tools/call"); err != nil {
		return "", err
	}

	params := map[string]any{"name": name}
	if len(args) > 0 {
		params["arguments"] = args
	}
	resp, err := c.transport.Send(ctx, "tools/call", params)
	if err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", remoteError("tool call failed", resp.Error,
			fault.WithDetail("tool", name))
	}
	return extractText(resp.Result)
}

// ListResources mirrors ListTools for the resource namespace.
func (c *Client) ListResources(ctx context.Context) ([]domain.ResourceDescriptor, error) {
	if err := c.requireInitialized("resources/list"); err != nil {
		return nil, err
	}
	resp, err := c.transport.Send(ctx, "resources/list", nil)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, remoteError("resources/list failed", resp.Error)
	}

	var result struct {
		Resources []domain.ResourceDescriptor `json:"resources"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fault.Protocol("malformed resources/list result", fault.WithCause(err))
	}
	return result.Resources, nil
}

// ReadResource fetches one resource by URI and returns its first textual
// content element.
func (c *Client) ReadResource(ctx context.Context, uri string) (string, error) {
	if uri == "" {
		return "", fault.Invalid("resource uri must not be empty")
	}
	if err := c.requireInitialized("resources/read"); err != nil {
		return "", err
	}
	resp, err := c.transport.Send(ctx, "resources/read", map[string]any{"uri": uri})
	if err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", remoteError("resources/read failed", resp.Error,
			fault.WithDetail("uri", uri))
	}

	var result struct {
		Contents []struct {
			Text string `json:"text"`
		} `json:"contents"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return "", fault.Protocol("malformed resources/read result", fault.WithCause(err))
	}
	if len(result.Contents) == 0 {
		return "", fault.Protocol("resources/read returned no contents")
	}
	return result.Contents[0].Text, nil
}

// remoteError converts a response error payload into a remote-API fault.
// Standard JSON-RPC request errors (parse, invalid request/params, method
// not found) indicate a broken caller, not a transient condition, so they
// are not recoverable.
func remoteError(msg string, eo *ErrorObject, opts ...fault.Option) error {
	recoverable := true
	switch eo.Code {
	case CodeParseError, CodeInvalidRequest, CodeMethodNotFound, CodeInvalidParams:
		recoverable = false
	}
	opts = append(opts,
		fault.WithDetail("code", eo.Code),
		fault.WithDetail("message", eo.Message),
		fault.WithRecoverable(recoverable),
	)
	if eo.Data != nil {
		opts = append(opts, fault.WithDetail("data", eo.Data))
	}
	return fault.Remote(msg, opts...)
}

// extractText pulls the first content element's text out of a tool result.
func extractText(result json.RawMessage) (string, error) {
	var parsed struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return "", fault.Protocol("malformed tool result", fault.WithCause(err))
	}
	for _, c := range parsed.Content {
		if c.Type == "text" || c.Text != "" {
			return c.Text, nil
		}
	}
	return string(result), nil
}

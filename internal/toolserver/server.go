// Package toolserver implements the subprocess side of the tool-invocation
// protocol: a dispatch loop reading one JSON-RPC request per line from
// stdin and writing one response per line to stdout. Diagnostics go to the
// structured log (stderr) so the protocol stream stays clean.
package toolserver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/vietddude/lens/internal/mcp"
)

// ToolHandler executes one tool call and returns its textual payload.
type ToolHandler func(ctx context.Context, args json.RawMessage) (string, error)

// Tool is a named remote operation.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
	Handler     ToolHandler
}

// Resource is a readable document addressed by URI.
type Resource struct {
	URI         string
	Name        string
	Description string
	Handler     func(ctx context.Context) (string, error)
}

// ServerInfo identifies this server during the handshake.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Server owns the tool and resource registries and the stdio loop.
type Server struct {
	info      ServerInfo
	in        io.Reader
	out       io.Writer
	tools     map[string]Tool
	resources map[string]Resource
	log       *slog.Logger
}

// NewServer creates a server reading requests from in and writing responses
// to out.
func NewServer(info ServerInfo, in io.Reader, out io.Writer) *Server {
	return &Server{
		info:      info,
		in:        in,
		out:       out,
		tools:     map[string]Tool{},
		resources: map[string]Resource{},
		log:       slog.Default().With("component", "toolserver"),
	}
}

// Register adds a tool to the registry, replacing any previous tool of the
// same name.
func (s *Server) Register(t Tool) {
	s.tools[t.Name] = t
}

// RegisterResource adds a readable resource.
func (s *Server) RegisterResource(r Resource) {
	s.resources[r.URI] = r
}

// Serve reads requests line by line until EOF or context cancellation.
// Every request gets exactly one response, in arrival order; notifications
// get none.
func (s *Server) Serve(ctx context.Context) error {
	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req struct {
			ID     *int64          `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(line, &req); err != nil {
			s.log.Warn("Dropping unparseable frame", "error", err)
			continue
		}
		if req.ID == nil {
			// Notification; nothing goes back.
			s.log.Debug("Notification received", "method", req.Method)
			continue
		}

		s.dispatch(ctx, *req.ID, req.Method, req.Params)
	}
	return scanner.Err()
}

func (s *Server) dispatch(ctx context.Context, id int64, method string, params json.RawMessage) {
	switch method {
	case "initialize":
		s.writeResult(id, map[string]any{
			"protocolVersion": mcp.ProtocolVersion,
			"capabilities": map[string]any{
				"tools":     map[string]any{},
				"resources": map[string]any{},
			},
			"serverInfo": s.info,
		})
	case "tools/list":
		s.writeResult(id, map[string]any{"tools": s.toolDescriptors()})
	case "tools/call":
		s.handleToolCall(ctx, id, params)
	case "resources/list":
		s.writeResult(id, map[string]any{"resources": s.resourceDescriptors()})
	case "resources/read":
		s.handleResourceRead(ctx, id, params)
	case "ping":
		s.writeResult(id, map[string]any{})
	default:
		s.writeError(id, mcp.CodeMethodNotFound, fmt.Sprintf("method not found: %s", method))
	}
}

func (s *Server) handleToolCall(ctx context.Context, id int64, params json.RawMessage) {
	var call struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(params, &call); err != nil {
		s.writeError(id, mcp.CodeInvalidParams, "malformed tools/call params")
		return
	}
	tool, ok := s.tools[call.Name]
	if !ok {
		s.writeError(id, mcp.CodeInvalidParams, fmt.Sprintf("unknown tool: %s", call.Name))
		return
	}

	text, err := tool.Handler(ctx, call.Arguments)
	if err != nil {
		s.log.Error("Tool failed", "tool", call.Name, "error", err)
		s.writeError(id, -32000, fmt.Sprintf("%s: %v", call.Name, err))
		return
	}
	s.writeResult(id, map[string]any{
		"content": []map[string]any{{"type": "text", "text": text}},
	})
}

func (s *Server) handleResourceRead(ctx context.Context, id int64, params json.RawMessage) {
	var read struct {
		URI string `json:"uri"`
	}
	if err := json.Unmarshal(params, &read); err != nil {
		s.writeError(id, mcp.CodeInvalidParams, "malformed resources/read params")
		return
	}
	res, ok := s.resources[read.URI]
	if !ok {
		s.writeError(id, mcp.CodeInvalidParams, fmt.Sprintf("unknown resource: %s", read.URI))
		return
	}
	text, err := res.Handler(ctx)
	if err != nil {
		s.writeError(id, -32000, fmt.Sprintf("%s: %v", read.URI, err))
		return
	}
	s.writeResult(id, map[string]any{
		"contents": []map[string]any{{"uri": res.URI, "mimeType": "application/json", "text": text}},
	})
}

func (s *Server) toolDescriptors() []map[string]any {
	names := make([]string, 0, len(s.tools))
	for name := range s.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]map[string]any, 0, len(names))
	for _, name := range names {
		t := s.tools[name]
		schema := t.InputSchema
		if schema == nil {
			schema = map[string]any{"type": "object"}
		}
		out = append(out, map[string]any{
			"name":        t.Name,
			"description": t.Description,
			"inputSchema": schema,
		})
	}
	return out
}

func (s *Server) resourceDescriptors() []map[string]any {
	uris := make([]string, 0, len(s.resources))
	for uri := range s.resources {
		uris = append(uris, uri)
	}
	sort.Strings(uris)

	out := make([]map[string]any, 0, len(uris))
	for _, uri := range uris {
		r := s.resources[uri]
		out = append(out, map[string]any{
			"uri":         r.URI,
			"name":        r.Name,
			"description": r.Description,
		})
	}
	return out
}

func (s *Server) writeResult(id int64, result any) {
	s.writeFrame(map[string]any{"jsonrpc": mcp.JSONRPCVersion, "id": id, "result": result})
}

func (s *Server) writeError(id int64, code int, message string) {
	s.writeFrame(map[string]any{
		"jsonrpc": mcp.JSONRPCVersion,
		"id":      id,
		"error":   map[string]any{"code": code, "message": message},
	})
}

func (s *Server) writeFrame(frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		s.log.Error("Failed to marshal response frame", "error", err)
		return
	}
	if _, err := s.out.Write(append(data, '\n')); err != nil {
		s.log.Error("Failed to write response frame", "error", err)
	}
}

package mcp

import (
	"context"
	"log/slog"
	"sync"

	"github.com/vietddude/lens/internal/core/fault"
)

// Mode selects how the runner maps operations onto child processes.
type Mode string

const (
	// ModePerCall spawns a fresh child for every operation. Paying the
	// spawn cost buys isolation: a long-lived child cannot accumulate
	// corrupted pipe state (half-read buffers, abandoned in-flight
	// requests) across calls. Default.
	ModePerCall Mode = "per-call"

	// ModeSession keeps one child alive across operations, replacing it
	// only after a transport-level failure.
	ModeSession Mode = "session"
)

// ParseMode validates a configured mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModePerCall, ModeSession:
		return Mode(s), nil
	case "":
		return ModePerCall, nil
	}
	return "", fault.Config("unknown tool-server mode", fault.WithDetail("mode", s))
}

// RunnerConn is the transport lifecycle surface the runner manages.
// *Transport satisfies it.
type RunnerConn interface {
	Conn
	Start(ctx context.Context) error
	Stop() error
	State() TransportState
}

// Runner scopes one client operation to a transport lifetime: start,
// initialize, run, and always stop on every exit path.
type Runner struct {
	cfg  TransportConfig
	mode Mode
	log  *slog.Logger

	// newConn is swapped in tests.
	newConn func(TransportConfig) RunnerConn

	mu      sync.Mutex
	session *sessionState
}

type sessionState struct {
	transport RunnerConn
	client    *Client
}

// NewRunner creates a runner spawning children from cfg.
func NewRunner(cfg TransportConfig, mode Mode) *Runner {
	return &Runner{
		cfg:     cfg,
		mode:    mode,
		log:     slog.Default().With("component", "mcp.runner", "mode", string(mode)),
		newConn: func(cfg TransportConfig) RunnerConn { return NewTransport(cfg) },
	}
}

// Do acquires a client (fresh child in per-call mode, shared child in
// session mode) and invokes op with it. Errors raised inside op are wrapped
// in a protocol fault that records the original as cause; the recoverable
// flag of the cause is preserved so retry policies can still discriminate.
func (r *Runner) Do(ctx context.Context, op func(context.Context, *Client) error) error {
	if r.mode == ModeSession {
		return r.doSession(ctx, op)
	}
	return r.doIsolated(ctx, op)
}

// Call runs op through r and returns its value. Methods cannot be generic,
// hence the package-level shape.
func Call[T any](ctx context.Context, r *Runner, op func(context.Context, *Client) (T, error)) (T, error) {
	var out T
	err := r.Do(ctx, func(ctx context.Context, c *Client) error {
		v, err := op(ctx, c)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (r *Runner) doIsolated(ctx context.Context, op func(context.Context, *Client) error) error {
	transport := r.newConn(r.cfg)
	if err := transport.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := transport.Stop(); err != nil {
			r.log.Warn("Failed to stop tool server", "error", err)
		}
	}()

	client := NewClient(transport)
	if err := client.Initialize(ctx); err != nil {
		return err
	}
	return wrapOpError(op(ctx, client))
}

func (r *Runner) doSession(ctx context.Context, op func(context.Context, *Client) error) error {
	sess, err := r.acquireSession(ctx)
	if err != nil {
		return err
	}

	err = op(ctx, sess.client)
	if sess.transport.State() != StateRunning {
		// Broken pipe, timeout kill, decode failure: whatever stopped the
		// transport took the child with it. A dead child is never
		// resurrected; the next operation spawns a fresh one.
		r.discard(sess)
	}
	return wrapOpError(err)
}

func (r *Runner) acquireSession(ctx context.Context) (*sessionState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session != nil {
		return r.session, nil
	}

	transport := r.newConn(r.cfg)
	if err := transport.Start(ctx); err != nil {
		return nil, err
	}
	client := NewClient(transport)
	if err := client.Initialize(ctx); err != nil {
		_ = transport.Stop()
		return nil, err
	}
	r.session = &sessionState{transport: transport, client: client}
	return r.session, nil
}

// discard stops sess's child and clears the cached session, unless another
// goroutine already replaced it with a fresh one.
func (r *Runner) discard(sess *sessionState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_ = sess.transport.Stop()
	if r.session == sess {
		r.session = nil
	}
}

func (r *Runner) discardSession() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session != nil {
		_ = r.session.transport.Stop()
		r.session = nil
	}
}

// Close tears down any live session child. Per-call children are already
// reaped by their own Do invocations.
func (r *Runner) Close() {
	r.discardSession()
}

// wrapOpError wraps operation failures so callers always see a protocol-
// level error with the original attached as details.cause. The original is
// never swallowed, and its recoverable flag survives the wrapping.
func wrapOpError(err error) error {
	if err == nil {
		return nil
	}
	opts := []fault.Option{fault.WithCause(err)}
	if fe, ok := fault.As(err); ok {
		opts = append(opts, fault.WithRecoverable(fe.Recoverable))
	}
	return fault.Protocol("tool operation failed", opts...)
}

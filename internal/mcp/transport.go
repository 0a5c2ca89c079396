package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/vietddude/lens/internal/core/fault"
)

// TransportState tracks the child-process lifecycle.
type TransportState int32

const (
	StateUnstarted TransportState = iota
	StateRunning
	StateClosed
)

func (s TransportState) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateRunning:
		return "running"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// TransportConfig describes how to launch the tool-server child process.
type TransportConfig struct {
	Command string
	Args    []string
	Env     []string
	Dir     string

	// StopGrace bounds how long Stop waits after SIGTERM before killing.
	StopGrace time.Duration
}

// Transport owns one child process and its stdio pipes. It is strictly
// one-in-one-out: each Send blocks until the matching response line arrives,
// so there are never concurrent in-flight requests on one transport. A
// transport is single-use with respect to the child: once the process exits
// unexpectedly the transport must be discarded, not resurrected.
type Transport struct {
	cfg TransportConfig
	log *slog.Logger

	mu     sync.Mutex
	state  TransportState
	nextID int64
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
}

// NewTransport creates an unstarted transport.
func NewTransport(cfg TransportConfig) *Transport {
	if cfg.StopGrace == 0 {
		cfg.StopGrace = 5 * time.Second
	}
	return &Transport{
		cfg: cfg,
		log: slog.Default().With("component", "mcp.transport", "command", cfg.Command),
	}
}

// State returns the current lifecycle state.
func (t *Transport) State() TransportState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Start spawns the child process with its three standard streams redirected
// to pipes and transitions to Running.
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateUnstarted {
		return fault.Invalid("transport already started",
			fault.WithDetail("state", t.state.String()))
	}

	cmd := exec.Command(t.cfg.Command, t.cfg.Args...)
	cmd.Env = t.cfg.Env
	cmd.Dir = t.cfg.Dir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fault.Config("stdin pipe", fault.WithCause(err))
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fault.Config("stdout pipe", fault.WithCause(err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fault.Config("stderr pipe", fault.WithCause(err))
	}

	if err := cmd.Start(); err != nil {
		return fault.Config("failed to spawn tool server",
			fault.WithCause(err), fault.WithDetail("command", t.cfg.Command))
	}

	go t.drainStderr(stderr)

	t.cmd = cmd
	t.stdin = stdin
	t.stdout = bufio.NewReaderSize(stdout, 1<<20)
	t.state = StateRunning
	t.log.Debug("Tool server started", "pid", cmd.Process.Pid)
	return nil
}

// Send writes one encoded request frame and synchronously reads one response
// line. Valid only in Running. If the child exits or the output stream
// closes before a full line arrives, the transport is broken: Send fails
// with a non-recoverable protocol error and the transport must be replaced.
func (t *Transport) Send(ctx context.Context, method string, params any) (Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateRunning {
		return Response{}, fault.Invalid("send on non-running transport",
			fault.WithDetail("state", t.state.String()), fault.WithDetail("method", method))
	}

	t.nextID++
	id := t.nextID

	frame, err := EncodeFrame(Request{JSONRPC: JSONRPCVersion, ID: id, Method: method, Params: params})
	if err != nil {
		return Response{}, err
	}

	if _, err := t.stdin.Write(frame); err != nil {
		t.markBroken()
		return Response{}, fault.Protocol("write to tool server failed",
			fault.WithCause(err), fault.WithDetail("method", method))
	}

	line, err := t.readLine(ctx)
	if err != nil {
		return Response{}, err
	}

	resp, err := DecodeFrame(line)
	if err != nil {
		t.markBroken()
		return Response{}, err
	}
	if resp.ID != id {
		t.markBroken()
		return Response{}, fault.Protocol("response id does not match request",
			fault.WithDetail("want", id), fault.WithDetail("got", resp.ID))
	}
	return resp, nil
}

// Notify writes a one-way frame; no response is read.
func (t *Transport) Notify(ctx context.Context, method string, params any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateRunning {
		return fault.Invalid("notify on non-running transport",
			fault.WithDetail("state", t.state.String()))
	}
	data, err := json.Marshal(Notification{JSONRPC: JSONRPCVersion, Method: method, Params: params})
	if err != nil {
		return fault.Encoding("notification params not JSON-serializable", fault.WithCause(err))
	}
	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		t.markBroken()
		return fault.Protocol("write to tool server failed", fault.WithCause(err))
	}
	return nil
}

// readLine blocks on the child's stdout until one full line arrives. A
// context deadline firing kills the child to unblock the read; the result
// is a recoverable timeout fault, but the transport itself is spent.
func (t *Transport) readLine(ctx context.Context) ([]byte, error) {
	type readResult struct {
		line []byte
		err  error
	}
	ch := make(chan readResult, 1)
	go func() {
		line, err := t.stdout.ReadBytes('\n')
		ch <- readResult{line, err}
	}()

	select {
	case <-ctx.Done():
		t.killLocked()
		t.state = StateClosed
		return nil, fault.Timeout("tool server did not respond in time",
			fault.WithCause(ctx.Err()))
	case r := <-ch:
		if r.err != nil {
			t.markBroken()
			return nil, fault.Protocol("tool server closed its output before responding",
				fault.WithCause(r.err))
		}
		return r.line, nil
	}
}

// Stop sends SIGTERM to the child, awaits its exit (killing after the grace
// period), and transitions to Closed. Safe to call more than once.
func (t *Transport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateRunning {
		t.state = StateClosed
		return nil
	}
	t.state = StateClosed

	if t.stdin != nil {
		_ = t.stdin.Close()
	}
	if t.cmd == nil || t.cmd.Process == nil {
		return nil
	}

	_ = t.cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan error, 1)
	go func() { done <- t.cmd.Wait() }()

	select {
	case <-done:
	case <-time.After(t.cfg.StopGrace):
		t.log.Warn("Tool server ignored SIGTERM, killing")
		_ = t.cmd.Process.Kill()
		<-done
	}
	t.log.Debug("Tool server stopped")
	return nil
}

// markBroken flags the transport unusable after a pipe-level failure. The
// caller still holds t.mu.
func (t *Transport) markBroken() {
	t.state = StateClosed
	if t.stdin != nil {
		_ = t.stdin.Close()
	}
	if t.cmd != nil && t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
		go func(cmd *exec.Cmd) { _ = cmd.Wait() }(t.cmd)
	}
}

func (t *Transport) killLocked() {
	if t.cmd != nil && t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
		go func(cmd *exec.Cmd) { _ = cmd.Wait() }(t.cmd)
	}
}

// drainStderr forwards the child's diagnostics to the structured log so
// protocol stdout stays clean.
func (t *Transport) drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		t.log.Debug(fmt.Sprintf("tool-server: %s", scanner.Text()))
	}
}

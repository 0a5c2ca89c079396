package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vietddude/lens/internal/core/fault"
)

// spyConn counts lifecycle transitions and serves a minimal handshake plus
// canned tool results. A sendErr models a transport-level failure, so
// returning it also closes the conn the way the real transport does.
type spyConn struct {
	startCalls int
	stopCalls  int
	sendErr    error
	nextID     int64
	state      TransportState
}

func (s *spyConn) Start(ctx context.Context) error {
	s.startCalls++
	s.state = StateRunning
	return nil
}

func (s *spyConn) Stop() error {
	s.stopCalls++
	s.state = StateClosed
	return nil
}

func (s *spyConn) State() TransportState { return s.state }

func (s *spyConn) Send(ctx context.Context, method string, params any) (Response, error) {
	s.nextID++
	if s.sendErr != nil && method != "initialize" {
		s.state = StateClosed
		return Response{}, s.sendErr
	}
	return Response{ID: s.nextID, Result: json.RawMessage(`{"content":[{"type":"text","text":"ok"}]}`)}, nil
}

func (s *spyConn) Notify(ctx context.Context, method string, params any) error { return nil }

func newSpyRunner(mode Mode) (*Runner, *[]*spyConn) {
	spies := &[]*spyConn{}
	r := NewRunner(TransportConfig{Command: "unused"}, mode)
	r.newConn = func(TransportConfig) RunnerConn {
		s := &spyConn{}
		*spies = append(*spies, s)
		return s
	}
	return r, spies
}

func TestRunnerStopsTransportOnSuccess(t *testing.T) {
	r, spies := newSpyRunner(ModePerCall)

	out, err := Call(context.Background(), r, func(ctx context.Context, c *Client) (string, error) {
		return c.CallTool(ctx, "query_records", nil)
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)

	require.Len(t, *spies, 1)
	assert.Equal(t, 1, (*spies)[0].startCalls)
	assert.Equal(t, 1, (*spies)[0].stopCalls)
}

func TestRunnerStopsTransportWhenOperationFails(t *testing.T) {
	r, spies := newSpyRunner(ModePerCall)

	boom := errors.New("downstream blew up")
	err := r.Do(context.Background(), func(ctx context.Context, c *Client) error {
		return boom
	})
	require.Error(t, err)

	// Stop happens exactly once even though the operation failed after a
	// successful initialize.
	require.Len(t, *spies, 1)
	assert.Equal(t, 1, (*spies)[0].stopCalls)

	// The failure is wrapped as a protocol fault with the original as cause.
	fe, ok := fault.As(err)
	require.True(t, ok)
	assert.Equal(t, fault.KindProtocol, fe.Kind)
	assert.True(t, errors.Is(err, boom))
	assert.Equal(t, "downstream blew up", fe.Details["cause"])
}

func TestRunnerWrapPreservesRecoverable(t *testing.T) {
	r, _ := newSpyRunner(ModePerCall)

	err := r.Do(context.Background(), func(ctx context.Context, c *Client) error {
		return fault.Remote("http 503")
	})
	fe, ok := fault.As(err)
	require.True(t, ok)
	assert.Equal(t, fault.KindProtocol, fe.Kind)
	assert.True(t, fe.Recoverable, "recoverable flag of the cause must survive wrapping")
}

func TestRunnerPerCallSpawnsFreshChildEachTime(t *testing.T) {
	r, spies := newSpyRunner(ModePerCall)

	for i := 0; i < 3; i++ {
		require.NoError(t, r.Do(context.Background(), func(ctx context.Context, c *Client) error {
			return nil
		}))
	}
	assert.Len(t, *spies, 3)
	for _, s := range *spies {
		assert.Equal(t, 1, s.startCalls)
		assert.Equal(t, 1, s.stopCalls)
	}
}

func TestRunnerSessionReusesChild(t *testing.T) {
	r, spies := newSpyRunner(ModeSession)
	defer r.Close()

	for i := 0; i < 3; i++ {
		require.NoError(t, r.Do(context.Background(), func(ctx context.Context, c *Client) error {
			return nil
		}))
	}
	assert.Len(t, *spies, 1, "session mode keeps one child alive")
	assert.Equal(t, 0, (*spies)[0].stopCalls)

	r.Close()
	assert.Equal(t, 1, (*spies)[0].stopCalls)
}

func TestRunnerSessionDiscardsBrokenChild(t *testing.T) {
	r, spies := newSpyRunner(ModeSession)
	defer r.Close()

	require.NoError(t, r.Do(context.Background(), func(ctx context.Context, c *Client) error {
		return nil
	}))

	(*spies)[0].sendErr = fault.Protocol("pipe closed")
	err := r.Do(context.Background(), func(ctx context.Context, c *Client) error {
		_, err := c.CallTool(ctx, "query_records", nil)
		return err
	})
	require.Error(t, err)
	assert.Equal(t, 1, (*spies)[0].stopCalls, "broken session child must be stopped")

	// Next operation gets a fresh child.
	require.NoError(t, r.Do(context.Background(), func(ctx context.Context, c *Client) error {
		return nil
	}))
	assert.Len(t, *spies, 2)
}

func TestRunnerSessionReplacesChildAfterTimeout(t *testing.T) {
	r, spies := newSpyRunner(ModeSession)
	defer r.Close()

	require.NoError(t, r.Do(context.Background(), func(ctx context.Context, c *Client) error {
		return nil
	}))

	// A read deadline kills the child: the error is a recoverable timeout,
	// not a protocol fault, but the transport is just as dead.
	(*spies)[0].sendErr = fault.Timeout("tool server did not respond in time")
	err := r.Do(context.Background(), func(ctx context.Context, c *Client) error {
		_, err := c.CallTool(ctx, "query_records", nil)
		return err
	})
	require.Error(t, err)
	fe, ok := fault.As(err)
	require.True(t, ok)
	assert.True(t, fe.Recoverable, "timeout must stay recoverable through wrapping")
	assert.Equal(t, 1, (*spies)[0].stopCalls, "timed-out session child must be stopped")

	// The next operation must get a fresh child, not the dead one.
	require.NoError(t, r.Do(context.Background(), func(ctx context.Context, c *Client) error {
		_, err := c.CallTool(ctx, "query_records", nil)
		return err
	}))
	require.Len(t, *spies, 2)
	assert.Equal(t, 1, (*spies)[1].startCalls)
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModePerCall, false},
		{"per-call", ModePerCall, false},
		{"session", ModeSession, false},
		{"pooled", "", true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

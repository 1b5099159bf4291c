package query

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yinglj/resolve-ai/pkg/agentexec"
	"github.com/yinglj/resolve-ai/pkg/logger"
)

// mockRunner is a scriptable agent for processor tests.
type mockRunner struct {
	marker   int // distinguishes rebuilt instances
	response string
	runErr   error
	chunks   []agentexec.Chunk
	closed   bool
}

func (m *mockRunner) Run(ctx context.Context, query string) (string, error) {
	if m.runErr != nil {
		return "", m.runErr
	}
	return m.response, nil
}

func (m *mockRunner) RunStream(ctx context.Context, query string) (<-chan agentexec.Chunk, error) {
	if m.runErr != nil {
		return nil, m.runErr
	}
	out := make(chan agentexec.Chunk, len(m.chunks))
	for _, c := range m.chunks {
		out <- c
	}
	close(out)
	return out, nil
}

func (m *mockRunner) Close() {
	m.closed = true
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(&logger.Config{Level: logger.ERROR})
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })
	return log
}

func newTestProcessor(t *testing.T, runner *mockRunner) *Processor {
	t.Helper()
	p := NewProcessor(func(ctx context.Context) (agentexec.Runner, error) {
		return runner, nil
	}, testLogger(t))
	require.NoError(t, p.Initialize(context.Background()))
	return p
}

func collect(events <-chan StreamEvent) []StreamEvent {
	var out []StreamEvent
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func TestSessionLifecycle(t *testing.T) {
	p := newTestProcessor(t, &mockRunner{response: "pong"})

	id := p.StartSession("")
	assert.NotEmpty(t, id)
	assert.True(t, p.IsSessionValid(id))
	assert.False(t, p.IsSessionValid("unknown"))

	require.NoError(t, p.EndSession(id))
	assert.False(t, p.IsSessionValid(id))
	assert.ErrorIs(t, p.EndSession(id), ErrSessionNotFound)
}

func TestSessionLockSurvivesRecreate(t *testing.T) {
	p := newTestProcessor(t, &mockRunner{response: "pong"})

	id := p.StartSession("reused-id")
	first := p.sessionLock(id)

	require.NoError(t, p.EndSession(id))
	p.StartSession(id)

	// A query in flight at EndSession may still hold the lock; the
	// recreated session must serialize on the same mutex.
	assert.Same(t, first, p.sessionLock(id))
}

func TestStartSessionWithExplicitID(t *testing.T) {
	p := newTestProcessor(t, &mockRunner{})
	id := p.StartSession("abc-123")
	assert.Equal(t, "abc-123", id)
	assert.True(t, p.IsSessionValid("abc-123"))
}

func TestProcessQuery(t *testing.T) {
	p := newTestProcessor(t, &mockRunner{response: "pong"})
	id := p.StartSession("abc-123")

	resp, err := p.ProcessQuery(context.Background(), id, "ping")
	require.NoError(t, err)
	assert.Equal(t, "pong", resp)

	history, err := p.SessionHistory(id)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "ping", history[0].Query)
	assert.Equal(t, "pong", history[1].Response)
}

func TestProcessQueryUnknownSession(t *testing.T) {
	p := newTestProcessor(t, &mockRunner{response: "pong"})
	_, err := p.ProcessQuery(context.Background(), "nope", "ping")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestProcessQueryNoAgent(t *testing.T) {
	p := NewProcessor(func(ctx context.Context) (agentexec.Runner, error) {
		return nil, errors.New("boom")
	}, testLogger(t))
	assert.Error(t, p.Initialize(context.Background()))

	id := p.StartSession("")
	_, err := p.ProcessQuery(context.Background(), id, "ping")
	assert.ErrorIs(t, err, ErrAgentNotInitialized)
}

func TestProcessQueryGenericError(t *testing.T) {
	runner := &mockRunner{runErr: errors.New("model unavailable")}
	p := newTestProcessor(t, runner)
	id := p.StartSession("")

	_, err := p.ProcessQuery(context.Background(), id, "ping")
	var ee *ExecutionError
	assert.ErrorAs(t, err, &ee)

	// Session remains usable afterward.
	assert.True(t, p.IsSessionValid(id))
	runner.runErr = nil
	runner.response = "recovered"
	resp, err := p.ProcessQuery(context.Background(), id, "retry")
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp)
}

func TestResourceClosedTriggersReinitialize(t *testing.T) {
	built := 0
	runners := []*mockRunner{
		{marker: 1, runErr: &agentexec.ResourceClosedError{Err: errors.New("pipe closed")}},
		{marker: 2, response: "fresh agent"},
	}
	p := NewProcessor(func(ctx context.Context) (agentexec.Runner, error) {
		r := runners[built]
		built++
		return r, nil
	}, testLogger(t))
	require.NoError(t, p.Initialize(context.Background()))

	a := p.StartSession("")
	b := p.StartSession("")
	v1 := p.AgentVersion()

	_, err := p.ProcessQuery(context.Background(), a, "ping")
	assert.True(t, IsRetryable(err))
	assert.Equal(t, 2, built, "agent was rebuilt")
	assert.Greater(t, p.AgentVersion(), v1)
	assert.True(t, runners[0].closed, "old agent was shut down")

	// All sessions survive reinitialization and the resubmitted query runs
	// on the new agent.
	assert.True(t, p.IsSessionValid(a))
	assert.True(t, p.IsSessionValid(b))
	resp, err := p.ProcessQuery(context.Background(), a, "ping")
	require.NoError(t, err)
	assert.Equal(t, "fresh agent", resp)
}

func TestReinitializeFailureLeavesNoAgent(t *testing.T) {
	calls := 0
	p := NewProcessor(func(ctx context.Context) (agentexec.Runner, error) {
		calls++
		if calls == 1 {
			return &mockRunner{response: "ok"}, nil
		}
		return nil, errors.New("construction failed")
	}, testLogger(t))
	require.NoError(t, p.Initialize(context.Background()))
	id := p.StartSession("")

	assert.Error(t, p.Reinitialize(context.Background()))
	assert.Nil(t, p.Agent())

	_, err := p.ProcessQuery(context.Background(), id, "ping")
	assert.ErrorIs(t, err, ErrAgentNotInitialized)
}

func TestProcessQueryStreamUnknownSession(t *testing.T) {
	p := newTestProcessor(t, &mockRunner{})
	events := collect(p.ProcessQueryStream(context.Background(), "nope", "ping"))
	require.Len(t, events, 1)
	require.NotNil(t, events[0].Err)
	assert.Equal(t, codeInvalidSession, events[0].Err.Code)
	assert.Contains(t, events[0].Err.Message, "Invalid session: nope")
}

func TestProcessQueryStreamSuccess(t *testing.T) {
	runner := &mockRunner{chunks: []agentexec.Chunk{
		{Content: "The timeline "},
		{Content: "has 3 markers."},
	}}
	p := newTestProcessor(t, runner)
	id := p.StartSession("")

	events := collect(p.ProcessQueryStream(context.Background(), id, "how many markers?"))
	require.Len(t, events, 3)

	var concat strings.Builder
	for _, ev := range events[:2] {
		assert.Equal(t, "message", ev.Type)
		assert.False(t, ev.Complete)
		concat.WriteString(ev.Content)
	}
	final := events[2]
	assert.Equal(t, "final", final.Type)
	assert.True(t, final.Complete)
	assert.Equal(t, strings.TrimSpace(concat.String()), final.Response)

	history, err := p.SessionHistory(id)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, final.Response, history[1].Response)
}

func TestProcessQueryStreamNoOutput(t *testing.T) {
	p := newTestProcessor(t, &mockRunner{chunks: nil})
	id := p.StartSession("")

	events := collect(p.ProcessQueryStream(context.Background(), id, "ping"))
	require.Len(t, events, 1)
	require.NotNil(t, events[0].Err)
	assert.Equal(t, codeServerError, events[0].Err.Code)
	assert.Contains(t, events[0].Err.Message, "no valid output")

	// The failed query is in history, but no response entry was appended.
	history, err := p.SessionHistory(id)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "ping", history[0].Query)
}

func TestProcessQueryStreamWhitespaceChunks(t *testing.T) {
	runner := &mockRunner{chunks: []agentexec.Chunk{{Content: "  "}}}
	p := newTestProcessor(t, runner)
	id := p.StartSession("")

	events := collect(p.ProcessQueryStream(context.Background(), id, "save"))
	require.Len(t, events, 2)

	// The chunk was already delivered as a message event, so the stream
	// must terminate with a final, not the no-output error.
	assert.Equal(t, "message", events[0].Type)
	assert.Equal(t, "  ", events[0].Content)

	final := events[1]
	require.Nil(t, final.Err)
	assert.Equal(t, "final", final.Type)
	assert.True(t, final.Complete)
	assert.Equal(t, "", final.Response)

	history, err := p.SessionHistory(id)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "", history[1].Response)
}

func TestProcessQueryStreamChunkError(t *testing.T) {
	runner := &mockRunner{chunks: []agentexec.Chunk{
		{Content: "partial "},
		{Err: errors.New("model fell over")},
	}}
	p := newTestProcessor(t, runner)
	id := p.StartSession("")

	events := collect(p.ProcessQueryStream(context.Background(), id, "ping"))
	require.Len(t, events, 2)
	assert.Equal(t, "message", events[0].Type)
	require.NotNil(t, events[1].Err)
	assert.Contains(t, events[1].Err.Message, "model fell over")
}

func TestProcessQueryStreamCancellation(t *testing.T) {
	runner := &mockRunner{chunks: []agentexec.Chunk{{Content: "a"}, {Content: "b"}}}
	p := newTestProcessor(t, runner)
	id := p.StartSession("")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	events := collect(p.ProcessQueryStream(ctx, id, "ping"))
	// No error event for caller-side cancellation.
	for _, ev := range events {
		assert.Nil(t, ev.Err)
	}
}

func TestCleanup(t *testing.T) {
	runner := &mockRunner{response: "ok"}
	p := newTestProcessor(t, runner)
	p.StartSession("")
	p.StartSession("")

	p.Cleanup()
	assert.Zero(t, p.SessionCount())
	assert.Nil(t, p.Agent())
	assert.True(t, runner.closed)

	// Idempotent.
	p.Cleanup()
	assert.Zero(t, p.SessionCount())
}

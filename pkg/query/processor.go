package query

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/yinglj/resolve-ai/pkg/agentexec"
	"github.com/yinglj/resolve-ai/pkg/logger"
)

// JSON-RPC error codes carried on stream error events.
const (
	codeInvalidSession = -32600
	codeServerError    = -32603
)

// StreamEvent is one unit of a streamed query's output sequence: a partial
// chunk, the final aggregate, or an error. Exactly one terminal event (a
// final with Complete=true, or an error) is emitted per streamed query.
type StreamEvent struct {
	Type      string // "message" or "final"; empty on error events
	SessionID string
	Content   string // partial chunk, message events only
	Response  string // accumulated text, final event only
	Complete  bool
	Err       *StreamError
}

// StreamError is the error payload of a terminal stream event.
type StreamError struct {
	Code    int
	Message string
}

// AgentFactory constructs the agent and its dependent resources. Invoked
// at startup and again on every reinitialization.
type AgentFactory func(ctx context.Context) (agentexec.Runner, error)

// agentHandle pairs a runner with a version counter so tests and logs can
// tell rebuilt agents apart.
type agentHandle struct {
	runner  agentexec.Runner
	version uint64
}

// Processor is the stateful query orchestrator: it owns the session store
// and the current agent binding, serializes queries per session, and
// rebuilds the agent when its tool channel closes underneath it.
type Processor struct {
	store   *Store
	factory AgentFactory
	log     *logger.Logger

	// current is read at call time and swapped atomically by Reinitialize.
	// In-flight queries may observe either the old or new agent during a
	// swap; neither observes a half-constructed one.
	current atomic.Pointer[agentHandle]
	version atomic.Uint64

	initMu sync.Mutex // serializes Initialize/Reinitialize

	// locks single-flights queries per session.
	locks sync.Map // session id -> *sync.Mutex

	metrics *Metrics
}

// NewProcessor creates a processor with no agent bound. Call Initialize
// before serving queries.
func NewProcessor(factory AgentFactory, log *logger.Logger) *Processor {
	return &Processor{
		store:   NewStore(),
		factory: factory,
		log:     log,
		metrics: newMetrics(),
	}
}

// Initialize constructs the agent via the factory and binds it. On failure
// the processor stays in the "no agent" state and the error propagates so
// the caller can surface fatal misconfiguration.
func (p *Processor) Initialize(ctx context.Context) error {
	p.initMu.Lock()
	defer p.initMu.Unlock()
	return p.buildAgent(ctx)
}

func (p *Processor) buildAgent(ctx context.Context) error {
	runner, err := p.factory(ctx)
	if err != nil {
		p.current.Store(nil)
		return err
	}
	handle := &agentHandle{runner: runner, version: p.version.Add(1)}
	old := p.current.Swap(handle)
	if old != nil {
		closeRunner(old.runner)
	}
	p.log.Info("agent initialized (version %d)", handle.version)
	return nil
}

// Agent returns the currently bound runner, or nil.
func (p *Processor) Agent() agentexec.Runner {
	if h := p.current.Load(); h != nil {
		return h.runner
	}
	return nil
}

// AgentVersion returns the version of the current agent binding; 0 means
// no agent has ever been bound.
func (p *Processor) AgentVersion() uint64 {
	if h := p.current.Load(); h != nil {
		return h.version
	}
	return 0
}

// StartSession creates a session bound to the current agent and returns
// its id. A fresh id is generated unless one is given. Never fails.
func (p *Processor) StartSession(id string) string {
	if id == "" {
		id = uuid.NewString()
	}
	p.store.Create(id, p.Agent())
	p.metrics.sessionsStarted.Add(1)
	p.log.Info("session started: %s", id)
	return id
}

// IsSessionValid reports whether the id names a live session.
func (p *Processor) IsSessionValid(id string) bool {
	return p.store.Has(id)
}

// EndSession removes a session. Returns ErrSessionNotFound for unknown ids.
func (p *Processor) EndSession(id string) error {
	if !p.store.Delete(id) {
		return ErrSessionNotFound
	}
	// The session's mutex stays in p.locks: an in-flight query may still
	// hold it, and a session re-created under the same id must serialize
	// against that query rather than mint a fresh lock.
	p.metrics.sessionsEnded.Add(1)
	p.log.Info("session ended: %s", id)
	return nil
}

// SessionHistory returns a copy of a session's history.
func (p *Processor) SessionHistory(id string) ([]HistoryEntry, error) {
	sess, ok := p.store.Get(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess.History(), nil
}

// sessionLock returns the single-flight mutex for a session id.
func (p *Processor) sessionLock(id string) *sync.Mutex {
	mu, _ := p.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// ProcessQuery executes a query to completion. The query and its response
// (on success) are appended to the session history. A resource-closed
// failure from the agent triggers reinitialization and a RetryableError;
// the caller must resubmit the query itself.
func (p *Processor) ProcessQuery(ctx context.Context, sessionID, queryText string) (string, error) {
	lock := p.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, ok := p.store.Get(sessionID)
	if !ok {
		return "", ErrSessionNotFound
	}
	runner := p.Agent()
	if runner == nil {
		return "", ErrAgentNotInitialized
	}

	sess.AppendQuery(queryText)
	p.metrics.queries.Add(1)
	p.log.Info("processing query for session %s: %s", sessionID, queryText)

	response, err := runner.Run(ctx, queryText)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("query cancelled: %w", ctx.Err())
		}
		p.metrics.queryErrors.Add(1)
		if agentexec.IsResourceClosed(err) {
			p.log.Info("resource closed during query, reinitializing (session %s)", sessionID)
			if reinitErr := p.Reinitialize(ctx); reinitErr != nil {
				return "", fmt.Errorf("reinitialization failed: %w", reinitErr)
			}
			p.metrics.retryRequests.Add(1)
			return "", &RetryableError{Err: err}
		}
		p.log.Error("query failed for session %s: %v", sessionID, err)
		return "", &ExecutionError{Err: err}
	}

	sess.AppendResponse(response)
	return response, nil
}

// ProcessQueryStream executes a query incrementally. The returned channel
// delivers zero or more message events followed by exactly one terminal
// event, then closes. Consuming it twice re-executes nothing; the sequence
// is finite and not restartable. Cancellation of ctx stops production
// without emitting an error event.
func (p *Processor) ProcessQueryStream(ctx context.Context, sessionID, queryText string) <-chan StreamEvent {
	out := make(chan StreamEvent, 16)
	go func() {
		defer close(out)
		p.runStream(ctx, sessionID, queryText, out)
	}()
	return out
}

func (p *Processor) runStream(ctx context.Context, sessionID, queryText string, out chan<- StreamEvent) {
	sess, ok := p.store.Get(sessionID)
	if !ok {
		p.log.Error("stream session does not exist: %s", sessionID)
		p.emit(ctx, out, StreamEvent{
			SessionID: sessionID,
			Err: &StreamError{
				Code:    codeInvalidSession,
				Message: fmt.Sprintf("Invalid session: %s. Please call start_session to create a new session", sessionID),
			},
		})
		return
	}
	runner := p.Agent()
	if runner == nil {
		p.log.Error("stream rejected: agent not initialized")
		p.emit(ctx, out, StreamEvent{
			SessionID: sessionID,
			Err:       &StreamError{Code: codeServerError, Message: "Agent not initialized"},
		})
		return
	}

	lock := p.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess.AppendQuery(queryText)
	p.metrics.streamQueries.Add(1)
	p.log.Info("processing streaming query for session %s: %s", sessionID, queryText)

	chunks, err := runner.RunStream(ctx, queryText)
	if err != nil {
		p.streamFailure(ctx, out, sessionID, err)
		return
	}

	var buf strings.Builder
	for chunk := range chunks {
		if ctx.Err() != nil {
			p.log.Info("stream cancelled for session %s", sessionID)
			return
		}
		if chunk.Err != nil {
			p.streamFailure(ctx, out, sessionID, chunk.Err)
			return
		}
		buf.WriteString(chunk.Content)
		if !p.emit(ctx, out, StreamEvent{
			Type:      "message",
			SessionID: sessionID,
			Content:   chunk.Content,
		}) {
			return
		}
	}

	if ctx.Err() != nil {
		return
	}

	// Only a stream that delivered zero chunks is a failure; chunks were
	// already surfaced as message events, so whatever arrived terminates
	// with a final. Whitespace is trimmed for storage and the final text.
	if buf.Len() == 0 {
		p.metrics.streamErrors.Add(1)
		p.log.Warn("stream produced no output for session %s", sessionID)
		p.emit(ctx, out, StreamEvent{
			SessionID: sessionID,
			Err:       &StreamError{Code: codeServerError, Message: "Stream query produced no valid output"},
		})
		return
	}

	final := strings.TrimSpace(buf.String())
	sess.AppendResponse(final)
	p.emit(ctx, out, StreamEvent{
		Type:      "final",
		SessionID: sessionID,
		Response:  final,
		Complete:  true,
	})
	p.log.Info("stream query succeeded for session %s", sessionID)
}

// streamFailure converts an agent error into the stream's terminal error
// event. Resource closure additionally triggers reinitialization so the
// next query can find a live agent.
func (p *Processor) streamFailure(ctx context.Context, out chan<- StreamEvent, sessionID string, err error) {
	if ctx.Err() != nil {
		return
	}
	p.metrics.streamErrors.Add(1)
	message := fmt.Sprintf("Stream query failed: %v", err)
	if agentexec.IsResourceClosed(err) {
		p.log.Info("resource closed during stream, reinitializing (session %s)", sessionID)
		if reinitErr := p.Reinitialize(ctx); reinitErr != nil {
			p.log.Error("reinitialization failed: %v", reinitErr)
			message = fmt.Sprintf("Reinitialization failed: %v", reinitErr)
		} else {
			message = (&RetryableError{Err: err}).Error()
			p.metrics.retryRequests.Add(1)
		}
	} else {
		p.log.Error("stream query error for session %s: %v", sessionID, err)
	}
	p.emit(ctx, out, StreamEvent{
		SessionID: sessionID,
		Err:       &StreamError{Code: codeServerError, Message: message},
	})
}

func (p *Processor) emit(ctx context.Context, out chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// Reinitialize tears down the current agent and reruns the full
// construction sequence. On success every live session is rebound to the
// new instance; history is preserved. Cancellation propagates as
// cancellation. On any other failure the processor is left with no agent
// and the error propagates to the caller.
func (p *Processor) Reinitialize(ctx context.Context) error {
	p.initMu.Lock()
	defer p.initMu.Unlock()

	p.log.Info("reinitializing query processor")
	p.metrics.reinits.Add(1)
	if old := p.current.Swap(nil); old != nil {
		closeRunner(old.runner)
	}

	if err := p.buildAgent(ctx); err != nil {
		p.metrics.reinitErrors.Add(1)
		if ctx.Err() != nil {
			p.log.Warn("reinitialization cancelled")
			return ctx.Err()
		}
		p.log.Error("reinitialization failed: %v", err)
		return err
	}

	p.store.RebindAll(p.Agent())
	p.log.Info("reinitialization succeeded (agent version %d)", p.AgentVersion())
	return nil
}

// SessionCount returns the number of live sessions.
func (p *Processor) SessionCount() int {
	return p.store.Len()
}

// Cleanup drops all sessions and the agent binding. Idempotent.
func (p *Processor) Cleanup() {
	p.store.Clear()
	if old := p.current.Swap(nil); old != nil {
		closeRunner(old.runner)
	}
	p.log.Info("query processor cleanup completed")
}

// closeRunner shuts a runner down when it supports closing.
func closeRunner(r agentexec.Runner) {
	type closer interface{ Close() }
	if c, ok := r.(closer); ok {
		c.Close()
	}
}

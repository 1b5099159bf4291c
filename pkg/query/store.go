package query

import (
	"sync"

	"github.com/yinglj/resolve-ai/pkg/agentexec"
)

// HistoryEntry is one item of a session's conversation history: either a
// query or a response, never both.
type HistoryEntry struct {
	Query    string `json:"query,omitempty"`
	Response string `json:"response,omitempty"`
}

// Session is a logical conversation scope. History is append-only for the
// session's life; the agent binding is swapped wholesale on
// reinitialization.
type Session struct {
	ID string

	mu      sync.Mutex
	history []HistoryEntry
	agent   agentexec.Runner
}

// AppendQuery appends a query entry to the history.
func (s *Session) AppendQuery(q string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, HistoryEntry{Query: q})
}

// AppendResponse appends a response entry to the history.
func (s *Session) AppendResponse(r string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, HistoryEntry{Response: r})
}

// History returns a copy of the session history.
func (s *Session) History() []HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]HistoryEntry, len(s.history))
	copy(out, s.history)
	return out
}

// Agent returns the runner bound to this session.
func (s *Session) Agent() agentexec.Runner {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agent
}

func (s *Session) rebind(agent agentexec.Runner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agent = agent
}

// Store is the in-memory session registry. Sessions live only in process
// memory and are lost on restart.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*Session),
	}
}

// Create registers a new session under the given id, bound to the given
// agent. An existing session with the same id is replaced.
func (st *Store) Create(id string, agent agentexec.Runner) *Session {
	sess := &Session{ID: id, agent: agent}
	st.mu.Lock()
	st.sessions[id] = sess
	st.mu.Unlock()
	return sess
}

// Get looks up a session by id.
func (st *Store) Get(id string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	sess, ok := st.sessions[id]
	return sess, ok
}

// Has reports whether the id names a live session.
func (st *Store) Has(id string) bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	_, ok := st.sessions[id]
	return ok
}

// Delete removes a session. Returns false if the id was unknown.
func (st *Store) Delete(id string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.sessions[id]; !ok {
		return false
	}
	delete(st.sessions, id)
	return true
}

// RebindAll swaps every live session's agent binding to the new instance.
// History is untouched.
func (st *Store) RebindAll(agent agentexec.Runner) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	for _, sess := range st.sessions {
		sess.rebind(agent)
	}
}

// Clear drops every session.
func (st *Store) Clear() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sessions = make(map[string]*Session)
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// IDs returns the ids of all live sessions.
func (st *Store) IDs() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]string, 0, len(st.sessions))
	for id := range st.sessions {
		out = append(out, id)
	}
	return out
}

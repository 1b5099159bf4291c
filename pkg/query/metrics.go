package query

import (
	"sync/atomic"
	"time"
)

// Metrics aggregates gateway-level counters. All fields are updated with
// atomics, so recording from concurrent queries needs no locking.
type Metrics struct {
	startTime time.Time

	sessionsStarted atomic.Int64
	sessionsEnded   atomic.Int64

	queries       atomic.Int64
	queryErrors   atomic.Int64
	streamQueries atomic.Int64
	streamErrors  atomic.Int64

	reinits       atomic.Int64
	reinitErrors  atomic.Int64
	retryRequests atomic.Int64
}

// MetricsSnapshot is a point-in-time view used by the debug endpoints.
type MetricsSnapshot struct {
	Uptime          time.Duration `json:"uptime"`
	ActiveSessions  int           `json:"activeSessions"`
	SessionsStarted int64         `json:"sessionsStarted"`
	SessionsEnded   int64         `json:"sessionsEnded"`
	Queries         int64         `json:"queries"`
	QueryErrors     int64         `json:"queryErrors"`
	StreamQueries   int64         `json:"streamQueries"`
	StreamErrors    int64         `json:"streamErrors"`
	Reinits         int64         `json:"reinits"`
	ReinitErrors    int64         `json:"reinitErrors"`
	RetryRequests   int64         `json:"retryRequests"`
	AgentVersion    uint64        `json:"agentVersion"`
	AgentReady      bool          `json:"agentReady"`
}

func newMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

func (m *Metrics) uptime() time.Duration {
	return time.Since(m.startTime)
}

// MetricsSnapshot captures the current counters plus live processor state.
func (p *Processor) MetricsSnapshot() MetricsSnapshot {
	m := p.metrics
	return MetricsSnapshot{
		Uptime:          m.uptime(),
		ActiveSessions:  p.SessionCount(),
		SessionsStarted: m.sessionsStarted.Load(),
		SessionsEnded:   m.sessionsEnded.Load(),
		Queries:         m.queries.Load(),
		QueryErrors:     m.queryErrors.Load(),
		StreamQueries:   m.streamQueries.Load(),
		StreamErrors:    m.streamErrors.Load(),
		Reinits:         m.reinits.Load(),
		ReinitErrors:    m.reinitErrors.Load(),
		RetryRequests:   m.retryRequests.Load(),
		AgentVersion:    p.AgentVersion(),
		AgentReady:      p.Agent() != nil,
	}
}

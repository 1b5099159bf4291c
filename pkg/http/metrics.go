// Package http provides debug HTTP endpoints for gateway metrics.
package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/yinglj/resolve-ai/pkg/query"
)

// MetricsHandler provides HTTP endpoints for gateway metrics.
type MetricsHandler struct {
	proc *query.Processor
}

// NewMetricsHandler creates a new metrics HTTP handler.
func NewMetricsHandler(proc *query.Processor) *MetricsHandler {
	return &MetricsHandler{proc: proc}
}

// RegisterRoutes registers metrics endpoints with HTTP mux.
func (h *MetricsHandler) RegisterRoutes(mux *http.ServeMux) {
	// Metrics overview page
	mux.HandleFunc("/debug/metrics", h.handleMetrics)
	mux.HandleFunc("/debug/metrics/", h.handleMetrics)

	mux.HandleFunc("/debug/metrics/health", h.handleHealth)

	// Prometheus-style metrics (text format)
	mux.HandleFunc("/debug/metrics/prometheus", h.handlePrometheus)
}

// handleMetrics returns the full metrics snapshot as JSON.
func (h *MetricsHandler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	snapshot := h.proc.MetricsSnapshot()
	if err := json.NewEncoder(w).Encode(snapshot); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// handleHealth returns a simple health check with basic metrics.
func (h *MetricsHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	snapshot := h.proc.MetricsSnapshot()
	status := "healthy"
	if !snapshot.AgentReady {
		status = "degraded"
	}

	health := struct {
		Status       string `json:"status"`
		UptimeSecs   int64  `json:"uptimeSeconds"`
		Sessions     int    `json:"activeSessions"`
		Queries      int64  `json:"queries"`
		QueryErrors  int64  `json:"queryErrors"`
		AgentVersion uint64 `json:"agentVersion"`
	}{
		Status:       status,
		UptimeSecs:   int64(snapshot.Uptime.Seconds()),
		Sessions:     snapshot.ActiveSessions,
		Queries:      snapshot.Queries,
		QueryErrors:  snapshot.QueryErrors,
		AgentVersion: snapshot.AgentVersion,
	}

	if err := json.NewEncoder(w).Encode(health); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// handlePrometheus returns metrics in Prometheus text format.
func (h *MetricsHandler) handlePrometheus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	s := h.proc.MetricsSnapshot()

	fmt.Fprintf(w, "# HELP resolveai_uptime_seconds Gateway uptime in seconds\n")
	fmt.Fprintf(w, "# TYPE resolveai_uptime_seconds gauge\n")
	fmt.Fprintf(w, "resolveai_uptime_seconds %.2f\n", s.Uptime.Seconds())

	fmt.Fprintf(w, "\n# HELP resolveai_sessions_active Number of live sessions\n")
	fmt.Fprintf(w, "# TYPE resolveai_sessions_active gauge\n")
	fmt.Fprintf(w, "resolveai_sessions_active %d\n", s.ActiveSessions)

	fmt.Fprintf(w, "\n# HELP resolveai_sessions_total Sessions by lifecycle event\n")
	fmt.Fprintf(w, "# TYPE resolveai_sessions_total counter\n")
	fmt.Fprintf(w, "resolveai_sessions_total{event=\"started\"} %d\n", s.SessionsStarted)
	fmt.Fprintf(w, "resolveai_sessions_total{event=\"ended\"} %d\n", s.SessionsEnded)

	fmt.Fprintf(w, "\n# HELP resolveai_queries_total Queries by transport\n")
	fmt.Fprintf(w, "# TYPE resolveai_queries_total counter\n")
	fmt.Fprintf(w, "resolveai_queries_total{transport=\"unary\"} %d\n", s.Queries)
	fmt.Fprintf(w, "resolveai_queries_total{transport=\"stream\"} %d\n", s.StreamQueries)

	fmt.Fprintf(w, "\n# HELP resolveai_query_errors_total Failed queries by transport\n")
	fmt.Fprintf(w, "# TYPE resolveai_query_errors_total counter\n")
	fmt.Fprintf(w, "resolveai_query_errors_total{transport=\"unary\"} %d\n", s.QueryErrors)
	fmt.Fprintf(w, "resolveai_query_errors_total{transport=\"stream\"} %d\n", s.StreamErrors)

	fmt.Fprintf(w, "\n# HELP resolveai_reinits_total Agent reinitialization attempts\n")
	fmt.Fprintf(w, "# TYPE resolveai_reinits_total counter\n")
	fmt.Fprintf(w, "resolveai_reinits_total %d\n", s.Reinits)

	fmt.Fprintf(w, "\n# HELP resolveai_reinit_errors_total Failed agent reinitializations\n")
	fmt.Fprintf(w, "# TYPE resolveai_reinit_errors_total counter\n")
	fmt.Fprintf(w, "resolveai_reinit_errors_total %d\n", s.ReinitErrors)

	fmt.Fprintf(w, "\n# HELP resolveai_retry_requests_total Queries answered with a retry request\n")
	fmt.Fprintf(w, "# TYPE resolveai_retry_requests_total counter\n")
	fmt.Fprintf(w, "resolveai_retry_requests_total %d\n", s.RetryRequests)

	fmt.Fprintf(w, "\n# HELP resolveai_agent_version Current agent binding version\n")
	fmt.Fprintf(w, "# TYPE resolveai_agent_version gauge\n")
	fmt.Fprintf(w, "resolveai_agent_version %d\n", s.AgentVersion)

	fmt.Fprintf(w, "\n# HELP resolveai_agent_ready Agent availability (1/0)\n")
	fmt.Fprintf(w, "# TYPE resolveai_agent_ready gauge\n")
	if s.AgentReady {
		fmt.Fprintf(w, "resolveai_agent_ready 1\n")
	} else {
		fmt.Fprintf(w, "resolveai_agent_ready 0\n")
	}
}

package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yinglj/resolve-ai/pkg/agentexec"
	"github.com/yinglj/resolve-ai/pkg/logger"
	"github.com/yinglj/resolve-ai/pkg/query"
)

type echoRunner struct{}

func (echoRunner) Run(ctx context.Context, q string) (string, error) { return q, nil }

func (echoRunner) RunStream(ctx context.Context, q string) (<-chan agentexec.Chunk, error) {
	ch := make(chan agentexec.Chunk, 1)
	ch <- agentexec.Chunk{Content: q}
	close(ch)
	return ch, nil
}

func newTestMux(t *testing.T) (*http.ServeMux, *query.Processor) {
	t.Helper()
	log, err := logger.NewLogger(&logger.Config{Level: logger.ERROR})
	require.NoError(t, err)

	proc := query.NewProcessor(func(ctx context.Context) (agentexec.Runner, error) {
		return echoRunner{}, nil
	}, log)
	require.NoError(t, proc.Initialize(context.Background()))

	mux := http.NewServeMux()
	NewMetricsHandler(proc).RegisterRoutes(mux)
	return mux, proc
}

func TestMetricsSnapshotJSON(t *testing.T) {
	mux, proc := newTestMux(t)

	id := proc.StartSession("")
	_, err := proc.ProcessQuery(context.Background(), id, "hello")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var snap query.MetricsSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, int64(1), snap.SessionsStarted)
	assert.Equal(t, int64(1), snap.Queries)
	assert.Equal(t, 1, snap.ActiveSessions)
	assert.True(t, snap.AgentReady)
	assert.Equal(t, uint64(1), snap.AgentVersion)
}

func TestHealthDegradedWithoutAgent(t *testing.T) {
	mux, proc := newTestMux(t)
	proc.Cleanup()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/metrics/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"degraded"`)
}

func TestPrometheusFormat(t *testing.T) {
	mux, proc := newTestMux(t)
	proc.StartSession("")

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/metrics/prometheus", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "resolveai_sessions_total{event=\"started\"} 1")
	assert.Contains(t, body, "resolveai_agent_ready 1")
	assert.Contains(t, body, "# TYPE resolveai_uptime_seconds gauge")
}

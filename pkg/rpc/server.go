// Package rpc is the transport gateway: it authenticates requests,
// validates JSON-RPC envelopes, routes to the query processor, and frames
// results as unary JSON or a Server-Sent-Events stream.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/yinglj/resolve-ai/pkg/config"
	"github.com/yinglj/resolve-ai/pkg/logger"
	"github.com/yinglj/resolve-ai/pkg/query"
	"github.com/yinglj/resolve-ai/pkg/sse"
)

// Server is the HTTP gateway in front of the query processor.
type Server struct {
	cfg  *config.Config
	proc *query.Processor
	log  *logger.Logger

	// connected flips to true once the startup agent construction
	// succeeds and never flips back; a broken agent is handled by
	// processor-level reinitialization, not a gateway state change.
	connected atomic.Bool

	httpServer *http.Server
}

// NewServer creates a gateway over the given processor. Call SetConnected
// once the startup agent is up.
func NewServer(cfg *config.Config, proc *query.Processor, log *logger.Logger) *Server {
	s := &Server{cfg: cfg, proc: proc, log: log}
	s.httpServer = &http.Server{
		Addr:    cfg.Listen,
		Handler: s.Handler(),
	}
	return s
}

// SetConnected marks the startup agent construction as succeeded.
func (s *Server) SetConnected(connected bool) {
	s.connected.Store(connected)
}

// Connected reports the gateway connection state.
func (s *Server) Connected() bool {
	return s.connected.Load()
}

// Handler returns the gateway's route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/rpc", s.handleRPC)
	mux.HandleFunc("/rpc/stream", s.handleStream)
	return mux
}

// ListenAndServe binds the listen address and blocks serving the gateway
// until the listener fails or Shutdown is called. Binding happens up front
// so an occupied port fails loudly instead of surfacing mid-serve.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("cannot bind %s (is the gateway already running?): %w", s.cfg.Listen, err)
	}
	s.log.Info("gateway listening on %s", s.cfg.Listen)
	err = s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// handleRPC serves the unary endpoint. All outcomes, success or error, are
// HTTP 200 with a JSON-RPC envelope; nothing escapes as a raw failure.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		s.writePreflight(w)
		return
	}
	defer s.recoverToEnvelope(w)

	if !s.authenticate(r) {
		s.writeResponse(w, ErrorResponse(ErrInvalidAPIKey(), nil))
		return
	}

	req, rpcErr := s.parseRequest(r)
	if rpcErr != nil {
		s.writeResponse(w, ErrorResponse(rpcErr, nil))
		return
	}
	s.log.Info("rpc request: method=%s id=%s", req.Method, string(req.ID))

	if req.Method != MethodStartSession {
		if !s.Connected() {
			s.log.Error("request rejected: server not connected")
			s.writeResponse(w, ErrorResponse(ErrNotConnected(), req.ID))
			return
		}
		if s.proc.Agent() == nil {
			s.log.Error("request rejected: no agent available")
			s.writeResponse(w, ErrorResponse(ErrServerError("InitializationError", "No agent available"), req.ID))
			return
		}
	}

	switch req.Method {
	case MethodStartSession:
		sessionID := s.proc.StartSession("")
		s.writeResponse(w, SuccessResponse(map[string]any{"session_id": sessionID}, req.ID))

	case MethodProcessQuery:
		s.handleProcessQuery(w, r, req)

	case MethodProcessQueryStream:
		s.log.Error("streaming request sent to /rpc")
		s.writeResponse(w, ErrorResponse(ErrInvalidRequest("Use /rpc/stream for streaming"), req.ID))

	case MethodEndSession:
		s.handleEndSession(w, req)

	default:
		s.log.Error("unknown method: %s", req.Method)
		s.writeResponse(w, ErrorResponse(ErrMethodNotFound(req.Method), req.ID))
	}
}

func (s *Server) handleProcessQuery(w http.ResponseWriter, r *http.Request, req *Request) {
	if req.Params.SessionID == "" || req.Params.Query == "" {
		s.writeResponse(w, ErrorResponse(ErrInvalidParams(paramsDetail(req.Params)), req.ID))
		return
	}
	if !s.proc.IsSessionValid(req.Params.SessionID) {
		s.writeResponse(w, ErrorResponse(ErrInvalidSession(req.Params.SessionID), req.ID))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout())
	defer cancel()

	response, err := s.proc.ProcessQuery(ctx, req.Params.SessionID, req.Params.Query)
	if err != nil {
		s.log.Error("query processing failed: %v", err)
		s.writeResponse(w, ErrorResponse(ErrServerError("QueryProcessingError", err.Error()), req.ID))
		return
	}
	s.writeResponse(w, SuccessResponse(map[string]any{
		"response":   response,
		"session_id": req.Params.SessionID,
		"complete":   true,
	}, req.ID))
}

func (s *Server) handleEndSession(w http.ResponseWriter, req *Request) {
	if req.Params.SessionID == "" {
		s.writeResponse(w, ErrorResponse(ErrInvalidParams(paramsDetail(req.Params)), req.ID))
		return
	}
	if err := s.proc.EndSession(req.Params.SessionID); err != nil {
		s.writeResponse(w, ErrorResponse(ErrInvalidSession(req.Params.SessionID), req.ID))
		return
	}
	s.writeResponse(w, SuccessResponse(map[string]any{
		"response":   "Session ended",
		"session_id": req.Params.SessionID,
	}, req.ID))
}

// handleStream serves the streaming endpoint. Envelope failures return
// synchronous JSON bodies; once the stream opens, everything including
// errors travels as SSE frames.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		s.writePreflight(w)
		return
	}
	defer s.recoverToEnvelope(w)

	if !s.authenticate(r) {
		s.writeResponse(w, ErrorResponse(ErrInvalidAPIKey(), nil))
		return
	}

	req, rpcErr := s.parseRequest(r)
	if rpcErr != nil {
		s.writeResponse(w, ErrorResponse(rpcErr, nil))
		return
	}
	s.log.Info("stream request: method=%s id=%s", req.Method, string(req.ID))

	if !s.Connected() {
		s.writeResponse(w, ErrorResponse(ErrNotConnected(), req.ID))
		return
	}
	if s.proc.Agent() == nil {
		s.writeResponse(w, ErrorResponse(ErrServerError("InitializationError", "No agent available"), req.ID))
		return
	}
	if req.Method != MethodProcessQueryStream {
		s.writeResponse(w, ErrorResponse(ErrMethodNotFound(req.Method), req.ID))
		return
	}
	if req.Params.SessionID == "" || req.Params.Query == "" {
		s.writeResponse(w, ErrorResponse(ErrInvalidParams(paramsDetail(req.Params)), req.ID))
		return
	}
	if !s.proc.IsSessionValid(req.Params.SessionID) {
		s.writeResponse(w, ErrorResponse(ErrInvalidSession(req.Params.SessionID), req.ID))
		return
	}

	writer, err := sse.NewWriter(w)
	if err != nil {
		s.writeResponse(w, ErrorResponse(ErrServerError("StreamError", err.Error()), req.ID))
		return
	}

	ctx := r.Context()
	events := s.proc.ProcessQueryStream(ctx, req.Params.SessionID, req.Params.Query)

	frames := make(chan any, 16)
	go func() {
		defer close(frames)
		for ev := range events {
			select {
			case frames <- s.envelope(ev, req.ID):
			case <-ctx.Done():
				return
			}
		}
		// End-of-stream signal for the primary protocol.
		select {
		case frames <- SuccessResponse(map[string]any{
			"type":     "stream_complete",
			"complete": true,
		}, req.ID):
		case <-ctx.Done():
		}
	}()

	writer.Pump(ctx, frames)
	s.log.Info("stream completed for session %s", req.Params.SessionID)
}

// envelope converts a processor stream event into the wire envelope.
func (s *Server) envelope(ev query.StreamEvent, id json.RawMessage) Response {
	if ev.Err != nil {
		return ErrorResponse(&Error{Code: ev.Err.Code, Message: ev.Err.Message}, id)
	}
	result := map[string]any{
		"session_id": ev.SessionID,
		"type":       ev.Type,
		"complete":   ev.Complete,
	}
	if ev.Type == "final" {
		result["response"] = ev.Response
	} else {
		result["content"] = ev.Content
	}
	return SuccessResponse(result, id)
}

// authenticate checks the bearer header, falling back to the api_key
// query parameter, against the configured key table.
func (s *Server) authenticate(r *http.Request) bool {
	apiKey := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if apiKey == "" {
		apiKey = r.URL.Query().Get("api_key")
	}
	user, ok := s.cfg.APIKeys[apiKey]
	if !ok || apiKey == "" {
		s.log.Warn("invalid or missing API key")
		return false
	}
	s.log.Info("API key validated for user: %s", user)
	return true
}

// parseRequest reads and validates the envelope. A missing jsonrpc field
// is tolerated; a wrong one is rejected.
func (s *Server) parseRequest(r *http.Request) (*Request, *Error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, ErrParseError(err.Error())
	}
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, ErrParseError(string(body))
	}
	if req.JSONRPC != "" && req.JSONRPC != JSONRPCVersion {
		return nil, ErrInvalidRequest(req.JSONRPC)
	}
	return &req, nil
}

func (s *Server) writeResponse(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Error("failed to write response: %v", err)
	}
}

func (s *Server) writePreflight(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, api_key")
	w.WriteHeader(http.StatusNoContent)
}

// recoverToEnvelope converts a handler panic into a SERVER_ERROR envelope
// so nothing crashes the gateway process.
func (s *Server) recoverToEnvelope(w http.ResponseWriter) {
	if rec := recover(); rec != nil {
		s.log.Error("rpc handler panic: %v", rec)
		s.writeResponse(w, ErrorResponse(ErrServerError("InternalError", fmt.Sprint(rec)), nil))
	}
}

func paramsDetail(p Params) string {
	return fmt.Sprintf("session_id=%q, query=%q", p.SessionID, p.Query)
}

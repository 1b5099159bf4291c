package rpc

import (
	"encoding/json"
	"fmt"
)

// JSONRPCVersion is the only protocol version the gateway accepts.
const JSONRPCVersion = "2.0"

// Method names.
const (
	MethodStartSession       = "start_session"
	MethodProcessQuery       = "process_query"
	MethodProcessQueryStream = "process_query_stream"
	MethodEndSession         = "end_session"
)

// Request is the JSON-RPC 2.0 request envelope. The id is opaque: echoed
// back verbatim, never interpreted.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  Params          `json:"params"`
	ID      json.RawMessage `json:"id"`
}

// Params carries the parameter mapping for every supported method.
type Params struct {
	SessionID string `json:"session_id"`
	Query     string `json:"query"`
}

// Response is the JSON-RPC 2.0 response envelope. Exactly one of Result
// and Error is set. A nil ID serializes as null.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// Error is the JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// JSON-RPC error codes, fixed per condition.
const (
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeServerError    = -32603
	CodeParseError     = -32700
)

func ErrInvalidAPIKey() *Error {
	return &Error{Code: CodeInvalidRequest, Message: "Invalid or missing API key"}
}

func ErrInvalidRequest(detail string) *Error {
	return &Error{Code: CodeInvalidRequest, Message: fmt.Sprintf("Invalid JSON-RPC request: %s", detail)}
}

func ErrNotConnected() *Error {
	return &Error{Code: CodeInvalidRequest, Message: "Server not connected"}
}

func ErrInvalidSession(sessionID string) *Error {
	return &Error{Code: CodeInvalidRequest, Message: fmt.Sprintf("Invalid session: %s", sessionID)}
}

func ErrInvalidParams(detail string) *Error {
	return &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("Invalid params: %s", detail)}
}

func ErrMethodNotFound(method string) *Error {
	return &Error{Code: CodeMethodNotFound, Message: fmt.Sprintf("Method not found: %s", method)}
}

func ErrParseError(detail string) *Error {
	return &Error{Code: CodeParseError, Message: fmt.Sprintf("Parse error: %s", detail)}
}

func ErrServerError(kind, detail string) *Error {
	return &Error{Code: CodeServerError, Message: fmt.Sprintf("%s: %s", kind, detail)}
}

// SuccessResponse wraps a result in a response envelope echoing the id.
func SuccessResponse(result any, id json.RawMessage) Response {
	return Response{JSONRPC: JSONRPCVersion, Result: result, ID: id}
}

// ErrorResponse wraps an error in a response envelope echoing the id.
func ErrorResponse(rpcErr *Error, id json.RawMessage) Response {
	return Response{JSONRPC: JSONRPCVersion, Error: rpcErr, ID: id}
}

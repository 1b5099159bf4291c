// Package client implements the gateway's client side: the RPC and
// stream transports plus an interactive simulator that exercises the
// protocol end to end.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/yinglj/resolve-ai/pkg/rpc"
	"github.com/yinglj/resolve-ai/pkg/sse"
)

// DefaultTimeout bounds each request when the caller does not say otherwise.
const DefaultTimeout = 120 * time.Second

// Client talks JSON-RPC to the gateway. Request ids are a simple counter;
// the server echoes them back without interpretation.
type Client struct {
	rpcURL    string
	streamURL string
	apiKey    string
	http      *http.Client
	requestID atomic.Int64
}

// New creates a client for the given /rpc endpoint. The stream endpoint
// is derived by appending /stream.
func New(rpcURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		rpcURL:    rpcURL,
		streamURL: rpcURL + "/stream",
		apiKey:    apiKey,
		http:      &http.Client{Timeout: timeout},
	}
}

// Call sends one unary request and decodes the response envelope.
func (c *Client) Call(ctx context.Context, method string, params rpc.Params) (*rpc.Response, error) {
	body, err := c.marshalRequest(method, params)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rpc request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rpc request failed with status %d", resp.StatusCode)
	}

	var out rpc.Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode rpc response: %w", err)
	}
	return &out, nil
}

// Stream opens a streaming query and returns a decoder over its events.
// The returned close func releases the connection; always call it.
func (c *Client) Stream(ctx context.Context, params rpc.Params) (*sse.Decoder, func(), error) {
	body, err := c.marshalRequest(rpc.MethodProcessQueryStream, params)
	if err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.streamURL, bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")

	// The shared client's timeout would kill long streams.
	streamClient := &http.Client{}
	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("stream request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, nil, fmt.Errorf("stream request failed with status %d", resp.StatusCode)
	}

	return sse.NewDecoder(resp), func() { resp.Body.Close() }, nil
}

// StartSession asks the gateway for a fresh session id.
func (c *Client) StartSession(ctx context.Context) (string, error) {
	resp, err := c.Call(ctx, rpc.MethodStartSession, rpc.Params{})
	if err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", resp.Error
	}
	result, ok := resp.Result.(map[string]any)
	if !ok {
		return "", fmt.Errorf("malformed start_session result")
	}
	sessionID, _ := result["session_id"].(string)
	if sessionID == "" {
		return "", fmt.Errorf("start_session returned no session id")
	}
	return sessionID, nil
}

// ProcessQuery runs one unary query and returns the response text.
func (c *Client) ProcessQuery(ctx context.Context, sessionID, queryText string) (string, error) {
	resp, err := c.Call(ctx, rpc.MethodProcessQuery, rpc.Params{SessionID: sessionID, Query: queryText})
	if err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", resp.Error
	}
	result, ok := resp.Result.(map[string]any)
	if !ok {
		return "", fmt.Errorf("malformed process_query result")
	}
	response, _ := result["response"].(string)
	return response, nil
}

// EndSession tears the session down. Errors from the server still mean
// the session is unusable, so callers should drop the id either way.
func (c *Client) EndSession(ctx context.Context, sessionID string) error {
	resp, err := c.Call(ctx, rpc.MethodEndSession, rpc.Params{SessionID: sessionID})
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	return nil
}

func (c *Client) marshalRequest(method string, params rpc.Params) ([]byte, error) {
	id := c.requestID.Add(1)
	idJSON, _ := json.Marshal(id)
	return json.Marshal(rpc.Request{
		JSONRPC: rpc.JSONRPCVersion,
		Method:  method,
		Params:  params,
		ID:      idJSON,
	})
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

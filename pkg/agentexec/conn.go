package agentexec

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/yinglj/resolve-ai/pkg/config"
	"github.com/yinglj/resolve-ai/pkg/logger"
)

// Manager holds the MCP tool-server connections the agent executes
// against. Safe for concurrent CallTool use.
type Manager struct {
	mu      sync.RWMutex
	servers map[string]*serverConn
	log     *logger.Logger
}

type serverConn struct {
	mu      sync.Mutex
	name    string
	config  config.ServerConfig
	client  *mcp.Client
	session *mcp.ClientSession
	tools   []*mcp.Tool
}

// NewManager builds a Manager from configuration without connecting.
func NewManager(cfg *config.Config, log *logger.Logger) *Manager {
	m := &Manager{
		servers: make(map[string]*serverConn),
		log:     log,
	}
	for name, srv := range cfg.MCPServers {
		m.servers[name] = &serverConn{
			name:   name,
			config: srv,
			client: newMCPClient(),
		}
	}
	return m
}

func newMCPClient() *mcp.Client {
	return mcp.NewClient(&mcp.Implementation{
		Name:    "resolve-ai",
		Version: "1.0.0",
	}, nil)
}

// ConnectAll connects every configured server and caches its tool list.
// One server failing does not stop the rest; all errors are returned.
func (m *Manager) ConnectAll(ctx context.Context) []error {
	var errs []error
	for _, conn := range m.snapshot() {
		if err := conn.connect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("mcp server %q: %w", conn.name, err))
			continue
		}
		m.log.Info("connected mcp server %q (%d tools)", conn.name, len(conn.listTools()))
	}
	return errs
}

// CallTool invokes a tool on the named server under the server's
// configured timeout. Transport errors are classified at this seam so
// callers see ResourceClosedError for channel closure.
func (m *Manager) CallTool(ctx context.Context, serverName, toolName string, args map[string]any) (string, error) {
	m.mu.RLock()
	conn, ok := m.servers[serverName]
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("mcp server %q not found", serverName)
	}

	callCtx, cancel := context.WithTimeout(ctx, conn.config.EffectiveTimeout())
	defer cancel()

	result, err := conn.callTool(callCtx, toolName, args)
	if err != nil {
		return "", ClassifyToolError(serverName, err)
	}
	text := extractText(result)
	if result.IsError {
		return "", fmt.Errorf("tool %q failed: %s", toolName, text)
	}
	return text, nil
}

// AllTools returns the cached tool lists keyed by server name.
func (m *Manager) AllTools() map[string][]*mcp.Tool {
	out := make(map[string][]*mcp.Tool)
	for _, conn := range m.snapshot() {
		if tools := conn.listTools(); len(tools) > 0 {
			out[conn.name] = tools
		}
	}
	return out
}

// HasServer reports whether a server is configured.
func (m *Manager) HasServer(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.servers[name]
	return ok
}

// Close shuts down every connection.
func (m *Manager) Close() {
	for _, conn := range m.snapshot() {
		conn.mu.Lock()
		conn.disconnect()
		conn.mu.Unlock()
	}
}

func (m *Manager) snapshot() []*serverConn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*serverConn, 0, len(m.servers))
	for _, conn := range m.servers {
		out = append(out, conn)
	}
	return out
}

func (conn *serverConn) connect(ctx context.Context) error {
	conn.mu.Lock()
	defer conn.mu.Unlock()

	if conn.session != nil {
		return nil
	}

	// URL entries without an explicit type try Streamable HTTP first, then
	// fall back to the older SSE protocol.
	autoDetect := conn.config.URL != "" && conn.config.Type == ""

	transport, err := buildTransport(conn.config)
	if err != nil {
		return err
	}

	session, err := conn.client.Connect(ctx, transport, nil)
	if err != nil && autoDetect {
		// Connect is one-shot per client; a fresh one is needed for retry.
		conn.client = newMCPClient()
		sseCfg := conn.config
		sseCfg.Type = config.ServerTypeSSE
		sseTransport, sseErr := buildTransport(sseCfg)
		if sseErr != nil {
			return fmt.Errorf("connect (streamable HTTP: %v; SSE build: %v)", err, sseErr)
		}
		session, sseErr = conn.client.Connect(ctx, sseTransport, nil)
		if sseErr != nil {
			return fmt.Errorf("connect (streamable HTTP: %v; SSE: %v)", err, sseErr)
		}
		conn.config.Type = config.ServerTypeSSE
	} else if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	conn.session = session

	if result, err := session.ListTools(ctx, nil); err == nil {
		conn.tools = result.Tools
	} else {
		conn.tools = nil
	}
	return nil
}

func (conn *serverConn) disconnect() {
	if conn.session != nil {
		_ = conn.session.Close()
		conn.session = nil
	}
	conn.tools = nil
}

func (conn *serverConn) callTool(ctx context.Context, toolName string, args map[string]any) (*mcp.CallToolResult, error) {
	conn.mu.Lock()
	session := conn.session
	conn.mu.Unlock()

	if session == nil {
		return nil, fmt.Errorf("not connected")
	}
	return session.CallTool(ctx, &mcp.CallToolParams{
		Name:      toolName,
		Arguments: args,
	})
}

func (conn *serverConn) listTools() []*mcp.Tool {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	cp := make([]*mcp.Tool, len(conn.tools))
	copy(cp, conn.tools)
	return cp
}

func buildTransport(cfg config.ServerConfig) (mcp.Transport, error) {
	switch cfg.EffectiveType() {
	case config.ServerTypeStdio:
		if cfg.Command == "" {
			return nil, fmt.Errorf("stdio transport requires 'command'")
		}
		cmd := exec.Command(cfg.Command, cfg.Args...)
		if len(cfg.Env) > 0 {
			cmd.Env = os.Environ()
			for k, v := range cfg.Env {
				cmd.Env = append(cmd.Env, k+"="+v)
			}
		}
		return &mcp.CommandTransport{Command: cmd}, nil

	case config.ServerTypeHTTP:
		if cfg.URL == "" {
			return nil, fmt.Errorf("http transport requires 'url'")
		}
		t := &mcp.StreamableClientTransport{Endpoint: cfg.URL}
		if len(cfg.Headers) > 0 {
			t.HTTPClient = headerClient(cfg.Headers)
		}
		return t, nil

	case config.ServerTypeSSE:
		if cfg.URL == "" {
			return nil, fmt.Errorf("sse transport requires 'url'")
		}
		t := &mcp.SSEClientTransport{Endpoint: cfg.URL}
		if len(cfg.Headers) > 0 {
			t.HTTPClient = headerClient(cfg.Headers)
		}
		return t, nil

	default:
		return nil, fmt.Errorf("unknown transport type: %q", cfg.EffectiveType())
	}
}

func extractText(result *mcp.CallToolResult) string {
	if result == nil {
		return ""
	}
	var parts []string
	for _, c := range result.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func headerClient(headers map[string]string) *http.Client {
	return &http.Client{
		Transport: &headerRoundTripper{
			base:    http.DefaultTransport,
			headers: headers,
		},
	}
}

type headerRoundTripper struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	for k, v := range t.headers {
		r.Header.Set(k, v)
	}
	return t.base.RoundTrip(r)
}

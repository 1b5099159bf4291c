package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/yinglj/resolve-ai/pkg/logger"
)

// DefaultListenAddr is where the gateway serves when the config is silent.
const DefaultListenAddr = "localhost:8080"

// DefaultAPIKey is the demo key accepted when the config provides none.
// Production deployments should replace it via the apiKeys config map.
const DefaultAPIKey = "sk-1234567890abcdef"

// defaultServerTimeout applies when a server entry omits or mangles its
// timeout value.
const defaultServerTimeout = 10 * time.Second

// Config represents the gateway configuration, normally loaded from
// mcp_config.json.
type Config struct {
	// Listen is the host:port the gateway binds.
	Listen string `json:"listen,omitempty"`

	// MCPServers maps server name to its tool-connection settings.
	MCPServers map[string]ServerConfig `json:"mcpServers"`

	// APIKeys maps API key to the user identity it authenticates.
	APIKeys map[string]string `json:"apiKeys"`

	// Timeout is the default per-request timeout in seconds.
	Timeout float64 `json:"timeout,omitempty"`

	// LLM selects the chat model backing the agent.
	LLM LLMConfig `json:"llm"`

	// Log configures the logging subsystem.
	Log *LogConfig `json:"log,omitempty"`
}

// ServerConfig holds connection settings for a single MCP tool server.
// The JSON shape is compatible with the common mcp.json format.
type ServerConfig struct {
	// Type is the transport type; inferred from Command/URL if omitted.
	Type ServerType `json:"type,omitempty"`

	// Stdio transport
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`

	// HTTP transports
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`

	// Timeout in seconds for calls against this server. Invalid or missing
	// values fall back to the default.
	Timeout float64 `json:"timeout,omitempty"`
}

// ServerType specifies the MCP server transport type.
type ServerType string

const (
	ServerTypeStdio ServerType = "stdio" // child process stdin/stdout
	ServerTypeHTTP  ServerType = "http"  // Streamable HTTP
	ServerTypeSSE   ServerType = "sse"   // legacy SSE protocol
)

// EffectiveType infers the actual transport type.
func (c *ServerConfig) EffectiveType() ServerType {
	if c.Type != "" {
		return c.Type
	}
	if c.URL != "" {
		return ServerTypeHTTP
	}
	return ServerTypeStdio
}

// EffectiveTimeout returns the per-server call timeout, falling back to
// the default when the configured value is absent or non-positive.
func (c *ServerConfig) EffectiveTimeout() time.Duration {
	if c.Timeout > 0 {
		return time.Duration(c.Timeout * float64(time.Second))
	}
	return defaultServerTimeout
}

// LLMConfig contains model configuration.
type LLMConfig struct {
	ID        string `json:"id"`
	Provider  string `json:"provider"`
	BaseURL   string `json:"baseUrl,omitempty"`
	APIKeyEnv string `json:"apiKeyEnv,omitempty"` // env var holding the provider key
}

// LogConfig contains logging configuration.
type LogConfig struct {
	Level  string `json:"level,omitempty"`  // Log level: debug, info, warn, error
	File   string `json:"file,omitempty"`   // Log file path (empty = no file logging)
	Prefix string `json:"prefix,omitempty"` // Log prefix
}

// DefaultLogConfig returns default logging configuration.
func DefaultLogConfig() *LogConfig {
	homeDir, _ := os.UserHomeDir()
	return &LogConfig{
		Level:  "info",
		File:   filepath.Join(homeDir, ".resolve-ai", "resolve-ai.log"),
		Prefix: "[resolve-ai] ",
	}
}

// CreateLogger creates a logger from the log configuration.
func (c *LogConfig) CreateLogger() (*logger.Logger, error) {
	if c == nil {
		c = DefaultLogConfig()
	}

	cfg := &logger.Config{
		Level:    logger.ParseLogLevel(c.Level),
		Prefix:   c.Prefix,
		Console:  true,
		File:     c.File != "",
		FilePath: c.File,
	}

	return logger.NewLogger(cfg)
}

// LoadConfig loads configuration from file and merges with environment
// variables. Environment variables take precedence over config file values.
func LoadConfig(configPath string) (*Config, error) {
	// Start with default config
	cfg := &Config{
		Listen: DefaultListenAddr,
		LLM: LLMConfig{
			ID:        getEnv("RESOLVE_AI_MODEL", "gpt-4o"),
			Provider:  "openai",
			BaseURL:   getEnv("RESOLVE_AI_BASE_URL", ""),
			APIKeyEnv: "OPENAI_API_KEY",
		},
		Log: DefaultLogConfig(),
	}

	// Load from file if it exists (file values override defaults)
	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Environment variables override config file
	if val := os.Getenv("RESOLVE_AI_MODEL"); val != "" {
		cfg.LLM.ID = val
	}
	if val := os.Getenv("RESOLVE_AI_BASE_URL"); val != "" {
		cfg.LLM.BaseURL = val
	}
	if val := os.Getenv("RESOLVE_AI_LISTEN"); val != "" {
		cfg.Listen = val
	}

	cfg.normalize()
	return cfg, nil
}

// SaveConfig saves configuration to file.
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// normalize expands environment references in server entries and drops
// invalid pieces so downstream code sees a clean view.
func (c *Config) normalize() {
	if c.Listen == "" {
		c.Listen = DefaultListenAddr
	}
	if c.MCPServers == nil {
		c.MCPServers = make(map[string]ServerConfig)
	}
	if len(c.APIKeys) == 0 {
		c.APIKeys = map[string]string{DefaultAPIKey: "demo_user"}
	}

	for name, srv := range c.MCPServers {
		if srv.Timeout < 0 {
			srv.Timeout = 0
		}
		c.MCPServers[name] = expandServerConfig(srv)
	}
}

// ServerTimeout returns the call timeout for a named server, or the
// default when the server is unknown.
func (c *Config) ServerTimeout(name string) time.Duration {
	if srv, ok := c.MCPServers[name]; ok {
		return srv.EffectiveTimeout()
	}
	return defaultServerTimeout
}

// RequestTimeout returns the gateway-wide request timeout.
func (c *Config) RequestTimeout() time.Duration {
	if c.Timeout > 0 {
		return time.Duration(c.Timeout * float64(time.Second))
	}
	return defaultServerTimeout
}

// LLMAPIKey resolves the provider API key from the configured env var.
func (c *Config) LLMAPIKey() string {
	if c.LLM.APIKeyEnv == "" {
		return os.Getenv("OPENAI_API_KEY")
	}
	return os.Getenv(c.LLM.APIKeyEnv)
}

// GetDefaultConfigPath returns the default config file path.
func GetDefaultConfigPath() string {
	if path := os.Getenv("RESOLVE_AI_CONFIG"); path != "" {
		return path
	}
	return "mcp_config.json"
}

// expandServerConfig expands ${VAR} and $VAR references in all
// ServerConfig string fields.
func expandServerConfig(srv ServerConfig) ServerConfig {
	srv.Command = os.Expand(srv.Command, os.Getenv)
	srv.URL = os.Expand(srv.URL, os.Getenv)

	if len(srv.Args) > 0 {
		expanded := make([]string, len(srv.Args))
		for i, a := range srv.Args {
			expanded[i] = os.Expand(a, os.Getenv)
		}
		srv.Args = expanded
	}

	if len(srv.Env) > 0 {
		envExp := make(map[string]string, len(srv.Env))
		for k, v := range srv.Env {
			envExp[k] = os.Expand(v, os.Getenv)
		}
		srv.Env = envExp
	}

	if len(srv.Headers) > 0 {
		hdrs := make(map[string]string, len(srv.Headers))
		for k, v := range srv.Headers {
			hdrs[k] = os.Expand(v, os.Getenv)
		}
		srv.Headers = hdrs
	}

	return srv
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)

	assert.Equal(t, DefaultListenAddr, cfg.Listen)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.NotNil(t, cfg.MCPServers)
	assert.Equal(t, "demo_user", cfg.APIKeys[DefaultAPIKey])
	assert.Equal(t, defaultServerTimeout, cfg.RequestTimeout())
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mcp_config.json")
	content := `{
		"listen": "127.0.0.1:9200",
		"timeout": 30,
		"mcpServers": {
			"davinci-resolve": {
				"command": "python",
				"args": ["resolve_mcp_server.py"],
				"timeout": 120
			},
			"remote": {
				"url": "http://localhost:9000/mcp"
			}
		},
		"apiKeys": {
			"test-key-1": "alice"
		},
		"llm": {
			"id": "gpt-4o-mini",
			"provider": "openai"
		}
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9200", cfg.Listen)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout())
	assert.Equal(t, "alice", cfg.APIKeys["test-key-1"])

	resolve := cfg.MCPServers["davinci-resolve"]
	assert.Equal(t, ServerTypeStdio, resolve.EffectiveType())
	assert.Equal(t, 120*time.Second, resolve.EffectiveTimeout())

	remote := cfg.MCPServers["remote"]
	assert.Equal(t, ServerTypeHTTP, remote.EffectiveType())
	assert.Equal(t, defaultServerTimeout, remote.EffectiveTimeout())
}

func TestLoadConfigInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("RESOLVE_AI_MODEL", "gpt-5")
	t.Setenv("RESOLVE_AI_LISTEN", "0.0.0.0:8123")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)

	assert.Equal(t, "gpt-5", cfg.LLM.ID)
	assert.Equal(t, "0.0.0.0:8123", cfg.Listen)
}

func TestServerConfigExpansion(t *testing.T) {
	t.Setenv("RESOLVE_HOME", "/opt/resolve")
	t.Setenv("RESOLVE_TOKEN", "secret")

	srv := expandServerConfig(ServerConfig{
		Command: "${RESOLVE_HOME}/bin/server",
		Args:    []string{"--root", "$RESOLVE_HOME"},
		Env:     map[string]string{"TOKEN": "${RESOLVE_TOKEN}"},
		Headers: map[string]string{"Authorization": "Bearer ${RESOLVE_TOKEN}"},
	})

	assert.Equal(t, "/opt/resolve/bin/server", srv.Command)
	assert.Equal(t, []string{"--root", "/opt/resolve"}, srv.Args)
	assert.Equal(t, "secret", srv.Env["TOKEN"])
	assert.Equal(t, "Bearer secret", srv.Headers["Authorization"])
}

func TestSaveAndReloadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "mcp_config.json")
	cfg := &Config{
		Listen:  "localhost:8999",
		Timeout: 15,
		APIKeys: map[string]string{"k": "u"},
		LLM:     LLMConfig{ID: "gpt-4o", Provider: "openai"},
	}

	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "localhost:8999", loaded.Listen)
	assert.Equal(t, 15*time.Second, loaded.RequestTimeout())
	assert.Equal(t, "u", loaded.APIKeys["k"])
}

func TestLLMAPIKey(t *testing.T) {
	t.Setenv("CUSTOM_KEY_ENV", "abc123")

	cfg := &Config{LLM: LLMConfig{APIKeyEnv: "CUSTOM_KEY_ENV"}}
	assert.Equal(t, "abc123", cfg.LLMAPIKey())
}

func TestCreateLogger(t *testing.T) {
	lc := &LogConfig{Level: "debug", Prefix: "[t] "}
	log, err := lc.CreateLogger()
	require.NoError(t, err)
	defer log.Close()
	assert.NotNil(t, log)
}

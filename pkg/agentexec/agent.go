package agentexec

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"

	"github.com/yinglj/resolve-ai/pkg/config"
	"github.com/yinglj/resolve-ai/pkg/logger"
)

// maxToolRounds bounds the tool-call loop so a confused model cannot spin
// forever against the Resolve scripting API.
const maxToolRounds = 16

// Chunk is one unit of incremental agent output.
type Chunk struct {
	Content string
	Err     error
}

// Runner is the capability set the query processor requires from an agent:
// accept a natural-language query and produce a final text result, either
// in one shot or incrementally.
type Runner interface {
	Run(ctx context.Context, query string) (string, error)
	RunStream(ctx context.Context, query string) (<-chan Chunk, error)
}

// Agent executes queries against an LLM with the Resolve tool surface
// attached. Each Run/RunStream call is an independent conversation; the
// gateway keeps cross-query history in the session store.
type Agent struct {
	name      string
	provider  *Provider
	registry  *Registry
	conns     *Manager
	knowledge Knowledge
	log       *logger.Logger
}

// New constructs an agent from configuration: connects the configured MCP
// tool servers, builds the tool registry, and wires the LLM provider.
// Connection failure of every server is fatal; partial failure degrades to
// the servers that did connect.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Agent, error) {
	conns := NewManager(cfg, log)
	errs := conns.ConnectAll(ctx)
	for _, err := range errs {
		log.Warn("agent: %v", err)
	}
	if len(cfg.MCPServers) > 0 && len(errs) == len(cfg.MCPServers) {
		conns.Close()
		return nil, &InitializationError{Stage: "tool connections", Err: errs[0]}
	}

	apiKey := cfg.LLMAPIKey()
	if apiKey == "" {
		conns.Close()
		return nil, &InitializationError{Stage: "llm provider", Err: fmt.Errorf("no API key in $%s", cfg.LLM.APIKeyEnv)}
	}
	provider := NewProvider(apiKey, cfg.LLM.BaseURL, cfg.LLM.ID)

	registry := NewRegistry()
	registry.AddManagerTools(conns)
	RegisterResolveTools(registry, conns)

	log.Info("agent ready: model=%s tools=%d servers=%d", cfg.LLM.ID, registry.Len(), len(cfg.MCPServers))
	return &Agent{
		name:      "resolve-agent",
		provider:  provider,
		registry:  registry,
		conns:     conns,
		knowledge: NewKnowledge(),
		log:       log,
	}, nil
}

// Name returns the agent's display name.
func (a *Agent) Name() string {
	return a.name
}

// Run executes a query to completion and returns the final text.
func (a *Agent) Run(ctx context.Context, query string) (string, error) {
	var final strings.Builder
	err := a.runLoop(ctx, query, func(text string) error {
		final.WriteString(text)
		return nil
	})
	if err != nil {
		return "", err
	}
	return final.String(), nil
}

// RunStream executes a query and delivers incremental output on the
// returned channel. The channel is closed when execution finishes; an Err
// chunk, if any, is the last element delivered.
func (a *Agent) RunStream(ctx context.Context, query string) (<-chan Chunk, error) {
	out := make(chan Chunk, 16)
	go func() {
		defer close(out)
		err := a.runLoop(ctx, query, func(text string) error {
			select {
			case out <- Chunk{Content: text}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil && ctx.Err() == nil {
			out <- Chunk{Err: err}
		}
	}()
	return out, nil
}

// Close shuts down the agent's tool connections and knowledge store.
func (a *Agent) Close() {
	a.conns.Close()
	if err := a.knowledge.Close(); err != nil {
		a.log.Warn("knowledge close: %v", err)
	}
}

// runLoop drives the chat/tool-call cycle, forwarding every text delta to
// emit. One round trip per tool batch, bounded by maxToolRounds.
func (a *Agent) runLoop(ctx context.Context, query string, emit func(string) error) error {
	system := systemPrompt
	if background, err := a.knowledge.Lookup(ctx, query); err != nil {
		a.log.Warn("knowledge lookup: %v", err)
	} else if background != "" {
		system += "\n\nReference material:\n" + background
	}

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(system),
		openai.UserMessage(query),
	}
	tools := a.registry.Schemas()

	for round := 0; round < maxToolRounds; round++ {
		turn, err := a.provider.Chat(ctx, messages, tools, emit)
		if err != nil {
			return err
		}

		if len(turn.ToolCalls) == 0 {
			return nil
		}

		messages = append(messages, turn.AssistantParam())
		for _, call := range turn.ToolCalls {
			a.log.Info("tool call: %s(%s)", call.Name, truncate(string(call.Args), 200))
			result, err := a.registry.Call(ctx, call.Name, call.Args)
			if err != nil {
				if IsResourceClosed(err) || ctx.Err() != nil {
					return err
				}
				// Non-fatal tool error: hand it back to the model.
				result = fmt.Sprintf("tool error: %v", err)
			}
			messages = append(messages, openai.ToolMessage(result, call.ID))
		}
	}

	return fmt.Errorf("tool-call loop exceeded %d rounds", maxToolRounds)
}

const systemPrompt = `You are an assistant operating DaVinci Resolve through its scripting API.
Use the available tools to inspect and modify projects, timelines, and the media pool.
Prefer tool calls over guessing; report results concisely.`

// truncate shortens a string for log lines.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

package agentexec

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ToolCall is one completed tool invocation request from the model.
type ToolCall struct {
	ID   string
	Name string
	Args json.RawMessage
}

// Turn is the outcome of a single chat round trip: the assistant's text
// plus any tool calls it requested.
type Turn struct {
	Text      string
	ToolCalls []ToolCall
}

// AssistantParam converts the turn back into a message param so the tool
// results can be threaded into the next round.
func (t *Turn) AssistantParam() openai.ChatCompletionMessageParamUnion {
	var calls []openai.ChatCompletionMessageToolCallParam
	for _, tc := range t.ToolCalls {
		calls = append(calls, openai.ChatCompletionMessageToolCallParam{
			ID:   tc.ID,
			Type: "function",
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      tc.Name,
				Arguments: string(tc.Args),
			},
		})
	}
	assistant := openai.ChatCompletionAssistantMessageParam{
		Content:   openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(t.Text)},
		ToolCalls: calls,
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant}
}

// Provider wraps an OpenAI-compatible chat completion API. Works against
// OpenAI itself or any compatible endpoint via baseURL.
type Provider struct {
	client openai.Client
	model  string
}

// NewProvider builds a provider for the given credentials and model.
func NewProvider(apiKey, baseURL, model string) *Provider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Provider{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

// Chat runs one streaming round trip. Text deltas are forwarded to emit as
// they arrive; accumulated text and tool calls are returned when the model
// finishes the turn.
//
// OpenAI streaming tool-call behavior: deltas arrive under an index field,
// id and name only appear in the first delta for that index, and argument
// JSON is delivered as incremental fragments that must be concatenated.
func (p *Provider) Chat(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, tools []openai.ChatCompletionToolParam, emit func(string) error) (*Turn, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(p.model),
		Messages: messages,
	}
	if len(tools) > 0 {
		params.Tools = tools
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	type pendingCall struct {
		id      string
		name    string
		argsBuf strings.Builder
	}
	pending := make(map[int]*pendingCall)
	var callOrder []int
	var text strings.Builder

	for stream.Next() {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta

		if delta.Content != "" {
			text.WriteString(delta.Content)
			if emit != nil {
				if err := emit(delta.Content); err != nil {
					return nil, err
				}
			}
		}

		for _, tc := range delta.ToolCalls {
			idx := int(tc.Index)
			if _, ok := pending[idx]; !ok {
				pending[idx] = &pendingCall{}
				callOrder = append(callOrder, idx)
			}
			pc := pending[idx]
			if tc.ID != "" {
				pc.id = tc.ID
			}
			if tc.Function.Name != "" {
				pc.name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				pc.argsBuf.WriteString(tc.Function.Arguments)
			}
		}
	}

	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("chat completion stream: %w", err)
	}

	turn := &Turn{Text: text.String()}
	for _, idx := range callOrder {
		pc := pending[idx]
		args := pc.argsBuf.String()
		if args == "" {
			args = "{}"
		}
		turn.ToolCalls = append(turn.ToolCalls, ToolCall{
			ID:   pc.id,
			Name: pc.name,
			Args: json.RawMessage(args),
		})
	}
	return turn, nil
}

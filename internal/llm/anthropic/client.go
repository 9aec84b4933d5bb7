// Package anthropic adapts the Anthropic Claude Messages API
// (github.com/anthropics/anthropic-sdk-go) to the llm.Adapter
// contract.
package anthropic

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/kodustech/agent-kernel/internal/llm"
)

// MessagesClient captures the subset of the Anthropic SDK used here so
// tests can substitute a fake.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Options configures the adapter.
type Options struct {
	DefaultModel string
	MaxTokens    int
	Temperature  float64
}

// Client implements llm.Adapter over Anthropic Messages.
type Client struct {
	msg    MessagesClient
	model  string
	maxTok int
	temp   float64
}

// New builds a Client from an existing Anthropic messages client.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("anthropic: default model is required")
	}
	return &Client{msg: msg, model: opts.DefaultModel, maxTok: opts.MaxTokens, temp: opts.Temperature}, nil
}

// NewFromAPIKey builds a Client using the SDK's default HTTP transport.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	c := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&c.Messages, Options{DefaultModel: defaultModel})
}

// Call issues a Messages.New request and translates the response into
// the generic llm.Response shape.
func (c *Client) Call(ctx context.Context, messages []llm.Message, opts llm.CallOptions) (llm.Response, error) {
	modelID := opts.Model
	if modelID == "" {
		modelID = c.model
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTok
	}
	if maxTokens <= 0 {
		return llm.Response{}, errors.New("anthropic: max tokens must be positive")
	}

	msgParams, system := encodeMessages(messages)
	if len(msgParams) == 0 {
		return llm.Response{}, errors.New("anthropic: messages are required")
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(modelID),
		MaxTokens: int64(maxTokens),
		Messages:  msgParams,
	}
	if len(system) > 0 {
		params.System = system
	}
	if len(opts.Tools) > 0 {
		params.Tools = encodeTools(opts.Tools)
	}
	temp := opts.Temperature
	if temp <= 0 {
		temp = c.temp
	}
	if temp > 0 {
		params.Temperature = sdk.Float(temp)
	}
	if len(opts.StopSequences) > 0 {
		params.StopSequences = opts.StopSequences
	}

	msg, err := c.msg.New(ctx, params)
	if err != nil {
		return llm.Response{}, fmt.Errorf("anthropic messages.new: %w", err)
	}
	return translateResponse(msg), nil
}

func encodeMessages(messages []llm.Message) ([]sdk.MessageParam, []sdk.TextBlockParam) {
	out := make([]sdk.MessageParam, 0, len(messages))
	var system []sdk.TextBlockParam
	for _, m := range messages {
		switch m.Role {
		case "system":
			if m.Content != "" {
				system = append(system, sdk.TextBlockParam{Text: m.Content})
			}
		case "assistant":
			out = append(out, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		default:
			out = append(out, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		}
	}
	return out, system
}

func encodeTools(defs []llm.ToolDefinition) []sdk.ToolUnionParam {
	out := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		schema := toolInputSchemaParam(def.InputSchema)
		u := sdk.ToolUnionParamOfTool(schema, def.Name)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(def.Description)
		}
		out = append(out, u)
	}
	return out
}

func toolInputSchemaParam(schema any) sdk.ToolInputSchemaParam {
	m, _ := schema.(map[string]any)
	props, _ := m["properties"].(map[string]any)
	var required []string
	if r, ok := m["required"].([]any); ok {
		for _, v := range r {
			if s, ok := v.(string); ok {
				required = append(required, s)
			}
		}
	}
	return sdk.ToolInputSchemaParam{Properties: props, Required: required}
}

func translateResponse(msg *sdk.Message) llm.Response {
	var resp llm.Response
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			resp.Content += block.Text
		case "tool_use":
			args, _ := block.Input.(map[string]any)
			resp.ToolCalls = append(resp.ToolCalls, llm.ToolCall{ID: block.ID, Name: block.Name, Arguments: args})
		}
	}
	return resp
}

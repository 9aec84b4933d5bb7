// Package openai adapts the OpenAI Chat Completions API
// (github.com/openai/openai-go) to the llm.Adapter contract.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/kodustech/agent-kernel/internal/llm"
)

// ChatClient captures the subset of the OpenAI SDK used here so tests
// can substitute a fake.
type ChatClient interface {
	New(ctx context.Context, body oai.ChatCompletionNewParams, opts ...option.RequestOption) (*oai.ChatCompletion, error)
}

// Options configures the adapter.
type Options struct {
	DefaultModel string
	Temperature  float64
}

// Client implements llm.Adapter over OpenAI Chat Completions.
type Client struct {
	chat  ChatClient
	model string
	temp  float64
}

// New builds a Client from an existing OpenAI chat completions client.
func New(chat ChatClient, opts Options) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai: chat client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("openai: default model is required")
	}
	return &Client{chat: chat, model: opts.DefaultModel, temp: opts.Temperature}, nil
}

// NewFromAPIKey builds a Client using the SDK's default HTTP transport.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	c := oai.NewClient(option.WithAPIKey(apiKey))
	return New(&c.Chat.Completions, Options{DefaultModel: defaultModel})
}

// Call issues a Chat Completions request and translates the response
// into the generic llm.Response shape.
func (c *Client) Call(ctx context.Context, messages []llm.Message, opts llm.CallOptions) (llm.Response, error) {
	if len(messages) == 0 {
		return llm.Response{}, errors.New("openai: messages are required")
	}
	modelID := opts.Model
	if modelID == "" {
		modelID = c.model
	}

	params := oai.ChatCompletionNewParams{
		Model:    oai.ChatModel(modelID),
		Messages: encodeMessages(messages),
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = oai.Int(int64(opts.MaxTokens))
	}
	temp := opts.Temperature
	if temp <= 0 {
		temp = c.temp
	}
	if temp > 0 {
		params.Temperature = oai.Float(temp)
	}
	if len(opts.StopSequences) > 0 {
		params.Stop = oai.ChatCompletionNewParamsStopUnion{OfStringArray: opts.StopSequences}
	}
	if len(opts.Tools) > 0 {
		params.Tools = encodeTools(opts.Tools)
	}

	resp, err := c.chat.New(ctx, params)
	if err != nil {
		return llm.Response{}, fmt.Errorf("openai chat completion: %w", err)
	}
	return translateResponse(resp), nil
}

func encodeMessages(messages []llm.Message) []oai.ChatCompletionMessageParamUnion {
	out := make([]oai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			out = append(out, oai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, oai.AssistantMessage(m.Content))
		case "tool":
			out = append(out, oai.ToolMessage(m.Content, m.ToolCallID))
		default:
			out = append(out, oai.UserMessage(m.Content))
		}
	}
	return out
}

func encodeTools(defs []llm.ToolDefinition) []oai.ChatCompletionToolParam {
	out := make([]oai.ChatCompletionToolParam, 0, len(defs))
	for _, def := range defs {
		params, _ := def.InputSchema.(map[string]any)
		out = append(out, oai.ChatCompletionToolParam{
			Function: oai.FunctionDefinitionParam{
				Name:        def.Name,
				Description: oai.String(def.Description),
				Parameters:  params,
			},
		})
	}
	return out
}

func translateResponse(resp *oai.ChatCompletion) llm.Response {
	var out llm.Response
	if len(resp.Choices) == 0 {
		return out
	}
	choice := resp.Choices[0]
	out.Content = choice.Message.Content
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]any
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}
	return out
}

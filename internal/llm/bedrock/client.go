// Package bedrock adapts the AWS Bedrock Converse API
// (github.com/aws/aws-sdk-go-v2/service/bedrockruntime) to the
// llm.Adapter contract.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/kodustech/agent-kernel/internal/llm"
)

// RuntimeClient mirrors the subset of the AWS Bedrock runtime client
// used here so tests can substitute a fake.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Options configures the adapter.
type Options struct {
	Runtime      RuntimeClient
	DefaultModel string
	Temperature  float32
}

// Client implements llm.Adapter over AWS Bedrock Converse.
type Client struct {
	runtime RuntimeClient
	model   string
	temp    float32
}

// New builds a Client from an existing Bedrock runtime client.
func New(opts Options) (*Client, error) {
	if opts.Runtime == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("bedrock: default model is required")
	}
	return &Client{runtime: opts.Runtime, model: opts.DefaultModel, temp: opts.Temperature}, nil
}

// Call issues a Converse request and translates the response into the
// generic llm.Response shape.
func (c *Client) Call(ctx context.Context, messages []llm.Message, opts llm.CallOptions) (llm.Response, error) {
	modelID := opts.Model
	if modelID == "" {
		modelID = c.model
	}

	conversation, system := encodeMessages(messages)
	if len(conversation) == 0 {
		return llm.Response{}, errors.New("bedrock: messages are required")
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(modelID),
		Messages: conversation,
	}
	if len(system) > 0 {
		input.System = system
	}

	temp := opts.Temperature
	if temp <= 0 {
		temp = float64(c.temp)
	}
	infCfg := &brtypes.InferenceConfiguration{}
	hasInfCfg := false
	if opts.MaxTokens > 0 {
		mt := int32(opts.MaxTokens)
		infCfg.MaxTokens = &mt
		hasInfCfg = true
	}
	if temp > 0 {
		t := float32(temp)
		infCfg.Temperature = &t
		hasInfCfg = true
	}
	if len(opts.StopSequences) > 0 {
		infCfg.StopSequences = opts.StopSequences
		hasInfCfg = true
	}
	if hasInfCfg {
		input.InferenceConfig = infCfg
	}

	if len(opts.Tools) > 0 {
		input.ToolConfig = encodeToolConfig(opts.Tools)
	}

	output, err := c.runtime.Converse(ctx, input)
	if err != nil {
		return llm.Response{}, fmt.Errorf("bedrock converse: %w", err)
	}
	return translateResponse(output)
}

func encodeMessages(messages []llm.Message) ([]brtypes.Message, []brtypes.SystemContentBlock) {
	conversation := make([]brtypes.Message, 0, len(messages))
	var system []brtypes.SystemContentBlock
	for _, m := range messages {
		if m.Role == "system" {
			if m.Content != "" {
				system = append(system, &brtypes.SystemContentBlockMemberText{Value: m.Content})
			}
			continue
		}
		role := brtypes.ConversationRoleUser
		if m.Role == "assistant" {
			role = brtypes.ConversationRoleAssistant
		}
		conversation = append(conversation, brtypes.Message{
			Role:    role,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.Content}},
		})
	}
	return conversation, system
}

func encodeToolConfig(defs []llm.ToolDefinition) *brtypes.ToolConfiguration {
	toolList := make([]brtypes.Tool, 0, len(defs))
	for _, def := range defs {
		schema, _ := def.InputSchema.(map[string]any)
		spec := brtypes.ToolSpecification{
			Name:        aws.String(def.Name),
			Description: aws.String(def.Description),
			InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
		}
		toolList = append(toolList, &brtypes.ToolMemberToolSpec{Value: spec})
	}
	return &brtypes.ToolConfiguration{Tools: toolList}
}

func translateResponse(output *bedrockruntime.ConverseOutput) (llm.Response, error) {
	if output == nil {
		return llm.Response{}, errors.New("bedrock: response is nil")
	}
	var resp llm.Response
	msg, ok := output.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return resp, nil
	}
	for _, block := range msg.Value.Content {
		switch v := block.(type) {
		case *brtypes.ContentBlockMemberText:
			resp.Content += v.Value
		case *brtypes.ContentBlockMemberToolUse:
			var id, name string
			if v.Value.ToolUseId != nil {
				id = *v.Value.ToolUseId
			}
			if v.Value.Name != nil {
				name = *v.Value.Name
			}
			resp.ToolCalls = append(resp.ToolCalls, llm.ToolCall{ID: id, Name: name, Arguments: decodeDocument(v.Value.Input)})
		}
	}
	return resp, nil
}

func decodeDocument(doc document.Interface) map[string]any {
	if doc == nil {
		return nil
	}
	raw, err := doc.MarshalSmithyDocument()
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

// Command demo wires the Agent Core to a single in-process ReAct agent
// driven by a real llm.Adapter (the Bedrock provider, backed here by an
// in-process fake Converse implementation so the example runs without
// AWS credentials), mirroring the teacher's cmd/demo: a minimal,
// runnable example rather than a deployment.
package main

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/kodustech/agent-kernel/internal/agentcore"
	"github.com/kodustech/agent-kernel/internal/agentcore/session/inmem"
	"github.com/kodustech/agent-kernel/internal/llm"
	"github.com/kodustech/agent-kernel/internal/llm/bedrock"
	"github.com/kodustech/agent-kernel/internal/strategy"
	"github.com/kodustech/agent-kernel/internal/telemetry"
)

// fakeRuntime satisfies bedrock.RuntimeClient without calling AWS,
// always answering with a single text content block, so this example
// still exercises the real bedrock.Client encode/decode path.
type fakeRuntime struct{}

func (fakeRuntime) Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	return &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{
			Value: brtypes.Message{
				Role: brtypes.ConversationRoleAssistant,
				Content: []brtypes.ContentBlock{
					&brtypes.ContentBlockMemberText{Value: "Hello from the agent kernel, via Bedrock!"},
				},
			},
		},
	}, nil
}

func main() {
	ctx := context.Background()

	const model = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	adapter, err := bedrock.New(bedrock.Options{
		Runtime:      fakeRuntime{},
		DefaultModel: model,
	})
	if err != nil {
		panic(err)
	}
	planner := &llm.Planner{Adapter: adapter, Model: model}

	resolve := func(kind strategy.Kind) (strategy.Strategy, error) {
		return strategy.New(kind, planner, nil, nil, strategy.Default())
	}

	core := agentcore.New(nil, inmem.New(), resolve, telemetry.NewNoop())

	def := agentcore.AgentDefinition{
		Identity:     agentcore.AgentIdentity{ID: "demo.agent", Name: "Demo Agent"},
		StrategyKind: strategy.KindReAct,
	}

	result, err := core.Run(ctx, def, "Say hi", agentcore.Options{
		TenantID: "demo-tenant",
		ThreadID: "demo-thread",
	})
	if err != nil {
		panic(err)
	}

	fmt.Println("ExecutionID:", result.ExecutionID)
	fmt.Println("Assistant:", result.StrategyResult.Output)
}

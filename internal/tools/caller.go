package tools

import (
	"context"

	"github.com/kodustech/agent-kernel/internal/strategy"
)

// Call adapts Registry to strategy.ToolCaller so the Strategy Runtime
// can invoke tools without importing this package's full surface.
func (r *Registry) Call(ctx context.Context, name string, input map[string]any) (strategy.ToolResult, error) {
	result, err := r.ExecuteCall(ctx, name, input, nil)
	if err != nil {
		return strategy.ToolResult{Err: err}, err
	}
	return strategy.ToolResult{Output: result}, nil
}

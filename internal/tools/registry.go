// Package tools implements the Tool Engine (spec §4.8): a registry of
// tool definitions, schema-validated, circuit-breaker-guarded
// execution, substring-classified errors, and multi-mode result
// aggregation for parallel/sequential tool calls.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/kodustech/agent-kernel/internal/telemetry"
)

// Definition is a registrable tool. InputSchema/OutputSchema, when
// non-nil, are JSON Schema documents (as `any`, typically
// map[string]any) compiled once at registration time.
type Definition struct {
	Name         string
	Description  string
	InputSchema  any
	OutputSchema any
	Execute      func(ctx context.Context, input map[string]any) (any, error)
	Categories   []string
	Dependencies []string
	Tags         []string
}

// Descriptor is the prompt-facing materialization of a Definition,
// returned by GetToolsForLLM.
type Descriptor struct {
	Name        string
	Description string
	InputSchema any
}

type registeredTool struct {
	def          Definition
	inputSchema  *jsonschema.Schema
	outputSchema *jsonschema.Schema
	breaker      *CircuitBreaker
}

// ErrDuplicateTool is returned by RegisterTool when name is already registered.
var ErrDuplicateTool = errors.New("tools: tool already registered")

// ErrToolNotFound is returned when executeCall targets an unknown tool.
var ErrToolNotFound = errors.New("tools: tool not found")

// Registry is the tool catalog plus per-tool circuit breakers.
type Registry struct {
	obs       telemetry.Observability
	breakerCf CircuitConfig

	mu    sync.RWMutex
	tools map[string]*registeredTool
}

// NewRegistry constructs an empty Registry. breakerCfg's zero fields
// fall back to DefaultCircuitConfig when each tool's breaker is created
// at registration.
func NewRegistry(obs telemetry.Observability, breakerCfg CircuitConfig) *Registry {
	return &Registry{obs: obs, breakerCf: breakerCfg, tools: make(map[string]*registeredTool)}
}

// RegisterTool adds def to the catalog. Registration fails if a tool
// with the same name already exists, or if a provided schema does not
// compile.
func (r *Registry) RegisterTool(def Definition) error {
	if def.Name == "" {
		return errors.New("tools: name is required")
	}

	rt := &registeredTool{def: def, breaker: NewCircuitBreaker(r.breakerCf)}
	if def.InputSchema != nil {
		s, err := compileSchema(def.Name+"#input", def.InputSchema)
		if err != nil {
			return fmt.Errorf("tools: compile input schema for %q: %w", def.Name, err)
		}
		rt.inputSchema = s
	}
	if def.OutputSchema != nil {
		s, err := compileSchema(def.Name+"#output", def.OutputSchema)
		if err != nil {
			return fmt.Errorf("tools: compile output schema for %q: %w", def.Name, err)
		}
		rt.outputSchema = s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, def.Name)
	}
	r.tools[def.Name] = rt
	return nil
}

func compileSchema(resourceID string, doc any) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(resourceID, doc); err != nil {
		return nil, err
	}
	return c.Compile(resourceID)
}

// CallOptions configures a single ExecuteCall invocation.
type CallOptions struct {
	Timeout time.Duration
}

// ExecuteCall validates input against the tool's input schema (if
// any), runs the call through the tool's circuit breaker, and returns
// the raw result. Errors are wrapped in a *ClassifiedError per spec
// §4.8's substring heuristic.
func (r *Registry) ExecuteCall(ctx context.Context, name string, input map[string]any, opts *CallOptions) (any, error) {
	r.mu.RLock()
	rt, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	if rt.inputSchema != nil {
		if err := rt.inputSchema.Validate(toJSONValue(input)); err != nil {
			return nil, &ClassifiedError{Class: ErrClassValidation, Err: fmt.Errorf("tools: input validation: %w", err)}
		}
	}

	if !rt.breaker.Allow() {
		return nil, &ClassifiedError{Class: ErrClassUnknown, Err: fmt.Errorf("tools: circuit open for %q", name)}
	}

	timeout := time.Duration(0)
	if opts != nil {
		timeout = opts.Timeout
	}
	if timeout <= 0 {
		timeout = rt.breaker.operationTimeout
	}

	result, err := runWithTimeout(ctx, timeout, func(ctx context.Context) (any, error) {
		return rt.def.Execute(ctx, input)
	})
	if err != nil {
		rt.breaker.RecordFailure()
		return nil, &ClassifiedError{Class: classify(err), Err: err}
	}
	rt.breaker.RecordSuccess()
	return result, nil
}

// runWithTimeout races fn against timeout (if positive), the pattern
// shared with the Execution Kernel's atomic-operation gate.
func runWithTimeout(ctx context.Context, timeout time.Duration, fn func(context.Context) (any, error)) (any, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := fn(ctx)
		done <- outcome{result, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case o := <-done:
		return o.result, o.err
	}
}

// toJSONValue round-trips v through JSON so map[string]any keys and
// numeric types match what jsonschema expects after unmarshaling a
// wire payload.
func toJSONValue(v any) any {
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}

// ListTools returns every registered tool's Definition.
func (r *Registry) ListTools() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.tools))
	for _, rt := range r.tools {
		out = append(out, rt.def)
	}
	return out
}

// GetToolsForLLM materializes the prompt-facing tool descriptions.
func (r *Registry) GetToolsForLLM() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.tools))
	for _, rt := range r.tools {
		out = append(out, Descriptor{Name: rt.def.Name, Description: rt.def.Description, InputSchema: rt.def.InputSchema})
	}
	return out
}

// BreakerState reports the circuit breaker state for name, if registered.
func (r *Registry) BreakerState(name string) (State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.tools[name]
	if !ok {
		return "", false
	}
	return rt.breaker.State(), true
}

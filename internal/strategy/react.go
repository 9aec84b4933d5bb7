package strategy

import (
	"context"
)

// reactStrategy implements the repeated Think->Act->Observe loop
// (spec §4.7). Each iteration asks the Planner for one Step, executes
// it, and folds the outcome into an Observation that decides whether
// to continue.
type reactStrategy struct {
	deps
}

func (s *reactStrategy) Execute(ctx context.Context, messages []Message) (*Result, error) {
	state := newState("", messages)

	var timeoutCh <-chan struct{}
	if s.cfg.MaxExecutionTime > 0 {
		ctx2, cancel := context.WithTimeout(ctx, s.cfg.MaxExecutionTime)
		defer cancel()
		ctx = ctx2
		timeoutCh = ctx2.Done()
	}

	for state.Iteration < s.cfg.MaxThinkingIterations {
		select {
		case <-timeoutCh:
			return s.finish(ctx, state, nil, "timeout")
		default:
		}

		step, err := s.planner.Think(ctx, state)
		if err != nil {
			return nil, err
		}
		state.Iteration++

		if step.Type == StepToolCall {
			state.ToolCalls++
			if s.cfg.MaxToolCalls > 0 && state.ToolCalls > s.cfg.MaxToolCalls {
				res, _ := s.finish(ctx, state, nil, "max_tool_calls")
				return res, ErrMaxToolCallsExceeded
			}
		}

		resolved, rerr := resolveArgs(step.Inputs, historyByID(state.History))
		if rerr != nil {
			step.Err = rerr
			state.History = append(state.History, step)
			continue
		}
		step.Inputs = resolved

		result, err := s.executeStep(ctx, step)
		step.Result, step.Err, step.Executed = result, err, true
		state.History = append(state.History, step)

		obs := s.observe(step, result, err)

		switch step.Type {
		case StepFinalAnswer:
			return s.finish(ctx, state, result, "final_answer")
		case StepNeedMoreInfo:
			return s.finish(ctx, state, result, "need_more_info")
		}

		if detectStagnation(state.History) {
			return s.finish(ctx, state, nil, "stagnation")
		}
		if obs.IsComplete {
			return s.finish(ctx, state, result, "observation_complete")
		}
		if !obs.ShouldContinue {
			return s.finish(ctx, state, result, "should_not_continue")
		}
	}

	return s.finish(ctx, state, nil, "max_iterations")
}

func (s *reactStrategy) observe(step *Step, result any, err error) Observation {
	if err != nil {
		return Observation{Err: err, ShouldContinue: true}
	}
	if m, ok := result.(map[string]any); ok {
		complete, _ := m["isComplete"].(bool)
		cont, contSet := m["shouldContinue"].(bool)
		if !contSet {
			cont = true
		}
		return Observation{Result: result, IsComplete: complete, ShouldContinue: cont}
	}
	return Observation{Result: result, ShouldContinue: true}
}

// finish synthesizes the final response (spec §4.7) regardless of why
// the loop ended — stagnation and max-iterations still produce a
// best-effort answer from whatever was last observed.
func (s *reactStrategy) finish(ctx context.Context, state *ExecutionState, raw any, reason string) (*Result, error) {
	out := synthesize(ctx, s.planner, state, raw)
	return &Result{Output: out, Structured: raw, Steps: state.History, StopReason: reason}, nil
}

func historyByID(history []*Step) map[string]*Step {
	m := make(map[string]*Step, len(history))
	for _, s := range history {
		if s.Executed {
			m[s.ID] = s
		}
	}
	return m
}

package strategy

import "context"

// rewooStrategy asks the Planner for a full plan upfront, then walks
// its steps honoring dependsOn ordering (spec §4.7).
type rewooStrategy struct {
	deps
}

func (s *rewooStrategy) Execute(ctx context.Context, messages []Message) (*Result, error) {
	state := newState("", messages)

	if s.cfg.MaxExecutionTime > 0 {
		ctx2, cancel := context.WithTimeout(ctx, s.cfg.MaxExecutionTime)
		defer cancel()
		ctx = ctx2
	}

	plan, err := s.planner.CreatePlan(ctx, state)
	if err != nil {
		return nil, err
	}
	if s.cfg.MaxPlanSteps > 0 && len(plan.Steps) > s.cfg.MaxPlanSteps {
		plan.Steps = plan.Steps[:s.cfg.MaxPlanSteps]
	}

	raw, err := s.executePlan(ctx, plan)
	state.History = plan.Steps

	reason := "plan_completed"
	if err != nil {
		reason = "plan_failed"
	}
	out := synthesize(ctx, s.planner, state, raw)
	return &Result{Output: out, Structured: raw, Steps: state.History, StopReason: reason}, err
}

package pipeline

import (
	"context"
	"time"

	"github.com/kodustech/agent-kernel/internal/idgen"
	"github.com/kodustech/agent-kernel/internal/telemetry"
)

// Stage is one step of a pipeline run. It must be pure with respect to
// fields it does not claim to own and produce the next Context via a
// functional update (spec §4.10).
type Stage struct {
	Name string
	Run  func(ctx context.Context, pc Context) (Context, error)
}

// Executor drives a fixed, ordered sequence of Stages over a Context.
type Executor struct {
	Stages []Stage
	Obs    telemetry.Observability
}

// New constructs an Executor over stages.
func New(obs telemetry.Observability, stages ...Stage) *Executor {
	return &Executor{Stages: stages, Obs: obs}
}

// Run assigns a pipelineId, stamps pipelineMetadata, and iterates
// Stages in order. A stage error is logged and the next stage runs
// with the last good context (not aborted); a stage setting
// Status.Kind == StatusSkipped short-circuits the remaining stages.
func (e *Executor) Run(ctx context.Context, initial Context) Context {
	pc := initial
	if pc.PipelineID == "" {
		pc.PipelineID = idgen.NewWithPrefix("pipeline")
	}
	if pc.StartedAt.IsZero() {
		pc.StartedAt = time.Now()
	}
	if pc.PipelineMetadata == nil {
		pc.PipelineMetadata = map[string]any{}
	}
	pc.PipelineMetadata["pipelineId"] = pc.PipelineID
	pc.Status = Running()

	for _, stage := range e.Stages {
		next, err := stage.Run(ctx, pc)
		if err != nil {
			e.logStageError(ctx, stage.Name, err)
			pc.Status = Errored(err)
			continue
		}
		pc = next
		if pc.Status.Kind == StatusSkipped {
			e.logSkip(ctx, stage.Name, pc.Status.Reason)
			return pc
		}
	}

	if pc.Status.Kind == StatusRunning {
		pc.Status = Success()
	}
	return pc
}

func (e *Executor) logStageError(ctx context.Context, stage string, err error) {
	e.Obs.Log().ErrorContext(ctx, "pipeline: stage failed, continuing with last good context", "stage", stage, "error", err)
}

func (e *Executor) logSkip(ctx context.Context, stage string, reason SkipReason) {
	e.Obs.Log().InfoContext(ctx, "pipeline: stage short-circuited run", "stage", stage, "reason", reason)
}

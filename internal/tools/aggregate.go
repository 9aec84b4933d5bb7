package tools

import (
	"fmt"
	"strings"
)

// Mode selects how CallOutcomes from a parallel/sequential/conditional/
// adaptive tool batch are combined (spec §4.8).
type Mode string

const (
	ModeCombine   Mode = "combine"
	ModeMerge     Mode = "merge"
	ModeAggregate Mode = "aggregate"
	ModeSummarize Mode = "summarize"
)

// CallOutcome is one tool invocation's result within a batch.
type CallOutcome struct {
	ToolName string
	Result   any
	Err      error
}

// Summary reports batch-level statistics.
type Summary struct {
	Total        int
	Successful   int
	Failed       int
	Strategy     Mode
	ErrorSummary string
}

// Aggregate combines outcomes per mode, returning the merged result,
// a Summary, the original per-tool outcomes, and mode-specific
// metadata.
func Aggregate(mode Mode, outcomes []CallOutcome) (aggregated any, summary Summary, individual []CallOutcome, metadata map[string]any) {
	summary = Summary{Total: len(outcomes), Strategy: mode}
	var failures []string
	for _, o := range outcomes {
		if o.Err != nil {
			summary.Failed++
			failures = append(failures, fmt.Sprintf("%s: %v", o.ToolName, o.Err))
		} else {
			summary.Successful++
		}
	}
	if len(failures) > 0 {
		summary.ErrorSummary = strings.Join(failures, "; ")
	}

	switch mode {
	case ModeMerge:
		aggregated, metadata = mergeResults(outcomes)
	case ModeAggregate:
		aggregated, metadata = detailedAggregate(outcomes)
	case ModeSummarize:
		aggregated = summarizeNarrative(outcomes, summary)
	case ModeCombine:
		fallthrough
	default:
		aggregated = combineResults(outcomes)
	}

	return aggregated, summary, outcomes, metadata
}

// combineResults preserves per-tool result slots keyed by tool name.
func combineResults(outcomes []CallOutcome) map[string]any {
	out := make(map[string]any, len(outcomes))
	for _, o := range outcomes {
		if o.Err == nil {
			out[o.ToolName] = o.Result
		}
	}
	return out
}

// mergeResults unions every successful object result into one map;
// later outcomes win on key collision.
func mergeResults(outcomes []CallOutcome) (map[string]any, map[string]any) {
	merged := make(map[string]any)
	collisions := make(map[string]any)
	for _, o := range outcomes {
		if o.Err != nil {
			continue
		}
		obj, ok := o.Result.(map[string]any)
		if !ok {
			merged[o.ToolName] = o.Result
			continue
		}
		for k, v := range obj {
			if _, exists := merged[k]; exists {
				collisions[k] = o.ToolName
			}
			merged[k] = v
		}
	}
	return merged, map[string]any{"collisions": collisions}
}

// detailedAggregate groups results by a heuristic tool-name category,
// producing a structure richer than combine's flat per-tool map.
func detailedAggregate(outcomes []CallOutcome) (map[string]any, map[string]any) {
	byCategory := make(map[string][]any)
	categories := make(map[string]string, len(outcomes))
	for _, o := range outcomes {
		if o.Err != nil {
			continue
		}
		cat := categorizeToolName(o.ToolName)
		categories[o.ToolName] = cat
		byCategory[cat] = append(byCategory[cat], map[string]any{"tool": o.ToolName, "result": o.Result})
	}
	out := make(map[string]any, len(byCategory))
	for cat, items := range byCategory {
		out[cat] = items
	}
	return out, map[string]any{"categories": categories}
}

// summarizeNarrative produces a compact human-readable outcome string.
func summarizeNarrative(outcomes []CallOutcome, summary Summary) string {
	if summary.Failed == 0 {
		return fmt.Sprintf("all %d tools succeeded", summary.Total)
	}
	return fmt.Sprintf("%d/%d tools succeeded; failed: %s", summary.Successful, summary.Total, summary.ErrorSummary)
}

// categorizeToolName heuristically buckets a tool by what its name
// suggests it does, used by the "aggregate" merge policy.
func categorizeToolName(name string) string {
	n := strings.ToLower(name)
	switch {
	case containsAny(n, "search", "fetch", "retrieve", "get", "query", "lookup"):
		return "retrieval"
	case containsAny(n, "process", "transform", "convert", "parse"):
		return "processing"
	case containsAny(n, "validate", "check", "verify"):
		return "validation"
	case containsAny(n, "generate", "create", "write", "draft"):
		return "generation"
	default:
		return "generic"
	}
}

package pipeline

import "time"

// CadenceStatus is the persisted currentStatus a CadenceState occupies
// (spec §4.10).
type CadenceStatus string

const (
	CadenceStatusAutomatic CadenceStatus = "AUTOMATIC"
	CadenceStatusPaused    CadenceStatus = "PAUSED"
	CadenceStatusCommand   CadenceStatus = "COMMAND"
)

// Origin distinguishes a manually-triggered review command from an
// automatic push/synchronize trigger.
type Origin string

const (
	OriginCommand Origin = "command"
	OriginPush    Origin = "push"
)

// CadenceState is the persisted review-cadence state carried across
// runs for one pull request.
type CadenceState struct {
	CurrentStatus        CadenceStatus
	HasPriorSuccessful   bool
	RecentSuccessfulRuns []time.Time
}

// CadenceDecision is the outcome of applying the cadence policy: either
// proceed (Process=true) or skip with a specific reason, plus the next
// CurrentStatus to persist.
type CadenceDecision struct {
	Process    bool
	SkipReason SkipReason
	NextStatus CadenceStatus
}

// ApplyCadence implements the review-cadence state machine (spec
// §4.10): mode selects the policy; origin distinguishes command
// triggers (which always process); now and the window/threshold
// parameters drive the AUTO_PAUSE burst rule.
func ApplyCadence(mode CadenceMode, origin Origin, state CadenceState, now time.Time, pushesToTrigger int, timeWindow time.Duration) CadenceDecision {
	if origin == OriginCommand {
		return CadenceDecision{Process: true, NextStatus: CadenceStatusCommand}
	}

	switch mode {
	case CadenceManual:
		if !state.HasPriorSuccessful {
			return CadenceDecision{Process: true, NextStatus: CadenceStatusAutomatic}
		}
		return CadenceDecision{Process: false, SkipReason: ReasonManualRequiredToStart, NextStatus: CadenceStatusPaused}

	case CadenceAutoPause:
		if !state.HasPriorSuccessful {
			return CadenceDecision{Process: true, NextStatus: CadenceStatusAutomatic}
		}
		if state.CurrentStatus == CadenceStatusPaused {
			return CadenceDecision{Process: false, SkipReason: ReasonPRPausedNeedResume, NextStatus: CadenceStatusPaused}
		}
		if countWithinWindow(state.RecentSuccessfulRuns, now, timeWindow) >= pushesToTrigger {
			return CadenceDecision{Process: false, SkipReason: ReasonPRPausedBurstPushes, NextStatus: CadenceStatusPaused}
		}
		return CadenceDecision{Process: true, NextStatus: CadenceStatusAutomatic}

	case CadenceAutomatic, "":
		fallthrough
	default:
		return CadenceDecision{Process: true, NextStatus: CadenceStatusAutomatic}
	}
}

func countWithinWindow(runs []time.Time, now time.Time, window time.Duration) int {
	n := 0
	cutoff := now.Add(-window)
	for _, t := range runs {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}

package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestApplyCadenceCommandAlwaysProcesses(t *testing.T) {
	d := ApplyCadence(CadenceManual, OriginCommand, CadenceState{HasPriorSuccessful: true, CurrentStatus: CadenceStatusPaused}, time.Now(), 3, 10*time.Minute)
	assert.True(t, d.Process)
	assert.Equal(t, CadenceStatusCommand, d.NextStatus)
}

func TestApplyCadenceManualSkipsAfterFirstSuccessfulReview(t *testing.T) {
	d := ApplyCadence(CadenceManual, OriginPush, CadenceState{HasPriorSuccessful: true}, time.Now(), 3, 10*time.Minute)
	assert.False(t, d.Process)
	assert.Equal(t, ReasonManualRequiredToStart, d.SkipReason)
	assert.Equal(t, CadenceStatusPaused, d.NextStatus)
}

func TestApplyCadenceManualProcessesFirstReview(t *testing.T) {
	d := ApplyCadence(CadenceManual, OriginPush, CadenceState{}, time.Now(), 3, 10*time.Minute)
	assert.True(t, d.Process)
}

func TestApplyCadenceAutoPauseProcessesFirstReview(t *testing.T) {
	d := ApplyCadence(CadenceAutoPause, OriginPush, CadenceState{}, time.Now(), 3, 10*time.Minute)
	assert.True(t, d.Process)
}

func TestApplyCadenceAutoPauseSkipsWhenAlreadyPaused(t *testing.T) {
	state := CadenceState{HasPriorSuccessful: true, CurrentStatus: CadenceStatusPaused}
	d := ApplyCadence(CadenceAutoPause, OriginPush, state, time.Now(), 3, 10*time.Minute)
	assert.False(t, d.Process)
	assert.Equal(t, ReasonPRPausedNeedResume, d.SkipReason)
}

func TestApplyCadenceAutoPauseTriggersBurstRule(t *testing.T) {
	now := time.Now()
	state := CadenceState{
		HasPriorSuccessful: true,
		CurrentStatus:      CadenceStatusAutomatic,
		RecentSuccessfulRuns: []time.Time{
			now.Add(-1 * time.Minute),
			now.Add(-2 * time.Minute),
			now.Add(-3 * time.Minute),
		},
	}
	d := ApplyCadence(CadenceAutoPause, OriginPush, state, now, 3, 10*time.Minute)
	assert.False(t, d.Process)
	assert.Equal(t, ReasonPRPausedBurstPushes, d.SkipReason)
	assert.Equal(t, CadenceStatusPaused, d.NextStatus)
}

func TestApplyCadenceAutoPauseIgnoresRunsOutsideWindow(t *testing.T) {
	now := time.Now()
	state := CadenceState{
		HasPriorSuccessful: true,
		CurrentStatus:      CadenceStatusAutomatic,
		RecentSuccessfulRuns: []time.Time{
			now.Add(-1 * time.Hour),
			now.Add(-2 * time.Hour),
		},
	}
	d := ApplyCadence(CadenceAutoPause, OriginPush, state, now, 3, 10*time.Minute)
	assert.True(t, d.Process)
}

func TestApplyCadenceAutomaticAlwaysProcesses(t *testing.T) {
	d := ApplyCadence(CadenceAutomatic, OriginPush, CadenceState{HasPriorSuccessful: true}, time.Now(), 3, 10*time.Minute)
	assert.True(t, d.Process)
	assert.Equal(t, CadenceStatusAutomatic, d.NextStatus)
}

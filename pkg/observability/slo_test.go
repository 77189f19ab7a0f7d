package observability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestSLOStatusCompliant(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	tracker := NewSLOTracker().WithClock(fixedClock(now))
	tracker.SetTarget(&SLOTarget{
		SLOID: "slo-gate", Operation: "gate",
		LatencyP99: 250 * time.Millisecond, SuccessRate: 0.99, WindowHours: 24,
	})

	for i := 0; i < 100; i++ {
		tracker.Record(SLOObservation{
			Operation: "gate",
			Latency:   10 * time.Millisecond,
			Success:   true,
			Timestamp: now.Add(-time.Hour),
		})
	}

	status, err := tracker.Status("gate")
	require.NoError(t, err)
	assert.True(t, status.InCompliance)
	assert.Equal(t, 100, status.ObservationCount)
	assert.Equal(t, 1.0, status.CurrentSuccess)
}

func TestSLOStatusBurnsBudgetOnFailures(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	tracker := NewSLOTracker().WithClock(fixedClock(now))
	tracker.SetTarget(&SLOTarget{
		SLOID: "slo-export", Operation: "export",
		LatencyP99: time.Second, SuccessRate: 0.99, WindowHours: 24,
	})

	for i := 0; i < 10; i++ {
		tracker.Record(SLOObservation{
			Operation: "export",
			Latency:   100 * time.Millisecond,
			Success:   i != 0,
			Timestamp: now.Add(-time.Hour),
		})
	}

	status, err := tracker.Status("export")
	require.NoError(t, err)
	assert.False(t, status.InCompliance)
	assert.Greater(t, status.BurnRate, 1.0)
	assert.Equal(t, 0.0, status.ErrorBudgetLeft)
}

func TestSLOStatusIgnoresObservationsOutsideWindow(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	tracker := NewSLOTracker().WithClock(fixedClock(now))
	tracker.SetTarget(&SLOTarget{
		SLOID: "slo-replay", Operation: "replay",
		LatencyP99: time.Second, SuccessRate: 0.99, WindowHours: 1,
	})

	tracker.Record(SLOObservation{Operation: "replay", Success: false, Timestamp: now.Add(-2 * time.Hour)})

	status, err := tracker.Status("replay")
	require.NoError(t, err)
	assert.True(t, status.InCompliance)
	assert.Equal(t, 0, status.ObservationCount)
}

func TestSLOStatusUnknownOperation(t *testing.T) {
	_, err := NewSLOTracker().Status("gate")
	assert.Error(t, err)
}

func TestDefaultSLOTargetsCoverGateVerbs(t *testing.T) {
	targets := DefaultSLOTargets()
	ops := make([]string, 0, len(targets))
	for _, target := range targets {
		ops = append(ops, target.Operation)
	}
	assert.ElementsMatch(t, []string{"gate", "export", "replay", "ingest"}, ops)
}

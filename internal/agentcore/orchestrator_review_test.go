package agentcore

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFilterCompletedStepsDropsCompletedAndTrimsDependents(t *testing.T) {
	t.Parallel()

	steps := []PlanStep{
		{ID: "s1", Status: PlanCompleted},
		{ID: "s2", Status: PlanPending, WaitingForID: []string{"s1"}},
		{ID: "s3", Status: PlanPending, WaitingForID: []string{"s1", "s2"}},
	}

	out := filterCompletedSteps(steps)
	require.Len(t, out, 2)
	require.Equal(t, "s2", out[0].ID)
	require.Nil(t, out[0].WaitingForID)
	require.Equal(t, "s3", out[1].ID)
	require.Equal(t, []string{"s2"}, out[1].WaitingForID)
}

func TestFilterCompletedStepsNoCompletedStepsReturnsUnchanged(t *testing.T) {
	t.Parallel()

	steps := []PlanStep{
		{ID: "a", WaitingForID: []string{"b"}},
		{ID: "b"},
	}
	out := filterCompletedSteps(steps)
	require.Equal(t, steps, out)
}

func TestNonEmptyReasoningFiltersBlankEntries(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"kept"}, nonEmptyReasoning([]string{"  ", "kept", "\t\n"}))
	require.Nil(t, nonEmptyReasoning([]string{"   ", ""}))
	require.Nil(t, nonEmptyReasoning(nil))
}

func TestAppendStepObservationsPopulatesTopLevelFromLastObservation(t *testing.T) {
	rt := newTestRuntime(t, "")

	exitCode := 7
	observations := []StepObservation{
		{ID: "s1", Status: PlanCompleted, Stdout: "first"},
		{ID: "s2", Status: PlanFailed, Stdout: "out", Stderr: "err", ExitCode: &exitCode, Details: "boom", Truncated: true},
	}

	toolCall := ToolCall{ID: "call-1", Name: "submit_plan"}
	rt.appendStepObservations(toolCall, observations, nil)

	snap := rt.history.Snapshot()
	require.NotEmpty(t, snap)
	last := snap[len(snap)-1]
	require.Equal(t, RoleTool, last.Role)

	// Details is the one top-level field that round-trips on the wire
	// (Stdout/Stderr/ExitCode/Truncated are intentionally excluded from
	// the JSON payload — see PlanObservationPayload's `json:"-"` tags —
	// but still carried in-process for callers like enforceObservationLimit).
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(last.Content), &decoded))
	require.Equal(t, "boom", decoded["details"])
}

// recordingLogger captures Warn calls so tests can assert the
// dropped-event path logs without depending on zap's internals.
type recordingLogger struct {
	mu    sync.Mutex
	warns []string
}

func (l *recordingLogger) Debug(context.Context, string, ...LogField) {}
func (l *recordingLogger) Info(context.Context, string, ...LogField)  {}
func (l *recordingLogger) Warn(_ context.Context, msg string, _ ...LogField) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}
func (l *recordingLogger) Error(context.Context, string, error, ...LogField) {}
func (l *recordingLogger) WithFields(...LogField) Logger                    { return l }

func (l *recordingLogger) warnCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.warns)
}

func TestEmitOnTimeoutRecordsDroppedEventMetricAndWarning(t *testing.T) {
	logger := &recordingLogger{}
	metrics := NewInMemoryMetrics()

	options := RuntimeOptions{
		APIKey:                  "test-key",
		MaxPasses:               10,
		DisableInputReader:      true,
		DisableOutputForwarding: true,
		EmitTimeout:             10 * time.Millisecond,
		Logger:                  logger,
		Metrics:                 metrics,
	}
	rt, err := NewRuntime(options)
	require.NoError(t, err)

	// outputs has a bounded buffer (DefaultOutboundQueueSize); fill it so the
	// next emit has nowhere to go and must wait out EmitTimeout before
	// giving up.
	for i := 0; i < DefaultOutboundQueueSize; i++ {
		rt.outputs <- RuntimeEvent{Type: EventTypeStatus}
	}

	rt.emit(RuntimeEvent{Type: EventTypeStatus, Message: "should be dropped"})

	require.Equal(t, int64(1), metrics.Snapshot().DroppedEvents)
	require.Equal(t, 1, logger.warnCount())
}

func TestPlanManagerCompletedRequiresNonEmptyAllCompleted(t *testing.T) {
	t.Parallel()

	empty := NewPlanManager()
	require.False(t, empty.Completed())

	withFailure := NewPlanManager()
	withFailure.Replace([]PlanStep{{ID: "a"}, {ID: "b"}})
	require.NoError(t, withFailure.UpdateStatus("a", PlanCompleted, nil))
	require.NoError(t, withFailure.UpdateStatus("b", PlanFailed, nil))
	require.False(t, withFailure.Completed())

	allDone := NewPlanManager()
	allDone.Replace([]PlanStep{{ID: "a"}, {ID: "b"}})
	require.NoError(t, allDone.UpdateStatus("a", PlanCompleted, nil))
	require.NoError(t, allDone.UpdateStatus("b", PlanCompleted, nil))
	require.True(t, allDone.Completed())
}

package agentcore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPlanManagerReadyBatchRespectsDependencyOrder(t *testing.T) {
	pm := NewPlanManager()
	pm.Replace([]PlanStep{
		{ID: "a"},
		{ID: "b", WaitingForID: []string{"a"}},
	})

	ready := pm.ReadyBatch()
	require.Len(t, ready, 1)
	require.Equal(t, "a", ready[0].ID)

	// b stays blocked while a is still pending, even across repeated calls.
	require.Empty(t, pm.ReadyBatch())

	require.NoError(t, pm.UpdateStatus("a", PlanCompleted, nil))

	ready = pm.ReadyBatch()
	require.Len(t, ready, 1)
	require.Equal(t, "b", ready[0].ID)
}

func TestPlanManagerReadyBatchClaimsExecutingSteps(t *testing.T) {
	pm := NewPlanManager()
	pm.Replace([]PlanStep{{ID: "s1"}})

	first := pm.ReadyBatch()
	require.Len(t, first, 1)

	// A step claimed but not yet resolved via UpdateStatus must not be
	// returned again.
	require.Empty(t, pm.ReadyBatch())

	require.NoError(t, pm.UpdateStatus("s1", PlanCompleted, nil))
	require.True(t, pm.Completed())
}

func TestPlanManagerDependencyOnUnknownIDIsIgnored(t *testing.T) {
	pm := NewPlanManager()
	pm.Replace([]PlanStep{{ID: "a", WaitingForID: []string{"missing"}}})

	ready := pm.ReadyBatch()
	require.Len(t, ready, 1)
	require.Equal(t, "a", ready[0].ID)
}

func TestPlanManagerAbandonMarksOnlyPendingSteps(t *testing.T) {
	pm := NewPlanManager()
	pm.Replace([]PlanStep{{ID: "a"}, {ID: "b"}})
	require.NoError(t, pm.UpdateStatus("a", PlanCompleted, nil))

	pm.Abandon()

	snap := pm.Snapshot()
	byID := make(map[string]PlanStep, len(snap))
	for _, s := range snap {
		byID[s.ID] = s
	}
	require.Equal(t, PlanCompleted, byID["a"].Status)
	require.Equal(t, PlanAbandoned, byID["b"].Status)
}

func TestPlanManagerUpdateStatusUnknownIDErrors(t *testing.T) {
	pm := NewPlanManager()
	pm.Replace([]PlanStep{{ID: "a"}})
	err := pm.UpdateStatus("missing", PlanCompleted, nil)
	require.Error(t, err)
}

func TestPlanManagerSnapshotIsDefensiveCopy(t *testing.T) {
	pm := NewPlanManager()
	pm.Replace([]PlanStep{{ID: "a", Title: "first"}})

	snap := pm.Snapshot()
	snap[0].Title = "mutated"

	require.Equal(t, "first", pm.Snapshot()[0].Title)
}

package agentcore

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHistoryAppendStampsPass(t *testing.T) {
	h := NewHistory(6, BudgetForModel("gpt-4o"), "", nil, nil)
	h.Append(ChatMessage{Role: RoleSystem, Content: "seed"}, 0)
	h.Append(ChatMessage{Role: RoleUser, Content: "hi"}, 3)

	snap := h.Snapshot()
	require.Len(t, snap, 2)
	require.Equal(t, 0, snap[0].Pass)
	require.Equal(t, 3, snap[1].Pass)
}

func TestHistorySnapshotIsDefensiveCopy(t *testing.T) {
	h := NewHistory(6, BudgetForModel("gpt-4o"), "", nil, nil)
	h.Append(ChatMessage{Role: RoleSystem, Content: "seed"}, 0)

	snap := h.Snapshot()
	snap[0].Content = "mutated"

	require.Equal(t, "seed", h.Snapshot()[0].Content)
}

func TestHistoryAmnesiaTruncatesAgedAssistantContent(t *testing.T) {
	h := NewHistory(2, BudgetForModel("gpt-4o"), "", nil, nil)
	h.Append(ChatMessage{Role: RoleSystem, Content: "seed"}, 0)

	long := strings.Repeat("x", 1000)
	h.Append(ChatMessage{Role: RoleAssistant, Content: long}, 1)

	// Passes 2 and 3 age the assistant message past the amnesiaAfter=2
	// threshold, at which point its content is truncated in place without
	// removing the message.
	h.Append(ChatMessage{Role: RoleUser, Content: "continue"}, 2)
	h.Append(ChatMessage{Role: RoleUser, Content: "continue again"}, 3)

	snap := h.Snapshot()
	require.LessOrEqual(t, len(snap[1].Content), 600)
	require.NotEmpty(t, snap[1].Content)
}

func TestBuildToolMessageRoundTrips(t *testing.T) {
	code := 0
	payload := PlanObservationPayload{
		PlanObservation: []StepObservation{{ID: "s1", Status: PlanCompleted, ExitCode: &code}},
		Summary:         "Executed 1 plan step(s).",
	}
	encoded, err := BuildToolMessage(payload)
	require.NoError(t, err)
	require.Contains(t, encoded, `"plan_observation"`)
	require.Contains(t, encoded, `"summary":"Executed 1 plan step(s)."`)

	// Stdout/Stderr/Truncated/ExitCode are deliberately excluded from the
	// wire payload; only the per-step fields inside plan_observation carry
	// that detail.
	require.NotContains(t, encoded, `"stdout"`)
}

func TestPlanningSnapshotDoesNotPanicWithoutBudget(t *testing.T) {
	h := NewHistory(6, ModelBudget{}, "", nil, nil)
	h.Append(ChatMessage{Role: RoleSystem, Content: "seed"}, 0)

	snap := h.PlanningSnapshot(context.Background())
	require.Len(t, snap, 1)
}

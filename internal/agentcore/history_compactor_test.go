package agentcore

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompactHistoryToLimitCompactsOldestEligibleMessagesFirst(t *testing.T) {
	history := []ChatMessage{
		{Role: RoleSystem, Content: "you are an agent"},
		{Role: RoleUser, Content: strings.Repeat("alpha beta gamma delta ", 20), Pass: 1},
		{Role: RoleAssistant, Content: strings.Repeat("epsilon zeta eta theta ", 20), Pass: 2},
		{Role: RoleUser, Content: "latest turn", Pass: 3},
	}

	total, _ := EstimateHistoryTokens(history)
	limit := total / 2

	finalTotal, iterations := compactHistoryToLimit(history, total, limit)

	require.LessOrEqual(t, finalTotal, limit)
	require.GreaterOrEqual(t, iterations, 1)
	require.LessOrEqual(t, iterations, maxCompactionIterations)

	// The system message is never summarized.
	require.Equal(t, "you are an agent", history[0].Content)
	require.False(t, history[0].Summarized)

	// The oldest eligible message is compacted first.
	require.True(t, history[1].Summarized)
	require.Contains(t, history[1].Content, summaryPrefix)
}

func TestCompactHistoryToLimitStopsWhenNoFurtherProgressPossible(t *testing.T) {
	history := []ChatMessage{
		{Role: RoleSystem, Content: strings.Repeat("x", 10000)},
	}
	total, _ := EstimateHistoryTokens(history)

	finalTotal, iterations := compactHistoryToLimit(history, total, 1)

	// Only a system message is present, so nothing can ever be compacted;
	// the loop must bail out instead of spinning to maxCompactionIterations.
	require.Equal(t, total, finalTotal)
	require.Equal(t, 1, iterations)
}

func TestCompactHistoryLeavesAlreadySummarizedMessagesAlone(t *testing.T) {
	history := []ChatMessage{
		{Role: RoleAssistant, Content: summaryPrefix + " assistant recap: old", Summarized: true, Pass: 1},
		{Role: RoleUser, Content: strings.Repeat("needs compacting ", 20), Pass: 2},
	}
	total, per := EstimateHistoryTokens(history)

	newTotal, _, changed := compactHistory(history, per, total, 1)

	require.True(t, changed)
	require.Less(t, newTotal, total)
	require.Equal(t, summaryPrefix+" assistant recap: old", history[0].Content)
	require.True(t, history[1].Summarized)
}

func TestSynthesizeSummaryBuildsToolObservationRecap(t *testing.T) {
	code := 0
	payload := PlanObservationPayload{
		Summary:         "Executed 1 plan step(s).",
		PlanObservation: []StepObservation{{ID: "s1", Status: PlanCompleted, ExitCode: &code}},
		Truncated:       true,
	}
	encoded, err := BuildToolMessage(payload)
	require.NoError(t, err)

	summary := synthesizeSummary(ChatMessage{Role: RoleTool, Content: encoded})

	require.True(t, summary.Summarized)
	require.Contains(t, summary.Content, summaryPrefix)
	require.Contains(t, summary.Content, "Executed 1 plan step(s).")
	require.Contains(t, summary.Content, "output truncated")
}

func TestSynthesizeSummaryFallsBackOnUnparseableToolContent(t *testing.T) {
	summary := synthesizeSummary(ChatMessage{Role: RoleTool, Content: "not json"})

	require.True(t, summary.Summarized)
	require.Contains(t, summary.Content, summaryPrefix)
	require.Contains(t, summary.Content, "not json")
}

func TestCompactSnippetTruncatesLongInputWithEllipsis(t *testing.T) {
	snippet := compactSnippet(strings.Repeat("word ", 200))
	require.True(t, strings.HasSuffix(snippet, "…"))
	require.LessOrEqual(t, len([]rune(snippet)), summarySnippetSize+1)
}

func TestCompactSnippetCollapsesWhitespace(t *testing.T) {
	require.Equal(t, "a b c", compactSnippet("  a   b\n\tc  "))
}

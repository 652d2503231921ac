package agentcore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidatePlanToolCallAcceptsSchemaConformantPlan(t *testing.T) {
	raw := `{"message":"hi","reasoning":["think"],"plan":[{"id":"s1","title":"run it"}],"requireHumanInput":false}`
	outcome, err := ValidatePlanToolCall(ToolCall{ID: "call-1", Name: "submit_plan", Arguments: raw})

	require.NoError(t, err)
	require.False(t, outcome.Retry)
	require.NotNil(t, outcome.Plan)
	require.Equal(t, "hi", outcome.Plan.Message)
	require.Len(t, outcome.Plan.Plan, 1)
}

func TestValidatePlanToolCallFlagsEmptyArguments(t *testing.T) {
	outcome, err := ValidatePlanToolCall(ToolCall{ID: "call-1", Name: "submit_plan", Arguments: "  "})

	require.NoError(t, err)
	require.True(t, outcome.Retry)
	require.True(t, outcome.Payload.JSONParseError)
	require.True(t, outcome.Payload.ResponseValidationError)
}

func TestValidatePlanToolCallFlagsMalformedJSON(t *testing.T) {
	outcome, err := ValidatePlanToolCall(ToolCall{ID: "call-1", Name: "submit_plan", Arguments: `{"message":`})

	require.NoError(t, err)
	require.True(t, outcome.Retry)
	require.True(t, outcome.Payload.JSONParseError)
}

func TestValidatePlanToolCallFlagsSchemaViolation(t *testing.T) {
	// Missing the required "reasoning" field.
	raw := `{"message":"hi","plan":[],"requireHumanInput":false}`
	outcome, err := ValidatePlanToolCall(ToolCall{ID: "call-1", Name: "submit_plan", Arguments: raw})

	require.NoError(t, err)
	require.True(t, outcome.Retry)
	require.True(t, outcome.Payload.SchemaValidationError)
	require.False(t, outcome.Payload.JSONParseError)
}

func TestBuildValidationAutoPromptIncludesToolName(t *testing.T) {
	prompt := BuildValidationAutoPrompt(PlanObservationPayload{Summary: "bad json", Details: "unexpected EOF"})

	require.Contains(t, prompt, "bad json")
	require.Contains(t, prompt, "unexpected EOF")
	require.Contains(t, prompt, "submit_plan")
}

func TestBuildValidationAutoPromptDefaultsSummary(t *testing.T) {
	prompt := BuildValidationAutoPrompt(PlanObservationPayload{})
	require.Contains(t, prompt, "could not be processed")
}

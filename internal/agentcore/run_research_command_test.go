package agentcore

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunResearchCommandRejectsMissingGoal(t *testing.T) {
	handler := newRunResearchCommand(NewRuntime, RuntimeOptions{APIKey: "test-key"})
	_, err := handler(context.Background(), InternalCommandRequest{Raw: `run_research {"turns":3}`})
	require.Error(t, err)
}

func TestRunResearchCommandRejectsInvalidJSON(t *testing.T) {
	handler := newRunResearchCommand(NewRuntime, RuntimeOptions{APIKey: "test-key"})
	_, err := handler(context.Background(), InternalCommandRequest{Raw: `run_research not json`})
	require.Error(t, err)
}

func TestRunResearchCommandReportsSuccessOnHandsFreeCompletion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		args := `{"message":"research complete, nothing more to do","reasoning":[],"plan":[],"requireHumanInput":false}`
		event := fmt.Sprintf(`{"type":"response.function_call.arguments.delta","call_id":"call-1","name":"submit_plan","arguments":%q}`, args)
		fmt.Fprintf(w, "data: %s\n\n", event)
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	base := RuntimeOptions{APIKey: "test-key", BaseURL: server.URL}
	handler := newRunResearchCommand(NewRuntime, base)

	payload, err := handler(context.Background(), InternalCommandRequest{
		Raw: `run_research {"goal":"find the bug","turns":3}`,
	})

	require.NoError(t, err)
	require.NotNil(t, payload.ExitCode)
	require.Equal(t, 0, *payload.ExitCode)
	require.Contains(t, payload.Stdout, "research complete")
}

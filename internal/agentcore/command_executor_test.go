package agentcore

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCommandExecutorExecuteCapturesStdout(t *testing.T) {
	exec := NewCommandExecutor(t.TempDir(), nil)
	step := PlanStep{ID: "s1", Command: CommandDraft{Shell: "/bin/bash", Run: "echo hello"}}

	payload, err := exec.Execute(context.Background(), step)

	require.NoError(t, err)
	require.Equal(t, "hello\n", payload.Stdout)
	require.NotNil(t, payload.ExitCode)
	require.Equal(t, 0, *payload.ExitCode)
}

func TestCommandExecutorExecuteReportsNonZeroExit(t *testing.T) {
	exec := NewCommandExecutor(t.TempDir(), nil)
	step := PlanStep{ID: "s1", Command: CommandDraft{Shell: "/bin/bash", Run: "exit 3"}}

	payload, err := exec.Execute(context.Background(), step)

	require.Error(t, err)
	require.NotNil(t, payload.ExitCode)
	require.Equal(t, 3, *payload.ExitCode)
}

func TestCommandExecutorExecuteRejectsMissingRun(t *testing.T) {
	exec := NewCommandExecutor(t.TempDir(), nil)
	_, err := exec.Execute(context.Background(), PlanStep{ID: "s1", Command: CommandDraft{Shell: "/bin/bash"}})
	require.Error(t, err)
}

func TestCommandExecutorDispatchesInternalCommands(t *testing.T) {
	exec := NewCommandExecutor(t.TempDir(), nil)
	var received InternalCommandRequest
	err := exec.RegisterInternalCommand("ping", func(ctx context.Context, req InternalCommandRequest) (PlanObservationPayload, error) {
		received = req
		return PlanObservationPayload{Stdout: "pong"}, nil
	})
	require.NoError(t, err)

	step := PlanStep{ID: "s1", Command: CommandDraft{Shell: agentShell, Run: `ping target=host1 verbose=true`}}
	payload, err := exec.Execute(context.Background(), step)

	require.NoError(t, err)
	require.Equal(t, "pong", payload.Stdout)
	require.Equal(t, "ping", received.Name)
	require.Equal(t, "host1", received.Args["target"])
	require.Equal(t, true, received.Args["verbose"])
}

func TestCommandExecutorInternalCommandUnknownNameErrors(t *testing.T) {
	exec := NewCommandExecutor(t.TempDir(), nil)
	step := PlanStep{ID: "s1", Command: CommandDraft{Shell: agentShell, Run: "does_not_exist"}}

	_, err := exec.Execute(context.Background(), step)
	require.Error(t, err)
}

func TestEnforceObservationLimitTruncatesOversizedStdout(t *testing.T) {
	payload := PlanObservationPayload{Stdout: strings.Repeat("a", maxObservationBytes+100)}
	enforceObservationLimit(&payload)

	require.True(t, payload.Truncated)
	require.Len(t, payload.Stdout, maxObservationBytes)
}

func TestEnforceObservationLimitTruncatesPerStepObservations(t *testing.T) {
	payload := PlanObservationPayload{
		PlanObservation: []StepObservation{
			{ID: "s1", Stderr: strings.Repeat("e", maxObservationBytes+1)},
		},
	}
	enforceObservationLimit(&payload)

	require.True(t, payload.Truncated)
	require.True(t, payload.PlanObservation[0].Truncated)
	require.Len(t, payload.PlanObservation[0].Stderr, maxObservationBytes)
}

func TestEnforceObservationLimitLeavesSmallPayloadUntouched(t *testing.T) {
	payload := PlanObservationPayload{Stdout: "small"}
	enforceObservationLimit(&payload)

	require.False(t, payload.Truncated)
	require.Equal(t, "small", payload.Stdout)
}

func TestTruncateOutputRespectsMaxBytesAndTailLines(t *testing.T) {
	output := []byte("line1\nline2\nline3\nline4")

	truncated, didTruncate := truncateOutput(output, 0, 2)
	require.True(t, didTruncate)
	require.Equal(t, "line3\nline4", string(truncated))

	truncated, didTruncate = truncateOutput(output, 11, 0)
	require.True(t, didTruncate)
	require.Equal(t, "line3\nline4", string(truncated))
}

func TestTokenizeInternalCommandHandlesQuotesAndEscapes(t *testing.T) {
	tokens, err := tokenizeInternalCommand(`apply_patch path="a b.txt" force=true tag=a\ b`)
	require.NoError(t, err)
	require.Equal(t, []string{"apply_patch", "path=a b.txt", "force=true", "tag=a b"}, tokens)
}

func TestTokenizeInternalCommandRejectsUnmatchedQuote(t *testing.T) {
	_, err := tokenizeInternalCommand(`run "unterminated`)
	require.Error(t, err)
}

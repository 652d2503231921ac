package agentcore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyPatchCommandAddsNewFile(t *testing.T) {
	dir := t.TempDir()
	handler := newApplyPatchCommand()

	patch := "*** Begin Patch\n" +
		"*** Add File: notes.txt\n" +
		"+hello world\n" +
		"*** End Patch"

	step := PlanStep{ID: "s1", Command: CommandDraft{Cwd: dir}}
	payload, err := handler(context.Background(), InternalCommandRequest{Raw: patch, Step: step})

	require.NoError(t, err)
	require.Contains(t, payload.Stdout, "A notes.txt")

	content, readErr := os.ReadFile(filepath.Join(dir, "notes.txt"))
	require.NoError(t, readErr)
	require.Equal(t, "hello world\n", string(content))
}

func TestApplyPatchCommandUpdatesExistingFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("line one\nline two\n"), 0o644))

	handler := newApplyPatchCommand()
	patch := "*** Begin Patch\n" +
		"*** Update File: a.txt\n" +
		"@@\n" +
		" line one\n" +
		"-line two\n" +
		"+line replaced\n" +
		"*** End Patch"

	step := PlanStep{ID: "s1", Command: CommandDraft{Cwd: dir}}
	payload, err := handler(context.Background(), InternalCommandRequest{Raw: patch, Step: step})

	require.NoError(t, err)
	require.Contains(t, payload.Stdout, "M a.txt")

	content, readErr := os.ReadFile(filepath.Join(dir, "a.txt"))
	require.NoError(t, readErr)
	require.Equal(t, "line one\nline replaced\n", string(content))
}

func TestApplyPatchCommandRequiresPatchBlock(t *testing.T) {
	handler := newApplyPatchCommand()
	_, err := handler(context.Background(), InternalCommandRequest{Raw: "apply_patch", Step: PlanStep{}})
	require.Error(t, err)
}

func TestApplyPatchCommandFallsBackToStepReason(t *testing.T) {
	dir := t.TempDir()
	handler := newApplyPatchCommand()

	patch := "*** Begin Patch\n" +
		"*** Add File: from_reason.txt\n" +
		"+from the reason field\n" +
		"*** End Patch"

	step := PlanStep{ID: "s1", Command: CommandDraft{Cwd: dir, Reason: patch}}
	payload, err := handler(context.Background(), InternalCommandRequest{Raw: "apply_patch", Step: step})

	require.NoError(t, err)
	require.Contains(t, payload.Stdout, "A from_reason.txt")
}

func TestApplyPatchCommandReturnsDiagnosticOnHunkMismatch(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("actual content\n"), 0o644))

	handler := newApplyPatchCommand()
	patch := "*** Begin Patch\n" +
		"*** Update File: a.txt\n" +
		"@@\n" +
		"-this line does not exist\n" +
		"+replacement\n" +
		"*** End Patch"

	step := PlanStep{ID: "s1", Command: CommandDraft{Cwd: dir}}
	payload, err := handler(context.Background(), InternalCommandRequest{Raw: patch, Step: step})

	require.Error(t, err)
	require.NotNil(t, payload.ExitCode)
	require.Equal(t, 1, *payload.ExitCode)
	require.Contains(t, payload.Stderr, "Hunk not found")
}

func TestParseApplyPatchOptionsRecognizesIgnoreWhitespaceFlags(t *testing.T) {
	opts := parseApplyPatchOptions("apply_patch -w")
	require.True(t, opts.IgnoreWhitespace)

	opts = parseApplyPatchOptions("apply_patch --respect-whitespace")
	require.False(t, opts.IgnoreWhitespace)
}

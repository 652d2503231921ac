package patchfs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyUpdatesFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	target := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(target, []byte("alpha\nbeta\n"), 0o644))

	patch := "*** Begin Patch\n*** Update File: notes.txt\n@@\n-alpha\n+gamma\n*** End Patch"
	results, err := Apply(dir, patch, DefaultOptions())
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "M", results[0].Status)
	require.Equal(t, "notes.txt", results[0].Path)

	content, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, "gamma\nbeta\n", string(content))
}

func TestApplyAddsNewFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	patch := strings.Join([]string{
		"*** Begin Patch",
		"*** Add File: greeting.txt",
		"@@",
		"+hello",
		"+world",
		"*** End Patch",
	}, "\n")

	results, err := Apply(dir, patch, DefaultOptions())
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "A", results[0].Status)

	content, err := os.ReadFile(filepath.Join(dir, "greeting.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello\nworld\n", string(content))
}

func TestApplyRejectsAddWhenFileExists(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "exists.txt"), []byte("x\n"), 0o644))

	patch := strings.Join([]string{
		"*** Begin Patch",
		"*** Add File: exists.txt",
		"@@",
		"+y",
		"*** End Patch",
	}, "\n")

	_, err := Apply(dir, patch, DefaultOptions())
	require.Error(t, err)
}

func TestApplyReturnsHunkNotFoundDiagnostics(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	target := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(target, []byte("alpha\nbeta\n"), 0o644))

	patch := "*** Begin Patch\n*** Update File: notes.txt\n@@\n-does-not-exist\n+gamma\n*** End Patch"
	_, err := Apply(dir, patch, DefaultOptions())
	require.Error(t, err)

	formatted := FormatApplyError(err)
	require.Contains(t, formatted, "Hunk not found")
	require.Contains(t, formatted, "alpha")
}

func TestExtractBlock(t *testing.T) {
	t.Parallel()

	raw := "apply_patch\n*** Begin Patch\n*** Update File: a.txt\n@@\n-x\n+y\n*** End Patch\ntrailing"
	block, ok := ExtractBlock(raw)
	require.True(t, ok)
	require.True(t, strings.HasPrefix(block, "*** Begin Patch"))
	require.True(t, strings.HasSuffix(block, "*** End Patch"))
}

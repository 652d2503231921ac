// Package patchfs applies Codex-style "*** Begin Patch" / "*** Update File:"
// unified diff blocks to the local filesystem. Each hunk is materialized into
// a conventional unified diff and applied with go-gitdiff, falling back to a
// manual line-splice when the two disagree, so the engine tolerates patches
// whose context lines drifted slightly from what's on disk.
package patchfs

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/bluekeyes/go-gitdiff/gitdiff"
)

// Options tunes how patch hunks are matched against file content.
type Options struct {
	// IgnoreWhitespace allows a hunk's context lines to match file content
	// that differs only in whitespace, falling back to a whitespace-stripped
	// comparison when an exact match fails.
	IgnoreWhitespace bool
}

// DefaultOptions matches the engine's historical default of tolerating
// whitespace drift, since patches are frequently hand-authored by a model
// that doesn't reproduce a file's exact indentation.
func DefaultOptions() Options {
	return Options{IgnoreWhitespace: true}
}

type operationType string

const (
	opUpdate operationType = "update"
	opAdd    operationType = "add"
)

type operation struct {
	Type  operationType
	Path  string
	Hunks []hunk
}

type hunk struct {
	Before        []string
	After         []string
	RawLines      []string
	Header        string
	RawPatchLines []string
}

type hunkStatus struct {
	Number int
	Status string
}

type failedHunk struct {
	Number        int
	RawPatchLines []string
}

// ApplyError describes why a patch could not be applied, including enough
// context (the file's full content, which hunks already succeeded) for a
// caller to relay an actionable message back to whatever produced the patch.
type ApplyError struct {
	Msg             string
	Code            string
	RelativePath    string
	OriginalContent string
	HunkStatuses    []hunkStatus
	FailedHunk      *failedHunk
}

func (e *ApplyError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return "patchfs: apply failed"
}

// Result describes one file touched by a successful Apply call.
type Result struct {
	Status string // "A" for added, "M" for modified
	Path   string // relative to the working directory passed to Apply
}

// ExtractBlock scans raw text for a "*** Begin Patch" ... "*** End Patch"
// block and returns it verbatim, including the markers. Callers typically
// pass the full internal-command invocation text, since the patch may be
// embedded alongside other command arguments.
func ExtractBlock(raw string) (string, bool) {
	normalized := strings.ReplaceAll(raw, "\r\n", "\n")
	lines := strings.Split(normalized, "\n")
	var b strings.Builder
	inside := false
	for _, line := range lines {
		if line == "*** Begin Patch" {
			inside = true
		}
		if inside {
			if b.Len() > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(line)
			if line == "*** End Patch" {
				return b.String(), true
			}
		}
	}
	return "", false
}

// Apply parses patchText and applies every hunk it describes to files under
// workingDir, returning one Result per touched file sorted by path. An
// *ApplyError is returned (wrapped) when a hunk's context cannot be located.
func Apply(workingDir, patchText string, opts Options) ([]Result, error) {
	ops, err := parse(patchText)
	if err != nil {
		return nil, err
	}
	if len(ops) == 0 {
		return nil, errors.New("patchfs: no patch operations detected")
	}

	absDir, err := resolveWorkingDir(workingDir)
	if err != nil {
		return nil, err
	}

	results, err := applyOperations(absDir, ops, opts)
	if err != nil {
		return nil, err
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Path < results[j].Path })
	return results, nil
}

// FormatApplyError renders an ApplyError (or any error Apply returned) into
// the human/model-readable diagnostic the teacher's apply_patch surfaces:
// which hunks succeeded, the offending hunk, and the file's full content.
func FormatApplyError(err error) string {
	if err == nil {
		return "patchfs: unknown error"
	}
	var ap *ApplyError
	if errors.As(err, &ap) {
		message := ap.Msg
		if message == "" {
			message = "patchfs: unknown error"
		}
		if ap.Code == "HUNK_NOT_FOUND" || strings.Contains(strings.ToLower(message), "hunk not found") {
			relative := ap.RelativePath
			if !strings.HasPrefix(relative, "./") {
				relative = "./" + relative
			}
			parts := []string{message}
			if summary := describeHunkStatuses(ap.HunkStatuses); summary != "" {
				parts = append(parts, "", summary)
			}
			if ap.FailedHunk != nil && len(ap.FailedHunk.RawPatchLines) > 0 {
				parts = append(parts, "", "Offending hunk:")
				parts = append(parts, strings.Join(ap.FailedHunk.RawPatchLines, "\n"))
			}
			parts = append(parts, "", fmt.Sprintf("Full content of file: %s::::", relative), ap.OriginalContent)
			return strings.Join(parts, "\n")
		}
		return message
	}
	return err.Error()
}

func describeHunkStatuses(statuses []hunkStatus) string {
	if len(statuses) == 0 {
		return ""
	}
	var applied []string
	var failed *hunkStatus
	for _, status := range statuses {
		if status.Status == "applied" {
			applied = append(applied, strconv.Itoa(status.Number))
			continue
		}
		if failed == nil {
			s := status
			failed = &s
		}
	}
	var lines []string
	if len(applied) > 0 {
		lines = append(lines, fmt.Sprintf("Hunks applied: %s.", strings.Join(applied, ", ")))
	}
	if failed != nil {
		lines = append(lines, fmt.Sprintf("No match for hunk %d.", failed.Number))
	}
	return strings.Join(lines, "\n")
}

func resolveWorkingDir(cwd string) (string, error) {
	trimmed := strings.TrimSpace(cwd)
	if trimmed == "" {
		dir, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("patchfs: determine working directory: %w", err)
		}
		return dir, nil
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("patchfs: resolve working directory %q: %w", trimmed, err)
	}
	return abs, nil
}

func parse(input string) ([]operation, error) {
	normalized := strings.ReplaceAll(input, "\r\n", "\n")
	lines := strings.Split(normalized, "\n")
	var (
		ops    []operation
		curOp  *operation
		curHnk *hunk
		inside bool
	)

	flushHunk := func() error {
		if curHnk == nil {
			return nil
		}
		parsed, err := parseHunk(curHnk.RawLines, curOp.Path, curHnk.Header)
		if err != nil {
			return err
		}
		curOp.Hunks = append(curOp.Hunks, parsed)
		curHnk = nil
		return nil
	}

	flushOp := func() error {
		if curOp == nil {
			return nil
		}
		if err := flushHunk(); err != nil {
			return err
		}
		if len(curOp.Hunks) == 0 {
			return fmt.Errorf("patchfs: no hunks provided for %s", curOp.Path)
		}
		ops = append(ops, *curOp)
		curOp = nil
		return nil
	}

	for _, line := range lines {
		switch {
		case line == "*** Begin Patch":
			inside = true
			continue
		case line == "*** End Patch":
			if inside {
				if err := flushOp(); err != nil {
					return nil, err
				}
			}
			inside = false
			continue
		}

		if !inside {
			continue
		}

		if strings.HasPrefix(line, "*** ") {
			if err := flushOp(); err != nil {
				return nil, err
			}
			if strings.HasPrefix(line, "*** Update File:") {
				path := strings.TrimSpace(strings.TrimPrefix(line, "*** Update File:"))
				curOp = &operation{Type: opUpdate, Path: path}
				continue
			}
			if strings.HasPrefix(line, "*** Add File:") {
				path := strings.TrimSpace(strings.TrimPrefix(line, "*** Add File:"))
				curOp = &operation{Type: opAdd, Path: path}
				continue
			}
			return nil, fmt.Errorf("patchfs: unsupported patch directive: %s", line)
		}

		if curOp == nil {
			if strings.TrimSpace(line) == "" {
				continue
			}
			return nil, fmt.Errorf("patchfs: diff content before a file directive: %q", line)
		}

		if strings.HasPrefix(line, "@@") {
			if err := flushHunk(); err != nil {
				return nil, err
			}
			curHnk = &hunk{Header: line}
			continue
		}

		if curHnk == nil {
			curHnk = &hunk{}
		}
		curHnk.RawLines = append(curHnk.RawLines, line)
	}

	if inside {
		return nil, errors.New("patchfs: missing *** End Patch terminator")
	}
	if err := flushOp(); err != nil {
		return nil, err
	}
	return ops, nil
}

func parseHunk(lines []string, filePath, header string) (hunk, error) {
	h := hunk{Header: header, RawLines: append([]string{}, lines...)}
	for _, raw := range lines {
		switch {
		case strings.HasPrefix(raw, "+"):
			h.After = append(h.After, raw[1:])
		case strings.HasPrefix(raw, "-"):
			h.Before = append(h.Before, raw[1:])
		case strings.HasPrefix(raw, " "):
			value := raw[1:]
			h.Before = append(h.Before, value)
			h.After = append(h.After, value)
		case raw == "\\ No newline at end of file":
			continue
		default:
			return hunk{}, fmt.Errorf("patchfs: unsupported hunk line in %s: %q", filePath, raw)
		}
	}
	if header != "" {
		h.RawPatchLines = append(h.RawPatchLines, header)
	}
	h.RawPatchLines = append(h.RawPatchLines, lines...)
	return h, nil
}

type fileState struct {
	path                    string
	relativePath            string
	lines                   []string
	normalizedLines         []string
	endsWithNewline         bool
	originalContent         string
	originalEndsWithNewline *bool
	options                 Options
	cursor                  int
	touched                 bool
	isNew                   bool
	hunkStatuses            []hunkStatus
}

func applyOperations(baseDir string, ops []operation, opts Options) ([]Result, error) {
	states := make(map[string]*fileState)

	ensureState := func(relativePath string, create bool) (*fileState, error) {
		cleanRel := strings.TrimSpace(relativePath)
		if cleanRel == "" {
			return nil, errors.New("patchfs: empty file path in patch")
		}
		absPath := cleanRel
		if !filepath.IsAbs(absPath) {
			absPath = filepath.Join(baseDir, cleanRel)
		}
		absPath = filepath.Clean(absPath)

		if state, ok := states[absPath]; ok {
			state.options = opts
			state.refreshNormalized()
			return state, nil
		}

		if create {
			if _, err := os.Stat(absPath); err == nil {
				return nil, fmt.Errorf("patchfs: cannot add %s because it already exists", cleanRel)
			} else if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("patchfs: failed to stat %s: %v", cleanRel, err)
			}
			state := &fileState{
				path:         absPath,
				relativePath: cleanRel,
				lines:        []string{},
				options:      opts,
				isNew:        true,
			}
			state.refreshNormalized()
			states[absPath] = state
			return state, nil
		}

		content, err := os.ReadFile(absPath)
		if err != nil {
			return nil, fmt.Errorf("patchfs: failed to read %s: %w", cleanRel, err)
		}
		normalized := strings.ReplaceAll(string(content), "\r\n", "\n")
		endsWithNewline := strings.HasSuffix(normalized, "\n")
		ptr := new(bool)
		*ptr = endsWithNewline

		state := &fileState{
			path:                    absPath,
			relativePath:            cleanRel,
			originalContent:         string(content),
			originalEndsWithNewline: ptr,
			options:                 opts,
		}
		state.setContentFromString(normalized)
		states[absPath] = state
		return state, nil
	}

	for _, op := range ops {
		state, err := ensureState(op.Path, op.Type == opAdd)
		if err != nil {
			return nil, err
		}
		state.cursor = 0
		state.hunkStatuses = nil

		for idx, h := range op.Hunks {
			number := idx + 1
			if err := applyHunk(state, h); err != nil {
				return nil, enhanceHunkError(err, state, h, number)
			}
			state.hunkStatuses = append(state.hunkStatuses, hunkStatus{Number: number, Status: "applied"})
			state.touched = true
		}
	}

	var results []Result
	for _, state := range states {
		if !state.touched {
			continue
		}
		newContent := state.currentContent()
		if state.originalEndsWithNewline != nil {
			if *state.originalEndsWithNewline && !state.endsWithNewline {
				newContent += "\n"
			} else if !*state.originalEndsWithNewline && state.endsWithNewline {
				newContent = strings.TrimSuffix(newContent, "\n")
			}
		} else if state.isNew && newContent != "" && !strings.HasSuffix(newContent, "\n") {
			newContent += "\n"
		}
		if err := os.MkdirAll(filepath.Dir(state.path), 0o755); err != nil {
			return nil, fmt.Errorf("patchfs: failed to create directories for %s: %w", state.relativePath, err)
		}
		if err := os.WriteFile(state.path, []byte(newContent), 0o644); err != nil {
			return nil, fmt.Errorf("patchfs: failed to write %s: %w", state.relativePath, err)
		}
		status := "M"
		if state.isNew {
			status = "A"
		}
		results = append(results, Result{Status: status, Path: state.relativePath})
	}
	return results, nil
}

func (s *fileState) setContentFromString(content string) {
	normalized := strings.ReplaceAll(content, "\r\n", "\n")
	s.endsWithNewline = strings.HasSuffix(normalized, "\n")
	s.lines = splitLines(normalized)
	s.refreshNormalized()
}

func (s *fileState) currentContent() string {
	if len(s.lines) == 0 {
		if s.endsWithNewline {
			return "\n"
		}
		return ""
	}
	content := strings.Join(s.lines, "\n")
	if s.endsWithNewline && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	if !s.endsWithNewline && strings.HasSuffix(content, "\n") {
		content = strings.TrimSuffix(content, "\n")
	}
	return content
}

func (s *fileState) refreshNormalized() {
	if s.options.IgnoreWhitespace {
		s.normalizedLines = normalizeLines(s.lines)
	} else {
		s.normalizedLines = nil
	}
}

func (s *fileState) ensureNormalizedLines() []string {
	if !s.options.IgnoreWhitespace {
		return s.lines
	}
	if s.normalizedLines == nil {
		s.normalizedLines = normalizeLines(s.lines)
	}
	return s.normalizedLines
}

func splitLines(text string) []string {
	if text == "" {
		return []string{}
	}
	if strings.HasSuffix(text, "\n") {
		trimmed := strings.TrimSuffix(text, "\n")
		if trimmed == "" {
			return []string{""}
		}
		parts := strings.Split(trimmed, "\n")
		return append(parts, "")
	}
	return strings.Split(text, "\n")
}

func normalizeLines(lines []string) []string {
	out := make([]string, len(lines))
	for i, line := range lines {
		out[i] = normalizeLine(line)
	}
	return out
}

func normalizeLine(line string) string {
	var b strings.Builder
	for _, r := range line {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func applyHunk(state *fileState, h hunk) error {
	beforeLen := len(h.Before)
	var matchIndex int
	if beforeLen == 0 {
		matchIndex = len(state.lines)
		if matchIndex > 0 && state.lines[matchIndex-1] == "" {
			matchIndex--
		}
	} else {
		matchIndex = findSubsequence(state.lines, h.Before, state.cursor)
		if matchIndex == -1 {
			matchIndex = findSubsequence(state.lines, h.Before, 0)
		}
		if matchIndex == -1 && state.options.IgnoreWhitespace {
			normalizedBefore := make([]string, len(h.Before))
			for i, line := range h.Before {
				normalizedBefore[i] = normalizeLine(line)
			}
			normalizedLines := state.ensureNormalizedLines()
			matchIndex = findSubsequence(normalizedLines, normalizedBefore, state.cursor)
			if matchIndex == -1 {
				matchIndex = findSubsequence(normalizedLines, normalizedBefore, 0)
			}
		}
		if matchIndex == -1 {
			original := state.originalContent
			if original == "" {
				original = state.currentContent()
			}
			return &ApplyError{
				Msg:             fmt.Sprintf("Hunk not found in %s.", state.relativePath),
				Code:            "HUNK_NOT_FOUND",
				RelativePath:    state.relativePath,
				OriginalContent: original,
			}
		}
	}

	currentContent := state.currentContent()
	manualLines := applyLineUpdate(state.lines, matchIndex, beforeLen, h.After)
	manualContent, manualEndsWithNewline := assembleContentFromLines(manualLines)

	diffText := buildDiffForHunk(state, h, matchIndex)
	files, _, err := gitdiff.Parse(strings.NewReader(diffText))
	if err != nil {
		return fmt.Errorf("patchfs: failed to materialize hunk for %s: %w", state.relativePath, err)
	}
	if len(files) == 0 {
		return fmt.Errorf("patchfs: parsed diff for %s contained no file data", state.relativePath)
	}

	var buf bytes.Buffer
	if err := gitdiff.Apply(&buf, strings.NewReader(currentContent), files[0]); err != nil {
		return wrapGitDiffError(err)
	}

	if buf.String() == manualContent {
		state.setContentFromString(manualContent)
	} else {
		state.lines = manualLines
		state.endsWithNewline = manualEndsWithNewline
		state.refreshNormalized()
	}
	state.cursor = matchIndex + len(h.After)
	return nil
}

func buildDiffForHunk(state *fileState, h hunk, matchIndex int) string {
	oldStart := matchIndex + 1
	newStart := matchIndex + 1
	emptyNewFile := len(h.Before) == 0 && state.isNew && len(state.lines) == 0
	if emptyNewFile {
		oldStart = 0
		newStart = 1
	}

	oldLabel := "a/" + state.relativePath
	if emptyNewFile {
		oldLabel = "/dev/null"
	}

	var b strings.Builder
	b.WriteString("diff --git a/")
	b.WriteString(state.relativePath)
	b.WriteString(" b/")
	b.WriteString(state.relativePath)
	b.WriteByte('\n')
	b.WriteString("--- ")
	b.WriteString(oldLabel)
	b.WriteByte('\n')
	b.WriteString("+++ b/")
	b.WriteString(state.relativePath)
	b.WriteByte('\n')
	fmt.Fprintf(&b, "@@ -%d,%d +%d,%d @@\n", oldStart, len(h.Before), newStart, len(h.After))

	beforeOffset := 0
	for _, line := range h.RawPatchLines {
		if strings.HasPrefix(line, "@@") {
			continue
		}
		switch {
		case strings.HasPrefix(line, "-"):
			content := line[1:]
			if idx := matchIndex + beforeOffset; idx < len(state.lines) {
				content = state.lines[idx]
			}
			b.WriteByte('-')
			b.WriteString(content)
			b.WriteByte('\n')
			beforeOffset++
		case strings.HasPrefix(line, "+"):
			b.WriteByte('+')
			b.WriteString(line[1:])
			b.WriteByte('\n')
		case strings.HasPrefix(line, " "):
			content := line[1:]
			if idx := matchIndex + beforeOffset; idx < len(state.lines) {
				content = state.lines[idx]
			}
			b.WriteByte(' ')
			b.WriteString(content)
			b.WriteByte('\n')
			beforeOffset++
		default:
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func wrapGitDiffError(err error) error {
	if err == nil {
		return nil
	}
	var applyErr *gitdiff.ApplyError
	if errors.As(err, &applyErr) {
		return &ApplyError{Msg: applyErr.Error(), Code: "HUNK_NOT_FOUND"}
	}
	if errors.Is(err, &gitdiff.Conflict{}) {
		return &ApplyError{Msg: err.Error(), Code: "HUNK_NOT_FOUND"}
	}
	return err
}

func findSubsequence(haystack, needle []string, start int) int {
	if len(needle) == 0 {
		return -1
	}
	if start < 0 {
		start = 0
	}
	for i := start; i <= len(haystack)-len(needle); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

func applyLineUpdate(lines []string, index, deleteCount int, replacement []string) []string {
	result := make([]string, 0, len(lines)-deleteCount+len(replacement))
	result = append(result, lines[:index]...)
	result = append(result, replacement...)
	if tail := lines[index+deleteCount:]; len(tail) > 0 {
		result = append(result, tail...)
	}
	return append([]string(nil), result...)
}

func assembleContentFromLines(lines []string) (string, bool) {
	if len(lines) == 0 {
		return "", false
	}
	endsWithNewline := lines[len(lines)-1] == ""
	content := strings.Join(lines, "\n")
	if endsWithNewline && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	if !endsWithNewline && strings.HasSuffix(content, "\n") {
		content = strings.TrimSuffix(content, "\n")
	}
	return content, endsWithNewline
}

func enhanceHunkError(err error, state *fileState, h hunk, number int) error {
	var ap *ApplyError
	if !errors.As(err, &ap) {
		ap = &ApplyError{Msg: err.Error()}
	}
	if ap.Code == "" {
		ap.Code = "HUNK_NOT_FOUND"
	}
	if ap.RelativePath == "" {
		ap.RelativePath = state.relativePath
	}
	if ap.OriginalContent == "" {
		if state.originalContent != "" {
			ap.OriginalContent = state.originalContent
		} else {
			ap.OriginalContent = state.currentContent()
		}
	}
	statuses := append([]hunkStatus{}, state.hunkStatuses...)
	statuses = append(statuses, hunkStatus{Number: number, Status: "no-match"})
	ap.HunkStatuses = statuses
	if ap.FailedHunk == nil {
		ap.FailedHunk = &failedHunk{Number: number, RawPatchLines: append([]string{}, h.RawPatchLines...)}
	}
	return ap
}

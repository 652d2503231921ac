package envprobe

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ProbeResult carries the detection indicators and resolved command
// availability for a single ecosystem.
type ProbeResult struct {
	Detected   bool
	Indicators []string
	Commands   map[string]bool
}

// Result aggregates every probe this package runs. Nil fields mean the
// ecosystem was not detected.
type Result struct {
	Go   *ProbeResult
	Git  *ProbeResult
	Node *ProbeResult
}

// Run executes the Go module, git repository, and Node project probes
// against ctx.
func Run(ctx *Context) Result {
	return Result{
		Go:   runGoProbe(ctx),
		Git:  runGitProbe(ctx),
		Node: runNodeProbe(ctx),
	}
}

func commandStatuses(ctx *Context, names ...string) map[string]bool {
	statuses := make(map[string]bool, len(names))
	for _, name := range names {
		statuses[name] = ctx.CommandExists(name)
	}
	return statuses
}

func collectExistingFiles(ctx *Context, files []string) []string {
	var found []string
	for _, f := range files {
		if ctx.HasFile(f) {
			found = append(found, f)
		}
	}
	return found
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func runGoProbe(ctx *Context) *ProbeResult {
	indicators := collectExistingFiles(ctx, []string{"go.mod", "go.sum", "go.work"})
	commands := commandStatuses(ctx, "go", "gofmt", "golangci-lint")
	if len(indicators) == 0 {
		return nil
	}

	if ctx.CommandExists("go") {
		if out, err := ctx.RunCommandOutput("go", "version"); err == nil && out != "" {
			indicators = append(indicators, "go version: "+out)
		}
	}

	if ctx.HasFile("go.mod") {
		if data, err := ctx.ReadFile("go.mod"); err == nil {
			if tc := parseGoToolchain(string(data)); tc != "" {
				indicators = append(indicators, "toolchain: "+tc)
			}
		}
	}

	if ctx.CommandExists("go") {
		if out, err := ctx.RunCommandOutput("go", "env", "-json"); err == nil {
			var env struct {
				GOPATH string `json:"GOPATH"`
				GOROOT string `json:"GOROOT"`
			}
			if jsonErr := json.Unmarshal([]byte(out), &env); jsonErr == nil {
				if env.GOROOT != "" {
					indicators = append(indicators, "GOROOT="+env.GOROOT)
				}
				if env.GOPATH != "" {
					indicators = append(indicators, "GOPATH="+env.GOPATH)
				}
			}
		}
	}

	return &ProbeResult{
		Detected:   true,
		Indicators: dedupeStrings(indicators),
		Commands:   commands,
	}
}

// parseGoToolchain extracts the value of a go.mod "toolchain" directive.
func parseGoToolchain(modFile string) string {
	for _, line := range strings.Split(modFile, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "//") {
			continue
		}
		if strings.HasPrefix(trimmed, "toolchain ") {
			value := strings.TrimSpace(strings.TrimPrefix(trimmed, "toolchain "))
			if idx := strings.IndexAny(value, "\t #"); idx >= 0 {
				value = strings.TrimSpace(value[:idx])
			}
			return value
		}
	}
	return ""
}

func runGitProbe(ctx *Context) *ProbeResult {
	var indicators []string
	if ctx.HasDir(".git") {
		indicators = append(indicators, ".git directory")
	}
	if ctx.HasFile(".gitmodules") {
		indicators = append(indicators, ".gitmodules")
	}
	commands := commandStatuses(ctx, "git")
	if len(indicators) == 0 {
		return nil
	}
	return &ProbeResult{
		Detected:   true,
		Indicators: dedupeStrings(indicators),
		Commands:   commands,
	}
}

func runNodeProbe(ctx *Context) *ProbeResult {
	indicators := collectExistingFiles(ctx, []string{
		"package.json",
		"pnpm-workspace.yaml",
		"yarn.lock",
		"package-lock.json",
		"tsconfig.json",
	})

	hasTSFile := false
	hasJSFile := false
	if _, ok := ctx.FindFirstWithSuffix(".ts", ".tsx"); ok {
		hasTSFile = true
	}
	if _, ok := ctx.FindFirstWithSuffix(".js", ".jsx", ".mjs", ".cjs"); ok {
		hasJSFile = true
	}

	if len(indicators) == 0 && !hasTSFile && !hasJSFile {
		return nil
	}
	if hasTSFile {
		indicators = append(indicators, "TypeScript sources")
	}
	if hasJSFile {
		indicators = append(indicators, "JavaScript sources")
	}

	commands := commandStatuses(ctx, "node", "npm", "pnpm", "yarn")

	return &ProbeResult{
		Detected:   true,
		Indicators: dedupeStrings(indicators),
		Commands:   commands,
	}
}

// HasCapabilities reports whether any ecosystem was detected.
func (r Result) HasCapabilities() bool {
	return r.Go != nil || r.Git != nil || r.Node != nil
}

func formatProbeSummary(label string, pr *ProbeResult) string {
	var avail []string
	for name, ok := range pr.Commands {
		if ok {
			avail = append(avail, name)
		}
	}
	line := fmt.Sprintf("- %s: %s", label, strings.Join(pr.Indicators, "; "))
	if len(avail) > 0 {
		line += fmt.Sprintf(" (commands available: %s)", strings.Join(avail, ", "))
	}
	return line
}

// FormatSummary renders a short bullet list describing every detected
// ecosystem, suitable for appending to a system prompt.
func (r Result) FormatSummary() string {
	if !r.HasCapabilities() {
		return ""
	}
	var lines []string
	lines = append(lines, "Detected working-directory environment:")
	if r.Go != nil {
		lines = append(lines, formatProbeSummary("Go toolchain", r.Go))
	}
	if r.Git != nil {
		lines = append(lines, formatProbeSummary("Git repository", r.Git))
	}
	if r.Node != nil {
		lines = append(lines, formatProbeSummary("Node project", r.Node))
	}
	return strings.Join(lines, "\n")
}

// CombineAugmentation joins the probe summary with any user-supplied
// augmentation text, separated by a blank line.
func CombineAugmentation(probeSummary, userAugment string) string {
	probeSummary = strings.TrimSpace(probeSummary)
	userAugment = strings.TrimSpace(userAugment)
	switch {
	case probeSummary == "":
		return userAugment
	case userAugment == "":
		return probeSummary
	default:
		return probeSummary + "\n\n" + userAugment
	}
}

// BuildAugmentation runs the probes rooted at dir and combines the result
// with userAugment, returning both the raw Result and the composed string.
func BuildAugmentation(dir, userAugment string) (Result, string) {
	ctx := NewContext(dir)
	result := Run(ctx)
	return result, CombineAugmentation(result.FormatSummary(), userAugment)
}

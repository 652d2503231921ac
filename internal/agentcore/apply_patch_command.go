package agentcore

import (
	"context"
	"errors"
	"strings"

	"github.com/taskwright/taskwright/pkg/patchfs"
)

const applyPatchCommandName = "apply_patch"

// newApplyPatchCommand builds the built-in apply_patch handler backed by
// pkg/patchfs. The handler looks for a "*** Begin Patch" block in either
// the raw internal-command text or the step's reason field, applies it
// relative to the step's working directory, and reports every touched file.
func newApplyPatchCommand() InternalCommandHandler {
	return func(ctx context.Context, req InternalCommandRequest) (PlanObservationPayload, error) {
		block, err := extractPatchInput(req)
		if err != nil {
			return PlanObservationPayload{}, err
		}

		opts := parseApplyPatchOptions(extractHeader(req.Raw))

		results, applyErr := patchfs.Apply(req.Step.Command.Cwd, block, opts)
		if applyErr != nil {
			formatted := patchfs.FormatApplyError(applyErr)
			exitCode := 1
			return PlanObservationPayload{
				Stderr:   formatted,
				Details:  formatted,
				ExitCode: &exitCode,
			}, applyErr
		}

		if len(results) == 0 {
			return PlanObservationPayload{Stdout: "No changes applied."}, nil
		}

		var b strings.Builder
		b.WriteString("Success. Updated the following files:\n")
		for _, res := range results {
			b.WriteString(res.Status)
			b.WriteByte(' ')
			b.WriteString(res.Path)
			b.WriteByte('\n')
		}
		return PlanObservationPayload{Stdout: strings.TrimRight(b.String(), "\n")}, nil
	}
}

func extractHeader(raw string) string {
	if idx := strings.IndexAny(raw, "\r\n"); idx >= 0 {
		return raw[:idx]
	}
	return raw
}

func extractPatchInput(req InternalCommandRequest) (string, error) {
	candidates := []string{req.Raw, req.Step.Command.Reason}
	for _, candidate := range candidates {
		if strings.TrimSpace(candidate) == "" {
			continue
		}
		if block, ok := patchfs.ExtractBlock(candidate); ok {
			return block, nil
		}
	}
	return "", errors.New("agentcore: apply_patch requires a *** Begin Patch block")
}

func parseApplyPatchOptions(header string) patchfs.Options {
	opts := patchfs.DefaultOptions()
	trimmed := strings.TrimSpace(header)
	if trimmed == "" {
		return opts
	}
	tokens, err := tokenizeInternalCommand(trimmed)
	if err != nil || len(tokens) <= 1 {
		return opts
	}

	for _, token := range tokens[1:] {
		switch token {
		case "-w":
			opts.IgnoreWhitespace = true
			continue
		case "-W":
			opts.IgnoreWhitespace = false
			continue
		}
		switch strings.ToLower(token) {
		case "--ignore-whitespace":
			opts.IgnoreWhitespace = true
		case "--respect-whitespace", "--no-ignore-whitespace":
			opts.IgnoreWhitespace = false
		}
	}
	return opts
}

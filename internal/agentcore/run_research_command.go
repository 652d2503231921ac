package agentcore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const runResearchCommandName = "run_research"

// handsFreeCompleteMarker is the substring a hands-free sub-session's final
// status event must contain for the caller to treat it as a success rather
// than an early termination. Matching on this exact phrase is brittle by
// construction: it preserves the behavior this runtime was built to model,
// where sub-session completion is signaled through the same event channel
// as ordinary status chatter rather than a dedicated completion event.
const handsFreeCompleteMarker = "Hands-free session complete"

// newRunResearchCommand builds the run_research internal command: it spins
// up a nested Runtime in hands-free mode, drains its event stream, and
// reports the last assistant message as the observation.
func newRunResearchCommand(newSubRuntime func(RuntimeOptions) (*Runtime, error), base RuntimeOptions) InternalCommandHandler {
	return func(ctx context.Context, req InternalCommandRequest) (PlanObservationPayload, error) {
		var spec struct {
			Goal  string `json:"goal"`
			Turns int    `json:"turns"`
		}
		jsonInput := strings.TrimSpace(strings.TrimPrefix(req.Raw, runResearchCommandName))
		if err := json.Unmarshal([]byte(jsonInput), &spec); err != nil {
			return PlanObservationPayload{Details: "run_research: invalid JSON"}, err
		}
		spec.Goal = strings.TrimSpace(spec.Goal)
		if spec.Goal == "" {
			return PlanObservationPayload{Details: "run_research: requires a non-empty goal"}, errors.New("agentcore: run_research missing goal")
		}
		if spec.Turns <= 0 {
			spec.Turns = 10
		}

		subOptions := base
		subOptions.HandsFree = true
		subOptions.HandsFreeTopic = spec.Goal
		subOptions.MaxPasses = spec.Turns
		subOptions.HandsFreeAutoReply = fmt.Sprintf("Please continue to work on the set goal. No human available. Goal: %s", spec.Goal)
		subOptions.DisableInputReader = true
		subOptions.DisableOutputForwarding = true

		subRuntime, err := newSubRuntime(subOptions)
		if err != nil {
			return PlanObservationPayload{Details: "run_research: failed to create sub-session"}, err
		}

		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() { _ = subRuntime.Run(runCtx) }()

		var lastAssistant string
		var success bool
		for evt := range subRuntime.Outputs() {
			switch evt.Type {
			case EventTypeAssistantMessage:
				if m := strings.TrimSpace(evt.Message); m != "" {
					lastAssistant = m
				}
			case EventTypeStatus:
				if strings.Contains(evt.Message, handsFreeCompleteMarker) {
					success = true
				}
			}
		}

		payload := PlanObservationPayload{}
		if success {
			payload.Stdout = lastAssistant
			zero := 0
			payload.ExitCode = &zero
		} else {
			payload.Stderr = lastAssistant
			one := 1
			payload.ExitCode = &one
		}
		return payload, nil
	}
}

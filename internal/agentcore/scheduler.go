package agentcore

import (
	"context"
	"fmt"
	"strings"
)

// stepResult pairs a claimed PlanStep with its execution outcome.
type stepResult struct {
	step        PlanStep
	observation PlanObservationPayload
	err         error
}

// scheduler dispatches every ready batch of plan steps concurrently against
// a CommandExecutor, draining results through an unbuffered channel and
// re-polling the PlanManager for newly-unblocked steps as each one
// resolves. It halts scheduling new work (but still drains in-flight
// goroutines) the moment a step fails, matching the plan DAG's
// fail-fast contract.
type scheduler struct {
	plan     *PlanManager
	executor *CommandExecutor
	emit     func(RuntimeEvent)
}

func newScheduler(plan *PlanManager, executor *CommandExecutor, emit func(RuntimeEvent)) *scheduler {
	return &scheduler{plan: plan, executor: executor, emit: emit}
}

// run executes every step reachable from the current plan state, blocking
// until the DAG drains (HasPending returns false) or a step failure halts
// further dispatch. It returns the ordered observations collected and the
// first error encountered, if any.
func (s *scheduler) run(ctx context.Context) ([]StepObservation, error) {
	results := make(chan stepResult)
	executing := 0
	halt := false
	var ordered []StepObservation
	var firstErr error

	dispatch := func() bool {
		if halt || ctx.Err() != nil {
			return false
		}
		started := false
		for _, step := range s.plan.ReadyBatch() {
			started = true
			executing++
			s.emitStepStarted(step)
			go func(step PlanStep) {
				observation, err := s.executor.Execute(ctx, step)
				results <- stepResult{step: step, observation: observation, err: err}
			}(step)
		}
		return started
	}

	for {
		started := dispatch()
		if executing == 0 {
			if !started {
				break
			}
		}
		if executing == 0 {
			break
		}

		res := <-results
		executing--
		ordered = append(ordered, s.resolve(res, &halt, &firstErr))
	}

	if ctx.Err() != nil && firstErr == nil {
		firstErr = ctx.Err()
	}
	if firstErr == nil && !s.plan.HasPending() {
		s.emit(RuntimeEvent{
			Type:    EventTypeStatus,
			Message: "Plan execution completed.",
			Level:   StatusLevelInfo,
		})
	}

	return ordered, firstErr
}

func (s *scheduler) emitStepStarted(step PlanStep) {
	title := strings.TrimSpace(step.Title)
	if title == "" {
		title = step.ID
	}
	s.emit(RuntimeEvent{
		Type:    EventTypeStatus,
		Message: fmt.Sprintf("Executing step %s: %s", step.ID, title),
		Level:   StatusLevelInfo,
		Metadata: map[string]any{
			"step_id": step.ID,
			"title":   step.Title,
			"command": step.Command.Run,
			"shell":   step.Command.Shell,
			"cwd":     step.Command.Cwd,
		},
	})
}

func (s *scheduler) resolve(res stepResult, halt *bool, firstErr *error) StepObservation {
	step := res.step
	observation := res.observation
	err := res.err

	status := PlanCompleted
	level := StatusLevelInfo
	message := fmt.Sprintf("Step %s completed successfully.", step.ID)
	if err != nil {
		status = PlanFailed
		level = StatusLevelError
		if observation.Details == "" {
			observation.Details = err.Error()
		}
		message = fmt.Sprintf("Step %s failed: %v", step.ID, err)
		if *firstErr == nil {
			*firstErr = err
		}
		*halt = true
	}

	stepObs := StepObservation{
		ID:        step.ID,
		Status:    status,
		Stdout:    observation.Stdout,
		Stderr:    observation.Stderr,
		ExitCode:  observation.ExitCode,
		Details:   observation.Details,
		Truncated: observation.Truncated,
	}

	if updateErr := s.plan.UpdateStatus(step.ID, status, &stepObs); updateErr != nil {
		s.emit(RuntimeEvent{
			Type:    EventTypeError,
			Message: fmt.Sprintf("Failed to update plan status for step %s: %v", step.ID, updateErr),
			Level:   StatusLevelError,
		})
		if *firstErr == nil {
			*firstErr = updateErr
		}
		*halt = true
	}

	metadata := map[string]any{
		"step_id":   step.ID,
		"title":     step.Title,
		"status":    status,
		"stdout":    observation.Stdout,
		"stderr":    observation.Stderr,
		"truncated": observation.Truncated,
	}
	if observation.ExitCode != nil {
		metadata["exit_code"] = *observation.ExitCode
	}
	if observation.Details != "" {
		metadata["details"] = observation.Details
	}
	s.emit(RuntimeEvent{
		Type:     EventTypeStatus,
		Message:  message,
		Level:    level,
		Metadata: metadata,
	})

	return stepObs
}

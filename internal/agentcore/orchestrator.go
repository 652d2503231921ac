package agentcore

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Runtime wires History, PlanManager, LLMClient, and CommandExecutor into
// the plan/execute/observe pass loop described by the runtime's design: a
// host pushes InputEvents onto Inputs() and drains RuntimeEvents from
// Outputs() until the conversation ends or the process cancels ctx.
type Runtime struct {
	options RuntimeOptions

	inputs  chan InputEvent
	outputs chan RuntimeEvent

	closeOnce sync.Once
	closed    chan struct{}

	history   *History
	plan      *PlanManager
	client    *LLMClient
	executor  *CommandExecutor
	scheduler *scheduler

	workMu  sync.Mutex
	working bool

	passMu sync.Mutex
	pass   int
}

// NewRuntime validates options, applies defaults, and assembles a ready
// Runtime. The returned Runtime owns its own HTTP client, history log, and
// command executor; callers are expected to call Run exactly once.
func NewRuntime(options RuntimeOptions) (*Runtime, error) {
	options.SetDefaults()
	if err := options.Validate(); err != nil {
		return nil, err
	}

	retry := DefaultRetryConfig()
	retry.MaxRetries = options.MaxRetries
	client, err := NewLLMClient(options.APIKey, options.Model, options.ReasoningEffort, options.BaseURL, options.RequestTimeout, retry)
	if err != nil {
		return nil, err
	}

	budget := BudgetForModel(options.Model)
	history := NewHistory(options.AmnesiaAfter, budget, options.HistoryLogPath, options.Logger, options.Metrics)
	history.Append(ChatMessage{
		Role:    RoleSystem,
		Content: buildSystemPrompt(options.SystemPromptAugment),
	}, 0)
	if strings.TrimSpace(options.SystemPrompt) != "" {
		history.Append(ChatMessage{Role: RoleUser, Content: options.SystemPrompt}, 0)
	}

	plan := NewPlanManager()
	executor := NewCommandExecutor(options.WorkingDir, options.Metrics)

	rt := &Runtime{
		options: options,
		inputs:  make(chan InputEvent, options.InboundQueueSize),
		outputs: make(chan RuntimeEvent, options.OutboundQueueSize),
		closed:  make(chan struct{}),
		history: history,
		plan:    plan,
		client:  client,
	}
	rt.executor = executor
	rt.scheduler = newScheduler(plan, executor, rt.emit)

	newSubRuntime := func(sub RuntimeOptions) (*Runtime, error) {
		return NewRuntime(sub)
	}
	if err := registerBuiltinCommands(executor, newSubRuntime, options); err != nil {
		return nil, err
	}

	return rt, nil
}

// Inputs exposes the inbound queue so hosts can push prompts programmatically.
func (r *Runtime) Inputs() chan<- InputEvent { return r.inputs }

// Outputs exposes the outbound queue delivering RuntimeEvents in order.
func (r *Runtime) Outputs() <-chan RuntimeEvent { return r.outputs }

// SubmitPrompt enqueues a user prompt input.
func (r *Runtime) SubmitPrompt(prompt string) {
	r.enqueue(InputEvent{Type: InputTypePrompt, Prompt: prompt})
}

// Cancel enqueues a cancel request. When it is handled the runtime emits a
// warning, abandons pending plan steps and waits for the next prompt; a
// pass that is already running is not interrupted.
func (r *Runtime) Cancel(reason string) {
	r.enqueue(InputEvent{Type: InputTypeCancel, Reason: reason})
}

// Shutdown requests a graceful shutdown of the runtime loop.
func (r *Runtime) Shutdown(reason string) {
	r.enqueue(InputEvent{Type: InputTypeShutdown, Reason: reason})
}

func (r *Runtime) enqueue(evt InputEvent) {
	select {
	case <-r.closed:
		return
	default:
	}
	select {
	case r.inputs <- evt:
	case <-r.closed:
	}
}

// Run drives the pass loop until the input queue closes, a shutdown is
// requested, or ctx is canceled. Unless disabled, it also bridges
// options.InputReader/OutputWriter so the runtime is immediately usable
// from a terminal.
func (r *Runtime) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup

	if !r.options.DisableOutputForwarding {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.forwardOutputs(ctx)
		}()
	}

	if !r.options.DisableInputReader {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.consumeInput(ctx); err != nil {
				r.emit(RuntimeEvent{Type: EventTypeError, Message: err.Error(), Level: StatusLevelError})
			}
		}()
	}

	err := r.loop(ctx)
	cancel()
	wg.Wait()
	return err
}

func (r *Runtime) loop(ctx context.Context) error {
	r.emit(RuntimeEvent{Type: EventTypeStatus, Message: "Agent runtime started", Level: StatusLevelInfo})

	if r.options.HandsFree {
		goal := r.options.HandsFreeTopic
		r.history.Append(ChatMessage{Role: RoleUser, Content: goal}, 0)
		go r.planExecutionLoop(ctx)
	} else {
		r.emitRequestInput("Enter a prompt to begin.")
	}

	for {
		select {
		case <-ctx.Done():
			r.emit(RuntimeEvent{Type: EventTypeStatus, Message: "Context cancelled. Shutting down runtime.", Level: StatusLevelWarn})
			r.close()
			return ctx.Err()
		case evt, ok := <-r.inputs:
			if !ok {
				r.close()
				return nil
			}
			if err := r.handleInput(ctx, evt); err != nil {
				r.emit(RuntimeEvent{Type: EventTypeError, Message: err.Error(), Level: StatusLevelError})
				r.close()
				return err
			}
		}
	}
}

func (r *Runtime) handleInput(ctx context.Context, evt InputEvent) error {
	switch evt.Type {
	case InputTypePrompt:
		return r.handlePrompt(ctx, evt)
	case InputTypeCancel:
		r.emit(RuntimeEvent{
			Type:    EventTypeStatus,
			Message: fmt.Sprintf("Cancel requested: %s", strings.TrimSpace(evt.Reason)),
			Level:   StatusLevelWarn,
		})
		r.plan.Abandon()
		r.emitRequestInput("Ready for the next instruction.")
		return nil
	case InputTypeShutdown:
		r.emit(RuntimeEvent{Type: EventTypeStatus, Message: "Shutdown requested. Goodbye!", Level: StatusLevelInfo})
		r.close()
		return errors.New("agentcore: runtime shutdown requested")
	default:
		return fmt.Errorf("agentcore: unknown input type: %s", evt.Type)
	}
}

func (r *Runtime) handlePrompt(ctx context.Context, evt InputEvent) error {
	prompt := strings.TrimSpace(evt.Prompt)
	if prompt == "" {
		r.emit(RuntimeEvent{Type: EventTypeStatus, Message: "Ignoring empty prompt.", Level: StatusLevelWarn})
		r.emitRequestInput("Awaiting a non-empty prompt.")
		return nil
	}

	if !r.beginWork() {
		r.emit(RuntimeEvent{Type: EventTypeStatus, Message: "Agent is already processing another prompt.", Level: StatusLevelWarn})
		return nil
	}
	defer r.endWork()

	r.emit(RuntimeEvent{Type: EventTypeStatus, Message: fmt.Sprintf("Processing prompt with model %s...", r.options.Model), Level: StatusLevelInfo})
	r.history.Append(ChatMessage{Role: RoleUser, Content: prompt}, r.currentPass())
	r.planExecutionLoop(ctx)
	return nil
}

// planExecutionLoop requests a plan, executes every step it can reach, and
// repeats until the model stops returning executable work, asks for human
// input, or the pass limit is reached.
func (r *Runtime) planExecutionLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		r.drainConfigReload()

		pass := r.incrementPassCount()
		r.options.Metrics.IncPass()
		r.options.Logger.Info(ctx, "starting plan execution pass", Field("pass", pass))

		if r.checkPassLimit(ctx, pass) {
			return
		}

		r.emit(RuntimeEvent{Type: EventTypeStatus, Message: fmt.Sprintf("Starting plan execution pass #%d.", pass), Level: StatusLevelInfo, Pass: pass})

		plan, toolCall, err := r.requestPlan(ctx, pass)
		if err != nil {
			r.options.Logger.Error(ctx, "failed to request plan", err, Field("pass", pass))
			r.emit(RuntimeEvent{Type: EventTypeError, Message: fmt.Sprintf("Failed to contact the model (pass %d): %v", pass, err), Level: StatusLevelError})
			r.emitRequestInput("You can provide another prompt.")
			return
		}
		if plan == nil {
			r.emit(RuntimeEvent{Type: EventTypeError, Message: "Received nil plan response.", Level: StatusLevelError})
			r.emitRequestInput("Unable to continue plan execution. Provide the next instruction.")
			return
		}

		execCount := r.recordPlanResponse(plan, toolCall, pass)

		if plan.RequireHumanInput {
			if r.handleHumanInputRequest(ctx, toolCall, pass) {
				return
			}
			continue
		}
		if execCount == 0 {
			if r.handleEmptyPlan(plan, toolCall, pass) {
				return
			}
			continue
		}

		observations, execErr := r.scheduler.run(ctx)
		if ctx.Err() != nil {
			return
		}
		r.appendStepObservations(toolCall, observations, execErr)
	}
}

// drainConfigReload applies the latest pending config update, if any,
// without blocking. Only called between passes so a mid-pass read never
// races the scheduler.
func (r *Runtime) drainConfigReload() {
	if r.options.ConfigReload == nil {
		return
	}
	for {
		select {
		case update, ok := <-r.options.ConfigReload:
			if !ok {
				r.options.ConfigReload = nil
				return
			}
			if update.SystemPromptAugment != "" {
				r.options.SystemPromptAugment = update.SystemPromptAugment
			}
			if len(update.ExitCommands) > 0 {
				r.options.ExitCommands = update.ExitCommands
			}
		default:
			return
		}
	}
}

func (r *Runtime) checkPassLimit(ctx context.Context, pass int) bool {
	if r.options.MaxPasses > 0 && pass > r.options.MaxPasses {
		message := fmt.Sprintf("Maximum pass limit (%d) reached. Stopping execution.", r.options.MaxPasses)
		r.options.Logger.Warn(ctx, "maximum pass limit reached", Field("max_passes", r.options.MaxPasses), Field("pass", pass))
		r.emit(RuntimeEvent{
			Type:     EventTypeError,
			Message:  message,
			Level:    StatusLevelError,
			Pass:     pass,
			Metadata: map[string]any{"max_passes": r.options.MaxPasses, "pass": pass},
		})
		r.emitRequestInput("Pass limit reached. Provide additional guidance to continue.")
		if r.options.HandsFree {
			r.close()
		}
		return true
	}
	return false
}

func (r *Runtime) handleHumanInputRequest(ctx context.Context, toolCall ToolCall, pass int) bool {
	r.appendToolObservation(toolCall, PlanObservationPayload{Summary: "Assistant requested additional input before continuing the plan."}, pass)

	if r.options.HandsFree && strings.TrimSpace(r.options.HandsFreeAutoReply) != "" {
		r.emit(RuntimeEvent{Type: EventTypeStatus, Message: "Hands-free mode: auto-replying to the input request.", Level: StatusLevelInfo})
		r.history.Append(ChatMessage{Role: RoleUser, Content: r.options.HandsFreeAutoReply}, pass)
		return false
	}

	r.emitRequestInput("Assistant requested additional input before continuing.")
	return true
}

func (r *Runtime) handleEmptyPlan(plan *PlanResponse, toolCall ToolCall, pass int) bool {
	r.appendToolObservation(toolCall, PlanObservationPayload{Summary: "Assistant returned a plan without executable steps."}, pass)
	r.emit(RuntimeEvent{Type: EventTypeStatus, Message: "Plan has no executable steps.", Level: StatusLevelInfo})

	if r.options.HandsFree {
		summary := fmt.Sprintf("Hands-free session complete after %d pass(es); assistant reported no further work.", pass)
		if trimmed := strings.TrimSpace(plan.Message); trimmed != "" {
			summary = fmt.Sprintf("%s Summary: %s", summary, trimmed)
		}
		r.emit(RuntimeEvent{Type: EventTypeStatus, Message: summary, Level: StatusLevelInfo})
		r.close()
		return true
	}

	r.emitRequestInput("Plan has no executable steps. Provide the next instruction.")
	return true
}

// requestPlan asks the model for the next plan, retrying with an
// exponentially-backed-off auto-prompt whenever the tool call fails
// validation, and emitting a status event once a syntactically valid plan
// is obtained.
func (r *Runtime) requestPlan(ctx context.Context, pass int) (*PlanResponse, ToolCall, error) {
	var retryCount int
	for {
		history := r.history.PlanningSnapshot(ctx)
		r.history.WriteLog(ctx, history)

		toolCall, err := r.client.RequestPlan(ctx, history, func(delta string) {
			r.emit(RuntimeEvent{Type: EventTypeAssistantDelta, Message: delta, Level: StatusLevelInfo, Pass: pass})
		})
		if err != nil {
			return nil, ToolCall{}, err
		}

		outcome, validationErr := ValidatePlanToolCall(toolCall)
		if validationErr != nil {
			return nil, ToolCall{}, validationErr
		}
		if outcome.Retry {
			r.handlePlanValidationFailure(toolCall, outcome.Payload, pass)
			retryCount++
			delay := computeValidationBackoff(retryCount)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ToolCall{}, ctx.Err()
			}
			continue
		}

		retryCount = 0
		r.emit(RuntimeEvent{Type: EventTypeStatus, Message: "Assistant response received.", Level: StatusLevelInfo, Pass: pass})
		return outcome.Plan, toolCall, nil
	}
}

func (r *Runtime) handlePlanValidationFailure(toolCall ToolCall, payload PlanObservationPayload, pass int) {
	r.options.Metrics.IncValidationFailure()
	payload.Details = strings.TrimSpace(payload.Details)

	message := payload.Summary
	if payload.Details != "" {
		message = fmt.Sprintf("%s Details: %s", message, payload.Details)
	}
	r.emit(RuntimeEvent{
		Type:    EventTypeStatus,
		Message: message,
		Level:   StatusLevelWarn,
		Pass:    pass,
		Metadata: map[string]any{
			"details":      payload.Details,
			"tool_call_id": toolCall.ID,
			"tool_name":    toolCall.Name,
		},
	})

	r.history.Append(ChatMessage{Role: RoleAssistant, ToolCalls: []ToolCall{toolCall}}, pass)
	if toolCall.ID != "" {
		if toolMessage, err := BuildToolMessage(payload); err != nil {
			r.emit(RuntimeEvent{Type: EventTypeError, Message: fmt.Sprintf("Failed to encode validation feedback: %v", err), Level: StatusLevelError})
		} else {
			r.history.Append(ChatMessage{Role: RoleTool, Content: toolMessage, ToolCallID: toolCall.ID, Name: toolCall.Name}, pass)
		}
	}

	if autoPrompt := BuildValidationAutoPrompt(payload); strings.TrimSpace(autoPrompt) != "" {
		r.history.Append(ChatMessage{Role: RoleUser, Content: autoPrompt}, pass)
	}
}

// filterCompletedSteps drops steps the model already marked completed and
// trims their ids out of every surviving step's WaitingForID, so the plan
// the scheduler sees never references a step that no longer exists.
func filterCompletedSteps(steps []PlanStep) []PlanStep {
	if len(steps) == 0 {
		return steps
	}

	completedIDs := make(map[string]struct{})
	filtered := make([]PlanStep, 0, len(steps))
	for _, step := range steps {
		if step.Status == PlanCompleted {
			completedIDs[step.ID] = struct{}{}
			continue
		}
		filtered = append(filtered, step)
	}

	if len(completedIDs) == 0 {
		return filtered
	}

	for i := range filtered {
		deps := filtered[i].WaitingForID
		if len(deps) == 0 {
			continue
		}

		trimNeeded := false
		for _, dep := range deps {
			if _, done := completedIDs[dep]; done {
				trimNeeded = true
				break
			}
		}
		if !trimNeeded {
			continue
		}

		pruned := make([]string, 0, len(deps))
		for _, dep := range deps {
			if _, done := completedIDs[dep]; done {
				continue
			}
			pruned = append(pruned, dep)
		}

		if len(pruned) == 0 {
			filtered[i].WaitingForID = nil
			continue
		}
		filtered[i].WaitingForID = pruned
	}

	return filtered
}

// nonEmptyReasoning returns reasoning with blank/whitespace-only entries
// removed, or nil if nothing survives.
func nonEmptyReasoning(reasoning []string) []string {
	var kept []string
	for _, entry := range reasoning {
		if strings.TrimSpace(entry) == "" {
			continue
		}
		kept = append(kept, entry)
	}
	return kept
}

func (r *Runtime) recordPlanResponse(plan *PlanResponse, toolCall ToolCall, pass int) int {
	r.history.Append(ChatMessage{Role: RoleAssistant, ToolCalls: []ToolCall{toolCall}}, pass)

	trimmedPlan := filterCompletedSteps(plan.Plan)
	r.plan.Replace(trimmedPlan)

	r.emit(RuntimeEvent{
		Type:     EventTypeStatus,
		Message:  fmt.Sprintf("Received plan with %d step(s).", len(trimmedPlan)),
		Level:    StatusLevelInfo,
		Pass:     pass,
		Metadata: map[string]any{"tool_call_id": toolCall.ID},
	})

	metadata := map[string]any{
		"plan":                r.plan.Snapshot(),
		"tool_call_id":        toolCall.ID,
		"tool_name":           toolCall.Name,
		"require_human_input": plan.RequireHumanInput,
	}
	if reasoning := nonEmptyReasoning(plan.Reasoning); len(reasoning) > 0 {
		metadata["reasoning"] = reasoning
	}
	r.emit(RuntimeEvent{
		Type:     EventTypeAssistantMessage,
		Message:  plan.Message,
		Level:    StatusLevelInfo,
		Pass:     pass,
		Metadata: metadata,
	})

	return r.plan.ExecutableCount()
}

func (r *Runtime) appendStepObservations(toolCall ToolCall, observations []StepObservation, execErr error) {
	payload := PlanObservationPayload{PlanObservation: observations}
	switch {
	case len(observations) == 0 && execErr != nil:
		payload.Summary = "Failed before executing plan steps."
	case len(observations) == 0:
		payload.Summary = "No plan steps were executed."
	case execErr != nil:
		payload.Summary = fmt.Sprintf("Execution halted during step %s.", observations[len(observations)-1].ID)
	default:
		payload.Summary = fmt.Sprintf("Executed %d plan step(s).", len(observations))
	}
	if len(observations) > 0 {
		last := observations[len(observations)-1]
		payload.Stdout = last.Stdout
		payload.Stderr = last.Stderr
		payload.ExitCode = last.ExitCode
		payload.Details = last.Details
		payload.Truncated = last.Truncated
	}
	r.appendToolObservation(toolCall, payload, r.currentPass())
}

func (r *Runtime) appendToolObservation(toolCall ToolCall, payload PlanObservationPayload, pass int) {
	if toolCall.ID == "" {
		return
	}
	enforceObservationLimit(&payload)

	toolMessage, err := BuildToolMessage(payload)
	if err != nil {
		r.emit(RuntimeEvent{Type: EventTypeError, Message: fmt.Sprintf("Failed to encode tool observation: %v", err), Level: StatusLevelError})
		return
	}
	r.history.Append(ChatMessage{Role: RoleTool, Content: toolMessage, ToolCallID: toolCall.ID, Name: toolCall.Name}, pass)
}

func (r *Runtime) beginWork() bool {
	r.workMu.Lock()
	defer r.workMu.Unlock()
	if r.working {
		return false
	}
	r.working = true
	return true
}

func (r *Runtime) endWork() {
	r.workMu.Lock()
	r.working = false
	r.workMu.Unlock()
}

func (r *Runtime) incrementPassCount() int {
	r.passMu.Lock()
	defer r.passMu.Unlock()
	r.pass++
	return r.pass
}

func (r *Runtime) currentPass() int {
	r.passMu.Lock()
	defer r.passMu.Unlock()
	return r.pass
}

func (r *Runtime) emitRequestInput(message string) {
	r.emit(RuntimeEvent{Type: EventTypeRequestInput, Message: message, Level: StatusLevelInfo})
}

func (r *Runtime) emit(evt RuntimeEvent) {
	if evt.Agent == "" {
		evt.Agent = "main"
	}
	select {
	case <-r.closed:
		return
	default:
	}

	if r.options.EmitTimeout <= 0 {
		select {
		case r.outputs <- evt:
		case <-r.closed:
		}
		return
	}

	timer := time.NewTimer(r.options.EmitTimeout)
	defer timer.Stop()
	select {
	case r.outputs <- evt:
	case <-timer.C:
		r.options.Metrics.IncDroppedEvent()
		r.options.Logger.Warn(context.Background(), "dropped event: outputs channel full past emit timeout",
			Field("event_type", string(evt.Type)), Field("pass", evt.Pass))
	case <-r.closed:
	}
}

func (r *Runtime) close() {
	r.closeOnce.Do(func() {
		close(r.closed)
		close(r.outputs)
	})
}

func (r *Runtime) consumeInput(ctx context.Context) error {
	scanner := bufio.NewScanner(r.options.InputReader)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("agentcore: failed to read input: %w", err)
			}
			r.Shutdown("stdin closed")
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		if r.isExitCommand(line) {
			r.Shutdown("exit command received")
			return nil
		}
		if strings.EqualFold(line, "cancel") {
			r.Cancel("user requested cancel")
			continue
		}
		r.SubmitPrompt(line)
	}
}

func (r *Runtime) forwardOutputs(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-r.outputs:
			if !ok {
				return
			}
			fmt.Fprintf(r.options.OutputWriter, "[%s] %s\n", evt.Type, evt.Message)
		}
	}
}

func (r *Runtime) isExitCommand(value string) bool {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return false
	}
	for _, candidate := range r.options.ExitCommands {
		if strings.EqualFold(trimmed, candidate) {
			return true
		}
	}
	return false
}

package agentcore

import (
	"encoding/json"
	"strings"
)

const (
	amnesiaAssistantContentLimit = 512
	amnesiaToolContentLimit      = 512
)

// applyAmnesiaLocked trims bulky history entries once they age beyond the
// configured pass threshold. Callers must hold h.mu for writing.
func (h *History) applyAmnesiaLocked(currentPass int) {
	if h.amnesiaAfter <= 0 {
		return
	}
	for i := range h.msgs {
		entry := &h.msgs[i]
		if entry.Role != RoleAssistant && entry.Role != RoleTool {
			continue
		}
		if currentPass-entry.Pass < h.amnesiaAfter {
			continue
		}
		switch entry.Role {
		case RoleAssistant:
			scrubAssistantEntry(entry)
		case RoleTool:
			scrubToolEntry(entry)
		}
	}
}

func scrubAssistantEntry(entry *ChatMessage) {
	if entry.Content != "" {
		entry.Content = truncateForPrompt(entry.Content, amnesiaAssistantContentLimit)
	}
	for i := range entry.ToolCalls {
		call := &entry.ToolCalls[i]
		if strings.TrimSpace(call.Arguments) == "" {
			continue
		}
		call.Arguments = truncateForPrompt(call.Arguments, amnesiaAssistantContentLimit)
	}
}

func scrubToolEntry(entry *ChatMessage) {
	raw := strings.TrimSpace(entry.Content)
	if raw == "" {
		return
	}

	var payload PlanObservationPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		entry.Content = truncateForPrompt(raw, amnesiaToolContentLimit)
		return
	}

	payload.Stdout = ""
	payload.Stderr = ""

	for i := range payload.PlanObservation {
		obs := &payload.PlanObservation[i]
		obs.Stdout = ""
		obs.Stderr = ""
		if obs.Details != "" {
			obs.Details = truncateForPrompt(obs.Details, amnesiaToolContentLimit)
		}
	}
	if payload.Details != "" {
		payload.Details = truncateForPrompt(payload.Details, amnesiaToolContentLimit)
	}

	sanitized, err := BuildToolMessage(payload)
	if err != nil {
		entry.Content = truncateForPrompt(raw, amnesiaToolContentLimit)
		return
	}
	entry.Content = sanitized
}

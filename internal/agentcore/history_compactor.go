package agentcore

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	summaryPrefix      = "[summary]"
	summarySnippetSize = 160

	// maxCompactionIterations bounds the summarize-and-recheck loop so a
	// budget that compaction can never satisfy (e.g. a single oversized
	// system message) cannot spin forever.
	maxCompactionIterations = 10
)

// compactHistory replaces the oldest eligible non-system, non-summarized
// messages with synthesized summaries until the estimated total drops to or
// below limit, or no further progress is possible. The slice is modified in
// place; ordering is preserved. changed reports whether any message was
// rewritten this call.
func compactHistory(history []ChatMessage, per []int, total, limit int) (newTotal int, newPer []int, changed bool) {
	if limit <= 0 {
		return total, per, false
	}
	for i := range history {
		if total <= limit {
			break
		}
		message := history[i]
		if message.Role == RoleSystem || message.Summarized {
			continue
		}

		summary := synthesizeSummary(message)
		summaryTokens := EstimateTokens(summary)

		if i < len(per) {
			total -= per[i]
			per[i] = summaryTokens
		} else {
			per = append(per, summaryTokens)
		}
		total += summaryTokens
		history[i] = summary
		changed = true
	}
	return total, per, changed
}

// compactHistoryToLimit repeatedly calls compactHistory until total fits
// within limit or maxCompactionIterations is reached, returning the final
// token total and the number of iterations actually performed.
func compactHistoryToLimit(history []ChatMessage, total, limit int) (finalTotal, iterations int) {
	_, per := EstimateHistoryTokens(history)
	total = 0
	for _, t := range per {
		total += t
	}
	for total > limit && iterations < maxCompactionIterations {
		var changed bool
		total, per, changed = compactHistory(history, per, total, limit)
		iterations++
		if !changed {
			break
		}
	}
	return total, iterations
}

func synthesizeSummary(message ChatMessage) ChatMessage {
	summary := ChatMessage{
		Role:       RoleAssistant,
		Timestamp:  message.Timestamp,
		Pass:       message.Pass,
		Summarized: true,
	}

	switch message.Role {
	case RoleTool:
		summary.Content = buildToolSummary(message.Content)
	case RoleUser:
		summary.Content = buildConversationSummary("User", message.Content)
	case RoleAssistant:
		summary.Content = buildConversationSummary("Assistant", message.Content)
	default:
		summary.Content = buildConversationSummary("Message", message.Content)
	}

	if summary.Content == "" {
		summary.Content = fmt.Sprintf("%s conversation context compressed.", summaryPrefix)
	}
	return summary
}

func buildConversationSummary(label, content string) string {
	snippet := compactSnippet(content)
	if snippet == "" {
		return ""
	}
	return fmt.Sprintf("%s %s recap: %s", summaryPrefix, strings.ToLower(label), snippet)
}

func buildToolSummary(content string) string {
	var payload PlanObservationPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		snippet := compactSnippet(content)
		if snippet == "" {
			return fmt.Sprintf("%s tool observation compacted.", summaryPrefix)
		}
		return fmt.Sprintf("%s tool observation recap: %s", summaryPrefix, snippet)
	}

	var parts []string
	if payload.Summary != "" {
		parts = append(parts, payload.Summary)
	}
	if payload.Details != "" {
		parts = append(parts, payload.Details)
	}
	for _, step := range payload.PlanObservation {
		if step.ID == "" && step.Status == "" {
			continue
		}
		label := step.ID
		if label == "" {
			label = "step"
		}
		parts = append(parts, fmt.Sprintf("%s=%s", label, step.Status))
		if len(parts) >= 6 {
			break
		}
	}
	if payload.CanceledByHuman {
		parts = append(parts, "canceled by human")
	}
	if payload.OperationCanceled {
		parts = append(parts, "operation canceled")
	}
	if payload.Truncated {
		parts = append(parts, "output truncated")
	}

	snippet := compactSnippet(strings.Join(parts, "; "))
	if snippet == "" {
		return fmt.Sprintf("%s tool observation compacted.", summaryPrefix)
	}
	return fmt.Sprintf("%s tool observation: %s", summaryPrefix, snippet)
}

func compactSnippet(input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return ""
	}
	trimmed = strings.Join(strings.Fields(trimmed), " ")
	runes := []rune(trimmed)
	if len(runes) <= summarySnippetSize {
		return trimmed
	}
	return string(runes[:summarySnippetSize]) + "…"
}

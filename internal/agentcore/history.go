package agentcore

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"sync"
)

// History is the append-only, mutex-guarded log of ChatMessages exchanged
// with the model. A single History is shared by the orchestrator (appends),
// the LLM client (reads a planning snapshot before each request), and the
// compactor/amnesia passes (rewrite entries in place).
type History struct {
	mu   sync.RWMutex
	msgs []ChatMessage

	amnesiaAfter int
	budget       ModelBudget
	logPath      string

	logger  Logger
	metrics Metrics
}

// NewHistory builds a History governed by the given amnesia threshold (in
// passes) and model budget.
func NewHistory(amnesiaAfter int, budget ModelBudget, logPath string, logger Logger, metrics Metrics) *History {
	if logger == nil {
		logger = NoOpLogger{}
	}
	if metrics == nil {
		metrics = NoOpMetrics{}
	}
	return &History{
		amnesiaAfter: amnesiaAfter,
		budget:       budget,
		logPath:      logPath,
		logger:       logger,
		metrics:      metrics,
	}
}

// Append adds message to the log, stamping it with the given pass number,
// then applies the amnesia pass to any entry that just aged past the
// configured threshold.
func (h *History) Append(message ChatMessage, pass int) {
	message.Pass = pass

	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, message)
	h.applyAmnesiaLocked(pass)
}

// Snapshot returns a defensive copy of the full history.
func (h *History) Snapshot() []ChatMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]ChatMessage(nil), h.msgs...)
}

// PlanningSnapshot prepares history for the next LLM turn: if the estimated
// token usage exceeds the model budget's usable ceiling, it compacts the
// oldest eligible messages in place before returning the copy.
func (h *History) PlanningSnapshot(ctx context.Context) []ChatMessage {
	h.mu.Lock()
	defer h.mu.Unlock()

	limit := h.budget.UsableTokens()
	if limit > 0 {
		total, _ := EstimateHistoryTokens(h.msgs)
		if total > limit {
			beforeLen := len(h.msgs)
			finalTotal, iterations := compactHistoryToLimit(h.msgs, total, limit)
			afterLen := len(h.msgs)
			removed := beforeLen - afterLen
			h.metrics.IncCompaction()
			_ = removed // compaction rewrites in place; removed is typically 0

			if iterations >= maxCompactionIterations && finalTotal > limit {
				h.logger.Warn(ctx, "history compaction reached max iterations without meeting budget",
					Field("total_tokens", finalTotal),
					Field("limit", limit),
					Field("iterations", iterations),
				)
			}
		}
	}

	return append([]ChatMessage(nil), h.msgs...)
}

// WriteLog persists the exact payload most recently sent to the model, for
// host-side inspection. A no-op when no log path was configured.
func (h *History) WriteLog(ctx context.Context, sent []ChatMessage) {
	if h.logPath == "" {
		return
	}
	data, err := json.MarshalIndent(sent, "", "  ")
	if err != nil {
		h.logger.Warn(ctx, "failed to encode history log", Field("error", err.Error()))
		return
	}
	if err := os.WriteFile(h.logPath, data, 0o644); err != nil {
		h.logger.Warn(ctx, "failed to write history log", Field("error", err.Error()), Field("path", h.logPath))
	}
}

func truncateForPrompt(value string, limit int) string {
	if limit <= 0 {
		return value
	}
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit]) + "…"
}

// BuildToolMessage marshals an observation payload into the JSON string
// carried on a tool-role ChatMessage's Content field.
func BuildToolMessage(observation PlanObservationPayload) (string, error) {
	data, err := json.Marshal(observation)
	if err != nil {
		return "", err
	}
	result := strings.TrimSpace(string(data))
	if result == "" {
		result = "{}"
	}
	return result, nil
}

package agentcore

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskwright/taskwright/internal/planschema"
)

// LLMClient streams plan requests against an OpenAI-compatible Responses
// API endpoint and reassembles the single forced tool call each response
// must contain.
type LLMClient struct {
	apiKey          string
	model           string
	reasoningEffort string
	baseURL         string
	httpClient      *http.Client
	tool            planschema.ToolDefinition
	retry           *RetryConfig

	mu sync.Mutex
}

// NewLLMClient configures a client against baseURL (trailing slash
// tolerated), requiring apiKey and model.
func NewLLMClient(apiKey, model, reasoningEffort, baseURL string, timeout time.Duration, retry *RetryConfig) (*LLMClient, error) {
	if apiKey == "" {
		return nil, errors.New("agentcore: LLM API key is required")
	}
	if model == "" {
		return nil, errors.New("agentcore: LLM model is required")
	}
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	if retry == nil {
		retry = DefaultRetryConfig()
	}
	tool, err := planschema.Definition()
	if err != nil {
		return nil, err
	}
	return &LLMClient{
		apiKey:          apiKey,
		model:           model,
		reasoningEffort: reasoningEffort,
		baseURL:         baseURL,
		httpClient:      &http.Client{Timeout: timeout},
		tool:            tool,
		retry:           retry,
	}, nil
}

// RequestPlan sends the accumulated history and returns the resulting tool
// call, retrying transient HTTP failures per the configured RetryConfig.
// onDelta, if non-nil, receives incremental message/reasoning text as the
// response streams in.
func (c *LLMClient) RequestPlan(ctx context.Context, history []ChatMessage, onDelta func(string)) (ToolCall, error) {
	var result ToolCall
	err := executeWithRetry(ctx, c.retry, func() error {
		tc, rerr := c.requestPlanOnce(ctx, history, onDelta)
		if rerr != nil {
			return rerr
		}
		result = tc
		return nil
	})
	return result, err
}

func (c *LLMClient) requestPlanOnce(ctx context.Context, history []ChatMessage, onDelta func(string)) (ToolCall, error) {
	inputMsgs := make([]map[string]any, 0, len(history))
	for _, m := range history {
		role := string(m.Role)
		if m.Role == RoleTool {
			role = "developer"
		}
		contentType := "input_text"
		if role == "assistant" {
			contentType = "output_text"
		}
		inputMsgs = append(inputMsgs, map[string]any{
			"role": role,
			"content": []map[string]any{
				{"type": contentType, "text": m.Content},
			},
		})
	}

	reqBody := map[string]any{
		"model":  c.model,
		"input":  inputMsgs,
		"stream": true,
		"tools": []map[string]any{
			{
				"type":        "function",
				"name":        c.tool.Name,
				"description": c.tool.Description,
				"parameters":  c.tool.Parameters,
			},
		},
		"tool_choice": "required",
	}
	if c.reasoningEffort != "" {
		reqBody["reasoning"] = map[string]any{"effort": c.reasoningEffort}
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return ToolCall{}, fmt.Errorf("agentcore: encode plan request: %w", err)
	}

	url := strings.TrimRight(c.baseURL, "/") + "/responses"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return ToolCall{}, fmt.Errorf("agentcore: build plan request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ToolCall{}, &retryableAPIError{err: err, retryable: isRetryableError(err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := fmt.Errorf("agentcore: llm status %s: %s", resp.Status, string(msg))
		return ToolCall{}, &retryableAPIError{err: apiErr, statusCode: resp.StatusCode, retryable: isRetryableStatusCode(resp.StatusCode)}
	}

	return c.readPlanStream(resp.Body, onDelta)
}

func (c *LLMClient) readPlanStream(body io.Reader, onDelta func(string)) (ToolCall, error) {
	reader := bufio.NewReader(body)
	var toolID, toolName, toolArgs string
	acc := NewStreamAccumulator(onDelta)

	for {
		line, rerr := reader.ReadString('\n')
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				break
			}
			return ToolCall{}, fmt.Errorf("agentcore: stream read: %w", rerr)
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		chunk := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if chunk == "[DONE]" {
			break
		}

		var evt map[string]any
		if err := json.Unmarshal([]byte(chunk), &evt); err != nil {
			continue
		}
		t, _ := evt["type"].(string)
		switch t {
		case "response.output_text.delta":
			if s, _ := evt["delta"].(string); s != "" && onDelta != nil {
				onDelta(s)
			}
		case "response.function_call.delta", "response.tool_call.delta",
			"response.function_call.arguments.delta", "response.tool_call.arguments.delta":
			if name, _ := evt["name"].(string); name != "" {
				toolName = name
			}
			if id, _ := evt["call_id"].(string); id != "" {
				toolID = id
			}
			switch {
			case evt["arguments"] != nil:
				if args, _ := evt["arguments"].(string); args != "" {
					toolArgs += args
					acc.Feed(toolArgs)
				}
			case evt["delta"] != nil:
				if ds, ok := evt["delta"].(string); ok && ds != "" {
					toolArgs += ds
					acc.Feed(toolArgs)
				} else if dm, ok := evt["delta"].(map[string]any); ok {
					if s, _ := dm["arguments"].(string); s != "" {
						toolArgs += s
						acc.Feed(toolArgs)
					}
					if n, _ := dm["name"].(string); n != "" {
						toolName = n
					}
				}
			}
		case "response.completed", "response.output_text.done", "response.function_call.completed":
			if toolArgs == "" || toolName == "" || toolID == "" {
				if respObj, ok := evt["response"].(map[string]any); ok {
					if toolName == "" {
						if s, ok := findStringField(respObj, "name"); ok {
							toolName = s
						}
					}
					if toolID == "" {
						if s, ok := findStringField(respObj, "call_id"); ok {
							toolID = s
						}
					}
					if toolArgs == "" {
						if s, ok := findStringField(respObj, "arguments"); ok {
							toolArgs = s
						}
					}
				}
			}
		default:
			// ignore other event types; the accumulator only cares about
			// tool-call argument growth.
		}
	}

	if toolName == "" {
		return ToolCall{}, nil
	}
	if toolID == "" {
		// Some gateways omit call_id on function-call deltas entirely; a
		// stable per-response id still lets the tool/assistant message
		// pairing invariant hold.
		toolID = uuid.NewString()
	}
	return ToolCall{ID: toolID, Name: toolName, Arguments: toolArgs}, nil
}

// findStringField performs a depth-first search for the first string value
// under key, used as a best-effort fallback when a gateway sends the final
// aggregated response object instead of incremental deltas.
func findStringField(v any, key string) (string, bool) {
	switch vv := v.(type) {
	case map[string]any:
		if s, ok := vv[key].(string); ok && s != "" {
			return s, true
		}
		for _, child := range vv {
			if s, ok := findStringField(child, key); ok {
				return s, true
			}
		}
	case []any:
		for _, child := range vv {
			if s, ok := findStringField(child, key); ok {
				return s, true
			}
		}
	}
	return "", false
}

// Package planschema defines the JSON Schema the plan tool call must
// satisfy and the OpenAI-style function tool definition that advertises it.
package planschema

// ToolName is the function name the model must invoke to return a plan.
const ToolName = "submit_plan"

// ToolDefinition is the subset of an OpenAI function tool definition the
// LLM client needs to advertise the plan tool.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Definition returns the tool definition wrapping PlanResponseSchema.
func Definition() (ToolDefinition, error) {
	params, err := PlanResponseSchema()
	if err != nil {
		return ToolDefinition{}, err
	}
	return ToolDefinition{
		Name:        ToolName,
		Description: "Submit the current message, reasoning trail, and plan DAG for this pass.",
		Parameters:  params,
	}, nil
}

// PlanResponseSchema returns the JSON Schema (as a plain map, ready for
// gojsonschema.NewGoLoader or JSON encoding into a tool definition) that a
// plan tool call's arguments must satisfy. "reasoning" is required so the
// model is forced to externalize its chain of thought as discrete steps
// rather than folding it into the free-form message field.
func PlanResponseSchema() (map[string]any, error) {
	commandSchema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"reason":       map[string]any{"type": "string"},
			"shell":        map[string]any{"type": "string"},
			"run":          map[string]any{"type": "string"},
			"cwd":          map[string]any{"type": "string"},
			"timeout_sec":  map[string]any{"type": "integer", "minimum": 0},
			"filter_regex": map[string]any{"type": "string"},
			"tail_lines":   map[string]any{"type": "integer", "minimum": 0},
			"max_bytes":    map[string]any{"type": "integer", "minimum": 0},
		},
		"additionalProperties": false,
	}

	stepSchema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id":    map[string]any{"type": "string", "minLength": 1},
			"title": map[string]any{"type": "string"},
			"status": map[string]any{
				"type": "string",
				"enum": []any{"pending", "completed", "failed", "abandoned"},
			},
			"waitingForId": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
			"command": commandSchema,
		},
		"required":             []any{"id", "title"},
		"additionalProperties": false,
	}

	schema := map[string]any{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type":    "object",
		"properties": map[string]any{
			"message": map[string]any{"type": "string"},
			"reasoning": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
			"plan": map[string]any{
				"type":  "array",
				"items": stepSchema,
			},
			"requireHumanInput": map[string]any{"type": "boolean"},
		},
		"required":             []any{"message", "reasoning", "plan", "requireHumanInput"},
		"additionalProperties": false,
	}
	return schema, nil
}

package agentcore

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/taskwright/taskwright/internal/planschema"
	"github.com/xeipuuv/gojsonschema"
)

const validationDetailLimit = 512

var (
	planSchemaLoader     gojsonschema.JSONLoader
	planSchemaLoaderErr  error
	planSchemaLoaderOnce sync.Once
)

// SchemaValidationError wraps the individual gojsonschema error descriptions
// produced when a plan tool call fails schema validation.
type SchemaValidationError struct {
	Issues []string
}

func (e SchemaValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "plan response failed schema validation"
	}
	return strings.Join(e.Issues, "; ")
}

func loadPlanSchema() (gojsonschema.JSONLoader, error) {
	planSchemaLoaderOnce.Do(func() {
		schemaMap, err := planschema.PlanResponseSchema()
		if err != nil {
			planSchemaLoaderErr = err
			return
		}
		planSchemaLoader = gojsonschema.NewGoLoader(schemaMap)
	})
	return planSchemaLoader, planSchemaLoaderErr
}

func validatePlanAgainstSchema(raw string) error {
	loader, err := loadPlanSchema()
	if err != nil {
		return fmt.Errorf("agentcore: load plan schema: %w", err)
	}
	result, err := gojsonschema.Validate(loader, gojsonschema.NewStringLoader(raw))
	if err != nil {
		return fmt.Errorf("agentcore: schema validation error: %w", err)
	}
	if result.Valid() {
		return nil
	}
	issues := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		issues = append(issues, desc.String())
	}
	return SchemaValidationError{Issues: issues}
}

// ValidationOutcome is the result of validating one plan tool call.
type ValidationOutcome struct {
	Plan    *PlanResponse
	Retry   bool
	Payload PlanObservationPayload
}

// ValidatePlanToolCall checks that toolCall.Arguments is non-empty JSON that
// satisfies the plan schema. When validation fails, Retry is true and
// Payload carries the structured feedback the caller should feed back to
// the model as a tool-role observation plus an auto-generated user prompt
// (see BuildValidationAutoPrompt). A non-nil error indicates an
// unrecoverable problem unrelated to the model's output (e.g. the schema
// itself failed to load).
func ValidatePlanToolCall(toolCall ToolCall) (ValidationOutcome, error) {
	trimmed := strings.TrimSpace(toolCall.Arguments)
	if trimmed == "" {
		return ValidationOutcome{
			Retry: true,
			Payload: PlanObservationPayload{
				JSONParseError:          true,
				ResponseValidationError: true,
				Summary:                 "Assistant called the tool without providing arguments.",
				Details:                 "tool arguments were empty",
			},
		}, nil
	}

	var plan PlanResponse
	if err := json.Unmarshal([]byte(toolCall.Arguments), &plan); err != nil {
		return ValidationOutcome{
			Retry: true,
			Payload: PlanObservationPayload{
				JSONParseError:          true,
				ResponseValidationError: true,
				Summary:                 "Tool call arguments were not valid JSON.",
				Details:                 err.Error(),
			},
		}, nil
	}

	if err := validatePlanAgainstSchema(toolCall.Arguments); err != nil {
		var schemaErr SchemaValidationError
		if errors.As(err, &schemaErr) {
			return ValidationOutcome{
				Retry: true,
				Payload: PlanObservationPayload{
					SchemaValidationError:   true,
					ResponseValidationError: true,
					Summary:                 "Tool call arguments failed schema validation.",
					Details:                 schemaErr.Error(),
				},
			}, nil
		}
		return ValidationOutcome{}, fmt.Errorf("agentcore: validate plan tool call: %w", err)
	}

	return ValidationOutcome{Plan: &plan}, nil
}

// BuildValidationAutoPrompt synthesizes the user-role nudge appended to
// history after a validation failure, instructing the model to retry the
// tool call against the schema.
func BuildValidationAutoPrompt(payload PlanObservationPayload) string {
	summary := strings.TrimSpace(payload.Summary)
	if summary == "" {
		summary = "The previous tool call response could not be processed."
	}
	details := truncateForPrompt(strings.TrimSpace(payload.Details), validationDetailLimit)

	var b strings.Builder
	b.WriteString(summary)
	if details != "" {
		b.WriteString(" Details: ")
		b.WriteString(details)
	}
	b.WriteString(" Please call ")
	b.WriteString(planschema.ToolName)
	b.WriteString(" again with JSON that strictly matches the provided schema.")
	return b.String()
}

// internal/security/output_validator.go
package security

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	apperrors "analytics-agent/internal/common/errors"
	"analytics-agent/internal/common/metrics"

	"github.com/xeipuuv/gojsonschema"
)

// Schema names accepted by Validate.
const (
	SchemaUnderstanding = "understanding"
	SchemaPlan          = "plan"
)

// understandingSchema pins the shape of query-understanding model output.
// additionalProperties is false everywhere: an unexpected key is treated as
// an escape attempt, not tolerated noise.
const understandingSchema = `{
	"type": "object",
	"required": ["intent"],
	"additionalProperties": false,
	"properties": {
		"intent": {
			"type": "string",
			"enum": ["success_rate", "failure_rate", "comparison", "general_query", "out_of_scope"]
		},
		"slots": {
			"type": "object",
			"additionalProperties": false,
			"properties": {
				"domain_name": {"type": "string"},
				"file_name": {"type": "string"},
				"date_range_start": {"type": "string"},
				"date_range_end": {"type": "string"},
				"metric_type": {"type": "string", "enum": ["success_rate", "failure_rate"]},
				"comparison_targets": {"type": "array", "items": {"type": "string"}},
				"chart_type": {"type": "string", "enum": ["bar", "pie", "line", "donut", "area"]}
			}
		},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1}
	}
}`

// planSchema pins the shape of planner model output. Structural DAG rules
// (sequential ids, backward-only deps) are enforced separately by plan
// validation; the schema only pins types and the key allowlist.
const planSchema = `{
	"type": "object",
	"required": ["steps"],
	"additionalProperties": false,
	"properties": {
		"query_type": {"type": "string", "enum": ["comparison"]},
		"steps": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["step_id", "action"],
				"additionalProperties": false,
				"properties": {
					"step_id": {"type": "integer", "minimum": 1},
					"action": {"type": "string", "enum": ["query_analytics", "compare_results", "render_chart"]},
					"description": {"type": "string"},
					"target": {"type": "string"},
					"metric_type": {"type": "string", "enum": ["success_rate", "failure_rate"]},
					"chart_type": {"type": "string", "enum": ["bar", "pie", "line", "donut", "area"]},
					"depends_on": {"type": "array", "items": {"type": "integer"}},
					"critical": {"type": "boolean"}
				}
			}
		}
	}
}`

var (
	fencedJSONBlock  = regexp.MustCompile("(?s)```json\\s*(\\{.*?\\})\\s*```")
	genericCodeBlock = regexp.MustCompile("(?s)```\\s*(\\{.*?\\})\\s*```")
)

// OutputValidator checks model responses against pinned allowlist schemas
// before any field is trusted.
type OutputValidator struct {
	schemas map[string]*gojsonschema.Schema
}

func NewOutputValidator() (*OutputValidator, error) {
	v := &OutputValidator{schemas: make(map[string]*gojsonschema.Schema, 2)}
	for name, raw := range map[string]string{
		SchemaUnderstanding: understandingSchema,
		SchemaPlan:          planSchema,
	} {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(raw))
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		v.schemas[name] = schema
	}
	return v, nil
}

// Validate extracts the JSON object from a raw model response and validates
// it against the named schema. Returns the raw JSON bytes for the caller to
// unmarshal into its own type.
func (v *OutputValidator) Validate(schemaName, raw string) ([]byte, error) {
	schema, ok := v.schemas[schemaName]
	if !ok {
		return nil, fmt.Errorf("unknown schema %q", schemaName)
	}

	doc, err := ExtractJSON(raw)
	if err != nil {
		return nil, apperrors.NewValidationFailedError(err.Error())
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		metrics.SchemaViolations.WithLabelValues(schemaName).Inc()
		return nil, apperrors.NewSchemaViolationError(schemaName, err.Error())
	}
	if !result.Valid() {
		metrics.SchemaViolations.WithLabelValues(schemaName).Inc()
		reasons := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			reasons = append(reasons, desc.String())
		}
		return nil, apperrors.NewSchemaViolationError(schemaName, strings.Join(reasons, "; "))
	}

	return doc, nil
}

// ExtractJSON pulls a JSON object out of a model response: plain JSON first,
// then a json-fenced block, then a generic code block.
func ExtractJSON(raw string) ([]byte, error) {
	trimmed := strings.TrimSpace(raw)

	if json.Valid([]byte(trimmed)) && strings.HasPrefix(trimmed, "{") {
		return []byte(trimmed), nil
	}

	if m := fencedJSONBlock.FindStringSubmatch(raw); m != nil {
		if !json.Valid([]byte(m[1])) {
			return nil, fmt.Errorf("invalid JSON in fenced block")
		}
		return []byte(m[1]), nil
	}

	if m := genericCodeBlock.FindStringSubmatch(raw); m != nil {
		if !json.Valid([]byte(m[1])) {
			return nil, fmt.Errorf("invalid JSON in code block")
		}
		return []byte(m[1]), nil
	}

	return nil, fmt.Errorf("response is not valid JSON")
}

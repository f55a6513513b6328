// Package llm defines the text-generation collaborator used for rule
// synthesis and scenario generation, with schema-checked responses.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Transient collaborator failures, retried with bounded backoff by callers.
var (
	// ErrTimeout indicates the collaborator did not respond in time.
	ErrTimeout = errors.New("text generation timed out")

	// ErrRateLimited indicates the collaborator rejected the request due
	// to rate limiting.
	ErrRateLimited = errors.New("text generation rate limited")

	// ErrUnavailable indicates a transient server-side failure.
	ErrUnavailable = errors.New("text generation unavailable")
)

// SchemaViolationError reports a response that did not conform to the
// requested schema. It is a recoverable condition: callers log the raw
// response and skip the unit of work rather than propagating the failure.
type SchemaViolationError struct {
	// Schema is the name of the violated schema.
	Schema string

	// Missing lists the required fields absent from the response.
	Missing []string

	// Raw is the collaborator's raw response, kept for logging.
	Raw string
}

func (e *SchemaViolationError) Error() string {
	return fmt.Sprintf("response violates schema %s: missing %s", e.Schema, strings.Join(e.Missing, ", "))
}

// IsSchemaViolation reports whether err is a schema violation.
func IsSchemaViolation(err error) bool {
	var sv *SchemaViolationError
	return errors.As(err, &sv)
}

// IsTransient reports whether err is a transient infrastructure failure
// worth retrying: timeouts, rate limits, and server-side unavailability.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Schema names the structured fields a response must carry.
//
// Responses use labeled fields (`FIELD: value`), one label per field,
// values running until the next label. Fields listed in Required must be
// present and non-empty for the response to parse.
type Schema struct {
	// Name identifies the schema in logs and errors.
	Name string

	// Fields lists all field labels the response may carry.
	Fields []string

	// Required lists the labels that must be present and non-empty.
	Required []string
}

// Fields is a parsed, schema-conforming response.
type Fields map[string]string

// Generator is the text-generation collaborator interface.
type Generator interface {
	// Generate produces a structured response for the prompt, enforcing
	// the schema. Fails with a *SchemaViolationError on malformed output
	// and with ErrTimeout/ErrRateLimited/ErrUnavailable on transient
	// infrastructure failures.
	Generate(ctx context.Context, prompt string, schema Schema) (Fields, error)
}

// ParseFields extracts labeled fields from a raw response and enforces the
// schema's required fields. Labels are matched case-sensitively at the
// start of a field (e.g. "PRECONDITION:"); a field's value runs until the
// next known label.
func ParseFields(raw string, schema Schema) (Fields, error) {
	fields := make(Fields, len(schema.Fields))
	for _, label := range schema.Fields {
		if value := extractField(raw, label, schema.Fields); value != "" {
			fields[label] = value
		}
	}

	var missing []string
	for _, label := range schema.Required {
		if fields[label] == "" {
			missing = append(missing, label)
		}
	}
	if len(missing) > 0 {
		return nil, &SchemaViolationError{Schema: schema.Name, Missing: missing, Raw: raw}
	}
	return fields, nil
}

// extractField extracts the value of one labeled field from the response.
// The value spans from the label to the next known label or end of text.
func extractField(text, label string, labels []string) string {
	marker := label + ":"
	startIdx := strings.Index(text, marker)
	if startIdx == -1 {
		return ""
	}
	startIdx += len(marker)

	endIdx := len(text)
	for _, other := range labels {
		if other == label {
			continue
		}
		if idx := strings.Index(text[startIdx:], other+":"); idx != -1 && startIdx+idx < endIdx {
			endIdx = startIdx + idx
		}
	}

	value := strings.TrimSpace(text[startIdx:endIdx])
	value = strings.Trim(value, "`")
	return strings.TrimSpace(value)
}

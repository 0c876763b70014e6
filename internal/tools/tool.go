// Package tools holds the capabilities the agent can invoke and the registry
// that dispatches model tool calls to them.
package tools

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/soyeahso/bizagent/internal/llm"
)

// ErrToolNotFound is returned when a call names an unregistered tool.
var ErrToolNotFound = errors.New("tool not found")

// MissingParameterError reports a required argument absent from a call.
type MissingParameterError struct {
	Tool  string
	Param string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("missing required parameter: %s", e.Param)
}

// Tool is a capability the agent can invoke during a conversation.
//
// Execute reports expected failures (bad input, an unreachable API) as a
// Result with success=false. A returned error means something unexpected
// happened; the caller turns it into a failure result.
type Tool interface {
	Name() string
	Schema() Schema
	ValidateArgs(args Args) error
	Execute(ctx context.Context, args Args) (Result, error)
}

// Property describes one tool parameter.
type Property struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Enum        []string `json:"enum,omitempty"`
	Default     any      `json:"default,omitempty"`
	Minimum     *float64 `json:"minimum,omitempty"`
	Maximum     *float64 `json:"maximum,omitempty"`
}

// Parameters is the JSON Schema object for a tool's arguments.
type Parameters struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required"`
}

// Schema is the static description of a tool.
type Schema struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Parameters  Parameters `json:"parameters"`
}

// Definition converts the schema into the provider-facing tool definition.
func (s Schema) Definition() llm.ToolDefinition {
	props := make(map[string]any, len(s.Parameters.Properties))
	for name, p := range s.Parameters.Properties {
		m := map[string]any{"type": p.Type, "description": p.Description}
		if len(p.Enum) > 0 {
			m["enum"] = p.Enum
		}
		if p.Default != nil {
			m["default"] = p.Default
		}
		if p.Minimum != nil {
			m["minimum"] = *p.Minimum
		}
		if p.Maximum != nil {
			m["maximum"] = *p.Maximum
		}
		props[name] = m
	}
	required := s.Parameters.Required
	if required == nil {
		required = []string{}
	}
	return llm.ToolDefinition{
		Name:        s.Name,
		Description: s.Description,
		Parameters: map[string]any{
			"type":       "object",
			"properties": props,
			"required":   required,
		},
	}
}

func floatPtr(f float64) *float64 { return &f }

// base carries the schema and implements Name, Schema and ValidateArgs.
type base struct {
	schema Schema
}

func (b *base) Name() string   { return b.schema.Name }
func (b *base) Schema() Schema { return b.schema }

// ValidateArgs checks only that every required key is present.
func (b *base) ValidateArgs(args Args) error {
	for _, p := range b.schema.Parameters.Required {
		if _, ok := args[p]; !ok {
			return &MissingParameterError{Tool: b.schema.Name, Param: p}
		}
	}
	return nil
}

// Args are the decoded JSON arguments of a tool call.
type Args map[string]any

// ArgUserID is injected by the orchestrator into every call.
const ArgUserID = "userId"

// String returns the trimmed string value of key, or "".
// Numbers are formatted so a model sending 612345678 unquoted still works.
func (a Args) String(key string) string {
	switch v := a[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	default:
		return ""
	}
}

// StringOr returns String(key) or def when empty.
func (a Args) StringOr(key, def string) string {
	if s := a.String(key); s != "" {
		return s
	}
	return def
}

// Float returns the numeric value of key. Numeric strings are accepted.
func (a Args) Float(key string) (float64, bool) {
	switch v := a[key].(type) {
	case float64:
		return v, !math.IsNaN(v) && !math.IsInf(v, 0)
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(strings.Replace(v, ",", ".", 1)), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// Int returns the integer value of key, or def.
func (a Args) Int(key string, def int) int {
	if f, ok := a.Float(key); ok {
		return int(f)
	}
	return def
}

// Bool returns the boolean value of key.
func (a Args) Bool(key string) bool {
	switch v := a[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	default:
		return false
	}
}

// UserID returns the injected user id, defaulting to "default".
func (a Args) UserID() string {
	return a.StringOr(ArgUserID, "default")
}

// Result is the structured, serializable outcome of a tool call.
// It always carries "success" plus result fields or an "error" string.
type Result map[string]any

// Failure builds a {success:false, error} result.
func Failure(msg string) Result {
	return Result{"success": false, "error": msg}
}

// Success reports the success flag.
func (r Result) Success() bool {
	ok, _ := r["success"].(bool)
	return ok
}

// ErrorMessage returns the error string, if any.
func (r Result) ErrorMessage() string {
	s, _ := r["error"].(string)
	return s
}

// RequiresConfirmation reports whether the result is a pending payment that
// needs explicit user approval.
func (r Result) RequiresConfirmation() bool {
	ok, _ := r["requiresConfirmation"].(bool)
	return ok
}

// NeedsDisambiguation reports whether the result asks the user to pick
// among several matching contacts.
func (r Result) NeedsDisambiguation() bool {
	ok, _ := r["needsDisambiguation"].(bool)
	return ok
}

// Str returns a string field.
func (r Result) Str(key string) string {
	s, _ := r[key].(string)
	return s
}

// num formats a float without trailing zeros.
func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

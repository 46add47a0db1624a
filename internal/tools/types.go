// Package tools provides the tool surface the agent exposes to the model:
// definitions, a registry with fuzzy-name fallback and parameter aliasing,
// and concurrent batch dispatch.
package tools

import (
	"context"
)

// ToolCategory groups tools by what they touch.
type ToolCategory string

const (
	// CategoryFile covers file reads and mutations.
	CategoryFile ToolCategory = "file"

	// CategorySearch covers filename and content search.
	CategorySearch ToolCategory = "search"

	// CategoryShell covers command execution.
	CategoryShell ToolCategory = "shell"

	// CategoryNetwork covers outbound HTTP.
	CategoryNetwork ToolCategory = "network"

	// CategoryScript covers user-defined script tools.
	CategoryScript ToolCategory = "script"

	// CategoryGeneral is for tools that fit nowhere else.
	CategoryGeneral ToolCategory = "general"
)

// Property describes a single parameter property for JSON schema.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Default     any    `json:"default,omitempty"`
	Enum        []any  `json:"enum,omitempty"`
	// Items describes array element schema (required for type="array")
	Items *PropertyItems `json:"items,omitempty"`
}

// PropertyItems describes the schema for array elements.
type PropertyItems struct {
	Type string `json:"type"`
}

// ToolSchema defines the JSON schema for tool arguments.
type ToolSchema struct {
	// Type is the JSON-schema type, always "object" on the wire.
	// Definition fills it when left empty.
	Type string `json:"type"`

	// Required lists parameters that must be provided.
	Required []string `json:"required"`

	// Properties describes each parameter.
	Properties map[string]Property `json:"properties"`
}

// ExecuteFunc is the signature for tool execution.
// Returns the result string and any error.
type ExecuteFunc func(ctx context.Context, args map[string]any) (string, error)

// Tool is one registered capability.
type Tool struct {
	// Name is the unique identifier for the tool.
	Name string

	// Description explains what the tool does. Sent to the model and shown
	// in fallback suggestions.
	Description string

	// Category classifies the tool.
	Category ToolCategory

	// Destructive marks tools whose execution mutates state outside the
	// conversation; these pass through the confirmation gate.
	Destructive bool

	// Execute runs the tool with the given arguments.
	Execute ExecuteFunc

	// Schema defines the expected arguments.
	Schema ToolSchema
}

// Validate checks if the tool definition is valid.
func (t *Tool) Validate() error {
	if t.Name == "" {
		return ErrToolNameEmpty
	}
	if t.Execute == nil {
		return ErrToolExecuteNil
	}
	return nil
}

// Definition is the wire-facing shape of a tool, handed to model providers.
type Definition struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	InputSchema ToolSchema `json:"input_schema"`
}

// Definition returns the provider-facing definition of the tool.
func (t *Tool) Definition() Definition {
	schema := t.Schema
	if schema.Type == "" {
		schema.Type = "object"
	}
	if schema.Properties == nil {
		schema.Properties = map[string]Property{}
	}
	if schema.Required == nil {
		schema.Required = []string{}
	}
	return Definition{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: schema,
	}
}

// ToolResult wraps the result of tool execution with metadata.
type ToolResult struct {
	// ToolName identifies which tool was executed. After a fuzzy-name
	// correction this is the tool that actually ran.
	ToolName string

	// Result is the string output from the tool, prefixed with any
	// transparency notes.
	Result string

	// Error is set if the tool failed.
	Error error

	// Notes records corrections and parameter substitutions applied
	// before dispatch.
	Notes []string

	// DurationMs is how long execution took.
	DurationMs int64
}

// IsSuccess returns true if the tool executed without error.
func (r *ToolResult) IsSuccess() bool {
	return r.Error == nil
}

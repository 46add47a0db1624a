// Package provider adapts model backends to one chat interface. Each adapter
// converts the conversation into its backend's wire format, calls the API
// with retry on transient failures, and normalizes the reply into a Response
// the agent loop can interpret uniformly.
package provider

import (
	"context"
	"time"

	"codewright/internal/message"
	"codewright/internal/tools"
)

// Normalized stop reasons. Adapters map backend-specific finish reasons onto
// these three values.
const (
	StopEndTurn   = "end_turn"
	StopToolUse   = "tool_use"
	StopMaxTokens = "max_tokens"
)

const (
	defaultMaxTokens = 8192
	defaultTimeout   = 10 * time.Minute // large context models need extended timeout
	defaultRetries   = 3

	// requestTemperature keeps completions near-deterministic for agent work.
	requestTemperature = 0.1

	// minRequestGap spaces consecutive API calls from one client.
	minRequestGap = 100 * time.Millisecond
)

// Provider is a chat-capable model backend.
type Provider interface {
	// Chat sends the conversation and returns the complete reply.
	Chat(ctx context.Context, req Request) (*Response, error)

	// StreamChat behaves like Chat but invokes onDelta for each text chunk
	// as it arrives. onDelta may be nil. The returned Response carries the
	// full accumulated content.
	StreamChat(ctx context.Context, req Request, onDelta func(text string)) (*Response, error)

	// SupportsToolUse reports whether the backend emits structured tool
	// calls. When false, the loop falls back to extracting calls from
	// free text.
	SupportsToolUse() bool

	// Name identifies the backend ("anthropic", "openai", ...).
	Name() string

	// Model returns the model identifier in use.
	Model() string
}

// Request is one chat turn's worth of input.
type Request struct {
	// System is the system prompt, already augmented with any conversation
	// summary by the caller.
	System string

	// Messages is the conversation history, oldest first.
	Messages []message.Message

	// Tools lists the definitions offered to the model. Empty means no
	// tool use this turn.
	Tools []tools.Definition

	// MaxTokens caps the reply length. Zero selects the adapter default.
	MaxTokens int
}

// Response is the normalized reply from any backend.
type Response struct {
	// Content is the assistant text, stream-accumulated when streaming.
	Content string

	// Reasoning is extended-thinking text, when the backend surfaces it.
	Reasoning string

	// ToolCalls are the structured tool invocations, in proposal order.
	ToolCalls []ToolCall

	// StopReason is one of the normalized stop constants, or the raw
	// backend value when it maps to none of them.
	StopReason string

	// Usage reports token consumption when the backend provides it.
	Usage Usage
}

// ToolCall is one model-proposed tool invocation.
type ToolCall struct {
	ID    string
	Name  string
	Input map[string]any
}

// Usage is token accounting for a single call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

func (r *Request) maxTokens() int {
	if r.MaxTokens > 0 {
		return r.MaxTokens
	}
	return defaultMaxTokens
}

package agent

import (
	"time"
)

// State tracks where the loop is within one user turn.
type State int32

const (
	StateIdle State = iota
	StateAwaitingModel
	StateInterpreting
	StateExecutingTools
	StateAwaitingConfirmation
	StateDone
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingModel:
		return "awaiting_model"
	case StateInterpreting:
		return "interpreting"
	case StateExecutingTools:
		return "executing_tools"
	case StateAwaitingConfirmation:
		return "awaiting_confirmation"
	case StateDone:
		return "done"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// ConfirmationResult is the user's answer to a confirmation request.
type ConfirmationResult int

const (
	// Approve runs the operation.
	Approve ConfirmationResult = iota
	// Deny skips this operation; the turn continues.
	Deny
	// Abort skips this operation and ends the turn.
	Abort
)

func (r ConfirmationResult) String() string {
	switch r {
	case Approve:
		return "approve"
	case Deny:
		return "deny"
	case Abort:
		return "abort"
	default:
		return "unknown"
	}
}

// Confirmation describes a pending destructive operation for the user.
type Confirmation struct {
	// ToolName is the tool about to run.
	ToolName string

	// Input is the proposed argument map.
	Input map[string]any

	// IsDangerous is set when the input matches a dangerous-command pattern.
	IsDangerous bool

	// DangerReason explains the match, empty otherwise.
	DangerReason string

	// DiffPreview is a rendered diff of the pending file change, when one
	// could be computed. Best effort; empty on any failure.
	DiffPreview string
}

// Confirmer answers a confirmation request. It may block on a human.
type Confirmer func(Confirmation) ConfirmationResult

// Callbacks are event hooks fired synchronously during the loop's own turn,
// never buffered. Nil fields are skipped.
type Callbacks struct {
	// OnText receives the complete assistant text once per iteration.
	OnText func(text string)

	// OnTextDelta receives streamed text chunks as they arrive.
	OnTextDelta func(chunk string)

	// OnReasoning receives model reasoning/thinking content.
	OnReasoning func(text string)

	// OnToolCall fires just before a tool executes.
	OnToolCall func(name string, input map[string]any)

	// OnToolResult fires after a tool executes.
	OnToolResult func(name, content string, isError bool)

	// OnConfirm gates destructive operations. When nil, destructive calls
	// run without confirmation.
	OnConfirm Confirmer

	// OnCompaction fires after a compaction pass with message counts.
	OnCompaction func(messagesBefore, messagesAfter int)

	// OnTurnComplete fires at the end of every Chat call.
	OnTurnComplete func(stats TurnStats)
}

// TurnStats summarizes one Chat call (user message to final response).
type TurnStats struct {
	// Iterations is how many model round-trips the turn took.
	Iterations int

	// ToolCalls is the number of tool executions.
	ToolCalls int

	// InputTokens and OutputTokens accumulate reported usage.
	InputTokens  int
	OutputTokens int

	// Duration is the wall-clock length of the turn.
	Duration time.Duration

	// PerTool records each execution in order.
	PerTool []TurnToolCall
}

// TurnToolCall records one tool execution.
type TurnToolCall struct {
	Name       string
	DurationMs int64
	IsError    bool
}

// Config controls loop limits and the confirmation policy.
type Config struct {
	// MaxIterations caps model round-trips per turn. Clamped to a fixed
	// hard ceiling so a runaway model always terminates.
	MaxIterations int

	// MaxConsecutiveErrors stops the turn after this many iterations in a
	// row produced a failed tool call.
	MaxConsecutiveErrors int

	// MaxTurnDuration is the wall-clock ceiling per turn. Zero disables it.
	MaxTurnDuration time.Duration

	// MaxTokens caps the reply length per model call. Zero selects the
	// provider default.
	MaxTokens int

	// UseTools enables tool dispatch when the provider supports it.
	UseTools bool

	// ExtractToolCalls enables parsing tool calls out of plain text for
	// providers without native tool use.
	ExtractToolCalls bool

	// AutoApproveAll skips the confirmation gate entirely.
	AutoApproveAll bool

	// AutoApproveTools skips confirmation for the named tools.
	AutoApproveTools []string

	// DangerousPatterns are extra regexes matched against command input
	// during the danger assessment, alongside the built-in set.
	DangerousPatterns []string
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxIterations:        50,
		MaxConsecutiveErrors: 3,
		MaxTurnDuration:      30 * time.Minute,
		UseTools:             true,
		ExtractToolCalls:     true,
	}
}

func (c Config) shouldAutoApprove(toolName string) bool {
	if c.AutoApproveAll {
		return true
	}
	for _, name := range c.AutoApproveTools {
		if name == toolName {
			return true
		}
	}
	return false
}

package context

import (
	"encoding/json"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"codewright/internal/logging"
	"codewright/internal/message"
)

// =============================================================================
// Token Estimation
// =============================================================================
// Estimates feed the budgeter's compaction decision. They do not need to match
// any backend's tokenizer exactly; they need to be stable and slightly
// conservative so the ceiling trips before the provider rejects a request.

// TokenEstimator estimates the token cost of conversation content.
type TokenEstimator interface {
	// EstimateText estimates tokens in a plain string.
	EstimateText(s string) int
	// EstimateMessage estimates tokens for one message including framing.
	EstimateMessage(m message.Message) int
	// EstimateConversation estimates tokens for a whole conversation.
	EstimateConversation(msgs []message.Message) int
}

// Per-unit overheads, in tokens. Role framing and block delimiters are not
// free on any backend.
const (
	messageOverhead    = 4
	toolBlockOverhead  = 10
	imageTokenCost     = 1500 // flat cost per image block
	defaultCharsPerTok = 4.0
)

// HeuristicEstimator estimates tokens by rune count. Calibrated for Claude's
// tokenizer (~4 characters per token); close enough for GPT-family models.
type HeuristicEstimator struct {
	charsPerToken float64
}

// NewHeuristicEstimator creates an estimator with default calibration.
func NewHeuristicEstimator() *HeuristicEstimator {
	return &HeuristicEstimator{charsPerToken: defaultCharsPerTok}
}

// EstimateText estimates tokens in a string.
func (e *HeuristicEstimator) EstimateText(s string) int {
	if s == "" {
		return 0
	}
	// Rune count for proper unicode handling
	runeCount := utf8.RuneCountInString(s)
	tokens := int(float64(runeCount) / e.charsPerToken)
	if tokens == 0 {
		tokens = 1
	}
	return tokens
}

// EstimateMessage estimates tokens for a message including role framing.
func (e *HeuristicEstimator) EstimateMessage(m message.Message) int {
	return estimateMessage(e, m)
}

// EstimateConversation estimates tokens across all messages.
func (e *HeuristicEstimator) EstimateConversation(msgs []message.Message) int {
	return estimateConversation(e, msgs)
}

// estimateMessage implements block accounting shared by both estimators; only
// plain-text estimation differs between them.
func estimateMessage(e TokenEstimator, m message.Message) int {
	tokens := messageOverhead
	for _, block := range m.Content {
		switch b := block.(type) {
		case message.TextBlock:
			tokens += e.EstimateText(b.Text)
		case message.ToolUseBlock:
			tokens += toolBlockOverhead + e.EstimateText(b.Name)
			if input, err := json.Marshal(b.Input); err == nil {
				tokens += e.EstimateText(string(input))
			}
		case message.ToolResultBlock:
			tokens += toolBlockOverhead + e.EstimateText(b.Content)
		case message.ImageBlock:
			tokens += imageTokenCost
		}
	}
	return tokens
}

func estimateConversation(e TokenEstimator, msgs []message.Message) int {
	total := 0
	for _, m := range msgs {
		total += e.EstimateMessage(m)
	}
	return total
}

// =============================================================================
// Tiktoken-backed estimation
// =============================================================================

const defaultEncoding = "cl100k_base"

// TiktokenEstimator counts tokens with a real BPE encoding. More accurate for
// OpenAI-family backends than the rune heuristic.
type TiktokenEstimator struct {
	enc *tiktoken.Tiktoken
	mu  sync.Mutex // tiktoken encode is not documented as goroutine-safe
}

// NewTiktokenEstimator creates an estimator for the given encoding name.
// Empty name selects cl100k_base.
func NewTiktokenEstimator(encoding string) (*TiktokenEstimator, error) {
	if encoding == "" {
		encoding = defaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, err
	}
	return &TiktokenEstimator{enc: enc}, nil
}

// EstimateText counts tokens in a string.
func (e *TiktokenEstimator) EstimateText(s string) int {
	if s == "" {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.enc.Encode(s, nil, nil))
}

// EstimateMessage estimates tokens for a message including role framing.
func (e *TiktokenEstimator) EstimateMessage(m message.Message) int {
	return estimateMessage(e, m)
}

// EstimateConversation estimates tokens across all messages.
func (e *TiktokenEstimator) EstimateConversation(msgs []message.Message) int {
	return estimateConversation(e, msgs)
}

// NewEstimator builds the estimator named by kind: "tiktoken" or "heuristic".
// An unavailable tiktoken encoding falls back to the heuristic; estimation
// must never prevent the agent from running.
func NewEstimator(kind string) TokenEstimator {
	if kind == "tiktoken" {
		est, err := NewTiktokenEstimator(defaultEncoding)
		if err == nil {
			return est
		}
		logging.ContextWarn("tiktoken estimator unavailable, using heuristic: %v", err)
	}
	return NewHeuristicEstimator()
}

// =============================================================================
// Usage Accounting
// =============================================================================

// TokenUsage is a snapshot of cumulative provider-reported token counts.
type TokenUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
	Requests     int64 `json:"requests"`
}

// UsageTracker accumulates provider-reported token usage across a session.
// Safe for concurrent use.
type UsageTracker struct {
	mu    sync.Mutex
	usage TokenUsage
}

// NewUsageTracker creates an empty tracker.
func NewUsageTracker() *UsageTracker {
	return &UsageTracker{}
}

// Add records one model round trip's reported usage.
func (u *UsageTracker) Add(inputTokens, outputTokens int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.usage.InputTokens += int64(inputTokens)
	u.usage.OutputTokens += int64(outputTokens)
	u.usage.TotalTokens = u.usage.InputTokens + u.usage.OutputTokens
	u.usage.Requests++
}

// Snapshot returns the current cumulative usage.
func (u *UsageTracker) Snapshot() TokenUsage {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.usage
}

// Reset clears all counters.
func (u *UsageTracker) Reset() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.usage = TokenUsage{}
}

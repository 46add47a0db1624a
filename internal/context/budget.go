package context

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"codewright/internal/logging"
	"codewright/internal/message"
)

// =============================================================================
// Context Budgeter
// =============================================================================
// Keeps a long conversation under the model's context ceiling. Two mechanisms:
// summarization-based compaction (old messages collapse into a rolling summary
// via a tools-disabled model call) and mechanical truncation (old tool results
// shrink to digests, oversized fresh results get their middle elided).
// Compaction failure downgrades to truncation; it never halts the agent.

// Summarizer produces a conversation summary from a serialized transcript.
// Implementations must not offer tools to the model.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (string, error)
}

// BudgeterConfig controls when and how the budgeter intervenes.
type BudgeterConfig struct {
	// MaxContextTokens is the estimated-token ceiling that triggers compaction.
	MaxContextTokens int
	// KeepRecentMessages is the tail size retained verbatim across a compaction.
	KeepRecentMessages int
	// KeepRecentToolResults is how many recent tool-result blocks escape
	// in-place digestion each iteration.
	KeepRecentToolResults int
	// MaxToolResultSize is the character ceiling for a single fresh tool
	// result before its middle is elided.
	MaxToolResultSize int
	// MaxTranscriptSize bounds the serialized head handed to the summarizer.
	MaxTranscriptSize int
}

// DefaultBudgeterConfig returns production defaults.
func DefaultBudgeterConfig() BudgeterConfig {
	return BudgeterConfig{
		MaxContextTokens:      100_000,
		KeepRecentMessages:    10,
		KeepRecentToolResults: 3,
		MaxToolResultSize:     30_000,
		MaxTranscriptSize:     24_000,
	}
}

// CompactResult reports what a compaction pass did.
type CompactResult struct {
	Messages       []message.Message
	Summary        string
	Summarized     bool // false when the model call failed or was skipped
	MessagesBefore int
	MessagesAfter  int
	TokensBefore   int
	TokensAfter    int
}

// Budgeter decides when compaction or truncation is needed and performs it.
type Budgeter struct {
	mu         sync.Mutex
	config     BudgeterConfig
	estimator  TokenEstimator
	summarizer Summarizer
}

// NewBudgeter creates a budgeter. summarizer may be nil; compaction then
// degrades to mechanical truncation.
func NewBudgeter(cfg BudgeterConfig, estimator TokenEstimator, summarizer Summarizer) *Budgeter {
	if estimator == nil {
		estimator = NewHeuristicEstimator()
	}
	if cfg.MaxContextTokens <= 0 {
		cfg.MaxContextTokens = DefaultBudgeterConfig().MaxContextTokens
	}
	if cfg.KeepRecentMessages <= 0 {
		cfg.KeepRecentMessages = DefaultBudgeterConfig().KeepRecentMessages
	}
	if cfg.KeepRecentToolResults <= 0 {
		cfg.KeepRecentToolResults = DefaultBudgeterConfig().KeepRecentToolResults
	}
	if cfg.MaxToolResultSize <= 0 {
		cfg.MaxToolResultSize = DefaultBudgeterConfig().MaxToolResultSize
	}
	if cfg.MaxTranscriptSize <= 0 {
		cfg.MaxTranscriptSize = DefaultBudgeterConfig().MaxTranscriptSize
	}
	return &Budgeter{config: cfg, estimator: estimator, summarizer: summarizer}
}

// Config returns the active configuration.
func (b *Budgeter) Config() BudgeterConfig {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.config
}

// SetMaxContextTokens updates the compaction ceiling (config hot-reload).
func (b *Budgeter) SetMaxContextTokens(n int) {
	if n <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.config.MaxContextTokens = n
}

// ShouldCompact reports whether the conversation plus system context exceeds
// the token ceiling.
func (b *Budgeter) ShouldCompact(msgs []message.Message, system string) bool {
	b.mu.Lock()
	ceiling := b.config.MaxContextTokens
	b.mu.Unlock()

	estimated := b.estimator.EstimateConversation(msgs) + b.estimator.EstimateText(system)
	if estimated > ceiling {
		logging.Context("ShouldCompact: yes (%d tokens > %d ceiling, %d messages)",
			estimated, ceiling, len(msgs))
		return true
	}
	return false
}

// Compact splits the conversation into a recent tail and an older head,
// summarizes the head, and returns the tail plus the new rolling summary.
// priorSummary is the existing summary, if any; it is folded into the new one.
//
// The split never strands a tool result: the tail boundary advances past any
// leading tool-result message whose matching assistant call fell in the head.
// A failed summarization drops the head and keeps the prior summary; the
// caller always gets a usable conversation back.
func (b *Budgeter) Compact(ctx context.Context, msgs []message.Message, priorSummary string) CompactResult {
	b.mu.Lock()
	keep := b.config.KeepRecentMessages
	b.mu.Unlock()

	result := CompactResult{
		Messages:       msgs,
		Summary:        priorSummary,
		MessagesBefore: len(msgs),
		MessagesAfter:  len(msgs),
		TokensBefore:   b.estimator.EstimateConversation(msgs),
	}
	result.TokensAfter = result.TokensBefore

	start := len(msgs) - keep
	if start <= 0 {
		// Nothing older than the tail; already compact.
		return result
	}

	// Advance past tool-result messages whose tool_use predecessor would be
	// summarized away. A tool result at the head of the tail is always
	// orphaned, since its matching assistant message must immediately
	// precede it.
	for start < len(msgs) && msgs[start].HasToolResult() {
		start++
	}

	head := msgs[:start]
	tail := msgs[start:]

	summary, summarized := b.summarizeHead(ctx, head, priorSummary)

	compacted := make([]message.Message, len(tail))
	copy(compacted, tail)

	result.Messages = compacted
	result.Summary = summary
	result.Summarized = summarized
	result.MessagesAfter = len(compacted)
	result.TokensAfter = b.estimator.EstimateConversation(compacted)

	logging.Context("Compacted %d -> %d messages (%d -> %d tokens, summarized=%v)",
		result.MessagesBefore, result.MessagesAfter,
		result.TokensBefore, result.TokensAfter, summarized)
	logging.Audit().Compaction(result.TokensBefore, result.TokensAfter,
		result.MessagesBefore, result.MessagesAfter)

	return result
}

// ForceCompact compacts regardless of the token ceiling. Calling it again
// with no new messages is a no-op: the report shows before == after.
func (b *Budgeter) ForceCompact(ctx context.Context, msgs []message.Message, priorSummary string) CompactResult {
	return b.Compact(ctx, msgs, priorSummary)
}

// summarizeHead turns the head into a summary via one tools-disabled model
// call. On failure it returns the prior summary unchanged and false.
func (b *Budgeter) summarizeHead(ctx context.Context, head []message.Message, priorSummary string) (string, bool) {
	if b.summarizer == nil {
		logging.ContextWarn("No summarizer configured; dropping %d messages without summary", len(head))
		return priorSummary, false
	}

	transcript := b.serializeTranscript(head, priorSummary)

	summary, err := b.summarizer.Summarize(ctx, transcript)
	if err != nil {
		logging.ContextWarn("Summarization failed, falling back to truncation: %v", err)
		return priorSummary, false
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return priorSummary, false
	}
	return summary, true
}

// serializeTranscript renders head messages as a bounded role-labeled
// transcript for the summarizer prompt.
func (b *Budgeter) serializeTranscript(head []message.Message, priorSummary string) string {
	b.mu.Lock()
	maxSize := b.config.MaxTranscriptSize
	b.mu.Unlock()

	var sb strings.Builder
	sb.WriteString("Summarize this coding-assistant conversation concisely. Focus on:\n")
	sb.WriteString("1. The user's task and goals\n")
	sb.WriteString("2. Files examined or modified, and key findings\n")
	sb.WriteString("3. Commands run and their outcomes\n")
	sb.WriteString("4. Current state and what remains to be done\n\n")

	if priorSummary != "" {
		sb.WriteString("Earlier conversation summary:\n")
		sb.WriteString(priorSummary)
		sb.WriteString("\n\n")
	}

	var body strings.Builder
	for _, m := range head {
		body.WriteString(string(m.Role))
		body.WriteString(": ")
		for _, block := range m.Content {
			switch blk := block.(type) {
			case message.TextBlock:
				body.WriteString(blk.Text)
				body.WriteString("\n")
			case message.ToolUseBlock:
				input, _ := json.Marshal(blk.Input)
				body.WriteString(fmt.Sprintf("[tool call: %s %s]\n", blk.Name, elideMiddle(string(input), 200)))
			case message.ToolResultBlock:
				label := "tool result"
				if blk.IsError {
					label = "tool error"
				}
				body.WriteString(fmt.Sprintf("[%s: %s]\n", label, elideMiddle(blk.Content, 400)))
			case message.ImageBlock:
				body.WriteString("[image]\n")
			}
		}
		body.WriteString("\n")
	}

	sb.WriteString(elideMiddle(body.String(), maxSize))
	sb.WriteString("\nSummary:")
	return sb.String()
}

// =============================================================================
// Mechanical Truncation
// =============================================================================

// digestFloor: tool results at or below this size are left alone; a digest
// would not save anything worth the information loss.
const digestFloor = 200

// TruncateToolResultsInPlace replaces the content of all but the most recent
// K tool-result blocks with a short digest, preserving each block's id and
// error flag. Runs every iteration, independent of the token ceiling.
// Returns how many results were digested and how many characters that saved.
func (b *Budgeter) TruncateToolResultsInPlace(msgs []message.Message) (replaced, savedChars int) {
	b.mu.Lock()
	keep := b.config.KeepRecentToolResults
	b.mu.Unlock()

	// Positions of every tool-result block, in conversation order.
	type pos struct{ msg, block int }
	var positions []pos
	for i := range msgs {
		for j, blk := range msgs[i].Content {
			if _, ok := blk.(message.ToolResultBlock); ok {
				positions = append(positions, pos{i, j})
			}
		}
	}
	if len(positions) <= keep {
		return 0, 0
	}

	for _, p := range positions[:len(positions)-keep] {
		block := msgs[p.msg].Content[p.block].(message.ToolResultBlock)
		if len(block.Content) <= digestFloor {
			continue
		}
		digest := digestToolResult(block.Name, block.Content)
		savedChars += len(block.Content) - len(digest)
		block.Content = digest
		msgs[p.msg].Content[p.block] = block
		replaced++
	}

	if replaced > 0 {
		logging.ContextDebug("Digested %d old tool results (%d chars saved)", replaced, savedChars)
		logging.Audit().Truncation(replaced, savedChars)
	}
	return replaced, savedChars
}

// digestToolResult renders a tool-appropriate digest of elided content:
// line/char/match counts for output-bearing tools, a success token for
// mutating ones.
func digestToolResult(toolName, content string) string {
	lines := strings.Count(content, "\n") + 1
	switch toolName {
	case "read_file":
		return fmt.Sprintf("[file content elided: %d lines, %d chars]", lines, len(content))
	case "grep":
		return fmt.Sprintf("[search results elided: %d matching lines]", lines)
	case "glob", "list_dir":
		return fmt.Sprintf("[listing elided: %d entries]", lines)
	case "bash":
		return fmt.Sprintf("[command output elided: %d lines, %d chars]", lines, len(content))
	case "write_file", "edit_file", "insert_line", "patch_file":
		return "[ok]"
	case "web_fetch":
		return fmt.Sprintf("[page content elided: %d chars]", len(content))
	default:
		return fmt.Sprintf("[output elided: %d lines, %d chars]", lines, len(content))
	}
}

// TruncateForDelivery elides the middle of an oversized tool result, keeping
// head and tail slices so both ends of the output stay visible.
func (b *Budgeter) TruncateForDelivery(content string) string {
	b.mu.Lock()
	maxSize := b.config.MaxToolResultSize
	b.mu.Unlock()
	return elideMiddle(content, maxSize)
}

// elideMiddle bounds s to roughly maxLen characters by cutting the middle,
// keeping 60% head and 30% tail around an elision marker. Cuts land on rune
// boundaries.
func elideMiddle(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}

	headLen := maxLen * 6 / 10
	tailLen := maxLen * 3 / 10

	head := s[:headLen]
	for len(head) > 0 && !utf8ValidCut(s, len(head)) {
		head = head[:len(head)-1]
	}
	tailStart := len(s) - tailLen
	for tailStart < len(s) && !utf8ValidCut(s, tailStart) {
		tailStart++
	}
	tail := s[tailStart:]

	elided := len(s) - len(head) - len(tail)
	return fmt.Sprintf("%s\n\n... [%d characters elided] ...\n\n%s", head, elided, tail)
}

// utf8ValidCut reports whether position i in s is a rune boundary.
func utf8ValidCut(s string, i int) bool {
	if i <= 0 || i >= len(s) {
		return true
	}
	// Continuation bytes are 10xxxxxx.
	return s[i]&0xC0 != 0x80
}

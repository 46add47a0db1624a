// Package agent drives the conversation between the user, the model, and
// the tool surface: send the conversation, interpret the response, gate and
// execute tool calls, append results, repeat until the model stops asking
// for tools or a limit trips.
package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	ctxbudget "codewright/internal/context"
	"codewright/internal/logging"
	"codewright/internal/message"
	"codewright/internal/provider"
	"codewright/internal/tools"
)

// hardIterationCeiling clamps configured MaxIterations so one turn always
// terminates no matter what the model does.
const hardIterationCeiling = 2000

const defaultSystemPrompt = "You are a helpful AI assistant."

// Turn trailers. Each termination path appends a distinct one so callers
// can tell the outcomes apart.
const (
	iterationLimitTrailer = "\n\n(Reached iteration limit, stopping)"
	timeLimitTrailer      = "\n\n(Reached time limit, stopping)"
	repeatedErrorsTrailer = "\n\n(Stopping due to repeated errors)"
	abortTrailer          = "\n\n(Operation aborted by user)"
)

const (
	deniedContent  = "User denied this operation. Please try a different approach."
	abortedContent = "User aborted the operation."
	skippedContent = "Not executed: the user aborted this operation."
)

// Options configures a new Agent.
type Options struct {
	// Provider is the model backend. Required.
	Provider provider.Provider

	// Registry is the tool surface. An empty registry is used when nil.
	Registry *tools.Registry

	// Budgeter manages the context budget. When nil, one is built with
	// default limits and a summarizer backed by Provider.
	Budgeter *ctxbudget.Budgeter

	// SystemPrompt overrides the default system prompt.
	SystemPrompt string

	Config    Config
	Callbacks Callbacks
}

// Agent owns one conversation and the loop that advances it.
type Agent struct {
	provider  provider.Provider
	registry  *tools.Registry
	budgeter  *ctxbudget.Budgeter
	config    Config
	callbacks Callbacks
	dangers   []dangerPattern

	state atomic.Int32

	mu                sync.Mutex
	systemPrompt      string
	messages          []message.Message
	summary           string
	turnCount         int
	consecutiveErrors int
}

// New creates an agent. Zero config fields fall back to defaults.
func New(opts Options) *Agent {
	cfg := opts.Config
	def := DefaultConfig()
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = def.MaxIterations
	}
	if cfg.MaxIterations > hardIterationCeiling {
		cfg.MaxIterations = hardIterationCeiling
	}
	if cfg.MaxConsecutiveErrors <= 0 {
		cfg.MaxConsecutiveErrors = def.MaxConsecutiveErrors
	}
	if cfg.MaxTurnDuration < 0 {
		cfg.MaxTurnDuration = 0
	}

	registry := opts.Registry
	if registry == nil {
		registry = tools.NewRegistry()
	}

	budgeter := opts.Budgeter
	if budgeter == nil {
		budgeter = ctxbudget.NewBudgeter(ctxbudget.DefaultBudgeterConfig(), nil,
			providerSummarizer{p: opts.Provider})
	}

	systemPrompt := opts.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}

	return &Agent{
		provider:     opts.Provider,
		registry:     registry,
		budgeter:     budgeter,
		config:       cfg,
		callbacks:    opts.Callbacks,
		dangers:      compileDangerPatterns(cfg.DangerousPatterns),
		systemPrompt: systemPrompt,
	}
}

// State reports where the loop currently is.
func (a *Agent) State() State {
	return State(a.state.Load())
}

func (a *Agent) setState(s State) {
	a.state.Store(int32(s))
	logging.AgentDebug("State -> %s", s)
}

// Provider returns the model backend.
func (a *Agent) Provider() provider.Provider { return a.provider }

// Registry returns the tool surface.
func (a *Agent) Registry() *tools.Registry { return a.registry }

// SystemPrompt returns the base system prompt (without the summary section).
func (a *Agent) SystemPrompt() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.systemPrompt
}

// SetSystemPrompt replaces the base system prompt.
func (a *Agent) SetSystemPrompt(prompt string) {
	a.mu.Lock()
	a.systemPrompt = prompt
	a.mu.Unlock()
}

// Messages returns a copy of the conversation.
func (a *Agent) Messages() []message.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]message.Message, len(a.messages))
	copy(out, a.messages)
	return out
}

// SetMessages replaces the conversation, for session restore.
func (a *Agent) SetMessages(msgs []message.Message) {
	a.mu.Lock()
	a.messages = make([]message.Message, len(msgs))
	copy(a.messages, msgs)
	a.mu.Unlock()
}

// Summary returns the rolling conversation summary, empty when none exists.
func (a *Agent) Summary() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.summary
}

// SetSummary replaces the rolling summary, for session restore.
func (a *Agent) SetSummary(summary string) {
	a.mu.Lock()
	a.summary = summary
	a.mu.Unlock()
}

// Clear resets the conversation, summary, and error bookkeeping.
func (a *Agent) Clear() {
	a.mu.Lock()
	a.messages = nil
	a.summary = ""
	a.consecutiveErrors = 0
	a.mu.Unlock()
	a.state.Store(int32(StateIdle))
	logging.AgentDebug("Conversation cleared")
}

// SetDangerousPatterns replaces the caller-supplied danger patterns, for
// config hot-reload.
func (a *Agent) SetDangerousPatterns(patterns []string) {
	compiled := compileDangerPatterns(patterns)
	a.mu.Lock()
	a.dangers = compiled
	a.mu.Unlock()
}

// SetAutoApprove replaces the auto-approve policy, for config hot-reload.
func (a *Agent) SetAutoApprove(all bool, toolNames []string) {
	a.mu.Lock()
	a.config.AutoApproveAll = all
	a.config.AutoApproveTools = append([]string(nil), toolNames...)
	a.mu.Unlock()
}

func (a *Agent) snapshotMessages() []message.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]message.Message, len(a.messages))
	copy(out, a.messages)
	return out
}

func (a *Agent) appendMessage(m message.Message) {
	a.mu.Lock()
	a.messages = append(a.messages, m)
	a.mu.Unlock()
}

// buildSystemContext is the system prompt plus the rolling summary section.
func (a *Agent) buildSystemContext() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.summary == "" {
		return a.systemPrompt
	}
	return a.systemPrompt + "\n\n## Previous Conversation Summary\n" + a.summary
}

// Chat runs one full turn: append the user message, loop through model
// calls and tool executions until a stop condition, and return the final
// assistant text. Only an unreachable backend returns an error; every other
// outcome comes back as text with a distinguishing trailer.
func (a *Agent) Chat(ctx context.Context, userMessage string) (string, error) {
	startTime := time.Now()

	a.mu.Lock()
	a.turnCount++
	turnNum := a.turnCount
	a.messages = append(a.messages, message.NewUserText(userMessage))
	a.consecutiveErrors = 0
	a.mu.Unlock()

	logging.Agent("Turn %d started (%d chars)", turnNum, len(userMessage))
	logging.Audit().TurnStart(turnNum, len(userMessage))

	a.compactIfNeeded(ctx)

	stats := TurnStats{}
	finalResponse := ""
	aborted := false

	for {
		stats.Iterations++

		if stats.Iterations > a.config.MaxIterations {
			finalResponse += iterationLimitTrailer
			logging.AgentWarn("Turn %d hit the iteration limit (%d)", turnNum, a.config.MaxIterations)
			break
		}
		if a.config.MaxTurnDuration > 0 && time.Since(startTime) > a.config.MaxTurnDuration {
			finalResponse += timeLimitTrailer
			logging.AgentWarn("Turn %d hit the time limit (%v)", turnNum, a.config.MaxTurnDuration)
			break
		}

		var defs []tools.Definition
		if a.config.UseTools && a.provider.SupportsToolUse() {
			defs = a.registry.Definitions()
		}

		a.setState(StateAwaitingModel)
		resp, err := a.provider.StreamChat(ctx, provider.Request{
			System:    a.buildSystemContext(),
			Messages:  a.snapshotMessages(),
			Tools:     defs,
			MaxTokens: a.config.MaxTokens,
		}, a.callbacks.OnTextDelta)
		if err != nil {
			a.setState(StateDone)
			logging.AgentError("Turn %d: model call failed: %v", turnNum, err)
			logging.Audit().TurnEnd(turnNum, stats.Iterations, len(stats.PerTool),
				time.Since(startTime).Milliseconds(), false)
			return "", fmt.Errorf("model call failed: %w", err)
		}

		stats.InputTokens += resp.Usage.InputTokens
		stats.OutputTokens += resp.Usage.OutputTokens

		if resp.Reasoning != "" && a.callbacks.OnReasoning != nil {
			a.callbacks.OnReasoning(resp.Reasoning)
		}
		if resp.Content != "" {
			if a.callbacks.OnText != nil {
				a.callbacks.OnText(resp.Content)
			}
			finalResponse = resp.Content
		}

		a.setState(StateInterpreting)
		interp := a.interpret(resp)

		var blocks []message.ContentBlock
		if resp.Content != "" {
			blocks = append(blocks, message.TextBlock{Text: resp.Content})
		}
		if interp.mode == modeNative {
			for _, call := range interp.calls {
				blocks = append(blocks, message.ToolUseBlock{ID: call.ID, Name: call.Name, Input: call.Input})
			}
		}
		if len(blocks) > 0 {
			a.appendMessage(message.Message{Role: message.RoleAssistant, Content: blocks})
		}

		if len(interp.calls) == 0 {
			break
		}

		a.setState(StateExecutingTools)
		outcome := a.processToolCalls(ctx, interp, &stats)

		if interp.mode == modeNative {
			a.appendMessage(a.buildNativeResults(outcome.results))
		} else {
			a.appendMessage(a.buildExtractedResults(outcome.results, userMessage))
		}

		if outcome.aborted {
			finalResponse += abortTrailer
			aborted = true
			break
		}

		if outcome.hasError {
			a.mu.Lock()
			a.consecutiveErrors++
			streak := a.consecutiveErrors
			a.mu.Unlock()
			if streak >= a.config.MaxConsecutiveErrors {
				finalResponse += repeatedErrorsTrailer
				logging.AgentWarn("Turn %d stopping after %d consecutive failed iterations", turnNum, streak)
				break
			}
		} else {
			a.mu.Lock()
			a.consecutiveErrors = 0
			a.mu.Unlock()
		}

		a.truncateHistory()
	}

	if aborted {
		a.setState(StateAborted)
	} else {
		a.setState(StateDone)
	}

	stats.ToolCalls = len(stats.PerTool)
	stats.Duration = time.Since(startTime)

	logging.Agent("Turn %d done: %d iterations, %d tool calls, %d/%d tokens, %v",
		turnNum, stats.Iterations, stats.ToolCalls, stats.InputTokens, stats.OutputTokens, stats.Duration)
	logging.Audit().TurnEnd(turnNum, stats.Iterations, stats.ToolCalls, stats.Duration.Milliseconds(), !aborted)

	if a.callbacks.OnTurnComplete != nil {
		a.callbacks.OnTurnComplete(stats)
	}
	return finalResponse, nil
}

// responseMode distinguishes native tool calls from calls parsed out of
// plain text; the two have different result-formatting contracts.
type responseMode int

const (
	modeNative responseMode = iota
	modeExtracted
)

type interpretation struct {
	mode  responseMode
	calls []provider.ToolCall
}

func (a *Agent) interpret(resp *provider.Response) interpretation {
	if len(resp.ToolCalls) > 0 {
		return interpretation{mode: modeNative, calls: resp.ToolCalls}
	}
	if a.config.UseTools && a.config.ExtractToolCalls && !a.provider.SupportsToolUse() && resp.Content != "" {
		if calls := ExtractToolCalls(resp.Content); len(calls) > 0 {
			logging.AgentDebug("Extracted %d tool calls from text", len(calls))
			return interpretation{mode: modeExtracted, calls: calls}
		}
	}
	return interpretation{mode: modeNative}
}

type toolOutcome struct {
	call    provider.ToolCall
	content string
	isError bool
}

type batchOutcome struct {
	results  []toolOutcome
	hasError bool
	aborted  bool
}

// processToolCalls runs the batch strictly in model order. An abort records
// an error result for the aborted call, synthesizes skipped results for the
// rest of the batch so every tool_use id still gets its matching result,
// and stops.
func (a *Agent) processToolCalls(ctx context.Context, interp interpretation, stats *TurnStats) batchOutcome {
	var out batchOutcome

	for i, call := range interp.calls {
		if a.needsConfirmation(call.Name) {
			a.setState(StateAwaitingConfirmation)
			decision := awaitConfirmation(ctx, a.callbacks.OnConfirm, a.buildConfirmation(call))
			logging.Audit().Confirmation(call.Name, decision.String())
			a.setState(StateExecutingTools)

			switch decision {
			case Deny:
				out.results = append(out.results, toolOutcome{call: call, content: deniedContent, isError: true})
				out.hasError = true
				continue
			case Abort:
				out.results = append(out.results, toolOutcome{call: call, content: abortedContent, isError: true})
				for _, skipped := range interp.calls[i+1:] {
					out.results = append(out.results, toolOutcome{call: skipped, content: skippedContent, isError: true})
				}
				out.aborted = true
				return out
			}
		}

		if a.callbacks.OnToolCall != nil {
			a.callbacks.OnToolCall(call.Name, call.Input)
		}

		start := time.Now()
		result, err := a.registry.Execute(ctx, call.Name, call.Input)
		durationMs := time.Since(start).Milliseconds()

		content := ""
		isError := false
		if err != nil {
			content = fmt.Sprintf("Error: %v", err)
			isError = true
		} else if result != nil {
			content = result.Result
		}

		stats.PerTool = append(stats.PerTool, TurnToolCall{Name: call.Name, DurationMs: durationMs, IsError: isError})
		if isError {
			out.hasError = true
		}

		if a.callbacks.OnToolResult != nil {
			a.callbacks.OnToolResult(call.Name, content, isError)
		}
		out.results = append(out.results, toolOutcome{call: call, content: content, isError: isError})
	}
	return out
}

func (a *Agent) needsConfirmation(toolName string) bool {
	if a.callbacks.OnConfirm == nil {
		return false
	}
	a.mu.Lock()
	auto := a.config.shouldAutoApprove(toolName)
	a.mu.Unlock()
	return a.registry.IsDestructive(toolName) && !auto
}

func (a *Agent) buildConfirmation(call provider.ToolCall) Confirmation {
	a.mu.Lock()
	dangers := a.dangers
	a.mu.Unlock()

	dangerous, reason := assessDanger(call.Input, dangers)
	return Confirmation{
		ToolName:     call.Name,
		Input:        call.Input,
		IsDangerous:  dangerous,
		DangerReason: reason,
		DiffPreview:  diffPreview(call.Name, call.Input),
	}
}

// buildNativeResults assembles one user message: tool_result blocks in call
// order, then any synthesized text and image blocks. A result carrying the
// image sentinel reaches the model as a real image block; its tool_result
// slot holds only an acknowledgement.
func (a *Agent) buildNativeResults(results []toolOutcome) message.Message {
	var blocks []message.ContentBlock
	var trailing []message.ContentBlock

	for _, r := range results {
		if img, ok := liftImage(r.content); ok && !r.isError {
			blocks = append(blocks, message.ToolResultBlock{
				ToolUseID: r.call.ID,
				Name:      r.call.Name,
				Content:   "Image captured and attached below.",
			})
			trailing = append(trailing,
				message.TextBlock{Text: fmt.Sprintf("The %s tool returned an image:", r.call.Name)},
				img)
			continue
		}
		blocks = append(blocks, message.ToolResultBlock{
			ToolUseID: r.call.ID,
			Name:      r.call.Name,
			Content:   a.budgeter.TruncateForDelivery(r.content),
			IsError:   r.isError,
		})
	}

	blocks = append(blocks, trailing...)
	return message.Message{Role: message.RoleUser, Content: blocks}
}

// buildExtractedResults flattens the batch into plain text for backends
// that never emitted structured calls, with a reminder of the original task
// since such models lose track of intent across tool turns.
func (a *Agent) buildExtractedResults(results []toolOutcome, originalTask string) message.Message {
	var sb strings.Builder
	sb.WriteString("Tool results:\n\n")
	for _, r := range results {
		content := r.content
		if _, ok := liftImage(content); ok {
			content = "(image captured; this backend cannot display images)"
		}
		label := r.call.Name
		if r.isError {
			label += " (error)"
		}
		fmt.Fprintf(&sb, "[%s]\n%s\n\n", label, a.budgeter.TruncateForDelivery(content))
	}
	sb.WriteString("Please continue with the original task: ")
	sb.WriteString(originalTask)
	return message.NewUserText(sb.String())
}

// liftImage recognizes the image sentinel anywhere in the result, so a
// transparency-note prefix does not hide an image. Any tool can trigger
// multimodal formatting by returning the sentinel shape.
func liftImage(content string) (message.ImageBlock, bool) {
	if img, ok := message.ParseImageSentinel(content); ok {
		return img, true
	}
	for _, line := range strings.Split(content, "\n") {
		if img, ok := message.ParseImageSentinel(line); ok {
			return img, true
		}
	}
	return message.ImageBlock{}, false
}

func (a *Agent) compactIfNeeded(ctx context.Context) {
	a.mu.Lock()
	msgs := a.messages
	summary := a.summary
	a.mu.Unlock()

	if !a.budgeter.ShouldCompact(msgs, a.buildSystemContext()) {
		return
	}
	a.applyCompaction(a.budgeter.Compact(ctx, msgs, summary))
}

// ForceCompact compacts regardless of the token ceiling, for an explicit
// user request. Idempotent: with no new messages the report shows
// before == after.
func (a *Agent) ForceCompact(ctx context.Context) ctxbudget.CompactResult {
	a.mu.Lock()
	msgs := a.messages
	summary := a.summary
	a.mu.Unlock()

	result := a.budgeter.ForceCompact(ctx, msgs, summary)
	a.applyCompaction(result)
	return result
}

func (a *Agent) applyCompaction(result ctxbudget.CompactResult) {
	a.mu.Lock()
	a.messages = result.Messages
	a.summary = result.Summary
	a.mu.Unlock()

	if a.callbacks.OnCompaction != nil {
		a.callbacks.OnCompaction(result.MessagesBefore, result.MessagesAfter)
	}
}

// truncateHistory digests older tool results in place after each iteration.
func (a *Agent) truncateHistory() {
	a.mu.Lock()
	replaced, saved := a.budgeter.TruncateToolResultsInPlace(a.messages)
	a.mu.Unlock()
	if replaced > 0 {
		logging.AgentDebug("Digested %d older tool results (%d chars saved)", replaced, saved)
	}
}

// NewProviderSummarizer returns a Summarizer backed by the given provider,
// for callers that build their own budgeter from configuration.
func NewProviderSummarizer(p provider.Provider) ctxbudget.Summarizer {
	return providerSummarizer{p: p}
}

// providerSummarizer runs the tools-disabled summarization call for the
// budgeter against the agent's own backend.
type providerSummarizer struct {
	p provider.Provider
}

func (s providerSummarizer) Summarize(ctx context.Context, transcript string) (string, error) {
	if s.p == nil {
		return "", fmt.Errorf("no provider configured")
	}
	resp, err := s.p.Chat(ctx, provider.Request{
		System:    "You summarize coding-assistant conversations. Reply with only the summary.",
		Messages:  []message.Message{message.NewUserText(transcript)},
		MaxTokens: 2048,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"codewright/internal/logging"
)

// maxConcurrentTools bounds ExecuteAll's parallelism.
const maxConcurrentTools = 8

// Registry holds all available tools and dispatches calls to them.
// It is thread-safe and supports registration at runtime.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool

	matcher         MatcherConfig
	fallbackEnabled bool
}

// NewRegistry creates a new empty tool registry with fallback enabled.
func NewRegistry() *Registry {
	return &Registry{
		tools:           make(map[string]*Tool),
		matcher:         DefaultMatcherConfig(),
		fallbackEnabled: true,
	}
}

// SetMatcherConfig replaces the fallback thresholds.
func (r *Registry) SetMatcherConfig(cfg MatcherConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.matcher = cfg
}

// SetFallbackEnabled toggles fuzzy name resolution on registry misses.
func (r *Registry) SetFallbackEnabled(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbackEnabled = enabled
}

// Register adds a tool to the registry.
// Returns an error if a tool with the same name already exists; duplicate
// registration is a startup-time programming error, never resolved by
// silent overwrite.
func (r *Registry) Register(tool *Tool) error {
	if err := tool.Validate(); err != nil {
		return fmt.Errorf("invalid tool: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("%w: %s", ErrToolAlreadyRegistered, tool.Name)
	}

	r.tools[tool.Name] = tool

	logging.ToolsDebug("Registered tool: %s (category=%s, destructive=%v)", tool.Name, tool.Category, tool.Destructive)
	return nil
}

// MustRegister registers a tool and panics on error.
// Use this for static tool registration at startup.
func (r *Registry) MustRegister(tool *Tool) {
	if err := r.Register(tool); err != nil {
		panic(fmt.Sprintf("failed to register tool %s: %v", tool.Name, err))
	}
}

// Get returns a tool by name, or nil if not found.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Has returns true if a tool with the given name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// IsDestructive reports whether the named tool mutates external state.
// Unknown names report false.
func (r *Registry) IsDestructive(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if tool, ok := r.tools[name]; ok {
		return tool.Destructive
	}
	return false
}

// All returns all registered tools sorted by name.
func (r *Registry) All() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		result = append(result, tool)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Definitions returns the provider-facing definitions of all tools,
// sorted by name for a stable wire order.
func (r *Registry) Definitions() []Definition {
	all := r.All()
	defs := make([]Definition, 0, len(all))
	for _, tool := range all {
		defs = append(defs, tool.Definition())
	}
	return defs
}

// Match scores a requested name against the registered tools.
func (r *Registry) Match(requested string) FallbackMatch {
	r.mu.RLock()
	cfg := r.matcher
	r.mu.RUnlock()
	return MatchTool(requested, r.All(), cfg)
}

// Execute runs a tool by name with the given arguments.
//
// On an exact-name miss with fallback enabled, the requested name is scored
// against every registered tool: a single clear winner over the auto-correct
// threshold runs in its place with a correction note; close-but-ambiguous
// candidates come back as a suggestion error; anything else is a plain
// unknown-tool error. Aliased parameter keys are rewritten to schema keys
// before dispatch, and every substitution is prefixed to the output as a
// transparency note.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	var notes []string

	tool := r.Get(name)
	if tool == nil {
		r.mu.RLock()
		fallback := r.fallbackEnabled
		r.mu.RUnlock()

		if !fallback {
			return errorResult(name, fmt.Errorf("%w: %s", ErrToolNotFound, name)), fmt.Errorf("%w: %s", ErrToolNotFound, name)
		}

		match := r.Match(name)
		switch {
		case match.ExactMatch:
			// Case-insensitive hit; run the registered spelling.
			tool = r.Get(match.MatchedName)
		case match.ShouldAutoCorrect:
			tool = r.Get(match.MatchedName)
			notes = append(notes, fmt.Sprintf("requested tool '%s' resolved to '%s' (similarity %.2f)", name, match.MatchedName, match.Score))
			logging.Audit().ToolCorrected(name, match.MatchedName, match.Score)
		default:
			err := unknownToolError(name, match)
			return errorResult(name, err), err
		}
	}

	canonical, aliasNotes := CanonicalizeArgs(tool.Schema, args)
	notes = append(notes, aliasNotes...)

	return r.executeTool(ctx, tool, canonical, notes)
}

// executeTool validates required arguments and runs the tool.
func (r *Registry) executeTool(ctx context.Context, tool *Tool, args map[string]any, notes []string) (*ToolResult, error) {
	start := time.Now()

	if err := validateArgs(tool, args); err != nil {
		result := &ToolResult{
			ToolName:   tool.Name,
			Error:      err,
			Notes:      notes,
			DurationMs: time.Since(start).Milliseconds(),
		}
		return result, err
	}

	logging.ToolsDebug("Executing tool: %s", tool.Name)
	output, err := tool.Execute(ctx, args)

	duration := time.Since(start)
	logging.ToolsDebug("Tool %s completed in %v (success=%v)", tool.Name, duration, err == nil)
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	logging.Audit().ToolExec(tool.Name, "", duration.Milliseconds(), err == nil, errMsg)

	return &ToolResult{
		ToolName:   tool.Name,
		Result:     prefixNotes(notes, output),
		Error:      err,
		Notes:      notes,
		DurationMs: duration.Milliseconds(),
	}, err
}

// ToolCall names one requested execution for ExecuteAll.
type ToolCall struct {
	Name string
	Args map[string]any
}

// ExecuteAll runs calls concurrently with no ordering guarantee between
// their side effects; results come back positionally. Callers that need
// confirmation gating or ordered side effects must drive Execute themselves.
func (r *Registry) ExecuteAll(ctx context.Context, calls []ToolCall) []*ToolResult {
	results := make([]*ToolResult, len(calls))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(maxConcurrentTools)

	for i, call := range calls {
		eg.Go(func() error {
			res, err := r.Execute(egCtx, call.Name, call.Args)
			if res == nil {
				res = errorResult(call.Name, err)
			}
			results[i] = res
			return nil
		})
	}

	// Goroutines record their own failures in results; Wait only joins.
	_ = eg.Wait()
	return results
}

// validateArgs checks that all required arguments are present. The error
// carries the parameter's declared type and description so the model can
// retry without guessing.
func validateArgs(tool *Tool, args map[string]any) error {
	for _, required := range tool.Schema.Required {
		if _, ok := args[required]; !ok {
			if prop, exists := tool.Schema.Properties[required]; exists {
				return fmt.Errorf("%w: %s (%s: %s)", ErrMissingRequiredArg, required, prop.Type, prop.Description)
			}
			return fmt.Errorf("%w: %s", ErrMissingRequiredArg, required)
		}
	}
	return nil
}

// unknownToolError builds the miss error, with ranked suggestions when any
// candidate cleared the suggestion threshold.
func unknownToolError(name string, match FallbackMatch) error {
	if len(match.Suggestions) == 0 {
		return fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	var sb strings.Builder
	for i, s := range match.Suggestions {
		if i > 0 {
			sb.WriteString("; ")
		}
		fmt.Fprintf(&sb, "%s (%.2f)", s.Name, s.Score)
		if s.Description != "" {
			sb.WriteString(" - ")
			sb.WriteString(s.Description)
		}
	}
	return fmt.Errorf("%w: %s. Did you mean: %s", ErrToolNotFound, name, sb.String())
}

// prefixNotes prepends transparency notes to tool output.
func prefixNotes(notes []string, output string) string {
	if len(notes) == 0 {
		return output
	}
	var sb strings.Builder
	for _, note := range notes {
		sb.WriteString("[note: ")
		sb.WriteString(note)
		sb.WriteString("]\n")
	}
	sb.WriteString(output)
	return sb.String()
}

// errorResult wraps a pre-dispatch failure as a ToolResult.
func errorResult(name string, err error) *ToolResult {
	return &ToolResult{ToolName: name, Error: err}
}

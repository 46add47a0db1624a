package agent

import (
	"encoding/json"
	"regexp"

	"github.com/google/uuid"

	"codewright/internal/provider"
)

// Backends without native tool use are instructed to emit calls as JSON
// prose. The extractor accepts the shapes such models actually produce:
// fenced code blocks and bare objects, with the tool name under "tool",
// "tool_name", or "name" and arguments under "input", "arguments",
// "parameters", or "args".

var fencedBlockRe = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*\\n?(.*?)```")

// ExtractToolCalls pulls tool invocations embedded as JSON in free text.
// Returns them in order of appearance; text without any parseable call
// yields nil.
func ExtractToolCalls(text string) []provider.ToolCall {
	var calls []provider.ToolCall

	// Fenced blocks first, removed from the text so their contents are not
	// scanned twice.
	remaining := fencedBlockRe.ReplaceAllStringFunc(text, func(block string) string {
		inner := fencedBlockRe.FindStringSubmatch(block)[1]
		for _, candidate := range scanObjects(inner) {
			if call, ok := parseToolCall(candidate); ok {
				calls = append(calls, call)
			}
		}
		return ""
	})

	for _, candidate := range scanObjects(remaining) {
		if call, ok := parseToolCall(candidate); ok {
			calls = append(calls, call)
		}
	}
	return calls
}

// scanObjects finds balanced top-level {...} spans, tracking string
// literals so braces inside quoted values do not skew the depth count.
func scanObjects(s string) []string {
	var out []string
	depth := 0
	start := -1
	inString := false
	escaped := false

	for i, r := range s {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					out = append(out, s[start:i+1])
					start = -1
				}
			}
		}
	}
	return out
}

// parseToolCall interprets one JSON object as a tool invocation. An object
// naming its tool under "tool" or "tool_name" always qualifies; a bare
// "name" key qualifies only alongside an argument key, so ordinary data
// objects in prose are not mistaken for calls.
func parseToolCall(raw string) (provider.ToolCall, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return provider.ToolCall{}, false
	}

	name, explicit := toolName(obj)
	if name == "" {
		return provider.ToolCall{}, false
	}

	input, hasInput := toolInput(obj)
	if !explicit && !hasInput {
		return provider.ToolCall{}, false
	}
	if input == nil {
		input = map[string]any{}
	}

	return provider.ToolCall{
		ID:    "call_" + uuid.NewString()[:8],
		Name:  name,
		Input: input,
	}, true
}

func toolName(obj map[string]any) (name string, explicit bool) {
	for _, key := range []string{"tool", "tool_name"} {
		if s, ok := obj[key].(string); ok && s != "" {
			return s, true
		}
	}
	if s, ok := obj["name"].(string); ok && s != "" {
		return s, false
	}
	return "", false
}

func toolInput(obj map[string]any) (map[string]any, bool) {
	for _, key := range []string{"input", "arguments", "parameters", "args"} {
		if m, ok := obj[key].(map[string]any); ok {
			return m, true
		}
	}
	return nil, false
}

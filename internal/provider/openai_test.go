package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"codewright/internal/message"
	"codewright/internal/tools"
)

func openaiTestProvider(url string) *OpenAIProvider {
	return NewOpenAIProviderWithConfig(OpenAIConfig{
		APIKey:  "test-key",
		BaseURL: url,
		Model:   "gpt-test",
	})
}

func TestOpenAIChat_ParsesToolCalls(t *testing.T) {
	var gotRequest openaiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Expected bearer auth, got %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotRequest); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "chatcmpl-1",
			"choices": [{
				"index": 0,
				"message": {
					"role": "assistant",
					"content": "Listing now.",
					"tool_calls": [{
						"id": "call_abc",
						"type": "function",
						"function": {"name": "bash", "arguments": "{\"command\": \"ls\"}"}
					}]
				},
				"finish_reason": "tool_calls"
			}],
			"usage": {"prompt_tokens": 20, "completion_tokens": 9, "total_tokens": 29}
		}`))
	}))
	defer server.Close()

	p := openaiTestProvider(server.URL)
	resp, err := p.Chat(context.Background(), Request{
		System:   "be helpful",
		Messages: []message.Message{message.NewUserText("list files")},
		Tools:    []tools.Definition{bashDefinition()},
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	if len(gotRequest.Tools) != 1 || gotRequest.Tools[0].Function.Name != "bash" {
		t.Errorf("Expected bash tool on the wire, got %+v", gotRequest.Tools)
	}
	if gotRequest.ToolChoice != "auto" {
		t.Errorf("Expected tool_choice auto, got %q", gotRequest.ToolChoice)
	}
	if len(gotRequest.Messages) != 2 || gotRequest.Messages[0].Role != "system" {
		t.Errorf("Expected leading system message, got %+v", gotRequest.Messages)
	}

	if resp.Content != "Listing now." {
		t.Errorf("Unexpected content: %q", resp.Content)
	}
	if resp.StopReason != StopToolUse {
		t.Errorf("Expected stop reason tool_use, got %q", resp.StopReason)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("Expected 1 tool call, got %d", len(resp.ToolCalls))
	}
	if resp.ToolCalls[0].ID != "call_abc" || resp.ToolCalls[0].Input["command"] != "ls" {
		t.Errorf("Unexpected tool call: %+v", resp.ToolCalls[0])
	}
	if resp.Usage.InputTokens != 20 || resp.Usage.OutputTokens != 9 {
		t.Errorf("Unexpected usage: %+v", resp.Usage)
	}
}

func TestOpenAIChat_RetriesOnServerError(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "ok"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2}
		}`))
	}))
	defer server.Close()

	p := openaiTestProvider(server.URL)
	resp, err := p.Chat(context.Background(), Request{Messages: []message.Message{message.NewUserText("hi")}})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if got := attempts.Load(); got != 2 {
		t.Errorf("Expected 2 attempts, got %d", got)
	}
	if resp.StopReason != StopEndTurn {
		t.Errorf("Expected end_turn, got %q", resp.StopReason)
	}
}

func TestOpenAIStreamChat_AssemblesDeltas(t *testing.T) {
	events := strings.Join([]string{
		`data: {"choices":[{"index":0,"delta":{"role":"assistant","content":"Run"}}]}`,
		``,
		`data: {"choices":[{"index":0,"delta":{"content":"ning ls"}}]}`,
		``,
		`data: {"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"bash","arguments":"{\"comm"}}]}}]}`,
		``,
		`data: {"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"and\":\"ls\"}"}}]}}]}`,
		``,
		`data: {"choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
		``,
		`data: {"choices":[],"usage":{"prompt_tokens":15,"completion_tokens":8,"total_tokens":23}}`,
		``,
		`data: [DONE]`,
		``,
	}, "\n")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openaiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
			if !req.Stream {
				t.Error("Expected stream=true on the wire")
			}
			if req.StreamOptions == nil || !req.StreamOptions.IncludeUsage {
				t.Error("Expected stream_options.include_usage on the wire")
			}
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(events))
	}))
	defer server.Close()

	var deltas []string
	p := openaiTestProvider(server.URL)
	resp, err := p.StreamChat(context.Background(), Request{Messages: []message.Message{message.NewUserText("hi")}},
		func(text string) { deltas = append(deltas, text) })
	if err != nil {
		t.Fatalf("StreamChat failed: %v", err)
	}

	if got := strings.Join(deltas, ""); got != "Running ls" {
		t.Errorf("Expected deltas to join to 'Running ls', got %q", got)
	}
	if resp.Content != "Running ls" {
		t.Errorf("Unexpected content: %q", resp.Content)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("Expected 1 tool call, got %d", len(resp.ToolCalls))
	}
	call := resp.ToolCalls[0]
	if call.ID != "call_1" || call.Name != "bash" || call.Input["command"] != "ls" {
		t.Errorf("Unexpected tool call: %+v", call)
	}
	if resp.StopReason != StopToolUse {
		t.Errorf("Expected stop reason tool_use, got %q", resp.StopReason)
	}
	if resp.Usage.InputTokens != 15 || resp.Usage.OutputTokens != 8 {
		t.Errorf("Unexpected usage: %+v", resp.Usage)
	}
}

func TestOpenAIStreamChat_ReasoningContent(t *testing.T) {
	events := strings.Join([]string{
		`data: {"choices":[{"index":0,"delta":{"reasoning_content":"thinking hard"}}]}`,
		``,
		`data: {"choices":[{"index":0,"delta":{"content":"answer"},"finish_reason":"stop"}]}`,
		``,
		`data: [DONE]`,
		``,
	}, "\n")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(events))
	}))
	defer server.Close()

	p := openaiTestProvider(server.URL)
	resp, err := p.StreamChat(context.Background(), Request{Messages: []message.Message{message.NewUserText("hi")}}, nil)
	if err != nil {
		t.Fatalf("StreamChat failed: %v", err)
	}
	if resp.Reasoning != "thinking hard" {
		t.Errorf("Expected reasoning captured, got %q", resp.Reasoning)
	}
	if resp.Content != "answer" {
		t.Errorf("Unexpected content: %q", resp.Content)
	}
	if resp.StopReason != StopEndTurn {
		t.Errorf("Expected end_turn, got %q", resp.StopReason)
	}
}

func TestNewOllamaProvider_Defaults(t *testing.T) {
	p := NewOllamaProvider("", "")
	if p.Name() != "ollama" {
		t.Errorf("Expected name ollama, got %q", p.Name())
	}
	if p.Model() != "llama3.2" {
		t.Errorf("Expected default model llama3.2, got %q", p.Model())
	}
	if p.baseURL != "http://localhost:11434/v1" {
		t.Errorf("Unexpected base URL: %q", p.baseURL)
	}
	if p.SupportsToolUse() {
		t.Error("Ollama should not report native tool support")
	}
}

func TestOllamaProvider_NoToolsOnWire(t *testing.T) {
	var gotRequest openaiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "" {
			t.Errorf("Expected no auth header, got %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotRequest); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		w.Write([]byte(`{
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "ok"}, "finish_reason": "stop"}]
		}`))
	}))
	defer server.Close()

	p := NewOllamaProvider(server.URL, "llama3.2")
	_, err := p.Chat(context.Background(), Request{
		Messages: []message.Message{message.NewUserText("hi")},
		Tools:    []tools.Definition{bashDefinition()},
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if len(gotRequest.Tools) != 0 {
		t.Errorf("Expected no tools on the wire for ollama, got %+v", gotRequest.Tools)
	}
	if gotRequest.ToolChoice != "" {
		t.Errorf("Expected no tool_choice for ollama, got %q", gotRequest.ToolChoice)
	}
}

func TestBuildOpenAIMessages_ToolFlow(t *testing.T) {
	msgs := []message.Message{
		message.NewUserText("list files"),
		{Role: message.RoleAssistant, Content: []message.ContentBlock{
			message.TextBlock{Text: "Listing now."},
			message.ToolUseBlock{ID: "call_1", Name: "bash", Input: map[string]any{"command": "ls"}},
		}},
		{Role: message.RoleUser, Content: []message.ContentBlock{
			message.ToolResultBlock{ToolUseID: "call_1", Name: "bash", Content: "a.txt\nb.txt"},
			message.TextBlock{Text: "now read a.txt"},
		}},
	}

	wire := buildOpenAIMessages("be helpful", msgs)

	wantRoles := []string{"system", "user", "assistant", "tool", "user"}
	if len(wire) != len(wantRoles) {
		t.Fatalf("Expected %d wire messages, got %d: %+v", len(wantRoles), len(wire), wire)
	}
	for i, want := range wantRoles {
		if wire[i].Role != want {
			t.Errorf("Message %d: expected role %q, got %q", i, want, wire[i].Role)
		}
	}

	assistant := wire[2]
	if len(assistant.ToolCalls) != 1 {
		t.Fatalf("Expected 1 tool call on assistant message, got %d", len(assistant.ToolCalls))
	}
	if assistant.ToolCalls[0].ID != "call_1" || assistant.ToolCalls[0].Function.Name != "bash" {
		t.Errorf("Unexpected tool call: %+v", assistant.ToolCalls[0])
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(assistant.ToolCalls[0].Function.Arguments), &args); err != nil {
		t.Fatalf("Arguments are not valid JSON: %v", err)
	}
	if args["command"] != "ls" {
		t.Errorf("Expected command=ls in arguments, got %v", args)
	}

	toolMsg := wire[3]
	if toolMsg.ToolCallID != "call_1" {
		t.Errorf("Expected tool_call_id call_1, got %q", toolMsg.ToolCallID)
	}
	if toolMsg.Content != "a.txt\nb.txt" {
		t.Errorf("Unexpected tool content: %v", toolMsg.Content)
	}

	if s, ok := wire[4].Content.(string); !ok || s != "now read a.txt" {
		t.Errorf("Expected trailing user text, got %#v", wire[4].Content)
	}
}

func TestBuildOpenAIMessages_Image(t *testing.T) {
	msgs := []message.Message{
		{Role: message.RoleUser, Content: []message.ContentBlock{
			message.TextBlock{Text: "what is this?"},
			message.ImageBlock{MediaType: "image/png", Data: "aWJ5dGVz"},
		}},
	}

	wire := buildOpenAIMessages("", msgs)
	if len(wire) != 1 {
		t.Fatalf("Expected 1 wire message, got %d", len(wire))
	}
	parts, ok := wire[0].Content.([]openaiContentPart)
	if !ok || len(parts) != 2 {
		t.Fatalf("Expected content parts, got %#v", wire[0].Content)
	}
	if parts[0].Type != "text" || parts[0].Text != "what is this?" {
		t.Errorf("Unexpected text part: %+v", parts[0])
	}
	if parts[1].Type != "image_url" || parts[1].ImageURL == nil {
		t.Fatalf("Expected image_url part, got %+v", parts[1])
	}
	if parts[1].ImageURL.URL != "data:image/png;base64,aWJ5dGVz" {
		t.Errorf("Unexpected data URL: %q", parts[1].ImageURL.URL)
	}
}

func TestParseFunctionArguments(t *testing.T) {
	if got := parseFunctionArguments("bash", `{"command": "ls"}`); got["command"] != "ls" {
		t.Errorf("Expected parsed arguments, got %v", got)
	}
	if got := parseFunctionArguments("bash", ""); len(got) != 0 {
		t.Errorf("Expected empty map for empty arguments, got %v", got)
	}
	if got := parseFunctionArguments("bash", `{"command": `); got == nil || len(got) != 0 {
		t.Errorf("Expected empty map for malformed arguments, got %v", got)
	}
}

func TestNormalizeOpenAIStop(t *testing.T) {
	cases := []struct {
		reason       string
		hasToolCalls bool
		want         string
	}{
		{"tool_calls", true, StopToolUse},
		{"function_call", true, StopToolUse},
		{"stop", false, StopEndTurn},
		{"stop", true, StopToolUse},
		{"length", false, StopMaxTokens},
		{"", false, StopEndTurn},
		{"", true, StopToolUse},
		{"content_filter", false, "content_filter"},
	}
	for _, tc := range cases {
		if got := normalizeOpenAIStop(tc.reason, tc.hasToolCalls); got != tc.want {
			t.Errorf("normalizeOpenAIStop(%q, %v) = %q, want %q", tc.reason, tc.hasToolCalls, got, tc.want)
		}
	}
}

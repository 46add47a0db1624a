package agent

import (
	"context"
	"sync"

	"codewright/internal/provider"
	"codewright/internal/tools"
)

// MockProvider is a scripted Provider. Responses pop in order; when the
// queue runs dry a plain end-of-turn response comes back so loops always
// terminate.
type MockProvider struct {
	mu            sync.Mutex
	Responses     []*provider.Response
	SupportsTools bool
	StreamFunc    func(ctx context.Context, req provider.Request, onDelta func(string)) (*provider.Response, error)
	ChatFunc      func(ctx context.Context, req provider.Request) (*provider.Response, error)

	ChatCalls   int
	StreamCalls int
	Requests    []provider.Request
}

func (m *MockProvider) Chat(ctx context.Context, req provider.Request) (*provider.Response, error) {
	m.mu.Lock()
	m.ChatCalls++
	m.mu.Unlock()
	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, req)
	}
	return &provider.Response{Content: "Mock summary", StopReason: provider.StopEndTurn}, nil
}

func (m *MockProvider) StreamChat(ctx context.Context, req provider.Request, onDelta func(string)) (*provider.Response, error) {
	m.mu.Lock()
	m.StreamCalls++
	m.Requests = append(m.Requests, req)
	m.mu.Unlock()

	if m.StreamFunc != nil {
		return m.StreamFunc(ctx, req, onDelta)
	}

	m.mu.Lock()
	resp := m.pop()
	m.mu.Unlock()
	if onDelta != nil && resp.Content != "" {
		onDelta(resp.Content)
	}
	return resp, nil
}

func (m *MockProvider) pop() *provider.Response {
	if len(m.Responses) == 0 {
		return &provider.Response{Content: "done", StopReason: provider.StopEndTurn}
	}
	resp := m.Responses[0]
	m.Responses = m.Responses[1:]
	return resp
}

func (m *MockProvider) SupportsToolUse() bool { return m.SupportsTools }
func (m *MockProvider) Name() string          { return "mock" }
func (m *MockProvider) Model() string         { return "mock-model" }

func (m *MockProvider) streamCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.StreamCalls
}

func textResponse(text string) *provider.Response {
	return &provider.Response{Content: text, StopReason: provider.StopEndTurn}
}

func toolCallResponse(text string, calls ...provider.ToolCall) *provider.Response {
	return &provider.Response{Content: text, ToolCalls: calls, StopReason: provider.StopToolUse}
}

// stubSummarizer satisfies the budgeter's Summarizer without a model call.
type stubSummarizer struct {
	mu    sync.Mutex
	text  string
	err   error
	calls int
}

func (s *stubSummarizer) Summarize(ctx context.Context, transcript string) (string, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	return s.text, nil
}

func echoTool() *tools.Tool {
	return &tools.Tool{
		Name:        "echo",
		Description: "Echoes text back",
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			text, _ := args["text"].(string)
			return text, nil
		},
		Schema: tools.ToolSchema{
			Properties: map[string]tools.Property{
				"text": {Type: "string", Description: "Text to echo"},
			},
		},
	}
}

// countingTool records executions. Destructive variants exercise the
// confirmation gate.
func countingTool(name string, destructive bool, counter *int, output string) *tools.Tool {
	return &tools.Tool{
		Name:        name,
		Description: "Counts executions",
		Destructive: destructive,
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			*counter++
			return output, nil
		},
	}
}

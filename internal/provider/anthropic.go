package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"codewright/internal/logging"
	"codewright/internal/message"
	"codewright/internal/tools"
)

// AnthropicProvider implements Provider for the Anthropic messages API.
type AnthropicProvider struct {
	apiKey      string
	baseURL     string
	model       string
	maxRetries  int
	httpClient  *http.Client
	mu          sync.Mutex
	lastRequest time.Time
}

// AnthropicConfig holds configuration for the Anthropic provider.
type AnthropicConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// DefaultAnthropicConfig returns sensible defaults.
func DefaultAnthropicConfig(apiKey string) AnthropicConfig {
	return AnthropicConfig{
		APIKey:     apiKey,
		BaseURL:    "https://api.anthropic.com/v1",
		Model:      "claude-sonnet-4-5-20250514",
		Timeout:    defaultTimeout,
		MaxRetries: defaultRetries,
	}
}

// NewAnthropicProvider creates an Anthropic provider with defaults.
func NewAnthropicProvider(apiKey string) *AnthropicProvider {
	return NewAnthropicProviderWithConfig(DefaultAnthropicConfig(apiKey))
}

// NewAnthropicProviderWithConfig creates an Anthropic provider with custom
// config. Zero fields fall back to defaults.
func NewAnthropicProviderWithConfig(config AnthropicConfig) *AnthropicProvider {
	def := DefaultAnthropicConfig(config.APIKey)
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.Model == "" {
		config.Model = def.Model
	}
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = def.MaxRetries
	}
	return &AnthropicProvider{
		apiKey:     config.APIKey,
		baseURL:    strings.TrimSuffix(config.BaseURL, "/"),
		model:      config.Model,
		maxRetries: config.MaxRetries,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Name returns the backend name.
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Model returns the model in use.
func (p *AnthropicProvider) Model() string { return p.model }

// SupportsToolUse reports native tool-call support.
func (p *AnthropicProvider) SupportsToolUse() bool { return true }

// throttle spaces consecutive requests.
func (p *AnthropicProvider) throttle() {
	p.mu.Lock()
	elapsed := time.Since(p.lastRequest)
	if elapsed < minRequestGap {
		time.Sleep(minRequestGap - elapsed)
	}
	p.lastRequest = time.Now()
	p.mu.Unlock()
}

func (p *AnthropicProvider) buildRequest(req Request, stream bool) anthropicRequest {
	return anthropicRequest{
		Model:       p.model,
		MaxTokens:   req.maxTokens(),
		System:      req.System,
		Messages:    buildAnthropicMessages(req.Messages),
		Tools:       buildAnthropicTools(req.Tools),
		Temperature: requestTemperature,
		Stream:      stream,
	}
}

// Chat sends the conversation and returns the complete reply.
func (p *AnthropicProvider) Chat(ctx context.Context, req Request) (*Response, error) {
	// Auto-apply timeout if context has no deadline
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.httpClient.Timeout)
		defer cancel()
	}

	startTime := time.Now()
	logging.ProviderDebug("[Anthropic] Chat: model=%s messages=%d tools=%d", p.model, len(req.Messages), len(req.Tools))

	if p.apiKey == "" {
		return nil, fmt.Errorf("API key not configured")
	}

	p.throttle()
	reqBody := p.buildRequest(req, false)

	// Retry loop for rate limits and transient errors
	var lastErr error
	for i := 0; i <= p.maxRetries; i++ {
		if i > 0 {
			time.Sleep(time.Duration(1<<uint(i-1)) * time.Second)
		}

		jsonData, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}

		httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/messages", bytes.NewReader(jsonData))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		p.setHeaders(httpReq)

		resp, err := p.httpClient.Do(httpReq)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limit exceeded (429)")
			continue
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			lastErr = fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))
			continue
		}
		if resp.StatusCode != http.StatusOK {
			logging.ProviderError("[Anthropic] Chat: API returned status %d: %s", resp.StatusCode, string(body))
			return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
		}

		var wire anthropicResponse
		if err := json.Unmarshal(body, &wire); err != nil {
			return nil, fmt.Errorf("failed to parse response: %w", err)
		}
		if wire.Error != nil {
			return nil, fmt.Errorf("API error: %s", wire.Error.Message)
		}

		result := parseAnthropicResponse(&wire)
		elapsed := time.Since(startTime)
		logging.Provider("[Anthropic] Chat: completed in %v stop=%s tool_calls=%d tokens=%d/%d",
			elapsed, result.StopReason, len(result.ToolCalls), result.Usage.InputTokens, result.Usage.OutputTokens)
		logging.Audit().LLMCall(p.model, result.Usage.InputTokens, result.Usage.OutputTokens, elapsed.Milliseconds(), true, "")
		return result, nil
	}

	logging.ProviderError("[Anthropic] Chat: max retries exceeded after %v: %v", time.Since(startTime), lastErr)
	logging.Audit().LLMCall(p.model, 0, 0, time.Since(startTime).Milliseconds(), false, fmt.Sprint(lastErr))
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// StreamChat sends the conversation with streaming enabled, invoking onDelta
// for each text chunk. Retries apply only before the stream opens.
func (p *AnthropicProvider) StreamChat(ctx context.Context, req Request, onDelta func(string)) (*Response, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.httpClient.Timeout)
		defer cancel()
	}

	startTime := time.Now()
	logging.ProviderDebug("[Anthropic] StreamChat: model=%s messages=%d tools=%d", p.model, len(req.Messages), len(req.Tools))

	if p.apiKey == "" {
		return nil, fmt.Errorf("API key not configured")
	}

	p.throttle()
	reqBody := p.buildRequest(req, true)

	var lastErr error
	for i := 0; i <= p.maxRetries; i++ {
		if i > 0 {
			time.Sleep(time.Duration(1<<uint(i-1)) * time.Second)
		}

		jsonData, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}

		httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/messages", bytes.NewReader(jsonData))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		p.setHeaders(httpReq)
		httpReq.Header.Set("Accept", "text/event-stream")

		resp, err := p.httpClient.Do(httpReq)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			lastErr = fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
			continue
		}
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
		}

		result, err := p.consumeStream(ctx, resp.Body, onDelta)
		resp.Body.Close()
		elapsed := time.Since(startTime)
		if err != nil {
			logging.ProviderError("[Anthropic] StreamChat: stream error after %v: %v", elapsed, err)
			logging.Audit().LLMCall(p.model, 0, 0, elapsed.Milliseconds(), false, err.Error())
			return nil, err
		}
		logging.Provider("[Anthropic] StreamChat: completed in %v stop=%s tool_calls=%d tokens=%d/%d",
			elapsed, result.StopReason, len(result.ToolCalls), result.Usage.InputTokens, result.Usage.OutputTokens)
		logging.Audit().LLMCall(p.model, result.Usage.InputTokens, result.Usage.OutputTokens, elapsed.Milliseconds(), true, "")
		return result, nil
	}

	logging.ProviderError("[Anthropic] StreamChat: max retries exceeded after %v: %v", time.Since(startTime), lastErr)
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (p *AnthropicProvider) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")
}

// streamBlock accumulates one content block across SSE deltas.
type streamBlock struct {
	kind     string
	id       string
	name     string
	text     strings.Builder
	partial  strings.Builder // tool_use input JSON fragments
	thinking strings.Builder
}

// consumeStream reads SSE events until the stream ends and assembles the
// final Response. Text deltas are forwarded to onDelta as they arrive.
func (p *AnthropicProvider) consumeStream(ctx context.Context, body io.Reader, onDelta func(string)) (*Response, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	blocks := make(map[int]*streamBlock)
	result := &Response{}

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}

		var evt anthropicStreamEvent
		if err := json.Unmarshal([]byte(data), &evt); err != nil {
			continue
		}

		switch evt.Type {
		case "error":
			if evt.Error != nil {
				return nil, fmt.Errorf("API error: %s", evt.Error.Message)
			}
		case "message_start":
			if evt.Message != nil {
				result.Usage.InputTokens = evt.Message.Usage.InputTokens
			}
		case "content_block_start":
			if evt.ContentBlock != nil {
				blocks[evt.Index] = &streamBlock{
					kind: evt.ContentBlock.Type,
					id:   evt.ContentBlock.ID,
					name: evt.ContentBlock.Name,
				}
			}
		case "content_block_delta":
			block := blocks[evt.Index]
			if block == nil || evt.Delta == nil {
				continue
			}
			switch evt.Delta.Type {
			case "text_delta":
				block.text.WriteString(evt.Delta.Text)
				if onDelta != nil && evt.Delta.Text != "" {
					onDelta(evt.Delta.Text)
				}
			case "input_json_delta":
				block.partial.WriteString(evt.Delta.PartialJSON)
			case "thinking_delta":
				block.thinking.WriteString(evt.Delta.Thinking)
			}
		case "message_delta":
			if evt.Delta != nil && evt.Delta.StopReason != "" {
				result.StopReason = evt.Delta.StopReason
			}
			if evt.Usage != nil {
				result.Usage.OutputTokens = evt.Usage.OutputTokens
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("stream error: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Assemble blocks in index order.
	indexes := make([]int, 0, len(blocks))
	for idx := range blocks {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	var content, reasoning strings.Builder
	for _, idx := range indexes {
		block := blocks[idx]
		switch block.kind {
		case "text":
			content.WriteString(block.text.String())
		case "thinking":
			reasoning.WriteString(block.thinking.String())
		case "tool_use":
			input := map[string]any{}
			if raw := block.partial.String(); raw != "" {
				if err := json.Unmarshal([]byte(raw), &input); err != nil {
					logging.ProviderWarn("[Anthropic] StreamChat: tool input parse failed for %s: %v", block.name, err)
					input = map[string]any{}
				}
			}
			result.ToolCalls = append(result.ToolCalls, ToolCall{ID: block.id, Name: block.name, Input: input})
		}
	}
	result.Content = strings.TrimSpace(content.String())
	result.Reasoning = reasoning.String()
	return result, nil
}

// buildAnthropicMessages converts the conversation to wire form. Single
// text-block messages collapse to plain string content.
func buildAnthropicMessages(msgs []message.Message) []anthropicMessage {
	out := make([]anthropicMessage, 0, len(msgs))
	for _, m := range msgs {
		if len(m.Content) == 1 {
			if t, ok := m.Content[0].(message.TextBlock); ok {
				out = append(out, anthropicMessage{Role: string(m.Role), Content: t.Text})
				continue
			}
		}

		blocks := make([]anthropicContentBlock, 0, len(m.Content))
		for _, b := range m.Content {
			switch blk := b.(type) {
			case message.TextBlock:
				blocks = append(blocks, anthropicContentBlock{Type: "text", Text: blk.Text})
			case message.ToolUseBlock:
				input := blk.Input
				if input == nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropicContentBlock{Type: "tool_use", ID: blk.ID, Name: blk.Name, Input: input})
			case message.ToolResultBlock:
				blocks = append(blocks, anthropicContentBlock{Type: "tool_result", ToolUseID: blk.ToolUseID, Content: blk.Content, IsError: blk.IsError})
			case message.ImageBlock:
				blocks = append(blocks, anthropicContentBlock{Type: "image", Source: &anthropicImageSource{
					Type: "base64", MediaType: blk.MediaType, Data: blk.Data,
				}})
			}
		}
		out = append(out, anthropicMessage{Role: string(m.Role), Content: blocks})
	}
	return out
}

func buildAnthropicTools(defs []tools.Definition) []anthropicTool {
	if len(defs) == 0 {
		return nil
	}
	out := make([]anthropicTool, len(defs))
	for i, d := range defs {
		out[i] = anthropicTool{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.InputSchema,
		}
	}
	return out
}

func parseAnthropicResponse(wire *anthropicResponse) *Response {
	result := &Response{
		StopReason: wire.StopReason,
		Usage: Usage{
			InputTokens:  wire.Usage.InputTokens,
			OutputTokens: wire.Usage.OutputTokens,
		},
	}

	var text, reasoning strings.Builder
	for _, block := range wire.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "thinking":
			reasoning.WriteString(block.Thinking)
		case "tool_use":
			input, _ := block.Input.(map[string]any)
			if input == nil {
				input = map[string]any{}
			}
			result.ToolCalls = append(result.ToolCalls, ToolCall{ID: block.ID, Name: block.Name, Input: input})
		}
	}
	result.Content = strings.TrimSpace(text.String())
	result.Reasoning = reasoning.String()
	return result
}

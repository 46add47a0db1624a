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

// OpenAIProvider implements Provider for the chat/completions API. It serves
// api.openai.com and any OpenAI-compatible endpoint (Ollama, vLLM, ...).
type OpenAIProvider struct {
	name          string
	apiKey        string
	baseURL       string
	model         string
	maxRetries    int
	supportsTools bool
	httpClient    *http.Client
	mu            sync.Mutex
	lastRequest   time.Time
}

// OpenAIConfig holds configuration for the OpenAI provider.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// DefaultOpenAIConfig returns sensible defaults.
func DefaultOpenAIConfig(apiKey string) OpenAIConfig {
	return OpenAIConfig{
		APIKey:     apiKey,
		BaseURL:    "https://api.openai.com/v1",
		Model:      "gpt-4o",
		Timeout:    defaultTimeout,
		MaxRetries: defaultRetries,
	}
}

// NewOpenAIProvider creates an OpenAI provider with defaults.
func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	return NewOpenAIProviderWithConfig(DefaultOpenAIConfig(apiKey))
}

// NewOpenAIProviderWithConfig creates an OpenAI provider with custom config.
// Zero fields fall back to defaults.
func NewOpenAIProviderWithConfig(config OpenAIConfig) *OpenAIProvider {
	def := DefaultOpenAIConfig(config.APIKey)
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
	return &OpenAIProvider{
		name:          "openai",
		apiKey:        config.APIKey,
		baseURL:       strings.TrimSuffix(config.BaseURL, "/"),
		model:         config.Model,
		maxRetries:    config.MaxRetries,
		supportsTools: true,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// NewOllamaProvider targets a local OpenAI-compatible endpoint. No API key
// is required, and tool use goes through the extracted-call path rather
// than native function calling.
func NewOllamaProvider(baseURL, model string) *OpenAIProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434/v1"
	}
	if model == "" {
		model = "llama3.2"
	}
	return &OpenAIProvider{
		name:          "ollama",
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		model:         model,
		maxRetries:    defaultRetries,
		supportsTools: false,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// Name returns the backend name.
func (p *OpenAIProvider) Name() string { return p.name }

// Model returns the model in use.
func (p *OpenAIProvider) Model() string { return p.model }

// SupportsToolUse reports native function-calling support.
func (p *OpenAIProvider) SupportsToolUse() bool { return p.supportsTools }

func (p *OpenAIProvider) throttle() {
	p.mu.Lock()
	elapsed := time.Since(p.lastRequest)
	if elapsed < minRequestGap {
		time.Sleep(minRequestGap - elapsed)
	}
	p.lastRequest = time.Now()
	p.mu.Unlock()
}

func (p *OpenAIProvider) buildRequest(req Request, stream bool) openaiRequest {
	out := openaiRequest{
		Model:       p.model,
		Messages:    buildOpenAIMessages(req.System, req.Messages),
		MaxTokens:   req.maxTokens(),
		Temperature: requestTemperature,
		Stream:      stream,
	}
	if p.supportsTools && len(req.Tools) > 0 {
		out.Tools = buildOpenAITools(req.Tools)
		out.ToolChoice = "auto"
	}
	if stream {
		out.StreamOptions = &openaiStreamOptions{IncludeUsage: true}
	}
	return out
}

// Chat sends the conversation and returns the complete reply.
func (p *OpenAIProvider) Chat(ctx context.Context, req Request) (*Response, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.httpClient.Timeout)
		defer cancel()
	}

	startTime := time.Now()
	logging.ProviderDebug("[%s] Chat: model=%s messages=%d tools=%d", p.name, p.model, len(req.Messages), len(req.Tools))

	p.throttle()
	reqBody := p.buildRequest(req, false)

	var lastErr error
	for i := 0; i <= p.maxRetries; i++ {
		if i > 0 {
			time.Sleep(time.Duration(1<<uint(i-1)) * time.Second)
		}

		jsonData, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}

		httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/chat/completions", bytes.NewReader(jsonData))
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
			logging.ProviderError("[%s] Chat: API returned status %d: %s", p.name, resp.StatusCode, string(body))
			return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
		}

		var wire openaiResponse
		if err := json.Unmarshal(body, &wire); err != nil {
			return nil, fmt.Errorf("failed to parse response: %w", err)
		}
		if wire.Error != nil {
			return nil, fmt.Errorf("API error: %s", wire.Error.Message)
		}
		if len(wire.Choices) == 0 {
			return nil, fmt.Errorf("no completion returned")
		}

		result := parseOpenAIResponse(&wire)
		elapsed := time.Since(startTime)
		logging.Provider("[%s] Chat: completed in %v stop=%s tool_calls=%d tokens=%d/%d",
			p.name, elapsed, result.StopReason, len(result.ToolCalls), result.Usage.InputTokens, result.Usage.OutputTokens)
		logging.Audit().LLMCall(p.model, result.Usage.InputTokens, result.Usage.OutputTokens, elapsed.Milliseconds(), true, "")
		return result, nil
	}

	logging.ProviderError("[%s] Chat: max retries exceeded after %v: %v", p.name, time.Since(startTime), lastErr)
	logging.Audit().LLMCall(p.model, 0, 0, time.Since(startTime).Milliseconds(), false, fmt.Sprint(lastErr))
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// StreamChat sends the conversation with streaming enabled. Retries apply
// only before the stream opens.
func (p *OpenAIProvider) StreamChat(ctx context.Context, req Request, onDelta func(string)) (*Response, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.httpClient.Timeout)
		defer cancel()
	}

	startTime := time.Now()
	logging.ProviderDebug("[%s] StreamChat: model=%s messages=%d tools=%d", p.name, p.model, len(req.Messages), len(req.Tools))

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

		httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/chat/completions", bytes.NewReader(jsonData))
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
			logging.ProviderError("[%s] StreamChat: stream error after %v: %v", p.name, elapsed, err)
			logging.Audit().LLMCall(p.model, 0, 0, elapsed.Milliseconds(), false, err.Error())
			return nil, err
		}
		logging.Provider("[%s] StreamChat: completed in %v stop=%s tool_calls=%d tokens=%d/%d",
			p.name, elapsed, result.StopReason, len(result.ToolCalls), result.Usage.InputTokens, result.Usage.OutputTokens)
		logging.Audit().LLMCall(p.model, result.Usage.InputTokens, result.Usage.OutputTokens, elapsed.Milliseconds(), true, "")
		return result, nil
	}

	logging.ProviderError("[%s] StreamChat: max retries exceeded after %v: %v", p.name, time.Since(startTime), lastErr)
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (p *OpenAIProvider) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
}

// streamToolCall accumulates one function call across delta fragments.
type streamToolCall struct {
	id   string
	name string
	args strings.Builder
}

func (p *OpenAIProvider) consumeStream(ctx context.Context, body io.Reader, onDelta func(string)) (*Response, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	result := &Response{}
	calls := make(map[int]*streamToolCall)
	var content, reasoning strings.Builder
	finishReason := ""

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			break
		}

		var chunk openaiResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.Error != nil {
			return nil, fmt.Errorf("API error: %s", chunk.Error.Message)
		}
		if chunk.Usage.TotalTokens > 0 {
			result.Usage.InputTokens = chunk.Usage.PromptTokens
			result.Usage.OutputTokens = chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		if choice.FinishReason != "" {
			finishReason = choice.FinishReason
		}
		if choice.Delta == nil {
			continue
		}
		if choice.Delta.Content != "" {
			content.WriteString(choice.Delta.Content)
			if onDelta != nil {
				onDelta(choice.Delta.Content)
			}
		}
		if choice.Delta.ReasoningContent != "" {
			reasoning.WriteString(choice.Delta.ReasoningContent)
		}
		for _, tc := range choice.Delta.ToolCalls {
			call := calls[tc.Index]
			if call == nil {
				call = &streamToolCall{}
				calls[tc.Index] = call
			}
			if tc.ID != "" {
				call.id = tc.ID
			}
			if tc.Function.Name != "" {
				call.name = tc.Function.Name
			}
			call.args.WriteString(tc.Function.Arguments)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("stream error: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	indexes := make([]int, 0, len(calls))
	for idx := range calls {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	for _, idx := range indexes {
		call := calls[idx]
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:    call.id,
			Name:  call.name,
			Input: parseFunctionArguments(call.name, call.args.String()),
		})
	}

	result.Content = strings.TrimSpace(content.String())
	result.Reasoning = reasoning.String()
	result.StopReason = normalizeOpenAIStop(finishReason, len(result.ToolCalls) > 0)
	return result, nil
}

// buildOpenAIMessages converts the conversation to chat/completions form.
// The system prompt becomes the leading system message. Tool results become
// role "tool" messages, one per result.
func buildOpenAIMessages(system string, msgs []message.Message) []openaiMessage {
	out := make([]openaiMessage, 0, len(msgs)+1)
	if system != "" {
		out = append(out, openaiMessage{Role: "system", Content: system})
	}

	for _, m := range msgs {
		switch m.Role {
		case message.RoleAssistant:
			msg := openaiMessage{Role: "assistant", Content: m.Text()}
			for _, use := range m.ToolUses() {
				args, err := json.Marshal(use.Input)
				if err != nil {
					args = []byte("{}")
				}
				msg.ToolCalls = append(msg.ToolCalls, openaiToolCall{
					ID:   use.ID,
					Type: "function",
					Function: openaiFunctionCall{
						Name:      use.Name,
						Arguments: string(args),
					},
				})
			}
			out = append(out, msg)

		case message.RoleUser:
			// Tool results first, each as its own tool message.
			for _, res := range m.ToolResults() {
				out = append(out, openaiMessage{
					Role:       "tool",
					ToolCallID: res.ToolUseID,
					Content:    res.Content,
				})
			}

			var parts []openaiContentPart
			hasImage := false
			for _, b := range m.Content {
				switch blk := b.(type) {
				case message.TextBlock:
					parts = append(parts, openaiContentPart{Type: "text", Text: blk.Text})
				case message.ImageBlock:
					hasImage = true
					parts = append(parts, openaiContentPart{Type: "image_url", ImageURL: &openaiImageURL{
						URL: fmt.Sprintf("data:%s;base64,%s", blk.MediaType, blk.Data),
					}})
				}
			}
			if len(parts) == 0 {
				continue
			}
			if hasImage {
				out = append(out, openaiMessage{Role: "user", Content: parts})
			} else {
				out = append(out, openaiMessage{Role: "user", Content: m.Text()})
			}
		}
	}
	return out
}

func buildOpenAITools(defs []tools.Definition) []openaiTool {
	out := make([]openaiTool, len(defs))
	for i, d := range defs {
		out[i] = openaiTool{
			Type: "function",
			Function: openaiFunctionDef{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.InputSchema,
			},
		}
	}
	return out
}

func parseOpenAIResponse(wire *openaiResponse) *Response {
	choice := wire.Choices[0]
	result := &Response{
		Content:   strings.TrimSpace(choice.Message.Content),
		Reasoning: choice.Message.ReasoningContent,
		Usage: Usage{
			InputTokens:  wire.Usage.PromptTokens,
			OutputTokens: wire.Usage.CompletionTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: parseFunctionArguments(tc.Function.Name, tc.Function.Arguments),
		})
	}
	result.StopReason = normalizeOpenAIStop(choice.FinishReason, len(result.ToolCalls) > 0)
	return result
}

// parseFunctionArguments decodes a JSON-encoded arguments string. Malformed
// input degrades to an empty map so the tool layer can report the miss.
func parseFunctionArguments(name, raw string) map[string]any {
	input := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return input
	}
	if err := json.Unmarshal([]byte(raw), &input); err != nil {
		logging.ProviderWarn("[openai] tool arguments parse failed for %s: %v", name, err)
		return map[string]any{}
	}
	return input
}

func normalizeOpenAIStop(reason string, hasToolCalls bool) string {
	switch reason {
	case "tool_calls", "function_call":
		return StopToolUse
	case "stop":
		if hasToolCalls {
			return StopToolUse
		}
		return StopEndTurn
	case "length":
		return StopMaxTokens
	case "":
		if hasToolCalls {
			return StopToolUse
		}
		return StopEndTurn
	}
	return reason
}

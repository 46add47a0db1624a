package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"codewright/internal/logging"
	"codewright/internal/message"
	"codewright/internal/tools"
)

// GeminiProvider implements Provider on the Google GenAI SDK.
type GeminiProvider struct {
	client    *genai.Client
	model     string
	maxTokens int
}

// GeminiConfig holds configuration for the Gemini provider.
type GeminiConfig struct {
	APIKey          string
	Model           string
	MaxOutputTokens int
}

// DefaultGeminiConfig returns sensible defaults.
func DefaultGeminiConfig(apiKey string) GeminiConfig {
	return GeminiConfig{
		APIKey:          apiKey,
		Model:           "gemini-3-flash-preview",
		MaxOutputTokens: 65536,
	}
}

// NewGeminiProvider creates a Gemini provider with defaults.
func NewGeminiProvider(apiKey string) (*GeminiProvider, error) {
	return NewGeminiProviderWithConfig(DefaultGeminiConfig(apiKey))
}

// NewGeminiProviderWithConfig creates a Gemini provider with custom config.
func NewGeminiProviderWithConfig(config GeminiConfig) (*GeminiProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("API key not configured")
	}
	def := DefaultGeminiConfig(config.APIKey)
	if config.Model == "" {
		config.Model = def.Model
	}
	if config.MaxOutputTokens == 0 {
		config.MaxOutputTokens = def.MaxOutputTokens
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: config.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GeminiProvider{
		client:    client,
		model:     config.Model,
		maxTokens: config.MaxOutputTokens,
	}, nil
}

// Name returns the backend name.
func (p *GeminiProvider) Name() string { return "gemini" }

// Model returns the model in use.
func (p *GeminiProvider) Model() string { return p.model }

// SupportsToolUse reports native function-calling support.
func (p *GeminiProvider) SupportsToolUse() bool { return true }

// Close releases the underlying SDK client. The genai SDK client holds no
// resources that require explicit release.
func (p *GeminiProvider) Close() error {
	return nil
}

func (p *GeminiProvider) buildConfig(req Request) *genai.GenerateContentConfig {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.maxTokens
	}
	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(maxTokens),
		Temperature:     genai.Ptr[float32](requestTemperature),
	}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}
	if len(req.Tools) > 0 {
		config.Tools = []*genai.Tool{{FunctionDeclarations: buildGeminiDeclarations(req.Tools)}}
	}
	return config
}

// Chat sends the conversation and returns the complete reply.
func (p *GeminiProvider) Chat(ctx context.Context, req Request) (*Response, error) {
	startTime := time.Now()
	logging.ProviderDebug("[Gemini] Chat: model=%s messages=%d tools=%d", p.model, len(req.Messages), len(req.Tools))

	resp, err := p.client.Models.GenerateContent(ctx, p.model, buildGeminiContents(req.Messages), p.buildConfig(req))
	if err != nil {
		elapsed := time.Since(startTime)
		logging.ProviderError("[Gemini] Chat: generate failed after %v: %v", elapsed, err)
		logging.Audit().LLMCall(p.model, 0, 0, elapsed.Milliseconds(), false, err.Error())
		return nil, fmt.Errorf("Gemini generate failed: %w", err)
	}

	result := parseGeminiResponse(resp)
	elapsed := time.Since(startTime)
	logging.Provider("[Gemini] Chat: completed in %v stop=%s tool_calls=%d tokens=%d/%d",
		elapsed, result.StopReason, len(result.ToolCalls), result.Usage.InputTokens, result.Usage.OutputTokens)
	logging.Audit().LLMCall(p.model, result.Usage.InputTokens, result.Usage.OutputTokens, elapsed.Milliseconds(), true, "")
	return result, nil
}

// StreamChat sends the conversation with streaming enabled, invoking onDelta
// for each text chunk.
func (p *GeminiProvider) StreamChat(ctx context.Context, req Request, onDelta func(string)) (*Response, error) {
	startTime := time.Now()
	logging.ProviderDebug("[Gemini] StreamChat: model=%s messages=%d tools=%d", p.model, len(req.Messages), len(req.Tools))

	result := &Response{}
	var content, reasoning strings.Builder
	finish := ""

	for resp, err := range p.client.Models.GenerateContentStream(ctx, p.model, buildGeminiContents(req.Messages), p.buildConfig(req)) {
		if err != nil {
			elapsed := time.Since(startTime)
			logging.ProviderError("[Gemini] StreamChat: stream failed after %v: %v", elapsed, err)
			logging.Audit().LLMCall(p.model, 0, 0, elapsed.Milliseconds(), false, err.Error())
			return nil, fmt.Errorf("Gemini stream failed: %w", err)
		}
		if resp.UsageMetadata != nil {
			result.Usage.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
			result.Usage.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		}
		if len(resp.Candidates) == 0 {
			continue
		}
		cand := resp.Candidates[0]
		if cand.FinishReason != "" {
			finish = string(cand.FinishReason)
		}
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part.Text != "" {
				if part.Thought {
					reasoning.WriteString(part.Text)
				} else {
					content.WriteString(part.Text)
					if onDelta != nil {
						onDelta(part.Text)
					}
				}
			}
			if part.FunctionCall != nil {
				result.ToolCalls = append(result.ToolCalls, toolCallFromGemini(part.FunctionCall))
			}
		}
	}

	result.Content = strings.TrimSpace(content.String())
	result.Reasoning = reasoning.String()
	result.StopReason = normalizeGeminiStop(finish, len(result.ToolCalls) > 0)

	elapsed := time.Since(startTime)
	logging.Provider("[Gemini] StreamChat: completed in %v stop=%s tool_calls=%d tokens=%d/%d",
		elapsed, result.StopReason, len(result.ToolCalls), result.Usage.InputTokens, result.Usage.OutputTokens)
	logging.Audit().LLMCall(p.model, result.Usage.InputTokens, result.Usage.OutputTokens, elapsed.Milliseconds(), true, "")
	return result, nil
}

// buildGeminiContents converts the conversation to SDK contents. Roles map
// user -> "user", assistant -> "model".
func buildGeminiContents(msgs []message.Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		role := "user"
		if m.Role == message.RoleAssistant {
			role = "model"
		}

		var parts []*genai.Part
		for _, b := range m.Content {
			switch blk := b.(type) {
			case message.TextBlock:
				if blk.Text != "" {
					parts = append(parts, &genai.Part{Text: blk.Text})
				}
			case message.ToolUseBlock:
				args := blk.Input
				if args == nil {
					args = map[string]any{}
				}
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   blk.ID,
					Name: blk.Name,
					Args: args,
				}})
			case message.ToolResultBlock:
				response := map[string]any{"result": blk.Content}
				if blk.IsError {
					response = map[string]any{"error": blk.Content}
				}
				parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
					ID:       blk.ToolUseID,
					Name:     blk.Name,
					Response: response,
				}})
			case message.ImageBlock:
				data, err := base64.StdEncoding.DecodeString(blk.Data)
				if err != nil {
					logging.ProviderWarn("[Gemini] skipping undecodable image block: %v", err)
					continue
				}
				parts = append(parts, &genai.Part{InlineData: &genai.Blob{
					MIMEType: blk.MediaType,
					Data:     data,
				}})
			}
		}
		if len(parts) == 0 {
			continue
		}
		out = append(out, &genai.Content{Role: role, Parts: parts})
	}
	return out
}

func buildGeminiDeclarations(defs []tools.Definition) []*genai.FunctionDeclaration {
	out := make([]*genai.FunctionDeclaration, len(defs))
	for i, d := range defs {
		out[i] = &genai.FunctionDeclaration{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  toGeminiSchema(d.InputSchema),
		}
	}
	return out
}

func toGeminiSchema(schema tools.ToolSchema) *genai.Schema {
	out := &genai.Schema{
		Type:       genai.TypeObject,
		Properties: map[string]*genai.Schema{},
		Required:   schema.Required,
	}
	for name, prop := range schema.Properties {
		s := &genai.Schema{
			Type:        geminiType(prop.Type),
			Description: prop.Description,
		}
		for _, e := range prop.Enum {
			s.Enum = append(s.Enum, fmt.Sprint(e))
		}
		if prop.Items != nil {
			s.Items = &genai.Schema{Type: geminiType(prop.Items.Type)}
		}
		out.Properties[name] = s
	}
	return out
}

func geminiType(t string) genai.Type {
	switch t {
	case "string":
		return genai.TypeString
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	}
	return genai.TypeString
}

func parseGeminiResponse(resp *genai.GenerateContentResponse) *Response {
	result := &Response{}
	if resp.UsageMetadata != nil {
		result.Usage.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		result.Usage.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	if len(resp.Candidates) == 0 {
		result.StopReason = StopEndTurn
		return result
	}

	cand := resp.Candidates[0]
	var content, reasoning strings.Builder
	if cand.Content != nil {
		for _, part := range cand.Content.Parts {
			if part.Text != "" {
				if part.Thought {
					reasoning.WriteString(part.Text)
				} else {
					content.WriteString(part.Text)
				}
			}
			if part.FunctionCall != nil {
				result.ToolCalls = append(result.ToolCalls, toolCallFromGemini(part.FunctionCall))
			}
		}
	}
	result.Content = strings.TrimSpace(content.String())
	result.Reasoning = reasoning.String()
	result.StopReason = normalizeGeminiStop(string(cand.FinishReason), len(result.ToolCalls) > 0)
	return result
}

// toolCallFromGemini converts a function call, synthesizing an id when the
// backend omits one so tool results can still be paired.
func toolCallFromGemini(fc *genai.FunctionCall) ToolCall {
	id := fc.ID
	if id == "" {
		id = "call_" + uuid.NewString()[:8]
	}
	args := fc.Args
	if args == nil {
		args = map[string]any{}
	}
	return ToolCall{ID: id, Name: fc.Name, Input: args}
}

func normalizeGeminiStop(reason string, hasToolCalls bool) string {
	switch reason {
	case "STOP", "":
		if hasToolCalls {
			return StopToolUse
		}
		return StopEndTurn
	case "MAX_TOKENS":
		return StopMaxTokens
	}
	return reason
}

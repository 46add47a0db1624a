package provider

import (
	"bytes"
	"strings"
	"testing"

	"google.golang.org/genai"

	"codewright/internal/message"
	"codewright/internal/tools"
)

func TestNewGeminiProviderWithConfig_NoAPIKey(t *testing.T) {
	_, err := NewGeminiProviderWithConfig(GeminiConfig{})
	if err == nil || !strings.Contains(err.Error(), "API key not configured") {
		t.Errorf("Expected missing-key error, got: %v", err)
	}
}

func TestBuildGeminiContents_Roles(t *testing.T) {
	msgs := []message.Message{
		message.NewUserText("hello"),
		message.NewText(message.RoleAssistant, "hi there"),
	}

	contents := buildGeminiContents(msgs)
	if len(contents) != 2 {
		t.Fatalf("Expected 2 contents, got %d", len(contents))
	}
	if contents[0].Role != "user" {
		t.Errorf("Expected user role, got %q", contents[0].Role)
	}
	if contents[1].Role != "model" {
		t.Errorf("Expected model role, got %q", contents[1].Role)
	}
	if len(contents[0].Parts) != 1 || contents[0].Parts[0].Text != "hello" {
		t.Errorf("Unexpected parts: %+v", contents[0].Parts)
	}
}

func TestBuildGeminiContents_ToolRoundTrip(t *testing.T) {
	msgs := []message.Message{
		{Role: message.RoleAssistant, Content: []message.ContentBlock{
			message.ToolUseBlock{ID: "t1", Name: "bash", Input: map[string]any{"command": "ls"}},
		}},
		{Role: message.RoleUser, Content: []message.ContentBlock{
			message.ToolResultBlock{ToolUseID: "t1", Name: "bash", Content: "a.txt"},
		}},
		{Role: message.RoleUser, Content: []message.ContentBlock{
			message.ToolResultBlock{ToolUseID: "t2", Name: "bash", Content: "boom", IsError: true},
		}},
	}

	contents := buildGeminiContents(msgs)
	if len(contents) != 3 {
		t.Fatalf("Expected 3 contents, got %d", len(contents))
	}

	call := contents[0].Parts[0].FunctionCall
	if call == nil || call.Name != "bash" || call.ID != "t1" {
		t.Fatalf("Expected function call part, got %+v", contents[0].Parts[0])
	}
	if call.Args["command"] != "ls" {
		t.Errorf("Unexpected args: %v", call.Args)
	}

	res := contents[1].Parts[0].FunctionResponse
	if res == nil || res.ID != "t1" || res.Name != "bash" {
		t.Fatalf("Expected function response part, got %+v", contents[1].Parts[0])
	}
	if res.Response["result"] != "a.txt" {
		t.Errorf("Expected result field, got %v", res.Response)
	}

	errRes := contents[2].Parts[0].FunctionResponse
	if errRes.Response["error"] != "boom" {
		t.Errorf("Expected error field for failed result, got %v", errRes.Response)
	}
}

func TestBuildGeminiContents_SkipsEmptyMessages(t *testing.T) {
	msgs := []message.Message{
		{Role: message.RoleUser, Content: []message.ContentBlock{message.TextBlock{Text: ""}}},
		message.NewUserText("real"),
	}

	contents := buildGeminiContents(msgs)
	if len(contents) != 1 {
		t.Fatalf("Expected empty message dropped, got %d contents", len(contents))
	}
	if contents[0].Parts[0].Text != "real" {
		t.Errorf("Unexpected surviving content: %+v", contents[0])
	}
}

func TestBuildGeminiContents_Image(t *testing.T) {
	msgs := []message.Message{
		{Role: message.RoleUser, Content: []message.ContentBlock{
			message.ImageBlock{MediaType: "image/png", Data: "aWJ5dGVz"},
			message.ImageBlock{MediaType: "image/png", Data: "not-base64!!!"},
		}},
	}

	contents := buildGeminiContents(msgs)
	if len(contents) != 1 {
		t.Fatalf("Expected 1 content, got %d", len(contents))
	}
	// The undecodable block is dropped, the valid one survives.
	if len(contents[0].Parts) != 1 {
		t.Fatalf("Expected 1 part, got %d", len(contents[0].Parts))
	}
	blob := contents[0].Parts[0].InlineData
	if blob == nil || blob.MIMEType != "image/png" {
		t.Fatalf("Expected inline data part, got %+v", contents[0].Parts[0])
	}
	if !bytes.Equal(blob.Data, []byte("ibytes")) {
		t.Errorf("Unexpected decoded bytes: %q", blob.Data)
	}
}

func TestToGeminiSchema(t *testing.T) {
	schema := tools.ToolSchema{
		Type:     "object",
		Required: []string{"command"},
		Properties: map[string]tools.Property{
			"command": {Type: "string", Description: "What to run"},
			"timeout": {Type: "integer"},
			"mode":    {Type: "string", Enum: []any{"fast", "safe"}},
			"paths":   {Type: "array", Items: &tools.PropertyItems{Type: "string"}},
		},
	}

	out := toGeminiSchema(schema)
	if out.Type != genai.TypeObject {
		t.Errorf("Expected object type, got %v", out.Type)
	}
	if len(out.Required) != 1 || out.Required[0] != "command" {
		t.Errorf("Unexpected required: %v", out.Required)
	}
	if out.Properties["command"].Type != genai.TypeString {
		t.Errorf("Expected string type for command")
	}
	if out.Properties["command"].Description != "What to run" {
		t.Errorf("Description not carried over")
	}
	if out.Properties["timeout"].Type != genai.TypeInteger {
		t.Errorf("Expected integer type for timeout")
	}
	if got := out.Properties["mode"].Enum; len(got) != 2 || got[0] != "fast" || got[1] != "safe" {
		t.Errorf("Unexpected enum: %v", got)
	}
	items := out.Properties["paths"].Items
	if items == nil || items.Type != genai.TypeString {
		t.Errorf("Expected string items for paths, got %+v", items)
	}
}

func TestGeminiType_Fallback(t *testing.T) {
	if got := geminiType("unknown"); got != genai.TypeString {
		t.Errorf("Expected string fallback, got %v", got)
	}
	if got := geminiType("boolean"); got != genai.TypeBoolean {
		t.Errorf("Expected boolean, got %v", got)
	}
}

func TestParseGeminiResponse(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{
				Role: "model",
				Parts: []*genai.Part{
					{Text: "planning", Thought: true},
					{Text: "Listing files."},
					{FunctionCall: &genai.FunctionCall{ID: "g1", Name: "bash", Args: map[string]any{"command": "ls"}}},
				},
			},
			FinishReason: genai.FinishReason("STOP"),
		}},
	}

	result := parseGeminiResponse(resp)
	if result.Content != "Listing files." {
		t.Errorf("Unexpected content: %q", result.Content)
	}
	if result.Reasoning != "planning" {
		t.Errorf("Expected thought captured as reasoning, got %q", result.Reasoning)
	}
	if len(result.ToolCalls) != 1 || result.ToolCalls[0].Name != "bash" {
		t.Fatalf("Unexpected tool calls: %+v", result.ToolCalls)
	}
	if result.StopReason != StopToolUse {
		t.Errorf("Expected tool_use for STOP with calls, got %q", result.StopReason)
	}
}

func TestParseGeminiResponse_NoCandidates(t *testing.T) {
	result := parseGeminiResponse(&genai.GenerateContentResponse{})
	if result.StopReason != StopEndTurn {
		t.Errorf("Expected end_turn for empty response, got %q", result.StopReason)
	}
	if result.Content != "" || len(result.ToolCalls) != 0 {
		t.Errorf("Expected empty result, got %+v", result)
	}
}

func TestToolCallFromGemini_SynthesizesID(t *testing.T) {
	call := toolCallFromGemini(&genai.FunctionCall{Name: "bash"})
	if !strings.HasPrefix(call.ID, "call_") || len(call.ID) != len("call_")+8 {
		t.Errorf("Expected synthesized id, got %q", call.ID)
	}
	if call.Input == nil || len(call.Input) != 0 {
		t.Errorf("Expected empty input map, got %v", call.Input)
	}

	keep := toolCallFromGemini(&genai.FunctionCall{ID: "g9", Name: "bash"})
	if keep.ID != "g9" {
		t.Errorf("Expected backend id preserved, got %q", keep.ID)
	}
}

func TestNormalizeGeminiStop(t *testing.T) {
	cases := []struct {
		reason       string
		hasToolCalls bool
		want         string
	}{
		{"STOP", false, StopEndTurn},
		{"STOP", true, StopToolUse},
		{"", false, StopEndTurn},
		{"MAX_TOKENS", false, StopMaxTokens},
		{"SAFETY", false, "SAFETY"},
	}
	for _, tc := range cases {
		if got := normalizeGeminiStop(tc.reason, tc.hasToolCalls); got != tc.want {
			t.Errorf("normalizeGeminiStop(%q, %v) = %q, want %q", tc.reason, tc.hasToolCalls, got, tc.want)
		}
	}
}

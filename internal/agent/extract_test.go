package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractToolCalls_FencedJSON(t *testing.T) {
	text := "I'll list the directory first.\n```json\n{\"tool\": \"bash\", \"input\": {\"command\": \"ls -la\"}}\n```\nThen we can decide."

	calls := ExtractToolCalls(text)
	require.Len(t, calls, 1)
	assert.Equal(t, "bash", calls[0].Name)
	assert.Equal(t, "ls -la", calls[0].Input["command"])
	assert.True(t, strings.HasPrefix(calls[0].ID, "call_"))
}

func TestExtractToolCalls_BareObject(t *testing.T) {
	text := `Run {"tool": "echo", "input": {"text": "hi"}} and report back.`

	calls := ExtractToolCalls(text)
	require.Len(t, calls, 1)
	assert.Equal(t, "echo", calls[0].Name)
	assert.Equal(t, "hi", calls[0].Input["text"])
}

func TestExtractToolCalls_AcceptedShapes(t *testing.T) {
	cases := []struct {
		name string
		text string
	}{
		{"tool_name key", `{"tool_name": "grep", "input": {"pattern": "TODO"}}`},
		{"arguments key", `{"tool": "grep", "arguments": {"pattern": "TODO"}}`},
		{"parameters key", `{"tool": "grep", "parameters": {"pattern": "TODO"}}`},
		{"args key", `{"tool": "grep", "args": {"pattern": "TODO"}}`},
		{"name with input", `{"name": "grep", "input": {"pattern": "TODO"}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			calls := ExtractToolCalls(tc.text)
			require.Len(t, calls, 1)
			assert.Equal(t, "grep", calls[0].Name)
			assert.Equal(t, "TODO", calls[0].Input["pattern"])
		})
	}
}

func TestExtractToolCalls_ToolWithoutInput(t *testing.T) {
	calls := ExtractToolCalls(`{"tool": "list_dir"}`)
	require.Len(t, calls, 1)
	assert.Equal(t, "list_dir", calls[0].Name)
	assert.NotNil(t, calls[0].Input)
	assert.Empty(t, calls[0].Input)
}

func TestExtractToolCalls_DataObjectsRejected(t *testing.T) {
	// A bare "name" key without arguments is ordinary data, not a call.
	assert.Nil(t, ExtractToolCalls(`The record is {"name": "Alice", "age": 30}.`))
	assert.Nil(t, ExtractToolCalls(`{"id": 7, "status": "open"}`))
}

func TestExtractToolCalls_MultipleInOrder(t *testing.T) {
	text := "First:\n```json\n{\"tool\": \"read_file\", \"input\": {\"file_path\": \"a.txt\"}}\n```\nThen:\n```json\n{\"tool\": \"read_file\", \"input\": {\"file_path\": \"b.txt\"}}\n```"

	calls := ExtractToolCalls(text)
	require.Len(t, calls, 2)
	assert.Equal(t, "a.txt", calls[0].Input["file_path"])
	assert.Equal(t, "b.txt", calls[1].Input["file_path"])
	assert.NotEqual(t, calls[0].ID, calls[1].ID)
}

func TestExtractToolCalls_InvalidJSONSkipped(t *testing.T) {
	assert.Nil(t, ExtractToolCalls("```json\nnot json at all\n```"))
	assert.Nil(t, ExtractToolCalls(`{"tool": "bash", broken`))
}

func TestExtractToolCalls_PlainText(t *testing.T) {
	assert.Nil(t, ExtractToolCalls("The build finished cleanly; nothing else to do."))
	assert.Nil(t, ExtractToolCalls(""))
}

func TestExtractToolCalls_BracesInsideStrings(t *testing.T) {
	calls := ExtractToolCalls(`{"tool": "bash", "input": {"command": "echo '{}' | jq ."}}`)
	require.Len(t, calls, 1)
	assert.Equal(t, "echo '{}' | jq .", calls[0].Input["command"])
}

func TestExtractToolCalls_CodeFenceNotJSON(t *testing.T) {
	text := "Here's the function:\n```go\nfunc main() {\n\tfmt.Println(\"hi\")\n}\n```"
	assert.Nil(t, ExtractToolCalls(text))
}

func TestExtractToolCalls_FencedNotRescanned(t *testing.T) {
	// One call inside a fence and one outside; the fenced object must not
	// be counted twice.
	text := "```json\n{\"tool\": \"echo\", \"input\": {\"text\": \"one\"}}\n```\nAlso run {\"tool\": \"echo\", \"input\": {\"text\": \"two\"}} please."

	calls := ExtractToolCalls(text)
	require.Len(t, calls, 2)
	assert.Equal(t, "one", calls[0].Input["text"])
	assert.Equal(t, "two", calls[1].Input["text"])
}

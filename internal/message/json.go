package message

import (
	"encoding/json"
	"fmt"
)

// wireBlock is the flat type-tagged encoding shared by all block variants.
// It mirrors the Anthropic-style content block shape without promising
// byte-exact vendor compatibility; the session store and provider adapters
// both round-trip through it.
type wireBlock struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   string         `json:"content,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`
	MediaType string         `json:"media_type,omitempty"`
	Data      string         `json:"data,omitempty"`
}

type wireMessage struct {
	Role    Role        `json:"role"`
	Content []wireBlock `json:"content"`
}

// MarshalJSON encodes the message as a role plus type-tagged block array.
func (m Message) MarshalJSON() ([]byte, error) {
	w := wireMessage{Role: m.Role, Content: make([]wireBlock, 0, len(m.Content))}
	for _, block := range m.Content {
		switch b := block.(type) {
		case TextBlock:
			w.Content = append(w.Content, wireBlock{Type: "text", Text: b.Text})
		case ToolUseBlock:
			w.Content = append(w.Content, wireBlock{Type: "tool_use", ID: b.ID, Name: b.Name, Input: b.Input})
		case ToolResultBlock:
			w.Content = append(w.Content, wireBlock{
				Type:      "tool_result",
				ToolUseID: b.ToolUseID,
				Name:      b.Name,
				Content:   b.Content,
				IsError:   b.IsError,
			})
		case ImageBlock:
			w.Content = append(w.Content, wireBlock{Type: "image", MediaType: b.MediaType, Data: b.Data})
		default:
			return nil, fmt.Errorf("unknown content block type %T", block)
		}
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the tagged form produced by MarshalJSON.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	m.Role = w.Role
	m.Content = make([]ContentBlock, 0, len(w.Content))
	for _, b := range w.Content {
		switch b.Type {
		case "text":
			m.Content = append(m.Content, TextBlock{Text: b.Text})
		case "tool_use":
			m.Content = append(m.Content, ToolUseBlock{ID: b.ID, Name: b.Name, Input: b.Input})
		case "tool_result":
			m.Content = append(m.Content, ToolResultBlock{
				ToolUseID: b.ToolUseID,
				Name:      b.Name,
				Content:   b.Content,
				IsError:   b.IsError,
			})
		case "image":
			m.Content = append(m.Content, ImageBlock{MediaType: b.MediaType, Data: b.Data})
		default:
			return fmt.Errorf("unknown content block type %q", b.Type)
		}
	}
	return nil
}

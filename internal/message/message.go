// Package message defines the conversation data model: messages exchanged
// with the model backend and the tagged content blocks they carry.
//
// The block set is closed. Every consumer switches over the four variants
// (text, tool_use, tool_result, image); adding a new variant is a breaking
// change to every switch, which is intentional.
package message

import (
	"fmt"
	"strings"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in a conversation. Content is an ordered sequence of
// blocks; plain-text messages hold a single TextBlock.
//
// Ordering invariant: an assistant message containing ToolUseBlocks must be
// immediately followed by a user message carrying a ToolResultBlock for every
// tool_use id, in the same order. Downstream wire protocols reject
// conversations that violate this.
type Message struct {
	Role    Role
	Content []ContentBlock
}

// ContentBlock is the closed set of block variants a message can carry.
// The unexported marker keeps the set sealed to this package.
type ContentBlock interface {
	blockType() string
}

// TextBlock is plain assistant or user text.
type TextBlock struct {
	Text string
}

// ToolUseBlock is a model-proposed tool invocation.
type ToolUseBlock struct {
	ID    string
	Name  string
	Input map[string]any
}

// ToolResultBlock carries the outcome of one tool invocation back to the
// model. Name is retained locally for digest rendering; it is not part of
// the wire form.
type ToolResultBlock struct {
	ToolUseID string
	Name      string
	Content   string
	IsError   bool
}

// ImageBlock is inline image data (base64) with its media type.
type ImageBlock struct {
	MediaType string
	Data      string
}

func (TextBlock) blockType() string       { return "text" }
func (ToolUseBlock) blockType() string    { return "tool_use" }
func (ToolResultBlock) blockType() string { return "tool_result" }
func (ImageBlock) blockType() string      { return "image" }

// NewText returns a message holding a single text block.
func NewText(role Role, text string) Message {
	return Message{Role: role, Content: []ContentBlock{TextBlock{Text: text}}}
}

// NewUserText returns a user message holding a single text block.
func NewUserText(text string) Message {
	return NewText(RoleUser, text)
}

// Text concatenates all text blocks in the message.
func (m Message) Text() string {
	var b strings.Builder
	for _, block := range m.Content {
		if t, ok := block.(TextBlock); ok {
			b.WriteString(t.Text)
		}
	}
	return b.String()
}

// ToolUses returns the tool_use blocks in order.
func (m Message) ToolUses() []ToolUseBlock {
	var uses []ToolUseBlock
	for _, block := range m.Content {
		if u, ok := block.(ToolUseBlock); ok {
			uses = append(uses, u)
		}
	}
	return uses
}

// ToolResults returns the tool_result blocks in order.
func (m Message) ToolResults() []ToolResultBlock {
	var results []ToolResultBlock
	for _, block := range m.Content {
		if r, ok := block.(ToolResultBlock); ok {
			results = append(results, r)
		}
	}
	return results
}

// HasToolUse reports whether the message carries at least one tool_use block.
func (m Message) HasToolUse() bool {
	for _, block := range m.Content {
		if _, ok := block.(ToolUseBlock); ok {
			return true
		}
	}
	return false
}

// HasToolResult reports whether the message carries at least one tool_result
// block.
func (m Message) HasToolResult() bool {
	for _, block := range m.Content {
		if _, ok := block.(ToolResultBlock); ok {
			return true
		}
	}
	return false
}

// Validate checks the tool-use ordering invariant over a whole conversation:
// every assistant message with tool_use blocks is immediately followed by a
// user message whose tool_result blocks match those ids in order.
func Validate(conv []Message) error {
	for i, m := range conv {
		if m.Role != RoleAssistant || !m.HasToolUse() {
			continue
		}
		uses := m.ToolUses()
		if i+1 >= len(conv) {
			return fmt.Errorf("assistant message %d has %d tool_use blocks but no following message", i, len(uses))
		}
		next := conv[i+1]
		if next.Role != RoleUser {
			return fmt.Errorf("assistant message %d with tool_use is followed by role %q, want user", i, next.Role)
		}
		results := next.ToolResults()
		if len(results) < len(uses) {
			return fmt.Errorf("message %d: %d tool_use blocks but only %d tool_result blocks follow", i, len(uses), len(results))
		}
		for j, use := range uses {
			if results[j].ToolUseID != use.ID {
				return fmt.Errorf("message %d: tool_result[%d] id %q does not match tool_use id %q", i+1, j, results[j].ToolUseID, use.ID)
			}
		}
	}
	return nil
}

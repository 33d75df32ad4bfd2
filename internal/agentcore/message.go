// Package agentcore holds the data model shared by the Turn Orchestrator,
// Tool Dispatcher, Streaming Pipeline, Context Manager, and Worker Commander.
package agentcore

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role identifies the speaker of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// BlockKind tags the variant of a ContentBlock.
type BlockKind string

const (
	BlockText       BlockKind = "text"
	BlockThinking   BlockKind = "thinking"
	BlockToolUse    BlockKind = "tool_use"
	BlockToolResult BlockKind = "tool_result"
	BlockImage      BlockKind = "image"
)

// ContentBlock is a tagged variant: Text, Thinking, ToolUse, ToolResult, or Image.
// Only the fields relevant to Kind are populated.
type ContentBlock struct {
	Kind BlockKind

	// Text / Thinking
	Body string

	// ToolUse
	ToolUseID   string
	ToolName    string
	ToolInput   json.RawMessage

	// ToolResult
	ToolResultForID string
	ResultContent   string
	IsError         bool

	// Image
	MediaType string
	ImageData string
}

// Text returns a Text content block.
func Text(body string) ContentBlock { return ContentBlock{Kind: BlockText, Body: body} }

// Thinking returns a Thinking content block.
func Thinking(body string) ContentBlock { return ContentBlock{Kind: BlockThinking, Body: body} }

// ToolUse returns a ToolUse content block.
func ToolUse(id, name string, input json.RawMessage) ContentBlock {
	return ContentBlock{Kind: BlockToolUse, ToolUseID: id, ToolName: name, ToolInput: input}
}

// ToolResultBlock returns a ToolResult content block.
func ToolResultBlock(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{Kind: BlockToolResult, ToolResultForID: toolUseID, ResultContent: content, IsError: isError}
}

// Image returns an Image content block.
func Image(mediaType, data string) ContentBlock {
	return ContentBlock{Kind: BlockImage, MediaType: mediaType, ImageData: data}
}

// Message is a single turn participant: a Role plus ordered content blocks.
//
// A message may carry plain text only (the common case for user input) via
// Text, or a full block sequence via Blocks. When Blocks is non-empty it
// takes precedence; Text is a convenience for the simple case.
type Message struct {
	Role      Role
	Text      string
	Blocks    []ContentBlock
	CreatedAt time.Time
}

// NewUserText builds a plain-text User message.
func NewUserText(text string) Message {
	return Message{Role: RoleUser, Text: text, CreatedAt: time.Now()}
}

// NewAssistantBlocks builds an Assistant message from content blocks.
func NewAssistantBlocks(blocks []ContentBlock) Message {
	return Message{Role: RoleAssistant, Blocks: blocks, CreatedAt: time.Now()}
}

// NewToolResultMessage builds a User message carrying ToolResult blocks,
// one per tool call that was dispatched.
func NewToolResultMessage(results []ContentBlock) Message {
	return Message{Role: RoleUser, Blocks: results, CreatedAt: time.Now()}
}

// ToolUseBlocks returns every ToolUse block in the message, in order.
func (m Message) ToolUseBlocks() []ContentBlock {
	var out []ContentBlock
	for _, b := range m.Blocks {
		if b.Kind == BlockToolUse {
			out = append(out, b)
		}
	}
	return out
}

// ToolResultBlocks returns every ToolResult block in the message, in order.
func (m Message) ToolResultBlocks() []ContentBlock {
	var out []ContentBlock
	for _, b := range m.Blocks {
		if b.Kind == BlockToolResult {
			out = append(out, b)
		}
	}
	return out
}

// HasToolUse reports whether the message contains any ToolUse block.
func (m Message) HasToolUse() bool { return len(m.ToolUseBlocks()) > 0 }

// HasToolResult reports whether the message contains any ToolResult block.
func (m Message) HasToolResult() bool { return len(m.ToolResultBlocks()) > 0 }

// LastBlockIsText reports whether the final block is a Text block, or, if
// Blocks is empty, whether the plain Text field is non-empty. The body of a
// final Text block is not checked.
func (m Message) LastBlockIsText() bool {
	if len(m.Blocks) == 0 {
		return m.Text != ""
	}
	last := m.Blocks[len(m.Blocks)-1]
	return last.Kind == BlockText
}

// ExtractedText flattens a message's content into the plain-text view used
// by token estimation, working-set matching and compaction: Text/Thinking bodies
// are concatenated; ToolUse contributes "[Tool: <name>] <input>"; ToolResult
// contributes its content; Image contributes nothing.
func (m Message) ExtractedText() string {
	if len(m.Blocks) == 0 {
		return m.Text
	}
	var out string
	for _, b := range m.Blocks {
		switch b.Kind {
		case BlockText, BlockThinking:
			out += b.Body
		case BlockToolUse:
			out += fmt.Sprintf("[Tool: %s] %s", b.ToolName, string(b.ToolInput))
		case BlockToolResult:
			out += b.ResultContent
		}
	}
	return out
}

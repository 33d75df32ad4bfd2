// Package dispatcher implements the Tool Dispatcher: it maps a tool name to
// a handler, enforces the confirmation policy, executes with a clamped
// timeout, and translates the result into a ToolResult content block.
package dispatcher

import (
	"context"
	"encoding/json"

	"codi/internal/agentcore"
)

// ToolOutput is a handler's successful result: either plain text or a
// structured result carrying machine-readable metadata alongside its text
// rendering.
type ToolOutput struct {
	Content  string
	Success  bool
	Metadata json.RawMessage // set only for structured results; nil otherwise
}

// TextOutput builds a plain-text ToolOutput.
func TextOutput(content string, success bool) ToolOutput {
	return ToolOutput{Content: content, Success: success}
}

// StructuredOutput builds a ToolOutput carrying metadata alongside its text.
func StructuredOutput(content string, success bool, metadata json.RawMessage) ToolOutput {
	return ToolOutput{Content: content, Success: success, Metadata: metadata}
}

// ToolHandler is the dispatcher-facing contract every tool implements.
type ToolHandler interface {
	Definition() agentcore.ToolDefinition
	IsMutating() bool
	Execute(ctx context.Context, input json.RawMessage) (ToolOutput, *agentcore.ToolError)
}

// OutputHandler is implemented by handlers that can stream incremental
// output lines (e.g. bash) while still returning one final ToolOutput.
type OutputHandler interface {
	ToolHandler
	SetOutputSink(func(line string))
}

// ConfirmationDecision is the caller's reply to a pending confirmation.
type ConfirmationDecision int

const (
	// Deny is the default when no on_confirm callback is registered.
	Deny ConfirmationDecision = iota
	Approve
	Abort
)

// ToolConfirmation describes a pending confirmation request surfaced to the
// caller via the dispatcher's confirm callback.
type ToolConfirmation struct {
	ToolUseID     string
	ToolName      string
	Input         json.RawMessage
	Dangerous     bool
	MatchedRegex  string
	Preview       string // e.g. a rendered diff for edit tools
}

// ConfirmFunc is supplied by the caller (normally the orchestrator) to
// arbitrate a pending confirmation. A nil ConfirmFunc is equivalent to
// always replying Deny.
type ConfirmFunc func(ctx context.Context, c ToolConfirmation) (ConfirmationDecision, error)

// OutputFunc receives streamed output lines from a tool while it executes.
type OutputFunc func(toolUseID, line string)

package orchestrator

import (
	"time"

	"codi/internal/agentcore"
	"codi/internal/provider"
)

// buildRequestMessages assembles the Provider request: the orchestrator's
// system prompt, then (if a compaction has run) a single synthetic System
// message carrying the conversation summary, then the live message list
// translated into the teacher's provider.Message wire shape.
func (o *Orchestrator) buildRequestMessages() []provider.Message {
	out := make([]provider.Message, 0, len(o.State.Messages)+2)
	if o.SystemPrompt != "" {
		out = append(out, provider.Message{Role: "system", Content: o.SystemPrompt, CreatedAt: time.Now()})
	}
	out = append(out, toProviderMessages(o.State.Messages, o.State.ConversationSummary)...)
	return out
}

// providerTools converts the dispatcher's registered tool definitions into
// the teacher's provider.Tool wire shape, or returns nil when tools are
// disabled for this turn.
func (o *Orchestrator) providerTools() []provider.Tool {
	if !o.Config.ToolsEnabled || o.Dispatcher == nil {
		return nil
	}
	defs := o.Dispatcher.Registry.Definitions()
	out := make([]provider.Tool, len(defs))
	for i, d := range defs {
		out[i] = provider.Tool{Name: d.Name, Description: d.Description, Parameters: d.InputSchema}
	}
	return out
}

// toProviderMessages flattens agentcore.Message history into the teacher's
// flat provider.Message shape: an Assistant message's ToolUse blocks become
// ToolCalls on one assistant provider.Message, and a User message's
// ToolResult blocks each become their own role:"tool" provider.Message
// (the teacher's provider wire format carries one tool result per message,
// joined by ToolCallID), matching internal/llm/loop.go's executeToolCalls.
func toProviderMessages(msgs []agentcore.Message, summary string) []provider.Message {
	out := make([]provider.Message, 0, len(msgs)+1)
	if summary != "" {
		out = append(out, provider.Message{Role: "system", Content: summary, CreatedAt: time.Now()})
	}

	for _, m := range msgs {
		if len(m.Blocks) == 0 {
			out = append(out, provider.Message{Role: string(m.Role), Content: m.Text, CreatedAt: m.CreatedAt})
			continue
		}

		if m.Role == agentcore.RoleAssistant {
			var content, reasoning string
			var calls []provider.ToolCall
			for _, b := range m.Blocks {
				switch b.Kind {
				case agentcore.BlockText:
					content += b.Body
				case agentcore.BlockThinking:
					reasoning += b.Body
				case agentcore.BlockToolUse:
					calls = append(calls, provider.ToolCall{ID: b.ToolUseID, Name: b.ToolName, Arguments: b.ToolInput})
				}
			}
			out = append(out, provider.Message{
				Role: "assistant", Content: content, Reasoning: reasoning,
				ToolCalls: calls, CreatedAt: m.CreatedAt,
			})
			continue
		}

		hadToolResult := false
		for _, b := range m.Blocks {
			if b.Kind == agentcore.BlockToolResult {
				hadToolResult = true
				content := b.ResultContent
				if b.IsError {
					content = "Error: " + content
				}
				out = append(out, provider.Message{
					Role: "tool", Content: content, ToolCallID: b.ToolResultForID, CreatedAt: m.CreatedAt,
				})
			}
		}
		if !hadToolResult {
			out = append(out, provider.Message{Role: string(m.Role), Content: m.ExtractedText(), CreatedAt: m.CreatedAt})
		}
	}
	return out
}

// translateStreamEvent maps a teacher provider.StreamEvent onto the agent
// core's StreamEvent variant set (spec §3). EventUsage and EventDone carry
// no equivalent variant of their own — usage is folded into the single
// MessageStop event emitted once the stream ends, and Done is the cue for
// that, not a forwarded event — so both report skip=true.
func translateStreamEvent(evt provider.StreamEvent) (out agentcore.StreamEvent, skip bool) {
	switch evt.Type {
	case provider.EventContentDelta:
		return agentcore.StreamEvent{Type: agentcore.EventTextDelta, Delta: evt.Content}, false
	case provider.EventReasoningDelta:
		return agentcore.StreamEvent{Type: agentcore.EventThinkingDelta, Delta: evt.Content}, false
	case provider.EventToolCallBegin:
		return agentcore.StreamEvent{Type: agentcore.EventToolUseStart, ToolUseID: evt.ToolCallID, ToolUseName: evt.ToolCallName}, false
	case provider.EventToolCallDelta:
		return agentcore.StreamEvent{Type: agentcore.EventToolUseDelta, ToolUseID: evt.ToolCallID, PartialJSON: evt.ToolCallArgs}, false
	case provider.EventError:
		msg := ""
		if evt.Err != nil {
			msg = evt.Err.Error()
		}
		return agentcore.StreamEvent{Type: agentcore.EventStreamError, ErrMsg: msg}, false
	default:
		return agentcore.StreamEvent{}, true
	}
}

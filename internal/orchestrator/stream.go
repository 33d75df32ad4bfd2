package orchestrator

import (
	"context"
	"strings"

	"codi/internal/agentcore"
	"codi/internal/provider"
	"codi/internal/streampipe"
)

// streamOnce opens one Provider streaming call, forwards every delta through
// the streaming pipeline and the tool-call accumulator, and assembles the
// resulting assistant message. It appends that message to state itself
// (§4.1 step 5) whether or not the stream was cancelled, so a cancelled turn
// still leaves whatever text was committed in AgentState.Messages. When the
// provider call fails or the stream reports an error, nothing is appended.
func (o *Orchestrator) streamOnce(ctx context.Context, cancel <-chan struct{}, reqMsgs []provider.Message, tools []provider.Tool, stats *agentcore.TurnStats) (blocks []agentcore.ContentBlock, text string, cancelled bool, agentErr *agentcore.AgentError) {
	streamCtx, cancelStream := context.WithCancel(ctx)
	defer cancelStream()

	ch, err := o.Provider.ChatStream(streamCtx, reqMsgs, tools)
	if err != nil {
		return nil, "", false, agentcore.NewProviderError(err)
	}

	pipeline := streampipe.NewController(o.pipelineWidth, o.pipelineLinesPerTick)
	var textBuf, reasoningBuf strings.Builder
	tca := newToolCallAccumulator()
	activeToolID := ""

	emitStop := func() {
		if activeToolID == "" {
			return
		}
		if o.Callbacks.OnStreamEvent != nil {
			o.Callbacks.OnStreamEvent(agentcore.StreamEvent{Type: agentcore.EventToolUseStop, ToolUseID: activeToolID})
		}
		activeToolID = ""
	}

loop:
	for {
		select {
		case <-cancel:
			cancelled = true
			cancelStream()
			break loop
		case evt, ok := <-ch:
			if !ok {
				break loop
			}
			if o.Callbacks.OnStreamEvent != nil {
				if translated, skip := translateStreamEvent(evt); !skip {
					o.Callbacks.OnStreamEvent(translated)
				}
			}
			switch evt.Type {
			case provider.EventContentDelta:
				textBuf.WriteString(evt.Content)
				if pipeline.Push(evt.Content) {
					drainPipeline(pipeline, o.Callbacks.OnText)
				}
			case provider.EventReasoningDelta:
				reasoningBuf.WriteString(evt.Content)
			case provider.EventToolCallBegin:
				emitStop()
				activeToolID = evt.ToolCallID
				tca.begin(evt)
			case provider.EventToolCallDelta:
				tca.delta(evt)
			case provider.EventUsage:
				if evt.InputTokens > stats.InputTokens {
					stats.InputTokens = evt.InputTokens
				}
				if evt.OutputTokens > stats.OutputTokens {
					stats.OutputTokens = evt.OutputTokens
				}
			case provider.EventError:
				return nil, "", false, agentcore.NewProviderError(evt.Err)
			case provider.EventDone:
				// Channel close (below) is the authoritative end-of-stream
				// signal; Done carries no extra state to record.
			}
		}
	}

	emitStop()
	pipeline.Finalize()
	if !cancelled {
		drainPipeline(pipeline, o.Callbacks.OnText)
	}

	calls := tca.finalize()
	var toolUseBlocks []agentcore.ContentBlock
	for _, c := range calls {
		toolUseBlocks = append(toolUseBlocks, agentcore.ToolUse(c.ID, c.Name, c.Arguments))
	}
	if len(toolUseBlocks) == 0 && !cancelled && o.Config.ExtractToolsFromText {
		toolUseBlocks = o.extractFallbackToolUses(textBuf.String())
	}

	if reasoningBuf.Len() > 0 {
		blocks = append(blocks, agentcore.Thinking(reasoningBuf.String()))
	}
	if textBuf.Len() > 0 {
		blocks = append(blocks, agentcore.Text(textBuf.String()))
	}
	blocks = append(blocks, toolUseBlocks...)

	o.State.Append(agentcore.NewAssistantBlocks(blocks))

	if o.Callbacks.OnStreamEvent != nil && !cancelled {
		o.Callbacks.OnStreamEvent(agentcore.StreamEvent{
			Type:         agentcore.EventMessageStop,
			StopReason:   stopReasonFor(toolUseBlocks),
			InputTokens:  stats.InputTokens,
			OutputTokens: stats.OutputTokens,
		})
	}

	if cancelled {
		return blocks, "", true, nil
	}
	return blocks, textBuf.String(), false, nil
}

func stopReasonFor(toolUseBlocks []agentcore.ContentBlock) agentcore.StopReason {
	if len(toolUseBlocks) > 0 {
		return agentcore.StopToolUse
	}
	return agentcore.StopEndTurn
}

// drainPipeline drains every currently-queued line from a streampipe
// Controller, forwarding each to onText (if set). Draining happens even
// with no OnText subscriber so the queue never grows unbounded across a
// long stream.
func drainPipeline(c *streampipe.Controller, onText func(string)) {
	for {
		lines, status := c.Step()
		for _, l := range lines {
			if onText != nil {
				onText(l.PlainText())
			}
		}
		if status != streampipe.HasContent {
			return
		}
	}
}

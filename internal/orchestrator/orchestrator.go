// Package orchestrator implements the Turn Orchestrator: the bounded loop
// that alternates between provider requests and tool dispatch until the
// model produces a final text answer or a terminal condition fires.
//
// Grounded on internal/llm/loop.go's ProcessTurn, generalized into the full
// state machine described by the agent core: iteration cap, consecutive-
// error cap, turn wall-clock deadline, cancellation observed at every
// suspension point, the AgentError taxonomy, and the text-extraction
// fallback grammar.
package orchestrator

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"codi/internal/agentcore"
	"codi/internal/ctxwindow"
	"codi/internal/dispatcher"
	"codi/internal/provider"
)

// Callbacks are the orchestrator's optional subscriber hooks. A missing
// OnConfirm is equivalent to Deny; every other callback is simply skipped
// when nil.
type Callbacks struct {
	OnText         func(line string)
	OnToolCall     func(id, name string, input []byte)
	OnToolOutput   func(id, line string)
	OnToolResult   func(id, name, result string, isError bool)
	OnConfirm      dispatcher.ConfirmFunc
	OnCompaction   func(starting bool)
	OnTurnComplete func(stats *agentcore.TurnStats)
	OnStreamEvent  func(evt agentcore.StreamEvent)
}

// Orchestrator drives one AgentState through repeated turns against a
// Provider and a Dispatcher. It is not safe for concurrent use: AgentState
// mutation is serialized on whichever goroutine calls Chat, per the
// single-task ownership model in spec §5.
type Orchestrator struct {
	Provider           provider.Provider
	SummarizerProvider provider.Provider // optional; defaults to Provider
	Dispatcher         *dispatcher.Dispatcher
	Context            *ctxwindow.ContextWindow
	Working            *ctxwindow.WorkingSet
	Config             agentcore.AgentConfig
	State              *agentcore.AgentState
	SystemPrompt       string
	Callbacks          Callbacks

	pipelineWidth        int
	pipelineLinesPerTick int
}

// NewOrchestrator builds an Orchestrator with the teacher's streaming
// display defaults (80-column wrap, 20 lines drained per tick).
func NewOrchestrator(p provider.Provider, disp *dispatcher.Dispatcher, cw *ctxwindow.ContextWindow, working *ctxwindow.WorkingSet, cfg agentcore.AgentConfig, systemPrompt string, cb Callbacks) *Orchestrator {
	return &Orchestrator{
		Provider:             p,
		Dispatcher:           disp,
		Context:              cw,
		Working:              working,
		Config:               cfg,
		State:                &agentcore.AgentState{},
		SystemPrompt:         systemPrompt,
		Callbacks:            cb,
		pipelineWidth:        80,
		pipelineLinesPerTick: 20,
	}
}

// Chat drives one user turn to completion: appends the user message,
// iterates model-request/tool-dispatch rounds under the configured bounds,
// and returns the final assistant text or a fatal AgentError.
func (o *Orchestrator) Chat(ctx context.Context, userText string, cancel <-chan struct{}) (string, *agentcore.AgentError) {
	o.State.Append(agentcore.NewUserText(userText))

	stats := &agentcore.TurnStats{}
	turnStart := time.Now()
	var finalErr *agentcore.AgentError

	defer func() {
		stats.WallClockMs = time.Since(turnStart).Milliseconds()
		if o.Callbacks.OnTurnComplete != nil {
			o.Callbacks.OnTurnComplete(stats)
		}
		if finalErr != nil && !finalErr.Silent() {
			log.Warn().Str("kind", string(finalErr.Kind)).Msg("turn failed")
		}
	}()

	for {
		select {
		case <-cancel:
			finalErr = agentcore.NewUserCancelled()
			return "", finalErr
		default:
		}

		o.Context.UpdateTokenCount(o.State.Messages)
		if o.Context.NeedsSummarization() {
			if o.Callbacks.OnCompaction != nil {
				o.Callbacks.OnCompaction(true)
			}
			if err := o.compact(ctx); err != nil {
				finalErr = agentcore.NewProviderError(err)
				return "", finalErr
			}
			if o.Callbacks.OnCompaction != nil {
				o.Callbacks.OnCompaction(false)
			}
		}

		reqMsgs := o.buildRequestMessages()
		tools := o.providerTools()

		blocks, text, cancelled, agentErr := o.streamOnce(ctx, cancel, reqMsgs, tools, stats)
		if cancelled {
			finalErr = agentcore.NewUserCancelled()
			return "", finalErr
		}
		if agentErr != nil {
			finalErr = agentErr
			return "", finalErr
		}

		toolUses := make([]agentcore.ContentBlock, 0, len(blocks))
		for _, b := range blocks {
			if b.Kind == agentcore.BlockToolUse {
				toolUses = append(toolUses, b)
			}
		}

		if len(toolUses) == 0 {
			return text, nil
		}

		if o.Callbacks.OnToolCall != nil {
			for _, tu := range toolUses {
				o.Callbacks.OnToolCall(tu.ToolUseID, tu.ToolName, tu.ToolInput)
			}
		}

		results, abortCause := o.dispatchAll(ctx, toolUses, stats)
		o.State.Append(agentcore.NewToolResultMessage(results))
		if abortCause != nil {
			// A confirmation reply of Abort fails the whole turn directly,
			// distinct from the ordinary tool-error path: the synthetic
			// ToolResult above still answers every ToolUse block (so the
			// "every call is answered" invariant holds for the state left
			// behind), but the turn does not continue to another round.
			finalErr = agentcore.NewToolError(abortCause)
			return "", finalErr
		}

		if o.State.ConsecutiveErrors >= o.Config.MaxConsecutiveErrors {
			finalErr = agentcore.NewTooManyErrors(o.Config.MaxConsecutiveErrors)
			return "", finalErr
		}

		o.State.Iteration++
		if o.State.Iteration >= o.Config.MaxIterations {
			finalErr = agentcore.NewMaxIterationsExceeded(o.Config.MaxIterations)
			return "", finalErr
		}
		if o.Config.MaxTurnDuration > 0 && time.Since(turnStart) >= o.Config.MaxTurnDuration {
			finalErr = agentcore.NewTurnDeadlineExceeded(o.Config.MaxTurnDuration.String())
			return "", finalErr
		}
	}
}

// dispatchAll dispatches each tool-use block in stable call order, recording
// per-tool stats and updating the consecutive-error counter after each call.
// If any call's confirmation was answered with Abort, every remaining call
// in this batch is still dispatched (so each ToolUse in the assistant
// message gets an answering ToolResult), but the first abort cause
// encountered is returned so the caller fails the turn once the batch is
// fully answered.
func (o *Orchestrator) dispatchAll(ctx context.Context, toolUses []agentcore.ContentBlock, stats *agentcore.TurnStats) ([]agentcore.ContentBlock, error) {
	results := make([]agentcore.ContentBlock, 0, len(toolUses))
	var abortCause error

	for _, tu := range toolUses {
		started := time.Now()
		onOutput := func(id, line string) {
			if o.Callbacks.OnToolOutput != nil {
				o.Callbacks.OnToolOutput(id, line)
			}
		}
		block, err := o.Dispatcher.Dispatch(ctx, tu.ToolUseID, tu.ToolName, tu.ToolInput, o.Callbacks.OnConfirm, onOutput)
		if err != nil {
			if abortCause == nil {
				abortCause = err
			}
			block = agentcore.ToolResultBlock(tu.ToolUseID, err.Error(), true)
			results = append(results, block)
			o.State.RecordToolOutcome(true)
			stats.RecordTool(tu.ToolName, time.Since(started), true)
			continue
		}

		o.State.RecordToolOutcome(block.IsError)
		stats.RecordTool(tu.ToolName, time.Since(started), block.IsError)
		if o.Callbacks.OnToolResult != nil {
			o.Callbacks.OnToolResult(tu.ToolUseID, tu.ToolName, block.ResultContent, block.IsError)
		}
		results = append(results, block)
	}
	return results, abortCause
}

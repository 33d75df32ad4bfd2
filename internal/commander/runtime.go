package commander

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"codi/internal/agentcore"
	"codi/internal/dispatcher"
	"codi/internal/orchestrator"
)

// ServeWorker is the worker-side half of the protocol: it runs the
// handshake, waits for StartTask, wires orch's callbacks onto outgoing
// frames, and drives orch.Chat to completion. It returns once a terminal
// message (Complete, Failed, or a Cancelled status_update) has been
// written, or the transport breaks.
//
// cmd/codi/main.go's worker-mode entry point constructs the orchestrator
// (provider, dispatcher, context window) for the task at hand and calls
// this with the process's own stdin/stdout.
func ServeWorker(ctx context.Context, stdin io.Reader, stdout io.Writer, orch *orchestrator.Orchestrator) error {
	r := NewFrameReader(stdin)
	w := NewFrameWriter(stdout)

	if err := doHandshake(r, w); err != nil {
		return err
	}

	cfg, err := readWorkerConfig(r)
	if err != nil {
		return err
	}
	if err := w.writeMessage(typeReady, ReadyMsg{}); err != nil {
		return err
	}

	env, err := r.readEnvelope()
	if err != nil {
		return err
	}
	switch env.Type {
	case typeStartTask:
	case typeShutdown:
		return nil
	default:
		return fmt.Errorf("commander: expected start_task, got %q", env.Type)
	}

	cancelCh := make(chan struct{})
	var cancelOnce sync.Once
	closeCancel := func() { cancelOnce.Do(func() { close(cancelCh) }) }
	permReplies := make(chan PermissionResponseMsg, 1)

	go backgroundReader(r, closeCancel, permReplies)

	var reqCounter int
	orch.Callbacks.OnText = func(line string) {
		_ = w.writeMessage(typeOutput, OutputMsg{Line: line})
	}
	orch.Callbacks.OnToolCall = func(id, name string, input []byte) {
		_ = w.writeMessage(typeStatusUpdate, StatusUpdateMsg{Kind: string(agentcore.WorkerToolCall), Tool: name})
	}
	orch.Callbacks.OnToolResult = func(id, name, result string, isError bool) {
		_ = w.writeMessage(typeStatusUpdate, StatusUpdateMsg{Kind: string(agentcore.WorkerIdle)})
	}
	orch.Callbacks.OnConfirm = func(ctx context.Context, c dispatcher.ToolConfirmation) (dispatcher.ConfirmationDecision, error) {
		reqCounter++
		reqID := fmt.Sprintf("perm-%d", reqCounter)
		_ = w.writeMessage(typeStatusUpdate, StatusUpdateMsg{Kind: string(agentcore.WorkerWaitingPermission), Tool: c.ToolName})
		if err := w.writeMessage(typePermissionRequest, PermissionRequestMsg{
			RequestID: reqID, Tool: c.ToolName, Input: c.Input, DangerReason: c.MatchedRegex,
		}); err != nil {
			return dispatcher.Deny, err
		}
		select {
		case reply := <-permReplies:
			return decisionFromResult(reply.Result), nil
		case <-cancelCh:
			return dispatcher.Deny, fmt.Errorf("commander: worker cancelled awaiting permission")
		}
	}

	_ = w.writeMessage(typeStatusUpdate, StatusUpdateMsg{Kind: string(agentcore.WorkerThinking)})

	text, agentErr := orch.Chat(ctx, cfg.Task, cancelCh)
	if agentErr != nil {
		if agentErr.Kind == agentcore.ErrUserCancelled {
			return w.writeMessage(typeStatusUpdate, StatusUpdateMsg{Kind: string(agentcore.WorkerCancelled)})
		}
		return w.writeMessage(typeFailed, FailedMsg{Error: agentErr.Error()})
	}
	return w.writeMessage(typeComplete, CompleteMsg{Summary: text})
}

func doHandshake(r *FrameReader, w *FrameWriter) error {
	env, err := r.readEnvelope()
	if err != nil || env.Type != typeHello {
		return fmt.Errorf("commander: expected hello, got %q (err=%v)", env.Type, err)
	}
	var hello HelloMsg
	if err := json.Unmarshal(env.Data, &hello); err != nil || hello.Version != protocolVersion {
		return fmt.Errorf("commander: protocol version mismatch (got %q)", hello.Version)
	}
	return w.writeMessage(typeHello, HelloMsg{Version: protocolVersion})
}

func readWorkerConfig(r *FrameReader) (WorkerConfigMsg, error) {
	env, err := r.readEnvelope()
	if err != nil || env.Type != typeWorkerConfig {
		return WorkerConfigMsg{}, fmt.Errorf("commander: expected worker_config, got %q (err=%v)", env.Type, err)
	}
	var cfg WorkerConfigMsg
	if err := json.Unmarshal(env.Data, &cfg); err != nil {
		return WorkerConfigMsg{}, fmt.Errorf("commander: malformed worker_config: %w", err)
	}
	return cfg, nil
}

// backgroundReader drains Cancel/PermissionResponse/Shutdown frames that
// arrive while the worker's turn is in flight. A transport error is
// treated the same as an explicit Cancel: the main turn loop observes it
// at its next suspension point.
func backgroundReader(r *FrameReader, closeCancel func(), permReplies chan<- PermissionResponseMsg) {
	for {
		env, err := r.readEnvelope()
		if err != nil {
			closeCancel()
			return
		}
		switch env.Type {
		case typeCancel, typeShutdown:
			closeCancel()
			if env.Type == typeShutdown {
				return
			}
		case typePermissionResponse:
			var m PermissionResponseMsg
			if json.Unmarshal(env.Data, &m) == nil {
				permReplies <- m
			}
		}
	}
}

func decisionFromResult(result string) dispatcher.ConfirmationDecision {
	switch result {
	case "approve":
		return dispatcher.Approve
	case "abort":
		return dispatcher.Abort
	default:
		return dispatcher.Deny
	}
}

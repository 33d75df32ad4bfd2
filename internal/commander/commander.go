package commander

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"codi/internal/agentcore"
	"codi/internal/dispatcher"
)

// Callbacks are the commander's optional subscriber hooks, surfaced to
// whatever drives the main agent's UI layer.
type Callbacks struct {
	OnStatusUpdate      func(workerID string, status agentcore.WorkerStatus)
	OnOutput            func(workerID, line string)
	OnPermissionRequest func(workerID string, req PermissionRequestMsg) dispatcher.ConfirmationDecision
}

// Commander spawns sub-agents in isolated worktrees, routes their status
// and permission requests, and tears them down. Commander-side state is
// guarded by a single lock held only during mutation, per the core's
// concurrency model.
type Commander struct {
	mu        sync.Mutex
	workers   map[string]*handle
	Launcher  Launcher
	Worktrees *WorktreeManager
	Callbacks Callbacks
}

// NewCommander builds a Commander that launches workers as fresh
// subprocesses of the current executable and prepares their worktrees
// under worktreeBaseDir.
func NewCommander(repoPath, worktreeBaseDir string, workerArgs []string) *Commander {
	return &Commander{
		workers:   make(map[string]*handle),
		Launcher:  ProcessLauncher(workerArgs...),
		Worktrees: NewWorktreeManager(repoPath, worktreeBaseDir),
	}
}

// DelegateTask spawns a worker on a worktree for branch, drives it through
// the full handshake/StartTask/terminal-status lifecycle, and returns its
// final summary. It blocks until the worker reaches Complete or Failed (or
// ctx is cancelled), matching delegate_task's role as a synchronous tool
// call from the main agent's perspective; the worker's own turn proceeds
// fully concurrently under the hood.
func (c *Commander) DelegateTask(ctx context.Context, branch, task string, autoApproveAll bool, autoApproveNames, dangerRegexes []string) (string, error) {
	workerID := WorkerIDForBranch(branch)

	workspacePath, err := c.Worktrees.Prepare(ctx, branch)
	if err != nil {
		return "", fmt.Errorf("preparing worktree: %w", err)
	}

	t, err := c.Launcher(ctx, workspacePath)
	if err != nil {
		return "", fmt.Errorf("launching worker: %w", err)
	}

	h := &handle{
		state: agentcore.WorkerState{
			ID:            workerID,
			Branch:        branch,
			WorkspacePath: workspacePath,
			Status:        agentcore.WorkerStatus{Kind: agentcore.WorkerStarting},
		},
		t:    t,
		done: make(chan struct{}),
	}

	c.mu.Lock()
	c.workers[workerID] = h
	c.mu.Unlock()

	summary, runErr := c.run(ctx, h, WorkerConfigMsg{
		WorkerID:             workerID,
		Branch:               branch,
		Task:                 task,
		WorkspacePath:        workspacePath,
		AutoApproveAll:       autoApproveAll,
		AutoApproveToolNames: autoApproveNames,
		DangerRegexes:        dangerRegexes,
	}, autoApproveAll, autoApproveNames)

	_ = t.Close()
	return summary, runErr
}

// run drives one worker through handshake, StartTask, and its read loop
// until a terminal status or ctx cancellation. Any failure here (protocol
// error, process crash, channel close) is contained to this worker: it is
// marked Failed and the error returned, never propagated to other workers.
func (c *Commander) run(ctx context.Context, h *handle, cfg WorkerConfigMsg, autoApproveAll bool, autoApproveNames []string) (string, error) {
	if err := h.t.writer.writeMessage(typeHello, HelloMsg{Version: protocolVersion}); err != nil {
		h.setStatus(agentcore.WorkerStatus{Kind: agentcore.WorkerFailed, Error: err.Error()})
		return "", err
	}
	helloEnv, err := h.t.reader.readEnvelope()
	if err != nil || helloEnv.Type != typeHello {
		h.setStatus(agentcore.WorkerStatus{Kind: agentcore.WorkerFailed, Error: "worker did not answer hello handshake"})
		return "", fmt.Errorf("commander: worker hello handshake failed: %w", err)
	}
	var hello HelloMsg
	if err := json.Unmarshal(helloEnv.Data, &hello); err != nil || hello.Version != protocolVersion {
		h.setStatus(agentcore.WorkerStatus{Kind: agentcore.WorkerFailed, Error: "worker protocol version mismatch"})
		return "", fmt.Errorf("commander: worker protocol version mismatch (got %q)", hello.Version)
	}

	if err := h.t.writer.writeMessage(typeWorkerConfig, cfg); err != nil {
		h.setStatus(agentcore.WorkerStatus{Kind: agentcore.WorkerFailed, Error: err.Error()})
		return "", err
	}
	readyEnv, err := h.t.reader.readEnvelope()
	if err != nil || readyEnv.Type != typeReady {
		h.setStatus(agentcore.WorkerStatus{Kind: agentcore.WorkerFailed, Error: "worker did not become ready"})
		return "", fmt.Errorf("commander: worker did not become ready: %w", err)
	}
	h.setStatus(agentcore.WorkerStatus{Kind: agentcore.WorkerIdle})
	if c.Callbacks.OnStatusUpdate != nil {
		c.Callbacks.OnStatusUpdate(h.snapshot().ID, agentcore.WorkerStatus{Kind: agentcore.WorkerIdle})
	}

	readErrCh := make(chan error, 1)
	go c.readLoop(h, autoApproveAll, autoApproveNames, readErrCh)

	if err := h.t.writer.writeMessage(typeStartTask, StartTaskMsg{}); err != nil {
		h.setStatus(agentcore.WorkerStatus{Kind: agentcore.WorkerFailed, Error: err.Error()})
		return "", err
	}

	select {
	case <-ctx.Done():
		_ = h.t.writer.writeMessage(typeCancel, CancelMsg{})
		<-h.done
	case <-h.done:
	}

	final := h.snapshot().Status
	switch final.Kind {
	case agentcore.WorkerComplete:
		return final.Summary, nil
	case agentcore.WorkerFailed:
		return "", fmt.Errorf("worker failed: %s", final.Error)
	case agentcore.WorkerCancelled:
		return "", ctx.Err()
	default:
		if err := <-readErrCh; err != nil {
			return "", err
		}
		return "", fmt.Errorf("commander: worker exited in non-terminal status %s", final.Kind)
	}
}

// readLoop consumes the worker's outgoing envelopes until a terminal status
// arrives or the transport closes. A malformed frame or closed channel
// terminates the worker with Failed, per the framing rule in §6.
func (c *Commander) readLoop(h *handle, autoApproveAll bool, autoApproveNames []string, errCh chan<- error) {
	for {
		env, err := h.t.reader.readEnvelope()
		if err != nil {
			h.setStatus(agentcore.WorkerStatus{Kind: agentcore.WorkerFailed, Error: err.Error()})
			errCh <- err
			return
		}

		switch env.Type {
		case typeStatusUpdate:
			var m StatusUpdateMsg
			if err := json.Unmarshal(env.Data, &m); err != nil {
				continue
			}
			status := agentcore.WorkerStatus{Kind: agentcore.WorkerStatusKind(m.Kind), Tool: m.Tool}
			if c.Callbacks.OnStatusUpdate != nil {
				c.Callbacks.OnStatusUpdate(h.snapshot().ID, status)
			}
			h.setStatus(status)
			if status.Kind.IsTerminal() {
				// Complete/Failed arrive as their own dedicated message types;
				// a terminal status_update only happens for Cancelled.
				errCh <- nil
				return
			}

		case typeOutput:
			var m OutputMsg
			if err := json.Unmarshal(env.Data, &m); err != nil {
				continue
			}
			if c.Callbacks.OnOutput != nil {
				c.Callbacks.OnOutput(h.snapshot().ID, m.Line)
			}

		case typePermissionRequest:
			var m PermissionRequestMsg
			if err := json.Unmarshal(env.Data, &m); err != nil {
				continue
			}
			go c.arbitrate(h, m, autoApproveAll, autoApproveNames)

		case typeComplete:
			var m CompleteMsg
			_ = json.Unmarshal(env.Data, &m)
			status := agentcore.WorkerStatus{Kind: agentcore.WorkerComplete, Summary: m.Summary}
			if c.Callbacks.OnStatusUpdate != nil {
				c.Callbacks.OnStatusUpdate(h.snapshot().ID, status)
			}
			h.setStatus(status)
			errCh <- nil
			return

		case typeFailed:
			var m FailedMsg
			_ = json.Unmarshal(env.Data, &m)
			status := agentcore.WorkerStatus{Kind: agentcore.WorkerFailed, Error: m.Error}
			if c.Callbacks.OnStatusUpdate != nil {
				c.Callbacks.OnStatusUpdate(h.snapshot().ID, status)
			}
			h.setStatus(status)
			errCh <- nil
			return

		default:
			log.Warn().Str("worker_id", h.snapshot().ID).Str("type", env.Type).Msg("commander: unrecognized worker message")
		}
	}
}

// arbitrate answers one permission request: auto-approve per the worker's
// inherited policy, or fall through to the registered callback (Deny if
// none is set). A worker may have at most one outstanding request, so it is
// safe to write the reply without additional sequencing here.
func (c *Commander) arbitrate(h *handle, req PermissionRequestMsg, autoApproveAll bool, autoApproveNames []string) {
	decision := dispatcher.Deny
	switch {
	case autoApproveAll:
		decision = dispatcher.Approve
	case containsName(autoApproveNames, "*") || containsName(autoApproveNames, req.Tool):
		decision = dispatcher.Approve
	case c.Callbacks.OnPermissionRequest != nil:
		decision = c.Callbacks.OnPermissionRequest(h.snapshot().ID, req)
	}

	_ = h.t.writer.writeMessage(typePermissionResponse, PermissionResponseMsg{RequestID: req.RequestID, Result: resultFromDecision(decision)})
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

// ListWorkers returns a stable-ordered snapshot of every worker this
// commander has spawned, regardless of terminal status.
func (c *Commander) ListWorkers() []agentcore.WorkerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]agentcore.WorkerState, 0, len(c.workers))
	for _, h := range c.workers {
		out = append(out, h.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CancelWorker asks a worker to cancel its in-flight turn. A worker not
// found or already terminal is reported, not silently ignored.
func (c *Commander) CancelWorker(workerID string) error {
	h, ok := c.lookup(workerID)
	if !ok {
		return fmt.Errorf("commander: no such worker %q", workerID)
	}
	if h.snapshot().Status.Kind.IsTerminal() {
		return fmt.Errorf("commander: worker %q already in terminal status %s", workerID, h.snapshot().Status.Kind)
	}
	return h.t.writer.writeMessage(typeCancel, CancelMsg{})
}

// RespondPermission answers a worker's outstanding permission request from
// a human-in-the-loop UI rather than the auto-approve path.
func (c *Commander) RespondPermission(workerID, requestID string, decision dispatcher.ConfirmationDecision) error {
	h, ok := c.lookup(workerID)
	if !ok {
		return fmt.Errorf("commander: no such worker %q", workerID)
	}
	return h.t.writer.writeMessage(typePermissionResponse, PermissionResponseMsg{RequestID: requestID, Result: resultFromDecision(decision)})
}

// CleanupWorker releases a terminal worker's worktree and drops it from
// this commander's bookkeeping. Calling it on a non-terminal worker is an
// error: the worktree may still be in active use.
func (c *Commander) CleanupWorker(ctx context.Context, workerID string) error {
	h, ok := c.lookup(workerID)
	if !ok {
		return fmt.Errorf("commander: no such worker %q", workerID)
	}
	st := h.snapshot()
	if !st.Status.Kind.IsTerminal() {
		return fmt.Errorf("commander: worker %q is not in a terminal status (currently %s)", workerID, st.Status.Kind)
	}
	if err := c.Worktrees.Remove(ctx, st.WorkspacePath); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.workers, workerID)
	c.mu.Unlock()
	return nil
}

// ListWorktrees reports every git worktree under this commander's repo,
// including ones left over from a prior process (e.g. after a crash before
// CleanupWorker ran), so a caller can reconcile against ListWorkers and
// reclaim orphans.
func (c *Commander) ListWorktrees(ctx context.Context) ([]WorktreeInfo, error) {
	return c.Worktrees.List(ctx)
}

func (c *Commander) lookup(workerID string) (*handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.workers[workerID]
	return h, ok
}

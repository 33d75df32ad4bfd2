package mcptools

import (
	"context"
	"encoding/json"
	"fmt"

	"codi/internal/commander"
	"codi/internal/mcp"
)

// DelegateTaskArgs represents arguments for the delegate_task tool.
type DelegateTaskArgs struct {
	Branch string `json:"branch"`
	Task   string `json:"task"`
}

// NewDelegateTaskTool creates the delegate_task tool definition: the main
// agent's handle on the Worker Commander. Unlike the teacher's in-process
// SubAgent, the spawned worker runs in its own subprocess against an
// isolated git worktree, so its edits never race the caller's.
func NewDelegateTaskTool() mcp.Tool {
	return mcp.Tool{
		Name:        "delegate_task",
		Description: `Delegate a task to a worker sub-agent running on its own git worktree and branch. The worker has the same tools and runs to completion (or failure) before this call returns its summary. Use this to parallelize independent, well-scoped pieces of work without touching the current working copy.`,
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"branch": {"type": "string", "description": "Branch for the worker's worktree. Created if it doesn't already exist."},
				"task":   {"type": "string", "description": "Task description for the worker. Be specific about what needs to be accomplished and the expected output."}
			},
			"required": ["branch", "task"]
		}`),
	}
}

// DelegateTaskHandler adapts Commander.DelegateTask to an mcp.ToolHandler.
// Permission arbitration for the spawned worker's own tool calls is
// inherited from the policy this handler is constructed with, not
// re-surfaced to the user per call.
type DelegateTaskHandler struct {
	cmd                  *commander.Commander
	autoApproveAll       bool
	autoApproveToolNames []string
	dangerRegexes        []string
}

// NewDelegateTaskHandler creates a handler that delegates through cmd,
// carrying the same auto-approve policy the main dispatcher runs under.
func NewDelegateTaskHandler(cmd *commander.Commander, autoApproveAll bool, autoApproveToolNames, dangerRegexes []string) *DelegateTaskHandler {
	if cmd == nil {
		panic("DelegateTaskHandler: commander cannot be nil")
	}
	return &DelegateTaskHandler{
		cmd:                  cmd,
		autoApproveAll:       autoApproveAll,
		autoApproveToolNames: autoApproveToolNames,
		dangerRegexes:        dangerRegexes,
	}
}

// Handle implements the mcp.ToolHandler interface.
func (h *DelegateTaskHandler) Handle(ctx context.Context, arguments json.RawMessage) (*mcp.ToolResult, error) {
	if err := ctx.Err(); err != nil {
		return toolError("delegate_task cancelled: %v", err), nil
	}

	var args DelegateTaskArgs
	if err := json.Unmarshal(arguments, &args); err != nil {
		return toolError("invalid arguments: %v", err), nil
	}
	if args.Branch == "" {
		return toolError("branch is required"), nil
	}
	if args.Task == "" {
		return toolError("task is required"), nil
	}

	summary, err := h.cmd.DelegateTask(ctx, args.Branch, args.Task, h.autoApproveAll, h.autoApproveToolNames, h.dangerRegexes)
	if err != nil {
		return toolError("worker failed: %v", err), nil
	}

	return toolText(fmt.Sprintf("Worker on branch %q completed.\n\n%s", args.Branch, summary)), nil
}

// CancelWorkerArgs represents arguments for the cancel_worker tool.
type CancelWorkerArgs struct {
	WorkerID string `json:"worker_id"`
}

// NewCancelWorkerTool creates the cancel_worker tool definition.
func NewCancelWorkerTool() mcp.Tool {
	return mcp.Tool{
		Name:        "cancel_worker",
		Description: "Cancel a running worker by its worker ID, returning once the cancel request has been sent to the worker.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"worker_id": {"type": "string", "description": "The worker ID, as reported by list_workers."}
			},
			"required": ["worker_id"]
		}`),
	}
}

// CancelWorkerHandler adapts Commander.CancelWorker to an mcp.ToolHandler.
type CancelWorkerHandler struct {
	cmd *commander.Commander
}

// NewCancelWorkerHandler creates a handler that cancels through cmd.
func NewCancelWorkerHandler(cmd *commander.Commander) *CancelWorkerHandler {
	if cmd == nil {
		panic("CancelWorkerHandler: commander cannot be nil")
	}
	return &CancelWorkerHandler{cmd: cmd}
}

// Handle implements the mcp.ToolHandler interface.
func (h *CancelWorkerHandler) Handle(ctx context.Context, arguments json.RawMessage) (*mcp.ToolResult, error) {
	var args CancelWorkerArgs
	if err := json.Unmarshal(arguments, &args); err != nil {
		return toolError("invalid arguments: %v", err), nil
	}
	if args.WorkerID == "" {
		return toolError("worker_id is required"), nil
	}
	if err := h.cmd.CancelWorker(args.WorkerID); err != nil {
		return toolError("%v", err), nil
	}
	return toolText(fmt.Sprintf("Cancellation requested for worker %q.", args.WorkerID)), nil
}

// NewListWorkersTool creates the list_workers tool definition.
func NewListWorkersTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_workers",
		Description: "List all workers spawned via delegate_task and their current status.",
		InputSchema: json.RawMessage(`{"type": "object", "properties": {}}`),
	}
}

// ListWorkersHandler adapts Commander.ListWorkers to an mcp.ToolHandler.
type ListWorkersHandler struct {
	cmd *commander.Commander
}

// NewListWorkersHandler creates a handler that lists workers known to cmd.
func NewListWorkersHandler(cmd *commander.Commander) *ListWorkersHandler {
	if cmd == nil {
		panic("ListWorkersHandler: commander cannot be nil")
	}
	return &ListWorkersHandler{cmd: cmd}
}

// Handle implements the mcp.ToolHandler interface.
func (h *ListWorkersHandler) Handle(ctx context.Context, arguments json.RawMessage) (*mcp.ToolResult, error) {
	workers := h.cmd.ListWorkers()
	out, err := json.Marshal(workers)
	if err != nil {
		return toolError("%v", err), nil
	}
	return toolText(string(out)), nil
}

// NewListWorktreesTool creates the list_worktrees tool definition: a
// reconciliation view over `git worktree list`, separate from list_workers'
// in-memory bookkeeping, for spotting worktrees orphaned by a crash before
// CleanupWorker ran.
func NewListWorktreesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_worktrees",
		Description: "List every git worktree under the repository, including ones left over from a worker that never got cleaned up.",
		InputSchema: json.RawMessage(`{"type": "object", "properties": {}}`),
	}
}

// ListWorktreesHandler adapts Commander.ListWorktrees to an mcp.ToolHandler.
type ListWorktreesHandler struct {
	cmd *commander.Commander
}

// NewListWorktreesHandler creates a handler that lists worktrees through cmd.
func NewListWorktreesHandler(cmd *commander.Commander) *ListWorktreesHandler {
	if cmd == nil {
		panic("ListWorktreesHandler: commander cannot be nil")
	}
	return &ListWorktreesHandler{cmd: cmd}
}

// Handle implements the mcp.ToolHandler interface.
func (h *ListWorktreesHandler) Handle(ctx context.Context, arguments json.RawMessage) (*mcp.ToolResult, error) {
	worktrees, err := h.cmd.ListWorktrees(ctx)
	if err != nil {
		return toolError("%v", err), nil
	}
	out, err := json.Marshal(worktrees)
	if err != nil {
		return toolError("%v", err), nil
	}
	return toolText(string(out)), nil
}

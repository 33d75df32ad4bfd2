package commander

import "encoding/json"

// HelloMsg is exchanged first, by both sides, to version the protocol.
type HelloMsg struct {
	Version string `json:"version"`
}

// WorkerConfigMsg is the commander's initial handshake payload: everything
// the worker needs to run a self-contained Turn Orchestrator against its
// dedicated workspace.
type WorkerConfigMsg struct {
	WorkerID             string   `json:"worker_id"`
	Branch               string   `json:"branch"`
	Task                 string   `json:"task"`
	WorkspacePath        string   `json:"workspace_path"`
	AutoApproveAll       bool     `json:"auto_approve_all"`
	AutoApproveToolNames []string `json:"auto_approve_tool_names"`
	DangerRegexes        []string `json:"danger_regexes"`
}

// StartTaskMsg tells an Idle worker to begin its turn.
type StartTaskMsg struct{}

// CancelMsg asks the worker to cancel its in-flight turn.
type CancelMsg struct{}

// PermissionResponseMsg answers an earlier PermissionRequestMsg.
type PermissionResponseMsg struct {
	RequestID string `json:"request_id"`
	Result    string `json:"result"` // "approve" | "deny" | "abort"
}

// ShutdownMsg asks the worker to exit once it reaches a safe point.
type ShutdownMsg struct{}

// ReadyMsg answers the commander's WorkerConfigMsg once the worker has
// initialized and transitioned to Idle.
type ReadyMsg struct{}

// StatusUpdateMsg reports a worker status transition.
type StatusUpdateMsg struct {
	Kind    string `json:"kind"`
	Tool    string `json:"tool,omitempty"`
	Summary string `json:"summary,omitempty"`
	Error   string `json:"error,omitempty"`
}

// PermissionRequestMsg is sent when the worker's inner dispatcher requires
// confirmation. The worker blocks until a matching PermissionResponseMsg
// arrives; it may have at most one outstanding request at a time.
type PermissionRequestMsg struct {
	RequestID    string          `json:"request_id"`
	Tool         string          `json:"tool"`
	Input        json.RawMessage `json:"input"`
	DangerReason string          `json:"danger_reason,omitempty"`
}

// OutputMsg streams one line of tool or assistant output.
type OutputMsg struct {
	Line string `json:"line"`
}

// CompleteMsg reports a terminal success.
type CompleteMsg struct {
	Summary string `json:"summary"`
}

// FailedMsg reports a terminal failure.
type FailedMsg struct {
	Error string `json:"error"`
}

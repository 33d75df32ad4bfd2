package agentcore

import (
	"encoding/json"
	"time"
)

// ToolDefinition names a tool, describes it for the model, and carries its
// input schema.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// StreamEventType tags the variant of a StreamEvent emitted by a Provider.
type StreamEventType string

const (
	EventTextDelta      StreamEventType = "text_delta"
	EventThinkingDelta  StreamEventType = "thinking_delta"
	EventToolUseStart   StreamEventType = "tool_use_start"
	EventToolUseDelta   StreamEventType = "tool_use_delta"
	EventToolUseStop    StreamEventType = "tool_use_stop"
	EventMessageStop    StreamEventType = "message_stop"
	EventStreamError    StreamEventType = "error"
)

// StopReason identifies why a MessageStop event terminated the stream.
type StopReason string

const (
	StopEndTurn  StopReason = "end_turn"
	StopToolUse  StopReason = "tool_use"
	StopMaxTurns StopReason = "max_turns"
)

// StreamEvent is a tagged variant emitted by the Provider during a chat_stream.
type StreamEvent struct {
	Type StreamEventType

	// Text / Thinking delta payload.
	Delta string

	// ToolUseStart / ToolUseDelta / ToolUseStop.
	ToolUseID     string
	ToolUseName   string // set on Start
	PartialJSON   string // set on Delta

	// MessageStop.
	StopReason   StopReason
	InputTokens  int
	OutputTokens int

	// Error.
	ErrKind string
	ErrMsg  string
}

// ToolStat is one entry in TurnStats' per-tool vector.
type ToolStat struct {
	Name     string
	Duration time.Duration
	IsError  bool
}

// TurnStats accumulates scalar and per-tool counters across one turn.
// Produced once, at turn completion.
type TurnStats struct {
	ToolCallCount int
	InputTokens   int
	OutputTokens  int
	CostUSD       float64
	WallClockMs   int64
	Tools         []ToolStat
}

// RecordTool appends a per-tool entry and updates the scalar counters.
func (t *TurnStats) RecordTool(name string, d time.Duration, isError bool) {
	t.ToolCallCount++
	t.Tools = append(t.Tools, ToolStat{Name: name, Duration: d, IsError: isError})
}

// AgentConfig bounds one turn's iteration count, error tolerance, wall-clock
// budget, context budget, and tool policy.
type AgentConfig struct {
	MaxIterations         int
	MaxConsecutiveErrors  int
	MaxTurnDuration       time.Duration
	ContextTokenBudget    int
	ToolsEnabled          bool
	ExtractToolsFromText  bool
	AutoApproveAll        bool
	AutoApproveToolNames  []string
	DangerRegexes         []string
}

// DefaultAgentConfig returns sane defaults matching spec timeouts/caps.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		MaxIterations:        60,
		MaxConsecutiveErrors: 3,
		MaxTurnDuration:      30 * time.Minute,
		ContextTokenBudget:   180_000,
		ToolsEnabled:         true,
		ExtractToolsFromText: false,
	}
}

// AgentState is the Turn Orchestrator's mutable state: the message list,
// the rolling conversation summary produced by compaction, the iteration
// counter, the consecutive-error counter, and a cached character count.
//
// Owned exclusively by the orchestrator; mutated only between iterations.
type AgentState struct {
	Messages            []Message
	ConversationSummary  string
	Iteration            int
	ConsecutiveErrors    int
	charCount            int
}

// Append adds a message to state and updates the cached character count.
func (s *AgentState) Append(m Message) {
	s.Messages = append(s.Messages, m)
	s.charCount += len(m.ExtractedText())
}

// CharCount returns the cached running character count across all messages.
func (s *AgentState) CharCount() int { return s.charCount }

// RecordToolOutcome bumps or resets the consecutive-error counter.
func (s *AgentState) RecordToolOutcome(isError bool) {
	if isError {
		s.ConsecutiveErrors++
	} else {
		s.ConsecutiveErrors = 0
	}
}

// ExecStatus is the lifecycle state of an ExecCell.
type ExecStatus string

const (
	ExecPending ExecStatus = "pending"
	ExecRunning ExecStatus = "running"
	ExecSuccess ExecStatus = "success"
	ExecError   ExecStatus = "error"
)

// ExecCell is a UI-facing record of one tool dispatch: created when a tool
// call is dispatched, terminal when the dispatcher returns, retained for the
// turn so a UI can render live progress.
type ExecCell struct {
	ToolUseID  string
	ToolName   string
	Input      json.RawMessage
	Status     ExecStatus
	StartedAt  time.Time
	EndedAt    time.Time
	OutputRing []string // bounded ring of live output lines
	FinalText  string
}

const execCellRingSize = 200

// PushOutputLine appends a line to the bounded output ring, evicting the
// oldest line once the ring is full.
func (c *ExecCell) PushOutputLine(line string) {
	c.OutputRing = append(c.OutputRing, line)
	if len(c.OutputRing) > execCellRingSize {
		c.OutputRing = c.OutputRing[len(c.OutputRing)-execCellRingSize:]
	}
}

// WorkerStatus is the lifecycle state of a commander-managed worker.
type WorkerStatus struct {
	Kind    WorkerStatusKind
	Tool    string // set for ToolCall / WaitingPermission
	Summary string // set for Complete
	Error   string // set for Failed
}

// WorkerStatusKind tags the variant of WorkerStatus.
type WorkerStatusKind string

const (
	WorkerStarting          WorkerStatusKind = "starting"
	WorkerIdle              WorkerStatusKind = "idle"
	WorkerThinking          WorkerStatusKind = "thinking"
	WorkerToolCall          WorkerStatusKind = "tool_call"
	WorkerWaitingPermission WorkerStatusKind = "waiting_permission"
	WorkerComplete          WorkerStatusKind = "complete"
	WorkerFailed            WorkerStatusKind = "failed"
	WorkerCancelled         WorkerStatusKind = "cancelled"
)

// IsTerminal reports whether the status is non-reverting.
func (k WorkerStatusKind) IsTerminal() bool {
	return k == WorkerComplete || k == WorkerFailed || k == WorkerCancelled
}

// WorkerState tracks one commander-managed sub-agent.
type WorkerState struct {
	ID          string
	Branch      string
	Status      WorkerStatus
	WorkspacePath string
}

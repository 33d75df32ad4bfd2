package agentcore

import "fmt"

// ErrorKind tags the AgentError taxonomy. None carry a language type name —
// the Kind field is the discriminant.
type ErrorKind string

const (
	ErrUserCancelled        ErrorKind = "user_cancelled"
	ErrMaxIterations        ErrorKind = "max_iterations_exceeded"
	ErrTooManyErrors        ErrorKind = "too_many_errors"
	ErrTurnDeadlineExceeded ErrorKind = "turn_deadline_exceeded"
	ErrProvider             ErrorKind = "provider_error"
	ErrTool                 ErrorKind = "tool_error"
	ErrContextOverflow      ErrorKind = "context_overflow"
)

// AgentError is the Turn Orchestrator's fatal-to-turn error type.
type AgentError struct {
	Kind  ErrorKind
	Msg   string
	Cause error
}

func (e *AgentError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	if e.Msg != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
	return string(e.Kind)
}

func (e *AgentError) Unwrap() error { return e.Cause }

// Silent reports whether this error kind should be surfaced silently to the
// user (only UserCancelled and TurnDeadlineExceeded are silent).
func (e *AgentError) Silent() bool {
	return e.Kind == ErrUserCancelled || e.Kind == ErrTurnDeadlineExceeded
}

func NewUserCancelled() *AgentError {
	return &AgentError{Kind: ErrUserCancelled}
}

func NewMaxIterationsExceeded(n int) *AgentError {
	return &AgentError{Kind: ErrMaxIterations, Msg: fmt.Sprintf("exceeded %d iterations", n)}
}

func NewTooManyErrors(n int) *AgentError {
	return &AgentError{Kind: ErrTooManyErrors, Msg: fmt.Sprintf("%d consecutive tool errors", n)}
}

func NewTurnDeadlineExceeded(d string) *AgentError {
	return &AgentError{Kind: ErrTurnDeadlineExceeded, Msg: fmt.Sprintf("exceeded turn deadline of %s", d)}
}

func NewProviderError(cause error) *AgentError {
	return &AgentError{Kind: ErrProvider, Cause: cause}
}

func NewToolError(cause error) *AgentError {
	return &AgentError{Kind: ErrTool, Cause: cause}
}

func NewContextOverflow() *AgentError {
	return &AgentError{Kind: ErrContextOverflow}
}

// ToolErrorKind tags the ToolError sub-taxonomy (§7).
type ToolErrorKind string

const (
	ToolErrNotFound         ToolErrorKind = "not_found"
	ToolErrInvalidInput     ToolErrorKind = "invalid_input"
	ToolErrExecutionFailed  ToolErrorKind = "execution_failed"
	ToolErrTimeout          ToolErrorKind = "timeout"
	ToolErrPermissionDenied ToolErrorKind = "permission_denied"
	ToolErrFileNotFound     ToolErrorKind = "file_not_found"
)

// ToolError is a tool-dispatch error. It is caught at the dispatch boundary
// and converted into a ToolResult block with is_error=true; it never aborts
// the turn directly — the consecutive-error counter is the only path to
// turn termination from a tool failure.
type ToolError struct {
	Kind ToolErrorKind
	Msg  string
}

func (e *ToolError) Error() string { return e.Msg }

func NewToolErrorKind(kind ToolErrorKind, format string, args ...interface{}) *ToolError {
	return &ToolError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

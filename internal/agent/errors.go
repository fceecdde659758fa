package agent

import (
	"errors"
	"fmt"
	"strings"
)

// Common sentinel errors for dispatch and orchestrator operations.
var (
	// ErrUnknownTool indicates a tool call named a tool outside the closed
	// registry.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrToolTimeout indicates a tool execution exceeded its timeout.
	ErrToolTimeout = errors.New("tool execution timed out")

	// ErrToolPanic indicates a tool panicked during execution.
	ErrToolPanic = errors.New("tool panicked")
)

// ToolErrorType categorizes tool dispatch failures for the recoverable vs.
// non-recoverable split in spec.md §7.
type ToolErrorType string

const (
	ToolErrorNotFound     ToolErrorType = "not_found"
	ToolErrorInvalidInput ToolErrorType = "invalid_input"
	ToolErrorTimeout      ToolErrorType = "timeout"
	ToolErrorNetwork      ToolErrorType = "network"
	ToolErrorPermission   ToolErrorType = "permission"
	ToolErrorRateLimit    ToolErrorType = "rate_limit"
	ToolErrorExecution    ToolErrorType = "execution"
	ToolErrorPanic        ToolErrorType = "panic"
	ToolErrorUnknown      ToolErrorType = "unknown"
)

// IsRetryable returns true if this error type suggests retrying the
// operation may succeed. Timeout, network, and rate limit errors are
// considered retryable.
func (t ToolErrorType) IsRetryable() bool {
	switch t {
	case ToolErrorTimeout, ToolErrorNetwork, ToolErrorRateLimit:
		return true
	default:
		return false
	}
}

// ToolError represents a structured error from a single tool dispatch, with
// enough context to render a tool_error StreamEvent without crashing the
// round.
type ToolError struct {
	Type       ToolErrorType
	ToolName   string
	ToolCallID string
	Message    string
	Cause      error
	Retryable  bool
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[tool:%s]", e.Type))
	if e.ToolName != "" {
		parts = append(parts, e.ToolName)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error.
func (e *ToolError) Unwrap() error {
	return e.Cause
}

// NewToolError creates a new ToolError with automatic error classification
// inferred from the cause's error message.
func NewToolError(toolName string, cause error) *ToolError {
	err := &ToolError{
		ToolName: toolName,
		Cause:    cause,
		Type:     ToolErrorUnknown,
	}
	if cause != nil {
		err.Message = cause.Error()
		err.Type = classifyToolError(cause)
		err.Retryable = err.Type.IsRetryable()
	}
	return err
}

// WithType sets the error type and updates retryable status accordingly.
func (e *ToolError) WithType(t ToolErrorType) *ToolError {
	e.Type = t
	e.Retryable = t.IsRetryable()
	return e
}

// WithToolCallID sets the tool call ID for correlating errors with specific calls.
func (e *ToolError) WithToolCallID(id string) *ToolError {
	e.ToolCallID = id
	return e
}

// WithMessage sets a custom human-readable error message.
func (e *ToolError) WithMessage(msg string) *ToolError {
	e.Message = msg
	return e
}

// classifyToolError determines the error type from the error content.
func classifyToolError(err error) ToolErrorType {
	if err == nil {
		return ToolErrorUnknown
	}
	if errors.Is(err, ErrUnknownTool) {
		return ToolErrorNotFound
	}
	if errors.Is(err, ErrToolTimeout) {
		return ToolErrorTimeout
	}
	if errors.Is(err, ErrToolPanic) {
		return ToolErrorPanic
	}

	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "context deadline"):
		return ToolErrorTimeout
	case strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "dns") ||
		strings.Contains(errStr, "refused") ||
		strings.Contains(errStr, "unreachable"):
		return ToolErrorNetwork
	case strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "rate_limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "429"):
		return ToolErrorRateLimit
	case strings.Contains(errStr, "permission") ||
		strings.Contains(errStr, "forbidden") ||
		strings.Contains(errStr, "unauthorized") ||
		strings.Contains(errStr, "access denied"):
		return ToolErrorPermission
	case strings.Contains(errStr, "invalid") ||
		strings.Contains(errStr, "validation") ||
		strings.Contains(errStr, "required") ||
		strings.Contains(errStr, "missing"):
		return ToolErrorInvalidInput
	default:
		return ToolErrorExecution
	}
}

// IsToolError checks if an error is or wraps a ToolError.
func IsToolError(err error) bool {
	var toolErr *ToolError
	return errors.As(err, &toolErr)
}

// GetToolError extracts a ToolError from an error chain using errors.As.
func GetToolError(err error) (*ToolError, bool) {
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return toolErr, true
	}
	return nil, false
}

// IsToolRetryable checks if a tool error should be retried based on its type.
func IsToolRetryable(err error) bool {
	if toolErr, ok := GetToolError(err); ok {
		return toolErr.Retryable
	}
	return classifyToolError(err).IsRetryable()
}

// ErrorType enumerates the session-level error taxonomy from spec.md §7.
type ErrorType string

const (
	ErrBackendUnavailable ErrorType = "backend_unavailable"
	ErrBackendError       ErrorType = "backend_error"
	ErrUnknownToolType    ErrorType = "unknown_tool"
	ErrBadToolArgs        ErrorType = "bad_tool_args"
	ErrToolExecutionType  ErrorType = "tool_execution_error"
	ErrMalformedToolCall  ErrorType = "malformed_tool_call"
	ErrJudgeFailure       ErrorType = "judge_failure"
	ErrBudgetExhausted    ErrorType = "budget_exhausted"
	ErrWallClockTimeout   ErrorType = "wall_clock_timeout"
	ErrClientDisconnected ErrorType = "client_disconnected"
	ErrAdmissionTimeout   ErrorType = "admission_timeout"
	ErrCitationNotFound   ErrorType = "citation_not_found"
	ErrInternal           ErrorType = "internal"
)

// Recoverable reports whether an error of this type should be converted to
// an in-round tool_error/equivalent event and the session continues, versus
// unwinding to a terminal error event. Mirrors spec.md §7's propagation
// policy.
func (t ErrorType) Recoverable() bool {
	switch t {
	case ErrToolExecutionType, ErrMalformedToolCall, ErrJudgeFailure, ErrBadToolArgs:
		return true
	default:
		return false
	}
}

// AgentError is the structured error type for session-level failures,
// carrying enough context to render the terminal `error` StreamEvent.
type AgentError struct {
	Type    ErrorType
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *AgentError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("[%s] %s", e.Type, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %v", e.Type, e.Cause)
	}
	return string(e.Type)
}

// Unwrap returns the underlying error.
func (e *AgentError) Unwrap() error {
	return e.Cause
}

// NewAgentError wraps cause as an AgentError of the given type.
func NewAgentError(t ErrorType, message string, cause error) *AgentError {
	return &AgentError{Type: t, Message: message, Cause: cause}
}

// Phase is one state of the reasoning orchestrator's state machine
// (spec.md §4.3.1).
type Phase string

const (
	PhaseInit        Phase = "INIT"
	PhaseThinking    Phase = "THINKING"
	PhaseToolCalling Phase = "TOOL_CALLING"
	PhaseObserving   Phase = "OBSERVING"
	PhaseJudging     Phase = "JUDGING"
	PhaseAnswering   Phase = "ANSWERING"
	PhaseNoAnswer    Phase = "NO_ANSWER"
	PhaseDone        Phase = "DONE"
	PhaseCancelled   Phase = "CANCELLED"
	PhaseTimedOut    Phase = "TIMED_OUT"
	PhaseFailed      Phase = "FAILED"
)

// PhaseError reports an error that occurred in a specific orchestrator phase
// and round, for diagnostics and logging.
type PhaseError struct {
	Phase   Phase
	Round   int
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *PhaseError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("phase error at %s (round %d): %s", e.Phase, e.Round, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("phase error at %s (round %d): %v", e.Phase, e.Round, e.Cause)
	}
	return fmt.Sprintf("phase error at %s (round %d)", e.Phase, e.Round)
}

// Unwrap returns the underlying error.
func (e *PhaseError) Unwrap() error {
	return e.Cause
}

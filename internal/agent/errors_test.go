package agent

import (
	"errors"
	"strings"
	"testing"
)

func TestToolErrorType_IsRetryable(t *testing.T) {
	tests := []struct {
		typ  ToolErrorType
		want bool
	}{
		{ToolErrorTimeout, true},
		{ToolErrorNetwork, true},
		{ToolErrorRateLimit, true},
		{ToolErrorNotFound, false},
		{ToolErrorInvalidInput, false},
		{ToolErrorPermission, false},
		{ToolErrorExecution, false},
		{ToolErrorPanic, false},
		{ToolErrorUnknown, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			if got := tt.typ.IsRetryable(); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestToolError_Error(t *testing.T) {
	err := NewToolError("knowledge_retrieval", errors.New("connection refused")).
		WithType(ToolErrorNetwork).
		WithToolCallID("call-123")

	errStr := err.Error()
	for _, want := range []string{"tool:network", "knowledge_retrieval"} {
		if !strings.Contains(errStr, want) {
			t.Errorf("error string %q should contain %q", errStr, want)
		}
	}
}

func TestNewToolError_Classification(t *testing.T) {
	tests := []struct {
		name     string
		errMsg   string
		wantType ToolErrorType
	}{
		{"timeout", "context deadline exceeded", ToolErrorTimeout},
		{"network", "connection refused", ToolErrorNetwork},
		{"rate_limit", "rate limit exceeded", ToolErrorRateLimit},
		{"permission", "permission denied", ToolErrorPermission},
		{"invalid", "invalid input parameter", ToolErrorInvalidInput},
		{"unknown", "some random error", ToolErrorExecution},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewToolError("tool", errors.New(tt.errMsg))
			if err.Type != tt.wantType {
				t.Errorf("Type = %s, want %s", err.Type, tt.wantType)
			}
		})
	}
}

func TestToolError_Unwrap(t *testing.T) {
	cause := errors.New("underlying cause")
	err := NewToolError("tool", cause)

	if !errors.Is(err, cause) {
		t.Error("should unwrap to underlying cause")
	}
}

func TestIsToolError(t *testing.T) {
	toolErr := NewToolError("tool", errors.New("test"))
	regularErr := errors.New("regular error")

	if !IsToolError(toolErr) {
		t.Error("should recognize ToolError")
	}
	if IsToolError(regularErr) {
		t.Error("should not recognize regular error as ToolError")
	}
}

func TestGetToolError(t *testing.T) {
	toolErr := NewToolError("tool", errors.New("test"))

	got, ok := GetToolError(toolErr)
	if !ok {
		t.Fatal("should extract ToolError")
	}
	if got.ToolName != "tool" {
		t.Errorf("ToolName = %q, want %q", got.ToolName, "tool")
	}
}

func TestIsToolRetryable(t *testing.T) {
	retryable := NewToolError("tool", errors.New("timeout")).WithType(ToolErrorTimeout)
	nonRetryable := NewToolError("tool", errors.New("invalid")).WithType(ToolErrorInvalidInput)

	if !IsToolRetryable(retryable) {
		t.Error("timeout error should be retryable")
	}
	if IsToolRetryable(nonRetryable) {
		t.Error("invalid input error should not be retryable")
	}
	if !IsToolRetryable(errors.New("connection timeout")) {
		t.Error("raw timeout error should be retryable")
	}
}

func TestErrorTypeRecoverable(t *testing.T) {
	tests := []struct {
		typ  ErrorType
		want bool
	}{
		{ErrToolExecutionType, true},
		{ErrMalformedToolCall, true},
		{ErrJudgeFailure, true},
		{ErrBadToolArgs, true},
		{ErrBackendUnavailable, false},
		{ErrInternal, false},
		{ErrWallClockTimeout, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			if got := tt.typ.Recoverable(); got != tt.want {
				t.Errorf("Recoverable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAgentError(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := NewAgentError(ErrBackendUnavailable, "llm backend unreachable", cause)

	if !strings.Contains(err.Error(), "backend_unavailable") {
		t.Errorf("error string should contain type: %s", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("should unwrap to cause")
	}
}

func TestPhaseError(t *testing.T) {
	cause := errors.New("malformed json")
	err := &PhaseError{Phase: PhaseToolCalling, Round: 2, Cause: cause}

	errStr := err.Error()
	if !strings.Contains(errStr, "TOOL_CALLING") {
		t.Errorf("error should contain phase: %s", errStr)
	}
	if !strings.Contains(errStr, "2") {
		t.Errorf("error should contain round: %s", errStr)
	}
	if !errors.Is(err, cause) {
		t.Error("should unwrap to cause")
	}
}

func TestSentinelErrors(t *testing.T) {
	sentinels := []error{ErrUnknownTool, ErrToolTimeout, ErrToolPanic}
	for _, err := range sentinels {
		if err == nil || err.Error() == "" {
			t.Errorf("sentinel %v should have message", err)
		}
	}
}

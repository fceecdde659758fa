package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

type fakeSandboxBackend struct {
	result SandboxRunResult
	err    error
	got    SandboxRunParams
}

func (f *fakeSandboxBackend) Run(ctx context.Context, params SandboxRunParams) (SandboxRunResult, error) {
	f.got = params
	return f.result, f.err
}

func TestCodeExecution_SuccessfulRun(t *testing.T) {
	backend := &fakeSandboxBackend{result: SandboxRunResult{Stdout: "4\n", ExitCode: 0}}
	tool := NewCodeExecutionTool(backend, 0)

	params, _ := json.Marshal(map[string]any{"language": "python", "code": "print(2+2)"})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", result.Content)
	}
	if !strings.Contains(result.Content, "4") {
		t.Errorf("expected stdout in content, got: %s", result.Content)
	}
	if backend.got.Timeout != 30 {
		t.Errorf("Timeout = %d, want default 30", backend.got.Timeout)
	}
}

func TestCodeExecution_NonZeroExitIsErrorResult(t *testing.T) {
	backend := &fakeSandboxBackend{result: SandboxRunResult{Stderr: "boom", ExitCode: 1}}
	tool := NewCodeExecutionTool(backend, 0)

	params, _ := json.Marshal(map[string]any{"language": "bash", "code": "exit 1"})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Error("expected IsError for non-zero exit code")
	}
}

func TestCodeExecution_TruncatesLongOutput(t *testing.T) {
	backend := &fakeSandboxBackend{result: SandboxRunResult{Stdout: strings.Repeat("x", 1000)}}
	tool := NewCodeExecutionTool(backend, 100)

	params, _ := json.Marshal(map[string]any{"language": "python", "code": "print('x'*1000)"})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(result.Content, "[truncated]") {
		t.Error("expected truncation marker in long output")
	}
	if len(result.Content) > 150 {
		t.Errorf("content length %d, expected truncation near max bytes", len(result.Content))
	}
}

func TestCodeExecution_CodeRequired(t *testing.T) {
	tool := NewCodeExecutionTool(&fakeSandboxBackend{}, 0)
	params, _ := json.Marshal(map[string]any{"language": "python", "code": ""})
	if _, err := tool.Execute(context.Background(), params); err == nil {
		t.Fatal("expected error for empty code")
	}
}

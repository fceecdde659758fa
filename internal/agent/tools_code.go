package agent

import (
	"context"
	"encoding/json"
	"fmt"
)

// SandboxBackend is the opaque code-execution RPC this tool dispatches to,
// grounded on the shape of the teacher's
// internal/tools/sandbox.Executor/ExecuteParams/ExecuteResult, trimmed to
// the fields spec.md's code_execution tool actually needs: no workspace
// mounting, firecracker/daytona backend selection, or pool management —
// those are the sandbox provider's concern, reached through this interface
// rather than reimplemented here.
type SandboxBackend interface {
	Run(ctx context.Context, params SandboxRunParams) (SandboxRunResult, error)
}

// SandboxRunParams mirrors the teacher's ExecuteParams.
type SandboxRunParams struct {
	Language string
	Code     string
	Stdin    string
	Timeout  int // seconds
}

// SandboxRunResult mirrors the teacher's ExecuteResult.
type SandboxRunResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
}

// CodeExecutionTool implements the code_execution tool (spec.md §4.2).
// Output is truncated, never rejected, at MaxResultBytes (spec.md §8
// testable property 9): a sandbox that produced useful partial output
// should not be thrown away for exceeding a byte budget.
type CodeExecutionTool struct {
	backend       SandboxBackend
	maxResultBytes int
	defaultTimeout int
}

// NewCodeExecutionTool constructs the tool. maxResultBytes <= 0 disables
// truncation.
func NewCodeExecutionTool(backend SandboxBackend, maxResultBytes int) *CodeExecutionTool {
	return &CodeExecutionTool{
		backend:        backend,
		maxResultBytes: maxResultBytes,
		defaultTimeout: 30,
	}
}

func (t *CodeExecutionTool) Name() string { return "code_execution" }

func (t *CodeExecutionTool) Description() string {
	return "Executes a short code snippet in an isolated sandbox and returns stdout/stderr/exit code. Use this for calculations, data transformations, or verifying a claim computationally."
}

func (t *CodeExecutionTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "language": {
      "type": "string",
      "enum": ["python", "nodejs", "go", "bash"],
      "description": "The language runtime to execute the code in"
    },
    "code": {
      "type": "string",
      "description": "The source code to execute"
    },
    "stdin": {
      "type": "string",
      "description": "Optional standard input to feed the program"
    },
    "timeout": {
      "type": "integer",
      "description": "Execution timeout in seconds (default 30)"
    }
  },
  "required": ["language", "code"]
}`)
}

type codeExecutionInput struct {
	Language string `json:"language"`
	Code     string `json:"code"`
	Stdin    string `json:"stdin,omitempty"`
	Timeout  int    `json:"timeout,omitempty"`
}

func (t *CodeExecutionTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	var input codeExecutionInput
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("invalid code_execution arguments: %w", err)
	}
	if input.Code == "" {
		return nil, fmt.Errorf("code is required")
	}

	timeout := input.Timeout
	if timeout <= 0 {
		timeout = t.defaultTimeout
	}

	result, err := t.backend.Run(ctx, SandboxRunParams{
		Language: input.Language,
		Code:     input.Code,
		Stdin:    input.Stdin,
		Timeout:  timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("sandbox run: %w", err)
	}

	content := formatSandboxResult(result)
	if t.maxResultBytes > 0 && len(content) > t.maxResultBytes {
		content = content[:t.maxResultBytes] + "\n...[truncated]"
	}

	return &ToolResult{Content: content, IsError: result.ExitCode != 0, Structured: result}, nil
}

func formatSandboxResult(r SandboxRunResult) string {
	if r.TimedOut {
		return fmt.Sprintf("execution timed out\nstdout:\n%s\nstderr:\n%s", r.Stdout, r.Stderr)
	}
	return fmt.Sprintf("exit code: %d\nstdout:\n%s\nstderr:\n%s", r.ExitCode, r.Stdout, r.Stderr)
}

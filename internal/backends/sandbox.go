package backends

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/haasonsaas/nexus/internal/agent"
)

// languageInterpreters maps a requested language to the local interpreter
// that runs it, grounded on the teacher's internal/tools/sandbox.Executor
// language dispatch but with no container/firecracker isolation: this runs
// the interpreter directly on the host, suitable only for a local demo, not
// for untrusted input in production (a production deployment swaps this for
// a real isolated sandbox service behind the same agent.SandboxBackend
// interface).
var languageInterpreters = map[string][]string{
	"python":     {"python3", "-c"},
	"python3":    {"python3", "-c"},
	"sh":         {"sh", "-c"},
	"bash":       {"bash", "-c"},
	"javascript": {"node", "-e"},
	"node":       {"node", "-e"},
}

// LocalExecSandbox runs code_execution requests as a local subprocess.
type LocalExecSandbox struct{}

// NewLocalExecSandbox constructs a LocalExecSandbox.
func NewLocalExecSandbox() *LocalExecSandbox {
	return &LocalExecSandbox{}
}

// Run implements agent.SandboxBackend.
func (s *LocalExecSandbox) Run(ctx context.Context, params agent.SandboxRunParams) (agent.SandboxRunResult, error) {
	interp, ok := languageInterpreters[params.Language]
	if !ok {
		return agent.SandboxRunResult{}, fmt.Errorf("unsupported language %q", params.Language)
	}

	timeout := time.Duration(params.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(append([]string{}, interp[1:]...), params.Code)
	cmd := exec.CommandContext(runCtx, interp[0], args...)
	if params.Stdin != "" {
		cmd.Stdin = bytes.NewBufferString(params.Stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := agent.SandboxRunResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if runCtx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		return result, nil
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, fmt.Errorf("run sandbox command: %w", err)
	}
	return result, nil
}

package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/nexus/pkg/evidence"
)

// Dispatcher routes a parsed ToolCall to the registered Tool and normalizes
// its result to text (spec.md §4.2). One Dispatcher call handles exactly one
// tool call per round — the orchestrator never batches parallel tool calls,
// so unlike the teacher's internal/agent/executor.go this has no concurrent
// ExecuteAll: a single validated, timed, panic-recovered Execute is the
// whole contract.
type Dispatcher struct {
	registry *ToolRegistry
	timeout  time.Duration
	schemas  map[string]*jsonschema.Schema
}

// NewDispatcher compiles each registered tool's InputSchema once up front so
// a malformed schema fails at construction, not mid-request.
func NewDispatcher(registry *ToolRegistry, timeout time.Duration) (*Dispatcher, error) {
	d := &Dispatcher{
		registry: registry,
		timeout:  timeout,
		schemas:  make(map[string]*jsonschema.Schema),
	}
	for _, name := range registry.Names() {
		tool, _ := registry.Get(name)
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(name+".json", bytes.NewReader(tool.InputSchema())); err != nil {
			return nil, fmt.Errorf("add schema resource for %s: %w", name, err)
		}
		schema, err := compiler.Compile(name + ".json")
		if err != nil {
			return nil, fmt.Errorf("compile schema for %s: %w", name, err)
		}
		d.schemas[name] = schema
	}
	return d, nil
}

// Dispatch validates call.Arguments against the tool's schema and executes
// it with a timeout and panic recovery. Unknown tool names fail with
// ErrUnknownTool; schema violations fail with a ToolError of type
// ToolErrorInvalidInput (spec.md's BadToolArgs). On ctx cancellation,
// Dispatch returns promptly with a cancellation-marker result without
// retrying or waiting for any in-flight side effect.
func (d *Dispatcher) Dispatch(ctx context.Context, call evidence.ToolCall) (*ToolResult, error) {
	tool, ok := d.registry.Get(call.Name)
	if !ok {
		return nil, NewToolError(call.Name, ErrUnknownTool).WithType(ToolErrorNotFound)
	}

	if schema, ok := d.schemas[call.Name]; ok {
		if err := validateArgs(schema, call.Arguments); err != nil {
			return nil, NewToolError(call.Name, err).WithType(ToolErrorInvalidInput)
		}
	}

	params, err := json.Marshal(call.Arguments)
	if err != nil {
		return nil, NewToolError(call.Name, err).WithType(ToolErrorInvalidInput)
	}

	return d.executeWithTimeout(ctx, tool, call.Name, params)
}

func validateArgs(schema *jsonschema.Schema, args map[string]any) error {
	// jsonschema validates against decoded JSON values (map[string]any /
	// []any / primitives), which is exactly what ToolCall.Arguments already
	// holds after parsing the <tool_call> block.
	return schema.Validate(map[string]any(args))
}

func (d *Dispatcher) executeWithTimeout(ctx context.Context, tool Tool, name string, params json.RawMessage) (*ToolResult, error) {
	execCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	type outcome struct {
		result *ToolResult
		err    error
	}
	resultCh := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- outcome{err: NewToolError(name, fmt.Errorf("%w: %v\n%s", ErrToolPanic, r, debug.Stack())).WithType(ToolErrorPanic)}
			}
		}()
		result, err := tool.Execute(execCtx, params)
		if err != nil {
			resultCh <- outcome{err: NewToolError(name, err)}
			return
		}
		resultCh <- outcome{result: result}
	}()

	select {
	case o := <-resultCh:
		if o.err == nil || execCtx.Err() == nil {
			return o.result, o.err
		}
	case <-execCtx.Done():
	}
	if ctx.Err() != nil {
		// Parent cancellation: return promptly, do not wait for the
		// in-flight goroutine's own side effect to finish.
		return &ToolResult{Content: "dispatch cancelled", IsError: true}, nil
	}
	return nil, NewToolError(name, ErrToolTimeout).WithType(ToolErrorTimeout)
}

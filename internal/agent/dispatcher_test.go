package agent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/haasonsaas/nexus/pkg/evidence"
)

type echoTool struct {
	delay time.Duration
	panic bool
}

func (e *echoTool) Name() string        { return "echo" }
func (e *echoTool) Description() string { return "echoes its input" }
func (e *echoTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {"text": {"type": "string"}},
  "required": ["text"]
}`)
}
func (e *echoTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	if e.panic {
		panic("boom")
	}
	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	var input struct {
		Text string `json:"text"`
	}
	_ = json.Unmarshal(params, &input)
	return &ToolResult{Content: input.Text}, nil
}

func newTestDispatcher(t *testing.T, tool Tool, timeout time.Duration) *Dispatcher {
	t.Helper()
	registry := NewToolRegistry()
	registry.Register(tool)
	d, err := NewDispatcher(registry, timeout)
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	return d
}

func TestDispatcher_UnknownTool(t *testing.T) {
	d := newTestDispatcher(t, &echoTool{}, time.Second)
	_, err := d.Dispatch(context.Background(), evidence.ToolCall{Name: "nonexistent"})
	if !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
}

func TestDispatcher_SchemaViolation(t *testing.T) {
	d := newTestDispatcher(t, &echoTool{}, time.Second)
	_, err := d.Dispatch(context.Background(), evidence.ToolCall{Name: "echo", Arguments: map[string]any{}})
	if err == nil {
		t.Fatal("expected schema validation error for missing required field")
	}
	toolErr, ok := GetToolError(err)
	if !ok {
		t.Fatalf("expected *ToolError, got %T", err)
	}
	if toolErr.Type != ToolErrorInvalidInput {
		t.Errorf("Type = %v, want ToolErrorInvalidInput", toolErr.Type)
	}
}

func TestDispatcher_SuccessfulExecution(t *testing.T) {
	d := newTestDispatcher(t, &echoTool{}, time.Second)
	result, err := d.Dispatch(context.Background(), evidence.ToolCall{
		Name:      "echo",
		Arguments: map[string]any{"text": "hello"},
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if result.Content != "hello" {
		t.Errorf("Content = %q, want hello", result.Content)
	}
}

func TestDispatcher_Timeout(t *testing.T) {
	d := newTestDispatcher(t, &echoTool{delay: 50 * time.Millisecond}, 5*time.Millisecond)
	_, err := d.Dispatch(context.Background(), evidence.ToolCall{
		Name:      "echo",
		Arguments: map[string]any{"text": "slow"},
	})
	if !errors.Is(err, ErrToolTimeout) {
		t.Fatalf("expected ErrToolTimeout, got %v", err)
	}
}

func TestDispatcher_PanicRecovered(t *testing.T) {
	d := newTestDispatcher(t, &echoTool{panic: true}, time.Second)
	_, err := d.Dispatch(context.Background(), evidence.ToolCall{
		Name:      "echo",
		Arguments: map[string]any{"text": "x"},
	})
	if !errors.Is(err, ErrToolPanic) {
		t.Fatalf("expected ErrToolPanic, got %v", err)
	}
}

func TestDispatcher_ParentCancellation(t *testing.T) {
	d := newTestDispatcher(t, &echoTool{delay: time.Second}, 5*time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := d.Dispatch(ctx, evidence.ToolCall{
		Name:      "echo",
		Arguments: map[string]any{"text": "x"},
	})
	if err != nil {
		t.Fatalf("expected no error on parent cancellation, got %v", err)
	}
	if !result.IsError {
		t.Error("expected a cancellation-marker error result")
	}
}

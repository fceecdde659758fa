package agent

import (
	"context"
	"encoding/json"
)

// Tool defines the interface for one of the three recognized tools in
// spec.md §4.2 (knowledge_retrieval, code_execution, judge_sufficiency).
type Tool interface {
	// Name returns the tool name as it appears in a parsed <tool_call> block.
	Name() string

	// Description returns a natural-language summary for the system prompt.
	Description() string

	// InputSchema returns the JSON Schema the Dispatcher validates arguments
	// against before Execute is called.
	InputSchema() json.RawMessage

	// Execute runs the tool. params has already been validated against
	// InputSchema. Implementations must return promptly on ctx
	// cancellation rather than retry or block on in-flight side effects.
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// ToolResult is the normalized output of a tool dispatch.
type ToolResult struct {
	// Content is the tool's textual output, placed into a new tool-role
	// transcript entry (spec.md §4.3.1 TOOL_CALLING→OBSERVING).
	Content string

	// IsError marks Content as an error message rather than a result.
	IsError bool

	// Structured carries the tool's decoded payload when it has one (e.g.
	// the Judgment from judge_sufficiency, or the evidence records from
	// knowledge_retrieval), for callers that need more than text.
	Structured any
}

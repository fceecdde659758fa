package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/nexus/pkg/evidence"
)

const (
	toolCallOpenTag  = "<tool_call>"
	toolCallCloseTag = "</tool_call>"
)

// ToolCallParser accumulates streamed Delta content across calls and tracks
// whether it is currently inside a <tool_call>...</tool_call> block,
// grounded on the teacher's streaming content accumulation in
// internal/agent/loop.go's streamPhase. The backend is opaque generic
// chat-completions (spec.md §4.1), so tool calls arrive as inline delimited
// text rather than a vendor structured tool-use field — this parser is what
// turns that text back into a evidence.ToolCall.
type ToolCallParser struct {
	inBlock  bool
	blockBuf strings.Builder
}

// NewToolCallParser returns a parser ready to consume one round's deltas.
func NewToolCallParser() *ToolCallParser {
	return &ToolCallParser{}
}

// Feed appends a content fragment and returns any plain (non-tool-call) text
// that should be streamed to the client immediately, plus a completed
// evidence.ToolCall if the closing delimiter was just seen. Plain text before
// an opening delimiter and a call completed in the same fragment are returned
// together; once a call is returned, any text after its closing delimiter in
// that fragment is discarded. A delimiter is recognized only when the whole
// tag lies inside one fragment; a tag split across two Feed calls is not.
func (p *ToolCallParser) Feed(content string) (plainText string, call *evidence.ToolCall, parseErr error) {
	remaining := content

	for {
		if !p.inBlock {
			idx := strings.Index(remaining, toolCallOpenTag)
			if idx < 0 {
				plainText += remaining
				return plainText, call, parseErr
			}
			plainText += remaining[:idx]
			remaining = remaining[idx+len(toolCallOpenTag):]
			p.inBlock = true
			p.blockBuf.Reset()
			continue
		}

		idx := strings.Index(remaining, toolCallCloseTag)
		if idx < 0 {
			p.blockBuf.WriteString(remaining)
			return plainText, call, parseErr
		}
		p.blockBuf.WriteString(remaining[:idx])
		remaining = remaining[idx+len(toolCallCloseTag):]
		p.inBlock = false

		parsed, err := parseToolCallBlock(p.blockBuf.String())
		p.blockBuf.Reset()
		if err != nil {
			// Malformed JSON inside a complete block: does not abort the
			// round (spec.md §4.3.4). The caller turns parseErr into a
			// tool_error event and advances to JUDGING with an empty
			// observation; it keeps scanning the rest of remaining for
			// plain text or a subsequent block.
			parseErr = err
			continue
		}
		call = parsed
		return plainText, call, parseErr
	}
}

// InBlock reports whether the parser is mid-block: an opening delimiter has
// been seen and its closing delimiter has not.
func (p *ToolCallParser) InBlock() bool {
	return p.inBlock
}

type toolCallWireFormat struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

func parseToolCallBlock(raw string) (*evidence.ToolCall, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("empty tool_call block")
	}
	var wire toolCallWireFormat
	if err := json.Unmarshal([]byte(trimmed), &wire); err != nil {
		return nil, fmt.Errorf("decode tool_call JSON: %w", err)
	}
	if wire.Name == "" {
		return nil, fmt.Errorf("tool_call missing name")
	}
	if wire.Arguments == nil {
		wire.Arguments = map[string]any{}
	}
	return &evidence.ToolCall{Name: wire.Name, Arguments: wire.Arguments}, nil
}

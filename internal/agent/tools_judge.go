package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/nexus/internal/llmclient"
)

// judgeSystemPrompt instructs the backend to return exactly one JSON object
// and nothing else, so the tool can parse it without a second delimiter
// scan like the main transcript's <tool_call> parsing.
const judgeSystemPrompt = `You are judging whether the evidence gathered so far is sufficient to answer the user's question.
Respond with exactly one JSON object and nothing else, of the form:
{"can_answer": bool, "confidence": number between 0 and 1, "reason": string, "missing_info": string}
missing_info may be empty when can_answer is true.`

// JudgeSufficiencyTool implements the judge_sufficiency tool (spec.md §4.2):
// a second, shorter LLM call through C1 used to decide whether the
// orchestrator should move to ANSWERING or run another round.
type JudgeSufficiencyTool struct {
	client llmclient.Client
	config llmclient.GenerationConfig
}

// NewJudgeSufficiencyTool constructs the tool with a judge-specific
// generation config (typically lower max_tokens than the main loop's, since
// the judge's output is a small fixed-shape JSON object).
func NewJudgeSufficiencyTool(client llmclient.Client, config llmclient.GenerationConfig) *JudgeSufficiencyTool {
	return &JudgeSufficiencyTool{client: client, config: config}
}

func (t *JudgeSufficiencyTool) Name() string { return "judge_sufficiency" }

func (t *JudgeSufficiencyTool) Description() string {
	return "Evaluates whether the evidence gathered so far is sufficient to answer the question, or whether another round of retrieval/execution is needed."
}

func (t *JudgeSufficiencyTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "question": {
      "type": "string",
      "description": "The original user question"
    },
    "evidence_summary": {
      "type": "string",
      "description": "A summary of the evidence gathered in this session so far"
    }
  },
  "required": ["question", "evidence_summary"]
}`)
}

type judgeSufficiencyInput struct {
	Question        string `json:"question"`
	EvidenceSummary string `json:"evidence_summary"`
}

// judgmentPayload is the small fixed-shape JSON object the judge prompt asks
// the backend to return, decoded into the shared evidence.Judgment shape by
// the caller via Structured.
type judgmentPayload struct {
	CanAnswer   bool    `json:"can_answer"`
	Confidence  float64 `json:"confidence"`
	Reason      string  `json:"reason"`
	MissingInfo string  `json:"missing_info"`
}

func (t *JudgeSufficiencyTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	var input judgeSufficiencyInput
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("invalid judge_sufficiency arguments: %w", err)
	}
	if strings.TrimSpace(input.Question) == "" {
		return nil, fmt.Errorf("question is required")
	}

	req := llmclient.ChatRequest{
		Messages: []llmclient.Message{
			{Role: "system", Content: judgeSystemPrompt},
			{Role: "user", Content: fmt.Sprintf("Question: %s\n\nEvidence gathered:\n%s", input.Question, input.EvidenceSummary)},
		},
		Config: t.config,
	}

	deltas, err := t.client.StreamChat(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("judge stream chat: %w", err)
	}

	var buf strings.Builder
	for delta := range deltas {
		if delta.Err != nil {
			return nil, fmt.Errorf("judge stream: %w", delta.Err)
		}
		buf.WriteString(delta.Content)
	}

	payload, err := parseJudgmentPayload(buf.String())
	if err != nil {
		return &ToolResult{
			Content: fmt.Sprintf("judge produced unparseable output: %v", err),
			IsError: true,
		}, nil
	}

	content, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal judgment: %w", err)
	}

	return &ToolResult{Content: string(content), Structured: payload}, nil
}

// parseJudgmentPayload extracts the judge's JSON object even if the backend
// wrapped it in whitespace or a code fence: it finds the first '{' and the
// last '}' and decodes the slice between.
func parseJudgmentPayload(raw string) (judgmentPayload, error) {
	var payload judgmentPayload
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return payload, fmt.Errorf("no JSON object found in judge output")
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &payload); err != nil {
		return payload, fmt.Errorf("decode judgment JSON: %w", err)
	}
	return payload, nil
}

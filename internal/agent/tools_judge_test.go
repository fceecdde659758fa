package agent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/haasonsaas/nexus/internal/llmclient"
)

func TestJudgeSufficiency_ParsesWellFormedJSON(t *testing.T) {
	fake := &llmclient.FakeClient{
		Scripts: [][]llmclient.Delta{
			{{Content: `{"can_answer": true, "confidence": 0.92, "reason": "evidence covers the question", "missing_info": ""}`}, {Done: true}},
		},
	}
	tool := NewJudgeSufficiencyTool(fake, llmclient.GenerationConfig{MaxTokens: 200})

	params, _ := json.Marshal(map[string]any{"question": "what is the refund window?", "evidence_summary": "policy doc: 30 days"})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", result.Content)
	}
	payload, ok := result.Structured.(judgmentPayload)
	if !ok {
		t.Fatalf("Structured = %T, want judgmentPayload", result.Structured)
	}
	if !payload.CanAnswer {
		t.Error("expected CanAnswer = true")
	}
	if payload.Confidence != 0.92 {
		t.Errorf("Confidence = %v, want 0.92", payload.Confidence)
	}
}

func TestJudgeSufficiency_TolerantOfSurroundingText(t *testing.T) {
	fake := &llmclient.FakeClient{
		Scripts: [][]llmclient.Delta{
			{{Content: "Here is my judgment:\n```json\n"}, {Content: `{"can_answer": false, "confidence": 0.4, "reason": "missing date range", "missing_info": "date range"}`}, {Content: "\n```"}, {Done: true}},
		},
	}
	tool := NewJudgeSufficiencyTool(fake, llmclient.GenerationConfig{})

	params, _ := json.Marshal(map[string]any{"question": "q", "evidence_summary": "s"})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	payload := result.Structured.(judgmentPayload)
	if payload.CanAnswer {
		t.Error("expected CanAnswer = false")
	}
	if payload.MissingInfo != "date range" {
		t.Errorf("MissingInfo = %q, want %q", payload.MissingInfo, "date range")
	}
}

func TestJudgeSufficiency_MalformedOutputIsErrorResult(t *testing.T) {
	fake := &llmclient.FakeClient{
		Scripts: [][]llmclient.Delta{
			{{Content: "I cannot produce JSON right now."}, {Done: true}},
		},
	}
	tool := NewJudgeSufficiencyTool(fake, llmclient.GenerationConfig{})

	params, _ := json.Marshal(map[string]any{"question": "q", "evidence_summary": "s"})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute should not return a Go error for malformed judge output: %v", err)
	}
	if !result.IsError {
		t.Error("expected IsError for malformed judge output")
	}
}

func TestJudgeSufficiency_QuestionRequired(t *testing.T) {
	fake := &llmclient.FakeClient{}
	tool := NewJudgeSufficiencyTool(fake, llmclient.GenerationConfig{})
	params, _ := json.Marshal(map[string]any{"question": "", "evidence_summary": "s"})
	if _, err := tool.Execute(context.Background(), params); err == nil {
		t.Fatal("expected error for empty question")
	}
}

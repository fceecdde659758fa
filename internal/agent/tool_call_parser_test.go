package agent

import (
	"testing"
)

func TestToolCallParser_PlainTextOnly(t *testing.T) {
	p := NewToolCallParser()
	text, call, err := p.Feed("the answer is 42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if call != nil {
		t.Fatal("expected no tool call")
	}
	if text != "the answer is 42" {
		t.Errorf("text = %q", text)
	}
}

func TestToolCallParser_CompleteBlockInOneFeed(t *testing.T) {
	p := NewToolCallParser()
	text, call, err := p.Feed(`before <tool_call>{"name": "knowledge_retrieval", "arguments": {"query": "q"}}</tool_call> after`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if call == nil {
		t.Fatal("expected a parsed tool call")
	}
	if call.Name != "knowledge_retrieval" {
		t.Errorf("Name = %q", call.Name)
	}
	if call.Arguments["query"] != "q" {
		t.Errorf("Arguments[query] = %v", call.Arguments["query"])
	}
	if text != "before " {
		t.Errorf("text = %q, want %q", text, "before ")
	}
}

func TestToolCallParser_BlockSplitAcrossFeeds(t *testing.T) {
	p := NewToolCallParser()

	text1, call1, err1 := p.Feed(`thinking... <tool_call>{"name": "code_execution",`)
	if err1 != nil {
		t.Fatalf("unexpected error: %v", err1)
	}
	if call1 != nil {
		t.Fatal("expected no call yet, block not closed")
	}
	if !p.InBlock() {
		t.Fatal("expected parser to be inside a block")
	}
	if text1 != "thinking... " {
		t.Errorf("text1 = %q", text1)
	}

	text2, call2, err2 := p.Feed(` "arguments": {"language": "python", "code": "1+1"}}</tool_call>`)
	if err2 != nil {
		t.Fatalf("unexpected error: %v", err2)
	}
	if call2 == nil {
		t.Fatal("expected a parsed tool call once block closes")
	}
	if call2.Name != "code_execution" {
		t.Errorf("Name = %q", call2.Name)
	}
	if text2 != "" {
		t.Errorf("text2 = %q, want empty (all of it was inside the block)", text2)
	}
	if p.InBlock() {
		t.Fatal("expected parser to have exited the block")
	}
}

func TestToolCallParser_MalformedJSONDoesNotAbort(t *testing.T) {
	p := NewToolCallParser()
	text, call, err := p.Feed(`<tool_call>{not valid json}</tool_call> continuing`)
	if err == nil {
		t.Fatal("expected a parse error for malformed JSON")
	}
	if call != nil {
		t.Fatal("expected no tool call from a malformed block")
	}
	if text != " continuing" {
		t.Errorf("text = %q, want %q", text, " continuing")
	}
}

func TestToolCallParser_MissingNameIsError(t *testing.T) {
	p := NewToolCallParser()
	_, call, err := p.Feed(`<tool_call>{"arguments": {}}</tool_call>`)
	if err == nil {
		t.Fatal("expected error for missing name")
	}
	if call != nil {
		t.Fatal("expected no tool call")
	}
}

func TestToolCallParser_MultipleBlocksSequentially(t *testing.T) {
	p := NewToolCallParser()
	_, call1, err1 := p.Feed(`<tool_call>{"name": "a", "arguments": {}}</tool_call>`)
	if err1 != nil || call1 == nil || call1.Name != "a" {
		t.Fatalf("first block: call=%v err=%v", call1, err1)
	}
	_, call2, err2 := p.Feed(`<tool_call>{"name": "b", "arguments": {}}</tool_call>`)
	if err2 != nil || call2 == nil || call2.Name != "b" {
		t.Fatalf("second block: call=%v err=%v", call2, err2)
	}
}

package llmclient

import (
	"context"
	"strings"
	"testing"
)

func TestFakeClient_ScriptsInOrder(t *testing.T) {
	f := &FakeClient{
		Scripts: [][]Delta{
			{{Content: "first"}, {Done: true}},
			{{Content: "second"}, {Done: true}},
		},
	}

	ctx := context.Background()
	ch, err := f.StreamChat(ctx, ChatRequest{})
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}
	var got []string
	for d := range ch {
		if d.Content != "" {
			got = append(got, d.Content)
		}
	}
	if len(got) != 1 || got[0] != "first" {
		t.Fatalf("got %v, want [first]", got)
	}

	ch2, _ := f.StreamChat(ctx, ChatRequest{})
	var got2 []string
	for d := range ch2 {
		if d.Content != "" {
			got2 = append(got2, d.Content)
		}
	}
	if len(got2) != 1 || got2[0] != "second" {
		t.Fatalf("got %v, want [second]", got2)
	}
}

func TestFakeClient_RepeatsLastScript(t *testing.T) {
	f := &FakeClient{Scripts: [][]Delta{{{Content: "only"}, {Done: true}}}}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ch, _ := f.StreamChat(ctx, ChatRequest{})
		var buf strings.Builder
		for d := range ch {
			buf.WriteString(d.Content)
		}
		if buf.String() != "only" {
			t.Fatalf("call %d: got %q, want %q", i, buf.String(), "only")
		}
	}
	if len(f.Requests) != 3 {
		t.Fatalf("Requests recorded = %d, want 3", len(f.Requests))
	}
}

func TestFakeClient_ContextCancelled(t *testing.T) {
	f := &FakeClient{Scripts: [][]Delta{{{Content: "a"}, {Content: "b"}, {Done: true}}}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ch, err := f.StreamChat(ctx, ChatRequest{})
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}
	for range ch {
		t.Fatal("expected no deltas once context is already cancelled")
	}
}

func TestGenerationConfig_Clone(t *testing.T) {
	orig := GenerationConfig{Temperature: 0.7, StopTokens: []string{"</s>"}}
	clone := orig.Clone()
	clone.StopTokens[0] = "mutated"

	if orig.StopTokens[0] != "</s>" {
		t.Fatalf("Clone should not share backing array: original mutated to %q", orig.StopTokens[0])
	}
}

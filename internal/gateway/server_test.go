package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/nexus/internal/agent"
	"github.com/haasonsaas/nexus/internal/citations"
	"github.com/haasonsaas/nexus/internal/config"
	"github.com/haasonsaas/nexus/internal/llmclient"
	"github.com/haasonsaas/nexus/pkg/evidence"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.MaxConcurrentRequests = 1
	cfg.Server.AdmissionTimeoutSeconds = 1
	cfg.Orchestrator.MaxRounds = 2
	cfg.Orchestrator.RequestWallClockSeconds = 5
	cfg.Citations.TTLSeconds = 60
	cfg.LLM.BaseURL = "http://example.invalid"
	return &cfg
}

func newTestServer(t *testing.T, client llmclient.Client) *Server {
	t.Helper()
	cfg := testConfig()

	registry := agent.NewToolRegistry()
	registry.Register(agent.NewKnowledgeRetrievalTool(stubRetrieval{}, nil))
	registry.Register(agent.NewJudgeSufficiencyTool(client, llmclient.GenerationConfig{MaxTokens: 100}))

	store := citations.NewMemoryStore(cfg.Citations.TTL())
	srv, err := New(cfg, client, registry, store)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return srv
}

type stubRetrieval struct{}

func (stubRetrieval) Search(ctx context.Context, query string, datasetIDs []string, limit int) ([]agent.RetrievedPassage, error) {
	return []agent.RetrievedPassage{{ID: "p1", Title: "Doc", Content: "Some content.", Score: 0.8}}, nil
}

func readSSEFrames(t *testing.T, body []byte) []evidence.StreamEvent {
	t.Helper()
	var events []evidence.StreamEvent
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev evidence.StreamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("unmarshal frame %q: %v", line, err)
		}
		events = append(events, ev)
	}
	return events
}

func TestHandleChatStream_HappyPath(t *testing.T) {
	client := &llmclient.FakeClient{
		Scripts: [][]llmclient.Delta{
			{{Content: "I know the answer already."}, {Done: true}},
			{{Content: `{"can_answer": true, "confidence": 0.9, "reason": "clear", "missing_info": ""}`}, {Done: true}},
		},
	}
	srv := newTestServer(t, client)
	ts := httptest.NewServer(http.HandlerFunc(srv.handleChatStream))
	defer ts.Close()

	resp, err := http.Post(ts.URL, "application/json", strings.NewReader(`{"question": "What is the refund window?"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	events := readSSEFrames(t, buf.Bytes())

	terminalCount := 0
	for _, ev := range events {
		if ev.Type.Terminal() {
			terminalCount++
		}
	}
	if terminalCount != 1 {
		t.Errorf("expected exactly one terminal event, got %d", terminalCount)
	}
	if events[len(events)-1].Type != evidence.EventCompleted {
		t.Errorf("expected completed to be last event, got %s", events[len(events)-1].Type)
	}
}

func TestHandleChatStream_RejectsMissingQuestion(t *testing.T) {
	srv := newTestServer(t, &llmclient.FakeClient{})
	ts := httptest.NewServer(http.HandlerFunc(srv.handleChatStream))
	defer ts.Close()

	resp, err := http.Post(ts.URL, "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

// TestHandleChatStream_BusyWhenSaturated exercises spec.md §8 property 8: a
// request arriving when the admission semaphore is exhausted gets an
// in-band busy stream, HTTP 200.
func TestHandleChatStream_BusyWhenSaturated(t *testing.T) {
	srv := newTestServer(t, &llmclient.FakeClient{})
	srv.admission <- struct{}{} // saturate the single slot

	ts := httptest.NewServer(http.HandlerFunc(srv.handleChatStream))
	defer ts.Close()

	start := time.Now()
	resp, err := http.Post(ts.URL, "application/json", strings.NewReader(`{"question": "anything"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	elapsed := time.Since(start)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200 (in-band busy, never 5xx)", resp.StatusCode)
	}
	if elapsed > 3*time.Second {
		t.Errorf("busy response took %v, want close to the 1s admission timeout", elapsed)
	}

	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	events := readSSEFrames(t, buf.Bytes())
	if len(events) != 2 {
		t.Fatalf("expected exactly 2 frames (error, completed), got %d", len(events))
	}
	if events[0].Type != evidence.EventError || events[1].Type != evidence.EventCompleted {
		t.Errorf("got %v, %v", events[0].Type, events[1].Type)
	}
}

func TestHandleCitation_NotFound(t *testing.T) {
	srv := newTestServer(t, &llmclient.FakeClient{})
	ts := httptest.NewServer(http.HandlerFunc(srv.handleCitation))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/citation/does-not-exist?session_id=sess-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestHandleCitation_RoundTrip(t *testing.T) {
	srv := newTestServer(t, &llmclient.FakeClient{})
	_ = srv.citationStore.Put("sess-1", "e1", evidence.EvidenceRecord{ID: "e1", Title: "Doc", FullContent: "full text here"})

	ts := httptest.NewServer(http.HandlerFunc(srv.handleCitation))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/citation/e1?session_id=sess-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var got citationResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.FullContent != "full text here" {
		t.Errorf("got %+v", got)
	}
}

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(t, &llmclient.FakeClient{})
	ts := httptest.NewServer(http.HandlerFunc(srv.handleHealth))
	defer ts.Close()

	resp, err := http.Get(ts.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var got healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.MaxConcurrent != 1 {
		t.Errorf("max_concurrent = %d, want 1", got.MaxConcurrent)
	}
	if got.Status != "ok" {
		t.Errorf("status = %q", got.Status)
	}
}

func TestHandleSessions_EmptySnapshot(t *testing.T) {
	srv := newTestServer(t, &llmclient.FakeClient{})
	ts := httptest.NewServer(http.HandlerFunc(srv.handleSessions))
	defer ts.Close()

	resp, err := http.Get(ts.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var got []evidence.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no active sessions, got %d", len(got))
	}
}

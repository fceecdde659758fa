// Package evidence defines the data model shared across the reasoning
// orchestrator, the request pipeline, and the citation store: sessions,
// transcript messages, tool calls, evidence records, and the SSE event
// taxonomy streamed to clients.
package evidence

import (
	"sync"
	"time"
)

// SessionStatus is the lifecycle state of a session, advancing monotonically
// from Pending to exactly one terminal status.
type SessionStatus string

const (
	SessionPending    SessionStatus = "pending"
	SessionProcessing SessionStatus = "processing"
	SessionCompleted  SessionStatus = "completed"
	SessionCancelled  SessionStatus = "cancelled"
	SessionFailed     SessionStatus = "failed"
	SessionTimedOut   SessionStatus = "timed_out"
)

// Terminal reports whether the status is one a session cannot leave.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionCompleted, SessionCancelled, SessionFailed, SessionTimedOut:
		return true
	default:
		return false
	}
}

// CancelSignal is a single observable, idempotent cancellation flag shared
// between the request pipeline and an orchestrator. Set is safe to call more
// than once and from multiple goroutines; Cancelled is a cheap non-blocking
// read suitable for the orchestrator's checkpoint discipline.
type CancelSignal struct {
	once sync.Once
	ch   chan struct{}
}

// NewCancelSignal returns a ready-to-use, unset cancellation signal.
func NewCancelSignal() *CancelSignal {
	return &CancelSignal{ch: make(chan struct{})}
}

// Set marks the signal as cancelled. Idempotent.
func (c *CancelSignal) Set() {
	c.once.Do(func() { close(c.ch) })
}

// Cancelled reports whether Set has been called.
func (c *CancelSignal) Cancelled() bool {
	select {
	case <-c.ch:
		return true
	default:
		return false
	}
}

// Done returns a channel closed when the signal is set, for use in select
// statements alongside context cancellation.
func (c *CancelSignal) Done() <-chan struct{} {
	return c.ch
}

// Session is one admitted request: its identity, question, and bookkeeping.
// The cancel field is process-local and deliberately excluded from any JSON
// encoding of the session (the /sessions endpoint reports only the exported
// fields below).
type Session struct {
	ID             string
	Question       string
	Status         SessionStatus
	StartTime      time.Time
	EndTime        *time.Time
	Rounds         int
	ConsumedTokens int

	cancel *CancelSignal
}

// NewSession constructs a session in SessionPending status with a fresh
// cancellation signal.
func NewSession(id, question string) *Session {
	return &Session{
		ID:        id,
		Question:  question,
		Status:    SessionPending,
		StartTime: time.Now(),
		cancel:    NewCancelSignal(),
	}
}

// Cancel returns the session's cancellation signal.
func (s *Session) Cancel() *CancelSignal {
	return s.cancel
}

// Snapshot is a JSON-safe, read-only copy of a session's public fields, used
// by GET /sessions.
type Snapshot struct {
	ID             string        `json:"id"`
	Question       string        `json:"question"`
	Status         SessionStatus `json:"status"`
	StartTime      time.Time     `json:"start_time"`
	EndTime        *time.Time    `json:"end_time,omitempty"`
	Rounds         int           `json:"rounds"`
	ConsumedTokens int           `json:"consumed_tokens"`
}

// Snapshot copies the session's exported fields.
func (s *Session) Snapshot() Snapshot {
	return Snapshot{
		ID:             s.ID,
		Question:       s.Question,
		Status:         s.Status,
		StartTime:      s.StartTime,
		EndTime:        s.EndTime,
		Rounds:         s.Rounds,
		ConsumedTokens: s.ConsumedTokens,
	}
}

// Role identifies the speaker of a transcript message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// TranscriptMessage is one role-tagged record in the conversation passed to
// the LLM client on every round.
type TranscriptMessage struct {
	Role    Role
	Content string
}

// ToolCall is a parsed tool invocation request: a recognized tool name and
// its argument object, as decoded from a `<tool_call>...</tool_call>` block.
type ToolCall struct {
	Name      string
	Arguments map[string]any
}

// EvidenceRecord is one retrieved snippet, keyed by a short per-session ID.
// Preview is derived, not stored independently, so it always reflects
// FullContent.
type EvidenceRecord struct {
	ID          string
	Title       string
	FullContent string
}

const previewLength = 30

// Preview returns the first ~30 characters of FullContent.
func (e EvidenceRecord) Preview() string {
	r := []rune(e.FullContent)
	if len(r) <= previewLength {
		return string(r)
	}
	return string(r[:previewLength])
}

// Citation is the compact, client-facing reference to an EvidenceRecord:
// full_content is deliberately omitted so the terminal event stays small.
type Citation struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Preview string `json:"preview"`
}

// Judgment is the structured result of the judge_sufficiency tool.
type Judgment struct {
	CanAnswer   bool    `json:"can_answer"`
	Confidence  float64 `json:"confidence"`
	Reason      string  `json:"reason"`
	MissingInfo string  `json:"missing_info,omitempty"`
}

// AnswerData carries the final answer text and its resolved citation list,
// attached only to the terminal final_answer event.
type AnswerData struct {
	Answer    string     `json:"answer"`
	Citations []Citation `json:"citations"`
}

// EventType enumerates the exhaustive SSE event taxonomy from spec.md §6.2.
type EventType string

const (
	EventInit              EventType = "init"
	EventRoundStart        EventType = "round_start"
	EventRoundEnd          EventType = "round_end"
	EventThinkingStart     EventType = "thinking_start"
	EventThinking          EventType = "thinking"
	EventToolCallStart     EventType = "tool_call_start"
	EventToolExecution     EventType = "tool_execution"
	EventPythonExecution   EventType = "python_execution"
	EventToolResult        EventType = "tool_result"
	EventToolError         EventType = "tool_error"
	EventRetrievalJudgment EventType = "retrieval_judgment"
	EventJudgmentStreaming EventType = "judgment_streaming"
	EventJudgmentResult    EventType = "judgment_result"
	EventAnswerGeneration  EventType = "answer_generation"
	EventContinueReasoning EventType = "continue_reasoning"
	EventFinalAnswerChunk  EventType = "final_answer_chunk"
	EventAnswerStreaming   EventType = "answer_streaming"
	EventTokenLimit        EventType = "token_limit"

	// Terminal event types: exactly one of these per session.
	EventFinalAnswer EventType = "final_answer"
	EventNoAnswer    EventType = "no_answer"
	EventTimeout     EventType = "timeout"
	EventCancelled   EventType = "cancelled"
	EventError       EventType = "error"

	// EventCompleted always follows exactly one terminal event.
	EventCompleted EventType = "completed"
)

// Terminal reports whether t is one of the five terminal event types.
func (t EventType) Terminal() bool {
	switch t {
	case EventFinalAnswer, EventNoAnswer, EventTimeout, EventCancelled, EventError:
		return true
	default:
		return false
	}
}

// StreamEvent is the tagged union streamed to the client as one SSE frame
// per value. Type-specific fields are flattened with `omitempty` so each
// frame only carries what its type populates.
type StreamEvent struct {
	Type      EventType `json:"type"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`

	Round       int            `json:"round,omitempty"`
	ToolName    string         `json:"tool_name,omitempty"`
	ToolArgs    map[string]any `json:"tool_args,omitempty"`
	Code        string         `json:"code,omitempty"`
	Result      string         `json:"result,omitempty"`
	IsStreaming bool           `json:"is_streaming,omitempty"`
	Accumulated string         `json:"accumulated,omitempty"`
	Judgment    *Judgment      `json:"judgment,omitempty"`
	AnswerData  *AnswerData    `json:"answer_data,omitempty"`
}

// NewEvent builds a StreamEvent stamped with the current time and session ID.
func NewEvent(sessionID string, t EventType, content string) StreamEvent {
	return StreamEvent{
		Type:      t,
		Content:   content,
		Timestamp: time.Now(),
		SessionID: sessionID,
	}
}

package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/nexus/internal/citations"
	"github.com/haasonsaas/nexus/internal/llmclient"
	"github.com/haasonsaas/nexus/internal/observability"
	"github.com/haasonsaas/nexus/pkg/evidence"
	"go.opentelemetry.io/otel/trace"
)

// EstimateTokens approximates a token count from byte length. This is
// deliberately approximate: the teacher carries no true tokenizer anywhere
// in its stack (model-reported usage is trusted when the backend provides
// it), so a rough heuristic is used only as a budget guard, never as a
// billing figure.
func EstimateTokens(s string) int {
	return len(s) / 4
}

// OrchestratorConfig holds one session's budgets (spec.md §4.3.2) and the
// generation-config template it was handed — already Clone()'d for this
// request by the caller (spec.md §4.4.2).
type OrchestratorConfig struct {
	MaxRounds              int
	MaxTokens              int
	WallClockBudget        time.Duration
	ToolTimeout            time.Duration
	GenerationConfig       llmclient.GenerationConfig
	AnswerGenerationConfig llmclient.GenerationConfig

	// Tracer emits one span per round (TraceRound) and one span per tool
	// dispatch (TraceToolExecution). Nil disables tracing entirely; callers
	// that don't care about tracing can leave this unset rather than
	// constructing a no-op observability.Tracer.
	Tracer *observability.Tracer

	// CitationStore is C5: runAnswering writes each cited EvidenceRecord's
	// full content here as soon as the answer is assembled, since AnswerData
	// only ever carries the client-facing {id, title, preview} Citation
	// (spec.md §4.3.5). Nil disables the write (the gateway is the only
	// caller that constructs an Orchestrator, and always sets this).
	CitationStore citations.Store
}

// Orchestrator drives one request's think→act→observe→judge→answer loop
// (spec.md §4.3). One instance per request, holding no state shared with
// any other in-flight request — grounded on the teacher's
// internal/agent/loop.go AgenticLoop/LoopState, generalized from its
// init/stream/execute_tools/continue/complete phases to spec.md §4.3.1's
// named states.
type Orchestrator struct {
	client     llmclient.Client
	dispatcher *Dispatcher
	toolNames  []string
	config     OrchestratorConfig
	session    *evidence.Session
}

// NewOrchestrator constructs an orchestrator for one session. toolNames
// lists the tools advertised to the model in the system prompt (a subset of
// the dispatcher's registry is fine, e.g. hiding judge_sufficiency since the
// orchestrator invokes it directly between rounds rather than letting the
// model call it).
func NewOrchestrator(client llmclient.Client, dispatcher *Dispatcher, toolNames []string, config OrchestratorConfig, session *evidence.Session) *Orchestrator {
	return &Orchestrator{
		client:     client,
		dispatcher: dispatcher,
		toolNames:  toolNames,
		config:     config,
		session:    session,
	}
}

// Run starts the state machine in a new goroutine and returns the channel
// of StreamEvents it writes to. The channel is always closed on every
// return path (defer close), matching the teacher's Run contract.
func (o *Orchestrator) Run(ctx context.Context) <-chan evidence.StreamEvent {
	out := make(chan evidence.StreamEvent, 32)
	go func() {
		defer close(out)
		o.execute(ctx, out)
	}()
	return out
}

// runState is the mutable state threaded through the state machine; kept
// separate from Orchestrator itself so Orchestrator stays reusable
// configuration and runState is strictly per-Run.
type runState struct {
	phase          Phase
	round          int
	transcript     []evidence.TranscriptMessage
	allEvidence    []evidence.EvidenceRecord
	pendingCall    *evidence.ToolCall
	consumedTokens int
	roundSpan      trace.Span
}

func (o *Orchestrator) execute(parent context.Context, out chan<- evidence.StreamEvent) {
	ctx, cancel := context.WithTimeout(parent, o.config.WallClockBudget)
	defer cancel()

	o.emit(out, 0, evidence.EventInit, "session started")

	st := &runState{
		phase: PhaseInit,
		transcript: []evidence.TranscriptMessage{
			{Role: evidence.RoleSystem, Content: o.thinkingSystemPrompt()},
			{Role: evidence.RoleUser, Content: o.session.Question},
		},
	}

	roundCtx := ctx
	defer func() {
		if st.roundSpan != nil {
			st.roundSpan.End()
		}
	}()

	for {
		if done, reason := o.checkpointTerminal(ctx); done {
			o.emitTerminal(out, st.round, reason, "")
			return
		}

		var err error
		switch st.phase {
		case PhaseInit:
			if st.roundSpan != nil {
				st.roundSpan.End()
				st.roundSpan = nil
			}
			st.round++
			o.session.Rounds = st.round
			if o.config.Tracer != nil {
				roundCtx, st.roundSpan = o.config.Tracer.TraceRound(ctx, o.session.ID, st.round)
			}
			o.emit(out, st.round, evidence.EventRoundStart, fmt.Sprintf("round %d", st.round))
			o.emit(out, st.round, evidence.EventThinkingStart, "thinking")
			st.phase = PhaseThinking

		case PhaseThinking:
			err = o.runThinking(roundCtx, out, st)

		case PhaseToolCalling:
			err = o.runToolCalling(roundCtx, out, st)

		case PhaseObserving:
			st.phase = PhaseJudging

		case PhaseJudging:
			err = o.runJudging(roundCtx, out, st)

		case PhaseAnswering:
			err = o.runAnswering(roundCtx, out, st)
			st.phase = PhaseDone

		case PhaseNoAnswer:
			o.emit(out, st.round, evidence.EventNoAnswer, "no sufficient evidence found within the round budget")
			st.phase = PhaseDone

		case PhaseDone:
			o.emit(out, st.round, evidence.EventCompleted, "")
			return

		default:
			err = fmt.Errorf("unreachable phase %s", st.phase)
		}

		if err != nil {
			if o.config.Tracer != nil && st.roundSpan != nil {
				o.config.Tracer.RecordError(st.roundSpan, err)
			}
			if !o.handleError(out, st, err) {
				o.emitTerminal(out, st.round, PhaseFailed, err.Error())
				return
			}
		}
	}
}

// checkpointTerminal implements spec.md §4.3.3 checkpoint 1 (before each new
// round) in its general form, checked at the top of every loop iteration so
// no phase can run past a cancellation or deadline.
func (o *Orchestrator) checkpointTerminal(ctx context.Context) (bool, Phase) {
	if o.session.Cancel().Cancelled() {
		return true, PhaseCancelled
	}
	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return true, PhaseTimedOut
		}
		return true, PhaseCancelled
	default:
		return false, ""
	}
}

// handleError applies spec.md §7's propagation policy: recoverable errors
// are surfaced as a tool_error-equivalent event and the loop continues (to
// JUDGING, with the round's evidence whatever it already has); everything
// else unwinds to a terminal error.
func (o *Orchestrator) handleError(out chan<- evidence.StreamEvent, st *runState, err error) (recovered bool) {
	var agentErr *AgentError
	if errors.As(err, &agentErr) && agentErr.Type.Recoverable() {
		o.emit(out, st.round, evidence.EventToolError, agentErr.Error())
		if agentErr.Type == ErrJudgeFailure {
			// A failed judge call must not be retried in place (st.round
			// does not advance in PhaseJudging) — fall through to the same
			// round-budget decision a successful-but-insufficient judgment
			// would take, rather than looping forever.
			if st.round >= o.config.MaxRounds {
				st.phase = o.answeringOrNoAnswer(st)
			} else {
				o.emit(out, st.round, evidence.EventContinueReasoning, "continuing to the next round")
				st.phase = PhaseInit
			}
		} else {
			st.phase = PhaseJudging
		}
		return true
	}
	if toolErr, ok := GetToolError(err); ok {
		o.emit(out, st.round, evidence.EventToolError, toolErr.Error())
		st.phase = PhaseJudging
		return true
	}
	return false
}

func (o *Orchestrator) emitTerminal(out chan<- evidence.StreamEvent, round int, phase Phase, message string) {
	switch phase {
	case PhaseCancelled:
		o.emit(out, round, evidence.EventCancelled, "session cancelled")
	case PhaseTimedOut:
		o.emit(out, round, evidence.EventTimeout, "wall-clock budget exceeded")
	case PhaseFailed:
		o.emit(out, round, evidence.EventError, message)
	}
	o.emit(out, round, evidence.EventCompleted, "")
}

// runThinking drives one THINKING phase: stream deltas from C1, feed them
// through a ToolCallParser, and decide the next phase per spec.md §4.3.1.
func (o *Orchestrator) runThinking(ctx context.Context, out chan<- evidence.StreamEvent, st *runState) error {
	req := llmclient.ChatRequest{
		Messages: toLLMMessages(st.transcript),
		Config:   o.config.GenerationConfig,
	}
	deltas, err := o.client.StreamChat(ctx, req)
	if err != nil {
		return NewAgentError(ErrBackendUnavailable, "thinking call failed", err)
	}

	parser := NewToolCallParser()
	var assistantText strings.Builder
	var toolCall *evidence.ToolCall
	malformedCall := false

	for delta := range deltas {
		if delta.Err != nil {
			return classifyBackendError(delta.Err)
		}

		plain, call, parseErr := parser.Feed(delta.Content)
		if plain != "" {
			assistantText.WriteString(plain)
			o.emit(out, st.round, evidence.EventThinking, plain)
		}
		if parseErr != nil {
			malformedCall = true
			o.emit(out, st.round, evidence.EventToolError, fmt.Sprintf("malformed tool call: %v", parseErr))
		}
		if call != nil {
			toolCall = call
		}

		st.consumedTokens += tokenDelta(delta, plain)

		// Checkpoint 3: after each delta received from C1.
		if o.session.Cancel().Cancelled() {
			return nil
		}

		if delta.Done {
			break
		}
	}

	st.transcript = append(st.transcript, evidence.TranscriptMessage{Role: evidence.RoleAssistant, Content: assistantText.String()})

	switch {
	case toolCall != nil:
		st.pendingCall = toolCall
		st.phase = PhaseToolCalling
	case malformedCall:
		// A malformed block goes to JUDGING with an empty observation.
		st.phase = PhaseJudging
	case strings.TrimSpace(assistantText.String()) != "":
		st.phase = PhaseJudging
	case st.round >= o.config.MaxRounds:
		st.phase = PhaseNoAnswer
	default:
		// No usable content yet and rounds remain: loop to the next round.
		st.phase = PhaseInit
	}

	if o.config.MaxTokens > 0 && st.consumedTokens >= o.config.MaxTokens {
		o.emit(out, st.round, evidence.EventTokenLimit, "token budget reached")
		st.phase = PhaseAnswering
	}

	return nil
}

// runToolCalling implements TOOL_CALLING→OBSERVING (spec.md §4.3.1).
func (o *Orchestrator) runToolCalling(ctx context.Context, out chan<- evidence.StreamEvent, st *runState) error {
	call := st.pendingCall
	st.pendingCall = nil

	o.emit(out, st.round, evidence.EventToolCallStart, call.Name)
	if call.Name == "code_execution" {
		o.emitPythonExecution(out, st.round, call)
	} else {
		o.emitWithToolCall(out, st.round, evidence.EventToolExecution, fmt.Sprintf("executing %s", call.Name), call)
	}

	// Checkpoint 2: immediately before invoking a tool via C2.
	if o.session.Cancel().Cancelled() {
		st.phase = PhaseJudging
		return nil
	}

	dispatchCtx := ctx
	var toolSpan trace.Span
	if o.config.Tracer != nil {
		dispatchCtx, toolSpan = o.config.Tracer.TraceToolExecution(ctx, call.Name)
	}
	result, err := o.dispatcher.Dispatch(dispatchCtx, *call)
	if toolSpan != nil {
		if err != nil {
			o.config.Tracer.RecordError(toolSpan, err)
		}
		toolSpan.End()
	}
	if err != nil {
		o.emit(out, st.round, evidence.EventToolError, err.Error())
		st.transcript = append(st.transcript, evidence.TranscriptMessage{Role: evidence.RoleTool, Content: ""})
		st.phase = PhaseJudging
		return nil
	}

	o.emit(out, st.round, evidence.EventToolResult, result.Content)
	st.transcript = append(st.transcript, evidence.TranscriptMessage{Role: evidence.RoleTool, Content: result.Content})

	if call.Name == "knowledge_retrieval" {
		if passages, ok := result.Structured.([]RetrievedPassage); ok {
			for _, p := range passages {
				st.allEvidence = append(st.allEvidence, evidence.EvidenceRecord{ID: p.ID, Title: p.Title, FullContent: p.Content})
			}
		}
	}

	st.phase = PhaseObserving
	return nil
}

// runJudging implements OBSERVING→JUDGING (spec.md §4.3.1): invoke
// judge_sufficiency directly (the orchestrator calls it between rounds; it
// is not left for the model to request via a <tool_call> block).
func (o *Orchestrator) runJudging(ctx context.Context, out chan<- evidence.StreamEvent, st *runState) error {
	o.emit(out, st.round, evidence.EventJudgmentStreaming, "evaluating evidence sufficiency")

	call := evidence.ToolCall{
		Name: "judge_sufficiency",
		Arguments: map[string]any{
			"question":         o.session.Question,
			"evidence_summary": summarizeEvidence(st.allEvidence),
		},
	}
	result, err := o.dispatcher.Dispatch(ctx, call)
	if err != nil {
		return NewAgentError(ErrJudgeFailure, "judge_sufficiency dispatch failed", err)
	}

	payload, ok := result.Structured.(judgmentPayload)
	if !ok || result.IsError {
		// Judge produced unparseable output: treat as insufficient rather
		// than failing the session (spec.md §7's JudgeFailure is
		// recoverable).
		o.emit(out, st.round, evidence.EventJudgmentResult, result.Content)
		if st.round >= o.config.MaxRounds {
			st.phase = o.answeringOrNoAnswer(st)
			return nil
		}
		o.emit(out, st.round, evidence.EventContinueReasoning, "continuing to the next round")
		st.phase = PhaseInit
		return nil
	}

	judgment := &evidence.Judgment{
		CanAnswer:   payload.CanAnswer,
		Confidence:  payload.Confidence,
		Reason:      payload.Reason,
		MissingInfo: payload.MissingInfo,
	}
	o.emit(out, st.round, evidence.EventJudgmentResult, judgment.Reason)
	out <- evidence.StreamEvent{
		Type:      evidence.EventJudgmentResult,
		Content:   judgment.Reason,
		Timestamp: time.Now(),
		SessionID: o.session.ID,
		Round:     st.round,
		Judgment:  judgment,
	}

	switch {
	case judgment.CanAnswer:
		st.phase = PhaseAnswering
	case st.round >= o.config.MaxRounds:
		st.phase = o.answeringOrNoAnswer(st)
	default:
		o.emit(out, st.round, evidence.EventContinueReasoning, "continuing to the next round")
		st.phase = PhaseInit
	}
	return nil
}

// answeringOrNoAnswer implements the JUDGING→ANSWERING "round budget
// reached with some evidence present" branch vs. NO_ANSWER otherwise.
func (o *Orchestrator) answeringOrNoAnswer(st *runState) Phase {
	if len(st.allEvidence) > 0 {
		return PhaseAnswering
	}
	return PhaseNoAnswer
}

// runAnswering implements ANSWERING (spec.md §4.3.1 / §4.3.5): a final LLM
// call with an answer-generation prompt, streamed chunk by chunk, then
// citation assembly and a single final_answer event.
func (o *Orchestrator) runAnswering(ctx context.Context, out chan<- evidence.StreamEvent, st *runState) error {
	o.emit(out, st.round, evidence.EventAnswerGeneration, "generating final answer")

	messages := append(toLLMMessages(st.transcript), llmclient.Message{Role: "system", Content: o.answerSystemPrompt()})
	req := llmclient.ChatRequest{Messages: messages, Config: o.config.AnswerGenerationConfig}

	deltas, err := o.client.StreamChat(ctx, req)
	if err != nil {
		return NewAgentError(ErrBackendUnavailable, "answer generation call failed", err)
	}

	var answer strings.Builder
	for delta := range deltas {
		if delta.Err != nil {
			return classifyBackendError(delta.Err)
		}
		if delta.Content != "" {
			answer.WriteString(delta.Content)
			out <- evidence.StreamEvent{
				Type:        evidence.EventFinalAnswerChunk,
				Content:     delta.Content,
				Timestamp:   time.Now(),
				SessionID:   o.session.ID,
				Round:       st.round,
				IsStreaming: true,
				Accumulated: answer.String(),
			}
		}
		// Checkpoint 3: after each delta, during ANSWERING too.
		if o.session.Cancel().Cancelled() {
			return nil
		}
		if delta.Done {
			break
		}
	}

	cites := CollectCitations(answer.String(), st.allEvidence)
	o.storeCitations(cites, st.allEvidence)
	answerData := &evidence.AnswerData{Answer: answer.String(), Citations: cites}
	out <- evidence.StreamEvent{
		Type:       evidence.EventFinalAnswer,
		Content:    answer.String(),
		Timestamp:  time.Now(),
		SessionID:  o.session.ID,
		Round:      st.round,
		AnswerData: answerData,
	}
	return nil
}

func (o *Orchestrator) thinkingSystemPrompt() string {
	return fmt.Sprintf(
		"You are an evidence-grounded reasoning assistant. Available tools: %s. "+
			"To call a tool, emit exactly one <tool_call>{\"name\": \"...\", \"arguments\": {...}}</tool_call> block "+
			"and nothing else in that turn. Otherwise respond with your reasoning in plain text.",
		strings.Join(o.toolNames, ", "),
	)
}

func (o *Orchestrator) answerSystemPrompt() string {
	return "Write the final answer to the user's question using only the evidence gathered above. " +
		"Cite the evidence you rely on using inline markers like [1], [2], numbered in the order the " +
		"evidence was gathered. Do not cite evidence you did not use."
}

func (o *Orchestrator) emit(out chan<- evidence.StreamEvent, round int, t evidence.EventType, content string) {
	ev := evidence.NewEvent(o.session.ID, t, content)
	ev.Round = round
	out <- ev
}

func (o *Orchestrator) emitWithToolCall(out chan<- evidence.StreamEvent, round int, t evidence.EventType, content string, call *evidence.ToolCall) {
	ev := evidence.NewEvent(o.session.ID, t, content)
	ev.Round = round
	ev.ToolName = call.Name
	ev.ToolArgs = call.Arguments
	out <- ev
}

// emitPythonExecution emits spec.md §6.2's python_execution progress event
// for a code_execution tool call, carrying the source under Code instead of
// the generic tool_execution event's bare ToolArgs.
func (o *Orchestrator) emitPythonExecution(out chan<- evidence.StreamEvent, round int, call *evidence.ToolCall) {
	ev := evidence.NewEvent(o.session.ID, evidence.EventPythonExecution, fmt.Sprintf("executing %s", call.Name))
	ev.Round = round
	ev.ToolName = call.Name
	ev.ToolArgs = call.Arguments
	if code, ok := call.Arguments["code"].(string); ok {
		ev.Code = code
	}
	out <- ev
}

// storeCitations deposits each cited EvidenceRecord's full content into C5
// (spec.md §4.3.5, §6.1): the only source of truth for full content is
// allEvidence, since AnswerData.Citations deliberately carries just
// {id, title, preview} to the client.
func (o *Orchestrator) storeCitations(cites []evidence.Citation, allEvidence []evidence.EvidenceRecord) {
	if o.config.CitationStore == nil || len(cites) == 0 {
		return
	}
	byID := make(map[string]evidence.EvidenceRecord, len(allEvidence))
	for _, rec := range allEvidence {
		byID[rec.ID] = rec
	}
	for _, c := range cites {
		rec, ok := byID[c.ID]
		if !ok {
			continue
		}
		_ = o.config.CitationStore.Put(o.session.ID, c.ID, rec)
	}
}

func toLLMMessages(transcript []evidence.TranscriptMessage) []llmclient.Message {
	messages := make([]llmclient.Message, 0, len(transcript))
	for _, m := range transcript {
		messages = append(messages, llmclient.Message{Role: string(m.Role), Content: m.Content})
	}
	return messages
}

func summarizeEvidence(records []evidence.EvidenceRecord) string {
	if len(records) == 0 {
		return "(no evidence gathered yet)"
	}
	var b strings.Builder
	for i, r := range records {
		fmt.Fprintf(&b, "[%d] %s: %s\n", i+1, r.Title, r.Preview())
	}
	return b.String()
}

func tokenDelta(delta llmclient.Delta, plain string) int {
	if delta.Done && (delta.InputTokens > 0 || delta.OutputTokens > 0) {
		return delta.InputTokens + delta.OutputTokens
	}
	return EstimateTokens(plain)
}

func classifyBackendError(err error) error {
	var backendErr *llmclient.BackendError
	if errors.As(err, &backendErr) {
		return NewAgentError(ErrBackendError, "backend returned an error status", err)
	}
	if errors.Is(err, llmclient.ErrBackendUnavailable) {
		return NewAgentError(ErrBackendUnavailable, "backend unavailable", err)
	}
	return NewAgentError(ErrInternal, "unexpected stream error", err)
}

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/nexus/internal/agent"
	"github.com/haasonsaas/nexus/internal/citations"
	"github.com/haasonsaas/nexus/internal/llmclient"
	"github.com/haasonsaas/nexus/pkg/evidence"
)

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/chat/stream", s.handleChatStream)
	mux.HandleFunc("/citation/", s.handleCitation)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/sessions", s.handleSessions)
	mux.Handle("/metrics", promhttp.Handler())
}

// chatRequest is POST /chat/stream's body (spec.md §6.1).
type chatRequest struct {
	Question        string   `json:"question"`
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"top_p,omitempty"`
	PresencePenalty *float64 `json:"presence_penalty,omitempty"`
	MaxTokens       *int     `json:"max_tokens,omitempty"`
	SessionID       string   `json:"session_id,omitempty"`
}

// handleChatStream implements C4's admission + streaming contract (spec.md
// §4.4.1, §4.4.4).
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		http.Error(w, "question is required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	admissionCtx, cancelAdmission := context.WithTimeout(r.Context(), s.cfg.Server.AdmissionTimeout())
	defer cancelAdmission()

	select {
	case s.admission <- struct{}{}:
		s.metrics.AvailableSlots.Set(float64(cap(s.admission) - len(s.admission)))
	case <-admissionCtx.Done():
		s.metrics.SessionsBusy.Inc()
		s.writeBusyStream(w, flusher)
		return
	}
	defer func() {
		<-s.admission
		s.metrics.AvailableSlots.Set(float64(cap(s.admission) - len(s.admission)))
	}()

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = newSessionID()
	}
	session := evidence.NewSession(sessionID, req.Question)
	session.Status = evidence.SessionProcessing

	s.registerSession(session)
	s.metrics.SessionsStarted.Inc()
	started := time.Now()
	defer func() {
		s.citationStore.MarkTerminal(sessionID, time.Now())
		s.unregisterSession(sessionID)
	}()

	genConfig := s.cfg.LLM.GenerationConfig().Clone()
	applyOverrides(&genConfig, req)

	orchConfig := agent.OrchestratorConfig{
		MaxRounds:              s.cfg.Orchestrator.MaxRounds,
		MaxTokens:              s.cfg.Orchestrator.MaxTokens,
		WallClockBudget:        s.cfg.Orchestrator.WallClockBudget(),
		ToolTimeout:            toolDispatchTimeout(s.cfg),
		GenerationConfig:       genConfig,
		AnswerGenerationConfig: genConfig,
		Tracer:                 s.tracer,
		CitationStore:          s.citationStore,
	}
	orch := agent.NewOrchestrator(s.client, s.dispatcher, s.modelTools, orchConfig, session)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// r.Context() is cancelled on client disconnect (spec.md §4.4.3); this
	// watcher goroutine copies that onto the session's cancel signal, so the
	// orchestrator observes disconnection at its next checkpoint. It exits
	// when either the request context or the signal fires.
	go func() {
		select {
		case <-r.Context().Done():
			session.Cancel().Set()
		case <-session.Cancel().Done():
		}
	}()

	outcome := "error"
	sawTerminal := false
	for ev := range orch.Run(r.Context()) {
		writeSSE(w, ev)
		flusher.Flush()

		if ev.Type.Terminal() {
			sawTerminal = true
			outcome = string(ev.Type)
		}
	}

	// Terminal-event guarantee (spec.md §4.4.4): if the orchestrator's
	// channel closed without ever emitting a terminal event, synthesize one
	// so the client's stream always ends cleanly.
	if !sawTerminal {
		writeSSE(w, evidence.NewEvent(sessionID, evidence.EventError, "internal error: orchestrator ended without a terminal event"))
		flusher.Flush()
		writeSSE(w, evidence.NewEvent(sessionID, evidence.EventCompleted, ""))
		flusher.Flush()
		outcome = "error"
	}

	s.metrics.SessionDuration.WithLabelValues(outcome).Observe(time.Since(started).Seconds())
}

func (s *Server) writeBusyStream(w http.ResponseWriter, flusher http.Flusher) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	writeSSE(w, evidence.NewEvent("", evidence.EventError, "server busy"))
	flusher.Flush()
	writeSSE(w, evidence.NewEvent("", evidence.EventCompleted, ""))
	flusher.Flush()
}

func writeSSE(w http.ResponseWriter, ev evidence.StreamEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
}

func applyOverrides(cfg *llmclient.GenerationConfig, req chatRequest) {
	if req.Temperature != nil {
		cfg.Temperature = *req.Temperature
	}
	if req.TopP != nil {
		cfg.TopP = *req.TopP
	}
	if req.PresencePenalty != nil {
		cfg.PresencePenalty = *req.PresencePenalty
	}
	if req.MaxTokens != nil {
		cfg.MaxTokens = *req.MaxTokens
	}
}

// citationResponse is GET /citation/{id}'s body (spec.md §6.1).
type citationResponse struct {
	ID          string `json:"id"`
	FullContent string `json:"full_content"`
}

func (s *Server) handleCitation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/citation/")
	if id == "" {
		http.Error(w, "citation id is required", http.StatusBadRequest)
		return
	}
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, "session_id query parameter is required", http.StatusBadRequest)
		return
	}

	rec, err := s.citationStore.Get(sessionID, id)
	if err != nil {
		if err == citations.ErrNotFound {
			http.Error(w, "citation not found", http.StatusNotFound)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, citationResponse{ID: rec.ID, FullContent: rec.FullContent})
}

// healthResponse is GET /health's body (spec.md §6.1).
type healthResponse struct {
	Status         string `json:"status"`
	MaxConcurrent  int    `json:"max_concurrent"`
	AvailableSlots int    `json:"available_slots"`
	Processing     int    `json:"processing_count"`
	ActiveSessions int    `json:"active_sessions"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	processing := s.processingCount()
	writeJSON(w, http.StatusOK, healthResponse{
		Status:         "ok",
		MaxConcurrent:  s.cfg.Server.MaxConcurrentRequests,
		AvailableSlots: cap(s.admission) - len(s.admission),
		Processing:     processing,
		ActiveSessions: processing,
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sessionSnapshots())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Package gateway implements C4, the admission-controlled request pipeline
// that sits in front of the reasoning orchestrator: a counting semaphore for
// admission control, a guarded active-sessions map, the SSE response writer,
// and the citation lookup/health/metrics endpoints (spec.md §4.4, §6).
//
// Grounded on the teacher's internal/gateway/http_server.go (Server shape,
// startHTTPServer/handleHealthz) and internal/gateway/streaming.go (the
// mode/behavior-registry idea, here specialized to a single SSE mode).
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexus/internal/agent"
	"github.com/haasonsaas/nexus/internal/citations"
	"github.com/haasonsaas/nexus/internal/config"
	"github.com/haasonsaas/nexus/internal/llmclient"
	"github.com/haasonsaas/nexus/internal/observability"
	"github.com/haasonsaas/nexus/pkg/evidence"
)

// Server is the request pipeline: it owns admission control, the
// active-sessions registry, and wiring a fresh orchestrator per admitted
// request.
type Server struct {
	cfg    *config.Config
	client llmclient.Client

	toolRegistry *agent.ToolRegistry
	dispatcher   *agent.Dispatcher
	modelTools   []string // tools advertised to the model's system prompt

	citationStore citations.Store

	logger  *slog.Logger
	metrics *Metrics
	tracer  *observability.Tracer

	admission chan struct{}

	mu             sync.Mutex
	activeSessions map[string]*evidence.Session

	httpServer   *http.Server
	httpListener net.Listener

	stopSweeper chan struct{}
}

// Option configures a Server at construction time.
type Option func(*Server)

// WithLogger overrides the default slog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithTracer attaches a tracer; one span is emitted per orchestrator round
// and per tool dispatch (SPEC_FULL.md §6.3). Omit this option (or pass a
// no-op tracer from observability.NewTracer with an empty Endpoint) to
// disable tracing.
func WithTracer(tracer *observability.Tracer) Option {
	return func(s *Server) { s.tracer = tracer }
}

// New constructs a Server ready to call ListenAndServe on, wiring the
// orchestrator's tool registry (knowledge_retrieval, code_execution advertised
// to the model; judge_sufficiency invoked only by the orchestrator itself,
// per spec.md §4.3.1's OBSERVING→JUDGING transition).
func New(cfg *config.Config, client llmclient.Client, registry *agent.ToolRegistry, store citations.Store, opts ...Option) (*Server, error) {
	dispatcher, err := agent.NewDispatcher(registry, toolDispatchTimeout(cfg))
	if err != nil {
		return nil, fmt.Errorf("build dispatcher: %w", err)
	}

	s := &Server{
		cfg:            cfg,
		client:         client,
		toolRegistry:   registry,
		dispatcher:     dispatcher,
		modelTools:     []string{"knowledge_retrieval", "code_execution"},
		citationStore:  store,
		logger:         slog.Default().With("component", "gateway"),
		metrics:        NewMetrics(),
		admission:      make(chan struct{}, cfg.Server.MaxConcurrentRequests),
		activeSessions: make(map[string]*evidence.Session),
		stopSweeper:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.metrics.AvailableSlots.Set(float64(cfg.Server.MaxConcurrentRequests))
	return s, nil
}

// toolDispatchTimeout bounds a single tool execution; not separately
// configured in spec.md §6.3, so derived conservatively from the wall-clock
// budget rather than hardcoded.
func toolDispatchTimeout(cfg *config.Config) time.Duration {
	budget := cfg.Orchestrator.WallClockBudget()
	if budget <= 0 || budget > 2*time.Minute {
		return 2 * time.Minute
	}
	return budget
}

// ListenAndServe starts the HTTP server and a background citation-store
// sweeper, blocking until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	mux := http.NewServeMux()
	s.registerRoutes(mux)

	listener, err := net.Listen("tcp", s.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Server.ListenAddr, err)
	}
	s.httpListener = listener
	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go s.runSweeper(ctx)

	s.logger.Info("starting evidence-agent gateway", "addr", s.cfg.Server.ListenAddr)
	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.Serve(listener) }()

	select {
	case <-ctx.Done():
		return s.shutdown()
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

func (s *Server) shutdown() error {
	close(s.stopSweeper)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// runSweeper periodically evicts expired citation-store entries, grounded
// on spec.md §4.5's "lazy plus a periodic sweeper" eviction policy.
func (s *Server) runSweeper(ctx context.Context) {
	ttl := s.cfg.Citations.TTL()
	interval := ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopSweeper:
			return
		case now := <-ticker.C:
			s.citationStore.Sweep(now)
		}
	}
}

func newSessionID() string {
	return uuid.New().String()
}

func (s *Server) registerSession(session *evidence.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeSessions[session.ID] = session
	s.metrics.ActiveSessions.Set(float64(len(s.activeSessions)))
}

func (s *Server) unregisterSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.activeSessions, id)
	s.metrics.ActiveSessions.Set(float64(len(s.activeSessions)))
}

func (s *Server) sessionSnapshots() []evidence.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snaps := make([]evidence.Snapshot, 0, len(s.activeSessions))
	for _, sess := range s.activeSessions {
		snaps = append(snaps, sess.Snapshot())
	}
	return snaps
}

func (s *Server) processingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.activeSessions)
}

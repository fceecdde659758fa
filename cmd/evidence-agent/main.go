// Command evidence-agent runs the evidence-grounded reasoning agent server:
// an HTTP gateway (C4) in front of the reasoning orchestrator (C3), talking
// to an opaque streaming chat-completions backend (C1) and dispatching
// knowledge_retrieval / code_execution / judge_sufficiency tools (C2).
//
// Grounded on the teacher's cmd/nexus/handlers_serve.go runServe: load
// config, build the gateway, wire signal-based graceful shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/haasonsaas/nexus/internal/agent"
	"github.com/haasonsaas/nexus/internal/backends"
	"github.com/haasonsaas/nexus/internal/citations"
	"github.com/haasonsaas/nexus/internal/config"
	"github.com/haasonsaas/nexus/internal/gateway"
	"github.com/haasonsaas/nexus/internal/llmclient"
	"github.com/haasonsaas/nexus/internal/observability"
)

func main() {
	if err := run(); err != nil {
		slog.Error("evidence-agent exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to a YAML config file (optional; env vars and defaults apply regardless)")
	debug := flag.Bool("debug", false, "enable debug-level logging")
	flag.Parse()

	if *debug {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("configuration loaded",
		"listen_addr", cfg.Server.ListenAddr,
		"max_concurrent_requests", cfg.Server.MaxConcurrentRequests,
		"max_rounds", cfg.Orchestrator.MaxRounds,
		"llm_base_url", cfg.LLM.BaseURL,
	)

	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: cfg.Tracing.ServiceVersion,
		Environment:    cfg.Tracing.Environment,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			slog.Warn("tracer shutdown failed", "error", err)
		}
	}()

	client := llmclient.NewHTTPClient(llmclient.HTTPConfig{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
	})

	store, err := buildCitationStore(cfg.Citations)
	if err != nil {
		return fmt.Errorf("build citation store: %w", err)
	}

	registry := buildToolRegistry(client, cfg)

	srv, err := gateway.New(cfg, client, registry, store, gateway.WithTracer(tracer))
	if err != nil {
		return fmt.Errorf("build gateway: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("starting evidence-agent", "addr", cfg.Server.ListenAddr)
	if err := srv.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("gateway stopped: %w", err)
	}
	slog.Info("evidence-agent shut down cleanly")
	return nil
}

// buildCitationStore picks the SQLite-backed store when configured with a
// path, else the in-memory store (spec.md §4.5's default, SPEC_FULL.md §4's
// durable-store addition).
func buildCitationStore(cfg config.CitationConfig) (citations.Store, error) {
	if cfg.SQLitePath != "" {
		store, err := citations.NewSQLiteStore(cfg.SQLitePath, cfg.TTL())
		if err != nil {
			return nil, fmt.Errorf("open sqlite citation store at %q: %w", cfg.SQLitePath, err)
		}
		return store, nil
	}
	return citations.NewMemoryStore(cfg.TTL()), nil
}

// buildToolRegistry wires the three tools C2 dispatches: knowledge_retrieval
// and code_execution against the standalone-demo backends.InMemoryCorpus /
// LocalExecSandbox (a real deployment swaps these for its own RAG index and
// isolated sandbox service behind the same interfaces), and
// judge_sufficiency against the same LLM backend the orchestrator reasons
// with.
func buildToolRegistry(client llmclient.Client, cfg *config.Config) *agent.ToolRegistry {
	registry := agent.NewToolRegistry()

	corpus := backends.NewInMemoryCorpus(sampleDocuments())
	registry.Register(agent.NewKnowledgeRetrievalTool(corpus, nil))

	sandbox := backends.NewLocalExecSandbox()
	registry.Register(agent.NewCodeExecutionTool(sandbox, cfg.Orchestrator.MaxToolResultBytes))

	judgeConfig := cfg.LLM.GenerationConfig()
	judgeConfig.MaxTokens = 256
	registry.Register(agent.NewJudgeSufficiencyTool(client, judgeConfig))

	return registry
}

// sampleDocuments seeds the demo corpus so a fresh checkout answers
// something out of the box; a real deployment points
// backends.NewInMemoryCorpus (or its own RetrievalBackend) at a real index
// instead.
func sampleDocuments() []backends.Document {
	return []backends.Document{
		{
			ID:       "doc-refunds",
			Title:    "Refund policy",
			Content:  "Refunds are issued within 30 days of purchase for unused items in original packaging.",
			Datasets: []string{"billing", agent.DefaultDataset},
		},
		{
			ID:       "doc-shipping",
			Title:    "Shipping policy",
			Content:  "Standard shipping takes five to seven business days; expedited shipping takes two.",
			Datasets: []string{"logistics", agent.DefaultDataset},
		},
	}
}

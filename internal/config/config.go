// Package config loads and validates the evidence-agent server's
// configuration: YAML-tagged structs decoded via loader.go's include-aware
// loader, then overridden by environment variables, mirroring the teacher's
// two-layer precedence in internal/config/config_llm.go / config_server.go.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/haasonsaas/nexus/internal/llmclient"
)

// ServerConfig holds the request-pipeline's admission and timing knobs
// (spec.md §6.3 / §4.4.1).
type ServerConfig struct {
	ListenAddr              string `yaml:"listen_addr"`
	MaxConcurrentRequests   int    `yaml:"max_concurrent_requests"`
	AdmissionTimeoutSeconds int    `yaml:"admission_timeout_seconds"`
	MetricsAddr             string `yaml:"metrics_addr"`
}

// AdmissionTimeout returns the admission timeout as a time.Duration.
func (s ServerConfig) AdmissionTimeout() time.Duration {
	return time.Duration(s.AdmissionTimeoutSeconds) * time.Second
}

// LLMConfig holds the LLM backend connection and default generation options
// (spec.md §6.3).
type LLMConfig struct {
	BaseURL         string  `yaml:"base_url"`
	APIKey          string  `yaml:"api_key"`
	Model           string  `yaml:"model"`
	Temperature     float64 `yaml:"temperature"`
	TopP            float64 `yaml:"top_p"`
	PresencePenalty float64 `yaml:"presence_penalty"`
	MaxTokens       int     `yaml:"max_tokens"`
}

// GenerationConfig builds the read-only generation-config template this
// LLMConfig describes. The gateway Clone()s the result before each request
// mutates its own copy (spec.md §4.4.2).
func (l LLMConfig) GenerationConfig() llmclient.GenerationConfig {
	return llmclient.GenerationConfig{
		Temperature:     l.Temperature,
		TopP:            l.TopP,
		PresencePenalty: l.PresencePenalty,
		MaxTokens:       l.MaxTokens,
	}
}

// OrchestratorConfig holds the per-session round/token/wall-clock budgets
// (spec.md §4.3.2).
type OrchestratorConfig struct {
	MaxRounds               int `yaml:"max_rounds"`
	MaxTokens               int `yaml:"max_tokens"`
	RequestWallClockSeconds int `yaml:"request_wall_clock_seconds"`
	MaxToolResultBytes      int `yaml:"max_tool_result_bytes"`
}

// WallClockBudget returns the wall-clock budget as a time.Duration.
func (o OrchestratorConfig) WallClockBudget() time.Duration {
	return time.Duration(o.RequestWallClockSeconds) * time.Second
}

// CitationConfig holds C5's eviction TTL (spec.md §4.5).
type CitationConfig struct {
	TTLSeconds int    `yaml:"ttl_seconds"`
	SQLitePath string `yaml:"sqlite_path"` // empty: use the in-memory store
}

// TTL returns the citation TTL as a time.Duration.
func (c CitationConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// TracingConfig configures OTLP export, mirroring the teacher's
// internal/observability.TraceConfig.
type TracingConfig struct {
	Endpoint       string  `yaml:"endpoint"`
	ServiceName    string  `yaml:"service_name"`
	ServiceVersion string  `yaml:"service_version"`
	Environment    string  `yaml:"environment"`
	SamplingRate   float64 `yaml:"sampling_rate"`
}

// Config is the root configuration object decoded by loader.go's
// decodeRawConfig.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	LLM          LLMConfig          `yaml:"llm"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Citations    CitationConfig     `yaml:"citations"`
	Tracing      TracingConfig      `yaml:"tracing"`
}

// Default returns a Config populated with spec.md §6.3's documented
// defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr:              ":8080",
			MaxConcurrentRequests:   3,
			AdmissionTimeoutSeconds: 300,
			MetricsAddr:             ":9090",
		},
		LLM: LLMConfig{
			Temperature: 0.7,
			TopP:        1.0,
			MaxTokens:   4096,
		},
		Orchestrator: OrchestratorConfig{
			MaxRounds:               10,
			RequestWallClockSeconds: 9000,
			MaxToolResultBytes:      64 << 10,
		},
		Citations: CitationConfig{
			TTLSeconds: 3600,
		},
		Tracing: TracingConfig{
			ServiceName:    "evidence-agent",
			ServiceVersion: "dev",
			SamplingRate:   1.0,
		},
	}
}

// Load reads path via LoadRaw/decodeRawConfig, layers environment-variable
// overrides (spec.md §6.3's recognized options), and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := LoadRaw(path)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		decoded, err := decodeRawConfig(raw)
		if err != nil {
			return nil, err
		}
		cfg = mergeDefaults(cfg, *decoded)
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// mergeDefaults fills zero-valued fields of decoded with base's defaults so
// a partial YAML file does not zero out unset sections.
func mergeDefaults(base, decoded Config) Config {
	if decoded.Server.ListenAddr != "" {
		base.Server.ListenAddr = decoded.Server.ListenAddr
	}
	if decoded.Server.MaxConcurrentRequests != 0 {
		base.Server.MaxConcurrentRequests = decoded.Server.MaxConcurrentRequests
	}
	if decoded.Server.AdmissionTimeoutSeconds != 0 {
		base.Server.AdmissionTimeoutSeconds = decoded.Server.AdmissionTimeoutSeconds
	}
	if decoded.Server.MetricsAddr != "" {
		base.Server.MetricsAddr = decoded.Server.MetricsAddr
	}
	if decoded.LLM.BaseURL != "" {
		base.LLM.BaseURL = decoded.LLM.BaseURL
	}
	if decoded.LLM.APIKey != "" {
		base.LLM.APIKey = decoded.LLM.APIKey
	}
	if decoded.LLM.Model != "" {
		base.LLM.Model = decoded.LLM.Model
	}
	if decoded.LLM.Temperature != 0 {
		base.LLM.Temperature = decoded.LLM.Temperature
	}
	if decoded.LLM.TopP != 0 {
		base.LLM.TopP = decoded.LLM.TopP
	}
	if decoded.LLM.PresencePenalty != 0 {
		base.LLM.PresencePenalty = decoded.LLM.PresencePenalty
	}
	if decoded.LLM.MaxTokens != 0 {
		base.LLM.MaxTokens = decoded.LLM.MaxTokens
	}
	if decoded.Orchestrator.MaxRounds != 0 {
		base.Orchestrator.MaxRounds = decoded.Orchestrator.MaxRounds
	}
	if decoded.Orchestrator.MaxTokens != 0 {
		base.Orchestrator.MaxTokens = decoded.Orchestrator.MaxTokens
	}
	if decoded.Orchestrator.RequestWallClockSeconds != 0 {
		base.Orchestrator.RequestWallClockSeconds = decoded.Orchestrator.RequestWallClockSeconds
	}
	if decoded.Orchestrator.MaxToolResultBytes != 0 {
		base.Orchestrator.MaxToolResultBytes = decoded.Orchestrator.MaxToolResultBytes
	}
	if decoded.Citations.TTLSeconds != 0 {
		base.Citations.TTLSeconds = decoded.Citations.TTLSeconds
	}
	if decoded.Citations.SQLitePath != "" {
		base.Citations.SQLitePath = decoded.Citations.SQLitePath
	}
	if decoded.Tracing.Endpoint != "" {
		base.Tracing.Endpoint = decoded.Tracing.Endpoint
	}
	if decoded.Tracing.ServiceName != "" {
		base.Tracing.ServiceName = decoded.Tracing.ServiceName
	}
	if decoded.Tracing.ServiceVersion != "" {
		base.Tracing.ServiceVersion = decoded.Tracing.ServiceVersion
	}
	if decoded.Tracing.Environment != "" {
		base.Tracing.Environment = decoded.Tracing.Environment
	}
	if decoded.Tracing.SamplingRate != 0 {
		base.Tracing.SamplingRate = decoded.Tracing.SamplingRate
	}
	return base
}

// envOverrides maps spec.md §6.3's environment-variable names onto setters.
var envOverrides = []struct {
	name string
	set  func(*Config, string) error
}{
	{"MAX_CONCURRENT_REQUESTS", func(c *Config, v string) error { return setInt(&c.Server.MaxConcurrentRequests, v) }},
	{"MAX_ROUNDS", func(c *Config, v string) error { return setInt(&c.Orchestrator.MaxRounds, v) }},
	{"REQUEST_WALL_CLOCK_SECONDS", func(c *Config, v string) error { return setInt(&c.Orchestrator.RequestWallClockSeconds, v) }},
	{"ADMISSION_TIMEOUT_SECONDS", func(c *Config, v string) error { return setInt(&c.Server.AdmissionTimeoutSeconds, v) }},
	{"CITATION_TTL_SECONDS", func(c *Config, v string) error { return setInt(&c.Citations.TTLSeconds, v) }},
	{"LLM_BASE_URL", func(c *Config, v string) error { c.LLM.BaseURL = v; return nil }},
	{"LLM_API_KEY", func(c *Config, v string) error { c.LLM.APIKey = v; return nil }},
	{"LLM_MODEL", func(c *Config, v string) error { c.LLM.Model = v; return nil }},
	{"OTEL_EXPORTER_OTLP_ENDPOINT", func(c *Config, v string) error { c.Tracing.Endpoint = v; return nil }},
}

// ApplyEnv overrides the receiver in place from the environment variables
// enumerated in spec.md §6.3, applied on top of YAML defaults (the same
// precedence order as the teacher's loader.go $include + env.Expand pass).
func (c *Config) ApplyEnv() {
	for _, o := range envOverrides {
		if v, ok := os.LookupEnv(o.name); ok && v != "" {
			_ = o.set(c, v)
		}
	}
}

func setInt(dst *int, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid integer %q: %w", v, err)
	}
	*dst = n
	return nil
}

// Validate rejects configurations that would violate spec.md's invariants
// (a non-positive admission cap, for example, would make every request
// busy forever).
func (c *Config) Validate() error {
	if c.Server.MaxConcurrentRequests <= 0 {
		return fmt.Errorf("server.max_concurrent_requests must be positive, got %d", c.Server.MaxConcurrentRequests)
	}
	if c.Orchestrator.MaxRounds <= 0 {
		return fmt.Errorf("orchestrator.max_rounds must be positive, got %d", c.Orchestrator.MaxRounds)
	}
	if c.Citations.TTLSeconds <= 0 {
		return fmt.Errorf("citations.ttl_seconds must be positive, got %d", c.Citations.TTLSeconds)
	}
	if c.LLM.BaseURL == "" {
		return fmt.Errorf("llm.base_url is required")
	}
	return nil
}

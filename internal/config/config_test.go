package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault_Validates(t *testing.T) {
	cfg := Default()
	cfg.LLM.BaseURL = "http://localhost:11434/v1"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default() should validate once base_url is set: %v", err)
	}
}

func TestValidate_RejectsNonPositiveAdmissionCap(t *testing.T) {
	cfg := Default()
	cfg.LLM.BaseURL = "http://localhost:11434/v1"
	cfg.Server.MaxConcurrentRequests = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero max_concurrent_requests")
	}
}

func TestLoad_FromYAMLWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  max_concurrent_requests: 5
llm:
  base_url: "http://backend.local/v1"
  model: "house-model"
orchestrator:
  max_rounds: 7
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("MAX_ROUNDS", "4")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.MaxConcurrentRequests != 5 {
		t.Errorf("MaxConcurrentRequests = %d, want 5", cfg.Server.MaxConcurrentRequests)
	}
	if cfg.LLM.Model != "house-model" {
		t.Errorf("Model = %q, want house-model", cfg.LLM.Model)
	}
	if cfg.Orchestrator.MaxRounds != 4 {
		t.Errorf("MaxRounds = %d, want 4 (env override should win over YAML)", cfg.Orchestrator.MaxRounds)
	}
	// Unset sections keep their defaults.
	if cfg.Citations.TTLSeconds != 3600 {
		t.Errorf("TTLSeconds = %d, want default 3600", cfg.Citations.TTLSeconds)
	}
}

func TestLoad_MissingBaseURLFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  max_concurrent_requests: 2\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error when llm.base_url is unset")
	}
}

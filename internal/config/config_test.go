package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"MODE", "CACHE_ENABLED", "MAX_COST_ALERT", "MAX_TOKENS_PER_DAY", "ANTHROPIC_API_KEY",
		"OFFICE_WEB_PASSWORD", "OFFICE_WEB_PORT", "OFFICE_TELEGRAM_TOKEN", "OFFICE_TELEGRAM_CHAT_ID",
	} {
		t.Setenv(k, "")
	}
}

func TestDefaults(t *testing.T) {
	cfg := defaults()

	if cfg.Mode != ModeSimulation {
		t.Errorf("expected default mode simulation, got %s", cfg.Mode)
	}
	if cfg.Cache.MaxEntries != 100 {
		t.Errorf("expected cache max_entries 100, got %d", cfg.Cache.MaxEntries)
	}
	if cfg.Cache.TTL != 24*time.Hour {
		t.Errorf("expected cache ttl 24h, got %v", cfg.Cache.TTL)
	}
	if cfg.Usage.MaxCallsPerDay != 1000 {
		t.Errorf("expected max calls 1000, got %d", cfg.Usage.MaxCallsPerDay)
	}
	if cfg.Usage.MaxTokensPerDay != 100000 {
		t.Errorf("expected max tokens 100000, got %d", cfg.Usage.MaxTokensPerDay)
	}
	if cfg.Model.MaxAttempts != 3 {
		t.Errorf("expected max attempts 3, got %d", cfg.Model.MaxAttempts)
	}
	if cfg.Team.CLIPath != "claude-code" {
		t.Errorf("expected cli path claude-code, got %s", cfg.Team.CLIPath)
	}
	if cfg.Team.CompletionTimeout != 2*time.Minute {
		t.Errorf("expected completion timeout 2m, got %v", cfg.Team.CompletionTimeout)
	}
	if cfg.Web.Port != 8080 {
		t.Errorf("expected web port 8080, got %d", cfg.Web.Port)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("OFFICE_CONFIG", "/nonexistent/config.yaml")
	t.Setenv("MODE", "hybrid")
	t.Setenv("CACHE_ENABLED", "false")
	t.Setenv("MAX_COST_ALERT", "25")
	t.Setenv("MAX_TOKENS_PER_DAY", "5000")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test-key")
	t.Setenv("OFFICE_WEB_PORT", "9090")
	t.Setenv("OFFICE_TELEGRAM_CHAT_ID", "4242")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Mode != ModeHybrid {
		t.Errorf("expected mode hybrid, got %s", cfg.Mode)
	}
	if cfg.Cache.Enabled {
		t.Error("expected cache disabled")
	}
	if cfg.Usage.MaxCallsPerDay != 25 {
		t.Errorf("expected max calls 25, got %d", cfg.Usage.MaxCallsPerDay)
	}
	if cfg.Usage.MaxTokensPerDay != 5000 {
		t.Errorf("expected max tokens 5000, got %d", cfg.Usage.MaxTokensPerDay)
	}
	if cfg.Model.APIKey != "sk-test-key" {
		t.Errorf("expected api key sk-test-key, got %s", cfg.Model.APIKey)
	}
	if cfg.Web.Port != 9090 {
		t.Errorf("expected web port 9090, got %d", cfg.Web.Port)
	}
	if cfg.Telegram.ChatID != 4242 {
		t.Errorf("expected chat id 4242, got %d", cfg.Telegram.ChatID)
	}
}

func TestLoadMissingKeyDoesNotFail(t *testing.T) {
	clearEnv(t)
	t.Setenv("OFFICE_CONFIG", "/nonexistent/config.yaml")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Model.APIKey != "" {
		t.Errorf("expected empty api key, got %s", cfg.Model.APIKey)
	}
}

func TestLoadFromYAML(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "office.yaml")

	yaml := `
mode: real
cache:
  max_entries: 10
  ttl: 1h
team:
  cli_path: "/usr/local/bin/team"
  completion_timeout: 30s
web:
  port: 3000
  enabled: false
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("OFFICE_CONFIG", cfgPath)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Mode != ModeReal {
		t.Errorf("expected mode real, got %s", cfg.Mode)
	}
	if cfg.Cache.MaxEntries != 10 {
		t.Errorf("expected max_entries 10, got %d", cfg.Cache.MaxEntries)
	}
	if cfg.Cache.TTL != time.Hour {
		t.Errorf("expected ttl 1h, got %v", cfg.Cache.TTL)
	}
	if !cfg.Cache.Enabled {
		t.Error("expected cache to stay enabled from defaults")
	}
	if cfg.Team.CLIPath != "/usr/local/bin/team" {
		t.Errorf("expected cli path override, got %s", cfg.Team.CLIPath)
	}
	if cfg.Team.CompletionTimeout != 30*time.Second {
		t.Errorf("expected completion timeout 30s, got %v", cfg.Team.CompletionTimeout)
	}
	if cfg.Web.Port != 3000 {
		t.Errorf("expected web port 3000, got %d", cfg.Web.Port)
	}
	if cfg.Web.Enabled {
		t.Error("expected web disabled")
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "office.yaml")
	if err := os.WriteFile(cfgPath, []byte("model:\n  api_key: ${OFFICE_TEST_KEY}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("OFFICE_CONFIG", cfgPath)
	t.Setenv("OFFICE_TEST_KEY", "sk-from-yaml")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Model.APIKey != "sk-from-yaml" {
		t.Errorf("expected expanded key, got %s", cfg.Model.APIKey)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := defaults()
	cfg.Mode = "turbo"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for invalid mode")
	}

	cfg = defaults()
	cfg.Scheduler.SweepSchedule = "not a cron"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for invalid sweep schedule")
	}

	cfg = defaults()
	cfg.Cache.MaxEntries = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero cache capacity")
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	pberrors "pairbot/internal/errors"
)

func TestLoadWritesTemplateOnFirstRun(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "config.toml")); err != nil {
		t.Errorf("Expected template config.toml to be written: %v", err)
	}
	if cfg.Pair.PrimarySymbol != "XAUUSD" {
		t.Errorf("PrimarySymbol = %q, want XAUUSD", cfg.Pair.PrimarySymbol)
	}
	if cfg.Monitor.MissedPollThreshold != 2 {
		t.Errorf("MissedPollThreshold = %d, want 2", cfg.Monitor.MissedPollThreshold)
	}
	if cfg.Recovery.NonePolicy != "connection-age" {
		t.Errorf("NonePolicy = %q, want connection-age", cfg.Recovery.NonePolicy)
	}
}

func TestLoadReadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	content := `
[pair]
primary_symbol = "EURUSD"
secondary_symbol = "GBPUSD"

[monitor]
check_interval = "10s"
missed_poll_threshold = 3

[broker]
mode = "paper"
breaker_threshold = 8
breaker_cooldown = "45s"
`
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Pair.PrimarySymbol != "EURUSD" {
		t.Errorf("PrimarySymbol = %q, want EURUSD", cfg.Pair.PrimarySymbol)
	}
	if cfg.Monitor.CheckInterval != 10*time.Second {
		t.Errorf("CheckInterval = %v, want 10s", cfg.Monitor.CheckInterval)
	}
	if cfg.Monitor.MissedPollThreshold != 3 {
		t.Errorf("MissedPollThreshold = %d, want 3", cfg.Monitor.MissedPollThreshold)
	}
	if cfg.Broker.Mode != "paper" {
		t.Errorf("Mode = %q, want paper", cfg.Broker.Mode)
	}
	if cfg.Broker.BreakerThreshold != 8 {
		t.Errorf("BreakerThreshold = %d, want 8", cfg.Broker.BreakerThreshold)
	}
	if cfg.Broker.BreakerCooldown != 45*time.Second {
		t.Errorf("BreakerCooldown = %v, want 45s", cfg.Broker.BreakerCooldown)
	}
	// Unset keys keep their defaults.
	if cfg.Pair.PrimaryLots != 0.02 {
		t.Errorf("PrimaryLots = %v, want default 0.02", cfg.Pair.PrimaryLots)
	}
}

func TestEnvOverridesBeatFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PAIRBOT_BRIDGE_URL", "http://10.0.0.5:9999")
	t.Setenv("PAIRBOT_BROKER_MODE", "paper")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Broker.BridgeURL != "http://10.0.0.5:9999" {
		t.Errorf("BridgeURL = %q, want env override", cfg.Broker.BridgeURL)
	}
	if cfg.Broker.Mode != "paper" {
		t.Errorf("Mode = %q, want paper", cfg.Broker.Mode)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"same symbols", func(c *Config) { c.Pair.SecondarySymbol = c.Pair.PrimarySymbol }},
		{"missing symbol", func(c *Config) { c.Pair.PrimarySymbol = "" }},
		{"zero interval", func(c *Config) { c.Monitor.CheckInterval = 0 }},
		{"zero threshold", func(c *Config) { c.Monitor.MissedPollThreshold = 0 }},
		{"unknown policy", func(c *Config) { c.Recovery.NonePolicy = "coin-flip" }},
		{"unknown broker mode", func(c *Config) { c.Broker.Mode = "live" }},
		{"zero close retries", func(c *Config) { c.Recovery.CloseMaxRetries = 0 }},
		{"zero breaker threshold", func(c *Config) { c.Broker.BreakerThreshold = 0 }},
		{"zero breaker cooldown", func(c *Config) { c.Broker.BreakerCooldown = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate should reject this config")
			}
			if !pberrors.Is(err, pberrors.ErrConfigInvalid) {
				t.Errorf("err = %v, want ErrConfigInvalid in chain", err)
			}
		})
	}
}

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Default config should validate: %v", err)
	}
}

func TestSymbols(t *testing.T) {
	p := PairConfig{PrimarySymbol: "XAUUSD", SecondarySymbol: "XAGUSD"}
	got := p.Symbols()
	if len(got) != 2 || got[0] != "XAUUSD" || got[1] != "XAGUSD" {
		t.Errorf("Symbols() = %v", got)
	}
}

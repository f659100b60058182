package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"netguard/internal/report"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "netguard.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
	if len(cfg.Targets) != 2 {
		t.Fatalf("expected 2 default targets, got %d", len(cfg.Targets))
	}
	if cfg.Targets[0].Host != "1.1.1.1" || cfg.Targets[1].Host != "8.8.8.8" {
		t.Fatalf("unexpected default hosts: %+v", cfg.Targets)
	}
	if cfg.Targets[0].Port != 53 || cfg.Targets[0].Protocol != "tcp" {
		t.Fatalf("default targets should probe TCP port 53: %+v", cfg.Targets[0])
	}
	if cfg.CheckInterval != DefaultCheckInterval {
		t.Fatalf("unexpected default interval %v", cfg.CheckInterval)
	}
	if cfg.Resilience.Strategy != StrategyRace {
		t.Fatalf("unexpected default strategy %q", cfg.Resilience.Strategy)
	}
}

func TestLoadFullConfig(t *testing.T) {
	path := writeTempConfig(t, `
targets:
  - label: dns
    host: 9.9.9.9
    port: 53
    protocol: tcp
    timeout: 2s
    priority: 2
    essential: true
  - label: gateway
    host: 192.168.1.1
    protocol: icmp
check_interval: 10s
quality_thresholds:
  excellent: 40ms
security:
  block_vpn: true
  detect_dns_hijack: true
  allowed_interfaces: [wlan, eth]
resilience:
  strategy: consensus
  circuit_breaker_threshold: 3
  num_jitter_samples: 5
metrics_listen: ":9100"
log_level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	if len(cfg.Targets) != 2 {
		t.Fatalf("expected 2 targets, got %d", len(cfg.Targets))
	}
	first := cfg.Targets[0]
	if first.Label != "dns" || first.Timeout != 2*time.Second || first.Priority != 2 || !first.Essential {
		t.Fatalf("unexpected first target: %+v", first)
	}

	// Unset fields pick up defaults.
	second := cfg.Targets[1]
	if second.Timeout != DefaultTimeout || second.Priority != 1 {
		t.Fatalf("expected defaults on second target, got %+v", second)
	}
	if cfg.Thresholds.Excellent != 40*time.Millisecond {
		t.Fatalf("explicit threshold lost: %v", cfg.Thresholds.Excellent)
	}
	if cfg.Thresholds.Great != 100*time.Millisecond {
		t.Fatalf("unset threshold should default: %v", cfg.Thresholds.Great)
	}

	if cfg.Resilience.Strategy != StrategyConsensus || cfg.Resilience.CircuitBreakerThreshold != 3 {
		t.Fatalf("unexpected resilience config: %+v", cfg.Resilience)
	}
	if !cfg.Security.BlockVPN || !cfg.Security.DetectDNSHijack || len(cfg.Security.AllowedInterfaces) != 2 {
		t.Fatalf("unexpected security config: %+v", cfg.Security)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeTempConfig(t, "targets: [whoops")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestValidateErrors(t *testing.T) {
	base := func() Config {
		cfg := Default()
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no targets", func(c *Config) { c.Targets = nil }},
		{"missing label", func(c *Config) { c.Targets[0].Label = "" }},
		{"duplicate label", func(c *Config) { c.Targets[1].Label = c.Targets[0].Label }},
		{"missing host", func(c *Config) { c.Targets[0].Host = "" }},
		{"tcp without port", func(c *Config) { c.Targets[0].Port = 0 }},
		{"port out of range", func(c *Config) { c.Targets[0].Port = 70000 }},
		{"unknown protocol", func(c *Config) { c.Targets[0].Protocol = "quic" }},
		{"zero timeout", func(c *Config) { c.Targets[0].Timeout = 0 }},
		{"unknown strategy", func(c *Config) { c.Resilience.Strategy = "majority" }},
		{"zero samples", func(c *Config) { c.Resilience.NumJitterSamples = 0 }},
		{"negative breaker threshold", func(c *Config) { c.Resilience.CircuitBreakerThreshold = -1 }},
		{"negative interval", func(c *Config) { c.CheckInterval = -time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestValidateICMPWithoutPort(t *testing.T) {
	cfg := Default()
	cfg.Targets = []TargetConfig{{Label: "gw", Host: "192.168.1.1", Protocol: "icmp", Timeout: time.Second, Priority: 1}}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("icmp target without port should validate: %v", err)
	}
}

func TestEngineTargets(t *testing.T) {
	cfg := Default()
	targets := cfg.EngineTargets()
	if len(targets) != len(cfg.Targets) {
		t.Fatalf("expected %d targets, got %d", len(cfg.Targets), len(targets))
	}
	if targets[0].Protocol != report.ProtocolTCP || targets[0].Addr() != "1.1.1.1:53" {
		t.Fatalf("unexpected first target: %+v", targets[0])
	}
}

func TestQualityThresholds(t *testing.T) {
	cfg := Default()
	th := cfg.QualityThresholds()
	if th.Excellent != 50*time.Millisecond || th.Poor != time.Second {
		t.Fatalf("unexpected thresholds: %+v", th)
	}
}

func TestOverridesApply(t *testing.T) {
	cfg := Default()

	interval := 30 * time.Second
	strategy := StrategyConsensus
	samples := 7
	listen := ":9200"
	level := "debug"
	block := true

	Overrides{
		CheckInterval: &interval,
		Strategy:      &strategy,
		JitterSamples: &samples,
		MetricsListen: &listen,
		LogLevel:      &level,
		BlockVPN:      &block,
	}.Apply(&cfg)

	if cfg.CheckInterval != interval || cfg.Resilience.Strategy != strategy ||
		cfg.Resilience.NumJitterSamples != samples || cfg.MetricsListen != listen ||
		cfg.LogLevel != level || !cfg.Security.BlockVPN {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestOverridesLeaveUnsetFields(t *testing.T) {
	cfg := Default()
	before := cfg
	Overrides{}.Apply(&cfg)
	if cfg.CheckInterval != before.CheckInterval || cfg.Resilience.Strategy != before.Resilience.Strategy {
		t.Fatalf("empty overrides must not change the config")
	}
}

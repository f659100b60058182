// Package config loads and validates the engine configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"netguard/internal/quality"
	"netguard/internal/report"
)

// Strategy selects how multiple target outcomes combine into overall
// connectivity.
type Strategy string

const (
	// StrategyRace treats the check as connected as soon as any target
	// succeeds.
	StrategyRace Strategy = "race"
	// StrategyConsensus requires success from more than half of the targets.
	StrategyConsensus Strategy = "consensus"
)

// Defaults applied by ApplyDefaults when fields are left empty.
const (
	DefaultTimeout       = 1 * time.Second
	DefaultCheckInterval = 5 * time.Second
	DefaultJitterSamples = 3

	DefaultStabilityThreshold        = 70.0
	DefaultJitterThresholdPercent    = 25.0
	DefaultCriticalPacketLossPercent = 5.0
)

// TargetConfig is one probe endpoint definition.
type TargetConfig struct {
	Label     string        `yaml:"label"`
	Host      string        `yaml:"host"`
	Port      int           `yaml:"port"`
	Protocol  string        `yaml:"protocol"`
	Timeout   time.Duration `yaml:"timeout"`
	Priority  int           `yaml:"priority"`
	Essential bool          `yaml:"essential"`
}

// ThresholdConfig holds the ascending latency bounds for quality grades.
type ThresholdConfig struct {
	Excellent time.Duration `yaml:"excellent"`
	Great     time.Duration `yaml:"great"`
	Good      time.Duration `yaml:"good"`
	Moderate  time.Duration `yaml:"moderate"`
	Poor      time.Duration `yaml:"poor"`
}

// SecurityConfig controls the security policy applied by guard.
type SecurityConfig struct {
	BlockVPN          bool     `yaml:"block_vpn"`
	DetectDNSHijack   bool     `yaml:"detect_dns_hijack"`
	AllowedInterfaces []string `yaml:"allowed_interfaces"`
}

// ResilienceConfig tunes sampling, scoring and the circuit breaker.
type ResilienceConfig struct {
	Strategy                  Strategy `yaml:"strategy"`
	CircuitBreakerThreshold   int      `yaml:"circuit_breaker_threshold"`
	NumJitterSamples          int      `yaml:"num_jitter_samples"`
	JitterThresholdPercent    float64  `yaml:"jitter_threshold_percent"`
	StabilityThreshold        float64  `yaml:"stability_threshold"`
	CriticalPacketLossPercent float64  `yaml:"critical_packet_loss_percent"`
	CancelLosers              bool     `yaml:"cancel_losers"`
}

// Config is the complete engine configuration.
type Config struct {
	Targets       []TargetConfig   `yaml:"targets"`
	CheckInterval time.Duration    `yaml:"check_interval"`
	Thresholds    ThresholdConfig  `yaml:"quality_thresholds"`
	Security      SecurityConfig   `yaml:"security"`
	Resilience    ResilienceConfig `yaml:"resilience"`
	STUNServers   []string         `yaml:"stun_servers"`
	MetricsListen string           `yaml:"metrics_listen"`
	LogLevel      string           `yaml:"log_level"`
}

// Default returns a configuration probing the Cloudflare and Google public
// resolvers over TCP.
func Default() Config {
	cfg := Config{
		Targets: []TargetConfig{
			{Label: "Cloudflare", Host: "1.1.1.1", Port: 53, Protocol: string(report.ProtocolTCP), Priority: 1},
			{Label: "Google", Host: "8.8.8.8", Port: 53, Protocol: string(report.ProtocolTCP), Priority: 1},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

// Load reads and parses a YAML config file, applying defaults to any field
// left unset. The result is not validated; call Validate separately.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults fills in default values for unset fields.
func (c *Config) ApplyDefaults() {
	for i := range c.Targets {
		if c.Targets[i].Protocol == "" {
			c.Targets[i].Protocol = string(report.ProtocolTCP)
		}
		if c.Targets[i].Timeout == 0 {
			c.Targets[i].Timeout = DefaultTimeout
		}
		if c.Targets[i].Priority == 0 {
			c.Targets[i].Priority = 1
		}
	}

	if c.CheckInterval == 0 {
		c.CheckInterval = DefaultCheckInterval
	}

	def := quality.DefaultThresholds()
	if c.Thresholds.Excellent == 0 {
		c.Thresholds.Excellent = def.Excellent
	}
	if c.Thresholds.Great == 0 {
		c.Thresholds.Great = def.Great
	}
	if c.Thresholds.Good == 0 {
		c.Thresholds.Good = def.Good
	}
	if c.Thresholds.Moderate == 0 {
		c.Thresholds.Moderate = def.Moderate
	}
	if c.Thresholds.Poor == 0 {
		c.Thresholds.Poor = def.Poor
	}

	if c.Resilience.Strategy == "" {
		c.Resilience.Strategy = StrategyRace
	}
	if c.Resilience.NumJitterSamples == 0 {
		c.Resilience.NumJitterSamples = DefaultJitterSamples
	}
	if c.Resilience.JitterThresholdPercent == 0 {
		c.Resilience.JitterThresholdPercent = DefaultJitterThresholdPercent
	}
	if c.Resilience.StabilityThreshold == 0 {
		c.Resilience.StabilityThreshold = DefaultStabilityThreshold
	}
	if c.Resilience.CriticalPacketLossPercent == 0 {
		c.Resilience.CriticalPacketLossPercent = DefaultCriticalPacketLossPercent
	}

	if len(c.STUNServers) == 0 {
		c.STUNServers = []string{"stun.l.google.com:19302", "stun1.l.google.com:19302"}
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate checks the configuration for contradictions that would make a
// check meaningless.
func (c Config) Validate() error {
	if len(c.Targets) == 0 {
		return fmt.Errorf("at least one target is required")
	}

	seen := make(map[string]struct{}, len(c.Targets))
	for _, t := range c.Targets {
		if t.Label == "" {
			return fmt.Errorf("target label is required")
		}
		if _, ok := seen[t.Label]; ok {
			return fmt.Errorf("duplicate target label %q", t.Label)
		}
		seen[t.Label] = struct{}{}

		if t.Host == "" {
			return fmt.Errorf("target %q: host is required", t.Label)
		}
		switch report.Protocol(t.Protocol) {
		case report.ProtocolTCP, report.ProtocolUDP:
			if t.Port <= 0 || t.Port > 65535 {
				return fmt.Errorf("target %q: invalid port %d", t.Label, t.Port)
			}
		case report.ProtocolICMP:
			// ICMP has no port.
		default:
			return fmt.Errorf("target %q: unknown protocol %q", t.Label, t.Protocol)
		}
		if t.Timeout <= 0 {
			return fmt.Errorf("target %q: timeout must be positive", t.Label)
		}
	}

	switch c.Resilience.Strategy {
	case StrategyRace, StrategyConsensus:
	default:
		return fmt.Errorf("unknown strategy %q", c.Resilience.Strategy)
	}
	if c.Resilience.NumJitterSamples < 1 {
		return fmt.Errorf("num_jitter_samples must be at least 1")
	}
	if c.Resilience.CircuitBreakerThreshold < 0 {
		return fmt.Errorf("circuit_breaker_threshold must not be negative")
	}
	if c.CheckInterval < 0 {
		return fmt.Errorf("check_interval must not be negative")
	}
	return nil
}

// EngineTargets converts the target definitions into immutable probe targets.
func (c Config) EngineTargets() []report.Target {
	targets := make([]report.Target, 0, len(c.Targets))
	for _, t := range c.Targets {
		targets = append(targets, report.Target{
			Label:     t.Label,
			Host:      t.Host,
			Port:      t.Port,
			Protocol:  report.Protocol(t.Protocol),
			Timeout:   t.Timeout,
			Priority:  t.Priority,
			Essential: t.Essential,
		})
	}
	return targets
}

// QualityThresholds converts the threshold section for the evaluator.
func (c Config) QualityThresholds() quality.Thresholds {
	return quality.Thresholds{
		Excellent: c.Thresholds.Excellent,
		Great:     c.Thresholds.Great,
		Good:      c.Thresholds.Good,
		Moderate:  c.Thresholds.Moderate,
		Poor:      c.Thresholds.Poor,
	}
}

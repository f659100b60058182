package config

import "time"

// Overrides carries command-line values that take precedence over the config
// file. Nil fields leave the file value untouched.
type Overrides struct {
	CheckInterval   *time.Duration
	Strategy        *Strategy
	JitterSamples   *int
	MetricsListen   *string
	LogLevel        *string
	BlockVPN        *bool
	DetectDNSHijack *bool
}

// Apply folds the overrides into the configuration.
func (o Overrides) Apply(cfg *Config) {
	if o.CheckInterval != nil {
		cfg.CheckInterval = *o.CheckInterval
	}
	if o.Strategy != nil {
		cfg.Resilience.Strategy = *o.Strategy
	}
	if o.JitterSamples != nil {
		cfg.Resilience.NumJitterSamples = *o.JitterSamples
	}
	if o.MetricsListen != nil {
		cfg.MetricsListen = *o.MetricsListen
	}
	if o.LogLevel != nil {
		cfg.LogLevel = *o.LogLevel
	}
	if o.BlockVPN != nil {
		cfg.Security.BlockVPN = *o.BlockVPN
	}
	if o.DetectDNSHijack != nil {
		cfg.Security.DetectDNSHijack = *o.DetectDNSHijack
	}
}

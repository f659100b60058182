// Package engine orchestrates multi-target probing, composes network
// reports, and gates guarded actions on connection quality and security
// posture.
package engine

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"netguard/internal/breaker"
	"netguard/internal/config"
	"netguard/internal/probe"
	"netguard/internal/quality"
	"netguard/internal/report"
	"netguard/internal/security"
	"netguard/internal/stats"
)

// breakerCooldown is the fixed window the circuit breaker stays open once
// tripped.
const breakerCooldown = 30 * time.Second

// Engine runs network checks against the configured targets. Construct it
// with New, share it by reference, and Close it when done. The engine keeps
// the current and the immediately preceding report, nothing older.
type Engine struct {
	cfg        config.Config
	targets    []report.Target
	thresholds quality.Thresholds
	score      stats.ScoreFunc
	probers    map[report.Protocol]probe.Prober
	breaker    *breaker.Breaker

	// Replaceable probes, overridden in tests.
	inspect func() (report.SecurityFlags, report.ConnectionType)
	dns     dnsDetector

	mu       sync.Mutex
	current  *report.Report
	previous *report.Report
	closed   bool

	subMu   sync.Mutex
	subs    map[int]chan report.Status
	nextSub int
}

type dnsDetector interface {
	Detect(ctx context.Context, domain string) bool
}

// outcome pairs a target's report with its aggregated statistics and the
// order in which it finished successfully.
type outcome struct {
	target report.Target
	stats  stats.Stats
	rep    report.TargetReport
	order  int64
}

// New validates the configuration and builds an engine. Probers are selected
// per target protocol up front so misconfiguration fails here rather than
// mid-check.
func New(cfg config.Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	targets := cfg.EngineTargets()
	probers := make(map[report.Protocol]probe.Prober)
	for _, t := range targets {
		if _, ok := probers[t.Protocol]; ok {
			continue
		}
		p, err := probe.ForProtocol(t.Protocol)
		if err != nil {
			return nil, err
		}
		probers[t.Protocol] = p
	}

	return &Engine{
		cfg:        cfg,
		targets:    targets,
		thresholds: cfg.QualityThresholds(),
		score:      stats.Scorer(cfg.Resilience.JitterThresholdPercent),
		probers:    probers,
		breaker:    breaker.New(cfg.Resilience.CircuitBreakerThreshold, breakerCooldown),
		inspect:    security.Inspect,
		dns:        security.NewDNSChecker(),
		subs:       make(map[int]chan report.Status),
	}, nil
}

// Close marks the engine unusable and drops all subscribers. Checks already
// in flight run their probes to completion.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.subMu.Lock()
	for id, ch := range e.subs {
		delete(e.subs, id)
		close(ch)
	}
	e.subMu.Unlock()
}

// Check runs one full network check and returns the composed report. Probe
// failures are recorded inside the report and never surface as errors; the
// only error causes are context cancellation and use after Close.
func (e *Engine) Check(ctx context.Context) (*report.Report, error) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil, ErrEngineClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	started := time.Now()
	outcomes := e.probeAll(ctx)
	connected, winner := e.summarize(outcomes)

	systemStats := stats.Aggregate(nil, e.cfg.Resilience.NumJitterSamples, e.score)
	winnerLabel := ""
	if winner != nil {
		systemStats = winner.stats
		winnerLabel = winner.target.Label
	}

	grade := quality.Evaluate(connected, systemStats, e.thresholds,
		e.cfg.Resilience.CriticalPacketLossPercent, e.cfg.Resilience.StabilityThreshold)

	flags, connType := e.inspect()
	if e.cfg.Security.DetectDNSHijack {
		if e.dns.Detect(ctx, e.dnsControlHost()) {
			flags.DNSSpoofed = true
		}
	}

	targetReports := make([]report.TargetReport, len(outcomes))
	essentialPresent := false
	essentialFailed := false
	for i, o := range outcomes {
		targetReports[i] = o.rep
		if o.target.Essential {
			essentialPresent = true
			if !o.rep.Success {
				essentialFailed = true
			}
		}
	}

	rep := &report.Report{
		Timestamp: started,
		Status: report.Status{
			Connected:    connected,
			Quality:      grade,
			LatencyStats: systemStats,
			WinnerTarget: winnerLabel,
		},
		ConnectionType: connType,
		Security:       flags,
		Targets:        targetReports,
	}

	// Breaker state moves only here, on check completion, under the same
	// lock that rotates the report history.
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrEngineClosed
	}
	if essentialPresent {
		e.breaker.Record(essentialFailed)
	}
	e.previous = e.current
	e.current = rep
	e.mu.Unlock()

	return rep, nil
}

// CheckTarget probes a single target without updating breaker state or the
// report history.
func (e *Engine) CheckTarget(ctx context.Context, target report.Target) report.TargetReport {
	prober, ok := e.probers[target.Protocol]
	if !ok {
		p, err := probe.ForProtocol(target.Protocol)
		if err != nil {
			return report.TargetReport{Label: target.Label, Error: err.Error(), Essential: target.Essential}
		}
		prober = p
	}
	o := e.probeOne(ctx, prober, target, nil)
	return o.rep
}

// Latest returns the most recent report, or nil before the first check.
func (e *Engine) Latest() *report.Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// Previous returns the report before the latest one, or nil.
func (e *Engine) Previous() *report.Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.previous
}

// BreakerFailures exposes the consecutive essential-failure count, mainly
// for metrics.
func (e *Engine) BreakerFailures() int {
	return e.breaker.Failures()
}

// BreakerOpen reports whether the circuit breaker currently blocks guarded
// actions.
func (e *Engine) BreakerOpen() bool {
	open, _ := e.breaker.Open()
	return open
}

// probeAll samples every target concurrently, one task per target, and
// returns outcomes in configuration order.
func (e *Engine) probeAll(ctx context.Context) []outcome {
	probeCtx := ctx
	var cancelLosers context.CancelFunc
	if e.cfg.Resilience.CancelLosers && e.cfg.Resilience.Strategy == config.StrategyRace {
		probeCtx, cancelLosers = context.WithCancel(ctx)
		defer cancelLosers()
	}

	var seq atomic.Int64
	outcomes := make([]outcome, len(e.targets))
	var wg sync.WaitGroup
	for i, target := range e.targets {
		wg.Add(1)
		go func(i int, target report.Target) {
			defer wg.Done()
			o := e.probeOne(probeCtx, e.probers[target.Protocol], target, &seq)
			if o.rep.Success && cancelLosers != nil {
				cancelLosers()
			}
			outcomes[i] = o
		}(i, target)
	}
	wg.Wait()
	return outcomes
}

// probeOne runs the sampler against one target and aggregates the attempts.
func (e *Engine) probeOne(ctx context.Context, prober probe.Prober, target report.Target, seq *atomic.Int64) outcome {
	attempts := probe.Sample(ctx, prober, target, e.cfg.Resilience.NumJitterSamples)
	rtts := probe.SuccessfulRTTs(attempts)
	st := stats.Aggregate(rtts, len(attempts), e.score)

	rep := report.TargetReport{Label: target.Label, Essential: target.Essential}
	o := outcome{target: target, stats: st, rep: rep}
	if len(rtts) > 0 {
		o.rep.Success = true
		o.rep.Latency = st.Avg
		if seq != nil {
			o.order = seq.Add(1)
		}
	} else {
		o.rep.Error = firstError(attempts)
	}
	return o
}

// summarize applies the configured strategy to the per-target outcomes and
// picks the winner used for the system-wide statistics.
func (e *Engine) summarize(outcomes []outcome) (bool, *outcome) {
	successes := make([]*outcome, 0, len(outcomes))
	for i := range outcomes {
		if outcomes[i].rep.Success {
			successes = append(successes, &outcomes[i])
		}
	}

	switch e.cfg.Resilience.Strategy {
	case config.StrategyConsensus:
		// Connectivity requires a strict majority; priority only orders the
		// winner among the successes.
		if len(successes)*2 <= len(outcomes) {
			return false, nil
		}
		sort.SliceStable(successes, func(a, b int) bool {
			if successes[a].target.Priority != successes[b].target.Priority {
				return successes[a].target.Priority < successes[b].target.Priority
			}
			return successes[a].stats.Avg < successes[b].stats.Avg
		})
		return true, successes[0]
	default: // race
		if len(successes) == 0 {
			return false, nil
		}
		winner := successes[0]
		for _, s := range successes[1:] {
			if s.order < winner.order {
				winner = s
			}
		}
		return true, winner
	}
}

// dnsControlHost picks the domain used for the hijack comparison: an
// essential target when one exists, otherwise the first target.
func (e *Engine) dnsControlHost() string {
	for _, t := range e.targets {
		if t.Essential {
			return t.Host
		}
	}
	return e.targets[0].Host
}

func firstError(attempts []probe.Attempt) string {
	for _, a := range attempts {
		if a.Err != nil {
			return a.Err.Error()
		}
	}
	return "probe failed"
}

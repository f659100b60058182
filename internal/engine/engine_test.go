package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"netguard/internal/config"
	"netguard/internal/probe"
	"netguard/internal/quality"
	"netguard/internal/report"
)

// fakeProber answers by target label: a configured latency means success,
// absence means failure.
type fakeProber struct {
	latency map[string]time.Duration
}

func (f fakeProber) Probe(ctx context.Context, target report.Target) probe.Attempt {
	if rtt, ok := f.latency[target.Label]; ok {
		return probe.Attempt{RTT: rtt}
	}
	return probe.Attempt{Err: errors.New("unreachable")}
}

type fakeDNS struct{ hijacked bool }

func (f fakeDNS) Detect(ctx context.Context, domain string) bool { return f.hijacked }

func cleanInspect() (report.SecurityFlags, report.ConnectionType) {
	return report.SecurityFlags{InterfaceName: "eth0"}, report.ConnectionEthernet
}

func testConfig(t *testing.T, targets ...config.TargetConfig) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Targets = targets
	cfg.Resilience.NumJitterSamples = 1
	cfg.ApplyDefaults()
	return cfg
}

func target(label string, priority int, essential bool) config.TargetConfig {
	return config.TargetConfig{
		Label:     label,
		Host:      "192.0.2.1",
		Port:      53,
		Protocol:  "tcp",
		Timeout:   time.Second,
		Priority:  priority,
		Essential: essential,
	}
}

func newTestEngine(t *testing.T, cfg config.Config, latency map[string]time.Duration) *Engine {
	t.Helper()
	eng, err := New(cfg)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	t.Cleanup(eng.Close)

	fake := fakeProber{latency: latency}
	for proto := range eng.probers {
		eng.probers[proto] = fake
	}
	eng.inspect = cleanInspect
	eng.dns = fakeDNS{}
	return eng
}

func TestCheckRaceConnectedOnAnySuccess(t *testing.T) {
	cfg := testConfig(t, target("a", 1, false), target("b", 1, false))
	eng := newTestEngine(t, cfg, map[string]time.Duration{"b": 20 * time.Millisecond})

	rep, err := eng.Check(context.Background())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !rep.Status.Connected {
		t.Fatalf("race with one success should be connected")
	}
	if rep.Status.WinnerTarget != "b" {
		t.Fatalf("expected winner b, got %q", rep.Status.WinnerTarget)
	}
	if rep.Status.LatencyStats.Avg != 20*time.Millisecond {
		t.Fatalf("system stats should come from the winner, got %+v", rep.Status.LatencyStats)
	}
}

func TestCheckRaceAllFail(t *testing.T) {
	cfg := testConfig(t, target("a", 1, false), target("b", 1, false))
	eng := newTestEngine(t, cfg, nil)

	rep, err := eng.Check(context.Background())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if rep.Status.Connected {
		t.Fatalf("all failures must not report connected")
	}
	if rep.Status.Quality != quality.Offline {
		t.Fatalf("expected offline grade, got %s", rep.Status.Quality)
	}
	if rep.Status.WinnerTarget != "" {
		t.Fatalf("no winner expected, got %q", rep.Status.WinnerTarget)
	}
	if rep.Status.LatencyStats.PacketLossPercent != 100 {
		t.Fatalf("expected degenerate stats, got %+v", rep.Status.LatencyStats)
	}
	for _, tr := range rep.Targets {
		if tr.Success || tr.Error == "" {
			t.Fatalf("every target report should carry a failure: %+v", tr)
		}
	}
}

func TestCheckConsensusRequiresMajority(t *testing.T) {
	cfg := testConfig(t, target("a", 1, false), target("b", 1, false))
	cfg.Resilience.Strategy = config.StrategyConsensus
	eng := newTestEngine(t, cfg, map[string]time.Duration{"a": 20 * time.Millisecond})

	rep, err := eng.Check(context.Background())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	// One of two is not a strict majority.
	if rep.Status.Connected {
		t.Fatalf("half the targets is not a consensus")
	}
}

func TestCheckConsensusMajorityConnects(t *testing.T) {
	cfg := testConfig(t, target("a", 1, false), target("b", 1, false), target("c", 1, false))
	cfg.Resilience.Strategy = config.StrategyConsensus
	eng := newTestEngine(t, cfg, map[string]time.Duration{
		"a": 20 * time.Millisecond,
		"b": 30 * time.Millisecond,
	})

	rep, err := eng.Check(context.Background())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !rep.Status.Connected {
		t.Fatalf("two of three should be a consensus")
	}
}

func TestConsensusWinnerByPriorityThenLatency(t *testing.T) {
	cfg := testConfig(t, target("slow-primary", 1, false), target("fast-secondary", 2, false), target("fast-primary", 1, false))
	cfg.Resilience.Strategy = config.StrategyConsensus
	eng := newTestEngine(t, cfg, map[string]time.Duration{
		"slow-primary":   50 * time.Millisecond,
		"fast-secondary": 5 * time.Millisecond,
		"fast-primary":   10 * time.Millisecond,
	})

	rep, err := eng.Check(context.Background())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	// Priority 1 beats the faster priority 2; latency breaks the tie inside
	// priority 1.
	if rep.Status.WinnerTarget != "fast-primary" {
		t.Fatalf("expected fast-primary to win, got %q", rep.Status.WinnerTarget)
	}
}

func TestCheckRotatesHistory(t *testing.T) {
	cfg := testConfig(t, target("a", 1, false))
	eng := newTestEngine(t, cfg, map[string]time.Duration{"a": 20 * time.Millisecond})

	if eng.Latest() != nil || eng.Previous() != nil {
		t.Fatalf("fresh engine should have no reports")
	}

	first, err := eng.Check(context.Background())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	second, err := eng.Check(context.Background())
	if err != nil {
		t.Fatalf("check: %v", err)
	}

	if eng.Latest() != second || eng.Previous() != first {
		t.Fatalf("history should hold the two most recent reports")
	}
}

func TestCheckSetsDNSHijackFlag(t *testing.T) {
	cfg := testConfig(t, target("a", 1, false))
	cfg.Security.DetectDNSHijack = true
	eng := newTestEngine(t, cfg, map[string]time.Duration{"a": 20 * time.Millisecond})
	eng.dns = fakeDNS{hijacked: true}

	rep, err := eng.Check(context.Background())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !rep.Security.DNSSpoofed {
		t.Fatalf("expected DNS hijack flag on the report")
	}
}

func TestCheckIgnoresDNSWhenDisabled(t *testing.T) {
	cfg := testConfig(t, target("a", 1, false))
	eng := newTestEngine(t, cfg, map[string]time.Duration{"a": 20 * time.Millisecond})
	eng.dns = fakeDNS{hijacked: true}

	rep, err := eng.Check(context.Background())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if rep.Security.DNSSpoofed {
		t.Fatalf("hijack detection is off, flag must stay clear")
	}
}

func TestCheckAfterClose(t *testing.T) {
	cfg := testConfig(t, target("a", 1, false))
	eng := newTestEngine(t, cfg, map[string]time.Duration{"a": 20 * time.Millisecond})

	eng.Close()
	if _, err := eng.Check(context.Background()); !errors.Is(err, ErrEngineClosed) {
		t.Fatalf("expected ErrEngineClosed, got %v", err)
	}
}

func TestCheckCancelledContext(t *testing.T) {
	cfg := testConfig(t, target("a", 1, false))
	eng := newTestEngine(t, cfg, map[string]time.Duration{"a": 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := eng.Check(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestCheckTargetDoesNotTouchState(t *testing.T) {
	cfg := testConfig(t, target("a", 1, true))
	eng := newTestEngine(t, cfg, nil)

	tr := eng.CheckTarget(context.Background(), cfg.EngineTargets()[0])
	if tr.Success {
		t.Fatalf("expected failure report")
	}
	if eng.Latest() != nil {
		t.Fatalf("single-target check must not record a report")
	}
	if eng.BreakerFailures() != 0 {
		t.Fatalf("single-target check must not feed the breaker")
	}
}

func TestBreakerCountsEssentialFailures(t *testing.T) {
	cfg := testConfig(t, target("essential", 1, true), target("extra", 1, false))
	cfg.Resilience.CircuitBreakerThreshold = 2
	eng := newTestEngine(t, cfg, map[string]time.Duration{"extra": 10 * time.Millisecond})

	for i := 0; i < 2; i++ {
		if _, err := eng.Check(context.Background()); err != nil {
			t.Fatalf("check: %v", err)
		}
	}
	if !eng.BreakerOpen() {
		t.Fatalf("two failing essential rounds should open the breaker")
	}
}

func TestBreakerIgnoresNonEssentialFailures(t *testing.T) {
	cfg := testConfig(t, target("essential", 1, true), target("extra", 1, false))
	cfg.Resilience.CircuitBreakerThreshold = 1
	eng := newTestEngine(t, cfg, map[string]time.Duration{"essential": 10 * time.Millisecond})

	for i := 0; i < 3; i++ {
		if _, err := eng.Check(context.Background()); err != nil {
			t.Fatalf("check: %v", err)
		}
	}
	if eng.BreakerOpen() {
		t.Fatalf("non-essential failures must not open the breaker")
	}
	if eng.BreakerFailures() != 0 {
		t.Fatalf("successful essential rounds should keep resetting the count")
	}
}

func TestBreakerUntouchedWithoutEssentialTargets(t *testing.T) {
	cfg := testConfig(t, target("a", 1, false))
	cfg.Resilience.CircuitBreakerThreshold = 1
	eng := newTestEngine(t, cfg, nil)

	for i := 0; i < 3; i++ {
		if _, err := eng.Check(context.Background()); err != nil {
			t.Fatalf("check: %v", err)
		}
	}
	if eng.BreakerOpen() || eng.BreakerFailures() != 0 {
		t.Fatalf("without essential targets the breaker must stay idle")
	}
}

func TestSubscribeReceivesPublishedStatus(t *testing.T) {
	cfg := testConfig(t, target("a", 1, false))
	eng := newTestEngine(t, cfg, map[string]time.Duration{"a": 20 * time.Millisecond})

	ch, cancel := eng.Subscribe()
	defer cancel()

	want := report.Status{Connected: true, Quality: quality.Excellent, WinnerTarget: "a"}
	eng.Publish(want)

	select {
	case got := <-ch:
		if got.WinnerTarget != "a" || !got.Connected {
			t.Fatalf("unexpected status: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("no status delivered")
	}
}

func TestPublishReplacesStaleStatus(t *testing.T) {
	cfg := testConfig(t, target("a", 1, false))
	eng := newTestEngine(t, cfg, map[string]time.Duration{"a": 20 * time.Millisecond})

	ch, cancel := eng.Subscribe()
	defer cancel()

	eng.Publish(report.Status{WinnerTarget: "stale"})
	eng.Publish(report.Status{WinnerTarget: "fresh"})

	select {
	case got := <-ch:
		if got.WinnerTarget != "fresh" {
			t.Fatalf("expected the most recent status, got %q", got.WinnerTarget)
		}
	case <-time.After(time.Second):
		t.Fatalf("no status delivered")
	}
}

func TestSubscribeCancelClosesChannel(t *testing.T) {
	cfg := testConfig(t, target("a", 1, false))
	eng := newTestEngine(t, cfg, map[string]time.Duration{"a": 20 * time.Millisecond})

	ch, cancel := eng.Subscribe()
	cancel()
	cancel() // cancelling twice is harmless

	if _, ok := <-ch; ok {
		t.Fatalf("cancelled subscription channel should be closed")
	}
	eng.Publish(report.Status{}) // must not panic after cancel
}

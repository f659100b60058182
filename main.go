package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"netguard/internal/cli"
	"netguard/internal/config"
	"netguard/internal/engine"
	"netguard/internal/log"
	"netguard/internal/metrics"
	"netguard/internal/monitor"
	"netguard/internal/report"
	"netguard/internal/scan"
	"netguard/internal/security"
	"netguard/internal/trace"
)

const version = "0.1.0"

func main() {
	var (
		flagInterval      cli.OptionalDuration
		flagStrategy      cli.OptionalString
		flagSamples       cli.OptionalInt
		flagMetricsListen cli.OptionalString
		flagLogLevel      cli.OptionalString
		flagBlockVPN      cli.OptionalBool
		flagDNSHijack     cli.OptionalBool
		flagOnce          bool
		flagExternalIP    bool
		flagTrace         cli.OptionalString
		flagScan          cli.OptionalString
		flagScanPort      cli.OptionalInt
		flagVersion       bool
		flagVersionShort  bool
	)

	flag.Var(&flagInterval, "interval", "check interval (override config)")
	flag.Var(&flagInterval, "i", "check interval (override config)")
	flag.Var(&flagStrategy, "strategy", "connectivity strategy: race|consensus")
	flag.Var(&flagSamples, "samples", "probe attempts per target per check")
	flag.Var(&flagMetricsListen, "metrics-listen", "metrics listen address (e.g. :9100)")
	flag.Var(&flagLogLevel, "log-level", "log level: debug|info|warn|error")
	flag.Var(&flagBlockVPN, "block-vpn", "refuse guarded actions over VPN interfaces")
	flag.Var(&flagDNSHijack, "detect-dns-hijack", "compare system DNS answers with a trusted resolver")
	flag.BoolVar(&flagOnce, "once", false, "run a single check, print the report as JSON and exit")
	flag.BoolVar(&flagExternalIP, "external-ip", false, "print the STUN-mapped external address and exit")
	flag.Var(&flagTrace, "trace", "trace the path to a host and exit")
	flag.Var(&flagScan, "scan", "scan a subnet (CIDR) for TCP listeners and exit")
	flag.Var(&flagScanPort, "scan-port", "port probed by -scan (default 80)")
	flag.BoolVar(&flagVersion, "version", false, "show version")
	flag.BoolVar(&flagVersionShort, "v", false, "show version")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [options] [config-file]\n\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "Options:")
		flag.PrintDefaults()
	}

	flag.Parse()

	if flagVersion || flagVersionShort {
		fmt.Fprintf(os.Stdout, "netguard version %s\n", version)
		return
	}

	logger := log.NewLogger(log.LevelInfo)

	cfg := config.Default()
	if args := flag.Args(); len(args) > 0 {
		loaded, err := config.Load(args[0])
		logger.LogConfigLoad(err == nil, args[0], err)
		if err != nil {
			os.Exit(1)
		}
		cfg = loaded
	}
	buildOverrides(flagInterval, flagStrategy, flagSamples, flagMetricsListen, flagLogLevel, flagBlockVPN, flagDNSHijack).Apply(&cfg)

	logger.SetLevel(log.ParseLevel(cfg.LogLevel))

	eng, err := engine.New(cfg)
	if err != nil {
		logger.LogError("engine", err, nil)
		os.Exit(1)
	}
	defer eng.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if flagExternalIP {
		addr, err := security.ExternalAddress(ctx, cfg.STUNServers, 5*time.Second)
		if err != nil {
			logger.LogError("stun", err, nil)
			os.Exit(1)
		}
		fmt.Fprintln(os.Stdout, addr)
		return
	}

	if host, ok := flagTrace.Value(); ok && host != "" {
		hops, err := trace.Route(ctx, host, 30, time.Second)
		if err != nil {
			logger.LogError("trace", err, nil)
			os.Exit(1)
		}
		for _, hop := range hops {
			if hop.Address == "*" {
				fmt.Fprintf(os.Stdout, "%2d  *\n", hop.Number)
				continue
			}
			fmt.Fprintf(os.Stdout, "%2d  %s  %s\n", hop.Number, hop.Address, hop.Latency.Round(time.Microsecond))
		}
		return
	}

	if cidr, ok := flagScan.Value(); ok && cidr != "" {
		port := 80
		if v, ok := flagScanPort.Value(); ok {
			port = v
		}
		devices, err := scan.Subnet(ctx, cidr, port, time.Second, scan.DefaultConcurrency)
		if err != nil {
			logger.LogError("scan", err, nil)
			os.Exit(1)
		}
		for _, device := range devices {
			fmt.Fprintln(os.Stdout, device.Address)
		}
		return
	}

	if flagOnce {
		if err := runOnce(ctx, eng); err != nil {
			logger.LogError("check", err, nil)
			os.Exit(1)
		}
		return
	}

	if cfg.MetricsListen != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsListen, eng); err != nil && ctx.Err() == nil {
				logger.LogError("metrics", err, nil)
			}
		}()
	}

	mon := monitor.New(eng, cfg.CheckInterval)
	mon.OnReport = func(rep *report.Report) {
		logger.LogCheckResult(
			rep.Status.Connected,
			rep.Status.Quality.String(),
			rep.Status.WinnerTarget,
			rep.Status.LatencyStats.Avg,
			rep.Status.LatencyStats.PacketLossPercent,
			rep.Status.LatencyStats.StabilityScore,
		)
		for _, target := range rep.Targets {
			logger.LogTargetResult(target.Label, target.Success, target.Latency, target.Error)
		}
	}
	mon.OnError = func(err error) {
		logger.LogError("monitor", err, nil)
	}

	if err := mon.Run(ctx); err != nil && ctx.Err() == nil {
		logger.LogError("monitor", err, nil)
		os.Exit(1)
	}
}

func runOnce(ctx context.Context, eng *engine.Engine) error {
	rep, err := eng.Check(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}

func buildOverrides(
	interval cli.OptionalDuration,
	strategy cli.OptionalString,
	samples cli.OptionalInt,
	metricsListen cli.OptionalString,
	logLevel cli.OptionalString,
	blockVPN cli.OptionalBool,
	dnsHijack cli.OptionalBool,
) config.Overrides {
	overrides := config.Overrides{}

	if v, ok := interval.Value(); ok {
		value := v
		overrides.CheckInterval = &value
	}
	if v, ok := strategy.Value(); ok && v != "" {
		value := config.Strategy(v)
		overrides.Strategy = &value
	}
	if v, ok := samples.Value(); ok {
		value := v
		overrides.JitterSamples = &value
	}
	if v, ok := metricsListen.Value(); ok && v != "" {
		value := v
		overrides.MetricsListen = &value
	}
	if v, ok := logLevel.Value(); ok && v != "" {
		value := v
		overrides.LogLevel = &value
	}
	if v, ok := blockVPN.Value(); ok {
		value := v
		overrides.BlockVPN = &value
	}
	if v, ok := dnsHijack.Value(); ok {
		value := v
		overrides.DetectDNSHijack = &value
	}

	return overrides
}

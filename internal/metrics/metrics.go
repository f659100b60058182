package metrics

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"netguard/internal/report"
)

// Source is the engine surface the metrics server reads from.
type Source interface {
	Latest() *report.Report
	BreakerOpen() bool
	BreakerFailures() int
}

// Server exposes Prometheus-style metrics based on the latest report.
type Server struct {
	source Source
}

// NewServer constructs a metrics server.
func NewServer(source Source) *Server {
	return &Server{source: source}
}

// Handler returns an http handler that serves metrics.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		bw := bufio.NewWriter(w)
		defer bw.Flush()
		s.writeMetrics(bw)
	})
}

func (s *Server) writeMetrics(w *bufio.Writer) {
	breakerOpen := 0
	if s.source.BreakerOpen() {
		breakerOpen = 1
	}
	fmt.Fprintf(w, "netguard_breaker_open %d\n", breakerOpen)
	fmt.Fprintf(w, "netguard_breaker_failures %d\n", s.source.BreakerFailures())

	rep := s.source.Latest()
	if rep == nil {
		return
	}

	connected := 0
	if rep.Status.Connected {
		connected = 1
	}
	fmt.Fprintf(w, "netguard_connected %d\n", connected)
	fmt.Fprintf(w, "netguard_quality_grade %d\n", int(rep.Status.Quality))
	fmt.Fprintf(w, "netguard_latency_avg_ms %d\n", rep.Status.LatencyStats.Avg.Milliseconds())
	fmt.Fprintf(w, "netguard_latency_jitter_ms %d\n", rep.Status.LatencyStats.Jitter.Milliseconds())
	fmt.Fprintf(w, "netguard_packet_loss_pct %g\n", rep.Status.LatencyStats.PacketLossPercent)
	fmt.Fprintf(w, "netguard_stability_score %g\n", rep.Status.LatencyStats.StabilityScore)

	for _, target := range rep.Targets {
		labels := fmt.Sprintf("target=%q", escapeLabel(target.Label))
		up := 0
		if target.Success {
			up = 1
		}
		fmt.Fprintf(w, "netguard_target_up{%s} %d\n", labels, up)
		if target.Success {
			fmt.Fprintf(w, "netguard_target_latency_ms{%s} %d\n", labels, target.Latency.Milliseconds())
		}
	}
}

func escapeLabel(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	return value
}

// Serve starts an HTTP server and blocks until context cancellation.
func Serve(ctx context.Context, addr string, source Source) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", NewServer(source).Handler())
	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		_ = server.Shutdown(context.Background())
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return context.Canceled
		}
		return err
	}
}

package probe

import (
	"context"
	"fmt"
	"time"

	"netguard/internal/report"
)

// Attempt captures a single round-trip probe attempt.
type Attempt struct {
	RTT time.Duration
	Err error
}

// Success reports whether the attempt completed a round trip.
func (a Attempt) Success() bool {
	return a.Err == nil
}

// Prober performs one round-trip probe against a target. Implementations own
// their transport resource for the duration of the attempt and release it on
// every exit path.
type Prober interface {
	Probe(ctx context.Context, target report.Target) Attempt
}

// ForProtocol selects the prober implementation for a target protocol.
func ForProtocol(p report.Protocol) (Prober, error) {
	switch p {
	case report.ProtocolTCP:
		return TCPProber{}, nil
	case report.ProtocolUDP:
		return UDPProber{}, nil
	case report.ProtocolICMP:
		return NewICMPProber(), nil
	default:
		return nil, fmt.Errorf("unsupported probe protocol: %q", p)
	}
}

// Sample runs n independent attempts against the target and returns one
// Attempt per try. Attempts never share a connection, so later samples are
// not biased by a warm transport, and a failure on one attempt does not
// abort the rest. Once the context is cancelled the remaining attempts are
// recorded as failures without touching the network.
func Sample(ctx context.Context, p Prober, target report.Target, n int) []Attempt {
	if n < 1 {
		n = 1
	}
	attempts := make([]Attempt, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			attempts = append(attempts, Attempt{Err: err})
			continue
		}
		attempts = append(attempts, p.Probe(ctx, target))
	}
	return attempts
}

// SuccessfulRTTs extracts the round trips of successful attempts in order.
func SuccessfulRTTs(attempts []Attempt) []time.Duration {
	rtts := make([]time.Duration, 0, len(attempts))
	for _, a := range attempts {
		if a.Success() {
			rtts = append(rtts, a.RTT)
		}
	}
	return rtts
}

package quality

import (
	"time"

	"netguard/internal/stats"
)

// Grade is the discrete quality rating of a connection. Higher values are
// better, which makes grade comparisons ordinary integer comparisons.
type Grade int

const (
	Offline Grade = iota
	Unstable
	Poor
	Moderate
	Good
	Great
	Excellent
)

var gradeNames = map[Grade]string{
	Offline:   "offline",
	Unstable:  "unstable",
	Poor:      "poor",
	Moderate:  "moderate",
	Good:      "good",
	Great:     "great",
	Excellent: "excellent",
}

func (g Grade) String() string {
	if name, ok := gradeNames[g]; ok {
		return name
	}
	return "unknown"
}

// MarshalJSON renders the grade as its name rather than an opaque integer.
func (g Grade) MarshalJSON() ([]byte, error) {
	return []byte(`"` + g.String() + `"`), nil
}

// AtLeast reports whether g meets the given minimum grade.
func (g Grade) AtLeast(min Grade) bool {
	return g >= min
}

// Thresholds are the ascending latency bounds for each grade. A latency at or
// below a bound maps to that grade; anything beyond Poor is clamped to Poor.
type Thresholds struct {
	Excellent time.Duration
	Great     time.Duration
	Good      time.Duration
	Moderate  time.Duration
	Poor      time.Duration
}

// DefaultThresholds returns the stock grade boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Excellent: 50 * time.Millisecond,
		Great:     100 * time.Millisecond,
		Good:      200 * time.Millisecond,
		Moderate:  400 * time.Millisecond,
		Poor:      1000 * time.Millisecond,
	}
}

// Evaluate maps aggregated statistics onto a grade. The precedence order is
// fixed: disconnection beats packet loss, packet loss beats low stability,
// and only then does average latency select a bucket. A fast but lossy
// connection therefore can never grade excellent.
func Evaluate(connected bool, s stats.Stats, th Thresholds, criticalLossPct, stabilityMin float64) Grade {
	if !connected {
		return Offline
	}
	if s.PacketLossPercent >= criticalLossPct {
		return Unstable
	}
	if s.StabilityScore < stabilityMin {
		return Unstable
	}

	switch {
	case s.Avg <= th.Excellent:
		return Excellent
	case s.Avg <= th.Great:
		return Great
	case s.Avg <= th.Good:
		return Good
	case s.Avg <= th.Moderate:
		return Moderate
	default:
		// Latency past the poor bound is still poor, not offline; offline is
		// reserved for total failure.
		return Poor
	}
}

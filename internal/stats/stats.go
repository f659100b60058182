package stats

import (
	"math"
	"time"
)

// Stats summarizes the sample attempts collected against one target during a
// single check. Latency fields are zero when no attempt succeeded.
type Stats struct {
	Attempted         int           `json:"attempted"`
	Succeeded         int           `json:"succeeded"`
	Min               time.Duration `json:"min_ns"`
	Max               time.Duration `json:"max_ns"`
	Avg               time.Duration `json:"avg_ns"`
	Jitter            time.Duration `json:"jitter_ns"`
	PacketLossPercent float64       `json:"packet_loss_percent"`
	StabilityScore    float64       `json:"stability_score"`
}

// ScoreFunc turns a sample run into a 0-100 stability score. rtts holds the
// successful round trips in attempt order; avg and jitter are precomputed
// over the same values.
type ScoreFunc func(rtts []time.Duration, avg, jitter time.Duration, lossPct float64) float64

// Aggregate reduces the successful round trips of one sample run into Stats.
// attempted is the total number of attempts including failures. A nil score
// function falls back to DefaultScore.
func Aggregate(rtts []time.Duration, attempted int, score ScoreFunc) Stats {
	if score == nil {
		score = DefaultScore
	}

	s := Stats{Attempted: attempted, Succeeded: len(rtts)}
	if attempted > 0 {
		s.PacketLossPercent = 100 * float64(attempted-len(rtts)) / float64(attempted)
	}

	if len(rtts) == 0 {
		// Degenerate run: every attempt failed.
		s.PacketLossPercent = 100
		s.StabilityScore = 0
		return s
	}

	s.Min, s.Max = rtts[0], rtts[0]
	var sum time.Duration
	for _, rtt := range rtts {
		sum += rtt
		if rtt < s.Min {
			s.Min = rtt
		}
		if rtt > s.Max {
			s.Max = rtt
		}
	}
	s.Avg = sum / time.Duration(len(rtts))
	s.Jitter = populationStdDev(rtts, s.Avg)
	s.StabilityScore = clamp(score(rtts, s.Avg, s.Jitter, s.PacketLossPercent), 0, 100)
	return s
}

// populationStdDev returns the population standard deviation of the samples.
// Fewer than two samples carry no variance, so the result is zero.
func populationStdDev(rtts []time.Duration, mean time.Duration) time.Duration {
	if len(rtts) < 2 {
		return 0
	}
	var sum float64
	for _, rtt := range rtts {
		diff := float64(rtt - mean)
		sum += diff * diff
	}
	return time.Duration(math.Sqrt(sum / float64(len(rtts))))
}

// DefaultJitterThresholdPercent is the jitter-to-mean ratio, in percent,
// below which the default scorer applies no jitter penalty.
const DefaultJitterThresholdPercent = 25

// DefaultScore is Scorer(DefaultJitterThresholdPercent).
func DefaultScore(rtts []time.Duration, avg, jitter time.Duration, lossPct float64) float64 {
	return Scorer(DefaultJitterThresholdPercent)(rtts, avg, jitter, lossPct)
}

// Scorer builds the default stability blend for a given jitter threshold.
// Four penalty components are weighted together: jitter-to-mean ratio in
// excess of the threshold (35%), sequential jitter between consecutive
// samples (25%), packet loss (30%) and latency spikes (10%). Each component
// is clamped to [0,100] before weighting, so the result decreases
// monotonically as the jitter ratio exceeds the threshold or loss grows.
func Scorer(jitterThresholdPct float64) ScoreFunc {
	return func(rtts []time.Duration, avg, jitter time.Duration, lossPct float64) float64 {
		mean := float64(avg)

		cvScore := 100.0
		if mean > 0 {
			excess := float64(jitter)/mean - jitterThresholdPct/100
			if excess > 0 {
				cvScore = clamp(100*(1-excess*3), 0, 100)
			}
		} else if lossPct > 0 {
			cvScore = 0
		}

		seqScore := 100.0
		if len(rtts) > 1 && mean > 0 {
			var diffSum float64
			for i := 1; i < len(rtts); i++ {
				diffSum += math.Abs(float64(rtts[i] - rtts[i-1]))
			}
			relative := diffSum / float64(len(rtts)-1) / mean
			seqScore = clamp(100*(1-relative*4), 0, 100)
		}

		lossScore := 100.0
		if lossPct > 0 {
			lossScore = clamp(100-lossPct*10, 0, 100)
		}

		spikeScore := 100.0
		if len(rtts) > 0 && mean > 0 {
			var max time.Duration
			for _, rtt := range rtts {
				if rtt > max {
					max = rtt
				}
			}
			if float64(max) > mean*2 {
				spikeScore = 80
			}
		}

		return cvScore*0.35 + seqScore*0.25 + lossScore*0.30 + spikeScore*0.10
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

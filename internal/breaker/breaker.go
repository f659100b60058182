// Package breaker implements the failure gate that protects guarded actions
// after repeated essential-target failures.
package breaker

import (
	"sync"
	"time"
)

// Breaker counts consecutive check rounds in which at least one essential
// target failed. Reaching the threshold opens the gate for a fixed cool-down
// window; a round where every essential target succeeds forces it closed
// again. A threshold of zero disables the breaker entirely.
//
// State only changes when a check round is recorded or when the open window
// is observed to have elapsed; nothing mutates mid-probe.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	failures  int
	openUntil time.Time
}

// New returns a closed breaker. cooldown is the time the breaker stays open
// once tripped before the next check is allowed through again.
func New(threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{threshold: threshold, cooldown: cooldown}
}

// Record feeds the outcome of one completed check round. essentialFailed is
// true when any essential target failed during the round.
func (b *Breaker) Record(essentialFailed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !essentialFailed {
		b.failures = 0
		b.openUntil = time.Time{}
		return
	}

	b.failures++
	if b.threshold > 0 && b.failures >= b.threshold {
		b.openUntil = time.Now().Add(b.cooldown)
	}
}

// Open reports whether the gate is currently open, along with the time it
// will allow traffic again. Observing an elapsed cool-down closes the gate;
// the failure counter is kept so that the next failing round re-opens it
// immediately.
func (b *Breaker) Open() (bool, time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.openUntil.IsZero() {
		return false, time.Time{}
	}
	if !time.Now().Before(b.openUntil) {
		b.openUntil = time.Time{}
		return false, time.Time{}
	}
	return true, b.openUntil
}

// Failures returns the current consecutive-failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset forces the breaker closed and clears the failure counter.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.openUntil = time.Time{}
}

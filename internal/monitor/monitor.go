// Package monitor drives periodic engine checks.
package monitor

import (
	"context"
	"time"

	"netguard/internal/engine"
	"netguard/internal/report"
)

// Checker is the engine surface the monitor needs.
type Checker interface {
	Check(ctx context.Context) (*report.Report, error)
	Publish(status report.Status)
}

// Monitor runs one check per interval, sequentially. A check that overruns
// the interval delays the next one; checks never overlap.
type Monitor struct {
	checker  Checker
	interval time.Duration

	// OnReport, when set, observes every completed check. Used for logging.
	OnReport func(*report.Report)
	// OnError observes check failures other than context cancellation.
	OnError func(error)
}

// New builds a monitor around the engine. An interval of zero or below
// disables the loop; Run then returns immediately.
func New(checker Checker, interval time.Duration) *Monitor {
	return &Monitor{checker: checker, interval: interval}
}

// Run blocks until the context is cancelled, performing one check per tick
// and publishing each resulting status to the engine's subscribers.
func (m *Monitor) Run(ctx context.Context) error {
	if m.interval <= 0 {
		return nil
	}

	timer := time.NewTimer(m.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		rep, err := m.checker.Check(ctx)
		switch {
		case err == nil:
			m.checker.Publish(rep.Status)
			if m.OnReport != nil {
				m.OnReport(rep)
			}
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			if m.OnError != nil {
				m.OnError(err)
			}
		}

		timer.Reset(m.interval)
	}
}

var _ Checker = (*engine.Engine)(nil)

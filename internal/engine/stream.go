package engine

import "netguard/internal/report"

// Subscribe registers a status listener and returns the channel together
// with a cancel function. Each subscriber gets a buffered channel of one;
// a slow consumer only ever sees the most recent status, never a backlog.
func (e *Engine) Subscribe() (<-chan report.Status, func()) {
	ch := make(chan report.Status, 1)

	e.subMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	e.subMu.Unlock()

	cancel := func() {
		e.subMu.Lock()
		defer e.subMu.Unlock()
		if c, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// Publish delivers a status to every subscriber without blocking. When a
// subscriber's buffer is full the stale value is replaced by the new one.
func (e *Engine) Publish(status report.Status) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- status:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- status:
			default:
			}
		}
	}
}

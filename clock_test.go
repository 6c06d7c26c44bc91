package main

import (
	"sync"
	"time"
)

// manualClock drives session timers deterministically in tests.
type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

type manualTimer struct {
	clk     *manualClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	t.clk.mu.Lock()
	defer t.clk.mu.Unlock()

	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) sessionTimer {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &manualTimer{clk: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// advance moves the clock forward and fires every due timer, earliest first.
// Callbacks run without the lock held since they may schedule new timers.
func (c *manualClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var next *manualTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.at.After(c.now) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next != nil {
			next.fired = true
		}
		c.mu.Unlock()

		if next == nil {
			return
		}
		next.f()
	}
}

// recorder captures everything a session broadcasts.
type recorder struct {
	mu   sync.Mutex
	msgs []any
}

func (r *recorder) broadcast(sessionID string, msg any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recorder) all() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]any, len(r.msgs))
	copy(out, r.msgs)
	return out
}

func (r *recorder) lastGameEnd() (GameEndMessage, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.msgs) - 1; i >= 0; i-- {
		if end, ok := r.msgs[i].(GameEndMessage); ok {
			return end, true
		}
	}
	return GameEndMessage{}, false
}

func (r *recorder) guessResults() []GuessResultMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []GuessResultMessage
	for _, msg := range r.msgs {
		if res, ok := msg.(GuessResultMessage); ok {
			out = append(out, res)
		}
	}
	return out
}

// Package ratelimit implements cost-weighted sliding window admission.
//
// Admission never rejects: Admit blocks until the request fits in every
// window. None of the types here are safe for concurrent use; a single
// consumer owns them.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

type entry struct {
	at   time.Time
	cost int
}

// SlidingWindow admits requests whose summed cost within the trailing
// window never exceeds budget.
type SlidingWindow struct {
	name    string
	window  time.Duration
	budget  int
	clock   Clock
	entries []entry
	used    int
}

// NewSlidingWindow builds a window. A nil clock uses wall time.
func NewSlidingWindow(name string, window time.Duration, budget int, clock Clock) (*SlidingWindow, error) {
	if window <= 0 {
		return nil, fmt.Errorf("window %s: duration must be positive", name)
	}
	if budget <= 0 {
		return nil, fmt.Errorf("window %s: budget must be positive", name)
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &SlidingWindow{name: name, window: window, budget: budget, clock: clock}, nil
}

func (w *SlidingWindow) Name() string { return w.name }

func (w *SlidingWindow) Budget() int { return w.budget }

func (w *SlidingWindow) Window() time.Duration { return w.window }

// Admit waits until cost fits and records it. Costs above the budget are
// clamped so a single oversized request still gets through on an empty window.
// The only early exit is ctx cancellation.
func (w *SlidingWindow) Admit(ctx context.Context, cost int) error {
	if cost <= 0 {
		return nil
	}
	if cost > w.budget {
		cost = w.budget
	}

	for {
		now := w.clock.Now()
		w.evict(now)
		if w.used+cost <= w.budget {
			w.entries = append(w.entries, entry{at: now, cost: cost})
			w.used += cost
			return nil
		}

		if err := w.clock.Sleep(ctx, w.waitFor(now, cost)); err != nil {
			return err
		}
	}
}

// Used returns the cost recorded inside the trailing window.
func (w *SlidingWindow) Used() int {
	w.evict(w.clock.Now())
	return w.used
}

func (w *SlidingWindow) evict(now time.Time) {
	drop := 0
	for drop < len(w.entries) && now.Sub(w.entries[drop].at) >= w.window {
		w.used -= w.entries[drop].cost
		drop++
	}
	if drop == 0 {
		return
	}
	w.entries = append(w.entries[:0], w.entries[drop:]...)
}

// waitFor returns how long until enough of the oldest entries expire to fit cost.
func (w *SlidingWindow) waitFor(now time.Time, cost int) time.Duration {
	excess := w.used + cost - w.budget
	freed := 0
	for _, e := range w.entries {
		freed += e.cost
		if freed >= excess {
			wait := e.at.Add(w.window).Sub(now)
			if wait <= 0 {
				wait = time.Millisecond
			}
			return wait
		}
	}
	return w.window
}

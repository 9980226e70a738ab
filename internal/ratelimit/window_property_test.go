package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

type admitted struct {
	at   time.Time
	cost int
}

// Property: for every admission, the summed cost admitted within the
// trailing window ending at that admission never exceeds the budget.
func TestSlidingWindowNeverExceedsBudget(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	const budget = 500
	const window = time.Second

	properties.Property("trailing window cost stays within budget", prop.ForAll(
		func(costs []int, gaps []int64) bool {
			clock := NewManualClock(epoch)
			w, err := NewSlidingWindow("second", window, budget, clock)
			if err != nil {
				return false
			}

			history := make([]admitted, 0, len(costs))
			for i, cost := range costs {
				if i < len(gaps) {
					clock.Advance(time.Duration(gaps[i]) * time.Millisecond)
				}
				if err := w.Admit(context.Background(), cost); err != nil {
					return false
				}
				charged := cost
				if charged > budget {
					charged = budget
				}
				history = append(history, admitted{at: clock.Now(), cost: charged})
			}

			for _, end := range history {
				sum := 0
				for _, h := range history {
					if !h.at.After(end.at) && end.at.Sub(h.at) < window {
						sum += h.cost
					}
				}
				if sum > budget {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(1, 700)),
		gen.SliceOf(gen.Int64Range(0, 1500)),
	))

	properties.TestingRun(t)
}

// Property: the stack never waits when every request fits all windows.
func TestStackAdmitsImmediatelyWhenPaced(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("paced requests below budget never wait", prop.ForAll(
		func(costs []int) bool {
			clock := NewManualClock(epoch)
			stack, err := NewStack(DefaultConfig(), clock)
			if err != nil {
				return false
			}
			for _, cost := range costs {
				before := clock.Now()
				if err := stack.Admit(context.Background(), cost); err != nil {
					return false
				}
				if !clock.Now().Equal(before) {
					return false
				}
				clock.Advance(time.Second)
			}
			return true
		},
		gen.SliceOf(gen.IntRange(1, 255)),
	))

	properties.TestingRun(t)
}

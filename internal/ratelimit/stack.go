package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Config sizes the three windows of a Stack.
type Config struct {
	RequestsPerMinute int
	CreditsPerSecond  int
	CreditsPerDay     int
}

// DefaultConfig matches the provider's published credit ceilings.
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 60,
		CreditsPerSecond:  500,
		CreditsPerDay:     3_000_000,
	}
}

// Stack applies self-pacing, per-second and per-day windows in order.
// The self-pacing window always charges 1; the other two charge the request cost.
type Stack struct {
	pace   *SlidingWindow
	second *SlidingWindow
	day    *SlidingWindow
}

// NewStack builds the windows. The self-pacing window admits one request per
// ceil(60/RequestsPerMinute) seconds.
func NewStack(cfg Config, clock Clock) (*Stack, error) {
	if cfg.RequestsPerMinute <= 0 {
		return nil, fmt.Errorf("requests per minute must be greater than zero")
	}

	pace, err := NewSlidingWindow("pace", PaceInterval(cfg.RequestsPerMinute), 1, clock)
	if err != nil {
		return nil, err
	}
	second, err := NewSlidingWindow("second", time.Second, cfg.CreditsPerSecond, clock)
	if err != nil {
		return nil, err
	}
	day, err := NewSlidingWindow("day", 24*time.Hour, cfg.CreditsPerDay, clock)
	if err != nil {
		return nil, err
	}

	return &Stack{pace: pace, second: second, day: day}, nil
}

// PaceInterval returns ceil(60/rpm) seconds.
func PaceInterval(rpm int) time.Duration {
	if rpm <= 0 {
		return time.Minute
	}
	secs := (60 + rpm - 1) / rpm
	return time.Duration(secs) * time.Second
}

// Admit blocks until cost fits all three windows.
func (s *Stack) Admit(ctx context.Context, cost int) error {
	if err := s.pace.Admit(ctx, 1); err != nil {
		return fmt.Errorf("pace window: %w", err)
	}
	if err := s.second.Admit(ctx, cost); err != nil {
		return fmt.Errorf("second window: %w", err)
	}
	if err := s.day.Admit(ctx, cost); err != nil {
		return fmt.Errorf("day window: %w", err)
	}
	return nil
}

// Windows returns the windows in admission order.
func (s *Stack) Windows() []*SlidingWindow {
	return []*SlidingWindow{s.pace, s.second, s.day}
}

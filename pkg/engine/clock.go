// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package engine

import (
	"context"
	"sync"
	"time"
)

// Clock supplies the engine's notion of now
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// WallClock returns a clock backed by time.Now
func WallClock() Clock { return wallClock{} }

// VirtualClock only moves when advanced
type VirtualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewVirtualClock creates a clock stopped at start
func NewVirtualClock(start time.Time) *VirtualClock {
	return &VirtualClock{now: start}
}

func (c *VirtualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and returns the new time
func (c *VirtualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// Scheduler drives the tick function. Ticks run to completion one at a time.
type Scheduler interface {
	Run(ctx context.Context, tick func()) error
}

// TickerScheduler fires on a wall clock ticker. A tick that overruns the
// period causes the missed ticks to be skipped, never queued.
type TickerScheduler struct {
	Period time.Duration
}

func (s TickerScheduler) Run(ctx context.Context, tick func()) error {
	period := s.Period
	if period <= 0 {
		period = DefaultTickPeriod
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			tick()
		}
	}
}

// VirtualScheduler advances a virtual clock by Period before every tick.
// With Ticks > 0 it stops after that many ticks; Until, if set, is checked
// after every tick and stops the run when it returns true.
type VirtualScheduler struct {
	Clock  *VirtualClock
	Period time.Duration
	Ticks  int
	Until  func() bool
}

func (s VirtualScheduler) Run(ctx context.Context, tick func()) error {
	period := s.Period
	if period <= 0 {
		period = DefaultTickPeriod
	}
	for n := 0; s.Ticks <= 0 || n < s.Ticks; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.Clock.Advance(period)
		tick()
		if s.Until != nil && s.Until() {
			return nil
		}
	}
	return nil
}

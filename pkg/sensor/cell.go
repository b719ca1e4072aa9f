// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sensor

import (
	"sync/atomic"
	"time"
)

// Cell holds the last valid snapshot. It has a single writer (the decode path)
// and any number of readers; each Store swaps in a fresh immutable value.
type Cell struct {
	p atomic.Pointer[Snapshot]
}

// Store publishes a new snapshot
func (c *Cell) Store(s Snapshot) {
	c.p.Store(&s)
}

// Load returns the last snapshot, if any
func (c *Cell) Load() (Snapshot, bool) {
	s := c.p.Load()
	if s == nil {
		return Snapshot{}, false
	}
	return *s, true
}

// Fresh returns the last snapshot if it is no older than maxAge at now.
// A stale snapshot is reported as absent.
func (c *Cell) Fresh(now time.Time, maxAge time.Duration) (Snapshot, bool) {
	s, ok := c.Load()
	if !ok {
		return Snapshot{}, false
	}
	if now.Sub(s.Timestamp) > maxAge {
		return Snapshot{}, false
	}
	return s, true
}

// Clear forgets the stored snapshot
func (c *Cell) Clear() {
	c.p.Store(nil)
}

package config

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Snapshot is an immutable, versioned copy of the tracking configuration.
type Snapshot struct {
	Version  uint64         `json:"version"`
	Tracking TrackingConfig `json:"tracking"`
}

// Cell holds the current tracking snapshot. Readers get a consistent copy
// with a single atomic load; writers build a new snapshot and swap it in.
type Cell struct {
	mu      sync.Mutex // serialises writers
	current atomic.Pointer[Snapshot]
}

// NewCell creates a cell holding version 1 of the given configuration.
func NewCell(t TrackingConfig) *Cell {
	c := &Cell{}
	c.current.Store(&Snapshot{Version: 1, Tracking: t})
	return c
}

// Load returns the current snapshot. The result must not be modified.
func (c *Cell) Load() *Snapshot {
	return c.current.Load()
}

// Update applies fn to a copy of the current configuration, validates it and
// publishes it as the next version. The current snapshot is kept on error.
func (c *Cell) Update(fn func(t *TrackingConfig)) (*Snapshot, error) {
	return c.Apply(func(t *TrackingConfig) error {
		fn(t)
		return nil
	})
}

// Apply is Update for changes that can fail. An error from fn discards the
// copy and is returned as is, without a new version.
func (c *Cell) Apply(fn func(t *TrackingConfig) error) (*Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.current.Load()
	next := prev.Tracking
	if err := fn(&next); err != nil {
		return prev, err
	}

	if err := next.Validate(); err != nil {
		return prev, fmt.Errorf("rejected tracking update: %w", err)
	}

	snap := &Snapshot{Version: prev.Version + 1, Tracking: next}
	c.current.Store(snap)
	return snap, nil
}

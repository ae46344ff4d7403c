// Package pool implements the fixed-size, reference-counted cell pools
// that back every message kind in the pipeline (spec §4.1). Unlike the
// teacher's tiered sync.Pool (which grows on demand), a pipeline pool is
// preallocated to a configured cell count: Allocate blocks when the pool
// is empty rather than growing, because exhaustion means the pools were
// sized wrong for the worst case, not that more memory should be handed
// out silently.
package pool

import (
	"log/slog"
	"sync/atomic"

	"github.com/waveforge/netrender/internal/logging"
)

// Entry is a pooled cell holding a value of type T plus a reference
// count. The zero Entry is not usable; obtain one via Pool.Allocate.
type Entry[T any] struct {
	Value    T
	refCount int32
	pool     *Pool[T]
}

// Acquire adds a reference, keeping the cell alive across fan-out (e.g.
// the same AudioPcm handed to a reservoir and a metering tap).
func (e *Entry[T]) Acquire() {
	atomic.AddInt32(&e.refCount, 1)
}

// Release drops a reference. When the count reaches zero the cell is
// reset and returned to its pool.
func (e *Entry[T]) Release() {
	if atomic.AddInt32(&e.refCount, -1) == 0 {
		e.pool.put(e)
	}
}

// RefCount reports the current reference count, mainly for tests.
func (e *Entry[T]) RefCount() int32 {
	return atomic.LoadInt32(&e.refCount)
}

// Stats snapshots a pool's cell accounting.
type Stats struct {
	Total int
	Used  int
	Peak  int
}

// Pool is a fixed-capacity, blocking-on-exhaustion pool of *Entry[T].
type Pool[T any] struct {
	name  string
	free  chan *Entry[T]
	reset func(*T)
	total int
	used  atomic.Int64
	peak  atomic.Int64

	logger *slog.Logger
}

// New preallocates count cells built by zero, with reset invoked on each
// cell (if non-nil) immediately before it re-enters the free list.
func New[T any](name string, count int, zero func() T, reset func(*T)) *Pool[T] {
	logger := logging.ForService("pool")
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("pool", name)

	p := &Pool[T]{
		name:   name,
		free:   make(chan *Entry[T], count),
		reset:  reset,
		total:  count,
		logger: logger,
	}
	for range count {
		p.free <- &Entry[T]{Value: zero(), pool: p}
	}

	logger.Info("pool allocated", "cells", count)
	return p
}

// Allocate takes a cell from the free list, sets its refcount to 1, and
// returns it. It blocks if the pool is currently exhausted: per spec
// §4.1 this indicates the pools were undersized for the workload, not a
// recoverable condition the caller should handle.
func (p *Pool[T]) Allocate() *Entry[T] {
	e := <-p.free
	atomic.StoreInt32(&e.refCount, 1)

	used := p.used.Add(1)
	for {
		peak := p.peak.Load()
		if used <= peak || p.peak.CompareAndSwap(peak, used) {
			break
		}
	}
	return e
}

// TryAllocate attempts a non-blocking allocation, returning ok=false if
// the pool is currently empty, for callers that need to detect
// exhaustion without blocking the hot path.
func (p *Pool[T]) TryAllocate() (*Entry[T], bool) {
	select {
	case e := <-p.free:
		atomic.StoreInt32(&e.refCount, 1)
		used := p.used.Add(1)
		for {
			peak := p.peak.Load()
			if used <= peak || p.peak.CompareAndSwap(peak, used) {
				break
			}
		}
		return e, true
	default:
		return nil, false
	}
}

func (p *Pool[T]) put(e *Entry[T]) {
	if p.reset != nil {
		p.reset(&e.Value)
	}
	p.used.Add(-1)
	p.free <- e
}

// Stats returns a snapshot of cell accounting for metrics export.
func (p *Pool[T]) Stats() Stats {
	return Stats{
		Total: p.total,
		Used:  int(p.used.Load()),
		Peak:  int(p.peak.Load()),
	}
}

// Name returns the pool's configured name.
func (p *Pool[T]) Name() string { return p.name }

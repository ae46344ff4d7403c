// Package repair implements the shared out-of-order packet recovery
// design used by both RAOP and Songcast (spec §4.9, §4.10): a single
// Repairer type tracking the last emitted frame/sequence number, a
// bounded ordered list of buffered later frames, and a single-shot timer
// that composes range-collapsed resend requests.
package repair

import (
	"github.com/waveforge/netrender/internal/pool"
)

// Repairable is a pool-backed packet object the Repairer buffers while
// waiting for earlier frames to arrive (spec §4.10: "drawn from a small
// pool to avoid heap churn on the audio hot path").
type Repairable struct {
	Frame   uint32
	Payload []byte
}

// Allocator hands out Repairable cells from a fixed pool, grounded on
// internal/pool the same way every message kind is (spec §4.10).
type Allocator struct {
	pool *pool.Pool[Repairable]
}

// NewAllocator preallocates count Repairable cells.
func NewAllocator(count int) *Allocator {
	p := pool.New("repair.repairable", count,
		func() Repairable { return Repairable{} },
		func(v *Repairable) { v.Frame = 0; v.Payload = nil })
	return &Allocator{pool: p}
}

// Allocate returns a Repairable cell with frame and payload set.
func (a *Allocator) Allocate(frame uint32, payload []byte) *pool.Entry[Repairable] {
	e := a.pool.Allocate()
	e.Value.Frame = frame
	e.Value.Payload = payload
	return e
}

// Stats exposes pool accounting for metrics export.
func (a *Allocator) Stats() pool.Stats { return a.pool.Stats() }

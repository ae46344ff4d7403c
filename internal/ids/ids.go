// Package ids mints the identifiers the core hands out: random session
// correlation ids for RAOP/Songcast protocol instances, surfaced in logs
// and metrics labels, and monotonic track/stream ids (spec §2 item 2),
// where ordering matters.
package ids

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// NewSessionID mints a fresh random session id for a protocol instance.
func NewSessionID() string {
	return uuid.NewString()
}

// Generator mints monotonically increasing track/stream ids (spec §2
// item 2: "monotonic id generators; per-stream flush-id generator").
type Generator struct {
	next atomic.Uint64
}

// Next returns the next id in sequence, starting at 1.
func (g *Generator) Next() uint64 {
	return g.next.Add(1)
}

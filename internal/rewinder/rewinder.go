// Package rewinder implements the replayable-prefix reader that sits
// immediately above the codec controller so codec recognition can be
// retried against the same bytes (spec §4.3).
package rewinder

import (
	"errors"
	"sync"

	"github.com/waveforge/netrender/internal/message"
)

// ErrOverflow is returned by Pull when buffering the replayable prefix
// would exceed Capacity; the caller should abort recognition.
var ErrOverflow = errors.New("rewinder: replayable prefix exceeds capacity")

// Source is the upstream the Rewinder pulls from (typically the
// Encoded reservoir).
type Source interface {
	Pop() message.Message
}

// Rewinder maintains two FIFOs, current and next. It pulls from current
// (refilling from upstream when current is empty), and while buffering
// also appends an Acquire'd reference of each pulled message to next.
// Rewind swaps next into current, making everything previously pulled
// pullable again. Stop ends buffering and releases whatever remained
// in next, committing to the current read position.
type Rewinder struct {
	mu       sync.Mutex
	upstream Source
	capacity int

	current   []message.Message
	next      []message.Message
	buffering bool
}

// New creates a Rewinder pulling from upstream, aborting recognition if
// the buffered prefix would exceed capacity messages (0 = unbounded).
func New(upstream Source, capacity int) *Rewinder {
	return &Rewinder{upstream: upstream, capacity: capacity}
}

// Pull returns the next message, either replayed from a prior Rewind or
// freshly pulled from upstream. Returns ErrOverflow if buffering this
// pull would exceed capacity.
func (r *Rewinder) Pull() (message.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var msg message.Message
	if len(r.current) > 0 {
		msg = r.current[0]
		r.current = r.current[1:]
	} else {
		msg = r.upstream.Pop()
	}
	if msg == nil {
		return nil, nil
	}

	if msg.Kind() == message.KindEncodedStream {
		r.buffering = true
		for _, pending := range r.next {
			pending.Release()
		}
		r.next = nil
	}

	if r.buffering {
		if r.capacity > 0 && len(r.next) >= r.capacity {
			return nil, ErrOverflow
		}
		msg.Acquire()
		r.next = append(r.next, msg)
	}
	return msg, nil
}

// Rewind swaps next into current: everything pulled since buffering
// began (or since the last Rewind) becomes pullable again.
func (r *Rewinder) Rewind() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = r.next
	r.next = nil
}

// Stop ends buffering and releases whatever remained queued in next,
// committing to the current read position (spec §4.3).
func (r *Rewinder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buffering = false
	for _, pending := range r.next {
		pending.Release()
	}
	r.next = nil
}

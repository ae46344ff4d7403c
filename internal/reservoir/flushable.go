package reservoir

import (
	"sync"

	"github.com/waveforge/netrender/internal/message"
)

// Flushable wraps a Reservoir to implement spec §4.2's flush interception:
// once BeginFlush is called, every message pushed is discarded (its
// reference released) until the awaited Flush arrives, at which point
// flushing is disabled and the Flush itself is forwarded normally.
type Flushable struct {
	*Reservoir

	mu        sync.Mutex
	flushing  bool
	awaitedID uint64
}

// NewFlushable creates a Flushable reservoir with the given capacity
// (0 = unbounded).
func NewFlushable(capacity int) *Flushable {
	return &Flushable{Reservoir: New(capacity)}
}

// BeginFlush arms the reservoir to discard everything until a Flush with
// awaitedID is pushed. Called when the owning stage has issued a
// TryStop/TrySeek and received this id back.
func (f *Flushable) BeginFlush(awaitedID uint64) {
	f.mu.Lock()
	f.flushing = true
	f.awaitedID = awaitedID
	f.mu.Unlock()
}

// IsFlushing reports whether a flush is currently in progress.
func (f *Flushable) IsFlushing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flushing
}

// Push shadows Reservoir.Push: while flushing, every message except the
// awaited Flush is dropped and its reference released; the awaited Flush
// disables flushing and is forwarded through to the underlying queue.
func (f *Flushable) Push(msg message.Message) {
	f.mu.Lock()
	flushing := f.flushing
	awaited := f.awaitedID
	f.mu.Unlock()

	if !flushing {
		f.Reservoir.Push(msg)
		return
	}

	if fl, ok := msg.(message.Flush); ok && fl.Payload().FlushID == awaited {
		f.mu.Lock()
		f.flushing = false
		f.mu.Unlock()
		f.Reservoir.Push(msg)
		return
	}

	msg.Release()
}

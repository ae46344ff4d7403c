// Package reservoir implements the bounded message FIFOs that sit
// between pipeline elements (spec §4.2): a Simple queue for fixed
// producer/consumer pairs, and a Flushable reservoir that discards
// every message until an awaited flush id arrives.
package reservoir

import (
	"sync"

	"github.com/waveforge/netrender/internal/message"
)

// PushHook customizes how an incoming message kind is handled before it
// would normally be enqueued. Returning false suppresses the default
// enqueue (the hook took ownership, e.g. discarding during a flush).
type PushHook func(r *Reservoir, msg message.Message) (enqueue bool)

// PopHook runs on a dequeued message before it is handed to the caller.
// It may return a remainder message to push back onto the front of the
// queue (spec §4.2: "re-enqueuing the remainder after a split").
type PopHook func(r *Reservoir, msg message.Message) (forward message.Message, remainder message.Message)

// Reservoir is a capacity-bounded FIFO of message.Message with per-kind
// push/pop hooks. Capacity 0 means unbounded (push never blocks on
// capacity, spec §4.2 "Simple queue ... push blocks only on configured
// capacity").
type Reservoir struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	items    []message.Message
	capacity int
	closed   bool

	pushHooks map[message.Kind]PushHook
	popHooks  map[message.Kind]PopHook
}

// New creates a Reservoir with the given capacity (0 = unbounded).
func New(capacity int) *Reservoir {
	r := &Reservoir{
		capacity:  capacity,
		pushHooks: make(map[message.Kind]PushHook),
		popHooks:  make(map[message.Kind]PopHook),
	}
	r.notEmpty = sync.NewCond(&r.mu)
	r.notFull = sync.NewCond(&r.mu)
	return r
}

// OnPush installs a push hook for kind, overriding the default enqueue.
func (r *Reservoir) OnPush(kind message.Kind, hook PushHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushHooks[kind] = hook
}

// OnPop installs a pop hook for kind, run after a message of that kind
// is dequeued and before it is returned to the caller.
func (r *Reservoir) OnPop(kind message.Kind, hook PopHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.popHooks[kind] = hook
}

// Push enqueues msg, blocking if the reservoir is at capacity. If a push
// hook is registered for msg's kind, it decides whether to enqueue.
func (r *Reservoir) Push(msg message.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if hook, ok := r.pushHooks[msg.Kind()]; ok {
		if !hook(r, msg) {
			return
		}
	}
	r.enqueueLocked(msg)
}

// enqueueLocked appends msg, blocking for capacity. Caller holds r.mu.
func (r *Reservoir) enqueueLocked(msg message.Message) {
	for r.capacity > 0 && len(r.items) >= r.capacity && !r.closed {
		r.notFull.Wait()
	}
	r.items = append(r.items, msg)
	r.notEmpty.Signal()
}

// Pop blocks until a message is available and returns it, running any
// registered pop hook first. If the hook produces a remainder, it is
// pushed back to the front of the queue for the next Pop.
func (r *Reservoir) Pop() message.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	for len(r.items) == 0 && !r.closed {
		r.notEmpty.Wait()
	}
	if len(r.items) == 0 {
		return nil
	}

	msg := r.items[0]
	r.items = r.items[1:]
	r.notFull.Signal()

	if hook, ok := r.popHooks[msg.Kind()]; ok {
		forward, remainder := hook(r, msg)
		if remainder != nil {
			r.items = append([]message.Message{remainder}, r.items...)
			r.notEmpty.Signal()
		}
		return forward
	}
	return msg
}

// Len returns the current queue depth.
func (r *Reservoir) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// Close unblocks any goroutine waiting in Push/Pop; subsequent Pop calls
// on an empty queue return nil instead of blocking.
func (r *Reservoir) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.notEmpty.Broadcast()
	r.notFull.Broadcast()
}

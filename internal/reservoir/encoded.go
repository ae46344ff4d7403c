package reservoir

import (
	"sync"

	"github.com/smallnest/ringbuffer"
	"github.com/waveforge/netrender/internal/message"
)

// Encoded is the byte-counted compressed-audio reservoir (spec §4.2):
// it stores AudioEncoded payloads up to a byte threshold, blocking push
// once full so the protocol layer's network reads naturally back off.
// Backed by a ring buffer rather than a slice of messages, since the
// bytes themselves (not message-per-packet boundaries) are what's
// capacity-limited here.
type Encoded struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond
	ring     *ringbuffer.RingBuffer
	capacity int
	closed   bool
}

// NewEncoded creates an Encoded reservoir with the given byte capacity.
func NewEncoded(capacityBytes int) *Encoded {
	e := &Encoded{
		ring:     ringbuffer.New(capacityBytes),
		capacity: capacityBytes,
	}
	e.notFull = sync.NewCond(&e.mu)
	e.notEmpty = sync.NewCond(&e.mu)
	return e
}

// Push appends an AudioEncoded chain's bytes, blocking while the ring
// buffer lacks room. The message's reference is released once its bytes
// have been copied in, since the reservoir owns byte storage directly
// rather than holding onto the message chain.
func (e *Encoded) Push(msg message.AudioEncoded) {
	data := msg.Payload()
	total := data.TotalBytes()
	buf := make([]byte, total)
	data.CopyTo(buf)
	msg.Release()

	e.mu.Lock()
	defer e.mu.Unlock()
	written := 0
	for written < len(buf) && !e.closed {
		for e.ring.Free() == 0 && !e.closed {
			e.notFull.Wait()
		}
		if e.closed {
			return
		}
		n, _ := e.ring.Write(buf[written:])
		written += n
		if n > 0 {
			e.notEmpty.Signal()
		}
	}
}

// Pull reads up to len(p) bytes, blocking until at least one byte is
// available. Returns 0 if the reservoir has been closed and drained.
func (e *Encoded) Pull(p []byte) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	for e.ring.Length() == 0 && !e.closed {
		e.notEmpty.Wait()
	}
	if e.ring.Length() == 0 {
		return 0
	}
	n, _ := e.ring.Read(p)
	if n > 0 {
		e.notFull.Signal()
	}
	return n
}

// Len reports the number of bytes currently buffered.
func (e *Encoded) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ring.Length()
}

// Capacity reports the configured byte threshold.
func (e *Encoded) Capacity() int {
	return e.capacity
}

// Close unblocks any goroutine waiting in Push/Pull.
func (e *Encoded) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.notFull.Broadcast()
	e.notEmpty.Broadcast()
}

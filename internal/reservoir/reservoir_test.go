package reservoir

import (
	"testing"
	"time"

	"github.com/waveforge/netrender/internal/message"
	"github.com/waveforge/netrender/internal/pool"
)

func haltMsg(id uint64) message.Halt {
	p := pool.New("test.halt", 1, func() message.HaltData { return message.HaltData{} }, nil)
	e := p.Allocate()
	e.Value = message.HaltData{HaltID: id, HasID: true}
	return message.Halt{Entry: e}
}

func flushMsg(id uint64) message.Flush {
	p := pool.New("test.flush", 1, func() message.FlushData { return message.FlushData{} }, nil)
	e := p.Allocate()
	e.Value = message.FlushData{FlushID: id}
	return message.Flush{Entry: e}
}

func TestSimpleQueueFIFO(t *testing.T) {
	r := New(0)
	r.Push(haltMsg(1))
	r.Push(haltMsg(2))

	first := r.Pop().(message.Halt)
	second := r.Pop().(message.Halt)
	if first.Payload().HaltID != 1 || second.Payload().HaltID != 2 {
		t.Fatalf("expected FIFO order 1,2, got %d,%d", first.Payload().HaltID, second.Payload().HaltID)
	}
}

func TestSimpleQueueBlocksOnCapacity(t *testing.T) {
	r := New(1)
	r.Push(haltMsg(1))

	done := make(chan struct{})
	go func() {
		r.Push(haltMsg(2))
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("expected Push to block at capacity")
	case <-time.After(20 * time.Millisecond):
	}

	r.Pop()
	<-done
}

func TestFlushableDiscardsUntilAwaitedID(t *testing.T) {
	f := NewFlushable(0)
	f.BeginFlush(5)

	f.Push(haltMsg(1))
	f.Push(flushMsg(3))
	if f.Len() != 0 {
		t.Fatalf("expected non-matching messages discarded, got len=%d", f.Len())
	}
	if !f.IsFlushing() {
		t.Fatal("expected still flushing after non-matching flush id")
	}

	f.Push(flushMsg(5))
	if f.IsFlushing() {
		t.Fatal("expected flushing disabled after awaited flush id")
	}
	if f.Len() != 1 {
		t.Fatalf("expected the awaited Flush forwarded, len=%d", f.Len())
	}
}

func TestEncodedReservoirBlocksAtCapacity(t *testing.T) {
	e := NewEncoded(4)

	p := pool.New("test.enc", 2, func() message.AudioEncodedData { return message.AudioEncodedData{} }, nil)

	mk := func(b []byte) message.AudioEncoded {
		entry := p.Allocate()
		entry.Value = message.AudioEncodedData{Bytes: b}
		return message.AudioEncoded{Entry: entry}
	}

	e.Push(mk([]byte{1, 2, 3, 4}))
	if e.Len() != 4 {
		t.Fatalf("expected 4 bytes buffered, got %d", e.Len())
	}

	done := make(chan struct{})
	go func() {
		e.Push(mk([]byte{5}))
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("expected Push to block once ring buffer is full")
	case <-time.After(20 * time.Millisecond):
	}

	out := make([]byte, 4)
	e.Pull(out)
	<-done
}

package repair

import (
	"testing"
	"time"
)

type recordingEmitter struct {
	emitted []uint32
	resends [][]Range
}

func (e *recordingEmitter) Emit(frame uint32, payload []byte) {
	e.emitted = append(e.emitted, frame)
}

func (e *recordingEmitter) RequestResend(ranges []Range) {
	e.resends = append(e.resends, ranges)
}

func TestRepairerInOrderEmitsImmediately(t *testing.T) {
	e := &recordingEmitter{}
	r := New(e, 16, 8, time.Millisecond, time.Millisecond)

	for i := uint32(1); i <= 5; i++ {
		if err := r.Arrive(i, nil, nil); err != nil {
			t.Fatalf("Arrive(%d): %v", i, err)
		}
	}
	if len(e.emitted) != 5 {
		t.Fatalf("expected 5 emits, got %v", e.emitted)
	}
	for i, f := range e.emitted {
		if f != uint32(i+1) {
			t.Fatalf("emitted out of order: %v", e.emitted)
		}
	}
}

func TestRepairerBuffersGapThenDrainsOnFill(t *testing.T) {
	e := &recordingEmitter{}
	r := New(e, 16, 8, time.Hour, time.Hour)

	if err := r.Arrive(1, []byte("a"), nil); err != nil {
		t.Fatal(err)
	}
	// frame 2 missing; frame 3 arrives out of order.
	if err := r.Arrive(3, []byte("c"), nil); err != nil {
		t.Fatal(err)
	}
	if r.BufferedCount() != 1 {
		t.Fatalf("expected 1 buffered frame, got %d", r.BufferedCount())
	}
	// the missing frame 2 arrives; should drain both 2 and 3.
	if err := r.Arrive(2, []byte("b"), nil); err != nil {
		t.Fatal(err)
	}
	want := []uint32{1, 2, 3}
	if len(e.emitted) != len(want) {
		t.Fatalf("emitted = %v, want %v", e.emitted, want)
	}
	for i := range want {
		if e.emitted[i] != want[i] {
			t.Fatalf("emitted = %v, want %v", e.emitted, want)
		}
	}
	if r.BufferedCount() != 0 {
		t.Fatalf("expected repair state cleared, got %d buffered", r.BufferedCount())
	}
}

func TestRepairerDropsDuplicate(t *testing.T) {
	e := &recordingEmitter{}
	r := New(e, 16, 8, time.Hour, time.Hour)

	_ = r.Arrive(1, []byte("a"), nil)
	_ = r.Arrive(1, []byte("dup"), nil)
	if len(e.emitted) != 1 {
		t.Fatalf("expected duplicate dropped, got %v", e.emitted)
	}
}

func TestRepairerBufferFullReturnsError(t *testing.T) {
	e := &recordingEmitter{}
	r := New(e, 2, 8, time.Hour, time.Hour)

	_ = r.Arrive(1, nil, nil)
	_ = r.Arrive(3, nil, nil) // repairFirst
	_ = r.Arrive(5, nil, nil) // list[0]
	_ = r.Arrive(7, nil, nil) // list[1], at capacity
	if err := r.Arrive(9, nil, nil); err != ErrRepairerBufferFull {
		t.Fatalf("expected ErrRepairerBufferFull, got %v", err)
	}
}

func TestRepairerTimerFiresResendRequest(t *testing.T) {
	e := &recordingEmitter{}
	r := New(e, 16, 8, time.Millisecond, 5*time.Millisecond)

	_ = r.Arrive(1, nil, nil)
	_ = r.Arrive(3, nil, nil) // gap at frame 2

	deadline := time.After(time.Second)
	for len(e.resends) == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for resend request")
		case <-time.After(time.Millisecond):
		}
	}
	if len(e.resends[0]) != 1 || e.resends[0][0] != (Range{Start: 2, Count: 1}) {
		t.Fatalf("unexpected resend ranges: %v", e.resends[0])
	}
}

func TestRepairerDropAudioClearsState(t *testing.T) {
	e := &recordingEmitter{}
	r := New(e, 16, 8, time.Hour, time.Hour)

	_ = r.Arrive(1, nil, nil)
	_ = r.Arrive(3, nil, nil)
	if r.BufferedCount() == 0 {
		t.Fatal("expected repair state before DropAudio")
	}
	r.DropAudio()
	if r.BufferedCount() != 0 {
		t.Fatalf("expected repair state cleared after DropAudio, got %d", r.BufferedCount())
	}
}

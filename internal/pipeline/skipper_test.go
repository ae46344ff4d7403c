package pipeline

import (
	"testing"

	"github.com/waveforge/netrender/internal/message"
	"github.com/waveforge/netrender/internal/ramp"
)

type fakeHandler struct {
	stopFlushID uint64
	stopOK      bool
}

func (h *fakeHandler) TryStop() (uint64, bool) { return h.stopFlushID, h.stopOK }
func (h *fakeHandler) TrySeek(int64) (uint64, bool) { return 0, false }

func TestSkipperRampsDownThenDiscardsUntilFlush(t *testing.T) {
	f := newTestFactory()
	s := NewSkipper(f, testRamp)
	handler := &fakeHandler{stopFlushID: 7, stopOK: true}

	ds := f.CreateMsgDecodedStream(message.DecodedStreamData{SampleRate: 48000, Handler: handler})
	if out := s.Process(ds); len(out) != 1 {
		t.Fatalf("expected DecodedStream forwarded, got %v", out)
	}

	s.TriggerSkip()

	// RampClock(10ms, 48000) = 480 frames; feed one big chunk to complete it.
	pcm := testPcm(f, 480)
	out := s.Process(pcm)
	if len(out) != 2 {
		t.Fatalf("expected audio + halt on ramp completion, got %d messages", len(out))
	}
	if out[1].Kind() != message.KindHalt {
		t.Fatalf("expected second message to be Halt, got %v", out[1].Kind())
	}
	pcmOut := out[0].(message.AudioPcm)
	if pcmOut.Payload().Ramp == nil || pcmOut.Payload().Ramp.Direction != ramp.DirDown {
		t.Fatalf("expected ramp-down attached to audio")
	}
	for _, m := range out {
		m.Release()
	}

	// Now in Halted state: further audio is discarded.
	p2 := testPcm(f, 100)
	if out := s.Process(p2); out != nil {
		t.Fatalf("expected audio discarded while halted, got %v", out)
	}

	// Non-matching flush is swallowed.
	wrongFlush := f.CreateMsgFlush()
	if out := s.Process(wrongFlush); out != nil {
		t.Fatalf("expected non-matching flush discarded")
	}

	// Matching flush resumes.
	matchFlush := f.CreateMsgFlush()
	matchFlush.Payload().FlushID = handler.stopFlushID
	out = s.Process(matchFlush)
	if len(out) != 1 {
		t.Fatalf("expected matching flush forwarded, got %v", out)
	}
	out[0].Release()

	p3 := testPcm(f, 10)
	out = s.Process(p3)
	if len(out) != 1 {
		t.Fatalf("expected audio to flow again after matching flush, got %v", out)
	}
	out[0].Release()
}

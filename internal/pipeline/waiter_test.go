package pipeline

import (
	"testing"

	"github.com/waveforge/netrender/internal/message"
)

func TestWaiterImmediateHaltWithoutRampDown(t *testing.T) {
	f := newTestFactory()
	w := NewWaiter(f)

	ds := f.CreateMsgDecodedStream(message.DecodedStreamData{SampleRate: 48000})
	w.Process(ds)

	wait := f.CreateMsgWait(42, false)
	out := w.Process(wait)
	if len(out) != 2 {
		t.Fatalf("expected Halt+Wait emitted immediately, got %d", len(out))
	}
	if out[0].Kind() != message.KindHalt || out[1].Kind() != message.KindWait {
		t.Fatalf("unexpected kinds: %v %v", out[0].Kind(), out[1].Kind())
	}
	for _, m := range out {
		m.Release()
	}

	// Audio is swallowed while halted.
	pcm := testPcm(f, 10)
	if out := w.Process(pcm); out != nil {
		t.Fatalf("expected audio swallowed while waiting, got %v", out)
	}

	// Matching Flush resumes state to allow subsequent DecodedStream to reset.
	flush := f.CreateMsgFlush()
	flush.Payload().FlushID = 42
	out = w.Process(flush)
	if len(out) != 1 {
		t.Fatalf("expected flush forwarded, got %v", out)
	}
	out[0].Release()

	ds2 := f.CreateMsgDecodedStream(message.DecodedStreamData{SampleRate: 48000})
	out = w.Process(ds2)
	if len(out) != 1 {
		t.Fatalf("expected DecodedStream forwarded and to reset state, got %v", out)
	}
	out[0].Release()

	pcm2 := testPcm(f, 10)
	out = w.Process(pcm2)
	if len(out) != 1 {
		t.Fatalf("expected audio flowing again after DecodedStream reset, got %v", out)
	}
	out[0].Release()
}

func TestWaiterRampDownThenHalt(t *testing.T) {
	f := newTestFactory()
	w := NewWaiter(f)

	ds := f.CreateMsgDecodedStream(message.DecodedStreamData{SampleRate: 48000})
	w.Process(ds)

	wait := f.CreateMsgWait(7, true)
	if out := w.Process(wait); out != nil {
		t.Fatalf("expected ramp-down wait to defer emission, got %v", out)
	}

	pcm := testPcm(f, RampClock(rampDurationDefault, 48000))
	out := w.Process(pcm)
	if len(out) != 3 {
		t.Fatalf("expected audio+halt+wait on ramp completion, got %d", len(out))
	}
	for _, m := range out {
		m.Release()
	}
}

func TestWaiterNotifyStarvationEntersRampDown(t *testing.T) {
	f := newTestFactory()
	w := NewWaiter(f)

	ds := f.CreateMsgDecodedStream(message.DecodedStreamData{SampleRate: 48000})
	w.Process(ds)

	w.NotifyStarvation()

	pcm := testPcm(f, RampClock(rampDurationDefault, 48000))
	out := w.Process(pcm)
	if len(out) != 3 {
		t.Fatalf("expected audio+halt+wait on ramp completion, got %d", len(out))
	}
	if out[0].Kind() != message.KindAudioPcm || out[1].Kind() != message.KindHalt || out[2].Kind() != message.KindWait {
		t.Fatalf("unexpected kinds: %v %v %v", out[0].Kind(), out[1].Kind(), out[2].Kind())
	}
	for _, m := range out {
		m.Release()
	}
}

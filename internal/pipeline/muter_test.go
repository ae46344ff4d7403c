package pipeline

import (
	"testing"

	"github.com/waveforge/netrender/internal/message"
)

func TestMuterImmediateMuteWhenHalted(t *testing.T) {
	f := newTestFactory()
	m := NewMuter(f, testRamp)

	halt := f.CreateMsgHalt(0, false)
	m.Process(halt)
	halt.Release()

	out := m.Mute()
	if len(out) != 1 || out[0].Kind() != message.KindSilence {
		t.Fatalf("expected immediate Silence on mute while halted, got %v", out)
	}
	out[0].Release()

	// Unmute while still halted resumes without a ramp.
	out = m.Unmute()
	if out != nil {
		t.Fatalf("expected no ramp messages from Unmute while still halted, got %v", out)
	}
}

func TestMuterRampsDownThenSubstitutesSilence(t *testing.T) {
	f := newTestFactory()
	mt := NewMuter(f, testRamp)

	ds := f.CreateMsgDecodedStream(message.DecodedStreamData{SampleRate: 48000})
	mt.Process(ds)

	if out := mt.Mute(); out != nil {
		t.Fatalf("expected deferred mute while audio flowing, got %v", out)
	}

	totalFrames := RampClock(testRamp, 48000)
	pcm := testPcm(f, totalFrames)
	out := mt.Process(pcm)
	if len(out) != 2 {
		t.Fatalf("expected audio+silence on mute-ramp completion, got %d", len(out))
	}
	if out[1].Kind() != message.KindSilence {
		t.Fatalf("expected trailing Silence, got %v", out[1].Kind())
	}
	for _, o := range out {
		o.Release()
	}

	// Subsequent audio while muted becomes Silence.
	pcm2 := testPcm(f, 100)
	out = mt.Process(pcm2)
	if len(out) != 1 || out[0].Kind() != message.KindSilence {
		t.Fatalf("expected muted audio substituted with Silence, got %v", out)
	}
	out[0].Release()

	// Unmute ramps back up.
	mt.Unmute()
	pcm3 := testPcm(f, totalFrames)
	out = mt.Process(pcm3)
	if len(out) != 1 || out[0].Kind() != message.KindAudioPcm {
		t.Fatalf("expected audio forwarded during ramp-up, got %v", out)
	}
	out[0].Release()
}

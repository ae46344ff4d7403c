package driver

import (
	"testing"

	"github.com/waveforge/netrender/internal/message"
	"github.com/waveforge/netrender/internal/ramp"
)

func testFactory() *message.Factory {
	return message.NewFactory(message.FactoryConfig{
		ControlCells:      8,
		StreamCells:       4,
		AudioEncodedCells: 8,
		AudioPcmCells:     8,
		SilenceCells:      4,
		PlayableCells:     8,
	})
}

func TestRendererPassesNonAudioThrough(t *testing.T) {
	f := testFactory()
	r := NewRenderer(f)
	in := f.CreateMsgSilence(100)
	out := r.Process(in)
	if len(out) != 1 || out[0].Kind() != message.KindSilence {
		t.Fatalf("expected Silence passthrough, got %v", out)
	}
}

func TestRendererAppliesFullMuteRamp(t *testing.T) {
	f := testFactory()
	r := NewRenderer(f)

	data := make([]byte, 8) // 2 frames, 16-bit stereo
	for i := range data {
		if i%2 == 0 {
			data[i] = 0x7F
		} else {
			data[i] = 0xFF
		}
	}
	mute := ramp.New(ramp.KMin, ramp.KMin, ramp.DirDown)
	in := f.CreateMsgAudioPcm(message.AudioPcmData{
		Data:       data,
		Channels:   2,
		SampleRate: 44100,
		BitDepth:   16,
		Endianness: message.BigEndian,
		Ramp:       &mute,
	})

	out := r.Process(in)
	if len(out) != 1 || out[0].Kind() != message.KindPlayable {
		t.Fatalf("expected one Playable, got %v", out)
	}
	playable := out[0].(message.Playable)
	for _, b := range playable.Payload().Data {
		if b != 0 {
			t.Fatalf("expected fully muted output, got byte %x", b)
		}
	}
}

func TestRendererPassesUnrampedAudioUnchanged(t *testing.T) {
	f := testFactory()
	r := NewRenderer(f)

	data := []byte{0x12, 0x34, 0x56, 0x78}
	in := f.CreateMsgAudioPcm(message.AudioPcmData{
		Data:       append([]byte(nil), data...),
		Channels:   2,
		SampleRate: 44100,
		BitDepth:   16,
		Endianness: message.BigEndian,
	})

	out := r.Process(in)
	playable := out[0].(message.Playable)
	got := playable.Payload().Data
	if len(got) != len(data) {
		t.Fatalf("length mismatch: got %d want %d", len(got), len(data))
	}
	for i := range data {
		if got[i] != data[i] {
			t.Fatalf("byte %d: got %x want %x", i, got[i], data[i])
		}
	}
}

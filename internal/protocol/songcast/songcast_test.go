package songcast

import (
	"testing"
	"time"

	"github.com/waveforge/netrender/internal/conf"
	"github.com/waveforge/netrender/internal/message"
	"github.com/waveforge/netrender/internal/reservoir"
)

func testFactory() *message.Factory {
	return message.NewFactory(message.FactoryConfig{
		ControlCells:      16,
		StreamCells:       8,
		AudioEncodedCells: 32,
		AudioPcmCells:     4,
		SilenceCells:      4,
		PlayableCells:     4,
	})
}

func testRepairConfig() conf.RepairConfig {
	return conf.RepairConfig{
		ListCapacity:              64,
		InitialTimeoutMax:         50 * time.Millisecond,
		SubsequentTimeout:         20 * time.Millisecond,
		MaxFramesPerResendRequest: 32,
	}
}

func newTestProtocol(t *testing.T) (*Protocol, *reservoir.Reservoir) {
	t.Helper()
	ds := reservoir.New(0)
	p, err := New("ohu://127.0.0.1:0", 0, testRepairConfig(), testFactory(), ds, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p, ds
}

func TestHandleAudioFirstEmitsEncodedStream(t *testing.T) {
	p, ds := newTestProtocol(t)
	p.handlePacket(EncodeAudioBlob(AudioBlob{Frame: 1, Data: []byte("a")}))

	if k := ds.Pop().Kind(); k != message.KindEncodedStream {
		t.Fatalf("expected EncodedStream first, got %v", k)
	}
	if k := ds.Pop().Kind(); k != message.KindAudioEncoded {
		t.Fatalf("expected AudioEncoded, got %v", k)
	}
}

// Reproduces spec §8 scenario 5: frames 1,2,4,3,5 arrive out of order;
// output is 1,2,3,4,5 with frame 4 buffered briefly.
func TestSongcastReordersFrames(t *testing.T) {
	p, ds := newTestProtocol(t)
	order := []uint32{1, 2, 4, 3, 5}
	for _, f := range order {
		p.handlePacket(EncodeAudioBlob(AudioBlob{Frame: f, Data: []byte{byte(f)}}))
	}

	ds.Pop() // EncodedStream
	var got []byte
	for i := 0; i < len(order); i++ {
		msg := ds.Pop()
		ae := msg.(message.AudioEncoded)
		got = append(got, ae.Payload().Bytes...)
	}
	want := []byte{1, 2, 3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

func TestTrackFrameRoundTrip(t *testing.T) {
	enc := EncodeTrackFrame(TrackFrame{Frame: 7, URI: "ohm://source/track"})
	h, err := DecodeHeader(enc)
	if err != nil {
		t.Fatalf("header: %v", err)
	}
	if h.Type != TypeTrack {
		t.Fatalf("expected TypeTrack, got %d", h.Type)
	}
	tf, err := DecodeTrackFrame(enc[headerSize:])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tf.Frame != 7 || tf.URI != "ohm://source/track" {
		t.Fatalf("unexpected track frame: %+v", tf)
	}
}

func TestResendRoundTrip(t *testing.T) {
	enc := EncodeResend([]uint32{10, 11, 12})
	frames, err := DecodeResend(enc[headerSize:])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(frames) != 3 || frames[0] != 10 || frames[2] != 12 {
		t.Fatalf("unexpected frames: %v", frames)
	}
}

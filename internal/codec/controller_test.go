package codec

import (
	"testing"
	"time"

	"github.com/waveforge/netrender/internal/message"
	"github.com/waveforge/netrender/internal/reservoir"
	"github.com/waveforge/netrender/internal/rewinder"
)

func testFactory() *message.Factory {
	return message.NewFactory(message.FactoryConfig{
		ControlCells:      16,
		StreamCells:       8,
		AudioEncodedCells: 16,
		AudioPcmCells:     16,
		SilenceCells:      4,
		PlayableCells:     16,
	})
}

// fakeCodec lets tests script recognition/decode outcomes without a real
// container format.
type fakeCodec struct {
	name         string
	recognise    bool
	recogniseErr error
	decodeErr    error
}

func (f *fakeCodec) Name() string { return f.name }
func (f *fakeCodec) Recognise(io IO) (bool, error) {
	buf := make([]byte, 1)
	_, _ = io.Read(buf)
	return f.recognise, f.recogniseErr
}
func (f *fakeCodec) Decode(io IO) error {
	if f.decodeErr != nil {
		return f.decodeErr
	}
	io.OutputDecodedStream(DecodedFormat{SampleRate: 44100, Channels: 2, BitDepth: 16, Name: f.name})
	io.OutputAudioPcm(make([]byte, 64), 2, 44100, 16, message.BigEndian, 0)
	return ErrStreamEnded
}
func (f *fakeCodec) TrySeek(IO, uint64, int64) bool { return false }

func TestControllerPicksFirstRecognisingCodecInOrder(t *testing.T) {
	f := testFactory()
	upstream := reservoir.New(0)
	downstream := reservoir.New(0)
	rw := rewinder.New(upstream, 0)

	es := f.CreateMsgEncodedStream(message.EncodedStreamData{StreamID: 1})
	ae := f.CreateMsgAudioEncoded([]byte{0x01, 0x02, 0x03, 0x04})
	upstream.Push(es)
	upstream.Push(ae)

	first := &fakeCodec{name: "first", recognise: false}
	second := &fakeCodec{name: "second", recognise: true}
	c := New(f, rw, downstream, []Codec{first, second})

	pulled, err := rw.Pull()
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	pulledES, ok := pulled.(message.EncodedStream)
	if !ok {
		t.Fatalf("expected EncodedStream, got %T", pulled)
	}

	done := make(chan struct{})
	go func() { c.handleStream(pulledES); close(done) }()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handleStream did not return")
	}

	downstream.Close()
	found := false
	for {
		msg := downstream.Pop()
		if msg == nil {
			break
		}
		if ds, ok := msg.(message.DecodedStream); ok && ds.Payload().CodecName == "second" {
			found = true
		}
		msg.Release()
	}
	if !found {
		t.Fatal("expected second codec's DecodedStream to be emitted")
	}
}

func TestControllerRequestsStopWhenNoCodecRecognises(t *testing.T) {
	f := testFactory()
	upstream := reservoir.New(0)
	downstream := reservoir.New(0)
	rw := rewinder.New(upstream, 0)

	handler := &stopCountingHandler{}
	es := f.CreateMsgEncodedStream(message.EncodedStreamData{
		StreamID: 1,
		Handler:  handler,
	})
	ae := f.CreateMsgAudioEncoded([]byte{0xAA, 0xBB})
	upstream.Push(es)
	upstream.Push(ae)

	c := New(f, rw, downstream, []Codec{&fakeCodec{name: "only", recognise: false}})

	pulled, err := rw.Pull()
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	pulledES, ok := pulled.(message.EncodedStream)
	if !ok {
		t.Fatalf("expected EncodedStream, got %T", pulled)
	}

	done := make(chan struct{})
	go func() { c.handleStream(pulledES); close(done) }()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handleStream did not return")
	}
	if handler.calls != 1 {
		t.Fatalf("expected exactly one TryStop, got %d", handler.calls)
	}
}

type stopCountingHandler struct{ calls int }

func (h *stopCountingHandler) TryStop() (uint64, bool)      { h.calls++; return 0, false }
func (h *stopCountingHandler) TrySeek(int64) (uint64, bool) { return 0, false }

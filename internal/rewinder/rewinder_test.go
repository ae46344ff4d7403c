package rewinder

import (
	"testing"

	"github.com/waveforge/netrender/internal/message"
)

func newTestFactory() *message.Factory {
	return message.NewFactory(message.FactoryConfig{
		ControlCells:      8,
		StreamCells:       4,
		AudioEncodedCells: 8,
		AudioPcmCells:     4,
		SilenceCells:      2,
		PlayableCells:     2,
	})
}

type sliceSource struct {
	items []message.Message
}

func (s *sliceSource) Pop() message.Message {
	if len(s.items) == 0 {
		return nil
	}
	m := s.items[0]
	s.items = s.items[1:]
	return m
}

func TestRewinderReplaysBufferedPrefixAfterRewind(t *testing.T) {
	f := newTestFactory()
	es := f.CreateMsgEncodedStream(message.EncodedStreamData{StreamID: 1})
	a := f.CreateMsgAudioEncoded([]byte{1})
	b := f.CreateMsgAudioEncoded([]byte{2})

	src := &sliceSource{items: []message.Message{es, a, b}}
	r := New(src, 0)

	var pulled []message.Kind
	for i := 0; i < 3; i++ {
		m, err := r.Pull()
		if err != nil {
			t.Fatal(err)
		}
		pulled = append(pulled, m.Kind())
		m.Release()
	}
	if len(pulled) != 3 {
		t.Fatalf("expected 3 pulls, got %d", len(pulled))
	}

	r.Rewind()

	var replayed []message.Kind
	for i := 0; i < 3; i++ {
		m, err := r.Pull()
		if err != nil {
			t.Fatal(err)
		}
		replayed = append(replayed, m.Kind())
		m.Release()
	}
	if len(replayed) != 3 || replayed[0] != message.KindEncodedStream {
		t.Fatalf("expected replayed prefix to start with EncodedStream, got %v", replayed)
	}

	r.Stop()

	// Upstream is exhausted and buffering has ended: further Pull yields nil.
	m, err := r.Pull()
	if err != nil {
		t.Fatal(err)
	}
	if m != nil {
		t.Fatalf("expected nil once upstream and buffers are exhausted, got %v", m)
	}
}

func TestRewinderOverflowAbortsRecognition(t *testing.T) {
	f := newTestFactory()
	es := f.CreateMsgEncodedStream(message.EncodedStreamData{StreamID: 1})
	a := f.CreateMsgAudioEncoded([]byte{1})
	b := f.CreateMsgAudioEncoded([]byte{2})

	src := &sliceSource{items: []message.Message{es, a, b}}
	r := New(src, 2)

	for i := 0; i < 2; i++ {
		m, err := r.Pull()
		if err != nil {
			t.Fatal(err)
		}
		m.Release()
	}

	if _, err := r.Pull(); err != ErrOverflow {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
}

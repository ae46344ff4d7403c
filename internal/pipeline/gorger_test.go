package pipeline

import (
	"testing"
	"time"

	"github.com/waveforge/netrender/internal/jiffies"
	"github.com/waveforge/netrender/internal/message"
)

func TestGorgerBlocksUntilThresholdReached(t *testing.T) {
	f := newTestFactory()
	threshold, err := jiffies.FromSamples(960, 48000) // 20ms at 48kHz
	if err != nil {
		t.Fatal(err)
	}
	g := NewGorger(threshold)

	popped := make(chan message.Message, 1)
	go func() { popped <- g.Pop() }()

	select {
	case <-popped:
		t.Fatal("expected Pop to block before threshold reached")
	case <-time.After(20 * time.Millisecond):
	}

	g.Push(testPcm(f, 960))

	select {
	case m := <-popped:
		if m == nil || m.Kind() != message.KindAudioPcm {
			t.Fatalf("expected AudioPcm to be released once threshold reached, got %v", m)
		}
		m.Release()
	case <-time.After(time.Second):
		t.Fatal("expected Pop to unblock once threshold reached")
	}
}

func TestGorgerRealTimeModeDisablesGorging(t *testing.T) {
	f := newTestFactory()
	threshold, err := jiffies.FromSamples(960, 48000)
	if err != nil {
		t.Fatal(err)
	}
	g := NewGorger(threshold)

	g.Push(f.CreateMsgMode("songcast", true, true))

	popped := make(chan message.Message, 1)
	g.Push(testPcm(f, 1))
	go func() { popped <- g.Pop() }()

	select {
	case m := <-popped:
		if m == nil {
			t.Fatal("expected a message")
		}
		m.Release()
	case <-time.After(time.Second):
		t.Fatal("expected Pop to return immediately once real-time mode disables gorging")
	}
}

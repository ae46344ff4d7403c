package manager

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/waveforge/netrender/internal/codec"
	"github.com/waveforge/netrender/internal/conf"
	"github.com/waveforge/netrender/internal/message"
	"github.com/waveforge/netrender/internal/reservoir"
	"github.com/waveforge/netrender/internal/rewinder"
)

func testFactory() *message.Factory {
	return message.NewFactory(message.FactoryConfig{
		ControlCells:      4,
		StreamCells:       4,
		AudioEncodedCells: 8,
		AudioPcmCells:     2,
		SilenceCells:      2,
		PlayableCells:     2,
	})
}

type drainingSource struct {
	encoded *reservoir.Reservoir
}

func (s drainingSource) Pop() message.Message {
	return s.encoded.Pop()
}

func newTestManager() (*Manager, *reservoir.Reservoir) {
	f := testFactory()
	encoded := reservoir.New(16)
	decoded := reservoir.New(16)
	rw := rewinder.New(drainingSource{encoded: encoded}, 0)
	ctrl := codec.New(f, rw, decoded, nil)
	return New(f, encoded, rw, ctrl), decoded
}

type fakeTrackSource struct {
	uris  []string
	index int
	calls atomic.Int32
}

func (f *fakeTrackSource) NextTrack() (string, bool) {
	f.calls.Add(1)
	if f.index >= len(f.uris) {
		return "", false
	}
	uri := f.uris[f.index]
	f.index++
	return uri, true
}

func TestManagerAdvancesTrackOnUnrecoverableFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	m, _ := newTestManager()
	ts := &fakeTrackSource{uris: []string{srv.URL, srv.URL}}
	m.SetTrackSource(ts)

	done := make(chan struct{})
	m.PlayHTTP(conf.HTTPProtoConfig{ConnectTimeout: time.Second}, srv.URL, nil)

	go func() {
		for ts.calls.Load() < 2 {
			time.Sleep(5 * time.Millisecond)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected track source consulted twice, got %d", ts.calls.Load())
	}
}

func TestManagerStopSuppressesAdvance(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)
		w.Write(make([]byte, 4))
		if flusher != nil {
			flusher.Flush()
		}
		<-block
	}))
	defer srv.Close()

	m, _ := newTestManager()
	ts := &fakeTrackSource{uris: []string{srv.URL}}
	m.SetTrackSource(ts)
	m.PlayHTTP(conf.HTTPProtoConfig{ConnectTimeout: time.Second}, srv.URL, nil)

	time.Sleep(30 * time.Millisecond)
	if _, ok := m.Stop(); !ok {
		t.Fatal("expected Stop to succeed against the active protocol")
	}
	close(block)

	time.Sleep(50 * time.Millisecond)
	if ts.calls.Load() != 0 {
		t.Fatalf("expected no track advance after explicit Stop, got %d calls", ts.calls.Load())
	}
}

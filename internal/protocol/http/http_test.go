package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/waveforge/netrender/internal/conf"
	"github.com/waveforge/netrender/internal/message"
	"github.com/waveforge/netrender/internal/reservoir"
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

func TestParseStreamTitle(t *testing.T) {
	block := []byte("StreamTitle='Artist - Song';StreamUrl='http://x';")
	title, ok := parseStreamTitle(block)
	if !ok || title != "Artist - Song" {
		t.Fatalf("got %q, %v", title, ok)
	}
}

func TestParseStreamTitleAbsent(t *testing.T) {
	if _, ok := parseStreamTitle([]byte("StreamUrl='http://x';")); ok {
		t.Fatal("expected no title")
	}
}

func TestWrapDIDLLiteEscapes(t *testing.T) {
	out := wrapDIDLLite("A & B <tag>")
	if out != `<DIDL-Lite xmlns:dc="http://purl.org/dc/elements/1.1/"><item><dc:title>A &amp; B &lt;tag&gt;</dc:title></item></DIDL-Lite>` {
		t.Fatalf("unexpected wrap: %s", out)
	}
}

func TestClassifyResponseOKIsNotSeekable(t *testing.T) {
	resp := &http.Response{StatusCode: http.StatusOK, ContentLength: -1}
	seekable, live, _, unrecoverable := classifyResponse(resp)
	if seekable || !live || unrecoverable {
		t.Fatalf("seekable=%v live=%v unrecoverable=%v", seekable, live, unrecoverable)
	}
}

func TestClassifyResponsePartialContentSeekable(t *testing.T) {
	resp := &http.Response{StatusCode: http.StatusPartialContent, ContentLength: 1000}
	seekable, live, total, unrecoverable := classifyResponse(resp)
	if !seekable || live || unrecoverable || total != 1000 {
		t.Fatalf("seekable=%v live=%v total=%d unrecoverable=%v", seekable, live, total, unrecoverable)
	}
}

func TestClassifyResponseServerErrorUnrecoverable(t *testing.T) {
	resp := &http.Response{StatusCode: http.StatusInternalServerError}
	_, _, _, unrecoverable := classifyResponse(resp)
	if !unrecoverable {
		t.Fatal("expected unrecoverable")
	}
}

func TestRunStreamsAudioAndParsesMetadata(t *testing.T) {
	audio := make([]byte, 32)
	for i := range audio {
		audio[i] = byte(i)
	}
	meta := "StreamTitle='Now Playing';"
	metaBlock := make([]byte, 16)
	copy(metaBlock, meta)
	lenByte := byte((len(metaBlock) + 15) / 16)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("icy-metaint", "32")
		w.WriteHeader(http.StatusOK)
		w.Write(audio)
		w.Write([]byte{lenByte})
		w.Write(metaBlock[:int(lenByte)*16])
	}))
	defer srv.Close()

	factory := testFactory()
	downstream := reservoir.New(0)

	p := New(conf.HTTPProtoConfig{UserAgent: "netrender-test", ConnectTimeout: time.Second}, factory, downstream, nil, nil)

	done := make(chan struct{})
	go func() {
		p.Run(srv.URL)
		downstream.Push(factory.CreateMsgQuit())
		close(done)
	}()

	var sawEncodedStream, sawAudio, sawMetaText bool
	for {
		msg := downstream.Pop()
		if msg == nil {
			break
		}
		switch m := msg.(type) {
		case message.EncodedStream:
			sawEncodedStream = true
			if m.Payload().Seekable {
				t.Fatal("200 response should not be seekable")
			}
		case message.AudioEncoded:
			sawAudio = true
		case message.MetaText:
			sawMetaText = true
			if m.Payload().Text != wrapDIDLLite("Now Playing") {
				t.Fatalf("unexpected meta text %q", m.Payload().Text)
			}
		}
		quit := msg.Kind() == message.KindQuit
		msg.Release()
		if quit {
			break
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not complete")
	}

	if !sawEncodedStream || !sawAudio || !sawMetaText {
		t.Fatalf("sawEncodedStream=%v sawAudio=%v sawMetaText=%v", sawEncodedStream, sawAudio, sawMetaText)
	}
}

func TestTryStopMintsFlushAndStopsRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "0")
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)
		for i := 0; i < 100; i++ {
			if _, err := w.Write([]byte{byte(i)}); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
			time.Sleep(5 * time.Millisecond)
		}
	}))
	defer srv.Close()

	factory := testFactory()
	downstream := reservoir.New(0)
	p := New(conf.HTTPProtoConfig{ConnectTimeout: time.Second}, factory, downstream, nil, nil)

	done := make(chan struct{})
	go func() {
		p.Run(srv.URL)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	id, ok := p.TryStop()
	if !ok || id == 0 {
		t.Fatalf("TryStop failed: id=%d ok=%v", id, ok)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after TryStop")
	}
}

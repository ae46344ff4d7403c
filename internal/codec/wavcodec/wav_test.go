package wavcodec_test

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/waveforge/netrender/internal/codec"
	"github.com/waveforge/netrender/internal/codec/wavcodec"
	"github.com/waveforge/netrender/internal/jiffies"
	"github.com/waveforge/netrender/internal/message"
	"github.com/waveforge/netrender/internal/reservoir"
	"github.com/waveforge/netrender/internal/rewinder"
)

func testFactory() *message.Factory {
	return message.NewFactory(message.FactoryConfig{
		ControlCells:      16,
		StreamCells:       8,
		AudioEncodedCells: 64,
		AudioPcmCells:     64,
		SilenceCells:      4,
		PlayableCells:     16,
	})
}

// buildWav assembles a minimal canonical RIFF/WAVE/fmt/data byte stream
// around data, the way a real HTTP source would deliver one (spec §8
// scenario 1).
func buildWav(data []byte, sampleRate, channels, bitDepth int) []byte {
	byteRate := sampleRate * channels * (bitDepth / 8)
	blockAlign := channels * (bitDepth / 8)

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+len(data)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(&buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(bitDepth))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(data)))
	buf.Write(data)
	return buf.Bytes()
}

// pushChunks feeds raw bytes into upstream as AudioEncoded messages no
// larger than chunkSize, mirroring a protocol delivering encoded audio
// in bounded network reads (spec §8 scenario 1: "960-byte encoded
// messages").
func pushChunks(f *message.Factory, upstream *reservoir.Reservoir, data []byte, chunkSize int) {
	for len(data) > 0 {
		n := chunkSize
		if n > len(data) {
			n = len(data)
		}
		chunk := append([]byte(nil), data[:n]...)
		upstream.Push(f.CreateMsgAudioEncoded(chunk))
		data = data[n:]
	}
}

// TestWavCodecEndToEndSixKilobyteStream drives spec §8 scenario 1 all
// the way through the controller and the real WAV codec: a 6 KiB,
// 16-bit 44100Hz stereo stream of 0x7F-filled bytes delivered in
// 960-byte chunks must yield exactly one EncodedStream, one
// DecodedStream, 6144/(2*2) samples' worth of jiffies, and first/last
// PCM bytes equal to 0x7F.
func TestWavCodecEndToEndSixKilobyteStream(t *testing.T) {
	const channels, bitDepth, sampleRate = 2, 16, 44100

	f := testFactory()
	upstream := reservoir.New(0)
	downstream := reservoir.New(0)
	rw := rewinder.New(upstream, 0)

	data := bytes.Repeat([]byte{0x7F}, 6144)
	wavBytes := buildWav(data, sampleRate, channels, bitDepth)

	upstream.Push(f.CreateMsgEncodedStream(message.EncodedStreamData{StreamID: 1}))
	pushChunks(f, upstream, wavBytes, 960)
	upstream.Close()

	c := codec.New(f, rw, downstream, []codec.Codec{wavcodec.New()})

	done := make(chan struct{})
	go func() { c.Run(); close(done) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("controller did not finish decoding within timeout")
	}
	downstream.Close()

	var encodedStreams, decodedStreams int
	var totalBytes int
	var firstByte, lastByte byte
	haveFirst := false
	prevOffset := int64(-1)

	for {
		msg := downstream.Pop()
		if msg == nil {
			break
		}
		switch m := msg.(type) {
		case message.EncodedStream:
			encodedStreams++
		case message.DecodedStream:
			decodedStreams++
			p := m.Payload()
			if p.SampleRate != sampleRate || p.Channels != channels || p.BitDepth != bitDepth {
				t.Errorf("unexpected decoded format: %+v", p)
			}
		case message.AudioPcm:
			p := m.Payload()
			if decodedStreams == 0 {
				t.Error("AudioPcm arrived before any DecodedStream")
			}
			if p.TrackOffset <= prevOffset {
				t.Errorf("expected strictly increasing trackOffset, got %d after %d", p.TrackOffset, prevOffset)
			}
			prevOffset = p.TrackOffset
			if len(p.Data) > 0 {
				if !haveFirst {
					firstByte = p.Data[0]
					haveFirst = true
				}
				lastByte = p.Data[len(p.Data)-1]
				totalBytes += len(p.Data)
			}
		}
		msg.Release()
	}

	if encodedStreams != 1 {
		t.Fatalf("expected exactly one EncodedStream forwarded downstream, got %d", encodedStreams)
	}
	if decodedStreams != 1 {
		t.Fatalf("expected exactly one DecodedStream before the first AudioPcm, got %d", decodedStreams)
	}
	if !haveFirst {
		t.Fatal("expected at least one AudioPcm message")
	}
	if firstByte != 0x7F || lastByte != 0x7F {
		t.Fatalf("expected first/last PCM bytes to be 0x7F, got %#x/%#x", firstByte, lastByte)
	}

	frames := len(data) / (channels * (bitDepth / 8))
	wantJiffies, err := jiffies.FromSamples(frames, sampleRate)
	if err != nil {
		t.Fatalf("jiffies.FromSamples: %v", err)
	}
	gotJiffies, err := jiffies.FromBytes(totalBytes, channels, bitDepth, sampleRate)
	if err != nil {
		t.Fatalf("jiffies.FromBytes: %v", err)
	}
	if gotJiffies != wantJiffies {
		t.Fatalf("expected %d jiffies emitted (6144/(2*2) samples), got %d", wantJiffies, gotJiffies)
	}
}

// TestWavCodecSeekReportsTrackOffsetInJiffies drives spec §8 scenario 3:
// a seek to the 1-second mark must surface as an AudioPcm.TrackOffset of
// exactly 1*JIFFIES_PER_SECOND, not a raw sample count. StartSeek is
// recorded before the controller starts, so the seek applies to the
// very first chunk Decode emits, making the assertion deterministic.
func TestWavCodecSeekReportsTrackOffsetInJiffies(t *testing.T) {
	const channels, bitDepth, sampleRate = 1, 16, 8000

	f := testFactory()
	upstream := reservoir.New(0)
	downstream := reservoir.New(0)
	rw := rewinder.New(upstream, 0)

	data := bytes.Repeat([]byte{0x5A}, sampleRate*2*(bitDepth/8)) // 2 seconds of audio
	wavBytes := buildWav(data, sampleRate, channels, bitDepth)

	upstream.Push(f.CreateMsgEncodedStream(message.EncodedStreamData{StreamID: 0}))
	pushChunks(f, upstream, wavBytes, 960)
	upstream.Close()

	c := codec.New(f, rw, downstream, []codec.Codec{wavcodec.New()})
	c.StartSeek(0, sampleRate, nil) // seek to the 1-second mark, stream id 0

	done := make(chan struct{})
	go func() { c.Run(); close(done) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("controller did not finish decoding within timeout")
	}
	downstream.Close()

	gotOffset := int64(-1)
	for {
		msg := downstream.Pop()
		if msg == nil {
			break
		}
		if pcm, ok := msg.(message.AudioPcm); ok && gotOffset == -1 {
			gotOffset = pcm.Payload().TrackOffset
		}
		msg.Release()
	}

	if gotOffset == -1 {
		t.Fatal("expected at least one AudioPcm message")
	}
	if gotOffset != jiffies.PerSecond {
		t.Fatalf("expected first post-seek trackOffset == 1*JIFFIES_PER_SECOND (%d), got %d", jiffies.PerSecond, gotOffset)
	}
}

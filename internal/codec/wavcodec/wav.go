// Package wavcodec registers a WAV/PCM codec plugin against the
// controller's ICodecController contract (spec §4.4, §6), grounded on
// go-audio/wav + go-audio/audio for header parsing and frame decode.
package wavcodec

import (
	"errors"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/waveforge/netrender/internal/codec"
	"github.com/waveforge/netrender/internal/jiffies"
	"github.com/waveforge/netrender/internal/message"
)

const chunkFrames = 256 // ~5ms at 48kHz; the same frame count is used for every stream

// Codec decodes uncompressed WAV/PCM streams.
type Codec struct{}

// New creates the WAV codec plugin.
func New() *Codec { return &Codec{} }

func (Codec) Name() string { return "wav" }

// reader adapts codec.IO to io.Reader, translating ErrStreamEnded to
// io.EOF so go-audio/wav's own read loops terminate cleanly; any other
// sentinel boundary error is passed through unchanged for the controller
// to interpret.
type reader struct{ io codec.IO }

func (r reader) Read(p []byte) (int, error) {
	n, err := r.io.Read(p)
	if err != nil {
		if errors.Is(err, codec.ErrStreamEnded) {
			return n, io.EOF
		}
		return n, err
	}
	return n, nil
}

// unwrapSentinel recovers one of the codec package's sentinel errors from
// an error go-audio may have wrapped via io.ReadFull/io.ErrUnexpectedEOF.
func unwrapSentinel(err error) error {
	for _, sentinel := range []error{codec.ErrStreamStart, codec.ErrStreamStopped, codec.ErrCorrupt, codec.ErrFeatureUnsupported} {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}
	return err
}

// Recognise reads the RIFF/WAVE header and a canonical fmt chunk; any
// other magic or an unsupported encoding is reported as "not recognised"
// rather than an error, per spec §4.4 step 2 (a non-match is simply ok=false).
func (Codec) Recognise(io_ codec.IO) (bool, error) {
	dec := wav.NewDecoder(reader{io_})
	dec.ReadInfo()
	if err := dec.Err(); err != nil {
		if sentinel := unwrapSentinel(err); sentinel != err {
			return false, sentinel
		}
		return false, nil
	}
	if !dec.IsValidFile() {
		return false, nil
	}
	return true, nil
}

// Decode runs the WAV decode loop: emits one DecodedStream, then reads
// fixed-size PCM chunks until the stream ends (spec §4.4 step 4).
func (Codec) Decode(ioc codec.IO) error {
	dec := wav.NewDecoder(reader{ioc})
	dec.ReadInfo()
	if err := dec.Err(); err != nil {
		return unwrapSentinel(err)
	}

	channels := int(dec.NumChans)
	bitDepth := int(dec.BitDepth)
	sampleRate := int(dec.SampleRate)

	ioc.OutputDecodedStream(codec.DecodedFormat{
		BitDepth:   bitDepth,
		SampleRate: sampleRate,
		Channels:   channels,
		Name:       "wav",
		Lossless:   true,
	})

	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:   make([]int, chunkFrames*channels),
	}

	var sampleOffset int64
	for {
		if sampleNumber, ok := ioc.TakeSeek(); ok {
			bytePos := sampleNumber * int64(channels) * int64(bitDepth/8)
			ioc.TrySeek(0, bytePos)
			sampleOffset = sampleNumber
		}

		n, err := dec.PCMBuffer(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return codec.ErrStreamEnded
			}
			return unwrapSentinel(err)
		}
		if n == 0 {
			return codec.ErrStreamEnded
		}

		frames := n / channels
		raw := packFrames(buf.Data[:n], bitDepth)
		trackOffset, err := jiffies.FromSamples(int(sampleOffset), sampleRate)
		if err != nil {
			return codec.ErrCorrupt
		}
		jiffiesEmitted := ioc.OutputAudioPcm(raw, channels, sampleRate, bitDepth, message.BigEndian, trackOffset)
		sampleOffset += int64(frames)
		_ = jiffiesEmitted
	}
}

// TrySeek converts a target sample number into a byte offset and asks
// the controller to seek there (WAV's fixed frame size makes this exact).
func (Codec) TrySeek(ioc codec.IO, streamID uint64, sampleNumber int64) bool {
	return ioc.TrySeek(streamID, sampleNumber)
}

// packFrames repacks go-audio's []int samples into big-endian interleaved
// bytes at the given bit depth (spec §6: "Samples are big-endian packed").
func packFrames(samples []int, bitDepth int) []byte {
	bytesPerSample := bitDepth / 8
	out := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		off := i * bytesPerSample
		switch bitDepth {
		case 8:
			out[off] = byte(s)
		case 16:
			out[off] = byte(s >> 8)
			out[off+1] = byte(s)
		case 24:
			out[off] = byte(s >> 16)
			out[off+1] = byte(s >> 8)
			out[off+2] = byte(s)
		default:
			out[off] = byte(s >> 24)
			out[off+1] = byte(s >> 16)
			out[off+2] = byte(s >> 8)
			out[off+3] = byte(s)
		}
	}
	return out
}

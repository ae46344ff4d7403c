// Package flaccodec registers a second codec plugin against the
// controller's ICodecController contract, exercising the multi-codec
// registration-order path (spec §4.4, §9 Open Question on codec
// priority) alongside wavcodec.
package flaccodec

import (
	"errors"
	"io"

	"github.com/tphakala/flac"
	"github.com/waveforge/netrender/internal/codec"
	"github.com/waveforge/netrender/internal/jiffies"
	"github.com/waveforge/netrender/internal/message"
)

// Codec decodes FLAC streams.
type Codec struct{}

// New creates the FLAC codec plugin.
func New() *Codec { return &Codec{} }

func (Codec) Name() string { return "flac" }

type reader struct{ io codec.IO }

func (r reader) Read(p []byte) (int, error) {
	n, err := r.io.Read(p)
	if err != nil && errors.Is(err, codec.ErrStreamEnded) {
		return n, io.EOF
	}
	return n, err
}

func unwrapSentinel(err error) error {
	for _, sentinel := range []error{codec.ErrStreamStart, codec.ErrStreamStopped, codec.ErrCorrupt, codec.ErrFeatureUnsupported} {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}
	return err
}

// Recognise opens a flac.Stream against the buffered prefix; a fLaC magic
// mismatch or malformed STREAMINFO reports not-recognised rather than an
// error (spec §4.4 step 2).
func (Codec) Recognise(io_ codec.IO) (bool, error) {
	stream, err := flac.New(reader{io_})
	if err != nil {
		if sentinel := unwrapSentinel(err); sentinel != err {
			return false, sentinel
		}
		return false, nil
	}
	defer stream.Close()
	return true, nil
}

// Decode runs the FLAC decode loop: one DecodedStream from the parsed
// STREAMINFO, then a frame-by-frame decode converted to interleaved
// big-endian PCM (spec §4.4 step 4, §6 "Samples are big-endian packed").
func (Codec) Decode(ioc codec.IO) error {
	stream, err := flac.New(reader{ioc})
	if err != nil {
		return unwrapSentinel(err)
	}
	defer stream.Close()

	channels := int(stream.Info.NChannels)
	bitDepth := int(stream.Info.BitsPerSample)
	sampleRate := int(stream.Info.SampleRate)

	ioc.OutputDecodedStream(codec.DecodedFormat{
		BitDepth:   bitDepth,
		SampleRate: sampleRate,
		Channels:   channels,
		Name:       "flac",
		Lossless:   true,
	})

	var sampleOffset int64
	for {
		if sampleNumber, ok := ioc.TakeSeek(); ok {
			bytePos := sampleNumber * int64(channels) * int64(bitDepth/8)
			ioc.TrySeek(0, bytePos)
			sampleOffset = sampleNumber
		}

		frame, err := stream.ParseNext()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return codec.ErrStreamEnded
			}
			return unwrapSentinel(err)
		}

		raw := packFrame(frame.Subframes, int(frame.BlockSize), channels, bitDepth)
		trackOffset, err := jiffies.FromSamples(int(sampleOffset), sampleRate)
		if err != nil {
			return codec.ErrCorrupt
		}
		ioc.OutputAudioPcm(raw, channels, sampleRate, bitDepth, message.BigEndian, trackOffset)
		sampleOffset += int64(frame.BlockSize)
	}
}

// TrySeek converts a target sample number into a byte offset; FLAC's
// frame-based layout means this lands on the nearest frame boundary
// rather than the exact sample, which is within the seekable contract.
func (Codec) TrySeek(ioc codec.IO, streamID uint64, sampleNumber int64) bool {
	return ioc.TrySeek(streamID, sampleNumber)
}

// packFrame interleaves a FLAC frame's per-channel subframe samples into
// big-endian PCM bytes at bitDepth.
func packFrame(subframes []*flac.Subframe, blockSize, channels, bitDepth int) []byte {
	bytesPerSample := bitDepth / 8
	out := make([]byte, blockSize*channels*bytesPerSample)
	for ch := 0; ch < channels && ch < len(subframes); ch++ {
		samples := subframes[ch].Samples
		for i := 0; i < blockSize && i < len(samples); i++ {
			off := (i*channels + ch) * bytesPerSample
			s := samples[i]
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
	}
	return out
}

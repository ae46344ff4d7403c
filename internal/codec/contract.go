// Package codec implements the codec controller (spec §4.4) and the
// ICodecController contract (spec §6) that every registered codec plugin
// decodes against.
package codec

import (
	"errors"

	"github.com/waveforge/netrender/internal/message"
)

// Sentinel stream-boundary conditions a codec's Recognise/Decode must
// handle by returning (spec §4.4 Failure semantics, §6 "Read ... throws
// on stream boundaries"). The controller interprets each distinctly:
// ErrStreamEnded flushes partial PCM and moves on cleanly, ErrStreamStart
// resets decode state for a new EncodedStream arriving mid-read,
// ErrStreamStopped honours an upstream stop, ErrCorrupt/
// ErrFeatureUnsupported skip to the next codec during recognition or
// terminate the stream during decode.
var (
	ErrStreamEnded        = errors.New("codec: stream ended")
	ErrStreamStart        = errors.New("codec: new stream started mid-read")
	ErrStreamStopped      = errors.New("codec: upstream stop honoured")
	ErrCorrupt            = errors.New("codec: stream corrupt")
	ErrFeatureUnsupported = errors.New("codec: feature unsupported")
)

// DecodedFormat is the decoded stream's format, reported once via
// OutputDecodedStream before any AudioPcm (spec §3 DecodedStream).
type DecodedFormat struct {
	Bitrate      int
	BitDepth     int
	SampleRate   int
	Channels     int
	Name         string
	TotalJiffies int64
	SampleStart  int64
	Lossless     bool
}

// IO is the contract a codec plugin reads and writes through (spec §6
// "Codec <-> controller contract"). The controller is the only
// implementation; codec plugins receive one per Recognise/Decode call.
type IO interface {
	// Read blocks for up to len(p) bytes of encoded audio, returning one
	// of the sentinel errors above at a stream boundary.
	Read(p []byte) (int, error)

	// TrySeek asks the controller to request an upstream seek to bytePos
	// in the stream currently identified by streamID.
	TrySeek(streamID uint64, bytePos int64) bool

	// TakeSeek pops a pending StartSeek request targeting the stream
	// currently being decoded, if one is outstanding (spec §4.4: "the
	// decode loop checks this flag between reads"). A codec's Decode
	// loop polls this between reads of encoded audio.
	TakeSeek() (sampleNumber int64, ok bool)

	// OutputDecodedStream emits exactly one DecodedStream for the
	// current encoded stream, preceding every AudioPcm that follows.
	OutputDecodedStream(format DecodedFormat)

	// OutputAudioPcm emits one AudioPcm chunk and returns the jiffies it
	// represents.
	OutputAudioPcm(data []byte, channels, sampleRate, bitDepth int, endianness message.Endianness, trackOffset int64) int64

	OutputWait()
	OutputHalt()
	OutputSession()
	OutputDelay(jiffies int64)
}

// Codec is a registered plugin able to recognise and decode one
// container/compression format.
type Codec interface {
	// Name identifies the codec for logging and DecodedFormat.Name.
	Name() string

	// Recognise reads through io (a rewindable prefix) and reports
	// whether this codec can decode the stream. Any error other than
	// the sentinels above is treated as a recognition failure and
	// swallowed by the controller (spec §4.4 step 2).
	Recognise(io IO) (bool, error)

	// Decode runs the full decode loop for a stream this codec
	// recognised: one OutputDecodedStream followed by a stream of
	// OutputAudioPcm calls, returning when the stream ends or a
	// sentinel boundary condition is hit.
	Decode(io IO) error

	// TrySeek translates a target sample number into a byte offset and
	// asks io to seek there, returning whether the codec supports seeking
	// at all (most container formats with a fixed frame size do).
	TrySeek(io IO, streamID uint64, sampleNumber int64) bool
}

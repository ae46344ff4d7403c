package message

import (
	"github.com/waveforge/netrender/internal/ramp"
)

// StreamHandler is the upstream control surface embedded in stream-start
// messages (spec §3): a non-owning back-reference to the protocol/codec
// instance still driving the stream, valid until the stream ends.
type StreamHandler interface {
	// TryStop requests the producer end the current stream; the flush id
	// that will eventually drain is returned.
	TryStop() (flushID uint64, ok bool)
	// TrySeek requests a seek to the given byte offset in the encoded
	// stream; returns the flush id that will drain once the seek completes.
	TrySeek(byteOffset int64) (flushID uint64, ok bool)
}

// ModeData carries the active rendering mode (spec §3 Mode).
type ModeData struct {
	Name            string
	SupportsLatency bool
	RealTime        bool
}

func (ModeData) Kind() Kind { return KindMode }

// TrackMetadata is the minimal track identity/metadata carried by Track
// and propagated informationally downstream.
type TrackMetadata struct {
	ID       uint64
	URI      string
	Title    string
	Artist   string
	Album    string
}

// TrackData carries a track's identity (spec §3 Track).
type TrackData struct {
	Track TrackMetadata
}

func (TrackData) Kind() Kind { return KindTrack }

// DelayData carries absolute downstream latency in jiffies (spec §3 Delay).
type DelayData struct {
	Jiffies int64
}

func (DelayData) Kind() Kind { return KindDelay }

// EncodedStreamData announces a new compressed stream (spec §3 EncodedStream).
type EncodedStreamData struct {
	URI        string
	MetaText   string
	TotalBytes int64
	StreamID   uint64
	Seekable   bool
	Live       bool
	Handler    StreamHandler
}

func (EncodedStreamData) Kind() Kind { return KindEncodedStream }

// AudioEncodedData carries opaque compressed bytes (spec §3 AudioEncoded).
// Bytes form a singly linked chain via Next so Add/Split/CopyTo can operate
// without copying the underlying buffer on every append.
type AudioEncodedData struct {
	Bytes []byte
	Next  *AudioEncodedData
}

func (AudioEncodedData) Kind() Kind { return KindAudioEncoded }

// Add appends another link to the end of the chain rooted at a.
func (a *AudioEncodedData) Add(next *AudioEncodedData) {
	tail := a
	for tail.Next != nil {
		tail = tail.Next
	}
	tail.Next = next
}

// Split cuts the chain at byte offset n, returning the remainder as a new
// chain head; a keeps [0,n).
func (a *AudioEncodedData) Split(n int) *AudioEncodedData {
	if n >= len(a.Bytes) {
		rest := a.Next
		a.Next = nil
		if rest == nil {
			return nil
		}
		return rest.Split(n - len(a.Bytes))
	}
	remainder := &AudioEncodedData{Bytes: a.Bytes[n:], Next: a.Next}
	a.Bytes = a.Bytes[:n]
	a.Next = nil
	return remainder
}

// CopyTo walks the chain, appending every link's bytes into dst.
func (a *AudioEncodedData) CopyTo(dst []byte) int {
	n := 0
	for link := a; link != nil; link = link.Next {
		n += copy(dst[n:], link.Bytes)
	}
	return n
}

// TotalBytes sums the byte length of every link in the chain.
func (a *AudioEncodedData) TotalBytes() int {
	n := 0
	for link := a; link != nil; link = link.Next {
		n += len(link.Bytes)
	}
	return n
}

// MetaTextData carries human-readable stream metadata (spec §3 MetaText).
type MetaTextData struct {
	Text string
}

func (MetaTextData) Kind() Kind { return KindMetaText }

// DecodedStreamData announces a newly decoded stream's format (spec §3
// DecodedStream). A DecodedStream always precedes the first AudioPcm of
// its stream (spec §3 invariant).
type DecodedStreamData struct {
	StreamID     uint64
	Bitrate      int
	BitDepth     int
	SampleRate   int
	Channels     int
	CodecName    string
	TotalJiffies int64
	SampleStart  int64
	Lossless     bool
	Seekable     bool
	Live         bool
	Handler      StreamHandler
}

func (DecodedStreamData) Kind() Kind { return KindDecodedStream }

// Endianness of interleaved PCM samples.
type Endianness uint8

const (
	LittleEndian Endianness = iota
	BigEndian
)

// AudioPcmData is decoded PCM (spec §3 AudioPcm). TrackOffset is the
// jiffy offset of the first sample in Data from the start of the track;
// successive AudioPcm messages within one unsplit track carry a strictly
// increasing TrackOffset (spec §3 invariant).
type AudioPcmData struct {
	Data        []byte
	Channels    int
	SampleRate  int
	BitDepth    int
	Endianness  Endianness
	TrackOffset int64
	Ramp        *ramp.Ramp
}

func (AudioPcmData) Kind() Kind { return KindAudioPcm }

// FrameBytes returns the byte size of a single interleaved frame.
func (a *AudioPcmData) FrameBytes() int {
	return a.Channels * (a.BitDepth / 8)
}

// Frames returns the number of interleaved frames held in Data.
func (a *AudioPcmData) Frames() int {
	fb := a.FrameBytes()
	if fb <= 0 {
		return 0
	}
	return len(a.Data) / fb
}

// SilenceData carries a duration of silence in jiffies (spec §3 Silence),
// emitted by VariableDelay to pad the driver's real-time clock.
type SilenceData struct {
	Jiffies int64
}

func (SilenceData) Kind() Kind { return KindSilence }

// PlayableData is byte-exact PCM ready for the DAC (spec §3 Playable).
type PlayableData struct {
	Data       []byte
	Channels   int
	SampleRate int
	BitDepth   int
	Endianness Endianness
}

func (PlayableData) Kind() Kind { return KindPlayable }

// HaltData marks a pause point; optional HaltID correlates resume logic
// (spec §3 Halt).
type HaltData struct {
	HaltID uint64
	HasID  bool
}

func (HaltData) Kind() Kind { return KindHalt }

// FlushData carries the id of the TryStop/TrySeek request it answers
// (spec §3 Flush).
type FlushData struct {
	FlushID uint64
}

func (FlushData) Kind() Kind { return KindFlush }

// WaitData requests the Waiter stage suspend audio until a matching Flush
// arrives (spec §3 Wait, §4.5).
type WaitData struct {
	FlushID  uint64
	RampDown bool
}

func (WaitData) Kind() Kind { return KindWait }

// DrainData signals pipeline quiescence; Done is invoked once every stage
// downstream has observed the drain (spec §3 Drain).
type DrainData struct {
	Done func()
}

func (DrainData) Kind() Kind { return KindDrain }

// QuitData unwinds every stage on shutdown (spec §3 Quit).
type QuitData struct{}

func (QuitData) Kind() Kind { return KindQuit }

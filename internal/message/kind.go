// Package message implements the reference-counted, visitor-dispatched
// message kinds that flow between pipeline elements (spec §3). Every
// concrete payload is pooled via internal/pool; a Cell adapts a pooled
// entry into the Message interface so pipeline code never type-asserts
// on pool internals.
package message

import "github.com/waveforge/netrender/internal/pool"

// Kind identifies a message's concrete payload type for visitor dispatch.
type Kind uint8

const (
	KindMode Kind = iota
	KindTrack
	KindDelay
	KindEncodedStream
	KindAudioEncoded
	KindMetaText
	KindDecodedStream
	KindAudioPcm
	KindSilence
	KindPlayable
	KindHalt
	KindFlush
	KindWait
	KindDrain
	KindQuit
)

var kindNames = [...]string{
	"Mode", "Track", "Delay", "EncodedStream", "AudioEncoded", "MetaText",
	"DecodedStream", "AudioPcm", "Silence", "Playable", "Halt", "Flush",
	"Wait", "Drain", "Quit",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Unknown"
}

// Payload is implemented by every concrete message body.
type Payload interface {
	Kind() Kind
}

// Message is the interface pipeline elements pull and push. Concrete
// values are always a Cell[T] for some Payload T.
type Message interface {
	Kind() Kind
	Acquire()
	Release()
}

// Cell adapts a pooled payload entry into a Message. It is a thin value
// type (one pointer) so wrapping costs nothing beyond the pool.Entry
// itself; refcounting is delegated entirely to the embedded entry.
type Cell[T Payload] struct {
	*pool.Entry[T]
}

// Kind reports the payload's kind.
func (c Cell[T]) Kind() Kind { return c.Value.Kind() }

// Payload returns a pointer to the underlying payload for field access.
func (c Cell[T]) Payload() *T { return &c.Value }

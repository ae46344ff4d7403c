// Package songcast implements the Songcast OHM (multicast) / OHU
// (unicast) protocol (spec §4.8): frame reassembly with out-of-order
// repair shared with RAOP via internal/repair, keep-alive, and
// resend-request wire encoding.
package songcast

import (
	"encoding/binary"
	"fmt"
)

// Magic identifies an OHM/OHU datagram; version pins the wire layout
// this package speaks (spec §6: "8-byte header (magic/version/type/size)
// followed by type-specific body").
const (
	Magic   uint32 = 0x4f686d31 // "Ohm1"
	Version uint8  = 1
)

// Message types carried in the 8-byte header's Type field.
const (
	TypeJoin     uint8 = 1
	TypeListen   uint8 = 2
	TypeLeave    uint8 = 3
	TypeAudio    uint8 = 4
	TypeTrack    uint8 = 5
	TypeMetatext uint8 = 6
	TypeResend   uint8 = 7
)

const headerSize = 8

// Header is the fixed 8-byte prefix of every OHM/OHU datagram.
type Header struct {
	Type uint8
	Size uint16
}

func (h Header) Encode() [headerSize]byte {
	var b [headerSize]byte
	binary.BigEndian.PutUint32(b[0:4], Magic)
	b[4] = Version
	b[5] = h.Type
	binary.BigEndian.PutUint16(b[6:8], h.Size)
	return b
}

// DecodeHeader parses and validates the magic/version of buf's leading
// 8 bytes.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < headerSize {
		return Header{}, fmt.Errorf("songcast: short header: %d bytes", len(buf))
	}
	if binary.BigEndian.Uint32(buf[0:4]) != Magic {
		return Header{}, fmt.Errorf("songcast: bad magic")
	}
	if buf[4] != Version {
		return Header{}, fmt.Errorf("songcast: unsupported version %d", buf[4])
	}
	return Header{Type: buf[5], Size: binary.BigEndian.Uint16(buf[6:8])}, nil
}

// AudioBlob is the reassembled body of a TypeAudio frame: a 32-bit BE
// frame number followed by opaque PCM/encoded bytes (spec §4.8
// "OhmMsgAudioBlob frames, each tagged with a 32-bit frame number").
type AudioBlob struct {
	Frame uint32
	Data  []byte
}

func EncodeAudioBlob(a AudioBlob) []byte {
	body := make([]byte, 4+len(a.Data))
	binary.BigEndian.PutUint32(body[0:4], a.Frame)
	copy(body[4:], a.Data)
	return wrap(TypeAudio, body)
}

func DecodeAudioBlob(body []byte) (AudioBlob, error) {
	if len(body) < 4 {
		return AudioBlob{}, fmt.Errorf("songcast: short audio blob")
	}
	return AudioBlob{Frame: binary.BigEndian.Uint32(body[0:4]), Data: body[4:]}, nil
}

// TrackFrame carries track identity; URI is length-prefixed (BE16) text.
type TrackFrame struct {
	Frame uint32
	URI   string
}

func EncodeTrackFrame(t TrackFrame) []byte {
	uriBytes := []byte(t.URI)
	body := make([]byte, 4+2+len(uriBytes))
	binary.BigEndian.PutUint32(body[0:4], t.Frame)
	binary.BigEndian.PutUint16(body[4:6], uint16(len(uriBytes)))
	copy(body[6:], uriBytes)
	return wrap(TypeTrack, body)
}

func DecodeTrackFrame(body []byte) (TrackFrame, error) {
	if len(body) < 6 {
		return TrackFrame{}, fmt.Errorf("songcast: short track frame")
	}
	n := binary.BigEndian.Uint16(body[4:6])
	if len(body) < 6+int(n) {
		return TrackFrame{}, fmt.Errorf("songcast: truncated track uri")
	}
	return TrackFrame{Frame: binary.BigEndian.Uint32(body[0:4]), URI: string(body[6 : 6+int(n)])}, nil
}

// MetatextFrame carries human-readable metadata (spec §3 MetaText).
type MetatextFrame struct {
	Frame uint32
	Text  string
}

func EncodeMetatextFrame(m MetatextFrame) []byte {
	textBytes := []byte(m.Text)
	body := make([]byte, 4+2+len(textBytes))
	binary.BigEndian.PutUint32(body[0:4], m.Frame)
	binary.BigEndian.PutUint16(body[4:6], uint16(len(textBytes)))
	copy(body[6:], textBytes)
	return wrap(TypeMetatext, body)
}

func DecodeMetatextFrame(body []byte) (MetatextFrame, error) {
	if len(body) < 6 {
		return MetatextFrame{}, fmt.Errorf("songcast: short metatext frame")
	}
	n := binary.BigEndian.Uint16(body[4:6])
	if len(body) < 6+int(n) {
		return MetatextFrame{}, fmt.Errorf("songcast: truncated metatext")
	}
	return MetatextFrame{Frame: binary.BigEndian.Uint32(body[0:4]), Text: string(body[6 : 6+int(n)])}, nil
}

// EncodeResend builds a resend-request body: a 16-bit count followed by
// that many 32-bit BE frame ids (spec §4.8 "Resend is requested by
// sending a list of big-endian frame ids in a packet of type Resend").
func EncodeResend(frames []uint32) []byte {
	body := make([]byte, 2+4*len(frames))
	binary.BigEndian.PutUint16(body[0:2], uint16(len(frames)))
	for i, f := range frames {
		binary.BigEndian.PutUint32(body[2+4*i:6+4*i], f)
	}
	return wrap(TypeResend, body)
}

func DecodeResend(body []byte) ([]uint32, error) {
	if len(body) < 2 {
		return nil, fmt.Errorf("songcast: short resend body")
	}
	n := int(binary.BigEndian.Uint16(body[0:2]))
	if len(body) < 2+4*n {
		return nil, fmt.Errorf("songcast: truncated resend body")
	}
	out := make([]uint32, n)
	for i := 0; i < n; i++ {
		out[i] = binary.BigEndian.Uint32(body[2+4*i : 6+4*i])
	}
	return out, nil
}

// EncodeKeepAlive builds the small periodic keep-alive datagram (spec
// §4.8: "a periodic small UDP message to the endpoint").
func EncodeKeepAlive() []byte {
	return wrap(TypeListen, nil)
}

func wrap(t uint8, body []byte) []byte {
	h := Header{Type: t, Size: uint16(len(body))}
	hb := h.Encode()
	out := make([]byte, 0, headerSize+len(body))
	out = append(out, hb[:]...)
	out = append(out, body...)
	return out
}

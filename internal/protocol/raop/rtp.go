// Package raop implements the RAOP (AirPlay classic) protocol (spec
// §4.7): a control UDP server for SYNC/RESEND-RESPONSE, an audio UDP
// server for RTP audio, AES-CBC payload decryption, and repair wiring
// through the shared internal/repair Repairer.
package raop

import (
	"encoding/binary"
	"fmt"
)

// Payload types carried in the RTP header's 7-bit PT field (spec §6).
const (
	PayloadTypeAudio         uint8 = 0x60
	PayloadTypeSync          uint8 = 0x54
	PayloadTypeResendRequest uint8 = 0x55
	PayloadTypeResendResp    uint8 = 0x56
)

const headerSize = 12

// RtpHeaderRaop is the 12-byte fixed RTP header every RAOP datagram
// opens with (spec §6): 2-bit version (=2), padding, extension, 4-bit
// csrc-count, marker, 7-bit payload type, 16-bit big-endian sequence,
// followed by the 4-byte timestamp and 4-byte SSRC that round out the
// 12 bytes.
type RtpHeaderRaop struct {
	Version     uint8
	Padding     bool
	Extension   bool
	CsrcCount   uint8
	Marker      bool
	PayloadType uint8
	Sequence    uint16
	Timestamp   uint32
	SSRC        uint32
}

// Encode writes the 12-byte wire form of h.
func (h RtpHeaderRaop) Encode() [headerSize]byte {
	var b [headerSize]byte
	b[0] = (h.Version&0x3)<<6 | boolBit(h.Padding)<<5 | boolBit(h.Extension)<<4 | (h.CsrcCount & 0xf)
	b[1] = boolBit(h.Marker)<<7 | (h.PayloadType & 0x7f)
	binary.BigEndian.PutUint16(b[2:4], h.Sequence)
	binary.BigEndian.PutUint32(b[4:8], h.Timestamp)
	binary.BigEndian.PutUint32(b[8:12], h.SSRC)
	return b
}

// DecodeRtpHeaderRaop parses the leading 12 bytes of buf as an RTP
// header. It errors if buf is shorter than headerSize.
func DecodeRtpHeaderRaop(buf []byte) (RtpHeaderRaop, error) {
	if len(buf) < headerSize {
		return RtpHeaderRaop{}, fmt.Errorf("raop: short rtp header: %d bytes", len(buf))
	}
	return RtpHeaderRaop{
		Version:     buf[0] >> 6,
		Padding:     buf[0]&0x20 != 0,
		Extension:   buf[0]&0x10 != 0,
		CsrcCount:   buf[0] & 0xf,
		Marker:      buf[1]&0x80 != 0,
		PayloadType: buf[1] & 0x7f,
		Sequence:    binary.BigEndian.Uint16(buf[2:4]),
		Timestamp:   binary.BigEndian.Uint32(buf[4:8]),
		SSRC:        binary.BigEndian.Uint32(buf[8:12]),
	}, nil
}

func boolBit(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// SyncPayload is the 16-byte body of a sync packet (PT 0x54, spec §6):
// "rtp-timestamp-minus-latency | ntp-secs | ntp-fract | rtp-timestamp".
type SyncPayload struct {
	TimestampMinusLatency uint32
	NtpSeconds            uint32
	NtpFraction           uint32
	RtpTimestamp          uint32
}

func (s SyncPayload) Encode() [16]byte {
	var b [16]byte
	binary.BigEndian.PutUint32(b[0:4], s.TimestampMinusLatency)
	binary.BigEndian.PutUint32(b[4:8], s.NtpSeconds)
	binary.BigEndian.PutUint32(b[8:12], s.NtpFraction)
	binary.BigEndian.PutUint32(b[12:16], s.RtpTimestamp)
	return b
}

func DecodeSyncPayload(buf []byte) (SyncPayload, error) {
	if len(buf) < 16 {
		return SyncPayload{}, fmt.Errorf("raop: short sync payload: %d bytes", len(buf))
	}
	return SyncPayload{
		TimestampMinusLatency: binary.BigEndian.Uint32(buf[0:4]),
		NtpSeconds:            binary.BigEndian.Uint32(buf[4:8]),
		NtpFraction:           binary.BigEndian.Uint32(buf[8:12]),
		RtpTimestamp:          binary.BigEndian.Uint32(buf[12:16]),
	}, nil
}

// ResendRequest is the outgoing payload for PT 0x55 (spec §6):
// "payload = seqStart(BE16) | count(BE16)".
type ResendRequest struct {
	SeqStart uint16
	Count    uint16
}

func (r ResendRequest) Encode() [4]byte {
	var b [4]byte
	binary.BigEndian.PutUint16(b[0:2], r.SeqStart)
	binary.BigEndian.PutUint16(b[2:4], r.Count)
	return b
}

func DecodeResendRequest(buf []byte) (ResendRequest, error) {
	if len(buf) < 4 {
		return ResendRequest{}, fmt.Errorf("raop: short resend-request payload: %d bytes", len(buf))
	}
	return ResendRequest{
		SeqStart: binary.BigEndian.Uint16(buf[0:2]),
		Count:    binary.BigEndian.Uint16(buf[2:4]),
	}, nil
}

// EncodeResendRequestPacket builds a full wire packet (header + payload)
// for a resend request targeting the given sequence range.
func EncodeResendRequestPacket(seq uint16, r ResendRequest) []byte {
	h := RtpHeaderRaop{Version: 2, PayloadType: PayloadTypeResendRequest, Sequence: seq}
	hb := h.Encode()
	pb := r.Encode()
	out := make([]byte, 0, headerSize+len(pb))
	out = append(out, hb[:]...)
	out = append(out, pb[:]...)
	return out
}

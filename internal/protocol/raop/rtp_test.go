package raop

import "testing"

func TestRtpHeaderRoundTrip(t *testing.T) {
	h := RtpHeaderRaop{
		Version:     2,
		Padding:     false,
		Extension:   false,
		CsrcCount:   0,
		Marker:      true,
		PayloadType: PayloadTypeAudio,
		Sequence:    4242,
		Timestamp:   123456,
		SSRC:        98765,
	}
	enc := h.Encode()
	got, err := DecodeRtpHeaderRaop(enc[:])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != h {
		t.Fatalf("round-trip mismatch: got %+v want %+v", got, h)
	}
}

func TestRtpHeaderReservedBitsCleared(t *testing.T) {
	h := RtpHeaderRaop{Version: 2, PayloadType: PayloadTypeSync, Sequence: 1}
	enc := h.Encode()
	// Top bit of byte 0 must be version's MSB; padding/extension bits
	// must be clear when unset (spec §8 "reserved bits cleared").
	if enc[0]&0x20 != 0 || enc[0]&0x10 != 0 {
		t.Fatalf("expected padding/extension bits clear, got %08b", enc[0])
	}
}

func TestResendRequestRoundTrip(t *testing.T) {
	r := ResendRequest{SeqStart: 110, Count: 3}
	enc := r.Encode()
	got, err := DecodeResendRequest(enc[:])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != r {
		t.Fatalf("round-trip mismatch: got %+v want %+v", got, r)
	}
}

func TestSyncPayloadRoundTrip(t *testing.T) {
	s := SyncPayload{TimestampMinusLatency: 1, NtpSeconds: 2, NtpFraction: 3, RtpTimestamp: 4}
	enc := s.Encode()
	got, err := DecodeSyncPayload(enc[:])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != s {
		t.Fatalf("round-trip mismatch: got %+v want %+v", got, s)
	}
}

func TestEncodeResendRequestPacketLength(t *testing.T) {
	pkt := EncodeResendRequestPacket(5, ResendRequest{SeqStart: 10, Count: 2})
	if len(pkt) != headerSize+4 {
		t.Fatalf("expected %d bytes, got %d", headerSize+4, len(pkt))
	}
}

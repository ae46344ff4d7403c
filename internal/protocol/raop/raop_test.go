package raop

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"testing"
	"time"

	"github.com/waveforge/netrender/internal/conf"
	"github.com/waveforge/netrender/internal/message"
	"github.com/waveforge/netrender/internal/reservoir"
)

func testFactory() *message.Factory {
	return message.NewFactory(message.FactoryConfig{
		ControlCells:      16,
		StreamCells:       8,
		AudioEncodedCells: 32,
		AudioPcmCells:     4,
		SilenceCells:      4,
		PlayableCells:     4,
	})
}

func testRepairConfig() conf.RepairConfig {
	return conf.RepairConfig{
		ListCapacity:              64,
		InitialTimeoutMax:         50 * time.Millisecond,
		SubsequentTimeout:         20 * time.Millisecond,
		MaxFramesPerResendRequest: 32,
	}
}

func newTestProtocol(t *testing.T) (*Protocol, *reservoir.Reservoir) {
	t.Helper()
	ds := reservoir.New(0)
	p, err := New("raop://127.0.0.1/6001", testRepairConfig(), testFactory(), ds, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	key := make([]byte, 16)
	iv := make([]byte, 16)
	if err := p.StartSession(Session{Key: key, IV: iv, Fmtp: "96 352 0 16 40 10 14 2 255 0 0 44100"}); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	return p, ds
}

// encryptAudioPacket builds a full RTP audio packet whose body decrypts
// (per decryptAudioPayload) back to plaintext.
func encryptAudioPacket(t *testing.T, p *Protocol, seq uint16, ssrc uint32, plaintext []byte) []byte {
	t.Helper()
	block, err := aes.NewCipher(p.session.Key)
	if err != nil {
		t.Fatalf("aes: %v", err)
	}
	padded := make([]byte, len(plaintext))
	copy(padded, plaintext)
	encLen := (len(padded) / aes.BlockSize) * aes.BlockSize
	out := make([]byte, len(padded))
	if encLen > 0 {
		iv := make([]byte, len(p.session.IV))
		copy(iv, p.session.IV)
		enc := cipher.NewCBCEncrypter(block, iv)
		enc.CryptBlocks(out[:encLen], padded[:encLen])
	}
	copy(out[encLen:], padded[encLen:])

	h := RtpHeaderRaop{Version: 2, PayloadType: PayloadTypeAudio, Sequence: seq, SSRC: ssrc}
	hb := h.Encode()
	var sizeBuf [4]byte
	binary.BigEndian.PutUint32(sizeBuf[:], uint32(len(out)))

	pkt := make([]byte, 0, headerSize+4+len(out))
	pkt = append(pkt, hb[:]...)
	pkt = append(pkt, sizeBuf[:]...)
	pkt = append(pkt, out...)
	return pkt
}

func TestHandleAudioPacketFirstEmitsTrackAndStream(t *testing.T) {
	p, ds := newTestProtocol(t)
	pkt := encryptAudioPacket(t, p, 100, 1, []byte("hello world! 16b"))
	p.handleAudioPacket(pkt)

	kinds := []message.Kind{ds.Pop().Kind(), ds.Pop().Kind(), ds.Pop().Kind(), ds.Pop().Kind()}
	want := []message.Kind{message.KindTrack, message.KindEncodedStream, message.KindDelay, message.KindAudioEncoded}
	for i, k := range want {
		if kinds[i] != k {
			t.Fatalf("message %d: got %v want %v", i, kinds[i], k)
		}
	}
}

func TestHandleAudioPacketRejectsMismatchedSSRC(t *testing.T) {
	p, ds := newTestProtocol(t)
	p.handleAudioPacket(encryptAudioPacket(t, p, 100, 1, []byte("0123456789abcdef")))
	ds.Pop() // Track
	ds.Pop() // EncodedStream
	ds.Pop() // Delay
	ds.Pop() // AudioEncoded

	p.handleAudioPacket(encryptAudioPacket(t, p, 101, 2, []byte("0123456789abcdef")))
	if ds.Len() != 0 {
		t.Fatalf("expected mismatched-SSRC packet dropped, reservoir has %d", ds.Len())
	}
}

func TestHandleAudioPacketDropsBeforeFlushBoundary(t *testing.T) {
	p, ds := newTestProtocol(t)
	p.SendFlush(100, 1000)

	h := RtpHeaderRaop{Version: 2, PayloadType: PayloadTypeAudio, Sequence: 50, Timestamp: 500, SSRC: 1}
	hb := h.Encode()
	var sizeBuf [4]byte
	binary.BigEndian.PutUint32(sizeBuf[:], 16)
	pkt := append(append([]byte{}, hb[:]...), sizeBuf[:]...)
	pkt = append(pkt, make([]byte, 16)...)

	p.handleAudioPacket(pkt)
	if ds.Len() != 0 {
		t.Fatalf("expected packet before flush boundary dropped, reservoir has %d", ds.Len())
	}
}

func TestInvalidPacketDropped(t *testing.T) {
	p, ds := newTestProtocol(t)
	p.handleAudioPacket([]byte{1, 2, 3})
	if ds.Len() != 0 {
		t.Fatalf("expected short packet dropped silently")
	}
}

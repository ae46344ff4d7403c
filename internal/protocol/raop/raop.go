package raop

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/waveforge/netrender/internal/conf"
	apperrors "github.com/waveforge/netrender/internal/errors"
	"github.com/waveforge/netrender/internal/ids"
	"github.com/waveforge/netrender/internal/message"
	"github.com/waveforge/netrender/internal/repair"
	"github.com/waveforge/netrender/internal/reservoir"
)

// Session is the discovery-supplied, out-of-band material a raop:// URI
// alone cannot carry (spec §1: discovery/advertisement is an external
// collaborator; spec §4.7 step 4: "the fmtp line provided out-of-band by
// the discovery module"). The protocol manager assembles this from
// whatever RTSP/mDNS layer negotiated the AirPlay session.
type Session struct {
	Key        []byte // AES-128 session key
	IV         []byte // AES-CBC initialization vector
	Fmtp       string // ALAC fmtp line, propagated via EncodedStream metadata
	LatencyJif int64  // absolute downstream latency in jiffies (spec §3 Delay)
}

// Protocol is the RAOP audio source (spec §4.7). It owns a control UDP
// socket (SYNC + RESEND-RESPONSE) and an audio UDP socket (RTP audio),
// decrypts each accepted packet, and routes it through a shared
// internal/repair Repairer before handing ordered, decrypted media
// downstream.
type Protocol struct {
	factory    *message.Factory
	downstream *reservoir.Reservoir
	logger     *slog.Logger
	sessionID  string

	clientControlAddr *net.UDPAddr

	controlConn *net.UDPConn
	audioConn   *net.UDPConn

	repairable *repair.Allocator
	repairer   *repair.Repairer

	mu            sync.Mutex
	session       Session
	block         cipher.Block
	gotSession    bool
	ssrc          uint32
	haveSSRC      bool
	streamID      uint64
	emittedStream bool

	flushPending  bool
	flushSeq      uint16
	flushTime     uint32
	stopRequested bool
	hasPendingFlush bool
	pendingFlush  message.Flush
}

// New creates a RAOP protocol instance bound to a parsed raop:// uri.
// repairCfg sizes the shared Repairer (spec §4.9); the client's control
// port is parsed from uri per spec §6 ("path parsed only for the
// control-channel port").
func New(uri string, cfg conf.RepairConfig, factory *message.Factory, downstream *reservoir.Reservoir, logger *slog.Logger) (*Protocol, error) {
	addr, err := parseClientControlAddr(uri)
	if err != nil {
		return nil, err
	}
	p := &Protocol{
		factory:           factory,
		downstream:        downstream,
		logger:            logger,
		sessionID:         ids.NewSessionID(),
		clientControlAddr: addr,
		repairable:        repair.NewAllocator(cfg.ListCapacity * 2),
	}
	p.repairer = repair.New(p, cfg.ListCapacity, cfg.MaxFramesPerResendRequest, cfg.InitialTimeoutMax, cfg.SubsequentTimeout)
	return p, nil
}

// parseClientControlAddr implements spec §6's raop:// scheme: the URI's
// host is the client, and the path carries the control-channel port.
func parseClientControlAddr(uri string) (*net.UDPAddr, error) {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme != "raop" {
		return nil, fmt.Errorf("raop: invalid uri %q", uri)
	}
	port := strings.TrimPrefix(u.Path, "/")
	port = strings.SplitN(port, ".", 2)[0]
	n, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("raop: invalid control port in uri %q: %w", uri, err)
	}
	return net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", u.Hostname(), n))
}

// StartSession installs the discovery-supplied session material (spec
// §4.7 step 5). Must be called before Run.
func (p *Protocol) StartSession(s Session) error {
	block, err := aes.NewCipher(s.Key)
	if err != nil {
		return apperrors.New(err).
			Component("protocol/raop").
			Category(apperrors.CategoryValidation).
			Context("sessionID", p.sessionID).
			Build()
	}
	p.mu.Lock()
	p.session = s
	p.block = block
	p.gotSession = true
	p.mu.Unlock()
	return nil
}

// SendFlush arms a flush boundary: packets whose sequence and timestamp
// are both <= the boundary are dropped (spec §4.7 step 3).
func (p *Protocol) SendFlush(seq uint16, rtpTime uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flushPending = true
	p.flushSeq = seq
	p.flushTime = rtpTime
}

// TryStop implements message.StreamHandler: closes both UDP servers and
// mints a flush id (spec §4.7 "TryStop closes both UDP servers,
// interrupts, and mints a flush id").
func (p *Protocol) TryStop() (flushID uint64, ok bool) {
	p.mu.Lock()
	if p.stopRequested {
		id := p.pendingFlush.Payload().FlushID
		p.mu.Unlock()
		return id, p.hasPendingFlush
	}
	p.stopRequested = true
	if !p.hasPendingFlush {
		p.pendingFlush = p.factory.CreateMsgFlush()
		p.hasPendingFlush = true
	}
	id := p.pendingFlush.Payload().FlushID
	p.mu.Unlock()

	if p.controlConn != nil {
		p.controlConn.Close()
	}
	if p.audioConn != nil {
		p.audioConn.Close()
	}
	return id, true
}

// TrySeek is not meaningful for a real-time RAOP stream; it always
// declines (spec §4.7 is silent on seek because AirPlay streams are
// live).
func (p *Protocol) TrySeek(int64) (flushID uint64, ok bool) { return 0, false }

// ListenAndRun opens the control and audio UDP sockets and serves until
// TryStop closes them.
func (p *Protocol) ListenAndRun(controlAddr, audioAddr string) error {
	cc, err := net.ListenPacket("udp", controlAddr)
	if err != nil {
		return apperrors.New(err).Component("protocol/raop").Category(apperrors.CategoryNetwork).Build()
	}
	ac, err := net.ListenPacket("udp", audioAddr)
	if err != nil {
		cc.Close()
		return apperrors.New(err).Component("protocol/raop").Category(apperrors.CategoryNetwork).Build()
	}
	p.controlConn = cc.(*net.UDPConn)
	p.audioConn = ac.(*net.UDPConn)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); p.serveControl() }()
	go func() { defer wg.Done(); p.serveAudio() }()
	wg.Wait()

	if p.downstream != nil {
		p.downstream.Push(p.factory.CreateMsgDrain(nil))
		p.mu.Lock()
		if p.hasPendingFlush {
			flush := p.pendingFlush
			p.hasPendingFlush = false
			p.mu.Unlock()
			p.downstream.Push(flush)
		} else {
			p.mu.Unlock()
		}
	}
	return nil
}

func (p *Protocol) serveControl() {
	buf := make([]byte, 2048)
	for {
		n, _, err := p.controlConn.ReadFromUDP(buf)
		if err != nil {
			return // closed by TryStop
		}
		p.handleControlPacket(buf[:n])
	}
}

func (p *Protocol) serveAudio() {
	buf := make([]byte, 2048)
	for {
		n, _, err := p.audioConn.ReadFromUDP(buf)
		if err != nil {
			return // closed by TryStop
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])
		p.handleAudioPacket(cp)
	}
}

func (p *Protocol) handleControlPacket(buf []byte) {
	h, err := DecodeRtpHeaderRaop(buf)
	if err != nil {
		if p.logger != nil {
			p.logger.Warn("raop: invalid control packet", "err", err)
		}
		return
	}
	switch h.PayloadType {
	case PayloadTypeSync:
		// Sync carries NTP/latency correlation consumed by the driver's
		// real-time clock discipline; not modeled further here since
		// this spec does not define a clock-puller contract beyond §3's
		// Mode message referencing one.
	case PayloadTypeResendResp:
		// "payload is a full audio packet" (spec §4.7): recurse into the
		// audio-packet path using the nested header+payload.
		p.handleAudioPacket(buf[headerSize:])
	default:
		if p.logger != nil {
			p.logger.Debug("raop: unhandled control packet", "pt", h.PayloadType)
		}
	}
}

func (p *Protocol) handleAudioPacket(buf []byte) {
	h, err := DecodeRtpHeaderRaop(buf)
	if err != nil {
		return // InvalidRaopPacket: drop (spec §4.7 Failure semantics)
	}
	if h.PayloadType != PayloadTypeAudio {
		return
	}

	p.mu.Lock()
	if !p.haveSSRC {
		p.ssrc = h.SSRC
		p.haveSSRC = true
	} else if h.SSRC != p.ssrc {
		p.mu.Unlock()
		return // mismatched SSRC: reject (spec §4.7 step 2)
	}
	if p.flushPending && h.Sequence <= p.flushSeq && h.Timestamp <= p.flushTime {
		p.mu.Unlock()
		return
	}
	if !p.gotSession {
		p.mu.Unlock()
		return
	}
	block := p.block
	firstOfSession := !p.emittedStream
	sess := p.session
	var streamID uint64
	if firstOfSession {
		p.emittedStream = true
		p.streamID++
		streamID = p.streamID
	}
	p.mu.Unlock()

	payload, err := decryptAudioPayload(block, sess.IV, buf[headerSize:])
	if err != nil {
		if p.logger != nil {
			p.logger.Warn("raop: decrypt failed", "err", err)
		}
		return
	}

	if firstOfSession {
		p.downstream.Push(p.factory.CreateMsgTrack(message.TrackMetadata{ID: streamID, URI: "raop://" + p.sessionID}))
		p.downstream.Push(p.factory.CreateMsgEncodedStream(message.EncodedStreamData{
			URI:      "raop://" + p.sessionID,
			MetaText: sess.Fmtp,
			StreamID: streamID,
			Seekable: false,
			Live:     true,
			Handler:  p,
		}))
		p.downstream.Push(p.factory.CreateMsgDelay(sess.LatencyJif))
	}

	entry := p.repairable.Allocate(uint32(h.Sequence), payload)
	if err := p.repairer.Arrive(uint32(h.Sequence), payload, entry); err != nil {
		if p.logger != nil {
			p.logger.Warn("raop: repairer error", "err", err)
		}
	}
}

// decryptAudioPayload implements spec §6's "leading 4-byte big-endian
// size precedes the decrypted block": the wire payload is a 4-byte BE
// length N followed by N bytes of AES-CBC ciphertext. AirPlay only
// encrypts whole 16-byte blocks; any final partial block is carried
// unencrypted immediately after the ciphertext.
func decryptAudioPayload(block cipher.Block, iv []byte, payload []byte) ([]byte, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("raop: audio payload too short")
	}
	size := binary.BigEndian.Uint32(payload[0:4])
	body := payload[4:]
	if uint32(len(body)) < size {
		return nil, fmt.Errorf("raop: audio payload shorter than declared size")
	}
	body = body[:size]

	encLen := (len(body) / aes.BlockSize) * aes.BlockSize
	out := make([]byte, len(body))
	if encLen > 0 {
		ivCopy := make([]byte, len(iv))
		copy(ivCopy, iv)
		dec := cipher.NewCBCDecrypter(block, ivCopy)
		dec.CryptBlocks(out[:encLen], body[:encLen])
	}
	copy(out[encLen:], body[encLen:])
	return out, nil
}

// Emit implements repair.Emitter: push one ordered, decrypted audio
// frame downstream as AudioEncoded.
func (p *Protocol) Emit(_ uint32, payload []byte) {
	p.downstream.Push(p.factory.CreateMsgAudioEncoded(payload))
}

// RequestResend implements repair.Emitter: encode and send one resend
// request per range over the control socket to the client's control
// port (spec §4.7 step 6, §6 wire).
func (p *Protocol) RequestResend(ranges []repair.Range) {
	if p.controlConn == nil {
		return
	}
	for _, rng := range ranges {
		pkt := EncodeResendRequestPacket(uint16(rng.Start), ResendRequest{SeqStart: uint16(rng.Start), Count: uint16(rng.Count)})
		_, _ = p.controlConn.WriteToUDP(pkt, p.clientControlAddr)
	}
}

package songcast

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/waveforge/netrender/internal/conf"
	apperrors "github.com/waveforge/netrender/internal/errors"
	"github.com/waveforge/netrender/internal/ids"
	"github.com/waveforge/netrender/internal/message"
	"github.com/waveforge/netrender/internal/repair"
	"github.com/waveforge/netrender/internal/reservoir"
)

const keepAliveInterval = 5 * time.Second

// Protocol is the Songcast OHM (multicast) / OHU (unicast) source (spec
// §4.8). It joins the endpoint named by an ohm:// or ohu:// uri,
// reassembles audio/track/metatext frames, and routes audio frames
// through a shared internal/repair Repairer exactly like RAOP.
type Protocol struct {
	factory    *message.Factory
	downstream *reservoir.Reservoir
	logger     *slog.Logger
	sessionID  string

	multicast bool
	endpoint  *net.UDPAddr
	ttl       int

	mu   sync.Mutex
	conn *net.UDPConn

	repairable *repair.Allocator
	repairer   *repair.Repairer

	streamMu      sync.Mutex
	streamID      uint64
	emittedStream bool

	stopMu        sync.Mutex
	stopRequested bool
	hasFlush      bool
	pendingFlush  message.Flush

	keepAliveStop chan struct{}
}

// New creates a Songcast protocol instance for uri (ohm:// or ohu://,
// spec §6).
func New(uri string, ttl int, cfg conf.RepairConfig, factory *message.Factory, downstream *reservoir.Reservoir, logger *slog.Logger) (*Protocol, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("songcast: invalid uri %q: %w", uri, err)
	}
	var multicast bool
	switch u.Scheme {
	case "ohm":
		multicast = true
	case "ohu":
		multicast = false
	default:
		return nil, fmt.Errorf("songcast: unsupported scheme %q", u.Scheme)
	}
	addr, err := net.ResolveUDPAddr("udp", u.Host)
	if err != nil {
		return nil, fmt.Errorf("songcast: resolving %q: %w", u.Host, err)
	}

	p := &Protocol{
		factory:    factory,
		downstream: downstream,
		logger:     logger,
		sessionID:  ids.NewSessionID(),
		multicast:  multicast,
		endpoint:   addr,
		ttl:        ttl,
	}
	p.repairer = repair.New(p, cfg.ListCapacity, cfg.MaxFramesPerResendRequest, cfg.InitialTimeoutMax, cfg.SubsequentTimeout)
	p.repairable = repair.NewAllocator(cfg.ListCapacity * 2)
	return p, nil
}

// Join opens the socket (multicast group join for ohm://, a plain
// unicast socket for ohu://) and begins serving until TryStop closes it
// or Rebind is called for a network-adapter change.
func (p *Protocol) Join() error {
	conn, err := p.dial()
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()

	p.keepAliveStop = make(chan struct{})
	go p.keepAliveLoop()
	p.serve()
	return nil
}

func (p *Protocol) dial() (*net.UDPConn, error) {
	if p.multicast {
		conn, err := net.ListenMulticastUDP("udp", nil, p.endpoint)
		if err != nil {
			return nil, apperrors.New(err).Component("protocol/songcast").Category(apperrors.CategoryNetwork).Build()
		}
		if p.ttl > 0 {
			_ = conn.SetReadBuffer(1 << 20)
		}
		return conn, nil
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: p.endpoint.Port})
	if err != nil {
		return nil, apperrors.New(err).Component("protocol/songcast").Category(apperrors.CategoryNetwork).Build()
	}
	return conn, nil
}

// Rebind closes the current socket and re-joins, for a network-adapter
// change (spec §4.8: "On network-adapter change, close and rebind").
func (p *Protocol) Rebind() error {
	p.mu.Lock()
	old := p.conn
	p.mu.Unlock()
	if old != nil {
		old.Close()
	}
	conn, err := p.dial()
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()
	go p.serve()
	return nil
}

func (p *Protocol) keepAliveLoop() {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.keepAliveStop:
			return
		case <-ticker.C:
			p.mu.Lock()
			conn := p.conn
			p.mu.Unlock()
			if conn != nil {
				_, _ = conn.WriteToUDP(EncodeKeepAlive(), p.endpoint)
			}
		}
	}
}

func (p *Protocol) serve() {
	buf := make([]byte, 2048)
	for {
		p.mu.Lock()
		conn := p.conn
		p.mu.Unlock()
		if conn == nil {
			return
		}
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			return // closed by TryStop or Rebind
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])
		p.handlePacket(cp)
	}
}

func (p *Protocol) handlePacket(buf []byte) {
	h, err := DecodeHeader(buf)
	if err != nil {
		if p.logger != nil {
			p.logger.Warn("songcast: invalid packet", "err", err)
		}
		return
	}
	body := buf[headerSize:]

	switch h.Type {
	case TypeAudio:
		p.handleAudio(body)
	case TypeTrack:
		tf, err := DecodeTrackFrame(body)
		if err != nil {
			return
		}
		p.downstream.Push(p.factory.CreateMsgTrack(message.TrackMetadata{URI: tf.URI}))
	case TypeMetatext:
		mf, err := DecodeMetatextFrame(body)
		if err != nil {
			return
		}
		p.downstream.Push(p.factory.CreateMsgMetaText(mf.Text))
	default:
		if p.logger != nil {
			p.logger.Debug("songcast: unhandled packet type", "type", h.Type)
		}
	}
}

func (p *Protocol) handleAudio(body []byte) {
	blob, err := DecodeAudioBlob(body)
	if err != nil {
		return
	}

	p.streamMu.Lock()
	first := !p.emittedStream
	var streamID uint64
	if first {
		p.emittedStream = true
		p.streamID++
		streamID = p.streamID
	}
	p.streamMu.Unlock()

	if first {
		p.downstream.Push(p.factory.CreateMsgEncodedStream(message.EncodedStreamData{
			URI:      "ohm://" + p.sessionID,
			StreamID: streamID,
			Seekable: false,
			Live:     true,
			Handler:  p,
		}))
	}

	entry := p.repairable.Allocate(blob.Frame, blob.Data)
	if err := p.repairer.Arrive(blob.Frame, blob.Data, entry); err != nil {
		if p.logger != nil {
			p.logger.Warn("songcast: repairer error", "err", err)
		}
	}
}

// Emit implements repair.Emitter.
func (p *Protocol) Emit(_ uint32, payload []byte) {
	p.downstream.Push(p.factory.CreateMsgAudioEncoded(payload))
}

// RequestResend implements repair.Emitter by sending one Resend packet
// per range, expanding each (start,count) span back into explicit frame
// ids since spec §4.8's wire format lists ids, not ranges (the
// range-collapsing in internal/repair is the RAOP/generic shape; OHM's
// wire format is the one variance between the two protocols' resend
// encoding).
func (p *Protocol) RequestResend(ranges []repair.Range) {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return
	}
	var frames []uint32
	for _, rng := range ranges {
		for i := uint32(0); i < rng.Count; i++ {
			frames = append(frames, rng.Start+i)
		}
	}
	if len(frames) == 0 {
		return
	}
	_, _ = conn.WriteToUDP(EncodeResend(frames), p.endpoint)
}

// TryStop implements message.StreamHandler: leaves the group/closes the
// socket and mints a flush id.
func (p *Protocol) TryStop() (flushID uint64, ok bool) {
	p.stopMu.Lock()
	if p.stopRequested {
		id := p.pendingFlush.Payload().FlushID
		p.stopMu.Unlock()
		return id, p.hasFlush
	}
	p.stopRequested = true
	if !p.hasFlush {
		p.pendingFlush = p.factory.CreateMsgFlush()
		p.hasFlush = true
	}
	id := p.pendingFlush.Payload().FlushID
	p.stopMu.Unlock()

	if p.keepAliveStop != nil {
		close(p.keepAliveStop)
	}
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn != nil {
		conn.Close()
	}

	flush := p.pendingFlush
	p.stopMu.Lock()
	p.hasFlush = false
	p.stopMu.Unlock()
	p.downstream.Push(flush)

	return id, true
}

// TrySeek declines: Songcast streams are real-time, not seekable.
func (p *Protocol) TrySeek(int64) (flushID uint64, ok bool) { return 0, false }

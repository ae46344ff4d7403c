// Package manager implements the thin protocol coordinator named in
// SPEC_FULL.md: it owns the active protocol instance, the Rewinder, and
// the CodecController, and reacts to an unrecoverable transport failure
// (spec §7 "Transport unrecoverable") by selecting the next track from
// an injected TrackSource.
package manager

import (
	"log/slog"
	"sync"

	"github.com/waveforge/netrender/internal/codec"
	"github.com/waveforge/netrender/internal/conf"
	"github.com/waveforge/netrender/internal/logging"
	"github.com/waveforge/netrender/internal/message"
	httpproto "github.com/waveforge/netrender/internal/protocol/http"
	"github.com/waveforge/netrender/internal/protocol/raop"
	"github.com/waveforge/netrender/internal/protocol/songcast"
	"github.com/waveforge/netrender/internal/reservoir"
	"github.com/waveforge/netrender/internal/rewinder"
)

// TrackSource is the playlist/radio-preset boundary the manager calls
// through when the active source ends unrecoverably. The playlist or
// preset database behind it is out of scope (spec §1); only this
// boundary is specified here so the manager is testable without one.
type TrackSource interface {
	NextTrack() (uri string, ok bool)
}

// activeHandler is the subset of message.StreamHandler every protocol in
// this tree implements; the manager only ever needs to stop or seek
// whichever protocol currently owns the stream.
type activeHandler interface {
	TryStop() (flushID uint64, ok bool)
	TrySeek(offset int64) (flushID uint64, ok bool)
}

// Manager coordinates one playback chain: a Rewinder and CodecController
// shared across tracks, and a succession of protocol instances feeding
// them. Only one protocol is ever active at a time.
type Manager struct {
	factory    *message.Factory
	encoded    *reservoir.Reservoir
	rewinder   *rewinder.Rewinder
	controller *codec.Controller
	logger     *slog.Logger

	mu          sync.Mutex
	active      activeHandler
	stopping    bool
	trackSource TrackSource
}

// New creates a Manager. encoded is the reservoir every protocol pushes
// EncodedStream/AudioEncoded messages into; rw/controller are the
// Rewinder and CodecController already wired to pull from it.
func New(factory *message.Factory, encoded *reservoir.Reservoir, rw *rewinder.Rewinder, controller *codec.Controller) *Manager {
	return &Manager{
		factory:    factory,
		encoded:    encoded,
		rewinder:   rw,
		controller: controller,
		logger:     logging.ForService("manager"),
	}
}

// SetTrackSource installs the playlist boundary used to advance past an
// unrecoverable transport failure.
func (m *Manager) SetTrackSource(ts TrackSource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trackSource = ts
}

// RunController starts the codec controller's recognise-then-decode loop
// in its own goroutine; it runs for the manager's entire lifetime,
// spanning every track played through it.
func (m *Manager) RunController() {
	go m.controller.Run()
}

func (m *Manager) setActive(h activeHandler) {
	m.mu.Lock()
	m.active = h
	m.stopping = false
	m.mu.Unlock()
}

// Stop requests the active protocol stop its current stream. Returns
// false if there is no active protocol or it declined the stop.
func (m *Manager) Stop() (flushID uint64, ok bool) {
	m.mu.Lock()
	active := m.active
	m.mu.Unlock()
	if active == nil {
		return 0, false
	}
	id, ok := active.TryStop()
	if ok {
		m.mu.Lock()
		m.stopping = true
		m.mu.Unlock()
	}
	return id, ok
}

// Seek requests the active protocol seek within its current stream.
func (m *Manager) Seek(offset int64) (flushID uint64, ok bool) {
	m.mu.Lock()
	active := m.active
	m.mu.Unlock()
	if active == nil {
		return 0, false
	}
	return active.TrySeek(offset)
}

// PlayHTTP starts an HTTP/ICY source at uri. If it later exits without
// an explicit Stop having been requested, the manager treats that as an
// unrecoverable transport failure and advances to the TrackSource's next
// track (spec §7).
func (m *Manager) PlayHTTP(cfg conf.HTTPProtoConfig, uri string, okToPlay httpproto.OkToPlayFunc) {
	proto := httpproto.New(cfg, m.factory, m.encoded, okToPlay, logging.ForService("http"))
	m.setActive(proto)
	go m.runHTTP(cfg, proto, uri, okToPlay)
}

func (m *Manager) runHTTP(cfg conf.HTTPProtoConfig, proto *httpproto.Protocol, uri string, okToPlay httpproto.OkToPlayFunc) {
	proto.Run(uri)

	m.mu.Lock()
	stopped := m.stopping
	m.stopping = false
	m.mu.Unlock()
	if stopped {
		return
	}

	if m.logger != nil {
		m.logger.Warn("http source exited without explicit stop, advancing track", "uri", uri)
	}
	m.advance(cfg, okToPlay)
}

func (m *Manager) advance(cfg conf.HTTPProtoConfig, okToPlay httpproto.OkToPlayFunc) {
	m.mu.Lock()
	ts := m.trackSource
	m.mu.Unlock()
	if ts == nil {
		return
	}
	next, ok := ts.NextTrack()
	if !ok {
		if m.logger != nil {
			m.logger.Info("track source exhausted, nothing more to play")
		}
		return
	}
	m.PlayHTTP(cfg, next, okToPlay)
}

// PlayRAOP starts an AirPlay (RAOP) receiver bound to controlAddr and
// audioAddr, addressing the sender described by senderURI. Unlike HTTP,
// RAOP sessions are driven externally by the sender's RTSP control
// channel (out of scope per spec §1), so no track advance is attempted
// when the session ends; the manager only tracks it as the active
// protocol for Stop/Seek.
func (m *Manager) PlayRAOP(senderURI string, cfg conf.RepairConfig, controlAddr, audioAddr string) (*raop.Protocol, error) {
	proto, err := raop.New(senderURI, cfg, m.factory, m.encoded, logging.ForService("raop"))
	if err != nil {
		return nil, err
	}
	m.setActive(proto)
	go func() {
		if err := proto.ListenAndRun(controlAddr, audioAddr); err != nil && m.logger != nil {
			m.logger.Error("raop listener failed", "err", err)
		}
	}()
	return proto, nil
}

// PlaySongcast joins an OHM/OHU Songcast session at uri. As with RAOP,
// the sending control point (not this manager) decides what plays next,
// so session end does not advance a TrackSource.
func (m *Manager) PlaySongcast(uri string, ttl int, cfg conf.RepairConfig) (*songcast.Protocol, error) {
	proto, err := songcast.New(uri, ttl, cfg, m.factory, m.encoded, logging.ForService("songcast"))
	if err != nil {
		return nil, err
	}
	m.setActive(proto)
	go func() {
		if err := proto.Join(); err != nil && m.logger != nil {
			m.logger.Error("songcast join failed", "err", err)
		}
	}()
	return proto, nil
}

// Rewinder exposes the shared Rewinder for wiring a codec.Controller
// that outlives any single protocol's lifetime.
func (m *Manager) Rewinder() *rewinder.Rewinder {
	return m.rewinder
}

// Controller exposes the shared CodecController.
func (m *Manager) Controller() *codec.Controller {
	return m.controller
}

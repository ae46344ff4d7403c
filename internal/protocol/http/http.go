// Package http implements the HTTP/ICY protocol (spec §4.6): a GET with
// Icy-MetaData: 1, status-driven seekability, icy-metaint metadata
// interleaving, Range-based seek, and live-stream OkToPlay gating.
// Built on a context-managed Do with configurable timeout and
// User-Agent injection, adapted from a generic request helper into a
// long-lived streaming read loop.
package http

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/waveforge/netrender/internal/conf"
	apperrors "github.com/waveforge/netrender/internal/errors"
	"github.com/waveforge/netrender/internal/message"
	"github.com/waveforge/netrender/internal/reservoir"
)

const (
	maxRedirects   = 5
	audioChunkSize = 4096
	// metaCacheTTL only needs to outlive a single stream's lifetime; it
	// exists to bound memory if a stream id is never explicitly evicted.
	metaCacheTTL = 24 * time.Hour
)

// Verdict is OkToPlay's answer for a live stream (spec §4.6: "block the
// read loop on a semaphore until OkToPlay returns a non-no verdict").
type Verdict int

const (
	VerdictNo Verdict = iota
	VerdictMaybe
	VerdictYes
)

// OkToPlayFunc gates live-stream playback start.
type OkToPlayFunc func() Verdict

// Protocol is the HTTP/ICY stream source. It implements
// message.StreamHandler so the codec controller (or a protocol manager)
// can drive TryStop/TrySeek through the same interface every protocol
// shares.
type Protocol struct {
	factory    *message.Factory
	downstream *reservoir.Reservoir
	client     *http.Client
	userAgent  string
	okToPlay   OkToPlayFunc
	metaCache  *cache.Cache
	logger     *slog.Logger

	mu              sync.Mutex
	streamID        uint64
	cancel          context.CancelFunc
	stopRequested   bool
	seekRequested   bool
	seekOffset      int64
	pendingFlush    message.Flush
	hasPendingFlush bool
}

// New creates an HTTP/ICY protocol instance.
func New(cfg conf.HTTPProtoConfig, factory *message.Factory, downstream *reservoir.Reservoir, okToPlay OkToPlayFunc, logger *slog.Logger) *Protocol {
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	transport := &http.Transport{DialContext: dialer.DialContext}
	client := &http.Client{
		Transport: transport,
		Timeout:   0, // per-request deadline comes from the request context instead
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return &Protocol{
		factory:    factory,
		downstream: downstream,
		client:     client,
		userAgent:  cfg.UserAgent,
		okToPlay:   okToPlay,
		metaCache:  cache.New(metaCacheTTL, metaCacheTTL),
		logger:     logger,
	}
}

// TryStop requests the stream end (spec §4.6 "TryStop ... mints a flush
// id and interrupts").
func (p *Protocol) TryStop() (flushID uint64, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopRequested {
		return 0, false
	}
	p.stopRequested = true
	return p.armPendingFlushLocked()
}

// TrySeek requests a seek to byteOffset in the encoded byte stream,
// matching codec.IO's own byte-domain TrySeek(streamID, bytePos) (spec §4.6: "records a pending
// seek ... the main loop reissues a Range: bytes=offset- request").
func (p *Protocol) TrySeek(byteOffset int64) (flushID uint64, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopRequested {
		return 0, false
	}
	p.seekRequested = true
	p.seekOffset = byteOffset
	return p.armPendingFlushLocked()
}

// armPendingFlushLocked mints the Flush message that will be pushed once
// the new request actually begins serving, and interrupts any in-flight
// read (caller holds p.mu).
func (p *Protocol) armPendingFlushLocked() (uint64, bool) {
	if !p.hasPendingFlush {
		p.pendingFlush = p.factory.CreateMsgFlush()
		p.hasPendingFlush = true
	}
	if p.cancel != nil {
		p.cancel()
	}
	return p.pendingFlush.Payload().FlushID, true
}

// Run opens uri and streams it until the body ends, TryStop is observed,
// or the source returns an unrecoverable error; a TrySeek reissues the
// request at the new offset (spec §4.6 flow).
func (p *Protocol) Run(uri string) {
	offset := int64(0)
	for {
		p.mu.Lock()
		if p.stopRequested {
			p.mu.Unlock()
			return
		}
		if p.seekRequested {
			offset = p.seekOffset
			p.seekRequested = false
		}
		p.mu.Unlock()

		ctx, cancel := context.WithCancel(context.Background())
		p.mu.Lock()
		p.cancel = cancel
		p.mu.Unlock()

		resp, finalURI, err := p.doRequestChain(ctx, uri, offset)
		if err != nil {
			cancel()
			if ctx.Err() != nil {
				continue // interrupted by TryStop/TrySeek; loop re-checks flags
			}
			if p.logger != nil {
				p.logger.Error("http source request failed", "err", err, "uri", uri)
			}
			return
		}

		seekable, live, totalBytes, unrecoverable := classifyResponse(resp)
		if unrecoverable {
			resp.Body.Close()
			cancel()
			if p.logger != nil {
				p.logger.Error("http source returned unrecoverable status", "status", resp.StatusCode, "uri", finalURI)
			}
			return
		}

		if live && p.okToPlay != nil {
			if !p.waitOkToPlay(ctx) {
				resp.Body.Close()
				cancel()
				return
			}
		}

		p.mu.Lock()
		p.streamID++
		streamID := p.streamID
		var pendingFlush message.Flush
		hasFlush := p.hasPendingFlush
		if hasFlush {
			pendingFlush = p.pendingFlush
			p.hasPendingFlush = false
		}
		p.mu.Unlock()

		if hasFlush {
			p.downstream.Push(pendingFlush)
		}

		metaint := parseMetaint(resp.Header)
		p.downstream.Push(p.factory.CreateMsgEncodedStream(message.EncodedStreamData{
			URI:        finalURI,
			TotalBytes: totalBytes,
			StreamID:   streamID,
			Seekable:   seekable,
			Live:       live,
			Handler:    p,
		}))

		streamErr := p.streamBody(resp.Body, metaint, streamID)
		resp.Body.Close()
		cancel()

		p.mu.Lock()
		stop := p.stopRequested
		seek := p.seekRequested
		p.mu.Unlock()
		if stop {
			return
		}
		if !seek {
			if streamErr != nil && p.logger != nil {
				p.logger.Error("http source stream read failed", "err", streamErr, "uri", finalURI)
			}
			return
		}
	}
}

func (p *Protocol) waitOkToPlay(ctx context.Context) bool {
	for {
		switch p.okToPlay() {
		case VerdictYes, VerdictMaybe:
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// classifyResponse implements spec §4.6's status table.
func classifyResponse(resp *http.Response) (seekable, live bool, totalBytes int64, unrecoverable bool) {
	switch {
	case resp.StatusCode == http.StatusOK:
		seekable = false
	case resp.StatusCode == http.StatusPartialContent:
		seekable = resp.ContentLength > 0
	default:
		return false, false, 0, true
	}
	totalBytes = resp.ContentLength
	live = resp.ContentLength <= 0
	return seekable, live, totalBytes, false
}

func (p *Protocol) doRequestChain(ctx context.Context, uri string, offset int64) (*http.Response, string, error) {
	current := uri
	for i := 0; i < maxRedirects; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, current, nil)
		if err != nil {
			return nil, "", err
		}
		req.Header.Set("Icy-MetaData", "1")
		if p.userAgent != "" {
			req.Header.Set("User-Agent", p.userAgent)
		}
		if offset > 0 {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
		}

		resp, err := p.client.Do(req)
		if err != nil {
			return nil, "", err
		}

		if resp.StatusCode >= 300 && resp.StatusCode < 400 {
			loc := resp.Header.Get("Location")
			resp.Body.Close()
			if loc == "" {
				return nil, "", apperrors.New(nil).
					Component("protocol/http").
					Category(apperrors.CategoryTransportFatal).
					Context("status", resp.StatusCode).
					Context("error", "redirect without Location").
					Build()
			}
			current = loc
			continue
		}
		return resp, current, nil
	}
	return nil, "", apperrors.New(nil).
		Component("protocol/http").
		Category(apperrors.CategoryTransportFatal).
		Context("error", "too many redirects").
		Build()
}

func parseMetaint(h http.Header) int {
	v := h.Get("icy-metaint")
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0
	}
	return n
}

// streamBody reads audio bytes, splitting out icy-metaint metadata
// blocks when present, until body is exhausted, interrupted, or errors.
func (p *Protocol) streamBody(body io.Reader, metaint int, streamID uint64) error {
	buf := make([]byte, audioChunkSize)
	remaining := metaint

	for {
		p.mu.Lock()
		interrupted := p.stopRequested || p.seekRequested
		p.mu.Unlock()
		if interrupted {
			return nil
		}

		want := len(buf)
		if metaint > 0 && remaining < want {
			want = remaining
		}
		if want == 0 {
			want = len(buf)
		}

		n, err := io.ReadFull(body, buf[:want])
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			p.downstream.Push(p.factory.CreateMsgAudioEncoded(chunk))
		}
		if err != nil {
			if err == io.ErrUnexpectedEOF || err == io.EOF {
				return nil
			}
			return err
		}

		if metaint > 0 {
			remaining -= n
			if remaining == 0 {
				if err := p.readMetaBlock(body, streamID); err != nil {
					if err == io.EOF {
						return nil
					}
					return err
				}
				remaining = metaint
			}
		}
	}
}

// readMetaBlock parses one icy-metaint block: a 1-byte length (x16)
// followed by that many bytes of semicolon-terminated key='value' pairs
// (spec §4.6). A StreamTitle change not seen before for this streamID is
// emitted downstream as DIDL-Lite wrapped MetaText.
func (p *Protocol) readMetaBlock(body io.Reader, streamID uint64) error {
	var lenByte [1]byte
	if _, err := io.ReadFull(body, lenByte[:]); err != nil {
		return err
	}
	blockLen := int(lenByte[0]) * 16
	if blockLen == 0 {
		return nil
	}
	block := make([]byte, blockLen)
	if _, err := io.ReadFull(body, block); err != nil {
		return err
	}

	title, ok := parseStreamTitle(block)
	if !ok {
		return nil
	}

	cacheKey := strconv.FormatUint(streamID, 10)
	if prev, found := p.metaCache.Get(cacheKey); found && prev == title {
		return nil
	}
	p.metaCache.Set(cacheKey, title, cache.DefaultExpiration)

	p.downstream.Push(p.factory.CreateMsgMetaText(wrapDIDLLite(title)))
	return nil
}

// parseStreamTitle extracts StreamTitle='...' from a raw metadata block.
func parseStreamTitle(block []byte) (string, bool) {
	text := string(block)
	const key = "StreamTitle='"
	idx := strings.Index(text, key)
	if idx < 0 {
		return "", false
	}
	rest := text[idx+len(key):]
	end := strings.Index(rest, "';")
	if end < 0 {
		end = strings.Index(rest, "'")
		if end < 0 {
			return "", false
		}
	}
	return rest[:end], true
}

// wrapDIDLLite wraps a plain title string in a minimal DIDL-Lite
// fragment (spec §4.6: "emitted downstream as DIDL-Lite wrapped
// MetaText").
func wrapDIDLLite(title string) string {
	escaped := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(title)
	return `<DIDL-Lite xmlns:dc="http://purl.org/dc/elements/1.1/">` +
		`<item><dc:title>` + escaped + `</dc:title></item></DIDL-Lite>`
}

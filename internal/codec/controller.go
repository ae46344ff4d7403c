package codec

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/waveforge/netrender/internal/jiffies"
	"github.com/waveforge/netrender/internal/logging"
	"github.com/waveforge/netrender/internal/message"
	"github.com/waveforge/netrender/internal/reservoir"
	"github.com/waveforge/netrender/internal/rewinder"
)

// errQuit unwinds the controller's Run loop once a Quit message has been
// forwarded downstream (spec §3 Quit).
var errQuit = errors.New("codec: quit observed")

// Controller is the single worker described in spec §4.4: for each new
// encoded stream it tries every registered codec in registration order,
// rewinding the prefix between attempts, then runs the winning codec's
// decode loop until the stream ends, is stopped, or is superseded.
type Controller struct {
	factory    *message.Factory
	rewinder   *rewinder.Rewinder
	downstream *reservoir.Reservoir
	codecs     []Codec
	logger     *slog.Logger

	// Read()-side state; only ever touched from the controller's own
	// goroutine, so no lock is needed for these fields.
	pendingBuf  []byte
	curStreamID uint64
	curHandler  message.StreamHandler
	curSampleRate int
	curChannels   int
	curBitDepth   int

	// seek state, settable from any goroutine via StartSeek.
	mu               sync.Mutex
	seekRequested    bool
	seekStreamID     uint64
	seekSampleNumber int64
	seekObserver     func(flushID uint64)
	pendingSeekFlush uint64
	hasPendingSeek   bool
}

// New creates a Controller pulling EncodedStream/AudioEncoded messages
// from rewinder and pushing DecodedStream/AudioPcm/... to downstream.
// Codecs are tried in the order given (spec §9 Open Question: "codec
// priority order" is registration order, not guessed per-stream).
func New(factory *message.Factory, rw *rewinder.Rewinder, downstream *reservoir.Reservoir, codecs []Codec) *Controller {
	return &Controller{
		factory:    factory,
		rewinder:   rw,
		downstream: downstream,
		codecs:     codecs,
		logger:     logging.ForService("codec"),
	}
}

// StartSeek atomically records a seek request (spec §4.4): the decode
// loop checks this flag between reads and invokes the codec's TrySeek.
func (c *Controller) StartSeek(streamID uint64, sampleNumber int64, observer func(flushID uint64)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seekRequested = true
	c.seekStreamID = streamID
	c.seekSampleNumber = sampleNumber
	c.seekObserver = observer
}

func (c *Controller) takeSeekRequest() (streamID uint64, sampleNumber int64, observer func(uint64), ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.seekRequested {
		return 0, 0, nil, false
	}
	c.seekRequested = false
	return c.seekStreamID, c.seekSampleNumber, c.seekObserver, true
}

// Run drives the recognise-then-decode loop until Quit is observed.
func (c *Controller) Run() {
	for {
		es, err := c.awaitEncodedStream()
		if err != nil {
			return
		}
		c.handleStream(es)
	}
}

// awaitEncodedStream pulls messages, forwarding every non-EncodedStream
// kind downstream untouched, until an EncodedStream arrives (spec §4.4
// step 1). Returns errQuit once Quit has been forwarded.
func (c *Controller) awaitEncodedStream() (message.EncodedStream, error) {
	for {
		msg, err := c.rewinder.Pull()
		if err != nil {
			if c.logger != nil {
				c.logger.Warn("rewinder pull failed awaiting stream", "err", err)
			}
			continue
		}
		if msg == nil {
			return message.EncodedStream{}, errQuit
		}
		if es, ok := msg.(message.EncodedStream); ok {
			return es, nil
		}
		if msg.Kind() == message.KindQuit {
			c.downstream.Push(msg)
			return message.EncodedStream{}, errQuit
		}
		c.downstream.Push(msg)
	}
}

func (c *Controller) handleStream(es message.EncodedStream) {
	payload := es.Payload()
	c.curStreamID = payload.StreamID
	c.curHandler = payload.Handler
	c.pendingBuf = nil
	c.downstream.Push(es)

	// After a Rewind the replay starts with es itself, already forwarded
	// above, and Read may still hold bytes left over from the attempt;
	// restartReplay drops both so the next reader starts at the stream's
	// first AudioEncoded byte.
	restartReplay := func() {
		c.pendingBuf = nil
		if head, err := c.rewinder.Pull(); err == nil && head != nil {
			head.Release()
		}
	}

	var chosen Codec
	for _, cd := range c.codecs {
		ok, err := cd.Recognise(c)
		c.rewinder.Rewind()
		if err != nil {
			if errors.Is(err, ErrStreamStart) || errors.Is(err, ErrStreamStopped) {
				// A new stream/stop interrupted recognition itself; the
				// interrupting message has already been forwarded by Read.
				return
			}
			if c.logger != nil {
				c.logger.Debug("codec recognition failed, trying next", "codec", cd.Name(), "err", err)
			}
			restartReplay()
			continue
		}
		restartReplay()
		if ok {
			chosen = cd
			break
		}
	}
	c.rewinder.Stop()

	if chosen == nil {
		if c.logger != nil {
			c.logger.Warn("no codec recognised stream", "streamId", c.curStreamID)
		}
		c.requestStopAndDrain()
		return
	}

	if c.logger != nil {
		c.logger.Info("codec recognised stream", "codec", chosen.Name(), "streamId", c.curStreamID)
	}

	err := chosen.Decode(c)
	switch {
	case err == nil, errors.Is(err, ErrStreamEnded):
	case errors.Is(err, ErrStreamStart), errors.Is(err, ErrStreamStopped):
	default:
		// Stream corruption mid-decode: terminate and request stop
		// (spec §4.4 failure semantics).
		if c.logger != nil {
			c.logger.Error("codec decode error, requesting stop", "err", err)
		}
		c.requestStopAndDrain()
	}
}

// TakeSeek implements IO.TakeSeek.
func (c *Controller) TakeSeek() (int64, bool) {
	streamID, sampleNumber, _, ok := c.takeSeekRequest()
	if !ok || streamID != c.curStreamID {
		return 0, false
	}
	return sampleNumber, true
}

func (c *Controller) requestStopAndDrain() {
	if c.curHandler == nil {
		return
	}
	id, ok := c.curHandler.TryStop()
	if !ok {
		return
	}
	for {
		msg, err := c.rewinder.Pull()
		if err != nil || msg == nil {
			return
		}
		if fl, ok := msg.(message.Flush); ok {
			c.downstream.Push(msg)
			if fl.Payload().FlushID == id {
				return
			}
			continue
		}
		if es, ok := msg.(message.EncodedStream); ok {
			// A new stream superseded the stop request before the flush
			// arrived; handle it here by recursing into handleStream.
			c.handleStream(es)
			return
		}
		if msg.Kind() == message.KindQuit {
			c.downstream.Push(msg)
			return
		}
		msg.Release()
	}
}

// Read implements IO.Read: pulls AudioEncoded payloads, forwarding every
// other message kind downstream, and returns a sentinel error at a
// stream boundary (spec §6, §4.4).
func (c *Controller) Read(p []byte) (int, error) {
	for len(c.pendingBuf) == 0 {
		msg, err := c.rewinder.Pull()
		if err != nil {
			if c.logger != nil {
				c.logger.Warn("rewinder pull failed mid-read", "err", err)
			}
			continue
		}
		if msg == nil {
			return 0, ErrStreamEnded
		}

		switch m := msg.(type) {
		case message.AudioEncoded:
			data := m.Payload()
			buf := make([]byte, data.TotalBytes())
			data.CopyTo(buf)
			m.Release()
			if len(buf) == 0 {
				continue
			}
			c.pendingBuf = buf

		case message.EncodedStream:
			c.downstream.Push(msg)
			return 0, ErrStreamStart

		case message.Flush:
			c.mu.Lock()
			matched := c.hasPendingSeek && m.Payload().FlushID == c.pendingSeekFlush
			observer := c.seekObserver
			if matched {
				c.hasPendingSeek = false
			}
			c.mu.Unlock()
			c.downstream.Push(msg)
			if matched && observer != nil {
				observer(m.Payload().FlushID)
			}

		case message.Quit:
			c.downstream.Push(msg)
			return 0, ErrStreamStopped

		default:
			c.downstream.Push(msg)
		}
	}

	n := copy(p, c.pendingBuf)
	c.pendingBuf = c.pendingBuf[n:]
	return n, nil
}

// TrySeek implements IO.TrySeek: forwards the byte-domain seek request to
// the active stream handler and retains the flush id for the observer.
func (c *Controller) TrySeek(streamID uint64, bytePos int64) bool {
	if c.curHandler == nil || streamID != c.curStreamID {
		return false
	}
	id, ok := c.curHandler.TrySeek(bytePos)
	if !ok {
		return false
	}
	c.mu.Lock()
	c.pendingSeekFlush = id
	c.hasPendingSeek = true
	c.mu.Unlock()
	return true
}

// OutputDecodedStream implements IO.OutputDecodedStream.
func (c *Controller) OutputDecodedStream(format DecodedFormat) {
	c.curSampleRate = format.SampleRate
	c.curChannels = format.Channels
	c.curBitDepth = format.BitDepth
	ds := c.factory.CreateMsgDecodedStream(message.DecodedStreamData{
		StreamID:     c.curStreamID,
		Bitrate:      format.Bitrate,
		BitDepth:     format.BitDepth,
		SampleRate:   format.SampleRate,
		Channels:     format.Channels,
		CodecName:    format.Name,
		TotalJiffies: format.TotalJiffies,
		SampleStart:  format.SampleStart,
		Lossless:     format.Lossless,
		Seekable:     true,
		Handler:      c.curHandler,
	})
	c.downstream.Push(ds)
}

// OutputAudioPcm implements IO.OutputAudioPcm, returning the jiffies the
// emitted chunk represents.
func (c *Controller) OutputAudioPcm(data []byte, channels, sampleRate, bitDepth int, endianness message.Endianness, trackOffset int64) int64 {
	pcm := c.factory.CreateMsgAudioPcm(message.AudioPcmData{
		Data:        data,
		Channels:    channels,
		SampleRate:  sampleRate,
		BitDepth:    bitDepth,
		Endianness:  endianness,
		TrackOffset: trackOffset,
	})
	c.downstream.Push(pcm)
	j, err := jiffies.FromBytes(len(data), channels, bitDepth, sampleRate)
	if err != nil {
		if c.logger != nil {
			c.logger.Error("jiffies conversion failed for emitted AudioPcm", "err", err)
		}
		return 0
	}
	return j
}

func (c *Controller) OutputWait() {
	c.downstream.Push(c.factory.CreateMsgWait(0, false))
}

func (c *Controller) OutputHalt() {
	c.downstream.Push(c.factory.CreateMsgHalt(0, false))
}

func (c *Controller) OutputSession() {
	if c.logger != nil {
		c.logger.Debug("codec session boundary", "streamId", c.curStreamID)
	}
}

func (c *Controller) OutputDelay(jiffies int64) {
	c.downstream.Push(c.factory.CreateMsgDelay(jiffies))
}

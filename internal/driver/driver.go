package driver

import (
	"log/slog"
	"time"

	"github.com/waveforge/netrender/internal/jiffies"
	"github.com/waveforge/netrender/internal/message"
	"github.com/waveforge/netrender/internal/reservoir"
)

// Driver pulls Playable/Silence/control messages from its upstream
// reservoir at real-time rate and drives a PCMProcessor (spec §2 item 6).
// Silence is expanded into zero-filled fragments so the processor always
// sees a continuous stream even when upstream has nothing queued.
type Driver struct {
	upstream  *reservoir.Reservoir
	processor PCMProcessor
	logger    *slog.Logger

	channels   int
	bitDepth   int
	sampleRate int
}

// New creates a Driver bound to upstream and processor.
func New(upstream *reservoir.Reservoir, processor PCMProcessor, channels, bitDepth, sampleRate int, logger *slog.Logger) *Driver {
	return &Driver{
		upstream:   upstream,
		processor:  processor,
		logger:     logger,
		channels:   channels,
		bitDepth:   bitDepth,
		sampleRate: sampleRate,
	}
}

// Run pulls until a Quit message drains the pipeline.
func (d *Driver) Run() {
	for {
		msg := d.upstream.Pop()
		if msg == nil {
			return
		}
		quit := msg.Kind() == message.KindQuit
		d.handle(msg)
		msg.Release()
		if quit {
			return
		}
	}
}

func (d *Driver) handle(msg message.Message) {
	switch m := msg.(type) {
	case message.Playable:
		d.play(m.Payload())
	case message.Silence:
		d.playSilence(m.Payload().Jiffies)
	case message.Halt:
		// Nothing queued while halted; the processor naturally pads with
		// silence via its own callback until audio resumes.
	}
}

func (d *Driver) play(p *message.PlayableData) {
	d.processor.BeginBlock()
	d.dispatch(p.Data, p.Channels, p.BitDepth)
	d.processor.EndBlock()
}

func (d *Driver) playSilence(jiffiesCount int64) {
	samples, err := jiffies.ToSamples(jiffiesCount, d.sampleRate)
	if err != nil {
		if d.logger != nil {
			d.logger.Warn("silence duration not sample-aligned", "err", err)
		}
		return
	}
	frameBytes := d.channels * (d.bitDepth / 8)
	if frameBytes <= 0 {
		return
	}
	buf := make([]byte, samples*frameBytes)
	d.processor.BeginBlock()
	d.dispatch(buf, d.channels, d.bitDepth)
	d.processor.EndBlock()
}

func (d *Driver) dispatch(data []byte, channels, bitDepth int) {
	switch bitDepth {
	case 8:
		if d.processor.ProcessFragment8(data, channels) {
			return
		}
		d.perSample(data, channels, 1, d.processor.ProcessSample8)
	case 16:
		if d.processor.ProcessFragment16(data, channels) {
			return
		}
		d.perSample(data, channels, 2, d.processor.ProcessSample16)
	case 24:
		if d.processor.ProcessFragment24(data, channels) {
			return
		}
		d.perSample(data, channels, 3, d.processor.ProcessSample24)
	default:
		if d.logger != nil {
			d.logger.Warn("unsupported bit depth for playback", "bit_depth", bitDepth)
		}
	}
}

func (d *Driver) perSample(data []byte, channels, bytesPerSample int, fn func([]byte, int)) {
	frameBytes := channels * bytesPerSample
	for off := 0; off+frameBytes <= len(data); off += frameBytes {
		fn(data[off:off+frameBytes], channels)
	}
}

// RealTimePace returns the wall-clock duration jiffiesCount represents;
// it does not sleep itself.
func RealTimePace(jiffiesCount int64) time.Duration {
	return time.Duration(jiffiesCount) * time.Second / time.Duration(jiffies.PerSecond)
}

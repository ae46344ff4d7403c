package pipeline

import (
	"sync"
	"time"

	"github.com/waveforge/netrender/internal/jiffies"
	"github.com/waveforge/netrender/internal/message"
	"github.com/waveforge/netrender/internal/ramp"
)

// delayPhase tracks what a Ramper does once its ramp-down to kMin
// completes, distinct from the shared State enum's RampedDown (which
// this stage never parks in — it always moves straight on to either
// inserting Silence or discarding frames).
type delayPhase int

const (
	phaseNone delayPhase = iota
	phaseDiscarding
)

// Ramper implements VariableDelay (spec §4.5): on a Delay request it
// reconciles the stage's already-baked downstream latency against the
// requested one. A larger delay ramps down, emits one Silence covering
// the difference, then ramps up. A smaller delay ramps down, discards
// queued frames (splitting the message straddling the boundary) equal
// to the difference, then ramps up from whatever remains.
type Ramper struct {
	mu      sync.Mutex
	factory *message.Factory

	rampDuration time.Duration
	sampleRate   int

	bakedDelay   int64
	pendingDelta int64

	state             State
	phase             delayPhase
	elapsed           int
	totalFrames       int
	discardFramesLeft int
}

// NewRamper creates a Ramper ramping transitions over rampDuration.
func NewRamper(factory *message.Factory, rampDuration time.Duration) *Ramper {
	return &Ramper{factory: factory, rampDuration: rampDuration, state: StateRunning}
}

func (r *Ramper) Process(msg message.Message) []message.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch m := msg.(type) {
	case message.DecodedStream:
		r.sampleRate = m.Payload().SampleRate
		return []message.Message{m}
	case message.Delay:
		r.onDelay(m)
		return nil
	case message.AudioPcm:
		return r.onAudio(m)
	default:
		return []message.Message{msg}
	}
}

func (r *Ramper) onDelay(m message.Delay) {
	requested := m.Payload().Jiffies
	m.Release()
	delta := requested - r.bakedDelay
	if delta == 0 {
		return
	}
	r.pendingDelta = delta
}

func (r *Ramper) onAudio(m message.AudioPcm) []message.Message {
	switch r.state {
	case StateRampingDown:
		return r.continueRampDown(m)
	case StateRampingUp, StateHalted:
		return r.rampUpStep(m)
	default: // Running
		if r.pendingDelta == 0 {
			return []message.Message{m}
		}
		r.state = StateRampingDown
		r.elapsed = 0
		r.totalFrames = RampClock(r.rampDuration, r.sampleRate)
		return r.continueRampDown(m)
	}
}

func (r *Ramper) continueRampDown(m message.AudioPcm) []message.Message {
	payload := m.Payload()
	seg, elapsed, done := stepRamp(ramp.DirDown, r.elapsed, r.totalFrames, payload.Frames())
	r.elapsed = elapsed
	attachRamp(payload, seg, 1)

	out := []message.Message{m}
	if !done {
		return out
	}

	if r.pendingDelta > 0 {
		if j := r.pendingDelta; j > 0 {
			out = append(out, r.factory.CreateMsgSilence(j))
		}
		r.bakedDelay += r.pendingDelta
		r.pendingDelta = 0
		r.beginRampUp()
		return out
	}

	frames, err := jiffies.ToSamples(-r.pendingDelta, r.sampleRate)
	if err != nil || frames <= 0 {
		r.bakedDelay += r.pendingDelta
		r.pendingDelta = 0
		r.beginRampUp()
		return out
	}
	r.phase = phaseDiscarding
	r.discardFramesLeft = frames
	r.state = StateHalted // reuses Halted as "discarding queued frames"
	return out
}

func (r *Ramper) beginRampUp() {
	r.state = StateRampingUp
	r.elapsed = 0
	r.totalFrames = RampClock(r.rampDuration, r.sampleRate)
}

// discard consumes (or partially consumes, splitting at the boundary)
// an incoming AudioPcm while paying down discardFramesLeft.
func (r *Ramper) discard(m message.AudioPcm) []message.Message {
	payload := m.Payload()
	frames := payload.Frames()

	if frames <= r.discardFramesLeft {
		r.discardFramesLeft -= frames
		m.Release()
		if r.discardFramesLeft == 0 {
			r.bakedDelay += r.pendingDelta
			r.pendingDelta = 0
			r.phase = phaseNone
			r.beginRampUp()
		}
		return nil
	}

	cut := r.discardFramesLeft * payload.FrameBytes()
	payload.Data = payload.Data[cut:]
	r.bakedDelay += r.pendingDelta
	r.pendingDelta = 0
	r.discardFramesLeft = 0
	r.phase = phaseNone
	r.beginRampUp()
	return r.rampUpStep(m)
}

func (r *Ramper) rampUpStep(m message.AudioPcm) []message.Message {
	if r.state == StateHalted && r.phase == phaseDiscarding {
		return r.discard(m)
	}

	payload := m.Payload()
	seg, elapsed, done := stepRamp(ramp.DirUp, r.elapsed, r.totalFrames, payload.Frames())
	r.elapsed = elapsed
	attachRamp(payload, seg, 1)
	if done {
		r.state = StateRunning
	}
	return []message.Message{m}
}

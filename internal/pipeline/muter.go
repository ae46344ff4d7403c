package pipeline

import (
	"sync"
	"time"

	"github.com/waveforge/netrender/internal/jiffies"
	"github.com/waveforge/netrender/internal/message"
	"github.com/waveforge/netrender/internal/ramp"
)

// Muter implements mute/unmute (spec §4.5): an immediate mute while the
// stream is already halted emits a zero-length Silence; otherwise it
// ramps down and then substitutes every subsequent AudioPcm with an
// equivalent-duration Silence until Unmute. A mute requested while
// ramping up reverses the ramp in place rather than completing the
// unmute and immediately re-muting.
//
// Mute/Unmute are called from outside the pull/push loop, so unlike
// Process they return the messages to push downstream directly rather
// than relying on the next AudioPcm to carry them.
type Muter struct {
	mu      sync.Mutex
	factory *message.Factory

	rampDuration time.Duration
	sampleRate   int

	state         State
	muteRequested bool
	streamHalted  bool
	elapsed       int
	totalFrames   int
}

// NewMuter creates a Muter ramping transitions over rampDuration.
func NewMuter(factory *message.Factory, rampDuration time.Duration) *Muter {
	return &Muter{factory: factory, rampDuration: rampDuration, state: StateRunning}
}

// Mute requests the stream be muted.
func (mtr *Muter) Mute() []message.Message {
	mtr.mu.Lock()
	defer mtr.mu.Unlock()

	switch mtr.state {
	case StateRunning:
		if mtr.streamHalted {
			mtr.state = StateHalted
			return []message.Message{mtr.factory.CreateMsgSilence(0)}
		}
		mtr.muteRequested = true
		return nil
	case StateRampingUp:
		mtr.state = StateRampingDown
		mtr.elapsed = mtr.totalFrames - mtr.elapsed
		return nil
	default:
		return nil
	}
}

// Unmute requests the stream resume audible output.
func (mtr *Muter) Unmute() []message.Message {
	mtr.mu.Lock()
	defer mtr.mu.Unlock()

	switch mtr.state {
	case StateHalted:
		mtr.muteRequested = false
		if mtr.streamHalted {
			mtr.state = StateRunning
			return nil
		}
		mtr.state = StateRampingUp
		mtr.elapsed = 0
		mtr.totalFrames = RampClock(mtr.rampDuration, mtr.sampleRate)
		return nil
	case StateRampingDown:
		mtr.state = StateRampingUp
		mtr.elapsed = mtr.totalFrames - mtr.elapsed
		return nil
	default:
		mtr.muteRequested = false
		return nil
	}
}

func (mtr *Muter) Process(msg message.Message) []message.Message {
	mtr.mu.Lock()
	defer mtr.mu.Unlock()

	switch m := msg.(type) {
	case message.Halt:
		mtr.streamHalted = true
		return []message.Message{m}
	case message.DecodedStream:
		mtr.sampleRate = m.Payload().SampleRate
		mtr.streamHalted = false
		return []message.Message{m}
	case message.AudioPcm:
		mtr.streamHalted = false
		return mtr.onAudio(m)
	default:
		return []message.Message{msg}
	}
}

func (mtr *Muter) onAudio(m message.AudioPcm) []message.Message {
	switch mtr.state {
	case StateHalted:
		return mtr.silenceFor(m)

	case StateRampingDown:
		payload := m.Payload()
		seg, elapsed, done := stepRamp(ramp.DirDown, mtr.elapsed, mtr.totalFrames, payload.Frames())
		mtr.elapsed = elapsed
		attachRamp(payload, seg, 1)
		if !done {
			return []message.Message{m}
		}
		mtr.state = StateHalted
		out := []message.Message{m}
		return append(out, mtr.factory.CreateMsgSilence(0))

	case StateRampingUp:
		payload := m.Payload()
		seg, elapsed, done := stepRamp(ramp.DirUp, mtr.elapsed, mtr.totalFrames, payload.Frames())
		mtr.elapsed = elapsed
		attachRamp(payload, seg, 1)
		if done {
			mtr.state = StateRunning
		}
		return []message.Message{m}

	default: // Running
		if mtr.muteRequested {
			mtr.muteRequested = false
			mtr.state = StateRampingDown
			mtr.elapsed = 0
			mtr.totalFrames = RampClock(mtr.rampDuration, mtr.sampleRate)
			return mtr.onAudio(m)
		}
		return []message.Message{m}
	}
}

// silenceFor converts a muted AudioPcm into an equivalent-duration
// Silence, releasing the original audio.
func (mtr *Muter) silenceFor(m message.AudioPcm) []message.Message {
	payload := m.Payload()
	j, err := jiffies.FromSamples(payload.Frames(), payload.SampleRate)
	m.Release()
	if err != nil {
		return nil
	}
	return []message.Message{mtr.factory.CreateMsgSilence(j)}
}

package pipeline

import (
	"sync"
	"time"

	"github.com/waveforge/netrender/internal/message"
	"github.com/waveforge/netrender/internal/ramp"
)

// rampDurationDefault is used when no stage-specific override has been
// configured; stages that need a different span construct their own
// RampClock call instead (see Skipper/Stopper/Muter, which carry a
// rampDuration passed in by cmd/render when it builds the stages).
const rampDurationDefault = 30 * time.Millisecond

// Waiter suspends audio on a Wait(flushId, rampDown) request: it ramps
// down (or skips the ramp), emits Halt then its own Wait, and swallows
// audio until the matching Flush arrives. A subsequent DecodedStream —
// whether or not the flush has arrived yet — cancels the wait and
// resumes normal flow (spec §4.5).
type Waiter struct {
	mu      sync.Mutex
	factory *message.Factory

	sampleRate int

	state           State
	elapsed         int
	totalFrames     int
	expectedFlushID uint64
	flushArrived    bool
}

// NewWaiter creates a Waiter using rampDurationDefault for ramped Wait
// requests.
func NewWaiter(factory *message.Factory) *Waiter {
	return &Waiter{factory: factory, state: StateRunning}
}

func (w *Waiter) Process(msg message.Message) []message.Message {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch m := msg.(type) {
	case message.Wait:
		return w.onWait(m)
	case message.AudioPcm:
		return w.onAudio(m)
	case message.Flush:
		return w.onFlush(m)
	case message.DecodedStream:
		w.sampleRate = m.Payload().SampleRate
		if w.state != StateRunning {
			w.state = StateRunning
			w.flushArrived = false
		}
		return []message.Message{m}
	default:
		if w.state == StateHalted {
			msg.Release()
			return nil
		}
		return []message.Message{msg}
	}
}

func (w *Waiter) onWait(m message.Wait) []message.Message {
	req := *m.Payload()
	m.Release()

	if w.state != StateRunning {
		return nil
	}
	w.expectedFlushID = req.FlushID
	w.flushArrived = false

	if req.RampDown && w.sampleRate > 0 {
		w.state = StateRampingDown
		w.elapsed = 0
		w.totalFrames = RampClock(rampDurationDefault, w.sampleRate)
		return nil
	}

	w.state = StateHalted
	halt := w.factory.CreateMsgHalt(0, false)
	wait := w.factory.CreateMsgWait(req.FlushID, req.RampDown)
	return []message.Message{halt, wait}
}

func (w *Waiter) onAudio(m message.AudioPcm) []message.Message {
	switch w.state {
	case StateHalted:
		m.Release()
		return nil
	case StateRampingDown:
		payload := m.Payload()
		seg, elapsed, done := stepRamp(ramp.DirDown, w.elapsed, w.totalFrames, payload.Frames())
		w.elapsed = elapsed
		attachRamp(payload, seg, 1)
		out := []message.Message{m}
		if done {
			w.state = StateHalted
			halt := w.factory.CreateMsgHalt(0, false)
			wait := w.factory.CreateMsgWait(w.expectedFlushID, true)
			out = append(out, halt, wait)
		}
		return out
	default:
		return []message.Message{m}
	}
}

func (w *Waiter) onFlush(m message.Flush) []message.Message {
	if w.state == StateHalted && m.Payload().FlushID == w.expectedFlushID {
		w.flushArrived = true
	}
	return []message.Message{m}
}

// NotifyStarvation re-enters ramp-down directly on a starvation signal
// from the StarvationMonitor (SPEC_FULL's expansion of spec §4.5:
// "starvation notification re-enters ramp-down"), independent of any
// Wait message from upstream. A no-op once already ramping/halted.
func (w *Waiter) NotifyStarvation() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StateRunning || w.sampleRate == 0 {
		return
	}
	w.state = StateRampingDown
	w.elapsed = 0
	w.totalFrames = RampClock(rampDurationDefault, w.sampleRate)
}

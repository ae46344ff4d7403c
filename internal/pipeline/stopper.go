package pipeline

import (
	"sync"
	"time"

	"github.com/waveforge/netrender/internal/message"
	"github.com/waveforge/netrender/internal/ramp"
)

// Stopper implements full transport-level stop/start: it ramps down to
// a Halt on Stop, swallows audio while halted, and ramps back up from
// kMin on Start (spec §4.5).
type Stopper struct {
	mu      sync.Mutex
	factory *message.Factory

	rampDuration time.Duration
	sampleRate   int

	state       State
	pendingStop bool
	pendingGo   bool
	elapsed     int
	totalFrames int
}

// NewStopper creates a Stopper ramping transitions over rampDuration.
func NewStopper(factory *message.Factory, rampDuration time.Duration) *Stopper {
	return &Stopper{factory: factory, rampDuration: rampDuration, state: StateRunning}
}

// Stop requests a ramp-down-then-halt at the next audio boundary.
func (s *Stopper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateRunning || s.state == StateRampingUp {
		s.pendingStop = true
	}
}

// Start requests a ramp-up resume at the next audio boundary.
func (s *Stopper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateHalted {
		s.pendingGo = true
	}
	s.pendingStop = false
}

func (s *Stopper) Process(msg message.Message) []message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch m := msg.(type) {
	case message.DecodedStream:
		s.sampleRate = m.Payload().SampleRate
		return []message.Message{m}
	case message.AudioPcm:
		return s.onAudio(m)
	default:
		return []message.Message{msg}
	}
}

func (s *Stopper) onAudio(m message.AudioPcm) []message.Message {
	switch s.state {
	case StateHalted:
		if !s.pendingGo {
			m.Release()
			return nil
		}
		s.pendingGo = false
		s.state = StateRampingUp
		s.elapsed = 0
		s.totalFrames = RampClock(s.rampDuration, s.sampleRate)
		return s.rampStep(m, ramp.DirUp)

	case StateRampingDown:
		return s.rampStep(m, ramp.DirDown)

	case StateRampingUp:
		return s.rampStep(m, ramp.DirUp)

	default: // Running
		if s.pendingStop {
			s.pendingStop = false
			s.state = StateRampingDown
			s.elapsed = 0
			s.totalFrames = RampClock(s.rampDuration, s.sampleRate)
			return s.rampStep(m, ramp.DirDown)
		}
		return []message.Message{m}
	}
}

func (s *Stopper) rampStep(m message.AudioPcm, dir ramp.Direction) []message.Message {
	payload := m.Payload()
	seg, elapsed, done := stepRamp(dir, s.elapsed, s.totalFrames, payload.Frames())
	s.elapsed = elapsed
	attachRamp(payload, seg, 1)

	out := []message.Message{m}
	if !done {
		return out
	}

	switch dir {
	case ramp.DirDown:
		s.state = StateHalted
		out = append(out, s.factory.CreateMsgHalt(0, false))
	case ramp.DirUp:
		s.state = StateRunning
	}
	return out
}

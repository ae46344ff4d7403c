package pipeline

import (
	"sync"
	"time"

	"github.com/waveforge/netrender/internal/message"
	"github.com/waveforge/netrender/internal/ramp"
)

// Skipper removes the remainder of the current stream on request: it
// ramps down, emits Halt, asks the upstream stream handler to TryStop,
// then discards everything until the resulting Flush arrives (spec §4.5).
type Skipper struct {
	mu      sync.Mutex
	factory *message.Factory

	rampDuration time.Duration
	sampleRate   int

	state           State
	pendingSkip     bool
	elapsed         int
	totalFrames     int
	handler         message.StreamHandler
	expectedFlushID uint64
}

// NewSkipper creates a Skipper that ramps audible transitions over
// rampDuration (spec §4.5: "20-50ms").
func NewSkipper(factory *message.Factory, rampDuration time.Duration) *Skipper {
	return &Skipper{factory: factory, rampDuration: rampDuration, state: StateRunning}
}

// TriggerSkip requests the current stream be abandoned at the next
// opportunity. A no-op if a skip is already in progress.
func (s *Skipper) TriggerSkip() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateRunning {
		s.pendingSkip = true
	}
}

func (s *Skipper) Process(msg message.Message) []message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch m := msg.(type) {
	case message.DecodedStream:
		s.handler = m.Payload().Handler
		s.sampleRate = m.Payload().SampleRate
		if s.state == StateHalted {
			// A new stream arriving while discarding cancels the skip;
			// resume normal flow without waiting for the old flush.
			s.state = StateRunning
		}
		return []message.Message{msg}

	case message.Flush:
		if s.state == StateHalted && m.Payload().FlushID == s.expectedFlushID {
			s.state = StateRunning
			return []message.Message{msg}
		}
		if s.state == StateHalted {
			msg.Release()
			return nil
		}
		return []message.Message{msg}

	case message.AudioPcm:
		return s.processAudio(m)

	default:
		if s.state == StateHalted {
			msg.Release()
			return nil
		}
		return []message.Message{msg}
	}
}

func (s *Skipper) processAudio(m message.AudioPcm) []message.Message {
	switch s.state {
	case StateHalted:
		m.Release()
		return nil

	case StateRampingDown:
		return s.continueRampDown(m)

	default: // Running
		if !s.pendingSkip {
			return []message.Message{m}
		}
		s.pendingSkip = false
		s.state = StateRampingDown
		s.elapsed = 0
		s.totalFrames = RampClock(s.rampDuration, s.sampleRate)
		return s.continueRampDown(m)
	}
}

func (s *Skipper) continueRampDown(m message.AudioPcm) []message.Message {
	payload := m.Payload()
	seg, elapsed, done := stepRamp(ramp.DirDown, s.elapsed, s.totalFrames, payload.Frames())
	s.elapsed = elapsed
	attachRamp(payload, seg, 1)

	out := []message.Message{m}
	if !done {
		return out
	}

	halt := s.factory.CreateMsgHalt(0, false)
	out = append(out, halt)

	s.state = StateHalted
	if s.handler != nil {
		if id, ok := s.handler.TryStop(); ok {
			s.expectedFlushID = id
			return out
		}
	}
	// No handler available to stop against: resume immediately rather
	// than wait forever for a flush id that will never arrive.
	s.state = StateRunning
	return out
}

// Package pipeline implements the shared-discipline stages that sit
// between the codec controller and the driver (spec §4.5): Skipper,
// Waiter, Stopper, Muter, Ramper/VariableDelay, plus the Gorger
// reservoir (the StarvationMonitor lives in internal/health). Every stage forwards most messages
// untouched and intercepts a small set to drive a tiny state machine,
// attaching a ramp to passing AudioPcm for every audible transition
// instead of cutting audio abruptly.
package pipeline

import (
	"time"

	"github.com/waveforge/netrender/internal/message"
	"github.com/waveforge/netrender/internal/ramp"
	"github.com/waveforge/netrender/internal/reservoir"
)

// State is the small per-stage state machine shared by every stage in
// this package (spec §4.5: "Running / RampingDown / RampedDown /
// RampingUp / Halted").
type State int

const (
	StateRunning State = iota
	StateRampingDown
	StateRampedDown
	StateRampingUp
	StateHalted
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateRampingDown:
		return "ramping-down"
	case StateRampedDown:
		return "ramped-down"
	case StateRampingUp:
		return "ramping-up"
	case StateHalted:
		return "halted"
	default:
		return "unknown"
	}
}

// Processor is implemented by a single pipeline stage: given a pulled
// message, it returns the message(s) to push downstream (nil to swallow
// it entirely).
type Processor interface {
	Process(msg message.Message) []message.Message
}

// Run pulls from upstream and pushes whatever p.Process returns to
// downstream until a Quit message is observed, at which point it is
// forwarded and the loop exits (spec §3 Quit: "unwinds every stage").
func Run(upstream, downstream *reservoir.Reservoir, p Processor) {
	for {
		msg := upstream.Pop()
		if msg == nil {
			return
		}
		quit := msg.Kind() == message.KindQuit
		for _, out := range p.Process(msg) {
			downstream.Push(out)
		}
		if quit {
			return
		}
	}
}

// RampClock converts a ramp duration and sample format into the number
// of frames the ramp should span, used by each stage to decide how many
// AudioPcm messages (or how much of one) a transition's ramp covers.
func RampClock(duration time.Duration, sampleRate int) int {
	frames := int(duration.Seconds() * float64(sampleRate))
	if frames < 1 {
		frames = 1
	}
	return frames
}

// attachRamp applies r to pcm's existing ramp using the envelope-min
// composition rule (spec §3), replacing it if pcm carries none yet.
func attachRamp(pcm *message.AudioPcmData, r ramp.Ramp, fraction float64) {
	if pcm.Ramp == nil {
		applied := r
		pcm.Ramp = &applied
		return
	}
	composed := ramp.Compose(*pcm.Ramp, r, fraction)
	merged := r
	merged.Start = composed
	pcm.Ramp = &merged
}

func rampBoundsStart(dir ramp.Direction) int32 {
	if dir == ramp.DirDown {
		return ramp.KMax
	}
	return ramp.KMin
}

func rampBoundsEnd(dir ramp.Direction) int32 {
	if dir == ramp.DirDown {
		return ramp.KMin
	}
	return ramp.KMax
}

// stepRamp computes the Ramp segment covering the portion of an overall
// transition (totalFrames long, elapsed frames already consumed) that
// one message of frames frames contributes, and reports whether this
// step completes the transition.
func stepRamp(dir ramp.Direction, elapsed, totalFrames, frames int) (seg ramp.Ramp, newElapsed int, done bool) {
	if totalFrames <= 0 {
		totalFrames = 1
	}
	startFrac := float64(elapsed) / float64(totalFrames)
	newElapsed = elapsed + frames
	done = newElapsed >= totalFrames
	endFrac := float64(newElapsed) / float64(totalFrames)
	if endFrac > 1 {
		endFrac = 1
	}
	full := ramp.New(rampBoundsStart(dir), rampBoundsEnd(dir), dir)
	seg = ramp.Ramp{
		Start:     full.AtFraction(startFrac),
		End:       full.AtFraction(endFrac),
		Direction: dir,
		Enabled:   true,
	}
	return seg, newElapsed, done
}

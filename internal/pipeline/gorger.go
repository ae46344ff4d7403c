package pipeline

import (
	"sync"

	"github.com/waveforge/netrender/internal/jiffies"
	"github.com/waveforge/netrender/internal/message"
	"github.com/waveforge/netrender/internal/reservoir"
)

// Gorger is the decoded-PCM reservoir that buffers up to a gorge
// threshold before releasing audio in non-real-time modes (spec §4.2).
// It wraps a plain Reservoir, gating Pop on accumulated buffered jiffies
// via push hooks that track AudioPcm as it arrives. Real-time modes
// (announced via Mode) disable gorging entirely; a Halt or an explicit
// starvation notification re-enters it.
//
// Gorger shadows Pop with gorge-aware blocking, so the producer side
// feeding it pushes through the embedded Reservoir as usual while the
// consuming stage calls Gorger.Pop directly rather than going through
// the generic Run loop (which pulls from a plain *reservoir.Reservoir).
type Gorger struct {
	*reservoir.Reservoir

	mu   sync.Mutex
	cond *sync.Cond

	thresholdJiffies int64
	accumulated      int64
	gorging          bool
	realTime         bool
}

// NewGorger creates a Gorger that releases audio once thresholdJiffies
// worth has accumulated.
func NewGorger(thresholdJiffies int64) *Gorger {
	g := &Gorger{
		Reservoir:        reservoir.New(0),
		thresholdJiffies: thresholdJiffies,
		gorging:          true,
	}
	g.cond = sync.NewCond(&g.mu)

	g.Reservoir.OnPush(message.KindAudioPcm, func(_ *reservoir.Reservoir, msg message.Message) bool {
		g.onAudio(msg.(message.AudioPcm))
		return true
	})
	g.Reservoir.OnPush(message.KindMode, func(_ *reservoir.Reservoir, msg message.Message) bool {
		g.onMode(msg.(message.Mode))
		return true
	})
	g.Reservoir.OnPush(message.KindHalt, func(_ *reservoir.Reservoir, msg message.Message) bool {
		g.reenter()
		return true
	})
	return g
}

func (g *Gorger) onAudio(m message.AudioPcm) {
	payload := m.Payload()
	added, err := jiffies.FromSamples(payload.Frames(), payload.SampleRate)
	if err != nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.accumulated += added
	if g.accumulated >= g.thresholdJiffies {
		g.gorging = false
		g.cond.Broadcast()
	}
}

func (g *Gorger) onMode(m message.Mode) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.realTime = m.Payload().RealTime
	if g.realTime {
		g.gorging = false
	} else {
		g.gorging = true
		g.accumulated = 0
	}
	g.cond.Broadcast()
}

// reenter re-gorges unless real-time mode has disabled gorging.
func (g *Gorger) reenter() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.realTime {
		return
	}
	g.gorging = true
	g.accumulated = 0
}

// NotifyStarvation re-enters gorge state on a starvation signal from the
// StarvationMonitor, unless real-time mode has disabled gorging.
func (g *Gorger) NotifyStarvation() {
	g.reenter()
}

// Pop blocks until the gorge threshold has been reached (or gorging has
// been disabled/cleared) before deferring to the underlying Reservoir.
func (g *Gorger) Pop() message.Message {
	g.mu.Lock()
	for g.gorging && g.accumulated < g.thresholdJiffies {
		g.cond.Wait()
	}
	g.mu.Unlock()
	return g.Reservoir.Pop()
}

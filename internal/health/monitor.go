// Package health implements the StarvationMonitor named in spec §2 item
// 5: per-stream inter-AudioPcm gap tracking that re-enters the Gorger's
// gorge state and the Waiter's ramp-down on starvation, plus a
// standalone host CPU/mem pressure sample (SamplePressure) that the
// Monitor itself does not consult. Generalized from a silence-dB
// threshold to an inter-message gap threshold.
package health

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/waveforge/netrender/internal/logging"
	"github.com/waveforge/netrender/internal/metrics"
)

// Notifiee is any pipeline stage that re-enters a defensive state on
// starvation — internal/pipeline.Gorger and internal/pipeline.Waiter
// both implement this via their own NotifyStarvation methods.
type Notifiee interface {
	NotifyStarvation()
}

// StreamNotifyer is the NotifyStarving(mode, streamId) callback (spec
// §6) on the active stream handler, exposed as a narrow optional interface
// since internal/message.StreamHandler itself only carries
// TryStop/TrySeek (the control-plane subset every protocol shares).
type StreamNotifyer interface {
	NotifyStarving(mode string, streamID uint64)
}

type streamHealth struct {
	mode      string
	lastAudio time.Time
	handler   StreamNotifyer
}

// Monitor tracks the arrival gap of AudioPcm per stream and, once a gap
// exceeds threshold, notifies every registered Notifiee and the active
// stream's handler (spec §4.2 "re-enters on Halt or starvation", §4.5
// "starvation notification re-enters ramp-down").
type Monitor struct {
	threshold     time.Duration
	checkInterval time.Duration

	mu      sync.Mutex
	streams map[uint64]*streamHealth
	targets []Notifiee

	logger  *slog.Logger
	metrics *metrics.Collector
}

// New creates a Monitor. threshold is the maximum tolerated gap between
// AudioPcm arrivals for a stream before it is considered starving;
// checkInterval is how often the monitor scans tracked streams.
func New(threshold, checkInterval time.Duration) *Monitor {
	logger := logging.ForService("health")
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		threshold:     threshold,
		checkInterval: checkInterval,
		streams:       make(map[uint64]*streamHealth),
		logger:        logger.With("component", "starvation-monitor"),
		metrics:       metrics.GetMetrics(),
	}
}

// RegisterTarget adds a stage that should re-enter its defensive state
// whenever any tracked stream starves.
func (m *Monitor) RegisterTarget(t Notifiee) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.targets = append(m.targets, t)
}

// Track begins watching streamID, optionally with a handler to receive
// the NotifyStarving callback (spec §6).
func (m *Monitor) Track(streamID uint64, mode string, handler StreamNotifyer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams[streamID] = &streamHealth{mode: mode, lastAudio: time.Now(), handler: handler}
}

// Untrack stops watching streamID (stream ended or was stopped).
func (m *Monitor) Untrack(streamID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.streams, streamID)
}

// Heartbeat records that streamID just produced an AudioPcm message,
// resetting its starvation clock. Call this from whichever stage is
// nearest the codec controller's output.
func (m *Monitor) Heartbeat(streamID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.streams[streamID]; ok {
		s.lastAudio = time.Now()
	}
}

// Run scans tracked streams every checkInterval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkAll()
		}
	}
}

type starvedStream struct {
	id uint64
	s  *streamHealth
}

func (m *Monitor) checkAll() {
	m.mu.Lock()
	now := time.Now()
	var starved []starvedStream
	for id, s := range m.streams {
		if now.Sub(s.lastAudio) > m.threshold {
			starved = append(starved, starvedStream{id, s})
		}
	}
	targets := append([]Notifiee(nil), m.targets...)
	m.mu.Unlock()

	for _, entry := range starved {
		m.logger.Warn("stream starving", "stream_id", entry.id, "mode", entry.s.mode)
		if m.metrics != nil {
			m.metrics.IncStarvation(strconv.FormatUint(entry.id, 10))
		}
		for _, t := range targets {
			t.NotifyStarvation()
		}
		if entry.s.handler != nil {
			entry.s.handler.NotifyStarving(entry.s.mode, entry.id)
		}
	}
}

// Pressure is a host resource-pressure snapshot (SPEC_FULL domain-stack
// wiring for shirou/gopsutil/v3).
type Pressure struct {
	CPUPercent float64
	MemPercent float64
}

// SamplePressure reads instantaneous host CPU and memory utilisation.
func SamplePressure() (Pressure, error) {
	cpuPercents, err := cpu.Percent(0, false)
	if err != nil {
		return Pressure{}, err
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return Pressure{}, err
	}
	var cpuPct float64
	if len(cpuPercents) > 0 {
		cpuPct = cpuPercents[0]
	}
	return Pressure{CPUPercent: cpuPct, MemPercent: vm.UsedPercent}, nil
}

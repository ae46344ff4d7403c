package repair

import (
	"math/rand"
	"sync"
	"time"

	apperrors "github.com/waveforge/netrender/internal/errors"
	"github.com/waveforge/netrender/internal/pool"
)

var (
	// ErrRepairerBufferFull is returned when repairList is already at
	// capacity and another out-of-order frame needs buffering.
	ErrRepairerBufferFull = apperrors.New(nil).
		Component("repair").
		Category(apperrors.CategoryRepair).
		Context("resource", "repair_list").
		Build()

	// ErrRepairerStreamRestarted is returned when the incoming frame
	// fell so far behind lastEmittedFrame that this is a fresh stream
	// rather than reordering.
	ErrRepairerStreamRestarted = apperrors.New(nil).
		Component("repair").
		Category(apperrors.CategoryRepair).
		Context("resource", "stream").
		Build()
)

// restartThreshold is how far behind lastEmittedFrame an incoming frame
// must fall before it is treated as a new stream rather than a stale
// duplicate. Chosen well above any plausible network reorder depth.
// Sequence/frame wraparound is out of scope (spec §9 Open Question), so
// this comparison is plain numeric subtraction, not modular.
const restartThreshold = 1 << 16

// Range is a collapsed (start, count) span of missing frames for the
// wire-level resend request (spec §4.9: "collapses contiguous missing
// ranges into (start, count) pairs").
type Range struct {
	Start uint32
	Count uint32
}

// Emitter is the protocol-supplied sink the Repairer drives: Emit
// delivers one in-order frame downstream, RequestResend asks the peer
// to resend the listed ranges.
type Emitter interface {
	Emit(frame uint32, payload []byte)
	RequestResend(ranges []Range)
}

type buffered struct {
	frame   uint32
	payload []byte
	entry   *pool.Entry[Repairable]
}

func (b *buffered) release() {
	if b != nil && b.entry != nil {
		b.entry.Release()
	}
}

// Repairer is the shared out-of-order recovery state machine used by
// both RAOP and Songcast (spec §4.9).
type Repairer struct {
	mu sync.Mutex

	emitter Emitter

	running          bool
	lastEmittedFrame uint32

	repairFirst *buffered   // earliest buffered out-of-order frame, nil when not repairing
	repairList  []buffered // later buffered frames, strictly ascending, after repairFirst

	capacity          int
	maxPerRequest     int
	initialTimeoutMax time.Duration
	subsequentTimeout time.Duration

	timer *time.Timer
}

// New creates a Repairer with the given list capacity, max frames per
// resend request, and initial/subsequent timer durations.
func New(emitter Emitter, capacity, maxPerRequest int, initialTimeoutMax, subsequentTimeout time.Duration) *Repairer {
	return &Repairer{
		emitter:           emitter,
		capacity:          capacity,
		maxPerRequest:     maxPerRequest,
		initialTimeoutMax: initialTimeoutMax,
		subsequentTimeout: subsequentTimeout,
	}
}

// Arrive processes one incoming frame (spec §4.9 "Per-packet arrival
// logic"). entry is released by the Repairer once emitted or dropped;
// callers must not release it themselves after calling Arrive.
func (r *Repairer) Arrive(frame uint32, payload []byte, entry *pool.Entry[Repairable]) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		r.running = true
		r.lastEmittedFrame = frame
		r.emitter.Emit(frame, payload)
		if entry != nil {
			entry.Release()
		}
		return nil
	}

	if frame < r.lastEmittedFrame && r.lastEmittedFrame-frame >= restartThreshold {
		r.resetLocked()
		r.running = true
		r.lastEmittedFrame = frame
		r.emitter.Emit(frame, payload)
		if entry != nil {
			entry.Release()
		}
		return ErrRepairerStreamRestarted
	}

	switch {
	case frame == r.lastEmittedFrame+1:
		r.lastEmittedFrame = frame
		r.emitter.Emit(frame, payload)
		if entry != nil {
			entry.Release()
		}
		r.drainHeadLocked()
		return nil

	case frame == r.lastEmittedFrame || r.isDuplicateLocked(frame):
		if entry != nil {
			entry.Release()
		}
		return nil

	case r.repairFirst == nil:
		r.repairFirst = &buffered{frame: frame, payload: payload, entry: entry}
		r.armTimerLocked(true)
		return nil

	case frame < r.repairFirst.frame:
		if len(r.repairList) >= r.capacity {
			if entry != nil {
				entry.Release()
			}
			return ErrRepairerBufferFull
		}
		r.repairList = append([]buffered{*r.repairFirst}, r.repairList...)
		r.repairFirst = &buffered{frame: frame, payload: payload, entry: entry}
		return nil

	default:
		if err := r.insertOrderedLocked(frame, payload, entry); err != nil {
			return err
		}
		return nil
	}
}

func (r *Repairer) isDuplicateLocked(frame uint32) bool {
	if r.repairFirst != nil && r.repairFirst.frame == frame {
		return true
	}
	for _, b := range r.repairList {
		if b.frame == frame {
			return true
		}
	}
	return false
}

// drainHeadLocked emits repairFirst (and subsequent list entries) while
// each is exactly the next expected frame, leaving repair state once
// both repairFirst and the list empty (spec §4.9: "drain head-of-queue
// while its frame is next; on empty, leave repair state").
func (r *Repairer) drainHeadLocked() {
	for r.repairFirst != nil && r.repairFirst.frame == r.lastEmittedFrame+1 {
		r.lastEmittedFrame = r.repairFirst.frame
		r.emitter.Emit(r.repairFirst.frame, r.repairFirst.payload)
		if r.repairFirst.entry != nil {
			r.repairFirst.entry.Release()
		}
		if len(r.repairList) > 0 {
			next := r.repairList[0]
			r.repairList = r.repairList[1:]
			r.repairFirst = &next
		} else {
			r.repairFirst = nil
		}
	}
	if r.repairFirst == nil {
		r.cancelTimerLocked()
	}
}

func (r *Repairer) insertOrderedLocked(frame uint32, payload []byte, entry *pool.Entry[Repairable]) error {
	if len(r.repairList) >= r.capacity {
		if entry != nil {
			entry.Release()
		}
		return ErrRepairerBufferFull
	}
	b := buffered{frame: frame, payload: payload, entry: entry}
	i := 0
	for i < len(r.repairList) && r.repairList[i].frame < frame {
		i++
	}
	r.repairList = append(r.repairList, buffered{})
	copy(r.repairList[i+1:], r.repairList[i:])
	r.repairList[i] = b
	return nil
}

// armTimerLocked starts the repair timer if not already running.
// initial selects the randomised-versus-fixed-short timeout per spec
// §4.9 ("randomised initial timeout (avoids resend storms)").
func (r *Repairer) armTimerLocked(initial bool) {
	if r.timer != nil {
		return
	}
	var d time.Duration
	if initial && r.initialTimeoutMax > 0 {
		d = time.Duration(rand.Int63n(int64(r.initialTimeoutMax)))
	} else {
		d = r.subsequentTimeout
	}
	r.timer = time.AfterFunc(d, r.onTimerFire)
}

func (r *Repairer) cancelTimerLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

// onTimerFire composes and sends a resend request, then re-arms with
// the fixed subsequent timeout (spec §4.9 "Timer fire").
func (r *Repairer) onTimerFire() {
	r.mu.Lock()
	if r.repairFirst == nil {
		r.timer = nil
		r.mu.Unlock()
		return
	}

	missing := r.missingFramesLocked()
	ranges := collapseRanges(missing)
	emitter := r.emitter
	r.timer = nil
	r.armTimerLocked(false)
	r.mu.Unlock()

	emitter.RequestResend(ranges)
}

// missingFramesLocked lists every frame number between lastEmittedFrame+1
// and each buffered frame, inclusive of repairFirst, capped at
// maxPerRequest entries (spec §4.9: "capped at a max per request").
func (r *Repairer) missingFramesLocked() []uint32 {
	var missing []uint32
	add := func(from, upto uint32) bool {
		for f := from; f != upto; f++ {
			missing = append(missing, f)
			if len(missing) >= r.maxPerRequest {
				return true
			}
		}
		return false
	}

	if add(r.lastEmittedFrame+1, r.repairFirst.frame) {
		return missing
	}
	cursor := r.repairFirst.frame + 1
	for _, b := range r.repairList {
		if add(cursor, b.frame) {
			return missing
		}
		cursor = b.frame + 1
	}
	return missing
}

// collapseRanges turns a sorted slice of frame numbers into (start,
// count) spans for the wire (spec §4.9 "Range-requester collapses
// contiguous missing ranges").
func collapseRanges(frames []uint32) []Range {
	if len(frames) == 0 {
		return nil
	}
	var ranges []Range
	start := frames[0]
	count := uint32(1)
	for i := 1; i < len(frames); i++ {
		if frames[i] == frames[i-1]+1 {
			count++
			continue
		}
		ranges = append(ranges, Range{Start: start, Count: count})
		start = frames[i]
		count = 1
	}
	ranges = append(ranges, Range{Start: start, Count: count})
	return ranges
}

// DropAudio cancels the timer, releases every buffered frame, and
// leaves repair state (spec §4.9 Cancellation).
func (r *Repairer) DropAudio() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetLocked()
}

// Reset is an alias for DropAudio; both names appear in spec §4.9's
// cancellation list for the same behaviour.
func (r *Repairer) Reset() { r.DropAudio() }

func (r *Repairer) resetLocked() {
	r.cancelTimerLocked()
	r.repairFirst.release()
	for i := range r.repairList {
		r.repairList[i].release()
	}
	r.repairFirst = nil
	r.repairList = nil
	r.running = false
}

// LastEmittedFrame reports the last frame handed downstream, for tests
// and metrics.
func (r *Repairer) LastEmittedFrame() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastEmittedFrame
}

// BufferedCount reports the number of frames currently held in repair
// state (repairFirst plus repairList), for metrics export.
func (r *Repairer) BufferedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.repairList)
	if r.repairFirst != nil {
		n++
	}
	return n
}

package message

import (
	"sync/atomic"

	"github.com/waveforge/netrender/internal/conf"
	"github.com/waveforge/netrender/internal/pool"
)

// DefaultFactoryConfig derives pool cell counts from settings.Pool,
// scaled by the host's core count (internal/conf.SuggestedPoolScale) so
// a busier machine running more concurrent protocol sessions gets pools
// sized for its own worst case rather than a single fixed constant.
func DefaultFactoryConfig(s *conf.Settings) FactoryConfig {
	scale := conf.SuggestedPoolScale()
	return FactoryConfig{
		ControlCells:      s.Pool.ControlCells * scale,
		StreamCells:       max(8, s.Pool.ControlCells/4) * scale,
		AudioEncodedCells: s.Pool.AudioEncodedCells * scale,
		AudioPcmCells:     s.Pool.AudioPcmCells * scale,
		SilenceCells:      max(8, s.Pool.ControlCells/4) * scale,
		PlayableCells:     s.Pool.AudioPcmCells * scale,
	}
}

// FactoryConfig sizes each kind's pool (spec §4.1: "A pool per concrete
// message kind, preallocated with a configured cell count").
type FactoryConfig struct {
	ControlCells    int // Mode, Track, Delay, MetaText, Halt, Flush, Wait, Drain, Quit
	StreamCells     int // EncodedStream, DecodedStream
	AudioEncodedCells int
	AudioPcmCells     int
	SilenceCells      int
	PlayableCells     int
}

// Factory allocates every message kind from its own fixed pool and mints
// monotonic flush ids.
type Factory struct {
	registry *pool.Registry

	mode          *pool.Pool[ModeData]
	track         *pool.Pool[TrackData]
	delay         *pool.Pool[DelayData]
	encodedStream *pool.Pool[EncodedStreamData]
	audioEncoded  *pool.Pool[AudioEncodedData]
	metaText      *pool.Pool[MetaTextData]
	decodedStream *pool.Pool[DecodedStreamData]
	audioPcm      *pool.Pool[AudioPcmData]
	silence       *pool.Pool[SilenceData]
	playable      *pool.Pool[PlayableData]
	halt          *pool.Pool[HaltData]
	flush         *pool.Pool[FlushData]
	wait          *pool.Pool[WaitData]
	drain         *pool.Pool[DrainData]
	quit          *pool.Pool[QuitData]

	nextFlushID atomic.Uint64
}

// NewFactory preallocates every kind's pool per cfg.
func NewFactory(cfg FactoryConfig) *Factory {
	r := pool.NewRegistry()

	f := &Factory{registry: r}
	f.mode = pool.Register(r, pool.New("msg.mode", cfg.ControlCells, func() ModeData { return ModeData{} }, func(v *ModeData) { *v = ModeData{} }))
	f.track = pool.Register(r, pool.New("msg.track", cfg.ControlCells, func() TrackData { return TrackData{} }, func(v *TrackData) { *v = TrackData{} }))
	f.delay = pool.Register(r, pool.New("msg.delay", cfg.ControlCells, func() DelayData { return DelayData{} }, func(v *DelayData) { *v = DelayData{} }))
	f.encodedStream = pool.Register(r, pool.New("msg.encodedstream", cfg.StreamCells, func() EncodedStreamData { return EncodedStreamData{} }, func(v *EncodedStreamData) { *v = EncodedStreamData{} }))
	f.audioEncoded = pool.Register(r, pool.New("msg.audioencoded", cfg.AudioEncodedCells, func() AudioEncodedData { return AudioEncodedData{} }, func(v *AudioEncodedData) { v.Bytes = nil; v.Next = nil }))
	f.metaText = pool.Register(r, pool.New("msg.metatext", cfg.ControlCells, func() MetaTextData { return MetaTextData{} }, func(v *MetaTextData) { *v = MetaTextData{} }))
	f.decodedStream = pool.Register(r, pool.New("msg.decodedstream", cfg.StreamCells, func() DecodedStreamData { return DecodedStreamData{} }, func(v *DecodedStreamData) { *v = DecodedStreamData{} }))
	f.audioPcm = pool.Register(r, pool.New("msg.audiopcm", cfg.AudioPcmCells, func() AudioPcmData { return AudioPcmData{} }, func(v *AudioPcmData) { v.Data = nil; v.Ramp = nil }))
	f.silence = pool.Register(r, pool.New("msg.silence", cfg.SilenceCells, func() SilenceData { return SilenceData{} }, func(v *SilenceData) { *v = SilenceData{} }))
	f.playable = pool.Register(r, pool.New("msg.playable", cfg.PlayableCells, func() PlayableData { return PlayableData{} }, func(v *PlayableData) { v.Data = nil }))
	f.halt = pool.Register(r, pool.New("msg.halt", cfg.ControlCells, func() HaltData { return HaltData{} }, func(v *HaltData) { *v = HaltData{} }))
	f.flush = pool.Register(r, pool.New("msg.flush", cfg.ControlCells, func() FlushData { return FlushData{} }, func(v *FlushData) { *v = FlushData{} }))
	f.wait = pool.Register(r, pool.New("msg.wait", cfg.ControlCells, func() WaitData { return WaitData{} }, func(v *WaitData) { *v = WaitData{} }))
	f.drain = pool.Register(r, pool.New("msg.drain", cfg.ControlCells, func() DrainData { return DrainData{} }, func(v *DrainData) { v.Done = nil }))
	f.quit = pool.Register(r, pool.New("msg.quit", cfg.ControlCells, func() QuitData { return QuitData{} }, nil))
	return f
}

// Stats returns per-kind pool accounting for metrics export.
func (f *Factory) Stats() map[string]pool.Stats { return f.registry.All() }

func (f *Factory) CreateMsgMode(name string, supportsLatency, realTime bool) Mode {
	e := f.mode.Allocate()
	e.Value = ModeData{Name: name, SupportsLatency: supportsLatency, RealTime: realTime}
	return Mode{Entry: e}
}

func (f *Factory) CreateMsgTrack(t TrackMetadata) Track {
	e := f.track.Allocate()
	e.Value = TrackData{Track: t}
	return Track{Entry: e}
}

func (f *Factory) CreateMsgDelay(jiffies int64) Delay {
	e := f.delay.Allocate()
	e.Value = DelayData{Jiffies: jiffies}
	return Delay{Entry: e}
}

func (f *Factory) CreateMsgEncodedStream(data EncodedStreamData) EncodedStream {
	e := f.encodedStream.Allocate()
	e.Value = data
	return EncodedStream{Entry: e}
}

func (f *Factory) CreateMsgAudioEncoded(bytes []byte) AudioEncoded {
	e := f.audioEncoded.Allocate()
	e.Value = AudioEncodedData{Bytes: bytes}
	return AudioEncoded{Entry: e}
}

func (f *Factory) CreateMsgMetaText(text string) MetaText {
	e := f.metaText.Allocate()
	e.Value = MetaTextData{Text: text}
	return MetaText{Entry: e}
}

func (f *Factory) CreateMsgDecodedStream(data DecodedStreamData) DecodedStream {
	e := f.decodedStream.Allocate()
	e.Value = data
	return DecodedStream{Entry: e}
}

func (f *Factory) CreateMsgAudioPcm(data AudioPcmData) AudioPcm {
	e := f.audioPcm.Allocate()
	e.Value = data
	return AudioPcm{Entry: e}
}

func (f *Factory) CreateMsgSilence(jiffies int64) Silence {
	e := f.silence.Allocate()
	e.Value = SilenceData{Jiffies: jiffies}
	return Silence{Entry: e}
}

func (f *Factory) CreateMsgPlayable(data PlayableData) Playable {
	e := f.playable.Allocate()
	e.Value = data
	return Playable{Entry: e}
}

func (f *Factory) CreateMsgHalt(haltID uint64, hasID bool) Halt {
	e := f.halt.Allocate()
	e.Value = HaltData{HaltID: haltID, HasID: hasID}
	return Halt{Entry: e}
}

// CreateMsgFlush allocates a Flush carrying a monotonically assigned id
// (spec §4.1: "CreateMsgFlush(id) allocates a monotonically-assigned
// flush id via a separate provider").
func (f *Factory) CreateMsgFlush() Flush {
	id := f.nextFlushID.Add(1)
	e := f.flush.Allocate()
	e.Value = FlushData{FlushID: id}
	return Flush{Entry: e}
}

func (f *Factory) CreateMsgWait(flushID uint64, rampDown bool) Wait {
	e := f.wait.Allocate()
	e.Value = WaitData{FlushID: flushID, RampDown: rampDown}
	return Wait{Entry: e}
}

func (f *Factory) CreateMsgDrain(done func()) Drain {
	e := f.drain.Allocate()
	e.Value = DrainData{Done: done}
	return Drain{Entry: e}
}

func (f *Factory) CreateMsgQuit() Quit {
	e := f.quit.Allocate()
	e.Value = QuitData{}
	return Quit{Entry: e}
}

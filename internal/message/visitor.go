package message

// Visitor dispatches on a message's concrete kind (spec §3: "A visitor
// contract dispatches on concrete kind"). Pipeline elements implement the
// subset of methods they care about by embedding NopVisitor and
// overriding only the kinds they intercept (spec §4.5 pattern: "forwards
// most messages, intercepts a small set").
type Visitor interface {
	VisitMode(Mode)
	VisitTrack(Track)
	VisitDelay(Delay)
	VisitEncodedStream(EncodedStream)
	VisitAudioEncoded(AudioEncoded)
	VisitMetaText(MetaText)
	VisitDecodedStream(DecodedStream)
	VisitAudioPcm(AudioPcm)
	VisitSilence(Silence)
	VisitPlayable(Playable)
	VisitHalt(Halt)
	VisitFlush(Flush)
	VisitWait(Wait)
	VisitDrain(Drain)
	VisitQuit(Quit)
}

// Concrete message aliases, one per kind.
type (
	Mode           = Cell[ModeData]
	Track          = Cell[TrackData]
	Delay          = Cell[DelayData]
	EncodedStream  = Cell[EncodedStreamData]
	AudioEncoded   = Cell[AudioEncodedData]
	MetaText       = Cell[MetaTextData]
	DecodedStream  = Cell[DecodedStreamData]
	AudioPcm       = Cell[AudioPcmData]
	Silence        = Cell[SilenceData]
	Playable       = Cell[PlayableData]
	Halt           = Cell[HaltData]
	Flush          = Cell[FlushData]
	Wait           = Cell[WaitData]
	Drain          = Cell[DrainData]
	Quit           = Cell[QuitData]
)

// Dispatch calls the Visitor method matching msg's concrete kind. It
// panics on an unrecognised concrete type, which can only happen if a
// new kind was added to kind.go without a matching Cell alias here — a
// programming error, not a runtime condition (spec §7 Assertion).
func Dispatch(msg Message, v Visitor) {
	switch m := msg.(type) {
	case Mode:
		v.VisitMode(m)
	case Track:
		v.VisitTrack(m)
	case Delay:
		v.VisitDelay(m)
	case EncodedStream:
		v.VisitEncodedStream(m)
	case AudioEncoded:
		v.VisitAudioEncoded(m)
	case MetaText:
		v.VisitMetaText(m)
	case DecodedStream:
		v.VisitDecodedStream(m)
	case AudioPcm:
		v.VisitAudioPcm(m)
	case Silence:
		v.VisitSilence(m)
	case Playable:
		v.VisitPlayable(m)
	case Halt:
		v.VisitHalt(m)
	case Flush:
		v.VisitFlush(m)
	case Wait:
		v.VisitWait(m)
	case Drain:
		v.VisitDrain(m)
	case Quit:
		v.VisitQuit(m)
	default:
		panic("message: Dispatch given an unregistered message kind")
	}
}

// NopVisitor implements Visitor with no-op methods; embed it to intercept
// only a handful of kinds.
type NopVisitor struct{}

func (NopVisitor) VisitMode(Mode)                   {}
func (NopVisitor) VisitTrack(Track)                 {}
func (NopVisitor) VisitDelay(Delay)                 {}
func (NopVisitor) VisitEncodedStream(EncodedStream)  {}
func (NopVisitor) VisitAudioEncoded(AudioEncoded)    {}
func (NopVisitor) VisitMetaText(MetaText)           {}
func (NopVisitor) VisitDecodedStream(DecodedStream) {}
func (NopVisitor) VisitAudioPcm(AudioPcm)           {}
func (NopVisitor) VisitSilence(Silence)             {}
func (NopVisitor) VisitPlayable(Playable)           {}
func (NopVisitor) VisitHalt(Halt)                   {}
func (NopVisitor) VisitFlush(Flush)                 {}
func (NopVisitor) VisitWait(Wait)                   {}
func (NopVisitor) VisitDrain(Drain)                 {}
func (NopVisitor) VisitQuit(Quit)                   {}

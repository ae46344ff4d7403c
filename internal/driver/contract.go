package driver

// PCMProcessor is the contract between byte-exact Playable PCM and the
// DAC (spec §6). Samples are big-endian packed; BeginBlock/EndBlock
// bracket one pulled Playable message's worth of audio.
type PCMProcessor interface {
	BeginBlock()

	// ProcessFragment{8,16,24} hands over a whole fragment of interleaved
	// samples at once; implementations return false to request the
	// caller fall back to per-sample processing (e.g. a format the fast
	// path doesn't support).
	ProcessFragment8(data []byte, channels int) bool
	ProcessFragment16(data []byte, channels int) bool
	ProcessFragment24(data []byte, channels int) bool

	ProcessSample8(data []byte, channels int)
	ProcessSample16(data []byte, channels int)
	ProcessSample24(data []byte, channels int)

	EndBlock()
}

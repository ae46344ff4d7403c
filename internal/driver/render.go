package driver

import (
	"math"

	"github.com/waveforge/netrender/internal/message"
	"github.com/waveforge/netrender/internal/ramp"
)

// minAttenuationDB is the dB floor a fully ramped-down (kMin) sample maps
// to; below this the signal is treated as silent. Chosen well below the
// noise floor of any supported bit depth rather than -inf, so gain math
// stays finite.
const minAttenuationDB = -60.0

// linearGain converts a ramp attenuation value (spec §3's kMin..kMax
// linear-in-dB domain) into a linear amplitude multiplier.
func linearGain(atten int32) float64 {
	switch {
	case atten <= ramp.KMin:
		return 0
	case atten >= ramp.KMax:
		return 1
	}
	fraction := float64(atten) / float64(ramp.KMax)
	db := minAttenuationDB * (1 - fraction)
	return math.Pow(10, db/20)
}

// Renderer is the final pipeline stage (spec §3 "Playable ... emitted by
// final stage"): it applies each AudioPcm's attached ramp (if any) and
// converts the result into byte-exact Playable PCM, passing Silence and
// control messages through untouched.
type Renderer struct {
	factory *message.Factory
}

// NewRenderer creates a Renderer.
func NewRenderer(factory *message.Factory) *Renderer {
	return &Renderer{factory: factory}
}

// Process implements pipeline.Processor.
func (r *Renderer) Process(msg message.Message) []message.Message {
	pcm, ok := msg.(message.AudioPcm)
	if !ok {
		return []message.Message{msg}
	}
	payload := pcm.Payload()
	data := applyRamp(payload)
	out := r.factory.CreateMsgPlayable(message.PlayableData{
		Data:       data,
		Channels:   payload.Channels,
		SampleRate: payload.SampleRate,
		BitDepth:   payload.BitDepth,
		Endianness: payload.Endianness,
	})
	pcm.Release()
	return []message.Message{out}
}

// applyRamp returns a copy of payload.Data with its attached ramp (if
// any) applied as a per-sample linear gain ramping smoothly across the
// buffer's frames.
func applyRamp(payload *message.AudioPcmData) []byte {
	if payload.Ramp == nil || !payload.Ramp.Enabled {
		out := make([]byte, len(payload.Data))
		copy(out, payload.Data)
		return out
	}

	frameBytes := payload.FrameBytes()
	frames := payload.Frames()
	out := make([]byte, len(payload.Data))
	copy(out, payload.Data)
	if frameBytes <= 0 || frames <= 0 {
		return out
	}

	bytesPerSample := payload.BitDepth / 8
	for frame := 0; frame < frames; frame++ {
		fraction := float64(frame) / float64(maxInt(frames-1, 1))
		gain := linearGain(payload.Ramp.AtFraction(fraction))
		frameOff := frame * frameBytes
		for ch := 0; ch < payload.Channels; ch++ {
			off := frameOff + ch*bytesPerSample
			applyGainToSample(out[off:off+bytesPerSample], gain, payload.Endianness)
		}
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func applyGainToSample(b []byte, gain float64, endian message.Endianness) {
	var sample int32
	switch len(b) {
	case 1:
		sample = int32(int8(b[0]))
	case 2:
		if endian == message.BigEndian {
			sample = int32(int16(uint16(b[0])<<8 | uint16(b[1])))
		} else {
			sample = int32(int16(uint16(b[1])<<8 | uint16(b[0])))
		}
	case 3:
		var u uint32
		if endian == message.BigEndian {
			u = uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
		} else {
			u = uint32(b[2])<<16 | uint32(b[1])<<8 | uint32(b[0])
		}
		sample = signExtend24(u)
	case 4:
		if endian == message.BigEndian {
			sample = int32(uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]))
		} else {
			sample = int32(uint32(b[3])<<24 | uint32(b[2])<<16 | uint32(b[1])<<8 | uint32(b[0]))
		}
	default:
		return
	}

	scaled := int32(float64(sample) * gain)

	switch len(b) {
	case 1:
		b[0] = byte(int8(scaled))
	case 2:
		u := uint16(int16(scaled))
		if endian == message.BigEndian {
			b[0] = byte(u >> 8)
			b[1] = byte(u)
		} else {
			b[1] = byte(u >> 8)
			b[0] = byte(u)
		}
	case 3:
		u := uint32(scaled) & 0xFFFFFF
		if endian == message.BigEndian {
			b[0] = byte(u >> 16)
			b[1] = byte(u >> 8)
			b[2] = byte(u)
		} else {
			b[2] = byte(u >> 16)
			b[1] = byte(u >> 8)
			b[0] = byte(u)
		}
	case 4:
		u := uint32(scaled)
		if endian == message.BigEndian {
			b[0] = byte(u >> 24)
			b[1] = byte(u >> 16)
			b[2] = byte(u >> 8)
			b[3] = byte(u)
		} else {
			b[3] = byte(u >> 24)
			b[2] = byte(u >> 16)
			b[1] = byte(u >> 8)
			b[0] = byte(u)
		}
	}
}

func signExtend24(u uint32) int32 {
	if u&0x800000 != 0 {
		return int32(u | 0xFF000000)
	}
	return int32(u)
}

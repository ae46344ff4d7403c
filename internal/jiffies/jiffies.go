// Package jiffies implements the renderer's universal time unit.
//
// A jiffy is 1/56448000 of a second. JIFFIES_PER_SECOND is the least
// common multiple of 384000 and 352800, the two sample-rate families the
// renderer must represent exactly (48kHz-derived and 44.1kHz-derived
// rates both divide it with no remainder), so any sample count at any
// supported rate converts to an integer number of jiffies.
package jiffies

import "fmt"

// PerSecond is JIFFIES_PER_SECOND from spec §3.
const PerSecond int64 = 56448000

// supportedRates lists the sample rates this renderer guarantees divide
// PerSecond exactly. Supported does not consult it: it tests divisibility
// directly, so any rate that divides PerSecond is accepted.
var supportedRates = map[int]bool{
	8000: true, 11025: true, 16000: true, 22050: true, 24000: true,
	32000: true, 44100: true, 48000: true, 88200: true, 96000: true,
	176400: true, 192000: true, 352800: true, 384000: true,
}

// Supported reports whether rate divides PerSecond exactly.
func Supported(rate int) bool {
	if rate <= 0 {
		return false
	}
	return PerSecond%int64(rate) == 0
}

// PerSample returns the number of jiffies one sample (frame) occupies at rate.
func PerSample(rate int) (int64, error) {
	if !Supported(rate) {
		return 0, fmt.Errorf("jiffies: sample rate %d does not divide %d evenly", rate, PerSecond)
	}
	return PerSecond / int64(rate), nil
}

// FromSamples converts a sample count at rate into jiffies.
func FromSamples(samples int, rate int) (int64, error) {
	per, err := PerSample(rate)
	if err != nil {
		return 0, err
	}
	return int64(samples) * per, nil
}

// ToSamples converts a jiffy duration back into a sample count at rate.
// It returns an error if j is not an exact multiple of one sample's jiffies,
// since that would indicate a boundary that doesn't land on a sample.
func ToSamples(j int64, rate int) (int, error) {
	per, err := PerSample(rate)
	if err != nil {
		return 0, err
	}
	if j%per != 0 {
		return 0, fmt.Errorf("jiffies: %d jiffies is not an exact multiple of %d (rate %d)", j, per, rate)
	}
	return int(j / per), nil
}

// FromBytes converts a byte count of interleaved PCM into jiffies given the
// format's channel count and bit depth.
func FromBytes(bytes, channels, bitDepth, rate int) (int64, error) {
	bytesPerSample := channels * (bitDepth / 8)
	if bytesPerSample <= 0 {
		return 0, fmt.Errorf("jiffies: invalid format channels=%d bitDepth=%d", channels, bitDepth)
	}
	if bytes%bytesPerSample != 0 {
		return 0, fmt.Errorf("jiffies: byte count %d is not a whole number of frames (frame=%d bytes)", bytes, bytesPerSample)
	}
	return FromSamples(bytes/bytesPerSample, rate)
}

// ToBytes converts a jiffy duration into a byte count of interleaved PCM,
// rounding down to the nearest whole frame is never performed silently:
// callers that need a clean split must ensure j is frame-aligned first.
func ToBytes(j int64, channels, bitDepth, rate int) (int, error) {
	samples, err := ToSamples(j, rate)
	if err != nil {
		return 0, err
	}
	return samples * channels * (bitDepth / 8), nil
}

package audioio

import (
	"encoding/binary"
	"math"
)

// Resample converts mono PCM between sample rates by linear interpolation,
// which is plenty for speech. The realtime transports use it to move
// between the service's 24 kHz and the codec's 48 kHz.
func Resample(samples []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate || len(samples) == 0 {
		return samples
	}

	outLen := len(samples) * toRate / fromRate
	if outLen == 0 {
		return []int16{}
	}

	step := float64(fromRate) / float64(toRate)
	last := len(samples) - 1
	out := make([]int16, outLen)
	pos := 0.0
	for i := range out {
		idx := int(pos)
		if idx >= last {
			out[i] = samples[last]
		} else {
			frac := pos - float64(idx)
			a := float64(samples[idx])
			b := float64(samples[idx+1])
			out[i] = int16(a + frac*(b-a))
		}
		pos += step
	}
	return out
}

// BytesToSamples converts raw little-endian PCM16 bytes to samples.
// A trailing odd byte is dropped.
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[2*i:]))
	}
	return samples
}

// SamplesToBytes converts samples to raw little-endian PCM16 bytes.
func SamplesToBytes(samples []int16) []byte {
	data := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[2*i:], uint16(s))
	}
	return data
}

// RMS returns the root mean square level of the samples, normalized to
// 0.0 (silence) through 1.0 (full scale).
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}

	var energy float64
	for _, s := range samples {
		v := float64(s) / 32767
		energy += v * v
	}
	return math.Sqrt(energy / float64(len(samples)))
}

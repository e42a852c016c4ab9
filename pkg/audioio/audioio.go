// Package audioio provides microphone capture and speaker playback for the
// realtime call client.
//
// Two backends are supported:
//   - ALSA (Linux) - capture/playback through the arecord and aplay tools
//   - Mock - synthetic audio for development and tests without hardware
//
// The backend is selected automatically from the platform, or explicitly via
// configuration.
package audioio

// Chunk is a frame of PCM16 audio.
type Chunk struct {
	// Samples contains PCM16 audio samples (little-endian).
	Samples []int16

	// SampleRate is the sample rate of this chunk.
	SampleRate int

	// Channels is the number of channels in this chunk.
	Channels int
}

// Bytes returns the raw little-endian bytes of the chunk.
func (c *Chunk) Bytes() []byte {
	return SamplesToBytes(c.Samples)
}

// FromBytes populates the chunk from raw PCM16 bytes.
func (c *Chunk) FromBytes(data []byte, sampleRate, channels int) {
	c.SampleRate = sampleRate
	c.Channels = channels
	c.Samples = BytesToSamples(data)
}

// Duration returns the chunk length in seconds.
func (c *Chunk) Duration() float64 {
	if c.SampleRate == 0 || c.Channels == 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate*c.Channels)
}

// RMS returns the chunk's normalized root mean square level (0.0 to 1.0).
func (c *Chunk) RMS() float64 {
	return RMS(c.Samples)
}

package audioio

import (
	"fmt"
	"time"
)

// Backend selects the audio implementation.
type Backend string

const (
	// BackendAuto picks ALSA on Linux and the mock elsewhere.
	BackendAuto Backend = "auto"
	// BackendALSA shells out to the ALSA arecord/aplay tools (Linux).
	BackendALSA Backend = "alsa"
	// BackendMock generates and swallows audio in-process, for tests
	// and machines without sound hardware.
	BackendMock Backend = "mock"
)

// Config describes the capture and playback format. The zero value is
// not usable; start from DefaultConfig.
type Config struct {
	Backend Backend `json:"backend"`

	// SampleRate in Hz. The realtime API speaks PCM16 at 24000.
	SampleRate int `json:"sample_rate"`

	// Channels per frame. Everything here runs mono.
	Channels int `json:"channels"`

	// FrameDuration is how much audio one chunk carries. 20ms at
	// 24kHz is 480 samples.
	FrameDuration time.Duration `json:"frame_duration"`

	// Device names the ALSA device ("hw:0,0", "default",
	// "plughw:1,0"). The mock ignores it.
	Device string `json:"device"`
}

// DefaultConfig is mono PCM16 at 24kHz in 20ms frames, backend auto.
func DefaultConfig() Config {
	return Config{
		Backend:       BackendAuto,
		SampleRate:    24000,
		Channels:      1,
		FrameDuration: 20 * time.Millisecond,
	}
}

// Validate rejects configs that would produce empty or nonsensical
// frames.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", c.Channels)
	}
	if c.FrameDuration <= 0 {
		return fmt.Errorf("frame_duration must be positive, got %v", c.FrameDuration)
	}
	return nil
}

// FrameSize is the per-channel sample count of one frame.
func (c *Config) FrameSize() int {
	return int(float64(c.SampleRate) * c.FrameDuration.Seconds())
}

// FrameBytes is the byte length of one frame across all channels.
func (c *Config) FrameBytes() int {
	return c.FrameSize() * c.Channels * 2
}

package audioio

import (
	"context"
	"io"
)

// Sink plays audio to a speaker or other output device.
type Sink interface {
	// Start prepares the device for playback.
	Start(ctx context.Context) error

	// Stop halts playback and discards anything still buffered.
	// Calling Stop twice is harmless.
	Stop() error

	// Write queues one chunk for playback. It may block while the
	// device drains earlier audio.
	Write(ctx context.Context, chunk Chunk) error

	// Config reports the playback format.
	Config() Config

	// Name identifies the backend ("alsa", "mock").
	Name() string

	// Close releases the device. A closed sink cannot be restarted.
	io.Closer
}

// SinkStats is a point-in-time snapshot of playback counters.
type SinkStats struct {
	ChunksWritten  int64  `json:"chunks_written"`
	SamplesWritten int64  `json:"samples_written"`
	Running        bool   `json:"running"`
	Backend        string `json:"backend"`
}

// SinkWithStats is implemented by sinks that keep counters.
type SinkWithStats interface {
	Sink
	Stats() SinkStats
}

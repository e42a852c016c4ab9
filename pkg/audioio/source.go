package audioio

import (
	"context"
	"io"
)

// Source captures audio from a microphone or other input device.
//
// Implementations own the stream channel: it is created by Start and
// closed by the capture goroutine when capture ends, so ranging over
// Stream terminates cleanly after Stop.
type Source interface {
	// Start begins capture. Chunks become available via Read or
	// Stream until Stop is called.
	Start(ctx context.Context) error

	// Stop halts capture. Calling Stop twice is harmless.
	Stop() error

	// Read blocks for the next chunk. It returns io.EOF once the
	// source has stopped, or the context error if ctx ends first.
	Read(ctx context.Context) (Chunk, error)

	// Stream returns the channel chunks arrive on.
	Stream() <-chan Chunk

	// Config reports the capture format.
	Config() Config

	// Name identifies the backend ("alsa", "mock").
	Name() string

	// Close releases the device. A closed source cannot be restarted.
	io.Closer
}

// SourceStats is a point-in-time snapshot of capture counters.
// Overruns counts chunks dropped because the consumer fell behind.
type SourceStats struct {
	ChunksRead  int64  `json:"chunks_read"`
	SamplesRead int64  `json:"samples_read"`
	Overruns    int64  `json:"overruns"`
	Running     bool   `json:"running"`
	Backend     string `json:"backend"`
}

// SourceWithStats is implemented by sources that keep counters.
type SourceWithStats interface {
	Source
	Stats() SourceStats
}

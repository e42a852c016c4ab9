package realtime

import (
	"context"
	"errors"

	"github.com/planfit/go-coach/pkg/audioio"
)

var (
	// ErrMicrophoneDenied is returned when the local audio source cannot be
	// opened. It is reported before any network traffic so the caller can
	// distinguish a device problem from a connectivity one.
	ErrMicrophoneDenied = errors.New("realtime: microphone denied")

	// ErrNegotiationFailed is returned when the transport handshake with the
	// API does not produce a usable connection.
	ErrNegotiationFailed = errors.New("realtime: negotiation failed")

	// ErrSendFailed is returned when an outbound event cannot be written.
	ErrSendFailed = errors.New("realtime: send failed")
)

// Transport is a live connection to the Realtime API. Events() yields raw
// server event payloads and Audio() yields decoded 24kHz mono PCM from the
// model's voice. Both channels close when the connection ends, whether by
// Close or by a remote disconnect.
type Transport interface {
	// Send marshals v as JSON and writes it as one protocol event.
	Send(v any) error

	// Events returns the stream of raw server events.
	Events() <-chan []byte

	// Audio returns the stream of decoded model speech.
	Audio() <-chan audioio.Chunk

	// Close tears the connection down and releases the microphone.
	// It is safe to call more than once.
	Close() error
}

// Dialer establishes a Transport for one session. The bearer credential is
// minted per session, so dialers receive it rather than holding it.
type Dialer func(ctx context.Context, bearer string) (Transport, error)

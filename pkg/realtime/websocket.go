package realtime

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/planfit/go-coach/internal/log"
	"github.com/planfit/go-coach/pkg/audioio"
)

// DefaultWebSocketURL is the realtime API's WebSocket endpoint.
const DefaultWebSocketURL = "wss://api.openai.com/v1/realtime"

const (
	handshakeTimeout  = 10 * time.Second
	writeTimeout      = 10 * time.Second
	readIdleTimeout   = 120 * time.Second
	keepAliveInterval = 30 * time.Second
)

// WebSocketConfig configures a WebSocket transport.
type WebSocketConfig struct {
	URL    string         // DefaultWebSocketURL if empty
	Model  string         // DefaultModel if empty
	Mic    audioio.Source // local audio capture, required
	Logger *slog.Logger
}

// WebSocketTransport is a Transport that multiplexes everything over one
// socket: microphone audio goes up as input_audio_buffer.append events,
// model speech comes back as base64 deltas which are decoded onto Audio()
// instead of being surfaced as events. Useful where UDP is blocked and a
// peer connection cannot be established.
type WebSocketTransport struct {
	cfg    WebSocketConfig
	logger *slog.Logger

	ws     *websocket.Conn
	wsMu   sync.Mutex
	closed bool

	closeOnce sync.Once
	done      chan struct{}
	events    chan []byte
	audio     chan audioio.Chunk
}

var _ Transport = (*WebSocketTransport)(nil)

// DialWebSocket opens the microphone and connects to the realtime WebSocket
// endpoint. As with DialWebRTC, the microphone is acquired before any
// network traffic.
func DialWebSocket(ctx context.Context, bearer string, cfg WebSocketConfig) (*WebSocketTransport, error) {
	if cfg.URL == "" {
		cfg.URL = DefaultWebSocketURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Logger == nil {
		cfg.Logger = log.L()
	}
	if cfg.Mic == nil {
		return nil, fmt.Errorf("%w: no audio source configured", ErrMicrophoneDenied)
	}

	if err := cfg.Mic.Start(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMicrophoneDenied, err)
	}

	endpoint := cfg.URL + "?model=" + url.QueryEscape(cfg.Model)
	header := http.Header{}
	header.Set("Authorization", "Bearer "+bearer)
	header.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	ws, resp, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		cfg.Mic.Stop()
		if resp != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("%w: dial: %v (status %d)", ErrNegotiationFailed, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: dial: %v", ErrNegotiationFailed, err)
	}

	t := &WebSocketTransport{
		cfg:    cfg,
		logger: cfg.Logger.With("transport", "websocket"),
		ws:     ws,
		done:   make(chan struct{}),
		events: make(chan []byte, 64),
		audio:  make(chan audioio.Chunk, 32),
	}

	ws.SetPingHandler(func(appData string) error {
		t.wsMu.Lock()
		defer t.wsMu.Unlock()
		return ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeTimeout))
	})
	ws.SetReadDeadline(time.Now().Add(readIdleTimeout))

	go t.readLoop()
	go t.keepAlive()
	go t.pumpMicrophone()

	t.logger.Info("websocket transport connected", "model", cfg.Model)
	return t, nil
}

// readLoop routes incoming messages: audio deltas onto Audio(), everything
// else raw onto Events(). It owns both channels and closes them on exit.
func (t *WebSocketTransport) readLoop() {
	defer close(t.events)
	defer close(t.audio)

	for {
		t.ws.SetReadDeadline(time.Now().Add(readIdleTimeout))
		_, message, err := t.ws.ReadMessage()
		if err != nil {
			t.wsMu.Lock()
			closed := t.closed
			t.wsMu.Unlock()
			if !closed {
				t.logger.Warn("websocket read failed", "error", err)
				go t.Close()
			}
			return
		}

		if ev, perr := ParseEvent(message); perr == nil && ev.Type == EventResponseAudioDelta {
			pcm, derr := base64.StdEncoding.DecodeString(ev.Delta)
			if derr != nil {
				t.logger.Debug("bad audio delta", "error", derr)
				continue
			}
			chunk := audioio.Chunk{
				Samples:    audioio.BytesToSamples(pcm),
				SampleRate: apiSampleRate,
				Channels:   1,
			}
			select {
			case t.audio <- chunk:
			default:
			}
			continue
		}

		// Malformed payloads are forwarded too, the consumer decides how
		// to log and skip them.
		select {
		case t.events <- message:
		default:
			t.logger.Warn("event channel full, dropping event")
		}
	}
}

// keepAlive pings the server so intermediaries keep the connection open.
func (t *WebSocketTransport) keepAlive() {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.wsMu.Lock()
			if t.closed {
				t.wsMu.Unlock()
				return
			}
			err := t.ws.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeTimeout))
			t.wsMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// pumpMicrophone streams captured audio up as base64 PCM16 append events.
func (t *WebSocketTransport) pumpMicrophone() {
	for chunk := range t.cfg.Mic.Stream() {
		samples := chunk.Samples
		if chunk.SampleRate != apiSampleRate {
			samples = audioio.Resample(samples, chunk.SampleRate, apiSampleRate)
		}
		msg := map[string]any{
			"type":  string(EventInputAudioAppend),
			"audio": base64.StdEncoding.EncodeToString(audioio.SamplesToBytes(samples)),
		}
		if err := t.Send(msg); err != nil {
			return
		}
	}
}

// Send marshals v and writes it as one text message.
func (t *WebSocketTransport) Send(v any) error {
	t.wsMu.Lock()
	defer t.wsMu.Unlock()
	if t.closed {
		return fmt.Errorf("%w: transport closed", ErrSendFailed)
	}
	t.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := t.ws.WriteJSON(v); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return nil
}

// Events returns the raw server event stream.
func (t *WebSocketTransport) Events() <-chan []byte {
	return t.events
}

// Audio returns the decoded model speech stream.
func (t *WebSocketTransport) Audio() <-chan audioio.Chunk {
	return t.audio
}

// Close shuts the socket, stops the microphone and lets the read loop close
// the output channels. Safe to call more than once.
func (t *WebSocketTransport) Close() error {
	t.closeOnce.Do(func() {
		t.wsMu.Lock()
		t.closed = true
		t.wsMu.Unlock()

		close(t.done)
		t.ws.Close()
		t.cfg.Mic.Stop()
		t.logger.Info("websocket transport closed")
	})
	return nil
}

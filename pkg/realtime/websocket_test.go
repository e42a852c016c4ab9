package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/planfit/go-coach/pkg/audioio"
)

var testUpgrader = websocket.Upgrader{}

// wsTestServer upgrades one connection, verifies the auth headers and runs
// fn with the server side of the socket.
func wsTestServer(t *testing.T, fn func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); !strings.HasPrefix(got, "Bearer ") {
			t.Errorf("authorization = %q, want bearer token", got)
		}
		if got := r.Header.Get("OpenAI-Beta"); got != "realtime=v1" {
			t.Errorf("OpenAI-Beta = %q, want realtime=v1", got)
		}
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		fn(conn)
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// drainServer keeps reading until the client goes away, discarding the
// microphone appends the transport streams continuously.
func drainServer(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func dialTestTransport(t *testing.T, srv *httptest.Server) *WebSocketTransport {
	t.Helper()
	mic := audioio.NewMockSource(audioio.DefaultConfig(), nil)
	tr, err := DialWebSocket(context.Background(), "ek_test_123", WebSocketConfig{
		URL: wsURL(srv),
		Mic: mic,
	})
	if err != nil {
		t.Fatalf("DialWebSocket() error = %v", err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr
}

func TestWebSocketTransportEvents(t *testing.T) {
	srv := wsTestServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"session.created","session":{"id":"sess_1"}}`))
		drainServer(conn)
	})
	defer srv.Close()

	tr := dialTestTransport(t, srv)

	select {
	case raw := <-tr.Events():
		ev, err := ParseEvent(raw)
		if err != nil {
			t.Fatalf("ParseEvent() error = %v", err)
		}
		if ev.Type != EventSessionCreated {
			t.Errorf("event type = %q, want %q", ev.Type, EventSessionCreated)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}

func TestWebSocketTransportAudioDelta(t *testing.T) {
	pcm := make([]int16, 480)
	for i := range pcm {
		pcm[i] = 1000
	}
	delta := base64.StdEncoding.EncodeToString(audioio.SamplesToBytes(pcm))

	srv := wsTestServer(t, func(conn *websocket.Conn) {
		conn.WriteJSON(map[string]any{"type": "response.audio.delta", "delta": delta})
		drainServer(conn)
	})
	defer srv.Close()

	tr := dialTestTransport(t, srv)

	select {
	case chunk := <-tr.Audio():
		if chunk.SampleRate != apiSampleRate {
			t.Errorf("chunk.SampleRate = %d, want %d", chunk.SampleRate, apiSampleRate)
		}
		if len(chunk.Samples) != len(pcm) {
			t.Errorf("len(chunk.Samples) = %d, want %d", len(chunk.Samples), len(pcm))
		}
		if chunk.Samples[0] != 1000 {
			t.Errorf("chunk.Samples[0] = %d, want 1000", chunk.Samples[0])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no audio received")
	}

	// Deltas are routed to Audio() only, the event stream stays quiet.
	select {
	case raw, ok := <-tr.Events():
		if ok {
			t.Errorf("unexpected event %s", raw)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWebSocketTransportSend(t *testing.T) {
	got := make(chan string, 64)
	srv := wsTestServer(t, func(conn *websocket.Conn) {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var ev struct {
				Type string `json:"type"`
			}
			if json.Unmarshal(msg, &ev) == nil {
				select {
				case got <- ev.Type:
				default:
				}
			}
		}
	})
	defer srv.Close()

	tr := dialTestTransport(t, srv)

	if err := tr.Send(map[string]string{"type": "response.create"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case typ := <-got:
			if typ == "response.create" {
				return
			}
		case <-deadline:
			t.Fatal("server never received the sent event")
		}
	}
}

func TestWebSocketTransportMicrophoneAppend(t *testing.T) {
	got := make(chan string, 64)
	srv := wsTestServer(t, func(conn *websocket.Conn) {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var ev struct {
				Type  string `json:"type"`
				Audio string `json:"audio"`
			}
			if json.Unmarshal(msg, &ev) == nil && ev.Type == "input_audio_buffer.append" && ev.Audio != "" {
				select {
				case got <- ev.Type:
				default:
				}
			}
		}
	})
	defer srv.Close()

	dialTestTransport(t, srv)

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("no microphone audio reached the server")
	}
}

func TestWebSocketTransportClose(t *testing.T) {
	srv := wsTestServer(t, drainServer)
	defer srv.Close()

	tr := dialTestTransport(t, srv)

	if err := tr.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

drain:
	for {
		select {
		case _, ok := <-tr.Events():
			if !ok {
				break drain
			}
		case <-time.After(2 * time.Second):
			t.Fatal("events channel not closed")
		}
	}

	if err := tr.Send(map[string]string{"type": "response.create"}); !errors.Is(err, ErrSendFailed) {
		t.Errorf("Send() after close error = %v, want ErrSendFailed", err)
	}
}

func TestDialWebSocketHandshakeRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	mic := audioio.NewMockSource(audioio.DefaultConfig(), nil)
	_, err := DialWebSocket(context.Background(), "bad-key", WebSocketConfig{
		URL: wsURL(srv),
		Mic: mic,
	})
	if !errors.Is(err, ErrNegotiationFailed) {
		t.Fatalf("DialWebSocket() error = %v, want ErrNegotiationFailed", err)
	}
}

func TestDialWebSocketMicDenied(t *testing.T) {
	srv := wsTestServer(t, drainServer)
	defer srv.Close()

	_, err := DialWebSocket(context.Background(), "ek_test_123", WebSocketConfig{
		URL: wsURL(srv),
		Mic: deniedSource{},
	})
	if !errors.Is(err, ErrMicrophoneDenied) {
		t.Fatalf("DialWebSocket() error = %v, want ErrMicrophoneDenied", err)
	}
}

package hub

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testClient builds a client without a websocket connection. The pumps
// are never started, so broadcasts land on the send channel directly.
func testClient(buf int) *Client {
	return &Client{id: "test-client", send: make(chan []byte, buf)}
}

func waitForCount(t *testing.T, h *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.ClientCount() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("client count = %d, want %d", h.ClientCount(), want)
}

func TestBroadcastFanOut(t *testing.T) {
	h := New("test", testLogger())
	go h.Run()

	a := testClient(4)
	b := testClient(4)
	h.register <- a
	h.register <- b
	waitForCount(t, h, 2)

	if err := h.BroadcastJSON(map[string]string{"type": "session.status"}); err != nil {
		t.Fatalf("BroadcastJSON: %v", err)
	}

	for _, c := range []*Client{a, b} {
		select {
		case payload := <-c.send:
			var got map[string]string
			if err := json.Unmarshal(payload, &got); err != nil {
				t.Fatalf("payload not JSON: %v", err)
			}
			if got["type"] != "session.status" {
				t.Fatalf("payload = %v", got)
			}
		case <-time.After(time.Second):
			t.Fatal("client never received broadcast")
		}
	}
}

func TestSlowClientDropped(t *testing.T) {
	h := New("test", testLogger())
	go h.Run()

	slow := testClient(0)
	h.register <- slow
	waitForCount(t, h, 1)

	h.Broadcast([]byte(`{"type":"session.status"}`))
	waitForCount(t, h, 0)

	select {
	case _, open := <-slow.send:
		if open {
			t.Fatal("expected send channel closed after drop")
		}
	case <-time.After(time.Second):
		t.Fatal("send channel never closed")
	}
}

func TestUnregisterClosesSend(t *testing.T) {
	h := New("test", testLogger())
	go h.Run()

	c := testClient(1)
	h.register <- c
	waitForCount(t, h, 1)

	h.unregister <- c
	waitForCount(t, h, 0)

	if _, open := <-c.send; open {
		t.Fatal("expected send channel closed after unregister")
	}
}

func TestBroadcastJSONRejectsUnencodable(t *testing.T) {
	h := New("test", testLogger())
	if err := h.BroadcastJSON(make(chan int)); err == nil {
		t.Fatal("expected marshal error")
	}
}

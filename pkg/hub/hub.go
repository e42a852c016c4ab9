// Package hub fans session events out to dashboard websocket clients.
//
// A single Hub goroutine owns the client set. Clients register on
// connect, unregister on disconnect, and receive every broadcast
// payload on a buffered send channel. A client that stops draining
// its channel is dropped so one stalled browser tab cannot back up
// the rest.
package hub

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/planfit/go-coach/internal/log"
)

// broadcastDepth bounds how many payloads can queue between producers
// and the hub loop before Broadcast starts shedding.
const broadcastDepth = 256

// Hub owns the set of connected clients and relays payloads to all of
// them. Map mutation happens on the Run goroutine; the mutex covers
// ClientCount reads from other goroutines.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte

	mu      sync.Mutex
	clients map[*Client]bool

	logger *slog.Logger
}

// New creates a hub. A nil logger falls back to the package default.
func New(name string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = log.L()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, broadcastDepth),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger.With("hub", name),
	}
}

// Run dispatches registration and broadcast traffic. Call it in its
// own goroutine; it loops forever.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.add(c)
		case c := <-h.unregister:
			h.remove(c)
		case payload := <-h.broadcast:
			h.fanOut(payload)
		}
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("client connected", "client", c.id, "total", n)
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("client disconnected", "client", c.id, "total", n)
}

// fanOut queues payload on every client. A client whose send buffer is
// already full gets disconnected on the spot rather than stalling the
// loop behind an unbounded backlog.
func (h *Hub) fanOut(payload []byte) {
	h.mu.Lock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			close(c.send)
			delete(h.clients, c)
			h.logger.Warn("dropped slow client", "client", c.id)
		}
	}
	h.mu.Unlock()
}

// Broadcast hands payload to the hub loop. It never blocks the caller;
// when the intake buffer is full the payload is dropped and logged.
func (h *Hub) Broadcast(payload []byte) {
	select {
	case h.broadcast <- payload:
	default:
		h.logger.Warn("broadcast channel full, dropping payload")
	}
}

// BroadcastJSON encodes v and broadcasts the result.
func (h *Hub) BroadcastJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(data)
	return nil
}

// ClientCount reports how many clients are currently connected.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

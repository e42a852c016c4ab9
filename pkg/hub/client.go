package hub

import (
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

const (
	// writeWait bounds a single websocket write, pings included.
	writeWait = 10 * time.Second

	// pongWait is how long the read side tolerates silence before it
	// declares the peer gone. Pings go out at pingPeriod, which must
	// stay comfortably under pongWait.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize caps inbound frames. Dashboard clients only send
	// control frames, so this stays small.
	maxMessageSize = 4 * 1024
)

// Client is one dashboard websocket connection. The hub fills send;
// the write pump drains it onto the wire.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// NewClient wraps conn and registers it with the hub. The returned
// client receives broadcasts once Run is started.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	c := &Client{
		id:   uuid.NewString(),
		hub:  hub,
		conn: conn,
		send: make(chan []byte, 64),
	}
	hub.register <- c
	return c
}

// Run starts the write pump and then reads until the connection
// closes. Call it from the websocket handler; it blocks for the life
// of the connection.
func (c *Client) Run() {
	go c.writePump()
	c.readPump()
}

// readPump consumes inbound frames. Dashboard clients never send
// application data, so the only job here is liveness: resetting the
// read deadline on pongs and noticing when the peer hangs up.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump owns all writes to the connection: queued payloads and
// keepalive pings. When the hub closes send (unregister or slow-client
// drop) it emits a close frame and exits.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

package web

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/planfit/go-coach/pkg/hub"
	"github.com/planfit/go-coach/pkg/session"
)

// defaultEventLimit caps /api/events responses and the websocket
// backlog replay.
const defaultEventLimit = 50

// statusResponse is the /api/status payload.
type statusResponse struct {
	Status         string  `json:"status"`
	SessionID      string  `json:"session_id,omitempty"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	Step           string  `json:"step"`
	Clients        int     `json:"clients"`
}

// handleHealth is the liveness probe.
func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// handleStatus returns the current session state.
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(statusResponse{
		Status:         s.ctrl.Status().String(),
		SessionID:      s.ctrl.SessionID(),
		ElapsedSeconds: s.ctrl.Elapsed().Seconds(),
		Step:           s.ctrl.Step(),
		Clients:        s.events.ClientCount(),
	})
}

// handleEvents returns recent protocol events, most recent first.
func (s *Server) handleEvents(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultEventLimit)
	events := s.ctrl.Events(limit)
	if events == nil {
		events = []session.Event{}
	}
	return c.JSON(events)
}

// handleResults returns the durable step results.
func (s *Server) handleResults(c *fiber.Ctx) error {
	return c.JSON(s.ctrl.Results())
}

// handleStart begins a coaching session.
func (s *Server) handleStart(c *fiber.Ctx) error {
	// The session outlives the request, so it must not inherit the
	// request context.
	if err := s.ctrl.Start(context.Background()); err != nil {
		status := fiber.StatusBadGateway
		if errors.Is(err, session.ErrAlreadyStarted) {
			status = fiber.StatusConflict
		}
		return c.Status(status).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{
		"status":     s.ctrl.Status().String(),
		"session_id": s.ctrl.SessionID(),
	})
}

// handleStop ends the current session.
func (s *Server) handleStop(c *fiber.Ctx) error {
	s.ctrl.Stop()
	return c.JSON(fiber.Map{"status": s.ctrl.Status().String()})
}

// handleEventsWS streams session events to a dashboard client. The
// backlog is replayed oldest first before the connection joins the
// hub, so a fresh page starts with history.
func (s *Server) handleEventsWS(c *websocket.Conn) {
	backlog := s.ctrl.Events(defaultEventLimit)
	for i := len(backlog) - 1; i >= 0; i-- {
		if err := c.WriteJSON(backlog[i]); err != nil {
			c.Close()
			return
		}
	}

	client := hub.NewClient(s.events, c)
	client.Run()
}

// handleIndex serves the dashboard page.
func (s *Server) handleIndex(c *fiber.Ctx) error {
	c.Set("Content-Type", "text/html; charset=utf-8")
	return c.SendString(indexHTML)
}

const indexHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Coach Dashboard</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            margin: 0;
            padding: 24px;
            background: #101418;
            color: #e8eaed;
        }
        h1 { margin: 0 0 16px; font-size: 22px; }
        .bar { display: flex; gap: 12px; align-items: center; margin-bottom: 16px; }
        .pill {
            padding: 4px 12px;
            border-radius: 12px;
            background: #2a3138;
            font-size: 13px;
        }
        .pill.connected { background: #1d4428; }
        button {
            padding: 6px 16px;
            border: 0;
            border-radius: 6px;
            background: #2d6cdf;
            color: white;
            cursor: pointer;
        }
        button.stop { background: #b3433f; }
        #events {
            background: #161b20;
            border-radius: 8px;
            padding: 12px;
            height: 50vh;
            overflow-y: auto;
            font-family: ui-monospace, monospace;
            font-size: 12px;
            white-space: pre-wrap;
        }
        .ev { margin-bottom: 4px; opacity: 0.9; }
        .ev .t { color: #7aa2f7; }
    </style>
</head>
<body>
    <h1>Coach Dashboard</h1>
    <div class="bar">
        <span class="pill" id="status">disconnected</span>
        <span class="pill" id="step">idle</span>
        <button onclick="post('/api/start')">Start session</button>
        <button class="stop" onclick="post('/api/stop')">Stop</button>
    </div>
    <div id="events"></div>
    <script>
        const events = document.getElementById('events');
        function post(path) { fetch(path, {method: 'POST'}); }
        function append(ev) {
            const div = document.createElement('div');
            div.className = 'ev';
            div.innerHTML = '<span class="t">' + ev.type + '</span> ' + (ev.time || '');
            events.appendChild(div);
            events.scrollTop = events.scrollHeight;
        }
        function refresh() {
            fetch('/api/status').then(r => r.json()).then(st => {
                const pill = document.getElementById('status');
                pill.textContent = st.status;
                pill.className = 'pill' + (st.status === 'connected' ? ' connected' : '');
                document.getElementById('step').textContent = st.step;
            });
        }
        const ws = new WebSocket('ws://' + location.host + '/ws');
        ws.onmessage = e => { append(JSON.parse(e.data)); refresh(); };
        refresh();
        setInterval(refresh, 2000);
    </script>
</body>
</html>
`

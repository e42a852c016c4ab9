// Package web serves the coaching session dashboard: a small JSON API
// over the session controller plus a live event stream over websocket.
package web

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/planfit/go-coach/internal/log"
	"github.com/planfit/go-coach/pkg/hub"
	"github.com/planfit/go-coach/pkg/session"
)

// Server is the dashboard server.
type Server struct {
	app    *fiber.App
	addr   string
	ctrl   *session.Controller
	events *hub.Hub
	logger *slog.Logger

	// cancelSub tears down the controller subscription on Shutdown.
	cancelSub func()
}

// NewServer wires the dashboard routes over a session controller.
// A nil logger falls back to the package default.
func NewServer(addr string, ctrl *session.Controller, logger *slog.Logger) *Server {
	if logger == nil {
		logger = log.L()
	}
	s := &Server{
		addr:   addr,
		ctrl:   ctrl,
		events: hub.New("events", logger),
		logger: logger,
	}

	app := fiber.New(fiber.Config{
		AppName:               "coach-dashboard",
		DisableStartupMessage: true,
	})

	// CORS for local development
	app.Use(cors.New())

	app.Get("/", s.handleIndex)
	app.Get("/healthz", s.handleHealth)

	// API routes
	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/events", s.handleEvents)
	api.Get("/results", s.handleResults)
	api.Post("/start", s.handleStart)
	api.Post("/stop", s.handleStop)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(s.handleEventsWS))

	s.app = app
	return s
}

// Start runs the event hub, subscribes to the controller, and serves
// HTTP. It blocks until Shutdown or a listener error.
func (s *Server) Start() error {
	s.begin()
	s.logger.Info("dashboard listening", "addr", s.addr)
	return s.app.Listen(s.addr)
}

// StartAsync starts the server in a goroutine.
func (s *Server) StartAsync() {
	go func() {
		if err := s.Start(); err != nil {
			s.logger.Error("dashboard server stopped", "error", err)
		}
	}()
}

// begin starts the broadcast hub and forwards session events to it.
func (s *Server) begin() {
	go s.events.Run()
	s.cancelSub = s.ctrl.Subscribe(func(ev session.Event) {
		if err := s.events.BroadcastJSON(ev); err != nil {
			s.logger.Warn("event broadcast failed", "error", err)
		}
	})
}

// Shutdown cancels the event subscription and stops the server.
func (s *Server) Shutdown() error {
	if s.cancelSub != nil {
		s.cancelSub()
	}
	return s.app.Shutdown()
}

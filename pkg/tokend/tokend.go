// Package tokend mints short-lived realtime credentials.
//
// The coaching client never sees the long-lived OpenAI API key. This
// service holds the key and exchanges it for per-session client
// secrets at the upstream realtime sessions endpoint, passing the
// upstream JSON through verbatim so the client can read
// client_secret.value.
package tokend

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/planfit/go-coach/internal/httpc"
	"github.com/planfit/go-coach/internal/log"
	"github.com/planfit/go-coach/pkg/realtime"
)

const (
	// DefaultUpstream is the API base used to mint session secrets.
	DefaultUpstream = "https://api.openai.com/v1"

	// DefaultVoice is the voice requested for minted sessions.
	DefaultVoice = "alloy"

	// maxMintResponse caps how much of the upstream response is read.
	maxMintResponse = 1 << 20
)

// Config wires a Server.
type Config struct {
	// Addr is the listen address, e.g. ":8091".
	Addr string

	// APIKey is the long-lived OpenAI key. Without it /token serves
	// errors but the process still starts, so probes keep working.
	APIKey string

	// Upstream overrides the API base. Defaults to DefaultUpstream.
	Upstream string

	// Model is the realtime model minted secrets are bound to.
	Model string

	// Voice is the session voice.
	Voice string

	// Debug enables per-request logging.
	Debug bool

	// HTTP overrides the upstream HTTP client.
	HTTP *http.Client

	Logger *slog.Logger
}

// Server is the token mint service.
type Server struct {
	app      *fiber.App
	addr     string
	apiKey   string
	upstream string
	model    string
	voice    string
	http     *http.Client
	logger   *slog.Logger
}

// mintRequest is the upstream session-create body.
type mintRequest struct {
	Model string `json:"model"`
	Voice string `json:"voice"`
}

// NewServer builds the mint service.
func NewServer(cfg Config) *Server {
	if cfg.Upstream == "" {
		cfg.Upstream = DefaultUpstream
	}
	if cfg.Model == "" {
		cfg.Model = realtime.DefaultModel
	}
	if cfg.Voice == "" {
		cfg.Voice = DefaultVoice
	}
	if cfg.HTTP == nil {
		cfg.HTTP = httpc.Client
	}
	if cfg.Logger == nil {
		cfg.Logger = log.L()
	}

	s := &Server{
		addr:     cfg.Addr,
		apiKey:   cfg.APIKey,
		upstream: strings.TrimRight(cfg.Upstream, "/"),
		model:    cfg.Model,
		voice:    cfg.Voice,
		http:     cfg.HTTP,
		logger:   cfg.Logger,
	}

	app := fiber.New(fiber.Config{
		AppName:               "coach-tokend",
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(cors.New())
	if cfg.Debug {
		app.Use(logger.New())
	}

	app.Get("/healthz", s.handleHealth)
	app.Get("/token", s.handleToken)

	s.app = app
	return s
}

// Start serves HTTP. It blocks until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Info("token mint listening", "addr", s.addr, "upstream", s.upstream)
	return s.app.Listen(s.addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// handleHealth is the liveness probe.
func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// handleToken exchanges the server API key for a short-lived client
// secret. The upstream response is passed through verbatim, status
// included, so callers see exactly what the realtime API said.
func (s *Server) handleToken(c *fiber.Ctx) error {
	if s.apiKey == "" {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "api key not configured",
		})
	}

	model := c.Query("model", s.model)
	body, err := json.Marshal(mintRequest{Model: model, Voice: s.voice})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(c.UserContext(), http.MethodPost,
		s.upstream+"/realtime/sessions", bytes.NewReader(body))
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		s.logger.Error("upstream mint failed", "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "upstream unreachable"})
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxMintResponse))
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "upstream read failed"})
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.logger.Warn("upstream rejected mint", "status", resp.StatusCode)
	} else {
		s.logger.Debug("credential minted", "model", model)
	}

	c.Set("Content-Type", "application/json")
	return c.Status(resp.StatusCode).Send(payload)
}

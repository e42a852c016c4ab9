// Coach - voice-driven weekly plan review calls
// Dials the OpenAI Realtime API, walks the member through review,
// adjustment, and confirmation of their plan, and hangs up on silence.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/planfit/go-coach/internal/config"
	"github.com/planfit/go-coach/internal/log"
	"github.com/planfit/go-coach/pkg/audioio"
	"github.com/planfit/go-coach/pkg/planstore"
	"github.com/planfit/go-coach/pkg/realtime"
	"github.com/planfit/go-coach/pkg/session"
	"github.com/planfit/go-coach/pkg/token"
	"github.com/planfit/go-coach/pkg/web"
)

var version = "1.0.0"

type appConfig struct {
	tokenURL  string
	model     string
	transport string
	mic       string
	device    string
	dashboard string
	storePath string
	delay     time.Duration
	logLevel  string
}

func main() {
	cfg := parseFlags()
	log.Init(cfg.logLevel)
	logger := log.L()

	fmt.Println()
	fmt.Println("🏋️  Coach v" + version)
	fmt.Println("   Voice-driven weekly plan review")
	fmt.Println()

	var store *planstore.Store
	var err error
	if cfg.storePath == "" {
		store, err = planstore.NewDefaultStore(logger)
	} else {
		store, err = planstore.NewStore(cfg.storePath, logger)
	}
	if err != nil {
		logger.Error("result store unavailable", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	audioCfg := audioio.DefaultConfig()
	audioCfg.Backend = audioio.Backend(cfg.mic)
	audioCfg.Device = cfg.device

	mic, err := audioio.NewSource(audioCfg, logger)
	if err != nil {
		logger.Error("microphone unavailable", "error", err)
		os.Exit(1)
	}
	defer mic.Close()

	sink, err := audioio.NewSink(audioCfg, logger)
	if err != nil {
		logger.Warn("speaker unavailable, continuing without playback", "error", err)
		sink = nil
	} else {
		defer sink.Close()
	}

	dial, err := buildDialer(cfg, mic, logger)
	if err != nil {
		logger.Error("invalid transport", "error", err)
		os.Exit(1)
	}

	ctrl, err := session.NewController(session.Config{
		Tokens: token.NewClient(cfg.tokenURL),
		Dial:   dial,
		Store:  store,
		Sink:   sink,
		Delay:  cfg.delay,
		Logger: logger,
	})
	if err != nil {
		logger.Error("controller setup failed", "error", err)
		os.Exit(1)
	}

	// With no dashboard there is nothing to restart a finished call,
	// so the process follows the session down.
	sessionEnded := make(chan struct{}, 1)
	cancelSub := ctrl.Subscribe(func(ev session.Event) {
		if ev.Type != session.StatusEventType {
			return
		}
		var st struct {
			Status string `json:"status"`
		}
		if json.Unmarshal(ev.Raw, &st) == nil && st.Status == "disconnected" {
			select {
			case sessionEnded <- struct{}{}:
			default:
			}
		}
	})
	defer cancelSub()

	var dashboard *web.Server
	if cfg.dashboard != "" {
		dashboard = web.NewServer(cfg.dashboard, ctrl, logger)
		dashboard.StartAsync()
		fmt.Printf("   Dashboard: http://%s\n", displayAddr(cfg.dashboard))
	}

	ctx, cancelSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancelSignals()

	if err := ctrl.Start(ctx); err != nil {
		logger.Error("session start failed", "error", err)
		os.Exit(1)
	}
	fmt.Printf("📞 Session %s connecting via %s\n", ctrl.SessionID(), cfg.transport)
	fmt.Println()

	select {
	case <-ctx.Done():
		fmt.Println("\n👋 Shutting down...")
	case <-sessionEnded:
		if dashboard == nil {
			fmt.Println("📴 Call ended")
		} else {
			fmt.Println("📴 Call ended, dashboard still serving")
			<-ctx.Done()
			fmt.Println("\n👋 Shutting down...")
		}
	}

	ctrl.Stop()
	if dashboard != nil {
		dashboard.Shutdown()
	}
}

// parseFlags parses command line flags with COACH_* environment fallbacks.
func parseFlags() appConfig {
	tokenURL := flag.String("token-url", config.Env("COACH_TOKEN_URL", "http://127.0.0.1:8091/token"),
		"Credential mint endpoint")
	model := flag.String("model", config.Env("COACH_MODEL", realtime.DefaultModel),
		"Realtime model")
	transport := flag.String("transport", config.Env("COACH_TRANSPORT", "webrtc"),
		"Session transport: webrtc, websocket")
	mic := flag.String("mic", config.Env("COACH_MIC", string(audioio.BackendAuto)),
		"Microphone backend: auto, alsa, mock")
	device := flag.String("device", config.Env("COACH_DEVICE", ""),
		"ALSA device, e.g. plughw:1,0")
	dashboard := flag.String("dashboard", config.Env("COACH_DASHBOARD", ":8090"),
		"Dashboard listen address, empty to disable")
	storePath := flag.String("store", config.Env("COACH_STORE", ""),
		"Result store path (default ~/.coach/results.json)")
	delay := flag.Duration("delay", config.EnvDuration("COACH_DELAY", 0),
		"Follow-up delay after each step, 0 for the engine default")
	logLevel := flag.String("log-level", config.Env("COACH_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error")
	flag.Parse()

	return appConfig{
		tokenURL:  *tokenURL,
		model:     *model,
		transport: strings.ToLower(*transport),
		mic:       strings.ToLower(*mic),
		device:    *device,
		dashboard: *dashboard,
		storePath: *storePath,
		delay:     *delay,
		logLevel:  *logLevel,
	}
}

// buildDialer maps the transport flag to a realtime dialer sharing the
// one microphone source.
func buildDialer(cfg appConfig, mic audioio.Source, logger *slog.Logger) (realtime.Dialer, error) {
	switch cfg.transport {
	case "webrtc":
		wcfg := realtime.WebRTCConfig{Model: cfg.model, Mic: mic, Logger: logger}
		return func(ctx context.Context, bearer string) (realtime.Transport, error) {
			t, err := realtime.DialWebRTC(ctx, bearer, wcfg)
			if err != nil {
				return nil, err
			}
			return t, nil
		}, nil
	case "websocket":
		scfg := realtime.WebSocketConfig{Model: cfg.model, Mic: mic, Logger: logger}
		return func(ctx context.Context, bearer string) (realtime.Transport, error) {
			t, err := realtime.DialWebSocket(ctx, bearer, scfg)
			if err != nil {
				return nil, err
			}
			return t, nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown transport %q (want webrtc or websocket)", cfg.transport)
	}
}

// displayAddr turns a listen address into something clickable.
func displayAddr(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "localhost" + addr
	}
	return addr
}

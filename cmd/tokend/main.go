// Tokend - credential mint for coach sessions
// Holds the long-lived OpenAI API key and exchanges it for short-lived
// realtime client secrets.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/planfit/go-coach/internal/config"
	"github.com/planfit/go-coach/internal/log"
	"github.com/planfit/go-coach/pkg/realtime"
	"github.com/planfit/go-coach/pkg/tokend"
)

var version = "1.0.0"

func main() {
	addr := flag.String("addr", config.Env("TOKEND_ADDR", ":8091"),
		"Listen address")
	model := flag.String("model", config.Env("TOKEND_MODEL", realtime.DefaultModel),
		"Realtime model for minted secrets")
	voice := flag.String("voice", config.Env("TOKEND_VOICE", tokend.DefaultVoice),
		"Session voice")
	upstream := flag.String("upstream", config.Env("TOKEND_UPSTREAM", tokend.DefaultUpstream),
		"OpenAI API base URL")
	debug := flag.Bool("debug", config.EnvBool("TOKEND_DEBUG", false),
		"Enable per-request logging")
	logLevel := flag.String("log-level", config.Env("TOKEND_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error")
	flag.Parse()

	log.Init(*logLevel)
	logger := log.L()

	apiKey := config.EnvRequired("OPENAI_API_KEY")

	fmt.Println()
	fmt.Println("🔑 Coach Tokend v" + version)
	fmt.Println("   Realtime credential mint")
	fmt.Println()

	srv := tokend.NewServer(tokend.Config{
		Addr:     *addr,
		APIKey:   apiKey,
		Upstream: *upstream,
		Model:    *model,
		Voice:    *voice,
		Debug:    *debug,
		Logger:   logger,
	})

	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	fmt.Println("\n👋 Shutting down...")
	if err := srv.Shutdown(); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

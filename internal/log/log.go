// Package log owns the module's logging setup: slog with a text handler in
// development, JSON when GO_ENV=production, one process-wide level. The
// level lives in a LevelVar, so Init applies even to loggers handed out
// before it ran.
package log

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	level slog.LevelVar
	base  *slog.Logger
	once  sync.Once
)

// Init sets the process log level: debug, info, warn or error. Unknown
// names keep info. May be called before or after the first L.
func Init(name string) {
	switch strings.ToLower(name) {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
}

// L returns the shared logger, building it on first use and installing it
// as slog's default.
func L() *slog.Logger {
	once.Do(func() {
		opts := &slog.HandlerOptions{Level: &level}
		var h slog.Handler
		if os.Getenv("GO_ENV") == "production" {
			h = slog.NewJSONHandler(os.Stdout, opts)
		} else {
			h = slog.NewTextHandler(os.Stdout, opts)
		}
		base = slog.New(h)
		slog.SetDefault(base)
	})
	return base
}

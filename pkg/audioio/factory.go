package audioio

import (
	"fmt"
	"log/slog"
	"runtime"
)

// NewSource builds the capture backend named by cfg.Backend, settling
// BackendAuto to the platform default.
func NewSource(cfg Config, logger *slog.Logger) (Source, error) {
	backend, logger, err := resolve(cfg, logger)
	if err != nil {
		return nil, err
	}

	logger.Info("opening capture",
		"backend", backend,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
		"frame_ms", cfg.FrameDuration.Milliseconds(),
	)

	switch backend {
	case BackendMock:
		return NewMockSource(cfg, logger), nil
	case BackendALSA:
		return newALSASource(cfg, logger)
	}
	return nil, fmt.Errorf("unsupported backend: %s", backend)
}

// NewSink builds the playback backend named by cfg.Backend, settling
// BackendAuto to the platform default.
func NewSink(cfg Config, logger *slog.Logger) (Sink, error) {
	backend, logger, err := resolve(cfg, logger)
	if err != nil {
		return nil, err
	}

	switch backend {
	case BackendMock:
		return NewMockSink(cfg, logger), nil
	case BackendALSA:
		return newALSASink(cfg, logger)
	}
	return nil, fmt.Errorf("unsupported backend: %s", backend)
}

// resolve validates the config and settles auto selection. ALSA is the
// practical path on linux; everywhere else only the mock exists.
func resolve(cfg Config, logger *slog.Logger) (Backend, *slog.Logger, error) {
	if err := cfg.Validate(); err != nil {
		return "", nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	backend := cfg.Backend
	if backend == BackendAuto {
		if runtime.GOOS == "linux" {
			backend = BackendALSA
		} else {
			backend = BackendMock
		}
	}
	return backend, logger, nil
}

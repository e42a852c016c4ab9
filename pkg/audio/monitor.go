// Package audio provides level analysis of the live call audio, in
// particular the sustained-silence detection that ends a finished call.
package audio

import (
	"log/slog"
	"sync"
	"time"

	"github.com/planfit/go-coach/pkg/audioio"
)

// Fixed detection constants, tuned for the remote voice at normal volume.
// Deliberately not adaptive: the threshold is an absolute level, so steady
// background noise above it keeps resetting the clock.
const (
	// DefaultSilenceThreshold is the normalized RMS level (0.0-1.0) below
	// which a chunk counts as silent.
	DefaultSilenceThreshold = 0.01

	// DefaultSilenceWindow is how long the level must stay below threshold
	// before the monitor fires.
	DefaultSilenceWindow = 2 * time.Second
)

// Monitor watches an audio stream for sustained silence.
//
// The monitor is level-triggered: every fed chunk is measured, a chunk at or
// above the threshold clears the silence clock, and the callback fires once
// the clock has run for the full window. After firing, the monitor disarms
// itself; it will not fire again until re-armed.
type Monitor struct {
	threshold float64
	window    time.Duration
	logger    *slog.Logger

	mu          sync.Mutex
	armed       bool
	onSilence   func()
	silentSince time.Time

	// now is replaceable for tests.
	now func() time.Time
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithThreshold overrides the silence threshold (normalized RMS, 0.0-1.0).
func WithThreshold(threshold float64) MonitorOption {
	return func(m *Monitor) {
		m.threshold = threshold
	}
}

// WithWindow overrides the silence window.
func WithWindow(window time.Duration) MonitorOption {
	return func(m *Monitor) {
		m.window = window
	}
}

// NewMonitor creates a silence monitor with the default constants.
func NewMonitor(logger *slog.Logger, opts ...MonitorOption) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Monitor{
		threshold: DefaultSilenceThreshold,
		window:    DefaultSilenceWindow,
		logger:    logger,
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Arm starts watching for silence. The callback fires exactly once, from the
// goroutine that feeds the triggering chunk, and the monitor disarms itself.
// Arming an already armed monitor replaces the callback and restarts the
// clock.
func (m *Monitor) Arm(onSilence func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.armed = true
	m.onSilence = onSilence
	m.silentSince = time.Time{}

	m.logger.Debug("silence monitor armed",
		"threshold", m.threshold,
		"window", m.window,
	)
}

// Disarm stops watching. Safe to call at any time, including when the
// monitor was never armed.
func (m *Monitor) Disarm() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.armed = false
	m.onSilence = nil
	m.silentSince = time.Time{}
}

// Armed reports whether the monitor is currently watching.
func (m *Monitor) Armed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.armed
}

// Feed measures one chunk. Chunks fed while disarmed are ignored.
func (m *Monitor) Feed(chunk audioio.Chunk) {
	m.mu.Lock()

	if !m.armed {
		m.mu.Unlock()
		return
	}

	level := chunk.RMS()
	if level >= m.threshold {
		// Sound: reset the clock
		m.silentSince = time.Time{}
		m.mu.Unlock()
		return
	}

	now := m.now()
	if m.silentSince.IsZero() {
		m.silentSince = now
		m.mu.Unlock()
		return
	}

	if now.Sub(m.silentSince) < m.window {
		m.mu.Unlock()
		return
	}

	// Sustained silence: fire once and disarm
	fire := m.onSilence
	m.armed = false
	m.onSilence = nil
	m.silentSince = time.Time{}
	m.mu.Unlock()

	m.logger.Info("sustained silence detected", "window", m.window)

	if fire != nil {
		fire()
	}
}

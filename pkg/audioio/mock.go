package audioio

import (
	"context"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"
)

// MockSource stands in for a microphone in tests and on machines without
// capture hardware. It emits silence by default, or a sine tone when
// configured, at the same frame cadence a real backend would.
type MockSource struct {
	cfg       Config
	logger    *slog.Logger
	frequency float64 // Hz, 0 = silence
	amplitude float64 // 0.0 to 1.0

	mu       sync.Mutex
	running  bool
	closed   bool
	streamCh chan Chunk
	stopCh   chan struct{}
	chunks   int64
	samples  int64
	overruns int64
}

// MockSourceOption configures a MockSource.
type MockSourceOption func(*MockSource)

// WithSineWave makes the mock emit a tone instead of silence.
func WithSineWave(frequency, amplitude float64) MockSourceOption {
	return func(m *MockSource) {
		m.frequency = frequency
		m.amplitude = amplitude
	}
}

// NewMockSource creates a stopped mock source.
func NewMockSource(cfg Config, logger *slog.Logger, opts ...MockSourceOption) *MockSource {
	if logger == nil {
		logger = slog.Default()
	}

	m := &MockSource{
		cfg:       cfg,
		logger:    logger,
		amplitude: 0.5,
		streamCh:  make(chan Chunk, 10),
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start spawns the generator. Starting a running source is a no-op; a
// closed source refuses with io.ErrClosedPipe. The source is restartable:
// each Start gets fresh channels and a fresh generator.
func (m *MockSource) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return io.ErrClosedPipe
	}
	if m.running {
		return nil
	}

	m.running = true
	m.streamCh = make(chan Chunk, 10)
	m.stopCh = make(chan struct{})
	go m.run(ctx, m.streamCh, m.stopCh)

	m.logger.Debug("mock capture started", "sample_rate", m.cfg.SampleRate, "frequency", m.frequency)
	return nil
}

// run owns its stream channel and closes it on exit, so a send can never
// race a close even across Stop/Start cycles.
func (m *MockSource) run(ctx context.Context, stream chan Chunk, stop chan struct{}) {
	defer close(stream)

	ticker := time.NewTicker(m.cfg.FrameDuration)
	defer ticker.Stop()

	step := 2 * math.Pi * m.frequency / float64(m.cfg.SampleRate)
	var phase float64

	for {
		select {
		case <-ctx.Done():
			m.Stop()
			return
		case <-stop:
			return
		case <-ticker.C:
			samples := make([]int16, m.cfg.FrameSize()*m.cfg.Channels)
			if m.frequency > 0 {
				phase = m.fill(samples, phase, step)
			}
			chunk := Chunk{Samples: samples, SampleRate: m.cfg.SampleRate, Channels: m.cfg.Channels}

			select {
			case stream <- chunk:
				m.mu.Lock()
				m.chunks++
				m.samples += int64(len(samples))
				m.mu.Unlock()
			default:
				m.mu.Lock()
				m.overruns++
				m.mu.Unlock()
			}
		}
	}
}

// fill writes one frame of the tone and returns the advanced phase.
func (m *MockSource) fill(samples []int16, phase, step float64) float64 {
	frames := len(samples) / m.cfg.Channels
	for i := 0; i < frames; i++ {
		v := int16(m.amplitude * math.Sin(phase) * 32767)
		for ch := 0; ch < m.cfg.Channels; ch++ {
			samples[i*m.cfg.Channels+ch] = v
		}
		phase += step
		if phase >= 2*math.Pi {
			phase -= 2 * math.Pi
		}
	}
	return phase
}

// Stop signals the generator to exit. The stream channel closes once the
// generator notices. Safe to call repeatedly.
func (m *MockSource) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	m.running = false
	close(m.stopCh)
	return nil
}

// Read returns the next chunk, or io.EOF once the source has stopped.
func (m *MockSource) Read(ctx context.Context) (Chunk, error) {
	m.mu.Lock()
	stream := m.streamCh
	m.mu.Unlock()

	select {
	case <-ctx.Done():
		return Chunk{}, ctx.Err()
	case chunk, ok := <-stream:
		if !ok {
			return Chunk{}, io.EOF
		}
		return chunk, nil
	}
}

// Stream returns the current generation's chunk channel.
func (m *MockSource) Stream() <-chan Chunk {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streamCh
}

// Config returns the audio configuration.
func (m *MockSource) Config() Config {
	return m.cfg
}

// Name returns "mock".
func (m *MockSource) Name() string {
	return "mock"
}

// Close stops the source for good; Start afterwards fails.
func (m *MockSource) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	return m.Stop()
}

// Stats reports what the generator has produced so far.
func (m *MockSource) Stats() SourceStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return SourceStats{
		ChunksRead:  m.chunks,
		SamplesRead: m.samples,
		Overruns:    m.overruns,
		Running:     m.running,
		Backend:     "mock",
	}
}

var _ SourceWithStats = (*MockSource)(nil)

// MockSink swallows audio and counts what it swallowed. It backs tests
// and the no-speaker configurations.
type MockSink struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	closed  bool
	chunks  int64
	samples int64
}

// NewMockSink creates a stopped mock sink.
func NewMockSink(cfg Config, logger *slog.Logger) *MockSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &MockSink{cfg: cfg, logger: logger}
}

// Start makes the sink accept writes.
func (m *MockSink) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return io.ErrClosedPipe
	}
	m.running = true
	return nil
}

// Stop makes the sink refuse writes.
func (m *MockSink) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
	return nil
}

// Write counts and discards one chunk. Writes to a stopped or closed sink
// fail with io.ErrClosedPipe.
func (m *MockSink) Write(ctx context.Context, chunk Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || !m.running {
		return io.ErrClosedPipe
	}
	m.chunks++
	m.samples += int64(len(chunk.Samples))
	return nil
}

// Config returns the audio configuration.
func (m *MockSink) Config() Config {
	return m.cfg
}

// Name returns "mock".
func (m *MockSink) Name() string {
	return "mock"
}

// Close stops the sink for good.
func (m *MockSink) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	return m.Stop()
}

// Stats reports what the sink has accepted so far.
func (m *MockSink) Stats() SinkStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return SinkStats{
		ChunksWritten:  m.chunks,
		SamplesWritten: m.samples,
		Running:        m.running,
		Backend:        "mock",
	}
}

var _ SinkWithStats = (*MockSink)(nil)

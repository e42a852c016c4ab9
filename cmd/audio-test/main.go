// Audio Test - microphone capture diagnostic
// Streams the configured capture backend, shows live level stats,
// exercises the silence monitor, and records a short WAV for playback
// checks.
package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/planfit/go-coach/internal/log"
	"github.com/planfit/go-coach/pkg/audio"
	"github.com/planfit/go-coach/pkg/audioio"
)

type captureStats struct {
	mu      sync.Mutex
	chunks  int64
	samples int64
	lastRMS float64
	peakRMS float64
}

func (s *captureStats) add(chunk audioio.Chunk) {
	level := chunk.RMS()
	s.mu.Lock()
	s.chunks++
	s.samples += int64(len(chunk.Samples))
	s.lastRMS = level
	if level > s.peakRMS {
		s.peakRMS = level
	}
	s.mu.Unlock()
}

func (s *captureStats) snapshot() (chunks, samples int64, last, peak float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chunks, s.samples, s.lastRMS, s.peakRMS
}

func main() {
	mic := flag.String("mic", string(audioio.BackendAuto), "Capture backend: auto, alsa, mock")
	device := flag.String("device", "", "ALSA device, e.g. plughw:1,0")
	seconds := flag.Int("seconds", 5, "Recording length in seconds")
	out := flag.String("out", "/tmp/coach_mic_test.wav", "WAV output path")
	sine := flag.Float64("sine", 0, "Sine frequency in Hz for the mock backend, 0 for silence")
	threshold := flag.Float64("threshold", audio.DefaultSilenceThreshold, "Silence threshold (normalized RMS)")
	window := flag.Duration("window", audio.DefaultSilenceWindow, "Silence window")
	flag.Parse()

	log.Init("warn")

	fmt.Println("🎤 Audio Test")
	fmt.Println("=============")
	fmt.Printf("Capturing from %q, recording %ds to %s\n\n", *mic, *seconds, *out)

	cfg := audioio.DefaultConfig()
	cfg.Backend = audioio.Backend(*mic)
	cfg.Device = *device

	var src audioio.Source
	var err error
	if cfg.Backend == audioio.BackendMock && *sine > 0 {
		src = audioio.NewMockSource(cfg, log.L(), audioio.WithSineWave(*sine, 0.5))
	} else {
		src, err = audioio.NewSource(cfg, log.L())
		if err != nil {
			fmt.Printf("❌ Source unavailable: %v\n", err)
			os.Exit(1)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := src.Start(ctx); err != nil {
		fmt.Printf("❌ Capture failed to start: %v\n", err)
		os.Exit(1)
	}
	defer src.Close()
	fmt.Printf("✅ Capturing via %s (%d Hz mono)\n", src.Name(), cfg.SampleRate)

	monitor := audio.NewMonitor(log.L(),
		audio.WithThreshold(*threshold),
		audio.WithWindow(*window),
	)
	monitor.Arm(func() {
		fmt.Printf("\n🔇 Sustained silence over %v (a live call would hang up here)\n", *window)
	})

	stats := &captureStats{}

	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				chunks, samples, last, peak := stats.snapshot()
				fmt.Printf("\r📊 Chunks: %d | Samples: %d | RMS: %.4f | Peak: %.4f     ",
					chunks, samples, last, peak)
			}
		}
	}()

	want := *seconds * cfg.SampleRate
	var recorded []int16
	saved := false

	fmt.Printf("Recording the first %d seconds...\n\n", *seconds)

capture:
	for {
		select {
		case <-ctx.Done():
			break capture
		case chunk, ok := <-src.Stream():
			if !ok {
				break capture
			}
			stats.add(chunk)
			monitor.Feed(chunk)

			if saved {
				continue
			}
			recorded = append(recorded, chunk.Samples...)
			if len(recorded) >= want {
				saveRecording(*out, recorded, cfg.SampleRate)
				saved = true
			}
		}
	}

	if !saved && len(recorded) > 0 {
		saveRecording(*out, recorded, cfg.SampleRate)
	}

	chunks, samples, _, peak := stats.snapshot()
	fmt.Printf("\n\n📊 Final Stats:\n")
	fmt.Printf("   Chunks captured: %d\n", chunks)
	fmt.Printf("   Samples captured: %d\n", samples)
	fmt.Printf("   Peak RMS: %.4f\n", peak)
	fmt.Printf("   Silence monitor still armed: %v\n", monitor.Armed())
}

func saveRecording(path string, samples []int16, sampleRate int) {
	if err := writeWAV(path, samples, sampleRate, 1); err != nil {
		fmt.Printf("\n❌ Failed to write WAV: %v\n", err)
		return
	}
	info, _ := os.Stat(path)
	fmt.Printf("\n📼 Saved %.2fs to %s (%d bytes)\n",
		float64(len(samples))/float64(sampleRate), path, info.Size())
	fmt.Println("   Play it with: aplay " + path)
}

// writeWAV writes PCM16 samples as a RIFF WAV file.
func writeWAV(filename string, samples []int16, sampleRate, channels int) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	dataSize := len(samples) * 2
	fileSize := 36 + dataSize

	// RIFF header
	f.Write([]byte("RIFF"))
	binary.Write(f, binary.LittleEndian, uint32(fileSize))
	f.Write([]byte("WAVE"))

	// fmt chunk
	f.Write([]byte("fmt "))
	binary.Write(f, binary.LittleEndian, uint32(16))
	binary.Write(f, binary.LittleEndian, uint16(1))
	binary.Write(f, binary.LittleEndian, uint16(channels))
	binary.Write(f, binary.LittleEndian, uint32(sampleRate))
	binary.Write(f, binary.LittleEndian, uint32(sampleRate*channels*2))
	binary.Write(f, binary.LittleEndian, uint16(channels*2))
	binary.Write(f, binary.LittleEndian, uint16(16))

	// data chunk
	f.Write([]byte("data"))
	binary.Write(f, binary.LittleEndian, uint32(dataSize))
	return binary.Write(f, binary.LittleEndian, samples)
}

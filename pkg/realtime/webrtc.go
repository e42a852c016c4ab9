package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"gopkg.in/hraban/opus.v2"

	"github.com/planfit/go-coach/internal/httpc"
	"github.com/planfit/go-coach/internal/log"
	"github.com/planfit/go-coach/pkg/audioio"
)

const (
	// DefaultBaseURL is the HTTP endpoint that accepts SDP offers.
	DefaultBaseURL = "https://api.openai.com/v1/realtime"

	// DefaultModel is the realtime model negotiated when none is configured.
	DefaultModel = "gpt-4o-realtime-preview-2024-12-17"
)

const (
	// All protocol events travel over this single data channel.
	dataChannelLabel = "oai-events"

	// Opus on RTP is always clocked at 48kHz. The realtime API itself
	// speaks PCM16 at 24kHz, so audio is resampled at both edges.
	opusSampleRate = 48000
	apiSampleRate  = 24000

	// 20ms of mono audio at 48kHz, the frame size sent to the encoder.
	opusFrameSamples = 960

	// 120ms at 48kHz, the largest frame the decoder can hand back.
	maxOpusFrameSamples = 5760
)

// WebRTCConfig configures a WebRTC transport.
type WebRTCConfig struct {
	BaseURL string         // SDP exchange endpoint, DefaultBaseURL if empty
	Model   string         // realtime model, DefaultModel if empty
	Mic     audioio.Source // local audio capture, required
	HTTP    *http.Client   // httpc.Client if nil
	Logger  *slog.Logger
}

// WebRTCTransport is a Transport backed by a peer connection: protocol
// events ride the data channel, audio rides Opus media tracks.
type WebRTCTransport struct {
	cfg    WebRTCConfig
	logger *slog.Logger

	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel

	// sendMu guards writes to the data channel and the closed/dcOpen
	// flags. deliver holds it while pushing to the channels so Close
	// cannot close them mid-send.
	sendMu sync.Mutex
	dcOpen bool
	closed bool

	closeOnce sync.Once
	events    chan []byte
	audio     chan audioio.Chunk
}

var _ Transport = (*WebRTCTransport)(nil)

// DialWebRTC opens the microphone, negotiates a peer connection with the
// realtime endpoint and returns a connected transport. The microphone is
// acquired before any network traffic so a device failure surfaces as
// ErrMicrophoneDenied rather than a negotiation error.
func DialWebRTC(ctx context.Context, bearer string, cfg WebRTCConfig) (*WebRTCTransport, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.HTTP == nil {
		cfg.HTTP = httpc.Client
	}
	if cfg.Logger == nil {
		cfg.Logger = log.L()
	}
	if cfg.Mic == nil {
		return nil, fmt.Errorf("%w: no audio source configured", ErrMicrophoneDenied)
	}

	if err := cfg.Mic.Start(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMicrophoneDenied, err)
	}

	t := &WebRTCTransport{
		cfg:    cfg,
		logger: cfg.Logger.With("transport", "webrtc"),
		events: make(chan []byte, 64),
		audio:  make(chan audioio.Chunk, 32),
	}

	if err := t.negotiate(ctx, bearer); err != nil {
		t.Close()
		return nil, err
	}

	t.logger.Info("webrtc transport connected", "model", cfg.Model)
	return t, nil
}

// negotiate runs the offer/answer exchange: build the peer connection with
// the outbound microphone track and the event data channel, gather ICE
// candidates, post the offer as SDP and apply the answer.
func (t *WebRTCTransport) negotiate(ctx context.Context, bearer string) error {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return fmt.Errorf("%w: create peer connection: %v", ErrNegotiationFailed, err)
	}
	t.pc = pc

	micTrack, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: opusSampleRate,
		Channels:  2,
	}, "audio", "coach-mic")
	if err != nil {
		return fmt.Errorf("%w: create mic track: %v", ErrNegotiationFailed, err)
	}
	sender, err := pc.AddTrack(micTrack)
	if err != nil {
		return fmt.Errorf("%w: add mic track: %v", ErrNegotiationFailed, err)
	}
	go drainRTCP(sender)

	dc, err := pc.CreateDataChannel(dataChannelLabel, nil)
	if err != nil {
		return fmt.Errorf("%w: create data channel: %v", ErrNegotiationFailed, err)
	}
	t.dc = dc

	dc.OnOpen(func() {
		t.sendMu.Lock()
		t.dcOpen = true
		t.sendMu.Unlock()
		t.logger.Info("data channel open", "label", dc.Label())
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		t.deliverEvent(msg.Data)
	})

	pc.OnTrack(t.handleRemoteTrack)
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		t.logger.Debug("peer connection state", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			go t.Close()
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("%w: create offer: %v", ErrNegotiationFailed, err)
	}

	// Wait for ICE gathering so the offer carries all candidates. The
	// answer endpoint is plain HTTP, there is no trickle channel.
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("%w: set local description: %v", ErrNegotiationFailed, err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrNegotiationFailed, ctx.Err())
	}

	answer, err := t.exchangeSDP(ctx, bearer, pc.LocalDescription().SDP)
	if err != nil {
		return err
	}

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer,
	}); err != nil {
		return fmt.Errorf("%w: set remote description: %v", ErrNegotiationFailed, err)
	}

	go t.pumpMicrophone(micTrack)
	return nil
}

// exchangeSDP posts the local offer and returns the remote answer.
func (t *WebRTCTransport) exchangeSDP(ctx context.Context, bearer, offerSDP string) (string, error) {
	endpoint := t.cfg.BaseURL + "?model=" + url.QueryEscape(t.cfg.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(offerSDP))
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", ErrNegotiationFailed, err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Content-Type", "application/sdp")

	resp, err := t.cfg.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: post offer: %v", ErrNegotiationFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read answer: %v", ErrNegotiationFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: status %d: %s", ErrNegotiationFailed, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if len(body) == 0 {
		return "", fmt.Errorf("%w: empty answer", ErrNegotiationFailed)
	}
	return string(body), nil
}

// handleRemoteTrack decodes the model's Opus stream and feeds it to Audio()
// as 24kHz mono PCM.
func (t *WebRTCTransport) handleRemoteTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	if track.Kind() != webrtc.RTPCodecTypeAudio {
		return
	}
	t.logger.Info("remote audio track", "codec", track.Codec().MimeType)

	decoder, err := opus.NewDecoder(opusSampleRate, 1)
	if err != nil {
		t.logger.Error("opus decoder init failed", "error", err)
		return
	}

	frame := make([]int16, maxOpusFrameSamples)
	var (
		lastSeq uint16
		started bool
		lost    int
	)
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if lost > 0 {
				t.logger.Debug("remote track closed", "lost_packets", lost)
			}
			return
		}
		if started {
			if gap := packetGap(lastSeq, pkt); gap > 0 {
				lost += gap
			}
		}
		lastSeq, started = pkt.SequenceNumber, true
		if len(pkt.Payload) == 0 {
			continue
		}

		n, err := decoder.Decode(pkt.Payload, frame)
		if err != nil {
			t.logger.Debug("opus decode failed", "error", err)
			continue
		}

		t.deliverAudio(audioio.Chunk{
			Samples:    audioio.Resample(frame[:n], opusSampleRate, apiSampleRate),
			SampleRate: apiSampleRate,
			Channels:   1,
		})
	}
}

// packetGap returns how many packets went missing between prev and pkt,
// accounting for sequence number wrap. Duplicates report -1 and are
// ignored by the caller.
func packetGap(prev uint16, pkt *rtp.Packet) int {
	return int(pkt.SequenceNumber-prev) - 1
}

// pumpMicrophone encodes captured audio to Opus and writes it to the
// outbound track, re-framing to 20ms regardless of the capture frame size.
func (t *WebRTCTransport) pumpMicrophone(track *webrtc.TrackLocalStaticSample) {
	encoder, err := opus.NewEncoder(opusSampleRate, 1, opus.AppVoIP)
	if err != nil {
		t.logger.Error("opus encoder init failed", "error", err)
		return
	}

	frameDuration := opusFrameSamples * time.Second / opusSampleRate
	pending := make([]int16, 0, opusFrameSamples*4)
	buf := make([]byte, 1500)

	for chunk := range t.cfg.Mic.Stream() {
		samples := chunk.Samples
		if chunk.SampleRate != opusSampleRate {
			samples = audioio.Resample(samples, chunk.SampleRate, opusSampleRate)
		}
		pending = append(pending, samples...)

		for len(pending) >= opusFrameSamples {
			n, err := encoder.Encode(pending[:opusFrameSamples], buf)
			pending = append(pending[:0], pending[opusFrameSamples:]...)
			if err != nil {
				t.logger.Debug("opus encode failed", "error", err)
				continue
			}
			if err := track.WriteSample(media.Sample{
				Data:     append([]byte(nil), buf[:n]...),
				Duration: frameDuration,
			}); err != nil {
				t.logger.Debug("write sample failed", "error", err)
			}
		}
	}
}

// Send marshals v and writes it as one text message on the data channel.
func (t *WebRTCTransport) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: marshal: %v", ErrSendFailed, err)
	}

	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	if t.closed {
		return fmt.Errorf("%w: transport closed", ErrSendFailed)
	}
	if !t.dcOpen {
		return fmt.Errorf("%w: data channel not open", ErrSendFailed)
	}
	if err := t.dc.SendText(string(data)); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return nil
}

// Events returns the raw server event stream.
func (t *WebRTCTransport) Events() <-chan []byte {
	return t.events
}

// Audio returns the decoded model speech stream.
func (t *WebRTCTransport) Audio() <-chan audioio.Chunk {
	return t.audio
}

// Close tears down the peer connection, stops the microphone and closes
// both output channels. Safe to call more than once.
func (t *WebRTCTransport) Close() error {
	t.closeOnce.Do(func() {
		t.sendMu.Lock()
		t.closed = true
		t.sendMu.Unlock()

		if t.dc != nil {
			t.dc.Close()
		}
		if t.pc != nil {
			t.pc.Close()
		}
		if t.cfg.Mic != nil {
			t.cfg.Mic.Stop()
		}

		close(t.events)
		close(t.audio)
		t.logger.Info("webrtc transport closed")
	})
	return nil
}

func (t *WebRTCTransport) deliverEvent(data []byte) {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	if t.closed {
		return
	}
	select {
	case t.events <- append([]byte(nil), data...):
	default:
		t.logger.Warn("event channel full, dropping event")
	}
}

func (t *WebRTCTransport) deliverAudio(chunk audioio.Chunk) {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	if t.closed {
		return
	}
	select {
	case t.audio <- chunk:
	default:
		// Audio is best-effort, a stalled consumer just loses frames.
	}
}

// drainRTCP services the interceptor pipeline for the outbound track.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

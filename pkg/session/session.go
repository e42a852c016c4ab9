// Package session owns the lifecycle of a coaching call: credential fetch,
// transport dial, the choreography engine, the silence monitor and teardown.
// Exactly one session is live per Controller at a time.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/planfit/go-coach/internal/log"
	"github.com/planfit/go-coach/pkg/audio"
	"github.com/planfit/go-coach/pkg/audioio"
	"github.com/planfit/go-coach/pkg/coach"
	"github.com/planfit/go-coach/pkg/planstore"
	"github.com/planfit/go-coach/pkg/realtime"
	"github.com/planfit/go-coach/pkg/token"
)

// ErrAlreadyStarted is returned by Start while a session is connecting or
// connected. The caller must Stop first; there is no implicit restart.
var ErrAlreadyStarted = errors.New("session: already started")

// StatusEventType tags the synthetic events subscribers receive on every
// lifecycle change, alongside the protocol events.
const StatusEventType = "session.status"

// maxEventLog caps the in-memory protocol event log kept for inspection.
const maxEventLog = 256

// Status is the lifecycle state of the controller.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Event is one entry of the session's inspection stream: either a received
// protocol event or a synthetic status change.
type Event struct {
	Time time.Time       `json:"time"`
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"raw,omitempty"`
}

// CredentialSource mints one short-lived credential per session.
// token.Client satisfies it.
type CredentialSource interface {
	Fetch(ctx context.Context) (*token.Credential, error)
}

// Config wires a Controller.
type Config struct {
	Tokens CredentialSource // required
	Dial   realtime.Dialer  // required
	Store  *planstore.Store // required
	Sink   audioio.Sink     // optional speaker for the model's voice

	// Delay is the engine's follow-up delay. Zero keeps the default,
	// negative sends follow-ups inline.
	Delay time.Duration

	// SilenceThreshold and SilenceWindow tune the terminator. Zero keeps
	// the package defaults.
	SilenceThreshold float64
	SilenceWindow    time.Duration

	Logger *slog.Logger
}

// Controller drives Disconnected → Connecting → Connected → Disconnected.
// Connected is only entered once the engine has registered its tools, so a
// caller seeing Connected knows the choreography is live.
type Controller struct {
	tokens  CredentialSource
	dial    realtime.Dialer
	store   *planstore.Store
	sink    audioio.Sink
	delay   time.Duration
	monitor *audio.Monitor
	logger  *slog.Logger

	mu        sync.Mutex
	status    Status
	id        string
	started   time.Time
	events    []Event
	engine    *coach.Engine
	transport realtime.Transport
	cancel    context.CancelFunc
	loopDone  chan struct{}
	subs      map[string]func(Event)
}

// NewController validates the wiring and returns a disconnected controller.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("session: credential source is required")
	}
	if cfg.Dial == nil {
		return nil, fmt.Errorf("session: dialer is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("session: result store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.L()
	}

	var monOpts []audio.MonitorOption
	if cfg.SilenceThreshold > 0 {
		monOpts = append(monOpts, audio.WithThreshold(cfg.SilenceThreshold))
	}
	if cfg.SilenceWindow > 0 {
		monOpts = append(monOpts, audio.WithWindow(cfg.SilenceWindow))
	}

	return &Controller{
		tokens:  cfg.Tokens,
		dial:    cfg.Dial,
		store:   cfg.Store,
		sink:    cfg.Sink,
		delay:   cfg.Delay,
		monitor: audio.NewMonitor(cfg.Logger, monOpts...),
		logger:  cfg.Logger,
		subs:    make(map[string]func(Event)),
	}, nil
}

// Start brings a session up: Disconnected → Connecting, credential fetch,
// dial, then the event loop. Connected is reached asynchronously once the
// engine registers its tools. Any setup failure reverts to Disconnected
// and is returned. A concurrent Stop during setup wins quietly.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.status != StatusDisconnected {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.status = StatusConnecting
	c.id = uuid.NewString()
	c.started = time.Now()
	c.events = nil
	id := c.id
	c.mu.Unlock()

	c.logger.Info("session starting", "session_id", id)
	c.notifyStatus(StatusConnecting)

	cred, err := c.tokens.Fetch(ctx)
	if err != nil {
		c.fail(err)
		return err
	}

	transport, err := c.dial(ctx, cred.Value)
	if err != nil {
		c.fail(err)
		return err
	}

	engineOpts := []coach.Option{}
	if c.delay != 0 {
		engineOpts = append(engineOpts, coach.WithDelay(c.delay))
	}
	engine := coach.NewEngine(transport, c.store, c.logger, engineOpts...)
	engine.OnRegistered = c.handleRegistered
	engine.OnClosing = c.armMonitor

	sink := c.sink
	if sink != nil {
		if err := sink.Start(ctx); err != nil {
			c.logger.Warn("speaker unavailable, continuing without playback", "error", err)
			sink = nil
		}
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	if c.status != StatusConnecting {
		c.mu.Unlock()
		cancel()
		engine.Stop()
		transport.Close()
		if sink != nil {
			sink.Stop()
		}
		return nil
	}
	c.engine = engine
	c.transport = transport
	c.cancel = cancel
	c.loopDone = done
	c.mu.Unlock()

	go c.runLoop(loopCtx, transport, engine, sink, done)
	return nil
}

// Stop tears the session down from any state and returns to Disconnected.
// Safe to call repeatedly, including when nothing is running.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.status == StatusDisconnected && c.transport == nil {
		c.mu.Unlock()
		return
	}
	engine := c.engine
	transport := c.transport
	cancel := c.cancel
	done := c.loopDone
	c.engine = nil
	c.transport = nil
	c.cancel = nil
	c.loopDone = nil
	c.status = StatusDisconnected
	c.mu.Unlock()

	if engine != nil {
		engine.Stop()
	}
	if cancel != nil {
		cancel()
	}
	if transport != nil {
		transport.Close()
	}
	if done != nil {
		<-done
	}
	c.monitor.Disarm()
	if c.sink != nil {
		c.sink.Stop()
	}

	c.logger.Info("session stopped")
	c.notifyStatus(StatusDisconnected)
}

// Status returns the current lifecycle state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// SessionID returns the live session's identifier, empty when disconnected.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == StatusDisconnected {
		return ""
	}
	return c.id
}

// Elapsed returns how long the current session has been running.
func (c *Controller) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == StatusDisconnected {
		return 0
	}
	return time.Since(c.started)
}

// Step reports the choreography's progress for inspection.
func (c *Controller) Step() string {
	c.mu.Lock()
	engine := c.engine
	c.mu.Unlock()
	if engine == nil {
		return coach.StateIdle.String()
	}
	return engine.State().String()
}

// Events returns the received protocol events, most recent first. A
// positive limit truncates the result.
func (c *Controller) Events(limit int) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.events)
	if limit > 0 && limit < n {
		n = limit
	}
	return append([]Event(nil), c.events[:n]...)
}

// Results returns the durable step results recorded so far.
func (c *Controller) Results() map[string]planstore.Entry {
	return c.store.All()
}

// Subscribe registers fn for protocol and status events. The returned
// function cancels the subscription.
func (c *Controller) Subscribe(fn func(Event)) func() {
	id := uuid.NewString()
	c.mu.Lock()
	c.subs[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// runLoop is the session's single event loop: protocol events feed the
// engine, audio feeds the silence monitor and the speaker. It exits when
// the transport closes or the session is cancelled.
func (c *Controller) runLoop(ctx context.Context, transport realtime.Transport, engine *coach.Engine, sink audioio.Sink, done chan struct{}) {
	defer close(done)

	events := transport.Events()
	audioIn := transport.Audio()

	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-events:
			if !ok {
				c.logger.Info("transport closed, ending session")
				go c.Stop()
				return
			}
			c.handleRaw(raw, engine)
		case chunk, ok := <-audioIn:
			if !ok {
				audioIn = nil
				continue
			}
			c.monitor.Feed(chunk)
			if sink != nil {
				if err := sink.Write(ctx, chunk); err != nil {
					c.logger.Debug("playback write failed", "error", err)
				}
			}
		}
	}
}

// handleRaw parses one wire payload, logs it most-recent-first, notifies
// subscribers and feeds the engine. Malformed payloads are dropped here.
func (c *Controller) handleRaw(raw []byte, engine *coach.Engine) {
	ev, err := realtime.ParseEvent(raw)
	if err != nil {
		c.logger.Warn("malformed event dropped", "error", err)
		return
	}

	entry := Event{Time: time.Now(), Type: string(ev.Type), Raw: ev.Raw}
	c.mu.Lock()
	c.events = append([]Event{entry}, c.events...)
	if len(c.events) > maxEventLog {
		c.events = c.events[:maxEventLog]
	}
	c.mu.Unlock()

	c.notify(entry)
	engine.HandleEvent(ev)
}

// handleRegistered advances Connecting → Connected once the engine has
// its tools in place.
func (c *Controller) handleRegistered() {
	c.mu.Lock()
	if c.status != StatusConnecting {
		c.mu.Unlock()
		return
	}
	c.status = StatusConnected
	c.mu.Unlock()

	c.logger.Info("session connected")
	c.notifyStatus(StatusConnected)
}

// armMonitor starts silence detection once the choreography is closing.
func (c *Controller) armMonitor() {
	c.logger.Info("plan confirmed, arming silence monitor")
	c.monitor.Arm(func() {
		c.logger.Info("sustained silence detected, ending session")
		go c.Stop()
	})
}

// fail reverts a half-started session to Disconnected.
func (c *Controller) fail(err error) {
	c.logger.Error("session start failed", "error", err)
	c.mu.Lock()
	c.status = StatusDisconnected
	c.id = ""
	c.mu.Unlock()
	c.notifyStatus(StatusDisconnected)
}

func (c *Controller) notify(ev Event) {
	c.mu.Lock()
	subs := make([]func(Event), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(ev)
	}
}

func (c *Controller) notifyStatus(s Status) {
	payload, _ := json.Marshal(map[string]string{"status": s.String()})
	c.notify(Event{Time: time.Now(), Type: StatusEventType, Raw: payload})
}

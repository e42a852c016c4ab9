package coach

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/planfit/go-coach/internal/log"
	"github.com/planfit/go-coach/pkg/realtime"
)

// DefaultFollowUpDelay is how long the engine waits after a completed step
// before sending the next instruction, giving the model's current utterance
// a moment to finish.
const DefaultFollowUpDelay = 500 * time.Millisecond

// State is the engine's position in the plan choreography.
type State int

const (
	StateIdle State = iota
	StateAwaitingReview
	StateAwaitingAdjustment
	StateAwaitingConfirmation
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingReview:
		return "awaiting_review"
	case StateAwaitingAdjustment:
		return "awaiting_adjustment"
	case StateAwaitingConfirmation:
		return "awaiting_confirmation"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Sender posts outbound protocol events. realtime.Transport satisfies it.
type Sender interface {
	Send(v any) error
}

// Recorder persists one step result. Writes must not block the caller;
// planstore.Store satisfies it.
type Recorder interface {
	Record(key string, fields map[string]any)
}

// Engine is the choreography state machine. It consumes parsed server
// events and advances Idle → AwaitingReview → AwaitingAdjustment →
// AwaitingConfirmation → Closing, never skipping or regressing: a function
// call only matches the state that expects it, so late duplicates of an
// already-handled step are ignored. Failed sends are logged and dropped,
// the state keeps whatever progress it had.
type Engine struct {
	sender Sender
	store  Recorder
	logger *slog.Logger
	delay  time.Duration

	mu      sync.Mutex
	state   State
	stopped bool
	timers  []*time.Timer

	// OnRegistered fires once after the tool registration message has been
	// sent. Set before the first event is handled.
	OnRegistered func()

	// OnClosing fires once when the choreography enters Closing, at which
	// point the caller should start watching for sustained silence. Set
	// before the first event is handled.
	OnClosing func()
}

// Option configures an Engine.
type Option func(*Engine)

// WithDelay overrides the follow-up delay. Zero or negative sends
// follow-ups inline.
func WithDelay(d time.Duration) Option {
	return func(e *Engine) { e.delay = d }
}

// NewEngine creates an engine in the Idle state.
func NewEngine(sender Sender, store Recorder, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = log.L()
	}
	e := &Engine{
		sender: sender,
		store:  store,
		logger: logger,
		delay:  DefaultFollowUpDelay,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns the engine's current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Stop invalidates the engine: pending delayed follow-ups become no-ops
// and further events are ignored. Safe to call more than once.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	timers := e.timers
	e.timers = nil
	e.mu.Unlock()

	for _, t := range timers {
		t.Stop()
	}
}

// HandleEvent feeds one parsed server event through the state machine.
// Event types outside the protocol are ignored.
func (e *Engine) HandleEvent(ev *realtime.ServerEvent) {
	switch ev.Type {
	case realtime.EventSessionCreated:
		e.handleSessionCreated()
	case realtime.EventResponseDone:
		for _, call := range ev.FunctionCalls() {
			e.handleFunctionCall(call)
		}
	case realtime.EventError:
		if ev.Error != nil {
			e.logger.Warn("server error event", "code", ev.Error.Code, "message", ev.Error.Message)
		}
	}
}

// handleSessionCreated registers the tools exactly once. The state advances
// before the send so a duplicate session.created cannot register twice.
func (e *Engine) handleSessionCreated() {
	e.mu.Lock()
	if e.stopped || e.state != StateIdle {
		e.mu.Unlock()
		return
	}
	e.state = StateAwaitingReview
	e.mu.Unlock()

	tools := Tools()
	msg := map[string]any{
		"type": string(realtime.EventSessionUpdate),
		"session": map[string]any{
			"tools":       tools,
			"tool_choice": "auto",
		},
	}
	if err := e.sender.Send(msg); err != nil {
		e.logger.Warn("tool registration send failed", "error", err)
		return
	}

	e.logger.Info("tools registered", "count", len(tools))
	if e.OnRegistered != nil {
		e.OnRegistered()
	}
}

// handleFunctionCall advances one choreography step if the call names the
// tool the current state is waiting for. Anything else, including a late
// duplicate of an already-handled step, is logged and dropped.
func (e *Engine) handleFunctionCall(call realtime.OutputItem) {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}

	var (
		key          string
		wrap         string
		instructions string
		next         State
	)
	switch {
	case e.state == StateAwaitingReview && call.Name == ToolReviewPlan:
		key, wrap, instructions, next = KeyLastReview, "feedback", adjustInstructions, StateAwaitingAdjustment
	case e.state == StateAwaitingAdjustment && call.Name == ToolAdjustPlan:
		key, wrap, instructions, next = KeyLastAdjustment, "adjustment", confirmInstructions, StateAwaitingConfirmation
	case e.state == StateAwaitingConfirmation && call.Name == ToolConfirmPlan:
		key, wrap, instructions, next = KeyLastConfirmation, "confirmation", farewellInstructions, StateClosing
	default:
		state := e.state
		e.mu.Unlock()
		e.logger.Debug("ignoring function call", "tool", call.Name, "state", state.String())
		return
	}
	e.state = next
	e.mu.Unlock()

	args := make(map[string]any)
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			e.logger.Warn("function call arguments unparseable", "tool", call.Name, "error", err)
			args = map[string]any{}
		}
	}
	e.store.Record(key, map[string]any{wrap: args})
	e.logger.Info("step completed", "tool", call.Name, "state", next.String())

	e.scheduleFollowUp(instructions)

	if next == StateClosing && e.OnClosing != nil {
		e.OnClosing()
	}
}

// scheduleFollowUp sends the next instruction after the configured delay.
// The timer re-checks liveness when it fires, a stop in between wins.
func (e *Engine) scheduleFollowUp(instructions string) {
	if e.delay <= 0 {
		e.sendInstructions(instructions)
		return
	}

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	timer := time.AfterFunc(e.delay, func() { e.sendInstructions(instructions) })
	e.timers = append(e.timers, timer)
	e.mu.Unlock()
}

func (e *Engine) sendInstructions(instructions string) {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	msg := map[string]any{
		"type": string(realtime.EventResponseCreate),
		"response": map[string]any{
			"instructions": instructions,
		},
	}
	if err := e.sender.Send(msg); err != nil {
		e.logger.Warn("follow-up send failed", "error", err)
	}
}

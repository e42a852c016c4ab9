// Package realtime connects a coaching session to OpenAI's Realtime API.
// It provides the wire event envelope plus two interchangeable transports:
// WebRTC (data channel for events, media tracks for audio) and WebSocket
// (everything multiplexed over one socket).
package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventType identifies a Realtime API event.
type EventType string

const (
	// Server → client events
	EventSessionCreated     EventType = "session.created"
	EventSessionUpdated     EventType = "session.updated"
	EventResponseDone       EventType = "response.done"
	EventResponseAudioDelta EventType = "response.audio.delta"
	EventError              EventType = "error"

	// Client → server events
	EventSessionUpdate    EventType = "session.update"
	EventResponseCreate   EventType = "response.create"
	EventInputAudioAppend EventType = "input_audio_buffer.append"
)

// ErrMalformedEvent is returned when a server payload cannot be decoded.
var ErrMalformedEvent = errors.New("realtime: malformed event")

// OutputItem is one item in a completed response. Function calls carry
// their arguments as a JSON-encoded string, exactly as the API sends them.
type OutputItem struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// Response is the body of a response.done event.
type Response struct {
	ID     string       `json:"id,omitempty"`
	Status string       `json:"status,omitempty"`
	Output []OutputItem `json:"output,omitempty"`
}

// APIError is the body of an error event.
type APIError struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// ServerEvent is the envelope for events received from the API. Only the
// fields the session needs are decoded; Raw keeps the full payload for
// logging and for consumers that want more.
type ServerEvent struct {
	Type     EventType       `json:"type"`
	EventID  string          `json:"event_id,omitempty"`
	Session  json.RawMessage `json:"session,omitempty"`
	Response *Response       `json:"response,omitempty"`
	Delta    string          `json:"delta,omitempty"`
	Error    *APIError       `json:"error,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// ParseEvent decodes a server event envelope. Payloads that are not valid
// JSON or carry no type are rejected with ErrMalformedEvent; unknown event
// types parse fine and are simply ignored by callers.
func ParseEvent(data []byte) (*ServerEvent, error) {
	var ev ServerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if ev.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	}
	ev.Raw = append(json.RawMessage(nil), data...)
	return &ev, nil
}

// FunctionCalls returns the function_call items of a response.done event,
// in output order. Other item types (messages, audio) are skipped.
func (e *ServerEvent) FunctionCalls() []OutputItem {
	if e.Response == nil {
		return nil
	}
	var calls []OutputItem
	for _, item := range e.Response.Output {
		if item.Type == "function_call" {
			calls = append(calls, item)
		}
	}
	return calls
}

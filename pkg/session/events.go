package session

import (
	"github.com/mbernuy21/ai-english-tutor/pkg/conversation"
)

// Event is the interface for everything the pipeline emits toward the UI.
type Event interface {
	// EventType returns the event type string for serialization.
	EventType() string
}

// StartedEvent is emitted once the transport is open and capture has begun.
type StartedEvent struct {
	SessionID string `json:"session_id"`
	Mode      string `json:"mode"`
}

func (e *StartedEvent) EventType() string { return "session.started" }

// GreetingEvent carries the mode's greeting text, surfaced before any model
// output arrives.
type GreetingEvent struct {
	Text string `json:"text"`
}

func (e *GreetingEvent) EventType() string { return "session.greeting" }

// InputDeltaEvent carries a partial user transcript update.
type InputDeltaEvent struct {
	Text string `json:"text"`
}

func (e *InputDeltaEvent) EventType() string { return "transcript.input_delta" }

// OutputDeltaEvent carries a partial AI transcript update.
type OutputDeltaEvent struct {
	Text string `json:"text"`
}

func (e *OutputDeltaEvent) EventType() string { return "transcript.output_delta" }

// TurnFinalizedEvent carries the turns frozen by a turn-complete signal.
type TurnFinalizedEvent struct {
	Turns []conversation.Turn `json:"turns"`
	Stage string              `json:"stage,omitempty"`
}

func (e *TurnFinalizedEvent) EventType() string { return "transcript.turn_finalized" }

// NoteAddedEvent carries a newly collected session note.
type NoteAddedEvent struct {
	Note conversation.Note `json:"note"`
}

func (e *NoteAddedEvent) EventType() string { return "notes.added" }

// AudioScheduledEvent reports a model audio chunk handed to the playback
// scheduler.
type AudioScheduledEvent struct {
	StartAt    float64 `json:"start_at"`
	DurationMs int     `json:"duration_ms"`
}

func (e *AudioScheduledEvent) EventType() string { return "audio.scheduled" }

// InterruptedEvent signals barge-in: the model's turn was cut off and all
// scheduled playback was discarded.
type InterruptedEvent struct{}

func (e *InterruptedEvent) EventType() string { return "audio.interrupted" }

// ErrorEvent surfaces a classified error to the UI.
type ErrorEvent struct {
	Type    ErrorType `json:"error_type"`
	Message string    `json:"message"`
}

func (e *ErrorEvent) EventType() string { return "error" }

// ClosedEvent is the final event on the stream.
type ClosedEvent struct {
	Reason string `json:"reason,omitempty"`
}

func (e *ClosedEvent) EventType() string { return "session.closed" }

// DebugEvent carries diagnostic information when debug mode is enabled.
type DebugEvent struct {
	Category string `json:"category"`
	Message  string `json:"message"`
}

func (e *DebugEvent) EventType() string { return "debug" }

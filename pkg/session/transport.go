package session

import (
	"context"

	"github.com/mbernuy21/ai-english-tutor/pkg/audio"
)

// TransportConfig configures one bidirectional live connection.
type TransportConfig struct {
	// Model is the live model identifier.
	Model string

	// SystemPrompt is the opaque per-mode instruction string.
	SystemPrompt string

	// Voice selects the synthesized voice, if the backend supports it.
	Voice string
}

// TransportEvent is a demultiplexed inbound message from the live
// connection. Events must be processed in strict arrival order.
type TransportEvent interface {
	transportEvent()
}

// AudioChunk carries decoded output audio bytes (PCM16LE, 24 kHz mono).
type AudioChunk struct {
	Data []byte
}

// InputTranscript carries a user speech transcription delta.
type InputTranscript struct {
	Text string
}

// OutputTranscript carries a model speech transcription delta.
type OutputTranscript struct {
	Text string
}

// TurnComplete signals the end of the current exchange unit.
type TurnComplete struct{}

// Interrupted signals that the model's turn was cut off by user speech.
// It must be handled before any later event in the stream.
type Interrupted struct{}

// TransportError carries a mid-session failure. The connection is no longer
// usable; a TransportClosed event follows.
type TransportError struct {
	Err error
}

// TransportClosed is the final event on the stream. Err is nil on a clean,
// locally requested close.
type TransportClosed struct {
	Err error
}

func (AudioChunk) transportEvent()       {}
func (InputTranscript) transportEvent()  {}
func (OutputTranscript) transportEvent() {}
func (TurnComplete) transportEvent()     {}
func (Interrupted) transportEvent()      {}
func (TransportError) transportEvent()   {}
func (TransportClosed) transportEvent()  {}

// Transport owns a bidirectional streaming connection to the AI backend.
// Implementations demultiplex inbound messages into TransportEvents in
// arrival order and accept outbound microphone frames.
type Transport interface {
	// Open establishes the connection and returns the inbound event
	// stream. The channel is closed after a TransportClosed event.
	Open(ctx context.Context, cfg TransportConfig) (<-chan TransportEvent, error)

	// Send transmits one outbound audio frame. Frames sent when the
	// connection is not open are dropped silently.
	Send(frame audio.Frame) error

	// Close tears the connection down. Idempotent.
	Close() error
}

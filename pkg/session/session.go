// Package session orchestrates one live tutoring exchange: it owns the
// transport connection, feeds microphone frames out, demultiplexes inbound
// events into playback and transcript updates, and surfaces everything to
// the UI as an ordered event stream.
package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/mbernuy21/ai-english-tutor/pkg/audio"
	"github.com/mbernuy21/ai-english-tutor/pkg/conversation"
	"github.com/mbernuy21/ai-english-tutor/pkg/mode"
	"github.com/mbernuy21/ai-english-tutor/pkg/playback"
)

// MicSource captures microphone audio and delivers fixed-size float sample
// blocks to a callback. Implementations run capture on their own goroutine.
type MicSource interface {
	// Start opens the device and begins delivering blocks of blockSize
	// samples. It returns an error if the device cannot be opened.
	Start(ctx context.Context, blockSize int, fn func(samples []float32)) error

	// Stop ends capture. Idempotent.
	Stop()
}

// Config assembles one session.
type Config struct {
	// Mode is the resolved practice mode configuration.
	Mode mode.Config

	// Model overrides the default live model when non-empty.
	Model string

	// Voice overrides the default synthesized voice when non-empty.
	Voice string

	// Debug enables diagnostic events on the stream.
	Debug bool

	// Logger receives structured session logs. Defaults to slog.Default().
	Logger *slog.Logger
}

// Session is one live tutoring exchange. Events flow out on the channel
// returned by Start, in the order the pipeline produced them, ending with a
// ClosedEvent.
type Session struct {
	id        string
	cfg       Config
	outputCfg audio.Config
	log       *slog.Logger

	transport Transport
	scheduler *playback.Scheduler
	conv      *conversation.Conversation
	mic       MicSource

	events chan Event

	mu         sync.Mutex
	closing    bool
	closeCause string
}

// New assembles a session from its collaborators. mic may be nil when frames
// arrive remotely through SendFrame instead of a local device.
func New(cfg Config, transport Transport, scheduler *playback.Scheduler, mic MicSource) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()
	return &Session{
		id:        id,
		cfg:       cfg,
		outputCfg: audio.OutputConfig(),
		log:       logger.With("session_id", id, "mode", string(cfg.Mode.ID)),
		transport: transport,
		scheduler: scheduler,
		conv: conversation.New(conversation.Config{
			Multistage:    cfg.Mode.Multistage,
			TipExtraction: cfg.Mode.TipExtraction,
		}),
		mic:    mic,
		events: make(chan Event, 256),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Start opens the transport, begins microphone capture when a device is
// attached, and returns the outbound event stream.
func (s *Session) Start(ctx context.Context) (<-chan Event, error) {
	tEvents, err := s.transport.Open(ctx, TransportConfig{
		Model:        s.cfg.Model,
		SystemPrompt: s.cfg.Mode.SystemPrompt,
		Voice:        s.cfg.Voice,
	})
	if err != nil {
		s.scheduler.Reset()
		return nil, Classify(err)
	}

	if s.mic != nil {
		if err := s.mic.Start(ctx, audio.FrameSamples, s.onMicBlock); err != nil {
			_ = s.transport.Close()
			s.scheduler.Reset()
			return nil, NewPermissionError(err)
		}
		s.conv.StartRecording()
	}

	s.log.Info("session started")
	s.events <- &StartedEvent{SessionID: s.id, Mode: string(s.cfg.Mode.ID)}
	if s.cfg.Mode.Greeting != "" {
		s.events <- &GreetingEvent{Text: s.cfg.Mode.Greeting}
	}

	go s.eventLoop(tEvents)
	return s.events, nil
}

// onMicBlock encodes one captured sample block and ships it to the transport.
func (s *Session) onMicBlock(samples []float32) {
	frame := audio.EncodeFrame(samples)
	if s.cfg.Debug {
		rms := audio.CalculateRMSEnergy(frame.PCM)
		peak := audio.CalculatePeakAmplitude(frame.PCM)
		s.debugf("mic", fmt.Sprintf("block rms=%.4f peak=%.4f", rms, peak))
	}
	if err := s.transport.Send(frame); err != nil {
		s.log.Warn("send frame failed", "error", err)
	}
}

// SendFrame forwards an externally captured audio frame to the transport.
// Used when the microphone lives on the other side of a UI bridge.
func (s *Session) SendFrame(frame audio.Frame) error {
	s.conv.StartRecording()
	return s.transport.Send(frame)
}

// eventLoop is the single processing path for inbound transport events.
// Strict FIFO processing keeps transcript order and interrupt semantics
// faithful to the arrival order on the wire.
func (s *Session) eventLoop(tEvents <-chan TransportEvent) {
	for ev := range tEvents {
		switch ev := ev.(type) {
		case AudioChunk:
			s.handleAudio(ev.Data)

		case Interrupted:
			s.scheduler.Interrupt()
			s.events <- &InterruptedEvent{}
			s.debugf("audio", "playback interrupted")

		case InputTranscript:
			s.conv.OnInputDelta(ev.Text)
			s.events <- &InputDeltaEvent{Text: ev.Text}

		case OutputTranscript:
			s.conv.OnOutputDelta(ev.Text)
			s.events <- &OutputDeltaEvent{Text: ev.Text}

		case TurnComplete:
			s.handleTurnComplete()

		case TransportError:
			classified := Classify(ev.Err)
			s.log.Error("transport error", "type", classified.Type, "error", ev.Err)
			s.events <- &ErrorEvent{Type: classified.Type, Message: classified.Message}

		case TransportClosed:
			if ev.Err != nil && !s.isClosing() {
				// A drop mid-recording gets the distinct "closed
				// unexpectedly" message; before recording it is just a
				// transport failure, already surfaced by the
				// TransportError that precedes this event.
				if st := s.conv.State(); st == conversation.StateRecording || st == conversation.StateTurnInProgress {
					closeErr := NewUnexpectedCloseError(ev.Err)
					s.log.Error("transport closed unexpectedly", "error", ev.Err)
					s.events <- &ErrorEvent{Type: closeErr.Type, Message: closeErr.Message}
					s.setCloseCause("unexpected_close")
				} else {
					s.log.Error("transport closed", "error", ev.Err)
					s.setCloseCause("transport_error")
				}
			}
		}
	}

	s.finish()
}

// handleAudio schedules one model audio chunk for playback. An undecodable
// live chunk is session-fatal, same as any other transport failure; only the
// on-demand phrase path treats playback errors as recoverable.
func (s *Session) handleAudio(pcm []byte) {
	startAt, err := s.scheduler.Enqueue(pcm)
	if err != nil {
		playErr := NewPlaybackError(err)
		s.log.Error("audio chunk rejected", "error", err)
		s.events <- &ErrorEvent{Type: playErr.Type, Message: playErr.Message}
		s.setCloseCause("playback_error")
		_ = s.Close()
		return
	}
	s.events <- &AudioScheduledEvent{
		StartAt:    startAt,
		DurationMs: s.outputCfg.DurationMs(len(pcm)),
	}
}

// handleTurnComplete freezes the accumulated transcripts into turns and
// surfaces any feedback collected from the AI text.
func (s *Session) handleTurnComplete() {
	turns, notes := s.conv.OnTurnComplete()
	if len(turns) == 0 {
		return
	}

	finalized := &TurnFinalizedEvent{Turns: turns}
	if s.cfg.Mode.Multistage {
		finalized.Stage = s.conv.Stage().String()
	}
	s.events <- finalized

	for _, note := range notes {
		s.events <- &NoteAddedEvent{Note: note}
	}
	s.debugf("transcript", "turn finalized")
}

// Close initiates teardown. The event stream drains and ends with a
// ClosedEvent; safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	if s.closeCause == "" {
		s.closeCause = "stopped"
	}
	s.mu.Unlock()

	if s.mic != nil {
		s.mic.Stop()
	}
	return s.transport.Close()
}

// finish releases every session resource after the transport stream ends.
// Runs exactly once, on the event loop goroutine, so it may safely close the
// outbound channel.
func (s *Session) finish() {
	if s.mic != nil {
		s.mic.Stop()
	}
	_ = s.transport.Close()
	s.scheduler.Reset()
	s.conv.Close()

	s.mu.Lock()
	s.closing = true
	reason := s.closeCause
	s.mu.Unlock()

	s.log.Info("session closed", "reason", reason)
	s.events <- &ClosedEvent{Reason: reason}
	close(s.events)
}

func (s *Session) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

func (s *Session) setCloseCause(cause string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closeCause == "" {
		s.closeCause = cause
	}
}

func (s *Session) debugf(category, msg string) {
	if !s.cfg.Debug {
		return
	}
	s.events <- &DebugEvent{Category: category, Message: msg}
}

// State returns the conversation lifecycle state.
func (s *Session) State() conversation.State { return s.conv.State() }

// Transcript returns the finalized turns so far.
func (s *Session) Transcript() []conversation.Turn { return s.conv.Transcript() }

// Notes returns the collected session notes.
func (s *Session) Notes() []conversation.Note { return s.conv.Notes() }

// ExportNotes writes the collected notes as JSON.
func (s *Session) ExportNotes(w io.Writer) error {
	return s.conv.ExportNotes(w)
}

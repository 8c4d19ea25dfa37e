package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"google.golang.org/genai"

	"github.com/mbernuy21/ai-english-tutor/pkg/audio"
)

// DefaultLiveModel is the bidirectional audio model used for live sessions.
const DefaultLiveModel = "gemini-2.0-flash-live-001"

// DefaultVoice is the synthesized voice used when a mode does not pick one.
const DefaultVoice = "Aoede"

// GeminiTransport is the Transport implementation over the Gemini Live API.
// One transport owns at most one live connection at a time.
type GeminiTransport struct {
	client *genai.Client

	mu      sync.Mutex
	session *genai.Session
	events  chan TransportEvent

	open      atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewGeminiTransport creates a transport backed by the Gemini API.
func NewGeminiTransport(ctx context.Context, apiKey string) (*GeminiTransport, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiTransport{client: client}, nil
}

// Open establishes the live connection with the selected system prompt,
// requesting audio responses plus input and output transcription.
func (t *GeminiTransport) Open(ctx context.Context, cfg TransportConfig) (<-chan TransportEvent, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.session != nil {
		return nil, fmt.Errorf("transport already open")
	}

	model := cfg.Model
	if model == "" {
		model = DefaultLiveModel
	}
	voice := cfg.Voice
	if voice == "" {
		voice = DefaultVoice
	}

	connectCfg := &genai.LiveConnectConfig{
		ResponseModalities:       []genai.Modality{genai.ModalityAudio},
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		},
	}
	if cfg.SystemPrompt != "" {
		connectCfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: cfg.SystemPrompt}},
		}
	}

	session, err := t.client.Live.Connect(ctx, model, connectCfg)
	if err != nil {
		return nil, err
	}

	t.session = session
	t.events = make(chan TransportEvent, 256)
	t.open.Store(true)

	go t.readLoop(session, t.events)
	return t.events, nil
}

// readLoop receives inbound messages and demultiplexes them into transport
// events in strict arrival order.
func (t *GeminiTransport) readLoop(session *genai.Session, events chan<- TransportEvent) {
	defer close(events)

	for {
		msg, err := session.Receive()
		if err != nil {
			t.open.Store(false)
			if t.closed.Load() {
				// Locally requested close.
				events <- TransportClosed{}
				return
			}
			events <- TransportError{Err: err}
			events <- TransportClosed{Err: err}
			return
		}

		sc := msg.ServerContent
		if sc == nil {
			continue
		}

		// Interruption must be surfaced before anything else in the
		// message so playback stops first.
		if sc.Interrupted {
			events <- Interrupted{}
		}

		if sc.ModelTurn != nil {
			for _, part := range sc.ModelTurn.Parts {
				if part.InlineData != nil && len(part.InlineData.Data) > 0 {
					events <- AudioChunk{Data: part.InlineData.Data}
				}
			}
		}

		if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
			events <- InputTranscript{Text: sc.InputTranscription.Text}
		}
		if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
			events <- OutputTranscript{Text: sc.OutputTranscription.Text}
		}

		if sc.TurnComplete {
			events <- TurnComplete{}
		}
	}
}

// Send transmits one microphone frame. Frames produced after close are
// dropped silently.
func (t *GeminiTransport) Send(frame audio.Frame) error {
	if !t.open.Load() {
		return nil
	}

	t.mu.Lock()
	session := t.session
	t.mu.Unlock()
	if session == nil {
		return nil
	}

	return session.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{
			Data:     frame.PCM,
			MIMEType: frame.MIMEType,
		},
	})
}

// Close tears the connection down. Idempotent.
func (t *GeminiTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		t.open.Store(false)

		t.mu.Lock()
		session := t.session
		t.session = nil
		t.mu.Unlock()

		if session != nil {
			err = session.Close()
		}
	})
	return err
}

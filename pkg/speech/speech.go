// Package speech provides the on-demand text paths that sit beside the live
// session: one-shot phrase synthesis, grammar checking, and streaming text
// chat. These calls are request/response; the live audio pipeline stays in
// pkg/session.
package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/mbernuy21/ai-english-tutor/pkg/feedback"
)

// ErrSynthesisBusy is returned while a previous phrase is still being
// synthesized or played. One phrase at a time.
var ErrSynthesisBusy = errors.New("speech: synthesis already in progress")

// Generator produces text and speech from prompts.
type Generator interface {
	// GenerateText returns a complete text response for the prompt.
	GenerateText(ctx context.Context, prompt string) (string, error)

	// GenerateSpeech synthesizes text into PCM16LE 24 kHz mono audio.
	GenerateSpeech(ctx context.Context, text string) ([]byte, error)

	// StreamText generates a response and delivers it incrementally. A
	// non-nil error from fn stops the stream and is returned.
	StreamText(ctx context.Context, prompt string, fn func(delta string) error) error
}

// Player consumes synthesized PCM for output. The exclusive gate in
// SpeakPhrase is held until Player returns: a local device sink holds it
// for the hand-off to the output buffer, while a remote sink (the browser
// bridge) releases it once the audio is shipped, before the far end
// finishes playing.
type Player func(pcm []byte) error

// Service exposes the on-demand operations over a Generator.
type Service struct {
	gen   Generator
	play  Player
	inUse atomic.Bool
}

// NewService creates the service. play may be nil when callers only want the
// raw audio from Synthesize.
func NewService(gen Generator, play Player) *Service {
	return &Service{gen: gen, play: play}
}

// SpeakPhrase synthesizes a word or phrase and plays it. At most one phrase
// is in flight; a concurrent call fails with ErrSynthesisBusy rather than
// queueing.
func (s *Service) SpeakPhrase(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("speech: empty phrase")
	}
	if !s.inUse.CompareAndSwap(false, true) {
		return ErrSynthesisBusy
	}
	defer s.inUse.Store(false)

	pcm, err := s.gen.GenerateSpeech(ctx, text)
	if err != nil {
		return fmt.Errorf("synthesize phrase: %w", err)
	}
	if s.play == nil {
		return nil
	}
	if err := s.play(pcm); err != nil {
		return fmt.Errorf("play phrase: %w", err)
	}
	return nil
}

// Synthesize returns the raw PCM for a phrase without playing it, under the
// same exclusive gate as SpeakPhrase.
func (s *Service) Synthesize(ctx context.Context, text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("speech: empty phrase")
	}
	if !s.inUse.CompareAndSwap(false, true) {
		return nil, ErrSynthesisBusy
	}
	defer s.inUse.Store(false)

	return s.gen.GenerateSpeech(ctx, text)
}

// grammarPrompt asks for the same annotation block the live modes use so one
// parser covers both paths.
const grammarPrompt = `You are an English grammar checker. Review the sentence below.
If it contains an error, respond with exactly this block and nothing else:
### FEEDBACK ###
Type: grammar
Original: <the sentence as given>
Correction: <the corrected sentence>
Explanation: <one short explanation>
### END FEEDBACK ###
If the sentence is already correct, reply with the single word: Correct.

Sentence: %s`

// CheckGrammar runs a one-shot grammar review. It returns nil feedback when
// the text is already correct.
func (s *Service) CheckGrammar(ctx context.Context, text string) (*feedback.Feedback, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("speech: empty text")
	}

	reply, err := s.gen.GenerateText(ctx, fmt.Sprintf(grammarPrompt, text))
	if err != nil {
		return nil, fmt.Errorf("grammar check: %w", err)
	}

	_, fb := feedback.Parse(reply)
	return fb, nil
}

// Chat streams a free-form practice chat response, delivering text deltas to
// fn as they arrive.
func (s *Service) Chat(ctx context.Context, prompt string, fn func(delta string) error) error {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return fmt.Errorf("speech: empty prompt")
	}
	return s.gen.StreamText(ctx, prompt, fn)
}

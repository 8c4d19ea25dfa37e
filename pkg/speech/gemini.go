package speech

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

const (
	// DefaultTextModel handles grammar checks and chat.
	DefaultTextModel = "gemini-2.0-flash"

	// DefaultTTSModel handles phrase synthesis. Its output is PCM16LE
	// 24 kHz mono, matching the live playback format.
	DefaultTTSModel = "gemini-2.5-flash-preview-tts"

	// DefaultTTSVoice is the synthesis voice.
	DefaultTTSVoice = "Kore"
)

// GeneratorConfig overrides the default models; zero values keep defaults.
type GeneratorConfig struct {
	TextModel string
	TTSModel  string
	Voice     string
}

// GeminiGenerator is the Generator implementation over the Gemini API.
type GeminiGenerator struct {
	client    *genai.Client
	textModel string
	ttsModel  string
	voice     string
}

// NewGeminiGenerator wraps an existing client; the client may be shared with
// the live transport.
func NewGeminiGenerator(client *genai.Client, cfg GeneratorConfig) *GeminiGenerator {
	g := &GeminiGenerator{
		client:    client,
		textModel: cfg.TextModel,
		ttsModel:  cfg.TTSModel,
		voice:     cfg.Voice,
	}
	if g.textModel == "" {
		g.textModel = DefaultTextModel
	}
	if g.ttsModel == "" {
		g.ttsModel = DefaultTTSModel
	}
	if g.voice == "" {
		g.voice = DefaultTTSVoice
	}
	return g
}

// GenerateText returns a complete text response for the prompt.
func (g *GeminiGenerator) GenerateText(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.textModel, genai.Text(prompt), nil)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// GenerateSpeech synthesizes text into PCM16LE 24 kHz mono audio.
func (g *GeminiGenerator) GenerateSpeech(ctx context.Context, text string) ([]byte, error) {
	cfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: g.voice},
			},
		},
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.ttsModel, genai.Text(text), cfg)
	if err != nil {
		return nil, err
	}

	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return part.InlineData.Data, nil
			}
		}
	}
	return nil, fmt.Errorf("speech: response contained no audio")
}

// StreamText generates a response and delivers text deltas as they arrive.
func (g *GeminiGenerator) StreamText(ctx context.Context, prompt string, fn func(delta string) error) error {
	for resp, err := range g.client.Models.GenerateContentStream(ctx, g.textModel, genai.Text(prompt), nil) {
		if err != nil {
			return err
		}
		if delta := resp.Text(); delta != "" {
			if err := fn(delta); err != nil {
				return err
			}
		}
	}
	return nil
}

// Package bridge exposes the tutoring pipeline to a browser UI over a local
// websocket. The browser captures microphone audio and plays scheduled
// output; everything else runs here. Client frames and server frames are
// JSON envelopes with a "type" field.
package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mbernuy21/ai-english-tutor/pkg/audio"
	"github.com/mbernuy21/ai-english-tutor/pkg/conversation"
	"github.com/mbernuy21/ai-english-tutor/pkg/mode"
	"github.com/mbernuy21/ai-english-tutor/pkg/playback"
	"github.com/mbernuy21/ai-english-tutor/pkg/session"
	"github.com/mbernuy21/ai-english-tutor/pkg/speech"
)

const maxMessageBytes = 1 << 20

// Config assembles a Bridge.
type Config struct {
	Registry     *mode.Registry
	NewTransport session.TransportFactory

	// Generator backs the on-demand say/grammar/chat paths; nil disables
	// them.
	Generator speech.Generator

	// Credentials gates session start; nil skips the check.
	Credentials session.Credentials

	Model string
	Voice string
	Debug bool

	Logger *slog.Logger
}

// Bridge is the websocket handler. Each connection gets its own session
// manager, so one browser tab runs at most one live session.
type Bridge struct {
	cfg      Config
	log      *slog.Logger
	upgrader websocket.Upgrader
}

// New creates a bridge handler.
func New(cfg Config) *Bridge {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		cfg: cfg,
		log: logger,
		upgrader: websocket.Upgrader{
			// Local development endpoint; the browser UI is served from
			// an arbitrary dev origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the connection and runs the per-client loop.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxMessageBytes)

	c := &client{conn: conn, log: b.log}

	mgr, err := session.NewManager(session.ManagerConfig{
		Registry:     b.cfg.Registry,
		NewTransport: b.cfg.NewTransport,
		NewSink:      func() (playback.Sink, error) { return &wsSink{client: c}, nil },
		Credentials:  b.cfg.Credentials,
		Model:        b.cfg.Model,
		Voice:        b.cfg.Voice,
		Debug:        b.cfg.Debug,
		Logger:       b.log,
	})
	if err != nil {
		b.log.Error("bridge manager init failed", "error", err)
		return
	}
	c.manager = mgr

	if b.cfg.Generator != nil {
		c.speech = speech.NewService(b.cfg.Generator, c.writeAudio)
	}

	c.readLoop(r.Context())
	mgr.Stop()
}

// clientFrame is the inbound envelope.
type clientFrame struct {
	Type string `json:"type"`

	// start
	Mode  string `json:"mode,omitempty"`
	Level string `json:"level,omitempty"`
	Topic string `json:"topic,omitempty"`

	// audio_frame
	Data     string `json:"data,omitempty"`
	MIMEType string `json:"mime_type,omitempty"`

	// say / grammar_check / chat
	Text string `json:"text,omitempty"`
}

type client struct {
	conn    *websocket.Conn
	log     *slog.Logger
	manager *session.Manager
	speech  *speech.Service

	writeMu sync.Mutex

	mu   sync.Mutex
	sess *session.Session
}

func (c *client) readLoop(ctx context.Context) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			c.writeError("transport_error", "frames must be JSON text")
			continue
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.writeError("transport_error", "invalid frame")
			continue
		}

		switch frame.Type {
		case "start":
			c.handleStart(ctx, frame)
		case "stop":
			c.manager.Stop()
		case "audio_frame":
			c.handleAudioFrame(frame)
		case "say":
			c.handleSay(ctx, frame)
		case "grammar_check":
			c.handleGrammarCheck(ctx, frame)
		case "chat":
			c.handleChat(ctx, frame)
		case "export_notes":
			c.handleExportNotes()
		default:
			c.writeError("transport_error", "unknown frame type")
		}
	}
}

func (c *client) handleStart(ctx context.Context, frame clientFrame) {
	sess, events, err := c.manager.Start(ctx, mode.ID(frame.Mode), mode.Params{
		Level: frame.Level,
		Topic: frame.Topic,
	})
	if err != nil {
		c.writeSessionError(err)
		return
	}

	c.mu.Lock()
	c.sess = sess
	c.mu.Unlock()

	go func() {
		for ev := range events {
			c.writeEvent(ev)
		}
	}()
}

func (c *client) handleAudioFrame(frame clientFrame) {
	sess := c.session()
	if sess == nil {
		return
	}
	pcm, err := base64.StdEncoding.DecodeString(frame.Data)
	if err != nil {
		c.writeError("transport_error", "invalid audio frame encoding")
		return
	}
	mimeType := frame.MIMEType
	if mimeType == "" {
		mimeType = audio.InputMIMEType
	}
	if err := sess.SendFrame(audio.Frame{PCM: pcm, MIMEType: mimeType}); err != nil {
		c.log.Warn("forward audio frame failed", "error", err)
	}
}

func (c *client) handleSay(ctx context.Context, frame clientFrame) {
	if c.speech == nil {
		c.writeError("transport_error", "speech is not configured")
		return
	}
	go func() {
		if err := c.speech.SpeakPhrase(ctx, frame.Text); err != nil {
			if errors.Is(err, speech.ErrSynthesisBusy) {
				c.writeError("busy", "A phrase is already playing.")
				return
			}
			c.log.Warn("say failed", "error", err)
			c.writeError("playback_error", "Could not play that phrase.")
			return
		}
		c.writeJSON(map[string]any{"type": "say.done"})
	}()
}

func (c *client) handleGrammarCheck(ctx context.Context, frame clientFrame) {
	if c.speech == nil {
		c.writeError("transport_error", "speech is not configured")
		return
	}
	go func() {
		fb, err := c.speech.CheckGrammar(ctx, frame.Text)
		if err != nil {
			c.log.Warn("grammar check failed", "error", err)
			c.writeError("transport_error", "Grammar check failed.")
			return
		}
		c.writeJSON(map[string]any{
			"type":     "grammar.result",
			"text":     frame.Text,
			"feedback": fb,
		})
	}()
}

func (c *client) handleChat(ctx context.Context, frame clientFrame) {
	if c.speech == nil {
		c.writeError("transport_error", "speech is not configured")
		return
	}
	go func() {
		err := c.speech.Chat(ctx, frame.Text, func(delta string) error {
			return c.writeJSON(map[string]any{"type": "chat.delta", "text": delta})
		})
		if err != nil {
			c.log.Warn("chat failed", "error", err)
			c.writeError("transport_error", "Chat failed.")
			return
		}
		c.writeJSON(map[string]any{"type": "chat.done"})
	}()
}

func (c *client) handleExportNotes() {
	sess := c.session()
	if sess == nil {
		c.writeError("transport_error", "no session to export")
		return
	}

	doc := conversation.NotesExport{
		ExportedAt: time.Now(),
		Notes:      sess.Notes(),
	}
	c.writeJSON(map[string]any{
		"type":      "notes.export",
		"file_name": conversation.ExportFileName(doc.ExportedAt),
		"document":  doc,
	})
}

// session returns the current (or most recent) session.
func (c *client) session() *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

// writeAudio ships scheduled PCM to the browser as a base64 envelope.
func (c *client) writeAudio(pcm []byte) error {
	return c.writeJSON(map[string]any{
		"type": "audio.chunk",
		"data": base64.StdEncoding.EncodeToString(pcm),
	})
}

// writeEvent forwards a pipeline event, merging its type into the envelope.
func (c *client) writeEvent(ev session.Event) {
	body, err := json.Marshal(ev)
	if err != nil {
		c.log.Error("encode event failed", "event_type", ev.EventType(), "error", err)
		return
	}
	envelope := map[string]any{}
	if err := json.Unmarshal(body, &envelope); err != nil {
		c.log.Error("encode event failed", "event_type", ev.EventType(), "error", err)
		return
	}
	envelope["type"] = ev.EventType()
	c.writeJSON(envelope)
}

func (c *client) writeSessionError(err error) {
	var sessErr *session.Error
	if errors.As(err, &sessErr) {
		c.writeError(string(sessErr.Type), sessErr.Message)
		return
	}
	c.writeError("transport_error", err.Error())
}

func (c *client) writeError(errType, message string) {
	c.writeJSON(map[string]any{
		"type":       "error",
		"error_type": errType,
		"message":    message,
	})
}

func (c *client) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

// wsSink delivers scheduled playback audio to the browser. Flush tells the
// UI to drop anything it has buffered, which is how interrupts reach the
// far side of the bridge.
type wsSink struct {
	client *client
}

func (s *wsSink) Write(pcm []byte) error {
	return s.client.writeAudio(pcm)
}

func (s *wsSink) Flush() {
	_ = s.client.writeJSON(map[string]any{"type": "audio.flush"})
}

func (s *wsSink) Close() error { return nil }

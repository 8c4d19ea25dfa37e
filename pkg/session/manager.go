package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mbernuy21/ai-english-tutor/pkg/audio"
	"github.com/mbernuy21/ai-english-tutor/pkg/mode"
	"github.com/mbernuy21/ai-english-tutor/pkg/playback"
)

// Credentials gates session start on an available API credential.
type Credentials interface {
	// Has reports whether a usable credential is already present.
	Has(ctx context.Context) bool

	// Request prompts for a credential. It returns an error when none was
	// provided.
	Request(ctx context.Context) error
}

// TransportFactory builds a fresh transport for each session.
type TransportFactory func(ctx context.Context) (Transport, error)

// SinkFactory builds a fresh playback sink for each session. The scheduler
// owns the sink and closes it on teardown.
type SinkFactory func() (playback.Sink, error)

// ManagerConfig assembles a Manager.
type ManagerConfig struct {
	Registry     *mode.Registry
	NewTransport TransportFactory
	NewSink      SinkFactory

	// Mic is the local capture device; nil in bridge deployments where
	// frames arrive through Session.SendFrame.
	Mic MicSource

	// Credentials gates session start; nil skips the check.
	Credentials Credentials

	// Model and Voice override the transport defaults when non-empty.
	Model string
	Voice string

	Debug  bool
	Logger *slog.Logger
}

// Manager selects a practice mode and runs at most one live session at a
// time. Switching modes requires stopping the active session first.
type Manager struct {
	cfg ManagerConfig
	log *slog.Logger

	mu     sync.Mutex
	active *Session
	done   <-chan struct{}
}

// NewManager creates a manager over the given mode registry and factories.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("manager: mode registry is required")
	}
	if cfg.NewTransport == nil {
		return nil, fmt.Errorf("manager: transport factory is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{cfg: cfg, log: logger}, nil
}

// Start resolves the mode, checks credentials, assembles a session, and
// starts it. It fails with a busy error while another session is active.
func (m *Manager) Start(ctx context.Context, id mode.ID, params mode.Params) (*Session, <-chan Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		select {
		case <-m.done:
			m.active = nil
		default:
			return nil, nil, &Error{
				Type:    ErrBusy,
				Message: "A session is already active. Stop it before starting another.",
			}
		}
	}

	modeCfg, err := m.cfg.Registry.Resolve(id, params)
	if err != nil {
		return nil, nil, err
	}

	if m.cfg.Credentials != nil && !m.cfg.Credentials.Has(ctx) {
		if err := m.cfg.Credentials.Request(ctx); err != nil {
			return nil, nil, NewAuthenticationError(err)
		}
	}

	transport, err := m.cfg.NewTransport(ctx)
	if err != nil {
		return nil, nil, Classify(err)
	}

	var sink playback.Sink
	if m.cfg.NewSink != nil {
		sink, err = m.cfg.NewSink()
		if err != nil {
			_ = transport.Close()
			return nil, nil, NewPlaybackError(err)
		}
	}
	scheduler := playback.NewScheduler(playback.NewSystemClock(), sink, audio.OutputConfig())

	sess := New(Config{
		Mode:   modeCfg,
		Model:  m.cfg.Model,
		Voice:  m.cfg.Voice,
		Debug:  m.cfg.Debug,
		Logger: m.log,
	}, transport, scheduler, m.cfg.Mic)

	events, err := sess.Start(ctx)
	if err != nil {
		return nil, nil, err
	}

	// Relay events so the manager can observe the terminal ClosedEvent and
	// release the active slot without consuming the caller's stream.
	out := make(chan Event, cap(events))
	done := make(chan struct{})
	go func() {
		defer close(out)
		defer close(done)
		for ev := range events {
			out <- ev
		}
	}()

	m.active = sess
	m.done = done
	m.log.Info("mode started", "mode", string(id), "session_id", sess.ID())
	return sess, out, nil
}

// Stop closes the active session, if any. Idempotent.
func (m *Manager) Stop() error {
	m.mu.Lock()
	sess := m.active
	m.mu.Unlock()

	if sess == nil {
		return nil
	}
	return sess.Close()
}

// Active returns the running session, or nil once it has fully closed.
func (m *Manager) Active() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return nil
	}
	select {
	case <-m.done:
		m.active = nil
		return nil
	default:
		return m.active
	}
}

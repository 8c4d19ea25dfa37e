package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mbernuy21/ai-english-tutor/pkg/audio"
	"github.com/mbernuy21/ai-english-tutor/pkg/conversation"
	"github.com/mbernuy21/ai-english-tutor/pkg/mode"
	"github.com/mbernuy21/ai-english-tutor/pkg/playback"
)

// fakeTransport is a scriptable Transport for tests.
type fakeTransport struct {
	mu        sync.Mutex
	events    chan TransportEvent
	sent      []audio.Frame
	open      bool
	closeOnce sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{}
}

func (t *fakeTransport) Open(ctx context.Context, cfg TransportConfig) (<-chan TransportEvent, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = make(chan TransportEvent, 64)
	t.open = true
	return t.events, nil
}

func (t *fakeTransport) Send(frame audio.Frame) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return nil
	}
	t.sent = append(t.sent, frame)
	return nil
}

func (t *fakeTransport) emit(ev TransportEvent) {
	t.events <- ev
}

func (t *fakeTransport) Close() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.open = false
		t.mu.Unlock()
		t.events <- TransportClosed{}
		close(t.events)
	})
	return nil
}

// remoteClose simulates the backend dropping the connection.
func (t *fakeTransport) remoteClose(err error) {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.open = false
		t.mu.Unlock()
		t.events <- TransportError{Err: err}
		t.events <- TransportClosed{Err: err}
		close(t.events)
	})
}

func (t *fakeTransport) sentFrames() []audio.Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]audio.Frame, len(t.sent))
	copy(out, t.sent)
	return out
}

// nopSink discards everything.
type nopSink struct{}

func (nopSink) Write(pcm []byte) error { return nil }
func (nopSink) Flush()                 {}
func (nopSink) Close() error           { return nil }

// fakeMic hands the capture callback back to the test.
type fakeMic struct {
	mu      sync.Mutex
	fn      func([]float32)
	stopped bool
}

func (m *fakeMic) Start(ctx context.Context, blockSize int, fn func([]float32)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fn = fn
	return nil
}

func (m *fakeMic) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
}

func (m *fakeMic) deliver(samples []float32) {
	m.mu.Lock()
	fn := m.fn
	m.mu.Unlock()
	if fn != nil {
		fn(samples)
	}
}

func newTestSession(t *testing.T, cfg mode.Config, ft *fakeTransport, mic MicSource) *Session {
	t.Helper()
	sched := playback.NewScheduler(playback.NewSystemClock(), nopSink{}, audio.OutputConfig())
	return New(Config{Mode: cfg}, ft, sched, mic)
}

// collectEvents drains the stream to completion, failing the test if it does
// not end within the deadline.
func collectEvents(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatalf("event stream did not close; got %d events", len(out))
		}
	}
}

func eventTypes(events []Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.EventType()
	}
	return out
}

func TestSessionTranscriptFlow(t *testing.T) {
	ft := newFakeTransport()
	sess := newTestSession(t, mode.Config{
		ID:           mode.Tutor,
		SystemPrompt: "You are a tutor.",
		Greeting:     "Hello! Ready to practice?",
	}, ft, nil)

	events, err := sess.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	ft.emit(InputTranscript{Text: "I goed"})
	ft.emit(InputTranscript{Text: " to school"})
	ft.emit(OutputTranscript{Text: "Nice! You went to school."})
	ft.emit(TurnComplete{})
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got := collectEvents(t, events)
	want := []string{
		"session.started",
		"session.greeting",
		"transcript.input_delta",
		"transcript.input_delta",
		"transcript.output_delta",
		"transcript.turn_finalized",
		"session.closed",
	}
	types := eventTypes(got)
	if len(types) != len(want) {
		t.Fatalf("event types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event[%d] = %q, want %q (all: %v)", i, types[i], want[i], types)
		}
	}

	finalized := got[5].(*TurnFinalizedEvent)
	if len(finalized.Turns) != 2 {
		t.Fatalf("finalized %d turns, want 2", len(finalized.Turns))
	}
	if finalized.Turns[0].Role != conversation.RoleUser || finalized.Turns[0].Text != "I goed to school" {
		t.Errorf("user turn = %+v", finalized.Turns[0])
	}
	if finalized.Turns[1].Role != conversation.RoleAI {
		t.Errorf("second turn role = %q, want ai", finalized.Turns[1].Role)
	}

	closed := got[6].(*ClosedEvent)
	if closed.Reason != "stopped" {
		t.Errorf("close reason = %q, want stopped", closed.Reason)
	}
}

func TestSessionFeedbackNote(t *testing.T) {
	ft := newFakeTransport()
	sess := newTestSession(t, mode.Config{ID: mode.Tutor, SystemPrompt: "x"}, ft, nil)

	events, err := sess.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	ft.emit(InputTranscript{Text: "I goed home"})
	ft.emit(OutputTranscript{Text: "Good try!\n" +
		"### FEEDBACK ###\n" +
		"Type: grammar\n" +
		"Original: I goed home\n" +
		"Correction: I went home\n" +
		"Explanation: \"went\" is the past tense of \"go\".\n" +
		"### END FEEDBACK ###"})
	ft.emit(TurnComplete{})
	sess.Close()

	got := collectEvents(t, events)

	var note *NoteAddedEvent
	for _, ev := range got {
		if n, ok := ev.(*NoteAddedEvent); ok {
			note = n
		}
	}
	if note == nil {
		t.Fatalf("no notes.added event in %v", eventTypes(got))
	}
	if note.Note.Correction != "I went home" {
		t.Errorf("note correction = %q", note.Note.Correction)
	}
	if !strings.Contains(note.Note.Explanation, "past tense") {
		t.Errorf("note explanation = %q", note.Note.Explanation)
	}

	notes := sess.Notes()
	if len(notes) != 1 {
		t.Fatalf("session holds %d notes, want 1", len(notes))
	}
}

func TestSessionAudioSchedulingAndInterrupt(t *testing.T) {
	ft := newFakeTransport()
	sess := newTestSession(t, mode.Config{ID: mode.Tutor, SystemPrompt: "x"}, ft, nil)

	events, err := sess.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// 100 ms of 24 kHz PCM16 mono.
	ft.emit(AudioChunk{Data: make([]byte, 4800)})
	ft.emit(Interrupted{})
	sess.Close()

	got := collectEvents(t, events)

	var scheduled *AudioScheduledEvent
	var interrupted bool
	for _, ev := range got {
		switch ev := ev.(type) {
		case *AudioScheduledEvent:
			scheduled = ev
		case *InterruptedEvent:
			interrupted = true
		}
	}

	if scheduled == nil {
		t.Fatalf("no audio.scheduled event in %v", eventTypes(got))
	}
	if scheduled.DurationMs != 100 {
		t.Errorf("scheduled duration = %dms, want 100ms", scheduled.DurationMs)
	}
	if !interrupted {
		t.Errorf("no audio.interrupted event in %v", eventTypes(got))
	}
}

func TestSessionUndecodableChunkIsFatal(t *testing.T) {
	ft := newFakeTransport()
	sess := newTestSession(t, mode.Config{ID: mode.Tutor, SystemPrompt: "x"}, ft, nil)

	events, err := sess.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Odd length is undecodable.
	ft.emit(AudioChunk{Data: make([]byte, 3)})

	got := collectEvents(t, events)

	var playErr *ErrorEvent
	for _, ev := range got {
		if e, ok := ev.(*ErrorEvent); ok {
			playErr = e
		}
	}
	if playErr == nil || playErr.Type != ErrPlayback {
		t.Fatalf("undecodable chunk error = %+v, want playback_error", playErr)
	}

	closed := got[len(got)-1].(*ClosedEvent)
	if closed.Reason != "playback_error" {
		t.Errorf("close reason = %q, want playback_error", closed.Reason)
	}
	if sess.State() != conversation.StateClosed {
		t.Errorf("conversation state = %v, want CLOSED", sess.State())
	}
}

func TestSessionUnexpectedCloseWhileRecording(t *testing.T) {
	ft := newFakeTransport()
	sess := newTestSession(t, mode.Config{ID: mode.Tutor, SystemPrompt: "x"}, ft, &fakeMic{})

	events, err := sess.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if sess.State() != conversation.StateRecording {
		t.Fatalf("state after start = %v, want RECORDING", sess.State())
	}

	ft.remoteClose(errors.New("connection reset by peer"))

	got := collectEvents(t, events)

	var sawTransport, sawUnexpected bool
	for _, ev := range got {
		if e, ok := ev.(*ErrorEvent); ok {
			switch e.Type {
			case ErrTransport:
				sawTransport = true
			case ErrUnexpectedClose:
				sawUnexpected = true
			}
		}
	}
	if !sawTransport {
		t.Errorf("no transport_error event in %v", eventTypes(got))
	}
	if !sawUnexpected {
		t.Errorf("no unexpected_close event in %v", eventTypes(got))
	}

	closed := got[len(got)-1].(*ClosedEvent)
	if closed.Reason != "unexpected_close" {
		t.Errorf("close reason = %q, want unexpected_close", closed.Reason)
	}
	if sess.State() != conversation.StateClosed {
		t.Errorf("conversation state = %v, want CLOSED", sess.State())
	}
}

func TestSessionRemoteCloseBeforeRecording(t *testing.T) {
	ft := newFakeTransport()
	sess := newTestSession(t, mode.Config{ID: mode.Tutor, SystemPrompt: "x"}, ft, nil)

	// No mic and no forwarded frames: the session never starts recording.
	events, err := sess.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	ft.remoteClose(errors.New("connection reset by peer"))

	got := collectEvents(t, events)

	for _, ev := range got {
		if e, ok := ev.(*ErrorEvent); ok && e.Type == ErrUnexpectedClose {
			t.Errorf("unexpected_close surfaced for a session that never recorded (events: %v)", eventTypes(got))
		}
	}

	closed := got[len(got)-1].(*ClosedEvent)
	if closed.Reason != "transport_error" {
		t.Errorf("close reason = %q, want transport_error", closed.Reason)
	}
}

func TestSessionCloseIdempotent(t *testing.T) {
	ft := newFakeTransport()
	sess := newTestSession(t, mode.Config{ID: mode.Tutor, SystemPrompt: "x"}, ft, nil)

	events, err := sess.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	sess.Close()
	sess.Close()

	got := collectEvents(t, events)
	closes := 0
	for _, ev := range got {
		if _, ok := ev.(*ClosedEvent); ok {
			closes++
		}
	}
	if closes != 1 {
		t.Errorf("%d session.closed events, want 1", closes)
	}
}

func TestSessionMicCapture(t *testing.T) {
	ft := newFakeTransport()
	mic := &fakeMic{}
	sess := newTestSession(t, mode.Config{ID: mode.Tutor, SystemPrompt: "x"}, ft, mic)

	events, err := sess.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if sess.State() != conversation.StateRecording {
		t.Errorf("state after start = %v, want RECORDING", sess.State())
	}

	mic.deliver(make([]float32, audio.FrameSamples))

	frames := ft.sentFrames()
	if len(frames) != 1 {
		t.Fatalf("transport received %d frames, want 1", len(frames))
	}
	if frames[0].MIMEType != audio.InputMIMEType {
		t.Errorf("frame MIME type = %q, want %q", frames[0].MIMEType, audio.InputMIMEType)
	}
	if len(frames[0].PCM) != audio.FrameSamples*2 {
		t.Errorf("frame size = %d bytes, want %d", len(frames[0].PCM), audio.FrameSamples*2)
	}

	sess.Close()
	collectEvents(t, events)

	mic.mu.Lock()
	stopped := mic.stopped
	mic.mu.Unlock()
	if !stopped {
		t.Error("mic not stopped on close")
	}
}

func TestSessionMicEnergyDebugEvents(t *testing.T) {
	ft := newFakeTransport()
	mic := &fakeMic{}
	sched := playback.NewScheduler(playback.NewSystemClock(), nopSink{}, audio.OutputConfig())
	sess := New(Config{
		Mode:  mode.Config{ID: mode.Tutor, SystemPrompt: "x"},
		Debug: true,
	}, ft, sched, mic)

	events, err := sess.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	samples := make([]float32, audio.FrameSamples)
	for i := range samples {
		samples[i] = 0.5
	}
	mic.deliver(samples)

	sess.Close()
	got := collectEvents(t, events)

	var debug *DebugEvent
	for _, ev := range got {
		if d, ok := ev.(*DebugEvent); ok && d.Category == "mic" {
			debug = d
		}
	}
	if debug == nil {
		t.Fatalf("no mic debug event in %v", eventTypes(got))
	}
	if !strings.Contains(debug.Message, "rms=") || !strings.Contains(debug.Message, "peak=") {
		t.Errorf("debug message = %q, want block energy readings", debug.Message)
	}
}

func TestManagerSingleActiveSession(t *testing.T) {
	registry, err := mode.Load()
	if err != nil {
		t.Fatalf("load modes: %v", err)
	}

	mgr, err := NewManager(ManagerConfig{
		Registry: registry,
		NewTransport: func(ctx context.Context) (Transport, error) {
			return newFakeTransport(), nil
		},
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	ctx := context.Background()
	sess, events, err := mgr.Start(ctx, mode.Tutor, mode.Params{})
	if err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if mgr.Active() != sess {
		t.Error("Active() does not return the running session")
	}

	_, _, err = mgr.Start(ctx, mode.Translator, mode.Params{})
	var sessErr *Error
	if !errors.As(err, &sessErr) || sessErr.Type != ErrBusy {
		t.Fatalf("second Start error = %v, want busy", err)
	}

	if err := mgr.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	collectEvents(t, events)

	if mgr.Active() != nil {
		t.Error("Active() non-nil after session closed")
	}

	if _, events, err = mgr.Start(ctx, mode.Translator, mode.Params{}); err != nil {
		t.Fatalf("restart after stop: %v", err)
	}
	mgr.Stop()
	collectEvents(t, events)
}

type fakeCreds struct {
	has       bool
	requested bool
	reqErr    error
}

func (c *fakeCreds) Has(ctx context.Context) bool { return c.has }
func (c *fakeCreds) Request(ctx context.Context) error {
	c.requested = true
	return c.reqErr
}

func TestManagerCredentialGate(t *testing.T) {
	registry, err := mode.Load()
	if err != nil {
		t.Fatalf("load modes: %v", err)
	}

	creds := &fakeCreds{has: false, reqErr: errors.New("no key provided")}
	mgr, err := NewManager(ManagerConfig{
		Registry: registry,
		NewTransport: func(ctx context.Context) (Transport, error) {
			return newFakeTransport(), nil
		},
		Credentials: creds,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	_, _, err = mgr.Start(context.Background(), mode.Tutor, mode.Params{})
	var sessErr *Error
	if !errors.As(err, &sessErr) || sessErr.Type != ErrAuthentication {
		t.Fatalf("Start error = %v, want authentication_error", err)
	}
	if !creds.requested {
		t.Error("credentials were not requested")
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"api key", errors.New("API key not valid. Please pass a valid API key."), ErrAuthentication},
		{"status 401", errors.New("websocket: bad handshake (HTTP 401)"), ErrAuthentication},
		{"permission denied", errors.New("rpc error: code = PermissionDenied desc = PERMISSION_DENIED"), ErrAuthentication},
		{"network", errors.New("connection reset by peer"), ErrTransport},
		{"generic", errors.New("unexpected EOF"), ErrTransport},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.err)
			if got == nil || got.Type != tc.want {
				t.Errorf("Classify(%v) = %+v, want type %s", tc.err, got, tc.want)
			}
		})
	}

	if Classify(nil) != nil {
		t.Error("Classify(nil) != nil")
	}

	typed := NewPlaybackError(errors.New("x"))
	if Classify(typed) != typed {
		t.Error("Classify does not pass through typed errors")
	}
}

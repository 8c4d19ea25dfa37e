// Package conversation builds the turn-by-turn transcript from transport
// events: it accumulates partial input/output transcripts, finalizes them
// into immutable turns on turn completion, extracts structured feedback, and
// tracks the turn stage for multi-stage practice modes.
package conversation

import (
	"strings"
	"sync"
	"time"

	"github.com/mbernuy21/ai-english-tutor/pkg/feedback"
)

// Role identifies which side of the exchange a turn belongs to.
type Role string

const (
	RoleUser Role = "user"
	RoleAI   Role = "ai"
)

// State is the conversation lifecycle state.
type State int

const (
	// StateIdle is before recording has started.
	StateIdle State = iota
	// StateRecording is when capture is active and no turn is accumulating.
	StateRecording
	// StateTurnInProgress is when input and/or output transcripts are
	// accumulating.
	StateTurnInProgress
	// StateClosed is terminal, entered on stop or error.
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRecording:
		return "RECORDING"
	case StateTurnInProgress:
		return "TURN_IN_PROGRESS"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Stage distinguishes which of two expected input types is next in a
// multi-stage mode.
type Stage int

const (
	// StageSource expects an utterance in the source language.
	StageSource Stage = iota
	// StagePronunciation expects a pronunciation attempt.
	StagePronunciation
)

func (s Stage) String() string {
	if s == StagePronunciation {
		return "pronunciation_attempt"
	}
	return "source_language"
}

// Turn is one finalized utterance exchange unit. Immutable once appended to
// the transcript.
type Turn struct {
	Role     Role               `json:"role"`
	Text     string             `json:"text"`
	Feedback *feedback.Feedback `json:"feedback,omitempty"`
}

// Note is a denormalized copy of a feedback item collected across the
// conversation for side-panel display and export.
type Note struct {
	Type        feedback.Type `json:"type"`
	Original    string        `json:"original,omitempty"`
	Correction  string        `json:"correction"`
	Explanation string        `json:"explanation,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Config selects which annotation conventions apply to finalized AI text.
type Config struct {
	// Multistage toggles the alternating turn stage (translation practice).
	Multistage bool

	// TipExtraction enables the pronunciation-tip marker scan in addition
	// to the FEEDBACK block scan.
	TipExtraction bool
}

// Conversation is the turn-by-turn transcript state machine. All mutation
// happens on the session's single event-processing path; the mutex guards
// the read accessors used by the UI side.
type Conversation struct {
	cfg Config

	mu       sync.Mutex
	state    State
	userBuf  strings.Builder
	aiBuf    strings.Builder
	turns    []Turn
	notes    []Note
	stage    Stage
	recorded bool
}

// New creates an idle conversation. Notes from any previous session are not
// carried over; each conversation starts empty.
func New(cfg Config) *Conversation {
	return &Conversation{cfg: cfg}
}

// StartRecording moves the conversation out of idle when capture begins.
func (c *Conversation) StartRecording() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateIdle {
		c.state = StateRecording
	}
	c.recorded = true
}

// OnInputDelta appends to the in-progress user transcript buffer.
func (c *Conversation) OnInputDelta(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return
	}
	c.userBuf.WriteString(text)
	c.state = StateTurnInProgress
}

// OnOutputDelta appends to the in-progress AI transcript buffer.
func (c *Conversation) OnOutputDelta(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return
	}
	c.aiBuf.WriteString(text)
	c.state = StateTurnInProgress
}

// OnTurnComplete finalizes both buffers into transcript turns (only if
// non-empty, user first), extracts feedback from the finalized AI text,
// appends any extracted item as a note, clears the buffers, and toggles the
// turn stage in multi-stage modes. It returns the newly finalized turns and
// notes.
func (c *Conversation) OnTurnComplete() ([]Turn, []Note) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return nil, nil
	}

	var finalized []Turn
	var added []Note

	if user := c.userBuf.String(); user != "" {
		finalized = append(finalized, Turn{Role: RoleUser, Text: user})
	}

	if ai := c.aiBuf.String(); ai != "" {
		conversational, fb := feedback.Parse(ai)
		if fb == nil && c.cfg.TipExtraction {
			fb = feedback.ParseTip(ai)
		}
		finalized = append(finalized, Turn{Role: RoleAI, Text: conversational, Feedback: fb})
		if fb != nil {
			note := Note{
				Type:        fb.Type,
				Original:    fb.Original,
				Correction:  fb.Correction,
				Explanation: fb.Explanation,
				CreatedAt:   time.Now(),
			}
			c.notes = append(c.notes, note)
			added = append(added, note)
		}
	}

	c.turns = append(c.turns, finalized...)
	c.userBuf.Reset()
	c.aiBuf.Reset()

	if c.cfg.Multistage && len(finalized) > 0 {
		if c.stage == StageSource {
			c.stage = StagePronunciation
		} else {
			c.stage = StageSource
		}
	}

	if c.recorded {
		c.state = StateRecording
	} else {
		c.state = StateIdle
	}

	return finalized, added
}

// Close transitions the conversation to its terminal state. Safe to call
// from any state and more than once.
func (c *Conversation) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateClosed
	c.recorded = false
}

// State returns the current lifecycle state.
func (c *Conversation) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stage returns the next expected input type in multi-stage modes.
func (c *Conversation) Stage() Stage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stage
}

// PartialUser returns the in-progress user transcript.
func (c *Conversation) PartialUser() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userBuf.String()
}

// PartialAI returns the in-progress AI transcript.
func (c *Conversation) PartialAI() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aiBuf.String()
}

// Transcript returns a copy of the finalized turns in insertion order.
func (c *Conversation) Transcript() []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Notes returns a copy of the collected session notes.
func (c *Conversation) Notes() []Note {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Note, len(c.notes))
	copy(out, c.notes)
	return out
}

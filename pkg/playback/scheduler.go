// Package playback schedules arriving model audio chunks for gapless
// back-to-back output against a monotonic clock, with immediate full-stop
// on interruption.
package playback

import (
	"fmt"
	"sync"
	"time"

	"github.com/mbernuy21/ai-english-tutor/pkg/audio"
)

// Clock is a monotonic output clock measured in seconds.
type Clock interface {
	Now() float64
}

// SystemClock is a Clock backed by the wall monotonic clock, zeroed at
// creation.
type SystemClock struct {
	start time.Time
}

// NewSystemClock returns a clock whose Now() starts near zero.
func NewSystemClock() *SystemClock {
	return &SystemClock{start: time.Now()}
}

// Now returns seconds elapsed since the clock was created.
func (c *SystemClock) Now() float64 {
	return time.Since(c.start).Seconds()
}

// Sink receives scheduled PCM for actual output. Write is called in playback
// order at each chunk's start time; Flush discards anything the device has
// buffered but not yet played.
type Sink interface {
	Write(pcm []byte) error
	Flush()
	Close() error
}

// source is one scheduled chunk: its timers and bookkeeping handle.
type source struct {
	id       uint64
	startAt  float64
	duration float64
	play     *time.Timer
	end      *time.Timer
}

// Scheduler maintains gapless ordered playback of output audio chunks.
//
// Chunks may arrive faster or slower than real time; each is scheduled at
// max(nextStartTime, clock.Now()) so playback is back-to-back with no gaps
// or overlaps and nothing is ever scheduled in the past. The committed-until
// time (nextStartTime) is monotonically non-decreasing except on explicit
// interruption, which resets it so the next chunk starts immediately.
type Scheduler struct {
	clock Clock
	sink  Sink
	cfg   audio.Config

	mu        sync.Mutex
	nextStart float64
	active    map[uint64]*source
	nextID    uint64
	closed    bool
}

// NewScheduler creates a scheduler for the given output format.
func NewScheduler(clock Clock, sink Sink, cfg audio.Config) *Scheduler {
	return &Scheduler{
		clock:  clock,
		sink:   sink,
		cfg:    cfg,
		active: make(map[uint64]*source),
	}
}

// Enqueue decodes a raw PCM16LE chunk into a schedulable buffer and
// schedules it to begin at max(nextStartTime, now). It returns the computed
// start time on the output clock.
func (s *Scheduler) Enqueue(pcm []byte) (float64, error) {
	if len(pcm) == 0 || len(pcm)%2 != 0 {
		return 0, fmt.Errorf("playback: undecodable chunk (%d bytes)", len(pcm))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, fmt.Errorf("playback: scheduler is closed")
	}

	duration := s.cfg.Seconds(len(pcm))
	now := s.clock.Now()
	startAt := s.nextStart
	if now > startAt {
		startAt = now
	}

	s.nextID++
	src := &source{
		id:       s.nextID,
		startAt:  startAt,
		duration: duration,
	}
	s.active[src.id] = src

	data := pcm
	src.play = time.AfterFunc(secondsToDuration(startAt-now), func() {
		s.playSource(src.id, data)
	})
	src.end = time.AfterFunc(secondsToDuration(startAt-now+duration), func() {
		s.sourceEnded(src.id)
	})

	s.nextStart = startAt + duration
	return startAt, nil
}

// playSource writes a chunk to the sink when its start time arrives.
// A source cancelled by Interrupt between scheduling and firing is skipped.
func (s *Scheduler) playSource(id uint64, pcm []byte) {
	s.mu.Lock()
	_, ok := s.active[id]
	sink := s.sink
	s.mu.Unlock()

	if !ok || sink == nil {
		return
	}
	_ = sink.Write(pcm)
}

// sourceEnded is the completion callback: it releases the chunk's handle.
func (s *Scheduler) sourceEnded(id uint64) {
	s.mu.Lock()
	delete(s.active, id)
	s.mu.Unlock()
}

// Interrupt stops and discards every active source immediately and resets
// the next start time so the next enqueued chunk starts at "now". Called
// when the transport signals barge-in.
func (s *Scheduler) Interrupt() {
	s.mu.Lock()
	s.stopAllLocked()
	sink := s.sink
	s.mu.Unlock()

	if sink != nil {
		sink.Flush()
	}
}

// Reset interrupts playback and releases the output resource. Used on
// session teardown; safe to call more than once.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	s.stopAllLocked()
	sink := s.sink
	s.sink = nil
	s.closed = true
	s.mu.Unlock()

	if sink != nil {
		sink.Flush()
		_ = sink.Close()
	}
}

func (s *Scheduler) stopAllLocked() {
	for id, src := range s.active {
		if src.play != nil {
			src.play.Stop()
		}
		if src.end != nil {
			src.end.Stop()
		}
		delete(s.active, id)
	}
	s.nextStart = 0
}

// Active returns the number of currently scheduled or playing chunks.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// NextStartTime returns the committed-until timestamp on the output clock.
func (s *Scheduler) NextStartTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextStart
}

func secondsToDuration(s float64) time.Duration {
	if s < 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}

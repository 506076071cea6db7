package audio

import (
	"errors"
	"log/slog"
	"time"

	"sync"

	"github.com/techfix/deskagent/internal/log"
	"github.com/techfix/deskagent/pkg/audioio"
)

// ErrSchedulerClosed is returned by Schedule after Close.
var ErrSchedulerClosed = errors.New("audio: scheduler closed")

// Output is the playback backend the scheduler drives. Play begins playback
// of a clip immediately; Halt stops everything queued or playing.
type Output interface {
	Play(clip Clip) error
	Halt() error
}

// SinkOutput adapts an audioio.Sink to the Output interface.
type SinkOutput struct {
	Sink audioio.Sink
}

// Play implements Output.
func (o SinkOutput) Play(clip Clip) error {
	return o.Sink.Write(audioio.Chunk{Samples: clip.Samples, SampleRate: clip.SampleRate})
}

// Halt implements Output.
func (o SinkOutput) Halt() error {
	return o.Sink.Clear()
}

// Scheduler owns the audio output timeline. Clips are started back to back
// at max(nextStartTime, now), never overlapping; Interrupt discards every
// pending and playing clip and resets the timeline cursor to now.
//
// All timeline state lives under one mutex so an interrupt always wins a
// race with an in-flight Schedule: a clip that was pending when Interrupt
// ran can never reach the output afterwards.
type Scheduler struct {
	out    Output
	clock  Clock
	logger *slog.Logger

	mu     sync.Mutex
	next   time.Time // nextStartTime cursor; zero means "no clip scheduled yet"
	active map[uint64]Timer
	nextID uint64
	gen    uint64 // bumped on every interrupt; stale timers check it
	closed bool
}

// NewScheduler creates a scheduler driving the given output.
// A nil clock selects the wall clock.
func NewScheduler(out Output, clock Clock) *Scheduler {
	if clock == nil {
		clock = NewClock()
	}
	return &Scheduler{
		out:    out,
		clock:  clock,
		logger: log.Component("audio.scheduler"),
		active: make(map[uint64]Timer),
	}
}

// Schedule queues a clip for playback at the earliest non-overlapping slot
// and returns that start time. Empty clips are ignored.
func (s *Scheduler) Schedule(clip Clip) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return time.Time{}, ErrSchedulerClosed
	}

	now := s.clock.Now()
	if len(clip.Samples) == 0 || clip.SampleRate <= 0 {
		return now, nil
	}

	// Back-to-back clips start when the previous one ends; if the pipeline
	// fell behind, never schedule in the past.
	startAt := s.next
	if startAt.Before(now) {
		startAt = now
	}
	s.next = startAt.Add(clip.Duration())

	id := s.nextID
	s.nextID++
	gen := s.gen

	s.active[id] = s.clock.AfterFunc(startAt.Sub(now), func() {
		s.fire(id, gen, clip)
	})

	return startAt, nil
}

// fire starts playback of a due clip unless an interrupt or close landed
// after it was scheduled.
func (s *Scheduler) fire(id, gen uint64, clip Clip) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || gen != s.gen {
		return
	}
	delete(s.active, id)

	// Under the mutex so Interrupt cannot slot between the staleness check
	// and the output write.
	if err := s.out.Play(clip); err != nil {
		s.logger.Warn("playback failed", "error", err)
	}
}

// Interrupt stops every pending and playing clip, clears the active set and
// resets the timeline cursor to now. Models barge-in: the agent must go
// silent without delay.
func (s *Scheduler) Interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interruptLocked()
}

func (s *Scheduler) interruptLocked() {
	s.gen++
	for id, t := range s.active {
		t.Stop()
		delete(s.active, id)
	}
	s.next = s.clock.Now()
	if err := s.out.Halt(); err != nil {
		s.logger.Warn("halt failed", "error", err)
	}
}

// Pending returns the number of clips waiting to start.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// NextStart returns the current timeline cursor.
func (s *Scheduler) NextStart() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Close interrupts playback and rejects further scheduling. Idempotent.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.interruptLocked()
	s.closed = true
	return nil
}

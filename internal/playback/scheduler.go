// Package playback owns the output-audio timeline. Each synthesized chunk is
// scheduled to start exactly when the previous chunk ends, so discrete,
// irregularly-arriving chunks play back with no gaps and no overlap.
package playback

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mdwoicke/jefferson-dental-sub001/internal/metrics"
	"github.com/mdwoicke/jefferson-dental-sub001/internal/pcm"
)

// Clock is the monotonic output clock the playback cursor is measured on.
type Clock interface {
	// Now is the current position on the output clock.
	Now() time.Duration
	// Resume wakes a suspended clock before scheduling. Must be cheap when
	// the clock is already running.
	Resume() error
}

// Sink consumes PCM16LE in playback order. Write never blocks the event path
// for long; Flush drops everything queued or playing.
type Sink interface {
	Write(pcm []byte)
	Flush()
}

// ErrMalformedChunk is returned for empty or odd-length chunks, which cannot
// be decoded as PCM16LE.
var ErrMalformedChunk = errors.New("playback: malformed audio chunk")

// Scheduler maintains the playback cursor: the output-clock time at which the
// next chunk should begin. The cursor is monotonically non-decreasing except
// on Flush, when it resets to the current clock time.
type Scheduler struct {
	clock      Clock
	sink       Sink
	sampleRate int
	log        zerolog.Logger
	m          *metrics.Metrics

	mu        sync.Mutex
	cursor    time.Duration
	scheduled map[uint64]*time.Timer
	nextID    uint64
}

// NewScheduler creates a scheduler with its cursor at the current clock time.
func NewScheduler(clock Clock, sink Sink, sampleRate int, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		clock:      clock,
		sink:       sink,
		sampleRate: sampleRate,
		log:        log,
		m:          metrics.Default,
		cursor:     clock.Now(),
		scheduled:  make(map[uint64]*time.Timer),
	}
}

// OnAudioChunk decodes one synthesized chunk and schedules it at
// max(cursor, now). The chunk's start is derived from the cumulative duration
// of all prior chunks, not from arrival time, which is what keeps playback
// gapless under bursty or jittery delivery. A malformed chunk or a clock that
// fails to resume drops the chunk and reports the error; the cursor is never
// desynchronized silently.
func (s *Scheduler) OnAudioChunk(chunk []byte) (start time.Duration, err error) {
	if len(chunk) == 0 || len(chunk)%pcm.BytesPerSample != 0 {
		s.m.ChunksDropped.Inc()
		return 0, ErrMalformedChunk
	}
	if err := s.clock.Resume(); err != nil {
		s.m.ChunksDropped.Inc()
		return 0, fmt.Errorf("playback: resume output clock: %w", err)
	}

	dur := pcm.Duration(len(chunk), s.sampleRate)

	s.mu.Lock()
	now := s.clock.Now()
	start = s.cursor
	if now > start {
		start = now
	}
	s.cursor = start + dur

	id := s.nextID
	s.nextID++
	s.scheduled[id] = time.AfterFunc(s.cursor-now, func() { s.complete(id) })
	count := len(s.scheduled)
	lead := s.cursor - now
	s.mu.Unlock()

	s.sink.Write(chunk)

	s.m.ChunksScheduled.Inc()
	s.m.ScheduledBuffers.Set(float64(count))
	s.m.AudioLeadSeconds.Set(lead.Seconds())
	return start, nil
}

// complete removes a buffer from the scheduled set when it finishes playing.
func (s *Scheduler) complete(id uint64) {
	s.mu.Lock()
	delete(s.scheduled, id)
	count := len(s.scheduled)
	s.mu.Unlock()
	s.m.ScheduledBuffers.Set(float64(count))
}

// LeadTime is how far scheduled audio extends past the current clock time.
// Zero when playback has caught up or after a Flush.
func (s *Scheduler) LeadTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	lead := s.cursor - s.clock.Now()
	if lead < 0 {
		lead = 0
	}
	return lead
}

// Cursor returns the output-clock time at which the next chunk would begin.
func (s *Scheduler) Cursor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// ScheduledCount reports how many buffers are scheduled or playing.
func (s *Scheduler) ScheduledCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.scheduled)
}

// Flush stops every scheduled buffer and resets the cursor to the current
// clock time, the zero-lead state. Used for barge-in and teardown.
func (s *Scheduler) Flush() {
	s.mu.Lock()
	for id, t := range s.scheduled {
		t.Stop()
		delete(s.scheduled, id)
	}
	s.cursor = s.clock.Now()
	s.mu.Unlock()

	s.sink.Flush()
	s.m.ScheduledBuffers.Set(0)
	s.m.AudioLeadSeconds.Set(0)
	s.log.Debug().Msg("playback flushed")
}

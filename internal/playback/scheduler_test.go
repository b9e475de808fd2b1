package playback

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeClock is a manually advanced output clock.
type fakeClock struct {
	mu        sync.Mutex
	now       time.Duration
	resumeErr error
	resumes   int
}

func (c *fakeClock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resumes++
	return c.resumeErr
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	c.mu.Unlock()
}

type fakeSink struct {
	mu      sync.Mutex
	writes  [][]byte
	flushes int
}

func (s *fakeSink) Write(pcm []byte) {
	s.mu.Lock()
	s.writes = append(s.writes, pcm)
	s.mu.Unlock()
}

func (s *fakeSink) Flush() {
	s.mu.Lock()
	s.flushes++
	s.mu.Unlock()
}

// chunk builds a PCM16LE buffer of the given duration at 24kHz.
func chunk(d time.Duration) []byte {
	samples := int(d * 24000 / time.Second)
	return make([]byte, samples*2)
}

func newTestScheduler(c Clock, s Sink) *Scheduler {
	return NewScheduler(c, s, 24000, zerolog.Nop())
}

func TestChunksScheduleBackToBack(t *testing.T) {
	clock := &fakeClock{}
	sched := newTestScheduler(clock, &fakeSink{})

	// Two chunks arrive in a burst: the second starts where the first ends,
	// not at its own arrival time.
	start1, err := sched.OnAudioChunk(chunk(1 * time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if start1 != 0 {
		t.Fatalf("first start = %v, want 0", start1)
	}

	clock.advance(300 * time.Millisecond)
	start2, err := sched.OnAudioChunk(chunk(500 * time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	if start2 != 1*time.Second {
		t.Fatalf("second start = %v, want 1s", start2)
	}

	// A chunk arriving after the timeline drained starts at the current
	// clock, leaving a gap only where the provider itself paused.
	clock.advance(4700 * time.Millisecond) // clock at 5s, cursor at 1.5s
	start3, err := sched.OnAudioChunk(chunk(2 * time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if start3 != 5*time.Second {
		t.Fatalf("third start = %v, want 5s", start3)
	}
	if got := sched.Cursor(); got != 7*time.Second {
		t.Fatalf("cursor = %v, want 7s", got)
	}
}

func TestLeadTimeTracksCursor(t *testing.T) {
	clock := &fakeClock{}
	sched := newTestScheduler(clock, &fakeSink{})

	if got := sched.LeadTime(); got != 0 {
		t.Fatalf("initial lead = %v, want 0", got)
	}

	sched.OnAudioChunk(chunk(1 * time.Second))
	if got := sched.LeadTime(); got != 1*time.Second {
		t.Fatalf("lead = %v, want 1s", got)
	}

	// Clock passes the cursor: lead clamps at zero.
	clock.advance(3 * time.Second)
	if got := sched.LeadTime(); got != 0 {
		t.Fatalf("lead = %v, want 0 after catch-up", got)
	}
}

func TestMalformedChunkRejected(t *testing.T) {
	sched := newTestScheduler(&fakeClock{}, &fakeSink{})

	if _, err := sched.OnAudioChunk(nil); !errors.Is(err, ErrMalformedChunk) {
		t.Fatalf("empty chunk: err = %v", err)
	}
	if _, err := sched.OnAudioChunk(make([]byte, 3)); !errors.Is(err, ErrMalformedChunk) {
		t.Fatalf("odd-length chunk: err = %v", err)
	}
	if got := sched.Cursor(); got != 0 {
		t.Fatalf("cursor moved on rejected chunk: %v", got)
	}
}

func TestResumeFailureDropsChunk(t *testing.T) {
	clock := &fakeClock{resumeErr: errors.New("device suspended")}
	sink := &fakeSink{}
	sched := newTestScheduler(clock, sink)

	if _, err := sched.OnAudioChunk(chunk(time.Second)); err == nil {
		t.Fatal("expected resume error")
	}
	if len(sink.writes) != 0 {
		t.Fatal("chunk reached sink despite resume failure")
	}
	if got := sched.Cursor(); got != 0 {
		t.Fatalf("cursor moved on dropped chunk: %v", got)
	}
}

func TestFlushResetsTimeline(t *testing.T) {
	clock := &fakeClock{}
	sink := &fakeSink{}
	sched := newTestScheduler(clock, sink)

	sched.OnAudioChunk(chunk(2 * time.Second))
	sched.OnAudioChunk(chunk(2 * time.Second))
	clock.advance(500 * time.Millisecond)

	sched.Flush()
	if sink.flushes != 1 {
		t.Fatalf("sink flushes = %d, want 1", sink.flushes)
	}
	if got := sched.ScheduledCount(); got != 0 {
		t.Fatalf("scheduled count = %d, want 0", got)
	}
	if got := sched.LeadTime(); got != 0 {
		t.Fatalf("lead = %v, want 0 after flush", got)
	}

	// New audio after the flush starts at the current clock.
	start, err := sched.OnAudioChunk(chunk(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if start != 500*time.Millisecond {
		t.Fatalf("post-flush start = %v, want 500ms", start)
	}
}

func TestChunksReachSinkInOrder(t *testing.T) {
	sink := &fakeSink{}
	sched := newTestScheduler(&fakeClock{}, sink)

	a := chunk(100 * time.Millisecond)
	b := chunk(200 * time.Millisecond)
	sched.OnAudioChunk(a)
	sched.OnAudioChunk(b)

	if len(sink.writes) != 2 {
		t.Fatalf("writes = %d, want 2", len(sink.writes))
	}
	if len(sink.writes[0]) != len(a) || len(sink.writes[1]) != len(b) {
		t.Fatal("chunks reached sink out of order")
	}
}

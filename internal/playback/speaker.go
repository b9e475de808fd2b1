package playback

import (
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// Speaker plays PCM16LE through the default output device. It implements both
// Sink and Clock: the player pulls queued bytes continuously, and the clock is
// the time elapsed since the speaker was opened.
type Speaker struct {
	otoCtx *oto.Context
	epoch  time.Time

	mu      sync.Mutex
	cond    *sync.Cond
	buf     []byte
	player  *oto.Player
	playing bool
	closed  bool
}

// NewSpeaker opens the output device at the given sample rate, mono 16-bit.
func NewSpeaker(sampleRate int) (*Speaker, error) {
	opts := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
		// ~100ms buffer keeps latency low without starving the device.
		BufferSize: time.Duration(100) * time.Millisecond,
	}
	ctx, ready, err := oto.NewContext(opts)
	if err != nil {
		return nil, fmt.Errorf("playback: open output device: %w", err)
	}
	<-ready

	s := &Speaker{otoCtx: ctx, epoch: time.Now()}
	s.cond = sync.NewCond(&s.mu)
	return s, nil
}

// Now implements Clock.
func (s *Speaker) Now() time.Duration { return time.Since(s.epoch) }

// Resume implements Clock. It wakes the audio context if the platform
// suspended it (e.g. the process was backgrounded).
func (s *Speaker) Resume() error { return s.otoCtx.Resume() }

// Write queues PCM for playback, starting the player on first write.
func (s *Speaker) Write(pcm []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.buf = append(s.buf, pcm...)
	if !s.playing {
		s.playing = true
		s.player = s.otoCtx.NewPlayer(s)
		s.player.Play()
	}
	s.cond.Signal()
}

// Read implements io.Reader for the oto player, which pulls audio data.
func (s *Speaker) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.buf) == 0 && !s.closed {
		s.cond.Wait()
	}
	if s.closed && len(s.buf) == 0 {
		// Feed silence so the player drains gracefully.
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

// Flush drops queued and in-flight audio immediately. The next Write starts a
// fresh player so stale device buffers never overlap new audio.
func (s *Speaker) Flush() {
	s.mu.Lock()
	s.buf = s.buf[:0]
	player := s.player
	if player != nil && s.playing {
		s.playing = false
		s.player = nil
	} else {
		player = nil
	}
	s.mu.Unlock()

	if player != nil {
		player.Pause()
		player.Close()
	}
}

// Close tears down the player. The oto context itself has no close; it lives
// for the process.
func (s *Speaker) Close() error {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	player := s.player
	s.player = nil
	s.mu.Unlock()

	if player != nil {
		player.Close()
	}
	return nil
}

// Package session wires one live conversation together: microphone frames up
// to the provider, synthesized audio down through the playback scheduler, and
// transcript events through the timing controller. Barge-in and teardown are
// coordinated here so the individual stages stay single-purpose.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mdwoicke/jefferson-dental-sub001/internal/metrics"
	"github.com/mdwoicke/jefferson-dental-sub001/internal/playback"
	"github.com/mdwoicke/jefferson-dental-sub001/internal/provider"
	"github.com/mdwoicke/jefferson-dental-sub001/internal/timing"
	"github.com/mdwoicke/jefferson-dental-sub001/internal/transcript"
)

// Recorder receives synthesized audio for archival. Implemented by the call
// recording writer; nil disables recording.
type Recorder interface {
	Write(pcm []byte) error
	Close() error
}

// Archiver persists the finished transcript at teardown.
type Archiver func(ctx context.Context, entries []transcript.Entry) error

// Options collects the session's collaborators. Adapter, Config, Store,
// Scheduler and Controller are required; the rest are optional.
type Options struct {
	Adapter    provider.Adapter
	Config     provider.SessionConfig
	Store      *transcript.Store
	Scheduler  *playback.Scheduler
	Controller *timing.Controller
	Recorder   Recorder
	Archive    Archiver
	Log        zerolog.Logger
}

// Session is one live conversation.
type Session struct {
	adapter    provider.Adapter
	cfg        provider.SessionConfig
	store      *transcript.Store
	scheduler  *playback.Scheduler
	controller *timing.Controller
	recorder   Recorder
	archive    Archiver
	log        zerolog.Logger
	m          *metrics.Metrics

	// interruptMu serializes barge-in so the playback flush and the
	// transcript finalization land as one step.
	interruptMu sync.Mutex

	closeOnce sync.Once
	done      chan struct{}
}

// New creates a session. Start must be called to connect.
func New(opts Options) *Session {
	return &Session{
		adapter:    opts.Adapter,
		cfg:        opts.Config,
		store:      opts.Store,
		scheduler:  opts.Scheduler,
		controller: opts.Controller,
		recorder:   opts.Recorder,
		archive:    opts.Archive,
		log:        opts.Log,
		m:          metrics.Default,
		done:       make(chan struct{}),
	}
}

// Start connects to the provider and begins the event flow.
func (s *Session) Start(ctx context.Context) error {
	ev := provider.Events{
		OnOpen: func() {
			s.log.Info().Msg("provider session open")
		},
		OnAudioChunk:         s.onAudioChunk,
		OnTranscriptDelta:    s.onTranscriptDelta,
		OnTranscriptComplete: s.onTranscriptComplete,
		OnInterrupt:          s.Interrupt,
		OnFunctionCall:       s.onFunctionCall,
		OnFunctionResult:     s.onFunctionResult,
		OnClose: func(err error) {
			if err != nil {
				s.log.Warn().Err(err).Msg("provider connection lost")
			}
			s.Close()
		},
		OnError: func(err error) {
			s.log.Error().Err(err).Msg("provider error")
		},
	}

	if err := s.adapter.Connect(ctx, s.cfg, ev); err != nil {
		return err
	}
	s.m.SessionsTotal.Inc()
	s.m.SessionsActive.Inc()
	return nil
}

// ForwardFrame sends one microphone frame to the provider. Wired as the
// capture pipeline's forward function.
func (s *Session) ForwardFrame(frame []byte) error {
	if !s.adapter.IsConnected() {
		return errors.New("session: provider not connected")
	}
	return s.adapter.SendAudio(frame)
}

// SendText injects a typed user message into the conversation.
func (s *Session) SendText(text string) error {
	return s.adapter.SendText(text)
}

func (s *Session) onAudioChunk(chunk []byte) {
	if s.recorder != nil {
		if err := s.recorder.Write(chunk); err != nil {
			s.log.Warn().Err(err).Msg("recording write failed")
		}
	}
	if _, err := s.scheduler.OnAudioChunk(chunk); err != nil {
		s.log.Warn().Err(err).Int("bytes", len(chunk)).Msg("audio chunk dropped")
	}
}

func (s *Session) onTranscriptDelta(d provider.TranscriptDelta) {
	s.controller.OnDelta(roleOf(d.Role), d.Delta, d.TurnID, d.ItemID, d.SpeechStart)
}

func (s *Session) onTranscriptComplete(c provider.TranscriptComplete) {
	s.controller.OnComplete(roleOf(c.Role), c.Text, c.TurnID, c.SpeechStart)
}

func (s *Session) onFunctionCall(fc provider.FunctionCall) {
	s.controller.OnToolCall(fc.CallID, fc.Name, fc.Arguments)
}

func (s *Session) onFunctionResult(fr provider.FunctionResult) {
	status := transcript.ToolSuccess
	if fr.IsErr {
		status = transcript.ToolError
	}
	s.controller.OnToolResult(fr.CallID, fr.Result, fr.ExecMs, status)
}

// Interrupt handles barge-in: stop playback, reset the audio timeline, then
// finalize any partial assistant turns. Later chunks or deltas for those
// turns fall under the store's staleness rules.
func (s *Session) Interrupt() {
	s.interruptMu.Lock()
	defer s.interruptMu.Unlock()

	s.m.Interrupts.Inc()
	s.scheduler.Flush()
	touched := s.controller.Interrupt()
	s.log.Info().Int("turns_finalized", len(touched)).Msg("barge-in")
}

// Done is closed when the session has fully torn down.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close tears the session down exactly once: disconnect, stop playback,
// close the recording, archive the transcript. Pending tool invocations stay
// pending in the archived transcript.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.log.Info().Msg("session closing")
		if err := s.adapter.Disconnect(); err != nil {
			s.log.Warn().Err(err).Msg("provider disconnect failed")
		}
		s.scheduler.Flush()
		if s.recorder != nil {
			if err := s.recorder.Close(); err != nil {
				s.log.Warn().Err(err).Msg("recording close failed")
			}
		}
		if s.archive != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.archive(ctx, s.store.Snapshot()); err != nil {
				s.log.Warn().Err(err).Msg("transcript archive failed")
			}
		}
		s.m.SessionsActive.Dec()
		close(s.done)
	})
}

func roleOf(role string) transcript.Role {
	if role == "user" {
		return transcript.RoleUser
	}
	return transcript.RoleAssistant
}

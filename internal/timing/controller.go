// Package timing paces transcript visibility against the audio timeline. A
// reader watching captions must never see text ahead of the voice, so a
// turn's visible finalization is delayed by the current audio lead time, and
// bursts of streamed deltas are spread out instead of appearing as one block.
package timing

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/mdwoicke/jefferson-dental-sub001/internal/metrics"
	"github.com/mdwoicke/jefferson-dental-sub001/internal/transcript"
)

// DefaultDeltaStep is the incremental display delay added per streamed delta
// within one turn.
const DefaultDeltaStep = 60 * time.Millisecond

// Notifier receives transcript entries when they become visible.
type Notifier func(transcript.Entry)

// Controller sits between the transcript store and the consumer. Deltas reach
// the store immediately and only their notification is paced; a completion's
// store write is itself scheduled behind the current audio lead time, so the
// caption never finishes before the voice does.
type Controller struct {
	store     *transcript.Store
	lead      func() time.Duration
	notify    Notifier
	deltaStep time.Duration
	log       zerolog.Logger
	m         *metrics.Metrics

	// epoch invalidates paced delta notifications from a previous session or
	// from before an interrupt. Every pacing timer captures the epoch at
	// schedule time and no-ops if it has moved. Completions are tracked in
	// pending instead: they carry state the transcript must not lose.
	epoch atomic.Uint64

	mu         sync.Mutex
	deltaCount map[string]int
	pending    map[uint64]*pendingComplete
	pendingID  uint64
}

// pendingComplete is a completion waiting out the audio lead time.
type pendingComplete struct {
	role        transcript.Role
	text        string
	turnID      string
	speechStart time.Time
	timer       *time.Timer
}

// NewController wires the store to a consumer. lead reports the playback
// scheduler's current audio lead time.
func NewController(store *transcript.Store, lead func() time.Duration, notify Notifier, log zerolog.Logger) *Controller {
	if notify == nil {
		notify = func(transcript.Entry) {}
	}
	return &Controller{
		store:      store,
		lead:       lead,
		notify:     notify,
		deltaStep:  DefaultDeltaStep,
		log:        log,
		m:          metrics.Default,
		deltaCount: make(map[string]int),
		pending:    make(map[uint64]*pendingComplete),
	}
}

// OnDelta applies a streamed text delta. Creation time and sequence number
// are fixed now; only the consumer notification is paced.
func (c *Controller) OnDelta(role transcript.Role, delta, turnID, itemID string, speechStart time.Time) {
	c.store.NoteSpeechStart(turnID, speechStart)
	entry, applied := c.store.ApplyDelta(role, delta, turnID, itemID, speechStart)
	if !applied {
		c.m.TranscriptDropped.WithLabelValues("stale_delta").Inc()
		c.log.Debug().Str("role", string(role)).Str("turn", turnID).Msg("dropped delta for completed turn")
		return
	}
	c.m.TranscriptDeltas.Inc()

	c.mu.Lock()
	k := string(role) + "\x00" + entry.ID
	c.deltaCount[k]++
	n := c.deltaCount[k]
	c.mu.Unlock()

	snapshot := entry
	c.after(time.Duration(n)*c.deltaStep, func() {
		// A completion may have been written while this update waited.
		if snapshot.TurnID != "" && c.store.IsComplete(role, snapshot.TurnID) {
			return
		}
		c.notify(snapshot)
	})
}

// OnComplete schedules the turn's finalization after the current audio lead
// time. The pending completion survives an interrupt, it only loses the
// delay; a duplicate is a no-op at apply time.
func (c *Controller) OnComplete(role transcript.Role, text, turnID string, speechStart time.Time) {
	c.store.NoteSpeechStart(turnID, speechStart)
	d := c.lead()
	if d <= 0 {
		c.applyComplete(role, text, turnID, speechStart)
		return
	}

	c.mu.Lock()
	id := c.pendingID
	c.pendingID++
	p := &pendingComplete{role: role, text: text, turnID: turnID, speechStart: speechStart}
	c.pending[id] = p
	p.timer = time.AfterFunc(d, func() {
		c.mu.Lock()
		_, live := c.pending[id]
		delete(c.pending, id)
		c.mu.Unlock()
		// Interrupt or Reset already took this completion off the map.
		if !live {
			return
		}
		c.applyComplete(role, text, turnID, speechStart)
	})
	c.mu.Unlock()
}

// applyComplete writes the completion to the store and notifies. Pacing state
// for the finished turn is released.
func (c *Controller) applyComplete(role transcript.Role, text, turnID string, speechStart time.Time) {
	entry, applied := c.store.ApplyComplete(role, text, turnID, speechStart)
	if !applied {
		c.m.TranscriptDropped.WithLabelValues("duplicate_complete").Inc()
		return
	}
	c.mu.Lock()
	delete(c.deltaCount, string(role)+"\x00"+entry.ID)
	c.mu.Unlock()
	c.m.TranscriptFinals.Inc()
	c.notify(entry)
}

// OnToolCall records a pending tool invocation, visible immediately.
func (c *Controller) OnToolCall(callID, name, args string) {
	entry, applied := c.store.BeginToolCall(callID, name, args)
	if !applied {
		c.m.TranscriptDropped.WithLabelValues("duplicate_tool_call").Inc()
		return
	}
	c.notify(entry)
}

// OnToolResult resolves a pending tool invocation, visible immediately.
func (c *Controller) OnToolResult(callID, result string, execMs int64, status transcript.ToolStatus) {
	entry, applied := c.store.ResolveToolCall(callID, result, execMs, status)
	if !applied {
		c.m.TranscriptDropped.WithLabelValues("unmatched_tool_result").Inc()
		return
	}
	c.notify(entry)
}

// Interrupt finalizes partial assistant turns immediately, bypassing the lead
// delay: the audio they described has just been cut off. Paced delta updates
// are invalidated, but completions still waiting out the lead time are
// applied now rather than dropped; the store's idempotence discards the ones
// the interrupt itself finalized.
func (c *Controller) Interrupt() []*transcript.SpeechTurn {
	c.epoch.Add(1)
	c.mu.Lock()
	c.deltaCount = make(map[string]int)
	drained := make([]*pendingComplete, 0, len(c.pending))
	for id, p := range c.pending {
		p.timer.Stop()
		drained = append(drained, p)
		delete(c.pending, id)
	}
	c.mu.Unlock()

	touched := c.store.Interrupt()
	for _, t := range touched {
		c.m.TranscriptFinals.Inc()
		c.notify(t)
	}
	for _, p := range drained {
		c.applyComplete(p.role, p.text, p.turnID, p.speechStart)
	}
	return touched
}

// Reset clears the transcript and invalidates everything in flight, pending
// completions included. The next entry observed receives sequence number 1.
func (c *Controller) Reset() {
	c.epoch.Add(1)
	c.mu.Lock()
	c.deltaCount = make(map[string]int)
	for id, p := range c.pending {
		p.timer.Stop()
		delete(c.pending, id)
	}
	c.mu.Unlock()
	c.store.Clear()
}

// after runs f now when the delay is not positive, otherwise on a timer
// guarded by the current epoch.
func (c *Controller) after(d time.Duration, f func()) {
	if d <= 0 {
		f()
		return
	}
	e := c.epoch.Load()
	time.AfterFunc(d, func() {
		if c.epoch.Load() != e {
			return
		}
		f()
	})
}

// Package transcript assembles streamed text events into an ordered,
// append-only transcript. Providers redeliver, deliver out of order under
// load, and sometimes omit correlation ids; the Store tolerates all three
// without producing duplicate or resurrected entries.
package transcript

import (
	"fmt"
	"sync"
	"time"
)

// InterruptMarker is appended to a partial assistant turn cut off by barge-in.
const InterruptMarker = " [interrupted]"

// Store holds the transcript for a single session. Entries are replaced in
// place (partial to complete) but never reordered and never removed except by
// Clear.
type Store struct {
	mu          sync.Mutex
	entries     []Entry
	seq         uint64
	completed   map[string]bool
	tools       map[string]*ToolInvocation
	speechStart map[string]time.Time

	// now is swappable for tests.
	now func() time.Time
}

// NewStore creates an empty session transcript.
func NewStore() *Store {
	return &Store{
		completed:   make(map[string]bool),
		tools:       make(map[string]*ToolInvocation),
		speechStart: make(map[string]time.Time),
		now:         time.Now,
	}
}

func key(role Role, turnID string) string { return string(role) + "\x00" + turnID }

// NoteSpeechStart records the provider's notion of when speech began for a
// turn, so an entry created later from a completion event can still carry it.
func (s *Store) NoteSpeechStart(turnID string, at time.Time) {
	if turnID == "" || at.IsZero() {
		return
	}
	s.mu.Lock()
	if _, ok := s.speechStart[turnID]; !ok {
		s.speechStart[turnID] = at
	}
	s.mu.Unlock()
}

// createdAt resolves the immutable creation time for a new entry.
// Caller must hold s.mu.
func (s *Store) createdAt(turnID string, speechStart time.Time) time.Time {
	if !speechStart.IsZero() {
		return speechStart
	}
	if at, ok := s.speechStart[turnID]; ok && turnID != "" {
		return at
	}
	return s.now()
}

// findPartial locates the partial turn a delta or completion belongs to.
// Exact turnId match wins, then itemId, then the most recent partial of the
// same role. The role fallback is a best-effort heuristic for providers with
// weak correlation ids; under rapid overlapping turns it can misattribute.
// Caller must hold s.mu.
func (s *Store) findPartial(role Role, turnID, itemID string) *SpeechTurn {
	var byRole *SpeechTurn
	for i := len(s.entries) - 1; i >= 0; i-- {
		t, ok := s.entries[i].(*SpeechTurn)
		if !ok || !t.Partial || t.Role != role {
			continue
		}
		if turnID != "" && t.TurnID == turnID {
			return t
		}
		if itemID != "" && t.ItemID != "" && t.ItemID == itemID {
			return t
		}
		if byRole == nil {
			byRole = t
		}
	}
	return byRole
}

// ApplyDelta folds one streamed text delta into the transcript. It returns a
// copy of the affected entry, or applied=false when the delta belongs to an
// already-completed turn and must be dropped.
func (s *Store) ApplyDelta(role Role, delta, turnID, itemID string, speechStart time.Time) (entry *SpeechTurn, applied bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if turnID != "" && s.completed[key(role, turnID)] {
		return nil, false
	}

	if t := s.findPartial(role, turnID, itemID); t != nil {
		t.Text += delta
		t.UpdatedAt = s.now()
		if t.TurnID == "" {
			t.TurnID = turnID
		}
		if t.ItemID == "" {
			t.ItemID = itemID
		}
		return t.clone(), true
	}

	s.seq++
	t := &SpeechTurn{
		ID:        fmt.Sprintf("turn-%d", s.seq),
		Role:      role,
		Text:      delta,
		Partial:   true,
		CreatedAt: s.createdAt(turnID, speechStart),
		UpdatedAt: s.now(),
		Seq:       s.seq,
		TurnID:    turnID,
		ItemID:    itemID,
	}
	s.entries = append(s.entries, t)
	return t.clone(), true
}

// ApplyComplete writes the authoritative full text for a turn and marks it
// complete. The provider's text wins over locally concatenated deltas, which
// may diverge due to tokenization differences. A duplicate completion for the
// same turn is a no-op.
func (s *Store) ApplyComplete(role Role, text, turnID string, speechStart time.Time) (entry *SpeechTurn, applied bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if turnID != "" && s.completed[key(role, turnID)] {
		return nil, false
	}

	if t := s.findPartial(role, turnID, ""); t != nil {
		if text != "" {
			t.Text = text
		}
		t.Partial = false
		t.UpdatedAt = s.now()
		if t.TurnID == "" {
			t.TurnID = turnID
		}
		s.markComplete(t)
		return t.clone(), true
	}

	s.seq++
	t := &SpeechTurn{
		ID:        fmt.Sprintf("turn-%d", s.seq),
		Role:      role,
		Text:      text,
		Partial:   false,
		CreatedAt: s.createdAt(turnID, speechStart),
		UpdatedAt: s.now(),
		Seq:       s.seq,
		TurnID:    turnID,
	}
	s.entries = append(s.entries, t)
	s.markComplete(t)
	return t.clone(), true
}

// markComplete records the completion key so later duplicates and stale
// deltas are rejected. Caller must hold s.mu.
func (s *Store) markComplete(t *SpeechTurn) {
	k := t.TurnID
	if k == "" {
		k = t.ID
	}
	s.completed[key(t.Role, k)] = true
}

// IsComplete reports whether a completion has already been written for the
// turn. Used by delayed display updates to re-check at fire time.
func (s *Store) IsComplete(role Role, turnID string) bool {
	if turnID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed[key(role, turnID)]
}

// BeginToolCall appends a pending tool invocation. A duplicate callId is
// ignored.
func (s *Store) BeginToolCall(callID, name, args string) (entry *ToolInvocation, applied bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tools[callID]; ok {
		return nil, false
	}
	s.seq++
	t := &ToolInvocation{
		ID:        fmt.Sprintf("tool-%d", s.seq),
		CallID:    callID,
		Function:  name,
		Arguments: args,
		Status:    ToolPending,
		CreatedAt: s.now(),
		UpdatedAt: s.now(),
		Seq:       s.seq,
	}
	s.tools[callID] = t
	s.entries = append(s.entries, t)
	return t.clone(), true
}

// ResolveToolCall transitions a pending invocation to success or error.
// The transition happens exactly once; later resolutions are no-ops.
func (s *Store) ResolveToolCall(callID, result string, execMs int64, status ToolStatus) (entry *ToolInvocation, applied bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tools[callID]
	if !ok || t.Status != ToolPending {
		return nil, false
	}
	t.Result = result
	t.ExecMs = execMs
	t.Status = status
	t.UpdatedAt = s.now()
	return t.clone(), true
}

// Interrupt finalizes every partial assistant turn immediately, appending the
// termination marker. It returns copies of the entries it touched. Chunks or
// deltas arriving afterwards for these turns fall under the duplicate and
// stale-delta rules.
func (s *Store) Interrupt() []*SpeechTurn {
	s.mu.Lock()
	defer s.mu.Unlock()

	var touched []*SpeechTurn
	for _, e := range s.entries {
		t, ok := e.(*SpeechTurn)
		if !ok || t.Role != RoleAssistant || !t.Partial {
			continue
		}
		t.Text += InterruptMarker
		t.Partial = false
		t.UpdatedAt = s.now()
		s.markComplete(t)
		touched = append(touched, t.clone())
	}
	return touched
}

// Clear empties the transcript and resets the sequence counter for the next
// session.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	s.seq = 0
	s.completed = make(map[string]bool)
	s.tools = make(map[string]*ToolInvocation)
	s.speechStart = make(map[string]time.Time)
}

// Snapshot returns copies of all entries in first-observation order.
func (s *Store) Snapshot() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		switch t := e.(type) {
		case *SpeechTurn:
			out = append(out, t.clone())
		case *ToolInvocation:
			out = append(out, t.clone())
		}
	}
	return out
}

// Len reports the number of entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

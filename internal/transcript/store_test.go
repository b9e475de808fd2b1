package transcript

import (
	"strings"
	"testing"
	"time"
)

func TestApplyDeltaAccumulates(t *testing.T) {
	s := NewStore()

	e1, ok := s.ApplyDelta(RoleAssistant, "Hello", "turn-a", "", time.Time{})
	if !ok {
		t.Fatal("first delta not applied")
	}
	if !e1.Partial || e1.Text != "Hello" {
		t.Fatalf("unexpected entry: %+v", e1)
	}

	e2, ok := s.ApplyDelta(RoleAssistant, " there", "turn-a", "", time.Time{})
	if !ok {
		t.Fatal("second delta not applied")
	}
	if e2.Text != "Hello there" {
		t.Fatalf("text = %q, want %q", e2.Text, "Hello there")
	}
	if e2.Seq != e1.Seq {
		t.Fatalf("delta created a new entry: seq %d != %d", e2.Seq, e1.Seq)
	}
	if s.Len() != 1 {
		t.Fatalf("len = %d, want 1", s.Len())
	}
}

func TestSequenceNumbersMonotonic(t *testing.T) {
	s := NewStore()
	s.ApplyDelta(RoleUser, "one", "t1", "", time.Time{})
	s.ApplyComplete(RoleAssistant, "two", "t2", time.Time{})
	s.BeginToolCall("c1", "lookup_patient", "{}")

	snap := s.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("len = %d, want 3", len(snap))
	}
	for i, e := range snap {
		if e.Sequence() != uint64(i+1) {
			t.Fatalf("entry %d has seq %d", i, e.Sequence())
		}
	}
}

func TestCompleteReplacesPartialText(t *testing.T) {
	s := NewStore()
	s.ApplyDelta(RoleAssistant, "Helo wrld", "turn-a", "", time.Time{})

	e, ok := s.ApplyComplete(RoleAssistant, "Hello world.", "turn-a", time.Time{})
	if !ok {
		t.Fatal("complete not applied")
	}
	if e.Partial {
		t.Fatal("entry still partial after complete")
	}
	if e.Text != "Hello world." {
		t.Fatalf("text = %q, authoritative text should win", e.Text)
	}
	if s.Len() != 1 {
		t.Fatalf("complete should replace in place, len = %d", s.Len())
	}
}

func TestDuplicateCompleteIsNoOp(t *testing.T) {
	s := NewStore()
	s.ApplyComplete(RoleUser, "hi", "turn-a", time.Time{})

	if _, ok := s.ApplyComplete(RoleUser, "hi again", "turn-a", time.Time{}); ok {
		t.Fatal("duplicate complete was applied")
	}
	if s.Len() != 1 {
		t.Fatalf("len = %d, want 1", s.Len())
	}
	snap := s.Snapshot()
	if got := snap[0].(*SpeechTurn).Text; got != "hi" {
		t.Fatalf("text = %q, first completion should stand", got)
	}
}

func TestLateDeltaAfterCompleteDropped(t *testing.T) {
	s := NewStore()
	s.ApplyComplete(RoleAssistant, "done", "turn-a", time.Time{})

	if _, ok := s.ApplyDelta(RoleAssistant, "straggler", "turn-a", "", time.Time{}); ok {
		t.Fatal("late delta for completed turn was applied")
	}
}

func TestSameTurnIDDifferentRolesIndependent(t *testing.T) {
	s := NewStore()
	s.ApplyComplete(RoleUser, "question", "turn-1", time.Time{})

	if _, ok := s.ApplyDelta(RoleAssistant, "answer", "turn-1", "", time.Time{}); !ok {
		t.Fatal("assistant delta blocked by user completion with same turn id")
	}
}

func TestRoleFallbackCorrelation(t *testing.T) {
	s := NewStore()
	// Provider sends deltas without ids, then a completion without an id.
	e1, _ := s.ApplyDelta(RoleAssistant, "no ids ", "", "", time.Time{})
	s.ApplyDelta(RoleAssistant, "here", "", "", time.Time{})

	e, ok := s.ApplyComplete(RoleAssistant, "no ids here", "", time.Time{})
	if !ok {
		t.Fatal("complete not applied")
	}
	if e.Seq != e1.Seq {
		t.Fatal("completion did not attach to the open partial")
	}
	if s.Len() != 1 {
		t.Fatalf("len = %d, want 1", s.Len())
	}
}

func TestItemIDFallback(t *testing.T) {
	s := NewStore()
	e1, _ := s.ApplyDelta(RoleUser, "a", "", "item-9", time.Time{})
	e2, _ := s.ApplyDelta(RoleUser, "b", "turn-x", "item-9", time.Time{})
	if e2.Seq != e1.Seq {
		t.Fatal("item id did not correlate the delta")
	}
	if e2.TurnID != "turn-x" {
		t.Fatal("late turn id was not backfilled")
	}
}

func TestInterruptFinalizesPartialAssistantTurns(t *testing.T) {
	s := NewStore()
	s.ApplyDelta(RoleAssistant, "I was saying", "turn-a", "", time.Time{})
	s.ApplyDelta(RoleUser, "wait", "turn-u", "", time.Time{})

	touched := s.Interrupt()
	if len(touched) != 1 {
		t.Fatalf("touched %d turns, want 1", len(touched))
	}
	got := touched[0]
	if got.Partial {
		t.Fatal("interrupted turn still partial")
	}
	if !strings.HasSuffix(got.Text, InterruptMarker) {
		t.Fatalf("text = %q, missing interrupt marker", got.Text)
	}

	// The user partial must be untouched.
	for _, e := range s.Snapshot() {
		st, ok := e.(*SpeechTurn)
		if ok && st.Role == RoleUser && !st.Partial {
			t.Fatal("user partial was finalized by interrupt")
		}
	}

	// Deltas for the interrupted turn are now stale.
	if _, ok := s.ApplyDelta(RoleAssistant, "more", "turn-a", "", time.Time{}); ok {
		t.Fatal("delta applied to interrupted turn")
	}
}

func TestToolCallLifecycle(t *testing.T) {
	s := NewStore()

	inv, ok := s.BeginToolCall("call-1", "book_appointment", `{"slot":"x"}`)
	if !ok || inv.Status != ToolPending {
		t.Fatalf("begin failed: %+v", inv)
	}
	if _, ok := s.BeginToolCall("call-1", "book_appointment", "{}"); ok {
		t.Fatal("duplicate call id accepted")
	}

	res, ok := s.ResolveToolCall("call-1", `{"confirmed":true}`, 12, ToolSuccess)
	if !ok || res.Status != ToolSuccess || res.ExecMs != 12 {
		t.Fatalf("resolve failed: %+v", res)
	}
	if _, ok := s.ResolveToolCall("call-1", "again", 1, ToolError); ok {
		t.Fatal("second resolution accepted")
	}
	if _, ok := s.ResolveToolCall("missing", "x", 1, ToolSuccess); ok {
		t.Fatal("unknown call id accepted")
	}
}

func TestClearResetsSequence(t *testing.T) {
	s := NewStore()
	s.ApplyComplete(RoleUser, "hi", "t1", time.Time{})
	s.Clear()

	if s.Len() != 0 {
		t.Fatal("entries survived Clear")
	}
	e, _ := s.ApplyDelta(RoleUser, "fresh", "t1", "", time.Time{})
	if e.Seq != 1 {
		t.Fatalf("seq after Clear = %d, want 1", e.Seq)
	}
	if e.Text != "fresh" {
		t.Fatal("old completion leaked into new session")
	}
}

func TestSpeechStartBecomesCreationTime(t *testing.T) {
	s := NewStore()
	at := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	s.NoteSpeechStart("turn-a", at)

	e, _ := s.ApplyComplete(RoleUser, "hello", "turn-a", time.Time{})
	if !e.CreatedAt.Equal(at) {
		t.Fatalf("createdAt = %v, want speech start %v", e.CreatedAt, at)
	}
}

func TestSnapshotReturnsCopies(t *testing.T) {
	s := NewStore()
	s.ApplyDelta(RoleUser, "hi", "t1", "", time.Time{})

	snap := s.Snapshot()
	snap[0].(*SpeechTurn).Text = "mutated"

	if got := s.Snapshot()[0].(*SpeechTurn).Text; got != "hi" {
		t.Fatalf("store text = %q, snapshot mutation leaked", got)
	}
}

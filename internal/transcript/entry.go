package transcript

import "time"

// Role identifies the speaker of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ToolStatus is the lifecycle state of a tool invocation.
type ToolStatus string

const (
	ToolPending ToolStatus = "pending"
	ToolSuccess ToolStatus = "success"
	ToolError   ToolStatus = "error"
)

// Entry is one element of the session transcript. Concrete types are
// *SpeechTurn and *ToolInvocation.
type Entry interface {
	// Sequence is assigned once at first observation and is the canonical
	// display ordering tie-break.
	Sequence() uint64
	// Created is the immutable creation time: the provider's speech start
	// when known, else local receipt time.
	Created() time.Time
	// Updated is the mutable last-touched wall clock, for staleness display.
	Updated() time.Time
}

// SpeechTurn is one unit of user or assistant speech assembled from
// streamed deltas and/or a completion event.
type SpeechTurn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Partial   bool      `json:"isPartial"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"timestamp"`
	Seq       uint64    `json:"sequenceNumber"`
	TurnID    string    `json:"turnId,omitempty"`
	ItemID    string    `json:"itemId,omitempty"`
}

func (t *SpeechTurn) Sequence() uint64   { return t.Seq }
func (t *SpeechTurn) Created() time.Time { return t.CreatedAt }
func (t *SpeechTurn) Updated() time.Time { return t.UpdatedAt }

// ToolInvocation records one provider function call and its resolution.
type ToolInvocation struct {
	ID        string     `json:"id"`
	CallID    string     `json:"callId"`
	Function  string     `json:"functionName"`
	Arguments string     `json:"arguments"`
	Result    string     `json:"result,omitempty"`
	Status    ToolStatus `json:"status"`
	ExecMs    int64      `json:"executionTimeMs"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"timestamp"`
	Seq       uint64     `json:"sequenceNumber"`
}

func (t *ToolInvocation) Sequence() uint64   { return t.Seq }
func (t *ToolInvocation) Created() time.Time { return t.CreatedAt }
func (t *ToolInvocation) Updated() time.Time { return t.UpdatedAt }

func (t *SpeechTurn) clone() *SpeechTurn {
	cp := *t
	return &cp
}

func (t *ToolInvocation) clone() *ToolInvocation {
	cp := *t
	return &cp
}

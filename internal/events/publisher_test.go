package events

import (
	"testing"
	"time"

	"github.com/mdwoicke/jefferson-dental-sub001/internal/transcript"
)

func TestDisabledPublisherIsSafe(t *testing.T) {
	p := New(Config{
		TopicPartial: "transcript.partial",
		TopicFinal:   "transcript.final",
		SessionID:    "s1",
	})

	partial := &transcript.SpeechTurn{
		ID: "turn-1", Role: transcript.RoleAssistant, Text: "hel",
		Partial: true, Seq: 1, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	final := &transcript.SpeechTurn{
		ID: "turn-1", Role: transcript.RoleAssistant, Text: "hello",
		Partial: false, Seq: 1, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	tool := &transcript.ToolInvocation{
		ID: "tool-2", CallID: "c1", Function: "available_slots",
		Status: transcript.ToolPending, Seq: 2,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}

	// Log-only mode: no brokers, no panic, no error surfaced.
	p.Publish(partial)
	p.Publish(final)
	p.Publish(tool)

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestEnabledPublisherBuildsWriters(t *testing.T) {
	p := New(Config{
		Brokers:      []string{"localhost:9092"},
		TopicPartial: "transcript.partial",
		TopicFinal:   "transcript.final",
		SessionID:    "s1",
	})
	if !p.enabled {
		t.Fatal("publisher not enabled with brokers configured")
	}
	if p.writerPartial == nil || p.writerFinal == nil {
		t.Fatal("writers not constructed")
	}
	if p.writerPartial.Topic != "transcript.partial" || p.writerFinal.Topic != "transcript.final" {
		t.Fatalf("topics: %s / %s", p.writerPartial.Topic, p.writerFinal.Topic)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

package geminilive

import (
	"encoding/base64"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mdwoicke/jefferson-dental-sub001/internal/provider"
)

type captured struct {
	chunks     [][]byte
	deltas     []provider.TranscriptDelta
	completes  []provider.TranscriptComplete
	interrupts int
	calls      []provider.FunctionCall
}

func newTestAdapter(c *captured) *Adapter {
	a := New("test-key", zerolog.Nop())
	a.ev = provider.Events{
		OnAudioChunk:      func(pcm []byte) { c.chunks = append(c.chunks, pcm) },
		OnTranscriptDelta: func(d provider.TranscriptDelta) { c.deltas = append(c.deltas, d) },
		OnTranscriptComplete: func(tc provider.TranscriptComplete) {
			c.completes = append(c.completes, tc)
		},
		OnInterrupt:    func() { c.interrupts++ },
		OnFunctionCall: func(fc provider.FunctionCall) { c.calls = append(c.calls, fc) },
	}
	return a
}

func TestModelAudioDecoded(t *testing.T) {
	c := &captured{}
	a := newTestAdapter(c)

	pcm := []byte{0x0a, 0x0b, 0x0c, 0x0d}
	msg := fmt.Sprintf(`{"serverContent":{"modelTurn":{"parts":[{"inlineData":{"mimeType":"audio/pcm;rate=24000","data":%q}}]}}}`,
		base64.StdEncoding.EncodeToString(pcm))
	a.processMessage([]byte(msg))

	if len(c.chunks) != 1 || string(c.chunks[0]) != string(pcm) {
		t.Fatalf("chunks = %v", c.chunks)
	}
}

func TestTranscriptionDeltasCarryNoTurnID(t *testing.T) {
	c := &captured{}
	a := newTestAdapter(c)

	a.processMessage([]byte(`{"serverContent":{"inputTranscription":{"text":"hello "}}}`))
	a.processMessage([]byte(`{"serverContent":{"outputTranscription":{"text":"Hi! "}}}`))

	if len(c.deltas) != 2 {
		t.Fatalf("deltas = %d", len(c.deltas))
	}
	if c.deltas[0].Role != "user" || c.deltas[0].TurnID != "" {
		t.Fatalf("user delta = %+v", c.deltas[0])
	}
	if c.deltas[1].Role != "assistant" || c.deltas[1].TurnID != "" {
		t.Fatalf("assistant delta = %+v", c.deltas[1])
	}
}

func TestModelSpeechFinalizesUserTurn(t *testing.T) {
	c := &captured{}
	a := newTestAdapter(c)

	a.processMessage([]byte(`{"serverContent":{"inputTranscription":{"text":"book me "}}}`))
	a.processMessage([]byte(`{"serverContent":{"inputTranscription":{"text":"a cleaning"}}}`))
	// First assistant output implies the user turn ended.
	a.processMessage([]byte(`{"serverContent":{"outputTranscription":{"text":"Sure."}}}`))

	if len(c.completes) != 1 {
		t.Fatalf("completes = %d, want 1", len(c.completes))
	}
	tc := c.completes[0]
	if tc.Role != "user" || tc.Text != "book me a cleaning" {
		t.Fatalf("complete = %+v", tc)
	}
}

func TestTurnCompleteFinalizesAssistantText(t *testing.T) {
	c := &captured{}
	a := newTestAdapter(c)

	a.processMessage([]byte(`{"serverContent":{"outputTranscription":{"text":"I can "}}}`))
	a.processMessage([]byte(`{"serverContent":{"outputTranscription":{"text":"help with that."}}}`))
	a.processMessage([]byte(`{"serverContent":{"turnComplete":true}}`))

	if len(c.completes) != 1 {
		t.Fatalf("completes = %d, want 1", len(c.completes))
	}
	tc := c.completes[0]
	if tc.Role != "assistant" || tc.Text != "I can help with that." {
		t.Fatalf("complete = %+v", tc)
	}

	// A second turnComplete with nothing accumulated emits nothing.
	a.processMessage([]byte(`{"serverContent":{"turnComplete":true}}`))
	if len(c.completes) != 1 {
		t.Fatal("empty turn emitted a completion")
	}
}

func TestInterruptedSignalsAndDiscardsAccumulation(t *testing.T) {
	c := &captured{}
	a := newTestAdapter(c)

	a.processMessage([]byte(`{"serverContent":{"outputTranscription":{"text":"long answer in prog"}}}`))
	a.processMessage([]byte(`{"serverContent":{"interrupted":true}}`))

	if c.interrupts != 1 {
		t.Fatalf("interrupts = %d, want 1", c.interrupts)
	}
	// The adapter flushes its accumulation so a later turnComplete cannot
	// resurrect the cut-off text.
	a.processMessage([]byte(`{"serverContent":{"turnComplete":true}}`))
	for _, tc := range c.completes {
		if tc.Text == "long answer in prog" {
			t.Fatal("interrupted accumulation resurfaced")
		}
	}
}

func TestToolCallSurfaced(t *testing.T) {
	c := &captured{}
	a := newTestAdapter(c)

	a.processMessage([]byte(`{"toolCall":{"functionCalls":[{"id":"f1","name":"available_slots","args":{}}]}}`))
	if len(c.calls) != 1 {
		t.Fatalf("calls = %d", len(c.calls))
	}
	if c.calls[0].CallID != "f1" || c.calls[0].Name != "available_slots" {
		t.Fatalf("call = %+v", c.calls[0])
	}
}

func TestAudioLoopFailureTearsDown(t *testing.T) {
	var mu sync.Mutex
	var closeErr error
	a := New("test-key", zerolog.Nop())
	a.ev = provider.Events{
		OnClose: func(err error) {
			mu.Lock()
			closeErr = err
			mu.Unlock()
		},
	}
	a.stopCh = make(chan struct{})
	a.audioData = make(chan []byte, 1)
	a.audioData <- []byte{0x01, 0x02}

	done := make(chan struct{})
	go func() {
		a.sendAudioLoop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("audio loop did not exit on write failure")
	}

	mu.Lock()
	defer mu.Unlock()
	if closeErr == nil {
		t.Fatal("write failure not surfaced through OnClose")
	}
}

func TestSendAudioRequiresConnection(t *testing.T) {
	a := New("test-key", zerolog.Nop())
	if err := a.SendAudio(make([]byte, 8192)); err == nil {
		t.Fatal("send succeeded without connection")
	}
}

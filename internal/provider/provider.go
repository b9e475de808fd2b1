// Package provider defines the contract between the session and a realtime
// speech-to-speech backend. Adapters normalize each vendor's wire protocol
// into one event surface so the pipeline never branches on provider.
package provider

import (
	"context"
	"time"
)

// TranscriptDelta is one streamed text fragment for a turn in progress.
// SpeechStart is the provider's notion of when the speech began; zero when
// the provider does not report it.
type TranscriptDelta struct {
	Role        string
	Delta       string
	TurnID      string
	ItemID      string
	SpeechStart time.Time
}

// TranscriptComplete carries the authoritative full text for a finished turn.
type TranscriptComplete struct {
	Role        string
	Text        string
	TurnID      string
	SpeechStart time.Time
}

// FunctionCall is a provider request to run a local tool.
type FunctionCall struct {
	CallID    string
	Name      string
	Arguments string
}

// FunctionResult is the outcome of a local tool invocation.
type FunctionResult struct {
	CallID string
	Name   string
	Result string
	ExecMs int64
	IsErr  bool
}

// ToolDef describes a tool exposed to the provider. Parameters is a JSON
// Schema object.
type ToolDef struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Invoker executes tool calls requested by the provider.
type Invoker interface {
	Invoke(ctx context.Context, call FunctionCall) FunctionResult
}

// Events is the callback surface an adapter drives. Nil callbacks are
// allowed and skipped. Callbacks are invoked from the adapter's reader
// goroutine; handlers must not block.
type Events struct {
	OnOpen               func()
	OnAudioChunk         func(pcm []byte)
	OnTranscriptDelta    func(d TranscriptDelta)
	OnTranscriptComplete func(c TranscriptComplete)
	OnInterrupt          func()
	OnFunctionCall       func(fc FunctionCall)
	OnFunctionResult     func(fr FunctionResult)
	OnClose              func(err error)
	OnError              func(err error)
}

// SessionConfig parameterizes one provider session.
type SessionConfig struct {
	Model            string
	Voice            string
	Instructions     string
	Greeting         string
	Tools            []ToolDef
	Invoker          Invoker
	InputSampleRate  int
	OutputSampleRate int
}

// Adapter is a live connection to one provider.
type Adapter interface {
	// Connect dials the provider and starts dispatching events. It returns
	// once the connection is established; events arrive asynchronously.
	Connect(ctx context.Context, cfg SessionConfig, ev Events) error
	// SendAudio forwards one PCM16LE microphone frame. Frames may be
	// dropped under backpressure rather than blocking the capture path.
	SendAudio(frame []byte) error
	// SendText injects a text message as user input.
	SendText(text string) error
	// Disconnect closes the connection. Safe to call more than once.
	Disconnect() error
	// IsConnected reports whether the adapter currently holds a live
	// connection.
	IsConnected() bool
}

// Package geminilive adapts the Gemini Live API to the provider contract.
// The protocol is a single websocket carrying JSON: a setup handshake, then
// realtimeInput audio upstream and serverContent messages downstream. Gemini
// sends 16kHz audio in and 24kHz audio out, and does not tag transcription
// fragments with turn ids, so correlation relies on role and arrival order.
package geminilive

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/mdwoicke/jefferson-dental-sub001/internal/provider"
)

const liveURL = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

// DefaultModel is used when the config does not name one.
const DefaultModel = "gemini-2.0-flash-live-001"

// InputSampleRate and OutputSampleRate are fixed by the Live API.
const (
	InputSampleRate  = 16000
	OutputSampleRate = 24000
)

// Adapter is a live Gemini session.
type Adapter struct {
	apiKey string
	log    zerolog.Logger

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool

	writeMu sync.Mutex

	cfg       provider.SessionConfig
	ev        provider.Events
	stopCh    chan struct{}
	audioData chan []byte

	// accMu guards transcription accumulation. Gemini streams text without
	// turn ids; the full text for the authoritative completion is assembled
	// here.
	accMu      sync.Mutex
	inputText  strings.Builder
	outputText strings.Builder

	closeOnce sync.Once
}

// New creates an adapter. Connect must be called before audio can flow.
func New(apiKey string, log zerolog.Logger) *Adapter {
	return &Adapter{apiKey: apiKey, log: log}
}

type serverMessage struct {
	SetupComplete *struct{}      `json:"setupComplete"`
	ServerContent *serverContent `json:"serverContent"`
	ToolCall      *toolCall      `json:"toolCall"`
}

type serverContent struct {
	ModelTurn           *modelTurn     `json:"modelTurn"`
	InputTranscription  *transcription `json:"inputTranscription"`
	OutputTranscription *transcription `json:"outputTranscription"`
	TurnComplete        bool           `json:"turnComplete"`
	Interrupted         bool           `json:"interrupted"`
}

type modelTurn struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text"`
	InlineData *inlineData `json:"inlineData"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type transcription struct {
	Text string `json:"text"`
}

type toolCall struct {
	FunctionCalls []functionCall `json:"functionCalls"`
}

type functionCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// Connect dials the Live endpoint, sends the setup message and starts the
// reader and writer goroutines.
func (a *Adapter) Connect(ctx context.Context, cfg provider.SessionConfig, ev provider.Events) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.connected {
		return nil
	}
	if a.apiKey == "" {
		return fmt.Errorf("geminilive: API key is empty")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, liveURL+"?key="+a.apiKey, nil)
	if err != nil {
		if resp != nil {
			a.log.Error().Int("status", resp.StatusCode).Msg("live handshake rejected")
		}
		return fmt.Errorf("geminilive: dial: %w", err)
	}

	a.conn = conn
	a.connected = true
	a.cfg = cfg
	a.ev = ev
	a.stopCh = make(chan struct{})
	a.audioData = make(chan []byte, 256)
	a.closeOnce = sync.Once{}
	a.inputText.Reset()
	a.outputText.Reset()

	if err := a.sendSetup(); err != nil {
		_ = conn.Close()
		a.connected = false
		a.conn = nil
		return fmt.Errorf("geminilive: setup: %w", err)
	}

	go a.handleMessages()
	go a.sendAudioLoop()

	a.log.Info().Str("model", cfg.Model).Msg("connected to Gemini live")
	return nil
}

// sendSetup pushes model, voice, instructions, tools, and enables both
// transcription streams. Caller must hold a.mu.
func (a *Adapter) sendSetup() error {
	generationConfig := map[string]any{
		"responseModalities": []string{"AUDIO"},
	}
	if a.cfg.Voice != "" {
		generationConfig["speechConfig"] = map[string]any{
			"voiceConfig": map[string]any{
				"prebuiltVoiceConfig": map[string]any{"voiceName": a.cfg.Voice},
			},
		}
	}
	setup := map[string]any{
		"model":                    "models/" + a.cfg.Model,
		"generationConfig":         generationConfig,
		"inputAudioTranscription":  map[string]any{},
		"outputAudioTranscription": map[string]any{},
	}
	if a.cfg.Instructions != "" {
		setup["systemInstruction"] = map[string]any{
			"parts": []map[string]any{{"text": a.cfg.Instructions}},
		}
	}
	if len(a.cfg.Tools) > 0 {
		decls := make([]map[string]any, 0, len(a.cfg.Tools))
		for _, t := range a.cfg.Tools {
			decls = append(decls, map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			})
		}
		setup["tools"] = []map[string]any{{"functionDeclarations": decls}}
	}
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return a.conn.WriteJSON(map[string]any{"setup": setup})
}

func (a *Adapter) writeJSON(v any) error {
	a.mu.RLock()
	conn := a.conn
	a.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("geminilive: not connected")
	}
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return conn.WriteJSON(v)
}

// SendAudio queues one microphone frame for delivery.
func (a *Adapter) SendAudio(frame []byte) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.connected {
		return fmt.Errorf("geminilive: not connected")
	}
	select {
	case a.audioData <- frame:
		return nil
	default:
		a.log.Warn().Msg("audio buffer full, dropping frame")
		return nil
	}
}

// SendText injects a user text turn.
func (a *Adapter) SendText(text string) error {
	return a.writeJSON(map[string]any{
		"clientContent": map[string]any{
			"turns": []map[string]any{
				{"role": "user", "parts": []map[string]any{{"text": text}}},
			},
			"turnComplete": true,
		},
	})
}

// Disconnect closes the websocket and stops both loops.
func (a *Adapter) Disconnect() error {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		if a.stopCh != nil {
			close(a.stopCh)
		}
		if a.conn != nil {
			_ = a.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = a.conn.Close()
		}
		a.connected = false
		a.conn = nil
		a.mu.Unlock()
		a.log.Info().Msg("Gemini live connection closed")
	})
	return nil
}

// IsConnected reports whether the websocket is live.
func (a *Adapter) IsConnected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.connected
}

func (a *Adapter) handleMessages() {
	for {
		select {
		case <-a.stopCh:
			return
		default:
		}
		a.mu.RLock()
		conn := a.conn
		a.mu.RUnlock()
		if conn == nil {
			return
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-a.stopCh:
			default:
				a.log.Warn().Err(err).Msg("live read failed")
				if a.ev.OnClose != nil {
					a.ev.OnClose(err)
				}
			}
			return
		}
		a.processMessage(message)
	}
}

func (a *Adapter) processMessage(message []byte) {
	var msg serverMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		a.log.Warn().Err(err).Msg("unparseable live message")
		return
	}

	switch {
	case msg.SetupComplete != nil:
		if a.ev.OnOpen != nil {
			a.ev.OnOpen()
		}
		if a.cfg.Greeting != "" {
			if err := a.SendText(a.cfg.Greeting); err != nil {
				a.log.Warn().Err(err).Msg("greeting delivery failed")
			}
		}

	case msg.ServerContent != nil:
		a.processServerContent(msg.ServerContent)

	case msg.ToolCall != nil:
		for _, fc := range msg.ToolCall.FunctionCalls {
			args, err := json.Marshal(fc.Args)
			if err != nil {
				args = []byte("{}")
			}
			a.dispatchFunctionCall(provider.FunctionCall{
				CallID:    fc.ID,
				Name:      fc.Name,
				Arguments: string(args),
			})
		}
	}
}

func (a *Adapter) processServerContent(sc *serverContent) {
	if sc.Interrupted {
		// Discard the accumulated text: the transcript layer finalizes the
		// partial turn with its own termination marker.
		a.accMu.Lock()
		a.outputText.Reset()
		a.accMu.Unlock()
		if a.ev.OnInterrupt != nil {
			a.ev.OnInterrupt()
		}
		return
	}

	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		a.accMu.Lock()
		a.inputText.WriteString(sc.InputTranscription.Text)
		a.accMu.Unlock()
		if a.ev.OnTranscriptDelta != nil {
			a.ev.OnTranscriptDelta(provider.TranscriptDelta{
				Role:  "user",
				Delta: sc.InputTranscription.Text,
			})
		}
	}

	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		// The model is speaking, so any accumulated user speech is done.
		a.flushInputText()
		a.accMu.Lock()
		a.outputText.WriteString(sc.OutputTranscription.Text)
		a.accMu.Unlock()
		if a.ev.OnTranscriptDelta != nil {
			a.ev.OnTranscriptDelta(provider.TranscriptDelta{
				Role:  "assistant",
				Delta: sc.OutputTranscription.Text,
			})
		}
	}

	if sc.ModelTurn != nil {
		a.flushInputText()
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData == nil || p.InlineData.Data == "" {
				continue
			}
			chunk, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil {
				a.log.Warn().Err(err).Msg("bad audio chunk encoding")
				continue
			}
			if a.ev.OnAudioChunk != nil {
				a.ev.OnAudioChunk(chunk)
			}
		}
	}

	if sc.TurnComplete {
		a.flushOutputText()
	}
}

// flushInputText finalizes accumulated user transcription, if any.
func (a *Adapter) flushInputText() {
	a.accMu.Lock()
	text := strings.TrimSpace(a.inputText.String())
	a.inputText.Reset()
	a.accMu.Unlock()
	if text == "" {
		return
	}
	if a.ev.OnTranscriptComplete != nil {
		a.ev.OnTranscriptComplete(provider.TranscriptComplete{Role: "user", Text: text})
	}
}

// flushOutputText finalizes accumulated assistant transcription, if any.
func (a *Adapter) flushOutputText() {
	a.accMu.Lock()
	text := strings.TrimSpace(a.outputText.String())
	a.outputText.Reset()
	a.accMu.Unlock()
	if text == "" {
		return
	}
	if a.ev.OnTranscriptComplete != nil {
		a.ev.OnTranscriptComplete(provider.TranscriptComplete{Role: "assistant", Text: text})
	}
}

// dispatchFunctionCall runs the tool off the reader goroutine and returns the
// result to the model.
func (a *Adapter) dispatchFunctionCall(fc provider.FunctionCall) {
	if a.ev.OnFunctionCall != nil {
		a.ev.OnFunctionCall(fc)
	}
	invoker := a.cfg.Invoker
	if invoker == nil {
		a.log.Warn().Str("tool", fc.Name).Msg("function call with no invoker configured")
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		fr := invoker.Invoke(ctx, fc)
		if a.ev.OnFunctionResult != nil {
			a.ev.OnFunctionResult(fr)
		}

		var response map[string]any
		if err := json.Unmarshal([]byte(fr.Result), &response); err != nil {
			response = map[string]any{"output": fr.Result}
		}
		err := a.writeJSON(map[string]any{
			"toolResponse": map[string]any{
				"functionResponses": []map[string]any{
					{"id": fc.CallID, "name": fc.Name, "response": response},
				},
			},
		})
		if err != nil {
			a.log.Warn().Err(err).Str("tool", fc.Name).Msg("function result delivery failed")
		}
	}()
}

// sendAudioLoop drains queued microphone frames onto the websocket.
func (a *Adapter) sendAudioLoop() {
	mimeType := fmt.Sprintf("audio/pcm;rate=%d", InputSampleRate)
	for {
		select {
		case <-a.stopCh:
			return
		case frame, ok := <-a.audioData:
			if !ok {
				return
			}
			msg := map[string]any{
				"realtimeInput": map[string]any{
					"audio": map[string]any{
						"mimeType": mimeType,
						"data":     base64.StdEncoding.EncodeToString(frame),
					},
				},
			}
			if err := a.writeJSON(msg); err != nil {
				select {
				case <-a.stopCh:
					// expected on Disconnect
				default:
					a.log.Warn().Err(err).Msg("audio frame delivery failed")
					if a.ev.OnClose != nil {
						a.ev.OnClose(err)
					}
				}
				return
			}
		}
	}
}

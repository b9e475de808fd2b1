// Package openairt adapts the OpenAI Realtime API to the provider contract.
// Audio flows both ways as base64 PCM16LE inside JSON events over a single
// websocket; the model handles voice activity detection server-side.
package openairt

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/mdwoicke/jefferson-dental-sub001/internal/provider"
)

const realtimeURL = "wss://api.openai.com/v1/realtime"

// DefaultModel is used when the config does not name one.
const DefaultModel = "gpt-4o-realtime-preview"

// Adapter is a live OpenAI Realtime session.
type Adapter struct {
	apiKey string
	url    string
	log    zerolog.Logger

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool

	// writeMu serializes websocket writes; gorilla allows one writer at a
	// time and frames come from both the audio loop and the event handlers.
	writeMu sync.Mutex

	cfg    provider.SessionConfig
	ev     provider.Events
	stopCh chan struct{}
	// audioData buffers microphone frames between the capture callback and
	// the websocket writer. Full buffer drops the frame instead of blocking.
	audioData chan []byte

	closeOnce sync.Once
}

// New creates an adapter. Connect must be called before audio can flow.
func New(apiKey string, log zerolog.Logger) *Adapter {
	return &Adapter{apiKey: apiKey, url: realtimeURL, log: log}
}

// event is the envelope shared by all server messages.
type event struct {
	Type       string          `json:"type"`
	Delta      string          `json:"delta"`
	Transcript string          `json:"transcript"`
	Text       string          `json:"text"`
	ResponseID string          `json:"response_id"`
	ItemID     string          `json:"item_id"`
	CallID     string          `json:"call_id"`
	Name       string          `json:"name"`
	Arguments  string          `json:"arguments"`
	Error      *realtimeError  `json:"error"`
	Session    json.RawMessage `json:"session"`
}

type realtimeError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Connect dials the realtime endpoint and starts the reader and writer
// goroutines.
func (a *Adapter) Connect(ctx context.Context, cfg provider.SessionConfig, ev provider.Events) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.connected {
		return nil
	}
	if a.apiKey == "" {
		return fmt.Errorf("openairt: API key is empty")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+a.apiKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	wsURL := fmt.Sprintf("%s?model=%s", a.url, cfg.Model)
	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			a.log.Error().Int("status", resp.StatusCode).Msg("realtime handshake rejected")
		}
		return fmt.Errorf("openairt: dial %s: %w", cfg.Model, err)
	}

	a.conn = conn
	a.connected = true
	a.cfg = cfg
	a.ev = ev
	a.stopCh = make(chan struct{})
	a.audioData = make(chan []byte, 256)
	a.closeOnce = sync.Once{}

	// Configure the session before the read/write loops exist, so a rejected
	// setup leaves nothing running and nothing half-open.
	if err := a.sendSessionUpdate(); err != nil {
		_ = conn.Close()
		a.connected = false
		a.conn = nil
		return fmt.Errorf("openairt: configure session: %w", err)
	}

	go a.handleMessages()
	go a.sendAudioLoop()

	a.log.Info().Str("model", cfg.Model).Msg("connected to OpenAI realtime")
	return nil
}

// writeJSON sends one client event, serialized across goroutines.
func (a *Adapter) writeJSON(v any) error {
	a.mu.RLock()
	conn := a.conn
	a.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("openairt: not connected")
	}
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return conn.WriteJSON(v)
}

// sendSessionUpdate pushes voice, instructions, tool definitions and audio
// formats. Caller must hold a.mu.
func (a *Adapter) sendSessionUpdate() error {
	session := map[string]any{
		"modalities":          []string{"audio", "text"},
		"input_audio_format":  "pcm16",
		"output_audio_format": "pcm16",
		"turn_detection":      map[string]any{"type": "server_vad"},
		"input_audio_transcription": map[string]any{
			"model": "whisper-1",
		},
	}
	if a.cfg.Voice != "" {
		session["voice"] = a.cfg.Voice
	}
	if a.cfg.Instructions != "" {
		session["instructions"] = a.cfg.Instructions
	}
	if len(a.cfg.Tools) > 0 {
		tools := make([]map[string]any, 0, len(a.cfg.Tools))
		for _, t := range a.cfg.Tools {
			tools = append(tools, map[string]any{
				"type":        "function",
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			})
		}
		session["tools"] = tools
		session["tool_choice"] = "auto"
	}
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return a.conn.WriteJSON(map[string]any{"type": "session.update", "session": session})
}

// SendAudio queues one microphone frame for delivery.
func (a *Adapter) SendAudio(frame []byte) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.connected {
		return fmt.Errorf("openairt: not connected")
	}
	select {
	case a.audioData <- frame:
		return nil
	default:
		a.log.Warn().Msg("audio buffer full, dropping frame")
		return nil
	}
}

// SendText injects a user text message and asks the model to respond.
func (a *Adapter) SendText(text string) error {
	item := map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type": "message",
			"role": "user",
			"content": []map[string]any{
				{"type": "input_text", "text": text},
			},
		},
	}
	if err := a.writeJSON(item); err != nil {
		return fmt.Errorf("openairt: send text: %w", err)
	}
	return a.writeJSON(map[string]any{"type": "response.create"})
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
		a.log.Info().Msg("OpenAI realtime connection closed")
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
				// expected on Disconnect
			default:
				a.log.Warn().Err(err).Msg("realtime read failed")
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
	var ev event
	if err := json.Unmarshal(message, &ev); err != nil {
		a.log.Warn().Err(err).Msg("unparseable realtime event")
		return
	}

	switch ev.Type {
	case "session.created":
		if a.ev.OnOpen != nil {
			a.ev.OnOpen()
		}
		if a.cfg.Greeting != "" {
			a.requestGreeting()
		}

	case "response.audio.delta":
		chunk, err := base64.StdEncoding.DecodeString(ev.Delta)
		if err != nil {
			a.log.Warn().Err(err).Msg("bad audio delta encoding")
			return
		}
		if a.ev.OnAudioChunk != nil {
			a.ev.OnAudioChunk(chunk)
		}

	case "response.audio_transcript.delta":
		if a.ev.OnTranscriptDelta != nil {
			a.ev.OnTranscriptDelta(provider.TranscriptDelta{
				Role:   "assistant",
				Delta:  ev.Delta,
				TurnID: ev.ResponseID,
				ItemID: ev.ItemID,
			})
		}

	case "response.audio_transcript.done":
		if a.ev.OnTranscriptComplete != nil {
			a.ev.OnTranscriptComplete(provider.TranscriptComplete{
				Role:   "assistant",
				Text:   ev.Transcript,
				TurnID: ev.ResponseID,
			})
		}

	case "conversation.item.input_audio_transcription.delta":
		if a.ev.OnTranscriptDelta != nil {
			a.ev.OnTranscriptDelta(provider.TranscriptDelta{
				Role:   "user",
				Delta:  ev.Delta,
				TurnID: ev.ItemID,
				ItemID: ev.ItemID,
			})
		}

	case "conversation.item.input_audio_transcription.completed":
		if a.ev.OnTranscriptComplete != nil {
			a.ev.OnTranscriptComplete(provider.TranscriptComplete{
				Role:   "user",
				Text:   ev.Transcript,
				TurnID: ev.ItemID,
			})
		}

	case "input_audio_buffer.speech_started":
		if a.ev.OnInterrupt != nil {
			a.ev.OnInterrupt()
		}

	case "response.function_call_arguments.done":
		a.dispatchFunctionCall(provider.FunctionCall{
			CallID:    ev.CallID,
			Name:      ev.Name,
			Arguments: ev.Arguments,
		})

	case "error":
		if ev.Error != nil {
			a.log.Error().Str("code", ev.Error.Code).Str("message", ev.Error.Message).Msg("realtime error")
			if a.ev.OnError != nil {
				a.ev.OnError(fmt.Errorf("openairt: %s: %s", ev.Error.Code, ev.Error.Message))
			}
		}
	}
}

// requestGreeting asks the model to open the conversation.
func (a *Adapter) requestGreeting() {
	err := a.writeJSON(map[string]any{
		"type": "response.create",
		"response": map[string]any{
			"instructions": a.cfg.Greeting,
		},
	})
	if err != nil {
		a.log.Warn().Err(err).Msg("greeting request failed")
	}
}

// dispatchFunctionCall runs the tool off the reader goroutine and returns the
// result to the model, then asks it to continue speaking.
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

		out := map[string]any{
			"type": "conversation.item.create",
			"item": map[string]any{
				"type":    "function_call_output",
				"call_id": fc.CallID,
				"output":  fr.Result,
			},
		}
		if err := a.writeJSON(out); err != nil {
			a.log.Warn().Err(err).Str("tool", fc.Name).Msg("function result delivery failed")
			return
		}
		if err := a.writeJSON(map[string]any{"type": "response.create"}); err != nil {
			a.log.Warn().Err(err).Msg("response request after tool call failed")
		}
	}()
}

// sendAudioLoop drains queued microphone frames onto the websocket.
func (a *Adapter) sendAudioLoop() {
	for {
		select {
		case <-a.stopCh:
			return
		case frame, ok := <-a.audioData:
			if !ok {
				return
			}
			msg := map[string]string{
				"type":  "input_audio_buffer.append",
				"audio": base64.StdEncoding.EncodeToString(frame),
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

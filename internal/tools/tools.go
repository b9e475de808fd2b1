// Package tools implements the local functions the voice agent can call
// mid-conversation: patient lookup, slot availability and appointment
// booking. Data is in-memory demo fixtures; the registry shape is what a
// real practice-management integration would plug into.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mdwoicke/jefferson-dental-sub001/internal/metrics"
	"github.com/mdwoicke/jefferson-dental-sub001/internal/provider"
)

// Handler executes one tool. args is the raw JSON arguments object from the
// model; the return value is serialized back to it.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// Registry maps tool names to handlers and implements provider.Invoker.
type Registry struct {
	log zerolog.Logger
	m   *metrics.Metrics

	mu       sync.RWMutex
	handlers map[string]Handler
	defs     []provider.ToolDef
}

// NewRegistry creates an empty registry.
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		log:      log,
		m:        metrics.Default,
		handlers: make(map[string]Handler),
	}
}

// Register adds a tool. Re-registering a name replaces the handler but keeps
// the first definition.
func (r *Registry) Register(def provider.ToolDef, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[def.Name]; !ok {
		r.defs = append(r.defs, def)
	}
	r.handlers[def.Name] = h
}

// Definitions returns the tool definitions to advertise to the provider.
func (r *Registry) Definitions() []provider.ToolDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]provider.ToolDef(nil), r.defs...)
}

// Invoke implements provider.Invoker. Errors are returned to the model as a
// JSON error payload so it can recover conversationally instead of stalling.
func (r *Registry) Invoke(ctx context.Context, call provider.FunctionCall) provider.FunctionResult {
	start := time.Now()
	r.mu.RLock()
	h, ok := r.handlers[call.Name]
	r.mu.RUnlock()

	fr := provider.FunctionResult{CallID: call.CallID, Name: call.Name}
	if !ok {
		fr.IsErr = true
		fr.Result = errorPayload(fmt.Sprintf("unknown tool %q", call.Name))
		fr.ExecMs = time.Since(start).Milliseconds()
		r.m.ToolCalls.WithLabelValues(call.Name, "error").Inc()
		r.log.Warn().Str("tool", call.Name).Msg("unknown tool requested")
		return fr
	}

	out, err := h(ctx, json.RawMessage(call.Arguments))
	fr.ExecMs = time.Since(start).Milliseconds()
	if err != nil {
		fr.IsErr = true
		fr.Result = errorPayload(err.Error())
		r.m.ToolCalls.WithLabelValues(call.Name, "error").Inc()
		r.log.Warn().Err(err).Str("tool", call.Name).Msg("tool failed")
		return fr
	}

	encoded, err := json.Marshal(out)
	if err != nil {
		fr.IsErr = true
		fr.Result = errorPayload("result serialization failed")
		r.m.ToolCalls.WithLabelValues(call.Name, "error").Inc()
		return fr
	}
	fr.Result = string(encoded)
	r.m.ToolCalls.WithLabelValues(call.Name, "success").Inc()
	r.log.Info().Str("tool", call.Name).Int64("exec_ms", fr.ExecMs).Msg("tool completed")
	return fr
}

func errorPayload(msg string) string {
	b, _ := json.Marshal(map[string]string{"error": msg})
	return string(b)
}

// Patient is a demo practice-management record.
type Patient struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	LastVisit string `json:"lastVisit"`
	Balance   string `json:"balance"`
}

// Appointment is a booked slot.
type Appointment struct {
	ID        string `json:"id"`
	PatientID string `json:"patientId"`
	Slot      string `json:"slot"`
	Reason    string `json:"reason"`
}

// Demo wires the demo dental-office tools into a registry.
func Demo(log zerolog.Logger) *Registry {
	r := NewRegistry(log)
	d := &demoData{
		patients: []Patient{
			{ID: "pat-1001", Name: "Maria Alvarez", Phone: "+15125550134", LastVisit: "2026-02-10", Balance: "$0.00"},
			{ID: "pat-1002", Name: "James Okafor", Phone: "+15125550188", LastVisit: "2025-11-03", Balance: "$45.00"},
			{ID: "pat-1003", Name: "Linh Tran", Phone: "+15125550121", LastVisit: "2026-06-24", Balance: "$0.00"},
		},
		slots: []string{
			"2026-08-26T09:00:00-05:00",
			"2026-08-26T11:30:00-05:00",
			"2026-08-27T14:00:00-05:00",
			"2026-08-28T10:15:00-05:00",
		},
	}

	r.Register(provider.ToolDef{
		Name:        "lookup_patient",
		Description: "Look up a patient record by name or phone number.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Patient name or phone number",
				},
			},
			"required": []string{"query"},
		},
	}, d.lookupPatient)

	r.Register(provider.ToolDef{
		Name:        "available_slots",
		Description: "List open appointment slots.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	}, d.availableSlots)

	r.Register(provider.ToolDef{
		Name:        "book_appointment",
		Description: "Book an appointment slot for a patient.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"patientId": map[string]any{"type": "string"},
				"slot":      map[string]any{"type": "string"},
				"reason":    map[string]any{"type": "string"},
			},
			"required": []string{"patientId", "slot"},
		},
	}, d.bookAppointment)

	return r
}

type demoData struct {
	mu       sync.Mutex
	patients []Patient
	slots    []string
	booked   []Appointment
}

func (d *demoData) lookupPatient(_ context.Context, args json.RawMessage) (any, error) {
	var in struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	q := strings.ToLower(strings.TrimSpace(in.Query))
	if q == "" {
		return nil, fmt.Errorf("query is required")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	var matches []Patient
	for _, p := range d.patients {
		if strings.Contains(strings.ToLower(p.Name), q) || strings.Contains(p.Phone, q) {
			matches = append(matches, p)
		}
	}
	if len(matches) == 0 {
		return map[string]any{"found": false}, nil
	}
	return map[string]any{"found": true, "patients": matches}, nil
}

func (d *demoData) availableSlots(_ context.Context, _ json.RawMessage) (any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return map[string]any{"slots": append([]string(nil), d.slots...)}, nil
}

func (d *demoData) bookAppointment(_ context.Context, args json.RawMessage) (any, error) {
	var in struct {
		PatientID string `json:"patientId"`
		Slot      string `json:"slot"`
		Reason    string `json:"reason"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if in.PatientID == "" || in.Slot == "" {
		return nil, fmt.Errorf("patientId and slot are required")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	idx := -1
	for i, s := range d.slots {
		if s == in.Slot {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("slot %s is no longer available", in.Slot)
	}
	d.slots = append(d.slots[:idx], d.slots[idx+1:]...)

	appt := Appointment{
		ID:        fmt.Sprintf("appt-%d", len(d.booked)+1),
		PatientID: in.PatientID,
		Slot:      in.Slot,
		Reason:    in.Reason,
	}
	d.booked = append(d.booked, appt)
	return map[string]any{"confirmed": true, "appointment": appt}, nil
}

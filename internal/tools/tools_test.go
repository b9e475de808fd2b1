package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/mdwoicke/jefferson-dental-sub001/internal/provider"
)

func invoke(t *testing.T, r *Registry, name, args string) provider.FunctionResult {
	t.Helper()
	return r.Invoke(context.Background(), provider.FunctionCall{
		CallID:    "call-test",
		Name:      name,
		Arguments: args,
	})
}

func TestLookupPatientByName(t *testing.T) {
	r := Demo(zerolog.Nop())
	fr := invoke(t, r, "lookup_patient", `{"query":"maria"}`)
	if fr.IsErr {
		t.Fatalf("unexpected error: %s", fr.Result)
	}
	var out struct {
		Found    bool      `json:"found"`
		Patients []Patient `json:"patients"`
	}
	if err := json.Unmarshal([]byte(fr.Result), &out); err != nil {
		t.Fatal(err)
	}
	if !out.Found || len(out.Patients) != 1 || out.Patients[0].ID != "pat-1001" {
		t.Fatalf("unexpected result: %+v", out)
	}
}

func TestLookupPatientNoMatch(t *testing.T) {
	r := Demo(zerolog.Nop())
	fr := invoke(t, r, "lookup_patient", `{"query":"nobody"}`)
	if fr.IsErr {
		t.Fatalf("unexpected error: %s", fr.Result)
	}
	if !strings.Contains(fr.Result, `"found":false`) {
		t.Fatalf("result = %s", fr.Result)
	}
}

func TestBookAppointmentConsumesSlot(t *testing.T) {
	r := Demo(zerolog.Nop())

	fr := invoke(t, r, "available_slots", `{}`)
	var slots struct {
		Slots []string `json:"slots"`
	}
	if err := json.Unmarshal([]byte(fr.Result), &slots); err != nil {
		t.Fatal(err)
	}
	if len(slots.Slots) == 0 {
		t.Fatal("no demo slots")
	}
	target := slots.Slots[0]

	fr = invoke(t, r, "book_appointment", `{"patientId":"pat-1002","slot":"`+target+`","reason":"cleaning"}`)
	if fr.IsErr {
		t.Fatalf("booking failed: %s", fr.Result)
	}

	// The same slot cannot be booked twice.
	fr = invoke(t, r, "book_appointment", `{"patientId":"pat-1003","slot":"`+target+`"}`)
	if !fr.IsErr {
		t.Fatal("double booking accepted")
	}

	fr = invoke(t, r, "available_slots", `{}`)
	if strings.Contains(fr.Result, target) {
		t.Fatal("booked slot still listed as available")
	}
}

func TestBookAppointmentValidatesArguments(t *testing.T) {
	r := Demo(zerolog.Nop())
	fr := invoke(t, r, "book_appointment", `{"patientId":"pat-1001"}`)
	if !fr.IsErr {
		t.Fatal("missing slot accepted")
	}
	fr = invoke(t, r, "book_appointment", `not json`)
	if !fr.IsErr {
		t.Fatal("malformed arguments accepted")
	}
}

func TestUnknownToolReturnsErrorPayload(t *testing.T) {
	r := Demo(zerolog.Nop())
	fr := invoke(t, r, "does_not_exist", `{}`)
	if !fr.IsErr {
		t.Fatal("unknown tool succeeded")
	}
	if !strings.Contains(fr.Result, "error") {
		t.Fatalf("result = %s, want error payload", fr.Result)
	}
}

func TestDefinitionsAdvertiseAllTools(t *testing.T) {
	r := Demo(zerolog.Nop())
	defs := r.Definitions()
	names := map[string]bool{}
	for _, d := range defs {
		names[d.Name] = true
	}
	for _, want := range []string{"lookup_patient", "available_slots", "book_appointment"} {
		if !names[want] {
			t.Fatalf("missing tool definition %q", want)
		}
	}
}

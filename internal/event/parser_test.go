package event

import (
	"errors"
	"testing"
	"time"
)

func TestParseCallStarted(t *testing.T) {
	body := []byte(`{
		"id": "evt-1",
		"type": "call-started",
		"timestamp": "2026-03-14T09:30:00Z",
		"call": {"id": "call-1", "phoneNumber": "+15145551234", "assistantId": "asst-7"}
	}`)

	ev, err := Parse(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	started, ok := ev.(CallStarted)
	if !ok {
		t.Fatalf("expected CallStarted, got %T", ev)
	}
	if started.EventID != "evt-1" {
		t.Errorf("EventID = %q, want evt-1", started.EventID)
	}
	if started.CallID != "call-1" {
		t.Errorf("CallID = %q, want call-1", started.CallID)
	}
	if started.PhoneNumber != "+15145551234" {
		t.Errorf("PhoneNumber = %q", started.PhoneNumber)
	}
	if started.AssistantID != "asst-7" {
		t.Errorf("AssistantID = %q", started.AssistantID)
	}
	want := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	if !started.Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", started.Timestamp, want)
	}
}

func TestParseTranscript(t *testing.T) {
	body := []byte(`{
		"id": "evt-2",
		"type": "transcript",
		"call": {"id": "call-1"},
		"transcript": {"role": "user", "text": "my basement is flooding"}
	}`)

	ev, err := Parse(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tr, ok := ev.(Transcript)
	if !ok {
		t.Fatalf("expected Transcript, got %T", ev)
	}
	if tr.Role != "user" || tr.Text != "my basement is flooding" {
		t.Errorf("unexpected transcript fields: %+v", tr)
	}
}

func TestParseFunctionCall(t *testing.T) {
	body := []byte(`{
		"id": "evt-3",
		"type": "function-call",
		"call": {"id": "call-1"},
		"functionCall": {
			"name": "create_client_record",
			"parameters": {"name": "Marie Tremblay", "unit": 4, "urgent": true, "nested": {"a": 1}}
		}
	}`)

	ev, err := Parse(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fc, ok := ev.(FunctionCall)
	if !ok {
		t.Fatalf("expected FunctionCall, got %T", ev)
	}
	if fc.Name != "create_client_record" {
		t.Errorf("Name = %q", fc.Name)
	}
	if fc.Parameters["name"] != "Marie Tremblay" {
		t.Errorf("name param = %q", fc.Parameters["name"])
	}
	if fc.Parameters["unit"] != "4" {
		t.Errorf("numeric param = %q, want 4", fc.Parameters["unit"])
	}
	if fc.Parameters["urgent"] != "true" {
		t.Errorf("bool param = %q, want true", fc.Parameters["urgent"])
	}
	if _, exists := fc.Parameters["nested"]; exists {
		t.Error("nested object param should be dropped")
	}
}

func TestParseCallEnded(t *testing.T) {
	body := []byte(`{"id": "evt-4", "type": "call-ended", "call": {"id": "call-1"}, "status": "customer-ended-call"}`)

	ev, err := Parse(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ended, ok := ev.(CallEnded)
	if !ok {
		t.Fatalf("expected CallEnded, got %T", ev)
	}
	if ended.Reason != "customer-ended-call" {
		t.Errorf("Reason = %q", ended.Reason)
	}
}

func TestParseEpochMillisTimestamp(t *testing.T) {
	body := []byte(`{"id": "evt-5", "type": "speech-update", "timestamp": 1773999000000, "call": {"id": "call-1"}}`)

	ev, err := Parse(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := ev.EventMeta().Timestamp
	want := time.UnixMilli(1773999000000).UTC()
	if !got.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", got, want)
	}
}

func TestParseUnknownTypeIsNotAnError(t *testing.T) {
	body := []byte(`{"id": "evt-6", "type": "conversation-update", "call": {"id": "call-1"}}`)

	ev, err := Parse(body)
	if err != nil {
		t.Fatalf("unknown type must parse, got error: %v", err)
	}
	unk, ok := ev.(Unknown)
	if !ok {
		t.Fatalf("expected Unknown, got %T", ev)
	}
	if unk.Type != "conversation-update" {
		t.Errorf("Type = %q", unk.Type)
	}
	if unk.CallID != "call-1" {
		t.Errorf("CallID = %q", unk.CallID)
	}
}

func TestParseMalformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"type": "call-started"`},
		{"missing type", `{"id": "evt-1", "call": {"id": "call-1"}}`},
		{"missing call id", `{"id": "evt-1", "type": "call-started", "call": {}}`},
		{"empty body", ``},
		{"json array", `[1, 2, 3]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.body))
			if !errors.Is(err, ErrMalformedPayload) {
				t.Errorf("Parse(%q) error = %v, want ErrMalformedPayload", tt.body, err)
			}
		})
	}
}

func TestParseIgnoresExtraFields(t *testing.T) {
	body := []byte(`{"id": "e", "type": "call-started", "call": {"id": "c"}, "someFutureField": {"x": 1}}`)
	if _, err := Parse(body); err != nil {
		t.Fatalf("extra fields must be ignored, got %v", err)
	}
}

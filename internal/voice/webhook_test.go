package voice

import (
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestParseStatusEvent(t *testing.T) {
	raw := []byte(`{
		"type": "call.status",
		"call_id": "CA123",
		"status": "in-progress",
		"direction": "outbound",
		"from": "+15550001111",
		"to": "+15550002222",
		"control_url": "https://voice.example/controls/CA123",
		"occurred_at": "2025-05-01T10:00:00Z"
	}`)

	ev, err := ParseStatusEvent(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ev.CallID != "CA123" || ev.Status != "in-progress" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.ControlURL != "https://voice.example/controls/CA123" {
		t.Fatalf("unexpected control url: %q", ev.ControlURL)
	}
	want := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	if !ev.OccurredAt(time.Now()).Equal(want) {
		t.Fatalf("unexpected occurred_at")
	}
}

func TestParseStatusEvent_RejectsNonCallTypes(t *testing.T) {
	if _, err := ParseStatusEvent([]byte(`{"type":"checkout.completed","event_id":"ev1"}`)); err != ErrNotCallEvent {
		t.Fatalf("expected ErrNotCallEvent, got %v", err)
	}
}

func TestParseStatusEvent_RequiresCallID(t *testing.T) {
	if _, err := ParseStatusEvent([]byte(`{"type":"call.status"}`)); err == nil {
		t.Fatalf("expected error for missing call_id")
	}
}

func TestParseInboundForm(t *testing.T) {
	form := url.Values{}
	form.Set("CallId", "CA999")
	form.Set("From", " +15550003333 ")
	form.Set("To", "+15550004444")
	form.Set("CallStatus", "ringing")
	form.Set("ControlUrl", "https://voice.example/controls/CA999")

	req := httptest.NewRequest("POST", "/webhook/inbound", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	f, err := ParseInboundForm(req)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.CallID != "CA999" || f.From != "+15550003333" || f.Direction != "inbound" {
		t.Fatalf("unexpected form: %+v", f)
	}
}

func TestParseInboundForm_RequiresCallID(t *testing.T) {
	req := httptest.NewRequest("POST", "/webhook/inbound", strings.NewReader("From=%2B1555"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if _, err := ParseInboundForm(req); err == nil {
		t.Fatalf("expected error for missing CallId")
	}
}

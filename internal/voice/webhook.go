package voice

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
)

// StatusEvent is a call-status notification on the combined JSON webhook
// channel. Field names follow the provider payload; duration is a pointer
// because the provider only reports it on terminal events.
type StatusEvent struct {
	Type          string `json:"type"`
	CallID        string `json:"call_id"`
	Status        string `json:"status"`
	Direction     string `json:"direction"`
	From          string `json:"from"`
	To            string `json:"to"`
	ControlURL    string `json:"control_url,omitempty"`
	DurationSecs  *int   `json:"duration,omitempty"`
	OccurredAtRaw string `json:"occurred_at,omitempty"`
}

var ErrNotCallEvent = errors.New("voice: payload is not a call event")

// IsCallEvent reports whether a combined-channel event type belongs to the
// voice provider.
func IsCallEvent(eventType string) bool {
	return strings.HasPrefix(eventType, "call.")
}

// ParseStatusEvent decodes a combined-channel payload into a StatusEvent.
func ParseStatusEvent(raw []byte) (StatusEvent, error) {
	var ev StatusEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return StatusEvent{}, err
	}
	if !IsCallEvent(ev.Type) {
		return StatusEvent{}, ErrNotCallEvent
	}
	if ev.CallID == "" {
		return StatusEvent{}, errors.New("voice: call event missing call_id")
	}
	return ev, nil
}

// OccurredAt parses the provider timestamp, falling back to fallback when
// absent or malformed.
func (e StatusEvent) OccurredAt(fallback time.Time) time.Time {
	if e.OccurredAtRaw == "" {
		return fallback
	}
	t, err := time.Parse(time.RFC3339, e.OccurredAtRaw)
	if err != nil {
		return fallback
	}
	return t
}

// InboundForm captures the subset of the inbound-call webhook fields we care
// about. The provider sends application/x-www-form-urlencoded on this
// channel, unlike the JSON combined channel.
type InboundForm struct {
	CallID     string
	From       string
	To         string
	CallStatus string
	ControlURL string
	Direction  string
}

func ParseInboundForm(r *http.Request) (InboundForm, error) {
	if err := r.ParseForm(); err != nil {
		return InboundForm{}, err
	}
	f := InboundForm{
		CallID:     r.PostFormValue("CallId"),
		From:       normalizePhone(r.PostFormValue("From")),
		To:         normalizePhone(r.PostFormValue("To")),
		CallStatus: r.PostFormValue("CallStatus"),
		ControlURL: r.PostFormValue("ControlUrl"),
		Direction:  r.PostFormValue("Direction"),
	}
	if f.CallID == "" {
		return InboundForm{}, errors.New("voice: inbound form missing CallId")
	}
	if f.Direction == "" {
		f.Direction = "inbound"
	}
	return f, nil
}

func normalizePhone(s string) string {
	// The provider sometimes sends "anonymous" or empty; keep as-is.
	return strings.TrimSpace(s)
}

package voice

import "context"

// Provider defines the provider-agnostic surface the call lifecycle needs.
//
// Rules:
// - No provider HTTP calls outside this package.
// - Control commands are addressed by the per-call control handle the
//   provider hands out (in the place-call response or a later webhook),
//   never by guessing URLs from the call id.
type Provider interface {
	Name() string

	// PlaceCall dials out and returns whatever the provider told us about
	// the new call. ControlHandle may legitimately be empty here; a later
	// webhook fills it in.
	PlaceCall(ctx context.Context, to string) (PlacedCall, error)

	// Control issues answer/reject/end against a control handle.
	Control(ctx context.Context, handle string, action ControlAction) error
}

// PlacedCall is the provider response to an outbound dial.
type PlacedCall struct {
	CallID        string `json:"call_id"`
	Status        string `json:"status"`
	ControlHandle string `json:"control_handle,omitempty"`
}

type ControlAction string

const (
	ActionAnswer ControlAction = "answer"
	ActionReject ControlAction = "reject"
	ActionEnd    ControlAction = "end"
)

package calls

import "time"

// Record is the in-memory representation of one phone call's lifecycle.
//
// The provider-assigned ID is the sole key: at most one Record exists per id
// in the registry at any time. The registry owns Records for their in-memory
// lifetime; the durable copy in call_logs is written at terminal states.
type Record struct {
	ID        string    `json:"id"`
	Direction Direction `json:"direction"`
	Status    Status    `json:"status"`

	// OwnerEmail is the initiating user, or OwnerUnknown for inbound calls
	// nobody has claimed.
	OwnerEmail        string `json:"owner_email"`
	CounterpartNumber string `json:"counterpart_number"`

	// ControlHandle is the opaque URL used to issue answer/reject/end to the
	// provider. Empty until the provider supplies it, which may happen only
	// on a later webhook.
	ControlHandle string `json:"control_handle,omitempty"`

	// ControlState distinguishes "we asked the provider" from "the provider
	// confirmed" from "the provider was unreachable and we closed the record
	// ourselves".
	ControlState ControlState `json:"control_state,omitempty"`

	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	DurationSeconds int        `json:"duration_seconds"`
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRinging   Status = "ringing"
	StatusAnswering Status = "answering"
	StatusOngoing   Status = "ongoing"
	StatusRejecting Status = "rejecting"
	StatusEnding    Status = "ending"
	StatusCompleted Status = "completed"
	StatusEnded     Status = "ended"
)

// Terminal reports whether no further transition is expected.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusEnded
}

// InProgress reports whether the call counts toward the live "calls in
// progress" figure pushed to realtime subscribers.
func (s Status) InProgress() bool {
	return s == StatusAnswering || s == StatusOngoing
}

type ControlState string

const (
	ControlStateNone             ControlState = ""
	ControlStateDispatched       ControlState = "dispatched"
	ControlStateConfirmed        ControlState = "confirmed"
	ControlStateLocallyFinalized ControlState = "locally_finalized"
)

// OwnerUnknown is the sentinel owner for calls no user initiated or claimed.
const OwnerUnknown = "unknown"

// Patch is a partial Record update applied by Registry.Upsert. Zero-valued
// fields are left untouched on merge; pointers exist where zero is a
// legitimate value (a zero-second call is still a duration).
type Patch struct {
	Direction         Direction
	Status            Status
	OwnerEmail        string
	CounterpartNumber string
	ControlHandle     string
	ControlState      ControlState
	StartedAt         time.Time
	EndedAt           *time.Time
	DurationSeconds   *int
}

package calls

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"dialdesk/internal/metrics"
	"dialdesk/internal/voice"
)

var (
	ErrNotFound           = errors.New("calls: not found")
	ErrInvalidTransition  = errors.New("calls: invalid source state")
	ErrControlUnavailable = errors.New("calls: control unavailable")
	ErrForbidden          = errors.New("calls: forbidden")
)

// LogStore is the durable call log. UpsertCompleted must be idempotent under
// at-least-once webhook delivery: keyed by the provider call id, update if a
// row exists, else insert.
type LogStore interface {
	UpsertCompleted(ctx context.Context, rec Record) error
}

// Broadcaster pushes registry changes to realtime subscribers.
type Broadcaster interface {
	BroadcastCall(rec Record)
	BroadcastOngoing(count int)
}

// ContactSyncer mirrors finished calls into the CRM. Implementations must
// never block; failures are the syncer's problem, not ours.
type ContactSyncer interface {
	CallEnded(rec Record)
}

// InboundControlPolicy decides who may answer/reject an inbound call.
// team_inbox preserves the historical behavior: any authenticated user may
// pick up any ringing call. owner_only restricts control to the owning user
// or an admin. Ending a call is always owner-or-admin regardless of policy.
type InboundControlPolicy string

const (
	PolicyTeamInbox InboundControlPolicy = "team_inbox"
	PolicyOwnerOnly InboundControlPolicy = "owner_only"
)

// Caller identifies the authenticated user behind a request.
type Caller struct {
	Email string
	Admin bool
}

// VoiceEvent is a provider webhook notification, already parsed by the
// transport layer and reduced to what reconciliation needs.
type VoiceEvent struct {
	CallID          string
	Status          string // raw provider status string
	Direction       string
	From            string
	To              string
	ControlHandle   string
	DurationSeconds *int
	OccurredAt      time.Time
}

// Service translates the three independent triggers (outbound start,
// provider webhooks, user control actions) into consistent registry
// mutations and provider-side control commands.
//
// Between a registry read, the provider HTTP call and the registry write,
// other requests and webhooks may interleave on the same call id. The
// merge-don't-replace Upsert semantics are the mitigation: a late write
// cannot clear fields an interleaved event populated.
type Service struct {
	registry  *Registry
	provider  voice.Provider
	logs      LogStore
	broadcast Broadcaster
	crm       ContactSyncer
	policy    InboundControlPolicy
	log       *slog.Logger
	clock     func() time.Time
}

type ServiceDeps struct {
	Registry  *Registry
	Provider  voice.Provider
	Logs      LogStore
	Broadcast Broadcaster
	CRM       ContactSyncer
	Policy    InboundControlPolicy
	Logger    *slog.Logger
}

func NewService(d ServiceDeps) *Service {
	s := &Service{
		registry:  d.Registry,
		provider:  d.Provider,
		logs:      d.Logs,
		broadcast: d.Broadcast,
		crm:       d.CRM,
		policy:    d.Policy,
		log:       d.Logger,
		clock:     time.Now,
	}
	if s.policy == "" {
		s.policy = PolicyTeamInbox
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

// Start places an outbound call and registers it. The provider response may
// omit the control handle; a later webhook fills it in. A provider failure
// here happens before any registry mutation and is surfaced directly.
func (s *Service) Start(ctx context.Context, owner, phoneNumber string) (Record, error) {
	placed, err := s.provider.PlaceCall(ctx, phoneNumber)
	if err != nil {
		return Record{}, err
	}

	status := mapProviderStatus(placed.Status)
	if status == "" {
		status = StatusQueued
	}

	rec := s.registry.Upsert(placed.CallID, Patch{
		Direction:         DirectionOutbound,
		Status:            status,
		OwnerEmail:        owner,
		CounterpartNumber: phoneNumber,
		ControlHandle:     placed.ControlHandle,
		StartedAt:         s.clock().UTC(),
	})
	s.publish(rec)
	return rec, nil
}

// HandleVoiceEvent reconciles a provider webhook into the registry. Unknown
// ids are valid creation targets; statuses are applied permissively so
// out-of-order delivery cannot wedge a record (control actions, by
// contrast, are validated strictly).
func (s *Service) HandleVoiceEvent(ctx context.Context, ev VoiceEvent) (Record, error) {
	existing, known := s.registry.Get(ev.CallID)

	p := Patch{
		Status:        mapProviderStatus(ev.Status),
		ControlHandle: ev.ControlHandle,
	}

	switch ev.Direction {
	case string(DirectionOutbound):
		p.Direction = DirectionOutbound
	case string(DirectionInbound):
		p.Direction = DirectionInbound
	default:
		if !known {
			// First sighting with no direction: a webhook-created record is
			// an inbound arrival.
			p.Direction = DirectionInbound
		}
	}

	dir := p.Direction
	if dir == "" {
		dir = existing.Direction
	}
	if dir == DirectionInbound {
		p.CounterpartNumber = ev.From
	} else {
		p.CounterpartNumber = ev.To
	}

	if !known && !ev.OccurredAt.IsZero() {
		p.StartedAt = ev.OccurredAt
	}
	if p.Status.Terminal() && existing.ControlState == ControlStateDispatched {
		p.ControlState = ControlStateConfirmed
	}

	rec := s.registry.Upsert(ev.CallID, p)

	if rec.Status.Terminal() {
		return s.finalize(ctx, rec.ID, rec.Status, ev.DurationSeconds, rec.ControlState)
	}

	s.publish(rec)
	return rec, nil
}

// Answer accepts a ringing inbound call.
func (s *Service) Answer(ctx context.Context, caller Caller, id string) (Record, error) {
	return s.control(ctx, caller, id, voice.ActionAnswer)
}

// Reject declines a ringing inbound call.
func (s *Service) Reject(ctx context.Context, caller Caller, id string) (Record, error) {
	return s.control(ctx, caller, id, voice.ActionReject)
}

// End hangs up a call in any non-terminal state. Only the owner or an admin
// may end a call.
func (s *Service) End(ctx context.Context, caller Caller, id string) (Record, error) {
	return s.control(ctx, caller, id, voice.ActionEnd)
}

// List returns the calls visible to caller, most recently started first.
func (s *Service) List(caller Caller) []Record {
	return s.registry.ListForOwner(caller.Email, caller.Admin)
}

// GetForCaller returns a single record, enforcing owner-or-admin access.
func (s *Service) GetForCaller(caller Caller, id string) (Record, error) {
	rec, ok := s.registry.Get(id)
	if !ok {
		return Record{}, ErrNotFound
	}
	if !caller.Admin && rec.OwnerEmail != caller.Email {
		return Record{}, ErrForbidden
	}
	return rec, nil
}

// OngoingCount exposes the live calls-in-progress figure.
func (s *Service) OngoingCount() int {
	return s.registry.OngoingCount()
}

func (s *Service) control(ctx context.Context, caller Caller, id string, action voice.ControlAction) (Record, error) {
	rec, ok := s.registry.Get(id)
	if !ok {
		return Record{}, ErrNotFound
	}

	if err := s.authorize(caller, rec, action); err != nil {
		return Record{}, err
	}

	switch action {
	case voice.ActionAnswer, voice.ActionReject:
		if rec.Status != StatusRinging {
			return Record{}, ErrInvalidTransition
		}
	case voice.ActionEnd:
		if rec.Status.Terminal() {
			return Record{}, ErrInvalidTransition
		}
	}

	if rec.ControlHandle == "" {
		if action == voice.ActionEnd {
			// The provider never gave us a handle; close the record locally
			// so it is not silently lost.
			return s.finalizeLocal(ctx, id)
		}
		return Record{}, ErrControlUnavailable
	}

	if err := s.provider.Control(ctx, rec.ControlHandle, action); err != nil {
		s.log.Warn("provider control failed, finalizing locally",
			"call_id", id, "action", string(action), "err", err)
		return s.finalizeLocal(ctx, id)
	}

	p := Patch{
		Status:       optimisticStatus(action),
		ControlState: ControlStateDispatched,
	}
	if action == voice.ActionAnswer && rec.OwnerEmail == OwnerUnknown {
		// Answering an unclaimed inbound call claims it.
		p.OwnerEmail = caller.Email
	}

	rec = s.registry.Upsert(id, p)
	s.publish(rec)
	return rec, nil
}

func (s *Service) authorize(caller Caller, rec Record, action voice.ControlAction) error {
	if caller.Admin {
		return nil
	}
	switch action {
	case voice.ActionEnd:
		if rec.OwnerEmail != caller.Email {
			return ErrForbidden
		}
	case voice.ActionAnswer, voice.ActionReject:
		if s.policy == PolicyOwnerOnly && rec.OwnerEmail != caller.Email && rec.OwnerEmail != OwnerUnknown {
			return ErrForbidden
		}
	}
	return nil
}

// finalizeLocal is the fallback path when the provider is unreachable or
// never supplied a handle: mark the call completed locally and flush it.
func (s *Service) finalizeLocal(ctx context.Context, id string) (Record, error) {
	metrics.VoiceControlFallbacks.Inc()
	rec, err := s.finalize(ctx, id, StatusCompleted, nil, ControlStateLocallyFinalized)
	if err != nil {
		// The record stays resident in the registry; a later webhook retry
		// gets another chance to flush it.
		s.log.Error("local finalize flush failed", "call_id", id, "err", err)
	}
	return rec, nil
}

// finalize computes the duration, writes the terminal record through to the
// call log, broadcasts the final state, and evicts the record from memory
// once the flush succeeded.
func (s *Service) finalize(ctx context.Context, id string, status Status, providerDuration *int, cs ControlState) (Record, error) {
	now := s.clock().UTC()
	rec, ok := s.registry.Get(id)
	if !ok {
		return Record{}, ErrNotFound
	}

	dur := 0
	if providerDuration != nil {
		dur = *providerDuration
	} else if !rec.StartedAt.IsZero() {
		dur = int(now.Sub(rec.StartedAt) / time.Second)
	}
	if dur < 0 {
		dur = 0
	}

	rec = s.registry.Upsert(id, Patch{
		Status:          status,
		EndedAt:         &now,
		DurationSeconds: &dur,
		ControlState:    cs,
	})

	err := s.logs.UpsertCompleted(ctx, rec)
	s.publish(rec)

	if err != nil {
		return rec, err
	}

	if s.crm != nil {
		s.crm.CallEnded(rec)
	}
	s.registry.Evict(id)
	return rec, nil
}

func (s *Service) publish(rec Record) {
	if s.broadcast == nil {
		return
	}
	s.broadcast.BroadcastCall(rec)
	s.broadcast.BroadcastOngoing(s.registry.OngoingCount())
}

func optimisticStatus(action voice.ControlAction) Status {
	switch action {
	case voice.ActionAnswer:
		return StatusAnswering
	case voice.ActionReject:
		return StatusRejecting
	default:
		return StatusEnding
	}
}

// mapProviderStatus reduces provider status strings to the registry's
// vocabulary. Unknown strings map to empty, which Upsert treats as
// "leave the status alone".
func mapProviderStatus(s string) Status {
	switch s {
	case "queued", "initiated":
		return StatusQueued
	case "ringing":
		return StatusRinging
	case "in-progress", "answered", "ongoing":
		return StatusOngoing
	case "completed":
		return StatusCompleted
	case "ended", "hangup", "busy", "no-answer", "failed", "canceled":
		return StatusEnded
	default:
		return ""
	}
}

package calls

import (
	"context"
	"errors"
	"testing"
	"time"

	"dialdesk/internal/voice"
)

// fakeProvider records dispatched commands and can be told to fail.
type fakeProvider struct {
	placed     voice.PlacedCall
	placeErr   error
	controlErr error

	controls []voice.ControlAction
	handles  []string
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) PlaceCall(ctx context.Context, to string) (voice.PlacedCall, error) {
	if f.placeErr != nil {
		return voice.PlacedCall{}, f.placeErr
	}
	return f.placed, nil
}

func (f *fakeProvider) Control(ctx context.Context, handle string, action voice.ControlAction) error {
	f.controls = append(f.controls, action)
	f.handles = append(f.handles, handle)
	return f.controlErr
}

type fakeBroadcaster struct {
	calls   []Record
	ongoing []int
}

func (b *fakeBroadcaster) BroadcastCall(rec Record) { b.calls = append(b.calls, rec) }
func (b *fakeBroadcaster) BroadcastOngoing(n int)   { b.ongoing = append(b.ongoing, n) }

func newTestService(p *fakeProvider, logs *MemoryLogStore, policy InboundControlPolicy) (*Service, *Registry, *fakeBroadcaster) {
	reg := NewRegistry()
	b := &fakeBroadcaster{}
	svc := NewService(ServiceDeps{
		Registry:  reg,
		Provider:  p,
		Logs:      logs,
		Broadcast: b,
		Policy:    policy,
	})
	return svc, reg, b
}

func TestStart_RegistersQueuedOutboundCall(t *testing.T) {
	p := &fakeProvider{placed: voice.PlacedCall{CallID: "CA1", Status: "queued"}}
	svc, _, _ := newTestService(p, NewMemoryLogStore(), PolicyTeamInbox)

	rec, err := svc.Start(context.Background(), "agent@example.com", "+15550002222")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if rec.Status != StatusQueued || rec.Direction != DirectionOutbound {
		t.Fatalf("unexpected record: %+v", rec)
	}

	listed := svc.List(Caller{Email: "agent@example.com"})
	if len(listed) != 1 || listed[0].ID != "CA1" || listed[0].Status != StatusQueued {
		t.Fatalf("expected queued call in owner list, got %+v", listed)
	}
}

func TestStart_ToleratesMissingControlHandle(t *testing.T) {
	p := &fakeProvider{placed: voice.PlacedCall{CallID: "CA1", Status: "queued"}}
	svc, reg, _ := newTestService(p, NewMemoryLogStore(), PolicyTeamInbox)

	if _, err := svc.Start(context.Background(), "agent@example.com", "+1555"); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Handle arrives via webhook later.
	_, err := svc.HandleVoiceEvent(context.Background(), VoiceEvent{
		CallID: "CA1", Status: "ringing", ControlHandle: "https://voice.example/c/CA1",
	})
	if err != nil {
		t.Fatalf("webhook: %v", err)
	}
	rec, _ := reg.Get("CA1")
	if rec.ControlHandle == "" || rec.OwnerEmail != "agent@example.com" {
		t.Fatalf("merge lost fields: %+v", rec)
	}
}

func TestStart_SurfacesProviderFailure(t *testing.T) {
	p := &fakeProvider{placeErr: errors.New("dial failed")}
	svc, reg, _ := newTestService(p, NewMemoryLogStore(), PolicyTeamInbox)

	if _, err := svc.Start(context.Background(), "agent@example.com", "+1555"); err == nil {
		t.Fatalf("expected error")
	}
	if reg.Len() != 0 {
		t.Fatalf("failed start must not register a record")
	}
}

func TestAnswer_RequiresRinging(t *testing.T) {
	p := &fakeProvider{}
	svc, reg, _ := newTestService(p, NewMemoryLogStore(), PolicyTeamInbox)
	reg.Upsert("CA1", Patch{Direction: DirectionInbound, Status: StatusOngoing, ControlHandle: "h"})

	if _, err := svc.Answer(context.Background(), Caller{Email: "a@example.com"}, "CA1"); err != ErrInvalidTransition {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	rec, _ := reg.Get("CA1")
	if rec.Status != StatusOngoing {
		t.Fatalf("record must be unchanged, got %+v", rec)
	}
	if len(p.controls) != 0 {
		t.Fatalf("no provider command expected")
	}
}

func TestAnswer_RequiresControlHandle(t *testing.T) {
	svc, reg, _ := newTestService(&fakeProvider{}, NewMemoryLogStore(), PolicyTeamInbox)
	reg.Upsert("CA1", Patch{Direction: DirectionInbound, Status: StatusRinging})

	if _, err := svc.Answer(context.Background(), Caller{Email: "a@example.com"}, "CA1"); err != ErrControlUnavailable {
		t.Fatalf("expected ErrControlUnavailable, got %v", err)
	}
}

func TestAnswer_ClaimsUnownedInboundCall(t *testing.T) {
	p := &fakeProvider{}
	svc, reg, _ := newTestService(p, NewMemoryLogStore(), PolicyTeamInbox)
	reg.Upsert("CA1", Patch{Direction: DirectionInbound, Status: StatusRinging, ControlHandle: "h"})

	rec, err := svc.Answer(context.Background(), Caller{Email: "a@example.com"}, "CA1")
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if rec.Status != StatusAnswering || rec.ControlState != ControlStateDispatched {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.OwnerEmail != "a@example.com" {
		t.Fatalf("answering should claim the call, got owner %q", rec.OwnerEmail)
	}
}

func TestAnswer_OwnerOnlyPolicyForbidsForeignCalls(t *testing.T) {
	svc, reg, _ := newTestService(&fakeProvider{}, NewMemoryLogStore(), PolicyOwnerOnly)
	reg.Upsert("CA1", Patch{Direction: DirectionInbound, Status: StatusRinging, ControlHandle: "h", OwnerEmail: "owner@example.com"})

	if _, err := svc.Answer(context.Background(), Caller{Email: "other@example.com"}, "CA1"); err != ErrForbidden {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	// Admin bypasses policy.
	if _, err := svc.Answer(context.Background(), Caller{Email: "root@example.com", Admin: true}, "CA1"); err != nil {
		t.Fatalf("admin answer: %v", err)
	}
}

func TestEnd_OnlyOwnerOrAdmin(t *testing.T) {
	svc, reg, _ := newTestService(&fakeProvider{}, NewMemoryLogStore(), PolicyTeamInbox)
	reg.Upsert("CA1", Patch{Direction: DirectionOutbound, Status: StatusOngoing, ControlHandle: "h", OwnerEmail: "owner@example.com"})

	if _, err := svc.End(context.Background(), Caller{Email: "other@example.com"}, "CA1"); err != ErrForbidden {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := svc.End(context.Background(), Caller{Email: "root@example.com", Admin: true}, "CA1"); err != nil {
		t.Fatalf("admin end: %v", err)
	}
}

func TestEnd_UnknownID(t *testing.T) {
	svc, _, _ := newTestService(&fakeProvider{}, NewMemoryLogStore(), PolicyTeamInbox)
	if _, err := svc.End(context.Background(), Caller{Email: "a@example.com"}, "nope"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEnd_WithoutHandleFinalizesLocally(t *testing.T) {
	logs := NewMemoryLogStore()
	svc, reg, _ := newTestService(&fakeProvider{}, logs, PolicyTeamInbox)

	started := time.Now().UTC().Add(-90 * time.Second)
	reg.Upsert("CA1", Patch{Direction: DirectionOutbound, Status: StatusOngoing, OwnerEmail: "a@example.com", StartedAt: started})

	rec, err := svc.End(context.Background(), Caller{Email: "a@example.com"}, "CA1")
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if rec.Status != StatusCompleted || rec.ControlState != ControlStateLocallyFinalized {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.DurationSeconds < 89 || rec.DurationSeconds > 95 {
		t.Fatalf("unexpected duration %d", rec.DurationSeconds)
	}
	if rec.EndedAt == nil {
		t.Fatalf("expected ended_at")
	}
	if logs.WriteCount() != 1 {
		t.Fatalf("expected exactly one persistence write, got %d", logs.WriteCount())
	}
	if _, ok := reg.Get("CA1"); ok {
		t.Fatalf("flushed terminal record should be evicted")
	}
}

func TestEnd_KeepsRecordResidentWhenFlushFails(t *testing.T) {
	logs := NewMemoryLogStore()
	logs.FailNext = errors.New("db down")
	svc, reg, _ := newTestService(&fakeProvider{}, logs, PolicyTeamInbox)
	reg.Upsert("CA1", Patch{Direction: DirectionOutbound, Status: StatusOngoing, OwnerEmail: "a@example.com"})

	rec, err := svc.End(context.Background(), Caller{Email: "a@example.com"}, "CA1")
	if err != nil {
		t.Fatalf("end should not surface flush failure: %v", err)
	}
	if rec.Status != StatusCompleted {
		t.Fatalf("unexpected status %q", rec.Status)
	}
	if _, ok := reg.Get("CA1"); !ok {
		t.Fatalf("unflushed record must stay resident")
	}
}

func TestWebhook_ReplayIsIdempotent(t *testing.T) {
	logs := NewMemoryLogStore()
	svc, _, _ := newTestService(&fakeProvider{}, logs, PolicyTeamInbox)

	dur := 42
	ev := VoiceEvent{
		CallID: "CA1", Status: "completed", Direction: "outbound",
		To: "+1555", DurationSeconds: &dur,
		OccurredAt: time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	if _, err := svc.HandleVoiceEvent(context.Background(), ev); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if _, err := svc.HandleVoiceEvent(context.Background(), ev); err != nil {
		t.Fatalf("second delivery: %v", err)
	}

	if logs.RowCount() != 1 {
		t.Fatalf("expected exactly one persisted row, got %d", logs.RowCount())
	}
	row, _ := logs.Row("CA1")
	if row.DurationSeconds != 42 {
		t.Fatalf("expected provider-supplied duration, got %d", row.DurationSeconds)
	}
}

func TestWebhook_ReplayAfterEvictionPreservesPersistedRow(t *testing.T) {
	p := &fakeProvider{placed: voice.PlacedCall{CallID: "CA1", Status: "queued"}}
	logs := NewMemoryLogStore()
	svc, reg, _ := newTestService(p, logs, PolicyTeamInbox)
	ctx := context.Background()

	if _, err := svc.Start(ctx, "agent@example.com", "+15550002222"); err != nil {
		t.Fatalf("start: %v", err)
	}

	dur := 42
	if _, err := svc.HandleVoiceEvent(ctx, VoiceEvent{
		CallID: "CA1", Status: "completed", Direction: "outbound",
		To: "+15550002222", DurationSeconds: &dur,
	}); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if _, ok := reg.Get("CA1"); ok {
		t.Fatalf("expected eviction after flush")
	}

	// The provider redelivers after eviction. The recreated record carries
	// the sentinel owner and no duration; the stored row must not regress.
	if _, err := svc.HandleVoiceEvent(ctx, VoiceEvent{CallID: "CA1", Status: "completed"}); err != nil {
		t.Fatalf("redelivery: %v", err)
	}

	row, ok := logs.Row("CA1")
	if !ok {
		t.Fatalf("expected persisted row")
	}
	if row.OwnerEmail != "agent@example.com" {
		t.Fatalf("replay corrupted persisted owner: got %q", row.OwnerEmail)
	}
	if row.DurationSeconds != 42 {
		t.Fatalf("replay corrupted duration: got %d", row.DurationSeconds)
	}
	if row.CounterpartNumber != "+15550002222" {
		t.Fatalf("replay corrupted counterpart: got %q", row.CounterpartNumber)
	}
}

func TestWebhook_InboundArrivalCreatesRecord(t *testing.T) {
	svc, reg, _ := newTestService(&fakeProvider{}, NewMemoryLogStore(), PolicyTeamInbox)

	_, err := svc.HandleVoiceEvent(context.Background(), VoiceEvent{
		CallID: "CA9", Status: "ringing", From: "+15550009999",
		ControlHandle: "https://voice.example/c/CA9",
	})
	if err != nil {
		t.Fatalf("webhook: %v", err)
	}
	rec, ok := reg.Get("CA9")
	if !ok {
		t.Fatalf("expected record created")
	}
	if rec.Direction != DirectionInbound || rec.OwnerEmail != OwnerUnknown || rec.CounterpartNumber != "+15550009999" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestEndToEnd_ProviderFailureFallsBackToLocalCompletion(t *testing.T) {
	p := &fakeProvider{placed: voice.PlacedCall{CallID: "CA1", Status: "queued"}}
	logs := NewMemoryLogStore()
	svc, reg, _ := newTestService(p, logs, PolicyTeamInbox)
	ctx := context.Background()

	if _, err := svc.Start(ctx, "agent@example.com", "+15550002222"); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Webhook: call is live, control handle arrives.
	if _, err := svc.HandleVoiceEvent(ctx, VoiceEvent{
		CallID: "CA1", Status: "in-progress", Direction: "outbound",
		To: "+15550002222", ControlHandle: "https://voice.example/c/CA1",
	}); err != nil {
		t.Fatalf("webhook: %v", err)
	}

	// Provider goes dark exactly when the user hangs up.
	p.controlErr = errors.New("provider unreachable")
	rec, err := svc.End(ctx, Caller{Email: "agent@example.com"}, "CA1")
	if err != nil {
		t.Fatalf("end: %v", err)
	}

	if rec.Status != StatusCompleted || rec.ControlState != ControlStateLocallyFinalized {
		t.Fatalf("unexpected final record: %+v", rec)
	}
	if rec.EndedAt == nil {
		t.Fatalf("expected computed ended_at")
	}
	if logs.RowCount() != 1 {
		t.Fatalf("expected exactly one persisted row, got %d", logs.RowCount())
	}
	if _, ok := reg.Get("CA1"); ok {
		t.Fatalf("expected eviction after flush")
	}
	if len(p.controls) != 1 || p.controls[0] != voice.ActionEnd {
		t.Fatalf("expected one end dispatch, got %v", p.controls)
	}
}

func TestWebhook_ConfirmsDispatchedControl(t *testing.T) {
	p := &fakeProvider{}
	logs := NewMemoryLogStore()
	svc, reg, _ := newTestService(p, logs, PolicyTeamInbox)
	ctx := context.Background()

	reg.Upsert("CA1", Patch{Direction: DirectionOutbound, Status: StatusOngoing, OwnerEmail: "a@example.com", ControlHandle: "h"})

	if _, err := svc.End(ctx, Caller{Email: "a@example.com"}, "CA1"); err != nil {
		t.Fatalf("end: %v", err)
	}
	rec, _ := reg.Get("CA1")
	if rec.Status != StatusEnding || rec.ControlState != ControlStateDispatched {
		t.Fatalf("expected optimistic ending state, got %+v", rec)
	}

	dur := 10
	final, err := svc.HandleVoiceEvent(ctx, VoiceEvent{CallID: "CA1", Status: "completed", DurationSeconds: &dur})
	if err != nil {
		t.Fatalf("webhook: %v", err)
	}
	if final.ControlState != ControlStateConfirmed {
		t.Fatalf("expected confirmed control state, got %q", final.ControlState)
	}
	if logs.WriteCount() != 1 {
		t.Fatalf("expected single flush, got %d", logs.WriteCount())
	}
}

func TestBroadcast_PublishesOngoingCount(t *testing.T) {
	p := &fakeProvider{placed: voice.PlacedCall{CallID: "CA1", Status: "queued"}}
	svc, _, b := newTestService(p, NewMemoryLogStore(), PolicyTeamInbox)
	ctx := context.Background()

	if _, err := svc.Start(ctx, "a@example.com", "+1555"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.HandleVoiceEvent(ctx, VoiceEvent{CallID: "CA1", Status: "in-progress"}); err != nil {
		t.Fatalf("webhook: %v", err)
	}

	if len(b.calls) == 0 || len(b.ongoing) == 0 {
		t.Fatalf("expected broadcasts")
	}
	last := b.ongoing[len(b.ongoing)-1]
	if last != 1 {
		t.Fatalf("expected ongoing count 1, got %d", last)
	}
}

package crm

import (
	"context"
	"fmt"
	"log/slog"

	"dialdesk/internal/billing"
	"dialdesk/internal/calls"
	"dialdesk/internal/metrics"
)

const queueSize = 256

// ContactAPI is the slice of Client the syncer needs.
type ContactAPI interface {
	UpsertContact(ctx context.Context, contact Contact) error
	AddNote(ctx context.Context, contact Contact, note string) error
}

type job struct {
	describe string
	run      func(ctx context.Context) error
}

// Syncer mirrors events into the CRM from a single background worker.
// Enqueueing never blocks the caller: when the queue is full the job is
// dropped and counted, the calls hot path must not wait on the CRM.
// A failed job is logged and counted, never retried; the CRM is a
// best-effort mirror and stale contacts are acceptable.
type Syncer struct {
	api  ContactAPI
	jobs chan job
	log  *slog.Logger
}

func NewSyncer(api ContactAPI, log *slog.Logger) *Syncer {
	if log == nil {
		log = slog.Default()
	}
	return &Syncer{
		api:  api,
		jobs: make(chan job, queueSize),
		log:  log,
	}
}

// Run processes queued jobs until ctx is canceled.
func (s *Syncer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-s.jobs:
			s.process(ctx, j)
		}
	}
}

func (s *Syncer) process(ctx context.Context, j job) {
	if err := j.run(ctx); err != nil {
		metrics.CRMSyncFailures.Inc()
		s.log.Error("crm sync failed", "job", j.describe, "err", err)
	}
}

func (s *Syncer) enqueue(j job) {
	select {
	case s.jobs <- j:
	default:
		metrics.CRMSyncDropped.Inc()
		s.log.Warn("crm sync queue full, job dropped", "job", j.describe)
	}
}

// CallEnded records a finished call as a note on the counterpart's contact.
func (s *Syncer) CallEnded(rec calls.Record) {
	contact := Contact{Phone: rec.CounterpartNumber, Tags: []string{"caller"}}
	note := fmt.Sprintf("%s call, %ds, handled by %s",
		rec.Direction, rec.DurationSeconds, rec.OwnerEmail)
	s.enqueue(job{
		describe: "call_ended " + rec.ID,
		run: func(ctx context.Context) error {
			if err := s.api.UpsertContact(ctx, contact); err != nil {
				return err
			}
			return s.api.AddNote(ctx, contact, note)
		},
	})
}

// UserLoggedIn keeps agent contacts current in the CRM.
func (s *Syncer) UserLoggedIn(email, name string) {
	contact := Contact{Email: email, Name: name, Tags: []string{"agent"}}
	s.enqueue(job{
		describe: "user_login " + email,
		run: func(ctx context.Context) error {
			return s.api.UpsertContact(ctx, contact)
		},
	})
}

// SubscriptionChanged tags the contact with the current plan and status.
func (s *Syncer) SubscriptionChanged(sub billing.Subscription) {
	contact := Contact{
		Email: sub.Email,
		Tags:  []string{"plan:" + sub.Plan, "billing:" + sub.Status},
	}
	s.enqueue(job{
		describe: "subscription " + sub.Email,
		run: func(ctx context.Context) error {
			return s.api.UpsertContact(ctx, contact)
		},
	})
}

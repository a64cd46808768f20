package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"dialdesk/internal/metrics"
	"dialdesk/pkg/utils"
)

const dedupTTL = 24 * time.Hour

// SubscriptionNotifier receives subscription changes after they are
// persisted. Implemented by the CRM syncer.
type SubscriptionNotifier interface {
	SubscriptionChanged(sub Subscription)
}

// CheckoutProvider creates hosted payment sessions. Implemented by Client.
type CheckoutProvider interface {
	CreateCheckoutSession(ctx context.Context, email, plan string) (CheckoutSession, error)
}

// Service processes billing provider events exactly once and keeps
// subscription state current.
type Service struct {
	store    Store
	provider CheckoutProvider
	rdb      *redis.Client
	notify   SubscriptionNotifier
	log      *slog.Logger
}

type ServiceDeps struct {
	Store    Store
	Provider CheckoutProvider
	Redis    *redis.Client
	Notify   SubscriptionNotifier
	Logger   *slog.Logger
}

func NewService(d ServiceDeps) *Service {
	s := &Service{
		store:    d.Store,
		provider: d.Provider,
		rdb:      d.Redis,
		notify:   d.Notify,
		log:      d.Logger,
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

// Checkout creates a provider-hosted payment session for the user.
func (s *Service) Checkout(ctx context.Context, email, plan string) (CheckoutSession, error) {
	return s.provider.CreateCheckoutSession(ctx, email, plan)
}

// Subscription returns the stored subscription for email.
func (s *Service) Subscription(ctx context.Context, email string) (Subscription, error) {
	return s.store.GetByEmail(ctx, email)
}

// ProcessEvent applies a provider webhook event. Redelivered events are
// dropped: Redis answers the common case cheaply, the processed-events table
// is the source of truth. Recording the event id and applying its effects
// happen in one store transaction, so a failed apply leaves the id
// unclaimed and the provider's redelivery can run the event again.
func (s *Service) ProcessEvent(ctx context.Context, ev Event) error {
	if ev.EventID == "" {
		return fmt.Errorf("billing: event without id")
	}

	if s.rdb != nil {
		fresh, err := utils.ClaimOnce(ctx, s.rdb, "billing:event:"+ev.EventID, dedupTTL)
		if err != nil {
			// Redis being down only costs us the fast path.
			s.log.Warn("billing dedup fast path unavailable", "err", err)
		} else if !fresh {
			metrics.WebhookDuplicates.Inc()
			return nil
		}
	}

	var updated *Subscription
	fresh, err := s.store.ProcessOnce(ctx, ev.EventID, func(store Store) error {
		sub, applied, err := s.apply(ctx, store, ev)
		if err != nil {
			return err
		}
		if applied {
			updated = &sub
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !fresh {
		metrics.WebhookDuplicates.Inc()
		return nil
	}

	if updated != nil {
		s.log.Info("subscription updated",
			"email", updated.Email, "plan", updated.Plan, "status", updated.Status, "event_id", ev.EventID)
		if s.notify != nil {
			s.notify.SubscriptionChanged(*updated)
		}
	}
	return nil
}

func (s *Service) apply(ctx context.Context, store Store, ev Event) (Subscription, bool, error) {
	var status string
	switch ev.Type {
	case "checkout.completed", "subscription.renewed":
		status = SubscriptionActive
	case "payment.failed":
		status = SubscriptionPastDue
	case "subscription.canceled":
		status = SubscriptionCanceled
	default:
		s.log.Info("billing event ignored", "type", ev.Type, "event_id", ev.EventID)
		return Subscription{}, false, nil
	}

	plan := ev.Plan
	if plan == "" {
		// Renewal and cancel events may omit the plan; keep the stored one.
		if sub, err := store.GetByEmail(ctx, ev.Email); err == nil {
			plan = sub.Plan
		}
	}

	sub, err := store.UpsertSubscription(ctx, ev.Email, plan, status)
	if err != nil {
		return Subscription{}, false, err
	}
	return sub, true, nil
}

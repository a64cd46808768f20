package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"dialdesk/pkg/utils"
)

var ErrNotFound = errors.New("billing: subscription not found")

// Store is the durable side of billing: event dedup and subscription state.
type Store interface {
	// ProcessOnce records the provider event id and, for a first delivery,
	// runs apply against a store bound to the same transaction. Both commit
	// or neither does: an apply failure must leave the event unrecorded so
	// the provider's redelivery gets another chance. It returns false when
	// the id was already recorded, which makes redelivered webhooks no-ops.
	ProcessOnce(ctx context.Context, eventID string, apply func(Store) error) (bool, error)
	UpsertSubscription(ctx context.Context, email, plan, status string) (Subscription, error)
	GetByEmail(ctx context.Context, email string) (Subscription, error)
}

// Repo is the Postgres-backed Store.
//
// Schema:
//
//	CREATE TABLE processed_billing_events (
//	    event_id   TEXT PRIMARY KEY,
//	    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
//	CREATE TABLE subscriptions (
//	    id         BIGSERIAL PRIMARY KEY,
//	    email      TEXT NOT NULL UNIQUE,
//	    plan       TEXT NOT NULL,
//	    status     TEXT NOT NULL,
//	    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
type Repo struct {
	db *sql.DB
	q  querier
}

// querier is the subset of database/sql shared by *sql.DB and *sql.Tx, so
// the same statements serve both the plain and the transactional store.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func NewRepo(db *sql.DB) *Repo {
	return &Repo{db: db, q: db}
}

// ProcessOnce claims the event id and applies its effects in one
// transaction via utils.WithTx.
func (r *Repo) ProcessOnce(ctx context.Context, eventID string, apply func(Store) error) (bool, error) {
	var fresh bool
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO processed_billing_events (event_id)
			VALUES ($1)
			ON CONFLICT (event_id) DO NOTHING`,
			eventID,
		)
		if err != nil {
			return fmt.Errorf("billing: mark processed: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("billing: mark processed: %w", err)
		}
		if n == 0 {
			return nil
		}
		fresh = true
		return apply(&Repo{db: r.db, q: tx})
	})
	if err != nil {
		return false, err
	}
	return fresh, nil
}

func (r *Repo) UpsertSubscription(ctx context.Context, email, plan, status string) (Subscription, error) {
	var sub Subscription
	err := r.q.QueryRowContext(ctx, `
		INSERT INTO subscriptions (email, plan, status, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (email) DO UPDATE
		SET plan = EXCLUDED.plan, status = EXCLUDED.status, updated_at = now()
		RETURNING id, email, plan, status, updated_at`,
		email, plan, status,
	).Scan(&sub.ID, &sub.Email, &sub.Plan, &sub.Status, &sub.UpdatedAt)
	if err != nil {
		return Subscription{}, fmt.Errorf("billing: upsert subscription: %w", err)
	}
	return sub, nil
}

func (r *Repo) GetByEmail(ctx context.Context, email string) (Subscription, error) {
	var sub Subscription
	err := r.q.QueryRowContext(ctx, `
		SELECT id, email, plan, status, updated_at
		FROM subscriptions
		WHERE email = $1`,
		email,
	).Scan(&sub.ID, &sub.Email, &sub.Plan, &sub.Status, &sub.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Subscription{}, ErrNotFound
	}
	if err != nil {
		return Subscription{}, fmt.Errorf("billing: get subscription: %w", err)
	}
	return sub, nil
}

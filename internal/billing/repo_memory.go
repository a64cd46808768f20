package billing

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Store used in tests.
type MemoryRepo struct {
	mu        sync.Mutex
	processed map[string]struct{}
	subs      map[string]Subscription
	nextID    int64

	// FailUpsert makes the next UpsertSubscription fail, for tests of the
	// mark-and-apply atomicity.
	FailUpsert error
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		processed: make(map[string]struct{}),
		subs:      make(map[string]Subscription),
		nextID:    1,
	}
}

// ProcessOnce mirrors the transactional Repo: the event id is recorded only
// when apply succeeds, so a failed apply leaves the redelivery path open.
func (m *MemoryRepo) ProcessOnce(ctx context.Context, eventID string, apply func(Store) error) (bool, error) {
	m.mu.Lock()
	_, dup := m.processed[eventID]
	m.mu.Unlock()
	if dup {
		return false, nil
	}

	if err := apply(m); err != nil {
		return false, err
	}

	m.mu.Lock()
	m.processed[eventID] = struct{}{}
	m.mu.Unlock()
	return true, nil
}

func (m *MemoryRepo) UpsertSubscription(ctx context.Context, email, plan, status string) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailUpsert != nil {
		err := m.FailUpsert
		m.FailUpsert = nil
		return Subscription{}, err
	}
	sub, ok := m.subs[email]
	if !ok {
		sub = Subscription{ID: m.nextID, Email: email}
		m.nextID++
	}
	sub.Plan = plan
	sub.Status = status
	sub.UpdatedAt = time.Now().UTC()
	m.subs[email] = sub
	return sub, nil
}

func (m *MemoryRepo) GetByEmail(ctx context.Context, email string) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[email]
	if !ok {
		return Subscription{}, ErrNotFound
	}
	return sub, nil
}

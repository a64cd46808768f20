package users

import (
	"context"
	"sync"
	"time"

	"dialdesk/internal/rbac"

	"github.com/google/uuid"
)

// MemoryRepo is an in-memory account store for tests and early development.
type MemoryRepo struct {
	mu    sync.Mutex
	byID  map[string]User
	clock func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byID: map[string]User{}, clock: time.Now}
}

func (r *MemoryRepo) UpsertOnLogin(ctx context.Context, providerID, email, name string) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock().UTC()
	for id, u := range r.byID {
		if u.Email == email {
			u.LastLogin = now
			r.byID[id] = u
			return u, nil
		}
	}
	u := User{
		ID:         uuid.NewString(),
		ProviderID: providerID,
		Email:      email,
		Name:       name,
		Role:       rbac.RoleUser,
		CreatedAt:  now,
		LastLogin:  now,
	}
	r.byID[u.ID] = u
	return u, nil
}

func (r *MemoryRepo) GetByEmail(ctx context.Context, email string) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.byID {
		if u.Email == email {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (r *MemoryRepo) UpdateRole(ctx context.Context, id, role string) (User, error) {
	if !rbac.IsValidRole(role) {
		return User{}, ErrInvalidRole
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return User{}, ErrNotFound
	}
	u.Role = role
	r.byID[id] = u
	return u, nil
}

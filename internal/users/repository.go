package users

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"dialdesk/internal/rbac"

	"github.com/google/uuid"
)

var (
	ErrNotFound    = errors.New("users: not found")
	ErrInvalidRole = errors.New("users: invalid role")
)

// Store is the persistence contract for accounts. The Postgres Repo is the
// production implementation; MemoryRepo backs tests.
type Store interface {
	UpsertOnLogin(ctx context.Context, providerID, email, name string) (User, error)
	GetByEmail(ctx context.Context, email string) (User, error)
	UpdateRole(ctx context.Context, id, role string) (User, error)
}

type Repo struct {
	db    *sql.DB
	clock func() time.Time
}

func NewRepo(db *sql.DB) *Repo {
	return &Repo{db: db, clock: time.Now}
}

// UpsertOnLogin creates the account on first login. Existing rows only get
// their last_login_at refreshed; email, name and role are never overwritten
// by a login.
func (r *Repo) UpsertOnLogin(ctx context.Context, providerID, email, name string) (User, error) {
	if providerID == "" || email == "" {
		return User{}, errors.New("users: provider_id and email required")
	}
	now := r.clock().UTC()
	u := User{
		ID:         uuid.NewString(),
		ProviderID: providerID,
		Email:      email,
		Name:       name,
		Role:       rbac.RoleUser,
		CreatedAt:  now,
		LastLogin:  now,
	}

	const q = `
INSERT INTO users (id, provider_id, email, name, role, created_at, last_login_at)
VALUES ($1, $2, $3, $4, $5, $6, $6)
ON CONFLICT (email) DO UPDATE SET last_login_at = EXCLUDED.last_login_at
RETURNING id, provider_id, email, name, COALESCE(phone, ''), role, created_at, last_login_at`

	row := r.db.QueryRowContext(ctx, q, u.ID, u.ProviderID, u.Email, u.Name, u.Role, now)
	var out User
	if err := row.Scan(&out.ID, &out.ProviderID, &out.Email, &out.Name, &out.Phone, &out.Role, &out.CreatedAt, &out.LastLogin); err != nil {
		return User{}, err
	}
	return out, nil
}

func (r *Repo) GetByEmail(ctx context.Context, email string) (User, error) {
	const q = `
SELECT id, provider_id, email, name, COALESCE(phone, ''), role, created_at, last_login_at
FROM users WHERE email = $1`

	var out User
	err := r.db.QueryRowContext(ctx, q, email).Scan(
		&out.ID, &out.ProviderID, &out.Email, &out.Name, &out.Phone, &out.Role, &out.CreatedAt, &out.LastLogin,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	return out, nil
}

func (r *Repo) UpdateRole(ctx context.Context, id, role string) (User, error) {
	if !rbac.IsValidRole(role) {
		return User{}, ErrInvalidRole
	}
	const q = `
UPDATE users SET role = $2 WHERE id = $1
RETURNING id, provider_id, email, name, COALESCE(phone, ''), role, created_at, last_login_at`

	var out User
	err := r.db.QueryRowContext(ctx, q, id, role).Scan(
		&out.ID, &out.ProviderID, &out.Email, &out.Name, &out.Phone, &out.Role, &out.CreatedAt, &out.LastLogin,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	return out, nil
}

package users

import "time"

// User is an application account created on first OAuth login.
// Immutable thereafter except the role (admin promotion) and last_login_at.
type User struct {
	ID         string    `json:"id" db:"id"`
	ProviderID string    `json:"-" db:"provider_id"`
	Email      string    `json:"email" db:"email"`
	Name       string    `json:"name" db:"name"`
	Phone      string    `json:"phone,omitempty" db:"phone"`
	Role       string    `json:"role" db:"role"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	LastLogin  time.Time `json:"last_login_at" db:"last_login_at"`
}

package billing

import "time"

// Subscription is the billing state attached to a user, keyed by email.
type Subscription struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Plan      string    `json:"plan"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

const (
	SubscriptionActive   = "active"
	SubscriptionPastDue  = "past_due"
	SubscriptionCanceled = "canceled"
)

// CheckoutSession is the provider-hosted payment page the frontend redirects
// the user to.
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Event is a parsed billing provider webhook. EventID is the provider's
// globally unique delivery id and drives deduplication.
type Event struct {
	EventID string
	Type    string
	Email   string
	Plan    string
}

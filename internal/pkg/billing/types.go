package billing

import (
	"context"
	"encoding/json"
	"time"
)

// Event types that change subscription state. Anything else is recorded and
// acknowledged without side effects.
var (
	activatingEvents = map[string]struct{}{
		"subscription.created":   {},
		"subscription.updated":   {},
		"subscription.activated": {},
		"subscription.renewed":   {},
	}
	cancelingEvents = map[string]struct{}{
		"subscription.canceled":  {},
		"subscription.cancelled": {},
		"subscription.deleted":   {},
		"subscription.expired":   {},
	}
	paymentFailedEvents = map[string]struct{}{
		"payment.failed":         {},
		"invoice.payment_failed": {},
	}
)

// SubscriptionData is the "data" object of subscription and payment events.
type SubscriptionData struct {
	UserID           uint   `json:"user_id"`
	SubscriptionID   string `json:"subscription_id"`
	Plan             string `json:"plan"`
	Status           string `json:"status"`
	CurrentPeriodEnd int64  `json:"current_period_end"`
}

// envelopeMeta holds top-level payload fields besides id/type/data.
type envelopeMeta struct {
	Created int64 `json:"created"`
}

// Publisher fans processed events out to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// PublishedEvent is the message written for every processed event.
type PublishedEvent struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
	ProcessedAt   time.Time       `json:"processed_at"`
}

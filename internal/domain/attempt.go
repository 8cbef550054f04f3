package domain

import "time"

// DeliveryAttempt records a single provider invocation made for an idempotency key.
type DeliveryAttempt struct {
	ID             string
	IdempotencyKey string
	Provider       string
	Round          int
	Invocation     int
	Success        bool
	Transient      bool
	StatusCode     *int
	Error          *string
	DurationMs     int64
	CreatedAt      time.Time
}

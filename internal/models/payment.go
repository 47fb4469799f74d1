// internal/models/payment.go
package models

import "time"

// PaymentStatus is the lifecycle of a single payment record.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentExpired   PaymentStatus = "EXPIRED"
	PaymentFailed    PaymentStatus = "FAILED"
)

// Payment is one billing record for one fee phase of one application.
// A rejection-triggered re-payment creates a new record; the old one stays
// for the audit trail.
type Payment struct {
	ID            string        `json:"id" db:"id"`
	ApplicationID string        `json:"applicationId" db:"application_id"`
	Phase         int           `json:"phase" db:"phase"`
	Amount        int64         `json:"amount" db:"amount"`
	Status        PaymentStatus `json:"status" db:"status"`
	TransactionID string        `json:"transactionId" db:"transaction_id"`
	Channel       string        `json:"channel,omitempty" db:"channel"`
	ExpiresAt     time.Time     `json:"expiresAt" db:"expires_at"`
	PaidAt        *time.Time    `json:"paidAt,omitempty" db:"paid_at"`
	CreatedAt     time.Time     `json:"createdAt" db:"created_at"`
}

// Active reports whether this payment is still payable at the given instant.
func (p *Payment) Active(now time.Time) bool {
	return p.Status == PaymentPending && now.Before(p.ExpiresAt)
}

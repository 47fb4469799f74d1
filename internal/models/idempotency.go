// internal/models/idempotency.go
package models

import "time"

// IdempotencyStatus tracks a key's lifecycle. There is no stored ABSENT
// state; absence of the record is the absent state.
type IdempotencyStatus string

const (
	IdempotencyProcessing IdempotencyStatus = "PROCESSING"
	IdempotencyCompleted  IdempotencyStatus = "COMPLETED"
)

// IdempotencyRecord caches the outcome of a mutating request so retries with
// the same key replay the response instead of re-executing the mutation.
type IdempotencyRecord struct {
	Key                string            `json:"key"`
	Status             IdempotencyStatus `json:"status"`
	Fingerprint        string            `json:"fingerprint,omitempty"`
	ResponseStatusCode int               `json:"responseStatusCode,omitempty"`
	ResponseBody       []byte            `json:"responseBody,omitempty"`
	CreatedAt          time.Time         `json:"createdAt"`
	ExpiresAt          time.Time         `json:"expiresAt"`
}

// Expired reports whether the record is past its TTL at the given instant.
func (r *IdempotencyRecord) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

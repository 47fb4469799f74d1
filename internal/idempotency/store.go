// Package idempotency guards mutating operations so a retried request is
// applied at most once and replays the original response.
package idempotency

import (
	"context"
	"time"

	"gacp-engine/internal/models"
)

// RecordStore is the atomic key-record store backing the guard. The
// absent-to-PROCESSING transition must be a compare-and-set: two concurrent
// PutProcessing calls for one key must not both succeed.
type RecordStore interface {
	// PutProcessing stores rec only if the key is absent. Returns false
	// when another record already holds the key.
	PutProcessing(ctx context.Context, rec *models.IdempotencyRecord) (bool, error)

	// Get returns the record or a NOT_FOUND error.
	Get(ctx context.Context, key string) (*models.IdempotencyRecord, error)

	// Complete overwrites the record with its COMPLETED form.
	Complete(ctx context.Context, rec *models.IdempotencyRecord) error

	// Delete removes the record so the caller may retry after a failure.
	Delete(ctx context.Context, key string) error

	// EvictExpired removes records past their TTL and reports how many.
	// Stores with native TTL support may make this a no-op.
	EvictExpired(ctx context.Context, now time.Time) (int, error)
}

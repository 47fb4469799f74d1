// internal/idempotency/guard.go
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"gacp-engine/internal/common/errors"
	"gacp-engine/internal/common/logger"
	"gacp-engine/internal/common/metrics"
	"gacp-engine/internal/models"
)

// maxKeyLength bounds caller-supplied keys; longer values must be hashed by
// the caller or left absent so the fingerprint takes over.
const maxKeyLength = 64

// Response is the cached outcome handed back on replay.
type Response struct {
	StatusCode int    `json:"statusCode"`
	Body       []byte `json:"body"`
}

// RequestInfo identifies a request for fingerprinting when no explicit key
// is supplied.
type RequestInfo struct {
	Actor  string
	Method string
	Path   string
	Body   []byte
}

// Fingerprint hashes the request identity. Two byte-identical requests from
// the same actor produce the same fingerprint.
func (r RequestInfo) Fingerprint() string {
	h := sha256.New()
	h.Write([]byte(r.Actor))
	h.Write([]byte{0})
	h.Write([]byte(r.Method))
	h.Write([]byte{0})
	h.Write([]byte(r.Path))
	h.Write([]byte{0})
	h.Write(r.Body)
	return hex.EncodeToString(h.Sum(nil))
}

// Guard wraps mutating operations with the at-most-once contract: one
// execution per key, a "still processing" rejection while the first attempt
// runs, a verbatim replay once it completed, and a clean slate after a
// failure so the caller may retry.
type Guard struct {
	store RecordStore
	ttl   time.Duration
	log   logger.Logger
	now   func() time.Time
}

func NewGuard(store RecordStore, ttl time.Duration, log logger.Logger) *Guard {
	return &Guard{
		store: store,
		ttl:   ttl,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Key resolves the effective idempotency key: the caller-supplied one when
// present (at most 64 chars), otherwise the request fingerprint.
func Key(supplied string, req RequestInfo) (string, error) {
	if supplied != "" {
		if len(supplied) > maxKeyLength {
			return "", errors.NewValidationError("idempotency key exceeds 64 characters")
		}
		return supplied, nil
	}
	return req.Fingerprint(), nil
}

// Do executes fn at most once per key. The bool result reports whether the
// response came from the cache rather than a fresh execution.
func (g *Guard) Do(ctx context.Context, key string, fingerprint string, fn func(context.Context) (*Response, error)) (*Response, bool, error) {
	now := g.now()
	rec := &models.IdempotencyRecord{
		Key:         key,
		Status:      models.IdempotencyProcessing,
		Fingerprint: fingerprint,
		CreatedAt:   now,
		ExpiresAt:   now.Add(g.ttl),
	}

	claimed, err := g.store.PutProcessing(ctx, rec)
	if err != nil {
		return nil, false, err
	}
	if !claimed {
		existing, err := g.store.Get(ctx, key)
		if errors.IsCode(err, errors.ErrCodeNotFound) {
			// Lost a race with an eviction or a failed attempt's cleanup;
			// one retry claims the now-free key.
			return g.Do(ctx, key, fingerprint, fn)
		}
		if err != nil {
			return nil, false, err
		}

		if existing.Expired(now) {
			if err := g.store.Delete(ctx, key); err != nil {
				return nil, false, err
			}
			return g.Do(ctx, key, fingerprint, fn)
		}
		if existing.Fingerprint != "" && fingerprint != "" && existing.Fingerprint != fingerprint {
			return nil, false, errors.NewValidationError("idempotency key reused for a different request")
		}

		switch existing.Status {
		case models.IdempotencyProcessing:
			metrics.IdempotencyConflicts.Inc()
			return nil, false, errors.NewDuplicateRequest(key)
		case models.IdempotencyCompleted:
			metrics.IdempotencyReplays.Inc()
			g.log.Debug("idempotent replay", map[string]interface{}{"key": key})
			return &Response{
				StatusCode: existing.ResponseStatusCode,
				Body:       existing.ResponseBody,
			}, true, nil
		default:
			return nil, false, errors.NewStorageError("idempotency record",
				errors.NewValidationError("unknown status "+string(existing.Status)))
		}
	}

	resp, err := fn(ctx)
	if err != nil {
		// Failure frees the key so the caller may retry.
		if delErr := g.store.Delete(ctx, key); delErr != nil {
			g.log.WithError(delErr).Error("idempotency cleanup failed", map[string]interface{}{"key": key})
		}
		return nil, false, err
	}

	rec.Status = models.IdempotencyCompleted
	rec.ResponseStatusCode = resp.StatusCode
	rec.ResponseBody = resp.Body
	if err := g.store.Complete(ctx, rec); err != nil {
		g.log.WithError(err).Error("idempotency completion failed", map[string]interface{}{"key": key})
	}
	return resp, false, nil
}

// internal/idempotency/memory_store.go
package idempotency

import (
	"context"
	"sync"
	"time"

	"gacp-engine/internal/common/errors"
	"gacp-engine/internal/models"
)

// MemoryStore is the single-instance RecordStore. The mutex makes
// PutProcessing an atomic compare-and-set.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*models.IdempotencyRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*models.IdempotencyRecord)}
}

func copyRecord(rec *models.IdempotencyRecord) *models.IdempotencyRecord {
	c := *rec
	c.ResponseBody = append([]byte(nil), rec.ResponseBody...)
	return &c
}

func (s *MemoryStore) PutProcessing(_ context.Context, rec *models.IdempotencyRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.Key]; exists {
		return false, nil
	}
	s.records[rec.Key] = copyRecord(rec)
	return true, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (*models.IdempotencyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return nil, errors.NewNotFoundError("idempotency record", key)
	}
	return copyRecord(rec), nil
}

func (s *MemoryStore) Complete(_ context.Context, rec *models.IdempotencyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Key] = copyRecord(rec)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

func (s *MemoryStore) EvictExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for key, rec := range s.records {
		if rec.Expired(now) {
			delete(s.records, key)
			evicted++
		}
	}
	return evicted, nil
}

// internal/storage/memory.go
package storage

import (
	"context"
	"sync"
	"time"

	"gacp-engine/internal/common/errors"
	"gacp-engine/internal/models"
)

// MemoryStore is a mutex-guarded in-process Store. Suitable for tests and
// single-instance deployments without a database.
type MemoryStore struct {
	mu           sync.RWMutex
	applications map[string]*models.Application
	payments     map[string]*models.Payment
	auditResults map[string]*models.AuditResult
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		applications: make(map[string]*models.Application),
		payments:     make(map[string]*models.Payment),
		auditResults: make(map[string]*models.AuditResult),
	}
}

func copyApplication(app *models.Application) *models.Application {
	cp := *app
	return &cp
}

func copyPayment(p *models.Payment) *models.Payment {
	cp := *p
	return &cp
}

func (s *MemoryStore) CreateApplication(_ context.Context, app *models.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.applications[app.ID]; exists {
		return errors.NewStorageError("create application", errDuplicateID)
	}
	s.applications[app.ID] = copyApplication(app)
	return nil
}

func (s *MemoryStore) GetApplication(_ context.Context, id string) (*models.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	app, ok := s.applications[id]
	if !ok {
		return nil, errors.NewNotFoundError("application", id)
	}
	return copyApplication(app), nil
}

func (s *MemoryStore) UpdateApplication(_ context.Context, app *models.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.applications[app.ID]; !ok {
		return errors.NewNotFoundError("application", app.ID)
	}
	app.UpdatedAt = time.Now().UTC()
	s.applications[app.ID] = copyApplication(app)
	return nil
}

func (s *MemoryStore) ListBatch(_ context.Context, batchID string) ([]*models.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Application
	for _, app := range s.applications {
		if app.BatchID != nil && *app.BatchID == batchID {
			out = append(out, copyApplication(app))
		}
	}
	return out, nil
}

func (s *MemoryStore) CountApplicationsByOwner(_ context.Context, ownerID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, app := range s.applications {
		if app.OwnerID == ownerID {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) CreatePayment(_ context.Context, p *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.payments[p.ID]; exists {
		return errors.NewStorageError("create payment", errDuplicateID)
	}
	s.payments[p.ID] = copyPayment(p)
	return nil
}

func (s *MemoryStore) UpdatePayment(_ context.Context, p *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.payments[p.ID]; !ok {
		return errors.NewNotFoundError("payment", p.ID)
	}
	s.payments[p.ID] = copyPayment(p)
	return nil
}

func (s *MemoryStore) PaymentByTransaction(_ context.Context, transactionID string) (*models.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.payments {
		if p.TransactionID == transactionID {
			return copyPayment(p), nil
		}
	}
	return nil, errors.NewNotFoundError("payment", transactionID)
}

func (s *MemoryStore) ActivePayment(_ context.Context, applicationID string, phase int, now time.Time) (*models.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.payments {
		if p.ApplicationID == applicationID && p.Phase == phase && p.Active(now) {
			return copyPayment(p), nil
		}
	}
	return nil, errors.NewNotFoundError("active payment", applicationID)
}

func (s *MemoryStore) ExpiredPendingPayments(_ context.Context, now time.Time) ([]*models.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Payment
	for _, p := range s.payments {
		if p.Status == models.PaymentPending && now.After(p.ExpiresAt) {
			out = append(out, copyPayment(p))
		}
	}
	return out, nil
}

func (s *MemoryStore) CreateAuditResult(_ context.Context, r *models.AuditResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.auditResults[r.ID]; exists {
		return errors.NewStorageError("create audit result", errDuplicateID)
	}
	cp := *r
	s.auditResults[r.ID] = &cp
	return nil
}

func (s *MemoryStore) GetAuditResult(_ context.Context, id string) (*models.AuditResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.auditResults[id]
	if !ok {
		return nil, errors.NewNotFoundError("audit result", id)
	}
	cp := *r
	return &cp, nil
}

// WithinTx emulates a transaction by snapshotting the maps and restoring
// them when fn fails. Writes inside fn go through the normal methods.
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(Store) error) error {
	s.mu.Lock()
	snapApps := make(map[string]*models.Application, len(s.applications))
	for k, v := range s.applications {
		snapApps[k] = copyApplication(v)
	}
	snapPays := make(map[string]*models.Payment, len(s.payments))
	for k, v := range s.payments {
		snapPays[k] = copyPayment(v)
	}
	snapResults := make(map[string]*models.AuditResult, len(s.auditResults))
	for k, v := range s.auditResults {
		cp := *v
		snapResults[k] = &cp
	}
	s.mu.Unlock()

	if err := fn(s); err != nil {
		s.mu.Lock()
		s.applications = snapApps
		s.payments = snapPays
		s.auditResults = snapResults
		s.mu.Unlock()
		return err
	}
	return nil
}

var errDuplicateID = duplicateIDError{}

type duplicateIDError struct{}

func (duplicateIDError) Error() string { return "duplicate id" }

// Package storage defines the persistence boundary of the workflow engine.
// The engine and its collaborators never touch a database directly; they go
// through Store, which is implemented over PostgreSQL in production and over
// an in-process map in tests and single-binary demos.
package storage

import (
	"context"
	"time"

	"gacp-engine/internal/models"
)

// Store is the persistence interface for applications, payments and audit
// results. WithinTx runs fn against a transactional view of the store;
// any error unwinds every write made inside fn (batch atomicity depends
// on this).
type Store interface {
	CreateApplication(ctx context.Context, app *models.Application) error
	GetApplication(ctx context.Context, id string) (*models.Application, error)
	UpdateApplication(ctx context.Context, app *models.Application) error
	ListBatch(ctx context.Context, batchID string) ([]*models.Application, error)
	CountApplicationsByOwner(ctx context.Context, ownerID string) (int, error)

	CreatePayment(ctx context.Context, p *models.Payment) error
	UpdatePayment(ctx context.Context, p *models.Payment) error
	PaymentByTransaction(ctx context.Context, transactionID string) (*models.Payment, error)
	ActivePayment(ctx context.Context, applicationID string, phase int, now time.Time) (*models.Payment, error)
	ExpiredPendingPayments(ctx context.Context, now time.Time) ([]*models.Payment, error)

	CreateAuditResult(ctx context.Context, r *models.AuditResult) error
	GetAuditResult(ctx context.Context, id string) (*models.AuditResult, error)

	WithinTx(ctx context.Context, fn func(Store) error) error
}

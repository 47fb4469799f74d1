// Package batch expands one multi-area submission into independent
// applications. One area type maps to one application and one eventual
// certificate; the siblings share a batch id but are otherwise gated
// through the workflow individually.
package batch

import (
	"context"

	"github.com/google/uuid"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"gacp-engine/internal/common/errors"
	"gacp-engine/internal/common/logger"
	"gacp-engine/internal/common/metrics"
	"gacp-engine/internal/models"
	"gacp-engine/internal/storage"
	"gacp-engine/internal/workflow"
)

// Request is one multi-area submission before expansion.
type Request struct {
	FarmID      string             `json:"farmId"`
	OwnerID     string             `json:"ownerId"`
	ServiceType models.ServiceType `json:"serviceType"`
	FormData    models.FormData    `json:"formData"`
	AreaTypes   []models.AreaType  `json:"areaTypes"`
}

// Validate rejects empty and duplicate area type sets; per-application field
// validation happens again inside the workflow engine's constructor.
func (r Request) Validate() error {
	if err := validation.ValidateStruct(&r,
		validation.Field(&r.AreaTypes, validation.Required, validation.Length(1, 0)),
	); err != nil {
		return errors.NewValidationError("areaTypes must not be empty")
	}

	seen := make(map[models.AreaType]bool, len(r.AreaTypes))
	for _, at := range r.AreaTypes {
		if seen[at] {
			return errors.NewValidationError("duplicate area type: " + string(at))
		}
		seen[at] = true
	}
	return nil
}

// Result is the outcome of one expanded submission.
type Result struct {
	BatchID      string                `json:"batchId"`
	Applications []*models.Application `json:"applications"`
	TotalFee     int64                 `json:"totalFee"`
}

// FeePreview quotes a batch before submission.
type FeePreview struct {
	Count      int   `json:"count"`
	FeePerArea int64 `json:"feePerArea"`
	TotalFee   int64 `json:"totalFee"`
}

// Splitter creates batch applications atomically.
type Splitter struct {
	store  storage.Store
	engine *workflow.Engine
	gate   *workflow.PhaseGate
	log    logger.Logger
}

func NewSplitter(store storage.Store, engine *workflow.Engine, gate *workflow.PhaseGate, log logger.Logger) *Splitter {
	return &Splitter{store: store, engine: engine, gate: gate, log: log}
}

// PreviewFee quotes the full certification cost for the given area set.
func (s *Splitter) PreviewFee(areaTypes []models.AreaType) (*FeePreview, error) {
	if err := (Request{AreaTypes: areaTypes}).Validate(); err != nil {
		return nil, err
	}
	perArea := s.gate.TotalFee()
	return &FeePreview{
		Count:      len(areaTypes),
		FeePerArea: perArea,
		TotalFee:   perArea * int64(len(areaTypes)),
	}, nil
}

// SubmitBatch creates one application per area type, all sharing a batch id.
// Creation is all-or-nothing: any failure unwinds every sibling already
// written, a partial batch never becomes visible.
func (s *Splitter) SubmitBatch(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	batchID := uuid.NewString()
	apps := make([]*models.Application, 0, len(req.AreaTypes))
	for _, areaType := range req.AreaTypes {
		app, err := s.engine.NewApplication(models.DraftRequest{
			FarmID:      req.FarmID,
			OwnerID:     req.OwnerID,
			AreaType:    areaType,
			ServiceType: req.ServiceType,
			FormData:    req.FormData,
		})
		if err != nil {
			return nil, err
		}
		id := batchID
		app.BatchID = &id
		apps = append(apps, app)
	}

	err := s.store.WithinTx(ctx, func(tx storage.Store) error {
		for _, app := range apps {
			if err := tx.CreateApplication(ctx, app); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.NewBatchIntegrityError(batchID, err)
	}

	metrics.BatchApplicationsCreated.Add(float64(len(apps)))
	s.log.Info("batch submitted", map[string]interface{}{
		"batchId": batchID,
		"count":   len(apps),
	})

	return &Result{
		BatchID:      batchID,
		Applications: apps,
		TotalFee:     s.gate.TotalFee() * int64(len(apps)),
	}, nil
}

// GetBatchApplications returns every sibling of a batch.
func (s *Splitter) GetBatchApplications(ctx context.Context, batchID string) ([]*models.Application, error) {
	apps, err := s.store.ListBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if len(apps) == 0 {
		return nil, errors.NewNotFoundError("batch", batchID)
	}
	return apps, nil
}

// ConfirmBatchPhase1 fans one combined phase-1 payment out to every sibling.
// Only used when a single payment covers the whole batch; individually
// billed siblings go through the webhook reconciler one by one. Every sibling
// must be awaiting phase 1 or already past it: siblings confirmed by an
// earlier, partially failed fan-out are skipped, so retrying the same call
// finishes the stragglers instead of rejecting the whole batch.
func (s *Splitter) ConfirmBatchPhase1(ctx context.Context, batchID string) ([]*models.Application, error) {
	apps, err := s.GetBatchApplications(ctx, batchID)
	if err != nil {
		return nil, err
	}
	for _, app := range apps {
		if app.Phase1Status == models.PhasePaid {
			continue
		}
		if app.Status != models.StatusPayment1Pending {
			return nil, errors.NewPhaseGateViolation(
				"batch payment requires every sibling in " + string(models.StatusPayment1Pending) +
					", found " + app.ID + " in " + string(app.Status))
		}
	}

	updated := make([]*models.Application, 0, len(apps))
	for _, app := range apps {
		if app.Phase1Status == models.PhasePaid {
			updated = append(updated, app)
			continue
		}
		confirmed, err := s.engine.ConfirmPaymentPhase(ctx, app.ID, 1)
		if err != nil {
			return nil, err
		}
		updated = append(updated, confirmed)
	}
	return updated, nil
}

// internal/workflow/engine.go
package workflow

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"gacp-engine/internal/common/errors"
	"gacp-engine/internal/common/logger"
	"gacp-engine/internal/common/metrics"
	"gacp-engine/internal/models"
	"gacp-engine/internal/notify"
	"gacp-engine/internal/storage"
)

// transitions is the state machine adjacency table. An operation may only
// move an application along one of these edges; anything else is an
// InvalidTransition.
var transitions = map[models.Status][]models.Status{
	models.StatusDraft:                {models.StatusSubmitted, models.StatusCancelled},
	models.StatusSubmitted:            {models.StatusDocumentReview, models.StatusCancelled},
	models.StatusDocumentReview:       {models.StatusRevisionRequired, models.StatusPayment1Pending, models.StatusCancelled},
	models.StatusRevisionRequired:     {models.StatusSubmitted, models.StatusCancelled},
	models.StatusPayment1Pending:      {models.StatusPayment1Paid, models.StatusCancelled},
	models.StatusPayment1Paid:         {models.StatusPendingAuditSchedule, models.StatusCancelled},
	models.StatusPendingAuditSchedule: {models.StatusAuditScheduled, models.StatusCancelled},
	models.StatusAuditScheduled:       {models.StatusAuditInProgress, models.StatusCancelled},
	models.StatusAuditInProgress:      {models.StatusApproved, models.StatusRejected},
}

// CanTransition reports whether the edge from → to exists in the machine.
func CanTransition(from, to models.Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Scorer turns checklist answers into an immutable audit result. Implemented
// by the audit scoring engine.
type Scorer interface {
	Score(templateCode, version, applicationID string, answers []models.ItemAnswer) (*models.AuditResult, error)
}

// OperationRecorder receives per-transition telemetry. Satisfied by the
// observability bundle.
type OperationRecorder interface {
	RecordOperation(ctx context.Context, operation, status string)
	RecordOperationDuration(ctx context.Context, operation string, duration time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) RecordOperation(context.Context, string, string)               {}
func (noopRecorder) RecordOperationDuration(context.Context, string, time.Duration) {}

// Engine is the application state machine. All Application status and phase
// mutations in the system go through it.
type Engine struct {
	store    storage.Store
	gate     *PhaseGate
	scorer   Scorer
	notifier notify.Notifier
	log      logger.Logger
	tracer   trace.Tracer
	recorder OperationRecorder

	now func() time.Time
	seq atomic.Uint64
}

// Option customizes an Engine. Used by tests to pin the clock.
type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) { e.tracer = tracer }
}

func WithRecorder(recorder OperationRecorder) Option {
	return func(e *Engine) { e.recorder = recorder }
}

func NewEngine(store storage.Store, gate *PhaseGate, scorer Scorer, notifier notify.Notifier, log logger.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		gate:     gate,
		scorer:   scorer,
		notifier: notifier,
		log:      log,
		tracer:   noop.NewTracerProvider().Tracer("workflow"),
		recorder: noopRecorder{},
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// nextApplicationNumber issues GACP-<year>-NNNNNN. The sequence is
// per-process; the number is a human-facing reference, uniqueness is carried
// by the record ID.
func (e *Engine) nextApplicationNumber() string {
	return fmt.Sprintf("GACP-%d-%06d", e.now().Year(), e.seq.Add(1))
}

// NewApplication builds an application record in DRAFT without persisting
// it. The batch splitter reuses this so batch members are constructed the
// same way as single submissions.
func (e *Engine) NewApplication(draft models.DraftRequest) (*models.Application, error) {
	if err := draft.Validate(); err != nil {
		return nil, errors.NewValidationError(err.Error())
	}

	now := e.now()
	return &models.Application{
		ID:                uuid.NewString(),
		ApplicationNumber: e.nextApplicationNumber(),
		FarmID:            draft.FarmID,
		OwnerID:           draft.OwnerID,
		AreaType:          draft.AreaType,
		ServiceType:       draft.ServiceType,
		Status:            models.StatusDraft,
		Phase1Status:      models.PhasePending,
		Phase2Status:      models.PhasePending,
		FormData:          draft.FormData,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// Create validates a draft and persists it in DRAFT.
func (e *Engine) Create(ctx context.Context, draft models.DraftRequest) (*models.Application, error) {
	ctx, span := e.tracer.Start(ctx, "workflow.Create")
	defer span.End()

	app, err := e.NewApplication(draft)
	if err != nil {
		return nil, err
	}
	if err := e.store.CreateApplication(ctx, app); err != nil {
		return nil, err
	}

	e.log.Info("application created", map[string]interface{}{
		"applicationId":     app.ID,
		"applicationNumber": app.ApplicationNumber,
		"serviceType":       app.ServiceType,
	})
	return app, nil
}

// Get returns the application by id.
func (e *Engine) Get(ctx context.Context, id string) (*models.Application, error) {
	return e.store.GetApplication(ctx, id)
}

// transition moves app to next after checking the adjacency table, persists
// it and records the metric. Callers mutate phase fields before calling.
func (e *Engine) transition(ctx context.Context, app *models.Application, next models.Status, operation string) error {
	if !CanTransition(app.Status, next) {
		metrics.WorkflowTransitionsRejected.WithLabelValues(string(app.Status), operation).Inc()
		e.recorder.RecordOperation(ctx, operation, "rejected")
		return errors.NewInvalidTransition(string(app.Status), string(next))
	}

	start := time.Now()
	from := app.Status
	app.Status = next
	app.UpdatedAt = e.now()
	if err := e.store.UpdateApplication(ctx, app); err != nil {
		app.Status = from
		e.recorder.RecordOperation(ctx, operation, "error")
		return err
	}

	metrics.WorkflowTransitions.WithLabelValues(string(from), string(next)).Inc()
	e.recorder.RecordOperation(ctx, operation, "ok")
	e.recorder.RecordOperationDuration(ctx, operation, time.Since(start))
	e.log.Info("application transitioned", map[string]interface{}{
		"applicationId": app.ID,
		"from":          from,
		"to":            next,
		"operation":     operation,
	})
	return nil
}

// SubmitForReview moves DRAFT or REVISION_REQUIRED into SUBMITTED.
func (e *Engine) SubmitForReview(ctx context.Context, id string) (*models.Application, error) {
	ctx, span := e.tracer.Start(ctx, "workflow.SubmitForReview")
	defer span.End()

	app, err := e.store.GetApplication(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.transition(ctx, app, models.StatusSubmitted, "submit_for_review"); err != nil {
		return nil, err
	}

	e.publish(ctx, notify.Event{
		Type:          notify.EventApplicationSubmitted,
		ApplicationID: app.ID,
		OccurredAt:    e.now(),
	})
	return app, nil
}

// StartDocumentReview moves SUBMITTED into DOCUMENT_REVIEW when an officer
// picks the application up.
func (e *Engine) StartDocumentReview(ctx context.Context, id string) (*models.Application, error) {
	ctx, span := e.tracer.Start(ctx, "workflow.StartDocumentReview")
	defer span.End()

	app, err := e.store.GetApplication(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.transition(ctx, app, models.StatusDocumentReview, "start_document_review"); err != nil {
		return nil, err
	}
	return app, nil
}

// RecordReviewDecision applies the document review outcome.
//
// APPROVE_DOCS moves to PAYMENT_1_PENDING. REJECT_DOCS increments the
// rejection count; within the limit the application goes back to
// REVISION_REQUIRED for a free resubmission, at the limit it is forced to
// PAYMENT_1_PENDING with phase 1 reset so the next review is paid for again.
func (e *Engine) RecordReviewDecision(ctx context.Context, id string, outcome models.ReviewOutcome, notes string) (*models.Application, error) {
	ctx, span := e.tracer.Start(ctx, "workflow.RecordReviewDecision")
	defer span.End()

	app, err := e.store.GetApplication(ctx, id)
	if err != nil {
		return nil, err
	}
	if app.Status != models.StatusDocumentReview {
		return nil, errors.NewInvalidTransition(string(app.Status), "review decision")
	}
	app.ReviewNotes = notes

	switch outcome {
	case models.ReviewApproveDocs:
		if err := e.transition(ctx, app, models.StatusPayment1Pending, "record_review_decision"); err != nil {
			return nil, err
		}

	case models.ReviewRejectDocs:
		app.RejectionCount++
		next := models.StatusRevisionRequired
		if err := e.gate.CheckRejectionLimit(app); err != nil {
			// Limit reached: the free-resubmission loop is over, a new
			// phase 1 payment is required before the next review.
			next = models.StatusPayment1Pending
			app.Phase1Status = models.PhasePending
		}
		if err := e.transition(ctx, app, next, "record_review_decision"); err != nil {
			return nil, err
		}

	default:
		return nil, errors.NewValidationError("unknown review outcome: " + string(outcome))
	}

	e.publish(ctx, notify.Event{
		Type:          notify.EventReviewRecorded,
		ApplicationID: app.ID,
		Data:          map[string]interface{}{"outcome": outcome, "status": app.Status},
		OccurredAt:    e.now(),
	})
	return app, nil
}

// InitiatePayment opens a payment for whichever phase the application may
// pay next. At most one active payment exists per (application, phase); a
// still-active one is returned as-is instead of opening a second.
func (e *Engine) InitiatePayment(ctx context.Context, id string) (*models.Payment, error) {
	ctx, span := e.tracer.Start(ctx, "workflow.InitiatePayment")
	defer span.End()

	app, err := e.store.GetApplication(ctx, id)
	if err != nil {
		return nil, err
	}
	phase, err := e.gate.PayablePhase(app)
	if err != nil {
		return nil, err
	}

	now := e.now()
	if existing, err := e.store.ActivePayment(ctx, app.ID, phase, now); err == nil {
		return existing, nil
	} else if !errors.IsCode(err, errors.ErrCodeNotFound) {
		return nil, err
	}

	resubmission := phase == 1 && e.gate.RequiresResubmissionFee(app)
	amount, err := e.gate.Fee(phase, resubmission)
	if err != nil {
		return nil, err
	}
	window, err := e.gate.Window(phase)
	if err != nil {
		return nil, err
	}

	payment := &models.Payment{
		ID:            uuid.NewString(),
		ApplicationID: app.ID,
		Phase:         phase,
		Amount:        amount,
		Status:        models.PaymentPending,
		TransactionID: uuid.NewString(),
		ExpiresAt:     now.Add(window),
		CreatedAt:     now,
	}
	if err := e.store.CreatePayment(ctx, payment); err != nil {
		return nil, err
	}

	e.publish(ctx, notify.Event{
		Type:          notify.EventPaymentInitiated,
		ApplicationID: app.ID,
		Data:          map[string]interface{}{"phase": phase, "amount": amount, "transactionId": payment.TransactionID},
		OccurredAt:    now,
	})
	return payment, nil
}

// ConfirmPaymentPhase applies a confirmed payment to the application. Called
// by the webhook reconciler after it has matched and completed the Payment
// record.
//
// Phase 1 advances the application to PENDING_AUDIT_SCHEDULE and clears the
// rejection counter, closing any re-payment loop. Phase 2 is only legal once
// phase 1 is PAID; it marks phase 2 PAID without moving the status, the
// audit flow picks it up from there.
func (e *Engine) ConfirmPaymentPhase(ctx context.Context, id string, phase int) (*models.Application, error) {
	ctx, span := e.tracer.Start(ctx, "workflow.ConfirmPaymentPhase")
	defer span.End()

	app, err := e.store.GetApplication(ctx, id)
	if err != nil {
		return nil, err
	}

	switch phase {
	case 1:
		if app.Status != models.StatusPayment1Pending {
			return nil, errors.NewInvalidTransition(string(app.Status), string(models.StatusPayment1Paid))
		}
		app.Phase1Status = models.PhasePaid
		app.RejectionCount = 0
		if err := e.transition(ctx, app, models.StatusPayment1Paid, "confirm_payment_phase"); err != nil {
			return nil, err
		}
		if err := e.transition(ctx, app, models.StatusPendingAuditSchedule, "confirm_payment_phase"); err != nil {
			return nil, err
		}

	case 2:
		if app.Phase1Status != models.PhasePaid {
			return nil, errors.NewPhaseGateViolation("phase 2 confirmation before phase 1 is paid")
		}
		if app.Status != models.StatusPendingAuditSchedule && app.Status != models.StatusAuditScheduled {
			return nil, errors.NewPhaseGateViolation("phase 2 confirmation in state " + string(app.Status))
		}
		if app.Phase2Status == models.PhasePaid {
			return nil, errors.NewPhaseGateViolation("phase 2 already paid")
		}
		app.Phase2Status = models.PhasePaid
		app.UpdatedAt = e.now()
		if err := e.store.UpdateApplication(ctx, app); err != nil {
			return nil, err
		}

	default:
		return nil, errors.NewValidationError("payment phase must be 1 or 2")
	}

	e.publish(ctx, notify.Event{
		Type:          notify.EventPaymentConfirmed,
		ApplicationID: app.ID,
		Data:          map[string]interface{}{"phase": phase},
		OccurredAt:    e.now(),
	})
	return app, nil
}

// ScheduleAudit assigns an auditor and a visit date.
func (e *Engine) ScheduleAudit(ctx context.Context, id string, date time.Time, auditorID string) (*models.Application, error) {
	ctx, span := e.tracer.Start(ctx, "workflow.ScheduleAudit")
	defer span.End()

	if auditorID == "" {
		return nil, errors.NewValidationError("auditorId is required")
	}
	app, err := e.store.GetApplication(ctx, id)
	if err != nil {
		return nil, err
	}

	app.AuditorID = auditorID
	app.AuditDate = &date
	if err := e.transition(ctx, app, models.StatusAuditScheduled, "schedule_audit"); err != nil {
		return nil, err
	}

	e.publish(ctx, notify.Event{
		Type:          notify.EventAuditScheduled,
		ApplicationID: app.ID,
		Data:          map[string]interface{}{"auditorId": auditorID, "auditDate": date},
		OccurredAt:    e.now(),
	})
	return app, nil
}

// BeginAudit marks the field audit as started. Gated on phase 2 being paid.
func (e *Engine) BeginAudit(ctx context.Context, id string) (*models.Application, error) {
	ctx, span := e.tracer.Start(ctx, "workflow.BeginAudit")
	defer span.End()

	app, err := e.store.GetApplication(ctx, id)
	if err != nil {
		return nil, err
	}
	if app.Phase2Status != models.PhasePaid {
		return nil, errors.NewPhaseGateViolation("audit cannot start before phase 2 is paid")
	}
	if err := e.transition(ctx, app, models.StatusAuditInProgress, "begin_audit"); err != nil {
		return nil, err
	}
	return app, nil
}

// SubmitAuditResult scores the auditor's answers and applies the decision.
// APPROVED signals certificate issuance; REJECTED carries the structured
// failure reason. The result record and the transition commit together.
func (e *Engine) SubmitAuditResult(ctx context.Context, id, templateCode, templateVersion string, answers []models.ItemAnswer) (*models.AuditResult, error) {
	ctx, span := e.tracer.Start(ctx, "workflow.SubmitAuditResult")
	defer span.End()

	app, err := e.store.GetApplication(ctx, id)
	if err != nil {
		return nil, err
	}
	if app.Status != models.StatusAuditInProgress {
		return nil, errors.NewInvalidTransition(string(app.Status), "audit result")
	}

	result, err := e.scorer.Score(templateCode, templateVersion, app.ID, answers)
	if err != nil {
		return nil, err
	}

	next := models.StatusApproved
	if result.Decision == models.DecisionRejected {
		next = models.StatusRejected
	}

	err = e.store.WithinTx(ctx, func(tx storage.Store) error {
		if err := tx.CreateAuditResult(ctx, result); err != nil {
			return err
		}
		app.AuditResultID = &result.ID
		from := app.Status
		app.Status = next
		app.UpdatedAt = e.now()
		if err := tx.UpdateApplication(ctx, app); err != nil {
			app.Status = from
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.WorkflowTransitions.WithLabelValues(string(models.StatusAuditInProgress), string(next)).Inc()
	metrics.AuditDecisions.WithLabelValues(string(result.Decision)).Inc()

	event := notify.Event{
		ApplicationID: app.ID,
		Data:          map[string]interface{}{"overallScore": result.OverallScore},
		OccurredAt:    e.now(),
	}
	if result.Decision == models.DecisionApproved {
		event.Type = notify.EventCertificateRequested
	} else {
		event.Type = notify.EventApplicationRejected
		event.Data["failureReason"] = result.FailureReason
	}
	e.publish(ctx, event)

	e.log.Info("audit result recorded", map[string]interface{}{
		"applicationId": app.ID,
		"decision":      result.Decision,
		"overallScore":  result.OverallScore,
	})
	return result, nil
}

// Cancel withdraws a non-terminal application.
func (e *Engine) Cancel(ctx context.Context, id string) (*models.Application, error) {
	ctx, span := e.tracer.Start(ctx, "workflow.Cancel")
	defer span.End()

	app, err := e.store.GetApplication(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.transition(ctx, app, models.StatusCancelled, "cancel"); err != nil {
		return nil, err
	}

	e.publish(ctx, notify.Event{
		Type:          notify.EventApplicationCancelled,
		ApplicationID: app.ID,
		OccurredAt:    e.now(),
	})
	return app, nil
}

// Archive soft-archives a terminal application. Records are never deleted.
func (e *Engine) Archive(ctx context.Context, id string) (*models.Application, error) {
	ctx, span := e.tracer.Start(ctx, "workflow.Archive")
	defer span.End()

	app, err := e.store.GetApplication(ctx, id)
	if err != nil {
		return nil, err
	}
	if !app.Status.IsTerminal() {
		return nil, errors.NewInvalidTransition(string(app.Status), "archive")
	}
	now := e.now()
	app.ArchivedAt = &now
	app.UpdatedAt = now
	if err := e.store.UpdateApplication(ctx, app); err != nil {
		return nil, err
	}
	return app, nil
}

// ExpirePayment is called by the sweeper when a payment window lapses. The
// payment and the matching phase flag become EXPIRED; the application stays
// in its current state so a fresh payment can be initiated.
func (e *Engine) ExpirePayment(ctx context.Context, payment *models.Payment) error {
	payment.Status = models.PaymentExpired
	if err := e.store.UpdatePayment(ctx, payment); err != nil {
		return err
	}

	app, err := e.store.GetApplication(ctx, payment.ApplicationID)
	if err != nil {
		return err
	}
	switch payment.Phase {
	case 1:
		if app.Phase1Status == models.PhasePending {
			app.Phase1Status = models.PhaseExpired
		}
	case 2:
		if app.Phase2Status == models.PhasePending {
			app.Phase2Status = models.PhaseExpired
		}
	}
	app.UpdatedAt = e.now()
	if err := e.store.UpdateApplication(ctx, app); err != nil {
		return err
	}

	e.log.Warn("payment window expired", map[string]interface{}{
		"applicationId": app.ID,
		"paymentId":     payment.ID,
		"phase":         payment.Phase,
	})
	return nil
}

// publish hands an event to the notifier. Event delivery failures never fail
// the transition that raised them.
func (e *Engine) publish(ctx context.Context, event notify.Event) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Publish(ctx, event); err != nil {
		e.log.WithError(err).Warn("event publish failed", map[string]interface{}{
			"type":          event.Type,
			"applicationId": event.ApplicationID,
		})
	}
}

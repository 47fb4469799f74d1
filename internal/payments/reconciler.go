// internal/payments/reconciler.go
package payments

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"gacp-engine/internal/common/errors"
	"gacp-engine/internal/common/logger"
	"gacp-engine/internal/common/metrics"
	"gacp-engine/internal/models"
	"gacp-engine/internal/storage"
)

// Outcome classifies what one webhook delivery did.
type Outcome string

const (
	// OutcomeApplied means the payment was completed and the workflow
	// advanced.
	OutcomeApplied Outcome = "applied"
	// OutcomeDuplicate means this transaction was already applied; the
	// delivery was acknowledged without effect.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeAnomaly means the event could not be matched to a payable
	// record; it was recorded for operators and acknowledged.
	OutcomeAnomaly Outcome = "anomaly"
	// OutcomeIgnored means the provider reported a non-success result; the
	// payment was marked failed, no workflow effect.
	OutcomeIgnored Outcome = "ignored"
)

const dedupPrefix = "paytx:"

// Confirmer is the slice of the workflow engine the reconciler drives.
type Confirmer interface {
	ConfirmPaymentPhase(ctx context.Context, id string, phase int) (*models.Application, error)
}

// Reconciler applies provider payment events idempotently. Duplicate
// deliveries are a defining property of at-least-once webhooks, so the
// previously-unseen check is an atomic claim in Redis, backed by the payment
// record's own status as a second line.
type Reconciler struct {
	store     storage.Store
	confirmer Confirmer
	redis     *redis.Client
	recorder  AnomalyRecorder
	secret    string
	dedupTTL  time.Duration
	log       logger.Logger
	now       func() time.Time
}

func NewReconciler(store storage.Store, confirmer Confirmer, rdb *redis.Client, recorder AnomalyRecorder, secret string, dedupTTL time.Duration, log logger.Logger) *Reconciler {
	return &Reconciler{
		store:     store,
		confirmer: confirmer,
		redis:     rdb,
		recorder:  recorder,
		secret:    secret,
		dedupTTL:  dedupTTL,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Process handles one webhook delivery. Anomalies and duplicates return a
// nil error: the provider must see a success acknowledgement for anything
// that is not a transient infrastructure failure, or it will retry forever.
func (r *Reconciler) Process(ctx context.Context, fields map[string]string) (Outcome, error) {
	transactionID := fields["mch_order_no"]

	if !VerifySignature(fields, r.secret) {
		return r.anomaly(ctx, "invalid_signature", transactionID, "signature verification failed")
	}
	if transactionID == "" {
		return r.anomaly(ctx, "missing_transaction", "", "event carries no mch_order_no")
	}

	if fields["result"] != "SUCCESS" {
		return r.markFailed(ctx, transactionID, fields["result"])
	}

	claimed, err := r.redis.SetNX(ctx, dedupPrefix+transactionID, "1", r.dedupTTL).Result()
	if err != nil {
		return "", errors.NewStorageError("claim payment transaction", err)
	}
	if !claimed {
		metrics.PaymentWebhookEvents.WithLabelValues(string(OutcomeDuplicate)).Inc()
		r.log.Info("duplicate payment webhook", map[string]interface{}{"transactionId": transactionID})
		return OutcomeDuplicate, nil
	}

	outcome, err := r.apply(ctx, transactionID, fields)
	if err != nil || outcome != OutcomeApplied {
		// The claim only sticks for applied transactions; anything else may
		// legitimately be retried and must be re-evaluated.
		r.releaseClaim(ctx, transactionID)
	}
	return outcome, err
}

func (r *Reconciler) apply(ctx context.Context, transactionID string, fields map[string]string) (Outcome, error) {
	payment, err := r.store.PaymentByTransaction(ctx, transactionID)
	if errors.IsCode(err, errors.ErrCodeNotFound) {
		return r.anomaly(ctx, "unknown_transaction", transactionID, "no payment record for transaction")
	}
	if err != nil {
		return "", err
	}

	now := r.now()
	if payment.Status == models.PaymentCompleted {
		return r.anomaly(ctx, "already_completed", transactionID, "target payment already completed")
	}
	if !payment.Active(now) {
		return r.anomaly(ctx, "not_payable", transactionID, "target payment is "+string(payment.Status)+" or past its window")
	}
	if amountField, ok := fields["amount"]; ok {
		amount, err := strconv.ParseInt(amountField, 10, 64)
		if err != nil || amount != payment.Amount {
			return r.anomaly(ctx, "amount_mismatch", transactionID,
				"event amount "+amountField+" does not match "+strconv.FormatInt(payment.Amount, 10))
		}
	}

	payment.Status = models.PaymentCompleted
	payment.PaidAt = &now
	payment.Channel = fields["channel"]
	if err := r.store.UpdatePayment(ctx, payment); err != nil {
		return "", err
	}

	if _, err := r.confirmer.ConfirmPaymentPhase(ctx, payment.ApplicationID, payment.Phase); err != nil {
		// Unwind the completion so a provider retry can re-apply cleanly.
		payment.Status = models.PaymentPending
		payment.PaidAt = nil
		if revertErr := r.store.UpdatePayment(ctx, payment); revertErr != nil {
			r.log.WithError(revertErr).Error("payment revert failed", map[string]interface{}{
				"transactionId": transactionID,
			})
		}
		if errors.IsCode(err, errors.ErrCodeInvalidTransition) || errors.IsCode(err, errors.ErrCodePhaseGateViolation) {
			return r.anomaly(ctx, "phase_gate_rejected", transactionID, err.Error())
		}
		return "", err
	}

	metrics.PaymentWebhookEvents.WithLabelValues(string(OutcomeApplied)).Inc()
	r.log.Info("payment applied", map[string]interface{}{
		"transactionId": transactionID,
		"applicationId": payment.ApplicationID,
		"phase":         payment.Phase,
	})
	return OutcomeApplied, nil
}

// markFailed records a provider-reported failure on the pending payment.
func (r *Reconciler) markFailed(ctx context.Context, transactionID, result string) (Outcome, error) {
	payment, err := r.store.PaymentByTransaction(ctx, transactionID)
	if errors.IsCode(err, errors.ErrCodeNotFound) {
		return r.anomaly(ctx, "unknown_transaction", transactionID, "failure event for unknown transaction")
	}
	if err != nil {
		return "", err
	}

	if payment.Status == models.PaymentPending {
		payment.Status = models.PaymentFailed
		if err := r.store.UpdatePayment(ctx, payment); err != nil {
			return "", err
		}
	}

	metrics.PaymentWebhookEvents.WithLabelValues(string(OutcomeIgnored)).Inc()
	r.log.Info("payment failure acknowledged", map[string]interface{}{
		"transactionId": transactionID,
		"result":        result,
	})
	return OutcomeIgnored, nil
}

func (r *Reconciler) anomaly(ctx context.Context, reason, transactionID, details string) (Outcome, error) {
	metrics.PaymentWebhookEvents.WithLabelValues(string(OutcomeAnomaly)).Inc()
	metrics.ReconciliationAnomalies.WithLabelValues(reason).Inc()

	anomaly := Anomaly{
		Reason:        reason,
		TransactionID: transactionID,
		Details:       details,
		ReceivedAt:    r.now(),
	}
	if err := r.recorder.Record(ctx, anomaly); err != nil {
		r.log.WithError(err).Error("recording anomaly failed", map[string]interface{}{
			"reason":        reason,
			"transactionId": transactionID,
		})
	}

	r.log.Warn("payment event did not match a payable record", map[string]interface{}{
		"reason":        reason,
		"transactionId": transactionID,
		"details":       details,
	})
	return OutcomeAnomaly, nil
}

func (r *Reconciler) releaseClaim(ctx context.Context, transactionID string) {
	if err := r.redis.Del(ctx, dedupPrefix+transactionID).Err(); err != nil {
		r.log.WithError(err).Warn("releasing payment claim failed", map[string]interface{}{
			"transactionId": transactionID,
		})
	}
}

// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkflowTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_transitions_total",
			Help: "Total number of successful application state transitions",
		},
		[]string{"from", "to"},
	)

	WorkflowTransitionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_transitions_rejected_total",
			Help: "Total number of rejected state transitions",
		},
		[]string{"from", "operation"},
	)

	PaymentWebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_webhook_events_total",
			Help: "Payment webhook events by reconciliation outcome",
		},
		[]string{"outcome"},
	)

	ReconciliationAnomalies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_reconciliation_anomalies_total",
			Help: "Webhook events that did not match a payable record",
		},
		[]string{"reason"},
	)

	IdempotencyReplays = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "idempotency_replays_total",
			Help: "Requests answered from the idempotency cache",
		},
	)

	IdempotencyConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "idempotency_conflicts_total",
			Help: "Requests rejected because the key was still processing",
		},
	)

	BatchApplicationsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "batch_applications_created_total",
			Help: "Applications created through batch expansion",
		},
	)

	AuditDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_decisions_total",
			Help: "Audit scoring decisions",
		},
		[]string{"decision"},
	)

	SweeperExpiredPayments = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sweeper_expired_payments_total",
			Help: "Payments expired by the background sweep",
		},
	)

	SweeperEvictedRecords = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sweeper_evicted_idempotency_records_total",
			Help: "Idempotency records evicted by the background sweep",
		},
	)
)

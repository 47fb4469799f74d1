// Package notify publishes workflow events to external collaborators.
// Delivery (mail, portal push) is somebody else's problem; this package only
// hands the event off.
package notify

import (
	"context"
	"time"
)

// Event types published by the workflow engine.
const (
	EventApplicationSubmitted = "application.submitted"
	EventReviewRecorded       = "application.review_recorded"
	EventPaymentInitiated     = "payment.initiated"
	EventPaymentConfirmed     = "payment.confirmed"
	EventAuditScheduled       = "audit.scheduled"
	EventCertificateRequested = "certificate.issue_requested"
	EventApplicationRejected  = "application.rejected"
	EventApplicationCancelled = "application.cancelled"
)

// Event is one workflow occurrence worth telling the outside world about.
type Event struct {
	Type          string                 `json:"type"`
	ApplicationID string                 `json:"applicationId"`
	Data          map[string]interface{} `json:"data,omitempty"`
	OccurredAt    time.Time              `json:"occurredAt"`
}

// Notifier hands a workflow event to an external channel. Implementations
// must be safe for concurrent use.
type Notifier interface {
	Publish(ctx context.Context, event Event) error
}

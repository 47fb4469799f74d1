// internal/models/application.go
package models

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Status is the application workflow state.
type Status string

const (
	StatusDraft               Status = "DRAFT"
	StatusSubmitted           Status = "SUBMITTED"
	StatusDocumentReview      Status = "DOCUMENT_REVIEW"
	StatusRevisionRequired    Status = "REVISION_REQUIRED"
	StatusPayment1Pending     Status = "PAYMENT_1_PENDING"
	StatusPayment1Paid        Status = "PAYMENT_1_PAID"
	StatusPendingAuditSchedule Status = "PENDING_AUDIT_SCHEDULE"
	StatusAuditScheduled      Status = "AUDIT_SCHEDULED"
	StatusAuditInProgress     Status = "AUDIT_IN_PROGRESS"
	StatusApproved            Status = "APPROVED"
	StatusRejected            Status = "REJECTED"
	StatusCancelled           Status = "CANCELLED"
)

// IsTerminal reports whether no further transitions are legal from s.
func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusCancelled
}

// ServiceType distinguishes the certification service being requested.
type ServiceType string

const (
	ServiceNew         ServiceType = "NEW"
	ServiceRenewal     ServiceType = "RENEWAL"
	ServiceReplacement ServiceType = "REPLACEMENT"
)

// AreaType identifies a cultivation area category. One area type maps to one
// application and one eventual certificate.
type AreaType string

const (
	AreaIndoor     AreaType = "INDOOR"
	AreaOutdoor    AreaType = "OUTDOOR"
	AreaGreenhouse AreaType = "GREENHOUSE"
)

// PhaseStatus tracks the payment state of a fee phase on the application.
type PhaseStatus string

const (
	PhasePending PhaseStatus = "PENDING"
	PhasePaid    PhaseStatus = "PAID"
	PhaseExpired PhaseStatus = "EXPIRED"
)

// Application is the certification application record. Status and the phase
// fields are mutated only by workflow engine transitions.
type Application struct {
	ID                string       `json:"id" db:"id"`
	ApplicationNumber string       `json:"applicationNumber" db:"application_number"`
	FarmID            string       `json:"farmId" db:"farm_id"`
	OwnerID           string       `json:"ownerId" db:"owner_id"`
	AreaType          AreaType     `json:"areaType" db:"area_type"`
	ServiceType       ServiceType  `json:"serviceType" db:"service_type"`
	Status            Status       `json:"status" db:"status"`
	Phase1Status      PhaseStatus  `json:"phase1Status" db:"phase1_status"`
	Phase2Status      PhaseStatus  `json:"phase2Status" db:"phase2_status"`
	RejectionCount    int          `json:"rejectionCount" db:"rejection_count"`
	BatchID           *string      `json:"batchId,omitempty" db:"batch_id"`
	AuditResultID     *string      `json:"auditResultId,omitempty" db:"audit_result_id"`
	AuditorID         string       `json:"auditorId,omitempty" db:"auditor_id"`
	AuditDate         *time.Time   `json:"auditDate,omitempty" db:"audit_date"`
	ReviewNotes       string       `json:"reviewNotes,omitempty" db:"review_notes"`
	FormData          FormData     `json:"formData" db:"form_data"`
	ArchivedAt        *time.Time   `json:"archivedAt,omitempty" db:"archived_at"`
	CreatedAt         time.Time    `json:"createdAt" db:"created_at"`
	UpdatedAt         time.Time    `json:"updatedAt" db:"updated_at"`
}

// FormData is the typed request payload carried by an application. The
// variant in use is selected by the application's ServiceType.
type FormData struct {
	Applicant ApplicantInfo    `json:"applicantInfo"`
	Site      SiteInfo         `json:"siteInfo"`
	New       *NewServiceData  `json:"new,omitempty"`
	Renewal   *RenewalData     `json:"renewal,omitempty"`
	Replace   *ReplacementData `json:"replacement,omitempty"`
}

type ApplicantInfo struct {
	Name    string `json:"name"`
	IDCard  string `json:"idCard,omitempty"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone"`
	Address string `json:"address,omitempty"`
}

type SiteInfo struct {
	PlantID   string  `json:"plantId"`
	PlantName string  `json:"plantName,omitempty"`
	Province  string  `json:"province,omitempty"`
	AreaRai   float64 `json:"areaRai,omitempty"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
}

// NewServiceData carries fields specific to a first-time certification.
type NewServiceData struct {
	PlantingStart string `json:"plantingStart,omitempty"`
	WaterSource   string `json:"waterSource,omitempty"`
}

// RenewalData carries the certificate being renewed.
type RenewalData struct {
	CertificateNumber string `json:"certificateNumber"`
	ExpiryDate        string `json:"expiryDate,omitempty"`
}

// ReplacementData carries the lost/damaged certificate reference.
type ReplacementData struct {
	CertificateNumber string `json:"certificateNumber"`
	Reason            string `json:"reason"`
}

// DraftRequest is the boundary payload for creating one application.
type DraftRequest struct {
	FarmID      string      `json:"farmId"`
	OwnerID     string      `json:"ownerId"`
	AreaType    AreaType    `json:"areaType"`
	ServiceType ServiceType `json:"serviceType"`
	FormData    FormData    `json:"formData"`
}

// Validate checks the draft payload at the boundary so the engine operates on
// a closed, typed model internally.
func (r DraftRequest) Validate() error {
	if err := validation.ValidateStruct(&r,
		validation.Field(&r.FarmID, validation.Required),
		validation.Field(&r.OwnerID, validation.Required),
		validation.Field(&r.AreaType, validation.Required, validation.In(AreaIndoor, AreaOutdoor, AreaGreenhouse)),
		validation.Field(&r.ServiceType, validation.Required, validation.In(ServiceNew, ServiceRenewal, ServiceReplacement)),
	); err != nil {
		return err
	}

	if err := validation.ValidateStruct(&r.FormData.Applicant,
		validation.Field(&r.FormData.Applicant.Name, validation.Required),
		validation.Field(&r.FormData.Applicant.Phone, validation.Required),
	); err != nil {
		return err
	}

	if err := validation.ValidateStruct(&r.FormData.Site,
		validation.Field(&r.FormData.Site.PlantID, validation.Required),
	); err != nil {
		return err
	}

	// The serviceType selects which form variant must be present.
	switch r.ServiceType {
	case ServiceRenewal:
		if r.FormData.Renewal == nil || r.FormData.Renewal.CertificateNumber == "" {
			return validation.NewError("validation_renewal", "renewal requires the certificate number being renewed")
		}
	case ServiceReplacement:
		if r.FormData.Replace == nil || r.FormData.Replace.CertificateNumber == "" || r.FormData.Replace.Reason == "" {
			return validation.NewError("validation_replacement", "replacement requires certificate number and reason")
		}
	}
	return nil
}

// ReviewOutcome is the document review decision.
type ReviewOutcome string

const (
	ReviewApproveDocs ReviewOutcome = "APPROVE_DOCS"
	ReviewRejectDocs  ReviewOutcome = "REJECT_DOCS"
)
